package model

import (
	"time"

	"github.com/google/uuid"
)

type SubjectRole string

const (
	SubjectPatient   SubjectRole = "patient"
	SubjectResponder SubjectRole = "responder"
)

// Fix is one device position report.
type Fix struct {
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Accuracy  float64   `json:"accuracy"`
	Timestamp time.Time `json:"timestamp"`
}

func (f Fix) ToLocation() Location {
	return Location{
		Latitude:  f.Latitude,
		Longitude: f.Longitude,
		Accuracy:  f.Accuracy,
		Timestamp: f.Timestamp,
	}
}

// LocationSample is an ephemeral tick for one subject of one alert.
type LocationSample struct {
	AlertID uuid.UUID   `json:"alert_id"`
	Role    SubjectRole `json:"role"`
	Fix     Fix         `json:"fix"`
}

type ReportLocationRequest struct {
	Latitude  float64 `json:"latitude" validate:"latitude"`
	Longitude float64 `json:"longitude" validate:"longitude"`
	Accuracy  float64 `json:"accuracy" validate:"gte=0"`
}
