package model

import (
	"time"

	"github.com/google/uuid"
)

type NotificationStatus string

const (
	NotificationStatusPending NotificationStatus = "pending"
	NotificationStatusSending NotificationStatus = "sending"
	NotificationStatusSent    NotificationStatus = "sent"
	NotificationStatusFailed  NotificationStatus = "failed"
)

func (s NotificationStatus) IsTerminal() bool {
	return s == NotificationStatusSent || s == NotificationStatusFailed
}

// NotificationTask tracks delivery of one alert to one recipient. It is keyed
// by (AlertID, RecipientID) and never retried once terminal.
type NotificationTask struct {
	AlertID     uuid.UUID          `json:"alert_id" db:"alert_id"`
	RecipientID uuid.UUID          `json:"recipient_id" db:"recipient_id"`
	Channel     string             `json:"channel" db:"channel"`
	Status      NotificationStatus `json:"status" db:"status"`
	LastError   string             `json:"last_error,omitempty" db:"last_error"`
	CreatedAt   time.Time          `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time          `json:"updated_at" db:"updated_at"`
}

// AlertNotice is the structured push payload for an alert.
type AlertNotice struct {
	AlertID      uuid.UUID `json:"alert_id"`
	PatientName  string    `json:"patient_name"`
	Allergies    []string  `json:"allergies"`
	Instructions string    `json:"instructions"`
	LocationURL  string    `json:"location_url,omitempty"`
	Latitude     *float64  `json:"latitude,omitempty"`
	Longitude    *float64  `json:"longitude,omitempty"`
}
