package model

import (
	"time"

	"github.com/google/uuid"

	apperrors "github.com/jwalitptl/alleraid-api/pkg/errors"
)

type AlertStatus string

const (
	AlertStatusActive     AlertStatus = "active"
	AlertStatusResponding AlertStatus = "responding"
	AlertStatusResolved   AlertStatus = "resolved"
)

// Location is a position snapshot stored on an alert.
type Location struct {
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Accuracy  float64   `json:"accuracy"`
	Address   string    `json:"address,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ResponderInfo is set exactly once, when a buddy accepts the alert.
type ResponderInfo struct {
	ResponderID   uuid.UUID `json:"responder_id"`
	ResponderName string    `json:"responder_name"`
	Location      *Location `json:"location,omitempty"`
	RespondedAt   time.Time `json:"responded_at"`
	DistanceKm    *float64  `json:"distance_km,omitempty"`
	ETAMinutes    *int      `json:"eta_minutes,omitempty"`
}

type Resolution struct {
	ResolvedBy uuid.UUID `json:"resolved_by"`
	ResolvedAt time.Time `json:"resolved_at"`
}

// Alert is one emergency episode from trigger to resolution. Response is nil
// while the alert is active; Resolution is non-nil only once resolved.
type Alert struct {
	ID            uuid.UUID      `json:"id"`
	InitiatorID   uuid.UUID      `json:"initiator_id"`
	InitiatorName string         `json:"initiator_name"`
	Status        AlertStatus    `json:"status"`
	Location      *Location      `json:"location,omitempty"`
	Allergies     []string       `json:"allergies"`
	Instructions  string         `json:"instructions"`
	RecipientIDs  []uuid.UUID    `json:"recipient_ids"`
	Response      *ResponderInfo `json:"response,omitempty"`
	Resolution    *Resolution    `json:"resolution,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

type CreateAlertRequest struct {
	Latitude     *float64 `json:"latitude" validate:"omitempty,latitude"`
	Longitude    *float64 `json:"longitude" validate:"omitempty,longitude"`
	Accuracy     float64  `json:"accuracy" validate:"gte=0"`
	Address      string   `json:"address" validate:"max=512"`
	Allergies    []string `json:"allergies" validate:"omitempty,dive,max=128"`
	Instructions string   `json:"instructions" validate:"max=2000"`
}

// NewAlert builds an active alert with snapshots of the initiator's data.
func NewAlert(initiator *Profile, loc *Location, allergies []string, instructions string, recipients []uuid.UUID, now time.Time) *Alert {
	if allergies == nil {
		allergies = []string{}
	}
	if recipients == nil {
		recipients = []uuid.UUID{}
	}
	return &Alert{
		ID:            uuid.New(),
		InitiatorID:   initiator.ID,
		InitiatorName: initiator.Name,
		Status:        AlertStatusActive,
		Location:      loc,
		Allergies:     append([]string(nil), allergies...),
		Instructions:  instructions,
		RecipientIDs:  append([]uuid.UUID(nil), recipients...),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func (a *Alert) IsRecipient(userID uuid.UUID) bool {
	for _, id := range a.RecipientIDs {
		if id == userID {
			return true
		}
	}
	return false
}

func (a *Alert) IsResolved() bool {
	return a.Status == AlertStatusResolved
}

// CanResolve reports whether userID is the initiator or the accepted responder.
func (a *Alert) CanResolve(userID uuid.UUID) bool {
	if a.InitiatorID == userID {
		return true
	}
	return a.Response != nil && a.Response.ResponderID == userID
}

// Accept moves the alert from active to responding.
func (a *Alert) Accept(info ResponderInfo) error {
	switch a.Status {
	case AlertStatusActive:
	case AlertStatusResponding:
		return apperrors.AlreadyResponding(a.ID.String())
	default:
		return apperrors.InvalidState("alert is already resolved")
	}
	a.Status = AlertStatusResponding
	a.Response = &info
	a.UpdatedAt = info.RespondedAt
	return nil
}

// Resolve is terminal; resolving twice is an invalid transition.
func (a *Alert) Resolve(by uuid.UUID, at time.Time) error {
	if a.Status == AlertStatusResolved {
		return apperrors.InvalidState("alert is already resolved")
	}
	a.Status = AlertStatusResolved
	a.Resolution = &Resolution{ResolvedBy: by, ResolvedAt: at}
	a.UpdatedAt = at
	return nil
}

func (a *Alert) SetLocation(loc Location) error {
	if a.IsResolved() {
		return apperrors.InvalidState("alert is already resolved")
	}
	a.Location = &loc
	a.UpdatedAt = loc.Timestamp
	return nil
}

// SetResponderLocation records a responder tick together with the recomputed
// distance and ETA. The alert must already have a responder.
func (a *Alert) SetResponderLocation(loc Location, distanceKm *float64, eta *int) error {
	if a.IsResolved() {
		return apperrors.InvalidState("alert is already resolved")
	}
	if a.Response == nil {
		return apperrors.InvalidState("alert has no responder")
	}
	a.Response.Location = &loc
	a.Response.DistanceKm = distanceKm
	a.Response.ETAMinutes = eta
	a.UpdatedAt = loc.Timestamp
	return nil
}

// Validate checks that status and the optional sub-records agree.
func (a *Alert) Validate() error {
	switch a.Status {
	case AlertStatusActive:
		if a.Response != nil || a.Resolution != nil {
			return apperrors.InvalidState("active alert cannot carry responder or resolution")
		}
	case AlertStatusResponding:
		if a.Response == nil || a.Resolution != nil {
			return apperrors.InvalidState("responding alert needs a responder and no resolution")
		}
	case AlertStatusResolved:
		if a.Resolution == nil {
			return apperrors.InvalidState("resolved alert needs a resolution")
		}
	default:
		return apperrors.InvalidState("unknown alert status " + string(a.Status))
	}
	return nil
}

// Clone returns a deep copy so stores never share mutable state with callers.
func (a *Alert) Clone() *Alert {
	if a == nil {
		return nil
	}
	c := *a
	c.Allergies = append([]string(nil), a.Allergies...)
	c.RecipientIDs = append([]uuid.UUID(nil), a.RecipientIDs...)
	if a.Location != nil {
		loc := *a.Location
		c.Location = &loc
	}
	if a.Response != nil {
		r := *a.Response
		if r.Location != nil {
			loc := *r.Location
			r.Location = &loc
		}
		if r.DistanceKm != nil {
			d := *r.DistanceKm
			r.DistanceKm = &d
		}
		if r.ETAMinutes != nil {
			e := *r.ETAMinutes
			r.ETAMinutes = &e
		}
		c.Response = &r
	}
	if a.Resolution != nil {
		res := *a.Resolution
		c.Resolution = &res
	}
	return &c
}
