package model

import (
	"time"

	"github.com/google/uuid"
)

// Profile is the identity record owned by the profile service. Alerts take
// snapshots of the allergy and instruction fields at trigger time.
type Profile struct {
	ID                    uuid.UUID `json:"id" db:"id"`
	Name                  string    `json:"name" db:"name"`
	Email                 string    `json:"email" db:"email"`
	Phone                 string    `json:"phone" db:"phone"`
	Allergies             []string  `json:"allergies" db:"-"`
	EmergencyInstructions string    `json:"emergency_instructions" db:"emergency_instructions"`
}

// Contact is a legacy direct contact stored before buddy relations existed.
type Contact struct {
	ID        uuid.UUID `json:"id" db:"id"`
	OwnerID   uuid.UUID `json:"owner_id" db:"owner_id"`
	Name      string    `json:"name" db:"name"`
	Email     string    `json:"email" db:"email"`
	Phone     string    `json:"phone" db:"phone"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
