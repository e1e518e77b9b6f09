package model

import (
	"time"

	"github.com/google/uuid"
)

type RelationStatus string

const (
	RelationStatusPending  RelationStatus = "pending"
	RelationStatusAccepted RelationStatus = "accepted"
)

// Relation is an undirected buddy link. User1 is the original inviter.
type Relation struct {
	ID           uuid.UUID      `json:"id" db:"id"`
	User1ID      uuid.UUID      `json:"user1_id" db:"user1_id"`
	User2ID      uuid.UUID      `json:"user2_id" db:"user2_id"`
	Status       RelationStatus `json:"status" db:"status"`
	InvitationID *uuid.UUID     `json:"invitation_id,omitempty" db:"invitation_id"`
	CreatedAt    time.Time      `json:"created_at" db:"created_at"`
	AcceptedAt   *time.Time     `json:"accepted_at,omitempty" db:"accepted_at"`
}

// NewAcceptedRelation links inviter and accepter for the given invitation.
func NewAcceptedRelation(inv *Invitation, accepterID uuid.UUID, now time.Time) *Relation {
	invID := inv.ID
	return &Relation{
		ID:           uuid.New(),
		User1ID:      inv.FromUserID,
		User2ID:      accepterID,
		Status:       RelationStatusAccepted,
		InvitationID: &invID,
		CreatedAt:    now,
		AcceptedAt:   &now,
	}
}

// Other returns the party that is not userID.
func (r *Relation) Other(userID uuid.UUID) (uuid.UUID, bool) {
	switch userID {
	case r.User1ID:
		return r.User2ID, true
	case r.User2ID:
		return r.User1ID, true
	}
	return uuid.Nil, false
}

func (r *Relation) Links(a, b uuid.UUID) bool {
	return (r.User1ID == a && r.User2ID == b) || (r.User1ID == b && r.User2ID == a)
}

func (r *Relation) Clone() *Relation {
	if r == nil {
		return nil
	}
	c := *r
	if r.InvitationID != nil {
		id := *r.InvitationID
		c.InvitationID = &id
	}
	if r.AcceptedAt != nil {
		t := *r.AcceptedAt
		c.AcceptedAt = &t
	}
	return &c
}

// Buddy is the other party of an accepted relation, resolved to a profile.
type Buddy struct {
	RelationID uuid.UUID `json:"relation_id"`
	UserID     uuid.UUID `json:"user_id"`
	Name       string    `json:"name"`
	Email      string    `json:"email"`
	Phone      string    `json:"phone,omitempty"`
}
