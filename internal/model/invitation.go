package model

import (
	"strings"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/jwalitptl/alleraid-api/pkg/errors"
)

type InvitationStatus string

const (
	InvitationStatusPending   InvitationStatus = "pending"
	InvitationStatusAccepted  InvitationStatus = "accepted"
	InvitationStatusDeclined  InvitationStatus = "declined"
	InvitationStatusCancelled InvitationStatus = "cancelled"
)

type Invitation struct {
	ID          uuid.UUID        `json:"id"`
	FromUserID  uuid.UUID        `json:"from_user_id"`
	FromName    string           `json:"from_name"`
	FromEmail   string           `json:"from_email"`
	ToUserID    *uuid.UUID       `json:"to_user_id,omitempty"`
	ToEmail     string           `json:"to_email"`
	ToName      string           `json:"to_name"`
	Message     string           `json:"message"`
	Status      InvitationStatus `json:"status"`
	CreatedAt   time.Time        `json:"created_at"`
	RespondedAt *time.Time       `json:"responded_at,omitempty"`
}

type SendInvitationRequest struct {
	Email   string `json:"email" validate:"required,email"`
	Name    string `json:"name" validate:"max=128"`
	Message string `json:"message" validate:"max=1000"`
}

// NormalizeEmail is the canonical form used for every email comparison.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (i *Invitation) IsPending() bool {
	return i.Status == InvitationStatusPending
}

// IsAddressee matches by user id when the invitee was registered at send time,
// otherwise by email.
func (i *Invitation) IsAddressee(userID uuid.UUID, email string) bool {
	if i.ToUserID != nil && *i.ToUserID == userID {
		return true
	}
	return email != "" && NormalizeEmail(i.ToEmail) == NormalizeEmail(email)
}

func (i *Invitation) Accept(userID uuid.UUID, at time.Time) error {
	if err := i.respond(InvitationStatusAccepted, at); err != nil {
		return err
	}
	i.ToUserID = &userID
	return nil
}

func (i *Invitation) Decline(at time.Time) error {
	return i.respond(InvitationStatusDeclined, at)
}

func (i *Invitation) Cancel(at time.Time) error {
	return i.respond(InvitationStatusCancelled, at)
}

func (i *Invitation) respond(next InvitationStatus, at time.Time) error {
	if !i.IsPending() {
		return apperrors.InvalidState("invitation is already " + string(i.Status))
	}
	i.Status = next
	i.RespondedAt = &at
	return nil
}

func (i *Invitation) Clone() *Invitation {
	if i == nil {
		return nil
	}
	c := *i
	if i.ToUserID != nil {
		id := *i.ToUserID
		c.ToUserID = &id
	}
	if i.RespondedAt != nil {
		t := *i.RespondedAt
		c.RespondedAt = &t
	}
	return &c
}

// DuplicateKind classifies why an invitation would be a duplicate.
type DuplicateKind string

const (
	DuplicateNone                      DuplicateKind = ""
	DuplicateExistingBuddy             DuplicateKind = "existing_buddy"
	DuplicatePendingSentInvitation     DuplicateKind = "pending_sent_invitation"
	DuplicatePendingReceivedInvitation DuplicateKind = "pending_received_invitation"
	DuplicateLegacyBuddy               DuplicateKind = "legacy_buddy"
)

type DuplicateResult struct {
	Kind        DuplicateKind `json:"kind"`
	DisplayName string        `json:"display_name,omitempty"`
}

func (d DuplicateResult) IsDuplicate() bool {
	return d.Kind != DuplicateNone
}

// SendInvitationResult carries either the new invitation or the duplicate
// classification that prevented it.
type SendInvitationResult struct {
	Invitation *Invitation     `json:"invitation,omitempty"`
	Duplicate  DuplicateResult `json:"duplicate"`
}
