package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/alleraid-api/internal/model"
)

// All repository interfaces in one file. Lookups that find nothing return an
// apperrors NotFound error unless the method says otherwise.
type (
	AlertRepository interface {
		Create(ctx context.Context, alert *model.Alert) error
		Get(ctx context.Context, id uuid.UUID) (*model.Alert, error)
		// Accept writes the responder only while the alert is still active.
		// A responding alert yields AlreadyResponding, a resolved one InvalidState.
		Accept(ctx context.Context, id uuid.UUID, info model.ResponderInfo) (*model.Alert, error)
		// Resolve succeeds once; a resolved alert yields InvalidState.
		Resolve(ctx context.Context, id uuid.UUID, resolution model.Resolution) (*model.Alert, error)
		UpdateLocation(ctx context.Context, id uuid.UUID, loc model.Location) error
		UpdateResponderLocation(ctx context.Context, id uuid.UUID, loc model.Location, distanceKm *float64, etaMinutes *int) error
		// ListActiveForRecipient returns unresolved alerts addressed to userID.
		ListActiveForRecipient(ctx context.Context, userID uuid.UUID) ([]*model.Alert, error)
		ListByInitiator(ctx context.Context, initiatorID uuid.UUID) ([]*model.Alert, error)
	}

	InvitationRepository interface {
		Create(ctx context.Context, inv *model.Invitation) error
		Get(ctx context.Context, id uuid.UUID) (*model.Invitation, error)
		// Respond persists a status change made on inv, provided the stored
		// status still equals from. Otherwise it returns InvalidState.
		Respond(ctx context.Context, inv *model.Invitation, from model.InvitationStatus) error
		ListPendingForEmail(ctx context.Context, email string) ([]*model.Invitation, error)
		ListPendingFromUser(ctx context.Context, userID uuid.UUID) ([]*model.Invitation, error)
	}

	RelationRepository interface {
		// Create inserts rel unless a relation already references the same
		// invitation, reporting whether a row was written.
		Create(ctx context.Context, rel *model.Relation) (bool, error)
		GetByInvitation(ctx context.Context, invitationID uuid.UUID) (*model.Relation, error)
		// Find returns the directed relation user1 -> user2, or nil.
		Find(ctx context.Context, user1ID, user2ID uuid.UUID) (*model.Relation, error)
		ListByUser1(ctx context.Context, userID uuid.UUID) ([]*model.Relation, error)
		ListByUser2(ctx context.Context, userID uuid.UUID) ([]*model.Relation, error)
	}

	ContactRepository interface {
		// FindByEmail returns the owner's legacy contact with email, or nil.
		FindByEmail(ctx context.Context, ownerID uuid.UUID, email string) (*model.Contact, error)
		ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]*model.Contact, error)
	}

	ProfileRepository interface {
		Get(ctx context.Context, id uuid.UUID) (*model.Profile, error)
		GetByEmail(ctx context.Context, email string) (*model.Profile, error)
	}

	NotificationTaskRepository interface {
		Upsert(ctx context.Context, task *model.NotificationTask) error
		ListByAlert(ctx context.Context, alertID uuid.UUID) ([]*model.NotificationTask, error)
	}

	OutboxRepository interface {
		Create(ctx context.Context, event *model.OutboxEvent) error
		GetPendingEvents(ctx context.Context, limit int) ([]*model.OutboxEvent, error)
		UpdateStatus(ctx context.Context, id uuid.UUID, status model.OutboxStatus, errMsg *string) error
		DeleteProcessedBefore(ctx context.Context, before time.Time) (int64, error)
	}
)

// Repositories bundles every store the services need.
type Repositories struct {
	Alerts        AlertRepository
	Invitations   InvitationRepository
	Relations     RelationRepository
	Contacts      ContactRepository
	Profiles      ProfileRepository
	Notifications NotificationTaskRepository
	Outbox        OutboxRepository
}
