package postgres

import (
	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/alleraid-api/internal/repository"
)

// NewRepositories wires every postgres repository onto one connection pool.
func NewRepositories(db *sqlx.DB) repository.Repositories {
	base := NewBaseRepository(db)
	return repository.Repositories{
		Alerts:        NewAlertRepository(base),
		Invitations:   NewInvitationRepository(base),
		Relations:     NewRelationRepository(base),
		Contacts:      NewContactRepository(base),
		Profiles:      NewProfileRepository(base),
		Notifications: NewNotificationTaskRepository(base),
		Outbox:        NewOutboxRepository(base),
	}
}
