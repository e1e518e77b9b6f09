// Package memory holds mutex-guarded map implementations of the repository
// interfaces, used by the memory storage driver and by service tests.
package memory

import (
	"sort"

	"github.com/jwalitptl/alleraid-api/internal/model"
	"github.com/jwalitptl/alleraid-api/internal/repository"
)

// Store keeps concrete handles so callers can seed profiles and contacts.
type Store struct {
	Alerts        *AlertRepository
	Invitations   *InvitationRepository
	Relations     *RelationRepository
	Contacts      *ContactRepository
	Profiles      *ProfileRepository
	Notifications *NotificationTaskRepository
	Outbox        *OutboxRepository
}

func NewStore() *Store {
	return &Store{
		Alerts:        NewAlertRepository(),
		Invitations:   NewInvitationRepository(),
		Relations:     NewRelationRepository(),
		Contacts:      NewContactRepository(),
		Profiles:      NewProfileRepository(),
		Notifications: NewNotificationTaskRepository(),
		Outbox:        NewOutboxRepository(),
	}
}

func (s *Store) Repositories() repository.Repositories {
	return repository.Repositories{
		Alerts:        s.Alerts,
		Invitations:   s.Invitations,
		Relations:     s.Relations,
		Contacts:      s.Contacts,
		Profiles:      s.Profiles,
		Notifications: s.Notifications,
		Outbox:        s.Outbox,
	}
}

func sortAlertsNewestFirst(alerts []*model.Alert) {
	sort.Slice(alerts, func(i, j int) bool {
		return alerts[i].CreatedAt.After(alerts[j].CreatedAt)
	})
}
