package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/jwalitptl/alleraid-api/internal/model"
	apperrors "github.com/jwalitptl/alleraid-api/pkg/errors"
)

type AlertRepository struct {
	mu     sync.RWMutex
	alerts map[uuid.UUID]*model.Alert
	// FailCreate forces Create to fail, for exercising store outages.
	FailCreate error
}

func NewAlertRepository() *AlertRepository {
	return &AlertRepository{alerts: make(map[uuid.UUID]*model.Alert)}
}

func (r *AlertRepository) Create(ctx context.Context, alert *model.Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.FailCreate != nil {
		return r.FailCreate
	}
	if alert.ID == uuid.Nil {
		alert.ID = uuid.New()
	}
	r.alerts[alert.ID] = alert.Clone()
	return nil
}

func (r *AlertRepository) Get(ctx context.Context, id uuid.UUID) (*model.Alert, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.alerts[id]
	if !ok {
		return nil, apperrors.NotFound("alert", nil)
	}
	return a.Clone(), nil
}

func (r *AlertRepository) Accept(ctx context.Context, id uuid.UUID, info model.ResponderInfo) (*model.Alert, error) {
	return r.mutate(id, func(a *model.Alert) error { return a.Accept(info) })
}

func (r *AlertRepository) Resolve(ctx context.Context, id uuid.UUID, res model.Resolution) (*model.Alert, error) {
	return r.mutate(id, func(a *model.Alert) error { return a.Resolve(res.ResolvedBy, res.ResolvedAt) })
}

func (r *AlertRepository) UpdateLocation(ctx context.Context, id uuid.UUID, loc model.Location) error {
	_, err := r.mutate(id, func(a *model.Alert) error { return a.SetLocation(loc) })
	return err
}

func (r *AlertRepository) UpdateResponderLocation(ctx context.Context, id uuid.UUID, loc model.Location, distanceKm *float64, etaMinutes *int) error {
	_, err := r.mutate(id, func(a *model.Alert) error { return a.SetResponderLocation(loc, distanceKm, etaMinutes) })
	return err
}

// mutate applies fn to a copy under the write lock, so a failed transition
// leaves the stored alert untouched.
func (r *AlertRepository) mutate(id uuid.UUID, fn func(*model.Alert) error) (*model.Alert, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.alerts[id]
	if !ok {
		return nil, apperrors.NotFound("alert", nil)
	}
	next := stored.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	r.alerts[id] = next
	return next.Clone(), nil
}

func (r *AlertRepository) ListActiveForRecipient(ctx context.Context, userID uuid.UUID) ([]*model.Alert, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	alerts := []*model.Alert{}
	for _, a := range r.alerts {
		if !a.IsResolved() && a.IsRecipient(userID) {
			alerts = append(alerts, a.Clone())
		}
	}
	sortAlertsNewestFirst(alerts)
	return alerts, nil
}

func (r *AlertRepository) ListByInitiator(ctx context.Context, initiatorID uuid.UUID) ([]*model.Alert, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	alerts := []*model.Alert{}
	for _, a := range r.alerts {
		if a.InitiatorID == initiatorID {
			alerts = append(alerts, a.Clone())
		}
	}
	sortAlertsNewestFirst(alerts)
	return alerts, nil
}
