package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/alleraid-api/internal/model"
	apperrors "github.com/jwalitptl/alleraid-api/pkg/errors"
)

type OutboxRepository struct {
	mu     sync.Mutex
	events map[uuid.UUID]*model.OutboxEvent
}

func NewOutboxRepository() *OutboxRepository {
	return &OutboxRepository{events: make(map[uuid.UUID]*model.OutboxEvent)}
}

func (r *OutboxRepository) Create(ctx context.Context, event *model.OutboxEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	c := *event
	r.events[event.ID] = &c
	return nil
}

func (r *OutboxRepository) GetPendingEvents(ctx context.Context, limit int) ([]*model.OutboxEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []*model.OutboxEvent{}
	for _, e := range r.events {
		if e.Status == model.OutboxStatusPending {
			c := *e
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *OutboxRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status model.OutboxStatus, errMsg *string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.events[id]
	if !ok {
		return apperrors.NotFound("outbox event", nil)
	}
	now := time.Now().UTC()
	e.Status = status
	e.ErrorMessage = errMsg
	e.UpdatedAt = now
	if status == model.OutboxStatusProcessed {
		e.ProcessedAt = &now
	}
	return nil
}

func (r *OutboxRepository) DeleteProcessedBefore(ctx context.Context, before time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, e := range r.events {
		if e.Status == model.OutboxStatusProcessed && e.ProcessedAt != nil && e.ProcessedAt.Before(before) {
			delete(r.events, id)
			n++
		}
	}
	return n, nil
}

// Events returns a snapshot of every stored event.
func (r *OutboxRepository) Events() []*model.OutboxEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*model.OutboxEvent, 0, len(r.events))
	for _, e := range r.events {
		c := *e
		out = append(out, &c)
	}
	return out
}
