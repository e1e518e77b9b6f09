package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/alleraid-api/internal/model"
)

type taskKey struct {
	alertID     uuid.UUID
	recipientID uuid.UUID
}

type NotificationTaskRepository struct {
	mu    sync.RWMutex
	tasks map[taskKey]*model.NotificationTask
}

func NewNotificationTaskRepository() *NotificationTaskRepository {
	return &NotificationTaskRepository{tasks: make(map[taskKey]*model.NotificationTask)}
}

func (r *NotificationTaskRepository) Upsert(ctx context.Context, task *model.NotificationTask) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := taskKey{task.AlertID, task.RecipientID}
	c := *task
	if existing, ok := r.tasks[key]; ok {
		c.CreatedAt = existing.CreatedAt
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	r.tasks[key] = &c
	return nil
}

func (r *NotificationTaskRepository) ListByAlert(ctx context.Context, alertID uuid.UUID) ([]*model.NotificationTask, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := []*model.NotificationTask{}
	for key, t := range r.tasks {
		if key.alertID == alertID {
			c := *t
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RecipientID.String() < out[j].RecipientID.String() })
	return out, nil
}
