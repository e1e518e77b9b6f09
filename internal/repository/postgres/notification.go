package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/jwalitptl/alleraid-api/internal/model"
	"github.com/jwalitptl/alleraid-api/internal/repository"
)

type notificationTaskRepository struct {
	BaseRepository
}

func NewNotificationTaskRepository(base BaseRepository) repository.NotificationTaskRepository {
	return &notificationTaskRepository{base}
}

func (r *notificationTaskRepository) Upsert(ctx context.Context, task *model.NotificationTask) error {
	query := `
		INSERT INTO notification_tasks (
			alert_id, recipient_id, channel, status, last_error, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7
		)
		ON CONFLICT (alert_id, recipient_id) DO UPDATE
		SET channel = EXCLUDED.channel,
			status = EXCLUDED.status,
			last_error = EXCLUDED.last_error,
			updated_at = EXCLUDED.updated_at
	`
	_, err := r.db.ExecContext(ctx, query,
		task.AlertID,
		task.RecipientID,
		task.Channel,
		string(task.Status),
		task.LastError,
		task.CreatedAt,
		task.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert notification task: %w", err)
	}
	return nil
}

func (r *notificationTaskRepository) ListByAlert(ctx context.Context, alertID uuid.UUID) ([]*model.NotificationTask, error) {
	query := `
		SELECT alert_id, recipient_id, channel, status, last_error, created_at, updated_at
		FROM notification_tasks
		WHERE alert_id = $1
		ORDER BY recipient_id
	`
	var tasks []*model.NotificationTask
	if err := r.db.SelectContext(ctx, &tasks, query, alertID); err != nil {
		return nil, fmt.Errorf("failed to list notification tasks: %w", err)
	}
	return tasks, nil
}
