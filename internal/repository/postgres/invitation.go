package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/alleraid-api/internal/model"
	"github.com/jwalitptl/alleraid-api/internal/repository"
	apperrors "github.com/jwalitptl/alleraid-api/pkg/errors"
)

const invitationColumns = `
	id, from_user_id, from_name, from_email, to_user_id, to_email, to_name,
	message, status, created_at, responded_at`

type invitationRepository struct {
	BaseRepository
}

func NewInvitationRepository(base BaseRepository) repository.InvitationRepository {
	return &invitationRepository{base}
}

type invitationRow struct {
	ID          uuid.UUID  `db:"id"`
	FromUserID  uuid.UUID  `db:"from_user_id"`
	FromName    string     `db:"from_name"`
	FromEmail   string     `db:"from_email"`
	ToUserID    *uuid.UUID `db:"to_user_id"`
	ToEmail     string     `db:"to_email"`
	ToName      string     `db:"to_name"`
	Message     string     `db:"message"`
	Status      string     `db:"status"`
	CreatedAt   time.Time  `db:"created_at"`
	RespondedAt *time.Time `db:"responded_at"`
}

func (row *invitationRow) toModel() *model.Invitation {
	return &model.Invitation{
		ID:          row.ID,
		FromUserID:  row.FromUserID,
		FromName:    row.FromName,
		FromEmail:   row.FromEmail,
		ToUserID:    row.ToUserID,
		ToEmail:     row.ToEmail,
		ToName:      row.ToName,
		Message:     row.Message,
		Status:      model.InvitationStatus(row.Status),
		CreatedAt:   row.CreatedAt,
		RespondedAt: row.RespondedAt,
	}
}

func (r *invitationRepository) Create(ctx context.Context, inv *model.Invitation) error {
	query := `
		INSERT INTO invitations (
			id, from_user_id, from_name, from_email, to_user_id, to_email, to_name,
			message, status, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10
		)
	`
	if inv.ID == uuid.Nil {
		inv.ID = uuid.New()
	}

	_, err := r.db.ExecContext(ctx, query,
		inv.ID,
		inv.FromUserID,
		inv.FromName,
		inv.FromEmail,
		inv.ToUserID,
		model.NormalizeEmail(inv.ToEmail),
		inv.ToName,
		inv.Message,
		string(inv.Status),
		inv.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create invitation: %w", err)
	}
	return nil
}

func (r *invitationRepository) Get(ctx context.Context, id uuid.UUID) (*model.Invitation, error) {
	query := `SELECT ` + invitationColumns + ` FROM invitations WHERE id = $1`

	var row invitationRow
	if err := r.db.GetContext(ctx, &row, query, id); err != nil {
		return nil, notFound(err, "invitation")
	}
	return row.toModel(), nil
}

func (r *invitationRepository) Respond(ctx context.Context, inv *model.Invitation, from model.InvitationStatus) error {
	query := `
		UPDATE invitations
		SET status = $2, to_user_id = $3, responded_at = $4
		WHERE id = $1 AND status = $5
	`
	result, err := r.db.ExecContext(ctx, query,
		inv.ID, string(inv.Status), inv.ToUserID, inv.RespondedAt, string(from))
	if err != nil {
		return fmt.Errorf("failed to update invitation: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		current, err := r.Get(ctx, inv.ID)
		if err != nil {
			return err
		}
		return apperrors.InvalidState("invitation is already " + string(current.Status))
	}
	return nil
}

func (r *invitationRepository) ListPendingForEmail(ctx context.Context, email string) ([]*model.Invitation, error) {
	query := `SELECT ` + invitationColumns + `
		FROM invitations
		WHERE to_email = $1 AND status = 'pending'
		ORDER BY created_at DESC
	`
	return r.list(ctx, query, model.NormalizeEmail(email))
}

func (r *invitationRepository) ListPendingFromUser(ctx context.Context, userID uuid.UUID) ([]*model.Invitation, error) {
	query := `SELECT ` + invitationColumns + `
		FROM invitations
		WHERE from_user_id = $1 AND status = 'pending'
		ORDER BY created_at DESC
	`
	return r.list(ctx, query, userID)
}

func (r *invitationRepository) list(ctx context.Context, query string, arg interface{}) ([]*model.Invitation, error) {
	var rows []invitationRow
	if err := r.db.SelectContext(ctx, &rows, query, arg); err != nil {
		return nil, fmt.Errorf("failed to list invitations: %w", err)
	}
	out := make([]*model.Invitation, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toModel())
	}
	return out, nil
}
