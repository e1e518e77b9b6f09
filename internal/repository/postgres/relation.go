package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/jwalitptl/alleraid-api/internal/model"
	"github.com/jwalitptl/alleraid-api/internal/repository"
)

const relationColumns = `id, user1_id, user2_id, status, invitation_id, created_at, accepted_at`

type relationRepository struct {
	BaseRepository
}

func NewRelationRepository(base BaseRepository) repository.RelationRepository {
	return &relationRepository{base}
}

func (r *relationRepository) Create(ctx context.Context, rel *model.Relation) (bool, error) {
	query := `
		INSERT INTO buddy_relations (
			id, user1_id, user2_id, status, invitation_id, created_at, accepted_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7
		)
		ON CONFLICT (invitation_id) DO NOTHING
	`
	if rel.ID == uuid.Nil {
		rel.ID = uuid.New()
	}

	result, err := r.db.ExecContext(ctx, query,
		rel.ID,
		rel.User1ID,
		rel.User2ID,
		string(rel.Status),
		rel.InvitationID,
		rel.CreatedAt,
		rel.AcceptedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to create relation: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows > 0, nil
}

func (r *relationRepository) GetByInvitation(ctx context.Context, invitationID uuid.UUID) (*model.Relation, error) {
	query := `SELECT ` + relationColumns + ` FROM buddy_relations WHERE invitation_id = $1`

	var rel model.Relation
	if err := r.db.GetContext(ctx, &rel, query, invitationID); err != nil {
		return nil, notFound(err, "relation")
	}
	return &rel, nil
}

func (r *relationRepository) Find(ctx context.Context, user1ID, user2ID uuid.UUID) (*model.Relation, error) {
	query := `SELECT ` + relationColumns + `
		FROM buddy_relations
		WHERE user1_id = $1 AND user2_id = $2 AND status = $3
		LIMIT 1
	`
	var rel model.Relation
	err := r.db.GetContext(ctx, &rel, query, user1ID, user2ID, model.RelationStatusAccepted)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find relation: %w", err)
	}
	return &rel, nil
}

func (r *relationRepository) ListByUser1(ctx context.Context, userID uuid.UUID) ([]*model.Relation, error) {
	query := `SELECT ` + relationColumns + ` FROM buddy_relations WHERE user1_id = $1`
	return r.list(ctx, query, userID)
}

func (r *relationRepository) ListByUser2(ctx context.Context, userID uuid.UUID) ([]*model.Relation, error) {
	query := `SELECT ` + relationColumns + ` FROM buddy_relations WHERE user2_id = $1`
	return r.list(ctx, query, userID)
}

func (r *relationRepository) list(ctx context.Context, query string, userID uuid.UUID) ([]*model.Relation, error) {
	var relations []*model.Relation
	if err := r.db.SelectContext(ctx, &relations, query, userID); err != nil {
		return nil, fmt.Errorf("failed to list relations: %w", err)
	}
	if relations == nil {
		relations = []*model.Relation{}
	}
	return relations, nil
}
