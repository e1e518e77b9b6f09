package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/jwalitptl/alleraid-api/internal/model"
	apperrors "github.com/jwalitptl/alleraid-api/pkg/errors"
)

type RelationRepository struct {
	mu        sync.RWMutex
	relations map[uuid.UUID]*model.Relation
}

func NewRelationRepository() *RelationRepository {
	return &RelationRepository{relations: make(map[uuid.UUID]*model.Relation)}
}

func (r *RelationRepository) Create(ctx context.Context, rel *model.Relation) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rel.InvitationID != nil {
		for _, existing := range r.relations {
			if existing.InvitationID != nil && *existing.InvitationID == *rel.InvitationID {
				return false, nil
			}
		}
	}
	if rel.ID == uuid.Nil {
		rel.ID = uuid.New()
	}
	r.relations[rel.ID] = rel.Clone()
	return true, nil
}

func (r *RelationRepository) GetByInvitation(ctx context.Context, invitationID uuid.UUID) (*model.Relation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, rel := range r.relations {
		if rel.InvitationID != nil && *rel.InvitationID == invitationID {
			return rel.Clone(), nil
		}
	}
	return nil, apperrors.NotFound("relation", nil)
}

func (r *RelationRepository) Find(ctx context.Context, user1ID, user2ID uuid.UUID) (*model.Relation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, rel := range r.relations {
		if rel.User1ID == user1ID && rel.User2ID == user2ID && rel.Status == model.RelationStatusAccepted {
			return rel.Clone(), nil
		}
	}
	return nil, nil
}

func (r *RelationRepository) ListByUser1(ctx context.Context, userID uuid.UUID) ([]*model.Relation, error) {
	return r.list(func(rel *model.Relation) bool { return rel.User1ID == userID }), nil
}

func (r *RelationRepository) ListByUser2(ctx context.Context, userID uuid.UUID) ([]*model.Relation, error) {
	return r.list(func(rel *model.Relation) bool { return rel.User2ID == userID }), nil
}

func (r *RelationRepository) list(match func(*model.Relation) bool) []*model.Relation {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := []*model.Relation{}
	for _, rel := range r.relations {
		if match(rel) {
			out = append(out, rel.Clone())
		}
	}
	return out
}

func (r *RelationRepository) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.relations)
}
