package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/jwalitptl/alleraid-api/internal/model"
	apperrors "github.com/jwalitptl/alleraid-api/pkg/errors"
)

type InvitationRepository struct {
	mu          sync.RWMutex
	invitations map[uuid.UUID]*model.Invitation
}

func NewInvitationRepository() *InvitationRepository {
	return &InvitationRepository{invitations: make(map[uuid.UUID]*model.Invitation)}
}

func (r *InvitationRepository) Create(ctx context.Context, inv *model.Invitation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if inv.ID == uuid.Nil {
		inv.ID = uuid.New()
	}
	r.invitations[inv.ID] = inv.Clone()
	return nil
}

func (r *InvitationRepository) Get(ctx context.Context, id uuid.UUID) (*model.Invitation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	inv, ok := r.invitations[id]
	if !ok {
		return nil, apperrors.NotFound("invitation", nil)
	}
	return inv.Clone(), nil
}

func (r *InvitationRepository) Respond(ctx context.Context, inv *model.Invitation, from model.InvitationStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.invitations[inv.ID]
	if !ok {
		return apperrors.NotFound("invitation", nil)
	}
	if stored.Status != from {
		return apperrors.InvalidState("invitation is already " + string(stored.Status))
	}
	r.invitations[inv.ID] = inv.Clone()
	return nil
}

func (r *InvitationRepository) ListPendingForEmail(ctx context.Context, email string) ([]*model.Invitation, error) {
	email = model.NormalizeEmail(email)
	return r.list(func(inv *model.Invitation) bool {
		return inv.IsPending() && model.NormalizeEmail(inv.ToEmail) == email
	}), nil
}

func (r *InvitationRepository) ListPendingFromUser(ctx context.Context, userID uuid.UUID) ([]*model.Invitation, error) {
	return r.list(func(inv *model.Invitation) bool {
		return inv.IsPending() && inv.FromUserID == userID
	}), nil
}

func (r *InvitationRepository) list(match func(*model.Invitation) bool) []*model.Invitation {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := []*model.Invitation{}
	for _, inv := range r.invitations {
		if match(inv) {
			out = append(out, inv.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// Count returns the number of stored invitations.
func (r *InvitationRepository) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.invitations)
}
