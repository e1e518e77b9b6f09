package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/alleraid-api/internal/model"
	apperrors "github.com/jwalitptl/alleraid-api/pkg/errors"
)

type ProfileRepository struct {
	mu       sync.RWMutex
	profiles map[uuid.UUID]*model.Profile
}

func NewProfileRepository() *ProfileRepository {
	return &ProfileRepository{profiles: make(map[uuid.UUID]*model.Profile)}
}

// Put stores or replaces a profile.
func (r *ProfileRepository) Put(p *model.Profile) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := *p
	c.Allergies = append([]string(nil), p.Allergies...)
	r.profiles[p.ID] = &c
}

func (r *ProfileRepository) Get(ctx context.Context, id uuid.UUID) (*model.Profile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.profiles[id]
	if !ok {
		return nil, apperrors.NotFound("profile", nil)
	}
	c := *p
	return &c, nil
}

func (r *ProfileRepository) GetByEmail(ctx context.Context, email string) (*model.Profile, error) {
	email = model.NormalizeEmail(email)
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.profiles {
		if model.NormalizeEmail(p.Email) == email {
			c := *p
			return &c, nil
		}
	}
	return nil, apperrors.NotFound("profile", nil)
}

type ContactRepository struct {
	mu       sync.RWMutex
	contacts map[uuid.UUID]*model.Contact
}

func NewContactRepository() *ContactRepository {
	return &ContactRepository{contacts: make(map[uuid.UUID]*model.Contact)}
}

func (r *ContactRepository) Put(c *model.Contact) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	cp := *c
	r.contacts[c.ID] = &cp
}

func (r *ContactRepository) FindByEmail(ctx context.Context, ownerID uuid.UUID, email string) (*model.Contact, error) {
	email = model.NormalizeEmail(email)
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, c := range r.contacts {
		if c.OwnerID == ownerID && model.NormalizeEmail(c.Email) == email {
			cp := *c
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *ContactRepository) ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]*model.Contact, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := []*model.Contact{}
	for _, c := range r.contacts {
		if c.OwnerID == ownerID {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out, nil
}
