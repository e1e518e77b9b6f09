package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/jwalitptl/alleraid-api/internal/model"
	"github.com/jwalitptl/alleraid-api/internal/repository"
)

// Profiles and legacy contacts are owned by the profile service; this
// service only reads them.

type profileRepository struct {
	BaseRepository
}

func NewProfileRepository(base BaseRepository) repository.ProfileRepository {
	return &profileRepository{base}
}

type profileRow struct {
	ID           uuid.UUID      `db:"id"`
	Name         string         `db:"name"`
	Email        string         `db:"email"`
	Phone        string         `db:"phone"`
	Allergies    pq.StringArray `db:"allergies"`
	Instructions string         `db:"emergency_instructions"`
}

func (row *profileRow) toModel() *model.Profile {
	allergies := []string(row.Allergies)
	if allergies == nil {
		allergies = []string{}
	}
	return &model.Profile{
		ID:                    row.ID,
		Name:                  row.Name,
		Email:                 row.Email,
		Phone:                 row.Phone,
		Allergies:             allergies,
		EmergencyInstructions: row.Instructions,
	}
}

func (r *profileRepository) Get(ctx context.Context, id uuid.UUID) (*model.Profile, error) {
	query := `
		SELECT id, name, email, phone, allergies, emergency_instructions
		FROM profiles
		WHERE id = $1
	`
	var row profileRow
	if err := r.db.GetContext(ctx, &row, query, id); err != nil {
		return nil, notFound(err, "profile")
	}
	return row.toModel(), nil
}

func (r *profileRepository) GetByEmail(ctx context.Context, email string) (*model.Profile, error) {
	query := `
		SELECT id, name, email, phone, allergies, emergency_instructions
		FROM profiles
		WHERE lower(email) = $1
		LIMIT 1
	`
	var row profileRow
	if err := r.db.GetContext(ctx, &row, query, model.NormalizeEmail(email)); err != nil {
		return nil, notFound(err, "profile")
	}
	return row.toModel(), nil
}

type contactRepository struct {
	BaseRepository
}

func NewContactRepository(base BaseRepository) repository.ContactRepository {
	return &contactRepository{base}
}

func (r *contactRepository) FindByEmail(ctx context.Context, ownerID uuid.UUID, email string) (*model.Contact, error) {
	query := `
		SELECT id, owner_id, name, email, phone, created_at
		FROM emergency_contacts
		WHERE owner_id = $1 AND lower(email) = $2
		LIMIT 1
	`
	var contact model.Contact
	err := r.db.GetContext(ctx, &contact, query, ownerID, model.NormalizeEmail(email))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find contact: %w", err)
	}
	return &contact, nil
}

func (r *contactRepository) ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]*model.Contact, error) {
	query := `
		SELECT id, owner_id, name, email, phone, created_at
		FROM emergency_contacts
		WHERE owner_id = $1
		ORDER BY created_at
	`
	var contacts []*model.Contact
	if err := r.db.SelectContext(ctx, &contacts, query, ownerID); err != nil {
		return nil, fmt.Errorf("failed to list contacts: %w", err)
	}
	return contacts, nil
}
