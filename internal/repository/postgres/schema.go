package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// schema creates the tables this service owns. profiles and
// emergency_contacts belong to the profile service and are only created here
// so a fresh database is usable in development.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS profiles (
		id UUID PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		email TEXT NOT NULL UNIQUE,
		phone TEXT NOT NULL DEFAULT '',
		allergies TEXT[] NOT NULL DEFAULT '{}',
		emergency_instructions TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS emergency_contacts (
		id UUID PRIMARY KEY,
		owner_id UUID NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		email TEXT NOT NULL DEFAULT '',
		phone TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_emergency_contacts_owner ON emergency_contacts (owner_id)`,
	`CREATE TABLE IF NOT EXISTS alerts (
		id UUID PRIMARY KEY,
		initiator_id UUID NOT NULL,
		initiator_name TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL CHECK (status IN ('active', 'responding', 'resolved')),
		latitude DOUBLE PRECISION,
		longitude DOUBLE PRECISION,
		accuracy DOUBLE PRECISION,
		address TEXT,
		located_at TIMESTAMPTZ,
		allergies TEXT[] NOT NULL DEFAULT '{}',
		instructions TEXT NOT NULL DEFAULT '',
		recipient_ids UUID[] NOT NULL DEFAULT '{}',
		responder_id UUID,
		responder_name TEXT,
		responder_latitude DOUBLE PRECISION,
		responder_longitude DOUBLE PRECISION,
		responder_accuracy DOUBLE PRECISION,
		responder_located_at TIMESTAMPTZ,
		responded_at TIMESTAMPTZ,
		distance_km DOUBLE PRECISION,
		eta_minutes INTEGER,
		resolved_by UUID,
		resolved_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_alerts_initiator ON alerts (initiator_id, created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_alerts_recipients ON alerts USING GIN (recipient_ids)`,
	`CREATE TABLE IF NOT EXISTS invitations (
		id UUID PRIMARY KEY,
		from_user_id UUID NOT NULL,
		from_name TEXT NOT NULL DEFAULT '',
		from_email TEXT NOT NULL DEFAULT '',
		to_user_id UUID,
		to_email TEXT NOT NULL,
		to_name TEXT NOT NULL DEFAULT '',
		message TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL CHECK (status IN ('pending', 'accepted', 'declined', 'cancelled')),
		created_at TIMESTAMPTZ NOT NULL,
		responded_at TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS idx_invitations_to_email ON invitations (to_email, status)`,
	`CREATE INDEX IF NOT EXISTS idx_invitations_from_user ON invitations (from_user_id, status)`,
	`CREATE TABLE IF NOT EXISTS buddy_relations (
		id UUID PRIMARY KEY,
		user1_id UUID NOT NULL,
		user2_id UUID NOT NULL,
		status TEXT NOT NULL,
		invitation_id UUID UNIQUE,
		created_at TIMESTAMPTZ NOT NULL,
		accepted_at TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS idx_buddy_relations_user1 ON buddy_relations (user1_id)`,
	`CREATE INDEX IF NOT EXISTS idx_buddy_relations_user2 ON buddy_relations (user2_id)`,
	`CREATE TABLE IF NOT EXISTS notification_tasks (
		alert_id UUID NOT NULL,
		recipient_id UUID NOT NULL,
		channel TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		last_error TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (alert_id, recipient_id)
	)`,
	`CREATE TABLE IF NOT EXISTS outbox_events (
		id UUID PRIMARY KEY,
		event_type TEXT NOT NULL,
		aggregate_id UUID NOT NULL,
		payload JSONB NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		error_message TEXT,
		retry_count INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL,
		processed_at TIMESTAMPTZ,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_outbox_events_pending ON outbox_events (status, created_at)`,
}

// Migrate applies the schema in a single transaction.
func Migrate(ctx context.Context, db *sqlx.DB) error {
	base := NewBaseRepository(db)
	return base.WithTx(ctx, func(tx *sqlx.Tx) error {
		for _, stmt := range schema {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("failed to apply schema: %w", err)
			}
		}
		return nil
	})
}
