package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/jwalitptl/alleraid-api/internal/model"
	"github.com/jwalitptl/alleraid-api/internal/repository"
	apperrors "github.com/jwalitptl/alleraid-api/pkg/errors"
)

const alertColumns = `
	id, initiator_id, initiator_name, status,
	latitude, longitude, accuracy, address, located_at,
	allergies, instructions, recipient_ids,
	responder_id, responder_name, responder_latitude, responder_longitude,
	responder_accuracy, responder_located_at, responded_at, distance_km, eta_minutes,
	resolved_by, resolved_at, created_at, updated_at`

type alertRepository struct {
	BaseRepository
}

func NewAlertRepository(base BaseRepository) repository.AlertRepository {
	return &alertRepository{base}
}

type alertRow struct {
	ID                 uuid.UUID      `db:"id"`
	InitiatorID        uuid.UUID      `db:"initiator_id"`
	InitiatorName      string         `db:"initiator_name"`
	Status             string         `db:"status"`
	Latitude           *float64       `db:"latitude"`
	Longitude          *float64       `db:"longitude"`
	Accuracy           *float64       `db:"accuracy"`
	Address            *string        `db:"address"`
	LocatedAt          *time.Time     `db:"located_at"`
	Allergies          pq.StringArray `db:"allergies"`
	Instructions       string         `db:"instructions"`
	RecipientIDs       pq.StringArray `db:"recipient_ids"`
	ResponderID        *uuid.UUID     `db:"responder_id"`
	ResponderName      *string        `db:"responder_name"`
	ResponderLatitude  *float64       `db:"responder_latitude"`
	ResponderLongitude *float64       `db:"responder_longitude"`
	ResponderAccuracy  *float64       `db:"responder_accuracy"`
	ResponderLocatedAt *time.Time     `db:"responder_located_at"`
	RespondedAt        *time.Time     `db:"responded_at"`
	DistanceKm         *float64       `db:"distance_km"`
	ETAMinutes         *int           `db:"eta_minutes"`
	ResolvedBy         *uuid.UUID     `db:"resolved_by"`
	ResolvedAt         *time.Time     `db:"resolved_at"`
	CreatedAt          time.Time      `db:"created_at"`
	UpdatedAt          time.Time      `db:"updated_at"`
}

func (row *alertRow) toModel() (*model.Alert, error) {
	a := &model.Alert{
		ID:            row.ID,
		InitiatorID:   row.InitiatorID,
		InitiatorName: row.InitiatorName,
		Status:        model.AlertStatus(row.Status),
		Allergies:     []string(row.Allergies),
		Instructions:  row.Instructions,
		RecipientIDs:  make([]uuid.UUID, 0, len(row.RecipientIDs)),
		CreatedAt:     row.CreatedAt,
		UpdatedAt:     row.UpdatedAt,
	}
	if a.Allergies == nil {
		a.Allergies = []string{}
	}
	for _, s := range row.RecipientIDs {
		id, err := uuid.Parse(s)
		if err != nil {
			return nil, fmt.Errorf("invalid recipient id %q: %w", s, err)
		}
		a.RecipientIDs = append(a.RecipientIDs, id)
	}
	a.Location = toLocation(row.Latitude, row.Longitude, row.Accuracy, row.LocatedAt)
	if a.Location != nil && row.Address != nil {
		a.Location.Address = *row.Address
	}
	if row.ResponderID != nil {
		info := &model.ResponderInfo{
			ResponderID: *row.ResponderID,
			Location:    toLocation(row.ResponderLatitude, row.ResponderLongitude, row.ResponderAccuracy, row.ResponderLocatedAt),
			DistanceKm:  row.DistanceKm,
			ETAMinutes:  row.ETAMinutes,
		}
		if row.ResponderName != nil {
			info.ResponderName = *row.ResponderName
		}
		if row.RespondedAt != nil {
			info.RespondedAt = *row.RespondedAt
		}
		a.Response = info
	}
	if row.ResolvedBy != nil && row.ResolvedAt != nil {
		a.Resolution = &model.Resolution{ResolvedBy: *row.ResolvedBy, ResolvedAt: *row.ResolvedAt}
	}
	return a, nil
}

func toLocation(lat, lon, acc *float64, at *time.Time) *model.Location {
	if lat == nil || lon == nil {
		return nil
	}
	loc := &model.Location{Latitude: *lat, Longitude: *lon}
	if acc != nil {
		loc.Accuracy = *acc
	}
	if at != nil {
		loc.Timestamp = *at
	}
	return loc
}

func locationArgs(loc *model.Location) (lat, lon, acc *float64, addr *string, at *time.Time) {
	if loc == nil {
		return nil, nil, nil, nil, nil
	}
	lat, lon, acc = &loc.Latitude, &loc.Longitude, &loc.Accuracy
	if loc.Address != "" {
		addr = &loc.Address
	}
	if !loc.Timestamp.IsZero() {
		at = &loc.Timestamp
	}
	return lat, lon, acc, addr, at
}

func uuidStrings(ids []uuid.UUID) pq.StringArray {
	out := make(pq.StringArray, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}

func (r *alertRepository) Create(ctx context.Context, alert *model.Alert) error {
	query := `
		INSERT INTO alerts (
			id, initiator_id, initiator_name, status,
			latitude, longitude, accuracy, address, located_at,
			allergies, instructions, recipient_ids, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14
		)
	`
	if alert.ID == uuid.Nil {
		alert.ID = uuid.New()
	}
	lat, lon, acc, addr, at := locationArgs(alert.Location)

	_, err := r.db.ExecContext(ctx, query,
		alert.ID,
		alert.InitiatorID,
		alert.InitiatorName,
		string(alert.Status),
		lat, lon, acc, addr, at,
		pq.StringArray(alert.Allergies),
		alert.Instructions,
		uuidStrings(alert.RecipientIDs),
		alert.CreatedAt,
		alert.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create alert: %w", err)
	}
	return nil
}

func (r *alertRepository) Get(ctx context.Context, id uuid.UUID) (*model.Alert, error) {
	query := `SELECT ` + alertColumns + ` FROM alerts WHERE id = $1`

	var row alertRow
	if err := r.db.GetContext(ctx, &row, query, id); err != nil {
		return nil, notFound(err, "alert")
	}
	return row.toModel()
}

func (r *alertRepository) Accept(ctx context.Context, id uuid.UUID, info model.ResponderInfo) (*model.Alert, error) {
	query := `
		UPDATE alerts
		SET status = 'responding',
			responder_id = $2, responder_name = $3,
			responder_latitude = $4, responder_longitude = $5,
			responder_accuracy = $6, responder_located_at = $7,
			responded_at = $8, distance_km = $9, eta_minutes = $10,
			updated_at = $8
		WHERE id = $1 AND status = 'active'
		RETURNING ` + alertColumns

	lat, lon, acc, _, at := locationArgs(info.Location)
	var row alertRow
	err := r.db.GetContext(ctx, &row, query,
		id, info.ResponderID, info.ResponderName,
		lat, lon, acc, at,
		info.RespondedAt, info.DistanceKm, info.ETAMinutes,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, r.transitionRejected(ctx, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to accept alert: %w", err)
	}
	return row.toModel()
}

func (r *alertRepository) Resolve(ctx context.Context, id uuid.UUID, res model.Resolution) (*model.Alert, error) {
	query := `
		UPDATE alerts
		SET status = 'resolved', resolved_by = $2, resolved_at = $3, updated_at = $3
		WHERE id = $1 AND status <> 'resolved'
		RETURNING ` + alertColumns

	var row alertRow
	err := r.db.GetContext(ctx, &row, query, id, res.ResolvedBy, res.ResolvedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, r.transitionRejected(ctx, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve alert: %w", err)
	}
	return row.toModel()
}

func (r *alertRepository) UpdateLocation(ctx context.Context, id uuid.UUID, loc model.Location) error {
	query := `
		UPDATE alerts
		SET latitude = $2, longitude = $3, accuracy = $4, located_at = $5, updated_at = $5
		WHERE id = $1 AND status <> 'resolved'
	`
	result, err := r.db.ExecContext(ctx, query, id, loc.Latitude, loc.Longitude, loc.Accuracy, loc.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to update alert location: %w", err)
	}
	return r.checkUpdated(ctx, id, result)
}

func (r *alertRepository) UpdateResponderLocation(ctx context.Context, id uuid.UUID, loc model.Location, distanceKm *float64, etaMinutes *int) error {
	query := `
		UPDATE alerts
		SET responder_latitude = $2, responder_longitude = $3, responder_accuracy = $4,
			responder_located_at = $5, distance_km = $6, eta_minutes = $7, updated_at = $5
		WHERE id = $1 AND status = 'responding'
	`
	result, err := r.db.ExecContext(ctx, query,
		id, loc.Latitude, loc.Longitude, loc.Accuracy, loc.Timestamp, distanceKm, etaMinutes)
	if err != nil {
		return fmt.Errorf("failed to update responder location: %w", err)
	}
	return r.checkUpdated(ctx, id, result)
}

func (r *alertRepository) checkUpdated(ctx context.Context, id uuid.UUID, result sql.Result) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return r.transitionRejected(ctx, id)
	}
	return nil
}

// transitionRejected explains why a conditional update touched no row.
func (r *alertRepository) transitionRejected(ctx context.Context, id uuid.UUID) error {
	current, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	switch current.Status {
	case model.AlertStatusResponding:
		return apperrors.AlreadyResponding(id.String())
	case model.AlertStatusResolved:
		return apperrors.InvalidState("alert is already resolved")
	default:
		return apperrors.InvalidState("alert has no responder")
	}
}

func (r *alertRepository) ListActiveForRecipient(ctx context.Context, userID uuid.UUID) ([]*model.Alert, error) {
	query := `SELECT ` + alertColumns + `
		FROM alerts
		WHERE $1 = ANY(recipient_ids) AND status <> 'resolved'
		ORDER BY created_at DESC
	`
	return r.list(ctx, query, userID)
}

func (r *alertRepository) ListByInitiator(ctx context.Context, initiatorID uuid.UUID) ([]*model.Alert, error) {
	query := `SELECT ` + alertColumns + `
		FROM alerts
		WHERE initiator_id = $1
		ORDER BY created_at DESC
	`
	return r.list(ctx, query, initiatorID)
}

func (r *alertRepository) list(ctx context.Context, query string, args ...interface{}) ([]*model.Alert, error) {
	var rows []alertRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list alerts: %w", err)
	}
	alerts := make([]*model.Alert, 0, len(rows))
	for i := range rows {
		a, err := rows[i].toModel()
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, a)
	}
	return alerts, nil
}
