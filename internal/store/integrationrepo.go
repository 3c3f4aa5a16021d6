package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5"

	"github.com/reviewforge/engine/internal/apperr"
	"github.com/reviewforge/engine/internal/model"
)

// IntegrationRepo persists Integration and IntegrationEvent rows.
type IntegrationRepo struct {
	store *Store
}

func NewIntegrationRepo(s *Store) *IntegrationRepo { return &IntegrationRepo{store: s} }

// Get loads an Integration by ID.
func (r *IntegrationRepo) Get(ctx context.Context, id model.ID) (*model.Integration, error) {
	if !r.store.available {
		return nil, apperr.ErrDbUnavailable
	}
	query, args, err := psql.Select(
		"id", "name", "type", "config", "enabled", "health_status", "last_health_check", "credentials_encrypted",
	).From("integrations").Where(squirrel.Eq{"id": id}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	var integration model.Integration
	if err := pgxscan.Get(ctx, r.store.pool, &integration, query, args...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: integration %s", apperr.ErrNotFound, id)
		}
		return nil, fmt.Errorf("%w: %w", apperr.ErrDbUnavailable, err)
	}
	return &integration, nil
}

// SetHealth updates an Integration's observed health status.
func (r *IntegrationRepo) SetHealth(ctx context.Context, id model.ID, health model.IntegrationHealth) error {
	if !r.store.available {
		return apperr.ErrDbUnavailable
	}
	query, args, err := psql.Update("integrations").
		Set("health_status", health).
		Set("last_health_check", squirrel.Expr("now()")).
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}
	if _, err := r.store.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("%w: %w", apperr.ErrDbUnavailable, err)
	}
	return nil
}

// Create inserts a new IntegrationEvent row (spec §4.6 event persistence).
func (r *IntegrationRepo) Create(ctx context.Context, e *model.IntegrationEvent) error {
	if !r.store.available {
		return apperr.ErrDbUnavailable
	}
	query, args, err := psql.Insert("integration_events").
		Columns(
			"id", "integration_id", "event_type", "event_id", "payload",
			"status", "processed_at", "error_message", "retry_count", "created_at",
		).
		Values(
			e.ID, e.IntegrationID, e.EventType, e.EventID, e.Payload,
			e.Status, e.ProcessedAt, e.ErrorMessage, e.RetryCount, e.CreatedAt,
		).ToSql()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}
	if _, err := r.store.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("%w: %w", apperr.ErrDbUnavailable, err)
	}
	return nil
}

// ByDedupKey looks up an existing event by (integration_id, event_id),
// used by the Dispatcher's at-most-once-per-event guard (spec §4.6).
func (r *IntegrationRepo) ByDedupKey(ctx context.Context, integrationID model.ID, eventID string) (*model.IntegrationEvent, error) {
	if !r.store.available {
		return nil, apperr.ErrDbUnavailable
	}
	query, args, err := psql.Select(
		"id", "integration_id", "event_type", "event_id", "payload",
		"status", "processed_at", "error_message", "retry_count", "created_at",
	).From("integration_events").
		Where(squirrel.Eq{"integration_id": integrationID, "event_id": eventID}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	var evt model.IntegrationEvent
	if err := pgxscan.Get(ctx, r.store.pool, &evt, query, args...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %w", apperr.ErrDbUnavailable, err)
	}
	return &evt, nil
}
