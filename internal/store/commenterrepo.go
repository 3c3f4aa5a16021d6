package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5"

	"github.com/reviewforge/engine/internal/apperr"
	"github.com/reviewforge/engine/internal/model"
)

// CommenterRepo persists AllowedCommenter rows and the singleton
// CommentFilterSettings row (spec §4.7).
type CommenterRepo struct {
	store *Store
}

func NewCommenterRepo(s *Store) *CommenterRepo { return &CommenterRepo{store: s} }

var commenterColumns = []string{
	"id", "external_username", "external_user_id", "enabled",
	"added_by", "notes", "last_comment_at", "comment_count",
}

// ByUsername loads a commenter row by its external username, or nil if
// none exists.
func (r *CommenterRepo) ByUsername(ctx context.Context, username string) (*model.AllowedCommenter, error) {
	if !r.store.available {
		return nil, apperr.ErrDbUnavailable
	}
	query, args, err := psql.Select(commenterColumns...).
		From("allowed_commenters").
		Where(squirrel.Eq{"external_username": username}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	var c model.AllowedCommenter
	if err := pgxscan.Get(ctx, r.store.pool, &c, query, args...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %w", apperr.ErrDbUnavailable, err)
	}
	return &c, nil
}

// Upsert inserts a new commenter row, or re-enables and updates an
// existing one keyed by external_username (spec §4.7 "idempotent upsert;
// re-enables disabled rows").
func (r *CommenterRepo) Upsert(ctx context.Context, c *model.AllowedCommenter) error {
	if !r.store.available {
		return apperr.ErrDbUnavailable
	}
	query, args, err := psql.Insert("allowed_commenters").
		Columns(commenterColumns...).
		Values(c.ID, c.ExternalUsername, c.ExternalUserID, true, c.AddedBy, c.Notes, c.LastCommentAt, c.CommentCount).
		Suffix(`ON CONFLICT (external_username) DO UPDATE SET
			enabled = true,
			external_user_id = COALESCE(NULLIF(EXCLUDED.external_user_id, ''), allowed_commenters.external_user_id),
			added_by = COALESCE(NULLIF(EXCLUDED.added_by, ''), allowed_commenters.added_by),
			notes = COALESCE(NULLIF(EXCLUDED.notes, ''), allowed_commenters.notes)`).
		ToSql()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}
	if _, err := r.store.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("%w: %w", apperr.ErrDbUnavailable, err)
	}
	return nil
}

// SoftDisable sets enabled=false for the named commenter (spec §4.7
// "remove" is a soft-disable, never a delete).
func (r *CommenterRepo) SoftDisable(ctx context.Context, username string) error {
	if !r.store.available {
		return apperr.ErrDbUnavailable
	}
	query, args, err := psql.Update("allowed_commenters").
		Set("enabled", false).
		Where(squirrel.Eq{"external_username": username}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}
	tag, err := r.store.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%w: %w", apperr.ErrDbUnavailable, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: commenter %q", apperr.ErrNotFound, username)
	}
	return nil
}

// UpdateActivity stamps last_comment_at and optionally increments
// comment_count for the named commenter.
func (r *CommenterRepo) UpdateActivity(ctx context.Context, username string, increment bool) error {
	if !r.store.available {
		return apperr.ErrDbUnavailable
	}
	update := psql.Update("allowed_commenters").
		Set("last_comment_at", time.Now().UTC())
	if increment {
		update = update.Set("comment_count", squirrel.Expr("comment_count + 1"))
	}
	query, args, err := update.Where(squirrel.Eq{"external_username": username}).ToSql()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}
	if _, err := r.store.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("%w: %w", apperr.ErrDbUnavailable, err)
	}
	return nil
}

// List returns commenters ordered newest-first, optionally filtered to
// enabled rows, with pagination.
func (r *CommenterRepo) List(ctx context.Context, enabledOnly bool, limit, offset int) ([]*model.AllowedCommenter, error) {
	if !r.store.available {
		return nil, apperr.ErrDbUnavailable
	}
	q := psql.Select(commenterColumns...).From("allowed_commenters")
	if enabledOnly {
		q = q.Where(squirrel.Eq{"enabled": true})
	}
	query, args, err := q.OrderBy("id DESC").Limit(uint64(limit)).Offset(uint64(offset)).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	var out []*model.AllowedCommenter
	if err := pgxscan.Select(ctx, r.store.pool, &out, query, args...); err != nil {
		return nil, fmt.Errorf("%w: %w", apperr.ErrDbUnavailable, err)
	}
	return out, nil
}

var settingsColumns = []string{
	"id", "enabled", "auto_add_commenters", "auto_reply_enabled", "auto_reply_message", "whitelist_mode",
}

// Settings loads the singleton CommentFilterSettings row, or nil if it
// has never been written.
func (r *CommenterRepo) Settings(ctx context.Context) (*model.CommentFilterSettings, error) {
	if !r.store.available {
		return nil, apperr.ErrDbUnavailable
	}
	query, args, err := psql.Select(settingsColumns...).From("comment_filter_settings").Limit(1).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	var s model.CommentFilterSettings
	if err := pgxscan.Get(ctx, r.store.pool, &s, query, args...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %w", apperr.ErrDbUnavailable, err)
	}
	return &s, nil
}

// UpsertSettings creates the singleton settings row on first write, or
// replaces its fields on subsequent writes (spec §4.7).
func (r *CommenterRepo) UpsertSettings(ctx context.Context, s *model.CommentFilterSettings) error {
	if !r.store.available {
		return apperr.ErrDbUnavailable
	}
	query, args, err := psql.Insert("comment_filter_settings").
		Columns(settingsColumns...).
		Values(s.ID, s.Enabled, s.AutoAddCommenters, s.AutoReplyEnabled, s.AutoReplyMessage, s.WhitelistMode).
		Suffix(`ON CONFLICT (id) DO UPDATE SET
			enabled = EXCLUDED.enabled,
			auto_add_commenters = EXCLUDED.auto_add_commenters,
			auto_reply_enabled = EXCLUDED.auto_reply_enabled,
			auto_reply_message = EXCLUDED.auto_reply_message,
			whitelist_mode = EXCLUDED.whitelist_mode`).
		ToSql()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}
	if _, err := r.store.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("%w: %w", apperr.ErrDbUnavailable, err)
	}
	return nil
}
