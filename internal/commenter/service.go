// Package commenter implements the Commenter Admission Service of spec
// component 4.7: a thin CRUD-plus-decision layer over AllowedCommenter
// and the singleton CommentFilterSettings row.
package commenter

import (
	"context"
	"fmt"
	"strings"

	"github.com/reviewforge/engine/internal/apperr"
	"github.com/reviewforge/engine/internal/model"
)

// Repo is the storage collaborator the Service requires.
type Repo interface {
	ByUsername(ctx context.Context, username string) (*model.AllowedCommenter, error)
	Upsert(ctx context.Context, c *model.AllowedCommenter) error
	SoftDisable(ctx context.Context, username string) error
	UpdateActivity(ctx context.Context, username string, increment bool) error
	List(ctx context.Context, enabledOnly bool, limit, offset int) ([]*model.AllowedCommenter, error)
	Settings(ctx context.Context) (*model.CommentFilterSettings, error)
	UpsertSettings(ctx context.Context, s *model.CommentFilterSettings) error
}

// Service implements the admission decision and CRUD operations of
// spec §4.7.
type Service struct {
	repo Repo
}

func New(repo Repo) *Service { return &Service{repo: repo} }

// IsAllowed decides admission per spec §4.6: if filtering is disabled
// globally, allow all. In whitelist mode, allow iff the row exists and
// is enabled. In blacklist mode, allow unless the row exists and is
// disabled.
func (s *Service) IsAllowed(ctx context.Context, username string) (bool, error) {
	settings, err := s.repo.Settings(ctx)
	if err != nil {
		return false, err
	}
	if settings == nil || !settings.Enabled {
		return true, nil
	}
	c, err := s.repo.ByUsername(ctx, username)
	if err != nil {
		return false, err
	}
	if settings.WhitelistMode {
		return c != nil && c.Enabled, nil
	}
	return !(c != nil && !c.Enabled), nil
}

// Add performs an idempotent upsert, re-enabling a previously disabled
// row (spec §4.7 "add").
func (s *Service) Add(ctx context.Context, username, addedBy, notes string) error {
	username = strings.TrimSpace(username)
	if username == "" {
		return fmt.Errorf("%w: external_username must be non-empty", apperr.ErrInvalidRequest)
	}
	id, err := model.NewID()
	if err != nil {
		return fmt.Errorf("generate commenter id: %w", err)
	}
	return s.repo.Upsert(ctx, &model.AllowedCommenter{
		ID:               id,
		ExternalUsername: username,
		Enabled:          true,
		AddedBy:          addedBy,
		Notes:            notes,
	})
}

// Remove soft-disables a commenter row (spec §4.7 "remove").
func (s *Service) Remove(ctx context.Context, username string) error {
	return s.repo.SoftDisable(ctx, username)
}

// UpdateActivity stamps last_comment_at and optionally increments
// comment_count.
func (s *Service) UpdateActivity(ctx context.Context, username string, increment bool) error {
	return s.repo.UpdateActivity(ctx, username, increment)
}

// List returns paginated, newest-first commenter rows.
func (s *Service) List(ctx context.Context, enabledOnly bool, limit, offset int) ([]*model.AllowedCommenter, error) {
	return s.repo.List(ctx, enabledOnly, limit, offset)
}

// AutoReplyMessage returns the formatted auto-reply template for
// username when auto_reply_enabled is set, or "" if it is not. Per spec
// §4.6, `{username}` is substituted literally — the template is not a
// general interpolation format.
func (s *Service) AutoReplyMessage(ctx context.Context, username string) (string, error) {
	settings, err := s.repo.Settings(ctx)
	if err != nil {
		return "", err
	}
	if settings == nil || !settings.AutoReplyEnabled {
		return "", nil
	}
	return strings.ReplaceAll(settings.AutoReplyMessage, "{username}", username), nil
}

// UpdateSettings creates the singleton settings row on first write, or
// replaces its fields on subsequent writes.
func (s *Service) UpdateSettings(ctx context.Context, settings *model.CommentFilterSettings) error {
	if settings.ID.IsZero() {
		id, err := model.NewID()
		if err != nil {
			return fmt.Errorf("generate settings id: %w", err)
		}
		settings.ID = id
	}
	return s.repo.UpsertSettings(ctx, settings)
}

// Admit runs the full comment-admission decision of spec §4.6: on
// allow, record activity; on deny with auto_add_commenters configured,
// insert the commenter enabled and optionally produce an auto-reply.
// autoReply is "" unless an auto-reply should be sent.
func (s *Service) Admit(ctx context.Context, username string) (allowed bool, autoReply string, err error) {
	allowed, err = s.IsAllowed(ctx, username)
	if err != nil {
		return false, "", err
	}
	if allowed {
		if err := s.UpdateActivity(ctx, username, true); err != nil {
			return false, "", err
		}
		return true, "", nil
	}
	settings, err := s.repo.Settings(ctx)
	if err != nil {
		return false, "", err
	}
	if settings == nil || !settings.AutoAddCommenters {
		return false, "", nil
	}
	if err := s.Add(ctx, username, "", ""); err != nil {
		return false, "", err
	}
	reply, err := s.AutoReplyMessage(ctx, username)
	if err != nil {
		return false, "", err
	}
	return false, reply, nil
}
