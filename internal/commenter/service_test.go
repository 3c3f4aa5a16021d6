package commenter

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reviewforge/engine/internal/model"
)

type fakeRepo struct {
	settings *model.CommentFilterSettings
	rows     map[string]*model.AllowedCommenter
}

func newFakeRepo(settings *model.CommentFilterSettings) *fakeRepo {
	return &fakeRepo{settings: settings, rows: map[string]*model.AllowedCommenter{}}
}

func (r *fakeRepo) ByUsername(_ context.Context, username string) (*model.AllowedCommenter, error) {
	return r.rows[username], nil
}

func (r *fakeRepo) Upsert(_ context.Context, c *model.AllowedCommenter) error {
	if existing, ok := r.rows[c.ExternalUsername]; ok {
		existing.Enabled = true
		return nil
	}
	cp := *c
	r.rows[c.ExternalUsername] = &cp
	return nil
}

func (r *fakeRepo) SoftDisable(_ context.Context, username string) error {
	if c, ok := r.rows[username]; ok {
		c.Enabled = false
	}
	return nil
}

func (r *fakeRepo) UpdateActivity(_ context.Context, username string, increment bool) error {
	c, ok := r.rows[username]
	if !ok {
		return nil
	}
	if increment {
		c.CommentCount++
	}
	return nil
}

func (r *fakeRepo) List(_ context.Context, enabledOnly bool, _, _ int) ([]*model.AllowedCommenter, error) {
	var out []*model.AllowedCommenter
	for _, c := range r.rows {
		if enabledOnly && !c.Enabled {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

func (r *fakeRepo) Settings(_ context.Context) (*model.CommentFilterSettings, error) {
	return r.settings, nil
}

func (r *fakeRepo) UpsertSettings(_ context.Context, s *model.CommentFilterSettings) error {
	r.settings = s
	return nil
}

func TestService_IsAllowed_WhitelistMode(t *testing.T) {
	t.Run("Should allow only enabled rows present in whitelist mode", func(t *testing.T) {
		repo := newFakeRepo(&model.CommentFilterSettings{Enabled: true, WhitelistMode: true})
		svc := New(repo)

		allowed, err := svc.IsAllowed(t.Context(), "stranger")
		require.NoError(t, err)
		assert.False(t, allowed)

		require.NoError(t, svc.Add(t.Context(), "alice", "admin", ""))
		allowed, err = svc.IsAllowed(t.Context(), "alice")
		require.NoError(t, err)
		assert.True(t, allowed)

		require.NoError(t, svc.Remove(t.Context(), "alice"))
		allowed, err = svc.IsAllowed(t.Context(), "alice")
		require.NoError(t, err)
		assert.False(t, allowed)
	})
}

func TestService_IsAllowed_BlacklistMode(t *testing.T) {
	t.Run("Should allow everyone except disabled rows in blacklist mode", func(t *testing.T) {
		repo := newFakeRepo(&model.CommentFilterSettings{Enabled: true, WhitelistMode: false})
		svc := New(repo)

		allowed, err := svc.IsAllowed(t.Context(), "anyone")
		require.NoError(t, err)
		assert.True(t, allowed)

		require.NoError(t, svc.Add(t.Context(), "bob", "admin", ""))
		require.NoError(t, svc.Remove(t.Context(), "bob"))
		allowed, err = svc.IsAllowed(t.Context(), "bob")
		require.NoError(t, err)
		assert.False(t, allowed)
	})
}

func TestService_IsAllowed_FilteringDisabled(t *testing.T) {
	t.Run("Should allow everyone when filtering is globally disabled", func(t *testing.T) {
		repo := newFakeRepo(&model.CommentFilterSettings{Enabled: false})
		svc := New(repo)

		allowed, err := svc.IsAllowed(t.Context(), "anyone")
		require.NoError(t, err)
		assert.True(t, allowed)
	})
}

func TestService_Admit_DenyWithAutoAddAndAutoReply(t *testing.T) {
	t.Run("Should auto-add and format the auto-reply template on deny", func(t *testing.T) {
		repo := newFakeRepo(&model.CommentFilterSettings{
			Enabled:           true,
			WhitelistMode:     true,
			AutoAddCommenters: true,
			AutoReplyEnabled:  true,
			AutoReplyMessage:  "Welcome, {username}! You may now comment.",
		})
		svc := New(repo)

		allowed, reply, err := svc.Admit(t.Context(), "newcomer")
		require.NoError(t, err)
		assert.False(t, allowed)
		assert.Equal(t, "Welcome, newcomer! You may now comment.", reply)

		c, err := repo.ByUsername(t.Context(), "newcomer")
		require.NoError(t, err)
		require.NotNil(t, c)
		assert.True(t, c.Enabled)
	})
}

func TestService_Admit_AllowIncrementsActivity(t *testing.T) {
	t.Run("Should increment comment_count on an allowed admission", func(t *testing.T) {
		repo := newFakeRepo(&model.CommentFilterSettings{Enabled: true, WhitelistMode: false})
		svc := New(repo)
		require.NoError(t, svc.Add(t.Context(), "carol", "admin", ""))

		allowed, reply, err := svc.Admit(t.Context(), "carol")
		require.NoError(t, err)
		assert.True(t, allowed)
		assert.Empty(t, reply)

		c, err := repo.ByUsername(t.Context(), "carol")
		require.NoError(t, err)
		assert.Equal(t, 1, c.CommentCount)
	})
}

func TestService_AutoReplyMessage_LiteralSubstitutionOnly(t *testing.T) {
	t.Run("Should substitute only the literal {username} placeholder", func(t *testing.T) {
		repo := newFakeRepo(&model.CommentFilterSettings{
			AutoReplyEnabled: true,
			AutoReplyMessage: "Hi {username}, {other} stays untouched.",
		})
		svc := New(repo)

		msg, err := svc.AutoReplyMessage(t.Context(), "dave")
		require.NoError(t, err)
		assert.Equal(t, "Hi dave, {other} stays untouched.", msg)
	})
}
