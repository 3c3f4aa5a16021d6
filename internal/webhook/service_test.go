package webhook

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reviewforge/engine/internal/model"
	"github.com/reviewforge/engine/internal/queue"
)

type fakeEventRepo struct {
	events []*model.IntegrationEvent
}

func (r *fakeEventRepo) Create(_ context.Context, e *model.IntegrationEvent) error {
	r.events = append(r.events, e)
	return nil
}

type fakeEnqueuer struct {
	items []*queue.Item
}

func (e *fakeEnqueuer) Enqueue(_ context.Context, item *queue.Item, _ int) error {
	e.items = append(e.items, item)
	return nil
}

type fakeAdmitter struct {
	allow     bool
	autoReply string
}

func (a *fakeAdmitter) Admit(_ context.Context, _ string) (bool, string, error) {
	return a.allow, a.autoReply, nil
}

type fakePoster struct {
	integrationID, resourceID, body string
	called                          bool
	err                             error
}

func (p *fakePoster) PostComment(_ context.Context, integrationID, resourceID, body string) error {
	p.called = true
	p.integrationID, p.resourceID, p.body = integrationID, resourceID, body
	return p.err
}

func TestService_Intake_PlainEventEnqueues(t *testing.T) {
	t.Run("Should persist and enqueue an event with no comment shape", func(t *testing.T) {
		events := &fakeEventRepo{}
		enq := &fakeEnqueuer{}
		svc := NewService(events, enq, &fakeAdmitter{allow: true}, nil)

		result, err := svc.Intake(t.Context(), model.MustNewID(), "push", "evt-1", map[string]any{"ref": "main"})

		require.NoError(t, err)
		assert.True(t, result.Enqueued)
		assert.Len(t, events.events, 1)
		assert.Len(t, enq.items, 1)
	})
}

func TestService_Intake_DeniedCommentIsIgnoredNotEnqueued(t *testing.T) {
	t.Run("Should not enqueue a comment event denied by admission", func(t *testing.T) {
		events := &fakeEventRepo{}
		enq := &fakeEnqueuer{}
		svc := NewService(events, enq, &fakeAdmitter{allow: false, autoReply: "Welcome, stranger!"}, nil)

		payload := map[string]any{
			"comment":      map[string]any{"username": "stranger"},
			"pull_request": map[string]any{"number": 7},
		}
		result, err := svc.Intake(t.Context(), model.MustNewID(), "comment", "evt-2", payload)

		require.NoError(t, err)
		assert.False(t, result.Enqueued)
		assert.Equal(t, "Welcome, stranger!", result.AutoReply)
		assert.Len(t, enq.items, 0)
		require.Len(t, events.events, 1)
		assert.Equal(t, model.IntegrationEventIgnored, events.events[0].Status)
	})

	t.Run("Should deliver the auto-reply through the poster when a repository is present", func(t *testing.T) {
		events := &fakeEventRepo{}
		enq := &fakeEnqueuer{}
		poster := &fakePoster{}
		svc := NewService(events, enq, &fakeAdmitter{allow: false, autoReply: "Welcome, stranger!"}, poster)
		integrationID := model.MustNewID()

		payload := map[string]any{
			"comment":      map[string]any{"username": "stranger"},
			"pull_request": map[string]any{"number": 7},
			"repository":   map[string]any{"full_name": "acme/widgets"},
		}
		_, err := svc.Intake(t.Context(), integrationID, "comment", "evt-2b", payload)

		require.NoError(t, err)
		assert.True(t, poster.called)
		assert.Equal(t, integrationID.String(), poster.integrationID)
		assert.Equal(t, "acme/widgets#7", poster.resourceID)
		assert.Equal(t, "Welcome, stranger!", poster.body)
	})

	t.Run("Should skip delivery when the event carries no repository", func(t *testing.T) {
		events := &fakeEventRepo{}
		enq := &fakeEnqueuer{}
		poster := &fakePoster{}
		svc := NewService(events, enq, &fakeAdmitter{allow: false, autoReply: "Welcome, stranger!"}, poster)

		payload := map[string]any{
			"comment":      map[string]any{"username": "stranger"},
			"pull_request": map[string]any{"number": 7},
		}
		_, err := svc.Intake(t.Context(), model.MustNewID(), "comment", "evt-2c", payload)

		require.NoError(t, err)
		assert.False(t, poster.called)
	})
}

func TestService_Intake_AllowedCommentEnqueues(t *testing.T) {
	t.Run("Should enqueue a comment event allowed by admission", func(t *testing.T) {
		events := &fakeEventRepo{}
		enq := &fakeEnqueuer{}
		svc := NewService(events, enq, &fakeAdmitter{allow: true}, nil)

		payload := map[string]any{
			"comment":      map[string]any{"username": "alice"},
			"pull_request": map[string]any{"number": 7},
		}
		result, err := svc.Intake(t.Context(), model.MustNewID(), "comment", "evt-3", payload)

		require.NoError(t, err)
		assert.True(t, result.Enqueued)
		assert.Len(t, enq.items, 1)
	})
}
