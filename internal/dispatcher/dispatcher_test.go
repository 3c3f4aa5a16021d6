package dispatcher

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reviewforge/engine/internal/logctx"
	"github.com/reviewforge/engine/internal/model"
	"github.com/reviewforge/engine/internal/predicate"
	"github.com/reviewforge/engine/internal/queue"
)

type fakeTriggerSource struct {
	triggers  []*model.WorkflowTrigger
	workflows map[model.ID]*model.Workflow
}

func (f *fakeTriggerSource) TriggersByType(_ context.Context, triggerType model.TriggerType) ([]*model.WorkflowTrigger, error) {
	var out []*model.WorkflowTrigger
	for _, t := range f.triggers {
		if t.TriggerType == triggerType && t.Enabled {
			out = append(out, t)
		}
	}
	return out, nil
}

func (f *fakeTriggerSource) Get(_ context.Context, workflowID model.ID) (*model.Workflow, error) {
	return f.workflows[workflowID], nil
}

type fakeExecutionSink struct {
	recent  map[string]*model.WorkflowExecution
	created []*model.WorkflowExecution
}

func (f *fakeExecutionSink) FindRecentByDedupKey(_ context.Context, integrationID model.ID, eventID string, _ time.Duration) (*model.WorkflowExecution, error) {
	return f.recent[integrationID.String()+"|"+eventID], nil
}

func (f *fakeExecutionSink) Create(_ context.Context, exec *model.WorkflowExecution) error {
	f.created = append(f.created, exec)
	return nil
}

type fakeEnqueuer struct {
	items []*queue.Item
}

func (f *fakeEnqueuer) Enqueue(_ context.Context, item *queue.Item, priority int) error {
	item.Priority = priority
	f.items = append(f.items, item)
	return nil
}

func newDispatcher(t *testing.T, triggers []*model.WorkflowTrigger, workflows map[model.ID]*model.Workflow) (*Dispatcher, *fakeExecutionSink, *fakeEnqueuer) {
	t.Helper()
	eval, err := predicate.NewEvaluator("payload")
	require.NoError(t, err)
	sink := &fakeExecutionSink{recent: map[string]*model.WorkflowExecution{}}
	enq := &fakeEnqueuer{}
	src := &fakeTriggerSource{triggers: triggers, workflows: workflows}
	return New(src, sink, enq, eval), sink, enq
}

func TestDispatcher_MatchesPredicateAndEnqueues(t *testing.T) {
	t.Run("Should create an execution and enqueue when the predicate matches", func(t *testing.T) {
		wfID := model.MustNewID()
		trigger := &model.WorkflowTrigger{
			ID: model.MustNewID(), WorkflowID: wfID, TriggerType: model.TriggerWebhook,
			Conditions: "payload.action == 'opened'", Enabled: true,
		}
		workflows := map[model.ID]*model.Workflow{wfID: {ID: wfID, Config: map[string]any{"priority": "high"}}}
		d, sink, enq := newDispatcher(t, []*model.WorkflowTrigger{trigger}, workflows)

		created, err := d.Dispatch(t.Context(), model.TriggerWebhook, Envelope{
			IntegrationID: model.MustNewID(),
			EventID:       "evt-1",
			Payload:       map[string]any{"action": "opened"},
		})

		require.NoError(t, err)
		require.Len(t, created, 1)
		require.Len(t, sink.created, 1)
		require.Len(t, enq.items, 1)
		assert.Equal(t, model.PriorityHigh, enq.items[0].Priority)
	})
}

func TestDispatcher_SkipsNonMatchingPredicate(t *testing.T) {
	t.Run("Should not create an execution when the predicate does not match", func(t *testing.T) {
		wfID := model.MustNewID()
		trigger := &model.WorkflowTrigger{
			ID: model.MustNewID(), WorkflowID: wfID, TriggerType: model.TriggerWebhook,
			Conditions: "payload.action == 'closed'", Enabled: true,
		}
		d, sink, enq := newDispatcher(t, []*model.WorkflowTrigger{trigger}, map[model.ID]*model.Workflow{wfID: {ID: wfID}})

		created, err := d.Dispatch(t.Context(), model.TriggerWebhook, Envelope{
			IntegrationID: model.MustNewID(),
			EventID:       "evt-2",
			Payload:       map[string]any{"action": "opened"},
		})

		require.NoError(t, err)
		assert.Empty(t, created)
		assert.Empty(t, sink.created)
		assert.Empty(t, enq.items)
	})
}

func TestDispatcher_DedupSkipsRecentEvent(t *testing.T) {
	t.Run("Should skip an event already executed within the dedup window", func(t *testing.T) {
		wfID := model.MustNewID()
		integrationID := model.MustNewID()
		trigger := &model.WorkflowTrigger{
			ID: model.MustNewID(), WorkflowID: wfID, TriggerType: model.TriggerWebhook,
			Conditions: "", Enabled: true,
		}
		d, sink, enq := newDispatcher(t, []*model.WorkflowTrigger{trigger}, map[model.ID]*model.Workflow{wfID: {ID: wfID}})
		sink.recent[integrationID.String()+"|evt-3"] = &model.WorkflowExecution{ID: model.MustNewID()}

		created, err := d.Dispatch(t.Context(), model.TriggerWebhook, Envelope{
			IntegrationID: integrationID,
			EventID:       "evt-3",
			Payload:       map[string]any{},
		})

		require.NoError(t, err)
		assert.Empty(t, created)
		assert.Empty(t, sink.created)
		assert.Empty(t, enq.items)
	})
}

func TestDispatcher_ContinuesPastTriggerEvaluationError(t *testing.T) {
	t.Run("Should log a WARNING for the offending trigger and still dispatch its peers", func(t *testing.T) {
		wfBad := model.MustNewID()
		wfGood := model.MustNewID()
		badTrigger := &model.WorkflowTrigger{
			ID: model.MustNewID(), WorkflowID: wfBad, TriggerType: model.TriggerWebhook,
			Conditions: "payload.action ===", Enabled: true,
		}
		goodTrigger := &model.WorkflowTrigger{
			ID: model.MustNewID(), WorkflowID: wfGood, TriggerType: model.TriggerWebhook,
			Conditions: "payload.action == 'opened'", Enabled: true,
		}
		workflows := map[model.ID]*model.Workflow{wfBad: {ID: wfBad}, wfGood: {ID: wfGood}}
		d, sink, enq := newDispatcher(t, []*model.WorkflowTrigger{badTrigger, goodTrigger}, workflows)

		var buf bytes.Buffer
		ctx := logctx.ContextWithLogger(t.Context(), logctx.NewLogger(logctx.Config{Level: logctx.WarnLevel, Output: &buf}))

		created, err := d.Dispatch(ctx, model.TriggerWebhook, Envelope{
			IntegrationID: model.MustNewID(),
			EventID:       "evt-5",
			Payload:       map[string]any{"action": "opened"},
		})

		require.NoError(t, err)
		require.Len(t, created, 1)
		require.Len(t, sink.created, 1)
		require.Len(t, enq.items, 1)
		assert.Contains(t, buf.String(), "trigger evaluation failed")
	})
}

func TestDispatcher_DedupSkipLogsWarning(t *testing.T) {
	t.Run("Should log one WARNING naming the duplicate event_id on a dedup skip", func(t *testing.T) {
		wfID := model.MustNewID()
		integrationID := model.MustNewID()
		trigger := &model.WorkflowTrigger{
			ID: model.MustNewID(), WorkflowID: wfID, TriggerType: model.TriggerWebhook,
			Conditions: "", Enabled: true,
		}
		d, sink, _ := newDispatcher(t, []*model.WorkflowTrigger{trigger}, map[model.ID]*model.Workflow{wfID: {ID: wfID}})
		sink.recent[integrationID.String()+"|evt-dup"] = &model.WorkflowExecution{ID: model.MustNewID()}

		var buf bytes.Buffer
		ctx := logctx.ContextWithLogger(t.Context(), logctx.NewLogger(logctx.Config{Level: logctx.WarnLevel, Output: &buf}))

		created, err := d.Dispatch(ctx, model.TriggerWebhook, Envelope{
			IntegrationID: integrationID,
			EventID:       "evt-dup",
			Payload:       map[string]any{},
		})

		require.NoError(t, err)
		assert.Empty(t, created)
		assert.Contains(t, buf.String(), "duplicate event_id within dedup window")
		assert.Contains(t, buf.String(), "evt-dup")
	})
}

func TestDispatcher_IgnoresDisabledTriggers(t *testing.T) {
	t.Run("Should never match a disabled trigger", func(t *testing.T) {
		wfID := model.MustNewID()
		trigger := &model.WorkflowTrigger{
			ID: model.MustNewID(), WorkflowID: wfID, TriggerType: model.TriggerWebhook,
			Conditions: "", Enabled: false,
		}
		d, sink, enq := newDispatcher(t, []*model.WorkflowTrigger{trigger}, map[model.ID]*model.Workflow{wfID: {ID: wfID}})

		created, err := d.Dispatch(t.Context(), model.TriggerWebhook, Envelope{
			IntegrationID: model.MustNewID(),
			EventID:       "evt-4",
			Payload:       map[string]any{},
		})

		require.NoError(t, err)
		assert.Empty(t, created)
		assert.Empty(t, sink.created)
		assert.Empty(t, enq.items)
	})
}
