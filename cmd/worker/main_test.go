package main

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reviewforge/engine/internal/authz"
	"github.com/reviewforge/engine/internal/dispatcher"
	"github.com/reviewforge/engine/internal/engine"
	"github.com/reviewforge/engine/internal/logctx"
	"github.com/reviewforge/engine/internal/model"
	"github.com/reviewforge/engine/internal/predicate"
	"github.com/reviewforge/engine/internal/queue"
	"github.com/reviewforge/engine/internal/webhook"
)

// fakeWorkflows satisfies both dispatcher.TriggerSource and
// engine.WorkflowSource, since the scenario below needs the same
// in-memory workflow definitions on both sides of the intake/dispatch
// boundary that cmd/worker's runLoop now straddles.
type fakeWorkflows struct {
	triggers  []*model.WorkflowTrigger
	workflows map[model.ID]*model.Workflow
	actions   map[model.ID][]*model.WorkflowAction
}

func (f *fakeWorkflows) TriggersByType(_ context.Context, t model.TriggerType) ([]*model.WorkflowTrigger, error) {
	var out []*model.WorkflowTrigger
	for _, trig := range f.triggers {
		if trig.TriggerType == t && trig.Enabled {
			out = append(out, trig)
		}
	}
	return out, nil
}

func (f *fakeWorkflows) Get(_ context.Context, id model.ID) (*model.Workflow, error) {
	return f.workflows[id], nil
}

func (f *fakeWorkflows) ActionsFor(_ context.Context, workflowID model.ID) ([]*model.WorkflowAction, error) {
	return f.actions[workflowID], nil
}

// fakeExecutions satisfies both dispatcher.ExecutionSink and
// engine.ExecutionStore.
type fakeExecutions struct {
	recent    map[string]*model.WorkflowExecution
	byID      map[model.ID]*model.WorkflowExecution
	created   []*model.WorkflowExecution
	dedupHits int
}

func newFakeExecutions() *fakeExecutions {
	return &fakeExecutions{recent: map[string]*model.WorkflowExecution{}, byID: map[model.ID]*model.WorkflowExecution{}}
}

func (f *fakeExecutions) FindRecentByDedupKey(_ context.Context, integrationID model.ID, eventID string, _ time.Duration) (*model.WorkflowExecution, error) {
	key := integrationID.String() + "|" + eventID
	if exec, ok := f.recent[key]; ok {
		f.dedupHits++
		return exec, nil
	}
	return nil, nil
}

func (f *fakeExecutions) Create(_ context.Context, exec *model.WorkflowExecution) error {
	f.created = append(f.created, exec)
	f.byID[exec.ID] = exec
	if data, ok := exec.TriggerData["integration_id"].(string); ok {
		if eventID, ok := exec.TriggerData["event_id"].(string); ok {
			f.recent[data+"|"+eventID] = exec
		}
	}
	return nil
}

func (f *fakeExecutions) SetRunning(_ context.Context, id model.ID) error {
	f.byID[id].Status = model.ExecRunning
	return nil
}

func (f *fakeExecutions) SetTerminal(_ context.Context, id model.ID, status model.ExecutionStatus, result map[string]any, errMsg string) error {
	exec := f.byID[id]
	exec.Status = status
	exec.Result = result
	exec.ErrorMessage = errMsg
	return nil
}

func (f *fakeExecutions) AppendLog(context.Context, *model.ExecutionLog) error { return nil }

func (f *fakeExecutions) CountRunning(context.Context, model.ID) (int, error) { return 0, nil }

func (f *fakeExecutions) Get(_ context.Context, id model.ID) (*model.WorkflowExecution, error) {
	return f.byID[id], nil
}

func newScenarioQueue(t *testing.T) *queue.Queue {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return queue.New(client, "scenario")
}

// echoAppendWorkflows builds the S1/S2 fixture from spec §8: workflow W
// with actions A1 (echo, copies trigger payload's "text" into the
// result) and A2 (append, appends "-appended" to it), trigger T matching
// event_type "comment_created".
func echoAppendWorkflows() (model.ID, *fakeWorkflows) {
	wfID := model.MustNewID()
	a1 := &model.WorkflowAction{
		ID: model.MustNewID(), WorkflowID: wfID, ActionType: "echo", ActionName: "echo", OrderIndex: 0,
		Config: map[string]any{"text": "hi"},
	}
	a2 := &model.WorkflowAction{ID: model.MustNewID(), WorkflowID: wfID, ActionType: "append", ActionName: "append", OrderIndex: 1}
	trigger := &model.WorkflowTrigger{
		ID: model.MustNewID(), WorkflowID: wfID, TriggerType: model.TriggerWebhook,
		Conditions: `payload.event_type == "comment_created"`, Enabled: true,
	}
	return wfID, &fakeWorkflows{
		triggers:  []*model.WorkflowTrigger{trigger},
		workflows: map[model.ID]*model.Workflow{wfID: {ID: wfID, Status: model.WorkflowActive}},
		actions:   map[model.ID][]*model.WorkflowAction{wfID: {a1, a2}},
	}
}

func echoAppendRegistry(order *[]string) *engine.MapRegistry {
	registry := engine.NewMapRegistry()
	registry.Register("echo", engineFn(func(_ context.Context, action *model.WorkflowAction, actionCtx engine.ActionContext) (map[string]any, error) {
		*order = append(*order, "echo")
		text, _ := action.Config["text"].(string)
		return map[string]any{"text": text}, nil
	}))
	registry.Register("append", engineFn(func(_ context.Context, _ *model.WorkflowAction, actionCtx engine.ActionContext) (map[string]any, error) {
		*order = append(*order, "append")
		prior, _ := actionCtx["echo"].(map[string]any)
		text, _ := prior["text"].(string)
		return map[string]any{"text": text + "-appended"}, nil
	}))
	return registry
}

type engineFn func(ctx context.Context, action *model.WorkflowAction, actionCtx engine.ActionContext) (map[string]any, error)

func (f engineFn) Handle(ctx context.Context, action *model.WorkflowAction, actionCtx engine.ActionContext) (map[string]any, error) {
	return f(ctx, action, actionCtx)
}

// intakeToQueue mimics webhook.Service.Intake's enqueue half, without the
// commenter-admission and event-persistence concerns this scenario
// doesn't exercise.
func intakeToQueue(t *testing.T, q *queue.Queue, rec webhook.IntakeRecord) {
	t.Helper()
	raw, err := json.Marshal(rec)
	require.NoError(t, err)
	itemID := model.MustNewID()
	require.NoError(t, q.Enqueue(t.Context(), &queue.Item{ID: itemID, Payload: raw}, model.PriorityNormal))
}

func TestWorkerScenario_HappyPathWebhook(t *testing.T) {
	t.Run("S1: a webhook event runs both actions and completes with the appended text", func(t *testing.T) {
		ctx := logctx.ContextWithLogger(t.Context(), logctx.NewLogger(logctx.Config{Level: logctx.InfoLevel}))
		q := newScenarioQueue(t)
		_, workflows := echoAppendWorkflows()
		executions := newFakeExecutions()
		eval, err := predicate.NewEvaluator("payload", "context", "trigger")
		require.NoError(t, err)
		disp := dispatcher.New(workflows, executions, q, eval)
		var order []string
		eng := engine.New(workflows, executions, echoAppendRegistry(&order), authz.AllowAll{}, authz.NewAuditLogger(), eval, q)

		integrationID := model.MustNewID()
		intakeToQueue(t, q, webhook.IntakeRecord{
			IntegrationID: integrationID,
			EventType:     "comment_created",
			EventID:       "e1",
			Payload:       map[string]any{"event_type": "comment_created", "text": "hi"},
		})

		intakeItem, err := q.Dequeue(ctx, "worker-1", time.Second)
		require.NoError(t, err)
		require.NotNil(t, intakeItem)
		require.True(t, intakeItem.ExecutionID.IsZero())
		dispatchIntakeItem(ctx, q, disp, intakeItem)
		require.Len(t, executions.created, 1)

		execItem, err := q.Dequeue(ctx, "worker-1", time.Second)
		require.NoError(t, err)
		require.NotNil(t, execItem)
		require.False(t, execItem.ExecutionID.IsZero())
		exec := executions.byID[execItem.ExecutionID]
		require.NotNil(t, exec)

		require.NoError(t, eng.Run(ctx, execItem, exec))

		require.Equal(t, model.ExecCompleted, exec.Status)
		assert.Equal(t, []string{"echo", "append"}, order)
		assert.Equal(t, "hi-appended", exec.Result["text"])
	})
}

func TestWorkerScenario_DuplicateEventSkipped(t *testing.T) {
	t.Run("S2: repeating the same event_id creates no second execution", func(t *testing.T) {
		ctx := logctx.ContextWithLogger(t.Context(), logctx.NewLogger(logctx.Config{Level: logctx.InfoLevel}))
		q := newScenarioQueue(t)
		_, workflows := echoAppendWorkflows()
		executions := newFakeExecutions()
		eval, err := predicate.NewEvaluator("payload", "context", "trigger")
		require.NoError(t, err)
		disp := dispatcher.New(workflows, executions, q, eval)

		integrationID := model.MustNewID()
		rec := webhook.IntakeRecord{
			IntegrationID: integrationID,
			EventType:     "comment_created",
			EventID:       "e1",
			Payload:       map[string]any{"event_type": "comment_created", "text": "hi"},
		}
		intakeToQueue(t, q, rec)
		intakeToQueue(t, q, rec)

		first, err := q.Dequeue(ctx, "worker-1", time.Second)
		require.NoError(t, err)
		dispatchIntakeItem(ctx, q, disp, first)
		second, err := q.Dequeue(ctx, "worker-1", time.Second)
		require.NoError(t, err)
		dispatchIntakeItem(ctx, q, disp, second)

		require.Len(t, executions.created, 1)
		assert.Equal(t, 1, executions.dedupHits)

		// Only the first intake produced an execution-ready item; draining
		// the queue again must not surface a second one.
		third, err := q.Dequeue(ctx, "worker-1", 10*time.Millisecond)
		require.NoError(t, err)
		assert.Nil(t, third)
	})
}
