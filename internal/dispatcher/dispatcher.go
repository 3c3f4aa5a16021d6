// Package dispatcher implements spec §4.6's Dispatcher responsibility:
// match incoming events against WorkflowTrigger rows and create a
// deduplicated WorkflowExecution plus a queued work item for each match.
package dispatcher

import (
	"context"
	"fmt"
	"time"

	"github.com/reviewforge/engine/internal/logctx"
	"github.com/reviewforge/engine/internal/model"
	"github.com/reviewforge/engine/internal/predicate"
	"github.com/reviewforge/engine/internal/queue"
	"github.com/reviewforge/engine/internal/sanitize"
)

const dedupWindow = 24 * time.Hour

// TriggerSource loads enabled triggers for a trigger type.
type TriggerSource interface {
	TriggersByType(ctx context.Context, triggerType model.TriggerType) ([]*model.WorkflowTrigger, error)
	Get(ctx context.Context, workflowID model.ID) (*model.Workflow, error)
}

// ExecutionSink creates WorkflowExecution rows and answers dedup lookups.
type ExecutionSink interface {
	FindRecentByDedupKey(ctx context.Context, integrationID model.ID, eventID string, window time.Duration) (*model.WorkflowExecution, error)
	Create(ctx context.Context, exec *model.WorkflowExecution) error
}

// Enqueuer hands a work item to the Queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, item *queue.Item, priority int) error
}

// Dispatcher matches inbound events to triggers and starts executions.
type Dispatcher struct {
	triggers   TriggerSource
	executions ExecutionSink
	queue      Enqueuer
	eval       *predicate.Evaluator
}

func New(triggers TriggerSource, executions ExecutionSink, q Enqueuer, eval *predicate.Evaluator) *Dispatcher {
	return &Dispatcher{triggers: triggers, executions: executions, queue: q, eval: eval}
}

// Envelope is the event data the Dispatcher matches triggers against and
// threads through to the created Execution as trigger_data.
type Envelope struct {
	IntegrationID model.ID
	EventID       string
	EventType     string
	Payload       map[string]any
}

// Dispatch matches env against enabled triggers of triggerType and, for
// each match, creates a deduplicated WorkflowExecution and enqueues a
// work item (spec §4.6 steps 1-2). It returns the IDs of executions it
// created; an event matching zero triggers is not an error.
func (d *Dispatcher) Dispatch(ctx context.Context, triggerType model.TriggerType, env Envelope) ([]model.ID, error) {
	log := logctx.FromContext(ctx)
	triggers, err := d.triggers.TriggersByType(ctx, triggerType)
	if err != nil {
		return nil, err
	}
	data := map[string]any{"payload": env.Payload}
	var created []model.ID
	for _, trig := range triggers {
		matched, err := d.eval.Allow(trig.Conditions, data)
		if err != nil {
			log.Warn("dispatcher: trigger evaluation failed",
				"trigger_id", trig.ID.String(), "workflow_id", trig.WorkflowID.String(), "error", sanitize.Err(err))
			continue
		}
		if !matched {
			continue
		}
		existing, err := d.executions.FindRecentByDedupKey(ctx, env.IntegrationID, env.EventID, dedupWindow)
		if err != nil {
			return created, err
		}
		if existing != nil {
			log.Warn("duplicate event_id within dedup window",
				"integration_id", env.IntegrationID.String(), "event_id", env.EventID, "trigger_id", trig.ID.String())
			continue
		}
		workflow, err := d.triggers.Get(ctx, trig.WorkflowID)
		if err != nil {
			return created, err
		}
		execID, err := model.NewID()
		if err != nil {
			return created, fmt.Errorf("generate execution id: %w", err)
		}
		exec := &model.WorkflowExecution{
			ID:          execID,
			WorkflowID:  trig.WorkflowID,
			ExecutionID: execID.String(),
			Status:      model.ExecPending,
			StartedAt:   time.Now().UTC(),
			TriggerType: string(triggerType),
			TriggerData: map[string]any{
				"integration_id": env.IntegrationID.String(),
				"event_id":       env.EventID,
				"event_type":     env.EventType,
				"payload":        env.Payload,
			},
		}
		if err := d.executions.Create(ctx, exec); err != nil {
			return created, err
		}
		itemID, err := model.NewID()
		if err != nil {
			return created, fmt.Errorf("generate work item id: %w", err)
		}
		item := &queue.Item{ID: itemID, ExecutionID: exec.ID}
		priority := workflowPriority(workflow)
		if err := d.queue.Enqueue(ctx, item, priority); err != nil {
			return created, err
		}
		created = append(created, exec.ID)
	}
	return created, nil
}

// workflowPriority reads config["priority"] (spec §4.6 "priority drawn
// from the workflow config (default NORMAL)").
func workflowPriority(w *model.Workflow) int {
	if w == nil || w.Config == nil {
		return model.PriorityNormal
	}
	v, ok := w.Config["priority"]
	if !ok {
		return model.PriorityNormal
	}
	switch p := v.(type) {
	case int:
		return model.ClampPriority(p)
	case int64:
		return model.ClampPriority(int(p))
	case float64:
		return model.ClampPriority(int(p))
	case string:
		switch p {
		case "low":
			return model.PriorityLow
		case "high":
			return model.PriorityHigh
		case "critical":
			return model.PriorityCritical
		default:
			return model.PriorityNormal
		}
	default:
		return model.PriorityNormal
	}
}
