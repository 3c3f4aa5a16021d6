// Package engine implements the Execution Engine of spec.md §4.5: the
// per-action loop that advances one WorkflowExecution through its state
// machine, honouring authorization, retries, timeouts, and cancellation.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sethvargo/go-retry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	nooptrace "go.opentelemetry.io/otel/trace/noop"

	"github.com/reviewforge/engine/internal/apperr"
	"github.com/reviewforge/engine/internal/authz"
	"github.com/reviewforge/engine/internal/logctx"
	"github.com/reviewforge/engine/internal/model"
	"github.com/reviewforge/engine/internal/monitoring"
	"github.com/reviewforge/engine/internal/predicate"
	"github.com/reviewforge/engine/internal/queue"
	"github.com/reviewforge/engine/internal/sanitize"
)

const tracerName = "github.com/reviewforge/engine/internal/engine"

const (
	defaultTimeout   = 300 * time.Second
	hardCeiling      = 3600 * time.Second
	errMessageMaxLen = 4096

	retryBaseDelay = 100 * time.Millisecond
	retryCapDelay  = 5 * time.Second
	retryJitter    = 50 * time.Millisecond
)

// ErrConcurrencyLimitReached signals the Engine declined to start an
// execution because the owning workflow is already at its concurrency
// limit (spec §4.5 "Bounded concurrency"). Run requeues the work item
// itself before returning this error; callers need not retry it.
var ErrConcurrencyLimitReached = errors.New("workflow concurrency limit reached")

// ActionContext accumulates state visible to later actions' conditions
// and handlers (spec §4.5 step 2d).
type ActionContext map[string]any

// ActionHandler executes one WorkflowAction. Returning an error wrapped
// with Retriable requests the engine's backoff loop (spec §4.5e); any
// other error is treated as non-retriable.
type ActionHandler interface {
	Handle(ctx context.Context, action *model.WorkflowAction, actionCtx ActionContext) (map[string]any, error)
}

// HandlerRegistry resolves the handler bound to a WorkflowAction's type.
type HandlerRegistry interface {
	Handler(actionType string) (ActionHandler, bool)
}

// WorkflowSource loads a Workflow definition and its ordered actions.
type WorkflowSource interface {
	Get(ctx context.Context, id model.ID) (*model.Workflow, error)
	ActionsFor(ctx context.Context, workflowID model.ID) ([]*model.WorkflowAction, error)
}

// ExecutionStore persists WorkflowExecution transitions and logs.
type ExecutionStore interface {
	SetRunning(ctx context.Context, id model.ID) error
	SetTerminal(ctx context.Context, id model.ID, status model.ExecutionStatus, result map[string]any, errMsg string) error
	AppendLog(ctx context.Context, l *model.ExecutionLog) error
	Create(ctx context.Context, exec *model.WorkflowExecution) error
	CountRunning(ctx context.Context, workflowID model.ID) (int, error)
}

// Enqueuer hands a work item to the broker, used both for the retry edge
// and for returning a throttled item to pending.
type Enqueuer interface {
	Enqueue(ctx context.Context, item *queue.Item, priority int) error
}

// Engine runs one WorkflowExecution's action loop end to end.
type Engine struct {
	workflows  WorkflowSource
	executions ExecutionStore
	handlers   HandlerRegistry
	authorizer authz.Authorizer
	audit      *authz.AuditLogger
	eval       *predicate.Evaluator
	queue      Enqueuer

	metrics *monitoring.ExecutionMetrics
	tracer  trace.Tracer
}

// Option configures ambient observability on an Engine. Omitting every
// option yields a fully functional Engine with no-op instrumentation, so
// existing call sites never need to change.
type Option func(*Engine)

// WithMetrics attaches the per-action counters and duration histogram
// (spec.md's DOMAIN STACK binding of prometheus/client_golang to the
// Engine's stats).
func WithMetrics(m *monitoring.ExecutionMetrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithTracer attaches the tracer the per-action loop starts spans
// against (spec.md's DOMAIN STACK binding of go.opentelemetry.io/otel to
// a per-action span around the Engine's per-action loop, §4.5).
func WithTracer(t trace.Tracer) Option {
	return func(e *Engine) { e.tracer = t }
}

func New(
	workflows WorkflowSource,
	executions ExecutionStore,
	handlers HandlerRegistry,
	authorizer authz.Authorizer,
	audit *authz.AuditLogger,
	eval *predicate.Evaluator,
	q Enqueuer,
	opts ...Option,
) *Engine {
	e := &Engine{
		workflows:  workflows,
		executions: executions,
		handlers:   handlers,
		authorizer: authorizer,
		audit:      audit,
		eval:       eval,
		queue:      q,
		tracer:     nooptrace.NewTracerProvider().Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// retriable wraps an error to mark it eligible for the action retry loop
// (spec §4.5e: "network, rate-limit, 5xx").
type retriable struct{ error }

// Retriable marks err as retriable by the action loop. Handlers call this
// around transient failures (connection resets, HTTP 429/5xx, provider
// fallback exhaustion) so the engine backs off and retries instead of
// failing the execution on the first attempt.
func Retriable(err error) error {
	if err == nil {
		return nil
	}
	return retriable{err}
}

func isRetriable(err error) bool {
	var r retriable
	if errors.As(err, &r) {
		return true
	}
	return errors.Is(err, apperr.ErrProviderUnavailable) || errors.Is(err, apperr.ErrQueueUnavailable)
}

// Run advances execution through the state machine until it reaches a
// terminal status, or returns ErrConcurrencyLimitReached without having
// mutated execution at all (spec §4.5 "Bounded concurrency": the engine
// refuses to start, it does not fail the execution).
func (e *Engine) Run(ctx context.Context, item *queue.Item, execution *model.WorkflowExecution) error {
	log := logctx.FromContext(ctx)
	workflow, err := e.workflows.Get(ctx, execution.WorkflowID)
	if err != nil {
		return fmt.Errorf("load workflow: %w", err)
	}

	running, err := e.executions.CountRunning(ctx, workflow.ID)
	if err != nil {
		return fmt.Errorf("count running executions: %w", err)
	}
	if running >= workflow.ConcurrencyLimit() {
		lowered := model.ClampPriority(item.Priority - 1)
		if requeueErr := e.queue.Enqueue(ctx, item, lowered); requeueErr != nil {
			return fmt.Errorf("requeue throttled item: %w", requeueErr)
		}
		log.Warn("workflow concurrency limit reached, requeued",
			"workflow_id", workflow.ID.String(), "execution_id", execution.ID.String())
		return ErrConcurrencyLimitReached
	}

	if err := e.executions.SetRunning(ctx, execution.ID); err != nil {
		return fmt.Errorf("mark execution running: %w", err)
	}

	actions, err := e.workflows.ActionsFor(ctx, workflow.ID)
	if err != nil {
		return e.fail(ctx, execution, fmt.Sprintf("load actions: %v", err))
	}

	deadline := execution.StartedAt.Add(workflow.Timeout())
	if d := execution.StartedAt.Add(hardCeiling); d.Before(deadline) {
		deadline = d
	}
	runCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	actionCtx := ActionContext{}
	for _, action := range actions {
		status, stop := e.runAction(runCtx, workflow, execution, action, actionCtx)
		if stop {
			return e.transition(ctx, execution, status, actionCtx, "")
		}
	}
	return e.transition(ctx, execution, model.ExecCompleted, actionCtx, "")
}

// runAction executes one action's full lifecycle (skip/authorize/invoke
// with retry/timeout/cancel) and reports whether the loop should stop,
// along with the terminal status to apply when it does.
func (e *Engine) runAction(
	ctx context.Context,
	workflow *model.Workflow,
	execution *model.WorkflowExecution,
	action *model.WorkflowAction,
	actionCtx ActionContext,
) (model.ExecutionStatus, bool) {
	matched, err := e.eval.Allow(action.Conditions, map[string]any{
		"context": map[string]any(actionCtx),
		"trigger": execution.TriggerData,
	})
	if err != nil {
		e.log(ctx, execution, model.LogError, fmt.Sprintf("condition evaluation failed: %v", err), action)
		return model.ExecFailed, true
	}
	if !matched {
		return "", false
	}

	allowed, err := e.authorizer.Authorize(ctx, authz.Request{
		UserID:       derefID(workflow.CreatedBy),
		ResourceType: "workflow_action",
		ResourceID:   action.ID.String(),
		Action:       "execute",
	})
	reason := ""
	if err != nil {
		reason = sanitize.Err(err)
		allowed = false
	}
	e.audit.Log(ctx, authz.AuditEvent{
		Timestamp: time.Now().UTC(),
		Subject:   derefID(workflow.CreatedBy),
		Resource:  "workflow_action:" + action.ID.String(),
		Action:    "execute",
		Granted:   allowed,
		Reason:    reason,
	})
	if !allowed {
		e.log(ctx, execution, model.LogError, "authorization denied", action)
		return model.ExecFailed, true
	}

	timeout := action.Timeout()
	if wt := workflow.Timeout(); wt < timeout {
		timeout = wt
	}
	if remaining := time.Until(deadlineOf(ctx)); remaining < timeout {
		timeout = remaining
	}
	if timeout <= 0 {
		e.log(ctx, execution, model.LogError, "deadline exceeded before action start", action)
		return model.ExecTimeout, true
	}

	actionCtx2, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	spanCtx, span := e.tracer.Start(actionCtx2, "engine.action", trace.WithAttributes(
		attribute.String("workflow_id", workflow.ID.String()),
		attribute.String("action_id", action.ID.String()),
		attribute.String("action_type", action.ActionType),
	))
	defer span.End()

	e.metrics.RecordStart(spanCtx, action.ActionType)
	invokeStart := time.Now()
	output, err := e.invokeWithRetry(spanCtx, action, actionCtx)
	e.metrics.RecordOutcome(spanCtx, action.ActionType, err == nil, time.Since(invokeStart))
	if err != nil {
		span.RecordError(err)
	}
	switch {
	case err == nil:
		e.log(ctx, execution, model.LogInfo, fmt.Sprintf("action %q completed", action.ActionName), action)
		for k, v := range output {
			actionCtx[k] = v
		}
		actionCtx[action.ActionName] = output
		return "", false
	case errors.Is(actionCtx2.Err(), context.DeadlineExceeded):
		e.log(ctx, execution, model.LogError, fmt.Sprintf("action %q timed out", action.ActionName), action)
		return model.ExecTimeout, true
	case errors.Is(actionCtx2.Err(), context.Canceled):
		e.log(ctx, execution, model.LogError, fmt.Sprintf("action %q cancelled", action.ActionName), action)
		return model.ExecCancelled, true
	default:
		msg := sanitize.Truncate(sanitize.Err(err), errMessageMaxLen)
		e.log(ctx, execution, model.LogError, msg, action)
		if action.ContinueOnError {
			return "", false
		}
		return model.ExecFailed, true
	}
}

// invokeWithRetry runs the handler, retrying with backoff+jitter while
// the handler reports a retriable error (spec §4.5e, grounded on the
// teacher's sethvargo/go-retry usage in engine/auth/org/service.go).
func (e *Engine) invokeWithRetry(ctx context.Context, action *model.WorkflowAction, actionCtx ActionContext) (map[string]any, error) {
	handler, ok := e.handlers.Handler(action.ActionType)
	if !ok {
		return nil, fmt.Errorf("%w: no handler registered for action type %q", apperr.ErrInvalidRequest, action.ActionType)
	}
	backoff := retry.NewExponential(retryBaseDelay)
	backoff = retry.WithCappedDuration(retryCapDelay, backoff)
	backoff = retry.WithJitter(retryJitter, backoff)
	backoff = retry.WithMaxRetries(uint64(action.MaxRetriesOrDefault()), backoff)

	var output map[string]any
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		out, err := handler.Handle(ctx, action, actionCtx)
		if err != nil {
			if isRetriable(err) {
				return retry.RetryableError(err)
			}
			return err
		}
		output = out
		return nil
	})
	return output, err
}

func (e *Engine) transition(
	ctx context.Context,
	execution *model.WorkflowExecution,
	status model.ExecutionStatus,
	actionCtx ActionContext,
	errMsg string,
) error {
	var result map[string]any
	if status == model.ExecCompleted {
		result = map[string]any(actionCtx)
	}
	return e.executions.SetTerminal(ctx, execution.ID, status, result, errMsg)
}

func (e *Engine) fail(ctx context.Context, execution *model.WorkflowExecution, errMsg string) error {
	return e.executions.SetTerminal(ctx, execution.ID, model.ExecFailed, nil, sanitize.Truncate(errMsg, errMessageMaxLen))
}

func (e *Engine) log(ctx context.Context, execution *model.WorkflowExecution, level model.LogLevel, message string, action *model.WorkflowAction) {
	id, err := model.NewID()
	if err != nil {
		return
	}
	entry := &model.ExecutionLog{
		ID:          id,
		ExecutionID: execution.ID,
		Level:       level,
		Message:     message,
		CreatedAt:   time.Now().UTC(),
	}
	if action != nil {
		actionID := action.ID
		entry.ActionID = &actionID
		entry.StepName = action.ActionName
	}
	if err := e.executions.AppendLog(ctx, entry); err != nil {
		logctx.FromContext(ctx).Warn("append execution log failed", "error", sanitize.Err(err))
	}
}

func derefID(id *model.ID) model.ID {
	if id == nil {
		return ""
	}
	return *id
}

func deadlineOf(ctx context.Context) time.Time {
	d, ok := ctx.Deadline()
	if !ok {
		return time.Now().Add(hardCeiling)
	}
	return d
}

// RetryExecution implements the retry edge of spec §4.5: it writes a
// fresh WorkflowExecution row with parent_execution_id = prior.ID rather
// than mutating the (already terminal) prior row, and re-enqueues a work
// item for it. prior must already be terminal.
func (e *Engine) RetryExecution(ctx context.Context, prior *model.WorkflowExecution, priority int) (*model.WorkflowExecution, error) {
	if !prior.Status.IsTerminal() {
		return nil, fmt.Errorf("%w: execution %s is not terminal", apperr.ErrInvalidRequest, prior.ID)
	}
	execID, err := model.NewID()
	if err != nil {
		return nil, fmt.Errorf("generate execution id: %w", err)
	}
	next := &model.WorkflowExecution{
		ID:                execID,
		WorkflowID:        prior.WorkflowID,
		ExecutionID:       execID.String(),
		Status:            model.ExecPending,
		StartedAt:         time.Now().UTC(),
		RetryCount:        prior.RetryCount + 1,
		ParentExecutionID: &prior.ID,
		TriggerType:       prior.TriggerType,
		TriggerData:       prior.TriggerData,
	}
	if err := e.executions.Create(ctx, next); err != nil {
		return nil, err
	}
	itemID, err := model.NewID()
	if err != nil {
		return nil, fmt.Errorf("generate work item id: %w", err)
	}
	item := &queue.Item{ID: itemID, ExecutionID: next.ID}
	if err := e.queue.Enqueue(ctx, item, model.ClampPriority(priority)); err != nil {
		return nil, err
	}
	return next, nil
}
