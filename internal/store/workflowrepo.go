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

var psql = squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)

// WorkflowRepo persists Workflow, WorkflowAction, and WorkflowTrigger rows.
type WorkflowRepo struct {
	store *Store
}

func NewWorkflowRepo(s *Store) *WorkflowRepo { return &WorkflowRepo{store: s} }

// Get loads a Workflow by ID.
func (r *WorkflowRepo) Get(ctx context.Context, id model.ID) (*model.Workflow, error) {
	if !r.store.available {
		return nil, apperr.ErrDbUnavailable
	}
	query, args, err := psql.Select("id", "name", "description", "status", "config", "created_by", "created_at", "updated_at").
		From("workflows").Where(squirrel.Eq{"id": id}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	var wf model.Workflow
	if err := pgxscan.Get(ctx, r.store.pool, &wf, query, args...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: workflow %s", apperr.ErrNotFound, id)
		}
		return nil, fmt.Errorf("%w: %w", apperr.ErrDbUnavailable, err)
	}
	return &wf, nil
}

// ActionsFor loads a Workflow's actions ordered by order_index ascending
// (spec §4.5 step 1).
func (r *WorkflowRepo) ActionsFor(ctx context.Context, workflowID model.ID) ([]*model.WorkflowAction, error) {
	if !r.store.available {
		return nil, apperr.ErrDbUnavailable
	}
	query, args, err := psql.Select(
		"id", "workflow_id", "action_type", "action_name", "config",
		"order_index", "conditions", "max_retries", "timeout_seconds", "continue_on_error",
	).From("workflow_actions").
		Where(squirrel.Eq{"workflow_id": workflowID}).
		OrderBy("order_index ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	var actions []*model.WorkflowAction
	if err := pgxscan.Select(ctx, r.store.pool, &actions, query, args...); err != nil {
		return nil, fmt.Errorf("%w: %w", apperr.ErrDbUnavailable, err)
	}
	return actions, nil
}

// TriggersFor loads enabled WorkflowTrigger rows across all workflows whose
// trigger_type matches, used by the Dispatcher to find matching triggers
// (spec §4.6).
func (r *WorkflowRepo) TriggersByType(ctx context.Context, triggerType model.TriggerType) ([]*model.WorkflowTrigger, error) {
	if !r.store.available {
		return nil, apperr.ErrDbUnavailable
	}
	query, args, err := psql.Select("id", "workflow_id", "trigger_type", "conditions", "enabled").
		From("workflow_triggers").
		Where(squirrel.Eq{"trigger_type": triggerType, "enabled": true}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	var triggers []*model.WorkflowTrigger
	if err := pgxscan.Select(ctx, r.store.pool, &triggers, query, args...); err != nil {
		return nil, fmt.Errorf("%w: %w", apperr.ErrDbUnavailable, err)
	}
	return triggers, nil
}

// ScheduleTrigger is one enabled schedule-type trigger paired with the
// cron spec held in its side table. spec.md's WorkflowTrigger has no
// dedicated cron field, so a schedule trigger's cadence is stored
// separately, keyed by trigger_id, rather than overloading Conditions.
type ScheduleTrigger struct {
	TriggerID  model.ID `db:"id"`
	WorkflowID model.ID `db:"workflow_id"`
	CronSpec   string   `db:"cron_spec"`
}

// ScheduleTriggers loads every enabled schedule-type trigger joined with
// its cron spec, for internal/schedule.Scheduler to register on startup.
func (r *WorkflowRepo) ScheduleTriggers(ctx context.Context) ([]ScheduleTrigger, error) {
	if !r.store.available {
		return nil, apperr.ErrDbUnavailable
	}
	query, args, err := psql.Select("t.id", "t.workflow_id", "s.cron_spec").
		From("workflow_triggers t").
		Join("workflow_trigger_schedules s ON s.trigger_id = t.id").
		Where(squirrel.Eq{"t.trigger_type": model.TriggerSchedule, "t.enabled": true}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	var rows []ScheduleTrigger
	if err := pgxscan.Select(ctx, r.store.pool, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("%w: %w", apperr.ErrDbUnavailable, err)
	}
	return rows, nil
}

// ExecutionRepo persists WorkflowExecution and ExecutionLog rows.
type ExecutionRepo struct {
	store *Store
}

func NewExecutionRepo(s *Store) *ExecutionRepo { return &ExecutionRepo{store: s} }

// FindRecentByDedupKey looks up an existing execution for
// (integration_id, event_id) created within the dedup window, implementing
// the at-most-once guarantee of spec §4.6/§8.3.
func (r *ExecutionRepo) FindRecentByDedupKey(
	ctx context.Context,
	integrationID model.ID,
	eventID string,
	window time.Duration,
) (*model.WorkflowExecution, error) {
	if !r.store.available {
		return nil, apperr.ErrDbUnavailable
	}
	cutoff := time.Now().Add(-window)
	query, args, err := psql.Select(
		"id", "workflow_id", "execution_id", "status", "started_at", "completed_at",
		"result", "error_message", "retry_count", "parent_execution_id", "trigger_type", "trigger_data",
	).From("workflow_executions").
		Where(squirrel.And{
			squirrel.Expr("trigger_data->>'integration_id' = ?", integrationID.String()),
			squirrel.Expr("trigger_data->>'event_id' = ?", eventID),
			squirrel.GtOrEq{"started_at": cutoff},
		}).
		OrderBy("started_at DESC").
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	var exec model.WorkflowExecution
	if err := pgxscan.Get(ctx, r.store.pool, &exec, query, args...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %w", apperr.ErrDbUnavailable, err)
	}
	return &exec, nil
}

// Create inserts a new WorkflowExecution row.
func (r *ExecutionRepo) Create(ctx context.Context, exec *model.WorkflowExecution) error {
	if !r.store.available {
		return apperr.ErrDbUnavailable
	}
	query, args, err := psql.Insert("workflow_executions").
		Columns(
			"id", "workflow_id", "execution_id", "status", "started_at",
			"retry_count", "parent_execution_id", "trigger_type", "trigger_data",
		).
		Values(
			exec.ID, exec.WorkflowID, exec.ExecutionID, exec.Status, exec.StartedAt,
			exec.RetryCount, exec.ParentExecutionID, exec.TriggerType, exec.TriggerData,
		).ToSql()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}
	if _, err := r.store.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("%w: %w", apperr.ErrConflict, err)
	}
	return nil
}

// Get loads a WorkflowExecution by ID, used by worker processes to load
// the row a dequeued queue.Item refers to before running it.
func (r *ExecutionRepo) Get(ctx context.Context, id model.ID) (*model.WorkflowExecution, error) {
	if !r.store.available {
		return nil, apperr.ErrDbUnavailable
	}
	query, args, err := psql.Select(
		"id", "workflow_id", "execution_id", "status", "started_at", "completed_at",
		"result", "error_message", "retry_count", "parent_execution_id", "trigger_type", "trigger_data",
	).From("workflow_executions").Where(squirrel.Eq{"id": id}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	var exec model.WorkflowExecution
	if err := pgxscan.Get(ctx, r.store.pool, &exec, query, args...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: execution %s", apperr.ErrNotFound, id)
		}
		return nil, fmt.Errorf("%w: %w", apperr.ErrDbUnavailable, err)
	}
	return &exec, nil
}

// SetRunning transitions a pending execution to running.
func (r *ExecutionRepo) SetRunning(ctx context.Context, id model.ID) error {
	if !r.store.available {
		return apperr.ErrDbUnavailable
	}
	query, args, err := psql.Update("workflow_executions").
		Set("status", model.ExecRunning).
		Where(squirrel.Eq{"id": id, "status": model.ExecPending}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}
	tag, err := r.store.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%w: %w", apperr.ErrDbUnavailable, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: execution %s not pending", apperr.ErrConflict, id)
	}
	return nil
}

// CountRunning reports how many executions of workflowID are currently
// running, used by the Engine's bounded-concurrency gate (spec §4.5).
func (r *ExecutionRepo) CountRunning(ctx context.Context, workflowID model.ID) (int, error) {
	if !r.store.available {
		return 0, apperr.ErrDbUnavailable
	}
	query, args, err := psql.Select("count(*)").
		From("workflow_executions").
		Where(squirrel.Eq{"workflow_id": workflowID, "status": model.ExecRunning}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build query: %w", err)
	}
	var count int
	if err := pgxscan.Get(ctx, r.store.pool, &count, query, args...); err != nil {
		return 0, fmt.Errorf("%w: %w", apperr.ErrDbUnavailable, err)
	}
	return count, nil
}

// SetTerminal transitions an execution to a terminal status, setting
// completed_at (spec §8.1 monotonicity invariant). It never mutates a
// row that is already terminal.
func (r *ExecutionRepo) SetTerminal(
	ctx context.Context,
	id model.ID,
	status model.ExecutionStatus,
	result map[string]any,
	errMsg string,
) error {
	if !status.IsTerminal() {
		return fmt.Errorf("%w: %s is not a terminal status", apperr.ErrInvalidRequest, status)
	}
	if !r.store.available {
		return apperr.ErrDbUnavailable
	}
	now := time.Now().UTC()
	query, args, err := psql.Update("workflow_executions").
		Set("status", status).
		Set("completed_at", now).
		Set("result", result).
		Set("error_message", errMsg).
		Where(squirrel.And{
			squirrel.Eq{"id": id},
			squirrel.Expr("status NOT IN ('completed','failed','timeout','cancelled')"),
		}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}
	tag, err := r.store.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%w: %w", apperr.ErrDbUnavailable, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: execution %s already terminal or missing", apperr.ErrConflict, id)
	}
	return nil
}

// AppendLog inserts one ExecutionLog row.
func (r *ExecutionRepo) AppendLog(ctx context.Context, l *model.ExecutionLog) error {
	if !r.store.available {
		return apperr.ErrDbUnavailable
	}
	query, args, err := psql.Insert("execution_logs").
		Columns("id", "execution_id", "level", "message", "metadata", "action_id", "step_name", "created_at").
		Values(l.ID, l.ExecutionID, l.Level, l.Message, l.Metadata, l.ActionID, l.StepName, l.CreatedAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}
	if _, err := r.store.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("%w: %w", apperr.ErrDbUnavailable, err)
	}
	return nil
}
