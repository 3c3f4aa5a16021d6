package store

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reviewforge/engine/internal/apperr"
	"github.com/reviewforge/engine/internal/model"
)

// newMockStore builds a Store backed by a pgxmock pool, following the
// teacher's MockDBInterface/pgxmock.NewPool pattern
// (engine/auth/user/service_test.go) rather than a live PostgreSQL
// connection.
func newMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mockPool.Close)
	return NewForTesting(mockPool), mockPool
}

func TestWorkflowRepo_Get(t *testing.T) {
	t.Run("Should return the matching workflow row", func(t *testing.T) {
		s, mock := newMockStore(t)
		repo := NewWorkflowRepo(s)
		id := model.MustNewID()
		now := time.Now().UTC()

		rows := pgxmock.NewRows(
			[]string{"id", "name", "description", "status", "config", "created_by", "created_at", "updated_at"},
		).AddRow(id, "pr-review", "", model.WorkflowActive, map[string]any{}, nil, now, now)
		mock.ExpectQuery("SELECT (.+) FROM workflows WHERE id = \\$1").
			WithArgs(id).
			WillReturnRows(rows)

		wf, err := repo.Get(context.Background(), id)

		require.NoError(t, err)
		assert.Equal(t, id, wf.ID)
		assert.Equal(t, "pr-review", wf.Name)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Should wrap ErrNotFound when no row matches", func(t *testing.T) {
		s, mock := newMockStore(t)
		repo := NewWorkflowRepo(s)
		id := model.MustNewID()

		mock.ExpectQuery("SELECT (.+) FROM workflows WHERE id = \\$1").
			WithArgs(id).
			WillReturnError(pgx.ErrNoRows)

		_, err := repo.Get(context.Background(), id)

		require.ErrorIs(t, err, apperr.ErrNotFound)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Should report ErrDbUnavailable without querying when the store is down", func(t *testing.T) {
		s := &Store{available: false}
		repo := NewWorkflowRepo(s)

		_, err := repo.Get(context.Background(), model.MustNewID())

		require.ErrorIs(t, err, apperr.ErrDbUnavailable)
	})
}

func TestWorkflowRepo_ActionsFor(t *testing.T) {
	t.Run("Should return actions ordered by order_index", func(t *testing.T) {
		s, mock := newMockStore(t)
		repo := NewWorkflowRepo(s)
		workflowID := model.MustNewID()
		a1, a2 := model.MustNewID(), model.MustNewID()

		rows := pgxmock.NewRows([]string{
			"id", "workflow_id", "action_type", "action_name", "config",
			"order_index", "conditions", "max_retries", "timeout_seconds", "continue_on_error",
		}).
			AddRow(a1, workflowID, "echo", "A1", map[string]any{}, 0, "", 3, 300, false).
			AddRow(a2, workflowID, "append", "A2", map[string]any{}, 1, "", 3, 300, false)
		mock.ExpectQuery("SELECT (.+) FROM workflow_actions WHERE workflow_id = \\$1 ORDER BY order_index ASC").
			WithArgs(workflowID).
			WillReturnRows(rows)

		actions, err := repo.ActionsFor(context.Background(), workflowID)

		require.NoError(t, err)
		require.Len(t, actions, 2)
		assert.Equal(t, a1, actions[0].ID)
		assert.Equal(t, a2, actions[1].ID)
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestExecutionRepo_CreateAndSetRunning(t *testing.T) {
	t.Run("Should insert a pending execution then transition it to running", func(t *testing.T) {
		s, mock := newMockStore(t)
		repo := NewExecutionRepo(s)
		exec := &model.WorkflowExecution{
			ID:          model.MustNewID(),
			WorkflowID:  model.MustNewID(),
			ExecutionID: "run-1",
			Status:      model.ExecPending,
			StartedAt:   time.Now().UTC(),
			TriggerType: string(model.TriggerWebhook),
		}

		mock.ExpectExec("INSERT INTO workflow_executions").
			WithArgs(
				exec.ID, exec.WorkflowID, exec.ExecutionID, exec.Status, exec.StartedAt,
				exec.RetryCount, exec.ParentExecutionID, exec.TriggerType, exec.TriggerData,
			).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		require.NoError(t, repo.Create(context.Background(), exec))

		mock.ExpectExec("UPDATE workflow_executions SET status").
			WithArgs(exec.ID).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))
		require.NoError(t, repo.SetRunning(context.Background(), exec.ID))

		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Should reject SetRunning when no pending row matched", func(t *testing.T) {
		s, mock := newMockStore(t)
		repo := NewExecutionRepo(s)
		id := model.MustNewID()

		mock.ExpectExec("UPDATE workflow_executions SET status").
			WithArgs(id).
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))

		err := repo.SetRunning(context.Background(), id)

		require.ErrorIs(t, err, apperr.ErrConflict)
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestExecutionRepo_SetTerminal(t *testing.T) {
	t.Run("Should reject a non-terminal target status", func(t *testing.T) {
		s, _ := newMockStore(t)
		repo := NewExecutionRepo(s)

		err := repo.SetTerminal(context.Background(), model.MustNewID(), model.ExecRunning, nil, "")

		require.ErrorIs(t, err, apperr.ErrInvalidRequest)
	})

	t.Run("Should reject updating an execution that is already terminal", func(t *testing.T) {
		s, mock := newMockStore(t)
		repo := NewExecutionRepo(s)
		id := model.MustNewID()

		mock.ExpectExec("UPDATE workflow_executions SET status").
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))

		err := repo.SetTerminal(context.Background(), id, model.ExecCompleted, map[string]any{"ok": true}, "")

		require.ErrorIs(t, err, apperr.ErrConflict)
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestExecutionRepo_CountRunning(t *testing.T) {
	t.Run("Should return the running count for a workflow", func(t *testing.T) {
		s, mock := newMockStore(t)
		repo := NewExecutionRepo(s)
		workflowID := model.MustNewID()

		rows := pgxmock.NewRows([]string{"count"}).AddRow(3)
		mock.ExpectQuery("SELECT count\\(\\*\\) FROM workflow_executions WHERE").
			WithArgs(workflowID, model.ExecRunning).
			WillReturnRows(rows)

		count, err := repo.CountRunning(context.Background(), workflowID)

		require.NoError(t, err)
		assert.Equal(t, 3, count)
		require.NoError(t, mock.ExpectationsWereMet())
	})
}
