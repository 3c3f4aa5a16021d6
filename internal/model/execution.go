package model

import "time"

// ExecutionStatus is the WorkflowExecution state machine position (spec
// §4.5). Terminal states are Completed, Failed, Timeout, and Cancelled.
type ExecutionStatus string

const (
	ExecPending   ExecutionStatus = "pending"
	ExecRunning   ExecutionStatus = "running"
	ExecCompleted ExecutionStatus = "completed"
	ExecFailed    ExecutionStatus = "failed"
	ExecTimeout   ExecutionStatus = "timeout"
	ExecCancelled ExecutionStatus = "cancelled"
)

// IsTerminal reports whether status is one that freezes the row except via
// the retry edge (a fresh child row).
func (s ExecutionStatus) IsTerminal() bool {
	switch s {
	case ExecCompleted, ExecFailed, ExecTimeout, ExecCancelled:
		return true
	default:
		return false
	}
}

// WorkflowExecution is one attempt to run a Workflow end to end.
type WorkflowExecution struct {
	ID                 ID              `db:"id,pk"                   json:"id"`
	WorkflowID         ID              `db:"workflow_id"             json:"workflow_id"`
	ExecutionID        string          `db:"execution_id,unique"     json:"execution_id"`
	Status             ExecutionStatus `db:"status"                  json:"status"`
	StartedAt          time.Time       `db:"started_at"              json:"started_at"`
	CompletedAt        *time.Time      `db:"completed_at"            json:"completed_at,omitempty"`
	Result             map[string]any  `db:"result"                  json:"result,omitempty"`
	ErrorMessage        string          `db:"error_message"           json:"error_message,omitempty"`
	RetryCount         int             `db:"retry_count"             json:"retry_count"`
	ParentExecutionID  *ID             `db:"parent_execution_id"     json:"parent_execution_id,omitempty"`
	TriggerType        string          `db:"trigger_type"            json:"trigger_type,omitempty"`
	TriggerData        map[string]any  `db:"trigger_data"            json:"trigger_data,omitempty"`
}

// Valid enforces the monotonicity invariant of spec §3/§8.1:
// completed_at is either unset, or not before started_at.
func (e *WorkflowExecution) Valid() bool {
	if e.CompletedAt == nil {
		return true
	}
	return !e.CompletedAt.Before(e.StartedAt)
}

// LogLevel is the severity of an ExecutionLog entry.
type LogLevel string

const (
	LogDebug    LogLevel = "DEBUG"
	LogInfo     LogLevel = "INFO"
	LogWarning  LogLevel = "WARNING"
	LogError    LogLevel = "ERROR"
	LogCritical LogLevel = "CRITICAL"
)

// ExecutionLog is an append-only log line scoped to a WorkflowExecution,
// optionally attributed to one action step.
type ExecutionLog struct {
	ID          ID             `db:"id,pk"         json:"id"`
	ExecutionID ID             `db:"execution_id"  json:"execution_id"`
	Level       LogLevel       `db:"level"          json:"level"`
	Message     string         `db:"message"        json:"message"`
	Metadata    map[string]any `db:"metadata"       json:"metadata,omitempty"`
	ActionID    *ID            `db:"action_id"      json:"action_id,omitempty"`
	StepName    string         `db:"step_name"      json:"step_name,omitempty"`
	CreatedAt   time.Time      `db:"created_at"     json:"created_at"`
}
