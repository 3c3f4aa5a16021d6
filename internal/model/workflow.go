package model

import "time"

// WorkflowStatus is the lifecycle state of a Workflow definition.
type WorkflowStatus string

const (
	WorkflowActive   WorkflowStatus = "active"
	WorkflowInactive WorkflowStatus = "inactive"
	WorkflowArchived WorkflowStatus = "archived"
	WorkflowDraft    WorkflowStatus = "draft"
)

// Workflow is a named, ordered sequence of actions triggered by events or
// schedules. It owns its Actions and Triggers.
type Workflow struct {
	ID          ID             `db:"id,pk"              json:"id"`
	Name        string         `db:"name,unique"        json:"name"         validate:"required,max=255"`
	Description string         `db:"description"        json:"description,omitempty"`
	Status      WorkflowStatus `db:"status"              json:"status"`
	Config      map[string]any `db:"config"              json:"config"`
	CreatedBy   *ID            `db:"created_by"          json:"created_by,omitempty"`
	CreatedAt   time.Time      `db:"created_at"          json:"created_at"`
	UpdatedAt   time.Time      `db:"updated_at"          json:"updated_at"`
}

// ConcurrencyLimit returns the per-workflow running-execution cap (spec
// §4.5), defaulting to 10 when unset or non-positive in Config.
func (w *Workflow) ConcurrencyLimit() int {
	if w.Config == nil {
		return 10
	}
	if v, ok := w.Config["concurrency_limit"]; ok {
		if n, ok := toInt(v); ok && n > 0 {
			return n
		}
	}
	return 10
}

// Timeout returns the workflow-level action deadline ceiling, defaulting to
// 300s and never exceeding the 3600s hard ceiling (spec §4.5b).
func (w *Workflow) Timeout() time.Duration {
	const def = 300 * time.Second
	const ceiling = 3600 * time.Second
	if w.Config == nil {
		return def
	}
	v, ok := w.Config["timeout_seconds"]
	if !ok {
		return def
	}
	n, ok := toInt(v)
	if !ok || n <= 0 {
		return def
	}
	d := time.Duration(n) * time.Second
	if d > ceiling {
		return ceiling
	}
	return d
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}

// WorkflowAction is a single unit of work within a Workflow, identified by
// ActionType (a key into the action registry) and ordered by OrderIndex.
type WorkflowAction struct {
	ID              ID             `db:"id,pk"            json:"id"`
	WorkflowID      ID             `db:"workflow_id"      json:"workflow_id"`
	ActionType      string         `db:"action_type"      json:"action_type"      validate:"required"`
	ActionName      string         `db:"action_name"      json:"action_name"`
	Config          map[string]any `db:"config"            json:"config"`
	OrderIndex      int            `db:"order_index"      json:"order_index"      validate:"gte=0"`
	Conditions      string         `db:"conditions"        json:"conditions,omitempty"`
	MaxRetries      int            `db:"max_retries"       json:"max_retries"`
	TimeoutSeconds  int            `db:"timeout_seconds"   json:"timeout_seconds,omitempty"`
	ContinueOnError bool           `db:"continue_on_error" json:"continue_on_error"`
}

// Timeout returns the action-level deadline, defaulting to 300s (spec §4.5b).
func (a *WorkflowAction) Timeout() time.Duration {
	if a.TimeoutSeconds <= 0 {
		return 300 * time.Second
	}
	return time.Duration(a.TimeoutSeconds) * time.Second
}

// MaxRetriesOrDefault returns the per-action retry budget, defaulting to 3
// (spec §4.5e).
func (a *WorkflowAction) MaxRetriesOrDefault() int {
	if a.MaxRetries <= 0 {
		return 3
	}
	return a.MaxRetries
}

// TriggerType enumerates how a WorkflowTrigger is activated.
type TriggerType string

const (
	TriggerEvent    TriggerType = "event"
	TriggerSchedule TriggerType = "schedule"
	TriggerWebhook  TriggerType = "webhook"
	TriggerManual   TriggerType = "manual"
)

// WorkflowTrigger binds an event class (via a CEL predicate over the event
// envelope) to a Workflow.
type WorkflowTrigger struct {
	ID          ID          `db:"id,pk"         json:"id"`
	WorkflowID  ID          `db:"workflow_id"   json:"workflow_id"`
	TriggerType TriggerType `db:"trigger_type"  json:"trigger_type"`
	Conditions  string      `db:"conditions"     json:"conditions"`
	Enabled     bool        `db:"enabled"        json:"enabled"`
}
