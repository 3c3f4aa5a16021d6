package model

import "time"

// Priority levels for QueuedWorkItem (spec §4.4 "Priority policy").
const (
	PriorityLow      = 1
	PriorityNormal   = 5
	PriorityHigh     = 8
	PriorityCritical = 10
)

// ClampPriority folds an arbitrary priority into the valid [1,10] range.
func ClampPriority(p int) int {
	if p < 1 {
		return 1
	}
	if p > 10 {
		return 10
	}
	return p
}

// QueuedWorkItem is a unit of work brokered by the Queue between the
// Dispatcher and execution workers.
type QueuedWorkItem struct {
	ID                  ID         `json:"id"`
	ExecutionID         ID         `json:"execution_id"`
	Priority            int        `json:"priority"`
	CreatedAt           time.Time  `json:"created_at"`
	AssignedWorker      string     `json:"assigned_worker,omitempty"`
	ProcessingStartedAt *time.Time `json:"processing_started_at,omitempty"`
	RetryCount          int        `json:"retry_count"`
	MaxRetries          int        `json:"max_retries"`
	EstimatedConfidence float64    `json:"estimated_confidence,omitempty"`
	Payload             []byte     `json:"payload,omitempty"`
}

// LLMProviderRecord is the in-memory handle the Provider Registry returns
// from Create (spec §4.2).
type LLMProviderRecord struct {
	Name          string
	DefaultModel  string
	APIKeyEnv     string
	BaseURL       string
	Available     bool
	ClientHandle  any
}
