package model

import "time"

// IntegrationHealth is the last observed health of an external Integration.
type IntegrationHealth string

const (
	HealthHealthy   IntegrationHealth = "healthy"
	HealthDegraded  IntegrationHealth = "degraded"
	HealthUnhealthy IntegrationHealth = "unhealthy"
	HealthUnknown   IntegrationHealth = "unknown"
)

// Integration is a configured external code-host or notification system.
type Integration struct {
	ID                    ID                `db:"id,pk"                  json:"id"`
	Name                  string            `db:"name,unique"            json:"name"`
	Type                  string            `db:"type"                   json:"type"`
	Config                map[string]any    `db:"config"                 json:"config"`
	Enabled               bool              `db:"enabled"                json:"enabled"`
	HealthStatus          IntegrationHealth `db:"health_status"          json:"health_status"`
	LastHealthCheck       *time.Time        `db:"last_health_check"      json:"last_health_check,omitempty"`
	CredentialsEncrypted  []byte            `db:"credentials_encrypted"  json:"-"`
}

// IntegrationEventStatus tracks the processing lifecycle of one inbound
// vendor event, independent of the Queue's own sub-queue membership.
type IntegrationEventStatus string

const (
	IntegrationEventPending    IntegrationEventStatus = "pending"
	IntegrationEventProcessing IntegrationEventStatus = "processing"
	IntegrationEventCompleted  IntegrationEventStatus = "completed"
	IntegrationEventFailed     IntegrationEventStatus = "failed"
	IntegrationEventIgnored    IntegrationEventStatus = "ignored"
)

// IntegrationEvent is a raw inbound webhook event persisted for audit and
// dedup purposes (spec §3, §4.6).
type IntegrationEvent struct {
	ID            ID                     `db:"id,pk"          json:"id"`
	IntegrationID ID                     `db:"integration_id" json:"integration_id"`
	EventType     string                 `db:"event_type"     json:"event_type"`
	EventID       string                 `db:"event_id"       json:"event_id,omitempty"`
	Payload       map[string]any         `db:"payload"        json:"payload"`
	Status        IntegrationEventStatus `db:"status"          json:"status"`
	ProcessedAt   *time.Time             `db:"processed_at"   json:"processed_at,omitempty"`
	ErrorMessage  string                 `db:"error_message"  json:"error_message,omitempty"`
	RetryCount    int                    `db:"retry_count"    json:"retry_count"`
	CreatedAt     time.Time              `db:"created_at"     json:"created_at"`
}
