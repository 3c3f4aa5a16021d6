// Package authz defines the Authorization collaborator interface the
// Execution Engine calls before every action (spec §4.9). The core
// consumes this interface but does not implement a policy engine; the
// audit logger here is the one concrete piece the core owns.
package authz

import (
	"context"
	"time"

	"github.com/reviewforge/engine/internal/logctx"
	"github.com/reviewforge/engine/internal/model"
	"github.com/reviewforge/engine/internal/sanitize"
)

// Request describes the subject, resource, and action an Authorizer
// decides over.
type Request struct {
	UserID       model.ID
	Roles        []string
	Permissions  []string
	ResourceType string
	ResourceID   string
	Action       string
}

// Authorizer is the collaborator interface the Engine calls before each
// action (spec §4.9). The engine package never constructs one directly;
// callers inject a concrete implementation at process wiring time.
type Authorizer interface {
	Authorize(ctx context.Context, req Request) (bool, error)
}

// AllowAll authorizes every request; it exists for process wiring that
// has not yet configured a real policy engine (e.g. local development).
type AllowAll struct{}

func (AllowAll) Authorize(context.Context, Request) (bool, error) { return true, nil }

// AuditEvent records one authorization decision for the audit logger
// (spec §4.9 "an audit logger that records each decision").
type AuditEvent struct {
	Timestamp time.Time
	Subject   model.ID
	Resource  string
	Action    string
	Granted   bool
	Reason    string
}

// AuditLogger records authorization decisions. It logs through the
// ambient structured logger rather than a dedicated audit store, matching
// the teacher's own audit.Service (engine/auth/audit in the source
// corpus), which logs structured events rather than persisting them.
type AuditLogger struct{}

func NewAuditLogger() *AuditLogger { return &AuditLogger{} }

// Log records an authorization decision. The reason is sanitized before
// it reaches the logger, since it may echo back attacker-controlled
// resource identifiers or error text.
func (l *AuditLogger) Log(ctx context.Context, ev AuditEvent) {
	log := logctx.FromContext(ctx)
	fields := []any{
		"subject", ev.Subject.String(),
		"resource", ev.Resource,
		"action", ev.Action,
		"granted", ev.Granted,
		"timestamp", ev.Timestamp,
	}
	if ev.Reason != "" {
		fields = append(fields, "reason", sanitize.String(ev.Reason))
	}
	if ev.Granted {
		log.With(fields...).Info("authorization decision")
		return
	}
	log.With(fields...).Warn("authorization decision")
}
