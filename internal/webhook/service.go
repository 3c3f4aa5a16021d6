// Package webhook implements spec §4.6's intake responsibility: verify
// an inbound signature, persist the raw event, run comment admission
// when the event is comment-shaped, and enqueue a work item for the
// Dispatcher.
package webhook

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/go-github/v74/github"

	"github.com/reviewforge/engine/internal/apperr"
	"github.com/reviewforge/engine/internal/commenter"
	"github.com/reviewforge/engine/internal/logctx"
	"github.com/reviewforge/engine/internal/model"
	"github.com/reviewforge/engine/internal/queue"
	"github.com/reviewforge/engine/internal/sanitize"
	"github.com/reviewforge/engine/internal/webhook/verify"
)

// EventRepo persists IntegrationEvent rows.
type EventRepo interface {
	Create(ctx context.Context, e *model.IntegrationEvent) error
}

// Enqueuer is the subset of Queue the Service requires.
type Enqueuer interface {
	Enqueue(ctx context.Context, item *queue.Item, priority int) error
}

// CommentAdmitter is the subset of commenter.Service the Service
// requires for comment-shaped events.
type CommentAdmitter interface {
	Admit(ctx context.Context, username string) (allowed bool, autoReply string, err error)
}

// CommentPoster delivers the auto-reply side effect admission denial can
// produce (spec §4.6: "enqueue an outbound auto-reply side effect").
// Satisfied by internal/outbound.GitHubCommenter.
type CommentPoster interface {
	PostComment(ctx context.Context, integrationID, resourceID, body string) error
}

// Service ties together signature verification, event persistence,
// comment admission, and queue hand-off (spec §4.6).
type Service struct {
	events    EventRepo
	queue     Enqueuer
	commenter CommentAdmitter
	poster    CommentPoster
}

// NewService wires a Service. poster may be nil, in which case a denied
// comment's auto-reply is computed but never delivered (matching a
// deployment with no outbound credentials configured).
func NewService(events EventRepo, q Enqueuer, c CommentAdmitter, poster CommentPoster) *Service {
	return &Service{events: events, queue: q, commenter: c, poster: poster}
}

// CommentEnvelope is the minimal shape the Service recognizes as a
// pull-request comment event, per spec §4.6's "events whose shape is a
// comment referencing a pull request".
type CommentEnvelope struct {
	Comment *struct {
		Username string `json:"username"`
	} `json:"comment"`
	PullRequest *struct {
		Number int `json:"number"`
	} `json:"pull_request"`
	Repository *struct {
		FullName string `json:"full_name"`
	} `json:"repository"`
}

// resourceID formats env's repository and pull request number as the
// "owner/repo#number" shape outbound.GitHubCommenter.PostComment expects,
// or "" if either half is missing.
func (env *CommentEnvelope) resourceID() string {
	if env.Repository == nil || env.Repository.FullName == "" || env.PullRequest == nil {
		return ""
	}
	return fmt.Sprintf("%s#%d", env.Repository.FullName, env.PullRequest.Number)
}

// Result reports what Intake decided, for the HTTP handler to translate
// into a response.
type Result struct {
	Enqueued  bool
	AutoReply string
}

// IntakeRecord is the shape Intake enqueues for the Dispatcher to consume
// (spec §4.6: "Consume webhook/event records from the Queue"). It carries
// the dispatch context the raw payload alone cannot (which integration,
// which external event id, which event type to match triggers against).
// The same queue.Item type also carries execution-ready work items (those
// with ExecutionID set instead of Payload); a worker tells the two apart
// by whether ExecutionID is zero, and unmarshals Payload as IntakeRecord
// only in that case.
type IntakeRecord struct {
	IntegrationID model.ID       `json:"integration_id"`
	EventType     string         `json:"event_type"`
	EventID       string         `json:"event_id"`
	Payload       map[string]any `json:"payload"`
}

// Intake runs the full admission pipeline for one verified webhook
// delivery: persist the event, apply comment admission when applicable,
// and enqueue a work item for the Dispatcher. Signature verification is
// the caller's responsibility (see verify.Verifier) since it must run
// against the raw, unparsed body before Intake ever sees structured
// data.
func (s *Service) Intake(
	ctx context.Context,
	integrationID model.ID,
	eventType, eventID string,
	payload map[string]any,
) (*Result, error) {
	id, err := model.NewID()
	if err != nil {
		return nil, fmt.Errorf("generate event id: %w", err)
	}
	evt := &model.IntegrationEvent{
		ID:            id,
		IntegrationID: integrationID,
		EventType:     eventType,
		EventID:       eventID,
		Payload:       payload,
		Status:        model.IntegrationEventPending,
	}

	if env, ok := commentEnvelope(eventType, payload); ok {
		allowed, autoReply, err := s.commenter.Admit(ctx, env.Comment.Username)
		if err != nil {
			return nil, err
		}
		if !allowed {
			evt.Status = model.IntegrationEventIgnored
			if err := s.events.Create(ctx, evt); err != nil {
				return nil, err
			}
			if autoReply != "" {
				s.deliverAutoReply(ctx, integrationID, env, autoReply)
			}
			return &Result{Enqueued: false, AutoReply: autoReply}, nil
		}
	}

	if err := s.events.Create(ctx, evt); err != nil {
		return nil, err
	}

	raw, err := json.Marshal(IntakeRecord{
		IntegrationID: integrationID,
		EventType:     eventType,
		EventID:       eventID,
		Payload:       payload,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: marshal payload: %w", apperr.ErrInvalidRequest, err)
	}
	itemID, err := model.NewID()
	if err != nil {
		return nil, fmt.Errorf("generate work item id: %w", err)
	}
	item := &queue.Item{ID: itemID, Payload: raw}
	if err := s.queue.Enqueue(ctx, item, model.PriorityNormal); err != nil {
		return nil, err
	}
	return &Result{Enqueued: true}, nil
}

// deliverAutoReply posts a denied commenter's auto-reply as a PR comment.
// Best-effort: a missing poster or an unresolvable resource id silently
// skips delivery, and a posting failure is logged rather than failing the
// intake request the reply was computed alongside.
func (s *Service) deliverAutoReply(ctx context.Context, integrationID model.ID, env *CommentEnvelope, message string) {
	if s.poster == nil {
		return
	}
	resourceID := env.resourceID()
	if resourceID == "" {
		return
	}
	if err := s.poster.PostComment(ctx, integrationID.String(), resourceID, message); err != nil {
		logctx.FromContext(ctx).Warn("webhook: auto-reply delivery failed", "error", sanitize.Err(err))
	}
}

// NewVerifier is a thin indirection so callers build a verify.Verifier
// from per-integration config without this package importing net/http
// for anything beyond what verify already needs.
func NewVerifier(cfg verify.Config) (verify.Verifier, error) {
	return verify.New(cfg)
}

// commentEnvelope recognizes a pull-request comment event. GitHub's own
// "issue_comment" shape is parsed with go-github's typed event struct;
// every other event type falls back to the generic CommentEnvelope shape
// so integrations that don't speak GitHub's wire format still admit.
func commentEnvelope(eventType string, payload map[string]any) (*CommentEnvelope, bool) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, false
	}
	if eventType == "issue_comment" {
		if env, ok := githubCommentEnvelope(raw); ok {
			return env, true
		}
	}
	var env CommentEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, false
	}
	if env.Comment == nil || env.Comment.Username == "" || env.PullRequest == nil {
		return nil, false
	}
	return &env, true
}

// githubCommentEnvelope parses raw as a GitHub IssueCommentEvent and
// extracts the commenter and pull request number. Comments on plain
// issues (no PullRequestLinks) are not pull-request comments and are
// reported as not matching.
func githubCommentEnvelope(raw []byte) (*CommentEnvelope, bool) {
	var evt github.IssueCommentEvent
	if err := json.Unmarshal(raw, &evt); err != nil {
		return nil, false
	}
	if evt.GetComment() == nil || evt.GetIssue() == nil || evt.GetIssue().GetPullRequestLinks() == nil {
		return nil, false
	}
	username := evt.GetComment().GetUser().GetLogin()
	if username == "" {
		return nil, false
	}
	env := &CommentEnvelope{}
	env.Comment = &struct {
		Username string `json:"username"`
	}{Username: username}
	env.PullRequest = &struct {
		Number int `json:"number"`
	}{Number: evt.GetIssue().GetNumber()}
	if fullName := evt.GetRepo().GetFullName(); fullName != "" {
		env.Repository = &struct {
			FullName string `json:"full_name"`
		}{FullName: fullName}
	}
	return env, true
}
