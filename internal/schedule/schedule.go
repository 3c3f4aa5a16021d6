// Package schedule fires trigger_type=schedule WorkflowTrigger rows into
// the Dispatcher on a cron cadence, grounded on the example pack's
// robfig/cron scheduler shape (internal/app/scheduler in the elephant.ai
// example): one cron.Cron instance, SkipIfStillRunning so a slow tick
// never piles up concurrent fires of the same entry.
package schedule

import (
	"context"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/reviewforge/engine/internal/dispatcher"
	"github.com/reviewforge/engine/internal/logctx"
	"github.com/reviewforge/engine/internal/model"
	"github.com/reviewforge/engine/internal/sanitize"
)

// Dispatch matches dispatcher.Dispatcher's Dispatch method, kept as a
// narrow interface so tests don't need a full Dispatcher graph.
type Dispatch interface {
	Dispatch(ctx context.Context, triggerType model.TriggerType, env dispatcher.Envelope) ([]model.ID, error)
}

// ScheduleSource loads schedule-type triggers along with the cron spec
// that drives each one. spec.md's WorkflowTrigger has no dedicated cron
// field, so a schedule trigger's cadence lives in a side table the
// scheduler reads directly rather than overloading Conditions.
type ScheduleSource interface {
	ScheduleTriggers(ctx context.Context) ([]ScheduledTrigger, error)
}

// ScheduledTrigger is one schedule-type trigger and the cron expression
// that fires it.
type ScheduledTrigger struct {
	TriggerID  model.ID
	WorkflowID model.ID
	CronSpec   string
}

// Scheduler fires schedule-type WorkflowTrigger rows on their configured
// cadence by calling Dispatch with a synthetic envelope carrying no
// external event identity (schedule fires are not deduplicated against
// an (integration_id, event_id) pair since there is no external event).
type Scheduler struct {
	cron   *cron.Cron
	source ScheduleSource
	disp   Dispatch

	mu       sync.Mutex
	entryIDs map[model.ID]cron.EntryID
}

// New constructs a Scheduler. It does not start firing until Start.
func New(source ScheduleSource, disp Dispatch) *Scheduler {
	return &Scheduler{
		cron:     cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger))),
		source:   source,
		disp:     disp,
		entryIDs: make(map[model.ID]cron.EntryID),
	}
}

// Start loads every schedule-type trigger and registers a cron entry for
// each, then starts the underlying cron.Cron in its own goroutine.
func (s *Scheduler) Start(ctx context.Context) error {
	triggers, err := s.source.ScheduleTriggers(ctx)
	if err != nil {
		return err
	}
	log := logctx.FromContext(ctx)
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range triggers {
		trig := t
		entryID, err := s.cron.AddFunc(trig.CronSpec, func() {
			s.fire(ctx, trig)
		})
		if err != nil {
			log.Warn("schedule: invalid cron spec, trigger skipped",
				"trigger_id", trig.TriggerID.String(), "error", sanitize.Err(err))
			continue
		}
		s.entryIDs[trig.TriggerID] = entryID
	}
	s.cron.Start()
	return nil
}

func (s *Scheduler) fire(ctx context.Context, trig ScheduledTrigger) {
	log := logctx.FromContext(ctx)
	eventID, err := model.NewID()
	if err != nil {
		log.Warn("schedule: failed to generate fire event id", "error", sanitize.Err(err))
		return
	}
	// A schedule fire has no external integration; WorkflowID stands in
	// as the dedup-key scope so two workflows' ticks never collide, and
	// the fresh per-tick EventID means dedup never actually suppresses
	// a schedule fire (only webhook/event triggers dedup meaningfully).
	_, err = s.disp.Dispatch(ctx, model.TriggerSchedule, dispatcher.Envelope{
		IntegrationID: trig.WorkflowID,
		EventID:       eventID.String(),
		EventType:     "schedule.tick",
		Payload:       map[string]any{"trigger_id": trig.TriggerID.String()},
	})
	if err != nil {
		log.Warn("schedule: dispatch failed",
			"trigger_id", trig.TriggerID.String(), "error", sanitize.Err(err))
	}
}

// Stop halts the cron scheduler and waits for any in-flight fire to
// finish.
func (s *Scheduler) Stop() {
	s.cron.Stop()
}
