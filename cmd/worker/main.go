// Command worker runs the Execution Engine against the Redis-backed
// Queue (spec §5): heartbeat, dequeue with a 10s long-poll, process, and
// report completion or failure back to the broker. It also hosts the
// cron-driven Scheduler for schedule-type triggers, since both need the
// same store and queue handles this process already holds.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/reviewforge/engine/internal/authz"
	"github.com/reviewforge/engine/internal/config"
	"github.com/reviewforge/engine/internal/dispatcher"
	"github.com/reviewforge/engine/internal/engine"
	"github.com/reviewforge/engine/internal/logctx"
	"github.com/reviewforge/engine/internal/model"
	"github.com/reviewforge/engine/internal/monitoring"
	"github.com/reviewforge/engine/internal/predicate"
	"github.com/reviewforge/engine/internal/queue"
	"github.com/reviewforge/engine/internal/sanitize"
	"github.com/reviewforge/engine/internal/schedule"
	"github.com/reviewforge/engine/internal/store"
	"github.com/reviewforge/engine/internal/webhook"
	"github.com/reviewforge/engine/internal/wiring"
)

const (
	dequeueTimeout     = 10 * time.Second
	heartbeatInterval  = 15 * time.Second
	maxConcurrentItems = 8
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log := logctx.NewLogger(logctx.Config{Level: logctx.InfoLevel, JSON: true})
	ctx = logctx.ContextWithLogger(ctx, log)

	cfg, err := config.Load(wiring.ProviderNames)
	if err != nil {
		log.Error("worker: invalid configuration", "error", sanitize.Err(err))
		os.Exit(1)
	}

	db, err := store.Open(ctx, &store.Config{
		DSN:          cfg.DatabaseURL,
		MaxOpenConns: cfg.DBPoolSize,
		MaxIdleConns: cfg.DBMaxOverflow,
		Environment:  string(cfg.Environment),
	})
	if err != nil {
		log.Error("worker: store open failed", "error", sanitize.Err(err))
		os.Exit(1)
	}
	defer db.Close()

	redisClient, err := queue.NewClient(ctx, cfg.QueueURL)
	if err != nil {
		log.Error("worker: queue client construction failed", "error", sanitize.Err(err))
		os.Exit(1)
	}
	q := queue.New(redisClient, cfg.QueuePrefix)

	workflows := store.NewWorkflowRepo(db)
	executions := store.NewExecutionRepo(db)

	eval, err := predicate.NewEvaluator("context", "trigger", "payload")
	if err != nil {
		log.Error("worker: predicate evaluator construction failed", "error", sanitize.Err(err))
		os.Exit(1)
	}

	handlers := engine.NewMapRegistry()
	llmManager := wiring.NewLLMManager(cfg)
	handlers.Register("llm_review", engine.NewLLMReviewHandler(llmManager))

	monitor, err := monitoring.New(cfg.MetricsEnabled)
	if err != nil {
		log.Error("worker: monitoring construction failed", "error", sanitize.Err(err))
		os.Exit(1)
	}
	execMetrics, err := monitoring.NewExecutionMetrics(monitor.Meter())
	if err != nil {
		log.Error("worker: execution metrics construction failed", "error", sanitize.Err(err))
		os.Exit(1)
	}
	if err := monitoring.RegisterQueueGauges(monitor.Meter(), q); err != nil {
		log.Warn("worker: queue gauges registration failed", "error", sanitize.Err(err))
	}
	if err := monitoring.RegisterStoreGauge(monitor.Meter(), db); err != nil {
		log.Warn("worker: store gauge registration failed", "error", sanitize.Err(err))
	}
	metricsSrv := startMetricsServer(log, cfg.MetricsAddr, monitor)
	defer shutdownMetricsServer(ctx, log, metricsSrv, monitor)

	eng := engine.New(
		workflows, executions, handlers, authz.AllowAll{}, authz.NewAuditLogger(), eval, q,
		engine.WithMetrics(execMetrics), engine.WithTracer(monitor.Tracer()),
	)

	disp := dispatcher.New(workflows, executions, q, eval)
	sched := schedule.New(scheduleSourceFrom(workflows), disp)
	if err := sched.Start(ctx); err != nil {
		log.Warn("worker: scheduler failed to start", "error", sanitize.Err(err))
	} else {
		defer sched.Stop()
	}

	log.Info("worker: ready", "worker_id", cfg.WorkerID, "queue_degraded", q.Degraded())
	runLoop(ctx, cfg.WorkerID, q, eng, disp, executions)
}

// startMetricsServer hosts the Prometheus scrape endpoint for this
// worker process's instruments (queue depths, store availability,
// per-action engine counters). A listen failure is logged, not fatal:
// metrics are ambient observability, never a gate on processing items.
func startMetricsServer(log logctx.Logger, addr string, monitor *monitoring.Service) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", monitor.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Warn("worker: metrics server failed", "error", sanitize.Err(err))
		}
	}()
	return srv
}

func shutdownMetricsServer(ctx context.Context, log logctx.Logger, srv *http.Server, monitor *monitoring.Service) {
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("worker: metrics server shutdown failed", "error", sanitize.Err(err))
	}
	if err := monitor.Shutdown(shutdownCtx); err != nil {
		log.Warn("worker: monitoring shutdown failed", "error", sanitize.Err(err))
	}
}

// runLoop implements spec §5's worker scheduling model: heartbeat, then
// a blocking dequeue with a 10s timeout, then process the item if one
// arrived. A bounded semaphore caps in-flight items processed by this
// process; unlike the Engine's per-workflow concurrency gate (which must
// see sibling processes' work via the shared store), this bound is
// genuinely process-local.
//
// The Queue carries two distinct record shapes under one Item type
// (spec §4.6: "Dispatcher... consume[s] webhook/event records from the
// Queue"): intake records from webhook.Service.Intake, identified by a
// zero ExecutionID, which this loop hands to the Dispatcher; and
// execution-ready items the Dispatcher itself enqueues, identified by a
// populated ExecutionID, which this loop hands to the Engine.
func runLoop(
	ctx context.Context,
	workerID string,
	q *queue.Queue,
	eng *engine.Engine,
	disp *dispatcher.Dispatcher,
	executions *store.ExecutionRepo,
) {
	log := logctx.FromContext(ctx)
	sem := semaphore.NewWeighted(maxConcurrentItems)
	lastHeartbeat := time.Time{}

	for ctx.Err() == nil {
		if time.Since(lastHeartbeat) >= heartbeatInterval {
			if err := q.Heartbeat(ctx, workerID); err != nil {
				log.Warn("worker: heartbeat failed", "error", sanitize.Err(err))
			}
			lastHeartbeat = time.Now()
		}

		item, err := q.Dequeue(ctx, workerID, dequeueTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Warn("worker: dequeue failed", "error", sanitize.Err(err))
			time.Sleep(time.Second)
			continue
		}
		if item == nil {
			continue
		}

		if err := sem.Acquire(ctx, 1); err != nil {
			return
		}
		go func(it *queue.Item) {
			defer sem.Release(1)
			if it.ExecutionID.IsZero() {
				dispatchIntakeItem(ctx, q, disp, it)
				return
			}
			processItem(ctx, q, eng, executions, it)
		}(item)
	}
}

// dispatchIntakeItem matches a webhook-originated intake record against
// WorkflowTrigger rows and creates whatever WorkflowExecutions result
// (spec §4.6 steps 1-2), then acknowledges the intake item. A match
// failure here is never retried against the intake record itself — the
// Dispatcher's own dedup check and the downstream Engine's retry loop
// cover the failure modes that matter; a malformed or unmatched intake
// record is logged and dropped rather than endlessly requeued.
func dispatchIntakeItem(ctx context.Context, q *queue.Queue, disp *dispatcher.Dispatcher, item *queue.Item) {
	log := logctx.FromContext(ctx)
	var rec webhook.IntakeRecord
	if err := json.Unmarshal(item.Payload, &rec); err != nil {
		log.Error("worker: malformed intake record", "item_id", item.ID.String(), "error", sanitize.Err(err))
		_ = q.Fail(ctx, item, "malformed intake record")
		return
	}
	created, err := disp.Dispatch(ctx, model.TriggerWebhook, dispatcher.Envelope{
		IntegrationID: rec.IntegrationID,
		EventID:       rec.EventID,
		EventType:     rec.EventType,
		Payload:       rec.Payload,
	})
	if err != nil {
		log.Error("worker: dispatch failed", "item_id", item.ID.String(), "error", sanitize.Err(err))
		_ = q.Fail(ctx, item, sanitize.Err(err))
		return
	}
	result, _ := json.Marshal(map[string]any{"executions_created": created})
	if err := q.Complete(ctx, item.ID, result); err != nil {
		log.Warn("worker: intake complete failed", "error", sanitize.Err(err))
	}
}

func processItem(ctx context.Context, q *queue.Queue, eng *engine.Engine, executions *store.ExecutionRepo, item *queue.Item) {
	log := logctx.FromContext(ctx)
	execution, err := executions.Get(ctx, item.ExecutionID)
	if err != nil {
		log.Error("worker: failed to load execution for item", "item_id", item.ID.String(), "error", sanitize.Err(err))
		_ = q.Fail(ctx, item, err.Error())
		return
	}

	runErr := eng.Run(ctx, item, execution)
	switch {
	case runErr == nil:
		result, _ := json.Marshal(execution.Result)
		if err := q.Complete(ctx, item.ID, result); err != nil {
			log.Warn("worker: complete failed", "error", sanitize.Err(err))
		}
	case errors.Is(runErr, engine.ErrConcurrencyLimitReached):
		// Run already requeued the item at a lowered priority; nothing
		// further to do here.
	default:
		log.Error("worker: execution failed", "execution_id", execution.ID.String(), "error", sanitize.Err(runErr))
		if err := q.Fail(ctx, item, sanitize.Err(runErr)); err != nil {
			log.Warn("worker: fail bookkeeping failed", "error", sanitize.Err(err))
		}
	}
}

// scheduleSourceFrom adapts store.WorkflowRepo's ScheduleTriggers to
// schedule.ScheduleSource.
func scheduleSourceFrom(repo *store.WorkflowRepo) schedule.ScheduleSource {
	return scheduleSourceAdapter{repo}
}

type scheduleSourceAdapter struct{ repo *store.WorkflowRepo }

func (a scheduleSourceAdapter) ScheduleTriggers(ctx context.Context) ([]schedule.ScheduledTrigger, error) {
	rows, err := a.repo.ScheduleTriggers(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]schedule.ScheduledTrigger, len(rows))
	for i, r := range rows {
		out[i] = schedule.ScheduledTrigger{TriggerID: r.TriggerID, WorkflowID: r.WorkflowID, CronSpec: r.CronSpec}
	}
	return out, nil
}
