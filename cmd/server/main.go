// Command server runs the webhook intake HTTP endpoint of spec §6.1:
// verify an inbound delivery's signature, run comment admission, persist
// the event, and hand a work item to the Queue for the worker process to
// pick up.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/reviewforge/engine/internal/commenter"
	"github.com/reviewforge/engine/internal/config"
	"github.com/reviewforge/engine/internal/logctx"
	"github.com/reviewforge/engine/internal/model"
	"github.com/reviewforge/engine/internal/monitoring"
	"github.com/reviewforge/engine/internal/outbound"
	"github.com/reviewforge/engine/internal/queue"
	"github.com/reviewforge/engine/internal/ratelimit"
	"github.com/reviewforge/engine/internal/sanitize"
	"github.com/reviewforge/engine/internal/store"
	"github.com/reviewforge/engine/internal/webhook"
	"github.com/reviewforge/engine/internal/webhook/verify"
	"github.com/reviewforge/engine/internal/wiring"
)

const shutdownTimeout = 15 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log := logctx.NewLogger(logctx.Config{Level: logctx.InfoLevel, JSON: true})
	ctx = logctx.ContextWithLogger(ctx, log)

	cfg, err := config.Load(wiring.ProviderNames)
	if err != nil {
		log.Error("server: invalid configuration", "error", sanitize.Err(err))
		os.Exit(1)
	}

	integrationID, err := model.ParseID(cfg.WebhookIntegrationID)
	if err != nil {
		log.Error("server: invalid WEBHOOK_INTEGRATION_ID", "error", sanitize.Err(err))
		os.Exit(1)
	}

	db, err := store.Open(ctx, &store.Config{
		DSN:          cfg.DatabaseURL,
		MaxOpenConns: cfg.DBPoolSize,
		MaxIdleConns: cfg.DBMaxOverflow,
		Environment:  string(cfg.Environment),
	})
	if err != nil {
		log.Error("server: store open failed", "error", sanitize.Err(err))
		os.Exit(1)
	}
	defer db.Close()

	redisClient, err := queue.NewClient(ctx, cfg.QueueURL)
	if err != nil {
		log.Error("server: queue client construction failed", "error", sanitize.Err(err))
		os.Exit(1)
	}
	q := queue.New(redisClient, cfg.QueuePrefix)

	verifier, err := webhook.NewVerifier(verify.Config{
		Strategy: cfg.WebhookVerifyStrategy,
		Secret:   cfg.WebhookSecret,
		Header:   cfg.WebhookVerifyHeader,
	})
	if err != nil {
		log.Error("server: verifier construction failed", "error", sanitize.Err(err))
		os.Exit(1)
	}

	commenterSvc := commenter.New(store.NewCommenterRepo(db))
	poster := outbound.NewGitHubCommenter(cfg.GitHubToken)
	svc := webhook.NewService(store.NewIntegrationRepo(db), q, commenterSvc, poster)
	handler := webhook.NewHandler(svc, integrationID, verifier)

	monitor, err := monitoring.New(cfg.MetricsEnabled)
	if err != nil {
		log.Error("server: monitoring construction failed", "error", sanitize.Err(err))
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := monitor.Shutdown(shutdownCtx); err != nil {
			log.Warn("server: monitoring shutdown failed", "error", sanitize.Err(err))
		}
	}()
	if err := monitoring.RegisterQueueGauges(monitor.Meter(), q); err != nil {
		log.Warn("server: queue gauges registration failed", "error", sanitize.Err(err))
	}
	if err := monitoring.RegisterStoreGauge(monitor.Meter(), db); err != nil {
		log.Warn("server: store gauge registration failed", "error", sanitize.Err(err))
	}

	if cfg.Environment == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}
	limiter := ratelimit.New(redisClient, cfg.QueuePrefix, cfg.WebhookRateLimitPerMinute, time.Minute)

	router := gin.New()
	router.Use(gin.Recovery())
	router.POST("/webhooks", ratelimit.Middleware(limiter, ratelimit.ByRemoteIP), handler.Handle)
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "queue_degraded": q.Degraded()})
	})
	router.GET("/metrics", gin.WrapH(monitor.Handler()))

	srv := &http.Server{
		Addr:    cfg.ServerAddr,
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server: listening", "addr", cfg.ServerAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("server: shutdown signal received")
	case err := <-errCh:
		log.Error("server: listen failed", "error", sanitize.Err(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server: graceful shutdown failed", "error", sanitize.Err(err))
	}
}
