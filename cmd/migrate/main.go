// Command migrate applies pending database migrations and exits. It is
// meant to run once per deploy, ahead of cmd/server and cmd/worker.
package main

import (
	"context"
	"os"

	"github.com/reviewforge/engine/internal/config"
	"github.com/reviewforge/engine/internal/logctx"
	"github.com/reviewforge/engine/internal/sanitize"
	"github.com/reviewforge/engine/internal/store"
)

func main() {
	ctx := context.Background()
	log := logctx.NewLogger(logctx.Config{Level: logctx.InfoLevel, JSON: true})
	ctx = logctx.ContextWithLogger(ctx, log)

	cfg, err := config.Load(nil)
	if err != nil {
		log.Error("migrate: invalid configuration", "error", sanitize.Err(err))
		os.Exit(1)
	}
	if cfg.SkipDBInit {
		log.Info("migrate: SKIP_DB_INIT set, nothing to do")
		return
	}
	if cfg.DatabaseURL == "" {
		log.Error("migrate: DATABASE_URL is required")
		os.Exit(1)
	}
	if err := store.ApplyMigrations(ctx, cfg.DatabaseURL); err != nil {
		log.Error("migrate: apply failed", "error", sanitize.Err(err))
		os.Exit(1)
	}
	log.Info("migrate: schema up to date")
}
