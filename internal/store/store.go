// Package store implements the Store component of spec.md §4.1: a
// transactional connection pool over PostgreSQL, with guaranteed-release
// sessions and a masked health snapshot.
package store

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/reviewforge/engine/internal/apperr"
	"github.com/reviewforge/engine/internal/logctx"
	"github.com/reviewforge/engine/internal/sanitize"
)

// pool is the subset of *pgxpool.Pool repositories in this package drive
// queries through. Defined as an interface (rather than embedding the
// concrete pgxpool type directly) so tests can substitute
// github.com/pashagolub/pgxmock's pool fake, following the teacher's own
// DBInterface/MockDBInterface split (engine/auth/user/service_test.go).
type pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Store is the concrete PostgreSQL driver. It never leaks pgx types past
// Session/Pool accessors used internally by repositories in this module.
type Store struct {
	pool        pool
	realPool    *pgxpool.Pool
	environment string
	available   bool
}

// Open establishes the pool per cfg. If cfg is nil, the DSN is empty, or the
// pool cannot be reached, Open returns a Store in the *unavailable* state:
// every data operation against it fails with apperr.ErrDbUnavailable,
// matching spec §4.1 ("Store is in unavailable state").
func Open(ctx context.Context, cfg *Config) (*Store, error) {
	log := logctx.FromContext(ctx)
	if cfg == nil || cfg.DSN == "" {
		log.Warn("store: no DSN configured, store is unavailable")
		return &Store{available: false}, nil
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		log.Warn("store: parse config failed, store is unavailable", "error", sanitize.Err(err))
		return &Store{available: false}, nil
	}
	poolCfg.MaxConns = clampInt32(cfg.MaxOpenConns, 20)
	poolCfg.MinConns = clampInt32(cfg.MaxIdleConns, 2)
	poolCfg.HealthCheckPeriod = 30 * time.Second
	poolCfg.ConnConfig.ConnectTimeout = 5 * time.Second
	if cfg.ConnMaxLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime
	}
	if cfg.ConnMaxIdleTime > 0 {
		poolCfg.MaxConnIdleTime = cfg.ConnMaxIdleTime
	}
	pgxPool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		log.Warn("store: new pool failed, store is unavailable", "error", sanitize.Err(err))
		return &Store{available: false}, nil
	}
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := pgxPool.Ping(pingCtx); err != nil {
		pgxPool.Close()
		log.Warn("store: ping failed, store is unavailable", "error", sanitize.Err(err))
		return &Store{available: false}, nil
	}
	log.Info("store initialized", "store_driver", "postgres")
	return &Store{pool: pgxPool, realPool: pgxPool, environment: cfg.Environment, available: true}, nil
}

// NewForTesting builds a Store backed by an already-open pool
// implementation (typically pgxmock.NewPool()'s PgxPoolIface), bypassing
// Open's DSN dial. Used only by repository unit tests in this package.
func NewForTesting(p pool) *Store {
	return &Store{pool: p, available: true}
}

func clampInt32(v, def int) int32 {
	if v <= 0 {
		return int32(def)
	}
	if v > math.MaxInt32 {
		return math.MaxInt32
	}
	return int32(v)
}

// Close shuts down the pool. Safe to call on an unavailable Store or on one
// backed by a test double with no real connections to release.
func (s *Store) Close() {
	if s.realPool != nil {
		s.realPool.Close()
	}
}

// Available reports whether the Store can accept data operations.
func (s *Store) Available() bool { return s.available }

// Session returns a scoped unit-of-work bound to the pool, or
// apperr.ErrDbUnavailable when the Store is unavailable. Release is always
// safe to call, including after Session itself failed.
func (s *Store) Session(ctx context.Context) (*Session, error) {
	if !s.available {
		return nil, fmt.Errorf("%w: store not opened", apperr.ErrDbUnavailable)
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: begin: %w", apperr.ErrDbUnavailable, err)
	}
	return &Session{tx: tx}, nil
}

// Session is a unit-of-work with autocommit/autoflush disabled: callers
// must explicitly Commit, and Release guarantees rollback on any other
// exit path (spec §4.1 "guaranteed release on all exit paths").
type Session struct {
	tx       pgx.Tx
	finished bool
}

// Tx exposes the underlying transaction to repositories within this module.
func (sess *Session) Tx() pgx.Tx { return sess.tx }

// Commit finalizes the unit of work.
func (sess *Session) Commit(ctx context.Context) error {
	if sess.finished {
		return nil
	}
	sess.finished = true
	return sess.tx.Commit(ctx)
}

// Release rolls back the transaction if it was not already committed. It is
// safe to call unconditionally via defer.
func (sess *Session) Release(ctx context.Context) {
	if sess.finished {
		return
	}
	sess.finished = true
	_ = sess.tx.Rollback(ctx)
}

// Health is the masked snapshot returned by Store.Health (spec §4.1).
type Health struct {
	Status    string `json:"status"`
	MaskedURL string `json:"masked_url"`
	PoolSize  int32  `json:"pool_size"`
	InUse     int32  `json:"in_use"`
	CheckedIn int32  `json:"checked_in"`
	Overflow  int32  `json:"overflow"`
}

// Health reports pool statistics with the connection URL's userinfo masked.
// Reports zeroed pool counters when the Store is backed by a test double
// rather than a real pgxpool.Pool (realPool is nil).
func (s *Store) Health(dsn string) Health {
	if !s.available {
		return Health{Status: "unavailable", MaskedURL: sanitize.MaskedURL(dsn)}
	}
	if s.realPool == nil {
		return Health{Status: "healthy", MaskedURL: sanitize.MaskedURL(dsn)}
	}
	stat := s.realPool.Stat()
	status := "healthy"
	return Health{
		Status:    status,
		MaskedURL: sanitize.MaskedURL(dsn),
		PoolSize:  stat.MaxConns(),
		InUse:     stat.AcquiredConns(),
		CheckedIn: stat.IdleConns(),
		Overflow:  stat.AcquiredConns() - stat.MaxConns(),
	}
}

// DropAll drops all schema objects. Forbidden outside test/development
// environments, matching spec §4.1's OperationForbidden guard.
func (s *Store) DropAll(ctx context.Context, statements []string) error {
	if s.environment == "production" {
		return fmt.Errorf("%w: drop_all is forbidden in production", apperr.ErrOperationForbidden)
	}
	if !s.available {
		return apperr.ErrDbUnavailable
	}
	for _, stmt := range statements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("%w: %w", apperr.ErrDbUnavailable, err)
		}
	}
	return nil
}
