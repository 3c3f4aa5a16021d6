// Package ratelimit implements a sliding-window request limiter for the
// webhook intake HTTP surface (spec §6.1), supplementing spec.md with the
// DoS-protection concern the original codeflow-engine implementation
// carries in security/rate_limiting.py but the distilled spec.md never
// names (see SPEC_FULL.md §12). Unlike the original's in-process,
// per-tier counters, this implementation keeps its window in Redis so the
// limit holds across every replica of the intake process, grounded on the
// Queue package's sorted-set idiom (internal/queue).
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/reviewforge/engine/internal/apperr"
)

// Limiter enforces a fixed request budget per key over a sliding window.
type Limiter struct {
	client redis.UniversalClient
	prefix string
	limit  int
	window time.Duration
}

// New constructs a Limiter allowing up to limit requests per key within
// window. A nil client disables enforcement: Allow always reports true,
// so a missing broker degrades to "unlimited" rather than rejecting
// traffic the Queue itself would already treat as degraded.
func New(client redis.UniversalClient, prefix string, limit int, window time.Duration) *Limiter {
	return &Limiter{client: client, prefix: prefix, limit: limit, window: window}
}

func (l *Limiter) key(k string) string {
	return fmt.Sprintf("%s:ratelimit:%s", l.prefix, k)
}

// Allow records one request against key and reports whether it falls
// within the window's budget. It prunes entries older than window, adds
// the current attempt, then counts what remains — the same
// prune-then-count sliding window original_source's RateLimiter applies
// in memory, done here as a Redis sorted set so it holds across replicas.
func (l *Limiter) Allow(ctx context.Context, key string) (bool, error) {
	if l.client == nil {
		return true, nil
	}
	if l.limit <= 0 {
		return true, nil
	}
	now := time.Now()
	cutoff := now.Add(-l.window)
	zkey := l.key(key)

	pipe := l.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, zkey, "0", fmt.Sprintf("%d", cutoff.UnixNano()))
	pipe.ZAdd(ctx, zkey, redis.Z{Score: float64(now.UnixNano()), Member: now.UnixNano()})
	count := pipe.ZCard(ctx, zkey)
	pipe.Expire(ctx, zkey, l.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("%w: ratelimit: %w", apperr.ErrQueueUnavailable, err)
	}
	return count.Val() <= int64(l.limit), nil
}
