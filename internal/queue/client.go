package queue

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/reviewforge/engine/internal/logctx"
	"github.com/reviewforge/engine/internal/sanitize"
)

const defaultPingTimeout = 10 * time.Second

// NewClient parses url (a QUEUE_URL broker connection string) and returns
// a connected redis.UniversalClient, grounded on the example pack's
// parse-then-ping Redis client construction. An empty url or a failed
// ping yields (nil, err) rather than a client that would only fail later;
// callers pass a nil client to New to start the Queue in its degraded
// state, matching spec §4.4's failure semantics.
func NewClient(ctx context.Context, url string) (redis.UniversalClient, error) {
	log := logctx.FromContext(ctx)
	if url == "" {
		log.Warn("queue: no QUEUE_URL configured, queue is degraded")
		return nil, nil
	}
	opt, err := redis.ParseURL(url)
	if err != nil {
		log.Warn("queue: parse QUEUE_URL failed, queue is degraded", "error", sanitize.Err(err))
		return nil, nil
	}
	client := redis.NewClient(opt)
	pingCtx, cancel := context.WithTimeout(ctx, defaultPingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		log.Warn("queue: ping failed, queue is degraded", "error", sanitize.Err(err))
		return nil, nil
	}
	log.Info("queue: connected to broker")
	return client, nil
}
