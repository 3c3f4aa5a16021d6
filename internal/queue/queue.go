// Package queue implements the Redis-backed priority broker of spec
// component 4.4: a pending sorted set, processing/results/failed hashes,
// and worker heartbeats, all namespaced under a configurable key prefix.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/reviewforge/engine/internal/apperr"
	"github.com/reviewforge/engine/internal/model"
)

const (
	defaultActiveWindow = 5 * time.Minute
	maxRetriesDefault   = 3
)

// Item is an alias for the persisted QueuedWorkItem entity (spec §3):
// the queue moves the same shape in and out of Redis that the Dispatcher
// and Engine exchange in memory.
type Item = model.QueuedWorkItem

// Stats reports sub-queue sizes as specified by spec §4.4's stats() op.
type Stats struct {
	Pending    int64 `json:"pending"`
	Processing int64 `json:"processing"`
	Results    int64 `json:"results"`
	Failed     int64 `json:"failed"`
}

// Queue brokers work items between Dispatcher producers and Execution
// Engine workers over Redis. A nil or failed client puts the Queue into a
// degraded state in which Enqueue/Dequeue return ErrQueueUnavailable
// rather than blocking, per spec §4.4 failure semantics.
type Queue struct {
	client   redis.UniversalClient
	prefix   string
	degraded bool
}

// New constructs a Queue namespaced under prefix. client may be nil, in
// which case the Queue starts degraded and every operation fails fast.
func New(client redis.UniversalClient, prefix string) *Queue {
	return &Queue{client: client, prefix: prefix, degraded: client == nil}
}

func (q *Queue) key(suffix string) string {
	return fmt.Sprintf("%s:%s", q.prefix, suffix)
}

func (q *Queue) pendingKey() string    { return q.key("pending") }
func (q *Queue) processingKey() string { return q.key("processing") }
func (q *Queue) resultsKey() string    { return q.key("results") }
func (q *Queue) failedKey() string     { return q.key("failed") }
func (q *Queue) heartbeatKey() string  { return q.key("heartbeats") }

func (q *Queue) unavailable(op string, err error) error {
	q.degraded = true
	return fmt.Errorf("%w: queue %s: %w", apperr.ErrQueueUnavailable, op, err)
}

// score encodes priority (higher first) and arrival order (earlier first
// within a priority level) into a single float64 sortable ascending by
// go-redis's ZPopMin, matching spec §4.4's priority policy.
func score(priority int, arrival time.Time) float64 {
	// Invert priority so a ZPopMin (ascending) pops the highest priority
	// first; within a priority level, earlier arrival sorts first.
	return float64(10-priority)*1e13 + float64(arrival.UnixMicro())
}

// Enqueue adds item to the pending sorted set under the given priority.
func (q *Queue) Enqueue(ctx context.Context, item *Item, priority int) error {
	if q.client == nil {
		return apperr.ErrQueueUnavailable
	}
	item.Priority = model.ClampPriority(priority)
	if item.MaxRetries == 0 {
		item.MaxRetries = maxRetriesDefault
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}
	raw, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("%w: marshal item: %w", apperr.ErrInvalidRequest, err)
	}
	err = q.client.ZAdd(ctx, q.pendingKey(), redis.Z{
		Score:  score(item.Priority, item.CreatedAt),
		Member: raw,
	}).Err()
	if err != nil {
		return q.unavailable("enqueue", err)
	}
	q.degraded = false
	return nil
}

// EnqueueBatch enqueues all items atomically via a single pipeline,
// returning the count successfully enqueued.
func (q *Queue) EnqueueBatch(ctx context.Context, items []*Item, priority int) (int, error) {
	if q.client == nil {
		return 0, apperr.ErrQueueUnavailable
	}
	if len(items) == 0 {
		return 0, nil
	}
	zs := make([]redis.Z, 0, len(items))
	now := time.Now().UTC()
	for i, item := range items {
		item.Priority = model.ClampPriority(priority)
		if item.MaxRetries == 0 {
			item.MaxRetries = maxRetriesDefault
		}
		item.CreatedAt = now.Add(time.Duration(i) * time.Microsecond)
		raw, err := json.Marshal(item)
		if err != nil {
			return 0, fmt.Errorf("%w: marshal item: %w", apperr.ErrInvalidRequest, err)
		}
		zs = append(zs, redis.Z{Score: score(item.Priority, item.CreatedAt), Member: raw})
	}
	if err := q.client.ZAdd(ctx, q.pendingKey(), zs...).Err(); err != nil {
		return 0, q.unavailable("enqueue_batch", err)
	}
	q.degraded = false
	return len(zs), nil
}

// Dequeue pops the highest-priority pending item and moves it into
// processing, stamping assigned_worker and processing_started_at. It
// blocks up to timeout for an item to appear; returns (nil, nil) on an
// empty queue after timeout elapses.
func (q *Queue) Dequeue(ctx context.Context, workerID string, timeout time.Duration) (*Item, error) {
	if q.client == nil {
		return nil, apperr.ErrQueueUnavailable
	}
	deadline := time.Now().Add(timeout)
	for {
		members, err := q.client.ZPopMin(ctx, q.pendingKey(), 1).Result()
		if err != nil {
			return nil, q.unavailable("dequeue", err)
		}
		if len(members) == 0 {
			if timeout <= 0 || time.Now().After(deadline) {
				return nil, nil
			}
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(50 * time.Millisecond):
				continue
			}
		}
		raw, ok := members[0].Member.(string)
		if !ok {
			continue
		}
		var item Item
		if err := json.Unmarshal([]byte(raw), &item); err != nil {
			continue
		}
		now := time.Now().UTC()
		item.AssignedWorker = workerID
		item.ProcessingStartedAt = &now
		out, err := json.Marshal(item)
		if err != nil {
			return nil, fmt.Errorf("%w: marshal item: %w", apperr.ErrInvalidRequest, err)
		}
		if err := q.client.HSet(ctx, q.processingKey(), item.ID.String(), out).Err(); err != nil {
			return nil, q.unavailable("dequeue", err)
		}
		q.degraded = false
		return &item, nil
	}
}

// Complete removes id from processing and records result under results.
func (q *Queue) Complete(ctx context.Context, id model.ID, result json.RawMessage) error {
	if q.client == nil {
		return apperr.ErrQueueUnavailable
	}
	pipe := q.client.TxPipeline()
	pipe.HDel(ctx, q.processingKey(), id.String())
	pipe.HSet(ctx, q.resultsKey(), id.String(), []byte(result))
	if _, err := pipe.Exec(ctx); err != nil {
		return q.unavailable("complete", err)
	}
	q.degraded = false
	return nil
}

// Fail removes item from processing. If its retry_count is still below
// max_retries, it is re-enqueued with an incremented retry_count and a
// priority lowered by one (floor 1); otherwise it is written to failed
// with failedErr and a failed_at timestamp.
func (q *Queue) Fail(ctx context.Context, item *Item, failedErr string) error {
	if q.client == nil {
		return apperr.ErrQueueUnavailable
	}
	if err := q.client.HDel(ctx, q.processingKey(), item.ID.String()).Err(); err != nil {
		return q.unavailable("fail", err)
	}
	if item.RetryCount < item.MaxRetries {
		item.RetryCount++
		item.AssignedWorker = ""
		item.ProcessingStartedAt = nil
		next := item.Priority - 1
		if next < int(model.PriorityLow) {
			next = int(model.PriorityLow)
		}
		return q.Enqueue(ctx, item, next)
	}
	record := struct {
		Item
		Error    string    `json:"error"`
		FailedAt time.Time `json:"failed_at"`
	}{Item: *item, Error: failedErr, FailedAt: time.Now().UTC()}
	raw, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("%w: marshal failed record: %w", apperr.ErrInvalidRequest, err)
	}
	if err := q.client.HSet(ctx, q.failedKey(), item.ID.String(), raw).Err(); err != nil {
		return q.unavailable("fail", err)
	}
	q.degraded = false
	return nil
}

// Heartbeat records that workerID is alive as of now.
func (q *Queue) Heartbeat(ctx context.Context, workerID string) error {
	if q.client == nil {
		return apperr.ErrQueueUnavailable
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	if err := q.client.HSet(ctx, q.heartbeatKey(), workerID, now).Err(); err != nil {
		return q.unavailable("heartbeat", err)
	}
	q.degraded = false
	return nil
}

// ActiveWorkers returns worker IDs whose heartbeat fell within window of
// now (default 5 minutes per spec §4.4).
func (q *Queue) ActiveWorkers(ctx context.Context, window time.Duration) ([]string, error) {
	if q.client == nil {
		return nil, apperr.ErrQueueUnavailable
	}
	if window <= 0 {
		window = defaultActiveWindow
	}
	all, err := q.client.HGetAll(ctx, q.heartbeatKey()).Result()
	if err != nil {
		return nil, q.unavailable("active_workers", err)
	}
	cutoff := time.Now().Add(-window)
	var active []string
	for worker, ts := range all {
		seen, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			continue
		}
		if seen.After(cutoff) {
			active = append(active, worker)
		}
	}
	return active, nil
}

// ReclaimStale scans processing for items whose processing_started_at is
// older than timeout; each is re-enqueued (respecting max_retries) or
// moved to failed with a "processing timeout" error, per spec §4.4 and
// the reclaim-safety invariant of §8.5 (no item is ever dropped).
func (q *Queue) ReclaimStale(ctx context.Context, timeout time.Duration) (int, error) {
	if q.client == nil {
		return 0, apperr.ErrQueueUnavailable
	}
	all, err := q.client.HGetAll(ctx, q.processingKey()).Result()
	if err != nil {
		return 0, q.unavailable("reclaim_stale", err)
	}
	reclaimed := 0
	cutoff := time.Now().Add(-timeout)
	for _, raw := range all {
		var item Item
		if err := json.Unmarshal([]byte(raw), &item); err != nil {
			continue
		}
		if item.ProcessingStartedAt == nil || item.ProcessingStartedAt.After(cutoff) {
			continue
		}
		if err := q.Fail(ctx, &item, "processing timeout"); err != nil {
			return reclaimed, err
		}
		reclaimed++
	}
	return reclaimed, nil
}

// Stats reports the size of each sub-queue.
func (q *Queue) Stats(ctx context.Context) (*Stats, error) {
	if q.client == nil {
		return nil, apperr.ErrQueueUnavailable
	}
	pipe := q.client.Pipeline()
	pending := pipe.ZCard(ctx, q.pendingKey())
	processing := pipe.HLen(ctx, q.processingKey())
	results := pipe.HLen(ctx, q.resultsKey())
	failed := pipe.HLen(ctx, q.failedKey())
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, q.unavailable("stats", err)
	}
	return &Stats{
		Pending:    pending.Val(),
		Processing: processing.Val(),
		Results:    results.Val(),
		Failed:     failed.Val(),
	}, nil
}

// Degraded reports whether the last operation observed a broker failure.
func (q *Queue) Degraded() bool { return q.degraded }
