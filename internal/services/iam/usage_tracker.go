package iam

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/warden-auth/warden/internal/repository"
	"github.com/warden-auth/warden/internal/telemetry"
)

const (
	defaultUsageQueueCapacity = 10000
	defaultUsageFlushInterval = 30 * time.Second

	// usageFlushStartDelay keeps the first flush off the startup path.
	usageFlushStartDelay = 5 * time.Second
)

// usageEvent is one observed use of an API key. keyID addresses the row for
// the batched UPDATE; publicID addresses the lookup cache for invalidation.
type usageEvent struct {
	keyID    string
	publicID string
	at       time.Time
}

// UsageTracker maintains api_keys.last_used_at without touching the
// authentication hot path.
//
// Recording is non-blocking and lossy under saturation: when the queue is
// full the event is dropped and counted, never delaying the request that
// produced it. A background flusher drains the queue periodically, collapses
// duplicate keys to their maximum timestamp, and writes the batch in a
// single transaction with conditional UPDATEs, so replays and reordered
// flushes cannot move the column backwards. Flushed keys are swept from the
// lookup cache so subsequent reads see the new timestamp.
type UsageTracker struct {
	keys       repository.APIKeyRepository
	events     chan usageEvent
	interval   time.Duration
	invalidate func(publicID string)
	metrics    *telemetry.TrackerMetrics

	// flushMu serializes drains: the ticker, the admin endpoint, SIGHUP,
	// and shutdown may all request a flush concurrently.
	flushMu sync.Mutex
	dropped atomic.Int64

	started  atomic.Bool
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// NewUsageTracker creates a tracker. invalidate is called with each flushed
// public ID and may be nil. The tracker does not flush until Start.
func NewUsageTracker(
	keys repository.APIKeyRepository,
	capacity int,
	interval time.Duration,
	invalidate func(publicID string),
) *UsageTracker {
	if capacity <= 0 {
		capacity = defaultUsageQueueCapacity
	}
	if interval <= 0 {
		interval = defaultUsageFlushInterval
	}

	metrics, err := telemetry.NewTrackerMetrics()
	if err != nil {
		log.Printf("WARNING: usage tracker metrics unavailable: %v", err)
		metrics = nil
	}

	return &UsageTracker{
		keys:       keys,
		events:     make(chan usageEvent, capacity),
		interval:   interval,
		invalidate: invalidate,
		metrics:    metrics,
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Start launches the background flusher. Safe to call once; later calls are
// no-ops. CLI paths that only need synchronous flushes never call it.
func (t *UsageTracker) Start() {
	if !t.started.CompareAndSwap(false, true) {
		return
	}
	go t.run()
}

// RecordUsage enqueues a usage observation. Never blocks: at saturation the
// event is dropped and counted, and the drop total is logged once per flush
// cycle rather than per event.
func (t *UsageTracker) RecordUsage(keyID, publicID string, at time.Time) {
	select {
	case t.events <- usageEvent{keyID: keyID, publicID: publicID, at: at}:
		if t.metrics != nil {
			t.metrics.EventsRecorded.Add(context.Background(), 1)
		}
	default:
		t.dropped.Add(1)
		if t.metrics != nil {
			t.metrics.EventsDropped.Add(context.Background(), 1)
		}
	}
}

// Flush drains the queue and persists the collapsed batch. Safe for
// concurrent callers; drains are serialized.
func (t *UsageTracker) Flush(ctx context.Context) error {
	t.flushMu.Lock()
	defer t.flushMu.Unlock()

	if d := t.dropped.Swap(0); d > 0 {
		log.Printf("WARNING: usage tracker dropped %d events since last flush (queue full)", d)
	}

	usages := make(map[string]time.Time)
	publicIDs := make(map[string]string)
drain:
	for {
		select {
		case e := <-t.events:
			if prev, ok := usages[e.keyID]; !ok || e.at.After(prev) {
				usages[e.keyID] = e.at
			}
			publicIDs[e.keyID] = e.publicID
		default:
			break drain
		}
	}

	if len(usages) == 0 {
		return nil
	}

	start := time.Now()
	if err := t.keys.TouchLastUsed(ctx, usages); err != nil {
		return fmt.Errorf("persist %d usage events: %w", len(usages), err)
	}

	if t.invalidate != nil {
		for _, publicID := range publicIDs {
			t.invalidate(publicID)
		}
	}

	if t.metrics != nil {
		t.metrics.FlushDuration.Record(ctx, float64(time.Since(start).Milliseconds()))
	}
	return nil
}

// Close stops the flusher and attempts a final flush bounded by ctx.
func (t *UsageTracker) Close(ctx context.Context) error {
	t.stopOnce.Do(func() { close(t.stop) })

	if t.started.Load() {
		select {
		case <-t.done:
		case <-ctx.Done():
			return fmt.Errorf("wait for usage flusher: %w", ctx.Err())
		}
	}

	return t.Flush(ctx)
}

func (t *UsageTracker) run() {
	defer close(t.done)

	delay := time.NewTimer(usageFlushStartDelay)
	defer delay.Stop()
	select {
	case <-delay.C:
	case <-t.stop:
		return
	}

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := t.Flush(context.Background()); err != nil {
				log.Printf("ERROR: usage flush: %v", err)
			}
		case <-t.stop:
			return
		}
	}
}
