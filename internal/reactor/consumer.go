package reactor

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	v1 "github.com/aevon-lab/recalc/internal/api/v1"
	"github.com/aevon-lab/recalc/internal/core/storage"
	"github.com/aevon-lab/recalc/internal/metrics"
)

const (
	StartFromLatest    = "latest"
	StartFromBeginning = "beginning"
)

const (
	defaultBatchSize    = 500
	defaultPollInterval = 2 * time.Second
	defaultConsumerName = "recalc"
	defaultGapTimeout   = 10 * time.Second
	maxConsecutiveBatch = 100
	finalDrainTimeout   = 30 * time.Second
)

// ConsumerOptions controls how the change feed is read.
type ConsumerOptions struct {
	Name         string
	BatchSize    int
	PollInterval time.Duration
	// StartFrom picks the first position when no checkpoint exists.
	StartFrom string
	// GapTimeout is how long a hole in the feed sequence holds the
	// consumer back before it is treated as a rolled back change.
	GapTimeout time.Duration
	Metrics    *metrics.Metrics
}

func (o ConsumerOptions) normalized() ConsumerOptions {
	n := o
	if n.Name == "" {
		n.Name = defaultConsumerName
	}
	if n.BatchSize <= 0 {
		n.BatchSize = defaultBatchSize
	}
	if n.PollInterval <= 0 {
		n.PollInterval = defaultPollInterval
	}
	if n.StartFrom == "" {
		n.StartFrom = StartFromLatest
	}
	if n.GapTimeout <= 0 {
		n.GapTimeout = defaultGapTimeout
	}
	return n
}

// Consumer reads the change feed in sequence order and hands each batch to
// the worker pool. The checkpoint only advances after a whole batch has been
// handled, so a crash replays at most one batch. Seq is assigned before
// commit, so the consumer never reads past a hole in the sequence until the
// hole fills or GapTimeout passes.
type Consumer struct {
	feed        storage.ChangeFeed
	checkpoints storage.CheckpointStore
	notifier    storage.Notifier
	pool        *Pool
	opts        ConsumerOptions
	cursor      atomic.Int64
	now         func() time.Time

	// Only touched by the draining goroutine.
	gapAt    int64
	gapSince time.Time
}

// NewConsumer creates a consumer. notifier may be nil, in which case the feed
// is only polled.
func NewConsumer(
	feed storage.ChangeFeed,
	checkpoints storage.CheckpointStore,
	notifier storage.Notifier,
	pool *Pool,
	opts ConsumerOptions,
) *Consumer {
	return &Consumer{
		feed:        feed,
		checkpoints: checkpoints,
		notifier:    notifier,
		pool:        pool,
		opts:        opts.normalized(),
		now:         time.Now,
	}
}

// Cursor is the last checkpointed feed position seen by this consumer.
func (c *Consumer) Cursor() int64 {
	return c.cursor.Load()
}

// Start positions the consumer and drains the feed until ctx is cancelled.
func (c *Consumer) Start(ctx context.Context) error {
	if err := c.Position(ctx); err != nil {
		return err
	}
	c.Run(ctx)
	return nil
}

// Run drains the feed from the current checkpoint until ctx is cancelled,
// then runs a final drain under its own timeout. Position must have been
// called first.
func (c *Consumer) Run(ctx context.Context) {
	ticker := time.NewTicker(c.opts.PollInterval)
	defer ticker.Stop()

	var wake <-chan struct{}
	if c.notifier != nil {
		wake = c.notifier.Notifications()
	}

	slog.Info("[Consumer] Starting change feed consumer",
		"consumer", c.opts.Name,
		"cursor", c.Cursor(),
		"poll_interval", c.opts.PollInterval,
		"batch_size", c.opts.BatchSize,
		"notifications", c.notifier != nil,
	)

	c.drainBacklog(ctx)

	for {
		select {
		case <-ticker.C:
			c.drainBacklog(ctx)
		case <-wake:
			c.drainBacklog(ctx)
		case <-ctx.Done():
			slog.Info("[Consumer] Stopping (context cancelled)", "consumer", c.opts.Name)

			shutdownCtx, cancel := context.WithTimeout(context.Background(), finalDrainTimeout)
			defer cancel()

			slog.Info("[Consumer] Running final drain before shutdown...", "consumer", c.opts.Name)
			c.drainBacklog(shutdownCtx)
			slog.Info("[Consumer] Final drain complete", "consumer", c.opts.Name, "cursor", c.Cursor())
			return
		}
	}
}

// Position resolves the starting cursor, writing one when the consumer has
// never run before.
func (c *Consumer) Position(ctx context.Context) error {
	cursor, found, err := c.checkpoints.ReadCheckpoint(ctx, c.opts.Name)
	if err != nil {
		return fmt.Errorf("read checkpoint: %w", err)
	}
	if found {
		c.cursor.Store(cursor)
		slog.Info("[Consumer] Resuming from checkpoint", "consumer", c.opts.Name, "cursor", cursor)
		return nil
	}

	switch c.opts.StartFrom {
	case StartFromBeginning:
		cursor = 0
	case StartFromLatest:
		cursor, err = c.feed.HeadSeq(ctx)
		if err != nil {
			return fmt.Errorf("read feed head: %w", err)
		}
	default:
		return fmt.Errorf("unsupported start position %q", c.opts.StartFrom)
	}

	if err := c.checkpoints.WriteCheckpoint(ctx, c.opts.Name, cursor); err != nil {
		return fmt.Errorf("write initial checkpoint: %w", err)
	}
	c.cursor.Store(cursor)
	slog.Info("[Consumer] No checkpoint found, starting fresh",
		"consumer", c.opts.Name,
		"start_from", c.opts.StartFrom,
		"cursor", cursor,
	)
	return nil
}

// drainBacklog runs batches until the feed is caught up.
func (c *Consumer) drainBacklog(ctx context.Context) {
	batchCount := 0

	for batchCount < maxConsecutiveBatch {
		select {
		case <-ctx.Done():
			slog.Info("[Consumer] Drain interrupted by context cancellation",
				"consumer", c.opts.Name,
				"batches_processed", batchCount,
			)
			return
		default:
		}

		processed, err := c.runBatch(ctx)
		if err != nil {
			slog.Error("[Consumer] Batch failed",
				"error", err,
				"consumer", c.opts.Name,
				"batch_number", batchCount+1,
			)
			return
		}

		batchCount++

		if processed < c.opts.BatchSize {
			if batchCount > 1 {
				slog.Info("[Consumer] Backlog drained", "consumer", c.opts.Name, "total_batches", batchCount)
			}
			c.observeLag(ctx)
			return
		}

		slog.Info("[Consumer] Backlog detected, continuing to drain",
			"consumer", c.opts.Name,
			"batches_so_far", batchCount,
		)
	}

	slog.Warn("[Consumer] Max consecutive batches reached, pausing drain",
		"consumer", c.opts.Name,
		"max_batches", maxConsecutiveBatch,
		"note", "Will resume on next tick",
	)
	c.observeLag(ctx)
}

// runBatch dispatches the next batch after the checkpoint and advances the
// checkpoint past it. It returns the number of events read.
func (c *Consumer) runBatch(ctx context.Context) (int, error) {
	cursor, _, err := c.checkpoints.ReadCheckpoint(ctx, c.opts.Name)
	if err != nil {
		return 0, fmt.Errorf("read checkpoint: %w", err)
	}

	events, err := c.feed.ChangesAfter(ctx, cursor, c.opts.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("query changes: %w", err)
	}
	events = c.contiguous(cursor, events)
	if len(events) == 0 {
		return 0, nil
	}

	started := time.Now()
	failed, err := c.pool.Dispatch(ctx, events)
	if err != nil {
		return 0, fmt.Errorf("dispatch batch after %d: %w", cursor, err)
	}
	c.opts.Metrics.ObserveBatch(len(events), time.Since(started).Seconds())

	newCursor := events[len(events)-1].Seq
	if err := c.checkpoints.WriteCheckpoint(ctx, c.opts.Name, newCursor); err != nil {
		return 0, fmt.Errorf("write checkpoint: %w", err)
	}
	c.cursor.Store(newCursor)

	slog.Info("[Consumer] Batch complete",
		"events_processed", len(events),
		"events_failed", failed,
		"cursor_advanced", fmt.Sprintf("%d -> %d", cursor, newCursor),
		"consumer", c.opts.Name,
	)
	return len(events), nil
}

// contiguous cuts events at the first hole in the sequence after cursor. A
// hole is a change whose transaction has not committed yet, or never will.
// Once a hole has been open for GapTimeout it is skipped.
func (c *Consumer) contiguous(cursor int64, events []v1.ChangeEvent) []v1.ChangeEvent {
	next := cursor + 1
	for i, ev := range events {
		if ev.Seq == next {
			if next == c.gapAt {
				c.gapAt = 0
			}
			next++
			continue
		}

		now := c.now()
		if c.gapAt != next {
			c.gapAt, c.gapSince = next, now
			slog.Debug("[Consumer] Holding at gap in change feed",
				"consumer", c.opts.Name,
				"missing_from", next,
				"next_visible", ev.Seq,
			)
		}
		if now.Sub(c.gapSince) < c.opts.GapTimeout {
			return events[:i]
		}

		slog.Warn("[Consumer] Skipping change feed gap after timeout",
			"consumer", c.opts.Name,
			"missing_from", next,
			"missing_to", ev.Seq-1,
			"waited", now.Sub(c.gapSince),
		)
		c.gapAt = 0
		next = ev.Seq + 1
	}
	return events
}

func (c *Consumer) observeLag(ctx context.Context) {
	if c.opts.Metrics == nil {
		return
	}
	head, err := c.feed.HeadSeq(ctx)
	if err != nil {
		slog.Debug("[Consumer] Could not read feed head", "error", err)
		return
	}
	c.opts.Metrics.SetFeedPosition(c.Cursor(), head)
}
