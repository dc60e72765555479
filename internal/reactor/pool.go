package reactor

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	v1 "github.com/aevon-lab/recalc/internal/api/v1"
	"github.com/aevon-lab/recalc/internal/core/partition"
)

const (
	defaultWorkerCount = 8
	defaultQueueSize   = 1024
)

var errPoolStopped = errors.New("worker pool stopped")

// Handler processes one change event.
type Handler interface {
	Handle(ctx context.Context, ev v1.ChangeEvent) error
}

type job struct {
	ctx   context.Context
	event v1.ChangeEvent
	done  func(error)
}

// Pool runs a handler on a fixed number of workers. Every worker owns one
// lane; events are routed to lanes by record ID, so events of the same
// record are handled in submission order. A full lane blocks the submitter.
type Pool struct {
	handler Handler
	lanes   []chan job
	wg      sync.WaitGroup
	mu      sync.RWMutex
	stopped bool
}

// NewPool starts workerCount workers sharing queueSize slots of buffer.
func NewPool(handler Handler, workerCount, queueSize int) *Pool {
	if workerCount <= 0 {
		workerCount = defaultWorkerCount
	}
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	perLane := queueSize / workerCount
	if perLane < 1 {
		perLane = 1
	}

	p := &Pool{handler: handler, lanes: make([]chan job, workerCount)}
	p.wg.Add(workerCount)
	for i := range p.lanes {
		lane := make(chan job, perLane)
		p.lanes[i] = lane
		go func() {
			defer p.wg.Done()
			for j := range lane {
				j.done(p.handler.Handle(j.ctx, j.event))
			}
		}()
	}

	slog.Info("[Pool] Workers started", "workers", workerCount, "lane_buffer", perLane)
	return p
}

// Dispatch hands every event to its lane and waits until all of them have
// been handled. It returns the number of events whose handler failed, or
// ctx's error when the context ended before the batch completed.
func (p *Pool) Dispatch(ctx context.Context, events []v1.ChangeEvent) (int, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return 0, errPoolStopped
	}

	var (
		wg     sync.WaitGroup
		failed atomic.Int64
	)
	for _, ev := range events {
		j := job{
			ctx:   ctx,
			event: ev,
			done: func(err error) {
				defer wg.Done()
				if err != nil {
					failed.Add(1)
					slog.Warn("[Pool] Event handled with failures",
						"seq", ev.Seq,
						"model", ev.ModelKey,
						"record_id", ev.RecordID,
						"error", err,
					)
				}
			},
		}

		wg.Add(1)
		select {
		case p.lanes[partition.Of(ev.RecordID, len(p.lanes))] <- j:
		case <-ctx.Done():
			wg.Done()
			wg.Wait()
			return int(failed.Load()), ctx.Err()
		}
	}

	wg.Wait()
	if err := ctx.Err(); err != nil {
		return int(failed.Load()), err
	}
	return int(failed.Load()), nil
}

// Stop closes the lanes and waits for the workers to finish queued events.
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	for _, lane := range p.lanes {
		close(lane)
	}
	p.mu.Unlock()

	p.wg.Wait()
	slog.Info("[Pool] Workers stopped")
}
