package reactor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	v1 "github.com/aevon-lab/recalc/internal/api/v1"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingHandler struct {
	mu   sync.Mutex
	seen map[string][]int64
	fail map[string]bool
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{seen: make(map[string][]int64), fail: make(map[string]bool)}
}

func (h *recordingHandler) Handle(ctx context.Context, ev v1.ChangeEvent) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.seen[ev.RecordID] = append(h.seen[ev.RecordID], ev.Seq)
	if h.fail[ev.RecordID] {
		return errors.New("handler failed")
	}
	return nil
}

type handlerFunc func(ctx context.Context, ev v1.ChangeEvent) error

func (f handlerFunc) Handle(ctx context.Context, ev v1.ChangeEvent) error { return f(ctx, ev) }

func events(n int, records ...string) []v1.ChangeEvent {
	out := make([]v1.ChangeEvent, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, v1.ChangeEvent{
			Seq:      int64(i + 1),
			ModelKey: "line_item",
			RecordID: records[i%len(records)],
		})
	}
	return out
}

func TestPool_KeepsPerRecordOrder(t *testing.T) {
	h := newRecordingHandler()
	p := NewPool(h, 4, 8)
	defer p.Stop()

	failed, err := p.Dispatch(context.Background(), events(300, "li-1", "li-2", "li-3", "li-4", "li-5"))
	require.NoError(t, err)
	assert.Zero(t, failed)

	h.mu.Lock()
	defer h.mu.Unlock()
	require.Len(t, h.seen, 5)
	for id, seqs := range h.seen {
		assert.Len(t, seqs, 60, id)
		assert.IsIncreasing(t, seqs, id)
	}
}

func TestPool_CountsFailures(t *testing.T) {
	h := newRecordingHandler()
	h.fail["li-2"] = true
	p := NewPool(h, 2, 4)
	defer p.Stop()

	failed, err := p.Dispatch(context.Background(), events(10, "li-1", "li-2"))
	require.NoError(t, err)
	assert.Equal(t, 5, failed)
}

func TestPool_EmptyBatch(t *testing.T) {
	p := NewPool(newRecordingHandler(), 2, 4)
	defer p.Stop()

	failed, err := p.Dispatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, failed)
}

func TestPool_CancelledWhileBlocked(t *testing.T) {
	h := handlerFunc(func(ctx context.Context, ev v1.ChangeEvent) error {
		<-ctx.Done()
		return ctx.Err()
	})
	p := NewPool(h, 1, 1)
	defer p.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := p.Dispatch(ctx, events(10, "li-1"))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPool_DispatchAfterStop(t *testing.T) {
	p := NewPool(newRecordingHandler(), 1, 1)
	p.Stop()
	p.Stop()

	_, err := p.Dispatch(context.Background(), events(1, "li-1"))
	assert.ErrorIs(t, err, errPoolStopped)
}

func TestPool_Defaults(t *testing.T) {
	p := NewPool(newRecordingHandler(), 0, 0)
	defer p.Stop()

	assert.Len(t, p.lanes, defaultWorkerCount)
	assert.Equal(t, defaultQueueSize/defaultWorkerCount, cap(p.lanes[0]))
}

func TestPool_RunsLanesConcurrently(t *testing.T) {
	var mu sync.Mutex
	active, peak := 0, 0
	h := handlerFunc(func(ctx context.Context, ev v1.ChangeEvent) error {
		mu.Lock()
		active++
		if active > peak {
			peak = active
		}
		mu.Unlock()
		time.Sleep(5 * time.Millisecond)
		mu.Lock()
		active--
		mu.Unlock()
		return nil
	})
	p := NewPool(h, 4, 16)
	defer p.Stop()

	ids := make([]string, 0, 32)
	for i := 0; i < 32; i++ {
		ids = append(ids, fmt.Sprintf("rec-%d", i))
	}
	_, err := p.Dispatch(context.Background(), events(64, ids...))
	require.NoError(t, err)
	assert.Greater(t, peak, 1)
	assert.LessOrEqual(t, peak, 4)
}
