package reactor

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	recalcerr "github.com/aevon-lab/recalc/internal/core/errors"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

// chainVisits is what one cascade chain has written so far, keyed by
// formula ref and record ID.
type chainVisits struct {
	mu      sync.Mutex
	written map[string]map[string]struct{}
}

// cascadeGuard stops runaway recompute chains. A chain is cut when it gets
// deeper than maxDepth, or when it would write a value it already wrote for
// the same (formula, record), which is how an oscillating cycle shows up.
// Only the most recent chains are remembered.
type cascadeGuard struct {
	maxDepth int
	chains   *lru.Cache[string, *chainVisits]
}

func newCascadeGuard(maxDepth, historySize int) (*cascadeGuard, error) {
	chains, err := lru.New[string, *chainVisits](historySize)
	if err != nil {
		return nil, fmt.Errorf("create cascade history: %w", err)
	}
	return &cascadeGuard{maxDepth: maxDepth, chains: chains}, nil
}

// checkDepth fails when an event at depth may not trigger further writes.
func (g *cascadeGuard) checkDepth(depth int) error {
	if depth >= g.maxDepth {
		return fmt.Errorf("%w: depth %d reached limit %d", recalcerr.ErrCascadeBlocked, depth, g.maxDepth)
	}
	return nil
}

// record registers that chainID is about to write value for (ref, recordID).
// A write that then fails must be undone with forget.
func (g *cascadeGuard) record(chainID, ref, recordID string, value interface{}) error {
	fresh := &chainVisits{written: make(map[string]map[string]struct{})}
	visits, found, _ := g.chains.PeekOrAdd(chainID, fresh)
	if !found {
		visits = fresh
	}

	fp, err := fingerprint(ref, value)
	if err != nil {
		return err
	}
	key := ref + "/" + recordID

	visits.mu.Lock()
	defer visits.mu.Unlock()
	values, ok := visits.written[key]
	if !ok {
		values = make(map[string]struct{})
		visits.written[key] = values
	}
	if _, seen := values[string(fp)]; seen {
		return fmt.Errorf("%w: chain %s already wrote %s to %s", recalcerr.ErrCascadeBlocked, chainID, fp, key)
	}
	values[string(fp)] = struct{}{}
	return nil
}

// forget drops a value registered by record whose write never happened.
func (g *cascadeGuard) forget(chainID, ref, recordID string, value interface{}) {
	visits, ok := g.chains.Peek(chainID)
	if !ok {
		return
	}
	fp, err := fingerprint(ref, value)
	if err != nil {
		return
	}
	key := ref + "/" + recordID

	visits.mu.Lock()
	defer visits.mu.Unlock()
	if values, ok := visits.written[key]; ok {
		delete(values, string(fp))
	}
}

func fingerprint(ref string, value interface{}) ([]byte, error) {
	fp, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("fingerprint result of %s: %w", ref, err)
	}
	return fp, nil
}

// quarantine counts consecutive evaluation failures per (formula, record).
// Once the count reaches limit the pair is skipped until the entry expires.
type quarantine struct {
	mu       sync.Mutex
	limit    int
	failures *expirable.LRU[string, int]
}

func newQuarantine(limit, size int, ttl time.Duration) *quarantine {
	return &quarantine{
		limit:    limit,
		failures: expirable.NewLRU[string, int](size, nil, ttl),
	}
}

func (q *quarantine) blocked(ref, recordID string) bool {
	n, ok := q.failures.Get(ref + "/" + recordID)
	return ok && n >= q.limit
}

// fail records one failure and reports whether it tipped the pair into quarantine.
func (q *quarantine) fail(ref, recordID string) bool {
	key := ref + "/" + recordID
	q.mu.Lock()
	defer q.mu.Unlock()
	n, _ := q.failures.Get(key)
	n++
	q.failures.Add(key, n)
	return n == q.limit
}

func (q *quarantine) succeed(ref, recordID string) {
	q.failures.Remove(ref + "/" + recordID)
}
