// Package reactor turns committed record changes into formula recomputes.
//
// For every change event the reactor looks up the trigger entries of the
// changed fields and dispatches each one independently. Instant formulas are
// evaluated against the event's document and written straight back. Every
// other formula goes through the hierarchy resolver to find the affected
// records, which are loaded in one batch and recomputed one at a time.
package reactor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	v1 "github.com/aevon-lab/recalc/internal/api/v1"
	recalcerr "github.com/aevon-lab/recalc/internal/core/errors"
	"github.com/aevon-lab/recalc/internal/core/sequential"
	"github.com/aevon-lab/recalc/internal/core/storage"
	"github.com/aevon-lab/recalc/internal/formula"
	"github.com/aevon-lab/recalc/internal/metrics"
	"github.com/aevon-lab/recalc/internal/trigger"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

const (
	pathInstant = "instant"
	pathRemote  = "remote"
)

const (
	defaultEvalTimeout        = 5 * time.Second
	defaultStoreTimeout       = 10 * time.Second
	defaultMaxCascadeDepth    = 16
	defaultCascadeHistorySize = 4096
	defaultMaxEvalFailures    = 5
	defaultQuarantineTTL      = 10 * time.Minute
	defaultEntryConcurrency   = 8
)

// Resolver enumerates the records affected by a change of a remote dependency.
type Resolver interface {
	ResolveFrom(ctx context.Context, dep formula.Dependency, seed v1.Record) ([]string, error)
}

// Options tunes a Reactor. Zero values fall back to defaults.
type Options struct {
	EvalTimeout        time.Duration
	StoreTimeout       time.Duration
	MaxCascadeDepth    int
	CascadeHistorySize int
	MaxEvalFailures    int
	QuarantineTTL      time.Duration
	// EntryConcurrency bounds how many entries of one event run at once.
	EntryConcurrency int
	Metrics          *metrics.Metrics
}

func (o Options) normalized() Options {
	n := o
	if n.EvalTimeout <= 0 {
		n.EvalTimeout = defaultEvalTimeout
	}
	if n.StoreTimeout <= 0 {
		n.StoreTimeout = defaultStoreTimeout
	}
	if n.MaxCascadeDepth <= 0 {
		n.MaxCascadeDepth = defaultMaxCascadeDepth
	}
	if n.CascadeHistorySize <= 0 {
		n.CascadeHistorySize = defaultCascadeHistorySize
	}
	if n.MaxEvalFailures <= 0 {
		n.MaxEvalFailures = defaultMaxEvalFailures
	}
	if n.QuarantineTTL <= 0 {
		n.QuarantineTTL = defaultQuarantineTTL
	}
	if n.EntryConcurrency <= 0 {
		n.EntryConcurrency = defaultEntryConcurrency
	}
	return n
}

// Reactor dispatches change events. Safe for concurrent use.
type Reactor struct {
	index      *trigger.Index
	formulas   *formula.Set
	resolver   Resolver
	store      storage.RecordStore
	opts       Options
	guard      *cascadeGuard
	quarantine *quarantine
	flight     singleflight.Group
	newChainID func() string
}

// New creates a reactor over a frozen trigger index and a ready formula set.
func New(index *trigger.Index, formulas *formula.Set, resolver Resolver, store storage.RecordStore, opts Options) (*Reactor, error) {
	opts = opts.normalized()
	guard, err := newCascadeGuard(opts.MaxCascadeDepth, opts.CascadeHistorySize)
	if err != nil {
		return nil, err
	}
	return &Reactor{
		index:      index,
		formulas:   formulas,
		resolver:   resolver,
		store:      store,
		opts:       opts,
		guard:      guard,
		quarantine: newQuarantine(opts.MaxEvalFailures, opts.CascadeHistorySize, opts.QuarantineTTL),
		newChainID: newChainID,
	}, nil
}

func newChainID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// Handle reacts to one change event. Matching trigger entries are
// dispatched concurrently, up to EntryConcurrency at a time; a failing
// dispatch is logged and does not stop the others. The returned error joins every failure that is not an expected
// skip, or is ctx's error when the context ends mid-event.
func (r *Reactor) Handle(ctx context.Context, ev v1.ChangeEvent) error {
	if err := ev.Validate(); err != nil {
		return fmt.Errorf("invalid change event %d: %w", ev.Seq, err)
	}
	if !r.index.Watches(ev.ModelKey) {
		return nil
	}

	entries := r.entriesFor(ev)
	if len(entries) == 0 {
		return nil
	}

	if err := r.guard.checkDepth(ev.Depth); err != nil {
		r.opts.Metrics.ObserveCascadeBlock()
		slog.Warn("[Reactor] Cascade depth limit reached, dropping dispatches",
			"seq", ev.Seq,
			"model", ev.ModelKey,
			"record_id", ev.RecordID,
			"chain_id", ev.ChainID,
			"depth", ev.Depth,
			"entries", len(entries),
		)
		return nil
	}

	chainID := ev.ChainID
	if chainID == "" {
		chainID = r.newChainID()
	}
	origin := v1.Origin{ChainID: chainID, Depth: ev.Depth + 1}
	record := ev.Record()

	var (
		mu   sync.Mutex
		errs []error
		g    errgroup.Group
	)
	g.SetLimit(r.opts.EntryConcurrency)
	for _, entry := range entries {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			err := r.dispatch(ctx, ev, record, entry, origin)
			r.opts.Metrics.ObserveDispatch(string(recalcerr.Classify(err)))
			if err == nil || recalcerr.Skippable(err) || ctx.Err() != nil {
				return nil
			}
			mu.Lock()
			errs = append(errs, err)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return err
	}
	return errors.Join(errs...)
}

// entriesFor collects the entries of every changed field. An entry reached
// through two changed fields with the same hierarchy is dispatched once.
func (r *Reactor) entriesFor(ev v1.ChangeEvent) []trigger.Entry {
	var out []trigger.Entry
	seen := make(map[string]struct{})
	for _, field := range ev.ChangedFields {
		for _, entry := range r.index.Lookup(ev.ModelKey, field) {
			key := dispatchKey(entry)
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, entry)
		}
	}
	return out
}

func dispatchKey(e trigger.Entry) string {
	if e.Kind != trigger.KindFormula {
		return string(e.Kind) + "|" + e.ProcessID
	}
	var b strings.Builder
	b.WriteString(e.FormulaRef)
	for _, step := range e.Dependency.Parents {
		b.WriteByte('|')
		b.WriteString(step.String())
	}
	return b.String()
}

func (r *Reactor) dispatch(ctx context.Context, ev v1.ChangeEvent, record v1.Record, entry trigger.Entry, origin v1.Origin) error {
	switch entry.Kind {
	case trigger.KindFormula:
	case trigger.KindProcess:
		slog.Debug("[Reactor] Skip process trigger", "process", entry.ProcessID, "model", ev.ModelKey, "record_id", ev.RecordID)
		return fmt.Errorf("%w: process %s", recalcerr.ErrUnsupportedTrigger, entry.ProcessID)
	default:
		return fmt.Errorf("%w: kind %q", recalcerr.ErrUnsupportedTrigger, entry.Kind)
	}

	binding, ok := r.formulas.Binding(entry.FormulaRef)
	if !ok {
		slog.Debug("[Reactor] Skip entry for unknown formula", "formula", entry.FormulaRef)
		return fmt.Errorf("%w: %s", recalcerr.ErrMissingFormula, entry.FormulaRef)
	}

	dep := entry.Dependency
	if !dep.Remote() && binding.ModelKey != ev.ModelKey {
		err := fmt.Errorf("%w: %s reads %s.%s without parent steps",
			recalcerr.ErrMissingHierarchy, binding.Ref, ev.ModelKey, dep.Field)
		slog.Warn("[Reactor] Cannot resolve affected records", "formula", binding.Ref, "record_id", ev.RecordID, "error", err)
		return err
	}

	if binding.Formula.IsInstant() {
		if ev.Deleted {
			slog.Debug("[Reactor] Skip instant formula on deleted record", "formula", binding.Ref, "record_id", ev.RecordID)
			return nil
		}
		return r.recompute(ctx, binding, record, origin, pathInstant)
	}

	seeds := []v1.Record{record}
	if prev, ok := movedFrom(ev, dep); ok {
		seeds = append(seeds, prev)
	}
	return r.fanOut(ctx, seeds, binding, dep, origin)
}

// movedFrom returns the changed record as it was before ev when ev touched
// the field linking it to its first parent. Resolving from it reaches the
// parent the record was moved out of or deleted from.
func movedFrom(ev v1.ChangeEvent, dep formula.Dependency) (v1.Record, bool) {
	if len(dep.Parents) == 0 || len(ev.Previous) == 0 {
		return v1.Record{}, false
	}
	link, _, _ := strings.Cut(dep.Parents[0].Via, ".")
	if link == "" {
		return v1.Record{}, false
	}
	if _, ok := ev.Previous[link]; !ok {
		return v1.Record{}, false
	}
	return ev.PreviousRecord(), true
}

// fanOut recomputes binding on every record reached from the seeds.
func (r *Reactor) fanOut(ctx context.Context, seeds []v1.Record, binding formula.Binding, dep formula.Dependency, origin v1.Origin) error {
	var ids []string
	seen := make(map[string]struct{})
	for _, seed := range seeds {
		found, err := r.resolver.ResolveFrom(ctx, dep, seed)
		if err != nil {
			slog.Error("[Reactor] Hierarchy resolution failed",
				"formula", binding.Ref,
				"record_id", seed.ID,
				"error", err,
			)
			return fmt.Errorf("resolve records for %s: %w: %w", binding.Ref, recalcerr.ErrStore, err)
		}
		for _, id := range found {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}
	r.opts.Metrics.ObserveFanOut(len(ids))
	if len(ids) == 0 {
		return nil
	}

	loadCtx, cancel := withTimeout(ctx, r.opts.StoreTimeout)
	records, err := r.store.FindByIDs(loadCtx, ids)
	cancel()
	if err != nil {
		slog.Error("[Reactor] Loading affected records failed", "formula", binding.Ref, "count", len(ids), "error", err)
		return fmt.Errorf("load records for %s: %w: %w", binding.Ref, recalcerr.ErrStore, err)
	}

	targets := make([]v1.Record, 0, len(records))
	for _, rec := range records {
		if rec.ModelKey == binding.ModelKey {
			targets = append(targets, rec)
		}
	}

	var errs []error
	err = sequential.Each(ctx, targets, func(ctx context.Context, target v1.Record, _ int) error {
		err := r.coalesce(binding.Ref+"/"+target.ID, func() error {
			return r.recompute(ctx, binding, target, origin, pathRemote)
		})
		if err != nil && ctx.Err() == nil {
			errs = append(errs, err)
			return nil
		}
		return err
	})
	if err != nil {
		return err
	}
	return errors.Join(errs...)
}

// coalesce runs fn for key, or joins a run already in flight. A joined run
// may have read the store before the caller's change committed, so joiners
// run once more; callers that arrive during that second run share it.
func (r *Reactor) coalesce(key string, fn func() error) error {
	run := func() (interface{}, error) { return nil, fn() }
	_, err, shared := r.flight.Do(key, run)
	if !shared {
		return err
	}
	_, err, _ = r.flight.Do(key, run)
	return err
}

// recompute evaluates binding for target and writes the result back.
func (r *Reactor) recompute(ctx context.Context, binding formula.Binding, target v1.Record, origin v1.Origin, path string) error {
	if r.quarantine.blocked(binding.Ref, target.ID) {
		return fmt.Errorf("%w: %s on %s", recalcerr.ErrQuarantined, binding.Ref, target.ID)
	}

	evalCtx, cancel := withTimeout(ctx, r.opts.EvalTimeout)
	value, err := binding.Formula.Evaluate(evalCtx, target)
	cancel()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		r.opts.Metrics.ObserveEvalFailure()
		slog.Warn("[Reactor] Formula evaluation failed",
			"formula", binding.Ref,
			"record_id", target.ID,
			"error", err,
		)
		if r.quarantine.fail(binding.Ref, target.ID) {
			r.opts.Metrics.ObserveQuarantine()
			slog.Error("[Reactor] ALERT: formula quarantined for record after repeated failures",
				"formula", binding.Ref,
				"record_id", target.ID,
				"failures", r.opts.MaxEvalFailures,
				"ttl", r.opts.QuarantineTTL,
			)
		}
		if !errors.Is(err, recalcerr.ErrEvaluation) {
			err = fmt.Errorf("%w: %w", recalcerr.ErrEvaluation, err)
		}
		return err
	}
	r.quarantine.succeed(binding.Ref, target.ID)

	if err := r.guard.record(origin.ChainID, binding.Ref, target.ID, value); err != nil {
		r.opts.Metrics.ObserveCascadeBlock()
		slog.Warn("[Reactor] Cascade blocked",
			"formula", binding.Ref,
			"record_id", target.ID,
			"chain_id", origin.ChainID,
			"depth", origin.Depth,
			"error", err,
		)
		return err
	}

	storeCtx, cancel := withTimeout(ctx, r.opts.StoreTimeout)
	defer cancel()
	fields := map[string]interface{}{binding.FieldKey: value}
	if err := r.store.UpdateFields(storeCtx, target.ID, fields, origin); err != nil {
		r.guard.forget(origin.ChainID, binding.Ref, target.ID, value)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		slog.Error("[Reactor] Write failed",
			"formula", binding.Ref,
			"record_id", target.ID,
			"field", binding.FieldKey,
			"error", err,
		)
		return fmt.Errorf("write %s on %s: %w: %w", binding.FieldKey, target.ID, recalcerr.ErrStore, err)
	}

	r.opts.Metrics.ObserveWrite(path)
	slog.Debug("[Reactor] Formula written",
		"formula", binding.Ref,
		"record_id", target.ID,
		"path", path,
		"chain_id", origin.ChainID,
		"depth", origin.Depth,
	)
	return nil
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
