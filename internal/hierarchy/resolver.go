// Package hierarchy enumerates the records affected by a change of a remote
// formula dependency by walking its declared hierarchy steps.
package hierarchy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	v1 "github.com/aevon-lab/recalc/internal/api/v1"
	"github.com/aevon-lab/recalc/internal/core/sequential"
	"github.com/aevon-lab/recalc/internal/core/storage"
	"github.com/aevon-lab/recalc/internal/formula"
)

// errEmptyLevel stops the walk early. It never leaves this package.
var errEmptyLevel = errors.New("hierarchy level matched no records")

// Options configures a Resolver.
type Options struct {
	// QueryTimeout bounds each store query. Zero means no extra bound.
	QueryTimeout time.Duration
}

// Resolver walks hierarchy steps one level at a time.
type Resolver struct {
	store storage.RecordStore
	opts  Options
}

// NewResolver creates a resolver over store.
func NewResolver(store storage.RecordStore, opts Options) *Resolver {
	return &Resolver{store: store, opts: opts}
}

// Resolve returns the deduplicated IDs of the records reached from recordID
// through dep.Parents, sorted. With no parents the result is [recordID].
// A level with no matches ends the walk with an empty result, which is a
// normal outcome.
func (r *Resolver) Resolve(ctx context.Context, dep formula.Dependency, recordID string) ([]string, error) {
	return r.resolve(ctx, dep, recordID, nil)
}

// ResolveFrom is Resolve seeded with the changed record's current content,
// saving a read when the first step follows a field of that record.
func (r *Resolver) ResolveFrom(ctx context.Context, dep formula.Dependency, seed v1.Record) ([]string, error) {
	return r.resolve(ctx, dep, seed.ID, []v1.Record{seed})
}

func (r *Resolver) resolve(ctx context.Context, dep formula.Dependency, recordID string, seed []v1.Record) ([]string, error) {
	if len(dep.Parents) == 0 {
		return []string{recordID}, nil
	}

	ids := []string{recordID}
	records := seed

	err := sequential.Each(ctx, dep.Parents, func(ctx context.Context, step formula.HierarchyStep, level int) error {
		values, err := r.workingSet(ctx, step, ids, records)
		if err != nil {
			return fmt.Errorf("level %d (%s): %w", level, step, err)
		}
		if len(values) == 0 {
			slog.Debug("[Hierarchy] Empty working set",
				"dependency", dep.Model+"."+dep.Field,
				"record_id", recordID,
				"level", level,
				"step", step.String())
			return errEmptyLevel
		}

		matched, err := r.find(ctx, storage.Filter{ModelKey: step.Model, Field: step.Field, Values: values})
		if err != nil {
			return fmt.Errorf("level %d (%s): %w", level, step, err)
		}
		if len(matched) == 0 {
			slog.Debug("[Hierarchy] No records matched level",
				"dependency", dep.Model+"."+dep.Field,
				"record_id", recordID,
				"level", level,
				"step", step.String())
			return errEmptyLevel
		}

		records = matched
		ids = dedupe(recordIDs(matched))
		return nil
	})
	if errors.Is(err, errEmptyLevel) {
		return []string{}, nil
	}
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// workingSet is the set of values the step's field is matched against.
func (r *Resolver) workingSet(ctx context.Context, step formula.HierarchyStep, ids []string, records []v1.Record) ([]string, error) {
	if step.Via == "" {
		return ids, nil
	}
	if records == nil {
		loaded, err := r.findByIDs(ctx, ids)
		if err != nil {
			return nil, err
		}
		records = loaded
	}
	var values []string
	for _, rec := range records {
		v, ok := rec.Get(step.Via)
		if !ok {
			continue
		}
		values = append(values, storage.IdentifierStrings(v)...)
	}
	return dedupe(values), nil
}

func (r *Resolver) find(ctx context.Context, filter storage.Filter) ([]v1.Record, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	return r.store.Find(ctx, filter)
}

func (r *Resolver) findByIDs(ctx context.Context, ids []string) ([]v1.Record, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	return r.store.FindByIDs(ctx, ids)
}

func (r *Resolver) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.opts.QueryTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, r.opts.QueryTimeout)
}

func recordIDs(records []v1.Record) []string {
	out := make([]string, len(records))
	for i, rec := range records {
		out[i] = rec.ID
	}
	return out
}

func dedupe(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
