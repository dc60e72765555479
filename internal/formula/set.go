package formula

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/aevon-lab/recalc/internal/core/storage"
	"github.com/aevon-lab/recalc/internal/model"
	"golang.org/x/sync/errgroup"
)

// Binding ties a ready formula to the field it computes.
type Binding struct {
	Ref      string
	ModelKey string
	FieldKey string
	Formula  Formula
}

// Set holds every ready formula keyed by reference. Read-only once built.
type Set struct {
	bindings map[string]Binding
	refs     []string
	failed   map[string]error
}

// SetOptions controls BuildSet.
type SetOptions struct {
	// Strict makes BuildSet fail on the first formula that does not compile.
	// Otherwise failing formulas are logged and left out of the set.
	Strict bool
}

// BuildSet compiles every formula field of every model concurrently and
// returns once all of them have resolved.
func BuildSet(ctx context.Context, compiler Compiler, registry *model.Registry, store storage.RecordStore, opts SetOptions) (*Set, error) {
	set := &Set{
		bindings: make(map[string]Binding),
		failed:   make(map[string]error),
	}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for _, modelKey := range registry.Keys() {
		m, _ := registry.Get(modelKey)
		for _, field := range m.FormulaFields() {
			b := Binding{
				Ref:      Ref(modelKey, field.Key),
				ModelKey: modelKey,
				FieldKey: field.Key,
			}
			b.Formula = compiler.Compile(gctx, Source{
				Expression: field.Settings.Formula,
				Label:      b.Ref,
				ModelKey:   modelKey,
				Registry:   registry,
				Store:      store,
			})

			g.Go(func() error {
				select {
				case <-b.Formula.Ready():
				case <-gctx.Done():
					return gctx.Err()
				}

				mu.Lock()
				defer mu.Unlock()
				if err := b.Formula.Err(); err != nil {
					if opts.Strict {
						return fmt.Errorf("compile %s: %w", b.Ref, err)
					}
					slog.Warn("[Formula] Skipping formula that failed to compile",
						"formula", b.Ref,
						"error", err)
					set.failed[b.Ref] = err
					return nil
				}
				set.bindings[b.Ref] = b
				return nil
			})
		}
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	for ref := range set.bindings {
		set.refs = append(set.refs, ref)
	}
	sort.Strings(set.refs)

	slog.Info("[Formula] Set ready",
		"formulas", len(set.refs),
		"failed", len(set.failed))
	return set, nil
}

// NewSet builds a set directly from bindings whose formulas are already
// ready. Intended for tests and embedding.
func NewSet(bindings ...Binding) *Set {
	set := &Set{
		bindings: make(map[string]Binding, len(bindings)),
		failed:   make(map[string]error),
	}
	for _, b := range bindings {
		if b.Ref == "" {
			b.Ref = Ref(b.ModelKey, b.FieldKey)
		}
		set.bindings[b.Ref] = b
		set.refs = append(set.refs, b.Ref)
	}
	sort.Strings(set.refs)
	return set
}

// Get returns the formula with the given reference key.
func (s *Set) Get(ref string) (Formula, bool) {
	b, ok := s.bindings[ref]
	if !ok {
		return nil, false
	}
	return b.Formula, true
}

// Binding returns the binding with the given reference key.
func (s *Set) Binding(ref string) (Binding, bool) {
	b, ok := s.bindings[ref]
	return b, ok
}

// Bindings returns every binding ordered by reference.
func (s *Set) Bindings() []Binding {
	out := make([]Binding, 0, len(s.refs))
	for _, ref := range s.refs {
		out = append(out, s.bindings[ref])
	}
	return out
}

// Len is the number of ready formulas.
func (s *Set) Len() int {
	return len(s.refs)
}

// Failed returns the compile errors of formulas left out of the set.
func (s *Set) Failed() map[string]error {
	out := make(map[string]error, len(s.failed))
	for k, v := range s.failed {
		out[k] = v
	}
	return out
}
