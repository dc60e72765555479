// Package trigger maps (model, field) pairs to the effects a change of that
// field must fire.
//
// The index is assembled once with a Builder and frozen by Build; the built
// Index is read-only and safe for concurrent use.
package trigger

import (
	"fmt"
	"log/slog"

	"github.com/aevon-lab/recalc/internal/formula"
)

// Kind is the type of effect a trigger entry fires.
type Kind string

const (
	// KindFormula recomputes a formula field.
	KindFormula Kind = "formula"
	// KindProcess runs a process. Modelled but not dispatched yet.
	KindProcess Kind = "process"
)

// Entry is one effect fired by a field change.
//
// For KindFormula, FormulaRef names the formula and TargetField the field its
// result is written to; Dependency is the dependency that produced the entry.
// For KindProcess, ProcessID names the process.
type Entry struct {
	Kind        Kind
	FormulaRef  string
	TargetField string
	Dependency  formula.Dependency
	ProcessID   string
}

func (e Entry) String() string {
	switch e.Kind {
	case KindFormula:
		return fmt.Sprintf("formula %s -> %s", e.FormulaRef, e.TargetField)
	case KindProcess:
		return fmt.Sprintf("process %s", e.ProcessID)
	default:
		return fmt.Sprintf("%s entry", e.Kind)
	}
}

// Index is the frozen trigger map, keyed model key → field key → entries.
type Index struct {
	entries map[string]map[string][]Entry
	size    int
}

// Lookup returns the entries registered for (modelKey, fieldKey), in
// registration order. The returned slice must not be modified.
func (ix *Index) Lookup(modelKey, fieldKey string) []Entry {
	if ix == nil {
		return nil
	}
	return ix.entries[modelKey][fieldKey]
}

// Watches reports whether any entry is registered for modelKey.
func (ix *Index) Watches(modelKey string) bool {
	if ix == nil {
		return false
	}
	return len(ix.entries[modelKey]) > 0
}

// Size is the total number of entries.
func (ix *Index) Size() int {
	if ix == nil {
		return 0
	}
	return ix.size
}

// Builder accumulates entries before the index is frozen.
type Builder struct {
	entries map[string]map[string][]Entry
	size    int
	built   bool
}

// NewBuilder creates an empty builder.
func NewBuilder() *Builder {
	return &Builder{entries: make(map[string]map[string][]Entry)}
}

// Add appends an entry under (modelKey, fieldKey). A pair may hold many
// entries. Adding after Build is an error.
func (b *Builder) Add(modelKey, fieldKey string, entry Entry) error {
	if b.built {
		return fmt.Errorf("trigger index already built")
	}
	if modelKey == "" || fieldKey == "" {
		return fmt.Errorf("trigger entry needs a model and field, got %q.%q", modelKey, fieldKey)
	}
	fields, ok := b.entries[modelKey]
	if !ok {
		fields = make(map[string][]Entry)
		b.entries[modelKey] = fields
	}
	fields[fieldKey] = append(fields[fieldKey], entry)
	b.size++
	return nil
}

// Build freezes the builder and returns the index.
func (b *Builder) Build() *Index {
	b.built = true
	ix := &Index{entries: b.entries, size: b.size}
	b.entries = nil
	return ix
}

// FromFormulaSet builds an index with one formula entry per declared
// dependency of every formula in the set.
func FromFormulaSet(set *formula.Set) (*Index, error) {
	b := NewBuilder()
	for _, binding := range set.Bindings() {
		for _, dep := range binding.Formula.Dependencies() {
			entry := Entry{
				Kind:        KindFormula,
				FormulaRef:  binding.Ref,
				TargetField: binding.FieldKey,
				Dependency:  dep,
			}
			if err := b.Add(dep.Model, dep.Field, entry); err != nil {
				return nil, fmt.Errorf("formula %s: %w", binding.Ref, err)
			}
		}
	}
	ix := b.Build()

	slog.Info("[Trigger] Index built",
		"formulas", set.Len(),
		"entries", ix.Size())
	return ix, nil
}
