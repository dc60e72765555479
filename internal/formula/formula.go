// Package formula compiles formula field expressions and reports the fields
// each formula depends on.
//
// A formula is compiled from one field's expression in the scope of its
// owning model. Compilation is asynchronous: callers wait on Ready and then
// check Err before using Dependencies or Evaluate.
package formula

import (
	"context"
	"errors"
	"fmt"
	"strings"

	v1 "github.com/aevon-lab/recalc/internal/api/v1"
	"github.com/aevon-lab/recalc/internal/core/storage"
	"github.com/aevon-lab/recalc/internal/model"
)

// ErrNotReady is returned by Evaluate before compilation has finished.
var ErrNotReady = errors.New("formula not ready")

// HierarchyStep is one level of the walk from a changed record to the
// records whose formula must be recomputed.
//
// At each level the resolver finds records of Model whose Field contains any
// value of the working set. With Via empty the working set is the previous
// level's record IDs; otherwise it is the values of field Via on the previous
// level's records. Field v1.IDField matches the record ID.
type HierarchyStep struct {
	Model string
	Field string
	Via   string
}

func (s HierarchyStep) String() string {
	if s.Via == "" {
		return fmt.Sprintf("%s.%s", s.Model, s.Field)
	}
	return fmt.Sprintf("%s.%s<-%s", s.Model, s.Field, s.Via)
}

// Dependency is one (model, field) a formula reads, plus the steps that lead
// from a changed record of Model back to the formula's owning records.
// No parents means the owning record is the changed record itself.
type Dependency struct {
	Model   string
	Field   string
	Parents []HierarchyStep
}

// Remote reports whether the dependency reaches other records.
func (d Dependency) Remote() bool {
	return len(d.Parents) > 0
}

func (d Dependency) key() string {
	var b strings.Builder
	b.WriteString(d.Model)
	b.WriteByte('.')
	b.WriteString(d.Field)
	for _, p := range d.Parents {
		b.WriteByte('|')
		b.WriteString(p.String())
	}
	return b.String()
}

// Formula is a compiled formula expression.
type Formula interface {
	// Ready is closed once compilation has finished, successfully or not.
	Ready() <-chan struct{}

	// Err reports the compilation error, if any. Only meaningful after Ready.
	Err() error

	// Dependencies lists every field the formula reads.
	Dependencies() []Dependency

	// IsInstant reports whether the formula reads only its own record, so it
	// can be evaluated against a change event's document without store access.
	IsInstant() bool

	// Evaluate computes the formula for one record of the owning model.
	// The result is a JSON-compatible value. Same input, same output.
	Evaluate(ctx context.Context, record v1.Record) (interface{}, error)
}

// Source is everything needed to compile one formula field.
type Source struct {
	Expression string
	Label      string
	ModelKey   string
	Registry   *model.Registry
	Store      storage.RecordStore
}

// Compiler turns a Source into a Formula. Compile returns immediately; the
// returned Formula becomes ready asynchronously.
type Compiler interface {
	Compile(ctx context.Context, src Source) Formula
}

// Ref is the formula reference key of a model field.
func Ref(modelKey, fieldKey string) string {
	return modelKey + "." + fieldKey
}
