package formula

import (
	"context"
	"fmt"
	"log/slog"

	v1 "github.com/aevon-lab/recalc/internal/api/v1"
	recalcerr "github.com/aevon-lab/recalc/internal/core/errors"
	"github.com/aevon-lab/recalc/internal/core/storage"
	"github.com/aevon-lab/recalc/internal/model"
	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/function"
)

// HCLCompiler compiles formulas written as HCL expressions.
//
// References:
//
//	record.<field>                     a field of the evaluated record
//	<relation>[.<relation>...].<field> the field's values over related records
//
// Relation references evaluate to a list, one value per related record,
// suitable for sum, count, avg, min and max.
type HCLCompiler struct {
	functions map[string]function.Function
}

// NewHCLCompiler creates a compiler with the standard function table.
func NewHCLCompiler() *HCLCompiler {
	return &HCLCompiler{functions: Functions()}
}

// Compile starts compiling src in the background.
func (c *HCLCompiler) Compile(ctx context.Context, src Source) Formula {
	f := &hclFormula{
		src:       src,
		ref:       src.Label,
		functions: c.functions,
		ready:     make(chan struct{}),
	}
	go f.compile(ctx)
	return f
}

type hclFormula struct {
	src       Source
	ref       string
	functions map[string]function.Function

	ready chan struct{}
	err   error

	expr     hcl.Expression
	owner    *model.Model
	analysis *analysis
}

func (f *hclFormula) compile(ctx context.Context) {
	defer close(f.ready)

	if err := ctx.Err(); err != nil {
		f.err = err
		return
	}
	if f.src.Registry == nil {
		f.err = fmt.Errorf("formula %s: no model registry", f.ref)
		return
	}
	owner, err := f.src.Registry.Lookup(f.src.ModelKey)
	if err != nil {
		f.err = fmt.Errorf("formula %s: %w", f.ref, err)
		return
	}

	expr, diags := hclsyntax.ParseExpression([]byte(f.src.Expression), f.ref, hcl.InitialPos)
	if diags.HasErrors() {
		f.err = fmt.Errorf("formula %s: parse: %s", f.ref, diags.Error())
		return
	}

	for _, name := range calledFunctions(expr) {
		if _, ok := f.functions[name]; !ok {
			f.err = fmt.Errorf("formula %s: unknown function %q", f.ref, name)
			return
		}
	}

	a, err := analyze(expr.Variables(), owner, f.src.Registry)
	if err != nil {
		f.err = fmt.Errorf("formula %s: %w", f.ref, err)
		return
	}
	if len(a.paths) > 0 && f.src.Store == nil {
		f.err = fmt.Errorf("formula %s: relation references need a record store", f.ref)
		return
	}

	f.expr = expr
	f.owner = owner
	f.analysis = a

	slog.Debug("[Formula] Compiled",
		"formula", f.ref,
		"dependencies", len(a.deps),
		"instant", len(a.paths) == 0)
}

func (f *hclFormula) Ready() <-chan struct{} { return f.ready }

func (f *hclFormula) Err() error {
	select {
	case <-f.ready:
		return f.err
	default:
		return ErrNotReady
	}
}

func (f *hclFormula) Dependencies() []Dependency {
	if f.Err() != nil {
		return nil
	}
	out := make([]Dependency, len(f.analysis.deps))
	copy(out, f.analysis.deps)
	return out
}

func (f *hclFormula) IsInstant() bool {
	return f.Err() == nil && len(f.analysis.paths) == 0
}

func (f *hclFormula) Evaluate(ctx context.Context, record v1.Record) (interface{}, error) {
	if err := f.Err(); err != nil {
		return nil, err
	}

	vars, err := f.variables(ctx, record)
	if err != nil {
		return nil, err
	}

	val, diags := f.expr.Value(&hcl.EvalContext{Variables: vars, Functions: f.functions})
	if diags.HasErrors() {
		return nil, fmt.Errorf("%w: %s on %s: %s", recalcerr.ErrEvaluation, f.ref, record.ID, diags.Error())
	}
	out, err := fromCty(val)
	if err != nil {
		return nil, fmt.Errorf("%w: %s on %s: %w", recalcerr.ErrEvaluation, f.ref, record.ID, err)
	}
	return out, nil
}

// variables builds the evaluation scope: the record itself, with every model
// field present (null when unset), and one object per relation root whose
// leaves are value lists.
func (f *hclFormula) variables(ctx context.Context, record v1.Record) (map[string]cty.Value, error) {
	vars := make(map[string]cty.Value, 1+len(f.analysis.paths))

	recordVal, err := toCty(f.document(record))
	if err != nil {
		return nil, fmt.Errorf("%w: %s on %s: %w", recalcerr.ErrEvaluation, f.ref, record.ID, err)
	}
	vars[RecordRoot] = recordVal

	if len(f.analysis.paths) == 0 {
		return vars, nil
	}

	tree := make(map[string]interface{})
	for _, path := range f.analysis.paths {
		values, err := collect(ctx, f.src.Store, record, path)
		if err != nil {
			return nil, fmt.Errorf("formula %s on %s: %w", f.ref, record.ID, err)
		}
		setPath(tree, append(path.names(), path.Field), values)
	}
	for root, sub := range tree {
		val, err := toCty(sub)
		if err != nil {
			return nil, fmt.Errorf("%w: %s on %s: %w", recalcerr.ErrEvaluation, f.ref, record.ID, err)
		}
		vars[root] = val
	}
	return vars, nil
}

func (f *hclFormula) document(record v1.Record) map[string]interface{} {
	doc := record.Document()
	for key := range f.owner.Fields {
		if _, ok := doc[key]; !ok {
			doc[key] = nil
		}
	}
	return doc
}

// collect walks path from record and returns the field values of the
// records it reaches, ordered by record ID at every level.
func collect(ctx context.Context, store storage.RecordStore, record v1.Record, path relationPath) ([]interface{}, error) {
	current := []v1.Record{record}
	for _, h := range path.Hops {
		if len(current) == 0 {
			break
		}
		next, err := follow(ctx, store, current, h)
		if err != nil {
			return nil, err
		}
		current = next
	}

	values := make([]interface{}, 0, len(current))
	for _, rec := range current {
		v, _ := rec.Get(path.Field)
		values = append(values, v)
	}
	return values, nil
}

func follow(ctx context.Context, store storage.RecordStore, from []v1.Record, h hop) ([]v1.Record, error) {
	if h.Relation.ForeignKey != "" {
		ids := make([]string, len(from))
		for i, rec := range from {
			ids[i] = rec.ID
		}
		recs, err := store.Find(ctx, storage.Filter{ModelKey: h.To, Field: h.Relation.ForeignKey, Values: ids})
		if err != nil {
			return nil, fmt.Errorf("load %s via %s: %w", h.To, h.Name, err)
		}
		return recs, nil
	}

	var ids []string
	for _, rec := range from {
		v, ok := rec.Get(h.Relation.Field)
		if !ok {
			continue
		}
		ids = append(ids, storage.IdentifierStrings(v)...)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	recs, err := store.FindByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load %s via %s: %w", h.To, h.Name, err)
	}
	out := recs[:0]
	for _, rec := range recs {
		if rec.ModelKey == h.To {
			out = append(out, rec)
		}
	}
	return out, nil
}

// setPath stores value at the nested key path, creating maps along the way.
func setPath(tree map[string]interface{}, keys []string, value interface{}) {
	node := tree
	for _, k := range keys[:len(keys)-1] {
		child, ok := node[k].(map[string]interface{})
		if !ok {
			child = make(map[string]interface{})
			node[k] = child
		}
		node = child
	}
	node[keys[len(keys)-1]] = value
}

// calledFunctions lists the names of every function call in expr.
func calledFunctions(expr hclsyntax.Expression) []string {
	var names []string
	hclsyntax.VisitAll(expr, func(node hclsyntax.Node) hcl.Diagnostics {
		if call, ok := node.(*hclsyntax.FunctionCallExpr); ok {
			names = append(names, call.Name)
		}
		return nil
	})
	return names
}
