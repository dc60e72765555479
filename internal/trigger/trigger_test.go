package trigger

import (
	"context"
	"testing"

	v1 "github.com/aevon-lab/recalc/internal/api/v1"
	"github.com/aevon-lab/recalc/internal/formula"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeFormula struct {
	deps []formula.Dependency
}

func (f fakeFormula) Ready() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (f fakeFormula) Err() error                         { return nil }
func (f fakeFormula) Dependencies() []formula.Dependency { return f.deps }
func (f fakeFormula) IsInstant() bool                    { return true }
func (f fakeFormula) Evaluate(context.Context, v1.Record) (interface{}, error) {
	return nil, nil
}

func TestBuilder_MultipleEntriesPerField(t *testing.T) {
	b := NewBuilder()
	require.NoError(t, b.Add("line_item", "amount", Entry{Kind: KindFormula, FormulaRef: "line_item.tax", TargetField: "tax"}))
	require.NoError(t, b.Add("line_item", "amount", Entry{Kind: KindFormula, FormulaRef: "invoice.total", TargetField: "total"}))
	require.NoError(t, b.Add("line_item", "sku", Entry{Kind: KindProcess, ProcessID: "notify"}))

	ix := b.Build()
	assert.Equal(t, 3, ix.Size())

	entries := ix.Lookup("line_item", "amount")
	require.Len(t, entries, 2)
	assert.Equal(t, "line_item.tax", entries[0].FormulaRef)
	assert.Equal(t, "invoice.total", entries[1].FormulaRef)

	assert.Empty(t, ix.Lookup("line_item", "missing"))
	assert.Empty(t, ix.Lookup("missing", "amount"))
	assert.True(t, ix.Watches("line_item"))
	assert.False(t, ix.Watches("user"))
}

func TestBuilder_FrozenAfterBuild(t *testing.T) {
	b := NewBuilder()
	ix := b.Build()

	err := b.Add("invoice", "total", Entry{Kind: KindFormula})
	require.ErrorContains(t, err, "already built")
	assert.Zero(t, ix.Size())
}

func TestBuilder_RejectsEmptyKeys(t *testing.T) {
	b := NewBuilder()
	require.Error(t, b.Add("", "total", Entry{}))
	require.Error(t, b.Add("invoice", "", Entry{}))
}

func TestNilIndex(t *testing.T) {
	var ix *Index
	assert.Nil(t, ix.Lookup("a", "b"))
	assert.Zero(t, ix.Size())
	assert.False(t, ix.Watches("a"))
}

func TestFromFormulaSet_OneEntryPerDependency(t *testing.T) {
	up := []formula.HierarchyStep{{Model: "invoice", Field: v1.IDField, Via: "invoice_id"}}
	set := formula.NewSet(
		formula.Binding{
			ModelKey: "invoice",
			FieldKey: "total",
			Formula: fakeFormula{deps: []formula.Dependency{
				{Model: "line_item", Field: "amount", Parents: up},
				{Model: "line_item", Field: "invoice_id", Parents: up},
			}},
		},
		formula.Binding{
			ModelKey: "line_item",
			FieldKey: "amount_with_tax",
			Formula:  fakeFormula{deps: []formula.Dependency{{Model: "line_item", Field: "amount"}}},
		},
	)

	ix, err := FromFormulaSet(set)
	require.NoError(t, err)
	assert.Equal(t, 3, ix.Size())

	amount := ix.Lookup("line_item", "amount")
	require.Len(t, amount, 2)
	assert.Equal(t, Entry{
		Kind:        KindFormula,
		FormulaRef:  "invoice.total",
		TargetField: "total",
		Dependency:  formula.Dependency{Model: "line_item", Field: "amount", Parents: up},
	}, amount[0])
	assert.Equal(t, "line_item.amount_with_tax", amount[1].FormulaRef)
	assert.Equal(t, "amount_with_tax", amount[1].TargetField)

	fk := ix.Lookup("line_item", "invoice_id")
	require.Len(t, fk, 1)
	assert.Equal(t, "invoice.total", fk[0].FormulaRef)

	// The owning model itself is not a trigger key for remote dependencies.
	assert.False(t, ix.Watches("invoice"))
}

func TestFromFormulaSet_ModelsWithoutFormulasHaveNoEntries(t *testing.T) {
	ix, err := FromFormulaSet(formula.NewSet())
	require.NoError(t, err)
	assert.Zero(t, ix.Size())
	assert.False(t, ix.Watches("user"))
}
