package hierarchy

import (
	"context"
	"errors"
	"testing"

	v1 "github.com/aevon-lab/recalc/internal/api/v1"
	"github.com/aevon-lab/recalc/internal/core/storage"
	"github.com/aevon-lab/recalc/internal/core/storage/memory"
	"github.com/aevon-lab/recalc/internal/formula"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seed(t *testing.T) *memory.Store {
	t.Helper()
	s := memory.New()
	for _, rec := range []v1.Record{
		{ID: "cust-1", ModelKey: "customer", Data: map[string]interface{}{}},
		{ID: "inv-a", ModelKey: "invoice", Data: map[string]interface{}{"customer_id": "cust-1"}},
		{ID: "inv-b", ModelKey: "invoice", Data: map[string]interface{}{"customer_id": "cust-1"}},
		{ID: "inv-orphan", ModelKey: "invoice", Data: map[string]interface{}{}},
		{ID: "li-1", ModelKey: "line_item", Data: map[string]interface{}{"invoice_id": "inv-a", "amount": 10}},
		{ID: "li-2", ModelKey: "line_item", Data: map[string]interface{}{"invoice_id": "inv-a", "amount": 5}},
		{ID: "li-3", ModelKey: "line_item", Data: map[string]interface{}{"invoice_id": "inv-orphan", "amount": 1}},
		{ID: "li-4", ModelKey: "line_item", Data: map[string]interface{}{"amount": 1}},

		{ID: "task-1", ModelKey: "task", Data: map[string]interface{}{}},
		{ID: "proj-1", ModelKey: "project", Data: map[string]interface{}{"tasks": []interface{}{"task-1", "task-2"}}},
		{ID: "proj-2", ModelKey: "project", Data: map[string]interface{}{"tasks": []interface{}{"task-1"}}},
		{ID: "proj-3", ModelKey: "project", Data: map[string]interface{}{"tasks": []interface{}{"task-9"}}},
		{ID: "pf-1", ModelKey: "portfolio", Data: map[string]interface{}{"projects": []interface{}{"proj-1", "proj-2"}}},
		{ID: "pf-2", ModelKey: "portfolio", Data: map[string]interface{}{"projects": "proj-2"}},
		{ID: "pf-3", ModelKey: "portfolio", Data: map[string]interface{}{"projects": []interface{}{"proj-3"}}},
	} {
		require.NoError(t, s.Put(rec))
	}
	return s
}

var (
	toInvoice   = formula.HierarchyStep{Model: "invoice", Field: v1.IDField, Via: "invoice_id"}
	toCustomer  = formula.HierarchyStep{Model: "customer", Field: v1.IDField, Via: "customer_id"}
	toProject   = formula.HierarchyStep{Model: "project", Field: "tasks"}
	toPortfolio = formula.HierarchyStep{Model: "portfolio", Field: "projects"}
)

func TestResolve(t *testing.T) {
	store := seed(t)
	r := NewResolver(store, Options{})

	tests := []struct {
		name     string
		dep      formula.Dependency
		recordID string
		want     []string
	}{
		{
			name:     "no parents is the record itself",
			dep:      formula.Dependency{Model: "invoice", Field: "number"},
			recordID: "inv-a",
			want:     []string{"inv-a"},
		},
		{
			name:     "child to parent through foreign key",
			dep:      formula.Dependency{Model: "line_item", Field: "amount", Parents: []formula.HierarchyStep{toInvoice}},
			recordID: "li-1",
			want:     []string{"inv-a"},
		},
		{
			name:     "two levels through foreign keys",
			dep:      formula.Dependency{Model: "line_item", Field: "amount", Parents: []formula.HierarchyStep{toInvoice, toCustomer}},
			recordID: "li-2",
			want:     []string{"cust-1"},
		},
		{
			name:     "id lists fan out and deduplicate",
			dep:      formula.Dependency{Model: "task", Field: "done", Parents: []formula.HierarchyStep{toProject, toPortfolio}},
			recordID: "task-1",
			want:     []string{"pf-1", "pf-2"},
		},
		{
			name:     "single level id list",
			dep:      formula.Dependency{Model: "task", Field: "done", Parents: []formula.HierarchyStep{toProject}},
			recordID: "task-1",
			want:     []string{"proj-1", "proj-2"},
		},
		{
			name:     "empty intermediate level",
			dep:      formula.Dependency{Model: "line_item", Field: "amount", Parents: []formula.HierarchyStep{toInvoice, toCustomer}},
			recordID: "li-3",
			want:     []string{},
		},
		{
			name:     "missing foreign key value",
			dep:      formula.Dependency{Model: "line_item", Field: "amount", Parents: []formula.HierarchyStep{toInvoice}},
			recordID: "li-4",
			want:     []string{},
		},
		{
			name:     "unknown record",
			dep:      formula.Dependency{Model: "task", Field: "done", Parents: []formula.HierarchyStep{toProject}},
			recordID: "task-404",
			want:     []string{},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := r.Resolve(context.Background(), tc.dep, tc.recordID)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

// countingStore records how often each read is issued.
type countingStore struct {
	storage.RecordStore
	finds     int
	findByIDs int
	err       error
}

func (c *countingStore) Find(ctx context.Context, f storage.Filter) ([]v1.Record, error) {
	c.finds++
	if c.err != nil {
		return nil, c.err
	}
	return c.RecordStore.Find(ctx, f)
}

func (c *countingStore) FindByIDs(ctx context.Context, ids []string) ([]v1.Record, error) {
	c.findByIDs++
	if c.err != nil {
		return nil, c.err
	}
	return c.RecordStore.FindByIDs(ctx, ids)
}

func TestResolve_OneQueryPerLevel(t *testing.T) {
	store := &countingStore{RecordStore: seed(t)}
	r := NewResolver(store, Options{})

	dep := formula.Dependency{Model: "task", Field: "done", Parents: []formula.HierarchyStep{toProject, toPortfolio}}
	_, err := r.Resolve(context.Background(), dep, "task-1")
	require.NoError(t, err)
	assert.Equal(t, 2, store.finds)
	assert.Zero(t, store.findByIDs)
}

func TestResolveFrom_UsesSeedDocument(t *testing.T) {
	mem := seed(t)
	store := &countingStore{RecordStore: mem}
	r := NewResolver(store, Options{})

	li, ok := mem.Get("li-1")
	require.True(t, ok)

	dep := formula.Dependency{Model: "line_item", Field: "amount", Parents: []formula.HierarchyStep{toInvoice}}
	got, err := r.ResolveFrom(context.Background(), dep, li)
	require.NoError(t, err)
	assert.Equal(t, []string{"inv-a"}, got)
	assert.Zero(t, store.findByIDs)
	assert.Equal(t, 1, store.finds)
}

func TestResolve_StoreErrorPropagates(t *testing.T) {
	store := &countingStore{RecordStore: seed(t), err: errors.New("connection refused")}
	r := NewResolver(store, Options{})

	dep := formula.Dependency{Model: "task", Field: "done", Parents: []formula.HierarchyStep{toProject}}
	_, err := r.Resolve(context.Background(), dep, "task-1")
	require.ErrorContains(t, err, "connection refused")
	assert.ErrorContains(t, err, "level 0")
}

func TestResolve_Cancelled(t *testing.T) {
	r := NewResolver(seed(t), Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	dep := formula.Dependency{Model: "task", Field: "done", Parents: []formula.HierarchyStep{toProject}}
	_, err := r.Resolve(ctx, dep, "task-1")
	require.ErrorIs(t, err, context.Canceled)
}
