package memory

import (
	"context"
	"testing"

	v1 "github.com/aevon-lab/recalc/internal/api/v1"
	"github.com/aevon-lab/recalc/internal/core/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seed(t *testing.T) *Store {
	t.Helper()
	s := New()
	require.NoError(t, s.Put(v1.Record{ID: "inv-a", ModelKey: "invoice", Data: map[string]interface{}{"number": "A"}}))
	require.NoError(t, s.Put(v1.Record{ID: "li-1", ModelKey: "line_item", Data: map[string]interface{}{"invoice_id": "inv-a", "amount": 10}}))
	require.NoError(t, s.Put(v1.Record{ID: "li-2", ModelKey: "line_item", Data: map[string]interface{}{"invoice_id": "inv-a", "amount": 5}}))
	require.NoError(t, s.Put(v1.Record{ID: "li-3", ModelKey: "line_item", Data: map[string]interface{}{"invoice_id": "inv-b", "amount": 7}}))
	return s
}

func TestStore_FindByField(t *testing.T) {
	s := seed(t)

	recs, err := s.Find(context.Background(), storage.Filter{ModelKey: "line_item", Field: "invoice_id", Values: []string{"inv-a"}})
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "li-1", recs[0].ID)
	assert.Equal(t, "li-2", recs[1].ID)
	assert.Equal(t, float64(10), recs[0].Data["amount"])
}

func TestStore_FindOne_NotFound(t *testing.T) {
	s := seed(t)

	_, err := s.FindOne(context.Background(), storage.Filter{ModelKey: "user"})
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestStore_FindByIDs_SkipsUnknownAndDuplicates(t *testing.T) {
	s := seed(t)

	recs, err := s.FindByIDs(context.Background(), []string{"li-2", "missing", "li-1", "li-2"})
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "li-1", recs[0].ID)
	assert.Equal(t, "li-2", recs[1].ID)
}

func TestStore_UpdateFields_MergesAndEmitsChange(t *testing.T) {
	s := seed(t)
	ctx := context.Background()
	head, err := s.HeadSeq(ctx)
	require.NoError(t, err)

	origin := v1.Origin{ChainID: "chain-1", Depth: 1}
	require.NoError(t, s.UpdateFields(ctx, "inv-a", map[string]interface{}{"total": 15}, origin))

	rec, ok := s.Get("inv-a")
	require.True(t, ok)
	assert.Equal(t, "A", rec.Data["number"])
	assert.Equal(t, float64(15), rec.Data["total"])

	events, err := s.ChangesAfter(ctx, head, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, []string{"total"}, events[0].ChangedFields)
	assert.Equal(t, "chain-1", events[0].ChainID)
	assert.Equal(t, 1, events[0].Depth)
	assert.Equal(t, "inv-a", events[0].Document[v1.IDField])
	assert.Equal(t, map[string]interface{}{"total": nil}, events[0].Previous)
}

func TestStore_UpdateFields_NoOpEmitsNothing(t *testing.T) {
	s := seed(t)
	ctx := context.Background()
	head, _ := s.HeadSeq(ctx)

	require.NoError(t, s.UpdateFields(ctx, "li-1", map[string]interface{}{"amount": 10}, v1.Origin{}))

	events, err := s.ChangesAfter(ctx, head, 10)
	require.NoError(t, err)
	assert.Empty(t, events)
	assert.Len(t, s.Updates(), 1)
}

func TestStore_UpdateFields_UnknownRecord(t *testing.T) {
	s := New()
	err := s.UpdateFields(context.Background(), "nope", map[string]interface{}{"x": 1}, v1.Origin{})
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestStore_ChangesAfter_Limit(t *testing.T) {
	s := seed(t)

	events, err := s.ChangesAfter(context.Background(), 1, 2)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, int64(2), events[0].Seq)
	assert.Equal(t, int64(3), events[1].Seq)
}

func TestStore_Put_ReplaceDiffsRemovedKeys(t *testing.T) {
	s := seed(t)
	ctx := context.Background()
	head, _ := s.HeadSeq(ctx)

	require.NoError(t, s.Put(v1.Record{ID: "li-1", ModelKey: "line_item", Data: map[string]interface{}{"amount": 12}}))

	events, err := s.ChangesAfter(ctx, head, 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, []string{"amount", "invoice_id"}, events[0].ChangedFields)
	assert.Equal(t, map[string]interface{}{"amount": float64(10), "invoice_id": "inv-a"}, events[0].Previous)
}

func TestStore_Delete_EmitsChangeWithLastContent(t *testing.T) {
	s := seed(t)
	ctx := context.Background()
	head, _ := s.HeadSeq(ctx)

	require.NoError(t, s.Delete("li-1"))
	_, ok := s.Get("li-1")
	assert.False(t, ok)

	events, err := s.ChangesAfter(ctx, head, 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.True(t, events[0].Deleted)
	assert.Equal(t, "li-1", events[0].RecordID)
	assert.Equal(t, "line_item", events[0].ModelKey)
	assert.Equal(t, []string{"amount", "invoice_id"}, events[0].ChangedFields)
	assert.Equal(t, map[string]interface{}{"amount": float64(10), "invoice_id": "inv-a"}, events[0].Previous)
	assert.Empty(t, events[0].Document)

	assert.ErrorIs(t, s.Delete("li-1"), storage.ErrNotFound)
}

func TestStore_Checkpoint_Monotonic(t *testing.T) {
	s := New()
	ctx := context.Background()

	_, found, err := s.ReadCheckpoint(ctx, "recalc")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, s.WriteCheckpoint(ctx, "recalc", 10))
	require.NoError(t, s.WriteCheckpoint(ctx, "recalc", 4))

	cursor, found, err := s.ReadCheckpoint(ctx, "recalc")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, int64(10), cursor)
}

func TestStore_Notifications_Coalesced(t *testing.T) {
	s := seed(t)

	select {
	case <-s.Notifications():
	default:
		t.Fatal("expected a pending notification")
	}
	select {
	case <-s.Notifications():
		t.Fatal("notifications should be coalesced")
	default:
	}
}

func TestStore_PutModel(t *testing.T) {
	s := New()
	require.NoError(t, s.PutModel("invoice", map[string]interface{}{"key": "invoice"}))
	require.NoError(t, s.PutModel("invoice", map[string]interface{}{"key": "invoice", "name": "Invoice"}))

	defs, err := s.LoadModels(context.Background())
	require.NoError(t, err)
	require.Len(t, defs, 1)
	assert.JSONEq(t, `{"key":"invoice","name":"Invoice"}`, string(defs[0].Definition))
}
