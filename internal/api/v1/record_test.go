package v1

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecord_DocumentInjectsID(t *testing.T) {
	rec := Record{ID: "rec-1", ModelKey: "invoice", Data: map[string]interface{}{"total": 15.0}}

	doc := rec.Document()
	assert.Equal(t, "rec-1", doc[IDField])
	assert.Equal(t, 15.0, doc["total"])

	doc["extra"] = true
	_, leaked := rec.Data["extra"]
	assert.False(t, leaked, "Document must not alias Data")
}

func TestRecord_Get(t *testing.T) {
	rec := Record{ID: "rec-1", Data: map[string]interface{}{"amount": 10.0}}

	v, ok := rec.Get(IDField)
	require.True(t, ok)
	assert.Equal(t, "rec-1", v)

	v, ok = rec.Get("amount")
	require.True(t, ok)
	assert.Equal(t, 10.0, v)

	_, ok = rec.Get("missing")
	assert.False(t, ok)
}

func TestChangeEvent_Validate(t *testing.T) {
	tests := []struct {
		name    string
		event   ChangeEvent
		wantErr string
	}{
		{name: "valid", event: ChangeEvent{ModelKey: "invoice", RecordID: "A"}},
		{name: "missing model", event: ChangeEvent{RecordID: "A"}, wantErr: "model_key is required"},
		{name: "missing record", event: ChangeEvent{ModelKey: "invoice"}, wantErr: "record_id is required"},
		{name: "negative depth", event: ChangeEvent{ModelKey: "invoice", RecordID: "A", Depth: -1}, wantErr: "depth must be >= 0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.event.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.EqualError(t, err, tt.wantErr)
		})
	}
}

func TestChangeEvent_RecordStripsID(t *testing.T) {
	evt := ChangeEvent{
		ModelKey: "line_item",
		RecordID: "L1",
		Document: map[string]interface{}{IDField: "L1", "amount": 10.0},
	}

	rec := evt.Record()
	assert.Equal(t, "L1", rec.ID)
	assert.Equal(t, "line_item", rec.ModelKey)
	assert.Equal(t, map[string]interface{}{"amount": 10.0}, rec.Data)
}

func TestChangeEvent_PreviousRecord(t *testing.T) {
	ev := ChangeEvent{
		ModelKey:      "line_item",
		RecordID:      "li-1",
		ChangedFields: []string{"invoice_id", "note"},
		Document:      map[string]interface{}{IDField: "li-1", "invoice_id": "inv-b", "amount": 3.0, "note": "x"},
		Previous:      map[string]interface{}{"invoice_id": "inv-a", "note": nil},
	}

	prev := ev.PreviousRecord()
	assert.Equal(t, map[string]interface{}{"invoice_id": "inv-a", "amount": 3.0}, prev.Data)
	assert.Equal(t, "inv-b", ev.Record().Data["invoice_id"])
}
