package v1

import (
	"fmt"
	"time"
)

// IDField is the document key under which a record's identifier is exposed
// to formulas and hierarchy steps.
const IDField = "_id"

// Record is a stored object of one model.
type Record struct {
	// ID is the unique identifier of the record across all models.
	ID string `json:"_id"`

	// ModelKey identifies the model (schema) this record belongs to.
	ModelKey string `json:"model_key"`

	// Data is the record's field values, keyed by field key.
	Data map[string]interface{} `json:"data"`

	// UpdatedAt is the time of the last committed write.
	UpdatedAt time.Time `json:"updated_at"`
}

// Document returns the record's data with the identifier injected under IDField.
// The returned map is a shallow copy; callers may add keys without touching Data.
func (r Record) Document() map[string]interface{} {
	doc := make(map[string]interface{}, len(r.Data)+1)
	for k, v := range r.Data {
		doc[k] = v
	}
	doc[IDField] = r.ID
	return doc
}

// Get returns the value of a field, resolving IDField to the record ID.
func (r Record) Get(field string) (interface{}, bool) {
	if field == IDField {
		return r.ID, true
	}
	v, ok := r.Data[field]
	return v, ok
}

// ChangeEvent is one committed write as observed on the change feed.
type ChangeEvent struct {
	// Seq is the feed position. Assigned when the change is captured, so a
	// lower Seq can become visible after a higher one.
	Seq int64 `json:"seq"`

	// ModelKey is the model of the changed record.
	ModelKey string `json:"model_key"`

	// RecordID identifies the changed record.
	RecordID string `json:"record_id"`

	// ChangedFields lists the top-level field keys whose value changed.
	ChangedFields []string `json:"changed_fields"`

	// Document is the full record content after the change.
	Document map[string]interface{} `json:"document"`

	// Previous holds the values ChangedFields had before the change. A field
	// that did not exist before maps to nil.
	Previous map[string]interface{} `json:"previous,omitempty"`

	// Deleted marks the removal of the record. Previous then carries its
	// last content and Document is empty.
	Deleted bool `json:"deleted,omitempty"`

	// ChainID correlates writes made by the engine in reaction to an earlier
	// change. Empty for writes that originated outside the engine.
	ChainID string `json:"chain_id,omitempty"`

	// Depth is the number of engine writes between the originating change and
	// this one. Zero for external writes.
	Depth int `json:"depth"`

	ChangedAt time.Time `json:"changed_at"`
}

// Validate ensures the event carries everything the reactor needs.
func (e *ChangeEvent) Validate() error {
	if e.ModelKey == "" {
		return fmt.Errorf("model_key is required")
	}
	if e.RecordID == "" {
		return fmt.Errorf("record_id is required")
	}
	if e.Depth < 0 {
		return fmt.Errorf("depth must be >= 0")
	}
	return nil
}

// Record returns the post-change state of the record as a Record.
func (e *ChangeEvent) Record() Record {
	data := make(map[string]interface{}, len(e.Document))
	for k, v := range e.Document {
		if k == IDField {
			continue
		}
		data[k] = v
	}
	return Record{
		ID:        e.RecordID,
		ModelKey:  e.ModelKey,
		Data:      data,
		UpdatedAt: e.ChangedAt,
	}
}

// PreviousRecord returns the record as it was before the change.
func (e *ChangeEvent) PreviousRecord() Record {
	rec := e.Record()
	for k, v := range e.Previous {
		if v == nil {
			delete(rec.Data, k)
			continue
		}
		rec.Data[k] = v
	}
	return rec
}

// Origin tags a write performed by the engine so the change it produces can
// be traced back to the chain that caused it.
type Origin struct {
	ChainID string
	Depth   int
}
