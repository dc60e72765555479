package storage

import (
	"context"
	"errors"

	v1 "github.com/aevon-lab/recalc/internal/api/v1"
)

// ErrNotFound is returned when no record matches a lookup.
var ErrNotFound = errors.New("record not found")

// ModelDefinition is the raw, undecoded definition of one model as stored.
type ModelDefinition struct {
	Key        string
	Definition []byte
}

// Filter selects records of one model.
//
// With Field empty every record of ModelKey matches. Otherwise a record
// matches when its Field value (a scalar, or any element of a list) equals any
// of Values, compared as strings. Field v1.IDField matches the record ID.
type Filter struct {
	ModelKey string
	Field    string
	Values   []string
}

// ModelStore loads model definitions. Called once at startup.
type ModelStore interface {
	LoadModels(ctx context.Context) ([]ModelDefinition, error)
}

// RecordStore reads and partially updates records.
type RecordStore interface {
	// FindOne returns the first record matching the filter, or ErrNotFound.
	FindOne(ctx context.Context, filter Filter) (v1.Record, error)

	// Find returns every record matching the filter, ordered by ID.
	Find(ctx context.Context, filter Filter) ([]v1.Record, error)

	// FindByIDs loads records by identifier in one batch. Unknown IDs are
	// ignored; results are ordered by ID.
	FindByIDs(ctx context.Context, ids []string) ([]v1.Record, error)

	// UpdateFields merges fields into the record's data, leaving every other
	// field untouched. Returns ErrNotFound if the record does not exist.
	// The origin is attached to the resulting change event.
	UpdateFields(ctx context.Context, id string, fields map[string]interface{}, origin v1.Origin) error
}

// ChangeFeed exposes committed writes in commit order.
type ChangeFeed interface {
	// ChangesAfter fetches changes with Seq > cursor in strict order.
	// Each event carries the full current document of its record.
	ChangesAfter(ctx context.Context, cursor int64, limit int) ([]v1.ChangeEvent, error)

	// HeadSeq returns the Seq of the newest change, or 0 when the feed is empty.
	HeadSeq(ctx context.Context) (int64, error)
}

// CheckpointStore persists the last fully processed feed position per consumer.
//
// Checkpoint invariant: cursor N means every change up to Seq N has been
// dispatched to completion, and none after.
type CheckpointStore interface {
	// ReadCheckpoint returns the consumer's cursor; found is false when the
	// consumer has never written one.
	ReadCheckpoint(ctx context.Context, consumer string) (cursor int64, found bool, err error)

	// WriteCheckpoint advances the consumer's cursor. Writes that would move
	// the cursor backwards are ignored.
	WriteCheckpoint(ctx context.Context, consumer string, cursor int64) error
}

// Notifier signals that new changes may be available. Signals are coalesced;
// a receive only means "poll the feed now".
type Notifier interface {
	Notifications() <-chan struct{}
}

// Store is everything the engine needs from the persistence layer.
type Store interface {
	ModelStore
	RecordStore
	ChangeFeed
	CheckpointStore
}
