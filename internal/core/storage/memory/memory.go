// Package memory is an in-process implementation of storage.Store.
//
// It mirrors the Postgres adapter's semantics, including the change feed the
// database trigger produces: every insert or update that alters at least one
// top-level field appends a change with the diffed field keys and their
// previous values, and every delete appends a change for all of the removed
// record's fields. Useful for
// tests and for running the engine without a database.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"sync"
	"time"

	v1 "github.com/aevon-lab/recalc/internal/api/v1"
	"github.com/aevon-lab/recalc/internal/core/storage"
)

type change struct {
	seq           int64
	modelKey      string
	recordID      string
	changedFields []string
	previous      map[string]interface{}
	deleted       bool
	chainID       string
	depth         int
	changedAt     time.Time
}

// Store is a concurrency-safe in-memory record store with a change feed.
type Store struct {
	mu          sync.RWMutex
	models      []storage.ModelDefinition
	records     map[string]v1.Record
	changes     []change
	seq         int64
	checkpoints map[string]int64
	notify      chan struct{}
	updates     []Update
	now         func() time.Time
}

// Update records one UpdateFields call, for assertions in tests.
type Update struct {
	RecordID string
	Fields   map[string]interface{}
	Origin   v1.Origin
}

// New creates an empty store.
func New() *Store {
	return &Store{
		records:     make(map[string]v1.Record),
		checkpoints: make(map[string]int64),
		notify:      make(chan struct{}, 1),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// PutModel stores a model definition. The definition is marshalled to JSON.
func (s *Store) PutModel(key string, definition interface{}) error {
	raw, err := json.Marshal(definition)
	if err != nil {
		return fmt.Errorf("marshal model %s: %w", key, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, m := range s.models {
		if m.Key == key {
			s.models[i].Definition = raw
			return nil
		}
	}
	s.models = append(s.models, storage.ModelDefinition{Key: key, Definition: raw})
	return nil
}

// Put inserts or replaces a record, emitting a change for every field whose
// value differs from the stored one.
func (s *Store) Put(rec v1.Record) error {
	data, err := normalize(rec.Data)
	if err != nil {
		return err
	}
	s.write(rec.ID, rec.ModelKey, data, true, v1.Origin{})
	return nil
}

// Delete removes a record, emitting a change that lists every field it had.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	rec, ok := s.records[id]
	if !ok {
		s.mu.Unlock()
		return storage.ErrNotFound
	}
	delete(s.records, id)

	changed := make([]string, 0, len(rec.Data))
	for k := range rec.Data {
		changed = append(changed, k)
	}
	sort.Strings(changed)
	s.seq++
	s.changes = append(s.changes, change{
		seq:           s.seq,
		modelKey:      rec.ModelKey,
		recordID:      id,
		changedFields: changed,
		previous:      cloneData(rec.Data),
		deleted:       true,
		changedAt:     s.now(),
	})
	s.mu.Unlock()

	s.signal()
	return nil
}

// LoadModels implements storage.ModelStore.
func (s *Store) LoadModels(ctx context.Context) ([]storage.ModelDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]storage.ModelDefinition, len(s.models))
	copy(out, s.models)
	return out, nil
}

// FindOne implements storage.RecordStore.
func (s *Store) FindOne(ctx context.Context, filter storage.Filter) (v1.Record, error) {
	recs, err := s.Find(ctx, filter)
	if err != nil {
		return v1.Record{}, err
	}
	if len(recs) == 0 {
		return v1.Record{}, storage.ErrNotFound
	}
	return recs[0], nil
}

// Find implements storage.RecordStore.
func (s *Store) Find(ctx context.Context, filter storage.Filter) ([]v1.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []v1.Record
	for _, rec := range s.records {
		if filter.Matches(rec) {
			out = append(out, cloneRecord(rec))
		}
	}
	sortRecords(out)
	return out, nil
}

// FindByIDs implements storage.RecordStore.
func (s *Store) FindByIDs(ctx context.Context, ids []string) ([]v1.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]struct{}, len(ids))
	out := make([]v1.Record, 0, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if rec, ok := s.records[id]; ok {
			out = append(out, cloneRecord(rec))
		}
	}
	sortRecords(out)
	return out, nil
}

// UpdateFields implements storage.RecordStore.
func (s *Store) UpdateFields(ctx context.Context, id string, fields map[string]interface{}, origin v1.Origin) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	rec, ok := s.records[id]
	s.mu.RUnlock()
	if !ok {
		return storage.ErrNotFound
	}

	normalized, err := normalize(fields)
	if err != nil {
		return err
	}
	s.write(id, rec.ModelKey, normalized, false, origin)

	s.mu.Lock()
	s.updates = append(s.updates, Update{RecordID: id, Fields: cloneData(normalized), Origin: origin})
	s.mu.Unlock()
	return nil
}

// ChangesAfter implements storage.ChangeFeed.
func (s *Store) ChangesAfter(ctx context.Context, cursor int64, limit int) ([]v1.ChangeEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []v1.ChangeEvent
	for _, c := range s.changes {
		if c.seq <= cursor {
			continue
		}
		if limit > 0 && len(out) >= limit {
			break
		}
		evt := v1.ChangeEvent{
			Seq:           c.seq,
			ModelKey:      c.modelKey,
			RecordID:      c.recordID,
			ChangedFields: append([]string(nil), c.changedFields...),
			Deleted:       c.deleted,
			ChainID:       c.chainID,
			Depth:         c.depth,
			ChangedAt:     c.changedAt,
		}
		if c.previous != nil {
			evt.Previous = cloneData(c.previous)
		}
		if rec, ok := s.records[c.recordID]; ok {
			evt.Document = rec.Document()
		}
		out = append(out, evt)
	}
	return out, nil
}

// HeadSeq implements storage.ChangeFeed.
func (s *Store) HeadSeq(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.seq, nil
}

// ReadCheckpoint implements storage.CheckpointStore.
func (s *Store) ReadCheckpoint(ctx context.Context, consumer string) (int64, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cursor, ok := s.checkpoints[consumer]
	return cursor, ok, nil
}

// WriteCheckpoint implements storage.CheckpointStore.
func (s *Store) WriteCheckpoint(ctx context.Context, consumer string, cursor int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if current, ok := s.checkpoints[consumer]; ok && cursor <= current {
		return nil
	}
	s.checkpoints[consumer] = cursor
	return nil
}

// Notifications implements storage.Notifier.
func (s *Store) Notifications() <-chan struct{} {
	return s.notify
}

// Get returns a copy of a record, for assertions in tests.
func (s *Store) Get(id string) (v1.Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok {
		return v1.Record{}, false
	}
	return cloneRecord(rec), true
}

// Updates returns every UpdateFields call so far, in call order.
func (s *Store) Updates() []Update {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Update, len(s.updates))
	copy(out, s.updates)
	return out
}

func (s *Store) write(id, modelKey string, fields map[string]interface{}, replace bool, origin v1.Origin) {
	s.mu.Lock()

	existing, exists := s.records[id]
	var data map[string]interface{}
	var changed []string

	switch {
	case !exists:
		data = fields
		for k := range fields {
			changed = append(changed, k)
		}
	case replace:
		data = fields
		changed = diffKeys(existing.Data, fields)
	default:
		data = cloneData(existing.Data)
		for k, v := range fields {
			if old, ok := data[k]; ok && reflect.DeepEqual(old, v) {
				continue
			}
			changed = append(changed, k)
			data[k] = v
		}
	}

	now := s.now()
	s.records[id] = v1.Record{ID: id, ModelKey: modelKey, Data: data, UpdatedAt: now}

	if len(changed) == 0 {
		s.mu.Unlock()
		return
	}
	sort.Strings(changed)
	var previous map[string]interface{}
	if exists {
		previous = make(map[string]interface{}, len(changed))
		for _, k := range changed {
			previous[k] = existing.Data[k]
		}
	}
	s.seq++
	s.changes = append(s.changes, change{
		seq:           s.seq,
		modelKey:      modelKey,
		recordID:      id,
		changedFields: changed,
		previous:      previous,
		chainID:       origin.ChainID,
		depth:         origin.Depth,
		changedAt:     now,
	})
	s.mu.Unlock()

	s.signal()
}

func (s *Store) signal() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func diffKeys(before, after map[string]interface{}) []string {
	var changed []string
	for k, v := range after {
		if old, ok := before[k]; !ok || !reflect.DeepEqual(old, v) {
			changed = append(changed, k)
		}
	}
	for k := range before {
		if _, ok := after[k]; !ok {
			changed = append(changed, k)
		}
	}
	return changed
}

// normalize round-trips values through JSON so stored data has the same
// shape a JSONB column would give back (float64 numbers, []interface{} lists).
func normalize(fields map[string]interface{}) (map[string]interface{}, error) {
	raw, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("marshal fields: %w", err)
	}
	out := make(map[string]interface{}, len(fields))
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("unmarshal fields: %w", err)
	}
	return out, nil
}

func cloneRecord(rec v1.Record) v1.Record {
	rec.Data = cloneData(rec.Data)
	return rec
}

func cloneData(data map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(data))
	for k, v := range data {
		out[k] = v
	}
	return out
}

func sortRecords(recs []v1.Record) {
	sort.Slice(recs, func(i, j int) bool { return recs[i].ID < recs[j].ID })
}
