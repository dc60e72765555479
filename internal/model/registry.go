package model

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"

	"github.com/aevon-lab/recalc/internal/core/storage"
	"gopkg.in/yaml.v3"
)

// Registry is the read-only set of models loaded at startup.
type Registry struct {
	models map[string]*Model
	keys   []string
}

// Load reads every definition from src once and builds the registry.
// Definitions may be YAML or JSON. Relations must point at loaded models.
func Load(ctx context.Context, src storage.ModelStore) (*Registry, error) {
	defs, err := src.LoadModels(ctx)
	if err != nil {
		return nil, fmt.Errorf("load model definitions: %w", err)
	}

	models := make([]*Model, 0, len(defs))
	for _, def := range defs {
		m, err := Decode(def)
		if err != nil {
			return nil, err
		}
		models = append(models, m)
	}

	reg, err := NewRegistry(models...)
	if err != nil {
		return nil, err
	}

	slog.Info("[Models] Registry loaded",
		"models", len(reg.keys),
		"formula_fields", reg.FormulaFieldCount())
	return reg, nil
}

// Decode parses one stored definition. A key inside the definition wins over
// the stored key; when both are set they must agree.
func Decode(def storage.ModelDefinition) (*Model, error) {
	var m Model
	var err error
	if json.Valid(def.Definition) {
		err = json.Unmarshal(def.Definition, &m)
	} else {
		err = yaml.Unmarshal(def.Definition, &m)
	}
	if err != nil {
		return nil, fmt.Errorf("parse model %q: %w", def.Key, err)
	}
	if m.Key == "" {
		m.Key = def.Key
	}
	if def.Key != "" && m.Key != def.Key {
		return nil, fmt.Errorf("model %q: definition declares key %q", def.Key, m.Key)
	}
	for key, f := range m.Fields {
		f.Key = key
		m.Fields[key] = f
	}
	m.Fingerprint = fingerprint(def.Definition)
	return &m, nil
}

// NewRegistry builds a registry from decoded models.
func NewRegistry(models ...*Model) (*Registry, error) {
	reg := &Registry{models: make(map[string]*Model, len(models))}
	for _, m := range models {
		if err := m.validate(); err != nil {
			return nil, err
		}
		if _, exists := reg.models[m.Key]; exists {
			return nil, fmt.Errorf("model %q: duplicate model key", m.Key)
		}
		for key, f := range m.Fields {
			if f.Key == "" {
				f.Key = key
				m.Fields[key] = f
			}
		}
		reg.models[m.Key] = m
		reg.keys = append(reg.keys, m.Key)
	}
	sort.Strings(reg.keys)

	for _, m := range models {
		for name, rel := range m.Relations {
			if _, ok := reg.models[rel.Model]; !ok {
				return nil, fmt.Errorf("model %q: relation %q: %w %q", m.Key, name, ErrUnknownModel, rel.Model)
			}
		}
	}
	return reg, nil
}

// Get returns the model with the given key.
func (r *Registry) Get(key string) (*Model, bool) {
	m, ok := r.models[key]
	return m, ok
}

// Lookup is Get with an ErrUnknownModel error for missing keys.
func (r *Registry) Lookup(key string) (*Model, error) {
	m, ok := r.models[key]
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownModel, key)
	}
	return m, nil
}

// Keys returns every model key in sorted order.
func (r *Registry) Keys() []string {
	out := make([]string, len(r.keys))
	copy(out, r.keys)
	return out
}

// FormulaFieldCount counts formula fields across all models.
func (r *Registry) FormulaFieldCount() int {
	n := 0
	for _, m := range r.models {
		n += len(m.FormulaFields())
	}
	return n
}
