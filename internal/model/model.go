// Package model holds the model definitions the engine reacts to.
//
// Models are loaded once at startup into an immutable Registry. A field is a
// formula field when its settings carry a non-empty formula expression.
package model

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrUnknownModel is returned when a model key is referenced but not loaded.
var ErrUnknownModel = errors.New("unknown model")

// Model is one record schema.
type Model struct {
	Key       string              `yaml:"key" json:"key"`
	Name      string              `yaml:"name" json:"name"`
	Fields    map[string]Field    `yaml:"fields" json:"fields"`
	Relations map[string]Relation `yaml:"relations" json:"relations"`

	// Fingerprint is the SHA-256 of the raw definition; computed at load time.
	Fingerprint string `yaml:"-" json:"-"`
}

// Field is one field of a model. Key is filled in from the map key at load time.
type Field struct {
	Key      string        `yaml:"-" json:"-"`
	Name     string        `yaml:"name" json:"name"`
	Type     string        `yaml:"type" json:"type"`
	Settings FieldSettings `yaml:"settings" json:"settings"`
}

type FieldSettings struct {
	Formula string `yaml:"formula" json:"formula"`
}

// IsFormula reports whether the field is computed by a formula.
func (f Field) IsFormula() bool {
	return strings.TrimSpace(f.Settings.Formula) != ""
}

// Relation links a model to records of another model. Exactly one of
// ForeignKey and Field is set:
//
//   - ForeignKey: the related records hold this model's record ID in ForeignKey.
//   - Field: this model holds the related record IDs in its own Field.
type Relation struct {
	Model      string `yaml:"model" json:"model"`
	ForeignKey string `yaml:"foreign_key" json:"foreign_key"`
	Field      string `yaml:"field" json:"field"`
}

// FormulaFields returns the model's formula fields ordered by key.
func (m *Model) FormulaFields() []Field {
	var out []Field
	for _, key := range m.FieldKeys() {
		if f := m.Fields[key]; f.IsFormula() {
			out = append(out, f)
		}
	}
	return out
}

// FieldKeys returns every field key in sorted order.
func (m *Model) FieldKeys() []string {
	keys := make([]string, 0, len(m.Fields))
	for k := range m.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Relation returns the named relation.
func (m *Model) Relation(name string) (Relation, bool) {
	r, ok := m.Relations[name]
	return r, ok
}

func (m *Model) validate() error {
	if strings.TrimSpace(m.Key) == "" {
		return fmt.Errorf("model key must not be empty")
	}
	for name, rel := range m.Relations {
		if rel.Model == "" {
			return fmt.Errorf("model %q: relation %q: model must not be empty", m.Key, name)
		}
		if (rel.ForeignKey == "") == (rel.Field == "") {
			return fmt.Errorf("model %q: relation %q: exactly one of foreign_key or field is required", m.Key, name)
		}
	}
	return nil
}

func fingerprint(raw []byte) string {
	return fmt.Sprintf("%x", sha256.Sum256(raw))
}
