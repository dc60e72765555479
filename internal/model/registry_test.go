package model

import (
	"context"
	"errors"
	"testing"

	"github.com/aevon-lab/recalc/internal/core/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticSource struct {
	defs []storage.ModelDefinition
	err  error
}

func (s staticSource) LoadModels(context.Context) ([]storage.ModelDefinition, error) {
	return s.defs, s.err
}

const invoiceJSON = `{
	"key": "invoice",
	"name": "Invoice",
	"fields": {
		"number": {"name": "Number", "type": "text"},
		"total": {"name": "Total", "type": "number", "settings": {"formula": "sum(lines.amount)"}}
	},
	"relations": {
		"lines": {"model": "line_item", "foreign_key": "invoice_id"}
	}
}`

const lineItemYAML = `
key: line_item
name: Line item
fields:
  invoice_id:
    name: Invoice
    type: relationship
  amount:
    name: Amount
    type: number
  amount_with_tax:
    name: Amount incl. tax
    type: number
    settings:
      formula: record.amount * 1.21
`

func TestLoad_JSONAndYAML(t *testing.T) {
	reg, err := Load(context.Background(), staticSource{defs: []storage.ModelDefinition{
		{Key: "invoice", Definition: []byte(invoiceJSON)},
		{Key: "line_item", Definition: []byte(lineItemYAML)},
	}})
	require.NoError(t, err)

	assert.Equal(t, []string{"invoice", "line_item"}, reg.Keys())
	assert.Equal(t, 2, reg.FormulaFieldCount())

	inv, ok := reg.Get("invoice")
	require.True(t, ok)
	assert.Equal(t, "total", inv.Fields["total"].Key)
	assert.True(t, inv.Fields["total"].IsFormula())
	assert.False(t, inv.Fields["number"].IsFormula())
	assert.NotEmpty(t, inv.Fingerprint)

	rel, ok := inv.Relation("lines")
	require.True(t, ok)
	assert.Equal(t, "invoice_id", rel.ForeignKey)

	formulas := inv.FormulaFields()
	require.Len(t, formulas, 1)
	assert.Equal(t, "sum(lines.amount)", formulas[0].Settings.Formula)
}

func TestLoad_UnknownRelationModel(t *testing.T) {
	_, err := Load(context.Background(), staticSource{defs: []storage.ModelDefinition{
		{Key: "invoice", Definition: []byte(invoiceJSON)},
	}})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownModel)
}

func TestLoad_SourceError(t *testing.T) {
	_, err := Load(context.Background(), staticSource{err: errors.New("db down")})
	require.ErrorContains(t, err, "db down")
}

func TestLoad_KeyMismatch(t *testing.T) {
	_, err := Load(context.Background(), staticSource{defs: []storage.ModelDefinition{
		{Key: "invoices", Definition: []byte(invoiceJSON)},
	}})
	require.ErrorContains(t, err, `declares key "invoice"`)
}

func TestNewRegistry_Validation(t *testing.T) {
	tests := []struct {
		name    string
		models  []*Model
		wantErr string
	}{
		{
			name:    "empty key",
			models:  []*Model{{}},
			wantErr: "model key must not be empty",
		},
		{
			name:    "duplicate key",
			models:  []*Model{{Key: "a"}, {Key: "a"}},
			wantErr: "duplicate model key",
		},
		{
			name: "relation with both foreign_key and field",
			models: []*Model{{Key: "a", Relations: map[string]Relation{
				"b": {Model: "a", ForeignKey: "x", Field: "y"},
			}}},
			wantErr: "exactly one of foreign_key or field",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewRegistry(tc.models...)
			require.ErrorContains(t, err, tc.wantErr)
		})
	}
}

func TestRegistry_Lookup(t *testing.T) {
	reg, err := NewRegistry(&Model{Key: "user", Fields: map[string]Field{"name": {}}})
	require.NoError(t, err)

	m, err := reg.Lookup("user")
	require.NoError(t, err)
	assert.Equal(t, "name", m.Fields["name"].Key)
	assert.Empty(t, m.FormulaFields())

	_, err = reg.Lookup("ghost")
	assert.ErrorIs(t, err, ErrUnknownModel)
}
