package postgres

import (
	"database/sql"
	"encoding/json"
	"fmt"

	v1 "github.com/aevon-lab/recalc/internal/api/v1"
	"github.com/lib/pq"
)

type scanner interface {
	Scan(dest ...interface{}) error
}

// scanRecordRow scans (id, model_key, data, updated_at).
// Compatible with both sql.Row (single) and sql.Rows (multiple).
func scanRecordRow(row scanner) (v1.Record, error) {
	var rec v1.Record
	var dataJSON []byte

	if err := row.Scan(&rec.ID, &rec.ModelKey, &dataJSON, &rec.UpdatedAt); err != nil {
		return v1.Record{}, fmt.Errorf("failed to scan record row: %w", err)
	}
	data, err := unmarshalData(dataJSON)
	if err != nil {
		return v1.Record{}, fmt.Errorf("record %s: %w", rec.ID, err)
	}
	rec.Data = data
	return rec, nil
}

func scanRecordRows(rows *sql.Rows) ([]v1.Record, error) {
	defer rows.Close()

	var records []v1.Record
	for rows.Next() {
		rec, err := scanRecordRow(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating records: %w", err)
	}
	return records, nil
}

// scanChangeRow scans one record_changes row joined with the record's
// current data. A record deleted since the change yields an empty document.
func scanChangeRow(row scanner) (v1.ChangeEvent, error) {
	var evt v1.ChangeEvent
	var fields []string
	var dataJSON, previousJSON []byte

	err := row.Scan(
		&evt.Seq,
		&evt.ModelKey,
		&evt.RecordID,
		pq.Array(&fields),
		&evt.ChainID,
		&evt.Depth,
		&evt.ChangedAt,
		&dataJSON,
		&previousJSON,
		&evt.Deleted,
	)
	if err != nil {
		return v1.ChangeEvent{}, fmt.Errorf("failed to scan change row: %w", err)
	}
	evt.ChangedFields = fields

	data, err := unmarshalData(dataJSON)
	if err != nil {
		return v1.ChangeEvent{}, fmt.Errorf("change %d: %w", evt.Seq, err)
	}
	rec := v1.Record{ID: evt.RecordID, ModelKey: evt.ModelKey, Data: data}
	evt.Document = rec.Document()

	if len(previousJSON) > 0 {
		previous, err := unmarshalData(previousJSON)
		if err != nil {
			return v1.ChangeEvent{}, fmt.Errorf("change %d previous: %w", evt.Seq, err)
		}
		evt.Previous = previous
	}
	return evt, nil
}

func unmarshalData(raw []byte) (map[string]interface{}, error) {
	data := make(map[string]interface{})
	if len(raw) == 0 {
		return data, nil
	}
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("failed to unmarshal data: %w", err)
	}
	return data, nil
}

// limitArg maps a non-positive limit to SQL NULL, which LIMIT treats as
// unbounded.
func limitArg(limit int) sql.NullInt64 {
	if limit <= 0 {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(limit), Valid: true}
}
