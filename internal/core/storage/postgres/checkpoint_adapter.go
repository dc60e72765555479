package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// CheckpointAdapter implements storage.CheckpointStore using PostgreSQL.
// Writes lock the consumer's row and never move the cursor backwards.
type CheckpointAdapter struct {
	db *sql.DB
}

// NewCheckpointAdapter creates a CheckpointAdapter sharing the given connection.
func NewCheckpointAdapter(db *sql.DB) *CheckpointAdapter {
	return &CheckpointAdapter{db: db}
}

// WriteCheckpoint advances the consumer's cursor.
func (a *CheckpointAdapter) WriteCheckpoint(ctx context.Context, consumer string, cursor int64) error {
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("checkpoint write: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	// Lock the row first so a stale writer cannot overwrite a newer cursor.
	var durable int64
	err = tx.QueryRowContext(ctx, querySelectCheckpointForUpdate, consumer).Scan(&durable)
	if errors.Is(err, sql.ErrNoRows) {
		if _, err = tx.ExecContext(ctx, queryInitCheckpointRow, consumer, time.Now().UTC()); err != nil {
			return fmt.Errorf("checkpoint write: init row: %w", err)
		}
		err = tx.QueryRowContext(ctx, querySelectCheckpointForUpdate, consumer).Scan(&durable)
	}
	if err != nil {
		return fmt.Errorf("checkpoint write: read for update: %w", err)
	}

	if cursor <= durable {
		slog.Debug("[Checkpoint] Skipping stale write",
			"consumer", consumer,
			"cursor", cursor,
			"durable_cursor", durable)
		return nil
	}

	result, err := tx.ExecContext(ctx, queryUpdateCheckpoint, cursor, time.Now().UTC(), consumer)
	if err != nil {
		return fmt.Errorf("checkpoint write: update: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checkpoint write: check update: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("checkpoint write: row missing (consumer=%s)", consumer)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("checkpoint write: commit: %w", err)
	}
	return nil
}

// ReadCheckpoint returns the consumer's cursor; found is false when no
// checkpoint has been written yet.
func (a *CheckpointAdapter) ReadCheckpoint(ctx context.Context, consumer string) (int64, bool, error) {
	var cursor int64
	err := a.db.QueryRowContext(ctx, queryReadCheckpoint, consumer).Scan(&cursor)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("read checkpoint: %w", err)
	}
	return cursor, true, nil
}
