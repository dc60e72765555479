package migrations

import (
	"io/fs"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFiles_UpAndDownPaired(t *testing.T) {
	entries, err := fs.ReadDir(Files, ".")
	require.NoError(t, err)

	ups := map[string]bool{}
	downs := map[string]bool{}
	for _, e := range entries {
		name := e.Name()
		switch {
		case strings.HasSuffix(name, ".up.sql"):
			ups[strings.TrimSuffix(name, ".up.sql")] = true
		case strings.HasSuffix(name, ".down.sql"):
			downs[strings.TrimSuffix(name, ".down.sql")] = true
		}
	}
	require.NotEmpty(t, ups)
	assert.Equal(t, ups, downs)
}

func TestFiles_ChangeCaptureTrigger(t *testing.T) {
	raw, err := fs.ReadFile(Files, "000001_create_records.up.sql")
	require.NoError(t, err)
	sql := string(raw)

	for _, want := range []string{
		"CREATE TABLE IF NOT EXISTS records",
		"CREATE TABLE IF NOT EXISTS record_changes",
		"CREATE TABLE IF NOT EXISTS feed_checkpoints",
		"current_setting('recalc.chain_id', true)",
		"pg_notify('record_changes'",
	} {
		assert.Contains(t, sql, want)
	}
}

func TestFiles_ChangeHistory(t *testing.T) {
	raw, err := fs.ReadFile(Files, "000002_change_history.up.sql")
	require.NoError(t, err)
	sql := string(raw)

	for _, want := range []string{
		"ADD COLUMN IF NOT EXISTS previous JSONB",
		"ADD COLUMN IF NOT EXISTS deleted",
		"jsonb_object_agg(k, OLD.data -> k)",
		"AFTER DELETE ON records",
		"TG_OP = 'DELETE'",
	} {
		assert.Contains(t, sql, want)
	}

	down, err := fs.ReadFile(Files, "000002_change_history.down.sql")
	require.NoError(t, err)
	assert.Contains(t, string(down), "DROP TRIGGER IF EXISTS records_capture_deletes")
	assert.Contains(t, string(down), "DROP COLUMN IF EXISTS previous")
}
