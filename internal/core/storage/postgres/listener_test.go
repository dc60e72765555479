package postgres

import (
	"io/fs"
	"testing"

	"github.com/aevon-lab/recalc/internal/core/config"
	"github.com/aevon-lab/recalc/internal/migrations"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultChannelMatchesTrigger(t *testing.T) {
	assert.Equal(t, config.ChangeChannel, DefaultChannel)

	raw, err := fs.ReadFile(migrations.Files, "000002_change_history.up.sql")
	require.NoError(t, err)
	assert.Contains(t, string(raw), "pg_notify('"+DefaultChannel+"'")
}
