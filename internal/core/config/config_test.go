package config

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "recalc.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Database.Type)
	assert.Equal(t, "database", cfg.Models.SourceType)
	assert.Equal(t, "user", cfg.Engine.InitModel)
	assert.Equal(t, 5*time.Second, cfg.Engine.EvalTimeout)
	assert.Equal(t, 10*time.Minute, cfg.Engine.QuarantineTTL)
	assert.Equal(t, 100*time.Millisecond, cfg.Retry.InitialInterval)
	assert.Equal(t, "latest", cfg.Feed.StartFrom)
	assert.Equal(t, "record_changes", cfg.Feed.ListenChannel)
	assert.Equal(t, 10*time.Second, cfg.Feed.GapTimeout)
	assert.Equal(t, 8, cfg.Engine.EntryConcurrency)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	modelsDir := t.TempDir()
	path := writeConfig(t, fmt.Sprintf(`
server:
  port: 9090
  host: "127.0.0.1"
database:
  type: "memory"
models:
  source_type: "filesystem"
  path: "%s"
engine:
  init_model: "account"
  worker_count: 2
  eval_timeout: "750ms"
  strict_formulas: true
feed:
  start_from: "beginning"
  poll_interval: "500ms"
`, modelsDir))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "memory", cfg.Database.Type)
	assert.Equal(t, modelsDir, cfg.Models.Path)
	assert.Equal(t, "account", cfg.Engine.InitModel)
	assert.Equal(t, 2, cfg.Engine.WorkerCount)
	assert.Equal(t, 750*time.Millisecond, cfg.Engine.EvalTimeout)
	assert.True(t, cfg.Engine.StrictFormulas)
	assert.Equal(t, "beginning", cfg.Feed.StartFrom)
	assert.Equal(t, 500*time.Millisecond, cfg.Feed.PollInterval)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `
engine:
  worker_count: 2
`)
	t.Setenv("RECALC_ENGINE__WORKER_COUNT", "6")
	t.Setenv("RECALC_FEED__CONSUMER", "recalc-blue")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 6, cfg.Engine.WorkerCount)
	assert.Equal(t, "recalc-blue", cfg.Feed.Consumer)
}

func TestLoad_ValidationFailures(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{
			name:    "invalid port",
			body:    "server:\n  port: -1\n",
			wantErr: "invalid server.port",
		},
		{
			name:    "port ignored when server disabled",
			body:    "server:\n  enabled: false\n  port: -1\n",
			wantErr: "",
		},
		{
			name:    "unsupported database",
			body:    "database:\n  type: \"sqlite\"\n",
			wantErr: "unsupported database.type",
		},
		{
			name:    "missing models path",
			body:    "models:\n  source_type: \"filesystem\"\n  path: \"/does/not/exist\"\n",
			wantErr: "models.path",
		},
		{
			name:    "bad start_from",
			body:    "feed:\n  start_from: \"middle\"\n",
			wantErr: "invalid feed.start_from",
		},
		{
			name:    "listen channel the trigger never notifies",
			body:    "feed:\n  listen_channel: \"recalc_events\"\n",
			wantErr: "invalid feed.listen_channel",
		},
		{
			name:    "empty listen channel polls only",
			body:    "feed:\n  listen_channel: \"\"\n",
			wantErr: "",
		},
		{
			name:    "any listen channel without postgres",
			body:    "database:\n  type: \"memory\"\nfeed:\n  listen_channel: \"recalc_events\"\n",
			wantErr: "",
		},
		{
			name:    "zero gap timeout",
			body:    "feed:\n  gap_timeout: \"0s\"\n",
			wantErr: "feed.gap_timeout",
		},
		{
			name:    "zero entry concurrency",
			body:    "engine:\n  entry_concurrency: 0\n",
			wantErr: "engine.entry_concurrency",
		},
		{
			name:    "zero cascade depth",
			body:    "engine:\n  max_cascade_depth: 0\n",
			wantErr: "engine.max_cascade_depth",
		},
		{
			name:    "inverted retry intervals",
			body:    "retry:\n  initial_interval: \"5s\"\n  max_interval: \"1s\"\n",
			wantErr: "retry intervals",
		},
		{
			name:    "bad log level",
			body:    "log:\n  level: \"trace\"\n",
			wantErr: "invalid log.level",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.body))
			if tc.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}
