package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix marks environment variables that override file settings.
// Nested keys use a double underscore: RECALC_ENGINE__WORKER_COUNT.
const EnvPrefix = "RECALC_"

// ChangeChannel is the channel the record change trigger notifies on.
const ChangeChannel = "record_changes"

// Config represents the top-level application config.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Database DatabaseConfig `koanf:"database"`
	Models   ModelsConfig   `koanf:"models"`
	Engine   EngineConfig   `koanf:"engine"`
	Feed     FeedConfig     `koanf:"feed"`
	Retry    RetryConfig    `koanf:"retry"`
	Log      LogConfig      `koanf:"log"`
}

type ServerConfig struct {
	Enabled bool   `koanf:"enabled"`
	Port    int    `koanf:"port"`
	Host    string `koanf:"host"`
	Mode    string `koanf:"mode"` // debug | release
}

type DatabaseConfig struct {
	Type         string `koanf:"type"` // postgres | memory
	DSN          string `koanf:"dsn"`
	MaxOpenConns int    `koanf:"max_open_conns"`
	MaxIdleConns int    `koanf:"max_idle_conns"`
	AutoMigrate  bool   `koanf:"auto_migrate"`
}

type ModelsConfig struct {
	SourceType string `koanf:"source_type"` // database | filesystem
	Path       string `koanf:"path"`
}

type EngineConfig struct {
	// InitModel is the model whose first record marks the platform as initialized.
	InitModel string `koanf:"init_model"`
	// InitPollInterval re-checks initialization until it succeeds; 0 checks once.
	InitPollInterval   time.Duration `koanf:"init_poll_interval"`
	WorkerCount        int           `koanf:"worker_count"`
	QueueSize          int           `koanf:"queue_size"`
	EvalTimeout        time.Duration `koanf:"eval_timeout"`
	StoreTimeout       time.Duration `koanf:"store_timeout"`
	MaxCascadeDepth    int           `koanf:"max_cascade_depth"`
	CascadeHistorySize int           `koanf:"cascade_history_size"`
	MaxEvalFailures    int           `koanf:"max_eval_failures"`
	QuarantineTTL      time.Duration `koanf:"quarantine_ttl"`
	EntryConcurrency   int           `koanf:"entry_concurrency"`
	// StrictFormulas aborts startup on the first formula that fails to compile.
	StrictFormulas bool `koanf:"strict_formulas"`
}

type FeedConfig struct {
	Consumer      string        `koanf:"consumer"`
	BatchSize     int           `koanf:"batch_size"`
	PollInterval  time.Duration `koanf:"poll_interval"`
	StartFrom     string        `koanf:"start_from"` // latest | beginning
	ListenChannel string        `koanf:"listen_channel"`
	// GapTimeout is how long a hole in the change sequence is waited on.
	GapTimeout time.Duration `koanf:"gap_timeout"`
}

type RetryConfig struct {
	MaxAttempts     int           `koanf:"max_attempts"`
	InitialInterval time.Duration `koanf:"initial_interval"`
	MaxInterval     time.Duration `koanf:"max_interval"`
}

type LogConfig struct {
	Level  string `koanf:"level"`  // debug | info | warn | error
	Format string `koanf:"format"` // text | json
}

func (c *Config) Validate() error {
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			return fmt.Errorf("invalid server.port %d (must be 1-65535)", c.Server.Port)
		}
		if strings.TrimSpace(c.Server.Host) == "" {
			return fmt.Errorf("server.host is required")
		}
		if c.Server.Mode != "debug" && c.Server.Mode != "release" {
			return fmt.Errorf("invalid server.mode %q (must be debug or release)", c.Server.Mode)
		}
	}

	switch c.Database.Type {
	case "postgres":
		if strings.TrimSpace(c.Database.DSN) == "" {
			return fmt.Errorf("database.dsn is required")
		}
		if c.Database.MaxOpenConns <= 0 {
			return fmt.Errorf("database.max_open_conns must be > 0")
		}
		if c.Database.MaxIdleConns <= 0 {
			return fmt.Errorf("database.max_idle_conns must be > 0")
		}
	case "memory":
	default:
		return fmt.Errorf("unsupported database.type %q", c.Database.Type)
	}

	switch c.Models.SourceType {
	case "database":
	case "filesystem":
		if strings.TrimSpace(c.Models.Path) == "" {
			return fmt.Errorf("models.path is required")
		}
		if _, err := os.Stat(c.Models.Path); err != nil {
			return fmt.Errorf("models.path %q is not accessible: %w", c.Models.Path, err)
		}
	default:
		return fmt.Errorf("unsupported models.source_type %q", c.Models.SourceType)
	}

	if strings.TrimSpace(c.Engine.InitModel) == "" {
		return fmt.Errorf("engine.init_model is required")
	}
	if c.Engine.InitPollInterval < 0 {
		return fmt.Errorf("engine.init_poll_interval must be >= 0")
	}
	if c.Engine.WorkerCount <= 0 {
		return fmt.Errorf("engine.worker_count must be > 0")
	}
	if c.Engine.QueueSize < 0 {
		return fmt.Errorf("engine.queue_size must be >= 0")
	}
	if c.Engine.EvalTimeout <= 0 {
		return fmt.Errorf("engine.eval_timeout must be > 0")
	}
	if c.Engine.StoreTimeout <= 0 {
		return fmt.Errorf("engine.store_timeout must be > 0")
	}
	if c.Engine.MaxCascadeDepth <= 0 {
		return fmt.Errorf("engine.max_cascade_depth must be > 0")
	}
	if c.Engine.CascadeHistorySize <= 0 {
		return fmt.Errorf("engine.cascade_history_size must be > 0")
	}
	if c.Engine.MaxEvalFailures <= 0 {
		return fmt.Errorf("engine.max_eval_failures must be > 0")
	}
	if c.Engine.QuarantineTTL <= 0 {
		return fmt.Errorf("engine.quarantine_ttl must be > 0")
	}
	if c.Engine.EntryConcurrency <= 0 {
		return fmt.Errorf("engine.entry_concurrency must be > 0")
	}

	if strings.TrimSpace(c.Feed.Consumer) == "" {
		return fmt.Errorf("feed.consumer is required")
	}
	if c.Feed.BatchSize <= 0 {
		return fmt.Errorf("feed.batch_size must be > 0")
	}
	if c.Feed.PollInterval <= 0 {
		return fmt.Errorf("feed.poll_interval must be > 0")
	}
	if c.Feed.StartFrom != "latest" && c.Feed.StartFrom != "beginning" {
		return fmt.Errorf("invalid feed.start_from %q (must be latest or beginning)", c.Feed.StartFrom)
	}
	if c.Feed.GapTimeout <= 0 {
		return fmt.Errorf("feed.gap_timeout must be > 0")
	}
	if c.Database.Type == "postgres" && c.Feed.ListenChannel != "" && c.Feed.ListenChannel != ChangeChannel {
		return fmt.Errorf("invalid feed.listen_channel %q (the change trigger notifies on %q; leave empty to poll only)",
			c.Feed.ListenChannel, ChangeChannel)
	}

	if c.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("retry.max_attempts must be > 0")
	}
	if c.Retry.InitialInterval <= 0 || c.Retry.MaxInterval < c.Retry.InitialInterval {
		return fmt.Errorf("retry intervals must satisfy 0 < initial_interval <= max_interval")
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log.level %q", c.Log.Level)
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		return fmt.Errorf("invalid log.format %q (must be text or json)", c.Log.Format)
	}

	return nil
}

// Load parses config from defaults, file and env, then validates it.
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	defaults := map[string]interface{}{
		"server.enabled":              true,
		"server.port":                 8080,
		"server.host":                 "0.0.0.0",
		"server.mode":                 "release",
		"database.type":               "postgres",
		"database.dsn":                "postgres://localhost:5432/recalc?sslmode=disable",
		"database.max_open_conns":     25,
		"database.max_idle_conns":     25,
		"database.auto_migrate":       true,
		"models.source_type":          "database",
		"models.path":                 "./models",
		"engine.init_model":           "user",
		"engine.init_poll_interval":   "0s",
		"engine.worker_count":         8,
		"engine.queue_size":           1024,
		"engine.eval_timeout":         "5s",
		"engine.store_timeout":        "10s",
		"engine.max_cascade_depth":    16,
		"engine.cascade_history_size": 4096,
		"engine.max_eval_failures":    5,
		"engine.quarantine_ttl":       "10m",
		"engine.entry_concurrency":    8,
		"engine.strict_formulas":      false,
		"feed.consumer":               "recalc",
		"feed.batch_size":             500,
		"feed.poll_interval":          "2s",
		"feed.start_from":             "latest",
		"feed.listen_channel":         ChangeChannel,
		"feed.gap_timeout":            "10s",
		"retry.max_attempts":          3,
		"retry.initial_interval":      "100ms",
		"retry.max_interval":          "2s",
		"log.level":                   "info",
		"log.format":                  "text",
	}
	for key, value := range defaults {
		k.Set(key, value)
	}

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".")
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
