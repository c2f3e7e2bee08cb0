// Package config loads the engine's configuration surface:
// a YAML file providing defaults, overridden by environment variables,
// overridden by command-line flags. Unknown YAML keys are a hard error
// at start.
//
// Grounded on ndrandal-feed-simulator's internal/config/config.go
// (flag + env fallback helpers) layered under a yaml.v3 file per
// ChoSanghyuk-blackholedex's config loading idiom.
package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds the fields the core's configuration
// surface, plus the ambient fields (log level, checkpoint backend, Redis
// address) a real deployment needs.
type Config struct {
	HeartbeatIntervalMs int64 `yaml:"heartbeat_interval_ms"`
	TickIntervalMs      int64 `yaml:"tick_interval_ms"` // 0 disables clock-driven mode

	ReconnectBaseMs     int64 `yaml:"reconnect_base_ms"`
	ReconnectMaxMs      int64 `yaml:"reconnect_max_ms"`
	MaxReconnectAttempts int  `yaml:"max_reconnect_attempts"`

	SubmissionTimeoutMs int64 `yaml:"submission_timeout_ms"`
	QueryRetryMax       int   `yaml:"query_retry_max"`

	CheckpointDir         string `yaml:"checkpoint_dir"`
	CheckpointIntervalMs  int64  `yaml:"checkpoint_interval_ms"`
	MaxCheckpoints        int    `yaml:"max_checkpoints"`
	AutoRecover           bool   `yaml:"auto_recover"`
	SyncWithExchangeOnRecover bool `yaml:"sync_with_exchange_on_recover"`
	CancelOrphanOrders    bool   `yaml:"cancel_orphan_orders"`

	// Ambient — needed by a real deployment but not part of the core surface.
	LogLevel       string `yaml:"log_level"`
	StateStoreKind string `yaml:"state_store_kind"` // "file" or "redis"
	RedisAddr      string `yaml:"redis_addr"`
}

// Default returns the documented defaults.
func Default() Config {
	return Config{
		HeartbeatIntervalMs: 30_000,
		TickIntervalMs:      0,

		ReconnectBaseMs:      500,
		ReconnectMaxMs:       30_000,
		MaxReconnectAttempts: 10,

		SubmissionTimeoutMs: 2_000,
		QueryRetryMax:       5,

		CheckpointDir:             "./checkpoints",
		CheckpointIntervalMs:      60_000,
		MaxCheckpoints:            5,
		AutoRecover:               true,
		SyncWithExchangeOnRecover: true,
		CancelOrphanOrders:        true,

		LogLevel:       "info",
		StateStoreKind: "file",
		RedisAddr:      "",
	}
}

// Load builds a Config by layering a YAML file (if path is non-empty),
// environment variables, and command-line flags, in that priority order
// (file lowest, flags highest). Load registers its flags on fs and parses
// args itself, so fs must not have been parsed yet; cmd/engine passes a
// FlagSet of its own.
func Load(fs *flag.FlagSet, args []string, yamlPath string) (Config, error) {
	_ = godotenv.Load() // optional .env, missing file is not an error

	cfg := Default()
	if yamlPath != "" {
		loaded, err := loadYAML(yamlPath, cfg)
		if err != nil {
			return Config{}, err
		}
		cfg = loaded
	}

	fs.Int64Var(&cfg.HeartbeatIntervalMs, "heartbeat-interval-ms", envInt64("HEARTBEAT_INTERVAL_MS", cfg.HeartbeatIntervalMs), "heartbeat interval in ms")
	fs.Int64Var(&cfg.TickIntervalMs, "tick-interval-ms", envInt64("TICK_INTERVAL_MS", cfg.TickIntervalMs), "clock-driven tick interval in ms (0 disables)")
	fs.Int64Var(&cfg.ReconnectBaseMs, "reconnect-base-ms", envInt64("RECONNECT_BASE_MS", cfg.ReconnectBaseMs), "reconnect backoff base in ms")
	fs.Int64Var(&cfg.ReconnectMaxMs, "reconnect-max-ms", envInt64("RECONNECT_MAX_MS", cfg.ReconnectMaxMs), "reconnect backoff cap in ms")
	fs.IntVar(&cfg.MaxReconnectAttempts, "max-reconnect-attempts", envInt("MAX_RECONNECT_ATTEMPTS", cfg.MaxReconnectAttempts), "max reconnect attempts")
	fs.Int64Var(&cfg.SubmissionTimeoutMs, "submission-timeout-ms", envInt64("SUBMISSION_TIMEOUT_MS", cfg.SubmissionTimeoutMs), "order submission timeout in ms")
	fs.IntVar(&cfg.QueryRetryMax, "query-retry-max", envInt("QUERY_RETRY_MAX", cfg.QueryRetryMax), "max status-query retries after timeout")
	fs.StringVar(&cfg.CheckpointDir, "checkpoint-dir", envStr("CHECKPOINT_DIR", cfg.CheckpointDir), "checkpoint directory")
	fs.Int64Var(&cfg.CheckpointIntervalMs, "checkpoint-interval-ms", envInt64("CHECKPOINT_INTERVAL_MS", cfg.CheckpointIntervalMs), "checkpoint interval in ms")
	fs.IntVar(&cfg.MaxCheckpoints, "max-checkpoints", envInt("MAX_CHECKPOINTS", cfg.MaxCheckpoints), "max checkpoints retained")
	fs.BoolVar(&cfg.AutoRecover, "auto-recover", envBool("AUTO_RECOVER", cfg.AutoRecover), "recover from last checkpoint on boot")
	fs.BoolVar(&cfg.SyncWithExchangeOnRecover, "sync-with-exchange-on-recover", envBool("SYNC_WITH_EXCHANGE_ON_RECOVER", cfg.SyncWithExchangeOnRecover), "query exchange for non-terminal orders on recovery")
	fs.BoolVar(&cfg.CancelOrphanOrders, "cancel-orphan-orders", envBool("CANCEL_ORPHAN_ORDERS", cfg.CancelOrphanOrders), "cancel orphan pending orders found on recovery")
	fs.StringVar(&cfg.LogLevel, "log-level", envStr("LOG_LEVEL", cfg.LogLevel), "zap log level")
	fs.StringVar(&cfg.StateStoreKind, "state-store", envStr("STATE_STORE_KIND", cfg.StateStoreKind), "state store backend: file or redis")
	fs.StringVar(&cfg.RedisAddr, "redis-addr", envStr("REDIS_ADDR", cfg.RedisAddr), "redis address, used when state-store=redis")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// loadYAML decodes path into a copy of base, rejecting unknown fields.
func loadYAML(path string, base Config) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: open %s: %w", path, err)
	}
	defer f.Close()

	cfg := base
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: decode %s: %w", path, err)
	}
	return cfg, nil
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envInt64(key string, def int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return def
}

func envBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}
