// Package config loads Memory Hub's daemon configuration: an optional
// config.yaml in the store root, overridden by MEMORYHUB_* environment
// variables, following the teacher's two-layer shape — a yaml.v3 struct
// load (internal/config/local_config.go) plus viper-bound env overrides
// (cmd/bd/config.go) — adapted to a single process-wide settings object
// rather than a per-command singleton, since the CLI command tree itself
// is out of scope here (spec.md §1).
package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// fileConfig is the subset of config.yaml fields read directly, mirroring
// LocalConfig's "read without the viper singleton" convenience.
type fileConfig struct {
	Root             string `yaml:"root"`
	LeaseSeconds     int    `yaml:"lease-seconds"`
	WorkerBatchLimit int    `yaml:"worker-batch-limit"`
	RedisAddr        string `yaml:"redis-addr"`
	LogLevel         string `yaml:"log-level"`
	LiveWatch        *bool  `yaml:"live-watch"`
}

// Config is the resolved daemon configuration.
type Config struct {
	// Root is the directory holding projects/<project_id>/memory.db (spec §6).
	Root string
	// LeaseSeconds bounds how long a claimed catalog job holds its lease.
	LeaseSeconds int
	// WorkerBatchLimit bounds how many jobs one worker Run call processes.
	WorkerBatchLimit int
	// RedisAddr optionally backs the L2 catalog-brief cache tier; empty disables it.
	RedisAddr string
	// LogLevel is the slog level name (debug/info/warn/error).
	LogLevel string
	// WorkerInterval is how often the standalone worker loop polls for jobs.
	WorkerInterval time.Duration
	// LiveWatch enables a per-project fsnotify watcher that enqueues an
	// incremental_refresh job on workspace file writes, instead of relying
	// solely on the push-triggered and ticker-triggered refresh paths.
	LiveWatch bool
}

const (
	defaultLeaseSeconds     = 120
	defaultWorkerBatchLimit = 20
	defaultWorkerInterval   = 5 * time.Second
	defaultLogLevel         = "info"
)

func defaultRoot() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".memoryhub"
	}
	return filepath.Join(home, ".memoryhub")
}

// loadFileConfig reads root/config.yaml, returning an empty fileConfig
// (never nil, never an error) if the file is absent or unparseable —
// mirroring LoadLocalConfig's "best effort, never fatal" contract.
func loadFileConfig(root string) fileConfig {
	data, err := os.ReadFile(filepath.Join(root, "config.yaml")) // #nosec G304 - operator-supplied root
	if err != nil {
		return fileConfig{}
	}
	var cfg fileConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return fileConfig{}
	}
	return cfg
}

// Load resolves the daemon configuration: defaults, overridden by
// root/config.yaml (if root is non-empty and the file exists), overridden
// by MEMORYHUB_* environment variables via viper.
func Load(root string) *Config {
	if root == "" {
		root = defaultRoot()
	}
	file := loadFileConfig(root)

	v := viper.New()
	v.SetEnvPrefix("MEMORYHUB")
	v.AutomaticEnv()

	v.SetDefault("root", root)
	v.SetDefault("lease_seconds", defaultLeaseSeconds)
	v.SetDefault("worker_batch_limit", defaultWorkerBatchLimit)
	v.SetDefault("redis_addr", "")
	v.SetDefault("log_level", defaultLogLevel)
	v.SetDefault("live_watch", false)

	if file.Root != "" {
		v.SetDefault("root", file.Root)
	}
	if file.LeaseSeconds > 0 {
		v.SetDefault("lease_seconds", file.LeaseSeconds)
	}
	if file.WorkerBatchLimit > 0 {
		v.SetDefault("worker_batch_limit", file.WorkerBatchLimit)
	}
	if file.RedisAddr != "" {
		v.SetDefault("redis_addr", file.RedisAddr)
	}
	if file.LogLevel != "" {
		v.SetDefault("log_level", file.LogLevel)
	}
	if file.LiveWatch != nil {
		v.SetDefault("live_watch", *file.LiveWatch)
	}

	return &Config{
		Root:             v.GetString("root"),
		LeaseSeconds:     v.GetInt("lease_seconds"),
		WorkerBatchLimit: v.GetInt("worker_batch_limit"),
		RedisAddr:        v.GetString("redis_addr"),
		LogLevel:         v.GetString("log_level"),
		WorkerInterval:   defaultWorkerInterval,
		LiveWatch:        v.GetBool("live_watch"),
	}
}

// ProjectDBPath returns the on-disk path for one project's memory store
// (spec §6: "<root>/projects/<project_id>/memory.db").
func (c *Config) ProjectDBPath(projectID string) string {
	return filepath.Join(c.Root, "projects", projectID, "memory.db")
}
