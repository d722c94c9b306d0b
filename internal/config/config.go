package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config represents the global ~/.tgsd/config.toml.
type Config struct {
	DefaultInstance string `toml:"default_instance"`

	Telegram Telegram `toml:"telegram"`
	Index    Index    `toml:"index"`
	Counter  Counter  `toml:"counter"`
}

// Telegram holds transport settings.
type Telegram struct {
	Token      string  `toml:"token"`
	Proxy      string  `toml:"proxy"`
	AdminChats []int64 `toml:"admin_chats"` // chats allowed to issue commands
}

// Index holds sync and backfill settings.
type Index struct {
	MonitorAll     bool    `toml:"monitor_all"`
	ExcludedChats  []int64 `toml:"excluded_chats"`
	PageLen        int     `toml:"page_len"`
	BatchSize      int     `toml:"batch_size"`       // history fetch batch size
	MaxBuffer      int     `toml:"max_buffer"`       // backfill buffer flush threshold
	BackfillFloor  int64   `toml:"backfill_floor"`   // oldest message id to walk to, 0 = chat start
	StatusInterval int     `toml:"status_interval"`  // seconds between progress updates
	RefreshCron    string  `toml:"refresh_cron"`     // optional chat-name refresh schedule
}

// Counter holds shared usage-counter settings.
type Counter struct {
	Path      string `toml:"path"`      // shared counter db, empty = per-instance default
	Namespace string `toml:"namespace"` // key prefix, empty = instance name
}

// Defaults applied after load for fields the file leaves unset.
const (
	DefaultPageLen        = 10
	DefaultBatchSize      = 100
	DefaultMaxBuffer      = 10000
	DefaultStatusInterval = 5
)

// Load reads config from the given path. Returns error if file missing.
func Load(path string) (*Config, error) {
	var cfg Config
	_, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Index.PageLen <= 0 {
		c.Index.PageLen = DefaultPageLen
	}
	if c.Index.BatchSize <= 0 {
		c.Index.BatchSize = DefaultBatchSize
	}
	if c.Index.MaxBuffer <= 0 {
		c.Index.MaxBuffer = DefaultMaxBuffer
	}
	if c.Index.StatusInterval <= 0 {
		c.Index.StatusInterval = DefaultStatusInterval
	}
}

// Validate checks settings that would otherwise fail deep inside the daemon.
func (c *Config) Validate() error {
	if c.Telegram.Token == "" {
		return fmt.Errorf("telegram.token is required")
	}
	return nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
