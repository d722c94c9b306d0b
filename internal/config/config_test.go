package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSaveAndLoad(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")

	cfg := &Config{DefaultInstance: "work"}
	cfg.Telegram.Token = "123:abc"
	cfg.Index.ExcludedChats = []int64{-100123}
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.DefaultInstance != "work" {
		t.Errorf("DefaultInstance = %q, want %q", loaded.DefaultInstance, "work")
	}
	if loaded.Telegram.Token != "123:abc" {
		t.Errorf("Token = %q, want 123:abc", loaded.Telegram.Token)
	}
	if len(loaded.Index.ExcludedChats) != 1 || loaded.Index.ExcludedChats[0] != -100123 {
		t.Errorf("ExcludedChats = %v, want [-100123]", loaded.Index.ExcludedChats)
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")
	if err := os.WriteFile(path, []byte("[telegram]\ntoken = \"t\"\n"), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Index.PageLen != DefaultPageLen {
		t.Errorf("PageLen = %d, want %d", cfg.Index.PageLen, DefaultPageLen)
	}
	if cfg.Index.BatchSize != DefaultBatchSize {
		t.Errorf("BatchSize = %d, want %d", cfg.Index.BatchSize, DefaultBatchSize)
	}
	if cfg.Index.StatusInterval != DefaultStatusInterval {
		t.Errorf("StatusInterval = %d, want %d", cfg.Index.StatusInterval, DefaultStatusInterval)
	}
}

func TestValidate(t *testing.T) {
	cfg := &Config{}
	if err := cfg.Validate(); err == nil {
		t.Error("Validate() should fail without a token")
	}
	cfg.Telegram.Token = "123:abc"
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestLoadMissing(t *testing.T) {
	_, err := Load("/nonexistent/config.toml")
	if err == nil {
		t.Error("Load() expected error for missing file")
	}
}

func TestSavePermissions(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")

	if err := Save(path, &Config{DefaultInstance: "main"}); err != nil {
		t.Fatal(err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	perm := info.Mode().Perm()
	if perm != 0600 {
		t.Errorf("file permission = %o, want 0600", perm)
	}
}
