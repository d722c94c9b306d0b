package instance

import (
	"os"
	"path/filepath"
)

// BaseDir returns ~/.tgsd.
func BaseDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".tgsd")
}

// Dir returns the instance-specific directory.
func Dir(name string) string {
	return filepath.Join(BaseDir(), "instances", name)
}

// LockPath returns the lock file path for an instance.
func LockPath(name string) string {
	return filepath.Join(Dir(name), "LOCK")
}

// IndexDBPath returns the search index db path.
func IndexDBPath(name string) string {
	return filepath.Join(Dir(name), "index.db")
}

// CounterDBPath returns the default shared counter db path. The counter db
// lives under the base dir, not the instance dir, so independently run
// instances share it.
func CounterDBPath() string {
	return filepath.Join(BaseDir(), "counters.db")
}

// LogDir returns the log directory for an instance.
func LogDir(name string) string {
	return filepath.Join(Dir(name), "logs")
}

// LogPath returns the daemon log file path.
func LogPath(name string) string {
	return filepath.Join(LogDir(name), "tgsd.log")
}

// ConfigPath returns the global config file path.
func ConfigPath() string {
	return filepath.Join(BaseDir(), "config.toml")
}

// EnsureDir creates the instance directory tree with proper permissions.
func EnsureDir(name string) error {
	dirs := []string{
		Dir(name),
		LogDir(name),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0700); err != nil {
			return err
		}
	}
	return nil
}
