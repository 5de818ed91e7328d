// Package lock serializes zap runs: cron has no idea whether the
// previous invocation is still replicating.
package lock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"gopkg.in/yaml.v3"
)

type Entry struct {
	Pid        int    `yaml:"pid"`
	Subcommand string `yaml:"subcommand"`
	StartedAt  string `yaml:"started_at"`
}

// DefaultPath is where mutating subcommands place their lock unless
// overridden.
func DefaultPath() string {
	return filepath.Join(os.TempDir(), "zap.lock")
}

// current reads the lock file and returns its entry only while the
// recorded process is still running. A missing file or a dead holder
// both mean the lock is free.
func current(path string) (*Entry, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var entry Entry
	if err := yaml.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("unreadable lock file %s: %w", path, err)
	}
	if entry.Pid <= 0 {
		return nil, nil
	}
	if err := syscall.Kill(entry.Pid, 0); err == syscall.ESRCH {
		return nil, nil
	}
	return &entry, nil
}

// Acquire takes the run lock, reclaiming locks left behind by dead
// processes. Returns a release function to defer.
func Acquire(lockPath, subcommand string) (func() error, error) {
	holder, err := current(lockPath)
	if err != nil {
		return nil, err
	}
	if holder != nil {
		return nil, fmt.Errorf("another zap %s is running: pid %d (started %s)",
			holder.Subcommand, holder.Pid, holder.StartedAt)
	}

	data, err := yaml.Marshal(&Entry{
		Pid:        os.Getpid(),
		Subcommand: subcommand,
		StartedAt:  time.Now().Format(time.RFC3339),
	})
	if err != nil {
		return nil, err
	}
	// Write-then-rename so a concurrent reader never sees a torn entry.
	tmp := lockPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return nil, err
	}
	if err := os.Rename(tmp, lockPath); err != nil {
		return nil, err
	}

	return func() error {
		if err := os.Remove(lockPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
		return nil
	}, nil
}
