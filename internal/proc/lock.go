package proc

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// LockFileName is created in the working directory for the length of a run.
// Workers of two runs in one checkout would share the same numbered test
// databases.
const LockFileName = ".testforge.lock"

// LockInfo describes the owner of a working directory lock.
type LockInfo struct {
	PID       int       `json:"pid"`
	Command   string    `json:"command"`
	StartedAt time.Time `json:"started_at"`
}

// Acquire creates the lock file in dir. A lock left behind by a process
// that no longer exists is reclaimed.
func Acquire(dir, command string) error {
	lockPath := filepath.Join(dir, LockFileName)

	info := LockInfo{
		PID:       os.Getpid(),
		Command:   command,
		StartedAt: time.Now(),
	}

	err := writeLock(lockPath, &info)
	if err == nil {
		return nil
	}
	if !errors.Is(err, os.ErrExist) {
		return fmt.Errorf("create lock %s: %w", lockPath, err)
	}

	existing, readErr := ReadLock(dir)
	if readErr != nil {
		return fmt.Errorf("%s is locked (could not read lock: %v)", dir, readErr)
	}
	if existing.PID != os.Getpid() && Alive(existing.PID) {
		return fmt.Errorf("another testforge %s (PID %d) has been running here since %s",
			existing.Command, existing.PID, existing.StartedAt.Format(time.RFC3339))
	}

	slog.Warn("reclaiming stale lock", "dir", dir, "stale_pid", existing.PID, "command", existing.Command)
	if err := os.Remove(lockPath); err != nil {
		return fmt.Errorf("remove stale lock: %w", err)
	}
	if err := writeLock(lockPath, &info); err != nil {
		return fmt.Errorf("acquire after stale removal: %w", err)
	}
	return nil
}

// Release removes the lock file from dir. It is idempotent.
func Release(dir string) {
	lockPath := filepath.Join(dir, LockFileName)
	if err := os.Remove(lockPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("failed to release lock", "path", lockPath, "error", err)
	}
}

// ReadLock reads the lock file from dir.
func ReadLock(dir string) (*LockInfo, error) {
	data, err := os.ReadFile(filepath.Join(dir, LockFileName))
	if err != nil {
		return nil, err
	}
	var info LockInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("parse lock: %w", err)
	}
	return &info, nil
}

// writeLock creates the lock file with O_EXCL so only one process wins.
func writeLock(path string, info *LockInfo) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	encErr := json.NewEncoder(f).Encode(info)
	closeErr := f.Close()
	if encErr != nil {
		return encErr
	}
	return closeErr
}
