package workspace

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/gofrs/flock"
)

// ErrWorkspaceLocked means another run holds the working directory.
var ErrWorkspaceLocked = errors.New("workspace locked by another run")

// LockFileName is the file lock's marker inside the working directory.
const LockFileName = "limebot.lock"

// Locker guards one working directory. Lock returns ErrWorkspaceLocked (possibly wrapped)
// on contention.
type Locker interface {
	Lock(ctx context.Context, dir, runID string) error
	Unlock(ctx context.Context) error
	Name() string
}

// NoLock disables locking.
type NoLock struct{}

func (NoLock) Lock(context.Context, string, string) error { return nil }
func (NoLock) Unlock(context.Context) error               { return nil }
func (NoLock) Name() string                               { return "none" }

// FileLock holds an flock(2) on a marker file in the directory and writes the run id into
// it for operators. The kernel drops the lock when the holder exits, so a crashed run
// leaves a stale run id behind but never a held lock.
type FileLock struct {
	fl    *flock.Flock
	runID string
}

func (l *FileLock) Name() string { return "file" }

func (l *FileLock) Lock(_ context.Context, dir, runID string) error {
	path := filepath.Join(dir, LockFileName)
	fl := flock.New(path)
	ok, err := fl.TryLock()
	if err != nil {
		return fmt.Errorf("lock %s: %w", path, err)
	}
	if !ok {
		return fmt.Errorf("%w: %s held by %q", ErrWorkspaceLocked, path, readHolder(path))
	}
	if stale := readHolder(path); stale != "" {
		slog.Info("taking over lock left by an exited run",
			slog.String("component", "workspace_lock"),
			slog.String("path", path),
			slog.String("previous_run_id", stale))
	}
	if err := os.WriteFile(path, []byte(runID+"\n"), 0o644); err != nil {
		_ = fl.Unlock()
		return fmt.Errorf("write lock file: %w", err)
	}
	l.fl, l.runID = fl, runID
	return nil
}

// Unlock clears the run id if the marker still names this run, then releases the lock.
// The marker file itself stays so the path never changes identity under a waiting run.
func (l *FileLock) Unlock(context.Context) error {
	if l.fl == nil {
		return nil
	}
	fl := l.fl
	l.fl = nil
	var errs []error
	if readHolder(fl.Path()) == l.runID {
		if err := os.Truncate(fl.Path(), 0); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, fmt.Errorf("clear lock file: %w", err))
		}
	}
	if err := fl.Unlock(); err != nil {
		errs = append(errs, fmt.Errorf("unlock %s: %w", fl.Path(), err))
	}
	return errors.Join(errs...)
}

func readHolder(path string) string {
	b, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(b))
}

// lockKey derives the advisory lock id for a directory.
func lockKey(dir string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(dir))
	return int64(h.Sum64())
}
