// Package workspace owns the run's working directory: the fixed artifact names each
// attempt writes, the cleaner that removes them, and the lock that keeps a second
// instance from sharing the directory.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/limebot/limebot/telemetry"
)

// Artifact file names. They are fixed so a crashed attempt's leftovers are found and
// overwritten or removed by the next one.
const (
	CaptureName    = "twitch_clip.mp4"
	AudioName      = "twitch_audio.mp3"
	NormalizedName = "converted_audio.wav"

	// tempSuffix matches the normalizer's scratch file next to the normalized output.
	tempSuffix = ".tmp.wav"
)

// Artifacts are the per-attempt file paths inside a working directory.
type Artifacts struct {
	Capture    string
	Audio      string
	Normalized string
}

// ArtifactsIn returns the artifact paths rooted at dir.
func ArtifactsIn(dir string) Artifacts {
	return Artifacts{
		Capture:    filepath.Join(dir, CaptureName),
		Audio:      filepath.Join(dir, AudioName),
		Normalized: filepath.Join(dir, NormalizedName),
	}
}

// Paths lists every file an attempt may leave behind, including the normalizer's temp file.
func (a Artifacts) Paths() []string {
	return []string{a.Capture, a.Audio, a.Normalized, a.Normalized + tempSuffix}
}

// CleanupError is one artifact that could not be removed.
type CleanupError struct {
	Path string
	Err  error
}

func (e *CleanupError) Error() string { return fmt.Sprintf("remove %s: %v", e.Path, e.Err) }

func (e *CleanupError) Unwrap() error { return e.Err }

// Options configure Open.
type Options struct {
	Root    string // WORK_DIR
	Isolate bool   // allocate <Root>/runs/<run id>
	RunID   string // generated when empty
	Locker  Locker // nil means no locking
}

// Workspace is an opened working directory.
type Workspace struct {
	Dir       string
	RunID     string
	Artifacts Artifacts

	locker   Locker
	isolated bool
	logger   *slog.Logger
}

// Open creates the working directory and takes its lock. A directory held by another
// run fails with ErrWorkspaceLocked.
func Open(ctx context.Context, opts Options) (*Workspace, error) {
	root := opts.Root
	if root == "" {
		root = "data"
	}
	runID := opts.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	dir := root
	if opts.Isolate {
		dir = filepath.Join(root, "runs", runID)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create workspace %s: %w", dir, err)
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		abs = dir
	}
	locker := opts.Locker
	if locker == nil {
		locker = NoLock{}
	}
	if err := locker.Lock(ctx, abs, runID); err != nil {
		if opts.Isolate {
			_ = os.RemoveAll(dir)
		}
		return nil, err
	}
	ws := &Workspace{
		Dir:       abs,
		RunID:     runID,
		Artifacts: ArtifactsIn(abs),
		locker:    locker,
		isolated:  opts.Isolate,
		logger:    slog.Default().With(slog.String("component", "workspace"), slog.String("run_id", runID)),
	}
	ws.logger.Info("workspace opened", slog.String("dir", abs), slog.String("lock", locker.Name()), slog.Bool("isolated", opts.Isolate))
	return ws, nil
}

// Clean removes every artifact that exists. Missing files are not errors. Failures are
// logged, counted and returned but never stop the remaining removals.
func (w *Workspace) Clean() []error {
	var errs []error
	for _, p := range w.Artifacts.Paths() {
		if err := os.Remove(p); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			telemetry.IncCleanupFailure()
			w.logger.Warn("failed to remove artifact", slog.String("path", p), slog.Any("err", err))
			errs = append(errs, &CleanupError{Path: p, Err: err})
			continue
		}
		w.logger.Debug("removed artifact", slog.String("path", p))
	}
	return errs
}

// Close cleans the artifacts, releases the lock and, for isolated runs, removes the run
// directory.
func (w *Workspace) Close(ctx context.Context) error {
	w.Clean()
	var errs []error
	if err := w.locker.Unlock(ctx); err != nil {
		errs = append(errs, fmt.Errorf("release %s lock: %w", w.locker.Name(), err))
	}
	if w.isolated {
		if err := os.RemoveAll(w.Dir); err != nil {
			errs = append(errs, fmt.Errorf("remove run dir: %w", err))
		}
	}
	if len(errs) == 0 {
		w.logger.Info("workspace closed")
	}
	return errors.Join(errs...)
}
