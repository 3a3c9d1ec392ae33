// Package capture records a fixed-length segment of a live stream to a local media file
// using streamlink. It never retries: retry policy belongs to the pipeline controller.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/limebot/limebot/cmdrun"
)

// ErrToolNotFound means the capture executable is missing or not runnable.
var ErrToolNotFound = errors.New("capture tool not found")

// ErrEmptyOutput means the tool exited cleanly but left no usable file, as happens when
// the stream cuts out mid-segment.
var ErrEmptyOutput = errors.New("capture produced no output")

// ToolFailedError is a nonzero exit from the capture tool.
type ToolFailedError struct {
	ExitCode int
	Stderr   string
}

func (e *ToolFailedError) Error() string {
	return fmt.Sprintf("capture tool exited with code %d: %s", e.ExitCode, cmdrun.Tail(e.Stderr, 300))
}

// UnexpectedError wraps any other capture failure.
type UnexpectedError struct {
	Err error
}

func (e *UnexpectedError) Error() string { return "capture: unexpected error: " + e.Err.Error() }
func (e *UnexpectedError) Unwrap() error { return e.Err }

// Streamlink captures clips by invoking the streamlink CLI.
type Streamlink struct {
	Path    string // executable, default "streamlink"
	Quality string // stream selector, default "best"
	Runner  cmdrun.Runner
}

// New returns a Streamlink adapter using os/exec.
func New(path, quality string) *Streamlink {
	return &Streamlink{Path: path, Quality: quality, Runner: cmdrun.Exec{}}
}

// Args builds the streamlink argument list.
func (s *Streamlink) Args(url, outPath string, duration time.Duration) []string {
	quality := s.Quality
	if quality == "" {
		quality = "best"
	}
	secs := int(duration / time.Second)
	return []string{
		url, quality,
		"--hls-duration", strconv.Itoa(secs),
		"-o", outPath,
		"--force", // the artifact name is reused every attempt
	}
}

// Capture records duration worth of url into outPath and returns outPath on success.
func (s *Streamlink) Capture(ctx context.Context, url, outPath string, duration time.Duration) (string, error) {
	if duration < time.Second {
		return "", &UnexpectedError{Err: fmt.Errorf("clip duration must be at least 1s, got %v", duration)}
	}
	bin := s.Path
	if bin == "" {
		bin = "streamlink"
	}
	runner := s.Runner
	if runner == nil {
		runner = cmdrun.Exec{}
	}
	args := s.Args(url, outPath, duration)
	logger := slog.Default().With(slog.String("component", "capture"))
	logger.Debug("executing capture", slog.String("cmd", bin), slog.Any("args", args))

	res, err := runner.Run(ctx, bin, args...)
	if err != nil {
		switch {
		case cmdrun.IsNotFound(err):
			return "", fmt.Errorf("%w: %s: %v", ErrToolNotFound, bin, err)
		case ctx.Err() != nil:
			return "", &UnexpectedError{Err: ctx.Err()}
		case res.ExitCode > 0:
			return "", &ToolFailedError{ExitCode: res.ExitCode, Stderr: res.Stderr}
		default:
			return "", &UnexpectedError{Err: err}
		}
	}
	if res.Stderr != "" {
		logger.Debug("capture stderr", slog.String("stderr", cmdrun.Tail(res.Stderr, 500)))
	}

	info, err := os.Stat(outPath)
	if err != nil || info.Size() == 0 {
		return "", fmt.Errorf("%w: %s", ErrEmptyOutput, outPath)
	}
	logger.Info("clip captured", slog.String("path", outPath), slog.Int64("bytes", info.Size()))
	return outPath, nil
}
