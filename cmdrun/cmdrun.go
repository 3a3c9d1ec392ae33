// Package cmdrun runs the external media tools (streamlink, ffprobe, ffmpeg) and captures
// their output and exit status so callers can classify failures.
package cmdrun

import (
	"bytes"
	"context"
	"errors"
	"io/fs"
	"os/exec"
	"strings"
)

// Result is the captured output of one command.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Runner abstracts process execution for tests.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (Result, error)
}

// Exec executes commands via os/exec.
type Exec struct{}

// Run executes one command. ExitCode is -1 when the process never produced one
// (missing binary, start failure, killed by context).
func (Exec) Run(ctx context.Context, name string, args ...string) (Result, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := Result{Stdout: stdout.String(), Stderr: stderr.String()}
	if err != nil {
		res.ExitCode = -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
		}
		return res, err
	}
	return res, nil
}

// IsNotFound reports whether err means the executable could not be located or started
// because it does not exist.
func IsNotFound(err error) bool {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return false
	}
	// Absolute tool paths skip LookPath and fail in StartProcess with ENOENT instead.
	return errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist)
}

// Tail returns at most the last n bytes of s, trimmed, for log-friendly stderr excerpts.
func Tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
