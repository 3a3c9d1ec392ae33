package testutil

import (
	"context"
	"os"
	"strings"
	"sync"

	"github.com/limebot/limebot/cmdrun"
)

// Call is one recorded command invocation.
type Call struct {
	Name string
	Args []string
}

// FakeRunner implements cmdrun.Runner with a scripted handler and records every call.
type FakeRunner struct {
	mu      sync.Mutex
	Calls   []Call
	Handler func(name string, args []string) (cmdrun.Result, error)
}

// Run records the call and delegates to Handler (zero result when Handler is nil).
func (f *FakeRunner) Run(_ context.Context, name string, args ...string) (cmdrun.Result, error) {
	f.mu.Lock()
	f.Calls = append(f.Calls, Call{Name: name, Args: append([]string(nil), args...)})
	h := f.Handler
	f.mu.Unlock()
	if h == nil {
		return cmdrun.Result{}, nil
	}
	return h(name, args)
}

// CallCount returns how many times the named command ran.
func (f *FakeRunner) CallCount(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.Calls {
		if c.Name == name {
			n++
		}
	}
	return n
}

// ArgAfter returns the argument following flag, or "".
func ArgAfter(args []string, flag string) string {
	for i := 0; i < len(args)-1; i++ {
		if args[i] == flag {
			return args[i+1]
		}
	}
	return ""
}

// LastArg returns the final argument, which is the output path for ffmpeg invocations.
func LastArg(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[len(args)-1]
}

// WriteFile writes content to path or panics; for use inside FakeRunner handlers.
func WriteFile(path, content string) {
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		panic(err)
	}
}

// HasArg reports whether args contains a value with the given prefix.
func HasArg(args []string, prefix string) bool {
	for _, a := range args {
		if strings.HasPrefix(a, prefix) {
			return true
		}
	}
	return false
}
