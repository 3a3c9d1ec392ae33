package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/limebot/limebot/chat"
	"github.com/limebot/limebot/pipeline"
)

// PipelineStatus is the read side of the controller.
type PipelineStatus interface {
	Snapshot() pipeline.Snapshot
}

// SinkStatus reports the chat connection state.
type SinkStatus interface {
	State() chat.SinkState
}

// Handlers holds dependencies for all HTTP handlers.
type Handlers struct {
	pipeline PipelineStatus
	sink     SinkStatus
	started  time.Time
}

// NewHandlers creates a new Handlers instance with the given dependencies.
func NewHandlers(p PipelineStatus, s SinkStatus) *Handlers {
	return &Handlers{pipeline: p, sink: s, started: time.Now()}
}

// HandleHealthz responds to liveness checks. The process is alive if it can answer.
func (h *Handlers) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// HandleReadyz reports ready when the chat sink has joined its channel and the pipeline
// has not aborted.
func (h *Handlers) HandleReadyz(w http.ResponseWriter, r *http.Request) {
	checks := []struct {
		name string
		fn   func() error
	}{
		{"sink", func() error {
			if h.sink == nil {
				return fmt.Errorf("no chat sink")
			}
			if st := h.sink.State(); st != chat.StateReady {
				return fmt.Errorf("chat sink %s", st)
			}
			return nil
		}},
		{"pipeline", func() error {
			if h.pipeline == nil {
				return fmt.Errorf("no pipeline")
			}
			snap := h.pipeline.Snapshot()
			if snap.State == pipeline.StateAborted.String() {
				return fmt.Errorf("pipeline aborted: %s", snap.LastError)
			}
			return nil
		}},
	}

	results := make(map[string]string, len(checks))
	status := http.StatusOK
	failed := ""
	for _, check := range checks {
		if err := check.fn(); err != nil {
			results[check.name] = err.Error()
			if failed == "" {
				failed = check.name
			}
			status = http.StatusServiceUnavailable
			continue
		}
		results[check.name] = "ok"
	}

	body := map[string]any{"status": "ready", "checks": results}
	if status != http.StatusOK {
		body["status"] = "not_ready"
		body["failed_check"] = failed
	}
	writeJSON(w, status, body)
}

// HandleStatus returns the controller snapshot plus the sink state.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	resp := struct {
		pipeline.Snapshot
		Sink   string  `json:"sink"`
		Uptime float64 `json:"uptime_seconds"`
	}{Uptime: time.Since(h.started).Seconds(), Sink: "none"}
	if h.pipeline != nil {
		resp.Snapshot = h.pipeline.Snapshot()
	}
	if h.sink != nil {
		resp.Sink = h.sink.State().String()
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
