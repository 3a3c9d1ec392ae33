package pipeline

import (
	"errors"
	"time"
)

// State is the controller's position in the capture→transcribe→publish cycle.
type State int

const (
	StateIdle State = iota
	StateCapturing
	StateExtracting
	StateNormalizing
	StateTranscribing
	StatePublishing
	StateRetryBackoff
	StateAborted
)

var stateNames = [...]string{
	StateIdle:         "idle",
	StateCapturing:    "capturing",
	StateExtracting:   "extracting",
	StateNormalizing:  "normalizing",
	StateTranscribing: "transcribing",
	StatePublishing:   "publishing",
	StateRetryBackoff: "retry_backoff",
	StateAborted:      "aborted",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// StateNames lists every state label, for the state gauge.
func StateNames() []string {
	return append([]string(nil), stateNames[:]...)
}

// Error taxonomy. Attempt errors wrap one of these together with the adapter error.
var (
	ErrToolUnavailable      = errors.New("required tool unavailable")
	ErrCaptureFailed        = errors.New("capture failed")
	ErrExtractionFailed     = errors.New("audio extraction failed")
	ErrConversionFailed     = errors.New("audio conversion failed")
	ErrNoSpeechDetected     = errors.New("no speech detected")
	ErrTranscriptionService = errors.New("transcription service error")
	ErrPublishNotReady      = errors.New("chat sink not ready")
	ErrSinkClosed           = errors.New("chat sink closed")
	ErrCleanupFailed        = errors.New("artifact cleanup failed")
	ErrTooManyFailures      = errors.New("too many consecutive failures")
)

// Source is what gets captured. Immutable for a run.
type Source struct {
	URL          string
	ClipDuration time.Duration
}

// Snapshot is a read-only view of the controller for the ops server.
type Snapshot struct {
	State               string    `json:"state"`
	RunID               string    `json:"run_id"`
	SourceURL           string    `json:"source_url"`
	StartedAt           time.Time `json:"started_at"`
	Attempts            int       `json:"attempts"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	Publishes           int       `json:"publishes"`
	LastPublishAt       time.Time `json:"last_publish_at,omitempty"`
	LastOutcome         string    `json:"last_outcome,omitempty"`
	LastError           string    `json:"last_error,omitempty"`
}
