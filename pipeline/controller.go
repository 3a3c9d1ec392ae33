// Package pipeline runs the capture→extract→normalize→transcribe→publish loop. One
// Controller owns the working directory for its run; every attempt starts from a clean
// workspace and leaves one behind, whatever the outcome.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/limebot/limebot/capture"
	"github.com/limebot/limebot/chat"
	"github.com/limebot/limebot/media"
	"github.com/limebot/limebot/stt"
	"github.com/limebot/limebot/telemetry"
	"github.com/limebot/limebot/workspace"
)

// Capturer records a clip of the source to outPath.
type Capturer interface {
	Capture(ctx context.Context, url, outPath string, duration time.Duration) (string, error)
}

// Extractor pulls the audio track out of a capture.
type Extractor interface {
	Extract(ctx context.Context, capturePath, audioPath string) (string, error)
}

// Normalizer converts audio into the recognizer's input format.
type Normalizer interface {
	Normalize(ctx context.Context, audioPath string) (string, error)
}

// Transcriber turns normalized audio into a result.
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath string) (stt.Result, error)
}

// Sink receives transcripts.
type Sink interface {
	AwaitReady(ctx context.Context) error
	Publish(ctx context.Context, text string) error
	State() chat.SinkState
}

// LiveChecker reports whether the source channel is broadcasting.
type LiveChecker interface {
	IsLive(ctx context.Context, login string) (bool, error)
}

// Cleaner removes an attempt's artifacts.
type Cleaner interface {
	Clean() []error
}

// Deps are the controller's collaborators. Live and Sleep are optional.
type Deps struct {
	Capturer    Capturer
	Extractor   Extractor
	Normalizer  Normalizer
	Transcriber Transcriber
	Sink        Sink
	Live        LiveChecker
	Cleaner     Cleaner
	Artifacts   workspace.Artifacts
	Sleep       func(ctx context.Context, d time.Duration) error
}

// Settings is the loop policy.
type Settings struct {
	Source                 Source
	SourceChannel          string // login for the live check
	ShortBackoff           time.Duration
	LongBackoff            time.Duration
	MaxConsecutiveFailures int // 0 = unbounded
	MessagePrefix          string
	RunID                  string
}

// attempt results
type result int

const (
	resultFailed result = iota
	resultTranscribed
	resultOffline
)

// Controller drives the loop. Run must be called at most once.
type Controller struct {
	deps     Deps
	settings Settings
	logger   *slog.Logger

	mu   sync.RWMutex
	snap Snapshot
	st   State
}

// New builds a controller.
func New(deps Deps, settings Settings) *Controller {
	if deps.Sleep == nil {
		deps.Sleep = sleepCtx
	}
	if settings.RunID == "" {
		settings.RunID = uuid.NewString()
	}
	return &Controller{
		deps:     deps,
		settings: settings,
		logger:   slog.Default().With(slog.String("component", "pipeline"), slog.String("run_id", settings.RunID)),
		snap: Snapshot{
			State:     StateIdle.String(),
			RunID:     settings.RunID,
			SourceURL: settings.Source.URL,
		},
	}
}

// Snapshot returns the current view.
func (c *Controller) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snap
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.st
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	c.st = s
	c.snap.State = s.String()
	c.mu.Unlock()
	telemetry.SetState(s.String(), stateNames[:])
}

func (c *Controller) update(fn func(*Snapshot)) {
	c.mu.Lock()
	fn(&c.snap)
	c.mu.Unlock()
}

// Run loops until ctx ends or a fatal condition aborts the run. It returns ctx.Err() on
// cancellation and an error wrapping ErrToolUnavailable, ErrSinkClosed or
// ErrTooManyFailures on abort.
func (c *Controller) Run(ctx context.Context) error {
	c.update(func(s *Snapshot) { s.StartedAt = time.Now().UTC() })
	c.setState(StateIdle)
	c.clean(c.logger)

	c.logger.Info("waiting for chat sink")
	if err := c.deps.Sink.AwaitReady(ctx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return c.abort("sink_unavailable", fmt.Errorf("chat sink: %w", err))
	}
	c.logger.Info("pipeline started",
		slog.String("source", c.settings.Source.URL),
		slog.Duration("clip", c.settings.Source.ClipDuration),
		slog.Duration("short_backoff", c.settings.ShortBackoff),
		slog.Duration("long_backoff", c.settings.LongBackoff),
		slog.Int("max_consecutive_failures", c.settings.MaxConsecutiveFailures))

	failures := 0
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return c.stop(err)
		}
		// The chat client does not reconnect once its connection loop has returned.
		if c.deps.Sink.State() == chat.StateClosed {
			return c.abort("sink_unavailable", fmt.Errorf("%w: %w", ErrSinkClosed, chat.ErrClosed))
		}
		res, err := c.runAttempt(ctx, attempt)
		if errors.Is(err, ErrToolUnavailable) {
			return c.abort("tool_unavailable", err)
		}
		if ctx.Err() != nil {
			return c.stop(ctx.Err())
		}
		if errors.Is(err, ErrSinkClosed) {
			return c.abort("sink_unavailable", err)
		}

		wait := c.settings.ShortBackoff
		switch res {
		case resultTranscribed:
			failures = 0
			wait = c.settings.LongBackoff
		case resultOffline:
			wait = c.settings.LongBackoff
		case resultFailed:
			failures++
		}
		telemetry.SetConsecutiveFailures(failures)
		c.update(func(s *Snapshot) { s.ConsecutiveFailures = failures })

		if res == resultFailed && c.settings.MaxConsecutiveFailures > 0 && failures >= c.settings.MaxConsecutiveFailures {
			return c.abort("max_failures", fmt.Errorf("%w: %d in a row, last: %w", ErrTooManyFailures, failures, err))
		}

		c.setState(StateRetryBackoff)
		c.logger.Debug("backing off", slog.Duration("wait", wait), slog.Int("consecutive_failures", failures))
		if err := c.deps.Sleep(ctx, wait); err != nil {
			return c.stop(err)
		}
	}
}

func (c *Controller) stop(err error) error {
	c.clean(c.logger)
	c.setState(StateIdle)
	c.logger.Info("pipeline stopped", slog.Any("reason", err))
	return err
}

func (c *Controller) abort(reason string, err error) error {
	c.clean(c.logger)
	c.setState(StateAborted)
	c.update(func(s *Snapshot) { s.LastError = err.Error() })
	telemetry.IncAbort(reason)
	c.logger.Error("pipeline aborted", slog.String("reason", reason), slog.Any("err", err))
	return err
}

func (c *Controller) clean(logger *slog.Logger) {
	if c.deps.Cleaner == nil {
		return
	}
	if errs := c.deps.Cleaner.Clean(); len(errs) > 0 {
		logger.Warn("workspace not fully cleaned", slog.Any("err", fmt.Errorf("%w: %w", ErrCleanupFailed, errors.Join(errs...))))
	}
}

// runAttempt performs one cycle. The workspace is cleaned when it returns, on every path.
func (c *Controller) runAttempt(ctx context.Context, n int) (res result, err error) {
	corr := uuid.NewString()
	ctx = telemetry.WithCorrelation(ctx, corr)
	logger := telemetry.LoggerWithCorr(ctx).With(
		slog.String("component", "pipeline"),
		slog.String("run_id", c.settings.RunID),
		slog.Int("attempt", n))
	ctx, span := telemetry.StartAttemptSpan(ctx, n, c.settings.RunID)
	start := time.Now()
	c.update(func(s *Snapshot) { s.Attempts = n })

	outcome := "unknown"
	defer func() {
		c.clean(logger)
		telemetry.ObserveAttempt(time.Since(start))
		telemetry.IncAttempt(outcome)
		telemetry.EndSpan(span, err)
		c.update(func(s *Snapshot) {
			s.LastOutcome = outcome
			if err != nil {
				s.LastError = err.Error()
			}
		})
	}()

	if c.deps.Live != nil && c.settings.SourceChannel != "" {
		live, lerr := c.deps.Live.IsLive(ctx, c.settings.SourceChannel)
		switch {
		case lerr != nil:
			logger.Warn("live check failed; capturing anyway", slog.Any("err", lerr))
		case !live:
			outcome = "offline"
			telemetry.IncOfflineSkip()
			logger.Info("source channel offline; skipping capture", slog.String("channel", c.settings.SourceChannel))
			return resultOffline, nil
		}
	}

	a := c.deps.Artifacts
	err = c.stage(ctx, "capture", StateCapturing, func(ctx context.Context) error {
		_, cerr := c.deps.Capturer.Capture(ctx, c.settings.Source.URL, a.Capture, c.settings.Source.ClipDuration)
		if errors.Is(cerr, capture.ErrToolNotFound) {
			return fmt.Errorf("%w: %w", ErrToolUnavailable, cerr)
		}
		if cerr != nil {
			return fmt.Errorf("%w: %w", ErrCaptureFailed, cerr)
		}
		if fi, serr := os.Stat(a.Capture); serr != nil || fi.Size() == 0 {
			return fmt.Errorf("%w: %s missing or empty after capture", ErrCaptureFailed, a.Capture)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrToolUnavailable) {
			outcome = "tool_unavailable"
			return resultFailed, err
		}
		outcome = "capture_failed"
		logger.Warn("capture failed", slog.Any("err", err))
		return resultFailed, err
	}

	var audioPath string
	err = c.stage(ctx, "extract", StateExtracting, func(ctx context.Context) error {
		p, xerr := c.deps.Extractor.Extract(ctx, a.Capture, a.Audio)
		if errors.Is(xerr, media.ErrToolNotFound) {
			return fmt.Errorf("%w: %w", ErrToolUnavailable, xerr)
		}
		if xerr != nil {
			return fmt.Errorf("%w: %w", ErrExtractionFailed, xerr)
		}
		audioPath = p
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrToolUnavailable) {
			outcome = "tool_unavailable"
			return resultFailed, err
		}
		outcome = "extraction_failed"
		logger.Warn("audio extraction failed", slog.Any("err", err))
		return resultFailed, err
	}

	var wavPath string
	err = c.stage(ctx, "normalize", StateNormalizing, func(ctx context.Context) error {
		p, nerr := c.deps.Normalizer.Normalize(ctx, audioPath)
		if errors.Is(nerr, media.ErrToolNotFound) {
			return fmt.Errorf("%w: %w", ErrToolUnavailable, nerr)
		}
		if nerr != nil {
			return fmt.Errorf("%w: %w", ErrConversionFailed, nerr)
		}
		wavPath = p
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrToolUnavailable) {
			outcome = "tool_unavailable"
			return resultFailed, err
		}
		outcome = "conversion_failed"
		logger.Warn("audio conversion failed", slog.Any("err", err))
		return resultFailed, err
	}

	var tr stt.Result
	err = c.stage(ctx, "transcribe", StateTranscribing, func(ctx context.Context) error {
		r, terr := c.deps.Transcriber.Transcribe(ctx, wavPath)
		if terr != nil {
			return fmt.Errorf("%w: %w", ErrConversionFailed, terr)
		}
		tr = r
		switch r.Outcome {
		case stt.OutcomeNoSpeech:
			return ErrNoSpeechDetected
		case stt.OutcomeServiceError:
			return fmt.Errorf("%w: %w", ErrTranscriptionService, r.Err)
		}
		return nil
	})
	switch {
	case errors.Is(err, ErrNoSpeechDetected):
		outcome = "no_speech"
		logger.Info("no speech detected; retrying")
		return resultFailed, err
	case errors.Is(err, ErrTranscriptionService):
		outcome = "service_error"
		if tr.Err != nil && tr.Err.Class == stt.ClassFatal {
			logger.Error("transcription service rejected request", slog.String("class", tr.Err.Class.String()), slog.Any("err", err))
		} else {
			logger.Warn("transcription service error", slog.Any("err", err))
		}
		return resultFailed, err
	case errors.Is(err, stt.ErrMissingAudio):
		outcome = "missing_audio"
		logger.Warn("normalized audio missing", slog.Any("err", err))
		return resultFailed, err
	case err != nil:
		outcome = "conversion_failed"
		logger.Warn("normalized audio unusable", slog.Any("err", err))
		return resultFailed, err
	}

	message := c.settings.MessagePrefix + tr.Text
	perr := c.stage(ctx, "publish", StatePublishing, func(ctx context.Context) error {
		return c.deps.Sink.Publish(ctx, message)
	})
	c.clean(logger)
	switch {
	case errors.Is(perr, chat.ErrClosed):
		outcome = "sink_closed"
		telemetry.IncPublish("closed")
		logger.Error("transcript dropped; chat sink closed", slog.Any("err", perr))
		return resultFailed, fmt.Errorf("%w: %w", ErrSinkClosed, perr)
	case errors.Is(perr, chat.ErrNotReady):
		outcome = "publish_not_ready"
		telemetry.IncPublish("not_ready")
		logger.Warn("transcript dropped; chat sink not ready", slog.Any("err", fmt.Errorf("%w: %w", ErrPublishNotReady, perr)))
	case perr != nil:
		outcome = "publish_error"
		telemetry.IncPublish("error")
		logger.Error("publish failed", slog.Any("err", perr))
	default:
		outcome = "published"
		telemetry.IncPublish("delivered")
		c.update(func(s *Snapshot) {
			s.Publishes++
			s.LastPublishAt = time.Now().UTC()
		})
		logger.Info("transcript published", slog.Int("chars", len([]rune(message))))
	}
	return resultTranscribed, nil
}

// stage runs fn under its own span, records its duration and counts failures.
func (c *Controller) stage(ctx context.Context, name string, state State, fn func(context.Context) error) error {
	c.setState(state)
	ctx, span := telemetry.StartStageSpan(ctx, name)
	var err error
	telemetry.TimeFunc(telemetry.StageObserver(name), func() { err = fn(ctx) })
	// No speech is a normal outcome of the transcribe stage, not a stage failure.
	if err != nil && !errors.Is(err, ErrNoSpeechDetected) {
		telemetry.IncStageFailure(name)
		telemetry.EndSpan(span, err)
		return err
	}
	telemetry.EndSpan(span, nil)
	return err
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
