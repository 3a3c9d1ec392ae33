// Package stt turns normalized audio into text. The Transcriber verifies the file,
// calibrates for ambient noise over the head of the clip and hands the remainder to a
// Backend (Google Speech-to-Text or an OpenAI-compatible Whisper endpoint).
//
// Every call ends in exactly one of three outcomes: recognized text, no speech detected,
// or a service error. No speech is an expected result for a quiet stream and is kept
// apart from service errors so callers can treat the two differently.
package stt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/limebot/limebot/telemetry"
)

// Backend submits audio to a speech-recognition service. Implementations return
// ErrNoSpeech when the service reports nothing intelligible.
type Backend interface {
	Recognize(ctx context.Context, clip Clip) (string, error)
	Name() string
}

// Transcriber runs calibration and recognition for one audio file.
type Transcriber struct {
	Backend           Backend
	Language          string        // default "en-US"
	CalibrationWindow time.Duration // default 1s
}

// New returns a Transcriber with the given backend and language.
func New(backend Backend, language string, window time.Duration) *Transcriber {
	return &Transcriber{Backend: backend, Language: language, CalibrationWindow: window}
}

// Transcribe verifies audioPath exists, calibrates for ambient noise, and recognizes the
// rest of the clip. The error return is reserved for a missing or undecodable file;
// service failures are reported in the Result.
func (t *Transcriber) Transcribe(ctx context.Context, audioPath string) (Result, error) {
	logger := telemetry.LoggerWithCorr(ctx).With(slog.String("component", "stt"))
	if _, err := os.Stat(audioPath); err != nil {
		return Result{}, fmt.Errorf("%w: %s", ErrMissingAudio, audioPath)
	}
	buf, err := decodeWAV(audioPath)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %s: %v", ErrUnreadableAudio, audioPath, err)
	}

	window := t.CalibrationWindow
	if window == 0 {
		window = time.Second
	}
	cal, rest := Calibrate(buf, window)
	telemetry.SetNoiseThreshold(cal.EnergyThreshold)
	logger.Debug("ambient noise calibrated",
		slog.Duration("window", cal.Window),
		slog.Float64("ambient_rms", cal.AmbientRMS),
		slog.Float64("energy_threshold", cal.EnergyThreshold))

	lang := t.Language
	if lang == "" {
		lang = "en-US"
	}
	clip := Clip{Buffer: rest, Language: lang}
	if clip.Empty() {
		logger.Info("nothing left after calibration window", slog.String("path", audioPath))
		return NoSpeechDetected(), nil
	}

	text, err := t.Backend.Recognize(ctx, clip)
	switch {
	case errors.Is(err, ErrNoSpeech):
		return NoSpeechDetected(), nil
	case err != nil:
		res := Failed(err)
		logger.Warn("transcription service error", slog.String("backend", t.Backend.Name()), slog.String("class", res.Err.Class.String()), slog.Any("err", err))
		return res, nil
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return NoSpeechDetected(), nil
	}
	return Text(text), nil
}
