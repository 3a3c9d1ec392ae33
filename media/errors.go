package media

import (
	"errors"
	"fmt"

	"github.com/limebot/limebot/cmdrun"
)

var (
	// ErrExtractionFailed is matched by every *ExtractionError.
	ErrExtractionFailed = errors.New("audio extraction failed")
	// ErrConversionFailed is matched by every *ConversionError.
	ErrConversionFailed = errors.New("audio conversion failed")
	// ErrToolNotFound means ffmpeg or ffprobe is missing or not executable. It is found
	// inside the ExtractionError or ConversionError chain.
	ErrToolNotFound = errors.New("media tool not found")
)

// toolError tags a failed run of bin with ErrToolNotFound when the binary itself is missing.
func toolError(bin string, err error) error {
	if cmdrun.IsNotFound(err) {
		return fmt.Errorf("%w: %s: %w", ErrToolNotFound, bin, err)
	}
	return err
}

// ExtractionError describes why the audio track could not be pulled from a capture.
type ExtractionError struct {
	Msg string
	Err error
}

func (e *ExtractionError) Error() string {
	if e.Err != nil {
		return "extract audio: " + e.Msg + ": " + e.Err.Error()
	}
	return "extract audio: " + e.Msg
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrExtractionFailed) match.
func (e *ExtractionError) Is(target error) bool { return target == ErrExtractionFailed }

// ConversionError describes a failed re-encode to the transcription format.
type ConversionError struct {
	Msg string
	Err error
}

func (e *ConversionError) Error() string {
	if e.Err != nil {
		return "convert audio: " + e.Msg + ": " + e.Err.Error()
	}
	return "convert audio: " + e.Msg
}

func (e *ConversionError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrConversionFailed) match.
func (e *ConversionError) Is(target error) bool { return target == ErrConversionFailed }
