package media

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/limebot/limebot/cmdrun"
)

// Target format of the transcription engine: 16-bit PCM WAV.
const (
	TargetFormat     = "wav"
	TargetSampleRate = 16000
	TargetChannels   = 1
)

// Normalizer converts audio to the transcription format at a fixed output path.
type Normalizer struct {
	FFmpegPath string
	Format     string // container extension, default "wav"
	OutputPath string // canonical converted file, reused every attempt
	Runner     cmdrun.Runner
}

// NewNormalizer returns a Normalizer writing to outputPath using os/exec.
func NewNormalizer(ffmpeg, outputPath string) *Normalizer {
	return &Normalizer{FFmpegPath: ffmpeg, Format: TargetFormat, OutputPath: outputPath, Runner: cmdrun.Exec{}}
}

// TempPath is where a conversion is written before it is renamed onto OutputPath.
func (n *Normalizer) TempPath() string {
	return n.OutputPath + ".tmp." + n.format()
}

// Matches reports whether path already carries the target container extension.
func (n *Normalizer) Matches(path string) bool {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	return ext == n.format()
}

// Normalize returns a path to audio in the target format. Input already in that format is
// returned unchanged and nothing is written.
func (n *Normalizer) Normalize(ctx context.Context, audioPath string) (string, error) {
	logger := slog.Default().With(slog.String("component", "normalize"))
	if _, err := os.Stat(audioPath); err != nil {
		return "", &ConversionError{Msg: "source audio missing", Err: err}
	}
	if n.Matches(audioPath) {
		logger.Debug("audio already in target format", slog.String("path", audioPath))
		return audioPath, nil
	}
	if n.OutputPath == "" {
		return "", &ConversionError{Msg: "no output path configured"}
	}

	tmp := n.TempPath()
	_ = os.Remove(tmp) // leftover from an interrupted run
	args := []string{
		"-y", "-v", "error",
		"-i", audioPath,
		"-ac", strconv.Itoa(TargetChannels),
		"-ar", strconv.Itoa(TargetSampleRate),
		"-acodec", "pcm_s16le",
		"-f", n.format(),
		tmp,
	}
	ffmpeg := n.FFmpegPath
	if ffmpeg == "" {
		ffmpeg = "ffmpeg"
	}
	runner := n.Runner
	if runner == nil {
		runner = cmdrun.Exec{}
	}
	if res, err := runner.Run(ctx, ffmpeg, args...); err != nil {
		_ = os.Remove(tmp)
		return "", &ConversionError{Msg: "ffmpeg: " + cmdrun.Tail(res.Stderr, 300), Err: toolError(ffmpeg, err)}
	}
	if info, err := os.Stat(tmp); err != nil || info.Size() == 0 {
		_ = os.Remove(tmp)
		return "", &ConversionError{Msg: "converted file not created", Err: err}
	}
	if err := os.Rename(tmp, n.OutputPath); err != nil {
		_ = os.Remove(tmp)
		return "", &ConversionError{Msg: "rename converted file", Err: err}
	}
	logger.Info("audio converted", slog.String("from", audioPath), slog.String("to", n.OutputPath))
	return n.OutputPath, nil
}

func (n *Normalizer) format() string {
	if n.Format == "" {
		return TargetFormat
	}
	return strings.ToLower(n.Format)
}
