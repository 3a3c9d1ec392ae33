// Package media turns a captured stream segment into audio the transcription engine
// accepts: the Extractor demuxes the audio track and the Normalizer re-encodes it to
// 16-bit PCM WAV when needed. Both shell out to ffmpeg/ffprobe.
package media

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/limebot/limebot/cmdrun"
)

// Extractor pulls the audio track out of a captured media container.
type Extractor struct {
	FFmpegPath  string
	FFprobePath string
	Runner      cmdrun.Runner
}

// NewExtractor returns an Extractor using os/exec.
func NewExtractor(ffmpeg, ffprobe string) *Extractor {
	return &Extractor{FFmpegPath: ffmpeg, FFprobePath: ffprobe, Runner: cmdrun.Exec{}}
}

type ffprobeOutput struct {
	Streams []struct {
		Index     int    `json:"index"`
		CodecType string `json:"codec_type"`
		CodecName string `json:"codec_name"`
	} `json:"streams"`
}

// Extract writes the audio track of capturePath to audioPath (mp3) and returns audioPath.
// The capture file is left in place.
func (e *Extractor) Extract(ctx context.Context, capturePath, audioPath string) (out string, err error) {
	logger := slog.Default().With(slog.String("component", "extract"))
	if err := checkContainer(capturePath); err != nil {
		return "", err
	}

	codec, err := e.audioCodec(ctx, capturePath)
	if err != nil {
		return "", err
	}

	// A partial mp3 from a failed run must not look like a finished artifact.
	defer func() {
		if err != nil {
			if rmErr := os.Remove(audioPath); rmErr != nil && !os.IsNotExist(rmErr) {
				logger.Warn("remove partial audio", slog.String("path", audioPath), slog.Any("err", rmErr))
			}
		}
	}()

	args := []string{"-y", "-v", "error", "-i", capturePath, "-vn", "-acodec", "libmp3lame", "-q:a", "2", audioPath}
	res, err := e.runner().Run(ctx, e.ffmpeg(), args...)
	if err != nil {
		return "", &ExtractionError{Msg: "ffmpeg: " + cmdrun.Tail(res.Stderr, 300), Err: toolError(e.ffmpeg(), err)}
	}
	info, err := os.Stat(audioPath)
	if err != nil {
		return "", &ExtractionError{Msg: "audio file not created", Err: err}
	}
	if info.Size() == 0 {
		return "", &ExtractionError{Msg: "audio file is empty"}
	}
	logger.Info("audio extracted", slog.String("path", audioPath), slog.String("source_codec", codec), slog.Int64("bytes", info.Size()))
	return audioPath, nil
}

// checkContainer opens the capture for the duration of a read of its header so a
// vanished or truncated file fails here rather than deep inside ffmpeg.
func checkContainer(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return &ExtractionError{Msg: "open capture", Err: err}
	}
	defer f.Close()
	head := make([]byte, 8)
	n, err := io.ReadFull(f, head)
	if err != nil && err != io.ErrUnexpectedEOF {
		if err == io.EOF {
			return &ExtractionError{Msg: "capture is empty"}
		}
		return &ExtractionError{Msg: "read capture", Err: err}
	}
	if n == 0 {
		return &ExtractionError{Msg: "capture is empty"}
	}
	return nil
}

func (e *Extractor) audioCodec(ctx context.Context, path string) (string, error) {
	args := []string{"-v", "error", "-select_streams", "a", "-show_streams", "-of", "json", path}
	res, err := e.runner().Run(ctx, e.ffprobe(), args...)
	if err != nil {
		return "", &ExtractionError{Msg: "ffprobe: " + cmdrun.Tail(res.Stderr, 300), Err: toolError(e.ffprobe(), err)}
	}
	var po ffprobeOutput
	if err := json.Unmarshal([]byte(res.Stdout), &po); err != nil {
		return "", &ExtractionError{Msg: "parse ffprobe output", Err: err}
	}
	for _, s := range po.Streams {
		if s.CodecType == "audio" || s.CodecType == "" {
			return s.CodecName, nil
		}
	}
	return "", &ExtractionError{Msg: fmt.Sprintf("no audio track in %s", path)}
}

func (e *Extractor) runner() cmdrun.Runner {
	if e.Runner == nil {
		return cmdrun.Exec{}
	}
	return e.Runner
}

func (e *Extractor) ffmpeg() string {
	if e.FFmpegPath == "" {
		return "ffmpeg"
	}
	return e.FFmpegPath
}

func (e *Extractor) ffprobe() string {
	if e.FFprobePath == "" {
		return "ffprobe"
	}
	return e.FFprobePath
}
