package stt

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	openai "github.com/sashabaranov/go-openai"
	"google.golang.org/api/googleapi"

	"github.com/limebot/limebot/testutil"
)

type fakeBackend struct {
	text  string
	err   error
	calls int
	last  Clip
}

func (f *fakeBackend) Name() string { return "fake" }

func (f *fakeBackend) Recognize(_ context.Context, clip Clip) (string, error) {
	f.calls++
	f.last = clip
	return f.text, f.err
}

const rate = 16000

func writeClip(t *testing.T, seconds float64, samples func(n int) []int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "converted_audio.wav")
	testutil.WriteWAV(t, path, rate, samples(int(seconds*rate)))
	return path
}

func TestCalibrateConsumesWindow(t *testing.T) {
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: rate},
		Data:           append(testutil.Constant(rate, 1000), testutil.Constant(rate/2, 0)...),
		SourceBitDepth: 16,
	}
	cal, rest := Calibrate(buf, time.Second)
	if cal.Window != time.Second {
		t.Fatalf("window = %v, want 1s", cal.Window)
	}
	if len(rest.Data) != rate/2 {
		t.Fatalf("remainder = %d samples, want %d", len(rest.Data), rate/2)
	}
	if cal.AmbientRMS < 999 || cal.AmbientRMS > 1001 {
		t.Fatalf("ambient rms = %v, want ~1000", cal.AmbientRMS)
	}
	if cal.EnergyThreshold <= initialEnergyThreshold || cal.EnergyThreshold >= 1000*thresholdRatio {
		t.Fatalf("threshold = %v, want between %v and %v", cal.EnergyThreshold, initialEnergyThreshold, 1000*thresholdRatio)
	}
}

func TestCalibrateShortClip(t *testing.T) {
	buf := &audio.IntBuffer{
		Format: &audio.Format{NumChannels: 1, SampleRate: rate},
		Data:   testutil.Constant(rate/4, 10),
	}
	cal, rest := Calibrate(buf, time.Second)
	if len(rest.Data) != 0 {
		t.Fatalf("remainder = %d samples, want 0", len(rest.Data))
	}
	if cal.Window != 250*time.Millisecond {
		t.Fatalf("window = %v, want 250ms", cal.Window)
	}
}

func TestTranscribeText(t *testing.T) {
	path := writeClip(t, 2, func(n int) []int { return testutil.Tone(rate, n, 440, 8000) })
	be := &fakeBackend{text: "  hello chat  "}
	res, err := New(be, "en-US", time.Second).Transcribe(context.Background(), path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Outcome != OutcomeText || res.Text != "hello chat" {
		t.Fatalf("got %+v, want text 'hello chat'", res)
	}
	if be.calls != 1 {
		t.Fatalf("backend calls = %d, want 1", be.calls)
	}
	if got := len(be.last.Buffer.Data); got != rate {
		t.Fatalf("backend received %d samples, want %d (calibration window removed)", got, rate)
	}
	if be.last.Language != "en-US" || be.last.SampleRate() != rate {
		t.Fatalf("clip language/rate = %q/%d", be.last.Language, be.last.SampleRate())
	}
}

func TestTranscribeOutcomes(t *testing.T) {
	tests := []struct {
		name    string
		backend *fakeBackend
		want    Outcome
		class   ErrorClass
	}{
		{"no speech sentinel", &fakeBackend{err: ErrNoSpeech}, OutcomeNoSpeech, 0},
		{"wrapped no speech", &fakeBackend{err: fmt.Errorf("google: %w", ErrNoSpeech)}, OutcomeNoSpeech, 0},
		{"blank text", &fakeBackend{text: "   "}, OutcomeNoSpeech, 0},
		{"network failure", &fakeBackend{err: errors.New("connection reset by peer")}, OutcomeServiceError, ClassRetryable},
		{"bad key", &fakeBackend{err: errors.New("API key not valid")}, OutcomeServiceError, ClassFatal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeClip(t, 1.5, func(n int) []int { return testutil.Tone(rate, n, 300, 4000) })
			res, err := New(tt.backend, "", 0).Transcribe(context.Background(), path)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if res.Outcome != tt.want {
				t.Fatalf("outcome = %v, want %v", res.Outcome, tt.want)
			}
			if tt.want == OutcomeServiceError {
				if res.Err == nil || res.Err.Class != tt.class {
					t.Fatalf("service error = %+v, want class %v", res.Err, tt.class)
				}
			}
		})
	}
}

func TestTranscribeOnlyCalibrationAudio(t *testing.T) {
	path := writeClip(t, 0.5, func(n int) []int { return testutil.Constant(n, 50) })
	be := &fakeBackend{text: "should not be asked"}
	res, err := New(be, "en-US", time.Second).Transcribe(context.Background(), path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Outcome != OutcomeNoSpeech {
		t.Fatalf("outcome = %v, want no_speech", res.Outcome)
	}
	if be.calls != 0 {
		t.Fatalf("backend called %d times for an empty remainder", be.calls)
	}
}

func TestTranscribeMissingFile(t *testing.T) {
	be := &fakeBackend{}
	_, err := New(be, "en-US", time.Second).Transcribe(context.Background(), filepath.Join(t.TempDir(), "nope.wav"))
	if !errors.Is(err, ErrMissingAudio) {
		t.Fatalf("err = %v, want ErrMissingAudio", err)
	}
	if be.calls != 0 {
		t.Fatal("backend must not be called for a missing file")
	}
}

func TestTranscribeUnreadableFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "converted_audio.wav")
	testutil.WriteFile(path, "definitely not riff data")
	_, err := New(&fakeBackend{}, "en-US", time.Second).Transcribe(context.Background(), path)
	if !errors.Is(err, ErrUnreadableAudio) {
		t.Fatalf("err = %v, want ErrUnreadableAudio", err)
	}
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

var _ net.Error = timeoutErr{}

func TestClassifyServiceError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorClass
	}{
		{"deadline", fmt.Errorf("recognize: %w", context.DeadlineExceeded), ClassRetryable},
		{"net timeout", fmt.Errorf("post: %w", timeoutErr{}), ClassRetryable},
		{"google 503", &googleapi.Error{Code: 503, Message: "backend unavailable"}, ClassRetryable},
		{"google quota reason", &googleapi.Error{Code: 403, Errors: []googleapi.ErrorItem{{Reason: "quotaExceeded"}}}, ClassFatal},
		{"google 401", fmt.Errorf("google recognize: %w", &googleapi.Error{Code: 401, Message: "unauthenticated"}), ClassFatal},
		{"google 429", &googleapi.Error{Code: 429, Message: "rate limited"}, ClassRetryable},
		{"google 429 quota", &googleapi.Error{Code: 429, Message: "Quota exceeded for requests"}, ClassFatal},
		{"openai insufficient quota", &openai.APIError{HTTPStatusCode: 429, Type: "insufficient_quota"}, ClassFatal},
		{"openai 500", &openai.APIError{HTTPStatusCode: 500, Message: "server error"}, ClassRetryable},
		{"openai 400", &openai.APIError{HTTPStatusCode: 400, Message: "bad file"}, ClassFatal},
		{"openai request 502", &openai.RequestError{HTTPStatusCode: 502, Err: errors.New("bad gateway")}, ClassRetryable},
		{"message permission", errors.New("Permission denied on resource"), ClassFatal},
		{"unknown", errors.New("something odd happened"), ClassRetryable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClassifyServiceError(tt.err); got != tt.want {
				t.Fatalf("ClassifyServiceError(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestClipLINEAR16(t *testing.T) {
	c := Clip{Buffer: &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: rate},
		Data:           []int{1, -1, 32767},
		SourceBitDepth: 16,
	}}
	got := c.LINEAR16()
	want := []byte{0x01, 0x00, 0xff, 0xff, 0xff, 0x7f}
	if string(got) != string(want) {
		t.Fatalf("LINEAR16 = %x, want %x", got, want)
	}
}

func TestClipClampsOvershoot(t *testing.T) {
	c := Clip{Buffer: &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: rate},
		Data:           []int{40000, -40000, 5},
		SourceBitDepth: 16,
	}}
	want := []int{32767, -32768, 5}

	data, err := c.WAV()
	if err != nil {
		t.Fatalf("WAV: %v", err)
	}
	buf, err := wav.NewDecoder(bytes.NewReader(data)).FullPCMBuffer()
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if fmt.Sprint(buf.Data) != fmt.Sprint(want) {
		t.Fatalf("WAV samples = %v, want %v", buf.Data, want)
	}
	if got := c.LINEAR16(); string(got) != string([]byte{0xff, 0x7f, 0x00, 0x80, 0x05, 0x00}) {
		t.Fatalf("LINEAR16 = %x", got)
	}
}

func TestClipWAVHeader(t *testing.T) {
	c := Clip{Buffer: &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: rate},
		Data:           testutil.Constant(100, 7),
		SourceBitDepth: 16,
	}}
	data, err := c.WAV()
	if err != nil {
		t.Fatalf("WAV: %v", err)
	}
	if string(data[:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		t.Fatalf("missing RIFF/WAVE header: %q", data[:12])
	}
	if len(data) < 44+200 {
		t.Fatalf("len = %d, want at least %d", len(data), 44+200)
	}
	if _, err := (Clip{}).WAV(); err == nil {
		t.Fatal("expected error for empty clip")
	}
}

func TestWhisperLanguage(t *testing.T) {
	for in, want := range map[string]string{"en-US": "en", "pt_BR": "pt", "de": "de", "": ""} {
		if got := whisperLanguage(in); got != want {
			t.Errorf("whisperLanguage(%q) = %q, want %q", in, got, want)
		}
	}
}
