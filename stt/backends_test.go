package stt

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"google.golang.org/api/option"

	"github.com/limebot/limebot/testutil"
)

type googleRequest struct {
	Config struct {
		Encoding        string      `json:"encoding"`
		LanguageCode    string      `json:"languageCode"`
		SampleRateHertz json.Number `json:"sampleRateHertz"`
	} `json:"config"`
	Audio struct {
		Content string `json:"content"`
	} `json:"audio"`
}

// newGoogleServer serves speech:recognize with a fixed status and body and records the
// last request.
func newGoogleServer(t *testing.T, status int, body string) (*GoogleBackend, func() googleRequest) {
	t.Helper()
	var (
		mu   sync.Mutex
		last googleRequest
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || !strings.HasSuffix(r.URL.Path, "/v1/speech:recognize") {
			http.NotFound(w, r)
			return
		}
		var req googleRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		mu.Lock()
		last = req
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)

	g, err := NewGoogleBackend(context.Background(), GoogleConfig{
		Endpoint: srv.URL + "/",
		Options:  []option.ClientOption{option.WithoutAuthentication()},
	})
	if err != nil {
		t.Fatalf("NewGoogleBackend: %v", err)
	}
	return g, func() googleRequest {
		mu.Lock()
		defer mu.Unlock()
		return last
	}
}

func TestGoogleBackendRecognize(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		wantText string
		wantErr  error
	}{
		{"joins results", `{"results":[{"alternatives":[{"transcript":" hello"}]},{"alternatives":[{"transcript":"chat "},{"transcript":"chart"}]}]}`, "hello chat", nil},
		{"empty results", `{}`, "", ErrNoSpeech},
		{"blank transcripts", `{"results":[{"alternatives":[{"transcript":"  "}]},{"alternatives":[]}]}`, "", ErrNoSpeech},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, last := newGoogleServer(t, http.StatusOK, tt.body)
			path := writeClip(t, 1.5, func(n int) []int { return testutil.Tone(rate, n, 440, 6000) })
			buf, err := decodeWAV(path)
			if err != nil {
				t.Fatal(err)
			}
			text, err := g.Recognize(context.Background(), Clip{Buffer: buf, Language: "en-US"})
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if text != tt.wantText {
				t.Fatalf("text = %q, want %q", text, tt.wantText)
			}

			req := last()
			if req.Config.Encoding != "LINEAR16" || req.Config.LanguageCode != "en-US" || req.Config.SampleRateHertz.String() != "16000" {
				t.Fatalf("config = %+v", req.Config)
			}
			pcm, err := base64.StdEncoding.DecodeString(req.Audio.Content)
			if err != nil {
				t.Fatalf("audio content not base64: %v", err)
			}
			if len(pcm) != 2*len(buf.Data) {
				t.Fatalf("audio bytes = %d, want %d", len(pcm), 2*len(buf.Data))
			}
		})
	}
}

func TestGoogleBackendPermissionDeniedIsFatal(t *testing.T) {
	g, _ := newGoogleServer(t, http.StatusForbidden,
		`{"error":{"code":403,"message":"The caller does not have permission","status":"PERMISSION_DENIED"}}`)
	path := writeClip(t, 2, func(n int) []int { return testutil.Tone(rate, n, 440, 8000) })

	res, err := New(g, "en-US", 0).Transcribe(context.Background(), path)
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if res.Outcome != OutcomeServiceError || res.Err == nil {
		t.Fatalf("result = %+v, want service error", res)
	}
	if res.Err.Class != ClassFatal {
		t.Fatalf("class = %v, want fatal", res.Err.Class)
	}
}

type whisperRequest struct {
	Model    string
	Language string
	Filename string
	Size     int64
}

func newWhisperServer(t *testing.T, status int, body string) (*OpenAIBackend, func() whisperRequest) {
	t.Helper()
	var (
		mu   sync.Mutex
		last whisperRequest
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/audio/transcriptions" {
			http.NotFound(w, r)
			return
		}
		if err := r.ParseMultipartForm(8 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		rec := whisperRequest{Model: r.FormValue("model"), Language: r.FormValue("language")}
		if f, hdr, err := r.FormFile("file"); err == nil {
			rec.Filename, rec.Size = hdr.Filename, hdr.Size
			_ = f.Close()
		}
		mu.Lock()
		last = rec
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)

	o := NewOpenAIBackend(OpenAIConfig{APIKey: "test-key", BaseURL: srv.URL + "/v1/"})
	return o, func() whisperRequest {
		mu.Lock()
		defer mu.Unlock()
		return last
	}
}

func TestOpenAIBackendRecognize(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		wantText string
		wantErr  error
	}{
		{"text", `{"text":"  hello chat "}`, "hello chat", nil},
		{"blank text", `{"text":"   "}`, "", ErrNoSpeech},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o, last := newWhisperServer(t, http.StatusOK, tt.body)
			path := writeClip(t, 1.5, func(n int) []int { return testutil.Tone(rate, n, 440, 6000) })
			buf, err := decodeWAV(path)
			if err != nil {
				t.Fatal(err)
			}
			text, err := o.Recognize(context.Background(), Clip{Buffer: buf, Language: "en-US"})
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if text != tt.wantText {
				t.Fatalf("text = %q, want %q", text, tt.wantText)
			}
			req := last()
			if req.Model != "whisper-1" || req.Language != "en" || req.Filename != "clip.wav" {
				t.Fatalf("request = %+v", req)
			}
			if req.Size <= 44 {
				t.Fatalf("uploaded wav is %d bytes, want header plus samples", req.Size)
			}
		})
	}
}

func TestOpenAIBackendServiceErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   ErrorClass
	}{
		{"quota exhausted", http.StatusTooManyRequests,
			`{"error":{"message":"You exceeded your current quota","type":"insufficient_quota","param":null,"code":"insufficient_quota"}}`, ClassFatal},
		{"rate limited", http.StatusTooManyRequests,
			`{"error":{"message":"Rate limit reached for requests","type":"requests","param":null,"code":"rate_limit_exceeded"}}`, ClassRetryable},
		{"bad key", http.StatusUnauthorized,
			`{"error":{"message":"Incorrect API key provided","type":"invalid_request_error","param":null,"code":"invalid_api_key"}}`, ClassFatal},
		{"overloaded", http.StatusServiceUnavailable,
			`{"error":{"message":"The server is overloaded","type":"server_error","param":null,"code":null}}`, ClassRetryable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o, _ := newWhisperServer(t, tt.status, tt.body)
			path := writeClip(t, 2, func(n int) []int { return testutil.Tone(rate, n, 440, 8000) })
			res, err := New(o, "en-US", 0).Transcribe(context.Background(), path)
			if err != nil {
				t.Fatalf("Transcribe: %v", err)
			}
			if res.Outcome != OutcomeServiceError || res.Err == nil {
				t.Fatalf("result = %+v, want service error", res)
			}
			if res.Err.Class != tt.want {
				t.Fatalf("class = %v, want %v (%v)", res.Err.Class, tt.want, res.Err)
			}
		})
	}
}
