package stt

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIConfig holds configuration for the Whisper backend. BaseURL may point at a
// local whisper.cpp server speaking the same API.
type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string // default: whisper-1
}

// OpenAIBackend transcribes with OpenAI's Whisper API or a compatible endpoint.
type OpenAIBackend struct {
	client *openai.Client
	model  string
}

// NewOpenAIBackend creates a Whisper backend with defaults applied.
func NewOpenAIBackend(cfg OpenAIConfig) *OpenAIBackend {
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	model := cfg.Model
	if model == "" {
		model = openai.Whisper1
	}
	return &OpenAIBackend{client: openai.NewClientWithConfig(oc), model: model}
}

func (o *OpenAIBackend) Name() string { return "openai-whisper" }

// Recognize uploads the clip as WAV. Whisper has no explicit no-speech signal; a blank
// transcript is treated as one.
func (o *OpenAIBackend) Recognize(ctx context.Context, clip Clip) (string, error) {
	data, err := clip.WAV()
	if err != nil {
		return "", fmt.Errorf("encode wav: %w", err)
	}
	resp, err := o.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    o.model,
		FilePath: "clip.wav",
		Reader:   bytes.NewReader(data),
		Language: whisperLanguage(clip.Language),
		Format:   openai.AudioResponseFormatJSON,
	})
	if err != nil {
		return "", fmt.Errorf("whisper transcription: %w", err)
	}
	text := strings.TrimSpace(resp.Text)
	if text == "" {
		return "", ErrNoSpeech
	}
	return text, nil
}

// whisperLanguage reduces a BCP-47 tag to the ISO-639-1 code Whisper expects.
func whisperLanguage(tag string) string {
	if i := strings.IndexAny(tag, "-_"); i > 0 {
		tag = tag[:i]
	}
	return strings.ToLower(tag)
}
