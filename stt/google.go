package stt

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"google.golang.org/api/option"
	speech "google.golang.org/api/speech/v1"
)

// GoogleBackend recognizes speech with the Google Cloud Speech-to-Text v1 REST API.
type GoogleBackend struct {
	svc *speech.Service
}

// GoogleConfig selects credentials and, for tests, an alternate endpoint.
type GoogleConfig struct {
	APIKey          string
	CredentialsFile string
	Endpoint        string
	Options         []option.ClientOption
}

// NewGoogleBackend builds the speech service client.
func NewGoogleBackend(ctx context.Context, cfg GoogleConfig) (*GoogleBackend, error) {
	opts := append([]option.ClientOption(nil), cfg.Options...)
	switch {
	case cfg.APIKey != "":
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	case cfg.CredentialsFile != "":
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}
	svc, err := speech.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("google speech client: %w", err)
	}
	return &GoogleBackend{svc: svc}, nil
}

func (g *GoogleBackend) Name() string { return "google" }

// Recognize sends the clip as LINEAR16 and joins the top alternative of every result.
// An empty result list is how the service says it heard no speech.
func (g *GoogleBackend) Recognize(ctx context.Context, clip Clip) (string, error) {
	req := &speech.RecognizeRequest{
		Config: &speech.RecognitionConfig{
			Encoding:          "LINEAR16",
			SampleRateHertz:   int64(clip.SampleRate()),
			AudioChannelCount: int64(clip.Channels()),
			LanguageCode:      clip.Language,
		},
		Audio: &speech.RecognitionAudio{
			Content: base64.StdEncoding.EncodeToString(clip.LINEAR16()),
		},
	}
	resp, err := g.svc.Speech.Recognize(req).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("google recognize: %w", err)
	}
	var parts []string
	for _, r := range resp.Results {
		if r == nil || len(r.Alternatives) == 0 {
			continue
		}
		if t := strings.TrimSpace(r.Alternatives[0].Transcript); t != "" {
			parts = append(parts, t)
		}
	}
	if len(parts) == 0 {
		return "", ErrNoSpeech
	}
	return strings.Join(parts, " "), nil
}
