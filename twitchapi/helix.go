// Package twitchapi contains minimal helpers to interact with Twitch Helix APIs
// for checking whether the source channel is live, using an app access token.
package twitchapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

const defaultBaseURL = "https://api.twitch.tv"

// HelixClient provides the methods needed for the live check.
type HelixClient struct {
	AppTokenSource *TokenSource
	ClientID       string
	HTTPClient     *http.Client
	BaseURL        string
}

// NewHelixClient builds a client that fetches its own app token.
func NewHelixClient(clientID, clientSecret string) *HelixClient {
	return &HelixClient{
		AppTokenSource: &TokenSource{ClientID: clientID, ClientSecret: clientSecret},
		ClientID:       clientID,
	}
}

func (hc *HelixClient) http() *http.Client {
	if hc.HTTPClient != nil {
		return hc.HTTPClient
	}
	return http.DefaultClient
}

func (hc *HelixClient) baseURL() string {
	if hc.BaseURL != "" {
		return hc.BaseURL
	}
	return defaultBaseURL
}

// Stream is the subset of a Helix stream object we use.
type Stream struct {
	ID        string    `json:"id"`
	UserLogin string    `json:"user_login"`
	Type      string    `json:"type"`
	Title     string    `json:"title"`
	StartedAt time.Time `json:"started_at"`
}

// GetStreams returns the active streams for a login; empty when the channel is offline.
// A 401 drops the cached app token and retries once.
func (hc *HelixClient) GetStreams(ctx context.Context, login string) ([]Stream, error) {
	if login == "" {
		return nil, fmt.Errorf("login empty")
	}
	q := url.Values{}
	q.Set("user_login", login)
	endpoint := hc.baseURL() + "/helix/streams?" + q.Encode()

	for attempt := 0; attempt < 2; attempt++ {
		tok, err := hc.AppTokenSource.Get(ctx)
		if err != nil {
			return nil, fmt.Errorf("app token: %w", err)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Client-Id", hc.ClientID)
		req.Header.Set("Authorization", "Bearer "+tok)
		resp, err := hc.http().Do(req)
		if err != nil {
			return nil, err
		}
		streams, retry, err := decodeStreams(resp)
		if retry && attempt == 0 {
			hc.AppTokenSource.Invalidate()
			continue
		}
		return streams, err
	}
	return nil, fmt.Errorf("helix streams: unauthorized")
}

func decodeStreams(resp *http.Response) ([]Stream, bool, error) {
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode == http.StatusUnauthorized {
		return nil, true, fmt.Errorf("helix streams: unauthorized")
	}
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, false, fmt.Errorf("helix streams: %s: %s", resp.Status, string(b))
	}
	var body struct {
		Data []Stream `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, false, fmt.Errorf("decode streams: %w", err)
	}
	return body.Data, false, nil
}

// IsLive reports whether login currently has a live stream.
func (hc *HelixClient) IsLive(ctx context.Context, login string) (bool, error) {
	streams, err := hc.GetStreams(ctx, login)
	if err != nil {
		return false, err
	}
	for _, s := range streams {
		if s.Type == "" || s.Type == "live" {
			return true, nil
		}
	}
	return false, nil
}
