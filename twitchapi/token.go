package twitchapi

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// TokenURL is Twitch's OAuth token endpoint.
const TokenURL = "https://id.twitch.tv/oauth2/token"

// TokenSource fetches and caches a Twitch app access (client credentials) token.
// NOTE: This token CANNOT be used for IRC chat; chat requires a user (bot) OAuth token with chat:read/chat:edit scopes.
type TokenSource struct {
	ClientID     string
	ClientSecret string
	TokenURL     string // default TokenURL
	HTTPClient   *http.Client

	mu  sync.Mutex
	src oauth2.TokenSource
}

// Get returns a valid (fresh or cached) app access token. oauth2 refreshes it shortly
// before expiry.
func (ts *TokenSource) Get(ctx context.Context) (string, error) {
	if ts.ClientID == "" || ts.ClientSecret == "" {
		return "", errors.New("missing client id/secret for twitch app token")
	}
	ts.mu.Lock()
	if ts.src == nil {
		tokenURL := ts.TokenURL
		if tokenURL == "" {
			tokenURL = TokenURL
		}
		cfg := clientcredentials.Config{
			ClientID:     ts.ClientID,
			ClientSecret: ts.ClientSecret,
			TokenURL:     tokenURL,
			AuthStyle:    oauth2.AuthStyleInParams,
		}
		// the source outlives ctx, so it gets its own
		srcCtx := context.Background()
		if ts.HTTPClient != nil {
			srcCtx = context.WithValue(srcCtx, oauth2.HTTPClient, ts.HTTPClient)
		}
		ts.src = cfg.TokenSource(srcCtx)
	}
	src := ts.src
	ts.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return "", err
	}
	tok, err := src.Token()
	if err != nil {
		return "", err
	}
	if tok.AccessToken == "" {
		return "", errors.New("empty access_token in twitch response")
	}
	return tok.AccessToken, nil
}

// Invalidate drops the cached token so the next Get fetches a new one. Called after
// Helix rejects the token with 401.
func (ts *TokenSource) Invalidate() {
	ts.mu.Lock()
	ts.src = nil
	ts.mu.Unlock()
}
