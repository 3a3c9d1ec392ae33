package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
)

// MockHelix is an httptest server that answers the Twitch Helix and OAuth token
// endpoints the live check uses.
type MockHelix struct {
	*httptest.Server

	TokenRequests   atomic.Int32
	StreamsRequests atomic.Int32

	mu      sync.Mutex
	live    map[string]bool
	status  int
	headers []http.Header
}

// NewMockHelix starts a mock server that reports every channel offline until SetLive.
func NewMockHelix(t *testing.T) *MockHelix {
	t.Helper()
	m := &MockHelix{live: map[string]bool{}}
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth2/token", m.serveToken)
	mux.HandleFunc("/helix/streams", m.serveStreams)
	m.Server = httptest.NewServer(mux)
	t.Cleanup(m.Close)
	return m
}

// SetLive marks a channel login live or offline.
func (m *MockHelix) SetLive(login string, live bool) {
	m.mu.Lock()
	m.live[login] = live
	m.mu.Unlock()
}

// FailStreams makes /helix/streams answer with status until reset with 0.
func (m *MockHelix) FailStreams(status int) {
	m.mu.Lock()
	m.status = status
	m.mu.Unlock()
}

// StreamsHeaders returns the headers of every /helix/streams request seen so far.
func (m *MockHelix) StreamsHeaders() []http.Header {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]http.Header(nil), m.headers...)
}

func (m *MockHelix) serveToken(w http.ResponseWriter, r *http.Request) {
	m.TokenRequests.Add(1)
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{ //nolint:errcheck // test mock response
		"access_token": "app-token",
		"expires_in":   3600,
		"token_type":   "bearer",
	})
}

func (m *MockHelix) serveStreams(w http.ResponseWriter, r *http.Request) {
	m.StreamsRequests.Add(1)
	m.mu.Lock()
	m.headers = append(m.headers, r.Header.Clone())
	status := m.status
	live := m.live[r.URL.Query().Get("user_login")]
	m.mu.Unlock()
	if status != 0 {
		http.Error(w, `{"error":"mock failure"}`, status)
		return
	}
	data := []map[string]any{}
	if live {
		login := r.URL.Query().Get("user_login")
		data = append(data, map[string]any{
			"id":         "1",
			"user_login": login,
			"type":       "live",
			"title":      "mock stream",
		})
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"data": data}) //nolint:errcheck // test mock response
}
