package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	twitch "github.com/gempir/go-twitch-irc/v4"
)

// MaxMessageLength is Twitch's per-message character limit.
const MaxMessageLength = 500

var (
	// ErrNotReady means the sink has not joined the channel (or has left it).
	ErrNotReady = errors.New("chat sink not ready")
	// ErrEmptyMessage rejects blank text.
	ErrEmptyMessage = errors.New("empty chat message")
	// ErrClosed is returned by AwaitReady, and wrapped by Publish, once the sink can no
	// longer become ready.
	ErrClosed = errors.New("chat sink closed")
)

// SinkState is the connection lifecycle of a sink.
type SinkState int

const (
	StateConnecting SinkState = iota
	StateReady
	StateClosed
)

func (s SinkState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateReady:
		return "ready"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Sink is where transcripts go.
type Sink interface {
	AwaitReady(ctx context.Context) error
	Publish(ctx context.Context, text string) error
	State() SinkState
	Close() error
}

// ircClient is the part of *twitch.Client the sink uses.
type ircClient interface {
	OnConnect(func())
	OnSelfJoinMessage(func(twitch.UserJoinMessage))
	OnPrivateMessage(func(twitch.PrivateMessage))
	Join(channels ...string)
	Say(channel, text string)
	Connect() error
	Disconnect() error
}

// TwitchSink publishes into one Twitch channel over IRC.
type TwitchSink struct {
	channel  string
	username string
	client   ircClient
	logger   *slog.Logger

	mu        sync.Mutex
	state     SinkState
	connErr   error
	started   bool
	ready     chan struct{}
	readyOnce sync.Once
	closed    chan struct{}
	closeOnce sync.Once
}

// NewTwitchSink creates a sink for channel using the bot's login and OAuth token. The
// "oauth:" prefix IRC expects is added when missing.
func NewTwitchSink(username, oauthToken, channel string) *TwitchSink {
	if oauthToken != "" && !strings.HasPrefix(oauthToken, "oauth:") {
		oauthToken = "oauth:" + oauthToken
	}
	return newSink(twitch.NewClient(username, oauthToken), username, channel)
}

func newSink(client ircClient, username, channel string) *TwitchSink {
	channel = strings.ToLower(strings.TrimPrefix(channel, "#"))
	return &TwitchSink{
		channel:  channel,
		username: strings.ToLower(username),
		client:   client,
		logger:   slog.Default().With(slog.String("component", "chat"), slog.String("channel", channel)),
		ready:    make(chan struct{}),
		closed:   make(chan struct{}),
	}
}

// Start registers handlers, joins the channel and connects in the background.
func (s *TwitchSink) Start() {
	s.mu.Lock()
	if s.started || s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.mu.Unlock()

	s.client.OnConnect(func() {
		s.logger.Info("twitch chat connected")
	})
	s.client.OnSelfJoinMessage(func(m twitch.UserJoinMessage) {
		if !strings.EqualFold(m.Channel, s.channel) {
			return
		}
		s.setReady()
	})
	s.client.OnPrivateMessage(func(m twitch.PrivateMessage) {
		if strings.EqualFold(m.User.Name, s.username) {
			return
		}
		s.logger.Debug("chat message", slog.String("user", m.User.Name))
	})
	s.client.Join(s.channel)

	go func() {
		err := s.client.Connect()
		if errors.Is(err, twitch.ErrClientDisconnected) {
			err = nil
		}
		if err != nil {
			s.logger.Error("twitch chat connect error", slog.Any("err", err))
		}
		s.markClosed(err)
	}()
}

func (s *TwitchSink) setReady() {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	s.state = StateReady
	s.mu.Unlock()
	s.readyOnce.Do(func() {
		s.logger.Info("joined channel; chat sink ready")
		close(s.ready)
	})
}

func (s *TwitchSink) markClosed(err error) {
	s.mu.Lock()
	s.state = StateClosed
	if err != nil && s.connErr == nil {
		s.connErr = err
	}
	s.mu.Unlock()
	s.closeOnce.Do(func() { close(s.closed) })
}

// AwaitReady blocks until the channel is joined, the sink closes, or ctx ends.
func (s *TwitchSink) AwaitReady(ctx context.Context) error {
	select {
	case <-s.ready:
		if s.State() == StateReady {
			return nil
		}
		return ErrClosed
	case <-s.closed:
		s.mu.Lock()
		err := s.connErr
		s.mu.Unlock()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrClosed, err)
		}
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Publish sends text to the channel. Text over MaxMessageLength characters is cut on a
// rune boundary.
func (s *TwitchSink) Publish(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyMessage
	}
	switch st := s.State(); st {
	case StateReady:
	case StateClosed:
		return fmt.Errorf("%w: %w", ErrNotReady, ErrClosed)
	default:
		return fmt.Errorf("%w (state=%s)", ErrNotReady, st)
	}
	s.client.Say(s.channel, Truncate(text, MaxMessageLength))
	return nil
}

// State returns the current lifecycle state.
func (s *TwitchSink) State() SinkState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Close disconnects. Safe to call more than once.
func (s *TwitchSink) Close() error {
	s.mu.Lock()
	wasStarted := s.started && s.state != StateClosed
	s.mu.Unlock()
	var err error
	if wasStarted {
		err = s.client.Disconnect()
		if errors.Is(err, twitch.ErrClientDisconnected) {
			err = nil
		}
	}
	s.markClosed(nil)
	return err
}

// Truncate cuts s to at most limit runes.
func Truncate(s string, limit int) string {
	if limit <= 0 {
		return ""
	}
	n := 0
	for i := range s {
		if n == limit {
			return s[:i]
		}
		n++
	}
	return s
}
