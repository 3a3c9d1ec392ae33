package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	twitch "github.com/gempir/go-twitch-irc/v4"
)

type fakeIRC struct {
	mu         sync.Mutex
	onConnect  func()
	onSelfJoin func(twitch.UserJoinMessage)
	onPrivate  func(twitch.PrivateMessage)
	joined     []string
	said       []string
	connectErr chan error
	disconnect int
}

func newFakeIRC() *fakeIRC { return &fakeIRC{connectErr: make(chan error, 1)} }

func (f *fakeIRC) OnConnect(cb func()) { f.onConnect = cb }
func (f *fakeIRC) OnSelfJoinMessage(cb func(twitch.UserJoinMessage)) { f.onSelfJoin = cb }
func (f *fakeIRC) OnPrivateMessage(cb func(twitch.PrivateMessage)) { f.onPrivate = cb }
func (f *fakeIRC) Join(channels ...string) { f.joined = append(f.joined, channels...) }
func (f *fakeIRC) Connect() error { return <-f.connectErr }

func (f *fakeIRC) Say(channel, text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.said = append(f.said, channel+"|"+text)
}

func (f *fakeIRC) Disconnect() error {
	f.mu.Lock()
	f.disconnect++
	f.mu.Unlock()
	select {
	case f.connectErr <- twitch.ErrClientDisconnected:
	default:
	}
	return nil
}

func (f *fakeIRC) messages() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.said...)
}

func startedSink(t *testing.T) (*TwitchSink, *fakeIRC) {
	t.Helper()
	irc := newFakeIRC()
	s := newSink(irc, "LimeBot", "#SomeChannel")
	s.Start()
	t.Cleanup(func() { _ = s.Close() })
	return s, irc
}

func TestSinkLifecycle(t *testing.T) {
	s, irc := startedSink(t)
	if s.State() != StateConnecting {
		t.Fatalf("initial state = %v, want connecting", s.State())
	}
	if len(irc.joined) != 1 || irc.joined[0] != "somechannel" {
		t.Fatalf("joined = %v, want [somechannel]", irc.joined)
	}

	// join of another channel does not make the sink ready
	irc.onSelfJoin(twitch.UserJoinMessage{Channel: "other"})
	if s.State() != StateConnecting {
		t.Fatalf("state after foreign join = %v", s.State())
	}

	irc.onSelfJoin(twitch.UserJoinMessage{Channel: "somechannel"})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.AwaitReady(ctx); err != nil {
		t.Fatalf("AwaitReady: %v", err)
	}
	if s.State() != StateReady {
		t.Fatalf("state = %v, want ready", s.State())
	}

	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if s.State() != StateClosed {
		t.Fatalf("state after Close = %v", s.State())
	}
	if err := s.Publish(context.Background(), "hi"); !errors.Is(err, ErrNotReady) || !errors.Is(err, ErrClosed) {
		t.Fatalf("Publish after Close err = %v, want ErrNotReady and ErrClosed", err)
	}
}

func TestConnectionDropAfterJoinClosesSink(t *testing.T) {
	s, irc := startedSink(t)
	irc.onSelfJoin(twitch.UserJoinMessage{Channel: "somechannel"})
	irc.connectErr <- errors.New("read tcp: connection reset by peer")

	deadline := time.Now().Add(time.Second)
	for s.State() != StateClosed {
		if time.Now().After(deadline) {
			t.Fatalf("state = %v, want closed after the connection loop returns", s.State())
		}
		time.Sleep(time.Millisecond)
	}
	err := s.Publish(context.Background(), "Lime hello")
	if !errors.Is(err, ErrClosed) {
		t.Fatalf("err = %v, want ErrClosed", err)
	}
	if len(irc.messages()) != 0 {
		t.Fatalf("sent %v on a closed sink", irc.messages())
	}
}

func TestPublishNotReadyDoesNotSend(t *testing.T) {
	s, irc := startedSink(t)
	err := s.Publish(context.Background(), "Lime hello")
	if !errors.Is(err, ErrNotReady) {
		t.Fatalf("err = %v, want ErrNotReady", err)
	}
	if len(irc.messages()) != 0 {
		t.Fatalf("sent %v while not ready", irc.messages())
	}
}

func TestPublish(t *testing.T) {
	s, irc := startedSink(t)
	irc.onSelfJoin(twitch.UserJoinMessage{Channel: "somechannel"})

	if err := s.Publish(context.Background(), "Lime hello chat"); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if err := s.Publish(context.Background(), "   "); !errors.Is(err, ErrEmptyMessage) {
		t.Fatalf("blank Publish err = %v, want ErrEmptyMessage", err)
	}
	long := strings.Repeat("é", MaxMessageLength+20)
	if err := s.Publish(context.Background(), long); err != nil {
		t.Fatalf("long Publish: %v", err)
	}

	msgs := irc.messages()
	if len(msgs) != 2 {
		t.Fatalf("sent %d messages, want 2", len(msgs))
	}
	if msgs[0] != "somechannel|Lime hello chat" {
		t.Fatalf("first message = %q", msgs[0])
	}
	sent := strings.TrimPrefix(msgs[1], "somechannel|")
	if n := len([]rune(sent)); n != MaxMessageLength {
		t.Fatalf("long message has %d runes, want %d", n, MaxMessageLength)
	}
}

func TestAwaitReadyConnectFailure(t *testing.T) {
	s, irc := startedSink(t)
	irc.connectErr <- errors.New("login authentication failed")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	err := s.AwaitReady(ctx)
	if !errors.Is(err, ErrClosed) {
		t.Fatalf("err = %v, want ErrClosed", err)
	}
	if s.State() != StateClosed {
		t.Fatalf("state = %v, want closed", s.State())
	}
}

func TestAwaitReadyContextCancel(t *testing.T) {
	s, _ := startedSink(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.AwaitReady(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestOwnMessagesIgnored(t *testing.T) {
	_, irc := startedSink(t)
	irc.onSelfJoin(twitch.UserJoinMessage{Channel: "somechannel"})
	// must not panic or publish anything
	irc.onPrivate(twitch.PrivateMessage{User: twitch.User{Name: "limebot"}, Message: "Lime echo"})
	irc.onPrivate(twitch.PrivateMessage{User: twitch.User{Name: "viewer"}, Message: "hi"})
	if len(irc.messages()) != 0 {
		t.Fatalf("sink reacted to chat: %v", irc.messages())
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		in    string
		limit int
		want  string
	}{
		{"hello", 10, "hello"},
		{"hello", 5, "hello"},
		{"hello", 3, "hel"},
		{"héllo", 2, "hé"},
		{"日本語テキスト", 3, "日本語"},
		{"x", 0, ""},
	}
	for _, tt := range tests {
		if got := Truncate(tt.in, tt.limit); got != tt.want {
			t.Errorf("Truncate(%q, %d) = %q, want %q", tt.in, tt.limit, got, tt.want)
		}
	}
}

func TestNewTwitchSinkNormalizesChannel(t *testing.T) {
	s := NewTwitchSink("bot", "abc123", "#Chan")
	if s.channel != "chan" {
		t.Fatalf("channel = %q, want chan", s.channel)
	}
	if s.State() != StateConnecting {
		t.Fatalf("state = %v", s.State())
	}
}
