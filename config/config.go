// Package config loads environment variables and provides a typed Config used across the service.
// It applies the defaults the bot has always run with, so a local run only needs the
// Twitch chat credentials and a source. Use Validate before starting the pipeline.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Lock backends for the working directory.
const (
	LockFile     = "file"
	LockRedis    = "redis"
	LockPostgres = "postgres"
	LockNone     = "none"
)

// Transcription backends.
const (
	STTGoogle = "google"
	STTOpenAI = "openai"
)

type Config struct {
	// Source
	SourceURL           string
	SourceChannel       string
	ClipDurationSeconds int
	CaptureQuality      string

	// Loop policy
	ShortBackoff           time.Duration
	LongBackoff            time.Duration
	MaxConsecutiveFailures int
	MessagePrefix          string

	// Tools
	StreamlinkPath string
	FFmpegPath     string
	FFprobePath    string

	// Transcription
	TargetLanguage        string
	STTBackend            string
	GoogleAPIKey          string
	GoogleCredentialsFile string
	OpenAIAPIKey          string
	OpenAIBaseURL         string
	OpenAIModel           string
	CalibrationDuration   time.Duration

	// Twitch chat sink
	TwitchChannel     string
	TwitchBotUsername string
	TwitchOAuthToken  string

	// Twitch Helix (optional live check)
	TwitchClientID     string
	TwitchClientSecret string

	// Workspace
	WorkDir          string
	WorkspaceIsolate bool
	WorkspaceLock    string
	RedisAddr        string
	RedisPassword    string
	RedisDB          int
	DBDsn            string

	// Ops
	HTTPAddr string
}

// Load reads environment variables (after an optional .env) and applies defaults.
// It only fails on values that are present but malformed; missing credentials are
// reported by Validate.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := &Config{}
	var err error

	cfg.SourceChannel = os.Getenv("TWITCH_SOURCE_CHANNEL")
	cfg.SourceURL = os.Getenv("SOURCE_URL")
	if cfg.SourceURL == "" && cfg.SourceChannel != "" {
		cfg.SourceURL = "https://www.twitch.tv/" + cfg.SourceChannel
	}
	if cfg.SourceChannel == "" {
		cfg.SourceChannel = channelFromURL(cfg.SourceURL)
	}
	if cfg.ClipDurationSeconds, err = envInt("CLIP_DURATION_SECONDS", 20); err != nil {
		return nil, err
	}
	cfg.CaptureQuality = envOr("CAPTURE_QUALITY", "best")

	if cfg.ShortBackoff, err = envSeconds("SHORT_BACKOFF_SECONDS", 10*time.Second); err != nil {
		return nil, err
	}
	if cfg.LongBackoff, err = envSeconds("LONG_BACKOFF_SECONDS", 60*time.Second); err != nil {
		return nil, err
	}
	if cfg.MaxConsecutiveFailures, err = envInt("MAX_CONSECUTIVE_FAILURES", 0); err != nil {
		return nil, err
	}
	// Trailing space in the default is intentional: "Lime <transcript>".
	cfg.MessagePrefix = "Lime "
	if v, ok := os.LookupEnv("MESSAGE_PREFIX"); ok {
		cfg.MessagePrefix = v
	}

	cfg.StreamlinkPath = envOr("STREAMLINK_PATH", "streamlink")
	cfg.FFmpegPath = envOr("FFMPEG_PATH", "ffmpeg")
	cfg.FFprobePath = envOr("FFPROBE_PATH", "ffprobe")

	cfg.TargetLanguage = envOr("TARGET_LANGUAGE", "en-US")
	cfg.STTBackend = strings.ToLower(envOr("STT_BACKEND", STTGoogle))
	cfg.GoogleAPIKey = os.Getenv("GOOGLE_API_KEY")
	cfg.GoogleCredentialsFile = os.Getenv("GOOGLE_CREDENTIALS_FILE")
	cfg.OpenAIAPIKey = os.Getenv("OPENAI_API_KEY")
	cfg.OpenAIBaseURL = os.Getenv("OPENAI_BASE_URL")
	cfg.OpenAIModel = envOr("OPENAI_MODEL", "whisper-1")
	cfg.CalibrationDuration = time.Second
	if v := os.Getenv("CALIBRATION_DURATION"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			return nil, fmt.Errorf("invalid CALIBRATION_DURATION %q", v)
		}
		cfg.CalibrationDuration = d
	}

	cfg.TwitchChannel = strings.TrimPrefix(strings.ToLower(os.Getenv("TWITCH_CHANNEL")), "#")
	cfg.TwitchBotUsername = os.Getenv("TWITCH_BOT_USERNAME")
	cfg.TwitchOAuthToken = os.Getenv("TWITCH_OAUTH_TOKEN")
	cfg.TwitchClientID = os.Getenv("TWITCH_CLIENT_ID")
	cfg.TwitchClientSecret = os.Getenv("TWITCH_CLIENT_SECRET")

	cfg.WorkDir = envOr("WORK_DIR", "data")
	cfg.WorkspaceIsolate = os.Getenv("WORKSPACE_ISOLATE") == "1"
	cfg.WorkspaceLock = strings.ToLower(envOr("WORKSPACE_LOCK", LockFile))
	cfg.RedisAddr = envOr("REDIS_ADDR", "localhost:6379")
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	if cfg.RedisDB, err = envInt("REDIS_DB", 0); err != nil {
		return nil, err
	}
	cfg.DBDsn = os.Getenv("DB_DSN")

	cfg.HTTPAddr = ":8080"
	if v, ok := os.LookupEnv("HTTP_ADDR"); ok {
		cfg.HTTPAddr = v
	}
	return cfg, nil
}

// Validate checks the values required to run the pipeline.
func (c *Config) Validate() error {
	var errs []error
	if c.SourceURL == "" {
		errs = append(errs, errors.New("missing source: set SOURCE_URL or TWITCH_SOURCE_CHANNEL"))
	}
	if c.ClipDurationSeconds <= 0 {
		errs = append(errs, fmt.Errorf("CLIP_DURATION_SECONDS must be positive, got %d", c.ClipDurationSeconds))
	}
	if c.ShortBackoff < 0 || c.LongBackoff < 0 {
		errs = append(errs, errors.New("backoff intervals must not be negative"))
	}
	if c.MaxConsecutiveFailures < 0 {
		errs = append(errs, errors.New("MAX_CONSECUTIVE_FAILURES must not be negative"))
	}
	if err := c.ValidateChatReady(); err != nil {
		errs = append(errs, err)
	}
	switch c.STTBackend {
	case STTGoogle:
		if c.GoogleAPIKey == "" && c.GoogleCredentialsFile == "" {
			errs = append(errs, errors.New("google stt requires GOOGLE_API_KEY or GOOGLE_CREDENTIALS_FILE"))
		}
	case STTOpenAI:
		// A custom base URL (local whisper.cpp server) needs no key.
		if c.OpenAIAPIKey == "" && c.OpenAIBaseURL == "" {
			errs = append(errs, errors.New("openai stt requires OPENAI_API_KEY or OPENAI_BASE_URL"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown STT_BACKEND %q (google|openai)", c.STTBackend))
	}
	switch c.WorkspaceLock {
	case LockFile, LockRedis, LockNone:
	case LockPostgres:
		if c.DBDsn == "" {
			errs = append(errs, errors.New("WORKSPACE_LOCK=postgres requires DB_DSN"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown WORKSPACE_LOCK %q", c.WorkspaceLock))
	}
	return errors.Join(errs...)
}

// ValidateChatReady checks the credentials the chat sink needs.
func (c *Config) ValidateChatReady() error {
	if c.TwitchChannel == "" || c.TwitchBotUsername == "" || c.TwitchOAuthToken == "" {
		return fmt.Errorf("missing twitch env: require TWITCH_CHANNEL, TWITCH_BOT_USERNAME, TWITCH_OAUTH_TOKEN")
	}
	return nil
}

// LiveCheckEnabled reports whether Helix credentials allow checking the source is live.
func (c *Config) LiveCheckEnabled() bool {
	return c.TwitchClientID != "" && c.TwitchClientSecret != "" && c.SourceChannel != ""
}

// ClipDuration returns the clip length as a duration.
func (c *Config) ClipDuration() time.Duration {
	return time.Duration(c.ClipDurationSeconds) * time.Second
}

// channelFromURL extracts the login from a twitch.tv URL, or "" for other hosts.
func channelFromURL(u string) string {
	const host = "twitch.tv/"
	i := strings.Index(u, host)
	if i < 0 {
		return ""
	}
	rest := u[i+len(host):]
	if j := strings.IndexAny(rest, "/?#"); j >= 0 {
		rest = rest[:j]
	}
	return strings.ToLower(rest)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return n, nil
}

// envSeconds accepts a whole number of seconds ("10") or a Go duration ("1m30s").
func envSeconds(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return d, nil
}
