// Command limebot captures short clips of a live stream, transcribes their speech and
// posts the transcript to a Twitch chat channel, in a loop until stopped.
//
// It:
//   - Loads configuration and initializes structured logging.
//   - Opens and locks the working directory (file, redis or postgres lock).
//   - Connects the Twitch chat sink and waits for the channel join before the first clip.
//   - Runs the capture -> extract -> normalize -> transcribe -> publish loop.
//   - Exposes a small ops HTTP server with /healthz, /readyz, /status and /metrics.
//
// Shutdown is graceful on SIGINT/SIGTERM.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/limebot/limebot/capture"
	"github.com/limebot/limebot/chat"
	"github.com/limebot/limebot/config"
	"github.com/limebot/limebot/media"
	"github.com/limebot/limebot/pipeline"
	"github.com/limebot/limebot/server"
	"github.com/limebot/limebot/stt"
	"github.com/limebot/limebot/telemetry"
	"github.com/limebot/limebot/twitchapi"
	"github.com/limebot/limebot/workspace"
)

func main() {
	setupLogging()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", slog.Any("err", err))
		os.Exit(1)
	}

	telemetry.Init()

	// Tracing is a no-op unless OTEL_EXPORTER_OTLP_ENDPOINT is set.
	shutdown, err := telemetry.InitTracing("limebot", "1.0.0")
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer shutdown()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("limebot stopped", slog.Any("err", err))
		shutdown()
		os.Exit(1)
	}
	slog.Info("shutting down")
}

func run(ctx context.Context, cfg *config.Config) error {
	locker, closeLocker, err := newLocker(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeLocker()

	ws, err := workspace.Open(ctx, workspace.Options{
		Root:    cfg.WorkDir,
		Isolate: cfg.WorkspaceIsolate,
		Locker:  locker,
	})
	if err != nil {
		return fmt.Errorf("open workspace: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := ws.Close(closeCtx); err != nil {
			slog.Error("workspace close failed", slog.Any("err", err))
		}
	}()

	backend, err := newBackend(ctx, cfg)
	if err != nil {
		return err
	}
	slog.Info("transcription backend ready", slog.String("backend", backend.Name()), slog.String("language", cfg.TargetLanguage))

	sink := chat.NewTwitchSink(cfg.TwitchBotUsername, cfg.TwitchOAuthToken, cfg.TwitchChannel)
	sink.Start()
	defer func() {
		if err := sink.Close(); err != nil {
			slog.Warn("chat sink close failed", slog.Any("err", err))
		}
	}()

	deps := pipeline.Deps{
		Capturer:    capture.New(cfg.StreamlinkPath, cfg.CaptureQuality),
		Extractor:   media.NewExtractor(cfg.FFmpegPath, cfg.FFprobePath),
		Normalizer:  media.NewNormalizer(cfg.FFmpegPath, ws.Artifacts.Normalized),
		Transcriber: stt.New(backend, cfg.TargetLanguage, cfg.CalibrationDuration),
		Sink:        sink,
		Cleaner:     ws,
		Artifacts:   ws.Artifacts,
	}
	if cfg.LiveCheckEnabled() {
		deps.Live = twitchapi.NewHelixClient(cfg.TwitchClientID, cfg.TwitchClientSecret)
		slog.Info("live check enabled", slog.String("channel", cfg.SourceChannel))
	}

	ctrl := pipeline.New(deps, pipeline.Settings{
		Source:                 pipeline.Source{URL: cfg.SourceURL, ClipDuration: cfg.ClipDuration()},
		SourceChannel:          cfg.SourceChannel,
		ShortBackoff:           cfg.ShortBackoff,
		LongBackoff:            cfg.LongBackoff,
		MaxConsecutiveFailures: cfg.MaxConsecutiveFailures,
		MessagePrefix:          cfg.MessagePrefix,
		RunID:                  ws.RunID,
	})

	if cfg.HTTPAddr != "" {
		go func() {
			if err := server.Start(ctx, cfg.HTTPAddr, server.NewRouter(server.NewHandlers(ctrl, sink))); err != nil {
				slog.Error("http server exited with error", slog.Any("err", err))
			}
		}()
	}

	return ctrl.Run(ctx)
}

// newLocker builds the working directory lock selected by WORKSPACE_LOCK. The returned
// func releases any client the lock holds.
func newLocker(ctx context.Context, cfg *config.Config) (workspace.Locker, func(), error) {
	switch cfg.WorkspaceLock {
	case config.LockRedis:
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("redis ping %s: %w", cfg.RedisAddr, err)
		}
		return workspace.NewRedisLock(client, 30*time.Second), func() { _ = client.Close() }, nil
	case config.LockPostgres:
		return workspace.NewPostgresLock(cfg.DBDsn), func() {}, nil
	case config.LockNone:
		return workspace.NoLock{}, func() {}, nil
	default:
		return &workspace.FileLock{}, func() {}, nil
	}
}

func newBackend(ctx context.Context, cfg *config.Config) (stt.Backend, error) {
	switch cfg.STTBackend {
	case config.STTOpenAI:
		return stt.NewOpenAIBackend(stt.OpenAIConfig{
			APIKey:  cfg.OpenAIAPIKey,
			BaseURL: cfg.OpenAIBaseURL,
			Model:   cfg.OpenAIModel,
		}), nil
	default:
		g, err := stt.NewGoogleBackend(ctx, stt.GoogleConfig{
			APIKey:          cfg.GoogleAPIKey,
			CredentialsFile: cfg.GoogleCredentialsFile,
		})
		if err != nil {
			return nil, fmt.Errorf("google speech client: %w", err)
		}
		return g, nil
	}
}

// setupLogging configures the default logger from LOG_LEVEL and LOG_FORMAT.
// Defaults: level=info, format=text.
func setupLogging() {
	lvl := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	case "info", "":
	default:
		tmp := slog.New(slog.NewTextHandler(os.Stdout, nil))
		tmp.Warn("unknown LOG_LEVEL, using info", slog.String("value", os.Getenv("LOG_LEVEL")))
	}
	format := strings.ToLower(os.Getenv("LOG_FORMAT")) // text | json
	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	default:
		format = "text"
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))
	slog.Info("logger initialized", slog.String("level", lvl.String()), slog.String("format", format))
}
