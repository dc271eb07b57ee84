package main

import (
	"context"
	"fmt"
	"math"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	slacklib "github.com/slack-go/slack"

	v1 "github.com/gosuda/acplink/internal/api/v1"
	"github.com/gosuda/acplink/internal/config"
	"github.com/gosuda/acplink/internal/notify"
	"github.com/gosuda/acplink/internal/server"
	"github.com/gosuda/acplink/internal/session"
	redisstore "github.com/gosuda/acplink/internal/store/redis"
)

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("startup failed")
	}
}

func run() error {
	// Initialize structured logging from environment.
	logLevel := os.Getenv("ACPLINK_LOG_LEVEL")
	level, parseErr := zerolog.ParseLevel(logLevel)
	if parseErr != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	logFormat := os.Getenv("ACPLINK_LOG_FORMAT")
	if logFormat == "text" {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	} else {
		log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	}

	ctx := context.Background()

	// Load configuration from environment.
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// Pick the session store: PostgreSQL when configured, in-memory
	// otherwise.
	var store session.Store
	if cfg.Database.Host != "" {
		if cfg.Database.MaxConns < 0 || cfg.Database.MaxConns > math.MaxInt32 {
			return fmt.Errorf("database max_conns %d out of int32 range", cfg.Database.MaxConns)
		}
		pgStore, err := session.NewPostgresStore(ctx, cfg.Database.DSN(), int32(cfg.Database.MaxConns)) //nolint:gosec // bounds checked above
		if err != nil {
			return err
		}
		defer pgStore.Close()
		if err := pgStore.Migrate(ctx); err != nil {
			return err
		}
		store = pgStore
		log.Info().Str("host", cfg.Database.Host).Msg("session store: postgres")
	} else {
		store = session.NewMemoryStore()
		log.Warn().Msg("session store: in-memory, history is lost on restart")
	}

	// Connect to Redis.
	pubsub, err := redisstore.New(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		return err
	}
	defer pubsub.Close()

	// Permission notifier: Slack when configured, log fallback otherwise.
	var notifier notify.Notifier
	if cfg.Slack.BotToken != "" {
		notifier = notify.NewSlackNotifier(slacklib.New(cfg.Slack.BotToken), cfg.Slack.Channel)
		log.Info().Str("channel", cfg.Slack.Channel).Msg("Slack permission notifications enabled")
	} else {
		notifier = notify.NewLogNotifier()
	}

	// Wire the gateway and the session orchestrator together; the manager
	// reports lifecycle changes through the gateway's callbacks.
	registry := v1.NewPermissionRegistry()
	gateway := server.NewGateway(pubsub, registry, notifier)
	manager := session.NewManager(store, gateway.Lifecycle())
	gateway.Bind(manager)

	// Graceful shutdown on SIGINT / SIGTERM.
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Dial the agent at startup when an endpoint is configured; otherwise
	// the connection is established through the API.
	if cfg.Agent.WsURL != "" {
		opts := session.ConnectOptions{
			ReconnectAttempts: cfg.Agent.ReconnectAttempts,
			ReconnectDelay:    cfg.Agent.ReconnectDelay,
		}
		if err := manager.Connect(ctx, cfg.Agent.WsURL, opts); err != nil {
			log.Warn().Err(err).Str("url", cfg.Agent.WsURL).Msg("initial agent connection failed; connect via the API")
		}
	}
	defer manager.Disconnect()

	// Create HTTP server with all routes wired.
	srv := server.New(ctx, cfg, manager, gateway, registry, pubsub)

	// Start server in background goroutine.
	go func() {
		log.Info().Str("addr", cfg.Server.Addr).Msg("starting server")
		if startErr := srv.Start(ctx); startErr != nil {
			log.Error().Err(startErr).Msg("server error")
		}
	}()

	// Block until shutdown signal.
	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if shutdownErr := srv.Shutdown(shutdownCtx); shutdownErr != nil {
		return shutdownErr
	}

	log.Info().Msg("stopped")
	return nil
}
