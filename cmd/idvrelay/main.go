package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/idvrelay/idvrelay/internal/events"
	"github.com/idvrelay/idvrelay/internal/platform/config"
	"github.com/idvrelay/idvrelay/internal/platform/database"
	"github.com/idvrelay/idvrelay/internal/platform/secrets"
	"github.com/idvrelay/idvrelay/internal/platform/server"
	"github.com/idvrelay/idvrelay/internal/platform/telemetry"
	"github.com/idvrelay/idvrelay/internal/provider"
	"github.com/idvrelay/idvrelay/internal/tokencache"
	"github.com/idvrelay/idvrelay/internal/webhook"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load("config.yaml")
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger := telemetry.NewLogger(cfg.Log.Level, cfg.Log.Format)
	telemetry.SetDefault(logger)

	slog.Info("idvrelay starting", "port", cfg.Server.Port)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// The database only backs event history; the relay runs without it.
	var pool *database.Pool
	if cfg.Database.URL != "" {
		slog.Info("connecting to database")
		p, err := database.Connect(ctx, cfg.Database.URL, cfg.Database.MaxConns)
		if err != nil {
			slog.Warn("database connection failed, starting without event storage", "error", err)
		} else {
			pool = p
			defer pool.Close()

			migrationsURL := fmt.Sprintf("file://%s", cfg.Database.MigrationsPath)
			if err := database.RunMigrations(cfg.Database.URL, migrationsURL); err != nil {
				return fmt.Errorf("running migrations: %w", err)
			}
			slog.Info("migrations complete")
		}
	}

	tokens := buildTokenCache(cfg, logger)
	providerHandler := provider.NewHandler(provider.NewClient(provider.Config{
		APIURL:          cfg.Provider.APIURL,
		VerificationURL: cfg.Provider.VerificationURL,
		Timeout:         cfg.Provider.Timeout(),
		Tokens:          tokens,
		Logger:          logger,
	}), logger)

	hub := events.NewHub(0)
	sink, recorder := buildEventSink(pool, hub, cfg.Events, logger)
	if recorder != nil {
		defer func() { _ = recorder.Close() }()
	}

	secretSource, secretFile, err := buildSecretSource(cfg.Webhook, logger)
	if err != nil {
		return fmt.Errorf("loading webhook secret: %w", err)
	}

	webhookHandler := webhook.NewHandler(webhook.HandlerConfig{
		Verifier:     webhook.NewVerifier(cfg.Webhook.Tolerance()),
		SecretSource: secretSource,
		Sink:         sink,
		MaxBodyBytes: cfg.Webhook.MaxBodyBytes,
		Logger:       logger,
	})

	var eventsDB database.Querier
	var readiness server.Pinger
	if pool != nil {
		eventsDB = pool
		readiness = pool
	}
	eventsHandler := events.NewHandler(events.HandlerConfig{
		DB:             eventsDB,
		Hub:            hub,
		OriginPatterns: originPatterns(cfg.Server.CORSOrigins),
		Logger:         logger,
	})

	addr := net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port))
	srv := server.New(addr, server.Dependencies{
		DB:                 readiness,
		WebhookHandler:     webhookHandler,
		ProviderHandler:    providerHandler,
		EventsHandler:      eventsHandler,
		Logger:             logger,
		CORSAllowedOrigins: cfg.Server.CORSOrigins,
		APIKeys:            cfg.Server.APIKeys,
	})
	if len(cfg.Server.APIKeys) == 0 {
		slog.Warn("no server.apikeys configured; event routes and relay-token session calls are disabled")
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Start(ctx)
	})
	if secretFile != nil {
		g.Go(func() error {
			return secretFile.Watch(ctx)
		})
	}
	if worker := buildRetentionWorker(pool, cfg.Events); worker != nil {
		g.Go(func() error {
			return worker.Run(ctx)
		})
		slog.Info("event retention worker started", "retention", worker.retention, "interval", worker.interval)
	}

	slog.Info("server ready", "addr", addr, "event_storage", pool != nil)
	return g.Wait()
}

func buildTokenCache(cfg *config.Config, logger *slog.Logger) *tokencache.Cache {
	fetcher := tokencache.NewClientCredentials(tokencache.ClientCredentialsConfig{
		ClientID:     cfg.Provider.ClientID,
		ClientSecret: cfg.Provider.ClientSecret,
		TokenURL:     cfg.Provider.APIURL + "/auth/v2/token",
	})
	return tokencache.New(fetcher,
		tokencache.WithSafetyMargin(cfg.Token.SafetyMargin()),
		tokencache.WithTimeout(cfg.Provider.Timeout()),
		tokencache.WithLogger(logger),
	)
}

// buildSecretSource prefers a watched secret file over the inline secret.
func buildSecretSource(cfg config.WebhookConfig, logger *slog.Logger) (webhook.SecretSource, *secrets.File, error) {
	if cfg.SecretFile == "" {
		return secrets.Static(cfg.Secret), nil, nil
	}
	f, err := secrets.LoadFile(cfg.SecretFile, logger)
	if err != nil {
		return nil, nil, err
	}
	return f, f, nil
}

// buildEventSink fans accepted webhooks out to the live hub and, when a
// database is available, to the async recorder. The recorder is returned so
// the caller can flush it on shutdown.
func buildEventSink(pool *database.Pool, hub *events.Hub, cfg config.EventsConfig, logger *slog.Logger) (events.Sink, *events.AsyncRecorder) {
	if pool == nil {
		return hub, nil
	}
	recorder := events.NewAsyncRecorder(pool, events.NewStore(), events.RecorderConfig{
		BufferSize:    cfg.BufferSize,
		BatchSize:     cfg.BatchSize,
		FlushInterval: time.Duration(cfg.FlushIntervalMS) * time.Millisecond,
		Logger:        logger,
	})
	return events.Fanout{recorder, hub}, recorder
}

// originPatterns turns CORS origins into websocket origin patterns, which
// match on host only.
func originPatterns(origins []string) []string {
	var patterns []string
	for _, o := range origins {
		if u, err := url.Parse(o); err == nil && u.Host != "" {
			patterns = append(patterns, u.Host)
		}
	}
	return patterns
}
