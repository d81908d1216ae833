package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"netpilot/internal/ai"
	"netpilot/internal/config"
	"netpilot/internal/crypto"
	"netpilot/internal/metrics"
	"netpilot/internal/providers/registry"
	"netpilot/internal/queue"
	"netpilot/internal/server"
	"netpilot/internal/storage"
	"netpilot/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	setupLogger(cfg.Log.Level)
	log.Info().
		Str("mode", cfg.AppMode).
		Str("db_driver", cfg.DB.Driver).
		Str("listen_addr", cfg.Server.ListenAddr).
		Msg("starting netpilot")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, err := storage.Open(ctx, cfg.DB.Driver, cfg.DB.DSN, cfg.DB.AutoMigrate, "migrations")
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize storage")
	}
	defer store.Close()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatal().Err(err).Msg("failed to connect redis")
	}
	defer rdb.Close()

	keyring, err := crypto.NewKeyring(cfg.Crypto.CurrentKeyID, cfg.Crypto.Keys)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize keyring")
	}

	m := metrics.Global()
	jobQueue := queue.NewStreamQueue(rdb, cfg.Redis.QueueStream, cfg.Redis.QueueGroup, cfg.Worker.ConsumerName, cfg.Redis.QueueBlock)
	if err := jobQueue.EnsureGroup(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to create job stream group")
	}
	httpClient := &http.Client{Timeout: cfg.HTTP.ClientTimeout}

	aiService := ai.NewService(ai.Config{
		Store:      store,
		Keyring:    keyring,
		Cache:      queue.NewResponseCache(rdb, cfg.Redis.CacheTTL),
		HTTPClient: httpClient,
		EnvKeys: map[string]string{
			registry.NameOpenAI:     cfg.Providers.OpenAIKey,
			registry.NameGroq:       cfg.Providers.GroqKey,
			registry.NameOpenRouter: cfg.Providers.OpenRouterKey,
			registry.NameAnthropic:  cfg.Providers.AnthropicKey,
		},
		MaxRetries:  cfg.HTTP.MaxRetries,
		BackoffBase: cfg.HTTP.BackoffBase,
		Logger:      log.Logger,
		Metrics:     m,
	})

	errCh := make(chan error, 2)

	var httpServer *http.Server
	if cfg.AppMode == config.ModeAPI || cfg.AppMode == config.ModeAll {
		srv := server.New(server.Config{
			Store:        store,
			AI:           aiService,
			Keyring:      keyring,
			Limiter:      queue.NewRateLimiter(rdb, cfg.Rate.PerHour),
			Jobs:         jobQueue,
			Redis:        rdb,
			TemplatesDir: cfg.Server.TemplatesDir,
			HealthPath:   cfg.Server.HealthPath,
			MetricsPath:  cfg.Server.MetricsPath,
			Logger:       log.Logger,
			Metrics:      m,
		})

		httpServer = &http.Server{
			Addr:              cfg.Server.ListenAddr,
			Handler:           srv.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       cfg.Server.ReadTimeout,
		}
		go func() {
			log.Info().Str("addr", cfg.Server.ListenAddr).Msg("http server started")
			if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				errCh <- fmt.Errorf("http server: %w", err)
			}
		}()
	}

	if cfg.AppMode == config.ModeWorker || cfg.AppMode == config.ModeAll {
		w := worker.New(worker.Config{
			AI:            aiService,
			Store:         store,
			Queue:         jobQueue,
			MaxJobRetries: cfg.Worker.MaxRetries,
			Logger:        log.Logger,
			Metrics:       m,
		})
		go func() {
			if err := w.Start(ctx, cfg.Worker.Concurrency); err != nil && ctx.Err() == nil {
				errCh <- fmt.Errorf("worker failed: %w", err)
			}
		}()
		log.Info().Int("concurrency", cfg.Worker.Concurrency).Msg("worker started")
	}

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		log.Error().Err(err).Msg("runtime error")
		cancel()
	}

	if httpServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("failed to stop http server")
		}
	}

	log.Info().Msg("stopped")
}

func setupLogger(level string) {
	zerolog.TimeFieldFormat = time.RFC3339
	zerolog.SetGlobalLevel(parseLogLevel(level))
	log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func parseLogLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
