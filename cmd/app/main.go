// File: cmd/app/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"incident-assistant/internal/application"
	"incident-assistant/internal/config"
	"incident-assistant/internal/domain/ports/adapter"
	"incident-assistant/internal/domain/ports/repository"
	aiAdapters "incident-assistant/internal/infra/adapters/ai"
	"incident-assistant/internal/infra/api"
	pg "incident-assistant/internal/infra/db/postgres"
	"incident-assistant/internal/infra/logging"
	"incident-assistant/internal/infra/memory"
	"incident-assistant/internal/infra/metrics"
	red "incident-assistant/internal/infra/redis"
	"incident-assistant/internal/infra/sched"
	"incident-assistant/internal/infra/security"
	"incident-assistant/internal/usecase"
)

var (
	version = "dev"
	commit  = "none"
)

// storage bundles the selected session store with its optional extras.
type storage struct {
	repo    repository.SessionStateRepository
	locker  application.Locker
	ping    func(ctx context.Context) error
	refresh func()
	close   func()
}

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	if cfg.Runtime.Dev {
		logger.Info().Msg("[DEV MODE] Enabled")
	}

	metrics.MustRegister()
	metrics.SetBuildInfo(version, commit, cfg.AI.Provider)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---- Storage ----
	codec, err := security.NewStateCodec(cfg.Security.EncryptionKey)
	if err != nil {
		logger.Fatal().Err(err).Msg("encryption")
	}
	store, err := openStorage(ctx, cfg, codec)
	if err != nil {
		logger.Fatal().Err(err).Str("driver", cfg.Storage.Driver).Msg("storage")
	}
	defer store.close()
	logger.Info().Str("driver", cfg.Storage.Driver).Bool("encrypted", codec.Encrypted()).Msg("session storage ready")

	// ---- Generation ----
	provider, err := openAI(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Str("provider", cfg.AI.Provider).Msg("ai adapter")
	}
	ai := aiAdapters.NewLimitedAI(provider, cfg.AI.ConcurrentLimit)
	gen := usecase.NewGenerationClient(ai, usecase.GenerationOptions{
		Model:       cfg.AI.Model,
		Timeout:     cfg.AI.Timeout,
		MaxAttempts: cfg.AI.MaxAttempts,
		BackoffStep: cfg.AI.BackoffStep,
		MaxTokens:   cfg.AI.MaxTokens,
		Temperature: cfg.AI.Temperature,
	}, logger)
	logger.Info().Str("provider", provider.Provider()).Str("model", gen.Model()).Msg("AI adapter ready")

	var tokens usecase.TokenCounter
	if cfg.AI.TokenEncoding != "" {
		tc, err := aiAdapters.NewTokenCounter(cfg.AI.TokenEncoding)
		if err != nil {
			logger.Warn().Err(err).Msg("token counter disabled")
		} else {
			tokens = tc
		}
	}

	// ---- Sessions ----
	handlerCfg := usecase.SessionHandlerConfig{
		MaxHistory: cfg.Chat.MaxHistory,
		RateLimit:  cfg.Chat.RateLimit,
		RateWindow: cfg.Chat.RateWindow,
	}
	registry := application.NewSessionRegistry(
		func(id string) application.SessionHandler {
			return usecase.NewSessionHandler(id, store.repo, gen, tokens, handlerCfg, logger)
		},
		application.RegistryOptions{Locker: store.locker, LockTTL: cfg.Redis.LockTTL},
		logger,
	)
	sweeper := sched.NewRegistrySweeper(cfg.Chat.SweepInterval, cfg.Chat.IdleTTL, registry, logger)

	// ---- HTTP ----
	public := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      withCORS(api.NewServer(registry, logger, cfg.Runtime.Dev).Routes(), cfg.Server.CORSOrigins),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	admin := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.AdminPort),
		Handler:           adminRoutes(store),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return serve(public, "public", logger) })
	g.Go(func() error { return serve(admin, "admin", logger) })
	g.Go(func() error {
		if err := sweeper.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutdown requested")
		registry.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return errors.Join(public.Shutdown(shutdownCtx), admin.Shutdown(shutdownCtx))
	})

	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("stopped with error")
		return
	}
	logger.Info().Msg("bye")
}

func serve(srv *http.Server, name string, logger *zerolog.Logger) error {
	logger.Info().Str("listener", name).Str("addr", srv.Addr).Msg("http listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("%s listener: %w", name, err)
	}
	return nil
}

func openStorage(ctx context.Context, cfg *config.Config, codec *security.StateCodec) (*storage, error) {
	noop := func() {}
	switch cfg.Storage.Driver {
	case config.DriverRedis:
		client, err := red.NewClient(ctx, &cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("redis: %w", err)
		}
		return &storage{
			repo:    red.NewSessionStore(client, codec, cfg.Storage.KeyPrefix, cfg.Storage.TTL),
			locker:  red.NewLocker(client),
			ping:    client.Ping,
			refresh: noop,
			close:   func() { _ = client.Close() },
		}, nil
	case config.DriverPostgres:
		pool, err := pg.NewPgxPool(ctx, cfg.Database.URL)
		if err != nil {
			return nil, fmt.Errorf("postgres: %w", err)
		}
		if err := pg.EnsureSchema(ctx, pool); err != nil {
			pool.Close()
			return nil, err
		}
		return &storage{
			repo:    pg.NewSessionStateRepo(pool, codec),
			ping:    pool.Ping,
			refresh: func() { pg.ReportPoolStats(pool) },
			close:   pool.Close,
		}, nil
	default:
		return &storage{
			repo:    memory.NewSessionStore(),
			ping:    func(context.Context) error { return nil },
			refresh: noop,
			close:   noop,
		}, nil
	}
}

func openAI(ctx context.Context, cfg *config.Config) (adapter.AIServiceAdapter, error) {
	switch cfg.AI.Provider {
	case config.ProviderOpenAI:
		return aiAdapters.NewOpenAIAdapter(cfg.AI.APIKey, cfg.AI.BaseURL)
	case config.ProviderGemini:
		return aiAdapters.NewGeminiAdapter(ctx, cfg.AI.APIKey, cfg.AI.BaseURL)
	case config.ProviderNoop:
		return aiAdapters.NewNoopAIAdapter(200 * time.Millisecond), nil
	default:
		return aiAdapters.NewWorkersAIAdapter(cfg.AI.APIKey, cfg.AI.AccountID, cfg.AI.BaseURL)
	}
}

func withCORS(h http.Handler, origins []string) http.Handler {
	if len(origins) == 0 {
		return h
	}
	return cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodPost},
		AllowedHeaders: []string{"Content-Type"},
		ExposedHeaders: []string{api.HeaderRequestID, "Retry-After"},
		MaxAge:         600,
	}).Handler(h)
}

func adminRoutes(store *storage) http.Handler {
	r := chi.NewRouter()
	prom := promhttp.Handler()
	r.Get("/metrics", func(w http.ResponseWriter, req *http.Request) {
		store.refresh()
		prom.ServeHTTP(w, req)
	})
	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		ctx, cancel := context.WithTimeout(req.Context(), 2*time.Second)
		defer cancel()
		if err := store.ping(ctx); err != nil {
			http.Error(w, "storage unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	return r
}

var (
	_ api.Dispatcher             = (*application.SessionRegistry)(nil)
	_ application.SessionHandler = (*usecase.SessionHandler)(nil)
)
