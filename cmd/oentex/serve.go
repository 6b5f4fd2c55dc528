package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/oentex/oentex/internal/api"
	"github.com/oentex/oentex/internal/auth"
	"github.com/oentex/oentex/internal/cache"
	"github.com/oentex/oentex/internal/categories"
	"github.com/oentex/oentex/internal/cleanup"
	"github.com/oentex/oentex/internal/config"
	"github.com/oentex/oentex/internal/deals"
	"github.com/oentex/oentex/internal/functions"
	"github.com/oentex/oentex/internal/live"
	"github.com/oentex/oentex/internal/metrics"
	"github.com/oentex/oentex/internal/ratings"
	"github.com/oentex/oentex/internal/storage"
)

func runServe(cmd *cobra.Command, flags globalFlags) error {
	cfg, err := loadConfig(flags)
	if err != nil {
		return err
	}

	slog.Info("starting oentex",
		"version", version,
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"driver", cfg.Database.Driver,
		"cache_store", cfg.Cache.Store,
	)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Create context for initialization
	initCtx, initCancel := context.WithTimeout(ctx, 30*time.Second)
	defer initCancel()

	var closers []io.Closer
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i].Close(); err != nil {
				slog.Error("close error", "error", err)
			}
		}
	}()

	m := metrics.New()

	repo, subscribers, err := openStorage(initCtx, cfg.Database)
	if err != nil {
		return err
	}
	closers = append(closers, repo)
	if c, ok := subscribers.(io.Closer); ok {
		closers = append(closers, c)
	}

	store, err := openCacheStore(initCtx, cfg)
	if err != nil {
		return err
	}
	if c, ok := store.(io.Closer); ok {
		closers = append(closers, c)
	}

	qc := cache.NewClient(store,
		cache.WithDefaultPolicy(cache.Policy{
			StaleTime:  cfg.Cache.StaleTime,
			GCTime:     cfg.Cache.GCTime,
			MaxRetries: cfg.Cache.MaxRetries,
		}),
		cache.WithRetryBackoff(cfg.Cache.RetryBackoff),
		cache.WithMetrics(m),
	)

	dealSvc := deals.NewService(repo, qc, deals.Config{
		DefaultPageSize: cfg.Deals.DefaultPageSize,
		MaxPageSize:     cfg.Deals.MaxPageSize,
		FeaturedLimit:   cfg.Deals.FeaturedLimit,
	}, deals.WithMetrics(m))

	hub := live.NewHub(dealSvc, live.WithDebounce(cfg.Live.SearchDebounce), live.WithMetrics(m))
	ratingSvc := ratings.NewService(repo, qc, hub, m)

	catalog := categories.NewCatalog()
	if cfg.Categories.File != "" {
		if err := catalog.LoadFromFile(cfg.Categories.File); err != nil {
			slog.Warn("using built-in categories", "file", cfg.Categories.File, "error", err)
		}
		if cfg.Categories.Watch {
			if err := catalog.Watch(ctx, cfg.Categories.File); err != nil {
				slog.Warn("category file not watched", "error", err)
			}
		}
	}
	categorySvc := categories.NewService(repo, qc, catalog, dealSvc, m)

	registry := functions.NewRegistry(
		functions.NewNewsletterSubscribe(subscribers),
		functions.NewNewsletterStats(subscribers),
	)

	verifier := auth.NewVerifier(cfg.Auth.JWTSecret)
	var probe auth.Probe
	if cfg.Auth.HealthURL != "" {
		probe = auth.HTTPProbe(&http.Client{Timeout: cfg.Auth.InitTimeout}, cfg.Auth.HealthURL)
	}
	authState := auth.Bootstrap(ctx, probe, cfg.Auth.InitTimeout, cfg.Auth.InitAttempts)
	if !verifier.Enabled() {
		slog.Warn("AUTH_JWT_SECRET not set, every request is anonymous")
	}

	server := api.NewServer(cfg.Server, api.Dependencies{
		Repo:       repo,
		Deals:      dealSvc,
		Ratings:    ratingSvc,
		Categories: categorySvc,
		Functions:  registry,
		Hub:        hub,
		Verifier:   verifier,
		AuthState:  authState,
		Metrics:    m,

		OAuthRedirectPath: cfg.Auth.OAuthRedirectPath,
	})
	httpServer := &http.Server{
		Addr:         cfg.Address(),
		Handler:      server.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 65 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	if evicter, ok := store.(cache.Evicter); ok {
		cleanup.NewJanitor(evicter, cfg.Cache.JanitorInterval).Start(gctx)
	}

	events, unsubscribe := qc.Subscribe(64)
	g.Go(func() error {
		defer unsubscribe()
		hub.Run(gctx, events)
		return nil
	})

	g.Go(func() error {
		slog.Info("HTTP server starting", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down gracefully...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("HTTP server shutdown error", "error", err)
		}
		return nil
	})

	err = g.Wait()
	slog.Info("oentex stopped")
	return err
}

// openStorage connects the configured backend and the newsletter store
// that lives beside it
func openStorage(ctx context.Context, cfg config.DatabaseConfig) (storage.Repository, functions.SubscriberStore, error) {
	switch cfg.Driver {
	case "memory":
		repo := storage.NewMemoryRepository()
		if cfg.SeedFile != "" {
			if err := repo.LoadSeedFile(cfg.SeedFile); err != nil {
				return nil, nil, fmt.Errorf("load seed: %w", err)
			}
			slog.Info("memory storage seeded", "file", cfg.SeedFile)
		}
		return repo, functions.NewMemorySubscriberStore(), nil

	default:
		repo, err := storage.NewPostgresRepository(ctx, storage.PostgresConfig{
			DSN:      cfg.DSN,
			MaxConns: int32(cfg.MaxConns),
			MinConns: int32(cfg.MinConns),
		})
		if err != nil {
			return nil, nil, fmt.Errorf("connect database: %w", err)
		}
		slog.Info("database connected successfully")

		if cfg.AutoMigrate {
			applied, err := storage.RunMigrations(ctx, repo.Pool(), storage.Migrations())
			if err != nil {
				repo.Close()
				return nil, nil, fmt.Errorf("run migrations: %w", err)
			}
			slog.Info("database migrations applied", "count", applied)
		}

		subscribers, err := functions.NewPostgresSubscriberStore(ctx, cfg.DSN)
		if err != nil {
			repo.Close()
			return nil, nil, fmt.Errorf("connect newsletter store: %w", err)
		}
		return repo, subscribers, nil
	}
}

func openCacheStore(ctx context.Context, cfg *config.Config) (cache.Store, error) {
	if cfg.Cache.Store != "redis" {
		return cache.NewMemoryStore(), nil
	}

	store, err := cache.NewRedisStore(ctx, cache.RedisConfig{
		Address:  cfg.Redis.Address,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		return nil, fmt.Errorf("connect cache store: %w", err)
	}
	slog.Info("redis query cache connected", "address", cfg.Redis.Address)
	return store, nil
}
