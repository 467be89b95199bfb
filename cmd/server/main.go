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

	"github.com/Simplici0/printcost/internal/cache"
	"github.com/Simplici0/printcost/internal/config"
	"github.com/Simplici0/printcost/internal/db"
	"github.com/Simplici0/printcost/internal/logger"
	"github.com/Simplici0/printcost/internal/migrations"
	"github.com/Simplici0/printcost/internal/pricing"
	"github.com/Simplici0/printcost/internal/quote"
	"github.com/Simplici0/printcost/internal/seed"
	"github.com/Simplici0/printcost/internal/store"
)

const (
	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 10 * time.Second
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("server: %v", err)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := logger.Init(cfg.LogLevel, cfg.LogJSON); err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	database, err := db.Open(ctx, cfg.DBPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer database.Close()

	if err := migrations.Up(ctx, database); err != nil {
		return fmt.Errorf("failed to run database migrations: %w", err)
	}

	pricingSeed, err := seed.LoadPricingFile(cfg.PricingSeedFile)
	if err != nil {
		return err
	}
	stats, err := seed.Run(ctx, database, seed.Config{Pricing: pricingSeed})
	if err != nil {
		return fmt.Errorf("failed to seed database: %w", err)
	}
	logger.Info(ctx, "seed completed", logger.Int("inserts", stats.Inserts), logger.Int("updates", stats.Updates))

	var geometryCache cache.GeometryCache = cache.Noop{}
	if cfg.CacheEnabled() {
		rc, err := cache.NewRedis(ctx, cache.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			TTL:      cfg.Redis.TTL,
		})
		if err != nil {
			logger.Warn(ctx, "geometry cache disabled", logger.String("addr", cfg.Redis.Addr), logger.ErrorF(err))
		} else {
			defer rc.Close()
			geometryCache = rc
			logger.Info(ctx, "geometry cache enabled", logger.String("addr", cfg.Redis.Addr), logger.Duration("ttl", cfg.Redis.TTL))
		}
	}

	st := store.New(database)
	srv := &server{
		store:          st,
		quotes:         quote.NewService(st, geometryCache, pricing.NewEstimator(cfg.PricingDefaults())),
		maxUploadBytes: cfg.MaxUploadBytes,
	}

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           srv.routes(),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info(ctx, "server listening", logger.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info(context.Background(), "server shutting down")
	sdCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(sdCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	return nil
}
