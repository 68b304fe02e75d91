package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"fatture/internal/amqp"
	"fatture/internal/backend"
	"fatture/internal/cache"
	"fatture/internal/cli"
	"fatture/internal/config"
	apphttp "fatture/internal/http"
	"fatture/internal/log"
)

const (
	cleanupInterval = time.Minute
	shutdownTimeout = 30 * time.Second
)

func main() {
	cli.LoadEnvFile()

	logger := cli.SetupLogger(os.Getenv("LOG_LEVEL"), os.Stdout)
	cfg := cli.LoadAndValidateConfig(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("Server error", log.FieldError, err)
		os.Exit(1)
	}
	logger.Info("Server stopped gracefully")
}

func run(cfg *config.Config, logger *log.Logger) error {
	ctx, stop := cli.SignalContext(context.Background(), logger)
	defer stop()

	backendCfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		return err
	}
	result, err := backend.NewFactory(logger).CreateBackend(ctx, backendCfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := result.Cleanup(); err != nil {
			logger.Error("Backend cleanup failed", log.FieldError, err)
		}
	}()

	srv, err := apphttp.NewServer(apphttp.Options{
		Addr:           ":" + cfg.Port,
		Store:          result.Backend,
		ListHeight:     cfg.ListHeight,
		ListItemHeight: cfg.ListItemHeight,
		ListOverscan:   cfg.ListOverscan,
		SessionTTL:     cfg.SessionTTL,
		SessionMax:     cfg.SessionMax,
		CacheTTL:       cfg.CacheTTL,
		PostsPerMinute: cfg.PostsPerMinute,
		Logger:         logger,
	})
	if err != nil {
		return err
	}

	caches := cache.NewManager(logger)
	for name, c := range srv.Cleaners() {
		caches.Register(name, c)
	}
	caches.StartCleanup(cleanupInterval)
	defer caches.Stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("Starting fatture server",
			log.FieldOperation, log.OpStartup,
			"port", cfg.Port,
			"backend", cfg.DataBackend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	// Changes made by other instances drop our cached lists.
	if result.Notifier != nil {
		g.Go(func() error {
			err := result.Notifier.Consume(gctx, func(ctx context.Context, msg *amqp.InvoicesChangedMessage) error {
				logger.DebugContext(ctx, "Invoice lists invalidated",
					log.FieldOperation, log.OpConsume,
					log.FieldInvoiceID, msg.ID,
					"reason", msg.Reason)
				srv.InvalidateInvoices()
				return nil
			})
			// Lists still expire by TTL without notifications, keep serving.
			if err != nil && gctx.Err() == nil {
				logger.Error("AMQP consumer stopped", log.FieldError, err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown error", log.FieldError, err)
		}
		return nil
	})

	return g.Wait()
}
