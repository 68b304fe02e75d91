package main

import (
	"context"
	"errors"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"fatture/internal/amqp"
	"fatture/internal/cli"
	"fatture/internal/config"
	"fatture/internal/log"
	gsheet "fatture/internal/sheets/google"
	"fatture/internal/storage"
	"fatture/internal/worker"
)

func main() {
	cli.LoadEnvFile()

	logger := cli.SetupLogger(os.Getenv("LOG_LEVEL"), os.Stdout)
	logger.Info("Starting fatture-worker", log.FieldOperation, log.OpStartup)

	cfg := cli.LoadAndValidateConfig(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("Worker error", log.FieldError, err)
		os.Exit(1)
	}
	logger.Info("Worker shutdown complete")
}

func run(cfg *config.Config, logger *log.Logger) error {
	if cfg.GoogleSpreadsheetID == "" {
		return errors.New("the sheet mirror needs GOOGLE_SPREADSHEET_ID")
	}

	ctx, stop := cli.SignalContext(context.Background(), logger)
	defer stop()

	repo, err := storage.NewSQLiteRepository(cfg.SQLiteDBPath, logger)
	if err != nil {
		return err
	}
	defer repo.Close()

	sheet, err := gsheet.New(ctx, gsheet.Options{
		SpreadsheetID:   cfg.GoogleSpreadsheetID,
		SheetName:       cfg.GoogleInvoicesSheet,
		CredentialsJSON: cfg.GoogleServiceAccountJSON,
		CredentialsFile: cfg.GoogleServiceAccountFile,
	}, logger)
	if err != nil {
		return err
	}

	syncWorker := worker.NewSyncWorker(repo, sheet, cfg.SyncBatchSize, logger)

	// On startup, process any invoices saved while the worker was down
	if err := syncWorker.StartupSyncCheck(ctx); err != nil {
		logger.Error("Failed startup sync check", log.FieldError, err)
	}

	g, gctx := errgroup.WithContext(ctx)

	if cfg.AMQPURL != "" {
		client := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.SyncQueue, logger)
		defer client.Close()
		if err := client.Connect(); err != nil {
			logger.Warn("AMQP broker unreachable, consumer will keep retrying", log.FieldError, err)
		}

		g.Go(func() error {
			err := client.Consume(gctx, syncWorker.HandleChanged)
			if gctx.Err() != nil {
				return nil
			}
			return err
		})
	} else {
		logger.Info("AMQP not configured, relying on periodic sync only")
	}

	// Periodic sweep for notifications that never arrived
	g.Go(func() error {
		ticker := time.NewTicker(cfg.SyncInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				if _, err := syncWorker.ProcessPending(gctx); err != nil && gctx.Err() == nil {
					logger.Error("Periodic sync failed", log.FieldError, err)
				}
			}
		}
	})

	return g.Wait()
}
