package backend

import (
	"context"
	"fmt"

	"fatture/internal/amqp"
	"fatture/internal/log"
	"fatture/internal/services"
	gsheet "fatture/internal/sheets/google"
	"fatture/internal/sheets/memory"
	"fatture/internal/storage"
)

// DefaultFactory implements the Factory interface
type DefaultFactory struct {
	logger *log.Logger
}

// NewFactory creates a new backend factory
func NewFactory(logger *log.Logger) Factory {
	if logger == nil {
		logger = log.Discard()
	}
	return &DefaultFactory{logger: logger.WithComponent(log.ComponentBackend)}
}

// CreateBackend opens the configured store and wraps it in an
// InvoiceService that publishes change notifications when AMQP is set.
func (f *DefaultFactory) CreateBackend(ctx context.Context, config Config) (*BackendResult, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	var (
		store Backend
		err   error
	)
	switch config.Type {
	case SQLiteBackend:
		store, err = storage.NewSQLiteRepository(config.SQLiteDBPath, f.logger)
	case SheetsBackend:
		store, err = gsheet.New(ctx, gsheet.Options{
			SpreadsheetID:   config.GoogleSpreadsheetID,
			SheetName:       config.GoogleSheetName,
			CredentialsFile: config.GoogleServiceAccountFile,
			CredentialsJSON: config.GoogleServiceAccountJSON,
		}, f.logger)
	case MemoryBackend:
		store, err = f.createMemoryStore(config)
	default:
		return nil, fmt.Errorf("unsupported backend type: %s", config.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("initialize %s backend: %w", config.Type, err)
	}

	// AMQP connects lazily, so a broker that is down at startup only
	// costs failed publishes until it comes back.
	var notifier *amqp.Client
	var publisher services.Publisher
	if config.AMQPURL != "" {
		notifier = amqp.NewClient(config.AMQPURL, config.AMQPExchange, config.AMQPQueue, f.logger)
		publisher = notifier
	}

	svc := services.NewInvoiceService(store, publisher, f.logger)

	f.logger.Info("Initialized backend",
		log.FieldBackend, config.Type.String(),
		"amqp_enabled", notifier != nil)

	return &BackendResult{
		Backend:  svc,
		Notifier: notifier,
		Cleanup:  svc.Close,
	}, nil
}

func (f *DefaultFactory) createMemoryStore(config Config) (*memory.Store, error) {
	dataDir := config.DataDirectory
	if dataDir == "" {
		dataDir = "data"
	}
	store, err := memory.NewFromFiles(dataDir)
	if err != nil {
		return nil, err
	}
	f.logger.Info("Memory store seeded", "data_directory", dataDir)
	return store, nil
}
