// Package worker mirrors invoices stored in SQLite to a Google Sheet.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"fatture/internal/amqp"
	"fatture/internal/core"
	"fatture/internal/log"
	"fatture/internal/storage"
)

// startupBatches is how many batches StartupSyncCheck takes in one go.
const startupBatches = 5

// Source is the local side of the mirror; *storage.SQLiteRepository
// implements it.
type Source interface {
	PendingSync(ctx context.Context, limit int) ([]storage.PendingInvoice, error)
	MarkSynced(ctx context.Context, id, version int64, ref string) error
	MarkSyncError(ctx context.Context, id int64) error
}

// Mirror is the sheet side; *google.Client implements it. Rows are
// addressed by the reference SaveInvoice returned.
type Mirror interface {
	SaveInvoice(ctx context.Context, inv core.Invoice) (string, error)
	ReplaceInvoiceAt(ctx context.Context, ref string, inv core.Invoice) error
	ClearInvoiceAt(ctx context.Context, ref string) error
}

// SyncWorker copies pending changes to the sheet: new invoices are
// appended, edited ones rewritten in place, deleted ones cleared. Every
// pass is serialised, so a notification and the periodic sweep never
// append the same invoice twice.
type SyncWorker struct {
	source    Source
	sheet     Mirror
	batchSize int
	logger    *log.Logger

	mu sync.Mutex
}

// NewSyncWorker creates a worker moving up to batchSize invoices per pass.
func NewSyncWorker(source Source, sheet Mirror, batchSize int, logger *log.Logger) *SyncWorker {
	if logger == nil {
		logger = log.Discard()
	}
	if batchSize < 1 {
		batchSize = 1
	}
	return &SyncWorker{
		source:    source,
		sheet:     sheet,
		batchSize: batchSize,
		logger:    logger.WithComponent(log.ComponentSync),
	}
}

// HandleChanged runs a pass when an invoice was created, updated or
// deleted. The message only says something changed; the pending rows are
// read from the source. A failed pass is left to the periodic sweep
// instead of requeueing.
func (w *SyncWorker) HandleChanged(ctx context.Context, msg *amqp.InvoicesChangedMessage) error {
	switch msg.Reason {
	case amqp.ReasonCreated, amqp.ReasonUpdated, amqp.ReasonDeleted:
	default:
		w.logger.DebugContext(ctx, "Ignoring change notification",
			log.FieldInvoiceID, msg.ID,
			"reason", msg.Reason)
		return nil
	}
	if _, err := w.ProcessPending(ctx); err != nil {
		w.logger.ErrorContext(ctx, "Sync pass failed",
			log.FieldInvoiceID, msg.ID,
			log.FieldError, err)
	}
	return nil
}

// ProcessPending mirrors one batch and reports how many invoices made it.
// Failures on single invoices are marked and logged, not returned.
func (w *SyncWorker) ProcessPending(ctx context.Context) (int, error) {
	return w.process(ctx, w.batchSize)
}

// StartupSyncCheck catches up on invoices saved while the worker was down.
func (w *SyncWorker) StartupSyncCheck(ctx context.Context) error {
	synced, err := w.process(ctx, w.batchSize*startupBatches)
	if err != nil {
		return fmt.Errorf("startup sync check: %w", err)
	}
	if synced == 0 {
		w.logger.InfoContext(ctx, "No pending invoices found on startup")
	}
	return nil
}

func (w *SyncWorker) process(ctx context.Context, limit int) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	pending, err := w.source.PendingSync(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("get pending invoices: %w", err)
	}
	if len(pending) == 0 {
		return 0, nil
	}

	synced, failed := 0, 0
	for _, p := range pending {
		if ctx.Err() != nil {
			return synced, ctx.Err()
		}
		if err := w.syncInvoice(ctx, p); err != nil {
			w.logger.ErrorContext(ctx, "Failed to sync invoice",
				log.FieldInvoiceID, p.ID,
				log.FieldError, err)
			failed++
			continue
		}
		synced++
	}

	w.logger.InfoContext(ctx, "Sync pass completed",
		log.FieldOperation, log.OpSync,
		"total", len(pending),
		"synced", synced,
		"errors", failed)
	return synced, nil
}

func (w *SyncWorker) syncInvoice(ctx context.Context, p storage.PendingInvoice) error {
	ref, err := w.mirror(ctx, p)
	if err != nil {
		if markErr := w.source.MarkSyncError(ctx, p.ID); markErr != nil {
			w.logger.ErrorContext(ctx, "Failed to mark sync error",
				log.FieldInvoiceID, p.ID,
				log.FieldError, markErr)
		}
		return err
	}

	// The sheet has the change. A failed mark means the change is mirrored
	// again later; for a new invoice that is a duplicate row.
	if err := w.source.MarkSynced(ctx, p.ID, p.Version, ref); err != nil {
		w.logger.ErrorContext(ctx, "Failed to mark as synced",
			log.FieldInvoiceID, p.ID,
			log.FieldError, err)
	}

	w.logger.DebugContext(ctx, "Invoice synced",
		log.FieldInvoiceID, p.ID,
		log.FieldMerchant, p.Merchant,
		"deleted", p.Deleted,
		"sheet_ref", ref)
	return nil
}

// mirror applies one pending change and returns the sheet row it lives in.
func (w *SyncWorker) mirror(ctx context.Context, p storage.PendingInvoice) (string, error) {
	switch {
	case p.Deleted && p.SheetRef == "":
		// Never reached the sheet.
		return "", nil
	case p.Deleted:
		if err := w.sheet.ClearInvoiceAt(ctx, p.SheetRef); err != nil && !errors.Is(err, core.ErrInvoiceNotFound) {
			return "", fmt.Errorf("clear sheet row: %w", err)
		}
		return p.SheetRef, nil
	case p.SheetRef != "":
		if err := w.sheet.ReplaceInvoiceAt(ctx, p.SheetRef, p.Invoice); err != nil {
			return "", fmt.Errorf("rewrite sheet row: %w", err)
		}
		return p.SheetRef, nil
	default:
		ref, err := w.sheet.SaveInvoice(ctx, p.Invoice)
		if err != nil {
			return "", fmt.Errorf("append to sheet: %w", err)
		}
		return ref, nil
	}
}
