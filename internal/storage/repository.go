package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"fatture/internal/core"
	"fatture/internal/log"
	ports "fatture/internal/sheets"

	_ "modernc.org/sqlite"
)

var _ ports.InvoiceStore = (*SQLiteRepository)(nil)

type SQLiteRepository struct {
	db      *sql.DB
	queries *Queries
	logger  *log.Logger
}

func NewSQLiteRepository(dbPath string, logger *log.Logger) (*SQLiteRepository, error) {
	if logger == nil {
		logger = log.Discard()
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{
		db:      db,
		queries: New(db),
		logger:  logger.WithComponent(log.ComponentStorage),
	}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// Ping checks the database connection; used by the readiness check.
func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// SaveInvoice implements sheets.InvoiceWriter
func (r *SQLiteRepository) SaveInvoice(ctx context.Context, inv core.Invoice) (string, error) {
	if err := inv.Validate(); err != nil {
		return "", err
	}
	row, err := r.queries.CreateInvoice(ctx, CreateInvoiceParams{
		Merchant:      inv.Merchant,
		OrderNumber:   inv.OrderNumber,
		PurchaseDate:  inv.PurchaseDate.String(),
		PaymentMethod: inv.PaymentMethod,
		Card:          inv.Card,
		TotalCents:    inv.Total.Cents,
		Status:        string(inv.Status),
		Notes:         inv.Notes,
	})
	if err != nil {
		return "", fmt.Errorf("create invoice: %w", err)
	}

	r.logger.InfoContext(ctx, "Invoice saved to SQLite",
		log.FieldInvoiceID, row.ID,
		log.FieldMerchant, row.Merchant,
		log.FieldTotalCents, row.TotalCents)

	return strconv.FormatInt(row.ID, 10), nil
}

// ListInvoices implements sheets.InvoiceLister
func (r *SQLiteRepository) ListInvoices(ctx context.Context, f core.Filter) ([]core.Invoice, error) {
	rows, err := r.queries.ListInvoices(ctx, ListInvoicesParams{
		Status: string(f.Status),
		Query:  strings.ToLower(strings.TrimSpace(f.Query)),
	})
	if err != nil {
		return nil, fmt.Errorf("list invoices: %w", err)
	}

	out := make([]core.Invoice, 0, len(rows))
	for _, row := range rows {
		inv, err := row.toInvoice()
		if err != nil {
			r.logger.WarnContext(ctx, "Skipping unreadable invoice row",
				log.FieldInvoiceID, row.ID,
				log.FieldError, err)
			continue
		}
		out = append(out, inv)
	}
	return out, nil
}

// UpdateInvoice implements sheets.InvoiceUpdater. The change is queued for
// the sheet mirror.
func (r *SQLiteRepository) UpdateInvoice(ctx context.Context, id int64, p core.InvoicePatch) (core.Invoice, error) {
	if err := p.Validate(); err != nil {
		return core.Invoice{}, err
	}
	arg := UpdateInvoiceParams{ID: id}
	if p.Status != nil {
		arg.Status = sql.NullString{String: string(*p.Status), Valid: true}
	}
	if p.Notes != nil {
		arg.Notes = sql.NullString{String: *p.Notes, Valid: true}
	}

	row, err := r.queries.UpdateInvoice(ctx, arg)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Invoice{}, fmt.Errorf("invoice %d: %w", id, core.ErrInvoiceNotFound)
	}
	if err != nil {
		return core.Invoice{}, fmt.Errorf("update invoice: %w", err)
	}

	r.logger.InfoContext(ctx, "Invoice updated in SQLite",
		log.FieldInvoiceID, row.ID,
		"status", row.Status)
	return row.toInvoice()
}

// DeleteInvoice implements sheets.InvoiceDeleter. The row is hidden from
// listings and kept until the sheet mirror has caught up.
func (r *SQLiteRepository) DeleteInvoice(ctx context.Context, id int64) error {
	n, err := r.queries.SoftDeleteInvoice(ctx, id)
	if err != nil {
		return fmt.Errorf("delete invoice: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("invoice %d: %w", id, core.ErrInvoiceNotFound)
	}
	r.logger.InfoContext(ctx, "Invoice deleted in SQLite", log.FieldInvoiceID, id)
	return nil
}

// Count returns the number of stored invoices.
func (r *SQLiteRepository) Count(ctx context.Context) (int64, error) {
	n, err := r.queries.CountInvoices(ctx)
	if err != nil {
		return 0, fmt.Errorf("count invoices: %w", err)
	}
	return n, nil
}

// Sync states of an invoice in the Sheets mirror.
const (
	SyncPending = "pending"
	SyncSynced  = "synced"
	SyncError   = "error"
)

// PendingInvoice is a change waiting for the sheet mirror.
type PendingInvoice struct {
	core.Invoice
	Version  int64
	SheetRef string // sheet row written by an earlier pass, empty before the first
	Deleted  bool
}

// PendingSync returns up to limit changes not yet mirrored, including the
// ones whose last attempt failed.
func (r *SQLiteRepository) PendingSync(ctx context.Context, limit int) ([]PendingInvoice, error) {
	rows, err := r.queries.ListPendingSync(ctx, int64(limit))
	if err != nil {
		return nil, fmt.Errorf("list pending sync invoices: %w", err)
	}
	out := make([]PendingInvoice, 0, len(rows))
	for _, row := range rows {
		inv, err := row.toInvoice()
		if err != nil && !row.Deleted {
			r.logger.WarnContext(ctx, "Unreadable invoice row, marking sync error",
				log.FieldInvoiceID, row.ID,
				log.FieldError, err)
			_ = r.MarkSyncError(ctx, row.ID)
			continue
		}
		// A deletion only needs the id and the sheet row.
		inv.ID = row.ID
		out = append(out, PendingInvoice{
			Invoice:  inv,
			Version:  row.Version,
			SheetRef: row.SheetRef,
			Deleted:  row.Deleted,
		})
	}
	return out, nil
}

// MarkSynced records that version of invoice id reached the sheet at ref.
// An empty ref keeps the one already stored.
func (r *SQLiteRepository) MarkSynced(ctx context.Context, id, version int64, ref string) error {
	err := r.queries.MarkInvoiceSynced(ctx, MarkInvoiceSyncedParams{ID: id, Version: version, SheetRef: ref})
	if err != nil {
		return fmt.Errorf("mark invoice synced: %w", err)
	}
	r.logger.DebugContext(ctx, "Invoice marked as synced",
		log.FieldInvoiceID, id,
		"version", version)
	return nil
}

// MarkSyncError records a failed mirror attempt; the invoice stays eligible.
func (r *SQLiteRepository) MarkSyncError(ctx context.Context, id int64) error {
	if err := r.queries.MarkInvoiceSyncError(ctx, id); err != nil {
		return fmt.Errorf("mark invoice sync error: %w", err)
	}
	r.logger.WarnContext(ctx, "Invoice marked with sync error", log.FieldInvoiceID, id)
	return nil
}

// CountSync returns how many invoices are in the given sync state.
func (r *SQLiteRepository) CountSync(ctx context.Context, status string) (int64, error) {
	n, err := r.queries.CountInvoicesBySyncStatus(ctx, status)
	if err != nil {
		return 0, fmt.Errorf("count %s invoices: %w", status, err)
	}
	return n, nil
}

func (row InvoiceRow) toInvoice() (core.Invoice, error) {
	date, err := core.ParseDate(row.PurchaseDate)
	if err != nil {
		return core.Invoice{}, err
	}
	return core.Invoice{
		ID:            row.ID,
		Merchant:      row.Merchant,
		OrderNumber:   row.OrderNumber,
		PurchaseDate:  date,
		PaymentMethod: row.PaymentMethod,
		Card:          row.Card,
		Total:         core.Money{Cents: row.TotalCents},
		Status:        core.Status(row.Status),
		Notes:         row.Notes,
	}, nil
}
