package storage

import (
	"context"
	"database/sql"
)

// DBTX is satisfied by *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(context.Context, string, ...interface{}) (sql.Result, error)
	QueryContext(context.Context, string, ...interface{}) (*sql.Rows, error)
	QueryRowContext(context.Context, string, ...interface{}) *sql.Row
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

type Queries struct {
	db DBTX
}

func (q *Queries) WithTx(tx *sql.Tx) *Queries {
	return &Queries{db: tx}
}

type InvoiceRow struct {
	ID            int64
	Merchant      string
	OrderNumber   string
	PurchaseDate  string
	PaymentMethod string
	Card          string
	TotalCents    int64
	Status        string
	Notes         string
}

const createInvoice = `
INSERT INTO invoices (merchant, order_number, purchase_date, payment_method, card, total_cents, status, notes)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
RETURNING id, merchant, order_number, purchase_date, payment_method, card, total_cents, status, notes
`

type CreateInvoiceParams struct {
	Merchant      string
	OrderNumber   string
	PurchaseDate  string
	PaymentMethod string
	Card          string
	TotalCents    int64
	Status        string
	Notes         string
}

func (q *Queries) CreateInvoice(ctx context.Context, arg CreateInvoiceParams) (InvoiceRow, error) {
	row := q.db.QueryRowContext(ctx, createInvoice,
		arg.Merchant,
		arg.OrderNumber,
		arg.PurchaseDate,
		arg.PaymentMethod,
		arg.Card,
		arg.TotalCents,
		arg.Status,
		arg.Notes,
	)
	var i InvoiceRow
	err := row.Scan(
		&i.ID,
		&i.Merchant,
		&i.OrderNumber,
		&i.PurchaseDate,
		&i.PaymentMethod,
		&i.Card,
		&i.TotalCents,
		&i.Status,
		&i.Notes,
	)
	return i, err
}

// Empty status and query match everything; the query is a lowercase
// substring of merchant or order number.
const listInvoices = `
SELECT id, merchant, order_number, purchase_date, payment_method, card, total_cents, status, notes
FROM invoices
WHERE deleted_at IS NULL
  AND (?1 = '' OR status = ?1)
  AND (?2 = '' OR instr(lower(merchant), ?2) > 0 OR instr(lower(order_number), ?2) > 0)
ORDER BY purchase_date DESC, id DESC
`

type ListInvoicesParams struct {
	Status string
	Query  string
}

func (q *Queries) ListInvoices(ctx context.Context, arg ListInvoicesParams) ([]InvoiceRow, error) {
	rows, err := q.db.QueryContext(ctx, listInvoices, arg.Status, arg.Query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []InvoiceRow
	for rows.Next() {
		var i InvoiceRow
		if err := rows.Scan(
			&i.ID,
			&i.Merchant,
			&i.OrderNumber,
			&i.PurchaseDate,
			&i.PaymentMethod,
			&i.Card,
			&i.TotalCents,
			&i.Status,
			&i.Notes,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const countInvoices = `SELECT count(*) FROM invoices WHERE deleted_at IS NULL`

func (q *Queries) CountInvoices(ctx context.Context) (int64, error) {
	row := q.db.QueryRowContext(ctx, countInvoices)
	var count int64
	err := row.Scan(&count)
	return count, err
}

// A NULL status or notes keeps the stored value. Every edit bumps the
// version and queues the row for the sheet mirror again.
const updateInvoice = `
UPDATE invoices
SET status = coalesce(?1, status),
    notes = coalesce(?2, notes),
    version = version + 1,
    sync_status = 'pending'
WHERE id = ?3 AND deleted_at IS NULL
RETURNING id, merchant, order_number, purchase_date, payment_method, card, total_cents, status, notes
`

type UpdateInvoiceParams struct {
	Status sql.NullString
	Notes  sql.NullString
	ID     int64
}

func (q *Queries) UpdateInvoice(ctx context.Context, arg UpdateInvoiceParams) (InvoiceRow, error) {
	row := q.db.QueryRowContext(ctx, updateInvoice, arg.Status, arg.Notes, arg.ID)
	var i InvoiceRow
	err := row.Scan(
		&i.ID,
		&i.Merchant,
		&i.OrderNumber,
		&i.PurchaseDate,
		&i.PaymentMethod,
		&i.Card,
		&i.TotalCents,
		&i.Status,
		&i.Notes,
	)
	return i, err
}

// Deleted rows stay until the sheet mirror has cleared them.
const softDeleteInvoice = `
UPDATE invoices
SET deleted_at = CURRENT_TIMESTAMP,
    version = version + 1,
    sync_status = 'pending'
WHERE id = ? AND deleted_at IS NULL
`

func (q *Queries) SoftDeleteInvoice(ctx context.Context, id int64) (int64, error) {
	result, err := q.db.ExecContext(ctx, softDeleteInvoice, id)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// Failed rows are retried with the pending ones, oldest first.
const listPendingSync = `
SELECT id, merchant, order_number, purchase_date, payment_method, card, total_cents, status, notes,
       version, sheet_ref, deleted_at IS NOT NULL
FROM invoices
WHERE sync_status IN ('pending', 'error')
ORDER BY id
LIMIT ?
`

type PendingSyncRow struct {
	InvoiceRow
	Version  int64
	SheetRef string
	Deleted  bool
}

func (q *Queries) ListPendingSync(ctx context.Context, limit int64) ([]PendingSyncRow, error) {
	rows, err := q.db.QueryContext(ctx, listPendingSync, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []PendingSyncRow
	for rows.Next() {
		var i PendingSyncRow
		if err := rows.Scan(
			&i.ID,
			&i.Merchant,
			&i.OrderNumber,
			&i.PurchaseDate,
			&i.PaymentMethod,
			&i.Card,
			&i.TotalCents,
			&i.Status,
			&i.Notes,
			&i.Version,
			&i.SheetRef,
			&i.Deleted,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

// A row edited since the worker read it keeps its pending state, so the
// newer version is mirrored on the next pass. The sheet ref is kept either
// way: the row exists in the sheet now.
const markInvoiceSynced = `
UPDATE invoices
SET sync_status = CASE WHEN version = ?2 THEN 'synced' ELSE sync_status END,
    synced_at = CURRENT_TIMESTAMP,
    sheet_ref = CASE WHEN ?3 = '' THEN sheet_ref ELSE ?3 END
WHERE id = ?1
`

type MarkInvoiceSyncedParams struct {
	ID       int64
	Version  int64
	SheetRef string
}

func (q *Queries) MarkInvoiceSynced(ctx context.Context, arg MarkInvoiceSyncedParams) error {
	_, err := q.db.ExecContext(ctx, markInvoiceSynced, arg.ID, arg.Version, arg.SheetRef)
	return err
}

const markInvoiceSyncError = `
UPDATE invoices SET sync_status = 'error'
WHERE id = ?
`

func (q *Queries) MarkInvoiceSyncError(ctx context.Context, id int64) error {
	_, err := q.db.ExecContext(ctx, markInvoiceSyncError, id)
	return err
}

const countInvoicesBySyncStatus = `SELECT count(*) FROM invoices WHERE sync_status = ?`

func (q *Queries) CountInvoicesBySyncStatus(ctx context.Context, status string) (int64, error) {
	row := q.db.QueryRowContext(ctx, countInvoicesBySyncStatus, status)
	var count int64
	err := row.Scan(&count)
	return count, err
}
