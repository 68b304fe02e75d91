package sheets

import (
	"context"

	"fatture/internal/core"
)

// Ports for outbound adapters.
type (
	// InvoiceWriter stores a validated invoice and returns a backend-specific
	// reference to it (a row ID, a sheet range).
	InvoiceWriter interface {
		SaveInvoice(ctx context.Context, inv core.Invoice) (ref string, err error)
	}

	// InvoiceLister returns invoices matching a filter, newest first
	// (core.Newer order).
	InvoiceLister interface {
		ListInvoices(ctx context.Context, f core.Filter) ([]core.Invoice, error)
	}

	// InvoiceUpdater applies a patch to invoice id and returns the result.
	// Unknown or deleted ids yield core.ErrInvoiceNotFound.
	InvoiceUpdater interface {
		UpdateInvoice(ctx context.Context, id int64, p core.InvoicePatch) (core.Invoice, error)
	}

	// InvoiceDeleter removes invoice id from listings. Unknown or already
	// deleted ids yield core.ErrInvoiceNotFound.
	InvoiceDeleter interface {
		DeleteInvoice(ctx context.Context, id int64) error
	}

	// InvoiceStore is what every backend provides.
	InvoiceStore interface {
		InvoiceWriter
		InvoiceLister
		InvoiceUpdater
		InvoiceDeleter
	}
)
