package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"

	"fatture/internal/amqp"
	"fatture/internal/core"
	"fatture/internal/log"
	ports "fatture/internal/sheets"
)

// Publisher sends change notifications; *amqp.Client implements it.
type Publisher interface {
	Publish(ctx context.Context, msg *amqp.InvoicesChangedMessage) error
}

var _ ports.InvoiceStore = (*InvoiceService)(nil)

// InvoiceService saves invoices through a backend and tells other processes
// about it. It is itself an InvoiceStore so callers never see the
// difference.
type InvoiceService struct {
	store     ports.InvoiceStore
	publisher Publisher
	logger    *log.Logger
}

// NewInvoiceService wires a store to an optional publisher.
func NewInvoiceService(store ports.InvoiceStore, publisher Publisher, logger *log.Logger) *InvoiceService {
	if logger == nil {
		logger = log.Discard()
	}
	return &InvoiceService{
		store:     store,
		publisher: publisher,
		logger:    logger.WithComponent(log.ComponentInvoice),
	}
}

// SaveInvoice stores inv and publishes a change notification. A failed
// publish is logged, not returned: the invoice is already stored.
func (s *InvoiceService) SaveInvoice(ctx context.Context, inv core.Invoice) (string, error) {
	if s.store == nil {
		return "", errors.New("invoice service has no store")
	}
	ref, err := s.store.SaveInvoice(ctx, inv)
	if err != nil {
		return "", fmt.Errorf("save invoice: %w", err)
	}

	// References that are not row IDs (sheet ranges) publish ID 0.
	id, _ := strconv.ParseInt(ref, 10, 64)
	s.notify(ctx, id, amqp.ReasonCreated)

	s.logger.InfoContext(ctx, "Invoice created",
		log.FieldOperation, log.OpCreate,
		log.FieldMerchant, inv.Merchant,
		log.FieldTotalCents, inv.Total.Cents,
		"ref", ref)
	return ref, nil
}

// UpdateInvoice applies p to invoice id and publishes the change.
func (s *InvoiceService) UpdateInvoice(ctx context.Context, id int64, p core.InvoicePatch) (core.Invoice, error) {
	if s.store == nil {
		return core.Invoice{}, errors.New("invoice service has no store")
	}
	inv, err := s.store.UpdateInvoice(ctx, id, p)
	if err != nil {
		return core.Invoice{}, fmt.Errorf("update invoice %d: %w", id, err)
	}
	s.notify(ctx, id, amqp.ReasonUpdated)

	s.logger.InfoContext(ctx, "Invoice updated",
		log.FieldOperation, log.OpUpdate,
		log.FieldInvoiceID, id,
		log.FieldStatus, inv.Status)
	return inv, nil
}

// DeleteInvoice removes invoice id and publishes the change.
func (s *InvoiceService) DeleteInvoice(ctx context.Context, id int64) error {
	if s.store == nil {
		return errors.New("invoice service has no store")
	}
	if err := s.store.DeleteInvoice(ctx, id); err != nil {
		return fmt.Errorf("delete invoice %d: %w", id, err)
	}
	s.notify(ctx, id, amqp.ReasonDeleted)

	s.logger.InfoContext(ctx, "Invoice deleted",
		log.FieldOperation, log.OpDelete,
		log.FieldInvoiceID, id)
	return nil
}

// ListInvoices passes through to the store.
func (s *InvoiceService) ListInvoices(ctx context.Context, f core.Filter) ([]core.Invoice, error) {
	if s.store == nil {
		return nil, errors.New("invoice service has no store")
	}
	return s.store.ListInvoices(ctx, f)
}

// Ping reports store health when the store can tell.
func (s *InvoiceService) Ping(ctx context.Context) error {
	if p, ok := s.store.(interface{ Ping(context.Context) error }); ok {
		return p.Ping(ctx)
	}
	return nil
}

// notify publishes a change notification. A failed publish is logged, not
// returned: the store already holds the change.
func (s *InvoiceService) notify(ctx context.Context, id int64, reason string) {
	if err := s.publish(ctx, amqp.NewInvoicesChangedMessage(id, reason)); err != nil {
		s.logger.ErrorContext(ctx, "Failed to publish invoices changed message",
			log.FieldInvoiceID, id,
			"reason", reason,
			log.FieldError, err)
	}
}

func (s *InvoiceService) publish(ctx context.Context, msg *amqp.InvoicesChangedMessage) error {
	if s.publisher == nil {
		s.logger.DebugContext(ctx, "AMQP publisher not configured, skipping change notification")
		return nil
	}
	return s.publisher.Publish(ctx, msg)
}

// Close closes the store and publisher when they hold resources.
func (s *InvoiceService) Close() error {
	var errs []error
	if c, ok := s.store.(io.Closer); ok {
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("store: %w", err))
		}
	}
	if c, ok := s.publisher.(io.Closer); ok {
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("amqp: %w", err))
		}
	}
	return errors.Join(errs...)
}
