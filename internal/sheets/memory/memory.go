package memory

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"fatture/internal/core"
	ports "fatture/internal/sheets"
)

// SeedFile is the CSV read by NewFromFiles. Its header row names invoice
// fields (core.FieldName* constants).
const SeedFile = "seed_invoices.csv"

var _ ports.InvoiceStore = (*Store)(nil)

type Store struct {
	mu     sync.Mutex
	nextID int64
	items  []core.Invoice
}

func New(seed []core.Invoice) *Store {
	s := &Store{}
	for _, inv := range seed {
		s.nextID++
		inv.ID = s.nextID
		s.items = append(s.items, inv)
	}
	return s
}

// NewFromFiles seeds the store from base/seed_invoices.csv. A missing file
// yields an empty store; malformed rows are skipped.
func NewFromFiles(base string) (*Store, error) {
	f, err := os.Open(filepath.Join(base, SeedFile))
	if errors.Is(err, os.ErrNotExist) {
		return New(nil), nil
	}
	if err != nil {
		return nil, fmt.Errorf("open seed: %w", err)
	}
	defer f.Close()

	seed, err := ReadCSV(f)
	if err != nil {
		return nil, err
	}
	return New(seed), nil
}

// ReadCSV parses invoices from CSV with a header row. Rows that fail
// validation are skipped.
func ReadCSV(r io.Reader) ([]core.Invoice, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.Comment = '#'
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read seed header: %w", err)
	}
	for i := range header {
		header[i] = strings.ToLower(strings.TrimSpace(header[i]))
	}

	var out []core.Invoice
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read seed: %w", err)
		}
		raw := make(map[string]string, len(header))
		for i, name := range header {
			if i < len(rec) {
				raw[name] = rec[i]
			}
		}
		inv, err := core.InvoiceFromRaw(raw)
		if err != nil {
			continue
		}
		out = append(out, inv)
	}
	return out, nil
}

// SaveInvoice stores the invoice and returns a synthetic row reference.
func (s *Store) SaveInvoice(_ context.Context, inv core.Invoice) (string, error) {
	if err := inv.Validate(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	inv.ID = s.nextID
	s.items = append(s.items, inv)
	return fmt.Sprintf("mem:%d", inv.ID), nil
}

// ListInvoices returns matching invoices, newest first.
func (s *Store) ListInvoices(_ context.Context, f core.Filter) ([]core.Invoice, error) {
	s.mu.Lock()
	out := make([]core.Invoice, 0, len(s.items))
	for _, inv := range s.items {
		if f.Matches(inv) {
			out = append(out, inv)
		}
	}
	s.mu.Unlock()

	slices.SortFunc(out, core.Newer)
	return out, nil
}

// UpdateInvoice applies p to invoice id.
func (s *Store) UpdateInvoice(_ context.Context, id int64, p core.InvoicePatch) (core.Invoice, error) {
	if err := p.Validate(); err != nil {
		return core.Invoice{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexOf(id)
	if i < 0 {
		return core.Invoice{}, fmt.Errorf("invoice %d: %w", id, core.ErrInvoiceNotFound)
	}
	s.items[i] = p.Apply(s.items[i])
	return s.items[i], nil
}

// DeleteInvoice removes invoice id. IDs are never reused.
func (s *Store) DeleteInvoice(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexOf(id)
	if i < 0 {
		return fmt.Errorf("invoice %d: %w", id, core.ErrInvoiceNotFound)
	}
	s.items = slices.Delete(s.items, i, i+1)
	return nil
}

func (s *Store) indexOf(id int64) int {
	return slices.IndexFunc(s.items, func(inv core.Invoice) bool { return inv.ID == id })
}
