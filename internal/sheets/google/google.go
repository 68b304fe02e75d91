package google

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"slices"
	"strings"
	"time"

	"fatture/internal/core"
	"fatture/internal/log"
	ports "fatture/internal/sheets"

	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"
)

// DefaultSheet is the tab read when no sheet name is configured.
const DefaultSheet = "Invoices"

type Client struct {
	svc           *gsheet.Service
	spreadsheetID string
	sheet         string
	logger        *log.Logger
}

// Ensure interface conformance
var _ ports.InvoiceStore = (*Client)(nil)

// Options selects the spreadsheet and the service account used to reach it.
// One of CredentialsJSON or CredentialsFile is required.
type Options struct {
	SpreadsheetID   string
	SheetName       string
	CredentialsJSON string
	CredentialsFile string
}

// New creates a Sheets client authenticated with a service account.
func New(ctx context.Context, opts Options, logger *log.Logger) (*Client, error) {
	if logger == nil {
		logger = log.Discard()
	}
	logger = logger.WithComponent(log.ComponentSheets)

	id := strings.TrimSpace(opts.SpreadsheetID)
	if id == "" {
		return nil, errors.New("missing spreadsheet id")
	}
	sheet := strings.TrimSpace(opts.SheetName)
	if sheet == "" {
		sheet = DefaultSheet
	}

	creds, err := credentials(opts)
	if err != nil {
		return nil, err
	}

	svc, err := gsheet.NewService(ctx,
		goption.WithCredentialsJSON(creds),
		goption.WithScopes(gsheet.SpreadsheetsScope),
		goption.WithHTTPClient(newHTTPClientWithPooling()))
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}

	logger.InfoContext(ctx, "Google Sheets client ready", "sheet", sheet)
	return &Client{svc: svc, spreadsheetID: id, sheet: sheet, logger: logger}, nil
}

func credentials(opts Options) ([]byte, error) {
	if js := strings.TrimSpace(opts.CredentialsJSON); js != "" {
		return []byte(js), nil
	}
	path := strings.TrimSpace(opts.CredentialsFile)
	if path == "" {
		path = strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))
	}
	if path == "" {
		return nil, errors.New("missing service account credentials (set GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE, or GOOGLE_APPLICATION_CREDENTIALS)")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read service account file: %w", err)
	}
	return b, nil
}

// newHTTPClientWithPooling keeps connections to the Sheets API alive between
// list reloads.
func newHTTPClientWithPooling() *http.Client {
	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	transport := &http.Transport{
		DialContext:           dialer.DialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		MaxConnsPerHost:       50,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ForceAttemptHTTP2:     true,
	}
	return &http.Client{Transport: transport, Timeout: 60 * time.Second}
}

// ListInvoices reads the whole invoice tab. The first row is the header.
func (c *Client) ListInvoices(ctx context.Context, f core.Filter) ([]core.Invoice, error) {
	if c.svc == nil {
		return nil, errors.New("sheets service not initialized")
	}
	rng := fmt.Sprintf("%s!A:H", c.sheet)
	resp, err := c.svc.Spreadsheets.Values.Get(c.spreadsheetID, rng).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", rng, err)
	}

	invoices, skipped := parseInvoices(resp.Values)
	if skipped > 0 {
		c.logger.WarnContext(ctx, "Skipped unreadable invoice rows", "range", rng, "count", skipped)
	}
	return filterInvoices(invoices, f), nil
}

// SaveInvoice appends one row in column order. The row number doubles as
// the invoice ID on later reads.
func (c *Client) SaveInvoice(ctx context.Context, inv core.Invoice) (string, error) {
	if err := inv.Validate(); err != nil {
		return "", fmt.Errorf("validation failed: %w", err)
	}
	if c.svc == nil {
		return "", errors.New("sheets service not initialized")
	}

	rng := fmt.Sprintf("%s!A:H", c.sheet)
	vr := &gsheet.ValueRange{Values: [][]any{invoiceRow(inv)}}
	resp, err := c.svc.Spreadsheets.Values.Append(c.spreadsheetID, rng, vr).
		ValueInputOption("USER_ENTERED").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("append to sheet %s: %w", c.sheet, err)
	}

	ref := rng
	if resp.Updates != nil && resp.Updates.UpdatedRange != "" {
		ref = resp.Updates.UpdatedRange
	}
	c.logger.InfoContext(ctx, "Invoice appended to sheet",
		log.FieldMerchant, inv.Merchant,
		log.FieldTotalCents, inv.Total.Cents,
		"range", ref)
	return ref, nil
}

// readRow fetches the sheet's first row and row id in one call.
func (c *Client) readRow(ctx context.Context, id int64) (first, row []string, err error) {
	if c.svc == nil {
		return nil, nil, errors.New("sheets service not initialized")
	}
	resp, err := c.svc.Spreadsheets.Values.BatchGet(c.spreadsheetID).
		Ranges(fmt.Sprintf("%s!1:1", c.sheet), fmt.Sprintf("%s!%d:%d", c.sheet, id, id)).
		Context(ctx).Do()
	if err != nil {
		return nil, nil, fmt.Errorf("read row %d: %w", id, err)
	}
	if len(resp.ValueRanges) != 2 {
		return nil, nil, fmt.Errorf("read row %d: got %d ranges", id, len(resp.ValueRanges))
	}
	if vals := resp.ValueRanges[0].Values; len(vals) > 0 {
		first = toStrings(vals[0])
	}
	if vals := resp.ValueRanges[1].Values; len(vals) > 0 {
		row = toStrings(vals[0])
	}
	return first, row, nil
}

// UpdateInvoice rewrites the status and notes cells of row id. The other
// cells are left as they are in the sheet.
func (c *Client) UpdateInvoice(ctx context.Context, id int64, p core.InvoicePatch) (core.Invoice, error) {
	if err := p.Validate(); err != nil {
		return core.Invoice{}, err
	}
	first, row, err := c.readRow(ctx, id)
	if err != nil {
		return core.Invoice{}, err
	}
	layout, err := locateRow(first, row, id)
	if err != nil {
		return core.Invoice{}, err
	}
	inv, err := parseRow(layout, row)
	if err != nil {
		return core.Invoice{}, fmt.Errorf("row %d: %w", id, err)
	}
	inv.ID = id
	inv = p.Apply(inv)

	cells := map[string]string{}
	if p.Status != nil {
		cells[core.FieldNameStatus] = string(inv.Status)
	}
	if p.Notes != nil {
		cells[core.FieldNameNotes] = inv.Notes
	}
	data := make([]*gsheet.ValueRange, 0, len(cells))
	for name, value := range cells {
		col := slices.Index(layout, name)
		if col < 0 {
			return core.Invoice{}, fmt.Errorf("sheet %s has no %s column", c.sheet, name)
		}
		data = append(data, &gsheet.ValueRange{
			Range:  fmt.Sprintf("%s!%s%d", c.sheet, columnLetter(col), id),
			Values: [][]any{{value}},
		})
	}

	req := &gsheet.BatchUpdateValuesRequest{ValueInputOption: "RAW", Data: data}
	if _, err := c.svc.Spreadsheets.Values.BatchUpdate(c.spreadsheetID, req).Context(ctx).Do(); err != nil {
		return core.Invoice{}, fmt.Errorf("update row %d: %w", id, err)
	}
	c.logger.InfoContext(ctx, "Invoice row updated", log.FieldInvoiceID, id, log.FieldStatus, inv.Status)
	return inv, nil
}

// DeleteInvoice clears row id. Rows are never removed so the row numbers of
// later invoices, which are their IDs, stay put.
func (c *Client) DeleteInvoice(ctx context.Context, id int64) error {
	first, row, err := c.readRow(ctx, id)
	if err != nil {
		return err
	}
	if _, err := locateRow(first, row, id); err != nil {
		return err
	}
	return c.clearRow(ctx, id)
}

// ReplaceInvoiceAt overwrites the row named by ref, as returned by
// SaveInvoice, with inv in column order.
func (c *Client) ReplaceInvoiceAt(ctx context.Context, ref string, inv core.Invoice) error {
	if err := inv.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	if c.svc == nil {
		return errors.New("sheets service not initialized")
	}
	row, err := rowFromRef(ref)
	if err != nil {
		return err
	}
	rng := fmt.Sprintf("%s!A%d:%s%d", c.sheet, row, columnLetter(len(columns)-1), row)
	vr := &gsheet.ValueRange{Values: [][]any{invoiceRow(inv)}}
	if _, err := c.svc.Spreadsheets.Values.Update(c.spreadsheetID, rng, vr).
		ValueInputOption("USER_ENTERED").
		Context(ctx).Do(); err != nil {
		return fmt.Errorf("replace %s: %w", rng, err)
	}
	c.logger.InfoContext(ctx, "Invoice row replaced", log.FieldMerchant, inv.Merchant, "range", rng)
	return nil
}

// ClearInvoiceAt empties the row named by ref.
func (c *Client) ClearInvoiceAt(ctx context.Context, ref string) error {
	row, err := rowFromRef(ref)
	if err != nil {
		return err
	}
	return c.clearRow(ctx, row)
}

func (c *Client) clearRow(ctx context.Context, row int64) error {
	if c.svc == nil {
		return errors.New("sheets service not initialized")
	}
	rng := fmt.Sprintf("%s!%d:%d", c.sheet, row, row)
	if _, err := c.svc.Spreadsheets.Values.Clear(c.spreadsheetID, rng, &gsheet.ClearValuesRequest{}).
		Context(ctx).Do(); err != nil {
		return fmt.Errorf("clear %s: %w", rng, err)
	}
	c.logger.InfoContext(ctx, "Invoice row cleared", "range", rng)
	return nil
}
