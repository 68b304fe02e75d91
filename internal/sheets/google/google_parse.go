package google

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"fatture/internal/core"
)

// columns is the sheet layout written by SaveInvoice, A through H.
var columns = []string{
	core.FieldNameMerchant,
	core.FieldNameOrderNumber,
	core.FieldNamePurchaseDate,
	core.FieldNamePaymentMethod,
	core.FieldNameCard,
	core.FieldNameTotal,
	core.FieldNameStatus,
	core.FieldNameNotes,
}

// headerAliases maps the human headers found in hand-kept sheets to field
// names.
var headerAliases = map[string]string{
	"merchant":       core.FieldNameMerchant,
	"negozio":        core.FieldNameMerchant,
	"order":          core.FieldNameOrderNumber,
	"order number":   core.FieldNameOrderNumber,
	"order_number":   core.FieldNameOrderNumber,
	"ordine":         core.FieldNameOrderNumber,
	"date":           core.FieldNamePurchaseDate,
	"purchase date":  core.FieldNamePurchaseDate,
	"purchase_date":  core.FieldNamePurchaseDate,
	"data":           core.FieldNamePurchaseDate,
	"method":         core.FieldNamePaymentMethod,
	"payment method": core.FieldNamePaymentMethod,
	"payment_method": core.FieldNamePaymentMethod,
	"pagamento":      core.FieldNamePaymentMethod,
	"card":           core.FieldNameCard,
	"carta":          core.FieldNameCard,
	"total":          core.FieldNameTotal,
	"totale":         core.FieldNameTotal,
	"status":         core.FieldNameStatus,
	"stato":          core.FieldNameStatus,
	"notes":          core.FieldNameNotes,
	"note":           core.FieldNameNotes,
}

// parseInvoices converts a values matrix (as returned by Sheets API) into
// invoices. The first row is treated as a header when it names at least the
// merchant column; otherwise the fixed column layout applies and every row
// is data. The invoice ID is the 1-based sheet row. Rows that do not form a
// valid invoice are counted in skipped, blank rows are ignored.
func parseInvoices(values [][]any) (invoices []core.Invoice, skipped int) {
	if len(values) == 0 {
		return nil, 0
	}

	layout, hasHeader := sheetLayout(toStrings(values[0]))
	first := 0
	if hasHeader {
		first = 1
	}

	for i := first; i < len(values); i++ {
		row := toStrings(values[i])
		if blank(row) {
			continue
		}
		inv, err := parseRow(layout, row)
		if err != nil {
			skipped++
			continue
		}
		inv.ID = int64(i + 1)
		invoices = append(invoices, inv)
	}
	return invoices, skipped
}

// sheetLayout picks the column layout for a sheet whose first row is first
// and reports whether that row is a header.
func sheetLayout(first []string) (layout []string, hasHeader bool) {
	if header := headerLayout(first); header != nil {
		return header, true
	}
	return columns, false
}

func parseRow(layout, row []string) (core.Invoice, error) {
	raw := make(map[string]string, len(layout))
	for col, name := range layout {
		if name != "" && col < len(row) {
			raw[name] = row[col]
		}
	}
	return core.InvoiceFromRaw(raw)
}

// locateRow checks that sheet row id holds an invoice, given the sheet's
// first row, and returns the layout to read it with.
func locateRow(first, row []string, id int64) ([]string, error) {
	layout, hasHeader := sheetLayout(first)
	if id < 1 || (hasHeader && id == 1) || blank(row) {
		return nil, fmt.Errorf("row %d: %w", id, core.ErrInvoiceNotFound)
	}
	return layout, nil
}

// rowFromRef extracts the first row number of an A1 range such as
// "Invoices!A12:H12" or "'Fatture 2024'!A7:H7".
func rowFromRef(ref string) (int64, error) {
	cell := ref[strings.LastIndex(ref, "!")+1:]
	if i := strings.IndexByte(cell, ':'); i >= 0 {
		cell = cell[:i]
	}
	digits := strings.TrimLeftFunc(cell, func(r rune) bool {
		return (r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z') || r == '$'
	})
	row, err := strconv.ParseInt(digits, 10, 64)
	if err != nil || row < 1 {
		return 0, fmt.Errorf("no row in sheet reference %q", ref)
	}
	return row, nil
}

// columnLetter turns a 0-based column index into its A1 letters.
func columnLetter(col int) string {
	var b []byte
	for col++; col > 0; col = (col - 1) / 26 {
		b = append([]byte{byte('A' + (col-1)%26)}, b...)
	}
	return string(b)
}

func headerLayout(header []string) []string {
	layout := make([]string, len(header))
	hasMerchant := false
	for i, h := range header {
		name, ok := headerAliases[strings.ToLower(strings.TrimSpace(h))]
		if !ok {
			continue
		}
		layout[i] = name
		if name == core.FieldNameMerchant {
			hasMerchant = true
		}
	}
	if !hasMerchant {
		return nil
	}
	return layout
}

func filterInvoices(in []core.Invoice, f core.Filter) []core.Invoice {
	out := make([]core.Invoice, 0, len(in))
	for _, inv := range in {
		if f.Matches(inv) {
			out = append(out, inv)
		}
	}
	slices.SortFunc(out, core.Newer)
	return out
}

// invoiceRow renders an invoice in column order. Totals use a decimal
// comma so USER_ENTERED input parses in Italian-locale sheets.
func invoiceRow(inv core.Invoice) []any {
	return []any{
		inv.Merchant,
		inv.OrderNumber,
		inv.PurchaseDate.String(),
		inv.PaymentMethod,
		inv.Card,
		fmt.Sprintf("%d,%02d", inv.Total.Cents/100, inv.Total.Cents%100),
		string(inv.Status),
		inv.Notes,
	}
}

func toStrings(in []any) []string {
	out := make([]string, len(in))
	for i, v := range in {
		out[i] = strings.TrimSpace(fmt.Sprint(v))
	}
	return out
}

func blank(row []string) bool {
	for _, v := range row {
		if v != "" {
			return false
		}
	}
	return true
}
