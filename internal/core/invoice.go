package core

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	StatusOpen      Status = "Open"
	StatusPaid      Status = "Paid"
	StatusRefunded  Status = "Refunded"
	StatusCancelled Status = "Cancelled"
)

type (
	Status string

	Date struct {
		time.Time
	}

	Invoice struct {
		ID            int64 // Database ID, zero until stored
		Merchant      string
		OrderNumber   string
		PurchaseDate  Date
		PaymentMethod string
		Card          string // Card used for the purchase, free text
		Total         Money
		Status        Status
		Notes         string
	}

	// Filter narrows an invoice listing. Zero value matches everything.
	Filter struct {
		Status Status
		Query  string // case-insensitive substring of merchant or order number
	}
)

var (
	ErrInvalidAmount   = errors.New("invalid amount")
	ErrEmptyMerchant   = errors.New("empty merchant")
	ErrMerchantTooLong = errors.New("merchant too long (max 255 characters)")
	ErrZeroDate        = errors.New("date cannot be zero")
	ErrInvalidStatus   = errors.New("invalid status")
)

// NewDate creates a new Date from year, month, day
func NewDate(year, month, day int) Date {
	return Date{Time: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)}
}

// ParseDate accepts ISO dates (2006-01-02) and the day-first form used on
// printed receipts (02/01/2006).
func ParseDate(s string) (Date, error) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{"2006-01-02", "02/01/2006"} {
		if t, err := time.Parse(layout, s); err == nil {
			return Date{Time: t}, nil
		}
	}
	return Date{}, errors.New("invalid date: " + s)
}

func (d Date) Validate() error {
	if d.IsZero() {
		return ErrZeroDate
	}
	return nil
}

// String renders the date in ISO form, or "" when unset.
func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.Format("2006-01-02")
}

// ParseStatus maps user input to a Status. Empty input yields StatusOpen.
func ParseStatus(s string) (Status, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return StatusOpen, nil
	}
	for _, st := range Statuses() {
		if strings.EqualFold(s, string(st)) {
			return st, nil
		}
	}
	return "", ErrInvalidStatus
}

// Statuses lists every known status in display order.
func Statuses() []Status {
	return []Status{StatusOpen, StatusPaid, StatusRefunded, StatusCancelled}
}

func (s Status) Validate() error {
	switch s {
	case StatusOpen, StatusPaid, StatusRefunded, StatusCancelled:
		return nil
	default:
		return ErrInvalidStatus
	}
}

func (inv Invoice) Validate() error {
	if strings.TrimSpace(inv.Merchant) == "" {
		return ErrEmptyMerchant
	}
	if len(inv.Merchant) > 255 {
		return ErrMerchantTooLong
	}
	if err := inv.PurchaseDate.Validate(); err != nil {
		return err
	}
	if err := inv.Total.Validate(); err != nil {
		return err
	}
	return inv.Status.Validate()
}

// Matches reports whether the invoice passes the filter.
func (f Filter) Matches(inv Invoice) bool {
	if f.Status != "" && inv.Status != f.Status {
		return false
	}
	q := strings.ToLower(strings.TrimSpace(f.Query))
	if q == "" {
		return true
	}
	return strings.Contains(strings.ToLower(inv.Merchant), q) ||
		strings.Contains(strings.ToLower(inv.OrderNumber), q)
}

// Key identifies the filter in caches.
func (f Filter) Key() string {
	return string(f.Status) + "|" + strings.ToLower(strings.TrimSpace(f.Query))
}

// Newer orders invoices by purchase date descending, then ID descending.
func Newer(a, b Invoice) int {
	switch {
	case a.PurchaseDate.After(b.PurchaseDate.Time):
		return -1
	case a.PurchaseDate.Before(b.PurchaseDate.Time):
		return 1
	case a.ID > b.ID:
		return -1
	case a.ID < b.ID:
		return 1
	default:
		return 0
	}
}

// Invoice field names shared by the creation form, the Sheets reader and
// OCR templates.
const (
	FieldNameMerchant      = "merchant"
	FieldNameOrderNumber   = "order_number"
	FieldNamePurchaseDate  = "purchase_date"
	FieldNamePaymentMethod = "payment_method"
	FieldNameCard          = "card"
	FieldNameTotal         = "total"
	FieldNameStatus        = "status"
	FieldNameNotes         = "notes"
)

// InvoiceSchema maps each invoice field to the type its raw text parses as.
var InvoiceSchema = map[string]FieldType{
	FieldNameMerchant:      FieldString,
	FieldNameOrderNumber:   FieldString,
	FieldNamePurchaseDate:  FieldDate,
	FieldNamePaymentMethod: FieldString,
	FieldNameCard:          FieldString,
	FieldNameTotal:         FieldCurrency,
	FieldNameStatus:        FieldString,
	FieldNameNotes:         FieldString,
}

// InvoiceFromRaw parses raw field text through InvoiceSchema and builds a
// validated invoice. Unknown keys are ignored; blank optional fields are skipped.
func InvoiceFromRaw(raw map[string]string) (Invoice, error) {
	fields := make(map[string]FieldValue, len(raw))
	for name, text := range raw {
		typ, ok := InvoiceSchema[name]
		if !ok || strings.TrimSpace(text) == "" {
			continue
		}
		v, err := ParseFieldValue(typ, text)
		if err != nil {
			return Invoice{}, fmt.Errorf("%s: %w", name, err)
		}
		fields[name] = v
	}
	return InvoiceFromFields(fields)
}

// InvoiceFromFields builds a validated invoice from typed values.
func InvoiceFromFields(fields map[string]FieldValue) (Invoice, error) {
	str := func(name string) string {
		s, _ := fields[name].AsString()
		return strings.TrimSpace(s)
	}
	inv := Invoice{
		Merchant:      str(FieldNameMerchant),
		OrderNumber:   str(FieldNameOrderNumber),
		PaymentMethod: str(FieldNamePaymentMethod),
		Card:          str(FieldNameCard),
		Notes:         str(FieldNameNotes),
	}
	inv.PurchaseDate, _ = fields[FieldNamePurchaseDate].AsDate()
	inv.Total, _ = fields[FieldNameTotal].AsCurrency()
	st, err := ParseStatus(str(FieldNameStatus))
	if err != nil {
		return Invoice{}, err
	}
	inv.Status = st
	if err := inv.Validate(); err != nil {
		return Invoice{}, err
	}
	return inv, nil
}
