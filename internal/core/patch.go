package core

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
)

var (
	ErrInvoiceNotFound  = errors.New("invoice not found")
	ErrFieldNotEditable = errors.New("field cannot be edited")
	ErrEmptyPatch       = errors.New("nothing to update")
)

// EditableFields names the fields an InvoicePatch can change. The rest of
// an invoice is what was printed on the receipt.
var EditableFields = []string{FieldNameStatus, FieldNameNotes}

// InvoicePatch changes a stored invoice. Nil fields are left alone.
type InvoicePatch struct {
	Status *Status
	Notes  *string
}

func (p InvoicePatch) IsEmpty() bool {
	return p.Status == nil && p.Notes == nil
}

func (p InvoicePatch) Validate() error {
	if p.IsEmpty() {
		return ErrEmptyPatch
	}
	if p.Status != nil {
		return p.Status.Validate()
	}
	return nil
}

// Apply returns inv with the patch applied.
func (p InvoicePatch) Apply(inv Invoice) Invoice {
	if p.Status != nil {
		inv.Status = *p.Status
	}
	if p.Notes != nil {
		inv.Notes = *p.Notes
	}
	return inv
}

// PatchFromRaw builds a patch from form text. A present but blank notes
// field clears the notes; a blank status is an error.
func PatchFromRaw(raw map[string]string) (InvoicePatch, error) {
	fields := make(map[string]FieldValue, len(raw))
	for name, text := range raw {
		typ, ok := InvoiceSchema[name]
		if !ok {
			return InvoicePatch{}, fmt.Errorf("%s: %w", name, ErrFieldNotEditable)
		}
		v, err := ParseFieldValue(typ, text)
		if err != nil {
			return InvoicePatch{}, fmt.Errorf("%s: %w", name, err)
		}
		fields[name] = v
	}
	return PatchFromFields(fields)
}

// PatchFromFields builds a patch from typed values. Fields outside
// EditableFields are rejected rather than ignored.
func PatchFromFields(fields map[string]FieldValue) (InvoicePatch, error) {
	var p InvoicePatch
	for _, name := range slices.Sorted(maps.Keys(fields)) {
		v := fields[name]
		s, ok := v.AsString()
		switch name {
		case FieldNameStatus:
			if !ok {
				return InvoicePatch{}, fmt.Errorf("%s: %w: want string, got %s", name, ErrInvalidFieldValue, v.Type)
			}
			if strings.TrimSpace(s) == "" {
				return InvoicePatch{}, fmt.Errorf("%s: %w", name, ErrInvalidStatus)
			}
			st, err := ParseStatus(s)
			if err != nil {
				return InvoicePatch{}, fmt.Errorf("%s: %w", name, err)
			}
			p.Status = &st
		case FieldNameNotes:
			if !ok {
				return InvoicePatch{}, fmt.Errorf("%s: %w: want string, got %s", name, ErrInvalidFieldValue, v.Type)
			}
			notes := strings.TrimSpace(s)
			p.Notes = &notes
		default:
			return InvoicePatch{}, fmt.Errorf("%s: %w", name, ErrFieldNotEditable)
		}
	}
	return p, p.Validate()
}

// InvoiceFields is the typed form of inv, keyed like InvoiceSchema. Empty
// optional text fields are left out.
func InvoiceFields(inv Invoice) map[string]FieldValue {
	out := map[string]FieldValue{
		FieldNameMerchant:     StringValue(inv.Merchant),
		FieldNamePurchaseDate: DateValue(inv.PurchaseDate),
		FieldNameTotal:        CurrencyValue(inv.Total),
		FieldNameStatus:       StringValue(string(inv.Status)),
	}
	for name, s := range map[string]string{
		FieldNameOrderNumber:   inv.OrderNumber,
		FieldNamePaymentMethod: inv.PaymentMethod,
		FieldNameCard:          inv.Card,
		FieldNameNotes:         inv.Notes,
	} {
		if s != "" {
			out[name] = StringValue(s)
		}
	}
	return out
}
