package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// FieldType tags the payload carried by a FieldValue. Invoice fields are
// text, dates or amounts.
type FieldType string

const (
	FieldString   FieldType = "string"
	FieldDate     FieldType = "date"
	FieldCurrency FieldType = "currency"
)

var (
	ErrInvalidFieldValue = errors.New("invalid field value")
	ErrUnknownFieldType  = errors.New("unknown field type")
)

// FieldValue holds exactly one typed payload, selected by Type.
// Build it with ParseFieldValue or the typed constructors.
type FieldValue struct {
	Type FieldType

	str   string
	date  Date
	money Money
}

func StringValue(s string) FieldValue  { return FieldValue{Type: FieldString, str: s} }
func DateValue(d Date) FieldValue      { return FieldValue{Type: FieldDate, date: d} }
func CurrencyValue(m Money) FieldValue { return FieldValue{Type: FieldCurrency, money: m} }

func (v FieldValue) AsString() (string, bool)  { return v.str, v.Type == FieldString }
func (v FieldValue) AsDate() (Date, bool)      { return v.date, v.Type == FieldDate }
func (v FieldValue) AsCurrency() (Money, bool) { return v.money, v.Type == FieldCurrency }

// ParseFieldValue converts raw text into a value of the given type.
func ParseFieldValue(t FieldType, raw string) (FieldValue, error) {
	raw = strings.TrimSpace(raw)
	switch t {
	case FieldString:
		return StringValue(raw), nil
	case FieldDate:
		d, err := ParseDate(raw)
		if err != nil {
			return FieldValue{}, fmt.Errorf("%w: %v", ErrInvalidFieldValue, err)
		}
		return DateValue(d), nil
	case FieldCurrency:
		cents, err := ParseDecimalToCents(strings.TrimLeft(strings.TrimPrefix(raw, "€"), "$ "))
		if err != nil {
			return FieldValue{}, fmt.Errorf("%w: currency %q", ErrInvalidFieldValue, raw)
		}
		return CurrencyValue(Money{Cents: cents}), nil
	default:
		return FieldValue{}, fmt.Errorf("%w: %q", ErrUnknownFieldType, t)
	}
}

type fieldJSON struct {
	Type  FieldType       `json:"type"`
	Value json.RawMessage `json:"value"`
}

// MarshalJSON encodes the value as {"type": ..., "value": ...}. Currency
// values are cents.
func (v FieldValue) MarshalJSON() ([]byte, error) {
	var payload any
	switch v.Type {
	case FieldString:
		payload = v.str
	case FieldDate:
		payload = v.date.String()
	case FieldCurrency:
		payload = v.money.Cents
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFieldType, v.Type)
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(fieldJSON{Type: v.Type, Value: raw})
}

// UnmarshalJSON decodes the {"type": ..., "value": ...} form.
func (v *FieldValue) UnmarshalJSON(data []byte) error {
	var fj fieldJSON
	if err := json.Unmarshal(data, &fj); err != nil {
		return err
	}
	out := FieldValue{Type: fj.Type}
	var err error
	switch fj.Type {
	case FieldString:
		err = json.Unmarshal(fj.Value, &out.str)
	case FieldDate:
		var s string
		if err = json.Unmarshal(fj.Value, &s); err == nil {
			out.date, err = ParseDate(s)
		}
	case FieldCurrency:
		err = json.Unmarshal(fj.Value, &out.money.Cents)
		if err == nil && out.money.Cents < 0 {
			err = ErrInvalidAmount
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownFieldType, fj.Type)
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidFieldValue, err)
	}
	*v = out
	return nil
}
