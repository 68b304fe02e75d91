// This file implements utilities for parsing and validating HTTP request data.

package http

import (
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"fatture/internal/core"
)

const (
	maxBodyBytes = 64 << 10
	maxQueryLen  = 100
)

var errMissingOffset = errors.New("missing offset")

// ParseFilter reads status and q from list query parameters. An empty or
// "all" status matches every invoice.
func ParseFilter(query url.Values) (core.Filter, error) {
	var f core.Filter
	if s := strings.TrimSpace(query.Get("status")); s != "" && !strings.EqualFold(s, "all") {
		st, err := core.ParseStatus(s)
		if err != nil {
			return core.Filter{}, err
		}
		f.Status = st
	}
	q := sanitizeInput(query.Get("q"))
	if len(q) > maxQueryLen {
		q = q[:maxQueryLen]
	}
	f.Query = q
	return f, nil
}

// ParseOffset reads the scroll offset a client reports. Browsers send
// fractional scrollTop values; they are rounded to whole pixels.
func ParseOffset(form url.Values) (int, error) {
	v := strings.TrimSpace(form.Get("offset"))
	if v == "" {
		return 0, errMissingOffset
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, errors.New("invalid offset: " + v)
	}
	if f > math.MaxInt32 {
		f = math.MaxInt32
	}
	return int(math.Round(f)), nil
}

// RequestBodyParser handles different content types for request body parsing.
// It supports both JSON and form-encoded data, commonly used with HTMX.
type RequestBodyParser struct {
	body     []byte
	jsonData map[string]any
	formData url.Values
	parsed   bool
	err      error
}

// NewRequestBodyParser creates a parser for the given request.
// It reads at most 64KiB of body once and stores it for subsequent parsing.
func NewRequestBodyParser(r *http.Request) *RequestBodyParser {
	p := &RequestBodyParser{}
	if r.Body == nil {
		return p
	}
	p.body, p.err = io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if p.err == nil && len(p.body) > maxBodyBytes {
		p.err = errors.New("request body too large")
	}
	return p
}

// Parse attempts to parse the body as JSON or form data.
func (p *RequestBodyParser) Parse() error {
	if p.parsed {
		return p.err
	}
	p.parsed = true

	if p.err != nil {
		return p.err
	}

	if len(p.body) == 0 {
		p.formData = url.Values{}
		return nil
	}

	if p.body[0] == '{' {
		p.jsonData = make(map[string]any)
		if err := json.Unmarshal(p.body, &p.jsonData); err != nil {
			p.err = err
			return err
		}
		return nil
	}

	p.formData, p.err = url.ParseQuery(string(p.body))
	return p.err
}

// Get returns a string value from the parsed data (JSON or form).
func (p *RequestBodyParser) Get(key string) string {
	if p.jsonData != nil {
		if val, ok := p.jsonData[key]; ok {
			return sanitizeInput(stringValue(val))
		}
		return ""
	}
	if p.formData != nil {
		return sanitizeInput(p.formData.Get(key))
	}
	return ""
}

// IsJSON returns true if the parsed content was JSON.
func (p *RequestBodyParser) IsJSON() bool {
	return p.jsonData != nil
}

// InvoiceFields collects the raw text of every invoice field for
// core.InvoiceFromRaw.
func (p *RequestBodyParser) InvoiceFields() map[string]string {
	raw := make(map[string]string, len(core.InvoiceSchema))
	for name := range core.InvoiceSchema {
		if v := p.Get(name); v != "" {
			raw[name] = v
		}
	}
	return raw
}

// InvoicePatch reads the editable fields present in the body. JSON bodies
// may carry typed values under "fields"; flat JSON and form bodies carry
// text. A present but empty field counts, so notes can be cleared.
func (p *RequestBodyParser) InvoicePatch() (core.InvoicePatch, error) {
	if _, ok := p.jsonData["fields"]; ok {
		var typed struct {
			Fields map[string]core.FieldValue `json:"fields"`
		}
		if err := json.Unmarshal(p.body, &typed); err != nil {
			return core.InvoicePatch{}, err
		}
		return core.PatchFromFields(typed.Fields)
	}

	raw := map[string]string{}
	if p.jsonData != nil {
		for key := range p.jsonData {
			raw[key] = p.Get(key)
		}
	} else {
		for key := range p.formData {
			raw[key] = p.Get(key)
		}
	}
	return core.PatchFromRaw(raw)
}

func stringValue(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	default:
		return ""
	}
}

// sanitizeInput removes control characters except tab, newline and carriage
// return, and trims whitespace.
func sanitizeInput(s string) string {
	return strings.Map(func(r rune) rune {
		if r < 32 && r != '\t' && r != '\n' && r != '\r' {
			return -1
		}
		return r
	}, strings.TrimSpace(s))
}
