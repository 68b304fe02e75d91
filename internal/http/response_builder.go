// Package http serves the invoice UI: the windowed invoice list driven by
// htmx scroll requests, the creation form and the health endpoints.
package http

import (
	"encoding/json"
	"html/template"
	"net/http"
	"time"
)

// Client-side events the server triggers.
const (
	EventInvoicesChanged  = "invoices:changed"
	EventFormReset        = "form:reset"
	EventShowNotification = "show-notification"
)

type notice string

const (
	noticeSuccess notice = "success"
	noticeError   notice = "error"
)

// How long app.js keeps each kind of notification on screen.
var noticeDuration = map[notice]time.Duration{
	noticeSuccess: 3 * time.Second,
	noticeError:   5 * time.Second,
}

// fragment is one htmx reply: a status, the events for HX-Trigger and an
// HTML body to swap in.
type fragment struct {
	status int
	events map[string]any
	body   template.HTML
}

func newFragment() *fragment {
	return &fragment{status: http.StatusOK, events: map[string]any{}}
}

// errorFragment is the escaped error message htmx swaps into the target.
func errorFragment(status int, msg string) *fragment {
	return newFragment().
		Status(status).
		HTML(template.HTML(`<div class="error">` + template.HTMLEscapeString(msg) + `</div>`))
}

func (f *fragment) Status(code int) *fragment {
	f.status = code
	return f
}

// Trigger adds an event; detail is its JSON payload.
func (f *fragment) Trigger(event string, detail any) *fragment {
	f.events[event] = detail
	return f
}

// InvoicesChanged makes every open list reload. ref is the backend
// reference of the invoice that changed, empty when unknown.
func (f *fragment) InvoicesChanged(ref string) *fragment {
	return f.Trigger(EventInvoicesChanged, map[string]string{"ref": ref})
}

func (f *fragment) FormReset() *fragment {
	return f.Trigger(EventFormReset, struct{}{})
}

func (f *fragment) Notify(kind notice, msg string) *fragment {
	return f.Trigger(EventShowNotification, map[string]any{
		"type":     string(kind),
		"message":  msg,
		"duration": noticeDuration[kind].Milliseconds(),
	})
}

func (f *fragment) HTML(body template.HTML) *fragment {
	f.body = body
	return f
}

func (f *fragment) Write(w http.ResponseWriter) {
	if len(f.events) > 0 {
		if events, err := json.Marshal(f.events); err == nil {
			w.Header().Set("HX-Trigger", string(events))
		}
	}
	if f.body != "" {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
	}
	w.WriteHeader(f.status)
	if f.body != "" {
		_, _ = w.Write([]byte(f.body))
	}
}
