package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"regexp"
	"strconv"
	"time"

	"fatture/internal/core"
	"fatture/internal/log"
	"fatture/internal/viewport"
	"fatture/internal/vlist"
)

var sessionIDPattern = regexp.MustCompile(`^[0-9a-f]{32}$`)

// handleHealth performs basic liveness check
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().Format(time.RFC3339),
		"uptime":    time.Since(s.metrics.started).Round(time.Second).String(),
	})
}

// handleReady performs readiness check with dependency verification
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	httpStatus := http.StatusOK
	checks := map[string]any{"templates": "ok"}

	if p, ok := s.store.(interface{ Ping(context.Context) error }); ok {
		if err := p.Ping(ctx); err != nil {
			checks["store"] = fmt.Sprintf("failed: %v", err)
			status = "not_ready"
			httpStatus = http.StatusServiceUnavailable
		} else {
			checks["store"] = "ok"
		}
	} else {
		checks["store"] = "ok"
	}

	checks["cache"] = map[string]any{"invoice_lists": s.lists.Size()}
	checks["viewport"] = map[string]any{"open_sessions": s.sessions.Len()}
	checks["rate_limiter"] = map[string]any{"active_clients": s.limiter.ActiveClients()}

	writeJSON(w, httpStatus, map[string]any{
		"status":    status,
		"timestamp": time.Now().Format(time.RFC3339),
		"checks":    checks,
	})
}

// handleMetrics provides application metrics in Prometheus text format
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
	w.WriteHeader(http.StatusOK)

	tm := s.tracer.Metrics()
	metric := func(name, typ, help string, value any) {
		fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s %s\n%s %v\n\n", name, help, name, typ, name, value)
	}
	metric("http_requests_total", "counter", "Total number of HTTP requests", tm.TotalRequests)
	metric("http_server_errors_total", "counter", "HTTP responses with a 5xx status", tm.ServerErrors)
	metric("http_response_time_avg_seconds", "gauge", "Average response time", tm.AverageResponseTime.Seconds())
	metric("invoices_created_total", "counter", "Invoices created through this server", s.metrics.invoicesCreated.Load())
	metric("invoices_updated_total", "counter", "Invoices edited through this server", s.metrics.invoicesUpdated.Load())
	metric("invoices_deleted_total", "counter", "Invoices deleted through this server", s.metrics.invoicesDeleted.Load())
	metric("invoice_cache_hits_total", "counter", "Invoice list cache hits", s.metrics.cacheHits.Load())
	metric("invoice_cache_misses_total", "counter", "Invoice list cache misses", s.metrics.cacheMisses.Load())
	metric("invoice_cache_entries", "gauge", "Cached invoice lists", s.lists.Size())
	metric("viewport_sessions", "gauge", "Open viewport sessions", s.sessions.Len())
	metric("suspicious_requests_total", "counter", "Requests rejected as scanner traffic", s.detector.SuspiciousCount())
	metric("rate_limit_clients", "gauge", "Clients tracked by the rate limiter", s.limiter.ActiveClients())
	metric("uptime_seconds", "gauge", "Application uptime in seconds", int64(time.Since(s.metrics.started).Seconds()))
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	data := struct {
		Statuses []core.Status
		Today    string
	}{
		Statuses: core.Statuses(),
		Today:    time.Now().Format("2006-01-02"),
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.templates.ExecuteTemplate(w, "index.html", data); err != nil {
		log.FromContext(r.Context()).ErrorContext(r.Context(), "Index template execution failed",
			log.FieldError, err,
			"template", "index.html")
	}
}

// handleOpenList opens a viewport session for the filter in the query and
// renders its first frame. A replace parameter names the session the
// fragment supersedes; it is closed first.
func (s *Server) handleOpenList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := log.FromContext(ctx)

	filter, err := ParseFilter(r.URL.Query())
	if err != nil {
		errorFragment(http.StatusBadRequest, "Filtro non valido").Write(w)
		return
	}
	if old := r.URL.Query().Get("replace"); sessionIDPattern.MatchString(old) {
		_ = s.sessions.Close(old)
	}

	items, err := s.loadInvoices(ctx, filter)
	if err != nil {
		logger.ErrorContext(ctx, "Invoice list load failed", log.FieldError, err, log.FieldFilter, filter.Key())
		errorFragment(http.StatusInternalServerError, "Errore caricando le fatture").Write(w)
		return
	}

	session, err := s.sessions.Open(filter)
	if err != nil {
		logger.ErrorContext(ctx, "Viewport session open failed", log.FieldError, err)
		errorFragment(http.StatusInternalServerError, "Errore aprendo l'elenco").Write(w)
		return
	}
	frame := session.Render(items)
	if frame.Empty {
		// No scroll container means no scroll requests; the next
		// invoices:changed reload opens a fresh session.
		_ = s.sessions.Close(session.ID)
	}

	logger.DebugContext(ctx, "Invoice list opened",
		log.NewFields().
			WithOperation(log.OpMount).
			WithWindow(frame.Window.Start, frame.Window.End, len(items)).
			ToSlice()...)

	s.writeFragment(w, r, "invoices.html", struct {
		Count  int
		Filter core.Filter
		List   template.HTML
	}{
		Count:  len(items),
		Filter: filter,
		List:   vlist.HTML(frame, scrollAttrs(session.ID)),
	})
}

// handleScroll records a session's scroll offset and answers with the frame
// at that offset.
func (s *Server) handleScroll(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := r.ParseForm(); err != nil {
		errorFragment(http.StatusBadRequest, "Formato richiesta non valido").Write(w)
		return
	}
	offset, err := ParseOffset(r.Form)
	if err != nil {
		errorFragment(http.StatusBadRequest, "Offset non valido").Write(w)
		return
	}

	session, err := s.sessions.Scroll(r.PathValue("id"), offset)
	if errors.Is(err, viewport.ErrSessionNotFound) {
		errorFragment(http.StatusNotFound, "Sessione scaduta").Write(w)
		return
	}
	if err != nil {
		errorFragment(http.StatusInternalServerError, "Errore di scorrimento").Write(w)
		return
	}

	items, err := s.loadInvoices(ctx, session.Filter)
	if err != nil {
		log.FromContext(ctx).ErrorContext(ctx, "Invoice list load failed", log.FieldError, err)
		errorFragment(http.StatusInternalServerError, "Errore caricando le fatture").Write(w)
		return
	}

	frame := session.Render(items)
	resp := newFragment().HTML(vlist.HTML(frame, scrollAttrs(session.ID)))
	if frame.Empty {
		// The list emptied under the client; have it reload the shell.
		resp.InvoicesChanged("")
	}
	resp.Write(w)
}

func (s *Server) handleCloseList(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.Close(r.PathValue("id")); err != nil {
		errorFragment(http.StatusNotFound, "Sessione non trovata").Write(w)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// handleCreateInvoice accepts a form post from the page or a JSON body from
// other clients.
func (s *Server) handleCreateInvoice(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := log.FromContext(ctx)

	parser := NewRequestBodyParser(r)
	if err := parser.Parse(); err != nil {
		errorFragment(http.StatusBadRequest, "Formato richiesta non valido").Write(w)
		return
	}

	inv, err := core.InvoiceFromRaw(parser.InvoiceFields())
	if err != nil {
		errorFragment(http.StatusUnprocessableEntity, "Dati non validi: " + err.Error()).Write(w)
		return
	}

	ref, err := s.store.SaveInvoice(ctx, inv)
	if err != nil {
		logger.ErrorContext(ctx, "Invoice save failed",
			log.FieldError, err,
			log.FieldMerchant, inv.Merchant,
			log.FieldTotalCents, inv.Total.Cents)
		errorFragment(http.StatusInternalServerError, "Errore nel salvataggio").Write(w)
		return
	}
	s.metrics.invoicesCreated.Add(1)
	s.InvalidateInvoices()

	if parser.IsJSON() {
		writeJSON(w, http.StatusCreated, map[string]string{"ref": ref})
		return
	}
	msg := fmt.Sprintf("Fattura registrata: %s, %s", inv.Merchant, inv.Total)
	newFragment().
		InvoicesChanged(ref).
		FormReset().
		Notify(noticeSuccess, msg).
		HTML(template.HTML(`<div class="success">` + template.HTMLEscapeString(msg) + `</div>`)).
		Write(w)
}

// handleUpdateInvoice changes the status or notes of one invoice. JSON
// clients get the typed fields back; the page gets a reload trigger.
func (s *Server) handleUpdateInvoice(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := log.FromContext(ctx)

	id, ok := invoiceID(r)
	if !ok {
		errorFragment(http.StatusBadRequest, "ID fattura non valido").Notify(noticeError, "ID fattura non valido").Write(w)
		return
	}
	parser := NewRequestBodyParser(r)
	if err := parser.Parse(); err != nil {
		errorFragment(http.StatusBadRequest, "Formato richiesta non valido").Write(w)
		return
	}
	patch, err := parser.InvoicePatch()
	if err != nil {
		msg := "Modifica non valida: " + err.Error()
		errorFragment(http.StatusUnprocessableEntity, msg).Notify(noticeError, msg).Write(w)
		return
	}

	inv, err := s.store.UpdateInvoice(ctx, id, patch)
	if errors.Is(err, core.ErrInvoiceNotFound) {
		errorFragment(http.StatusNotFound, "Fattura non trovata").Notify(noticeError, "Fattura non trovata").Write(w)
		return
	}
	if err != nil {
		logger.ErrorContext(ctx, "Invoice update failed", log.FieldError, err, log.FieldInvoiceID, id)
		errorFragment(http.StatusInternalServerError, "Errore nell'aggiornamento").Notify(noticeError, "Errore nell'aggiornamento").Write(w)
		return
	}
	s.metrics.invoicesUpdated.Add(1)
	s.InvalidateInvoices()

	if parser.IsJSON() {
		writeJSON(w, http.StatusOK, map[string]any{"id": id, "fields": core.InvoiceFields(inv)})
		return
	}
	newFragment().
		InvoicesChanged(strconv.FormatInt(id, 10)).
		Notify(noticeSuccess, fmt.Sprintf("Fattura aggiornata: %s, %s", inv.Merchant, inv.Status)).
		Write(w)
}

// handleDeleteInvoice removes one invoice. Open lists shrink on their next
// request.
func (s *Server) handleDeleteInvoice(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, ok := invoiceID(r)
	if !ok {
		errorFragment(http.StatusBadRequest, "ID fattura non valido").Notify(noticeError, "ID fattura non valido").Write(w)
		return
	}
	err := s.store.DeleteInvoice(ctx, id)
	if errors.Is(err, core.ErrInvoiceNotFound) {
		errorFragment(http.StatusNotFound, "Fattura non trovata").Notify(noticeError, "Fattura non trovata").Write(w)
		return
	}
	if err != nil {
		log.FromContext(ctx).ErrorContext(ctx, "Invoice delete failed", log.FieldError, err, log.FieldInvoiceID, id)
		errorFragment(http.StatusInternalServerError, "Errore nell'eliminazione").Notify(noticeError, "Errore nell'eliminazione").Write(w)
		return
	}
	s.metrics.invoicesDeleted.Add(1)
	s.InvalidateInvoices()

	if r.Header.Get("HX-Request") != "true" {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	newFragment().
		InvoicesChanged(strconv.FormatInt(id, 10)).
		Notify(noticeSuccess, "Fattura eliminata").
		Write(w)
}

func invoiceID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	return id, err == nil && id > 0
}

func (s *Server) writeFragment(w http.ResponseWriter, r *http.Request, name string, data any) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.templates.ExecuteTemplate(w, name, data); err != nil {
		log.FromContext(r.Context()).ErrorContext(r.Context(), "Template execution error",
			log.FieldError, err,
			"template", name)
	}
}

// scrollAttrs wires a list container to its session. The client script adds
// the container's scrollTop as offset; the response's inner element replaces
// the current one so the container keeps its scroll position.
func scrollAttrs(id string) template.HTMLAttr {
	return template.HTMLAttr(fmt.Sprintf(
		`data-session="%[1]s" hx-post="/ui/invoices/%[1]s/scroll" hx-trigger="scroll throttle:80ms" hx-target="find .vlist-inner" hx-select=".vlist-inner" hx-swap="outerHTML"`,
		id))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
