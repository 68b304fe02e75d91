package http

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"fatture/internal/cache"
	"fatture/internal/core"
	"fatture/internal/log"
	"fatture/internal/middleware/ratelimit"
	"fatture/internal/middleware/security"
	"fatture/internal/middleware/trace"
	ports "fatture/internal/sheets"
	"fatture/internal/viewport"
	"fatture/internal/vlist"
	appweb "fatture/web"
)

const (
	listCacheSize = 64
	loadTimeout   = 7 * time.Second
)

// Options configures a Server.
type Options struct {
	Addr  string
	Store ports.InvoiceStore

	// List geometry in pixels.
	ListHeight     int
	ListItemHeight int
	ListOverscan   int

	SessionTTL time.Duration
	SessionMax int
	CacheTTL   time.Duration

	// PostsPerMinute limits invoice writes per client; zero uses the
	// limiter's default.
	PostsPerMinute int

	Logger *log.Logger
}

type appMetrics struct {
	started         time.Time
	invoicesCreated atomic.Int64
	invoicesUpdated atomic.Int64
	invoicesDeleted atomic.Int64
	cacheHits       atomic.Int64
	cacheMisses     atomic.Int64
}

// Server serves the invoice UI.
type Server struct {
	http.Server

	templates *template.Template
	store     ports.InvoiceStore
	sessions  *viewport.Registry
	logger    *log.Logger

	// Invoice lists per filter. loads coalesces concurrent misses of one
	// generation; gen is bumped on invalidation so a load that started
	// before it neither serves later callers nor stays cached.
	lists *cache.LRUCache[[]core.Invoice]
	loads singleflight.Group
	gen   atomic.Uint64

	limiter  *ratelimit.Limiter
	detector *security.Detector
	tracer   *trace.Middleware
	metrics  appMetrics
}

// NewServer parses the embedded templates, configures routes and returns a
// ready-to-run server.
func NewServer(opts Options) (*Server, error) {
	if opts.Store == nil {
		return nil, errors.New("http: server needs an invoice store")
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Discard()
	}
	logger = logger.WithComponent(log.ComponentHTTP)

	t, err := template.ParseFS(appweb.TemplatesFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}

	s := &Server{
		templates: t,
		store:     opts.Store,
		logger:    logger,
		lists:     cache.NewLRUCache[[]core.Invoice](listCacheSize, opts.CacheTTL),
		limiter:   ratelimit.NewLimiter(ratelimit.Config{RequestsPerMinute: opts.PostsPerMinute}),
		detector:  security.NewDetector(),
	}
	s.metrics.started = time.Now()
	s.tracer = trace.NewMiddleware(logger, s.detector.ClientIP)

	s.sessions, err = viewport.NewRegistry(viewport.Options{
		Height:     opts.ListHeight,
		ItemHeight: opts.ListItemHeight,
		Overscan:   opts.ListOverscan,
		TTL:        opts.SessionTTL,
		MaxOpen:    opts.SessionMax,
		Monitor:    vlist.NewLogMonitor(logger),
	}, s.renderRow, logger)
	if err != nil {
		return nil, fmt.Errorf("invoice list: %w", err)
	}

	s.Server = http.Server{
		Addr:              opts.Addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	if sub, err := fs.Sub(appweb.StaticFS, "static"); err == nil {
		static := http.StripPrefix("/static/", http.FileServer(http.FS(sub)))
		mux.Handle("GET /static/", security.StaticAssetMiddleware(3600)(static))
	} else {
		s.logger.Warn("Failed to mount embedded static FS", log.FieldError, err)
	}

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)
	mux.HandleFunc("GET /metrics", s.handleMetrics)

	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("GET /ui/invoices", s.handleOpenList)
	mux.HandleFunc("POST /ui/invoices/{id}/scroll", s.handleScroll)
	mux.HandleFunc("DELETE /ui/invoices/{id}", s.handleCloseList)

	limited := s.limiter.Middleware(s.detector.ClientIP)
	mux.Handle("POST /invoices", limited(http.HandlerFunc(s.handleCreateInvoice)))
	mux.Handle("PATCH /invoices/{id}", limited(http.HandlerFunc(s.handleUpdateInvoice)))
	mux.Handle("DELETE /invoices/{id}", limited(http.HandlerFunc(s.handleDeleteInvoice)))

	var h http.Handler = mux
	h = s.detector.Middleware(h)
	h = security.Headers(security.DefaultHeadersConfig())(h)
	h = s.tracer.Handler(h)
	return h
}

// Cleaners returns the caches that need periodic sweeping, keyed by name,
// for a cache.Manager.
func (s *Server) Cleaners() map[string]cache.Cleaner {
	return map[string]cache.Cleaner{
		"invoice_lists":     s.lists,
		"viewport_sessions": s.sessions.Sessions(),
		"rate_limit":        s.limiter,
	}
}

// InvalidateInvoices drops every cached invoice list. Open sessions pick up
// the change on their next request.
func (s *Server) InvalidateInvoices() {
	s.gen.Add(1)
	if n := s.lists.Purge(); n > 0 {
		s.logger.Debug("Invoice list cache invalidated", "entries", n)
	}
}

// Shutdown stops accepting requests, then unmounts every open list.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.Server.Shutdown(ctx)
	if n := s.sessions.CloseAll(); n > 0 {
		s.logger.Info("Viewport sessions closed", log.FieldOperation, log.OpShutdown, "count", n)
	}
	return err
}

// loadInvoices returns the invoices for f, from cache when fresh.
func (s *Server) loadInvoices(ctx context.Context, f core.Filter) ([]core.Invoice, error) {
	key := f.Key()
	if items, ok := s.lists.Get(key); ok {
		s.metrics.cacheHits.Add(1)
		return items, nil
	}
	s.metrics.cacheMisses.Add(1)

	gen := s.gen.Load()
	v, err, shared := s.loads.Do(fmt.Sprintf("%s#%d", key, gen), func() (any, error) {
		// Callers share this load, so one of them going away must not
		// cancel it for the rest.
		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), loadTimeout)
		defer cancel()

		items, err := s.store.ListInvoices(lctx, f)
		if err != nil {
			return nil, fmt.Errorf("list invoices (filter=%s): %w", key, err)
		}
		s.lists.Set(key, items)
		if s.gen.Load() != gen {
			s.lists.Delete(key)
		}
		return items, nil
	})
	if err != nil {
		return nil, err
	}
	log.FromContext(ctx).DebugContext(ctx, "Invoices loaded",
		log.FieldFilter, key,
		log.FieldItems, len(v.([]core.Invoice)),
		"shared", shared)
	return v.([]core.Invoice), nil
}

type invoiceRowView struct {
	Odd      bool
	Date     string
	Status   string
	Statuses []core.Status
	core.Invoice
}

// renderRow is the list's render function: one invoice, one row fragment.
func (s *Server) renderRow(inv core.Invoice, index int) template.HTML {
	var buf bytes.Buffer
	view := invoiceRowView{Odd: index%2 == 1, Date: inv.PurchaseDate.Format("02/01/2006"), Status: string(inv.Status), Statuses: core.Statuses(), Invoice: inv}
	if err := s.templates.ExecuteTemplate(&buf, "invoice_row", view); err != nil {
		s.logger.Error("Invoice row template failed",
			log.FieldError, err,
			log.FieldInvoiceID, inv.ID,
			log.FieldComponent, log.ComponentTemplate)
		return template.HTML(template.HTMLEscapeString(inv.Merchant))
	}
	return template.HTML(buf.String())
}
