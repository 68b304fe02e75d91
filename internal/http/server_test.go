package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"fatture/internal/core"
	"fatture/internal/sheets/memory"
)

var sessionAttr = regexp.MustCompile(`data-session="([0-9a-f]{32})"`)

// countingStore counts list calls and can hold them until release is closed.
type countingStore struct {
	*memory.Store
	lists   atomic.Int64
	release chan struct{}
	listErr error
}

func (c *countingStore) ListInvoices(ctx context.Context, f core.Filter) ([]core.Invoice, error) {
	c.lists.Add(1)
	if c.release != nil {
		<-c.release
	}
	if c.listErr != nil {
		return nil, c.listErr
	}
	return c.Store.ListInvoices(ctx, f)
}

func seedInvoices(n int) []core.Invoice {
	out := make([]core.Invoice, n)
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := range out {
		status := core.StatusOpen
		if i%4 == 0 {
			status = core.StatusPaid
		}
		out[i] = core.Invoice{
			Merchant:     "Merchant " + string(rune('A'+i%26)),
			OrderNumber:  "ORD-" + strconv.Itoa(i),
			PurchaseDate: core.Date{Time: start.AddDate(0, 0, i)},
			Total:        core.Money{Cents: int64(100 + i)},
			Status:       status,
		}
	}
	return out
}

func newTestServer(t *testing.T, store *countingStore, mutate ...func(*Options)) *Server {
	t.Helper()
	opts := Options{
		Addr:           ":0",
		Store:          store,
		ListHeight:     600,
		ListItemHeight: 56,
		ListOverscan:   5,
		SessionTTL:     time.Minute,
		SessionMax:     16,
		CacheTTL:       time.Minute,
	}
	for _, m := range mutate {
		m(&opts)
	}
	srv, err := NewServer(opts)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	return srv
}

func do(srv *Server, method, target string, form url.Values) *httptest.ResponseRecorder {
	var req *http.Request
	if form != nil {
		req = httptest.NewRequest(method, target, strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rr := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rr, req)
	return rr
}

func openList(t *testing.T, srv *Server, query string) (string, string) {
	t.Helper()
	rr := do(srv, http.MethodGet, "/ui/invoices"+query, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("open list status=%d body=%s", rr.Code, rr.Body.String())
	}
	m := sessionAttr.FindStringSubmatch(rr.Body.String())
	if m == nil {
		t.Fatalf("no session in body: %s", rr.Body.String())
	}
	return m[1], rr.Body.String()
}

func TestNewServer_RequiresStore(t *testing.T) {
	if _, err := NewServer(Options{ListHeight: 600, ListItemHeight: 56}); err == nil {
		t.Fatal("expected error without store")
	}
	store := &countingStore{Store: memory.New(nil)}
	if _, err := NewServer(Options{Store: store, ListHeight: 600}); err == nil {
		t.Fatal("expected error for zero item height")
	}
}

func TestIndexAndHealth(t *testing.T) {
	srv := newTestServer(t, &countingStore{Store: memory.New(nil)})

	rr := do(srv, http.MethodGet, "/", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("index status=%d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "Registra Fattura") {
		t.Fatalf("index body missing heading")
	}
	if rr.Header().Get("Content-Security-Policy") == "" || rr.Header().Get("X-Request-ID") == "" {
		t.Errorf("missing security or trace headers: %v", rr.Header())
	}

	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		rr := do(srv, http.MethodGet, path, nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("%s status=%d", path, rr.Code)
		}
	}

	if rr := do(srv, http.MethodGet, "/nope", nil); rr.Code != http.StatusNotFound {
		t.Errorf("unknown path status=%d", rr.Code)
	}
	if rr := do(srv, http.MethodGet, "/.env", nil); rr.Code != http.StatusNotFound {
		t.Errorf("scanner path status=%d", rr.Code)
	}
}

func TestReady_StoreFailure(t *testing.T) {
	srv := newTestServer(t, &countingStore{Store: memory.New(nil)})
	srv.store = pingStore{countingStore: &countingStore{Store: memory.New(nil)}, err: errors.New("db gone")}

	rr := do(srv, http.MethodGet, "/readyz", nil)
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("readyz status=%d", rr.Code)
	}
	var body struct {
		Status string         `json:"status"`
		Checks map[string]any `json:"checks"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Status != "not_ready" || !strings.Contains(body.Checks["store"].(string), "db gone") {
		t.Errorf("unexpected readiness body: %s", rr.Body.String())
	}
}

type pingStore struct {
	*countingStore
	err error
}

func (p pingStore) Ping(context.Context) error { return p.err }

func TestOpenList_RendersFirstWindow(t *testing.T) {
	srv := newTestServer(t, &countingStore{Store: memory.New(seedInvoices(100))})

	id, body := openList(t, srv, "")

	if !strings.Contains(body, "100 fatture") {
		t.Errorf("missing count: %s", body)
	}
	if !strings.Contains(body, `class="vlist overflow-auto invoice-list"`) {
		t.Errorf("missing container: %s", body)
	}
	if !strings.Contains(body, `hx-post="/ui/invoices/`+id+`/scroll"`) {
		t.Errorf("missing scroll wiring")
	}
	// 600/56 = 10 visible plus 5 overscan below the top row.
	if got := strings.Count(body, `class="vlist-row"`); got != 16 {
		t.Errorf("rows = %d, want 16", got)
	}
	if !strings.Contains(body, "height: 5600px") {
		t.Errorf("missing total height")
	}
	if srv.sessions.Len() != 1 {
		t.Errorf("sessions = %d, want 1", srv.sessions.Len())
	}
}

func TestScroll(t *testing.T) {
	srv := newTestServer(t, &countingStore{Store: memory.New(seedInvoices(100))})
	id, _ := openList(t, srv, "")

	rr := do(srv, http.MethodPost, "/ui/invoices/"+id+"/scroll", url.Values{"offset": {"1750"}})
	if rr.Code != http.StatusOK {
		t.Fatalf("scroll status=%d body=%s", rr.Code, rr.Body.String())
	}
	body := rr.Body.String()
	// start = 1750/56 - 5 = 26, end = 2350/56 + 5 = 46
	if got := strings.Count(body, `class="vlist-row"`); got != 21 {
		t.Errorf("rows = %d, want 21", got)
	}
	if !strings.Contains(body, `data-index="26"`) || strings.Contains(body, `data-index="25"`) {
		t.Errorf("unexpected window: %s", body)
	}
	if !strings.Contains(body, `data-offset="1750"`) {
		t.Errorf("offset not recorded")
	}

	t.Run("bad offset", func(t *testing.T) {
		rr := do(srv, http.MethodPost, "/ui/invoices/"+id+"/scroll", url.Values{"offset": {"x"}})
		if rr.Code != http.StatusBadRequest {
			t.Errorf("status=%d", rr.Code)
		}
	})

	t.Run("unknown session", func(t *testing.T) {
		rr := do(srv, http.MethodPost, "/ui/invoices/"+strings.Repeat("0", 32)+"/scroll", url.Values{"offset": {"0"}})
		if rr.Code != http.StatusNotFound {
			t.Errorf("status=%d", rr.Code)
		}
	})
}

func TestCloseList(t *testing.T) {
	srv := newTestServer(t, &countingStore{Store: memory.New(seedInvoices(10))})
	id, _ := openList(t, srv, "")

	if rr := do(srv, http.MethodDelete, "/ui/invoices/"+id, nil); rr.Code != http.StatusOK {
		t.Fatalf("delete status=%d", rr.Code)
	}
	if srv.sessions.Len() != 0 {
		t.Errorf("session still open")
	}
	if rr := do(srv, http.MethodDelete, "/ui/invoices/"+id, nil); rr.Code != http.StatusNotFound {
		t.Errorf("second delete status=%d", rr.Code)
	}
	if rr := do(srv, http.MethodPost, "/ui/invoices/"+id+"/scroll", url.Values{"offset": {"0"}}); rr.Code != http.StatusNotFound {
		t.Errorf("scroll after close status=%d", rr.Code)
	}
}

func TestOpenList_ReplaceClosesPrevious(t *testing.T) {
	srv := newTestServer(t, &countingStore{Store: memory.New(seedInvoices(10))})
	first, _ := openList(t, srv, "")
	second, _ := openList(t, srv, "?replace="+first)

	if first == second {
		t.Fatal("expected a new session")
	}
	if srv.sessions.Len() != 1 {
		t.Errorf("sessions = %d, want 1", srv.sessions.Len())
	}
}

func TestOpenList_EmptyAndFiltered(t *testing.T) {
	t.Run("empty store", func(t *testing.T) {
		srv := newTestServer(t, &countingStore{Store: memory.New(nil)})
		rr := do(srv, http.MethodGet, "/ui/invoices", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("status=%d", rr.Code)
		}
		if !strings.Contains(rr.Body.String(), "Nessuna fattura da mostrare") {
			t.Errorf("missing empty message: %s", rr.Body.String())
		}
		if strings.Contains(rr.Body.String(), "vlist-row") {
			t.Errorf("empty state must not render rows")
		}
		if srv.sessions.Len() != 0 {
			t.Errorf("empty list should not keep a session")
		}
	})

	t.Run("status filter", func(t *testing.T) {
		srv := newTestServer(t, &countingStore{Store: memory.New(seedInvoices(100))})
		_, body := openList(t, srv, "?status=paid")
		if !strings.Contains(body, "25 fatture") {
			t.Errorf("expected 25 paid invoices: %s", body)
		}
	})

	t.Run("bad status", func(t *testing.T) {
		srv := newTestServer(t, &countingStore{Store: memory.New(nil)})
		if rr := do(srv, http.MethodGet, "/ui/invoices?status=lost", nil); rr.Code != http.StatusBadRequest {
			t.Errorf("status=%d", rr.Code)
		}
	})

	t.Run("store failure", func(t *testing.T) {
		srv := newTestServer(t, &countingStore{Store: memory.New(nil), listErr: errors.New("boom")})
		if rr := do(srv, http.MethodGet, "/ui/invoices", nil); rr.Code != http.StatusInternalServerError {
			t.Errorf("status=%d", rr.Code)
		}
	})
}

func TestCreateInvoice(t *testing.T) {
	store := &countingStore{Store: memory.New(seedInvoices(3))}
	srv := newTestServer(t, store)

	_, body := openList(t, srv, "")
	if !strings.Contains(body, "3 fatture") {
		t.Fatalf("unexpected initial list: %s", body)
	}

	form := url.Values{
		"merchant":      {"Libreria <Rossi>"},
		"purchase_date": {"2024-06-01"},
		"total":         {"12,50"},
	}
	rr := do(srv, http.MethodPost, "/invoices", form)
	if rr.Code != http.StatusOK {
		t.Fatalf("create status=%d body=%s", rr.Code, rr.Body.String())
	}
	if !strings.Contains(rr.Header().Get("HX-Trigger"), EventInvoicesChanged) {
		t.Errorf("missing invoices:changed trigger: %q", rr.Header().Get("HX-Trigger"))
	}
	if !strings.Contains(rr.Body.String(), "Libreria &lt;Rossi&gt;") {
		t.Errorf("merchant not escaped: %s", rr.Body.String())
	}

	_, body = openList(t, srv, "")
	if !strings.Contains(body, "4 fatture") {
		t.Errorf("cache not invalidated after create: %s", body)
	}

	t.Run("validation error", func(t *testing.T) {
		rr := do(srv, http.MethodPost, "/invoices", url.Values{"merchant": {"X"}, "total": {"abc"}})
		if rr.Code != http.StatusUnprocessableEntity {
			t.Errorf("status=%d", rr.Code)
		}
	})

	t.Run("json client", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/invoices",
			strings.NewReader(`{"merchant":"Amazon","purchase_date":"2024-06-02","total":"9.99","status":"Paid"}`))
		req.Header.Set("Content-Type", "application/json")
		rr := httptest.NewRecorder()
		srv.Handler.ServeHTTP(rr, req)
		if rr.Code != http.StatusCreated {
			t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
		}
		var got map[string]string
		if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil || got["ref"] == "" {
			t.Errorf("unexpected body %s (%v)", rr.Body.String(), err)
		}
	})
}

func TestUpdateInvoice_ReRendersOpenList(t *testing.T) {
	store := &countingStore{Store: memory.New(seedInvoices(100))}
	srv := newTestServer(t, store)
	id, body := openList(t, srv, "")
	if strings.Contains(body, "status-Refunded") {
		t.Fatalf("no invoice should start refunded")
	}

	// Row 0 is the newest invoice, ID 100.
	rr := do(srv, http.MethodPatch, "/invoices/100", url.Values{"status": {"refunded"}, "notes": {"reso"}})
	if rr.Code != http.StatusOK {
		t.Fatalf("patch status=%d body=%s", rr.Code, rr.Body.String())
	}
	trigger := rr.Header().Get("HX-Trigger")
	if !strings.Contains(trigger, EventInvoicesChanged) || !strings.Contains(trigger, EventShowNotification) {
		t.Errorf("unexpected HX-Trigger: %q", trigger)
	}

	rr = do(srv, http.MethodPost, "/ui/invoices/"+id+"/scroll", url.Values{"offset": {"0"}})
	if rr.Code != http.StatusOK {
		t.Fatalf("scroll status=%d", rr.Code)
	}
	body = rr.Body.String()
	if got := strings.Count(body, "status-Refunded"); got != 1 {
		t.Errorf("refunded rows = %d, want 1: %s", got, body)
	}
	if !strings.Contains(body, `<option value="Refunded" selected>`) {
		t.Errorf("status select not updated: %s", body)
	}

	invs, err := store.ListInvoices(context.Background(), core.Filter{})
	if err != nil || invs[0].ID != 100 || invs[0].Notes != "reso" {
		t.Errorf("stored invoice = %+v, %v", invs[0], err)
	}
}

func TestUpdateInvoice_JSONClient(t *testing.T) {
	srv := newTestServer(t, &countingStore{Store: memory.New(seedInvoices(3))})

	req := httptest.NewRequest(http.MethodPatch, "/invoices/2",
		strings.NewReader(`{"fields":{"status":{"type":"string","value":"Cancelled"}}}`))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	var got struct {
		ID     int64                      `json:"id"`
		Fields map[string]core.FieldValue `json:"fields"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode %s: %v", rr.Body.String(), err)
	}
	if st, _ := got.Fields[core.FieldNameStatus].AsString(); got.ID != 2 || st != "Cancelled" {
		t.Errorf("unexpected body %s", rr.Body.String())
	}
	if total, ok := got.Fields[core.FieldNameTotal].AsCurrency(); !ok || total.Cents != 101 {
		t.Errorf("total = %v, %v", total, ok)
	}

	t.Run("flat keys", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPatch, "/invoices/1", strings.NewReader(`{"notes":"pagata in contanti"}`))
		rr := httptest.NewRecorder()
		srv.Handler.ServeHTTP(rr, req)
		if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "pagata in contanti") {
			t.Errorf("status=%d body=%s", rr.Code, rr.Body.String())
		}
	})
}

func TestUpdateInvoice_Errors(t *testing.T) {
	srv := newTestServer(t, &countingStore{Store: memory.New(seedInvoices(3))})

	tests := []struct {
		name   string
		target string
		form   url.Values
		want   int
	}{
		{"unknown invoice", "/invoices/99", url.Values{"status": {"Paid"}}, http.StatusNotFound},
		{"bad id", "/invoices/abc", url.Values{"status": {"Paid"}}, http.StatusBadRequest},
		{"zero id", "/invoices/0", url.Values{"status": {"Paid"}}, http.StatusBadRequest},
		{"bad status", "/invoices/1", url.Values{"status": {"lost"}}, http.StatusUnprocessableEntity},
		{"printed field", "/invoices/1", url.Values{"total": {"1,00"}}, http.StatusUnprocessableEntity},
		{"empty patch", "/invoices/1", url.Values{}, http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := do(srv, http.MethodPatch, tt.target, tt.form)
			if rr.Code != tt.want {
				t.Errorf("status=%d, want %d body=%s", rr.Code, tt.want, rr.Body.String())
			}
			if !strings.Contains(rr.Header().Get("HX-Trigger"), `"type":"error"`) {
				t.Errorf("missing error notification: %q", rr.Header().Get("HX-Trigger"))
			}
		})
	}
}

func TestDeleteInvoice_ShrinksOpenList(t *testing.T) {
	srv := newTestServer(t, &countingStore{Store: memory.New(seedInvoices(100))},
		func(o *Options) { o.PostsPerMinute = 1000 })
	id, _ := openList(t, srv, "")

	if rr := do(srv, http.MethodPost, "/ui/invoices/"+id+"/scroll", url.Values{"offset": {"5000"}}); rr.Code != http.StatusOK {
		t.Fatalf("scroll status=%d", rr.Code)
	}

	for n := 11; n <= 100; n++ {
		req := httptest.NewRequest(http.MethodDelete, "/invoices/"+strconv.Itoa(n), nil)
		req.Header.Set("HX-Request", "true")
		rr := httptest.NewRecorder()
		srv.Handler.ServeHTTP(rr, req)
		if rr.Code != http.StatusOK {
			t.Fatalf("delete %d status=%d body=%s", n, rr.Code, rr.Body.String())
		}
		if n == 11 && !strings.Contains(rr.Header().Get("HX-Trigger"), EventInvoicesChanged) {
			t.Errorf("missing invoices:changed trigger: %q", rr.Header().Get("HX-Trigger"))
		}
	}

	// The old offset now lies past the end: the window clamps to the last
	// item.
	rr := do(srv, http.MethodPost, "/ui/invoices/"+id+"/scroll", url.Values{"offset": {"5000"}})
	if rr.Code != http.StatusOK {
		t.Fatalf("scroll status=%d", rr.Code)
	}
	body := rr.Body.String()
	if got := strings.Count(body, `class="vlist-row"`); got != 1 {
		t.Errorf("rows = %d, want 1: %s", got, body)
	}
	if !strings.Contains(body, `data-index="9"`) || !strings.Contains(body, "height: 560px") {
		t.Errorf("unexpected frame: %s", body)
	}

	t.Run("twice", func(t *testing.T) {
		if rr := do(srv, http.MethodDelete, "/invoices/50", nil); rr.Code != http.StatusNotFound {
			t.Errorf("status=%d", rr.Code)
		}
	})

	t.Run("plain client", func(t *testing.T) {
		if rr := do(srv, http.MethodDelete, "/invoices/1", nil); rr.Code != http.StatusNoContent {
			t.Errorf("status=%d", rr.Code)
		}
		_, body := openList(t, srv, "")
		if !strings.Contains(body, "9 fatture") {
			t.Errorf("cache not invalidated after delete: %s", body)
		}
	})
}

func TestCreateInvoice_RateLimited(t *testing.T) {
	srv := newTestServer(t, &countingStore{Store: memory.New(nil)}, func(o *Options) { o.PostsPerMinute = 1 })
	form := url.Values{"merchant": {"A"}, "purchase_date": {"2024-06-01"}, "total": {"1"}}

	if rr := do(srv, http.MethodPost, "/invoices", form); rr.Code != http.StatusOK {
		t.Fatalf("first status=%d", rr.Code)
	}
	rr := do(srv, http.MethodPost, "/invoices", form)
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("second status=%d", rr.Code)
	}
	if rr.Header().Get("Retry-After") == "" {
		t.Error("missing Retry-After")
	}
}

func TestLoadInvoices_Cache(t *testing.T) {
	store := &countingStore{Store: memory.New(seedInvoices(5))}
	srv := newTestServer(t, store)
	ctx := context.Background()

	for range 3 {
		if _, err := srv.loadInvoices(ctx, core.Filter{}); err != nil {
			t.Fatal(err)
		}
	}
	if got := store.lists.Load(); got != 1 {
		t.Errorf("store list calls = %d, want 1", got)
	}

	if _, err := srv.loadInvoices(ctx, core.Filter{Status: core.StatusPaid}); err != nil {
		t.Fatal(err)
	}
	if got := store.lists.Load(); got != 2 {
		t.Errorf("a different filter should miss, calls = %d", got)
	}

	srv.InvalidateInvoices()
	if _, err := srv.loadInvoices(ctx, core.Filter{}); err != nil {
		t.Fatal(err)
	}
	if got := store.lists.Load(); got != 3 {
		t.Errorf("invalidation should force a reload, calls = %d", got)
	}
}

func TestLoadInvoices_CoalescesConcurrentMisses(t *testing.T) {
	store := &countingStore{Store: memory.New(seedInvoices(5)), release: make(chan struct{})}
	srv := newTestServer(t, store)

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			items, err := srv.loadInvoices(context.Background(), core.Filter{})
			if err != nil || len(items) != 5 {
				t.Errorf("loadInvoices() = %d items, %v", len(items), err)
			}
		}()
	}

	deadline := time.Now().Add(2 * time.Second)
	for store.lists.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	time.Sleep(20 * time.Millisecond)
	close(store.release)
	wg.Wait()

	if got := store.lists.Load(); got != 1 {
		t.Errorf("store list calls = %d, want 1", got)
	}
}

func TestShutdownClosesSessions(t *testing.T) {
	srv := newTestServer(t, &countingStore{Store: memory.New(seedInvoices(10))})
	openList(t, srv, "")
	openList(t, srv, "?q=merchant")

	if err := srv.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if srv.sessions.Len() != 0 {
		t.Errorf("sessions = %d after shutdown", srv.sessions.Len())
	}
}

func TestCleaners(t *testing.T) {
	srv := newTestServer(t, &countingStore{Store: memory.New(nil)})
	got := srv.Cleaners()
	for _, name := range []string{"invoice_lists", "viewport_sessions", "rate_limit"} {
		if got[name] == nil {
			t.Errorf("missing cleaner %q", name)
		}
	}
}
