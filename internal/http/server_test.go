package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"ledger/internal/auth"
	"ledger/internal/core"
	"ledger/internal/ledger"
	"ledger/internal/settings"
	"ledger/internal/store/memory"
)

var fixedNow = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

type fakeSheets struct {
	got []core.Transaction
	err error
}

func (f *fakeSheets) Export(_ context.Context, txs []core.Transaction) (string, error) {
	f.got = txs
	return "Export!A1:F", f.err
}

type testEnv struct {
	srv   *Server
	st    *memory.Store
	hub   *Hub
	token string
}

func newTestEnv(t *testing.T, mutate func(*Deps)) *testEnv {
	t.Helper()
	st := memory.New()
	issuer, err := auth.NewIssuer("test-secret", time.Hour)
	if err != nil {
		t.Fatalf("NewIssuer: %v", err)
	}
	hub := NewHub(nil)
	reg := ledger.NewRegistry(st, ledger.Options{
		Now:      func() time.Time { return fixedNow },
		Notifier: hub,
	}, 10, time.Minute)

	deps := Deps{
		Ledgers:            reg,
		Settings:           settings.NewService(st),
		Auth:               issuer,
		Hub:                hub,
		RateLimitPerMinute: 1000,
		Now:                func() time.Time { return fixedNow },
	}
	if mutate != nil {
		mutate(&deps)
	}
	srv := NewServer(":0", deps)
	t.Cleanup(func() { srv.Shutdown(context.Background()) })

	token, err := issuer.GenerateToken("u1")
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	return &testEnv{srv: srv, st: st, hub: hub, token: token}
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if e.token != "" {
		req.Header.Set("Authorization", "Bearer "+e.token)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	e.srv.Handler.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rr.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rr.Body.String(), err)
	}
	return v
}

func TestHealthAndReady(t *testing.T) {
	failing := true
	env := newTestEnv(t, func(d *Deps) {
		d.Ready = []ReadinessCheck{{Name: "store", Check: func(context.Context) error {
			if failing {
				return errors.New("unreachable")
			}
			return nil
		}}}
	})

	rr := env.do(t, http.MethodGet, "/healthz", "")
	if rr.Code != http.StatusOK || rr.Body.String() != "ok" {
		t.Fatalf("healthz = %d %q", rr.Code, rr.Body.String())
	}
	if rr.Header().Get("X-Request-ID") == "" {
		t.Errorf("missing request id header")
	}
	if rr.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Errorf("missing security headers")
	}

	rr = env.do(t, http.MethodGet, "/readyz", "")
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("readyz with failing check = %d", rr.Code)
	}
	if got := decode[readyResponse](t, rr); got.Checks["store"] != "unreachable" {
		t.Errorf("unexpected readiness body %+v", got)
	}

	failing = false
	rr = env.do(t, http.MethodGet, "/readyz", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("readyz = %d", rr.Code)
	}
}

func TestAPIRequiresToken(t *testing.T) {
	env := newTestEnv(t, nil)
	env.token = ""
	rr := env.do(t, http.MethodGet, "/api/v1/transactions", "")
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}

	env.token = "not-a-jwt"
	rr = env.do(t, http.MethodGet, "/api/v1/transactions", "")
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad token, got %d", rr.Code)
	}
}

func TestTransactionLifecycle(t *testing.T) {
	env := newTestEnv(t, nil)

	rr := env.do(t, http.MethodPost, "/api/v1/transactions",
		`{"amount": -12.50, "description": "Lunch", "category": "Food"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create = %d %s", rr.Code, rr.Body.String())
	}
	created := decode[core.Transaction](t, rr)
	if created.ID == "" || created.Amount.Cents != -1250 || created.Type != core.Expense {
		t.Fatalf("unexpected created record %+v", created)
	}
	if !created.Date.Equal(fixedNow) || created.UserID != "u1" {
		t.Fatalf("record not stamped: %+v", created)
	}
	if loc := rr.Header().Get("Location"); loc != "/api/v1/transactions/"+created.ID {
		t.Errorf("Location = %q", loc)
	}

	env.do(t, http.MethodPost, "/api/v1/transactions",
		`{"amount": "2500", "description": "Salary", "category": "Other"}`)

	list := decode[transactionList](t, env.do(t, http.MethodGet, "/api/v1/transactions", ""))
	if list.Count != 2 {
		t.Fatalf("expected 2 records, got %d", list.Count)
	}
	food := decode[transactionList](t, env.do(t, http.MethodGet, "/api/v1/transactions?category=food", ""))
	if food.Count != 1 || food.Transactions[0].ID != created.ID {
		t.Fatalf("category filter returned %+v", food)
	}

	rr = env.do(t, http.MethodPatch, "/api/v1/transactions/"+created.ID, `{"description": "Dinner"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("patch = %d %s", rr.Code, rr.Body.String())
	}
	if got := decode[core.Transaction](t, rr); got.Description != "Dinner" || got.Amount.Cents != -1250 {
		t.Fatalf("unexpected patched record %+v", got)
	}

	sum := decode[core.Summary](t, env.do(t, http.MethodGet, "/api/v1/stats/summary?range=week", ""))
	if sum.Income.Cents != 250000 || sum.Expenses.Cents != 1250 || sum.Balance.Cents != 248750 || sum.Count != 2 {
		t.Fatalf("unexpected summary %+v", sum)
	}

	rr = env.do(t, http.MethodDelete, "/api/v1/transactions/"+created.ID, "")
	if rr.Code != http.StatusNoContent {
		t.Fatalf("delete = %d", rr.Code)
	}
	list = decode[transactionList](t, env.do(t, http.MethodGet, "/api/v1/transactions", ""))
	if list.Count != 1 {
		t.Fatalf("expected 1 record after delete, got %d", list.Count)
	}

	rr = env.do(t, http.MethodPatch, "/api/v1/transactions/missing", `{"description": "x"}`)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("patch of missing record = %d", rr.Code)
	}
}

func TestPatchRecordAddedElsewhere(t *testing.T) {
	env := newTestEnv(t, nil)
	env.do(t, http.MethodGet, "/api/v1/transactions", "")

	id, err := env.st.Create(context.Background(), core.Transaction{
		UserID: "u1", Amount: core.Cents(-4200), Description: "gas", Category: core.Bills, Date: fixedNow,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	rr := env.do(t, http.MethodPatch, "/api/v1/transactions/"+id, `{"description": "heating"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("patch = %d %s", rr.Code, rr.Body.String())
	}
	got := decode[core.Transaction](t, rr)
	if got.ID != id || got.Description != "heating" || got.Amount.Cents != -4200 || got.Category != core.Bills {
		t.Fatalf("unexpected patched record %+v", got)
	}
	list := decode[transactionList](t, env.do(t, http.MethodGet, "/api/v1/transactions", ""))
	if list.Count != 1 || list.Transactions[0].Description != "heating" {
		t.Fatalf("snapshot not reconciled: %+v", list)
	}
}

func TestCreateTransactionRejectsBadInput(t *testing.T) {
	env := newTestEnv(t, nil)
	tests := []struct {
		name string
		body string
		want int
	}{
		{"unknown category", `{"amount": -1, "description": "x", "category": "Pets"}`, http.StatusUnprocessableEntity},
		{"zero amount", `{"amount": 0, "description": "x", "category": "Food"}`, http.StatusUnprocessableEntity},
		{"blank description", `{"amount": -1, "description": "  ", "category": "Food"}`, http.StatusUnprocessableEntity},
		{"unknown field", `{"amount": -1, "description": "x", "category": "Food", "date": "2020-01-01"}`, http.StatusBadRequest},
		{"malformed", `{"amount": `, http.StatusBadRequest},
		{"bad amount", `{"amount": "abc", "description": "x", "category": "Food"}`, http.StatusUnprocessableEntity},
		{"amount past cents range", `{"amount": 1e17, "description": "x", "category": "Food"}`, http.StatusUnprocessableEntity},
		{"negative amount past cents range", `{"amount": -1e30, "description": "x", "category": "Food"}`, http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := env.do(t, http.MethodPost, "/api/v1/transactions", tt.body)
			if rr.Code != tt.want {
				t.Errorf("status = %d, want %d (%s)", rr.Code, tt.want, rr.Body.String())
			}
		})
	}

	rr := env.do(t, http.MethodPatch, "/api/v1/transactions/abc", `{}`)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("empty patch = %d, want 400", rr.Code)
	}

	list := decode[transactionList](t, env.do(t, http.MethodGet, "/api/v1/transactions", ""))
	if list.Count != 0 {
		t.Fatalf("rejected input reached the store: %+v", list.Transactions)
	}
}

func TestStoreFailureMapsToBadGateway(t *testing.T) {
	env := newTestEnv(t, nil)
	env.do(t, http.MethodGet, "/api/v1/transactions", "")

	env.st.FailNext(errors.New("connection reset by peer"))
	rr := env.do(t, http.MethodPost, "/api/v1/transactions",
		`{"amount": -1, "description": "x", "category": "Food"}`)
	if rr.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", rr.Code)
	}
	if strings.Contains(rr.Body.String(), "connection reset") {
		t.Errorf("store error leaked to client: %s", rr.Body.String())
	}
	list := decode[transactionList](t, env.do(t, http.MethodGet, "/api/v1/transactions", ""))
	if list.Count != 0 {
		t.Fatalf("failed add must not touch the snapshot, got %d", list.Count)
	}
}

func TestRecentAndMonthly(t *testing.T) {
	env := newTestEnv(t, nil)
	for i := 0; i < 7; i++ {
		env.do(t, http.MethodPost, "/api/v1/transactions",
			`{"amount": -1, "description": "coffee", "category": "Food"}`)
	}

	recent := decode[transactionList](t, env.do(t, http.MethodGet, "/api/v1/transactions/recent", ""))
	if recent.Count != ledger.DefaultRecentLimit {
		t.Fatalf("default recent = %d", recent.Count)
	}
	recent = decode[transactionList](t, env.do(t, http.MethodGet, "/api/v1/transactions/recent?limit=2", ""))
	if recent.Count != 2 {
		t.Fatalf("recent?limit=2 = %d", recent.Count)
	}
	if rr := env.do(t, http.MethodGet, "/api/v1/transactions/recent?limit=x", ""); rr.Code != http.StatusBadRequest {
		t.Fatalf("bad limit = %d", rr.Code)
	}

	june := decode[transactionList](t, env.do(t, http.MethodGet, "/api/v1/transactions/monthly?year=2025&month=6", ""))
	if june.Count != 7 {
		t.Fatalf("june = %d", june.Count)
	}
	may := decode[transactionList](t, env.do(t, http.MethodGet, "/api/v1/transactions/monthly?year=2025&month=5", ""))
	if may.Count != 0 || may.Transactions == nil {
		t.Fatalf("may = %+v", may)
	}
	if rr := env.do(t, http.MethodGet, "/api/v1/stats/monthly?month=13", ""); rr.Code != http.StatusBadRequest {
		t.Fatalf("month=13 = %d", rr.Code)
	}

	ov := decode[core.MonthOverview](t, env.do(t, http.MethodGet, "/api/v1/stats/monthly", ""))
	if ov.Year != 2025 || ov.Month != 6 || ov.Expenses.Cents != 7 || len(ov.ByCategory) != 1 {
		t.Fatalf("unexpected overview %+v", ov)
	}
}

func TestRangeAndStats(t *testing.T) {
	env := newTestEnv(t, nil)
	env.do(t, http.MethodPost, "/api/v1/transactions", `{"amount": -30, "description": "food", "category": "Food"}`)
	env.do(t, http.MethodPost, "/api/v1/transactions", `{"amount": -10, "description": "bus", "category": "Transport"}`)

	got := decode[rangeRequest](t, env.do(t, http.MethodGet, "/api/v1/range", ""))
	if got.Range != string(core.DefaultRange) {
		t.Fatalf("initial range = %q", got.Range)
	}
	rr := env.do(t, http.MethodPut, "/api/v1/range", `{"range": "week"}`)
	if rr.Code != http.StatusOK || decode[rangeRequest](t, rr).Range != "Week" {
		t.Fatalf("set range = %d %s", rr.Code, rr.Body.String())
	}
	if rr := env.do(t, http.MethodPut, "/api/v1/range", `{"range": "decade"}`); rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("invalid range = %d", rr.Code)
	}

	list := decode[transactionList](t, env.do(t, http.MethodGet, "/api/v1/transactions/range", ""))
	if list.Range != core.Week || list.Count != 2 {
		t.Fatalf("range listing should use the selected range, got %+v", list)
	}

	b := decode[breakdownResponse](t, env.do(t, http.MethodGet, "/api/v1/stats/categories", ""))
	if b.Expenses.Cents != 4000 || len(b.Categories) != 2 || b.Categories[0].Category != core.Food || b.Categories[0].Percentage != 75 {
		t.Fatalf("unexpected breakdown %+v", b)
	}

	ct := decode[categoryTotalResponse](t, env.do(t, http.MethodGet, "/api/v1/stats/category/transport?range=All", ""))
	if ct.Category != core.Transport || ct.Range != core.All || ct.Total.Cents != 1000 {
		t.Fatalf("unexpected category total %+v", ct)
	}
	if rr := env.do(t, http.MethodGet, "/api/v1/stats/category/pets", ""); rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("unknown category = %d", rr.Code)
	}
}

func TestBudgets(t *testing.T) {
	env := newTestEnv(t, nil)
	rr := env.do(t, http.MethodPut, "/api/v1/budgets/Food", `{"amount": 300}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("set budget = %d %s", rr.Code, rr.Body.String())
	}
	budgets := decode[map[core.Category]core.Money](t, env.do(t, http.MethodGet, "/api/v1/budgets", ""))
	if budgets[core.Food].Cents != 30000 {
		t.Fatalf("unexpected budgets %+v", budgets)
	}
	env.do(t, http.MethodPut, "/api/v1/budgets/Food", `{"amount": 0}`)
	budgets = decode[map[core.Category]core.Money](t, env.do(t, http.MethodGet, "/api/v1/budgets", ""))
	if len(budgets) != 0 {
		t.Fatalf("zero amount should remove the budget, got %+v", budgets)
	}
	if rr := env.do(t, http.MethodPut, "/api/v1/budgets/Pets", `{"amount": 1}`); rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("unknown category = %d", rr.Code)
	}
}

func TestSettingsEndpoints(t *testing.T) {
	env := newTestEnv(t, nil)

	st := decode[core.Settings](t, env.do(t, http.MethodGet, "/api/v1/settings", ""))
	if st != core.DefaultSettings() {
		t.Fatalf("expected defaults, got %+v", st)
	}

	rr := env.do(t, http.MethodPut, "/api/v1/settings/currency", `{"currency": "EUR"}`)
	if rr.Code != http.StatusOK || decode[core.Settings](t, rr).Currency != core.EUR {
		t.Fatalf("set currency = %d %s", rr.Code, rr.Body.String())
	}
	if rr := env.do(t, http.MethodPut, "/api/v1/settings/currency", `{"currency": "GBP"}`); rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("invalid currency = %d", rr.Code)
	}

	rr = env.do(t, http.MethodPut, "/api/v1/settings", `{"theme": "dark", "monthlyReports": true}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("update settings = %d %s", rr.Code, rr.Body.String())
	}
	st = decode[core.Settings](t, rr)
	if st.Theme != core.ThemeDark || !st.MonthlyReports || st.Currency != core.EUR {
		t.Fatalf("merge lost fields: %+v", st)
	}
	if rr := env.do(t, http.MethodPut, "/api/v1/settings", `{"language": "fr"}`); rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("invalid language = %d", rr.Code)
	}
}

func TestExportCSV(t *testing.T) {
	env := newTestEnv(t, nil)
	env.do(t, http.MethodPost, "/api/v1/transactions", `{"amount": -4.5, "description": "tea", "category": "Food"}`)

	rr := env.do(t, http.MethodGet, "/api/v1/export.csv", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("export = %d", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/csv") {
		t.Errorf("content type = %q", ct)
	}
	if cd := rr.Header().Get("Content-Disposition"); !strings.Contains(cd, "transactions-20250615.csv") {
		t.Errorf("content disposition = %q", cd)
	}
	body := rr.Body.Bytes()
	if !bytes.HasPrefix(body, []byte{0xEF, 0xBB, 0xBF}) {
		t.Fatalf("missing BOM")
	}
	lines := strings.Split(strings.TrimSpace(string(body[3:])), "\n")
	if len(lines) != 2 || strings.TrimSpace(lines[0]) != "id,date,type,category,description,amount" {
		t.Fatalf("unexpected csv %q", body)
	}
	if !strings.Contains(lines[1], "2025-06-15,expense,Food,tea,-4.50") {
		t.Errorf("unexpected row %q", lines[1])
	}
}

func TestExportSheets(t *testing.T) {
	env := newTestEnv(t, nil)
	if rr := env.do(t, http.MethodPost, "/api/v1/export", ""); rr.Code != http.StatusNotImplemented {
		t.Fatalf("unconfigured export = %d", rr.Code)
	}

	sheets := &fakeSheets{}
	env = newTestEnv(t, func(d *Deps) { d.Sheets = sheets })
	env.do(t, http.MethodPost, "/api/v1/transactions", `{"amount": -1, "description": "x", "category": "Food"}`)
	rr := env.do(t, http.MethodPost, "/api/v1/export", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("export = %d %s", rr.Code, rr.Body.String())
	}
	if got := decode[exportResponse](t, rr); got.Ref != "Export!A1:F" || got.Count != 1 || len(sheets.got) != 1 {
		t.Fatalf("unexpected export result %+v", got)
	}

	sheets.err = errors.New("quota exceeded")
	if rr := env.do(t, http.MethodPost, "/api/v1/export", ""); rr.Code != http.StatusBadGateway {
		t.Fatalf("failed export = %d", rr.Code)
	}
}

func TestRateLimit(t *testing.T) {
	env := newTestEnv(t, func(d *Deps) { d.RateLimitPerMinute = 2 })
	for i := 0; i < 2; i++ {
		if rr := env.do(t, http.MethodGet, "/healthz", ""); rr.Code != http.StatusOK {
			t.Fatalf("request %d = %d", i, rr.Code)
		}
	}
	rr := env.do(t, http.MethodGet, "/healthz", "")
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rr.Code)
	}
	if rr.Header().Get("Retry-After") == "" {
		t.Errorf("missing Retry-After")
	}
}

func TestNotFoundIsJSON(t *testing.T) {
	env := newTestEnv(t, nil)
	rr := env.do(t, http.MethodGet, "/nope", "")
	if rr.Code != http.StatusNotFound || !strings.HasPrefix(rr.Header().Get("Content-Type"), "application/json") {
		t.Fatalf("not found = %d %q", rr.Code, rr.Header().Get("Content-Type"))
	}
}

func TestWebSocketStreamsOwnChanges(t *testing.T) {
	env := newTestEnv(t, nil)
	ts := httptest.NewServer(env.srv.Handler)
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/ws?access_token=" + env.token
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v (resp %v)", err, resp)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for env.hub.Count() != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("client never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}

	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/api/v1/transactions",
		strings.NewReader(`{"amount": -3, "description": "snack", "category": "Food"}`))
	req.Header.Set("Authorization", "Bearer "+env.token)
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create = %d", res.StatusCode)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var c core.Change
	if err := json.Unmarshal(msg, &c); err != nil {
		t.Fatalf("decode change: %v", err)
	}
	if c.Kind != core.Created || c.UserID != "u1" || c.Transaction.Description != "snack" {
		t.Fatalf("unexpected change %+v", c)
	}

	env.hub.Close()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatalf("expected the connection to close after hub shutdown")
	}
}

func TestHubIgnoresOtherUsers(t *testing.T) {
	hub := NewHub(nil)
	cl := &wsClient{userID: "u1", send: make(chan []byte, 1)}
	if err := hub.register(cl); err != nil {
		t.Fatalf("register: %v", err)
	}
	hub.Notify(context.Background(), core.Change{Kind: core.Created, UserID: "u2"})
	if len(cl.send) != 0 {
		t.Fatalf("change for u2 delivered to u1")
	}

	hub.Notify(context.Background(), core.Change{Kind: core.Created, UserID: "u1"})
	hub.Notify(context.Background(), core.Change{Kind: core.Updated, UserID: "u1"})
	if hub.Count() != 0 {
		t.Fatalf("slow client should have been dropped, count = %d", hub.Count())
	}

	hub.Close()
	if err := hub.register(&wsClient{userID: "u1", send: make(chan []byte)}); !errors.Is(err, errHubClosed) {
		t.Fatalf("register after close = %v", err)
	}
}
