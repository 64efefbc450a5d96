package google

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"

	"ledger/internal/core"
)

func TestNew_MissingSpreadsheetID(t *testing.T) {
	_, err := New(context.Background(), Config{})
	if err == nil {
		t.Fatal("expected error for missing spreadsheet id")
	}
	if err.Error() != "missing GOOGLE_SPREADSHEET_ID" {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestNew_InvalidCredentials(t *testing.T) {
	_, err := New(context.Background(), Config{SpreadsheetID: "id", CredentialsJSON: "invalid-json"})
	if err == nil {
		t.Fatal("expected error with invalid JSON")
	}
	if !strings.Contains(err.Error(), "service account config") {
		t.Errorf("expected service account config error, got: %v", err)
	}
}

func TestCredentialsJSON(t *testing.T) {
	t.Setenv("GOOGLE_APPLICATION_CREDENTIALS", "")

	got, err := credentialsJSON(Config{CredentialsJSON: ` {"type":"service_account"} `})
	if err != nil || string(got) != `{"type":"service_account"}` {
		t.Fatalf("inline json: %q, %v", got, err)
	}

	path := filepath.Join(t.TempDir(), "sa.json")
	if err := os.WriteFile(path, []byte(`{"from":"file"}`), 0o600); err != nil {
		t.Fatal(err)
	}
	got, err = credentialsJSON(Config{CredentialsFile: path})
	if err != nil || string(got) != `{"from":"file"}` {
		t.Fatalf("file: %q, %v", got, err)
	}

	t.Setenv("GOOGLE_APPLICATION_CREDENTIALS", path)
	if _, err := credentialsJSON(Config{}); err != nil {
		t.Fatalf("application credentials fallback: %v", err)
	}

	t.Setenv("GOOGLE_APPLICATION_CREDENTIALS", "")
	if _, err := credentialsJSON(Config{}); err == nil {
		t.Fatal("expected error without any credentials")
	}
	if _, err := credentialsJSON(Config{CredentialsFile: filepath.Join(t.TempDir(), "missing.json")}); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestNewClientDefaults(t *testing.T) {
	c := newClient(nil, "id", Config{})
	if c.sheetName != "Transactions" || c.exportSheet != "Export" {
		t.Errorf("unexpected sheet names %q %q", c.sheetName, c.exportSheet)
	}
	if c.cacheValidDuration != defaultRowCacheTTL {
		t.Errorf("cache ttl = %v", c.cacheValidDuration)
	}
}

func TestNilServiceErrors(t *testing.T) {
	c := &Client{spreadsheetID: "test"}
	ctx := context.Background()
	if _, err := c.AppendTransaction(ctx, core.Transaction{ID: "x"}); err != errNoService {
		t.Errorf("AppendTransaction: %v", err)
	}
	if _, err := c.UpsertTransaction(ctx, core.Transaction{ID: "x"}); err != errNoService {
		t.Errorf("UpsertTransaction: %v", err)
	}
	if err := c.DeleteTransaction(ctx, "x"); err != errNoService {
		t.Errorf("DeleteTransaction: %v", err)
	}
	if _, err := c.Export(ctx, nil); err != errNoService {
		t.Errorf("Export: %v", err)
	}
}

func TestInvalidateRowCache(t *testing.T) {
	c := &Client{cacheValidDuration: 10 * time.Minute}

	c.mu.Lock()
	c.cachedRowCount = 42
	c.cacheExpiresAt = time.Now().Add(c.cacheValidDuration)
	c.mu.Unlock()

	c.recordAppended(2)
	if c.cachedRowCount != 44 {
		t.Errorf("cached row count = %d, want 44", c.cachedRowCount)
	}

	c.InvalidateRowCache()

	c.mu.Lock()
	valid := time.Now().Before(c.cacheExpiresAt)
	c.mu.Unlock()
	if valid {
		t.Error("cache should be expired after invalidation")
	}

	c.recordAppended(1)
	if c.cachedRowCount != 44 {
		t.Error("expired cache must not be bumped")
	}
}

func TestIndexOfID(t *testing.T) {
	values := [][]any{{"id"}, {}, {"a"}, {" b "}}
	tests := []struct {
		id   string
		want int
	}{
		{"a", 3},
		{"b", 4},
		{"missing", 0},
	}
	for _, tt := range tests {
		if got := indexOfID(values, tt.id); got != tt.want {
			t.Errorf("indexOfID(%q) = %d, want %d", tt.id, got, tt.want)
		}
	}
}

func TestExportValues(t *testing.T) {
	txs := []core.Transaction{
		{ID: "late", Amount: core.Cents(-100), Category: core.Food, Description: "x", Date: time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)},
		{ID: "early", Amount: core.Cents(500), Category: core.Other, Description: "y", Date: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)},
	}
	values := exportValues(txs)
	if len(values) != 3 {
		t.Fatalf("expected header + 2 rows, got %d", len(values))
	}
	if values[0][0] != "id" || values[1][0] != "early" || values[2][0] != "late" {
		t.Errorf("unexpected ordering %v", values)
	}
}

// fakeSheets serves the subset of the Sheets values API the client uses.
type fakeSheets struct {
	mu      sync.Mutex
	column  [][]any
	updates []string
	clears  []string
}

func (f *fakeSheets) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	_, rng, _ := strings.Cut(r.URL.Path, "/values/")
	switch {
	case r.Method == http.MethodGet:
		json.NewEncoder(w).Encode(map[string]any{"range": rng, "values": f.column})
	case r.Method == http.MethodPut:
		var vr gsheet.ValueRange
		json.NewDecoder(r.Body).Decode(&vr)
		f.updates = append(f.updates, rng)
		json.NewEncoder(w).Encode(map[string]any{"updatedRange": rng})
	case r.Method == http.MethodPost && strings.HasSuffix(rng, ":clear"):
		f.clears = append(f.clears, strings.TrimSuffix(rng, ":clear"))
		json.NewEncoder(w).Encode(map[string]any{"clearedRange": rng})
	default:
		http.Error(w, "unexpected request", http.StatusBadRequest)
	}
}

func newFakeClient(t *testing.T, f *fakeSheets) *Client {
	t.Helper()
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)

	svc, err := gsheet.NewService(context.Background(),
		goption.WithEndpoint(srv.URL+"/"),
		goption.WithHTTPClient(srv.Client()))
	if err != nil {
		t.Fatalf("create service: %v", err)
	}
	return newClient(svc, "sheet-id", Config{})
}

func TestMirrorAgainstFakeAPI(t *testing.T) {
	f := &fakeSheets{column: [][]any{{"id"}, {"t1"}, {"t2"}}}
	c := newFakeClient(t, f)
	ctx := context.Background()

	ref, err := c.UpsertTransaction(ctx, core.Transaction{ID: "t2", Amount: core.Cents(-100), Category: core.Food, Description: "x"})
	if err != nil {
		t.Fatalf("UpsertTransaction existing: %v", err)
	}
	if ref != "Transactions!A3:F3" {
		t.Errorf("existing row ref = %s", ref)
	}

	ref, err = c.UpsertTransaction(ctx, core.Transaction{ID: "t9", Amount: core.Cents(-100), Category: core.Food, Description: "x"})
	if err != nil {
		t.Fatalf("UpsertTransaction new: %v", err)
	}
	if ref != "Transactions!A4:F4" {
		t.Errorf("appended row ref = %s", ref)
	}

	if err := c.DeleteTransaction(ctx, "t1"); err != nil {
		t.Fatalf("DeleteTransaction: %v", err)
	}
	if err := c.DeleteTransaction(ctx, "nope"); err != nil {
		t.Fatalf("DeleteTransaction missing: %v", err)
	}

	if _, err := c.Export(ctx, nil); err != nil {
		t.Fatalf("Export: %v", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.updates) != 3 {
		t.Errorf("expected 3 value updates, got %v", f.updates)
	}
	if len(f.clears) != 2 || f.clears[0] != "Transactions!A2:F2" {
		t.Errorf("unexpected clears %v", f.clears)
	}
}

func TestAppendToEmptySheetWritesHeader(t *testing.T) {
	f := &fakeSheets{}
	c := newFakeClient(t, f)

	ref, err := c.AppendTransaction(context.Background(), core.Transaction{ID: "t1", Amount: core.Cents(5), Category: core.Other, Description: "x"})
	if err != nil {
		t.Fatalf("AppendTransaction: %v", err)
	}
	if ref != "Transactions!A2:F2" {
		t.Errorf("ref = %s", ref)
	}
	if c.cachedRowCount != 2 {
		t.Errorf("cached rows = %d, want 2", c.cachedRowCount)
	}
}
