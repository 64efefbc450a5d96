package google

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	goauth "golang.org/x/oauth2/google"
	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"

	"ledger/internal/core"
	"ledger/internal/export"
	ports "ledger/internal/sheets"
)

const defaultRowCacheTTL = 2 * time.Minute

var errNoService = errors.New("sheets service not initialized")

type Config struct {
	SpreadsheetID   string
	SheetName       string
	ExportSheetName string
	CredentialsJSON string
	CredentialsFile string
	RowCacheTTL     time.Duration
}

type Client struct {
	svc           *gsheet.Service
	spreadsheetID string
	sheetName     string
	exportSheet   string

	// Row count of the mirror sheet, so appends skip a read.
	mu                 sync.Mutex
	cachedRowCount     int
	cacheExpiresAt     time.Time
	cacheValidDuration time.Duration
}

var (
	_ ports.Mirror   = (*Client)(nil)
	_ ports.Exporter = (*Client)(nil)
)

// New builds a Sheets client authenticated with a service account.
func New(ctx context.Context, cfg Config) (*Client, error) {
	id := strings.TrimSpace(cfg.SpreadsheetID)
	if id == "" {
		return nil, errors.New("missing GOOGLE_SPREADSHEET_ID")
	}
	creds, err := credentialsJSON(cfg)
	if err != nil {
		return nil, err
	}
	svc, err := newSheetsService(ctx, creds)
	if err != nil {
		return nil, fmt.Errorf("sheets service: %w", err)
	}
	return newClient(svc, id, cfg), nil
}

func newClient(svc *gsheet.Service, spreadsheetID string, cfg Config) *Client {
	sheet := strings.TrimSpace(cfg.SheetName)
	if sheet == "" {
		sheet = "Transactions"
	}
	exp := strings.TrimSpace(cfg.ExportSheetName)
	if exp == "" {
		exp = "Export"
	}
	ttl := cfg.RowCacheTTL
	if ttl <= 0 {
		ttl = defaultRowCacheTTL
	}
	return &Client{
		svc:                svc,
		spreadsheetID:      spreadsheetID,
		sheetName:          sheet,
		exportSheet:        exp,
		cacheValidDuration: ttl,
	}
}

// credentialsJSON resolves inline JSON, then a file, then
// GOOGLE_APPLICATION_CREDENTIALS.
func credentialsJSON(cfg Config) ([]byte, error) {
	if js := strings.TrimSpace(cfg.CredentialsJSON); js != "" {
		return []byte(js), nil
	}
	path := strings.TrimSpace(cfg.CredentialsFile)
	if path == "" {
		path = strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))
	}
	if path == "" {
		return nil, errors.New("missing service account credentials (set GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE, or GOOGLE_APPLICATION_CREDENTIALS)")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read service account file: %w", err)
	}
	return data, nil
}

func newSheetsService(ctx context.Context, creds []byte) (*gsheet.Service, error) {
	conf, err := goauth.JWTConfigFromJSON(creds, gsheet.SpreadsheetsScope)
	if err != nil {
		return nil, fmt.Errorf("service account config: %w", err)
	}

	// The token source uses the pooled client for its own requests too.
	authCtx := context.WithValue(ctx, oauth2.HTTPClient, newHTTPClientWithPooling())
	svc, err := gsheet.NewService(ctx, goption.WithHTTPClient(conf.Client(authCtx)))
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}

	slog.InfoContext(ctx, "Google Sheets service created", "client_email", conf.Email)
	return svc, nil
}

func newHTTPClientWithPooling() *http.Client {
	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	transport := &http.Transport{
		DialContext:           dialer.DialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		MaxConnsPerHost:       50,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ForceAttemptHTTP2:     true,
	}
	return &http.Client{Transport: transport, Timeout: 60 * time.Second}
}

func rowValues(row []string) []any {
	out := make([]any, len(row))
	for i, v := range row {
		out[i] = v
	}
	return out
}

func rowRange(sheet string, row int) string {
	return fmt.Sprintf("%s!A%d:F%d", sheet, row, row)
}

// nextRow returns the first empty row of the mirror sheet.
func (c *Client) nextRow(ctx context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if time.Now().Before(c.cacheExpiresAt) {
		return c.cachedRowCount + 1, nil
	}

	rng := fmt.Sprintf("%s!A:A", c.sheetName)
	resp, err := c.svc.Spreadsheets.Values.Get(c.spreadsheetID, rng).Context(ctx).Do()
	if err != nil {
		return 0, fmt.Errorf("get sheet dimensions for %s: %w", c.sheetName, err)
	}
	c.cachedRowCount = len(resp.Values)
	c.cacheExpiresAt = time.Now().Add(c.cacheValidDuration)
	return c.cachedRowCount + 1, nil
}

func (c *Client) recordAppended(rows int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if time.Now().Before(c.cacheExpiresAt) {
		c.cachedRowCount += rows
	}
}

// InvalidateRowCache forces the next append to re-read the sheet size.
func (c *Client) InvalidateRowCache() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cacheExpiresAt = time.Time{}
}

// findRow returns the 1-based row holding id, or 0.
func (c *Client) findRow(ctx context.Context, id string) (int, error) {
	rng := fmt.Sprintf("%s!A:A", c.sheetName)
	resp, err := c.svc.Spreadsheets.Values.Get(c.spreadsheetID, rng).Context(ctx).Do()
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", rng, err)
	}
	return indexOfID(resp.Values, id), nil
}

func indexOfID(values [][]any, id string) int {
	for i, row := range values {
		if len(row) == 0 {
			continue
		}
		if strings.TrimSpace(fmt.Sprint(row[0])) == id {
			return i + 1
		}
	}
	return 0
}

// AppendTransaction writes tx below the last row, adding the header to an
// empty sheet.
func (c *Client) AppendTransaction(ctx context.Context, tx core.Transaction) (string, error) {
	if c.svc == nil {
		return "", errNoService
	}
	row, err := c.nextRow(ctx)
	if err != nil {
		return "", err
	}

	values := [][]any{rowValues(export.Row(tx))}
	if row == 1 {
		values = append([][]any{rowValues(export.Header)}, values...)
	}
	rng := fmt.Sprintf("%s!A%d:F%d", c.sheetName, row, row+len(values)-1)

	_, err = c.svc.Spreadsheets.Values.Update(c.spreadsheetID, rng, &gsheet.ValueRange{Values: values}).
		ValueInputOption("USER_ENTERED").Context(ctx).Do()
	if err != nil {
		c.InvalidateRowCache()
		return "", fmt.Errorf("append to sheet %s: %w", c.sheetName, err)
	}
	c.recordAppended(len(values))

	last := row + len(values) - 1
	return rowRange(c.sheetName, last), nil
}

// UpsertTransaction rewrites the row for tx.ID, appending when absent.
func (c *Client) UpsertTransaction(ctx context.Context, tx core.Transaction) (string, error) {
	if c.svc == nil {
		return "", errNoService
	}
	row, err := c.findRow(ctx, tx.ID)
	if err != nil {
		return "", err
	}
	if row == 0 {
		return c.AppendTransaction(ctx, tx)
	}

	rng := rowRange(c.sheetName, row)
	vr := &gsheet.ValueRange{Values: [][]any{rowValues(export.Row(tx))}}
	if _, err := c.svc.Spreadsheets.Values.Update(c.spreadsheetID, rng, vr).
		ValueInputOption("USER_ENTERED").Context(ctx).Do(); err != nil {
		return "", fmt.Errorf("update %s: %w", rng, err)
	}
	return rng, nil
}

// DeleteTransaction clears the row for id. A missing row is not an error.
func (c *Client) DeleteTransaction(ctx context.Context, id string) error {
	if c.svc == nil {
		return errNoService
	}
	row, err := c.findRow(ctx, id)
	if err != nil {
		return err
	}
	if row == 0 {
		slog.DebugContext(ctx, "Transaction not present in sheet", "transaction_id", id)
		return nil
	}

	rng := rowRange(c.sheetName, row)
	if _, err := c.svc.Spreadsheets.Values.Clear(c.spreadsheetID, rng, &gsheet.ClearValuesRequest{}).
		Context(ctx).Do(); err != nil {
		return fmt.Errorf("clear %s: %w", rng, err)
	}
	return nil
}

// Export replaces the export sheet contents with txs sorted by date.
func (c *Client) Export(ctx context.Context, txs []core.Transaction) (string, error) {
	if c.svc == nil {
		return "", errNoService
	}

	all := fmt.Sprintf("%s!A:F", c.exportSheet)
	if _, err := c.svc.Spreadsheets.Values.Clear(c.spreadsheetID, all, &gsheet.ClearValuesRequest{}).
		Context(ctx).Do(); err != nil {
		return "", fmt.Errorf("clear %s: %w", all, err)
	}

	values := exportValues(txs)
	rng := fmt.Sprintf("%s!A1:F%d", c.exportSheet, len(values))
	if _, err := c.svc.Spreadsheets.Values.Update(c.spreadsheetID, rng, &gsheet.ValueRange{Values: values}).
		ValueInputOption("RAW").Context(ctx).Do(); err != nil {
		return "", fmt.Errorf("write %s: %w", rng, err)
	}

	slog.InfoContext(ctx, "Exported transactions to sheet", "range", rng, "count", len(txs))
	return rng, nil
}

func exportValues(txs []core.Transaction) [][]any {
	values := make([][]any, 0, len(txs)+1)
	values = append(values, rowValues(export.Header))
	for _, tx := range export.SortByDate(txs) {
		values = append(values, rowValues(export.Row(tx)))
	}
	return values
}
