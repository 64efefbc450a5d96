// Package export renders transaction lists into downloadable files.
package export

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"ledger/internal/core"
)

const dateLayout = "2006-01-02"

// utf8BOM makes spreadsheet apps detect the encoding.
var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Header is the column order shared by every export format.
var Header = []string{"id", "date", "type", "category", "description", "amount"}

// Row renders one transaction in Header order. Undated records get an empty date.
func Row(tx core.Transaction) []string {
	tx = tx.Normalize()
	date := ""
	if !tx.Date.IsZero() {
		date = tx.Date.UTC().Format(dateLayout)
	}
	return []string{
		tx.ID,
		date,
		string(tx.Type),
		string(tx.Category),
		tx.Description,
		tx.Amount.String(),
	}
}

// SortByDate returns a copy ordered oldest first; ties keep input order.
func SortByDate(txs []core.Transaction) []core.Transaction {
	out := make([]core.Transaction, len(txs))
	copy(out, txs)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Date.Before(out[j].Date)
	})
	return out
}

func WriteCSV(w io.Writer, txs []core.Transaction) error {
	if _, err := w.Write(utf8BOM); err != nil {
		return fmt.Errorf("write bom: %w", err)
	}
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for _, tx := range SortByDate(txs) {
		if err := cw.Write(Row(tx)); err != nil {
			return fmt.Errorf("write row %s: %w", tx.ID, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// CSVExporter writes each export to a new timestamped file under Dir.
type CSVExporter struct {
	Dir string
	now func() time.Time
}

func NewCSVExporter(dir string) *CSVExporter {
	return &CSVExporter{Dir: dir, now: time.Now}
}

// Export implements store.Exporter; the returned reference is the file path.
func (e *CSVExporter) Export(ctx context.Context, txs []core.Transaction) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := os.MkdirAll(e.Dir, 0o755); err != nil {
		return "", fmt.Errorf("create export directory: %w", err)
	}

	name := fmt.Sprintf("transactions-%s.csv", e.now().UTC().Format("20060102-150405"))
	path := filepath.Join(e.Dir, name)

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create export file: %w", err)
	}
	if err := WriteCSV(f, txs); err != nil {
		f.Close()
		os.Remove(path)
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close export file: %w", err)
	}

	slog.InfoContext(ctx, "Exported transactions", "path", path, "count", len(txs))
	return path, nil
}
