// Package export writes the normalized product table as CSV for
// spreadsheet and BI consumers.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/mhofer/shelfwatch/internal/models"
)

// utf8BOM keeps Excel from misreading the euro sign.
var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

var csvHeader = []string{
	"name", "price", "currency", "availability",
	"image_url", "source_url", "scraped_at",
}

// WriteCSV writes products to w, BOM and header first. Prices carry two
// decimals and timestamps are RFC 3339 UTC.
func WriteCSV(w io.Writer, products []models.Product) error {
	if _, err := w.Write(utf8BOM); err != nil {
		return fmt.Errorf("failed to write BOM: %w", err)
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	for _, p := range products {
		row := []string{
			p.Name,
			strconv.FormatFloat(p.Price, 'f', 2, 64),
			p.Currency,
			string(p.Availability),
			p.ImageURL,
			p.SourceURL,
			p.ScrapedAt.UTC().Format(time.RFC3339),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("failed to write row for %q: %w", p.Name, err)
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("failed to flush csv: %w", err)
	}

	return nil
}

// ExportFile writes products to path, creating or truncating the file.
func ExportFile(path string, products []models.Product) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create export file: %w", err)
	}

	if err := WriteCSV(f, products); err != nil {
		f.Close()
		return err
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close export file: %w", err)
	}

	return nil
}
