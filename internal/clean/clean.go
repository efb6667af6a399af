// Package clean normalizes raw scraped text into typed product fields:
// locale-ambiguous price strings, free-text availability phrases, and
// whitespace-damaged names.
package clean

import (
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/mhofer/shelfwatch/internal/models"
)

var (
	// Matches a price inside a larger text blob: 1-3 digits, optional
	// decimal part of exactly two digits, optional whitespace, euro sign.
	blobPricePattern = regexp.MustCompile(`(\d{1,3}(?:[.,]\d{2})?)\s*€`)

	whitespacePattern = regexp.MustCompile(`\s+`)
)

// Price converts a scraped price string into a float. The separator rules
// resolve the comma/period ambiguity between European and US formats:
// a comma with no period is the decimal separator; when both appear, the
// one occurring last in the string is the decimal separator and the other
// is stripped as a thousands separator. An unparseable string yields
// ok=false, never an error; callers treat that as an absent price.
func Price(text string) (float64, bool) {
	cleaned := strings.NewReplacer("€", "", "$", "", "£", "").Replace(text)
	cleaned = strings.TrimSpace(cleaned)
	if cleaned == "" {
		return 0, false
	}

	hasComma := strings.Contains(cleaned, ",")
	hasPeriod := strings.Contains(cleaned, ".")

	switch {
	case hasComma && !hasPeriod:
		cleaned = strings.ReplaceAll(cleaned, ",", ".")
	case hasComma && hasPeriod:
		if strings.LastIndex(cleaned, ",") > strings.LastIndex(cleaned, ".") {
			cleaned = strings.ReplaceAll(cleaned, ".", "")
			cleaned = strings.ReplaceAll(cleaned, ",", ".")
		} else {
			cleaned = strings.ReplaceAll(cleaned, ",", "")
		}
	}

	value, err := strconv.ParseFloat(cleaned, 64)
	if err != nil || value < 0 {
		return 0, false
	}
	return value, true
}

// PriceFromBlob locates a price substring inside free text (a card's full
// text dump) and normalizes only that match.
func PriceFromBlob(text string) (float64, bool) {
	match := blobPricePattern.FindStringSubmatch(text)
	if match == nil {
		return 0, false
	}
	return Price(match[1])
}

// Availability classifies free text into the closed availability set.
// Tests are case-insensitive substrings, first match wins: purchasability
// phrases beat unavailability phrases beat Unknown.
func Availability(text string) models.Availability {
	lower := strings.ToLower(text)

	switch {
	case strings.Contains(lower, "add to basket"), strings.Contains(lower, "in stock"):
		return models.AvailabilityInStock
	case strings.Contains(lower, "out of stock"), strings.Contains(lower, "unavailable"):
		return models.AvailabilityOutOfStock
	default:
		return models.AvailabilityUnknown
	}
}

// Text trims and collapses internal runs of whitespace to single spaces.
func Text(s string) string {
	return whitespacePattern.ReplaceAllString(strings.TrimSpace(s), " ")
}

// Normalize converts a raw record into a typed product. A price that
// cannot be resolved stays 0 (meaning unknown).
func Normalize(raw models.RawRecord) models.Product {
	p := models.Product{
		Name:         Text(raw.Name),
		Currency:     models.DefaultCurrency,
		Availability: Availability(raw.RawText),
		ImageURL:     raw.ImageURL,
		SourceURL:    raw.SourceURL,
		ScrapedAt:    raw.ScrapedAt,
	}

	if price, ok := PriceFromBlob(raw.RawText); ok {
		p.Price = price
	}

	return p
}

// NormalizeAll maps Normalize over a scrape result.
func NormalizeAll(raws []models.RawRecord) []models.Product {
	products := make([]models.Product, 0, len(raws))
	for _, raw := range raws {
		products = append(products, Normalize(raw))
	}
	return products
}

// Dedupe removes records sharing a name, keeping the first encountered in
// original order. The removed count is logged so a run never silently
// shrinks its output.
func Dedupe(records []models.Product, logger *slog.Logger) []models.Product {
	seen := make(map[string]struct{}, len(records))
	kept := records[:0:0]

	for _, r := range records {
		if _, dup := seen[r.Name]; dup {
			continue
		}
		seen[r.Name] = struct{}{}
		kept = append(kept, r)
	}

	if removed := len(records) - len(kept); removed > 0 && logger != nil {
		logger.Info("removed duplicate records", "removed", removed, "kept", len(kept))
	}

	return kept
}
