// Package extract pulls raw product records out of a rendered listing
// page. Extraction is pure: running it twice on the same document yields
// the same records.
package extract

import (
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/mhofer/shelfwatch/internal/models"
)

const (
	// cardSelector is the stable structural class for product cards.
	cardSelector = "div.product-card"

	// placeholderTitle marks the site's empty-result page; cards carrying
	// it are not products.
	placeholderTitle = "No results found"

	// maxAncestorHops bounds the upward walk in the heading fallback so a
	// degenerate document cannot send us to the root for every heading.
	maxAncestorHops = 5

	textSeparator = "|"
)

// generatedClassPattern matches the site's dynamically generated class
// naming convention (css-in-js output), used when the stable card class
// is absent.
var generatedClassPattern = regexp.MustCompile(`\bcss-\w+`)

type Extractor struct {
	logger *slog.Logger
	now    func() time.Time
}

func New(logger *slog.Logger) *Extractor {
	return &Extractor{
		logger: logger.With("component", "extractor"),
		now:    time.Now,
	}
}

// Extract locates product cards and returns one raw record per card.
// Selector strategy: the stable card class first, then the generated-class
// heuristic, then heading ancestry. A single card's failure skips that
// card only.
func (e *Extractor) Extract(doc *goquery.Document, sourceURL string) []models.RawRecord {
	cards := doc.Find(cardSelector)

	if cards.Length() == 0 {
		cards = e.findGeneratedClassCards(doc)
	}

	if cards.Length() == 0 {
		return e.extractFromHeadings(doc, sourceURL)
	}

	var records []models.RawRecord
	cards.Each(func(_ int, card *goquery.Selection) {
		record, ok := e.extractCard(card, sourceURL)
		if !ok {
			e.logger.Debug("skipping card", "url", sourceURL)
			return
		}
		records = append(records, record)
	})

	return records
}

// findGeneratedClassCards selects divs whose class attribute follows the
// generated naming convention and which contain a product heading.
func (e *Extractor) findGeneratedClassCards(doc *goquery.Document) *goquery.Selection {
	return doc.Find("div").FilterFunction(func(_ int, s *goquery.Selection) bool {
		class, ok := s.Attr("class")
		if !ok || !generatedClassPattern.MatchString(class) {
			return false
		}
		return s.Find("h4").Length() > 0 && s.Find("div h4").Length() == 0
	})
}

// extractFromHeadings is the last-resort strategy: find every h4, then
// walk ancestors until a container holds both a currency marker and a
// stock phrase.
func (e *Extractor) extractFromHeadings(doc *goquery.Document, sourceURL string) []models.RawRecord {
	var records []models.RawRecord

	doc.Find("h4").Each(func(_ int, heading *goquery.Selection) {
		name := strings.TrimSpace(heading.Text())
		if name == "" || name == placeholderTitle {
			return
		}

		container := heading.Parent()
		for hop := 0; hop < maxAncestorHops; hop++ {
			parent := container.Parent()
			if parent.Length() == 0 {
				break
			}
			text := parent.Text()
			if strings.Contains(text, "€") && containsStockPhrase(text) {
				container = parent
				break
			}
			container = parent
		}

		record := models.NewRawRecord(name, sourceURL)
		record.ScrapedAt = e.now().UTC()
		record.RawText = joinedText(container)
		record.ImageURL = imageURL(container)
		records = append(records, record)
	})

	return records
}

func (e *Extractor) extractCard(card *goquery.Selection, sourceURL string) (models.RawRecord, bool) {
	name := strings.TrimSpace(card.Find("h4").First().Text())
	if name == "" || name == placeholderTitle {
		return models.RawRecord{}, false
	}

	record := models.NewRawRecord(name, sourceURL)
	record.ScrapedAt = e.now().UTC()
	record.RawText = joinedText(card)
	record.ImageURL = imageURL(card)

	return record, true
}

// joinedText concatenates all descendant text nodes with a delimiter so
// downstream regex matching is position-independent.
func joinedText(s *goquery.Selection) string {
	var parts []string
	s.Find("*").Each(func(_ int, el *goquery.Selection) {
		if el.Children().Length() > 0 {
			return
		}
		if t := strings.TrimSpace(el.Text()); t != "" {
			parts = append(parts, t)
		}
	})
	if len(parts) == 0 {
		return strings.TrimSpace(s.Text())
	}
	return strings.Join(parts, textSeparator)
}

// imageURL prefers src, falling back to the first URL token of srcset
// when src is missing or a data URI.
func imageURL(s *goquery.Selection) string {
	img := s.Find("img").First()
	if img.Length() == 0 {
		return ""
	}

	src, _ := img.Attr("src")
	if src != "" && !strings.HasPrefix(src, "data:") {
		return src
	}

	srcset, _ := img.Attr("srcset")
	if fields := strings.Fields(srcset); len(fields) > 0 {
		return fields[0]
	}

	return src
}

func containsStockPhrase(text string) bool {
	lower := strings.ToLower(text)
	return strings.Contains(lower, "in stock") || strings.Contains(lower, "out of stock")
}
