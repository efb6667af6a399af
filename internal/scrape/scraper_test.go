package scrape

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mhofer/shelfwatch/internal/extract"
	"github.com/mhofer/shelfwatch/internal/models"
)

const baseURL = "https://shop.example.com/products"

// stubFetcher serves canned HTML per URL and records the fetch order.
type stubFetcher struct {
	mu    sync.Mutex
	pages map[string]string
	errs  map[string]error
	calls []string
}

func newStubFetcher() *stubFetcher {
	return &stubFetcher{pages: map[string]string{}, errs: map[string]error{}}
}

func (f *stubFetcher) FetchPage(_ context.Context, url string) (*goquery.Document, error) {
	f.mu.Lock()
	f.calls = append(f.calls, url)
	f.mu.Unlock()

	if err := f.errs[url]; err != nil {
		return nil, err
	}
	html, ok := f.pages[url]
	if !ok {
		html = "<html><body></body></html>"
	}
	return goquery.NewDocumentFromReader(strings.NewReader(html))
}

func (f *stubFetcher) Mode() string { return "stub" }
func (f *stubFetcher) Close() error { return nil }

func (f *stubFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func cardHTML(names ...string) string {
	var b strings.Builder
	b.WriteString("<html><body>")
	for _, name := range names {
		fmt.Fprintf(&b, `<div class="product-card"><h4>%s</h4><p>10,00 €</p><p>In stock</p></div>`, name)
	}
	b.WriteString("</body></html>")
	return b.String()
}

func newTestScraper(f *stubFetcher) *Scraper {
	return New(f, extract.New(slog.Default()), nil, slog.Default())
}

func recordNames(records []models.RawRecord) []string {
	names := make([]string, len(records))
	for i, r := range records {
		names[i] = r.Name
	}
	return names
}

func TestRunStopsAfterConsecutiveEmptyPages(t *testing.T) {
	f := newStubFetcher()
	s := newTestScraper(f)

	records, err := s.Run(context.Background(), baseURL, 0)

	require.NoError(t, err)
	assert.Empty(t, records)
	assert.Equal(t, emptyThreshold, f.callCount(), "exactly the threshold number of empty fetches")
}

func TestRunHonorsMaxPages(t *testing.T) {
	f := newStubFetcher()
	f.pages[baseURL] = cardHTML("One")
	f.pages[baseURL+"?page=2"] = cardHTML("Two")
	f.pages[baseURL+"?page=3"] = cardHTML("Three")
	s := newTestScraper(f)

	records, err := s.Run(context.Background(), baseURL, 2)

	require.NoError(t, err)
	assert.Equal(t, []string{"One", "Two"}, recordNames(records))
	assert.Equal(t, 2, f.callCount(), "page 3 is never fetched")
}

func TestRunEmptyCounterResetsOnSuccess(t *testing.T) {
	f := newStubFetcher()
	// Pages 1-2 empty, page 3 has records, then pages 4-6 empty again.
	f.pages[baseURL+"?page=3"] = cardHTML("Revived")
	s := newTestScraper(f)

	records, err := s.Run(context.Background(), baseURL, 0)

	require.NoError(t, err)
	assert.Equal(t, []string{"Revived"}, recordNames(records))
	// 2 empty + 1 hit + 3 empty to trip the threshold.
	assert.Equal(t, 6, f.callCount())
}

func TestRunIsolatesTransportFailures(t *testing.T) {
	f := newStubFetcher()
	f.errs[baseURL] = errors.New("connection reset")
	f.pages[baseURL+"?page=2"] = cardHTML("Survivor")
	s := newTestScraper(f)

	records, err := s.Run(context.Background(), baseURL, 2)

	require.NoError(t, err)
	assert.Equal(t, []string{"Survivor"}, recordNames(records), "one bad page does not abort the run")
}

func TestRunConcurrentGathersBatches(t *testing.T) {
	f := newStubFetcher()
	f.pages[baseURL] = cardHTML("P1a", "P1b")
	f.pages[baseURL+"?page=2"] = cardHTML("P2a")
	f.pages[baseURL+"?page=3"] = cardHTML("P3a")
	f.pages[baseURL+"?page=4"] = cardHTML("P4a")
	s := newTestScraper(f)

	records, err := s.RunConcurrent(context.Background(), baseURL, 4)

	require.NoError(t, err)
	// Batches merge positionally, so output follows page order even
	// though fetches within a batch race.
	assert.Equal(t, []string{"P1a", "P1b", "P2a", "P3a", "P4a"}, recordNames(records))
}

func TestRunConcurrentStopsAfterEmptyBatches(t *testing.T) {
	f := newStubFetcher()
	s := newTestScraper(f)

	records, err := s.RunConcurrent(context.Background(), baseURL, 0)

	require.NoError(t, err)
	assert.Empty(t, records)
	assert.Equal(t, emptyThreshold*batchSize, f.callCount())
}

func TestRunConcurrentIsolatesPageFailure(t *testing.T) {
	f := newStubFetcher()
	f.pages[baseURL] = cardHTML("First")
	f.errs[baseURL+"?page=2"] = errors.New("render timeout")
	f.pages[baseURL+"?page=3"] = cardHTML("Third")
	s := newTestScraper(f)

	records, err := s.RunConcurrent(context.Background(), baseURL, 3)

	require.NoError(t, err)
	assert.Equal(t, []string{"First", "Third"}, recordNames(records))
}
