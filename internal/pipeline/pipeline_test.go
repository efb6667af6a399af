package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mhofer/shelfwatch/internal/database"
	"github.com/mhofer/shelfwatch/internal/extract"
	"github.com/mhofer/shelfwatch/internal/models"
	"github.com/mhofer/shelfwatch/internal/scrape"
)

type fakeScraper struct {
	records []models.RawRecord
	err     error
}

func (f *fakeScraper) Run(ctx context.Context, baseURL string, maxPages int) ([]models.RawRecord, error) {
	return f.records, f.err
}

type fakeProductStore struct {
	stored  []models.Product
	changes []database.PriceChange
	err     error
}

func (f *fakeProductStore) UpsertBatch(ctx context.Context, products []models.Product) ([]database.PriceChange, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.stored = append(f.stored, products...)
	return f.changes, nil
}

type fakeRunStore struct {
	id         uuid.UUID
	finished   bool
	finishErr  error
	raw, clean int
	dupes      int
}

func (f *fakeRunStore) Start(ctx context.Context, mode, baseURL string, maxPages int) (uuid.UUID, error) {
	f.id = uuid.New()
	return f.id, nil
}

func (f *fakeRunStore) Finish(ctx context.Context, id uuid.UUID, rawCount, cleanCount, duplicatesRemoved int, runErr error) error {
	f.finished = true
	f.raw = rawCount
	f.clean = cleanCount
	f.dupes = duplicatesRemoved
	f.finishErr = runErr
	return nil
}

type fakeEvents struct {
	published []database.PriceChange
}

func (f *fakeEvents) PublishPriceChanges(ctx context.Context, runID uuid.UUID, changes []database.PriceChange) error {
	f.published = append(f.published, changes...)
	return nil
}

func rawRecord(name, blob string) models.RawRecord {
	return models.RawRecord{
		Name:      name,
		RawText:   blob,
		SourceURL: "https://shop.example.com/products",
		ScrapedAt: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestPipelineRun(t *testing.T) {
	ctx := context.Background()
	logger := slog.Default()

	scraper := &fakeScraper{records: []models.RawRecord{
		rawRecord("Catan", "Catan|34,90 €|Add to basket"),
		rawRecord("Azul", "Azul|49,00 €|Out of stock"),
		rawRecord("Catan", "Catan|34,90 €|Add to basket"),
	}}
	store := &fakeProductStore{changes: []database.PriceChange{
		{Name: "Catan", OldPrice: 30, NewPrice: 34.90},
	}}
	runs := &fakeRunStore{}
	events := &fakeEvents{}

	out := filepath.Join(t.TempDir(), "out.csv")
	p := New(scraper, store, runs, events, Options{
		BaseURL:    "https://shop.example.com/products",
		MaxPages:   2,
		Mode:       "static",
		OutputPath: out,
	}, logger)

	res, err := p.Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, 3, res.RawCount)
	assert.Equal(t, 2, res.CleanCount)
	assert.Equal(t, 1, res.DuplicatesRemoved)
	assert.Equal(t, 1, res.PriceChanges)

	// Duplicate Catan dropped, first occurrence kept.
	require.Len(t, store.stored, 2)
	assert.Equal(t, "Catan", store.stored[0].Name)
	assert.InDelta(t, 34.90, store.stored[0].Price, 0.001)
	assert.Equal(t, models.AvailabilityInStock, store.stored[0].Availability)
	assert.Equal(t, models.AvailabilityOutOfStock, store.stored[1].Availability)

	// Price changes reach the sink.
	require.Len(t, events.published, 1)
	assert.Equal(t, "Catan", events.published[0].Name)

	// Stats recorded and CSV written.
	assert.True(t, runs.finished)
	assert.Equal(t, 3, runs.raw)
	assert.Equal(t, 2, runs.clean)
	assert.Equal(t, 1, runs.dupes)
	assert.NoError(t, runs.finishErr)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Contains(t, string(data), "Catan,34.90")
}

// fixtureFetcher serves canned listing HTML per URL through the real
// fetch.Fetcher seam.
type fixtureFetcher struct {
	mu    sync.Mutex
	pages map[string]string
	calls []string
}

func (f *fixtureFetcher) FetchPage(_ context.Context, url string) (*goquery.Document, error) {
	f.mu.Lock()
	f.calls = append(f.calls, url)
	f.mu.Unlock()

	html, ok := f.pages[url]
	if !ok {
		html = "<html><body></body></html>"
	}
	return goquery.NewDocumentFromReader(strings.NewReader(html))
}

func (f *fixtureFetcher) Mode() string { return "fixture" }
func (f *fixtureFetcher) Close() error { return nil }

func TestPipelineEndToEndTwoPages(t *testing.T) {
	ctx := context.Background()
	logger := slog.Default()
	base := "https://shop.example.com/products"

	fetcher := &fixtureFetcher{pages: map[string]string{
		base: `<html><body>
			<div class="product-card"><h4>Catan</h4><p>34,90 €</p><p>Add to basket</p></div>
			<div class="product-card"><h4>Azul</h4><p>49,00 €</p><p>Out of stock</p></div>
		</body></html>`,
		base + "?page=2": `<html><body>
			<div class="product-card"><h4>Catan</h4><p>34,90 €</p><p>Add to basket</p></div>
			<div class="product-card"><h4>Carcassonne</h4><p>22,50 €</p><p>In stock</p></div>
		</body></html>`,
	}}

	scraper := scrape.New(fetcher, extract.New(logger), nil, logger)
	store := &fakeProductStore{}
	runs := &fakeRunStore{}

	out := filepath.Join(t.TempDir(), "out.csv")
	p := New(scraper, store, runs, nil, Options{
		BaseURL:    base,
		MaxPages:   2,
		Mode:       "static",
		OutputPath: out,
	}, logger)

	res, err := p.Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, []string{base, base + "?page=2"}, fetcher.calls, "page bound stops the crawl")
	assert.Equal(t, 4, res.RawCount)
	assert.Equal(t, 3, res.CleanCount)
	assert.Equal(t, 1, res.DuplicatesRemoved, "second Catan dropped, first kept")

	require.Len(t, store.stored, 3)
	assert.Equal(t, "Catan", store.stored[0].Name)
	assert.InDelta(t, 34.90, store.stored[0].Price, 0.001)
	assert.Equal(t, models.AvailabilityInStock, store.stored[0].Availability)
	assert.Equal(t, models.AvailabilityOutOfStock, store.stored[1].Availability)
	assert.Equal(t, "Carcassonne", store.stored[2].Name)
	assert.Equal(t, base+"?page=2", store.stored[2].SourceURL)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	csv := string(data)
	assert.Contains(t, csv, "Catan,34.90,EUR,In Stock")
	assert.Contains(t, csv, "Azul,49.00,EUR,Out of Stock")
	assert.Contains(t, csv, "Carcassonne,22.50,EUR,In Stock")
}

func TestPipelineScrapeFailureRecordsRun(t *testing.T) {
	ctx := context.Background()

	scraper := &fakeScraper{err: errors.New("network down")}
	runs := &fakeRunStore{}
	p := New(scraper, &fakeProductStore{}, runs, nil, Options{Mode: "static"}, slog.Default())

	_, err := p.Run(ctx)
	require.Error(t, err)
	assert.True(t, runs.finished, "failed runs still get a final record")
	assert.Error(t, runs.finishErr)
}

func TestPipelineStoreFailureIsFatal(t *testing.T) {
	ctx := context.Background()

	scraper := &fakeScraper{records: []models.RawRecord{rawRecord("Catan", "Catan|34,90 €|In stock")}}
	store := &fakeProductStore{err: errors.New("connection refused")}
	runs := &fakeRunStore{}
	p := New(scraper, store, runs, nil, Options{Mode: "static"}, slog.Default())

	_, err := p.Run(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to store products")
	assert.Equal(t, 1, runs.raw, "raw count survives a storage failure")
}

func TestPipelineNoOutputPathSkipsExport(t *testing.T) {
	ctx := context.Background()

	scraper := &fakeScraper{records: []models.RawRecord{rawRecord("Catan", "Catan|34,90 €|In stock")}}
	p := New(scraper, &fakeProductStore{}, &fakeRunStore{}, nil, Options{Mode: "static"}, slog.Default())

	res, err := p.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.CleanCount)
}
