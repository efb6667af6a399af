// Package scrape drives pagination over the listing: it fetches pages
// through a Fetcher, extracts raw records, and decides when to stop.
package scrape

import (
	"context"
	"log/slog"
	"sync"

	"github.com/PuerkitoBio/goquery"

	"github.com/mhofer/shelfwatch/internal/fetch"
	"github.com/mhofer/shelfwatch/internal/models"
	"github.com/mhofer/shelfwatch/internal/ratelimit"
)

const (
	// emptyThreshold stops a run after this many consecutive empty fetch
	// units. Sequential mode counts pages, concurrent mode counts whole
	// batches; both share the same threshold so the stop behavior is
	// documented in exactly one place.
	emptyThreshold = 3

	// batchSize pages are rendered together in concurrent mode, bounded
	// by concurrencyLimit simultaneous browser pages.
	batchSize        = 3
	concurrencyLimit = 3
)

// Extractor turns a fetched document into raw records.
type Extractor interface {
	Extract(doc *goquery.Document, sourceURL string) []models.RawRecord
}

type Scraper struct {
	fetcher   fetch.Fetcher
	extractor Extractor
	limiter   ratelimit.Limiter
	logger    *slog.Logger
}

func New(fetcher fetch.Fetcher, extractor Extractor, limiter ratelimit.Limiter, logger *slog.Logger) *Scraper {
	if limiter == nil {
		limiter = ratelimit.None{}
	}
	return &Scraper{
		fetcher:   fetcher,
		extractor: extractor,
		limiter:   limiter,
		logger:    logger.With("component", "scraper", "mode", fetcher.Mode()),
	}
}

// Run walks pages sequentially starting at 1. It stops at maxPages
// (0 means unbounded) or after emptyThreshold consecutive empty pages.
// A failed fetch counts as an empty page and never aborts the run.
func (s *Scraper) Run(ctx context.Context, baseURL string, maxPages int) ([]models.RawRecord, error) {
	var all []models.RawRecord

	page := 1
	consecutiveEmpty := 0

	for {
		if maxPages > 0 && page > maxPages {
			s.logger.Info("reached max pages", "max_pages", maxPages)
			break
		}
		if consecutiveEmpty >= emptyThreshold {
			s.logger.Info("stopping after consecutive empty pages", "threshold", emptyThreshold)
			break
		}

		if err := s.limiter.Wait(ctx); err != nil {
			return all, err
		}

		url := fetch.PageURL(baseURL, page)
		records, err := s.scrapePage(ctx, url)
		switch {
		case err != nil:
			s.logger.Error("page fetch failed", "url", url, "error", err)
			consecutiveEmpty++
		case len(records) == 0:
			s.logger.Warn("no products found on page", "page", page)
			consecutiveEmpty++
		default:
			consecutiveEmpty = 0
			all = append(all, records...)
			s.logger.Info("scraped page", "page", page, "records", len(records), "total", len(all))
		}

		page++
	}

	if len(all) == 0 {
		s.logger.Warn("run produced no records", "base_url", baseURL)
	}

	return all, ctx.Err()
}

// RunConcurrent fetches pages in batches of batchSize, each batch bounded
// by concurrencyLimit parallel fetches. A page failure contributes zero
// records without failing its batch. The empty-stop heuristic applies at
// batch granularity with the same threshold as sequential mode. Ordering
// holds across batches; within a batch it follows page number because
// results are merged positionally after the batch joins.
func (s *Scraper) RunConcurrent(ctx context.Context, baseURL string, maxPages int) ([]models.RawRecord, error) {
	var all []models.RawRecord

	page := 1
	consecutiveEmpty := 0
	sem := make(chan struct{}, concurrencyLimit)

	for {
		if consecutiveEmpty >= emptyThreshold {
			s.logger.Info("stopping after consecutive empty batches", "threshold", emptyThreshold)
			break
		}

		var urls []string
		for i := 0; i < batchSize; i++ {
			n := page + i
			if maxPages > 0 && n > maxPages {
				break
			}
			urls = append(urls, fetch.PageURL(baseURL, n))
		}
		if len(urls) == 0 {
			s.logger.Info("reached max pages", "max_pages", maxPages)
			break
		}

		if err := s.limiter.Wait(ctx); err != nil {
			return all, err
		}

		results := make([][]models.RawRecord, len(urls))
		var wg sync.WaitGroup
		for i, url := range urls {
			wg.Add(1)
			go func(i int, url string) {
				defer wg.Done()
				sem <- struct{}{}
				defer func() { <-sem }()

				records, err := s.scrapePage(ctx, url)
				if err != nil {
					// Isolated: this page contributes nothing, the batch
					// carries on.
					s.logger.Error("page fetch failed", "url", url, "error", err)
					return
				}
				results[i] = records
			}(i, url)
		}
		wg.Wait()

		batchTotal := 0
		for _, records := range results {
			batchTotal += len(records)
			all = append(all, records...)
		}

		if batchTotal == 0 {
			consecutiveEmpty++
			s.logger.Warn("empty batch", "first_page", page, "pages", len(urls))
		} else {
			consecutiveEmpty = 0
			s.logger.Info("scraped batch", "first_page", page, "records", batchTotal, "total", len(all))
		}

		page += len(urls)
	}

	if len(all) == 0 {
		s.logger.Warn("run produced no records", "base_url", baseURL)
	}

	return all, ctx.Err()
}

// ConcurrentRunner exposes RunConcurrent under the sequential Run
// signature so callers can swap modes behind one interface.
type ConcurrentRunner struct {
	*Scraper
}

func (c ConcurrentRunner) Run(ctx context.Context, baseURL string, maxPages int) ([]models.RawRecord, error) {
	return c.Scraper.RunConcurrent(ctx, baseURL, maxPages)
}

func (s *Scraper) scrapePage(ctx context.Context, url string) ([]models.RawRecord, error) {
	doc, err := s.fetcher.FetchPage(ctx, url)
	if err != nil {
		return nil, err
	}
	return s.extractor.Extract(doc, url), nil
}
