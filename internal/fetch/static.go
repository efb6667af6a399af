package fetch

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"
)

// retryStatuses is the allowlist of response codes worth retrying.
var retryStatuses = map[int]bool{
	429: true,
	500: true,
	502: true,
	503: true,
	504: true,
}

// StaticFetcher fetches server-rendered pages over plain HTTP with
// bounded retries and exponential backoff.
type StaticFetcher struct {
	collector  *colly.Collector
	maxRetries int
	backoff    time.Duration
	logger     *slog.Logger
}

type StaticOptions struct {
	UserAgent  string
	Timeout    time.Duration
	MaxRetries int
	Backoff    time.Duration
}

func DefaultStaticOptions() StaticOptions {
	return StaticOptions{
		UserAgent:  "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		Timeout:    30 * time.Second,
		MaxRetries: 3,
		Backoff:    500 * time.Millisecond,
	}
}

func NewStaticFetcher(opts StaticOptions, logger *slog.Logger) *StaticFetcher {
	c := colly.NewCollector(
		colly.UserAgent(opts.UserAgent),
		colly.AllowURLRevisit(),
	)
	c.SetRequestTimeout(opts.Timeout)

	return &StaticFetcher{
		collector:  c,
		maxRetries: opts.MaxRetries,
		backoff:    opts.Backoff,
		logger:     logger.With("component", "static_fetcher"),
	}
}

func (f *StaticFetcher) Mode() string { return ModeStatic }

func (f *StaticFetcher) Close() error { return nil }

// FetchPage requests the URL, retrying transport failures and allowlisted
// status codes with exponential backoff.
func (f *StaticFetcher) FetchPage(ctx context.Context, url string) (*goquery.Document, error) {
	var lastErr error

	for attempt := 0; attempt <= f.maxRetries; attempt++ {
		if attempt > 0 {
			delay := f.backoff << (attempt - 1)
			f.logger.Info("retrying fetch", "url", url, "attempt", attempt+1, "delay", delay)

			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		doc, status, err := f.fetchOnce(url)
		if err == nil {
			return doc, nil
		}
		lastErr = err

		// Only transport failures (status 0) and allowlisted codes are
		// worth another attempt.
		if status != 0 && !retryStatuses[status] {
			break
		}
	}

	return nil, fmt.Errorf("fetch %s: %w", url, lastErr)
}

func (f *StaticFetcher) fetchOnce(url string) (*goquery.Document, int, error) {
	var (
		doc      *goquery.Document
		status   int
		fetchErr error
	)

	// Clone copies collector settings but not callbacks, keeping each
	// fetch independent.
	c := f.collector.Clone()

	c.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
		r.Headers.Set("Accept-Language", "en-US,en;q=0.5")
	})

	c.OnResponse(func(r *colly.Response) {
		status = r.StatusCode
		d, err := goquery.NewDocumentFromReader(bytes.NewReader(r.Body))
		if err != nil {
			fetchErr = fmt.Errorf("parse response: %w", err)
			return
		}
		doc = d
	})

	c.OnError(func(r *colly.Response, err error) {
		if r != nil {
			status = r.StatusCode
		}
		fetchErr = err
	})

	if err := c.Visit(url); err != nil {
		return nil, status, fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}
	c.Wait()

	if fetchErr != nil {
		if status != 0 {
			return nil, status, fmt.Errorf("%w: %d: %v", ErrBadStatus, status, fetchErr)
		}
		return nil, 0, fmt.Errorf("%w: %v", ErrFetchFailed, fetchErr)
	}
	if doc == nil {
		return nil, status, ErrFetchFailed
	}

	return doc, status, nil
}
