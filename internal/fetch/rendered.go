package fetch

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/playwright-community/playwright-go"

	"github.com/mhofer/shelfwatch/internal/browser"
)

// RenderedFetcher drives a headless browser for pages that only fill in
// their product grid after JavaScript runs. One page (tab) is opened per
// fetch from the shared context and always closed again; failures are not
// retried here, the paginator treats them as empty pages.
type RenderedFetcher struct {
	browser *browser.Browser
	logger  *slog.Logger
}

func NewRenderedFetcher(b *browser.Browser, logger *slog.Logger) *RenderedFetcher {
	return &RenderedFetcher{
		browser: b,
		logger:  logger.With("component", "rendered_fetcher"),
	}
}

func (f *RenderedFetcher) Mode() string { return ModeRendered }

func (f *RenderedFetcher) Close() error {
	return f.browser.Close()
}

func (f *RenderedFetcher) FetchPage(ctx context.Context, url string) (*goquery.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	page, err := f.browser.NewPage()
	if err != nil {
		return nil, fmt.Errorf("failed to create page: %w", err)
	}
	defer page.Close()

	timeout := float64(f.browser.Timeout().Milliseconds())
	if _, err := page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
		Timeout:   playwright.Float(timeout),
	}); err != nil {
		return nil, fmt.Errorf("%w: navigate %s: %v", ErrFetchFailed, url, err)
	}

	// Give the product grid a chance to render; a page without cards is
	// still a valid (empty) page, so a missed selector is not an error.
	if _, err := page.WaitForSelector("div.product-card", playwright.PageWaitForSelectorOptions{
		Timeout: playwright.Float(timeout / 3),
	}); err != nil {
		f.logger.Debug("no product cards appeared", "url", url)
	}

	html, err := page.Content()
	if err != nil {
		return nil, fmt.Errorf("%w: read content: %v", ErrFetchFailed, err)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse rendered page: %w", err)
	}

	return doc, nil
}
