// Package fetch retrieves listing pages and hands back parsed documents.
// Two fetchers implement the same interface: a plain HTTP fetcher for
// static pages and a playwright-backed one for JavaScript-rendered pages.
package fetch

import (
	"context"
	"errors"
	"fmt"

	"github.com/PuerkitoBio/goquery"
)

const (
	ModeStatic   = "static"
	ModeRendered = "browser"
)

var (
	ErrBadStatus    = errors.New("unexpected response status")
	ErrFetchFailed  = errors.New("page fetch failed")
	ErrUnknownMode  = errors.New("unknown fetcher mode")
)

// Fetcher retrieves one listing page as a parsed document.
type Fetcher interface {
	FetchPage(ctx context.Context, url string) (*goquery.Document, error)
	Mode() string
	Close() error
}

// PageURL builds the listing URL for page n: the bare base URL for the
// first page, ?page=n afterwards.
func PageURL(baseURL string, n int) string {
	if n <= 1 {
		return baseURL
	}
	return fmt.Sprintf("%s?page=%d", baseURL, n)
}
