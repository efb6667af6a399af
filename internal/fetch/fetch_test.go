package fetch

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPageURL(t *testing.T) {
	base := "https://shop.example.com/products"

	tests := []struct {
		name     string
		page     int
		expected string
	}{
		{"First page is bare", 1, base},
		{"Zero clamps to bare", 0, base},
		{"Second page", 2, base + "?page=2"},
		{"Deep page", 17, base + "?page=17"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, PageURL(base, tt.page))
		})
	}
}

func TestStaticFetcherFetchPage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><body><div class="product-card"><h4>Served Game</h4><p>9,99 €</p></div></body></html>`))
	}))
	defer srv.Close()

	f := NewStaticFetcher(DefaultStaticOptions(), slog.Default())
	defer f.Close()

	doc, err := f.FetchPage(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "Served Game", doc.Find("h4").Text())
}

func TestStaticFetcherRetriesOnAllowlistedStatus(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`<html><body><h4>Recovered</h4></body></html>`))
	}))
	defer srv.Close()

	opts := DefaultStaticOptions()
	opts.MaxRetries = 3
	opts.Backoff = time.Millisecond

	f := NewStaticFetcher(opts, slog.Default())
	defer f.Close()

	doc, err := f.FetchPage(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "Recovered", doc.Find("h4").Text())
	assert.Equal(t, int32(3), calls.Load())
}

func TestStaticFetcherDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	opts := DefaultStaticOptions()
	opts.MaxRetries = 3
	opts.Backoff = time.Millisecond

	f := NewStaticFetcher(opts, slog.Default())
	defer f.Close()

	_, err := f.FetchPage(context.Background(), srv.URL)
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load(), "404 is not on the retry allowlist")
}

func TestStaticFetcherExhaustsRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	opts := DefaultStaticOptions()
	opts.MaxRetries = 2
	opts.Backoff = time.Millisecond

	f := NewStaticFetcher(opts, slog.Default())
	defer f.Close()

	_, err := f.FetchPage(context.Background(), srv.URL)
	require.Error(t, err)
	assert.Equal(t, int32(3), calls.Load(), "initial attempt plus two retries")
}
