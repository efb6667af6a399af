// Package api exposes the product table and scrape runs over JSON HTTP.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/mhofer/shelfwatch/internal/database"
	"github.com/mhofer/shelfwatch/internal/models"
	"github.com/mhofer/shelfwatch/internal/pipeline"
)

// ProductReader serves the read endpoints.
type ProductReader interface {
	List(ctx context.Context) ([]models.Product, error)
	CountByAvailability(ctx context.Context) (map[models.Availability]int, error)
}

// RunReader reports the most recent run.
type RunReader interface {
	Latest(ctx context.Context) (*database.ScrapeRun, error)
}

// Runner triggers a pipeline run. The API fires it asynchronously.
type Runner interface {
	Run(ctx context.Context) (*pipeline.Result, error)
}

type Handlers struct {
	products ProductReader
	runs     RunReader
	runner   Runner
	logger   *slog.Logger
}

func NewHandlers(products ProductReader, runs RunReader, runner Runner, logger *slog.Logger) *Handlers {
	return &Handlers{
		products: products,
		runs:     runs,
		runner:   runner,
		logger:   logger.With("component", "api"),
	}
}

// ProductResponse is the wire shape of one product.
type ProductResponse struct {
	ID           int64    `json:"id"`
	Name         string   `json:"name"`
	Price        float64  `json:"price"`
	Currency     string   `json:"currency"`
	Availability string   `json:"availability"`
	ImageURL     string   `json:"image_url,omitempty"`
	SourceURL    string   `json:"source_url"`
	ScrapedAt    string   `json:"scraped_at"`
	Category     string   `json:"category,omitempty"`
	Rating       *float64 `json:"rating,omitempty"`
}

// ListProducts handles GET /api/products.
func (h *Handlers) ListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.products.List(r.Context())
	if err != nil {
		h.logger.Error("failed to list products", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to list products")
		return
	}

	resp := make([]ProductResponse, len(products))
	for i, p := range products {
		resp[i] = ProductResponse{
			ID:           p.ID,
			Name:         p.Name,
			Price:        p.Price,
			Currency:     p.Currency,
			Availability: string(p.Availability),
			ImageURL:     p.ImageURL,
			SourceURL:    p.SourceURL,
			ScrapedAt:    p.ScrapedAt.UTC().Format(time.RFC3339),
			Category:     p.Category,
			Rating:       p.Rating,
		}
	}

	h.respondJSON(w, http.StatusOK, resp)
}

// StatsResponse summarizes the product table and the latest run.
type StatsResponse struct {
	Total        int            `json:"total"`
	Availability map[string]int `json:"availability"`
	LatestRun    *RunResponse   `json:"latest_run,omitempty"`
}

type RunResponse struct {
	ID                string `json:"id"`
	Mode              string `json:"mode"`
	Status            string `json:"status"`
	RawCount          int    `json:"raw_count"`
	CleanCount        int    `json:"clean_count"`
	DuplicatesRemoved int    `json:"duplicates_removed"`
	StartedAt         string `json:"started_at"`
	FinishedAt        string `json:"finished_at,omitempty"`
}

// GetStats handles GET /api/stats.
func (h *Handlers) GetStats(w http.ResponseWriter, r *http.Request) {
	counts, err := h.products.CountByAvailability(r.Context())
	if err != nil {
		h.logger.Error("failed to count products", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to get stats")
		return
	}

	resp := StatsResponse{Availability: make(map[string]int, len(counts))}
	for availability, n := range counts {
		resp.Availability[string(availability)] = n
		resp.Total += n
	}

	run, err := h.runs.Latest(r.Context())
	if err != nil {
		h.logger.Error("failed to load latest run", "error", err)
	} else if run != nil {
		rr := &RunResponse{
			ID:                run.ID.String(),
			Mode:              run.Mode,
			Status:            run.Status,
			RawCount:          run.RawCount,
			CleanCount:        run.CleanCount,
			DuplicatesRemoved: run.DuplicatesRemoved,
			StartedAt:         run.StartedAt.UTC().Format(time.RFC3339),
		}
		if run.FinishedAt != nil {
			rr.FinishedAt = run.FinishedAt.UTC().Format(time.RFC3339)
		}
		resp.LatestRun = rr
	}

	h.respondJSON(w, http.StatusOK, resp)
}

// TriggerScrape handles POST /api/scrape. The run proceeds in the
// background; the response only acknowledges the trigger.
func (h *Handlers) TriggerScrape(w http.ResponseWriter, r *http.Request) {
	if h.runner == nil {
		h.respondError(w, http.StatusServiceUnavailable, "scraping is not configured")
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
		defer cancel()

		if _, err := h.runner.Run(ctx); err != nil {
			h.logger.Error("triggered run failed", "error", err)
		}
	}()

	h.respondJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

// Healthz handles GET /healthz.
func (h *Handlers) Healthz(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handlers) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handlers) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}
