// Package pipeline wires scrape, clean, persistence and export into one
// run. The stages up to persistence tolerate partial failure; storage
// errors end the run.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/mhofer/shelfwatch/internal/clean"
	"github.com/mhofer/shelfwatch/internal/database"
	"github.com/mhofer/shelfwatch/internal/export"
	"github.com/mhofer/shelfwatch/internal/models"
)

// Scraper yields raw records for a listing. Both sequential and
// concurrent scrapers satisfy it.
type Scraper interface {
	Run(ctx context.Context, baseURL string, maxPages int) ([]models.RawRecord, error)
}

// ProductStore persists the cleaned batch.
type ProductStore interface {
	UpsertBatch(ctx context.Context, products []models.Product) ([]database.PriceChange, error)
}

// RunStore records run lifecycle and statistics.
type RunStore interface {
	Start(ctx context.Context, mode, baseURL string, maxPages int) (uuid.UUID, error)
	Finish(ctx context.Context, id uuid.UUID, rawCount, cleanCount, duplicatesRemoved int, runErr error) error
}

// EventSink receives price changes after a successful upsert.
type EventSink interface {
	PublishPriceChanges(ctx context.Context, runID uuid.UUID, changes []database.PriceChange) error
}

type Options struct {
	BaseURL    string
	MaxPages   int
	Mode       string
	OutputPath string
}

type Pipeline struct {
	scraper  Scraper
	products ProductStore
	runs     RunStore
	events   EventSink
	opts     Options
	logger   *slog.Logger
}

// Result summarizes a completed run.
type Result struct {
	RunID             uuid.UUID
	RawCount          int
	CleanCount        int
	DuplicatesRemoved int
	PriceChanges      int
	Products          []models.Product
}

func New(scraper Scraper, products ProductStore, runs RunStore, events EventSink, opts Options, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		scraper:  scraper,
		products: products,
		runs:     runs,
		events:   events,
		opts:     opts,
		logger:   logger.With("component", "pipeline"),
	}
}

// Run executes one full scrape cycle. Run statistics are recorded even
// when the run fails partway.
func (p *Pipeline) Run(ctx context.Context) (*Result, error) {
	runID, err := p.runs.Start(ctx, p.opts.Mode, p.opts.BaseURL, p.opts.MaxPages)
	if err != nil {
		return nil, fmt.Errorf("failed to start run: %w", err)
	}

	res, err := p.execute(ctx, runID)
	if finErr := p.runs.Finish(ctx, runID, res.RawCount, res.CleanCount, res.DuplicatesRemoved, err); finErr != nil {
		p.logger.Error("failed to record run outcome", "run_id", runID, "error", finErr)
	}
	if err != nil {
		return nil, err
	}

	return res, nil
}

func (p *Pipeline) execute(ctx context.Context, runID uuid.UUID) (*Result, error) {
	res := &Result{RunID: runID}

	p.logger.Info("starting run",
		"run_id", runID,
		"base_url", p.opts.BaseURL,
		"max_pages", p.opts.MaxPages,
		"mode", p.opts.Mode)

	raws, err := p.scraper.Run(ctx, p.opts.BaseURL, p.opts.MaxPages)
	if err != nil {
		return res, fmt.Errorf("scrape failed: %w", err)
	}
	res.RawCount = len(raws)

	cleaned := clean.NormalizeAll(raws)
	deduped := clean.Dedupe(cleaned, p.logger)
	res.DuplicatesRemoved = len(cleaned) - len(deduped)
	res.CleanCount = len(deduped)
	res.Products = deduped

	changes, err := p.products.UpsertBatch(ctx, deduped)
	if err != nil {
		return res, fmt.Errorf("failed to store products: %w", err)
	}
	res.PriceChanges = len(changes)

	if p.events != nil && len(changes) > 0 {
		if err := p.events.PublishPriceChanges(ctx, runID, changes); err != nil {
			// Notifications are best effort, the data is already stored.
			p.logger.Error("failed to publish price changes", "run_id", runID, "error", err)
		}
	}

	if p.opts.OutputPath != "" {
		if err := export.ExportFile(p.opts.OutputPath, deduped); err != nil {
			return res, fmt.Errorf("failed to export csv: %w", err)
		}
		p.logger.Info("exported products", "path", p.opts.OutputPath, "count", len(deduped))
	}

	p.logger.Info("run completed",
		"run_id", runID,
		"raw", res.RawCount,
		"clean", res.CleanCount,
		"duplicates_removed", res.DuplicatesRemoved,
		"price_changes", res.PriceChanges)

	return res, nil
}
