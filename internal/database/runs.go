package database

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const (
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
)

// ScrapeRun records one pipeline execution and its headline statistics.
type ScrapeRun struct {
	ID                uuid.UUID
	Mode              string
	BaseURL           string
	MaxPages          int
	Status            string
	RawCount          int
	CleanCount        int
	DuplicatesRemoved int
	ErrorMessage      string
	StartedAt         time.Time
	FinishedAt        *time.Time
}

type RunRepository struct {
	db *DB
}

func NewRunRepository(db *DB) *RunRepository {
	return &RunRepository{db: db}
}

// Start records a new run and returns its id.
func (r *RunRepository) Start(ctx context.Context, mode, baseURL string, maxPages int) (uuid.UUID, error) {
	id := uuid.New()

	_, err := r.db.pool.Exec(ctx, `
		INSERT INTO scrape_runs (id, mode, base_url, max_pages, status, started_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		id, mode, baseURL, maxPages, RunStatusRunning, time.Now().UTC(),
	)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to insert run: %w", err)
	}

	return id, nil
}

// Finish closes out a run with its final statistics. A non-nil runErr
// marks the run failed and stores the message.
func (r *RunRepository) Finish(ctx context.Context, id uuid.UUID, rawCount, cleanCount, duplicatesRemoved int, runErr error) error {
	status := RunStatusCompleted
	var errMsg *string
	if runErr != nil {
		status = RunStatusFailed
		msg := runErr.Error()
		errMsg = &msg
	}

	_, err := r.db.pool.Exec(ctx, `
		UPDATE scrape_runs SET
			status = $2,
			raw_count = $3,
			clean_count = $4,
			duplicates_removed = $5,
			error_message = $6,
			finished_at = $7
		WHERE id = $1`,
		id, status, rawCount, cleanCount, duplicatesRemoved, errMsg, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}

	return nil
}

// Latest returns the most recently started run, or nil when none exist.
func (r *RunRepository) Latest(ctx context.Context) (*ScrapeRun, error) {
	run := &ScrapeRun{}

	err := r.db.pool.QueryRow(ctx, `
		SELECT id, mode, base_url, max_pages, status, raw_count, clean_count,
		       duplicates_removed, COALESCE(error_message, ''), started_at, finished_at
		FROM scrape_runs
		ORDER BY started_at DESC
		LIMIT 1`).Scan(
		&run.ID, &run.Mode, &run.BaseURL, &run.MaxPages, &run.Status,
		&run.RawCount, &run.CleanCount, &run.DuplicatesRemoved,
		&run.ErrorMessage, &run.StartedAt, &run.FinishedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query latest run: %w", err)
	}

	return run, nil
}
