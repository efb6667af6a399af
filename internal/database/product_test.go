package database

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mhofer/shelfwatch/internal/models"
)

// setupTestDB connects to the database named by TEST_DATABASE_URL.
// Without it these tests are skipped; they need a running Postgres.
func setupTestDB(t *testing.T) *DB {
	t.Helper()

	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	ctx := context.Background()

	db, err := NewFromDSN(ctx, dsn)
	require.NoError(t, err)
	require.NoError(t, db.Init(ctx))

	t.Cleanup(func() {
		db.pool.Exec(ctx, `TRUNCATE products, scrape_runs`)
		db.Close()
	})

	return db
}

func testProduct(name string, price float64) models.Product {
	return models.Product{
		Name:         name,
		Price:        price,
		Currency:     models.DefaultCurrency,
		Availability: models.AvailabilityInStock,
		ImageURL:     "https://cdn.example.com/img.jpg",
		SourceURL:    "https://shop.example.com/products",
		ScrapedAt:    time.Now().UTC(),
	}
}

func TestUpsertBatchInsertsAndUpdates(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	repo := NewProductRepository(db, slog.Default())

	// First call inserts.
	_, err := repo.UpsertBatch(ctx, []models.Product{testProduct("Game A", 10.00)})
	require.NoError(t, err)

	stored, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	firstID := stored[0].ID

	// Second call with the same name updates in place.
	changes, err := repo.UpsertBatch(ctx, []models.Product{testProduct("Game A", 12.50)})
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.Equal(t, "Game A", changes[0].Name)
	assert.InDelta(t, 10.00, changes[0].OldPrice, 0.001)
	assert.InDelta(t, 12.50, changes[0].NewPrice, 0.001)

	stored, err = repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, stored, 1, "upsert is idempotent on name")
	assert.Equal(t, firstID, stored[0].ID, "primary key survives updates")
	assert.InDelta(t, 12.50, stored[0].Price, 0.001)
}

func TestUpsertBatchNoPriceChangeNoReport(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	repo := NewProductRepository(db, slog.Default())

	p := testProduct("Stable", 5.00)
	_, err := repo.UpsertBatch(ctx, []models.Product{p})
	require.NoError(t, err)

	changes, err := repo.UpsertBatch(ctx, []models.Product{p})
	require.NoError(t, err)
	assert.Empty(t, changes)
}

func TestListMapsForeignAvailabilityToUnknown(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	repo := NewProductRepository(db, slog.Default())

	// A row written by hand, bypassing the pipeline's enum.
	_, err := db.pool.Exec(ctx, `
		INSERT INTO products (name, price, currency, availability, source_url, scraped_at)
		VALUES ('Legacy', 9.99, 'EUR', 'sold out', 'https://shop.example.com/products', now())`)
	require.NoError(t, err)

	stored, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, models.AvailabilityUnknown, stored[0].Availability)
}

func TestCountByAvailability(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	repo := NewProductRepository(db, slog.Default())

	a := testProduct("A", 1)
	b := testProduct("B", 2)
	b.Availability = models.AvailabilityOutOfStock

	_, err := repo.UpsertBatch(ctx, []models.Product{a, b})
	require.NoError(t, err)

	counts, err := repo.CountByAvailability(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[models.AvailabilityInStock])
	assert.Equal(t, 1, counts[models.AvailabilityOutOfStock])
}

func TestRunRepositoryLifecycle(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	runs := NewRunRepository(db)

	id, err := runs.Start(ctx, "static", "https://shop.example.com/products", 10)
	require.NoError(t, err)

	require.NoError(t, runs.Finish(ctx, id, 24, 22, 2, nil))

	latest, err := runs.Latest(ctx)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, id, latest.ID)
	assert.Equal(t, RunStatusCompleted, latest.Status)
	assert.Equal(t, 24, latest.RawCount)
	assert.Equal(t, 22, latest.CleanCount)
	assert.Equal(t, 2, latest.DuplicatesRemoved)
	assert.NotNil(t, latest.FinishedAt)
}
