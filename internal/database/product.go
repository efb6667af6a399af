package database

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"

	"github.com/mhofer/shelfwatch/internal/models"
)

// ProductRepository reads and writes product rows. Name uniqueness is
// enforced here at the upsert level, not by a database constraint, so
// rows written by older schema versions without the index stay readable.
type ProductRepository struct {
	db     *DB
	logger *slog.Logger
}

func NewProductRepository(db *DB, logger *slog.Logger) *ProductRepository {
	return &ProductRepository{
		db:     db,
		logger: logger.With("component", "product_repository"),
	}
}

// PriceChange reports a product whose stored price differed from the
// incoming one during an upsert.
type PriceChange struct {
	Name     string
	OldPrice float64
	NewPrice float64
}

// UpsertBatch inserts or updates every record inside one transaction:
// either the whole batch lands or none of it does. Existing rows keep
// their primary key; only the mutable fields (price, availability,
// image_url, scraped_at) are overwritten.
func (r *ProductRepository) UpsertBatch(ctx context.Context, products []models.Product) ([]PriceChange, error) {
	if len(products) == 0 {
		return nil, nil
	}

	var changes []PriceChange

	err := r.db.WithTx(ctx, func(tx pgx.Tx) error {
		for _, p := range products {
			change, err := r.upsertOne(ctx, tx, p)
			if err != nil {
				return fmt.Errorf("upsert %q: %w", p.Name, err)
			}
			if change != nil {
				changes = append(changes, *change)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	r.logger.Info("upserted products", "count", len(products), "price_changes", len(changes))
	return changes, nil
}

func (r *ProductRepository) upsertOne(ctx context.Context, tx pgx.Tx, p models.Product) (*PriceChange, error) {
	var (
		id       int64
		oldPrice float64
	)

	err := tx.QueryRow(ctx,
		`SELECT id, price FROM products WHERE name = $1 ORDER BY id LIMIT 1 FOR UPDATE`,
		p.Name,
	).Scan(&id, &oldPrice)

	if err == pgx.ErrNoRows {
		_, err = tx.Exec(ctx, `
			INSERT INTO products (name, price, currency, availability, image_url, source_url, scraped_at, category, rating)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			p.Name, p.Price, p.Currency, p.Availability, nullable(p.ImageURL), p.SourceURL, p.ScrapedAt,
			nullable(p.Category), p.Rating,
		)
		return nil, err
	}
	if err != nil {
		return nil, err
	}

	_, err = tx.Exec(ctx, `
		UPDATE products SET
			price = $2,
			availability = $3,
			image_url = $4,
			scraped_at = $5,
			updated_at = now()
		WHERE id = $1`,
		id, p.Price, p.Availability, nullable(p.ImageURL), p.ScrapedAt,
	)
	if err != nil {
		return nil, err
	}

	if oldPrice != p.Price {
		return &PriceChange{Name: p.Name, OldPrice: oldPrice, NewPrice: p.Price}, nil
	}
	return nil, nil
}

// List returns all stored products ordered by name.
func (r *ProductRepository) List(ctx context.Context) ([]models.Product, error) {
	rows, err := r.db.pool.Query(ctx, `
		SELECT id, name, price, currency, availability,
		       COALESCE(image_url, ''), source_url, scraped_at,
		       COALESCE(category, ''), rating
		FROM products
		ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to query products: %w", err)
	}
	defer rows.Close()

	var products []models.Product
	for rows.Next() {
		var p models.Product
		if err := rows.Scan(
			&p.ID, &p.Name, &p.Price, &p.Currency, &p.Availability,
			&p.ImageURL, &p.SourceURL, &p.ScrapedAt, &p.Category, &p.Rating,
		); err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}
		// Rows written outside the pipeline may carry arbitrary text.
		if !p.Availability.Valid() {
			p.Availability = models.AvailabilityUnknown
		}
		products = append(products, p)
	}

	return products, rows.Err()
}

// CountByAvailability returns row counts per availability state.
func (r *ProductRepository) CountByAvailability(ctx context.Context) (map[models.Availability]int, error) {
	rows, err := r.db.pool.Query(ctx,
		`SELECT availability, COUNT(*) FROM products GROUP BY availability`)
	if err != nil {
		return nil, fmt.Errorf("failed to count products: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.Availability]int)
	for rows.Next() {
		var a models.Availability
		var n int
		if err := rows.Scan(&a, &n); err != nil {
			return nil, fmt.Errorf("failed to scan count: %w", err)
		}
		counts[a] = n
	}

	return counts, rows.Err()
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
