// Package events publishes price-change notifications to a Redis stream
// so downstream consumers can react to repricing without polling the
// products table.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/mhofer/shelfwatch/internal/database"
)

const DefaultStream = "shelfwatch:price-changes"

// RedisClient interface for Redis operations (for testing)
type RedisClient interface {
	XAdd(ctx context.Context, args *redis.XAddArgs) *redis.StringCmd
	Close() error
}

// Publisher writes price-change events to a Redis stream. A nil
// Publisher is valid and publishes nothing.
type Publisher struct {
	redis  RedisClient
	stream string
	logger *slog.Logger
}

func NewPublisher(client RedisClient, stream string, logger *slog.Logger) *Publisher {
	if stream == "" {
		stream = DefaultStream
	}
	return &Publisher{
		redis:  client,
		stream: stream,
		logger: logger.With("component", "events"),
	}
}

// PublishPriceChanges emits one stream entry per change. Individual
// publish failures are logged and counted but do not stop the batch.
func (p *Publisher) PublishPriceChanges(ctx context.Context, runID uuid.UUID, changes []database.PriceChange) error {
	if p == nil || len(changes) == 0 {
		return nil
	}

	var failed int
	for _, change := range changes {
		if err := p.publishOne(ctx, runID, change); err != nil {
			p.logger.Error("failed to publish price change",
				"product", change.Name,
				"error", err)
			failed++
		}
	}

	p.logger.Info("published price changes",
		"stream", p.stream,
		"count", len(changes)-failed,
		"failed", failed)

	if failed == len(changes) {
		return fmt.Errorf("all %d price change events failed to publish", failed)
	}
	return nil
}

func (p *Publisher) publishOne(ctx context.Context, runID uuid.UUID, change database.PriceChange) error {
	payload := map[string]interface{}{
		"product_name": change.Name,
		"old_price":    change.OldPrice,
		"new_price":    change.NewPrice,
		"run_id":       runID.String(),
		"timestamp":    time.Now().UTC().Format(time.RFC3339),
	}

	dataJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	args := &redis.XAddArgs{
		Stream: p.stream,
		Values: map[string]interface{}{
			"type": "product.price_changed",
			"data": string(dataJSON),
		},
	}

	if _, err := p.redis.XAdd(ctx, args).Result(); err != nil {
		return fmt.Errorf("failed to publish to redis: %w", err)
	}

	return nil
}

// Close releases the underlying Redis connection.
func (p *Publisher) Close() error {
	if p == nil || p.redis == nil {
		return nil
	}
	return p.redis.Close()
}
