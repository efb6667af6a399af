package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/mhofer/shelfwatch/internal/browser"
	"github.com/mhofer/shelfwatch/internal/config"
	"github.com/mhofer/shelfwatch/internal/database"
	"github.com/mhofer/shelfwatch/internal/events"
	"github.com/mhofer/shelfwatch/internal/extract"
	"github.com/mhofer/shelfwatch/internal/fetch"
	"github.com/mhofer/shelfwatch/internal/pipeline"
	"github.com/mhofer/shelfwatch/internal/ratelimit"
	"github.com/mhofer/shelfwatch/internal/scrape"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	pages := flag.Int("pages", cfg.Scraper.MaxPages, "maximum number of listing pages to scrape, 0 means unbounded")
	delay := flag.Duration("delay", cfg.Scraper.Delay, "delay between page fetches")
	mode := flag.String("mode", cfg.Scraper.Mode, "fetch mode: static or browser")
	output := flag.String("output", cfg.Scraper.OutputPath, "CSV export path, empty disables export")
	concurrent := flag.Bool("concurrent", false, "fetch pages in concurrent batches")
	flag.Parse()

	cfg.Scraper.MaxPages = *pages
	cfg.Scraper.Delay = *delay
	cfg.Scraper.Mode = *mode
	cfg.Scraper.OutputPath = *output

	logger := newLogger(cfg.Logging)
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan
		logger.Info("interrupt received, stopping")
		cancel()
	}()

	db, err := database.New(ctx, database.Config{
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		Database: cfg.Database.DBName,
		SSLMode:  cfg.Database.SSLMode,
	})
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := db.Init(ctx); err != nil {
		logger.Error("failed to init schema", "error", err)
		os.Exit(1)
	}

	fetcher, err := newFetcher(cfg, logger)
	if err != nil {
		logger.Error("failed to set up fetcher", "error", err)
		os.Exit(1)
	}
	defer fetcher.Close()

	var publisher *events.Publisher
	if cfg.Redis.Addr != "" {
		redisClient := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Error("failed to connect to redis", "error", err)
			os.Exit(1)
		}
		publisher = events.NewPublisher(redisClient, cfg.Redis.Stream, logger)
		defer publisher.Close()
	}

	scraper := scrape.New(fetcher, extract.New(logger), ratelimit.NewFixedDelay(cfg.Scraper.Delay), logger)

	var runner pipeline.Scraper = scraper
	if *concurrent {
		runner = scrape.ConcurrentRunner{Scraper: scraper}
	}

	p := pipeline.New(
		runner,
		database.NewProductRepository(db, logger),
		database.NewRunRepository(db),
		publisher,
		pipeline.Options{
			BaseURL:    cfg.Scraper.BaseURL,
			MaxPages:   cfg.Scraper.MaxPages,
			Mode:       cfg.Scraper.Mode,
			OutputPath: cfg.Scraper.OutputPath,
		},
		logger,
	)

	res, err := p.Run(ctx)
	if err != nil {
		logger.Error("run failed", "error", err)
		os.Exit(1)
	}

	logger.Info("done",
		"run_id", res.RunID,
		"products", res.CleanCount,
		"duplicates_removed", res.DuplicatesRemoved,
		"price_changes", res.PriceChanges)
}

func newFetcher(cfg *config.Config, logger *slog.Logger) (fetch.Fetcher, error) {
	switch cfg.Scraper.Mode {
	case config.ModeBrowser:
		b, err := browser.New(&browser.Options{
			Headless: cfg.Browser.Headless,
			Timeout:  cfg.Browser.Timeout,
		})
		if err != nil {
			return nil, err
		}
		return fetch.NewRenderedFetcher(b, logger), nil
	case config.ModeStatic:
		return fetch.NewStaticFetcher(fetch.StaticOptions{
			UserAgent:  cfg.Scraper.UserAgent,
			Timeout:    cfg.Scraper.Timeout,
			MaxRetries: cfg.Scraper.MaxRetries,
			Backoff:    cfg.Scraper.RetryDelay,
		}, logger), nil
	default:
		return nil, fmt.Errorf("%w: %s", fetch.ErrUnknownMode, cfg.Scraper.Mode)
	}
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}
