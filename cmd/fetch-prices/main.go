package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/rewired-gh/polysegment/internal/config"
	"github.com/rewired-gh/polysegment/internal/dataset"
	"github.com/rewired-gh/polysegment/internal/logger"
	"github.com/rewired-gh/polysegment/internal/polymarket"
)

var (
	configPath = flag.String("config", "configs/config.yaml", "Path to configuration file")
	overwrite  = flag.Bool("overwrite", false, "Replace price files that already exist")
)

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger.Init(cfg.Logging.Level, cfg.Logging.Format)
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, cancelling fetch...")
		cancel()
	}()

	dirs, err := dataset.SelectEvents(cfg.Data.RawDir, cfg.Data.TopEvents)
	if err != nil {
		logger.Fatal("Failed to list events: %v", err)
	}

	loader := dataset.NewLoader(cfg.Data.AmountColumns, cfg.Data.TimestampColumn)
	var events []*dataset.Event
	for _, dir := range dirs {
		ev, err := loader.LoadEvent(dir)
		if err != nil {
			// Events the pipeline skips need no prices.
			logger.Warn("Skipping event %s: %v", filepath.Base(dir), err)
			continue
		}
		events = append(events, ev)
	}

	fetcher := &polymarket.Fetcher{
		Client: polymarket.NewClient(
			cfg.Polymarket.CLOBAPIURL,
			cfg.Polymarket.Timeout,
			cfg.Polymarket.MaxRetries,
			cfg.Polymarket.RetryDelayBase,
		),
		Interval:  cfg.Polymarket.Interval,
		Fidelity:  cfg.Polymarket.Fidelity,
		Workers:   cfg.WorkerCount(),
		Overwrite: *overwrite,
		Limiter:   polymarket.NewLimiter(cfg.Polymarket.RequestsPerSecond),
	}

	logger.Info("Fetching price history for %d events from %s", len(events), cfg.Polymarket.CLOBAPIURL)
	results, err := fetcher.FetchEvents(ctx, events)
	if err != nil {
		logger.Fatal("Price fetch aborted: %v", err)
	}

	fetched, kept, failed := 0, 0, 0
	for _, res := range results {
		switch {
		case res.Err != nil:
			failed++
			logger.Warn("Failed to fetch prices for %s:%s: %v", res.EventID, res.MarketID, res.Err)
		case res.Skipped:
			kept++
		default:
			fetched++
		}
	}
	logger.Info("Price fetch completed: %d fetched, %d kept, %d failed", fetched, kept, failed)
}
