package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/rewired-gh/polysegment/internal/config"
	"github.com/rewired-gh/polysegment/internal/dataset"
	"github.com/rewired-gh/polysegment/internal/exporter"
	"github.com/rewired-gh/polysegment/internal/logger"
	"github.com/rewired-gh/polysegment/internal/metrics"
	"github.com/rewired-gh/polysegment/internal/models"
	"github.com/rewired-gh/polysegment/internal/pipeline"
	"github.com/rewired-gh/polysegment/internal/storage"
	"github.com/rewired-gh/polysegment/internal/telegram"
)

var configPath = flag.String("config", "configs/config.yaml", "Path to configuration file")

func main() {
	flag.Parse()

	// Registered first so it runs after every other deferred cleanup.
	exitCode := 0
	defer func() {
		if exitCode != 0 {
			os.Exit(exitCode)
		}
	}()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger.Init(cfg.Logging.Level, cfg.Logging.Format)
	defer logger.Sync()
	logger.Info("Configuration loaded from %s", *configPath)

	// Initialize storage
	var store *storage.Storage
	if cfg.Storage.Enabled {
		store, err = storage.New(cfg.Storage.DBPath)
		if err != nil {
			logger.Fatal("Failed to initialize storage: %v", err)
		}
		defer func() {
			if err := store.Close(); err != nil {
				logger.Error("Failed to close storage: %v", err)
			}
		}()
	}

	// Initialize Telegram client
	var telegramClient *telegram.Client
	if cfg.Telegram.Enabled {
		telegramClient, err = telegram.NewClient(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Telegram.MaxRetries, cfg.Telegram.RetryDelayBase)
		if err != nil {
			logger.Fatal("Failed to initialize Telegram client: %v", err)
		}
		logger.Info("Telegram client initialized successfully")
	} else {
		logger.Debug("Telegram notifications disabled")
	}

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, cancelling run...")
		cancel()
	}()

	m := metrics.New()
	runner := pipeline.New(pipeline.Options{
		RawDir:    cfg.Data.RawDir,
		OutputDir: cfg.Data.OutputDir,
		TopEvents: cfg.Data.TopEvents,
		Workers:   cfg.WorkerCount(),
		Loader:    dataset.NewLoader(cfg.Data.AmountColumns, cfg.Data.TimestampColumn),
		Recorder:  m,
	})

	logger.Info("Starting segmentation run (raw: %s, output: %s, top_events: %d, workers: %d)",
		cfg.Data.RawDir, cfg.Data.OutputDir, cfg.Data.TopEvents, cfg.WorkerCount())

	summary, err := run(ctx, runner, store, m, cfg)
	if err != nil {
		logger.Error("Segmentation run failed: %v", err)
		if telegramClient != nil {
			if sendErr := telegramClient.SendError(err); sendErr != nil {
				logger.Warn("Failed to send error notification to Telegram: %v", sendErr)
			}
		}
		exitCode = 1
		return
	}

	if telegramClient != nil {
		if err := telegramClient.SendReport(summary); err != nil {
			logger.Error("Failed to send Telegram notification: %v", err)
		} else {
			logger.Info("Sent Telegram run report")
		}
	}
}

// run executes one pipeline pass and writes every optional artifact. Failures
// of the optional outputs are logged and do not fail the run.
func run(ctx context.Context, runner *pipeline.Runner, store *storage.Storage, m *metrics.Metrics, cfg *config.Config) (telegram.RunReport, error) {
	report, err := runner.Run(ctx)
	if err != nil {
		return telegram.RunReport{}, err
	}

	for _, skip := range report.Skips {
		if skip.MarketID == "" {
			logger.Info("Skipped event %s: %s", skip.EventID, skip.Reason)
		} else {
			logger.Info("Skipped market %s:%s: %s", skip.EventID, skip.MarketID, skip.Reason)
		}
	}
	for _, mErr := range report.Errors {
		logger.Warn("%v", mErr)
	}

	counts := report.BucketCounts()
	logger.Info("Run completed in %v: %d events, %d markets, %d skipped, %d failed (trades: small=%d medium=%d large=%d whale=%d)",
		report.Duration(), len(report.Events), len(report.Results), len(report.Skips), len(report.Errors),
		counts[models.Small], counts[models.Medium], counts[models.Large], counts[models.Whale])

	m.ObserveRun(report.Duration().Seconds(), float64(report.FinishedAt.Unix()))
	if path := cfg.Metrics.TextfilePath; path != "" {
		if err := m.WriteTextfile(path); err != nil {
			logger.Warn("Failed to write metrics textfile: %v", err)
		} else {
			logger.Debug("Metrics written to %s", path)
		}
	}

	if path := cfg.Export.XLSXPath; path != "" && len(report.Results) > 0 {
		if err := exporter.WriteWorkbook(path, report.Summaries(), workbookSheets(report)); err != nil {
			logger.Warn("Failed to write workbook: %v", err)
		} else {
			logger.Info("Workbook written to %s", path)
		}
	}

	summary := telegram.RunReport{
		FinishedAt:   report.FinishedAt,
		Duration:     report.Duration(),
		Events:       len(report.Events),
		Markets:      len(report.Results),
		Skipped:      len(report.Skips),
		Failed:       len(report.Errors),
		BucketCounts: counts,
	}

	if store != nil {
		runID, err := store.SaveRun(ctx, storage.Run{
			StartedAt:  report.StartedAt,
			FinishedAt: report.FinishedAt,
			Events:     len(report.Events),
			Markets:    len(report.Results),
			Skipped:    len(report.Skips),
			Failed:     len(report.Errors),
		}, marketRecords(report))
		if err != nil {
			logger.Warn("Failed to save run: %v", err)
		} else {
			logger.Info("Run %s saved to %s", runID, cfg.Storage.DBPath)
			summary.RunID = runID
		}
	}

	return summary, nil
}

func marketRecords(report *pipeline.Report) []storage.MarketRecord {
	records := make([]storage.MarketRecord, 0, len(report.Results))
	for i := range report.Results {
		res := &report.Results[i]
		records = append(records, storage.MarketRecord{
			EventID:    res.EventID,
			Summary:    res.Summary,
			FlowPanels: res.Panels,
			Merged:     res.Merged,
		})
	}
	return records
}

func workbookSheets(report *pipeline.Report) []exporter.MarketSheet {
	var sheets []exporter.MarketSheet
	for i := range report.Results {
		res := &report.Results[i]
		if !res.HasMerged {
			continue
		}
		sheets = append(sheets, exporter.MarketSheet{
			EventID:  res.EventID,
			MarketID: res.MarketID,
			Rows:     res.Merged,
		})
	}
	return sheets
}

func init() {
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [-config path]\n\nSegments raw Polymarket trades by size and writes daily flow panels.\n\n", os.Args[0])
		flag.PrintDefaults()
	}
}
