package main

import (
	"flag"
	"log"
	"os"

	"github.com/rewired-gh/polysegment/internal/audit"
	"github.com/rewired-gh/polysegment/internal/config"
	"github.com/rewired-gh/polysegment/internal/logger"
)

var (
	configPath = flag.String("config", "configs/config.yaml", "Path to configuration file")
	events     = flag.Int("events", 10, "Number of raw events to scan for wallet positions")
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

	probabilities, err := audit.AuditProbabilities(cfg.Data.OutputDir)
	if err != nil {
		logger.Fatal("Probability audit failed: %v", err)
	}
	audit.WriteProbabilityReport(os.Stdout, probabilities)
	os.Stdout.WriteString("\n")

	positions, err := audit.AuditPositions(cfg.Data.RawDir, *events, cfg.Data.AmountColumns)
	if err != nil {
		logger.Fatal("Position audit failed: %v", err)
	}
	audit.WritePositionReport(os.Stdout, positions)
}
