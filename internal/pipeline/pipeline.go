// Package pipeline drives the per-market segmentation over a raw dataset.
//
// Events are loaded in name order and their markets are processed on a
// bounded worker pool. Each market is isolated: a failure or panic becomes a
// MarketError and the remaining markets continue. Results are sorted by
// (event, market) before anything order-dependent is written, so two runs
// over the same input produce byte-identical output.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rewired-gh/polysegment/internal/dataset"
	"github.com/rewired-gh/polysegment/internal/exporter"
	"github.com/rewired-gh/polysegment/internal/logger"
	"github.com/rewired-gh/polysegment/internal/models"
)

// ErrNoPanels marks a market in which no bucket produced a flow panel.
var ErrNoPanels = errors.New("no bucket has a flow panel")

// Market statuses reported to the Recorder.
const (
	StatusOK       = "ok"
	StatusNoPanels = "no_panels"
	StatusFailed   = "failed"
)

// Skip records an event or market that produced no merged panel.
type Skip struct {
	EventID  string
	MarketID string // Empty when the whole event was skipped
	Reason   string
}

// MarketError represents a per-market failure; it never aborts the run.
type MarketError struct {
	EventID  string
	MarketID string
	Err      error
}

func (e MarketError) Error() string {
	return fmt.Sprintf("processing error for market %s:%s: %v", e.EventID, e.MarketID, e.Err)
}

func (e MarketError) Unwrap() error {
	return e.Err
}

// Recorder observes pipeline progress.
type Recorder interface {
	MarketProcessed(status string)
	TradesSegmented(b models.Bucket, n int)
	PanelBuilt(b models.Bucket)
}

type nopRecorder struct{}

func (nopRecorder) MarketProcessed(string)             {}
func (nopRecorder) TradesSegmented(models.Bucket, int) {}
func (nopRecorder) PanelBuilt(models.Bucket)           {}

// Options configures a Runner.
type Options struct {
	RawDir    string
	OutputDir string
	TopEvents int
	Workers   int // 0 means one worker per CPU
	Loader    *dataset.Loader
	Recorder  Recorder
}

// Report is the outcome of one run.
type Report struct {
	StartedAt  time.Time
	FinishedAt time.Time
	Events     []string
	Results    []MarketResult
	Skips      []Skip
	Errors     []MarketError
}

// Duration returns the wall time of the run.
func (r *Report) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// BucketCounts totals trades per bucket over all markets.
func (r *Report) BucketCounts() [4]int {
	var counts [4]int
	for i := range r.Results {
		for b, n := range r.Results[i].Classification.Counts() {
			counts[b] += n
		}
	}
	return counts
}

// Summaries returns the market summaries in result order.
func (r *Report) Summaries() []models.MarketSummary {
	out := make([]models.MarketSummary, 0, len(r.Results))
	for i := range r.Results {
		out = append(out, r.Results[i].Summary)
	}
	return out
}

// Runner processes a raw dataset into the output tree.
type Runner struct {
	opts   Options
	writer *exporter.Writer
}

// New creates a Runner.
func New(opts Options) *Runner {
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}
	if opts.Loader == nil {
		opts.Loader = dataset.NewLoader(nil, "")
	}
	if opts.Recorder == nil {
		opts.Recorder = nopRecorder{}
	}
	return &Runner{opts: opts, writer: exporter.NewWriter(opts.OutputDir)}
}

type job struct {
	eventDir string
	market   *models.Market
}

// Run processes the selected events. Per-market failures are collected in
// the report; only an unreadable raw directory, a cancelled context or a
// failed summary write is returned as an error.
func (r *Runner) Run(ctx context.Context) (*Report, error) {
	report := &Report{StartedAt: time.Now()}

	eventDirs, err := dataset.SelectEvents(r.opts.RawDir, r.opts.TopEvents)
	if err != nil {
		return nil, fmt.Errorf("failed to select events: %w", err)
	}

	var jobs []job
	for _, dir := range eventDirs {
		event, err := r.opts.Loader.LoadEvent(dir)
		if err != nil {
			id := filepath.Base(dir)
			logger.Warn("Skipping event %s: %v", id, err)
			report.Skips = append(report.Skips, Skip{EventID: id, Reason: err.Error()})
			continue
		}
		report.Events = append(report.Events, event.ID)
		logger.Info("Loaded event %s: %d markets (amount column %q)", event.ID, len(event.Markets), event.AmountColumn)
		for i := range event.Markets {
			jobs = append(jobs, job{eventDir: dir, market: &event.Markets[i]})
		}
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.Workers)

	for _, j := range jobs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			res, err := r.runMarket(j)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				logger.Error("Market %s failed: %v", j.market.Key(), err)
				report.Errors = append(report.Errors, MarketError{EventID: j.market.EventID, MarketID: j.market.MarketID, Err: err})
				r.opts.Recorder.MarketProcessed(StatusFailed)
				return nil
			}
			report.Results = append(report.Results, res)
			if !res.HasMerged {
				report.Skips = append(report.Skips, Skip{EventID: res.EventID, MarketID: res.MarketID, Reason: ErrNoPanels.Error()})
				r.opts.Recorder.MarketProcessed(StatusNoPanels)
			} else {
				r.opts.Recorder.MarketProcessed(StatusOK)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("run cancelled: %w", err)
	}

	sortReport(report)

	if len(report.Results) > 0 {
		if err := exporter.WriteSummary(r.writer.SummaryPath(), report.Summaries()); err != nil {
			return nil, fmt.Errorf("failed to write market summary: %w", err)
		}
	}

	report.FinishedAt = time.Now()
	logger.Info("Run finished: %d markets, %d skipped, %d failed in %v",
		len(report.Results), len(report.Skips), len(report.Errors), report.Duration())
	return report, nil
}

// runMarket processes and writes one market, converting a panic into an error.
func (r *Runner) runMarket(j job) (res MarketResult, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()

	prices, priceFile := r.loadPrices(j.eventDir, j.market.MarketID)
	res = ProcessMarket(j.market, prices)
	res.PriceFile = priceFile

	if err := r.writeMarket(&res); err != nil {
		return res, err
	}

	for _, b := range models.PreferenceOrder {
		r.opts.Recorder.TradesSegmented(b, len(res.Subsets[b]))
		if res.Panels[b] != nil {
			r.opts.Recorder.PanelBuilt(b)
		}
	}
	logger.Debug("Market %s: counts %v, merged panel %d days", res.Key(), res.Classification.Counts(), len(res.Merged))
	return res, nil
}

// loadPrices returns nil when the market has no usable price series.
func (r *Runner) loadPrices(eventDir, marketID string) ([]models.PricePoint, string) {
	path, ok := dataset.ResolvePriceFile(eventDir, marketID)
	if !ok {
		logger.Warn("No price file for market %s, p_market will be empty", marketID)
		return nil, ""
	}
	prices, err := dataset.LoadPrices(path, r.opts.Loader.TimestampColumn)
	if err != nil {
		logger.Warn("Ignoring price file for market %s: %v", marketID, err)
		return nil, ""
	}
	return prices, path
}

func (r *Runner) writeMarket(res *MarketResult) error {
	w := r.writer
	for _, b := range models.PreferenceOrder {
		path := w.SubsetPath(res.EventID, res.MarketID, b)
		if err := exporter.WriteSubset(path, res.Header, res.MarketID, b, res.Subsets[b]); err != nil {
			return fmt.Errorf("failed to write %s subset: %w", b.FileStem(), err)
		}
		panelPath := w.FlowPanelPath(res.EventID, res.MarketID, b)
		if res.Panels[b] == nil {
			if err := removeStale(panelPath); err != nil {
				return err
			}
			continue
		}
		if err := exporter.WriteFlowPanel(panelPath, res.Panels[b]); err != nil {
			return fmt.Errorf("failed to write %s flow panel: %w", b.FileStem(), err)
		}
	}

	mergedPath := w.MergedPanelPath(res.EventID, res.MarketID)
	if !res.HasMerged {
		return removeStale(mergedPath)
	}
	if err := exporter.WriteMergedPanel(mergedPath, res.Merged); err != nil {
		return fmt.Errorf("failed to write merged panel: %w", err)
	}
	return nil
}

// removeStale deletes an output left by an earlier run that this run does not produce.
func removeStale(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove stale output: %w", err)
	}
	return nil
}

func sortReport(report *Report) {
	sort.Slice(report.Results, func(i, j int) bool {
		a, b := report.Results[i], report.Results[j]
		if a.EventID != b.EventID {
			return a.EventID < b.EventID
		}
		return a.MarketID < b.MarketID
	})
	sort.SliceStable(report.Skips, func(i, j int) bool {
		a, b := report.Skips[i], report.Skips[j]
		if a.EventID != b.EventID {
			return a.EventID < b.EventID
		}
		return a.MarketID < b.MarketID
	})
	sort.Slice(report.Errors, func(i, j int) bool {
		a, b := report.Errors[i], report.Errors[j]
		if a.EventID != b.EventID {
			return a.EventID < b.EventID
		}
		return a.MarketID < b.MarketID
	})
}
