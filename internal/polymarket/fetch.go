package polymarket

import (
	"context"
	"errors"
	"fmt"
	"os"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/rewired-gh/polysegment/internal/dataset"
	"github.com/rewired-gh/polysegment/internal/logger"
	"github.com/rewired-gh/polysegment/internal/models"
)

// ErrNoToken is returned for a market whose trades name no Yes outcome token.
var ErrNoToken = errors.New("no Yes outcome asset in trades")

// Fetcher downloads price files for loaded events.
type Fetcher struct {
	Client    *Client
	Interval  string
	Fidelity  int
	Workers   int
	Overwrite bool // Replace price files that already exist

	// Limiter paces requests across workers; nil means unlimited.
	Limiter *rate.Limiter
}

// NewLimiter returns a limiter allowing requestsPerSecond with a burst of
// one, or nil when requestsPerSecond is not positive.
func NewLimiter(requestsPerSecond float64) *rate.Limiter {
	if requestsPerSecond <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(requestsPerSecond), 1)
}

// FetchResult is the outcome of fetching one market's prices.
type FetchResult struct {
	EventID  string
	MarketID string
	TokenID  string
	Path     string
	Points   int
	Skipped  bool // An existing file was kept
	Err      error
}

// YesToken returns the asset of the first Yes trade carrying one.
func YesToken(m *models.Market) (string, bool) {
	for i := range m.Trades {
		t := &m.Trades[i]
		if t.Outcome == models.OutcomeYes && t.Asset != "" {
			return t.Asset, true
		}
	}
	return "", false
}

// FetchEvents fetches the price series of every market in events. Failures
// are recorded per market; only cancellation aborts the batch.
func (f *Fetcher) FetchEvents(ctx context.Context, events []*dataset.Event) ([]FetchResult, error) {
	type job struct {
		event  *dataset.Event
		market *models.Market
	}
	var jobs []job
	for _, ev := range events {
		for i := range ev.Markets {
			jobs = append(jobs, job{event: ev, market: &ev.Markets[i]})
		}
	}

	results := make([]FetchResult, len(jobs))
	g, gctx := errgroup.WithContext(ctx)
	workers := f.Workers
	if workers < 1 {
		workers = 1
	}
	g.SetLimit(workers)

	for i, jb := range jobs {
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			results[i] = f.fetchMarket(gctx, jb.event, jb.market)
			if results[i].Err != nil && gctx.Err() != nil {
				return gctx.Err()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return results, fmt.Errorf("fetch cancelled: %w", err)
	}
	return results, nil
}

func (f *Fetcher) fetchMarket(ctx context.Context, ev *dataset.Event, m *models.Market) FetchResult {
	res := FetchResult{
		EventID:  ev.ID,
		MarketID: m.MarketID,
		Path:     dataset.PricePath(ev.Dir, m.MarketID),
	}

	token, ok := YesToken(m)
	if !ok {
		res.Err = ErrNoToken
		return res
	}
	res.TokenID = token

	if !f.Overwrite {
		if _, err := os.Stat(res.Path); err == nil {
			logger.Debug("Keeping existing price file %s", res.Path)
			res.Skipped = true
			return res
		}
	}

	if f.Limiter != nil {
		if err := f.Limiter.Wait(ctx); err != nil {
			res.Err = fmt.Errorf("failed to wait for rate limiter: %w", err)
			return res
		}
	}

	points, err := f.Client.FetchPriceHistory(ctx, token, f.Interval, f.Fidelity)
	if err != nil {
		res.Err = err
		return res
	}
	if err := WritePriceHistory(res.Path, points); err != nil {
		res.Err = fmt.Errorf("failed to write price file: %w", err)
		return res
	}
	res.Points = len(points)
	logger.Debug("Fetched %d price points for %s/%s", len(points), ev.ID, m.MarketID)
	return res
}
