package pipeline

import (
	"github.com/rewired-gh/polysegment/internal/dayindex"
	"github.com/rewired-gh/polysegment/internal/models"
	"github.com/rewired-gh/polysegment/internal/panel"
	"github.com/rewired-gh/polysegment/internal/segment"
)

// MarketResult is everything derived from one market.
type MarketResult struct {
	EventID  string
	MarketID string
	// Header is the source column layout of the market's trades.
	Header         []string
	Classification segment.Classification
	// Subsets holds each bucket's trades with their day, indexed by Bucket.
	Subsets [4][]panel.DayTrade
	// Panels holds each bucket's flow panel; nil when the bucket has none.
	Panels    [4][]models.FlowPanelRow
	Merged    []models.MergedPanelRow
	HasMerged bool
	// PriceFile is the resolved price series, empty when none was found.
	PriceFile string
	Summary   models.MarketSummary
}

// Key returns the composite "EventID:MarketID" identifier.
func (r *MarketResult) Key() string {
	return r.EventID + ":" + r.MarketID
}

// ProcessMarket runs classification, day indexing, flow panels and the
// merge for one market. prices may be nil, in which case p_market is null
// throughout. It has no side effects.
func ProcessMarket(m *models.Market, prices []models.PricePoint) MarketResult {
	res := MarketResult{
		EventID:  m.EventID,
		MarketID: m.MarketID,
		Header:   m.Header,
	}

	res.Classification = segment.Classify(m.Trades)
	days := dayindex.Index(m.Trades)
	annotated := panel.Annotate(m.Trades, days.Days)

	byBucket := make(map[models.Bucket][]models.Trade, len(models.PreferenceOrder))
	for i, b := range res.Classification.Buckets {
		res.Subsets[b] = append(res.Subsets[b], annotated[i])
		byBucket[b] = append(byBucket[b], m.Trades[i])
	}

	panels := make(map[models.Bucket][]models.FlowPanelRow, len(models.PreferenceOrder))
	for _, b := range models.PreferenceOrder {
		if rows, ok := panel.BuildFlow(b, m.MarketID, res.Subsets[b]); ok {
			res.Panels[b] = rows
			panels[b] = rows
		}
	}

	daily := panel.DailyPrices(prices, panel.PriceAnchor(byBucket))
	res.Merged, res.HasMerged = panel.Merge(panels, daily)

	res.Summary = Summarize(m, res.Classification)
	return res
}
