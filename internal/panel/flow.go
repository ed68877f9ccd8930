// Package panel builds the daily cumulative flow panels of a market's size
// buckets and merges them with the market's price series.
//
// A flow panel covers every day between the first and last day a bucket
// traded. H_Y and H_N are running sums of net YES and NO flow (buys minus
// sells) inclusive of the day, and p_segment = H_Y / (|H_Y| + |H_N|) is null
// when both are zero.
package panel

import (
	"database/sql"
	"math"

	"github.com/rewired-gh/polysegment/internal/models"
)

// DayTrade is a trade annotated with its market-local day.
type DayTrade struct {
	models.Trade
	Day sql.NullInt64
}

// Annotate pairs trades with their day indices.
func Annotate(trades []models.Trade, days []sql.NullInt64) []DayTrade {
	out := make([]DayTrade, len(trades))
	for i, t := range trades {
		out[i] = DayTrade{Trade: t, Day: days[i]}
	}
	return out
}

// dayFlow keeps buys and sells apart so each day's net is buys − sells.
type dayFlow struct {
	yesBuy, yesSell float64
	noBuy, noSell   float64
}

func (f dayFlow) yesNet() float64 { return f.yesBuy - f.yesSell }
func (f dayFlow) noNet() float64  { return f.noBuy - f.noSell }

// BuildFlow computes the dense daily panel for one (market, bucket) subset.
// Trades without a valid amount or day are ignored. It returns false when no
// trade remains, in which case the bucket has no panel at all.
func BuildFlow(segment models.Bucket, marketID string, trades []DayTrade) ([]models.FlowPanelRow, bool) {
	daily := make(map[int]dayFlow)
	minDay, maxDay := 0, 0
	found := false

	for _, t := range trades {
		if !t.Amount.Valid || !t.Day.Valid {
			continue
		}
		d := int(t.Day.Int64)
		if !found || d < minDay {
			minDay = d
		}
		if !found || d > maxDay {
			maxDay = d
		}
		found = true

		flow := daily[d]
		amt := t.Amount.Float64
		switch {
		case t.Side == models.SideBuy && t.Outcome == models.OutcomeYes:
			flow.yesBuy += amt
		case t.Side == models.SideSell && t.Outcome == models.OutcomeYes:
			flow.yesSell += amt
		case t.Side == models.SideBuy && t.Outcome == models.OutcomeNo:
			flow.noBuy += amt
		case t.Side == models.SideSell && t.Outcome == models.OutcomeNo:
			flow.noSell += amt
		}
		daily[d] = flow
	}

	if !found {
		return nil, false
	}

	rows := make([]models.FlowPanelRow, 0, maxDay-minDay+1)
	var hy, hn float64
	for d := minDay; d <= maxDay; d++ {
		flow := daily[d]
		hy += flow.yesNet()
		hn += flow.noNet()
		rows = append(rows, models.FlowPanelRow{
			Segment:  segment,
			MarketID: marketID,
			Day:      d,
			HY:       hy,
			HN:       hn,
			PSegment: Probability(hy, hn),
		})
	}
	return rows, true
}

// Probability returns H_Y / (|H_Y| + |H_N|), null when the denominator is zero.
func Probability(hy, hn float64) sql.NullFloat64 {
	denom := math.Abs(hy) + math.Abs(hn)
	if !(denom > 0) {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: hy / denom, Valid: true}
}
