// Package segment classifies a market's trades into size buckets.
//
// Thresholds are market-local: a trade is a Whale when its amount reaches
// mean + 2·std of the market's valid amounts, and the remaining trades are
// split into Small/Medium/Large at the 33rd and 66th percentiles of the
// non-Whale amounts. Markets with fewer than four valid amounts, or with a
// single distinct amount, put every trade in Small.
package segment

import (
	"database/sql"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/rewired-gh/polysegment/internal/models"
)

const (
	minValidAmounts = 4
	whaleStdDevs    = 2.0
	lowerQuantile   = 0.33
	upperQuantile   = 0.66
)

// Classification is the bucket assignment for one market.
type Classification struct {
	// Buckets is parallel to the classified trades.
	Buckets []models.Bucket
	// WhaleThreshold is reported for the market; undefined when no amount was
	// valid and +Inf when the amounts have no spread.
	WhaleThreshold sql.NullFloat64
	// Degenerate is set when the market was too small or flat to split.
	Degenerate bool
}

// Subset returns the trades assigned to b, preserving input order.
func (c *Classification) Subset(trades []models.Trade, b models.Bucket) []models.Trade {
	var out []models.Trade
	for i, bucket := range c.Buckets {
		if bucket == b {
			out = append(out, trades[i])
		}
	}
	return out
}

// Counts returns the number of trades per bucket.
func (c *Classification) Counts() [4]int {
	var counts [4]int
	for _, b := range c.Buckets {
		counts[b]++
	}
	return counts
}

// Classify assigns every trade exactly one bucket. Trades with an invalid
// amount are left out of the statistics and default to Small.
func Classify(trades []models.Trade) Classification {
	valid := make([]float64, 0, len(trades))
	for _, t := range trades {
		if t.Amount.Valid {
			valid = append(valid, t.Amount.Float64)
		}
	}

	result := Classification{Buckets: make([]models.Bucket, len(trades))}

	if len(valid) < minValidAmounts || distinct(valid) == 1 {
		result.Degenerate = true
		if len(valid) > 0 {
			result.WhaleThreshold = sql.NullFloat64{Float64: maxOf(valid), Valid: true}
		}
		return result
	}

	threshold := WhaleThreshold(valid)
	result.WhaleThreshold = sql.NullFloat64{Float64: threshold, Valid: true}

	nonWhale := make([]float64, 0, len(valid))
	for _, v := range valid {
		if v < threshold {
			nonWhale = append(nonWhale, v)
		}
	}

	if len(nonWhale) == 0 {
		for i := range result.Buckets {
			result.Buckets[i] = models.Whale
		}
		return result
	}

	sort.Float64s(nonWhale)
	q33 := Quantile(nonWhale, lowerQuantile)
	q66 := Quantile(nonWhale, upperQuantile)

	for i, t := range trades {
		if !t.Amount.Valid {
			continue
		}
		amt := t.Amount.Float64
		switch {
		case amt >= threshold:
			result.Buckets[i] = models.Whale
		case amt >= q66:
			result.Buckets[i] = models.Large
		case amt >= q33:
			result.Buckets[i] = models.Medium
		}
	}
	return result
}

// WhaleThreshold returns mean + 2·std (sample standard deviation) of amounts,
// or +Inf when the standard deviation is zero or undefined.
func WhaleThreshold(amounts []float64) float64 {
	if len(amounts) < 2 {
		return math.Inf(1)
	}
	mean := stat.Mean(amounts, nil)
	std := stat.StdDev(amounts, nil)
	if math.IsNaN(std) || std == 0 {
		return math.Inf(1)
	}
	return mean + whaleStdDevs*std
}

// Quantile returns the q-th quantile of sorted using linear interpolation
// between the closest ranks, position q·(n−1).
func Quantile(sorted []float64, q float64) float64 {
	n := len(sorted)
	if n == 0 {
		return math.NaN()
	}
	pos := q * float64(n-1)
	lo := int(math.Floor(pos))
	hi := lo + 1
	if hi >= n {
		return sorted[n-1]
	}
	frac := pos - float64(lo)
	return sorted[lo] + (sorted[hi]-sorted[lo])*frac
}

func distinct(values []float64) int {
	seen := make(map[float64]struct{}, len(values))
	for _, v := range values {
		seen[v] = struct{}{}
	}
	return len(seen)
}

func maxOf(values []float64) float64 {
	m := values[0]
	for _, v := range values[1:] {
		if v > m {
			m = v
		}
	}
	return m
}
