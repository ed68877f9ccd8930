package segment

import (
	"database/sql"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rewired-gh/polysegment/internal/models"
)

func tradesWithAmounts(amounts ...float64) []models.Trade {
	trades := make([]models.Trade, len(amounts))
	for i, a := range amounts {
		trades[i] = models.Trade{
			MarketID: "m1",
			Amount:   sql.NullFloat64{Float64: a, Valid: !math.IsNaN(a)},
		}
	}
	return trades
}

func TestClassify_NormalMarket(t *testing.T) {
	trades := tradesWithAmounts(1, 2, 3, 4, 5, 6, 7, 8, 9, 100)

	c := Classify(trades)

	require.Len(t, c.Buckets, len(trades))
	assert.False(t, c.Degenerate)
	require.True(t, c.WhaleThreshold.Valid)
	assert.InDelta(t, 14.5+2*math.Sqrt(8182.5/9), c.WhaleThreshold.Float64, 1e-9)

	want := []models.Bucket{
		models.Small, models.Small, models.Small,
		models.Medium, models.Medium, models.Medium,
		models.Large, models.Large, models.Large,
		models.Whale,
	}
	assert.Equal(t, want, c.Buckets)
	assert.Equal(t, [4]int{3, 3, 3, 1}, c.Counts())
}

func TestClassify_DegenerateIdenticalAmounts(t *testing.T) {
	c := Classify(tradesWithAmounts(5, 5, 5))

	assert.True(t, c.Degenerate)
	assert.Equal(t, []models.Bucket{models.Small, models.Small, models.Small}, c.Buckets)
	require.True(t, c.WhaleThreshold.Valid)
	assert.Equal(t, 5.0, c.WhaleThreshold.Float64)
}

func TestClassify_DegenerateManyIdentical(t *testing.T) {
	c := Classify(tradesWithAmounts(2, 2, 2, 2, 2, 2))

	assert.True(t, c.Degenerate)
	for _, b := range c.Buckets {
		assert.Equal(t, models.Small, b)
	}
	assert.Equal(t, 2.0, c.WhaleThreshold.Float64)
}

func TestClassify_TooFewValidAmounts(t *testing.T) {
	c := Classify(tradesWithAmounts(1, math.NaN(), 30, math.NaN(), 2))

	assert.True(t, c.Degenerate)
	assert.Equal(t, 30.0, c.WhaleThreshold.Float64)
	assert.Equal(t, [4]int{5, 0, 0, 0}, c.Counts())
}

func TestClassify_NoValidAmounts(t *testing.T) {
	c := Classify(tradesWithAmounts(math.NaN(), math.NaN()))

	assert.True(t, c.Degenerate)
	assert.False(t, c.WhaleThreshold.Valid)
	assert.Equal(t, []models.Bucket{models.Small, models.Small}, c.Buckets)
}

func TestClassify_EmptyMarket(t *testing.T) {
	c := Classify(nil)

	assert.Empty(t, c.Buckets)
	assert.False(t, c.WhaleThreshold.Valid)
}

func TestClassify_InvalidAmountDefaultsToSmall(t *testing.T) {
	trades := tradesWithAmounts(1, 2, 3, 4, 5, 6, 7, 8, 9, 100, math.NaN())

	c := Classify(trades)

	assert.Equal(t, models.Small, c.Buckets[10])
	assert.Equal(t, [4]int{4, 3, 3, 1}, c.Counts())
}

func TestClassify_BucketCoverageAndWhaleMonotonicity(t *testing.T) {
	amounts := []float64{0.5, 12, 3, 3, 7, 250, 1, 40, 900, 2, 2, 18, 65, 0, 4}
	trades := tradesWithAmounts(amounts...)

	c := Classify(trades)
	require.Len(t, c.Buckets, len(trades))

	for i, b := range c.Buckets {
		assert.Contains(t, models.PreferenceOrder, b, "trade %d has no bucket", i)
	}

	for i := range amounts {
		for j := range amounts {
			if c.Buckets[j] == models.Whale && amounts[i] >= amounts[j] {
				assert.Equal(t, models.Whale, c.Buckets[i],
					"amount %v >= whale amount %v but is %v", amounts[i], amounts[j], c.Buckets[i])
			}
		}
	}
}

func TestClassify_Subset(t *testing.T) {
	trades := tradesWithAmounts(1, 2, 3, 4, 5, 6, 7, 8, 9, 100)
	c := Classify(trades)

	whales := c.Subset(trades, models.Whale)
	require.Len(t, whales, 1)
	assert.Equal(t, 100.0, whales[0].Amount.Float64)

	small := c.Subset(trades, models.Small)
	require.Len(t, small, 3)
	assert.Equal(t, 1.0, small[0].Amount.Float64)
}

func TestQuantile(t *testing.T) {
	tests := []struct {
		name   string
		sorted []float64
		q      float64
		want   float64
	}{
		{"interpolated lower", []float64{1, 2, 3, 4}, 0.33, 1.99},
		{"interpolated upper", []float64{1, 2, 3, 4}, 0.66, 2.98},
		{"single value", []float64{7}, 0.66, 7},
		{"max", []float64{1, 2, 3}, 1, 3},
		{"min", []float64{1, 2, 3}, 0, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, Quantile(tt.sorted, tt.q), 1e-12)
		})
	}

	assert.True(t, math.IsNaN(Quantile(nil, 0.5)))
}

func TestWhaleThreshold(t *testing.T) {
	assert.True(t, math.IsInf(WhaleThreshold([]float64{3}), 1))
	assert.True(t, math.IsInf(WhaleThreshold([]float64{3, 3, 3, 3}), 1))
	// mean 2.5, sample std sqrt(5/3)
	assert.InDelta(t, 2.5+2*math.Sqrt(5.0/3.0), WhaleThreshold([]float64{1, 2, 3, 4}), 1e-12)
}
