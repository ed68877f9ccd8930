package models

import (
	"database/sql"
	"errors"
	"math"
)

// BucketStats aggregates one bucket's trades within a market.
type BucketStats struct {
	Count  int             `json:"count"`
	Volume float64         `json:"volume"` // Sum of valid amounts
	Share  sql.NullFloat64 `json:"share"`  // Volume / total volume; null when total is zero
	Max    sql.NullFloat64 `json:"max"`    // Null when the bucket has no valid amount
}

// MarketSummary is the cross-market reporting record for one market.
type MarketSummary struct {
	MarketID       string          `json:"market_id"`
	EventSlug      string          `json:"event_slug"`
	MarketSlug     string          `json:"market_slug"`
	EventTitle     string          `json:"event_title"`
	MarketTitle    string          `json:"market_title"`
	Buckets        [4]BucketStats  `json:"buckets"` // Indexed by Bucket
	TotalTrades    int             `json:"total_trades"`
	WhaleThreshold sql.NullFloat64 `json:"whale_threshold"` // May be +Inf
}

// TotalVolume sums the bucket volumes.
func (s *MarketSummary) TotalVolume() float64 {
	var total float64
	for _, b := range s.Buckets {
		total += b.Volume
	}
	return total
}

// Validate checks that counts and shares are consistent.
func (s *MarketSummary) Validate() error {
	if s.MarketID == "" {
		return errors.New("market ID must not be empty")
	}
	count := 0
	share := 0.0
	shares := 0
	for _, b := range s.Buckets {
		if b.Count < 0 {
			return errors.New("bucket count must not be negative")
		}
		count += b.Count
		if b.Share.Valid {
			share += b.Share.Float64
			shares++
		}
	}
	if count != s.TotalTrades {
		return errors.New("bucket counts must sum to total trades")
	}
	if shares > 0 && math.Abs(share-1.0) > 1e-9 {
		return errors.New("volume shares must sum to 1.0")
	}
	return nil
}
