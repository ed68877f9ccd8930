package models

import (
	"database/sql"
	"errors"
	"math"
)

// PricePoint is one observation of the external market price series.
type PricePoint struct {
	Timestamp sql.NullTime    `json:"timestamp"`
	Price     sql.NullFloat64 `json:"price"`
}

// FlowPanelRow is one day of cumulative directional flow for a (market, bucket).
type FlowPanelRow struct {
	Segment  Bucket          `json:"segment"`
	MarketID string          `json:"market_id"`
	Day      int             `json:"day"`
	HY       float64         `json:"H_Y"`       // Cumulative signed YES flow through Day
	HN       float64         `json:"H_N"`       // Cumulative signed NO flow through Day
	PSegment sql.NullFloat64 `json:"p_segment"` // Null when |H_Y|+|H_N| == 0
}

// Validate checks the bounded-probability invariant of the row.
func (r *FlowPanelRow) Validate() error {
	if r.Day < 1 {
		return errors.New("day must be at least 1")
	}
	denom := math.Abs(r.HY) + math.Abs(r.HN)
	if denom == 0 && r.PSegment.Valid {
		return errors.New("p_segment must be null when H_Y and H_N are both zero")
	}
	if denom > 0 && !r.PSegment.Valid {
		return errors.New("p_segment must be set when flow is non-zero")
	}
	if r.PSegment.Valid && (r.PSegment.Float64 < -1 || r.PSegment.Float64 > 1) {
		return errors.New("p_segment must be between -1.0 and 1.0")
	}
	return nil
}

// MergedPanelRow is one day of the per-market table combining all bucket
// probabilities with the aligned market price.
type MergedPanelRow struct {
	Day     int             `json:"day"`
	PWhale  sql.NullFloat64 `json:"p_whale"`
	PLarge  sql.NullFloat64 `json:"p_large"`
	PMedium sql.NullFloat64 `json:"p_medium"`
	PSmall  sql.NullFloat64 `json:"p_small"`
	PMarket sql.NullFloat64 `json:"p_market"`
}

// Bucket returns the probability column for b.
func (r *MergedPanelRow) Bucket(b Bucket) sql.NullFloat64 {
	switch b {
	case Whale:
		return r.PWhale
	case Large:
		return r.PLarge
	case Medium:
		return r.PMedium
	default:
		return r.PSmall
	}
}

// SetBucket stores the probability column for b.
func (r *MergedPanelRow) SetBucket(b Bucket, v sql.NullFloat64) {
	switch b {
	case Whale:
		r.PWhale = v
	case Large:
		r.PLarge = v
	case Medium:
		r.PMedium = v
	default:
		r.PSmall = v
	}
}
