// Package models defines the core domain entities for polysegment.
// These models represent Polymarket trades, price observations, size buckets,
// and the derived daily flow and merged panels.
//
// Terminology (matching Polymarket's own naming):
//   - Event: a Polymarket event page, which groups one or more related markets.
//   - Market: a single yes/no question within an event. This is the unit we segment.
package models

import (
	"database/sql"
	"errors"
)

// Side is the taker direction of a trade.
type Side int

const (
	SideUnknown Side = iota
	SideBuy
	SideSell
)

// ParseSide maps the raw trade side text. Matching is exact ("BUY", "SELL");
// anything else is SideUnknown and contributes to no flow.
func ParseSide(raw string) Side {
	switch raw {
	case "BUY":
		return SideBuy
	case "SELL":
		return SideSell
	default:
		return SideUnknown
	}
}

func (s Side) String() string {
	switch s {
	case SideBuy:
		return "BUY"
	case SideSell:
		return "SELL"
	default:
		return "UNKNOWN"
	}
}

// Outcome is the outcome token a trade was made in.
type Outcome int

const (
	OutcomeUnknown Outcome = iota
	OutcomeYes
	OutcomeNo
)

// ParseOutcome maps the raw outcome text. Matching is exact ("Yes", "No").
func ParseOutcome(raw string) Outcome {
	switch raw {
	case "Yes":
		return OutcomeYes
	case "No":
		return OutcomeNo
	default:
		return OutcomeUnknown
	}
}

func (o Outcome) String() string {
	switch o {
	case OutcomeYes:
		return "Yes"
	case OutcomeNo:
		return "No"
	default:
		return "Unknown"
	}
}

// Trade is one executed trade in a single market. Trades are never mutated
// after loading; derived values (bucket, day) live beside them.
type Trade struct {
	MarketID    string          `json:"market_id"`
	Side        Side            `json:"side"`
	Outcome     Outcome         `json:"outcome"`
	Amount      sql.NullFloat64 `json:"amount"`    // Invalid when the amount field failed to coerce
	Timestamp   sql.NullTime    `json:"timestamp"` // UTC; invalid when unparseable
	ProxyWallet string          `json:"proxy_wallet,omitempty"`
	Asset       string          `json:"asset,omitempty"`
	Slug        string          `json:"slug,omitempty"`
	EventSlug   string          `json:"event_slug,omitempty"`
	Title       string          `json:"title,omitempty"`

	// Record holds the source row, aligned with the market's header, for
	// pass-through export of the bucket subsets.
	Record []string `json:"-"`
}

// Validate checks the structural fields of a trade. Invalid amounts and
// timestamps are tolerated: they are excluded from statistics, not rejected.
func (t *Trade) Validate() error {
	if t.MarketID == "" {
		return errors.New("market ID must not be empty")
	}
	if t.Amount.Valid && t.Amount.Float64 < 0 {
		return errors.New("amount must not be negative")
	}
	return nil
}

// Market is one market's trade collection plus the labels used for reporting.
type Market struct {
	EventID  string   `json:"event_id"`  // Event directory name
	MarketID string   `json:"market_id"` // Trade file stem
	Header   []string `json:"header"`    // Source columns, aligned with Trade.Record
	Trades   []Trade  `json:"trades"`
}

// Key returns the composite "EventID:MarketID" identifier.
func (m *Market) Key() string {
	return m.EventID + ":" + m.MarketID
}
