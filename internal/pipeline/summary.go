package pipeline

import (
	"database/sql"

	"github.com/rewired-gh/polysegment/internal/models"
	"github.com/rewired-gh/polysegment/internal/segment"
)

// Summarize computes the reporting record of one classified market. Volumes
// sum the valid amounts of each bucket; shares are null when the market's
// total volume is not positive.
func Summarize(m *models.Market, cls segment.Classification) models.MarketSummary {
	s := models.MarketSummary{
		MarketID:       m.MarketID,
		TotalTrades:    len(m.Trades),
		WhaleThreshold: cls.WhaleThreshold,
	}

	for i, t := range m.Trades {
		b := cls.Buckets[i]
		stats := &s.Buckets[b]
		stats.Count++
		if !t.Amount.Valid {
			continue
		}
		stats.Volume += t.Amount.Float64
		if !stats.Max.Valid || t.Amount.Float64 > stats.Max.Float64 {
			stats.Max = sql.NullFloat64{Float64: t.Amount.Float64, Valid: true}
		}
	}

	if total := s.TotalVolume(); total > 0 {
		for b := range s.Buckets {
			s.Buckets[b].Share = sql.NullFloat64{Float64: s.Buckets[b].Volume / total, Valid: true}
		}
	}

	s.MarketSlug = m.MarketID
	s.EventSlug = m.EventID
	if len(m.Trades) > 0 {
		first := m.Trades[0]
		if first.Slug != "" {
			s.MarketSlug = first.Slug
		}
		if first.EventSlug != "" {
			s.EventSlug = first.EventSlug
		}
		s.MarketTitle = first.Title
	}
	if s.MarketTitle == "" {
		s.MarketTitle = s.MarketSlug
	}
	// Trade files carry no separate event title.
	s.EventTitle = s.MarketTitle

	return s
}
