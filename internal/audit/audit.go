// Package audit inspects the pipeline's inputs and outputs for two known data
// quality issues: flow panels whose segment probability goes negative, and
// wallets whose sells in a market exceed their buys. Findings are reported,
// never corrected.
package audit

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/rewired-gh/polysegment/internal/dataset"
	"github.com/rewired-gh/polysegment/internal/logger"
	"github.com/rewired-gh/polysegment/internal/models"
)

const (
	pSegmentColumn = "p_segment"
	hYColumn       = "H_Y"
	hNColumn       = "H_N"

	proxyWalletColumn = "proxyWallet"
	sideColumn        = "side"

	// MaxExamples bounds the excess-sell examples kept in a PositionStats.
	MaxExamples = 10
)

// PanelKey identifies one flow panel.
type PanelKey struct {
	EventID  string
	MarketID string
	Segment  models.Bucket
}

// ProbabilityStats summarizes segment probabilities across flow panels.
type ProbabilityStats struct {
	Panels          int
	Rows            int
	Negative        int
	Null            int
	ZeroDenominator int // Rows with H_Y + H_N <= 0
	// NegativePanels lists panels with at least one negative probability,
	// sorted by event, market and segment.
	NegativePanels []PanelKey
	// BySegment counts NegativePanels per bucket.
	BySegment [4]int
}

// MarketKey identifies one market.
type MarketKey struct {
	EventID  string
	MarketID string
}

// PositionExample is one wallet that sold more than it bought in a market.
type PositionExample struct {
	EventID  string
	MarketID string
	User     string
	Buys     float64
	Sells    float64
	Excess   float64
}

// PositionStats summarizes per-wallet buy and sell volume.
type PositionStats struct {
	Markets         int
	Users           int // Distinct (market, wallet) pairs
	UsersWithExcess int
	ExcessVolume    float64
	// MarketsWithExcess is sorted by event and market.
	MarketsWithExcess []MarketKey
	Examples          []PositionExample
}

// AuditProbabilities scans every <event>/<market>/<segment>_daily_panel.csv
// under outputRoot. Unreadable panels are logged and skipped.
func AuditProbabilities(outputRoot string) (*ProbabilityStats, error) {
	events, err := subdirs(outputRoot)
	if err != nil {
		return nil, fmt.Errorf("failed to read output directory: %w", err)
	}

	stats := &ProbabilityStats{}
	for _, eventID := range events {
		markets, err := subdirs(filepath.Join(outputRoot, eventID))
		if err != nil {
			logger.Warn("Skipping %s: %v", eventID, err)
			continue
		}
		for _, marketID := range markets {
			for _, b := range models.PreferenceOrder {
				path := filepath.Join(outputRoot, eventID, marketID, b.FileStem()+"_daily_panel.csv")
				if _, err := os.Stat(path); err != nil {
					continue
				}
				negative, err := stats.addPanel(path)
				if err != nil {
					logger.Warn("Error reading %s: %v", path, err)
					continue
				}
				if negative {
					stats.NegativePanels = append(stats.NegativePanels, PanelKey{EventID: eventID, MarketID: marketID, Segment: b})
					stats.BySegment[b]++
				}
			}
		}
	}
	return stats, nil
}

// addPanel folds one panel file into the totals and reports whether it has
// a negative probability.
func (s *ProbabilityStats) addPanel(path string) (bool, error) {
	header, records, err := dataset.ReadCSV(path)
	if err != nil {
		return false, err
	}
	pIdx, hyIdx, hnIdx := indexOf(header, pSegmentColumn), indexOf(header, hYColumn), indexOf(header, hNColumn)
	if pIdx < 0 || len(records) == 0 {
		return false, nil
	}

	s.Panels++
	s.Rows += len(records)
	negative := false
	for _, rec := range records {
		p := dataset.ParseNumber(rec[pIdx])
		switch {
		case !p.Valid:
			s.Null++
		case p.Float64 < 0:
			s.Negative++
			negative = true
		}

		if hyIdx >= 0 && hnIdx >= 0 {
			hy, hn := dataset.ParseNumber(rec[hyIdx]), dataset.ParseNumber(rec[hnIdx])
			if hy.Valid && hn.Valid && hy.Float64+hn.Float64 <= 0 {
				s.ZeroDenominator++
			}
		}
	}
	return negative, nil
}

// AuditPositions totals BUY and SELL volume per wallet in each market of the
// first topN events under rawDir. The amount is read from the first of
// amountColumns a trade file has; files without a wallet, side or amount
// column are skipped, as are rows whose amount is not numeric.
func AuditPositions(rawDir string, topN int, amountColumns []string) (*PositionStats, error) {
	eventDirs, err := dataset.SelectEvents(rawDir, topN)
	if err != nil {
		return nil, err
	}

	stats := &PositionStats{}
	for _, dir := range eventDirs {
		eventID := filepath.Base(dir)
		paths, err := filepath.Glob(filepath.Join(dir, "trades", "*.csv"))
		if err != nil {
			return nil, fmt.Errorf("failed to list trades of %s: %w", eventID, err)
		}
		sort.Strings(paths)

		for _, path := range paths {
			marketID := stem(path)
			if err := stats.addMarket(eventID, marketID, path, amountColumns); err != nil {
				logger.Warn("Error processing %s: %v", path, err)
			}
		}
	}
	return stats, nil
}

type position struct {
	buys, sells float64
}

func (s *PositionStats) addMarket(eventID, marketID, path string, amountColumns []string) error {
	header, records, err := dataset.ReadCSV(path)
	if err != nil {
		return err
	}

	walletIdx, sideIdx := indexOf(header, proxyWalletColumn), indexOf(header, sideColumn)
	amountIdx := -1
	for _, col := range amountColumns {
		if amountIdx = indexOf(header, col); amountIdx >= 0 {
			break
		}
	}
	if len(records) == 0 || walletIdx < 0 || sideIdx < 0 || amountIdx < 0 {
		return nil
	}
	s.Markets++

	positions := make(map[string]*position)
	for _, rec := range records {
		amount := dataset.ParseNumber(rec[amountIdx])
		user := rec[walletIdx]
		if !amount.Valid || user == "" {
			continue
		}
		pos, ok := positions[user]
		if !ok {
			pos = &position{}
			positions[user] = pos
		}
		switch models.ParseSide(rec[sideIdx]) {
		case models.SideBuy:
			pos.buys += amount.Float64
		case models.SideSell:
			pos.sells += amount.Float64
		}
	}

	users := make([]string, 0, len(positions))
	for user := range positions {
		users = append(users, user)
	}
	sort.Strings(users)

	excessInMarket := false
	for _, user := range users {
		s.Users++
		pos := positions[user]
		if pos.sells <= pos.buys {
			continue
		}
		excess := pos.sells - pos.buys
		s.UsersWithExcess++
		s.ExcessVolume += excess
		excessInMarket = true
		if len(s.Examples) < MaxExamples {
			s.Examples = append(s.Examples, PositionExample{
				EventID:  eventID,
				MarketID: marketID,
				User:     user,
				Buys:     pos.buys,
				Sells:    pos.sells,
				Excess:   excess,
			})
		}
	}
	if excessInMarket {
		s.MarketsWithExcess = append(s.MarketsWithExcess, MarketKey{EventID: eventID, MarketID: marketID})
	}
	return nil
}

// subdirs returns the names of the directories directly under dir, sorted.
func subdirs(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

func indexOf(header []string, col string) int {
	for i, h := range header {
		if h == col {
			return i
		}
	}
	return -1
}

func stem(path string) string {
	base := filepath.Base(path)
	return base[:len(base)-len(filepath.Ext(base))]
}
