package audit

import (
	"fmt"
	"io"
	"strings"

	"github.com/rewired-gh/polysegment/internal/models"
)

var rule = strings.Repeat("=", 80)

// percent returns part as a percentage of total, or 0 when total is 0.
func percent(part, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(part) / float64(total) * 100
}

// WriteProbabilityReport prints the probability audit in a human-readable form.
func WriteProbabilityReport(w io.Writer, s *ProbabilityStats) {
	fmt.Fprintln(w, rule)
	fmt.Fprintln(w, "Segment probability audit")
	fmt.Fprintln(w, rule)
	fmt.Fprintf(w, "Daily panel files analyzed: %d\n", s.Panels)
	fmt.Fprintf(w, "Rows across all panels: %d\n", s.Rows)
	fmt.Fprintf(w, "\nRows with negative p_segment: %d (%.2f%%)\n", s.Negative, percent(s.Negative, s.Rows))
	fmt.Fprintf(w, "Rows with null p_segment: %d (%.2f%%)\n", s.Null, percent(s.Null, s.Rows))
	fmt.Fprintf(w, "Rows with H_Y + H_N <= 0: %d (%.2f%%)\n", s.ZeroDenominator, percent(s.ZeroDenominator, s.Rows))
	fmt.Fprintf(w, "\nPanels with at least one negative p_segment: %d\n", len(s.NegativePanels))
	fmt.Fprintln(w, "By segment:")
	for _, b := range models.PreferenceOrder {
		fmt.Fprintf(w, "  %s: %d\n", b, s.BySegment[b])
	}
}

// WritePositionReport prints the position audit in a human-readable form.
func WritePositionReport(w io.Writer, s *PositionStats) {
	fmt.Fprintln(w, rule)
	fmt.Fprintln(w, "Wallet position audit (sells exceeding buys)")
	fmt.Fprintln(w, rule)
	fmt.Fprintf(w, "Markets analyzed: %d\n", s.Markets)
	fmt.Fprintf(w, "Wallets (per market): %d\n", s.Users)
	fmt.Fprintf(w, "\nWallets with excess sells: %d (%.2f%%)\n", s.UsersWithExcess, percent(s.UsersWithExcess, s.Users))
	fmt.Fprintf(w, "Markets with at least one such wallet: %d\n", len(s.MarketsWithExcess))
	fmt.Fprintf(w, "Total excess sell volume: %.2f\n", s.ExcessVolume)

	if len(s.Examples) == 0 {
		return
	}
	fmt.Fprintf(w, "\nExamples (first %d):\n", MaxExamples)
	for i, ex := range s.Examples {
		fmt.Fprintf(w, "\n  %d. %s/%s\n", i+1, ex.EventID, ex.MarketID)
		fmt.Fprintf(w, "     Wallet: %s\n", ex.User)
		fmt.Fprintf(w, "     Buys: %.2f  Sells: %.2f  Excess: %.2f\n", ex.Buys, ex.Sells, ex.Excess)
	}
}
