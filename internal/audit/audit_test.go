package audit

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rewired-gh/polysegment/internal/dataset"
	"github.com/rewired-gh/polysegment/internal/models"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

const panelHeader = "segment,market_id,day,H_Y,H_N,p_segment\n"

func TestAuditProbabilities(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "ev_a", "m1", "small_daily_panel.csv"), panelHeader+
		"Small,m1,1,3.0,1.0,0.75\n"+
		"Small,m1,2,0.0,0.0,\n"+
		"Small,m1,3,-2.0,1.0,-1.0\n")
	writeFile(t, filepath.Join(root, "ev_a", "m1", "whale_daily_panel.csv"), panelHeader+
		"Whale,m1,1,1.0,0.0,1.0\n")
	writeFile(t, filepath.Join(root, "ev_a", "m2", "large_daily_panel.csv"), panelHeader+
		"Large,m2,1,-1.0,0.5,-2.0\n")
	// Header-only panels and unrelated files are ignored.
	writeFile(t, filepath.Join(root, "ev_b", "m3", "medium_daily_panel.csv"), panelHeader)
	writeFile(t, filepath.Join(root, "ev_b", "m3", "merged_panel.csv"), "day,p_whale\n1,0.2\n")
	writeFile(t, filepath.Join(root, "market_summary.csv"), "market_id\nm1\n")

	stats, err := AuditProbabilities(root)
	require.NoError(t, err)

	assert.Equal(t, 3, stats.Panels)
	assert.Equal(t, 5, stats.Rows)
	assert.Equal(t, 2, stats.Negative)
	assert.Equal(t, 1, stats.Null)
	assert.Equal(t, 3, stats.ZeroDenominator)
	assert.Equal(t, []PanelKey{
		{EventID: "ev_a", MarketID: "m1", Segment: models.Small},
		{EventID: "ev_a", MarketID: "m2", Segment: models.Large},
	}, stats.NegativePanels)
	assert.Equal(t, 1, stats.BySegment[models.Small])
	assert.Equal(t, 1, stats.BySegment[models.Large])
	assert.Equal(t, 0, stats.BySegment[models.Whale])
}

func TestAuditProbabilitiesMissingRoot(t *testing.T) {
	_, err := AuditProbabilities(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}

func TestAuditPositions(t *testing.T) {
	raw := t.TempDir()
	writeFile(t, filepath.Join(raw, "ev_a", "trades", "m1.csv"),
		"proxyWallet,side,size\n"+
			"0xa,BUY,5\n"+
			"0xa,SELL,8\n"+
			"0xb,BUY,2\n"+
			"0xb,SELL,2\n"+
			"0xc,SELL,1.5\n"+
			"0xc,SELL,oops\n"+
			",SELL,100\n")
	writeFile(t, filepath.Join(raw, "ev_a", "trades", "m2.csv"),
		"proxyWallet,side,size\n0xa,BUY,1\n")
	// No wallet column: skipped.
	writeFile(t, filepath.Join(raw, "ev_a", "trades", "m3.csv"), "side,size\nSELL,4\n")
	// Beyond topN.
	writeFile(t, filepath.Join(raw, "ev_b", "trades", "m4.csv"), "proxyWallet,side,size\n0xz,SELL,9\n")

	stats, err := AuditPositions(raw, 1, dataset.DefaultAmountColumns)
	require.NoError(t, err)

	assert.Equal(t, 2, stats.Markets)
	assert.Equal(t, 4, stats.Users)
	assert.Equal(t, 2, stats.UsersWithExcess)
	assert.InDelta(t, 4.5, stats.ExcessVolume, 1e-12)
	assert.Equal(t, []MarketKey{{EventID: "ev_a", MarketID: "m1"}}, stats.MarketsWithExcess)
	require.Len(t, stats.Examples, 2)
	assert.Equal(t, PositionExample{EventID: "ev_a", MarketID: "m1", User: "0xa", Buys: 5, Sells: 8, Excess: 3}, stats.Examples[0])
	assert.Equal(t, "0xc", stats.Examples[1].User)
}

func TestAuditPositionsAmountColumnPreference(t *testing.T) {
	raw := t.TempDir()
	writeFile(t, filepath.Join(raw, "ev", "trades", "m.csv"),
		"proxyWallet,side,size,amount\n0xa,SELL,10,1\n0xa,BUY,1,2\n")

	stats, err := AuditPositions(raw, 10, []string{"amount", "size"})
	require.NoError(t, err)
	assert.Equal(t, 0, stats.UsersWithExcess, "amount column should win over size")
}

func TestAuditPositionsExampleLimit(t *testing.T) {
	raw := t.TempDir()
	var content bytes.Buffer
	content.WriteString("proxyWallet,side,size\n")
	for i := 0; i < MaxExamples+5; i++ {
		content.WriteString("0x" + string(rune('a'+i)) + ",SELL,1\n")
	}
	writeFile(t, filepath.Join(raw, "ev", "trades", "m.csv"), content.String())

	stats, err := AuditPositions(raw, 10, dataset.DefaultAmountColumns)
	require.NoError(t, err)
	assert.Equal(t, MaxExamples+5, stats.UsersWithExcess)
	assert.Len(t, stats.Examples, MaxExamples)
}

func TestReports(t *testing.T) {
	var buf bytes.Buffer
	WriteProbabilityReport(&buf, &ProbabilityStats{})
	assert.Contains(t, buf.String(), "Rows with negative p_segment: 0 (0.00%)")

	buf.Reset()
	WriteProbabilityReport(&buf, &ProbabilityStats{Panels: 1, Rows: 4, Negative: 1, BySegment: [4]int{2, 0, 0, 1}})
	out := buf.String()
	assert.Contains(t, out, "Rows with negative p_segment: 1 (25.00%)")
	assert.Contains(t, out, "  Small: 2\n")
	assert.Contains(t, out, "  Whale: 1\n")

	buf.Reset()
	WritePositionReport(&buf, &PositionStats{
		Markets:         1,
		Users:           2,
		UsersWithExcess: 1,
		ExcessVolume:    3,
		Examples:        []PositionExample{{EventID: "ev", MarketID: "m", User: "0xa", Buys: 5, Sells: 8, Excess: 3}},
	})
	out = buf.String()
	assert.Contains(t, out, "Wallets with excess sells: 1 (50.00%)")
	assert.Contains(t, out, "ev/m")
	assert.Contains(t, out, "Buys: 5.00  Sells: 8.00  Excess: 3.00")
}
