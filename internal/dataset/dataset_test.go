package dataset

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rewired-gh/polysegment/internal/models"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestSelectEvents(t *testing.T) {
	raw := t.TempDir()
	for _, name := range []string{"event_c", "event_a", "event_b"} {
		require.NoError(t, os.MkdirAll(filepath.Join(raw, name), 0o755))
	}
	writeFile(t, filepath.Join(raw, "notes.txt"), "not an event")

	dirs, err := SelectEvents(raw, 2)
	require.NoError(t, err)
	require.Len(t, dirs, 2)
	assert.Equal(t, "event_a", filepath.Base(dirs[0]))
	assert.Equal(t, "event_b", filepath.Base(dirs[1]))

	all, err := SelectEvents(raw, 10)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	_, err = SelectEvents(filepath.Join(raw, "missing"), 10)
	assert.Error(t, err)
}

func TestLoadEvent(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "event_1")
	writeFile(t, filepath.Join(dir, "trades", "m1.csv"),
		"side,outcome,size,timestamp,proxyWallet,slug\n"+
			"BUY,Yes,10,1700000000,0xa,will-it\n"+
			"SELL,No,abc,1700086400,0xb,will-it\n")
	writeFile(t, filepath.Join(dir, "trades", "m2.csv"),
		"side,outcome,size,timestamp,title\n"+
			"BUY,No,2.5,bad,Title two\n")
	writeFile(t, filepath.Join(dir, "trades", "empty.csv"), "side,outcome,size,timestamp\n")
	writeFile(t, filepath.Join(dir, "trades", "broken.csv"), "")

	event, err := NewLoader(nil, "").LoadEvent(dir)
	require.NoError(t, err)

	assert.Equal(t, "event_1", event.ID)
	assert.Equal(t, "size", event.AmountColumn)
	assert.Equal(t, []string{"side", "outcome", "size", "timestamp", "proxyWallet", "slug", "title"}, event.Header)
	require.Len(t, event.Markets, 2)

	m1 := event.Markets[0]
	assert.Equal(t, "m1", m1.MarketID)
	assert.Equal(t, "event_1:m1", m1.Key())
	require.Len(t, m1.Trades, 2)
	assert.Equal(t, models.SideBuy, m1.Trades[0].Side)
	assert.Equal(t, models.OutcomeYes, m1.Trades[0].Outcome)
	assert.True(t, m1.Trades[0].Amount.Valid)
	assert.Equal(t, 10.0, m1.Trades[0].Amount.Float64)
	assert.True(t, m1.Trades[0].Timestamp.Valid)
	assert.Equal(t, "0xa", m1.Trades[0].ProxyWallet)
	assert.False(t, m1.Trades[1].Amount.Valid, "non-numeric amount is invalid")
	assert.Equal(t, []string{"BUY", "Yes", "10", "1700000000", "0xa", "will-it", ""}, m1.Trades[0].Record)

	m2 := event.Markets[1]
	assert.Equal(t, "m2", m2.MarketID)
	assert.False(t, m2.Trades[0].Timestamp.Valid)
	assert.Equal(t, "Title two", m2.Trades[0].Title)
	assert.Equal(t, []string{"BUY", "No", "2.5", "bad", "", "", "Title two"}, m2.Trades[0].Record)
}

func TestLoadEventAmountColumnPreference(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "event_1")
	writeFile(t, filepath.Join(dir, "trades", "m1.csv"), "size,amount,timestamp\n1,2,1700000000\n")

	event, err := NewLoader(nil, "").LoadEvent(dir)
	require.NoError(t, err)
	assert.Equal(t, "amount", event.AmountColumn)
	assert.Equal(t, 2.0, event.Markets[0].Trades[0].Amount.Float64)
}

func TestLoadEventNoAmountColumn(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "event_1")
	writeFile(t, filepath.Join(dir, "trades", "m1.csv"), "side,price,timestamp\nBUY,0.5,1700000000\n")

	_, err := NewLoader(nil, "").LoadEvent(dir)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNoAmountColumn))
}

func TestLoadEventNoTrades(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "event_1")
	require.NoError(t, os.MkdirAll(dir, 0o755))

	_, err := NewLoader(nil, "").LoadEvent(dir)
	assert.ErrorIs(t, err, ErrNoTrades)
}

func TestLoadEventMissingTimestampColumn(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "event_1")
	writeFile(t, filepath.Join(dir, "trades", "m1.csv"), "side,outcome,size\nBUY,Yes,1\n")

	event, err := NewLoader(nil, "").LoadEvent(dir)
	require.NoError(t, err)
	assert.False(t, event.Markets[0].Trades[0].Timestamp.Valid)
}

func TestParseNumber(t *testing.T) {
	tests := []struct {
		in    string
		want  float64
		valid bool
	}{
		{"10", 10, true},
		{" 2.5 ", 2.5, true},
		{"1e3", 1000, true},
		{"-4", -4, true},
		{"", 0, false},
		{"abc", 0, false},
		{"NaN", 0, false},
		{"inf", 0, false},
	}
	for _, tt := range tests {
		got := ParseNumber(tt.in)
		assert.Equal(t, tt.valid, got.Valid, "ParseNumber(%q)", tt.in)
		if tt.valid {
			assert.Equal(t, tt.want, got.Float64, "ParseNumber(%q)", tt.in)
		}
	}
}

func TestReadCSV(t *testing.T) {
	dir := t.TempDir()

	path := filepath.Join(dir, "bom.csv")
	writeFile(t, path, "\ufeffa,b\n1\n2,3\n")
	header, records, err := ReadCSV(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, header)
	assert.Equal(t, [][]string{{"1", ""}, {"2", "3"}}, records)

	wide := filepath.Join(dir, "wide.csv")
	writeFile(t, wide, "a,b\n1,2,3\n")
	_, _, err = ReadCSV(wide)
	assert.Error(t, err)

	_, _, err = ReadCSV(filepath.Join(dir, "missing.csv"))
	assert.Error(t, err)
}

func TestResolvePriceFile(t *testing.T) {
	eventDir := t.TempDir()
	prices := filepath.Join(eventDir, "prices")
	writeFile(t, filepath.Join(prices, "alpha_price.csv"), "timestamp,price\n")
	writeFile(t, filepath.Join(prices, "alpha.csv"), "timestamp,price\n")
	writeFile(t, filepath.Join(prices, "beta.csv"), "timestamp,price\n")
	writeFile(t, filepath.Join(prices, "x_gamma_z.csv"), "timestamp,price\n")
	writeFile(t, filepath.Join(prices, "a_gamma.json"), "{}")

	tests := []struct {
		marketID string
		want     string
		found    bool
	}{
		{"alpha", "alpha_price.csv", true},
		{"alpha_trades", "alpha_price.csv", true},
		{"beta", "beta.csv", true},
		{"gamma", "x_gamma_z.csv", true},
		{"delta", "", false},
	}
	for _, tt := range tests {
		path, ok := ResolvePriceFile(eventDir, tt.marketID)
		assert.Equal(t, tt.found, ok, tt.marketID)
		if tt.found {
			assert.Equal(t, tt.want, filepath.Base(path), tt.marketID)
		}
	}

	_, ok := ResolvePriceFile(t.TempDir(), "alpha")
	assert.False(t, ok, "no prices directory")
}

func TestPricePath(t *testing.T) {
	path := PricePath("raw/ev", "alpha_trades")
	assert.Equal(t, filepath.Join("raw", "ev", "prices", "alpha_price.csv"), path)
}

func TestLoadPrices(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "m_price.csv")
	writeFile(t, path, "price,timestamp\n0.4,1700000000\nbad,1700000100\n0.6,nope\n")

	points, err := LoadPrices(path, "timestamp")
	require.NoError(t, err)
	require.Len(t, points, 3)
	assert.True(t, points[0].Price.Valid)
	assert.Equal(t, 0.4, points[0].Price.Float64)
	assert.True(t, points[0].Timestamp.Valid)
	assert.False(t, points[1].Price.Valid)
	assert.False(t, points[2].Timestamp.Valid)

	malformed := filepath.Join(dir, "bad_price.csv")
	writeFile(t, malformed, "time,value\n1,2\n")
	_, err = LoadPrices(malformed, "timestamp")
	assert.Error(t, err)
}
