// Package dataset discovers events on disk and decodes their trade and price CSV files.
//
// The raw layout is one directory per event:
//
//	<raw>/<event>/trades/<market>.csv
//	<raw>/<event>/prices/<market>_price.csv
//
// A market's identifier is the stem of its trade file.
package dataset

import (
	"database/sql"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/rewired-gh/polysegment/internal/dayindex"
	"github.com/rewired-gh/polysegment/internal/logger"
	"github.com/rewired-gh/polysegment/internal/models"
)

var (
	// ErrNoAmountColumn is returned when none of the configured amount
	// columns appears in an event's trade files.
	ErrNoAmountColumn = errors.New("no recognized amount column")
	// ErrNoTrades is returned when an event has no readable trade rows.
	ErrNoTrades = errors.New("no readable trade files")
)

// DefaultAmountColumns are tried in order when choosing an event's amount field.
var DefaultAmountColumns = []string{"trade_amount", "amount", "size", "qty", "quantity"}

const (
	tradesDir = "trades"
	pricesDir = "prices"

	sideColumn        = "side"
	outcomeColumn     = "outcome"
	proxyWalletColumn = "proxyWallet"
	assetColumn       = "asset"
	slugColumn        = "slug"
	eventSlugColumn   = "eventSlug"
	titleColumn       = "title"
	priceColumn       = "price"
)

// Event is one event directory with its markets loaded.
type Event struct {
	ID           string
	Dir          string
	AmountColumn string
	// Header is the union of the trade file headers in first-seen order.
	Header  []string
	Markets []models.Market
}

// Loader decodes trade files using a configurable column layout.
type Loader struct {
	AmountColumns   []string
	TimestampColumn string
}

// NewLoader creates a loader, falling back to the default column names.
func NewLoader(amountColumns []string, timestampColumn string) *Loader {
	if len(amountColumns) == 0 {
		amountColumns = DefaultAmountColumns
	}
	if timestampColumn == "" {
		timestampColumn = "timestamp"
	}
	return &Loader{AmountColumns: amountColumns, TimestampColumn: timestampColumn}
}

// SelectEvents returns the first topN event directories under raw in name order.
func SelectEvents(raw string, topN int) ([]string, error) {
	entries, err := os.ReadDir(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to read raw directory: %w", err)
	}

	var dirs []string
	for _, e := range entries {
		if e.IsDir() {
			dirs = append(dirs, filepath.Join(raw, e.Name()))
		}
	}
	sort.Strings(dirs)

	if topN >= 0 && len(dirs) > topN {
		dirs = dirs[:topN]
	}
	return dirs, nil
}

type tradeFile struct {
	marketID string
	header   []string
	records  [][]string
}

// LoadEvent reads every trade file of the event in dir. Unreadable files are
// skipped with a warning; files with a header but no rows yield no market.
func (l *Loader) LoadEvent(dir string) (*Event, error) {
	event := &Event{ID: filepath.Base(dir), Dir: dir}

	paths, err := filepath.Glob(filepath.Join(dir, tradesDir, "*.csv"))
	if err != nil {
		return nil, fmt.Errorf("failed to list trade files: %w", err)
	}
	sort.Strings(paths)

	var files []tradeFile
	seen := make(map[string]bool)
	for _, path := range paths {
		header, records, err := ReadCSV(path)
		if err != nil {
			logger.Warn("Skipping unreadable trade file %s: %v", path, err)
			continue
		}
		for _, col := range header {
			if !seen[col] {
				seen[col] = true
				event.Header = append(event.Header, col)
			}
		}
		files = append(files, tradeFile{
			marketID: strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)),
			header:   header,
			records:  records,
		})
	}

	if len(files) == 0 {
		return event, ErrNoTrades
	}

	for _, col := range l.AmountColumns {
		if seen[col] {
			event.AmountColumn = col
			break
		}
	}
	if event.AmountColumn == "" {
		return event, fmt.Errorf("event %s: %w (tried %v)", event.ID, ErrNoAmountColumn, l.AmountColumns)
	}

	for _, f := range files {
		if len(f.records) == 0 {
			logger.Debug("Trade file for market %s has no rows", f.marketID)
			continue
		}
		event.Markets = append(event.Markets, l.decodeMarket(event, f))
	}
	return event, nil
}

func (l *Loader) decodeMarket(event *Event, f tradeFile) models.Market {
	// Map each union column to its position in this file, or -1.
	pos := make([]int, len(event.Header))
	local := make(map[string]int, len(f.header))
	for i, col := range f.header {
		local[col] = i
	}
	for i, col := range event.Header {
		if j, ok := local[col]; ok {
			pos[i] = j
		} else {
			pos[i] = -1
		}
	}

	field := func(rec []string, col string) string {
		if j, ok := local[col]; ok && j < len(rec) {
			return rec[j]
		}
		return ""
	}

	market := models.Market{
		EventID:  event.ID,
		MarketID: f.marketID,
		Header:   event.Header,
		Trades:   make([]models.Trade, 0, len(f.records)),
	}
	for _, rec := range f.records {
		aligned := make([]string, len(event.Header))
		for i, j := range pos {
			if j >= 0 && j < len(rec) {
				aligned[i] = rec[j]
			}
		}
		market.Trades = append(market.Trades, models.Trade{
			MarketID:    f.marketID,
			Side:        models.ParseSide(field(rec, sideColumn)),
			Outcome:     models.ParseOutcome(field(rec, outcomeColumn)),
			Amount:      ParseNumber(field(rec, event.AmountColumn)),
			Timestamp:   dayindex.ParseTimestamp(field(rec, l.TimestampColumn)),
			ProxyWallet: field(rec, proxyWalletColumn),
			Asset:       field(rec, assetColumn),
			Slug:        field(rec, slugColumn),
			EventSlug:   field(rec, eventSlugColumn),
			Title:       field(rec, titleColumn),
			Record:      aligned,
		})
	}
	return market
}

// ParseNumber coerces a numeric field. Anything that is not a finite number is invalid.
func ParseNumber(raw string) sql.NullFloat64 {
	s := strings.TrimSpace(raw)
	if s == "" {
		return sql.NullFloat64{}
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: f, Valid: true}
}

// ReadCSV reads a header row and all records. Short records are padded to the
// header width; a record wider than the header is an error.
func ReadCSV(path string) ([]string, [][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err == io.EOF {
		return nil, nil, fmt.Errorf("failed to read %s: empty file", path)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read header of %s: %w", path, err)
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}

	var records [][]string
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
		if len(rec) > len(header) {
			line, _ := r.FieldPos(0)
			return nil, nil, fmt.Errorf("failed to read %s: line %d has %d fields, expected %d", path, line, len(rec), len(header))
		}
		for len(rec) < len(header) {
			rec = append(rec, "")
		}
		records = append(records, rec)
	}
	return header, records, nil
}

// PricePath returns the canonical price file path for a market, the first
// candidate ResolvePriceFile tries.
func PricePath(eventDir, marketID string) string {
	slug := strings.ReplaceAll(marketID, "_trades", "")
	return filepath.Join(eventDir, pricesDir, slug+"_price.csv")
}

// ResolvePriceFile finds the price file for a market under its event
// directory. A "_trades" suffix on the market ID is ignored. It tries
// <m>_price.csv, then <m>.csv, then the first *<m>*.csv in name order.
func ResolvePriceFile(eventDir, marketID string) (string, bool) {
	slug := strings.ReplaceAll(marketID, "_trades", "")
	dir := filepath.Join(eventDir, pricesDir)

	for _, name := range []string{slug + "_price.csv", slug + ".csv"} {
		path := filepath.Join(dir, name)
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path, true
		}
	}

	matches, err := filepath.Glob(filepath.Join(dir, "*"+globEscape(slug)+"*"))
	if err != nil {
		return "", false
	}
	sort.Strings(matches)
	for _, path := range matches {
		if filepath.Ext(path) != ".csv" {
			continue
		}
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path, true
		}
	}
	return "", false
}

func globEscape(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteRune('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// LoadPrices reads a price series. The file must have timestamp and price
// columns; rows keep their input order and unparseable values stay invalid.
func LoadPrices(path, timestampColumn string) ([]models.PricePoint, error) {
	header, records, err := ReadCSV(path)
	if err != nil {
		return nil, err
	}

	tsIdx, priceIdx := -1, -1
	for i, col := range header {
		switch col {
		case timestampColumn:
			tsIdx = i
		case priceColumn:
			priceIdx = i
		}
	}
	if tsIdx < 0 || priceIdx < 0 {
		return nil, fmt.Errorf("price file %s must have %s and %s columns", path, timestampColumn, priceColumn)
	}

	points := make([]models.PricePoint, 0, len(records))
	for _, rec := range records {
		points = append(points, models.PricePoint{
			Timestamp: dayindex.ParseTimestamp(rec[tsIdx]),
			Price:     ParseNumber(rec[priceIdx]),
		})
	}
	return points, nil
}
