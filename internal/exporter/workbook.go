package exporter

import (
	"database/sql"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/rewired-gh/polysegment/internal/models"
)

const (
	summarySheet      = "summary"
	maxSheetName      = 31
	invalidSheetChars = `:\/?*[]`
)

// MarketSheet is one market's merged panel for the workbook.
type MarketSheet struct {
	EventID  string
	MarketID string
	Rows     []models.MergedPanelRow
}

// WriteWorkbook writes the summary table and every merged panel to one Excel
// workbook. The summary sheet comes first; each market gets a sheet named
// after its market ID, shortened and de-duplicated to fit Excel's limits.
func WriteWorkbook(path string, summaries []models.MarketSummary, markets []MarketSheet) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return fmt.Errorf("failed to name summary sheet: %w", err)
	}
	if err := writeSheet(f, summarySheet, SummaryHeader, summaryRows(summaries)); err != nil {
		return err
	}

	used := map[string]bool{strings.ToLower(summarySheet): true}
	for _, m := range markets {
		name := SheetName(m.MarketID, used)
		if _, err := f.NewSheet(name); err != nil {
			return fmt.Errorf("failed to create sheet for %s: %w", m.MarketID, err)
		}
		if err := writeSheet(f, name, MergedPanelHeader, mergedCells(m.Rows)); err != nil {
			return err
		}
	}

	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("failed to save workbook: %w", err)
	}
	return nil
}

// SheetName derives a valid, unused sheet name from a market ID and records
// it in used. Excel compares sheet names case-insensitively.
func SheetName(marketID string, used map[string]bool) string {
	base := strings.Map(func(r rune) rune {
		if strings.ContainsRune(invalidSheetChars, r) {
			return '_'
		}
		return r
	}, marketID)
	base = strings.Trim(base, "'")
	if base == "" {
		base = "market"
	}
	base = truncateRunes(base, maxSheetName)

	name := base
	for i := 2; used[strings.ToLower(name)]; i++ {
		suffix := fmt.Sprintf("~%d", i)
		name = truncateRunes(base, maxSheetName-len(suffix)) + suffix
	}
	used[strings.ToLower(name)] = true
	return name
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func writeSheet(f *excelize.File, sheet string, header []string, rows [][]interface{}) error {
	headerCells := make([]interface{}, len(header))
	for i, h := range header {
		headerCells[i] = h
	}
	if err := f.SetSheetRow(sheet, "A1", &headerCells); err != nil {
		return fmt.Errorf("failed to write %s header: %w", sheet, err)
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return fmt.Errorf("failed to address %s row %d: %w", sheet, i, err)
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("failed to write %s row %d: %w", sheet, i, err)
		}
	}
	return nil
}

// summaryRows keeps text columns as strings and numbers as numbers so the
// workbook stays sortable. Null values become empty cells; an infinite whale
// threshold is written as the text "inf" since Excel has no infinity.
func summaryRows(summaries []models.MarketSummary) [][]interface{} {
	rows := make([][]interface{}, 0, len(summaries))
	for i := range summaries {
		s := &summaries[i]
		row := []interface{}{s.MarketID, s.EventSlug, s.MarketSlug, s.EventTitle, s.MarketTitle}
		for _, b := range models.PreferenceOrder {
			row = append(row, s.Buckets[b].Count)
		}
		row = append(row, s.TotalTrades)
		for _, b := range models.PreferenceOrder {
			row = append(row, s.Buckets[b].Volume)
		}
		for _, b := range models.PreferenceOrder {
			row = append(row, nullCell(s.Buckets[b].Share))
		}
		for _, b := range []models.Bucket{models.Small, models.Medium, models.Large} {
			row = append(row, nullCell(s.Buckets[b].Max))
		}
		row = append(row, nullCell(s.WhaleThreshold))
		rows = append(rows, row)
	}
	return rows
}

func mergedCells(panel []models.MergedPanelRow) [][]interface{} {
	rows := make([][]interface{}, 0, len(panel))
	for _, r := range panel {
		row := []interface{}{r.Day}
		for _, b := range models.ColumnOrder {
			row = append(row, nullCell(r.Bucket(b)))
		}
		row = append(row, nullCell(r.PMarket))
		rows = append(rows, row)
	}
	return rows
}

func nullCell(v sql.NullFloat64) interface{} {
	switch {
	case !v.Valid || math.IsNaN(v.Float64):
		return nil
	case math.IsInf(v.Float64, 0):
		return FormatFloat(v.Float64)
	default:
		return v.Float64
	}
}
