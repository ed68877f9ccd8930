// Package exporter writes the segmented trade subsets, flow panels, merged
// panels and market summaries as CSV, plus an optional Excel workbook.
package exporter

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/rewired-gh/polysegment/internal/models"
	"github.com/rewired-gh/polysegment/internal/panel"
)

const (
	// MergedPanelFile is the per-market merged panel file name.
	MergedPanelFile = "merged_panel.csv"
	// SummaryFile is the cross-market summary written at the output root.
	SummaryFile = "market_summary.csv"
)

// FlowPanelHeader is the column layout of a daily flow panel.
var FlowPanelHeader = []string{"segment", "market_id", "day", "H_Y", "H_N", "p_segment"}

// MergedPanelHeader is the column layout of a merged panel.
var MergedPanelHeader = []string{"day", "p_whale", "p_large", "p_medium", "p_small", "p_market"}

// SummaryHeader is the column layout of the market summary.
var SummaryHeader = []string{
	"market_id", "event_slug", "market_slug", "event_title", "market_title",
	"small_count", "medium_count", "large_count", "whale_count", "total_trades",
	"small_volume", "medium_volume", "large_volume", "whale_volume",
	"small_volume_share", "medium_volume_share", "large_volume_share", "whale_volume_share",
	"small_max", "medium_max", "large_max", "whale_threshold",
}

// Writer lays out output files under a root directory.
type Writer struct {
	root string
}

// NewWriter creates a writer rooted at root.
func NewWriter(root string) *Writer {
	return &Writer{root: root}
}

// Root returns the output root directory.
func (w *Writer) Root() string {
	return w.root
}

// MarketDir returns the directory holding one market's outputs.
func (w *Writer) MarketDir(eventID, marketID string) string {
	return filepath.Join(w.root, eventID, marketID)
}

// SubsetPath returns the path of a bucket's trade subset.
func (w *Writer) SubsetPath(eventID, marketID string, b models.Bucket) string {
	return filepath.Join(w.MarketDir(eventID, marketID), b.FileStem()+".csv")
}

// FlowPanelPath returns the path of a bucket's daily flow panel.
func (w *Writer) FlowPanelPath(eventID, marketID string, b models.Bucket) string {
	return filepath.Join(w.MarketDir(eventID, marketID), b.FileStem()+"_daily_panel.csv")
}

// MergedPanelPath returns the path of a market's merged panel.
func (w *Writer) MergedPanelPath(eventID, marketID string) string {
	return filepath.Join(w.MarketDir(eventID, marketID), MergedPanelFile)
}

// SummaryPath returns the path of the market summary.
func (w *Writer) SummaryPath() string {
	return filepath.Join(w.root, SummaryFile)
}

// WriteCSV writes a header and records to path, creating parent directories.
// The file is written to a temp path first and renamed into place.
func WriteCSV(path string, header []string, records [][]string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tempPath := path + ".tmp"
	file, err := os.Create(tempPath)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}

	writer := csv.NewWriter(file)
	if err := writer.Write(header); err != nil {
		file.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to write header: %w", err)
	}
	for i, rec := range records {
		if err := writer.Write(rec); err != nil {
			file.Close()
			os.Remove(tempPath)
			return fmt.Errorf("failed to write record %d: %w", i, err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		file.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to flush %s: %w", path, err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to close file: %w", err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

// SubsetHeader extends a source header with the market_id, segment and day
// columns. A column already present in the source is overwritten in place.
func SubsetHeader(source []string) []string {
	header := append([]string(nil), source...)
	for _, col := range []string{"market_id", "segment", "day"} {
		if indexOf(header, col) < 0 {
			header = append(header, col)
		}
	}
	return header
}

// WriteSubset writes one bucket's trades with their source columns followed
// by market_id, segment, and day. An empty subset still gets a header.
func WriteSubset(path string, source []string, marketID string, b models.Bucket, trades []panel.DayTrade) error {
	header := SubsetHeader(source)
	marketIdx := indexOf(header, "market_id")
	segmentIdx := indexOf(header, "segment")
	dayIdx := indexOf(header, "day")

	records := make([][]string, 0, len(trades))
	for _, t := range trades {
		rec := make([]string, len(header))
		copy(rec, t.Record)
		rec[marketIdx] = marketID
		rec[segmentIdx] = b.String()
		rec[dayIdx] = FormatNullInt(t.Day)
		records = append(records, rec)
	}
	return WriteCSV(path, header, records)
}

// WriteFlowPanel writes a bucket's daily flow panel.
func WriteFlowPanel(path string, rows []models.FlowPanelRow) error {
	records := make([][]string, 0, len(rows))
	for _, r := range rows {
		records = append(records, []string{
			r.Segment.String(),
			r.MarketID,
			strconv.Itoa(r.Day),
			FormatFloat(r.HY),
			FormatFloat(r.HN),
			FormatNullFloat(r.PSegment),
		})
	}
	return WriteCSV(path, FlowPanelHeader, records)
}

// MergedRecords renders merged panel rows in MergedPanelHeader order.
func MergedRecords(rows []models.MergedPanelRow) [][]string {
	records := make([][]string, 0, len(rows))
	for _, r := range rows {
		rec := []string{strconv.Itoa(r.Day)}
		for _, b := range models.ColumnOrder {
			rec = append(rec, FormatNullFloat(r.Bucket(b)))
		}
		rec = append(rec, FormatNullFloat(r.PMarket))
		records = append(records, rec)
	}
	return records
}

// WriteMergedPanel writes a market's merged panel.
func WriteMergedPanel(path string, rows []models.MergedPanelRow) error {
	return WriteCSV(path, MergedPanelHeader, MergedRecords(rows))
}

// SummaryRecord renders one summary in SummaryHeader order.
func SummaryRecord(s *models.MarketSummary) []string {
	rec := []string{s.MarketID, s.EventSlug, s.MarketSlug, s.EventTitle, s.MarketTitle}
	for _, b := range models.PreferenceOrder {
		rec = append(rec, strconv.Itoa(s.Buckets[b].Count))
	}
	rec = append(rec, strconv.Itoa(s.TotalTrades))
	for _, b := range models.PreferenceOrder {
		rec = append(rec, FormatFloat(s.Buckets[b].Volume))
	}
	for _, b := range models.PreferenceOrder {
		rec = append(rec, FormatNullFloat(s.Buckets[b].Share))
	}
	for _, b := range []models.Bucket{models.Small, models.Medium, models.Large} {
		rec = append(rec, FormatNullFloat(s.Buckets[b].Max))
	}
	rec = append(rec, FormatNullFloat(s.WhaleThreshold))
	return rec
}

// WriteSummary writes the market summary table.
func WriteSummary(path string, summaries []models.MarketSummary) error {
	records := make([][]string, 0, len(summaries))
	for i := range summaries {
		records = append(records, SummaryRecord(&summaries[i]))
	}
	return WriteCSV(path, SummaryHeader, records)
}

func indexOf(cols []string, name string) int {
	for i, c := range cols {
		if c == name {
			return i
		}
	}
	return -1
}
