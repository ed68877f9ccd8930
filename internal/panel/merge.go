package panel

import (
	"database/sql"
	"sort"

	"github.com/rewired-gh/polysegment/internal/dayindex"
	"github.com/rewired-gh/polysegment/internal/models"
)

// PriceAnchor picks the anchor used to align the price series: the calendar
// date of the earliest valid timestamp in the Small subset. The Small subset
// is always written, so it is the first in models.PreferenceOrder and the only
// one consulted; when it has no valid timestamp the anchor is invalid and the
// market gets no price column, even if a later bucket has trades.
func PriceAnchor(subsets map[models.Bucket][]models.Trade) sql.NullTime {
	return dayindex.Anchor(subsets[models.PreferenceOrder[0]])
}

// DailyPrices maps price observations onto day numbers relative to anchor.
// Observations with an invalid timestamp are dropped; each day keeps the last
// valid price in input order, and a day whose prices are all invalid is kept
// with a null price.
func DailyPrices(prices []models.PricePoint, anchor sql.NullTime) map[int]sql.NullFloat64 {
	if !anchor.Valid {
		return nil
	}
	out := make(map[int]sql.NullFloat64)
	for _, p := range prices {
		if !p.Timestamp.Valid {
			continue
		}
		d := dayindex.DayOf(anchor.Time, p.Timestamp.Time)
		if p.Price.Valid {
			out[d] = p.Price
		} else if _, seen := out[d]; !seen {
			out[d] = sql.NullFloat64{}
		}
	}
	return out
}

// Merge outer-joins the bucket panels on day, joins the daily prices and
// forward-fills p_market in ascending day order. Bucket columns are never
// filled: a day outside a bucket's range is null for that bucket. It returns
// false when no bucket has a panel.
func Merge(panels map[models.Bucket][]models.FlowPanelRow, prices map[int]sql.NullFloat64) ([]models.MergedPanelRow, bool) {
	rowsByDay := make(map[int]*models.MergedPanelRow)
	get := func(d int) *models.MergedPanelRow {
		row, ok := rowsByDay[d]
		if !ok {
			row = &models.MergedPanelRow{Day: d}
			rowsByDay[d] = row
		}
		return row
	}

	contributing := 0
	for _, b := range models.ColumnOrder {
		rows := panels[b]
		if len(rows) == 0 {
			continue
		}
		contributing++
		for _, r := range rows {
			get(r.Day).SetBucket(b, r.PSegment)
		}
	}
	if contributing == 0 {
		return nil, false
	}

	for d, p := range prices {
		get(d).PMarket = p
	}

	days := make([]int, 0, len(rowsByDay))
	for d := range rowsByDay {
		days = append(days, d)
	}
	sort.Ints(days)

	merged := make([]models.MergedPanelRow, 0, len(days))
	var last sql.NullFloat64
	for _, d := range days {
		row := *rowsByDay[d]
		if row.PMarket.Valid {
			last = row.PMarket
		} else {
			row.PMarket = last
		}
		merged = append(merged, row)
	}
	return merged, true
}
