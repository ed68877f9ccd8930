// Package dayindex assigns market-local day numbers to timestamps.
//
// Day 1 is the UTC calendar date of a market's earliest valid timestamp and
// day N is N−1 calendar days later. Days are calendar dates, not rolling 24h
// windows: 23:59:59 and 00:00:01 the next morning are one day apart.
package dayindex

import (
	"database/sql"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/rewired-gh/polysegment/internal/models"
)

const secondsPerDay = 24 * 60 * 60

// ParseTimestamp parses Unix epoch seconds, integer or decimal. Anything that
// does not parse to a finite number is invalid.
func ParseTimestamp(raw string) sql.NullTime {
	s := strings.TrimSpace(raw)
	if s == "" {
		return sql.NullTime{}
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return sql.NullTime{}
	}
	// Beyond the range time.Unix can represent in nanoseconds without overflow.
	if math.Abs(f) > 9.2e9 {
		return sql.NullTime{}
	}
	sec, frac := math.Modf(f)
	nsec := int64(math.Round(frac * 1e9))
	return sql.NullTime{Time: time.Unix(int64(sec), nsec).UTC(), Valid: true}
}

// Date truncates t to midnight UTC of its calendar date.
func Date(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DayOf returns the day number of t relative to anchor (a midnight UTC date).
func DayOf(anchor, t time.Time) int {
	return int((Date(t).Unix()-anchor.Unix())/secondsPerDay) + 1
}

// Anchor returns the calendar date of the earliest valid timestamp, or an
// invalid value when no trade has one.
func Anchor(trades []models.Trade) sql.NullTime {
	var earliest time.Time
	found := false
	for _, t := range trades {
		if !t.Timestamp.Valid {
			continue
		}
		if !found || t.Timestamp.Time.Before(earliest) {
			earliest = t.Timestamp.Time
			found = true
		}
	}
	if !found {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: Date(earliest), Valid: true}
}

// Result carries the day index of every trade of a market.
type Result struct {
	Anchor sql.NullTime
	// Days is parallel to the indexed trades; invalid where the timestamp was.
	Days []sql.NullInt64
}

// Index assigns each trade its day number. With no valid timestamp at all
// every day is null and the anchor is invalid.
func Index(trades []models.Trade) Result {
	res := Result{
		Anchor: Anchor(trades),
		Days:   make([]sql.NullInt64, len(trades)),
	}
	if !res.Anchor.Valid {
		return res
	}
	for i, t := range trades {
		if t.Timestamp.Valid {
			res.Days[i] = sql.NullInt64{Int64: int64(DayOf(res.Anchor.Time, t.Timestamp.Time)), Valid: true}
		}
	}
	return res
}
