// Package domain defines the value types shared by the breadth pipeline:
// daily bars, per-symbol series, snapshot rows and breadth records.
package domain

import (
	"maps"
	"math"
	"sort"
	"time"
)

// DateLayout is the canonical on-disk date format.
const DateLayout = "2006-01-02"

// Day truncates t to its calendar day, represented as midnight UTC. The
// year/month/day are taken from t's own location.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseDate parses a YYYY-MM-DD string into a calendar day.
func ParseDate(s string) (time.Time, error) {
	return time.Parse(DateLayout, s)
}

// FormatDate formats a calendar day as YYYY-MM-DD.
func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}

// ---------------------------------------------------------------------------
// Bars and series
// ---------------------------------------------------------------------------

// Bar is one daily OHLCV observation. A NaN price marks a missing value.
type Bar struct {
	Date   time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume int64
}

// HasNull reports whether any required field of the bar is missing.
func (b Bar) HasNull() bool {
	return b.Date.IsZero() ||
		math.IsNaN(b.Open) || math.IsNaN(b.High) ||
		math.IsNaN(b.Low) || math.IsNaN(b.Close)
}

// Series is the ordered bar history of one symbol. Dates are strictly
// increasing; gaps (weekends, holidays, missed fetches) are simply absent.
type Series struct {
	Symbol string
	Bars   []Bar
}

// Len returns the number of bars.
func (s Series) Len() int { return len(s.Bars) }

// Upto returns the bars dated on or before ref. The returned slice shares
// storage with s and must not be modified.
func (s Series) Upto(ref time.Time) []Bar {
	ref = Day(ref)
	n := sort.Search(len(s.Bars), func(i int) bool {
		return Day(s.Bars[i].Date).After(ref)
	})
	return s.Bars[:n]
}

// IndexOf returns the index of the bar dated exactly on date, or -1.
func (s Series) IndexOf(date time.Time) int {
	date = Day(date)
	i := sort.Search(len(s.Bars), func(i int) bool {
		return !Day(s.Bars[i].Date).Before(date)
	})
	if i < len(s.Bars) && Day(s.Bars[i].Date).Equal(date) {
		return i
	}
	return -1
}

// Last returns the most recent bar and false when the series is empty.
func (s Series) Last() (Bar, bool) {
	if len(s.Bars) == 0 {
		return Bar{}, false
	}
	return s.Bars[len(s.Bars)-1], true
}

// ---------------------------------------------------------------------------
// Snapshots
// ---------------------------------------------------------------------------

// SnapshotRow is one symbol's point-in-time view for a reference date.
// PrevClose is zero when the symbol has no earlier bar.
type SnapshotRow struct {
	Symbol    string
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    int64
	PrevClose float64
	High52W   float64
	Low52W    float64
	HasRange  bool
	SMA       map[int]float64
}

// Snapshot is the cross-section of all qualifying symbols for one date,
// sorted by symbol.
type Snapshot struct {
	Date    time.Time
	Periods []int
	Rows    []SnapshotRow
}

// Len returns the number of rows.
func (s Snapshot) Len() int { return len(s.Rows) }

// Symbols returns the row symbols in order.
func (s Snapshot) Symbols() []string {
	out := make([]string, len(s.Rows))
	for i, r := range s.Rows {
		out[i] = r.Symbol
	}
	return out
}

// ---------------------------------------------------------------------------
// Breadth records
// ---------------------------------------------------------------------------

// BreadthRecord holds the breadth metrics for one trading day. Percentages
// are in the 0..100 range rounded to two decimals.
type BreadthRecord struct {
	Date       time.Time
	High52W    float64         // % of rows closing at or above the 52-week high
	Low52W     float64         // % of rows closing at or below the 52-week low
	Up         float64         // % of rows moving above +threshold
	Down       float64         // % of rows moving below -threshold
	Above      map[int]float64 // period -> % of rows closing above the SMA
	Below      map[int]float64 // period -> % of rows closing below the SMA
	Ratio      float64         // up movers / down movers
	AboveCount map[int]int     // period -> raw count closing above the SMA
}

// Equal reports whether r and o hold the same date and values.
func (r BreadthRecord) Equal(o BreadthRecord) bool {
	return r.Date.Equal(o.Date) &&
		r.High52W == o.High52W && r.Low52W == o.Low52W &&
		r.Up == o.Up && r.Down == o.Down && r.Ratio == o.Ratio &&
		maps.Equal(r.Above, o.Above) &&
		maps.Equal(r.Below, o.Below) &&
		maps.Equal(r.AboveCount, o.AboveCount)
}

// Clone returns a deep copy of r.
func (r BreadthRecord) Clone() BreadthRecord {
	r.Above = maps.Clone(r.Above)
	r.Below = maps.Clone(r.Below)
	r.AboveCount = maps.Clone(r.AboveCount)
	return r
}
