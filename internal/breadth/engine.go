// Package breadth reduces a consolidated snapshot to one BreadthRecord.
package breadth

import (
	"errors"
	"math"
	"time"

	"github.com/shopspring/decimal"

	"mbi/internal/domain"
	"mbi/internal/window"
)

// DefaultThreshold is the daily move, in percent, that counts a row as a
// sharp mover.
const DefaultThreshold = 4.5

// RatioSentinel stands in for the up/down ratio when there are up-movers but
// no down-movers.
const RatioSentinel = 99.99

// DefaultCountPeriods are the SMA periods whose raw above-counts are kept.
var DefaultCountPeriods = []int{20, 50}

// ErrEmptySnapshot is returned when Compute is handed zero rows.
var ErrEmptySnapshot = errors.New("breadth: empty snapshot")

// Engine computes breadth records for a fixed set of periods. Daily moves
// are measured open to close unless PrevCloseBase is set.
type Engine struct {
	Periods       []int
	CountPeriods  []int
	Threshold     float64
	PrevCloseBase bool
}

// NewEngine returns an Engine. A non-positive threshold selects the default.
func NewEngine(periods, countPeriods []int, threshold float64) *Engine {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Engine{
		Periods:      append([]int(nil), periods...),
		CountPeriods: append([]int(nil), countPeriods...),
		Threshold:    threshold,
	}
}

// DefaultEngine returns an Engine with the stock parameters.
func DefaultEngine() *Engine {
	return NewEngine(window.DefaultPeriods, DefaultCountPeriods, DefaultThreshold)
}

// Schema describes the ledger columns of records produced by e.
func (e *Engine) Schema() Schema {
	return NewSchema(e.Periods, e.CountPeriods, e.Threshold)
}

// Compute reduces snap to the breadth record of date. Coverage is the
// caller's concern; only an empty snapshot is rejected.
func (e *Engine) Compute(snap domain.Snapshot, date time.Time) (domain.BreadthRecord, error) {
	n := snap.Len()
	if n == 0 {
		return domain.BreadthRecord{}, ErrEmptySnapshot
	}

	var atHigh, atLow, up, down int
	above := make(map[int]int, len(e.Periods))
	below := make(map[int]int, len(e.Periods))

	for _, r := range snap.Rows {
		if r.HasRange {
			if r.Close >= r.High52W {
				atHigh++
			}
			if r.Close <= r.Low52W {
				atLow++
			}
		}

		if chg, ok := Change(r, e.PrevCloseBase); ok {
			switch {
			case chg > e.Threshold:
				up++
			case chg < -e.Threshold:
				down++
			}
		}

		for _, p := range e.Periods {
			sma, ok := r.SMA[p]
			if !ok || math.IsNaN(sma) {
				continue
			}
			switch {
			case r.Close > sma:
				above[p]++
			case r.Close < sma:
				below[p]++
			}
		}
	}

	rec := domain.BreadthRecord{
		Date:       domain.Day(date),
		High52W:    Percent(atHigh, n),
		Low52W:     Percent(atLow, n),
		Up:         Percent(up, n),
		Down:       Percent(down, n),
		Above:      make(map[int]float64, len(e.Periods)),
		Below:      make(map[int]float64, len(e.Periods)),
		Ratio:      Ratio(up, down),
		AboveCount: make(map[int]int, len(e.CountPeriods)),
	}
	for _, p := range e.Periods {
		rec.Above[p] = Percent(above[p], n)
		rec.Below[p] = Percent(below[p], n)
	}
	for _, p := range e.CountPeriods {
		rec.AboveCount[p] = above[p]
	}
	return rec, nil
}

// Change returns the row's daily move in percent, measured from the open.
// With prevClose the previous close is the base when the row has one. ok is
// false when no base is usable.
func Change(r domain.SnapshotRow, prevClose bool) (float64, bool) {
	base := r.Open
	if prevClose && r.PrevClose != 0 && !math.IsNaN(r.PrevClose) {
		base = r.PrevClose
	}
	if base == 0 || math.IsNaN(base) || math.IsNaN(r.Close) {
		return 0, false
	}
	return 100 * (r.Close - base) / base, true
}

// Percent returns 100*count/n rounded half-up to two decimals.
func Percent(count, n int) float64 {
	if n == 0 {
		return 0
	}
	return round2(decimal.NewFromInt(int64(100 * count)).Div(decimal.NewFromInt(int64(n))))
}

// Ratio returns up/down rounded to two decimals, 0 when nothing moved and
// RatioSentinel when every mover went up.
func Ratio(up, down int) float64 {
	switch {
	case down > 0:
		return round2(decimal.NewFromInt(int64(up)).Div(decimal.NewFromInt(int64(down))))
	case up == 0:
		return 0
	default:
		return RatioSentinel
	}
}

func round2(d decimal.Decimal) float64 {
	f, _ := d.Round(2).Float64()
	return f
}
