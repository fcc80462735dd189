// Package window computes the point-in-time trailing statistics of one
// symbol's bar history: the 52-week range and simple moving averages.
package window

import (
	"math"
	"time"

	"mbi/internal/domain"
)

// DefaultTrailing is the 52-week window measured in bars.
const DefaultTrailing = 252

// DefaultPeriods are the SMA periods tracked by the breadth metrics.
var DefaultPeriods = []int{10, 20, 50, 200}

// Params selects the SMA periods and the trailing range size.
type Params struct {
	Periods  []int
	Trailing int
}

// DefaultParams returns the stock window parameters.
func DefaultParams() Params {
	return Params{Periods: append([]int(nil), DefaultPeriods...), Trailing: DefaultTrailing}
}

// Window holds the statistics of a series as of a reference date.
// HasRange is false, and SMA empty, when no bar exists on or before it.
type Window struct {
	Bars     int
	High52W  float64
	Low52W   float64
	HasRange bool
	SMA      map[int]float64
}

// Compute evaluates the window over the bars of s dated on or before ref.
// Later bars are never read.
func Compute(s domain.Series, ref time.Time, p Params) Window {
	return Over(s.Upto(ref), p)
}

// Over evaluates the window over bars, which must already be cut at the
// reference date.
func Over(bars []domain.Bar, p Params) Window {
	w := Window{Bars: len(bars), SMA: make(map[int]float64, len(p.Periods))}
	if len(bars) == 0 {
		return w
	}

	trailing := p.Trailing
	if trailing <= 0 {
		trailing = DefaultTrailing
	}
	w.High52W, w.Low52W = Range(bars, trailing)
	w.HasRange = true

	for _, period := range p.Periods {
		w.SMA[period] = SMA(bars, period)
	}
	return w
}

// Range returns the highest High and lowest Low over the last n bars.
func Range(bars []domain.Bar, n int) (high, low float64) {
	start := max(len(bars)-n, 0)
	high, low = math.Inf(-1), math.Inf(1)
	for _, b := range bars[start:] {
		high = max(high, b.High)
		low = min(low, b.Low)
	}
	return high, low
}

// SMA averages the closes of the last period bars, or of all bars when fewer
// exist. It returns NaN only for an empty slice.
func SMA(bars []domain.Bar, period int) float64 {
	if len(bars) == 0 || period <= 0 {
		return math.NaN()
	}
	start := max(len(bars)-period, 0)
	sum := 0.0
	for _, b := range bars[start:] {
		sum += b.Close
	}
	return sum / float64(len(bars)-start)
}
