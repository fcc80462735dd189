package validate

import (
	"fmt"
	"math"
	"time"

	"mbi/internal/domain"
)

// QualityReport summarises one series for diagnostics.
type QualityReport struct {
	Symbol         string
	TotalRows      int
	NullValues     int
	DuplicateDates int
	ZeroVolume     int
	MinClose       float64
	MaxClose       float64
	First          time.Time
	Last           time.Time
}

// Quality computes summary statistics over s.
func Quality(s domain.Series) QualityReport {
	r := QualityReport{
		Symbol:    s.Symbol,
		TotalRows: len(s.Bars),
		MinClose:  math.Inf(1),
		MaxClose:  math.Inf(-1),
	}
	seen := make(map[time.Time]struct{}, len(s.Bars))
	for _, b := range s.Bars {
		r.NullValues += len(nullFields(b))
		if !b.Date.IsZero() {
			d := domain.Day(b.Date)
			if _, dup := seen[d]; dup {
				r.DuplicateDates++
			}
			seen[d] = struct{}{}
			if r.First.IsZero() || d.Before(r.First) {
				r.First = d
			}
			if d.After(r.Last) {
				r.Last = d
			}
		}
		if b.Volume == 0 {
			r.ZeroVolume++
		}
		if !math.IsNaN(b.Close) {
			r.MinClose = min(r.MinClose, b.Close)
			r.MaxClose = max(r.MaxClose, b.Close)
		}
	}
	if math.IsInf(r.MinClose, 1) {
		r.MinClose, r.MaxClose = math.NaN(), math.NaN()
	}
	return r
}

// Jumps flags close-to-close moves larger than JumpThresholdPct in either
// direction. Upstream bars are expected to be split-adjusted, so a jump
// usually points at an unadjusted split or bonus issue.
func (v *Validator) Jumps(s domain.Series) []Issue {
	var issues []Issue
	for i := 1; i < len(s.Bars); i++ {
		prev, cur := s.Bars[i-1].Close, s.Bars[i].Close
		if prev == 0 || math.IsNaN(prev) || math.IsNaN(cur) {
			continue
		}
		change := 100 * (cur - prev) / prev
		if math.Abs(change) > v.JumpThresholdPct {
			issues = append(issues, Issue{
				Symbol:  s.Symbol,
				Row:     i,
				Date:    s.Bars[i].Date,
				Kind:    KindPriceJump,
				Field:   "Close",
				Message: fmt.Sprintf("close moved %.2f%% (%.4f -> %.4f)", change, prev, cur),
			})
		}
	}
	return issues
}

// VolumeSpikes flags bars whose volume exceeds VolumeSpikeRatio times the
// average volume of the trailing 20 bars including itself. Series shorter
// than 20 bars are not checked.
func (v *Validator) VolumeSpikes(s domain.Series) []Issue {
	const lookback = 20
	if len(s.Bars) < lookback {
		return nil
	}

	var issues []Issue
	var sum float64
	for i, b := range s.Bars {
		sum += float64(b.Volume)
		if i >= lookback {
			sum -= float64(s.Bars[i-lookback].Volume)
		}
		avg := sum / float64(min(i+1, lookback))
		if avg <= 0 {
			continue
		}
		if ratio := float64(b.Volume) / avg; ratio > v.VolumeSpikeRatio {
			issues = append(issues, Issue{
				Symbol:  s.Symbol,
				Row:     i,
				Date:    b.Date,
				Kind:    KindVolumeSpike,
				Field:   "Volume",
				Message: fmt.Sprintf("volume %d is %.2fx the average %.0f", b.Volume, ratio, avg),
			})
		}
	}
	return issues
}
