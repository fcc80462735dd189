// Package validate runs sanity checks over raw bar series and consolidated
// snapshots. Findings are returned as Issues; callers decide whether to drop
// the offending rows or stop.
package validate

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"mbi/internal/domain"
)

// Column sets a raw source must carry.
var (
	RequiredSeriesColumns   = []string{"Date", "Open", "High", "Low", "Close", "Volume"}
	RequiredSnapshotColumns = []string{"Symbol", "Open", "High", "Low", "Close", "Volume"}
)

// Kind classifies an Issue.
type Kind string

const (
	KindMissingColumn Kind = "missing_column"
	KindNull          Kind = "null_value"
	KindPrice         Kind = "price_below_min"
	KindVolume        Kind = "volume_below_min"
	KindHighLow       Kind = "high_below_low"
	KindCloseRange    Kind = "close_outside_range"
	KindDuplicateDate Kind = "duplicate_date"
	KindUnordered     Kind = "unordered_date"
	KindPriceJump     Kind = "suspected_corporate_action"
	KindVolumeSpike   Kind = "volume_spike"
)

// Issue is one non-fatal finding. Row is the bar index, or -1 when the issue
// is not tied to a row.
type Issue struct {
	Symbol  string
	Row     int
	Date    time.Time
	Kind    Kind
	Field   string
	Message string
}

func (i Issue) String() string {
	var b strings.Builder
	if i.Symbol != "" {
		b.WriteString(i.Symbol)
		b.WriteString(" ")
	}
	if !i.Date.IsZero() {
		b.WriteString(domain.FormatDate(i.Date))
		b.WriteString(" ")
	}
	b.WriteString(string(i.Kind))
	if i.Message != "" {
		b.WriteString(": ")
		b.WriteString(i.Message)
	}
	return b.String()
}

// CountByKind tallies issues per kind.
func CountByKind(issues []Issue) map[Kind]int {
	out := make(map[Kind]int)
	for _, is := range issues {
		out[is.Kind]++
	}
	return out
}

// Validator holds the thresholds applied to bars.
type Validator struct {
	MinPrice         float64 // prices below this are rejected
	MinVolume        int64   // volumes below this are rejected
	JumpThresholdPct float64 // close-to-close move flagged as a corporate action
	VolumeSpikeRatio float64 // volume / 20-bar average flagged as a spike
}

// New returns a Validator with the stock thresholds.
func New() *Validator {
	return &Validator{
		MinPrice:         0.01,
		MinVolume:        0,
		JumpThresholdPct: 20,
		VolumeSpikeRatio: 5,
	}
}

// Columns reports every name in required that header lacks.
func Columns(header, required []string) []Issue {
	have := make(map[string]struct{}, len(header))
	for _, h := range header {
		have[strings.TrimSpace(h)] = struct{}{}
	}
	var issues []Issue
	for _, r := range required {
		if _, ok := have[r]; !ok {
			issues = append(issues, Issue{
				Row:     -1,
				Kind:    KindMissingColumn,
				Field:   r,
				Message: fmt.Sprintf("missing column %q", r),
			})
		}
	}
	return issues
}

// Series checks every bar of s.
func (v *Validator) Series(s domain.Series) []Issue {
	var issues []Issue
	add := func(i int, b domain.Bar, kind Kind, field, msg string) {
		issues = append(issues, Issue{
			Symbol: s.Symbol, Row: i, Date: b.Date,
			Kind: kind, Field: field, Message: msg,
		})
	}

	seen := make(map[time.Time]int, len(s.Bars))
	var prev time.Time
	for i, b := range s.Bars {
		if nulls := nullFields(b); len(nulls) > 0 {
			for _, f := range nulls {
				add(i, b, KindNull, f, f+" is null")
			}
			continue
		}

		d := domain.Day(b.Date)
		if first, dup := seen[d]; dup {
			add(i, b, KindDuplicateDate, "Date", fmt.Sprintf("date repeats row %d", first))
		} else {
			seen[d] = i
			if !prev.IsZero() && d.Before(prev) {
				add(i, b, KindUnordered, "Date", "date earlier than previous row")
			}
			prev = d
		}

		for _, pf := range []struct {
			name string
			val  float64
		}{{"Open", b.Open}, {"High", b.High}, {"Low", b.Low}, {"Close", b.Close}} {
			if pf.val < v.MinPrice {
				add(i, b, KindPrice, pf.name, fmt.Sprintf("%s %.4f below %.4f", pf.name, pf.val, v.MinPrice))
			}
		}
		if b.Volume < v.MinVolume {
			add(i, b, KindVolume, "Volume", fmt.Sprintf("volume %d below %d", b.Volume, v.MinVolume))
		}
		if b.High < b.Low {
			add(i, b, KindHighLow, "High", fmt.Sprintf("high %.4f < low %.4f", b.High, b.Low))
		}
		if b.Close < b.Low || b.Close > b.High {
			add(i, b, KindCloseRange, "Close", fmt.Sprintf("close %.4f outside [%.4f, %.4f]", b.Close, b.Low, b.High))
		}
	}
	return issues
}

func nullFields(b domain.Bar) []string {
	var out []string
	if b.Date.IsZero() {
		out = append(out, "Date")
	}
	for _, f := range []struct {
		name string
		val  float64
	}{{"Open", b.Open}, {"High", b.High}, {"Low", b.Low}, {"Close", b.Close}} {
		if math.IsNaN(f.val) {
			out = append(out, f.name)
		}
	}
	return out
}

// Clean returns a copy of s without the bars that fail Series checks. Bars
// are put in date order and, for a repeated date, the last one wins. The
// returned issues describe the input.
func (v *Validator) Clean(s domain.Series) (domain.Series, []Issue) {
	issues := v.Series(s)
	if len(issues) == 0 {
		return s, nil
	}

	bad := make(map[int]bool)
	for _, is := range issues {
		switch is.Kind {
		case KindDuplicateDate, KindUnordered:
			// Resolved by the sort and dedup below.
		default:
			bad[is.Row] = true
		}
	}

	byDate := make(map[time.Time]domain.Bar, len(s.Bars))
	for i, b := range s.Bars {
		if bad[i] {
			continue
		}
		byDate[domain.Day(b.Date)] = b
	}

	out := domain.Series{Symbol: s.Symbol, Bars: make([]domain.Bar, 0, len(byDate))}
	for _, b := range byDate {
		out.Bars = append(out.Bars, b)
	}
	sort.Slice(out.Bars, func(i, j int) bool { return out.Bars[i].Date.Before(out.Bars[j].Date) })
	return out, issues
}

// Snapshot gates a consolidated snapshot before breadth is computed. It
// fails when fewer than minValid rows are present or a row lacks a required
// value.
func Snapshot(snap domain.Snapshot, expectedUniverseSize, minValid int) (bool, string) {
	n := snap.Len()
	if n == 0 {
		return false, "snapshot is empty"
	}
	if n < minValid {
		return false, fmt.Sprintf("only %d/%d symbols available (minimum: %d)", n, expectedUniverseSize, minValid)
	}

	symbols := make(map[string]struct{}, n)
	for i, r := range snap.Rows {
		if r.Symbol == "" {
			return false, fmt.Sprintf("row %d missing Symbol", i)
		}
		if _, dup := symbols[r.Symbol]; dup {
			return false, fmt.Sprintf("symbol %s appears more than once", r.Symbol)
		}
		symbols[r.Symbol] = struct{}{}
		for _, f := range []struct {
			name string
			val  float64
		}{{"Open", r.Open}, {"High", r.High}, {"Low", r.Low}, {"Close", r.Close}} {
			if math.IsNaN(f.val) {
				return false, fmt.Sprintf("row %s missing %s", r.Symbol, f.name)
			}
		}
		if r.Volume < 0 {
			return false, fmt.Sprintf("row %s has negative Volume", r.Symbol)
		}
	}
	return true, ""
}
