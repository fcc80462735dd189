package breadth

import (
	"fmt"
	"math"
	"strconv"

	"mbi/internal/domain"
)

// Kind identifies which record field a column holds.
type Kind int

const (
	KindDate Kind = iota
	KindHigh52W
	KindLow52W
	KindUp
	KindDown
	KindAbove
	KindBelow
	KindRatio
	KindAboveCount
)

// Column is one named ledger column. Period is set for the per-SMA kinds.
type Column struct {
	Name   string
	Kind   Kind
	Period int
}

// Schema is the ordered column layout of persisted breadth records.
type Schema struct {
	cols  []Column
	index map[string]int
}

// NewSchema lays out the columns for the given periods and threshold.
func NewSchema(periods, countPeriods []int, threshold float64) Schema {
	th := strconv.FormatFloat(threshold, 'f', -1, 64)
	cols := []Column{
		{Name: "Date", Kind: KindDate},
		{Name: "52WH(%)", Kind: KindHigh52W},
		{Name: "52WL(%)", Kind: KindLow52W},
		{Name: th + "+(%)", Kind: KindUp},
		{Name: th + "-(%)", Kind: KindDown},
	}
	for _, p := range periods {
		cols = append(cols,
			Column{Name: fmt.Sprintf("%d+(%%)", p), Kind: KindAbove, Period: p},
			Column{Name: fmt.Sprintf("%d-(%%)", p), Kind: KindBelow, Period: p},
		)
	}
	cols = append(cols, Column{Name: th + "r", Kind: KindRatio})
	for _, p := range countPeriods {
		cols = append(cols, Column{Name: fmt.Sprintf("%dsma", p), Kind: KindAboveCount, Period: p})
	}

	s := Schema{cols: cols, index: make(map[string]int, len(cols))}
	for i, c := range cols {
		s.index[c.Name] = i
	}
	return s
}

// DefaultSchema is the layout of DefaultEngine.
func DefaultSchema() Schema { return DefaultEngine().Schema() }

// Columns returns the column definitions in order.
func (s Schema) Columns() []Column { return append([]Column(nil), s.cols...) }

// Header returns the column names in order.
func (s Schema) Header() []string {
	out := make([]string, len(s.cols))
	for i, c := range s.cols {
		out[i] = c.Name
	}
	return out
}

// Value returns the numeric value of column c in rec. The date column has
// no numeric value and yields NaN.
func (c Column) Value(rec domain.BreadthRecord) float64 {
	switch c.Kind {
	case KindHigh52W:
		return rec.High52W
	case KindLow52W:
		return rec.Low52W
	case KindUp:
		return rec.Up
	case KindDown:
		return rec.Down
	case KindAbove:
		return rec.Above[c.Period]
	case KindBelow:
		return rec.Below[c.Period]
	case KindRatio:
		return rec.Ratio
	case KindAboveCount:
		return float64(rec.AboveCount[c.Period])
	}
	return math.NaN()
}

// Format renders rec as one row of strings in column order.
func (s Schema) Format(rec domain.BreadthRecord) []string {
	row := make([]string, len(s.cols))
	for i, c := range s.cols {
		switch c.Kind {
		case KindDate:
			row[i] = domain.FormatDate(rec.Date)
		case KindAboveCount:
			row[i] = strconv.Itoa(rec.AboveCount[c.Period])
		default:
			row[i] = strconv.FormatFloat(c.Value(rec), 'f', -1, 64)
		}
	}
	return row
}

// Values returns the numeric columns of rec keyed by column name.
func (s Schema) Values(rec domain.BreadthRecord) map[string]float64 {
	out := make(map[string]float64, len(s.cols)-1)
	for _, c := range s.cols {
		if c.Kind != KindDate {
			out[c.Name] = c.Value(rec)
		}
	}
	return out
}

// Parse reads a row laid out per header back into a record. Every schema
// column must be present in header; extra columns are ignored.
func (s Schema) Parse(header, row []string) (domain.BreadthRecord, error) {
	pos := make(map[string]int, len(header))
	for i, h := range header {
		pos[h] = i
	}

	rec := domain.BreadthRecord{
		Above:      make(map[int]float64),
		Below:      make(map[int]float64),
		AboveCount: make(map[int]int),
	}
	for _, c := range s.cols {
		i, ok := pos[c.Name]
		if !ok {
			return rec, fmt.Errorf("missing column %q", c.Name)
		}
		if i >= len(row) {
			return rec, fmt.Errorf("short row: no value for %q", c.Name)
		}
		cell := row[i]

		if c.Kind == KindDate {
			d, err := domain.ParseDate(cell)
			if err != nil {
				return rec, fmt.Errorf("column %q: %w", c.Name, err)
			}
			rec.Date = d
			continue
		}
		v, err := strconv.ParseFloat(cell, 64)
		if err != nil {
			return rec, fmt.Errorf("column %q: %w", c.Name, err)
		}
		switch c.Kind {
		case KindHigh52W:
			rec.High52W = v
		case KindLow52W:
			rec.Low52W = v
		case KindUp:
			rec.Up = v
		case KindDown:
			rec.Down = v
		case KindAbove:
			rec.Above[c.Period] = v
		case KindBelow:
			rec.Below[c.Period] = v
		case KindRatio:
			rec.Ratio = v
		case KindAboveCount:
			rec.AboveCount[c.Period] = int(v)
		}
	}
	return rec, nil
}
