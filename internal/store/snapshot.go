package store

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"mbi/internal/domain"
	"mbi/internal/util"
	"mbi/internal/validate"
)

var _ SnapshotStore = (*SnapshotArchive)(nil)

// SnapshotArchive keeps one CSV file per consolidated date:
//
//	<Dir>/<YYYY-MM-DD>.csv
//
// with columns Symbol, Open, High, Low, Close, Volume, High_52W, Low_52W and
// SMA_<p> for each period. Prev_Close follows when any row carries one.
type SnapshotArchive struct {
	Dir string
}

// NewSnapshotArchive creates an archive rooted at dir.
func NewSnapshotArchive(dir string) *SnapshotArchive {
	return &SnapshotArchive{Dir: dir}
}

func (a *SnapshotArchive) path(date time.Time) string {
	return filepath.Join(a.Dir, domain.FormatDate(date)+".csv")
}

// SnapshotHeader returns the column names for the given SMA periods.
func SnapshotHeader(periods []int, prevClose bool) []string {
	header := []string{"Symbol", "Open", "High", "Low", "Close", "Volume", "High_52W", "Low_52W"}
	for _, p := range periods {
		header = append(header, fmt.Sprintf("SMA_%d", p))
	}
	if prevClose {
		header = append(header, "Prev_Close")
	}
	return header
}

func hasPrevClose(rows []domain.SnapshotRow) bool {
	for _, r := range rows {
		if r.PrevClose != 0 {
			return true
		}
	}
	return false
}

func formatFloat(v float64) string {
	if math.IsNaN(v) {
		return ""
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func parseFloat(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return math.NaN(), nil
	}
	return strconv.ParseFloat(s, 64)
}

// WriteSnapshot replaces the file for snap.Date atomically.
func (a *SnapshotArchive) WriteSnapshot(_ context.Context, snap domain.Snapshot) error {
	prevClose := hasPrevClose(snap.Rows)
	return util.WriteFileAtomic(a.path(snap.Date), func(w io.Writer) error {
		cw := csv.NewWriter(w)
		if err := cw.Write(SnapshotHeader(snap.Periods, prevClose)); err != nil {
			return err
		}
		for _, r := range snap.Rows {
			high, low := math.NaN(), math.NaN()
			if r.HasRange {
				high, low = r.High52W, r.Low52W
			}
			row := []string{
				r.Symbol,
				formatFloat(r.Open),
				formatFloat(r.High),
				formatFloat(r.Low),
				formatFloat(r.Close),
				strconv.FormatInt(r.Volume, 10),
				formatFloat(high),
				formatFloat(low),
			}
			for _, p := range snap.Periods {
				v, ok := r.SMA[p]
				if !ok {
					v = math.NaN()
				}
				row = append(row, formatFloat(v))
			}
			if prevClose {
				row = append(row, formatFloat(r.PrevClose))
			}
			if err := cw.Write(row); err != nil {
				return err
			}
		}
		cw.Flush()
		return cw.Error()
	})
}

// ReadSnapshot loads the archived snapshot for date.
func (a *SnapshotArchive) ReadSnapshot(_ context.Context, date time.Time) (domain.Snapshot, error) {
	f, err := os.Open(a.path(date))
	if err != nil {
		if os.IsNotExist(err) {
			return domain.Snapshot{}, fmt.Errorf("snapshot %s: %w", domain.FormatDate(date), ErrNotFound)
		}
		return domain.Snapshot{}, err
	}
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("reading snapshot %s: %w", domain.FormatDate(date), err)
	}
	if len(records) == 0 {
		return domain.Snapshot{}, fmt.Errorf("snapshot %s has no header", domain.FormatDate(date))
	}

	header := records[0]
	if issues := validate.Columns(header, validate.RequiredSnapshotColumns); len(issues) > 0 {
		return domain.Snapshot{}, fmt.Errorf("snapshot %s: %s", domain.FormatDate(date), issues[0].Message)
	}
	col := make(map[string]int, len(header))
	snap := domain.Snapshot{Date: domain.Day(date)}
	for i, h := range header {
		col[h] = i
		if p, ok := strings.CutPrefix(h, "SMA_"); ok {
			n, err := strconv.Atoi(p)
			if err != nil {
				return domain.Snapshot{}, fmt.Errorf("snapshot column %q: %w", h, err)
			}
			snap.Periods = append(snap.Periods, n)
		}
	}

	get := func(row []string, name string) (float64, error) {
		i, ok := col[name]
		if !ok || i >= len(row) {
			return math.NaN(), nil
		}
		return parseFloat(row[i])
	}

	for line, row := range records[1:] {
		r := domain.SnapshotRow{Symbol: row[col["Symbol"]], SMA: make(map[int]float64, len(snap.Periods))}
		var ferr error
		set := func(dst *float64, name string) {
			if ferr != nil {
				return
			}
			*dst, ferr = get(row, name)
		}
		set(&r.Open, "Open")
		set(&r.High, "High")
		set(&r.Low, "Low")
		set(&r.Close, "Close")
		set(&r.High52W, "High_52W")
		set(&r.Low52W, "Low_52W")
		set(&r.PrevClose, "Prev_Close")
		for _, p := range snap.Periods {
			var v float64
			set(&v, fmt.Sprintf("SMA_%d", p))
			if !math.IsNaN(v) {
				r.SMA[p] = v
			}
		}
		if ferr != nil {
			return domain.Snapshot{}, fmt.Errorf("snapshot %s line %d: %w", domain.FormatDate(date), line+2, ferr)
		}
		if math.IsNaN(r.PrevClose) {
			r.PrevClose = 0
		}
		r.HasRange = !math.IsNaN(r.High52W) && !math.IsNaN(r.Low52W)
		if r.Volume, err = strconv.ParseInt(strings.TrimSpace(row[col["Volume"]]), 10, 64); err != nil {
			return domain.Snapshot{}, fmt.Errorf("snapshot %s line %d volume: %w", domain.FormatDate(date), line+2, err)
		}
		snap.Rows = append(snap.Rows, r)
	}
	return snap, nil
}

// SnapshotDates lists the archived dates ascending.
func (a *SnapshotArchive) SnapshotDates(_ context.Context) ([]time.Time, error) {
	files, err := filepath.Glob(filepath.Join(a.Dir, "*.csv"))
	if err != nil {
		return nil, err
	}
	var dates []time.Time
	for _, f := range files {
		d, err := domain.ParseDate(strings.TrimSuffix(filepath.Base(f), ".csv"))
		if err != nil {
			continue
		}
		dates = append(dates, d)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })
	return dates, nil
}
