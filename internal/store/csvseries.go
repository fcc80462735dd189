package store

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"mbi/internal/domain"
	"mbi/internal/validate"
)

// ReadSeriesCSV parses a per-symbol CSV with a Date, Open, High, Low, Close,
// Volume header (extra columns are ignored). Empty cells become nulls and
// are returned as issues rather than errors; dates accept YYYY-MM-DD with an
// optional time suffix.
func ReadSeriesCSV(r io.Reader, symbol string) (domain.Series, []validate.Issue, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return domain.Series{}, nil, fmt.Errorf("reading header: %w", err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}
	if missing := validate.Columns(header, validate.RequiredSeriesColumns); len(missing) > 0 {
		return domain.Series{}, missing, fmt.Errorf("%s: %s", symbol, missing[0].Message)
	}
	col := make(map[string]int, len(header))
	for i, h := range header {
		col[h] = i
	}

	s := domain.Series{Symbol: strings.ToUpper(symbol)}
	var issues []validate.Issue
	for line := 2; ; line++ {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return domain.Series{}, issues, fmt.Errorf("%s line %d: %w", symbol, line, err)
		}
		cell := func(name string) string {
			if i := col[name]; i < len(row) {
				return strings.TrimSpace(row[i])
			}
			return ""
		}

		var b domain.Bar
		if ds := cell("Date"); len(ds) >= len(domain.DateLayout) {
			if d, perr := domain.ParseDate(ds[:len(domain.DateLayout)]); perr == nil {
				b.Date = d
			}
		}
		for _, f := range []struct {
			name string
			dst  *float64
		}{{"Open", &b.Open}, {"High", &b.High}, {"Low", &b.Low}, {"Close", &b.Close}} {
			v, perr := parseFloat(cell(f.name))
			if perr != nil {
				return domain.Series{}, issues, fmt.Errorf("%s line %d %s: %w", symbol, line, f.name, perr)
			}
			*f.dst = v
		}
		if vs := cell("Volume"); vs == "" {
			issues = append(issues, validate.Issue{
				Symbol: s.Symbol, Row: len(s.Bars), Date: b.Date,
				Kind: validate.KindNull, Field: "Volume", Message: "Volume is null",
			})
		} else {
			v, perr := strconv.ParseFloat(vs, 64)
			if perr != nil {
				return domain.Series{}, issues, fmt.Errorf("%s line %d Volume: %w", symbol, line, perr)
			}
			b.Volume = int64(math.Round(v))
		}
		s.Bars = append(s.Bars, b)
	}
	return s, issues, nil
}

// ImportCSVDir loads every <SYMBOL>.csv in dir into dst. It returns the
// number of symbols imported; files that fail to parse are reported in the
// returned map and skipped.
func ImportCSVDir(ctx context.Context, dir string, dst BarStore, clean func(domain.Series) domain.Series) (int, map[string]error, error) {
	files, err := filepath.Glob(filepath.Join(dir, "*.csv"))
	if err != nil {
		return 0, nil, err
	}

	failed := make(map[string]error)
	imported := 0
	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return imported, failed, err
		}
		symbol := strings.ToUpper(strings.TrimSuffix(filepath.Base(path), ".csv"))

		s, err := readSeriesFile(path, symbol)
		if err != nil {
			failed[symbol] = err
			continue
		}
		if clean != nil {
			s = clean(s)
		}
		if err := dst.WriteBars(ctx, symbol, s.Bars); err != nil {
			return imported, failed, fmt.Errorf("storing %s: %w", symbol, err)
		}
		imported++
	}
	return imported, failed, nil
}

func readSeriesFile(path, symbol string) (domain.Series, error) {
	f, err := os.Open(path)
	if err != nil {
		return domain.Series{}, err
	}
	defer f.Close()
	s, _, err := ReadSeriesCSV(f, symbol)
	return s, err
}
