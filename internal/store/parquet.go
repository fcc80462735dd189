package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/parquet-go/parquet-go"

	"mbi/internal/domain"
)

// Compile-time interface checks.
var _ BarStore = (*ParquetStore)(nil)

// ParquetStore implements BarStore using one Parquet file per symbol and year:
//
//	<DataDir>/<Market>/daily/<SYMBOL>/<YYYY>.parquet
type ParquetStore struct {
	DataDir string
	Market  string
}

// NewParquetStore creates a ParquetStore rooted at dataDir for market.
func NewParquetStore(dataDir, market string) *ParquetStore {
	if market == "" {
		market = "us"
	}
	return &ParquetStore{DataDir: dataDir, Market: market}
}

// BarRecord is the Parquet schema for daily bar data.
type BarRecord struct {
	Symbol    string  `parquet:"symbol"`
	Timestamp int64   `parquet:"timestamp,timestamp(millisecond)"` // Unix ms of the UTC day
	Open      float64 `parquet:"open"`
	High      float64 `parquet:"high"`
	Low       float64 `parquet:"low"`
	Close     float64 `parquet:"close"`
	Volume    int64   `parquet:"volume"`
}

// Dir returns the directory holding every symbol's bar files.
func (s *ParquetStore) Dir() string {
	return filepath.Join(s.DataDir, s.Market, "daily")
}

func (s *ParquetStore) symbolDir(symbol string) string {
	return filepath.Join(s.Dir(), strings.ToUpper(symbol))
}

// barPath returns the file for symbol and year.
func (s *ParquetStore) barPath(symbol string, year int) string {
	return filepath.Join(s.symbolDir(symbol), fmt.Sprintf("%d.parquet", year))
}

// WriteBars merges bars into the per-year files of symbol.
func (s *ParquetStore) WriteBars(_ context.Context, symbol string, bars []domain.Bar) error {
	if len(bars) == 0 {
		return nil
	}
	symbol = strings.ToUpper(symbol)

	groups := make(map[int][]BarRecord)
	for _, b := range bars {
		d := domain.Day(b.Date)
		groups[d.Year()] = append(groups[d.Year()], BarRecord{
			Symbol:    symbol,
			Timestamp: d.UnixMilli(),
			Open:      b.Open,
			High:      b.High,
			Low:       b.Low,
			Close:     b.Close,
			Volume:    b.Volume,
		})
	}

	for year, records := range groups {
		path := s.barPath(symbol, year)

		existing, err := readParquetFile[BarRecord](path)
		if err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("reading bars for %s/%d: %w", symbol, year, err)
		}
		merged := mergeBarRecords(existing, records)

		if err := writeParquetFile(path, merged); err != nil {
			return fmt.Errorf("writing bars for %s/%d: %w", symbol, year, err)
		}
	}
	return nil
}

// Series reads every year file of symbol into one ascending series.
func (s *ParquetStore) Series(ctx context.Context, symbol string) (domain.Series, error) {
	symbol = strings.ToUpper(symbol)
	files, err := filepath.Glob(filepath.Join(s.symbolDir(symbol), "*.parquet"))
	if err != nil {
		return domain.Series{}, err
	}
	if len(files) == 0 {
		return domain.Series{}, fmt.Errorf("series %s: %w", symbol, ErrNotFound)
	}
	sort.Strings(files)

	out := domain.Series{Symbol: symbol}
	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return domain.Series{}, err
		}
		records, err := readParquetFile[BarRecord](path)
		if err != nil {
			return domain.Series{}, fmt.Errorf("reading %s: %w", path, err)
		}
		for _, r := range records {
			out.Bars = append(out.Bars, domain.Bar{
				Date:   time.UnixMilli(r.Timestamp).UTC(),
				Open:   r.Open,
				High:   r.High,
				Low:    r.Low,
				Close:  r.Close,
				Volume: r.Volume,
			})
		}
	}
	return out, nil
}

// ListSymbols lists all symbols that have bar data.
func (s *ParquetStore) ListSymbols(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.Dir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var symbols []string
	for _, e := range entries {
		if e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
			symbols = append(symbols, e.Name())
		}
	}
	sort.Strings(symbols)
	return symbols, nil
}

// ---------------------------------------------------------------------------
// Parquet file helpers
// ---------------------------------------------------------------------------

func writeParquetFile[T any](path string, records []T) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := parquet.WriteFile(tmp, records); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

func readParquetFile[T any](path string) ([]T, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	return parquet.ReadFile[T](path)
}

// mergeBarRecords deduplicates bar records by timestamp, preferring incoming
// records over existing ones, and returns them ascending.
func mergeBarRecords(existing, incoming []BarRecord) []BarRecord {
	seen := make(map[int64]BarRecord, len(existing)+len(incoming))
	for _, r := range existing {
		seen[r.Timestamp] = r
	}
	for _, r := range incoming {
		seen[r.Timestamp] = r
	}

	merged := make([]BarRecord, 0, len(seen))
	for _, r := range seen {
		merged = append(merged, r)
	}
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].Timestamp < merged[j].Timestamp
	})
	return merged
}
