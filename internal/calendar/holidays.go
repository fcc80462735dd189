package calendar

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"mbi/internal/domain"
	"mbi/internal/util"
)

// Compile-time interface checks.
var _ HolidaySupply = StaticHolidays(nil)
var _ HolidaySupply = (*FileHolidays)(nil)

// ---------------------------------------------------------------------------
// StaticHolidays
// ---------------------------------------------------------------------------

// StaticHolidays is a fixed holiday list, typically from configuration or a
// test.
type StaticHolidays []time.Time

// ParseHolidays builds a StaticHolidays from YYYY-MM-DD strings.
func ParseHolidays(dates []string) (StaticHolidays, error) {
	out := make(StaticHolidays, 0, len(dates))
	for _, s := range dates {
		d, err := domain.ParseDate(s)
		if err != nil {
			return nil, fmt.Errorf("parsing holiday %q: %w", s, err)
		}
		out = append(out, d)
	}
	return out, nil
}

// Holidays returns the entries falling in year.
func (s StaticHolidays) Holidays(year int) ([]time.Time, error) {
	var out []time.Time
	for _, d := range s {
		if d.Year() == year {
			out = append(out, domain.Day(d))
		}
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// FileHolidays
// ---------------------------------------------------------------------------

// holidayFile is the on-disk layout of one year's holiday list.
type holidayFile struct {
	Year     int      `json:"year"`
	Holidays []string `json:"holidays"`
}

// FileHolidays reads one JSON file per year from Dir:
//
//	<Dir>/holidays_<YYYY>.json  {"year": 2024, "holidays": ["2024-01-01", ...]}
//
// A missing file means the year has no holidays.
type FileHolidays struct {
	Dir string
}

// NewFileHolidays creates a FileHolidays rooted at dir.
func NewFileHolidays(dir string) *FileHolidays {
	return &FileHolidays{Dir: dir}
}

func (f *FileHolidays) path(year int) string {
	return filepath.Join(f.Dir, fmt.Sprintf("holidays_%d.json", year))
}

// Holidays loads the list for year.
func (f *FileHolidays) Holidays(year int) ([]time.Time, error) {
	data, err := os.ReadFile(f.path(year))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading holidays for %d: %w", year, err)
	}

	var hf holidayFile
	if err := json.Unmarshal(data, &hf); err != nil {
		return nil, fmt.Errorf("decoding holidays for %d: %w", year, err)
	}
	if hf.Year != 0 && hf.Year != year {
		return nil, fmt.Errorf("holiday file %s is for year %d", f.path(year), hf.Year)
	}

	days, err := ParseHolidays(hf.Holidays)
	if err != nil {
		return nil, err
	}
	return days, nil
}

// Save writes the holiday list for year, replacing any existing file.
func (f *FileHolidays) Save(year int, days []time.Time) error {
	hf := holidayFile{Year: year, Holidays: make([]string, 0, len(days))}
	for _, d := range days {
		if d.Year() == year {
			hf.Holidays = append(hf.Holidays, domain.FormatDate(d))
		}
	}
	sort.Strings(hf.Holidays)

	return util.WriteFileAtomic(f.path(year), func(w io.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(hf)
	})
}

// Seed fetches the holidays of each year in [from, to] from src and saves
// them, so later runs work offline.
func (f *FileHolidays) Seed(src HolidaySupply, from, to int) error {
	for year := from; year <= to; year++ {
		days, err := src.Holidays(year)
		if err != nil {
			return fmt.Errorf("fetching holidays for %d: %w", year, err)
		}
		if err := f.Save(year, days); err != nil {
			return fmt.Errorf("saving holidays for %d: %w", year, err)
		}
	}
	return nil
}
