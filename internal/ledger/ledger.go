// Package ledger holds the date-ordered, date-unique series of breadth
// records and persists it through a Backend.
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"mbi/internal/domain"
)

// Backend persists the ledger. Store writes the changed record over the
// persisted state, which other processes may have changed since the last
// Load, and returns that state as it stands after the write.
type Backend interface {
	Load(ctx context.Context) ([]domain.BreadthRecord, error)
	Store(ctx context.Context, changed domain.BreadthRecord) ([]domain.BreadthRecord, error)
	Close() error
}

// Ledger is safe for concurrent use. Upserts are serialised over the whole
// merge-and-persist cycle.
type Ledger struct {
	backend Backend
	log     *slog.Logger

	mu      sync.RWMutex
	records []domain.BreadthRecord // ascending, unique dates
}

// Open loads the persisted records from backend.
func Open(ctx context.Context, backend Backend) (*Ledger, error) {
	recs, err := backend.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading ledger: %w", err)
	}
	l := &Ledger{
		backend: backend,
		log:     slog.Default().With("component", "ledger"),
		records: normalise(recs),
	}
	return l, nil
}

// Close releases the backend.
func (l *Ledger) Close() error { return l.backend.Close() }

// Reload replaces the in-memory records with the persisted ones.
func (l *Ledger) Reload(ctx context.Context) error {
	recs, err := l.backend.Load(ctx)
	if err != nil {
		return fmt.Errorf("reloading ledger: %w", err)
	}
	l.mu.Lock()
	l.records = normalise(recs)
	l.mu.Unlock()
	return nil
}

// Upsert inserts rec or replaces the record of the same date, then takes
// on the persisted state, including records written by other processes.
// When the backend fails the in-memory ledger is left as it was.
func (l *Ledger) Upsert(ctx context.Context, rec domain.BreadthRecord) error {
	rec = rec.Clone()
	rec.Date = domain.Day(rec.Date)

	l.mu.Lock()
	defer l.mu.Unlock()

	i, found := l.search(rec.Date)
	if found && l.records[i].Equal(rec) {
		return nil
	}

	persisted, err := l.backend.Store(ctx, rec)
	if err != nil {
		return fmt.Errorf("storing %s: %w", domain.FormatDate(rec.Date), err)
	}
	l.records = normalise(persisted)
	l.log.Debug("upserted", "date", domain.FormatDate(rec.Date), "replaced", found, "records", len(l.records))
	return nil
}

// Get returns the record of date.
func (l *Ledger) Get(date time.Time) (domain.BreadthRecord, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	i, found := l.search(domain.Day(date))
	if !found {
		return domain.BreadthRecord{}, false
	}
	return l.records[i].Clone(), true
}

// LatestDate returns the most recent date in the ledger.
func (l *Ledger) LatestDate() (time.Time, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if len(l.records) == 0 {
		return time.Time{}, false
	}
	return l.records[len(l.records)-1].Date, true
}

// Latest returns the most recent record.
func (l *Ledger) Latest() (domain.BreadthRecord, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if len(l.records) == 0 {
		return domain.BreadthRecord{}, false
	}
	return l.records[len(l.records)-1].Clone(), true
}

// Range returns the records dated within [start, end], ascending.
func (l *Ledger) Range(start, end time.Time) []domain.BreadthRecord {
	start, end = domain.Day(start), domain.Day(end)
	l.mu.RLock()
	defer l.mu.RUnlock()

	from, _ := l.search(start)
	var out []domain.BreadthRecord
	for _, r := range l.records[from:] {
		if r.Date.After(end) {
			break
		}
		out = append(out, r.Clone())
	}
	return out
}

// All returns every record, ascending.
func (l *Ledger) All() []domain.BreadthRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]domain.BreadthRecord, len(l.records))
	for i, r := range l.records {
		out[i] = r.Clone()
	}
	return out
}

// Len returns the number of records.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.records)
}

// search returns the position of date and whether it is present. Callers
// hold the lock.
func (l *Ledger) search(date time.Time) (int, bool) {
	i := sort.Search(len(l.records), func(i int) bool {
		return !l.records[i].Date.Before(date)
	})
	return i, i < len(l.records) && l.records[i].Date.Equal(date)
}

// merge returns recs with rec in place of any record of the same date.
func merge(recs []domain.BreadthRecord, rec domain.BreadthRecord) []domain.BreadthRecord {
	all := make([]domain.BreadthRecord, 0, len(recs)+1)
	all = append(all, recs...)
	return normalise(append(all, rec))
}

// normalise sorts recs by date and keeps the last record of each date.
func normalise(recs []domain.BreadthRecord) []domain.BreadthRecord {
	byDate := make(map[time.Time]domain.BreadthRecord, len(recs))
	for _, r := range recs {
		r.Date = domain.Day(r.Date)
		byDate[r.Date] = r
	}
	out := make([]domain.BreadthRecord, 0, len(byDate))
	for _, r := range byDate {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out
}
