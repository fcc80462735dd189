// Package store persists the raw inputs and intermediate artifacts of the
// breadth pipeline: per-symbol daily bars and consolidated snapshots.
package store

import (
	"context"
	"errors"
	"time"

	"mbi/internal/domain"
)

// ErrNotFound is returned when a symbol or snapshot has no stored data.
var ErrNotFound = errors.New("not found")

// BarStore persists and retrieves per-symbol daily bars.
type BarStore interface {
	// WriteBars merges bars into the stored series of symbol. Bars for an
	// existing date replace the stored ones.
	WriteBars(ctx context.Context, symbol string, bars []domain.Bar) error

	// Series returns the full ascending history of symbol, or ErrNotFound.
	Series(ctx context.Context, symbol string) (domain.Series, error)

	// ListSymbols returns all symbols with stored bars, sorted.
	ListSymbols(ctx context.Context) ([]string, error)
}

// SnapshotStore archives consolidated snapshots by date.
type SnapshotStore interface {
	WriteSnapshot(ctx context.Context, snap domain.Snapshot) error
	ReadSnapshot(ctx context.Context, date time.Time) (domain.Snapshot, error)
	SnapshotDates(ctx context.Context) ([]time.Time, error)
}
