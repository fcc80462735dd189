package consolidate

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/singleflight"

	"mbi/internal/domain"
	"mbi/internal/store"
)

// Memo caches the series of a SeriesProvider for the lifetime of one run,
// so a range backfill reads each symbol once. Concurrent requests for the
// same symbol share a single load. Not-found answers are cached too; other
// errors are not.
type Memo struct {
	src   SeriesProvider
	group singleflight.Group

	mu      sync.RWMutex
	series  map[string]domain.Series
	missing map[string]error
}

// NewMemo wraps src.
func NewMemo(src SeriesProvider) *Memo {
	return &Memo{
		src:     src,
		series:  make(map[string]domain.Series),
		missing: make(map[string]error),
	}
}

// Series returns the cached series of symbol, loading it on first use.
func (m *Memo) Series(ctx context.Context, symbol string) (domain.Series, error) {
	m.mu.RLock()
	s, ok := m.series[symbol]
	miss, isMissing := m.missing[symbol]
	m.mu.RUnlock()
	if ok {
		return s, nil
	}
	if isMissing {
		return domain.Series{}, miss
	}

	v, err, _ := m.group.Do(symbol, func() (any, error) {
		s, err := m.src.Series(ctx, symbol)
		m.mu.Lock()
		defer m.mu.Unlock()
		switch {
		case err == nil:
			m.series[symbol] = s
		case errors.Is(err, store.ErrNotFound):
			m.missing[symbol] = err
		}
		return s, err
	})
	if err != nil {
		return domain.Series{}, err
	}
	return v.(domain.Series), nil
}

// Len returns the number of cached series.
func (m *Memo) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.series)
}
