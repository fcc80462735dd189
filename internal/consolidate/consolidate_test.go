package consolidate

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"mbi/internal/domain"
	"mbi/internal/store"
	"mbi/internal/validate"
	"mbi/internal/window"
)

var target = time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)

// mapProvider serves series from memory and counts calls.
type mapProvider struct {
	series map[string]domain.Series
	fail   map[string]error
	calls  atomic.Int32
}

func (m *mapProvider) Series(ctx context.Context, symbol string) (domain.Series, error) {
	m.calls.Add(1)
	if err := m.fail[symbol]; err != nil {
		return domain.Series{}, err
	}
	s, ok := m.series[symbol]
	if !ok {
		return domain.Series{}, fmt.Errorf("series %s: %w", symbol, store.ErrNotFound)
	}
	return s, nil
}

// daily returns n bars ending on end with closes base+1..base+n.
func daily(symbol string, end time.Time, n int, base float64) domain.Series {
	s := domain.Series{Symbol: symbol}
	for i := n - 1; i >= 0; i-- {
		c := base + float64(n-i)
		s.Bars = append(s.Bars, domain.Bar{
			Date: end.AddDate(0, 0, -i), Open: c - 0.5, High: c + 1, Low: c - 1, Close: c, Volume: 100,
		})
	}
	return s
}

func TestConsolidateBuildsRows(t *testing.T) {
	p := &mapProvider{series: map[string]domain.Series{
		"BBB": daily("BBB", target, 30, 0),
		"AAA": daily("AAA", target, 5, 10),
		"OLD": daily("OLD", target.AddDate(0, 0, -1), 30, 0),
		"NIL": {Symbol: "NIL"},
	}}
	c := New(p, window.Params{Periods: []int{10, 20}, Trailing: 252}, 2)

	res, err := c.Consolidate(context.Background(), target, []string{"AAA", "BBB", "OLD", "NIL", "MISSING", "AAA"})
	if err != nil {
		t.Fatalf("Consolidate: %v", err)
	}

	snap := res.Snapshot
	if snap.Len() != 2 || snap.Rows[0].Symbol != "AAA" || snap.Rows[1].Symbol != "BBB" {
		t.Fatalf("rows = %v, want [AAA BBB]", snap.Symbols())
	}
	if !snap.Date.Equal(target) {
		t.Errorf("snapshot date = %s", snap.Date)
	}

	aaa := snap.Rows[0] // closes 11..15
	if aaa.Close != 15 || aaa.Open != 14.5 || aaa.PrevClose != 0 {
		t.Errorf("AAA open/close/prev = %v/%v/%v, want 14.5/15/0", aaa.Open, aaa.Close, aaa.PrevClose)
	}
	if aaa.SMA[10] != 13 || aaa.SMA[20] != 13 {
		t.Errorf("AAA partial SMAs = %v, want 13", aaa.SMA)
	}
	if !aaa.HasRange || aaa.High52W != 16 || aaa.Low52W != 10 {
		t.Errorf("AAA range = %v/%v", aaa.High52W, aaa.Low52W)
	}

	reasons := make(map[string]Reason)
	for _, u := range res.Unavailable {
		reasons[u.Symbol] = u.Reason
	}
	want := map[string]Reason{
		"OLD":     ReasonNoBarOnDate,
		"NIL":     ReasonEmptySeries,
		"MISSING": ReasonNoSeries,
	}
	for sym, r := range want {
		if reasons[sym] != r {
			t.Errorf("%s reason = %q, want %q", sym, reasons[sym], r)
		}
	}
	if n := p.calls.Load(); n != 5 {
		t.Errorf("provider calls = %d, want 5 (duplicates removed)", n)
	}
}

func TestConsolidatePrevCloseIsOptIn(t *testing.T) {
	p := &mapProvider{series: map[string]domain.Series{
		"ONE": daily("ONE", target, 1, 0),
		"TWO": daily("TWO", target, 2, 0),
	}}
	syms := []string{"ONE", "TWO"}

	res, err := New(p, window.DefaultParams(), 1).Consolidate(context.Background(), target, syms)
	if err != nil {
		t.Fatal(err)
	}
	for _, r := range res.Snapshot.Rows {
		if r.PrevClose != 0 {
			t.Errorf("%s PrevClose = %v without WithPrevClose, want 0", r.Symbol, r.PrevClose)
		}
	}

	res, err = New(p, window.DefaultParams(), 1, WithPrevClose()).Consolidate(context.Background(), target, syms)
	if err != nil {
		t.Fatal(err)
	}
	got := map[string]float64{}
	for _, r := range res.Snapshot.Rows {
		got[r.Symbol] = r.PrevClose
	}
	// The first bar of a series has nothing before it.
	if got["ONE"] != 0 || got["TWO"] != 1 {
		t.Errorf("PrevClose = %v, want ONE:0 TWO:1", got)
	}
}

func TestConsolidateCoverageGate(t *testing.T) {
	p := &mapProvider{series: make(map[string]domain.Series)}
	var universe []string
	for i := 0; i < 400; i++ {
		sym := fmt.Sprintf("S%03d", i)
		universe = append(universe, sym)
		end := target
		if i >= 340 {
			end = target.AddDate(0, 0, -1) // no bar on the target date
		}
		p.series[sym] = daily(sym, end, 3, 1)
	}

	c := New(p, window.DefaultParams(), 350, WithWorkers(8))
	res, err := c.Consolidate(context.Background(), target, universe)
	if !errors.Is(err, ErrInsufficientCoverage) {
		t.Fatalf("err = %v, want ErrInsufficientCoverage", err)
	}
	var ce *CoverageError
	if !errors.As(err, &ce) || ce.Rows != 340 || ce.Required != 350 || ce.Universe != 400 {
		t.Errorf("coverage error = %+v", ce)
	}
	if res.Snapshot.Len() != 340 || len(res.Unavailable) != 60 {
		t.Errorf("result rows/unavailable = %d/%d", res.Snapshot.Len(), len(res.Unavailable))
	}
}

func TestConsolidateProviderErrorIsSkipped(t *testing.T) {
	p := &mapProvider{
		series: map[string]domain.Series{"OK": daily("OK", target, 3, 1)},
		fail:   map[string]error{"BAD": errors.New("disk on fire")},
	}
	res, err := New(p, window.DefaultParams(), 1).Consolidate(context.Background(), target, []string{"OK", "BAD"})
	if err != nil {
		t.Fatalf("provider error must not abort: %v", err)
	}
	if len(res.Unavailable) != 1 || res.Unavailable[0].Reason != ReasonProviderError || res.Unavailable[0].Err == nil {
		t.Errorf("unavailable = %+v", res.Unavailable)
	}
}

func TestConsolidateCancelled(t *testing.T) {
	p := &mapProvider{series: map[string]domain.Series{"A": daily("A", target, 3, 1)}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p.fail = map[string]error{"A": context.Canceled}
	if _, err := New(p, window.DefaultParams(), 1).Consolidate(ctx, target, []string{"A"}); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestConsolidateWithValidatorDropsBadBars(t *testing.T) {
	s := daily("X", target, 3, 10)
	s.Bars[2].Low = s.Bars[2].Close + 5 // corrupt the target-date bar
	p := &mapProvider{series: map[string]domain.Series{"X": s}}

	c := New(p, window.DefaultParams(), 1, WithValidator(validate.New()))
	res, err := c.Consolidate(context.Background(), target, []string{"X"})
	if !errors.Is(err, ErrInsufficientCoverage) {
		t.Fatalf("err = %v, want coverage failure after dropping the bar", err)
	}
	if res.Issues == 0 {
		t.Error("issues should be counted")
	}
	if len(res.Unavailable) != 1 || res.Unavailable[0].Reason != ReasonNoBarOnDate {
		t.Errorf("unavailable = %+v", res.Unavailable)
	}
}

func TestMemoLoadsOnce(t *testing.T) {
	p := &mapProvider{series: map[string]domain.Series{"A": daily("A", target, 3, 1)}}
	m := NewMemo(p)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := m.Series(ctx, "A"); err != nil {
			t.Fatal(err)
		}
		if _, err := m.Series(ctx, "NOPE"); !errors.Is(err, store.ErrNotFound) {
			t.Fatalf("err = %v, want ErrNotFound", err)
		}
	}
	if n := p.calls.Load(); n != 2 {
		t.Errorf("provider calls = %d, want 2", n)
	}
	if m.Len() != 1 {
		t.Errorf("Len = %d, want 1", m.Len())
	}

	// Memo is a SeriesProvider for the consolidator.
	res, err := New(m, window.DefaultParams(), 1).Consolidate(ctx, target, []string{"A"})
	if err != nil || res.Snapshot.Len() != 1 {
		t.Errorf("consolidate over memo = %+v, %v", res, err)
	}
}
