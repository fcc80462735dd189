package validate

import (
	"math"
	"strings"
	"testing"
	"time"

	"mbi/internal/domain"
)

var t0 = time.Date(2024, 3, 11, 0, 0, 0, 0, time.UTC)

func bar(i int, o, h, l, c float64, v int64) domain.Bar {
	return domain.Bar{Date: t0.AddDate(0, 0, i), Open: o, High: h, Low: l, Close: c, Volume: v}
}

func kinds(issues []Issue) map[Kind]int { return CountByKind(issues) }

func TestSeriesClean(t *testing.T) {
	s := domain.Series{Symbol: "OK", Bars: []domain.Bar{
		bar(0, 10, 11, 9, 10.5, 1000),
		bar(1, 10.5, 12, 10, 11, 0),
	}}
	if issues := New().Series(s); len(issues) != 0 {
		t.Errorf("clean series reported issues: %v", issues)
	}
}

func TestSeriesDetectsEachProblem(t *testing.T) {
	s := domain.Series{Symbol: "BAD", Bars: []domain.Bar{
		bar(0, 10, 11, 9, 10, 100),
		bar(1, 0, 11, 9, 10, 100),           // price below min
		bar(2, 10, 11, 9, 10, -5),           // negative volume
		bar(3, 10, 8, 9, 8.5, 100),          // high < low, close outside
		bar(4, 10, 11, 9, 12, 100),          // close above high
		bar(4, 10, 11, 9, 10, 100),          // duplicate date
		bar(5, math.NaN(), 11, 9, 10, 100),  // null open
		bar(2, 10, 11, 9, 10, 100),          // duplicate and out of order
		{Open: 1, High: 1, Low: 1, Close: 1}, // missing date
	}}

	got := kinds(New().Series(s))
	want := map[Kind]int{
		KindPrice:         1,
		KindVolume:        1,
		KindHighLow:       1,
		KindCloseRange:    2,
		KindDuplicateDate: 2,
		KindNull:          2,
	}
	for k, n := range want {
		if got[k] != n {
			t.Errorf("%s = %d, want %d (all: %v)", k, got[k], n, got)
		}
	}
}

func TestSeriesUnordered(t *testing.T) {
	s := domain.Series{Bars: []domain.Bar{
		bar(2, 10, 11, 9, 10, 1),
		bar(1, 10, 11, 9, 10, 1),
	}}
	if n := kinds(New().Series(s))[KindUnordered]; n != 1 {
		t.Errorf("unordered = %d, want 1", n)
	}
}

func TestCleanDropsBadRowsAndKeepsLastDuplicate(t *testing.T) {
	s := domain.Series{Symbol: "X", Bars: []domain.Bar{
		bar(2, 10, 11, 9, 10, 1),
		bar(0, 10, 11, 9, 10, 1),
		bar(1, 10, 8, 9, 8.5, 1), // dropped
		bar(0, 10, 11, 9, 10.5, 2),
	}}

	out, issues := New().Clean(s)
	if len(issues) == 0 {
		t.Fatal("expected issues")
	}
	if out.Len() != 2 {
		t.Fatalf("cleaned len = %d, want 2", out.Len())
	}
	if !out.Bars[0].Date.Equal(t0) || out.Bars[0].Close != 10.5 {
		t.Errorf("first bar = %+v, want last duplicate for %s", out.Bars[0], t0)
	}
	if !out.Bars[1].Date.Equal(t0.AddDate(0, 0, 2)) {
		t.Errorf("second bar date = %s", out.Bars[1].Date)
	}
	if len(New().Series(out)) != 0 {
		t.Error("cleaned series should validate")
	}
}

func TestColumns(t *testing.T) {
	issues := Columns([]string{"Date", "Open", " High ", "Close"}, RequiredSeriesColumns)
	if len(issues) != 2 {
		t.Fatalf("issues = %v, want Low and Volume missing", issues)
	}
	if issues[0].Field != "Low" || issues[1].Field != "Volume" {
		t.Errorf("fields = %s, %s", issues[0].Field, issues[1].Field)
	}
}

func snapshotOf(n int) domain.Snapshot {
	s := domain.Snapshot{Date: t0}
	for i := 0; i < n; i++ {
		s.Rows = append(s.Rows, domain.SnapshotRow{
			Symbol: string(rune('A'+i%26)) + strings.Repeat("X", i/26),
			Open:   1, High: 1, Low: 1, Close: 1,
		})
	}
	return s
}

func TestSnapshotGate(t *testing.T) {
	if ok, reason := Snapshot(domain.Snapshot{}, 400, 350); ok || reason != "snapshot is empty" {
		t.Errorf("empty: %v %q", ok, reason)
	}

	ok, reason := Snapshot(snapshotOf(340), 400, 350)
	if ok {
		t.Fatal("340 rows must fail a 350 threshold")
	}
	if !strings.Contains(reason, "340/400") {
		t.Errorf("reason = %q", reason)
	}

	if ok, reason := Snapshot(snapshotOf(350), 400, 350); !ok {
		t.Errorf("350 rows should pass: %q", reason)
	}

	bad := snapshotOf(3)
	bad.Rows[1].Close = math.NaN()
	if ok, _ := Snapshot(bad, 3, 3); ok {
		t.Error("NaN close should fail")
	}

	dup := snapshotOf(3)
	dup.Rows[2].Symbol = dup.Rows[0].Symbol
	if ok, _ := Snapshot(dup, 3, 3); ok {
		t.Error("duplicate symbol should fail")
	}
}

func TestQuality(t *testing.T) {
	s := domain.Series{Symbol: "Q", Bars: []domain.Bar{
		bar(0, 10, 11, 9, 10, 0),
		bar(1, 10, 11, 9, 12, 100),
		bar(1, 10, 11, 9, math.NaN(), 100),
	}}
	r := Quality(s)
	if r.TotalRows != 3 || r.NullValues != 1 || r.DuplicateDates != 1 || r.ZeroVolume != 1 {
		t.Errorf("report = %+v", r)
	}
	if r.MinClose != 10 || r.MaxClose != 12 {
		t.Errorf("close range = %v..%v", r.MinClose, r.MaxClose)
	}
	if !r.First.Equal(t0) || !r.Last.Equal(t0.AddDate(0, 0, 1)) {
		t.Errorf("span = %s..%s", r.First, r.Last)
	}

	empty := Quality(domain.Series{})
	if !math.IsNaN(empty.MinClose) {
		t.Error("empty series close range should be NaN")
	}
}

func TestJumps(t *testing.T) {
	s := domain.Series{Symbol: "J", Bars: []domain.Bar{
		bar(0, 100, 100, 100, 100, 1),
		bar(1, 50, 50, 50, 50, 1),  // -50%
		bar(2, 55, 55, 55, 55, 1),  // +10%
		bar(3, 70, 70, 70, 70, 1),  // +27%
	}}
	issues := New().Jumps(s)
	if len(issues) != 2 {
		t.Fatalf("jumps = %v, want 2", issues)
	}
	if issues[0].Row != 1 || issues[1].Row != 3 {
		t.Errorf("rows = %d, %d", issues[0].Row, issues[1].Row)
	}
}

func TestVolumeSpikes(t *testing.T) {
	s := domain.Series{Symbol: "V"}
	for i := 0; i < 25; i++ {
		s.Bars = append(s.Bars, bar(i, 1, 1, 1, 1, 100))
	}
	s.Bars[22].Volume = 2000

	issues := New().VolumeSpikes(s)
	if len(issues) != 1 || issues[0].Row != 22 {
		t.Errorf("spikes = %v, want one at row 22", issues)
	}

	if got := New().VolumeSpikes(domain.Series{Bars: s.Bars[:10]}); got != nil {
		t.Errorf("short series should not be checked, got %v", got)
	}
}

func TestIssueString(t *testing.T) {
	is := Issue{Symbol: "AAA", Date: t0, Kind: KindNull, Message: "Close is null"}
	if got := is.String(); got != "AAA 2024-03-11 null_value: Close is null" {
		t.Errorf("String() = %q", got)
	}
}
