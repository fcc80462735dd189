package domain

import (
	"math"
	"testing"
	"time"
)

func d(s string) time.Time {
	t, err := ParseDate(s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestDayNormalisesLocation(t *testing.T) {
	loc := time.FixedZone("IST", 5*3600+1800)
	in := time.Date(2024, 3, 15, 1, 30, 0, 0, loc) // still the 15th locally
	got := Day(in)
	if !got.Equal(d("2024-03-15")) {
		t.Errorf("Day = %v, want 2024-03-15", got)
	}
}

func TestSeriesUptoAndIndexOf(t *testing.T) {
	s := Series{Symbol: "AAA", Bars: []Bar{
		{Date: d("2024-03-11"), Close: 1},
		{Date: d("2024-03-12"), Close: 2},
		{Date: d("2024-03-14"), Close: 3},
	}}

	if n := len(s.Upto(d("2024-03-13"))); n != 2 {
		t.Errorf("Upto(13th) len = %d, want 2", n)
	}
	if n := len(s.Upto(d("2024-03-14"))); n != 3 {
		t.Errorf("Upto(14th) len = %d, want 3", n)
	}
	if n := len(s.Upto(d("2024-03-10"))); n != 0 {
		t.Errorf("Upto(10th) len = %d, want 0", n)
	}

	if i := s.IndexOf(d("2024-03-12")); i != 1 {
		t.Errorf("IndexOf(12th) = %d, want 1", i)
	}
	if i := s.IndexOf(d("2024-03-13")); i != -1 {
		t.Errorf("IndexOf(13th) = %d, want -1", i)
	}

	last, ok := s.Last()
	if !ok || last.Close != 3 {
		t.Errorf("Last = %+v, %v", last, ok)
	}
	if _, ok := (Series{}).Last(); ok {
		t.Error("Last on empty series should report false")
	}
}

func TestBarHasNull(t *testing.T) {
	ok := Bar{Date: d("2024-01-02"), Open: 1, High: 2, Low: 1, Close: 1.5}
	if ok.HasNull() {
		t.Error("complete bar reported null")
	}
	missing := ok
	missing.Close = math.NaN()
	if !missing.HasNull() {
		t.Error("NaN close not reported as null")
	}
	if (Bar{Open: 1, High: 1, Low: 1, Close: 1}).HasNull() == false {
		t.Error("zero date not reported as null")
	}
}

func TestBreadthRecordEqualAndClone(t *testing.T) {
	r := BreadthRecord{
		Date:       d("2024-03-15"),
		High52W:    33.33,
		Above:      map[int]float64{10: 66.67},
		Below:      map[int]float64{10: 33.33},
		AboveCount: map[int]int{20: 2},
	}
	c := r.Clone()
	if !r.Equal(c) {
		t.Fatal("clone should equal original")
	}
	c.Above[10] = 0
	if r.Above[10] != 66.67 {
		t.Error("clone shares map storage with original")
	}
	if r.Equal(c) {
		t.Error("modified clone should not equal original")
	}
}
