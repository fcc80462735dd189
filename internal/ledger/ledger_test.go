package ledger

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gofrs/flock"

	"mbi/internal/breadth"
	"mbi/internal/config"
	"mbi/internal/domain"
)

func day(s string) time.Time {
	t, err := domain.ParseDate(s)
	if err != nil {
		panic(err)
	}
	return t
}

func record(date string, pct float64) domain.BreadthRecord {
	return domain.BreadthRecord{
		Date: day(date), High52W: pct, Low52W: 1, Up: 2, Down: 3,
		Above:      map[int]float64{10: pct, 20: pct, 50: pct, 200: pct},
		Below:      map[int]float64{10: 100 - pct, 20: 100 - pct, 50: 100 - pct, 200: 100 - pct},
		Ratio:      0.67,
		AboveCount: map[int]int{20: 7, 50: 5},
	}
}

// memBackend records stores and can be told to fail.
type memBackend struct {
	stored []domain.BreadthRecord
	stores int
	fail   error
}

func (m *memBackend) Load(context.Context) ([]domain.BreadthRecord, error) { return m.stored, nil }
func (m *memBackend) Close() error                                         { return nil }
func (m *memBackend) Store(_ context.Context, rec domain.BreadthRecord) ([]domain.BreadthRecord, error) {
	if m.fail != nil {
		return nil, m.fail
	}
	m.stores++
	m.stored = merge(m.stored, rec)
	return m.stored, nil
}

func TestUpsertIsIdempotentAndOrdered(t *testing.T) {
	ctx := context.Background()
	mb := &memBackend{}
	l, err := Open(ctx, mb)
	if err != nil {
		t.Fatal(err)
	}

	for _, d := range []string{"2024-03-15", "2024-03-13", "2024-03-14"} {
		if err := l.Upsert(ctx, record(d, 50)); err != nil {
			t.Fatalf("Upsert(%s): %v", d, err)
		}
	}
	if err := l.Upsert(ctx, record("2024-03-15", 50)); err != nil {
		t.Fatal(err)
	}
	if l.Len() != 3 {
		t.Fatalf("Len = %d, want 3", l.Len())
	}
	if mb.stores != 3 {
		t.Errorf("stores = %d, identical upsert should not persist", mb.stores)
	}

	all := l.All()
	for i := 1; i < len(all); i++ {
		if !all[i-1].Date.Before(all[i].Date) {
			t.Fatalf("records not ascending: %v then %v", all[i-1].Date, all[i].Date)
		}
	}

	// Replacing a date keeps one record for it.
	if err := l.Upsert(ctx, record("2024-03-14", 75)); err != nil {
		t.Fatal(err)
	}
	got, ok := l.Get(day("2024-03-14"))
	if !ok || got.High52W != 75 || l.Len() != 3 {
		t.Errorf("after replace: %+v, %v, len %d", got, ok, l.Len())
	}

	latest, ok := l.LatestDate()
	if !ok || !latest.Equal(day("2024-03-15")) {
		t.Errorf("LatestDate = %v, %v", latest, ok)
	}
}

func TestUpsertBackendFailureLeavesLedger(t *testing.T) {
	ctx := context.Background()
	mb := &memBackend{}
	l, _ := Open(ctx, mb)
	if err := l.Upsert(ctx, record("2024-03-14", 50)); err != nil {
		t.Fatal(err)
	}

	mb.fail = errors.New("disk full")
	err := l.Upsert(ctx, record("2024-03-15", 60))
	if !errors.Is(err, mb.fail) {
		t.Fatalf("err = %v, want wrapped disk full", err)
	}
	if l.Len() != 1 {
		t.Errorf("Len = %d, want 1", l.Len())
	}
	if _, ok := l.Get(day("2024-03-15")); ok {
		t.Error("failed record visible in memory")
	}
}

func TestRangeAndGetCopies(t *testing.T) {
	ctx := context.Background()
	l, _ := Open(ctx, &memBackend{})
	for _, d := range []string{"2024-03-11", "2024-03-12", "2024-03-13", "2024-03-14"} {
		l.Upsert(ctx, record(d, 10))
	}

	got := l.Range(day("2024-03-12"), day("2024-03-13"))
	if len(got) != 2 || !got[0].Date.Equal(day("2024-03-12")) || !got[1].Date.Equal(day("2024-03-13")) {
		t.Errorf("Range = %v", got)
	}
	if got := l.Range(day("2024-03-20"), day("2024-03-25")); len(got) != 0 {
		t.Errorf("Range past end = %v", got)
	}

	r, _ := l.Get(day("2024-03-11"))
	r.Above[10] = -1
	again, _ := l.Get(day("2024-03-11"))
	if again.Above[10] != 10 {
		t.Error("Get returned shared map storage")
	}

	if _, ok := l.Get(day("2024-01-01")); ok {
		t.Error("Get of absent date reported ok")
	}
}

func TestOpenNormalisesLoadedRecords(t *testing.T) {
	mb := &memBackend{stored: []domain.BreadthRecord{
		record("2024-03-15", 1),
		record("2024-03-13", 2),
		record("2024-03-15", 3),
	}}
	l, err := Open(context.Background(), mb)
	if err != nil {
		t.Fatal(err)
	}
	if l.Len() != 2 {
		t.Fatalf("Len = %d, want 2", l.Len())
	}
	r, _ := l.Get(day("2024-03-15"))
	if r.High52W != 3 {
		t.Errorf("duplicate date kept %v, want last (3)", r.High52W)
	}
}

func TestEmptyLedger(t *testing.T) {
	l, _ := Open(context.Background(), &memBackend{})
	if _, ok := l.LatestDate(); ok {
		t.Error("empty ledger reported a latest date")
	}
	if _, ok := l.Latest(); ok {
		t.Error("empty ledger reported a latest record")
	}
}

func TestCSVBackendRoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "processed", "market_breadth.csv")
	schema := breadth.DefaultSchema()

	l, err := Open(ctx, NewCSVBackend(path, schema))
	if err != nil {
		t.Fatalf("Open on missing file: %v", err)
	}
	for _, d := range []string{"2024-03-15", "2024-03-14"} {
		if err := l.Upsert(ctx, record(d, 33.33)); err != nil {
			t.Fatal(err)
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 3 {
		t.Fatalf("file has %d lines, want 3:\n%s", len(lines), data)
	}
	if want := strings.Join(schema.Header(), ","); lines[0] != want {
		t.Errorf("header = %q, want %q", lines[0], want)
	}
	if !strings.HasPrefix(lines[1], "2024-03-14,33.33,") {
		t.Errorf("first row = %q", lines[1])
	}

	matches, _ := filepath.Glob(filepath.Join(filepath.Dir(path), ".*tmp*"))
	if len(matches) != 0 {
		t.Errorf("temp files left behind: %v", matches)
	}

	reopened, err := Open(ctx, NewCSVBackend(path, schema))
	if err != nil {
		t.Fatal(err)
	}
	got, ok := reopened.Get(day("2024-03-15"))
	if !ok || !got.Equal(record("2024-03-15", 33.33)) {
		t.Errorf("reloaded record = %+v", got)
	}
}

func TestCSVLedgersSharingAFileKeepEachOthersRecords(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "market_breadth.csv")
	schema := breadth.DefaultSchema()

	cli, err := Open(ctx, NewCSVBackend(path, schema))
	if err != nil {
		t.Fatal(err)
	}
	daemon, err := Open(ctx, NewCSVBackend(path, schema))
	if err != nil {
		t.Fatal(err)
	}

	if err := cli.Upsert(ctx, record("2024-03-14", 10)); err != nil {
		t.Fatal(err)
	}
	if err := daemon.Upsert(ctx, record("2024-03-15", 20)); err != nil {
		t.Fatal(err)
	}
	if daemon.Len() != 2 {
		t.Errorf("writer ledger holds %d records after upsert, want 2", daemon.Len())
	}

	reopened, err := Open(ctx, NewCSVBackend(path, schema))
	if err != nil {
		t.Fatal(err)
	}
	if reopened.Len() != 2 {
		t.Fatalf("persisted records = %d, want 2", reopened.Len())
	}
	for _, d := range []string{"2024-03-14", "2024-03-15"} {
		if _, ok := reopened.Get(day(d)); !ok {
			t.Errorf("record %s lost", d)
		}
	}

	if err := cli.Reload(ctx); err != nil {
		t.Fatal(err)
	}
	if latest, _ := cli.LatestDate(); !latest.Equal(day("2024-03-15")) {
		t.Errorf("LatestDate after Reload = %v", latest)
	}
}

func TestCSVBackendStoreHonoursCancelledLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "market_breadth.csv")
	b := NewCSVBackend(path, breadth.DefaultSchema())

	held := flock.New(path + ".lock")
	if err := held.Lock(); err != nil {
		t.Fatal(err)
	}
	defer held.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if _, err := b.Store(ctx, record("2024-03-15", 1)); err == nil {
		t.Fatal("Store succeeded while the ledger lock was held")
	}
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("ledger written without the lock: %v", err)
	}
}

func TestCSVBackendRejectsBadRow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.csv")
	os.WriteFile(path, []byte("Date,52WH(%)\n2024-03-15,1\n"), 0o644)
	if _, err := Open(context.Background(), NewCSVBackend(path, breadth.DefaultSchema())); err == nil {
		t.Error("expected error for missing columns")
	}
}

func TestSQLiteBackendRoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "db", "mbi.db")

	b, err := NewSQLBackend(ctx, DriverSQLite, path)
	if err != nil {
		t.Fatalf("NewSQLBackend: %v", err)
	}
	l, err := Open(ctx, b)
	if err != nil {
		t.Fatal(err)
	}
	l.Upsert(ctx, record("2024-03-15", 40))
	l.Upsert(ctx, record("2024-03-14", 41))
	if err := l.Upsert(ctx, record("2024-03-15", 42)); err != nil {
		t.Fatal(err)
	}
	l.Close()

	b2, err := NewSQLBackend(ctx, DriverSQLite, path)
	if err != nil {
		t.Fatal(err)
	}
	defer b2.Close()
	recs, err := b2.Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 2 {
		t.Fatalf("rows = %d, want 2", len(recs))
	}
	if !recs[0].Date.Equal(day("2024-03-14")) || !recs[1].Equal(record("2024-03-15", 42)) {
		t.Errorf("rows = %+v", recs)
	}
}

func TestRebindPostgres(t *testing.T) {
	b := &SQLBackend{driver: DriverPostgres}
	if got := b.rebind("VALUES (?, ?)"); got != "VALUES ($1, $2)" {
		t.Errorf("rebind = %q", got)
	}
	b.driver = DriverSQLite
	if got := b.rebind("VALUES (?)"); got != "VALUES (?)" {
		t.Errorf("sqlite rebind = %q", got)
	}
}

func TestNewBackendFromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Storage.LedgerPath = filepath.Join(t.TempDir(), "l.csv")
	b, err := NewBackend(context.Background(), cfg, breadth.DefaultSchema())
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := b.(*CSVBackend); !ok {
		t.Errorf("backend = %T, want *CSVBackend", b)
	}

	cfg.Storage.LedgerBackend = "mongo"
	if _, err := NewBackend(context.Background(), cfg, breadth.DefaultSchema()); err == nil {
		t.Error("expected unknown backend error")
	}
}
