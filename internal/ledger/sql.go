package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"  // Postgres driver.
	_ "modernc.org/sqlite" // Pure-Go SQLite driver.

	"mbi/internal/domain"
)

// Driver names accepted by NewSQLBackend.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

const createTable = `
CREATE TABLE IF NOT EXISTS breadth_records (
	date        TEXT PRIMARY KEY,
	high_52w    DOUBLE PRECISION NOT NULL,
	low_52w     DOUBLE PRECISION NOT NULL,
	up_pct      DOUBLE PRECISION NOT NULL,
	down_pct    DOUBLE PRECISION NOT NULL,
	ratio       DOUBLE PRECISION NOT NULL,
	above       TEXT NOT NULL,
	below       TEXT NOT NULL,
	above_count TEXT NOT NULL,
	updated_at  TEXT NOT NULL
)`

const upsertRecord = `
INSERT INTO breadth_records
	(date, high_52w, low_52w, up_pct, down_pct, ratio, above, below, above_count, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(date) DO UPDATE SET
	high_52w = excluded.high_52w,
	low_52w = excluded.low_52w,
	up_pct = excluded.up_pct,
	down_pct = excluded.down_pct,
	ratio = excluded.ratio,
	above = excluded.above,
	below = excluded.below,
	above_count = excluded.above_count,
	updated_at = excluded.updated_at`

const selectRecords = `
SELECT date, high_52w, low_52w, up_pct, down_pct, ratio, above, below, above_count
FROM breadth_records ORDER BY date`

// SQLBackend keeps one row per date in a SQL table. Per-period values are
// stored as JSON objects keyed by period.
type SQLBackend struct {
	db     *sql.DB
	driver string
}

var _ Backend = (*SQLBackend)(nil)

// NewSQLBackend opens dsn with driver (DriverSQLite or DriverPostgres) and
// creates the table if needed. For SQLite, dsn is a file path.
func NewSQLBackend(ctx context.Context, driver, dsn string) (*SQLBackend, error) {
	switch driver {
	case DriverSQLite:
		if dir := filepath.Dir(dsn); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("creating %s: %w", dir, err)
			}
		}
	case DriverPostgres:
	default:
		return nil, fmt.Errorf("unsupported sql driver %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, err
	}
	if driver == DriverSQLite {
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to %s: %w", driver, err)
	}
	if _, err := db.ExecContext(ctx, createTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating breadth_records: %w", err)
	}
	return &SQLBackend{db: db, driver: driver}, nil
}

// Load reads every row, ascending by date.
func (b *SQLBackend) Load(ctx context.Context) ([]domain.BreadthRecord, error) {
	rows, err := b.db.QueryContext(ctx, selectRecords)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []domain.BreadthRecord
	for rows.Next() {
		var (
			date                     string
			above, below, aboveCount string
			rec                      domain.BreadthRecord
		)
		if err := rows.Scan(&date, &rec.High52W, &rec.Low52W, &rec.Up, &rec.Down, &rec.Ratio,
			&above, &below, &aboveCount); err != nil {
			return nil, err
		}
		if rec.Date, err = domain.ParseDate(date); err != nil {
			return nil, fmt.Errorf("row %q: %w", date, err)
		}
		if err := json.Unmarshal([]byte(above), &rec.Above); err != nil {
			return nil, fmt.Errorf("row %s above: %w", date, err)
		}
		if err := json.Unmarshal([]byte(below), &rec.Below); err != nil {
			return nil, fmt.Errorf("row %s below: %w", date, err)
		}
		if err := json.Unmarshal([]byte(aboveCount), &rec.AboveCount); err != nil {
			return nil, fmt.Errorf("row %s above_count: %w", date, err)
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// Store upserts the changed row and reads the table back.
func (b *SQLBackend) Store(ctx context.Context, rec domain.BreadthRecord) ([]domain.BreadthRecord, error) {
	above, err := json.Marshal(rec.Above)
	if err != nil {
		return nil, err
	}
	below, err := json.Marshal(rec.Below)
	if err != nil {
		return nil, err
	}
	counts, err := json.Marshal(rec.AboveCount)
	if err != nil {
		return nil, err
	}
	if _, err := b.db.ExecContext(ctx, b.rebind(upsertRecord),
		domain.FormatDate(rec.Date), rec.High52W, rec.Low52W, rec.Up, rec.Down, rec.Ratio,
		string(above), string(below), string(counts), time.Now().UTC().Format(time.RFC3339),
	); err != nil {
		return nil, err
	}
	return b.Load(ctx)
}

// Close closes the database.
func (b *SQLBackend) Close() error { return b.db.Close() }

// rebind rewrites ? placeholders as $n for Postgres.
func (b *SQLBackend) rebind(query string) string {
	if b.driver != DriverPostgres {
		return query
	}
	var sb strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			sb.WriteString("$" + strconv.Itoa(n))
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}
