package ledger

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"mbi/internal/breadth"
	"mbi/internal/domain"
	"mbi/internal/util"
)

// lockRetry is how often Store retries a held ledger lock.
const lockRetry = 50 * time.Millisecond

// CSVBackend keeps the ledger in one CSV file laid out per Schema. Every
// store rewrites the whole file atomically while holding an exclusive lock
// on Path+".lock", so processes sharing the file never drop each other's
// records.
type CSVBackend struct {
	Path   string
	Schema breadth.Schema
}

var _ Backend = (*CSVBackend)(nil)

// NewCSVBackend returns a backend for path.
func NewCSVBackend(path string, schema breadth.Schema) *CSVBackend {
	return &CSVBackend{Path: path, Schema: schema}
}

// Load reads the file. A missing file is an empty ledger.
func (b *CSVBackend) Load(_ context.Context) ([]domain.BreadthRecord, error) {
	f, err := os.Open(b.Path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	header, err := r.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading header of %s: %w", b.Path, err)
	}

	var recs []domain.BreadthRecord
	for line := 2; ; line++ {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%s line %d: %w", b.Path, line, err)
		}
		rec, err := b.Schema.Parse(header, row)
		if err != nil {
			return nil, fmt.Errorf("%s line %d: %w", b.Path, line, err)
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

// Store rereads the file under the lock, merges changed into it and
// rewrites it.
func (b *CSVBackend) Store(ctx context.Context, changed domain.BreadthRecord) ([]domain.BreadthRecord, error) {
	unlock, err := b.lock(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()

	onDisk, err := b.Load(ctx)
	if err != nil {
		return nil, err
	}
	all := merge(onDisk, changed)
	if err := b.write(all); err != nil {
		return nil, err
	}
	return all, nil
}

func (b *CSVBackend) lock(ctx context.Context) (func(), error) {
	dir := filepath.Dir(b.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating %s: %w", dir, err)
	}
	fl := flock.New(b.Path + ".lock")
	locked, err := fl.TryLockContext(ctx, lockRetry)
	if err != nil {
		return nil, fmt.Errorf("locking %s: %w", b.Path, err)
	}
	if !locked {
		return nil, fmt.Errorf("locking %s: lock not acquired", b.Path)
	}
	return func() { fl.Unlock() }, nil
}

func (b *CSVBackend) write(all []domain.BreadthRecord) error {
	return util.WriteFileAtomic(b.Path, func(w io.Writer) error {
		cw := csv.NewWriter(w)
		if err := cw.Write(b.Schema.Header()); err != nil {
			return err
		}
		for _, rec := range all {
			if err := cw.Write(b.Schema.Format(rec)); err != nil {
				return err
			}
		}
		cw.Flush()
		return cw.Error()
	})
}

// Close is a no-op.
func (b *CSVBackend) Close() error { return nil }
