package pipeline

import (
	"context"
	"sort"
	"time"

	"mbi/internal/util"
)

// DirUsage is the file count and size of one data directory.
type DirUsage struct {
	Label string
	Path  string
	Files int
	Bytes int64
}

// Status describes the data on disk and the ledger.
type Status struct {
	Universe       int
	StoredSymbols  int
	LedgerRecords  int
	LatestRecord   time.Time // zero when the ledger is empty
	Snapshots      int
	LatestSnapshot time.Time // zero when no snapshot is archived
	Dirs           []DirUsage
}

// Status gathers the current state. Unreadable directories report zeros.
func (r *Runner) Status(ctx context.Context) (Status, error) {
	st := Status{
		Universe:      len(r.d.Universe),
		LedgerRecords: r.d.Ledger.Len(),
	}
	st.LatestRecord, _ = r.d.Ledger.LatestDate()

	syms, err := r.d.Bars.ListSymbols(ctx)
	if err != nil {
		return st, err
	}
	st.StoredSymbols = len(syms)

	if r.d.Archive != nil {
		dates, err := r.d.Archive.SnapshotDates(ctx)
		if err != nil {
			return st, err
		}
		st.Snapshots = len(dates)
		if n := len(dates); n > 0 {
			st.LatestSnapshot = dates[n-1]
		}
	}

	labels := make([]string, 0, len(r.d.Paths))
	for l := range r.d.Paths {
		labels = append(labels, l)
	}
	sort.Strings(labels)
	for _, l := range labels {
		path := r.d.Paths[l]
		files, bytes, err := util.DirStats(path, "")
		if err != nil {
			r.log.Warn("reading directory", "path", path, "error", err)
		}
		st.Dirs = append(st.Dirs, DirUsage{Label: l, Path: path, Files: files, Bytes: bytes})
	}
	return st, nil
}
