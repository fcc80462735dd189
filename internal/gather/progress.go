package gather

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"mbi/internal/domain"
)

// outcome is the journal verdict for one symbol.
type outcome string

const (
	outcomeFetched outcome = "fetched"
	outcomeEmpty   outcome = "empty"
	journalDone            = "complete"
)

// journal records per-symbol progress of one download range so an
// interrupted run resumes where it stopped. Each line is "<outcome> <SYMBOL>",
// and a final "complete" line marks the range done. Opening a journal for a
// new range removes the journals of older ranges.
type journal struct {
	mu       sync.Mutex
	path     string
	seen     map[string]outcome
	complete bool
	file     *os.File
	writer   *bufio.Writer
}

func journalName(rng DateRange) string {
	return fmt.Sprintf("bars_%s_%s.journal", domain.FormatDate(rng.Start), domain.FormatDate(rng.End))
}

// openJournal loads or creates the journal of rng under dir.
func openJournal(dir string, rng DateRange) (*journal, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating progress dir: %w", err)
	}
	name := journalName(rng)

	stale, _ := filepath.Glob(filepath.Join(dir, "bars_*.journal"))
	for _, p := range stale {
		if filepath.Base(p) != name {
			os.Remove(p)
		}
	}

	j := &journal{path: filepath.Join(dir, name), seen: make(map[string]outcome)}
	if data, err := os.ReadFile(j.path); err == nil {
		for _, line := range strings.Split(string(data), "\n") {
			fields := strings.Fields(line)
			switch {
			case len(fields) == 1 && fields[0] == journalDone:
				j.complete = true
			case len(fields) == 2 && (outcome(fields[0]) == outcomeFetched || outcome(fields[0]) == outcomeEmpty):
				j.seen[fields[1]] = outcome(fields[0])
			}
		}
	}

	f, err := os.OpenFile(j.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", name, err)
	}
	j.file = f
	j.writer = bufio.NewWriter(f)
	return j, nil
}

// Seen reports whether symbol already has an outcome in this range.
func (j *journal) Seen(symbol string) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	_, ok := j.seen[symbol]
	return ok
}

// Counts returns how many symbols were fetched and found empty so far.
func (j *journal) Counts() (fetched, empty int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	for _, o := range j.seen {
		if o == outcomeFetched {
			fetched++
		} else {
			empty++
		}
	}
	return fetched, empty
}

// Record appends o for each symbol and flushes.
func (j *journal) Record(o outcome, symbols []string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	for _, sym := range symbols {
		if j.seen[sym] == o {
			continue
		}
		j.seen[sym] = o
		if _, err := fmt.Fprintf(j.writer, "%s %s\n", o, sym); err != nil {
			return fmt.Errorf("writing journal: %w", err)
		}
	}
	return j.writer.Flush()
}

// Complete marks the range done.
func (j *journal) Complete() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.complete {
		return nil
	}
	j.complete = true
	if _, err := j.writer.WriteString(journalDone + "\n"); err != nil {
		return fmt.Errorf("writing journal: %w", err)
	}
	return j.writer.Flush()
}

// Completed reports whether an earlier run finished the range.
func (j *journal) Completed() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.complete
}

// Close flushes and closes the journal file.
func (j *journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.writer.Flush()
	return j.file.Close()
}
