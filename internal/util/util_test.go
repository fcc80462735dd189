package util

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestRetry(t *testing.T) {
	attempts := 0
	targetAttempts := 3

	err := Retry(context.Background(), 5, 0, func() error {
		attempts++
		if attempts < targetAttempts {
			return errors.New("transient error")
		}
		return nil
	})

	if err != nil {
		t.Fatalf("Retry returned unexpected error: %v", err)
	}
	if attempts != targetAttempts {
		t.Errorf("Retry called fn %d times, want %d", attempts, targetAttempts)
	}
}

func TestRetryAllFail(t *testing.T) {
	attempts := 0
	maxAttempts := 3

	err := Retry(context.Background(), maxAttempts, 0, func() error {
		attempts++
		return errors.New("persistent error")
	})

	if err == nil {
		t.Fatal("Retry should return error when all attempts fail")
	}
	if attempts != maxAttempts {
		t.Errorf("Retry called fn %d times, want %d", attempts, maxAttempts)
	}
}

func TestRetryPermanentStopsEarly(t *testing.T) {
	sentinel := errors.New("bad request")
	attempts := 0

	err := Retry(context.Background(), 5, 0, func() error {
		attempts++
		return Permanent(sentinel)
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("Retry error = %v, want %v", err, sentinel)
	}
	if attempts != 1 {
		t.Errorf("Retry called fn %d times, want 1", attempts)
	}
}

func TestRetryHonoursCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Retry(ctx, 3, time.Hour, func() error { return errors.New("fail") })
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Retry error = %v, want context.Canceled", err)
	}
}

func TestRateLimiter(t *testing.T) {
	if rl := NewRateLimiter(0); rl != nil {
		t.Fatal("NewRateLimiter(0) should be unlimited (nil)")
	}
	var unlimited *RateLimiter
	if err := unlimited.Wait(context.Background()); err != nil {
		t.Fatalf("nil limiter Wait: %v", err)
	}

	rl := NewRateLimiter(60)
	if err := rl.Wait(context.Background()); err != nil {
		t.Fatalf("first Wait should use the initial token: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := rl.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("second Wait = %v, want deadline exceeded", err)
	}
}

func TestNewLoggerFormats(t *testing.T) {
	var sb strings.Builder
	NewLogger("debug", "json", &sb).Debug("hello", "k", 1)
	if !strings.Contains(sb.String(), `"msg":"hello"`) {
		t.Errorf("json output = %q", sb.String())
	}

	sb.Reset()
	NewLogger("warn", "text", &sb).Info("hidden")
	if sb.Len() != 0 {
		t.Errorf("info should be filtered at warn level, got %q", sb.String())
	}

	if ParseLevel("bogus") != slog.LevelInfo {
		t.Error("unknown level should default to info")
	}
}

func TestWriteFileAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "out.csv")

	if err := WriteFileAtomic(path, func(w io.Writer) error {
		_, err := io.WriteString(w, "a,b\n")
		return err
	}); err != nil {
		t.Fatalf("WriteFileAtomic: %v", err)
	}

	// A failing fill must leave the previous content intact and no temp files.
	failErr := fmt.Errorf("boom")
	if err := WriteFileAtomic(path, func(w io.Writer) error {
		io.WriteString(w, "partial")
		return failErr
	}); !errors.Is(err, failErr) {
		t.Fatalf("WriteFileAtomic error = %v, want %v", err, failErr)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "a,b\n" {
		t.Errorf("content = %q, want %q", data, "a,b\n")
	}
	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Errorf("expected only the target file, found %d entries", len(entries))
	}
}

func TestDirStats(t *testing.T) {
	dir := t.TempDir()
	os.MkdirAll(filepath.Join(dir, "AAA"), 0o755)
	os.WriteFile(filepath.Join(dir, "AAA", "2024.parquet"), make([]byte, 10), 0o644)
	os.WriteFile(filepath.Join(dir, "AAA", "2023.parquet"), make([]byte, 5), 0o644)
	os.WriteFile(filepath.Join(dir, "notes.txt"), make([]byte, 3), 0o644)

	files, bytes, err := DirStats(dir, "*.parquet")
	if err != nil {
		t.Fatal(err)
	}
	if files != 2 || bytes != 15 {
		t.Errorf("DirStats = %d files, %d bytes; want 2, 15", files, bytes)
	}

	files, bytes, err = DirStats(filepath.Join(dir, "missing"), "")
	if err != nil || files != 0 || bytes != 0 {
		t.Errorf("missing dir: %d, %d, %v", files, bytes, err)
	}
}
