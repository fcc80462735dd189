package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mbi.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"MBI_DATA_DIR", "MBI_LEDGER_PATH", "MBI_LEDGER_BACKEND", "MBI_MIN_VALID_STOCKS",
		"MBI_UNIVERSE_FILE", "SQLITE_PATH", "POSTGRES_DSN", "REDIS_ADDR", "LOG_LEVEL",
		"ALPACA_API_KEY", "ALPACA_API_SECRET", "APCA_API_KEY_ID", "APCA_API_SECRET_KEY",
	} {
		t.Setenv(k, "")
	}
}

func TestLoadOverlaysDefaults(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
storage:
  data_dir: "/tmp/mbi/data"
  ledger_backend: sqlite
  sqlite_path: "/tmp/mbi/mbi.db"
market:
  timezone: "Asia/Kolkata"
breadth:
  sma_periods: [5, 20, 50]
  count_periods: [20]
  min_valid_stocks: 3
alpaca:
  api_key: "test-key"
logging:
  level: debug
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if cfg.Storage.DataDir != "/tmp/mbi/data" {
		t.Errorf("Storage.DataDir = %q, want %q", cfg.Storage.DataDir, "/tmp/mbi/data")
	}
	if cfg.Storage.LedgerBackend != "sqlite" {
		t.Errorf("Storage.LedgerBackend = %q, want sqlite", cfg.Storage.LedgerBackend)
	}
	if !reflect.DeepEqual(cfg.Breadth.SMAPeriods, []int{5, 20, 50}) {
		t.Errorf("Breadth.SMAPeriods = %v", cfg.Breadth.SMAPeriods)
	}
	if cfg.Breadth.MinValidStocks != 3 {
		t.Errorf("Breadth.MinValidStocks = %d, want 3", cfg.Breadth.MinValidStocks)
	}
	// Untouched fields keep their defaults.
	if cfg.Breadth.DailyChangeThreshold != 4.5 {
		t.Errorf("Breadth.DailyChangeThreshold = %v, want 4.5", cfg.Breadth.DailyChangeThreshold)
	}
	if cfg.Breadth.TrailingWindowSize != 252 {
		t.Errorf("Breadth.TrailingWindowSize = %d, want 252", cfg.Breadth.TrailingWindowSize)
	}
	if cfg.Calendar.MaxSteps != 30 {
		t.Errorf("Calendar.MaxSteps = %d, want 30", cfg.Calendar.MaxSteps)
	}
	if cfg.Validation.MinPrice != 0.01 {
		t.Errorf("Validation.MinPrice = %v, want 0.01", cfg.Validation.MinPrice)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want debug", cfg.Logging.Level)
	}
	loc, err := cfg.Location()
	if err != nil || loc.String() != "Asia/Kolkata" {
		t.Errorf("Location() = %v, %v", loc, err)
	}
}

func TestDefaultsMatchBreadthParameters(t *testing.T) {
	cfg := Default()
	if !reflect.DeepEqual(cfg.Breadth.SMAPeriods, []int{10, 20, 50, 200}) {
		t.Errorf("SMAPeriods = %v", cfg.Breadth.SMAPeriods)
	}
	if !reflect.DeepEqual(cfg.Breadth.CountPeriods, []int{20, 50}) {
		t.Errorf("CountPeriods = %v", cfg.Breadth.CountPeriods)
	}
	if cfg.Breadth.MinValidStocks != 350 {
		t.Errorf("MinValidStocks = %d, want 350", cfg.Breadth.MinValidStocks)
	}
	if cfg.Breadth.PrevCloseBase {
		t.Error("PrevCloseBase should default to false")
	}
	if cfg.Validation.DropInvalidBars {
		t.Error("DropInvalidBars should default to false")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestEnvOverrides(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "alpaca:\n  api_key: file-key\n")

	t.Setenv("MBI_DATA_DIR", "/env/data")
	t.Setenv("MBI_MIN_VALID_STOCKS", "42")
	t.Setenv("ALPACA_API_KEY", "env-key")
	t.Setenv("APCA_API_KEY_ID", "sdk-key")
	t.Setenv("REDIS_ADDR", "localhost:6379")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}
	if cfg.Storage.DataDir != "/env/data" {
		t.Errorf("Storage.DataDir = %q, want /env/data", cfg.Storage.DataDir)
	}
	if cfg.Breadth.MinValidStocks != 42 {
		t.Errorf("Breadth.MinValidStocks = %d, want 42", cfg.Breadth.MinValidStocks)
	}
	if cfg.Alpaca.APIKey != "sdk-key" {
		t.Errorf("Alpaca.APIKey = %q, want sdk-key", cfg.Alpaca.APIKey)
	}
	if cfg.Redis.Addr != "localhost:6379" {
		t.Errorf("Redis.Addr = %q", cfg.Redis.Addr)
	}
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"no periods", func(c *Config) { c.Breadth.SMAPeriods = nil }, "sma_periods"},
		{"zero period", func(c *Config) { c.Breadth.SMAPeriods = []int{0, 20} }, "invalid period"},
		{"duplicate period", func(c *Config) { c.Breadth.SMAPeriods = []int{20, 20} }, "duplicate"},
		{"count period unknown", func(c *Config) { c.Breadth.CountPeriods = []int{30} }, "count_periods"},
		{"threshold", func(c *Config) { c.Breadth.DailyChangeThreshold = 0 }, "daily_change_threshold"},
		{"min valid", func(c *Config) { c.Breadth.MinValidStocks = 0 }, "min_valid_stocks"},
		{"calendar source", func(c *Config) { c.Calendar.Source = "oracle" }, "calendar.source"},
		{"postgres dsn", func(c *Config) { c.Storage.LedgerBackend = "postgres" }, "postgres_dsn"},
		{"timezone", func(c *Config) { c.Market.Timezone = "Mars/Olympus" }, "timezone"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}
