package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for the mbi pipeline and daemon.
type Config struct {
	Storage    Storage          `yaml:"storage"`
	Market     Market           `yaml:"market"`
	Calendar   CalendarConfig   `yaml:"calendar"`
	Breadth    BreadthConfig    `yaml:"breadth"`
	Validation ValidationConfig `yaml:"validation"`
	Alpaca     Alpaca           `yaml:"alpaca"`
	Gather     GatherConfig     `yaml:"gather"`
	Server     Server           `yaml:"server"`
	Schedule   Schedule         `yaml:"schedule"`
	Redis      Redis            `yaml:"redis"`
	Logging    Logging          `yaml:"logging"`
}

// Storage holds paths for data persistence.
type Storage struct {
	DataDir       string `yaml:"data_dir"`
	LedgerBackend string `yaml:"ledger_backend"` // csv | sqlite | postgres
	LedgerPath    string `yaml:"ledger_path"`
	SQLitePath    string `yaml:"sqlite_path"`
	PostgresDSN   string `yaml:"postgres_dsn"`
	ArchiveSnaps  bool   `yaml:"archive_snapshots"`
}

// Market identifies the universe and the exchange's local time.
type Market struct {
	Name         string `yaml:"name"`
	Timezone     string `yaml:"timezone"`
	UniverseFile string `yaml:"universe_file"`
}

// CalendarConfig selects the holiday supply behind the trading calendar.
type CalendarConfig struct {
	Source     string   `yaml:"source"` // file | exchange | alpaca | static
	HolidayDir string   `yaml:"holiday_dir"`
	MIC        string   `yaml:"mic"`
	CacheYears bool     `yaml:"cache_years"`
	MaxSteps   int      `yaml:"max_steps"`
	Holidays   []string `yaml:"holidays"`
}

// BreadthConfig holds the parameters of the window and breadth math.
type BreadthConfig struct {
	SMAPeriods           []int   `yaml:"sma_periods"`
	CountPeriods         []int   `yaml:"count_periods"`
	DailyChangeThreshold float64 `yaml:"daily_change_threshold"`
	MinValidStocks       int     `yaml:"min_valid_stocks"`
	TrailingWindowSize   int     `yaml:"trailing_window_size"`
	MaxWorkers           int     `yaml:"max_workers"`
	HistoricalDays       int     `yaml:"historical_days"`
	// PrevCloseBase measures the daily move from the previous close
	// instead of the open.
	PrevCloseBase        bool    `yaml:"prev_close_base"`
}

// ValidationConfig holds bar sanity thresholds.
type ValidationConfig struct {
	MinPrice         float64 `yaml:"min_price"`
	MinVolume        int64   `yaml:"min_volume"`
	JumpThresholdPct float64 `yaml:"jump_threshold_pct"`
	DropInvalidBars  bool    `yaml:"drop_invalid_bars"`
}

// Alpaca holds credentials and endpoints for the Alpaca APIs.
type Alpaca struct {
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
	BaseURL   string `yaml:"base_url"`
	DataURL   string `yaml:"data_url"`
	Feed      string `yaml:"feed"`
}

// GatherConfig controls the bar download job.
type GatherConfig struct {
	Enabled         bool `yaml:"enabled"`
	BatchSize       int  `yaml:"batch_size"`
	MaxWorkers      int  `yaml:"max_workers"`
	RateLimitPerMin int  `yaml:"rate_limit_per_min"`
	MaxAttempts     int  `yaml:"max_attempts"`
	RetryDelayMS    int  `yaml:"retry_delay_ms"`
}

// RetryDelay returns the base retry delay as a duration.
func (g GatherConfig) RetryDelay() time.Duration {
	return time.Duration(g.RetryDelayMS) * time.Millisecond
}

// Server holds network listener configuration.
type Server struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	GRPCPort int    `yaml:"grpc_port"`
}

// Schedule configures the daemon's cron trigger.
type Schedule struct {
	DailyCron  string `yaml:"daily_cron"`
	RunOnStart bool   `yaml:"run_on_start"`
}

// Redis configures the optional record publisher. Empty Addr disables it.
type Redis struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Channel  string `yaml:"channel"`
	Key      string `yaml:"key"`
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

// ---------------------------------------------------------------------------
// Defaults
// ---------------------------------------------------------------------------

// Default returns a Config populated with the stock parameters.
func Default() *Config {
	return &Config{
		Storage: Storage{
			DataDir:       "data",
			LedgerBackend: "csv",
			LedgerPath:    "data/processed/market_breadth.csv",
			SQLitePath:    "data/mbi.db",
			ArchiveSnaps:  true,
		},
		Market: Market{
			Name:         "us",
			Timezone:     "America/New_York",
			UniverseFile: "reference/universe.csv",
		},
		Calendar: CalendarConfig{
			Source:     "file",
			HolidayDir: "data/meta",
			MIC:        "xnys",
			CacheYears: true,
			MaxSteps:   30,
		},
		Breadth: BreadthConfig{
			SMAPeriods:           []int{10, 20, 50, 200},
			CountPeriods:         []int{20, 50},
			DailyChangeThreshold: 4.5,
			MinValidStocks:       350,
			TrailingWindowSize:   252,
			MaxWorkers:           16,
			HistoricalDays:       365,
		},
		Validation: ValidationConfig{
			MinPrice:         0.01,
			MinVolume:        0,
			JumpThresholdPct: 20,
			DropInvalidBars:  false,
		},
		Alpaca: Alpaca{
			BaseURL: "https://api.alpaca.markets",
			Feed:    "iex",
		},
		Gather: GatherConfig{
			Enabled:         true,
			BatchSize:       100,
			MaxWorkers:      4,
			RateLimitPerMin: 180,
			MaxAttempts:     3,
			RetryDelayMS:    2000,
		},
		Server: Server{
			Host:     "0.0.0.0",
			Port:     8080,
			GRPCPort: 9090,
		},
		Schedule: Schedule{
			DailyCron: "0 18 * * 1-5",
		},
		Redis: Redis{
			Channel: "mbi:breadth",
			Key:     "mbi:breadth:latest",
		},
		Logging: Logging{
			Level:  "info",
			Format: "text",
		},
	}
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Load reads the YAML configuration file at the given path on top of the
// defaults, applies environment variable overrides and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Location resolves the market timezone.
func (c *Config) Location() (*time.Location, error) {
	if c.Market.Timezone == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(c.Market.Timezone)
}

// Validate checks the configuration for values the pipeline cannot run with.
func (c *Config) Validate() error {
	if len(c.Breadth.SMAPeriods) == 0 {
		return fmt.Errorf("breadth.sma_periods must not be empty")
	}
	seen := make(map[int]bool, len(c.Breadth.SMAPeriods))
	for _, p := range c.Breadth.SMAPeriods {
		if p <= 0 {
			return fmt.Errorf("breadth.sma_periods: invalid period %d", p)
		}
		if seen[p] {
			return fmt.Errorf("breadth.sma_periods: duplicate period %d", p)
		}
		seen[p] = true
	}
	for _, p := range c.Breadth.CountPeriods {
		if !seen[p] {
			return fmt.Errorf("breadth.count_periods: %d is not in sma_periods", p)
		}
	}
	if c.Breadth.DailyChangeThreshold <= 0 {
		return fmt.Errorf("breadth.daily_change_threshold must be positive")
	}
	if c.Breadth.MinValidStocks < 1 {
		return fmt.Errorf("breadth.min_valid_stocks must be at least 1")
	}
	if c.Breadth.TrailingWindowSize < 1 {
		return fmt.Errorf("breadth.trailing_window_size must be at least 1")
	}
	if c.Calendar.MaxSteps < 1 {
		return fmt.Errorf("calendar.max_steps must be at least 1")
	}
	switch c.Calendar.Source {
	case "file", "exchange", "alpaca", "static":
	default:
		return fmt.Errorf("calendar.source: unknown source %q", c.Calendar.Source)
	}
	switch c.Storage.LedgerBackend {
	case "csv", "sqlite":
	case "postgres":
		if c.Storage.PostgresDSN == "" {
			return fmt.Errorf("storage.postgres_dsn is required for the postgres backend")
		}
	default:
		return fmt.Errorf("storage.ledger_backend: unknown backend %q", c.Storage.LedgerBackend)
	}
	if _, err := c.Location(); err != nil {
		return fmt.Errorf("market.timezone: %w", err)
	}
	return nil
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("MBI_DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := os.Getenv("MBI_LEDGER_PATH"); v != "" {
		cfg.Storage.LedgerPath = v
	}
	if v := os.Getenv("MBI_LEDGER_BACKEND"); v != "" {
		cfg.Storage.LedgerBackend = v
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}
	if v := os.Getenv("POSTGRES_DSN"); v != "" {
		cfg.Storage.PostgresDSN = v
	}

	if v := os.Getenv("MBI_MIN_VALID_STOCKS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Breadth.MinValidStocks = n
		}
	}
	if v := os.Getenv("MBI_UNIVERSE_FILE"); v != "" {
		cfg.Market.UniverseFile = v
	}

	if v := os.Getenv("ALPACA_API_KEY"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("ALPACA_API_SECRET"); v != "" {
		cfg.Alpaca.APISecret = v
	}
	if v := os.Getenv("ALPACA_BASE_URL"); v != "" {
		cfg.Alpaca.BaseURL = v
	}
	if v := os.Getenv("ALPACA_DATA_URL"); v != "" {
		cfg.Alpaca.DataURL = v
	}

	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	// Canonical SDK names win.
	if v := os.Getenv("APCA_API_KEY_ID"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("APCA_API_SECRET_KEY"); v != "" {
		cfg.Alpaca.APISecret = v
	}
}
