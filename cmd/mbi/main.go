package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"mbi/internal/app"
	"mbi/internal/calendar"
	"mbi/internal/config"
	"mbi/internal/domain"
	"mbi/internal/pipeline"
	"mbi/internal/store"
	"mbi/internal/validate"
)

const version = "0.1.0"

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: mbi <command> [options]\n\n")
	fmt.Fprintf(os.Stderr, "Commands:\n")
	fmt.Fprintf(os.Stderr, "  init       Download history and build the ledger (-days N)\n")
	fmt.Fprintf(os.Stderr, "  daily      Compute one trading day (-date YYYY-MM-DD, default previous trading day)\n")
	fmt.Fprintf(os.Stderr, "  update     Fill the ledger up to the previous trading day\n")
	fmt.Fprintf(os.Stderr, "  recompute  Recompute a date range from stored bars (-start, -end)\n")
	fmt.Fprintf(os.Stderr, "  show       Print a ledger record (-date, default latest)\n")
	fmt.Fprintf(os.Stderr, "  status     Show ledger and data directory status\n")
	fmt.Fprintf(os.Stderr, "  check      Run data quality checks on one symbol (-symbol)\n")
	fmt.Fprintf(os.Stderr, "  import     Import <SYMBOL>.csv bar files into the store (-dir)\n")
	fmt.Fprintf(os.Stderr, "  holidays   Seed holiday files (-from, -to, -source exchange|alpaca)\n")
	fmt.Fprintf(os.Stderr, "  version    Print the CLI version\n")
	fmt.Fprintf(os.Stderr, "\nConfig is read from $MBI_CONFIG or config/mbi.yaml.\n")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}
	cmd, args := os.Args[1], os.Args[2:]

	switch cmd {
	case "version":
		fmt.Printf("mbi %s\n", version)
		return
	case "help", "-h", "--help":
		usage()
		return
	}

	cfg, err := config.Load(app.ConfigPath())
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	closeLog, err := app.SetupLogging(cfg)
	if err != nil {
		log.Fatalf("failed to set up logging: %v", err)
	}
	defer closeLog()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	switch cmd {
	case "init":
		err = runInit(ctx, cfg, args)
	case "daily":
		err = runDaily(ctx, cfg, args)
	case "update":
		err = runUpdate(ctx, cfg, args)
	case "recompute":
		err = runRecompute(ctx, cfg, args)
	case "show":
		err = runShow(ctx, cfg, args)
	case "status":
		err = runStatus(ctx, cfg, args)
	case "check":
		err = runCheck(ctx, cfg, args)
	case "import":
		err = runImport(ctx, cfg, args)
	case "holidays":
		err = runHolidays(cfg, args)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", cmd)
		usage()
		os.Exit(1)
	}

	if err != nil {
		slog.Error(cmd+" failed", "error", err)
		closeLog()
		os.Exit(1)
	}
}

// withRunner builds the runner, calls fn and releases the runner's
// resources.
func withRunner(ctx context.Context, cfg *config.Config, fn func(*pipeline.Runner) error) error {
	r, cleanup, err := InitializeRunner(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()
	return fn(r)
}

func parseDateFlag(name, v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	d, err := domain.ParseDate(v)
	if err != nil {
		return time.Time{}, fmt.Errorf("-%s: %w", name, err)
	}
	return d, nil
}

// printReport renders rep and turns rejected dates into an error so the
// exit status reflects them.
func printReport(rep pipeline.Report, err error) error {
	if rep.RunID != "" {
		fmt.Print(renderReport(rep))
	}
	if err != nil {
		return err
	}
	if n := len(rep.Rejected); n > 0 {
		return fmt.Errorf("%d of %d dates rejected", n, rep.Dates)
	}
	return nil
}

func runInit(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	days := fs.Int("days", cfg.Breadth.HistoricalDays, "calendar days of history to compute")
	fs.Parse(args)

	return withRunner(ctx, cfg, func(r *pipeline.Runner) error {
		return printReport(r.Init(ctx, *days))
	})
}

func runDaily(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("daily", flag.ExitOnError)
	dateStr := fs.String("date", "", "trading date YYYY-MM-DD (default previous trading day)")
	fs.Parse(args)

	date, err := parseDateFlag("date", *dateStr)
	if err != nil {
		return err
	}
	return withRunner(ctx, cfg, func(r *pipeline.Runner) error {
		rep, err := r.Daily(ctx, date)
		if errors.Is(err, pipeline.ErrNotTradingDay) {
			fmt.Printf("%s is not a trading day, nothing to do\n", domain.FormatDate(rep.Start))
			return nil
		}
		return printReport(rep, err)
	})
}

func runUpdate(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("update", flag.ExitOnError)
	fs.Parse(args)

	return withRunner(ctx, cfg, func(r *pipeline.Runner) error {
		return printReport(r.Update(ctx))
	})
}

func runRecompute(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("recompute", flag.ExitOnError)
	startStr := fs.String("start", "", "first date YYYY-MM-DD (required)")
	endStr := fs.String("end", "", "last date YYYY-MM-DD (default start)")
	fs.Parse(args)

	start, err := parseDateFlag("start", *startStr)
	if err != nil {
		return err
	}
	if start.IsZero() {
		return fmt.Errorf("-start is required")
	}
	end, err := parseDateFlag("end", *endStr)
	if err != nil {
		return err
	}
	if end.IsZero() {
		end = start
	}
	return withRunner(ctx, cfg, func(r *pipeline.Runner) error {
		return printReport(r.RunRange(ctx, start, end))
	})
}

func runShow(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("show", flag.ExitOnError)
	dateStr := fs.String("date", "", "record date YYYY-MM-DD (default latest)")
	fs.Parse(args)

	date, err := parseDateFlag("date", *dateStr)
	if err != nil {
		return err
	}
	schema := app.ProvideSchema(app.ProvideEngine(cfg))
	return withRunner(ctx, cfg, func(r *pipeline.Runner) error {
		rec, ok := r.Ledger().Latest()
		if !date.IsZero() {
			rec, ok = r.Ledger().Get(date)
		}
		if !ok {
			return fmt.Errorf("no ledger record found")
		}
		fmt.Print(renderRecord(schema.Header(), schema.Format(rec)))
		return nil
	})
}

func runStatus(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	fs.Parse(args)

	return withRunner(ctx, cfg, func(r *pipeline.Runner) error {
		st, err := r.Status(ctx)
		if err != nil {
			return err
		}
		fmt.Print(renderStatus(st))
		return nil
	})
}

func validatorFromConfig(cfg *config.Config) *validate.Validator {
	v := validate.New()
	v.MinPrice = cfg.Validation.MinPrice
	v.MinVolume = cfg.Validation.MinVolume
	v.JumpThresholdPct = cfg.Validation.JumpThresholdPct
	return v
}

func runCheck(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("check", flag.ExitOnError)
	symbol := fs.String("symbol", "", "symbol to check (required)")
	fs.Parse(args)

	if *symbol == "" {
		return fmt.Errorf("-symbol is required")
	}
	sym := strings.ToUpper(*symbol)

	s, err := app.ProvideBarStore(cfg).Series(ctx, sym)
	if err != nil {
		return fmt.Errorf("loading %s: %w", sym, err)
	}
	v := validatorFromConfig(cfg)
	issues := v.Series(s)
	issues = append(issues, v.Jumps(s)...)
	issues = append(issues, v.VolumeSpikes(s)...)
	fmt.Print(renderCheck(validate.Quality(s), issues))
	return nil
}

func runImport(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("import", flag.ExitOnError)
	dir := fs.String("dir", "", "directory of <SYMBOL>.csv files (required)")
	fs.Parse(args)

	if *dir == "" {
		return fmt.Errorf("-dir is required")
	}

	var clean func(domain.Series) domain.Series
	if cfg.Validation.DropInvalidBars {
		v := validatorFromConfig(cfg)
		clean = func(s domain.Series) domain.Series {
			out, issues := v.Clean(s)
			if len(issues) > 0 {
				slog.Warn("dropped invalid bars", "symbol", s.Symbol, "issues", len(issues))
			}
			return out
		}
	}

	n, failed, err := store.ImportCSVDir(ctx, *dir, app.ProvideBarStore(cfg), clean)
	for sym, ferr := range failed {
		slog.Warn("import skipped", "symbol", sym, "error", ferr)
	}
	slog.Info("import done", "imported", n, "failed", len(failed))
	return err
}

func runHolidays(cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("holidays", flag.ExitOnError)
	year := time.Now().Year()
	from := fs.Int("from", year-2, "first year")
	to := fs.Int("to", year+1, "last year")
	source := fs.String("source", "exchange", "holiday source: exchange or alpaca")
	fs.Parse(args)

	var src calendar.HolidaySupply
	switch *source {
	case "exchange":
		eh, err := calendar.NewExchangeHolidays(cfg.Calendar.MIC)
		if err != nil {
			return err
		}
		src = eh
	case "alpaca":
		if cfg.Alpaca.APIKey == "" {
			return fmt.Errorf("alpaca credentials are not configured")
		}
		src = calendar.NewAlpacaHolidays(cfg.Alpaca.APIKey, cfg.Alpaca.APISecret, cfg.Alpaca.BaseURL)
	default:
		return fmt.Errorf("unknown source %q", *source)
	}

	dst := calendar.NewFileHolidays(cfg.Calendar.HolidayDir)
	if err := dst.Seed(src, *from, *to); err != nil {
		return err
	}
	slog.Info("holiday files written", "dir", cfg.Calendar.HolidayDir, "from", *from, "to", *to, "source", *source)
	return nil
}
