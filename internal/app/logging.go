package app

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"mbi/internal/config"
	"mbi/internal/util"
)

// SetupLogging installs the default logger. Output goes to stdout and, when
// cfg.Logging.File is set, to that file as well. A "{date}" placeholder in
// the file name expands to today's date. The returned func closes the file.
func SetupLogging(cfg *config.Config) (func(), error) {
	var w io.Writer = os.Stdout
	closeFn := func() {}

	if name := cfg.Logging.File; name != "" {
		name = strings.ReplaceAll(name, "{date}", time.Now().Format("2006-01-02"))
		if err := os.MkdirAll(filepath.Dir(name), 0o755); err != nil {
			return closeFn, fmt.Errorf("creating log dir: %w", err)
		}
		f, err := os.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return closeFn, fmt.Errorf("opening log file: %w", err)
		}
		w = io.MultiWriter(os.Stdout, f)
		closeFn = func() { f.Close() }
	}

	util.SetDefault(util.NewLogger(cfg.Logging.Level, cfg.Logging.Format, w))
	return closeFn, nil
}

// ConfigPath returns $MBI_CONFIG, or config/mbi.yaml when unset.
func ConfigPath() string {
	if p := os.Getenv("MBI_CONFIG"); p != "" {
		return p
	}
	return "config/mbi.yaml"
}
