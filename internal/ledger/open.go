package ledger

import (
	"context"
	"fmt"

	"mbi/internal/breadth"
	"mbi/internal/config"
)

// NewBackend builds the backend selected by cfg.Storage.LedgerBackend.
func NewBackend(ctx context.Context, cfg *config.Config, schema breadth.Schema) (Backend, error) {
	switch cfg.Storage.LedgerBackend {
	case "", "csv":
		return NewCSVBackend(cfg.Storage.LedgerPath, schema), nil
	case "sqlite":
		return NewSQLBackend(ctx, DriverSQLite, cfg.Storage.SQLitePath)
	case "postgres":
		return NewSQLBackend(ctx, DriverPostgres, cfg.Storage.PostgresDSN)
	default:
		return nil, fmt.Errorf("unknown ledger backend %q", cfg.Storage.LedgerBackend)
	}
}

// OpenFromConfig opens the configured backend and loads the ledger.
func OpenFromConfig(ctx context.Context, cfg *config.Config, schema breadth.Schema) (*Ledger, error) {
	b, err := NewBackend(ctx, cfg, schema)
	if err != nil {
		return nil, err
	}
	l, err := Open(ctx, b)
	if err != nil {
		b.Close()
		return nil, err
	}
	return l, nil
}
