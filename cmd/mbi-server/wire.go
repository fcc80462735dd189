//go:build wireinject
// +build wireinject

package main

import (
	"context"

	"github.com/google/wire"

	"mbi/internal/app"
	"mbi/internal/config"
)

// InitializeDaemon builds the daemon via Wire. The cleanup closes the
// ledger backend and the publisher.
func InitializeDaemon(ctx context.Context, cfg *config.Config) (*app.Daemon, func(), error) {
	wire.Build(app.DaemonSet)
	return nil, nil, nil
}
