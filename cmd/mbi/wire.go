//go:build wireinject
// +build wireinject

package main

import (
	"context"

	"github.com/google/wire"

	"mbi/internal/app"
	"mbi/internal/config"
	"mbi/internal/pipeline"
)

// InitializeRunner builds the pipeline runner via Wire.
func InitializeRunner(ctx context.Context, cfg *config.Config) (*pipeline.Runner, func(), error) {
	wire.Build(app.PipelineSet)
	return nil, nil, nil
}
