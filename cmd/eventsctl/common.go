package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/SwincikJr/cloud-solutions/pkg/queue"
	"github.com/SwincikJr/cloud-solutions/pkg/utils"
)

// newLogger returns a development logger when verbose, otherwise a
// production logger at the configured level
func newLogger(cfg *Config) (*zap.SugaredLogger, error) {
	if cfg.Verbose {
		return utils.NewSugaredLogger(true)
	}
	return utils.NewLeveledLogger(cfg.LogLevel)
}

// setup builds the config, logger and backend every command needs. The
// caller owns the logger and must sync it.
func setup(ctx context.Context, c *cli.Context) (*Config, *zap.SugaredLogger, queue.Backend, error) {
	cfg, err := buildConfig(c)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to build config: %w", err)
	}

	sugar, err := newLogger(cfg)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to create logger: %w", err)
	}

	backend, err := newBackend(ctx, cfg, sugar)
	if err != nil {
		sugar.Desugar().Sync() //nolint:errcheck // best-effort flush; ignore sync errors
		return nil, nil, nil, err
	}
	return cfg, sugar, backend, nil
}
