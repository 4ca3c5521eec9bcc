package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/SwincikJr/cloud-solutions/pkg/events"
)

func send(c *cli.Context) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg, sugar, backend, err := setup(ctx, c)
	if err != nil {
		return err
	}
	defer sugar.Desugar().Sync() //nolint:errcheck // best-effort flush; ignore sync errors

	payload, err := parsePayload(cfg.Data, os.Stdin)
	if err != nil {
		return err
	}

	e, err := events.New(backend, cfg.Events, sugar.Named("events"), nil)
	if err != nil {
		return fmt.Errorf("failed to create events: %w", err)
	}

	for _, q := range cfg.Queues {
		if err := e.SendToQueue(ctx, q, payload, events.WithRetry(cfg.Events.RetryLimit)); err != nil {
			return fmt.Errorf("failed to send to %s: %w", q, err)
		}
		sugar.Infow("sent", "queue", events.FormatQueueName(q, cfg.Events.Prefix, cfg.Events.Mode))
	}
	return nil
}
