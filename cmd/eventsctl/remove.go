package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/SwincikJr/cloud-solutions/pkg/events"
)

func remove(c *cli.Context) error {
	cfg, err := buildConfig(c)
	if err != nil {
		return fmt.Errorf("failed to build config: %w", err)
	}
	if len(cfg.Queues) == 0 && !cfg.DeleteTopic {
		return fmt.Errorf("nothing to remove: pass --queue or --delete-topic")
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancel()

	sugar, err := newLogger(cfg)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer sugar.Desugar().Sync() //nolint:errcheck // best-effort flush; ignore sync errors

	backend, err := newBackend(ctx, cfg, sugar)
	if err != nil {
		return err
	}

	e, err := events.New(backend, cfg.Events, sugar.Named("events"), nil)
	if err != nil {
		return fmt.Errorf("failed to create events: %w", err)
	}

	for _, q := range cfg.Queues {
		if err := e.DeleteQueue(ctx, q); err != nil {
			return fmt.Errorf("failed to delete queue %s: %w", q, err)
		}
		sugar.Infow("queue removed", "queue", q)
	}

	if cfg.DeleteTopic {
		if err := e.DeleteTopic(ctx); err != nil {
			return fmt.Errorf("failed to delete topic: %w", err)
		}
		sugar.Infow("topic removed", "topic", e.TopicName())
	}
	return nil
}
