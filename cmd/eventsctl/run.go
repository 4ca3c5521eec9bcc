package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/SwincikJr/cloud-solutions/pkg/events"
	"github.com/SwincikJr/cloud-solutions/pkg/metrics"
)

const metricsShutdownTimeout = 5 * time.Second

func run(c *cli.Context) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg, sugar, backend, err := setup(ctx, c)
	if err != nil {
		return err
	}
	defer sugar.Desugar().Sync() //nolint:errcheck // best-effort flush; ignore sync errors

	sugar.Infow("config",
		"verbose", cfg.Verbose,
		"provider", cfg.Provider,
		"awsRegion", cfg.AWS.Region,
		"awsEndpoint", cfg.AWS.Endpoint,
		"topicName", cfg.Events.TopicName,
		"prefix", cfg.Events.Prefix,
		"mode", cfg.Events.Mode,
		"queues", cfg.Queues,
		"listenInterval", cfg.Events.ListenInterval,
		"maxMessages", cfg.Events.MaxNumberOfMessages,
		"visibilityTimeout", cfg.Events.VisibilityTimeout,
		"waitTime", cfg.Events.WaitTime,
		"retryLimit", cfg.Events.RetryLimit,
		"throwError", cfg.Events.ThrowError,
		"deleteAllQueues", cfg.Events.DeleteAllQueues,
		"forwardTo", cfg.ForwardTo,
		"metricsHost", cfg.MetricsHost,
		"metricsPort", cfg.MetricsPort,
		"environment", cfg.Environment,
		"region", cfg.Region,
		"cloudProvider", cfg.CloudProvider,
	)

	registry := prometheus.NewRegistry()
	m, err := metrics.NewWithLabels(registry, metrics.Labels{
		Topic:         cfg.Events.TopicName,
		Environment:   cfg.Environment,
		Region:        cfg.Region,
		CloudProvider: cfg.CloudProvider,
	})
	if err != nil {
		return fmt.Errorf("failed to create metrics: %w", err)
	}

	e, err := events.New(backend, cfg.Events, sugar.Named("events"), m)
	if err != nil {
		return fmt.Errorf("failed to create events: %w", err)
	}

	handler := newLogHandler(sugar.Named("handler"), cfg.ForwardTo)
	err = e.InitializeWith(ctx, func(ctx context.Context, e *events.Events) error {
		return e.LoadQueue(ctx, handler, cfg.Queues...)
	})
	if errors.Is(err, events.ErrAllQueuesDeleted) {
		sugar.Infow("queues deleted", "queues", cfg.Queues)
		return nil
	}
	if err != nil {
		return err
	}

	metricsServer := metrics.NewServer(cfg.MetricsAddr(), registry, e.Ready)
	metricsErrCh := metricsServer.Start()
	sugar.Infof("metrics server started at http://%s/metrics", cfg.MetricsAddr())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return e.Start(gctx)
	})
	g.Go(func() error {
		select {
		case <-gctx.Done():
			return nil
		case err := <-metricsErrCh:
			if err != nil {
				return fmt.Errorf("metrics server failed: %w", err)
			}
			return nil
		}
	})

	sugar.Infow("consuming", "queues", e.Queues())
	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		sugar.Infow("exiting due to context cancellation")
		err = nil
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), metricsShutdownTimeout)
	defer shutdownCancel()
	if shutdownErr := metricsServer.Shutdown(shutdownCtx); shutdownErr != nil {
		sugar.Warnw("failed to shutdown metrics server", "error", shutdownErr)
	}

	if err != nil {
		return fmt.Errorf("consumer stopped: %w", err)
	}
	sugar.Info("consumer stopped")
	return nil
}

// newLogHandler logs every message it receives and, when forwardTo is set,
// sends the raw body on to that queue before acknowledging.
func newLogHandler(log *zap.SugaredLogger, forwardTo string) events.Handler {
	return func(ctx context.Context, msg *events.Message) error {
		log.Infow("message received",
			"queue", msg.Queue,
			"id", msg.ID,
			"body", msg.Raw,
			"attributes", msg.Attributes,
		)
		if forwardTo == "" {
			return nil
		}
		if err := msg.Producer.SendToQueue(ctx, forwardTo, msg.Raw); err != nil {
			return fmt.Errorf("failed to forward message %s to %s: %w", msg.ID, forwardTo, err)
		}
		return nil
	}
}
