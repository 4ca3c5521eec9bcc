package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/SwincikJr/cloud-solutions/pkg/events"
	"github.com/SwincikJr/cloud-solutions/pkg/queue"
	"github.com/SwincikJr/cloud-solutions/pkg/queue/memory"
	"github.com/SwincikJr/cloud-solutions/pkg/queue/sqs"
)

const (
	providerAWS   = "aws"
	providerLocal = "local"
)

// Config holds all configuration for the eventsctl commands
type Config struct {
	// Application settings
	Verbose  bool
	LogLevel string

	// Backend settings
	Provider string
	AWS      sqs.Config

	// Events settings
	Events events.Options

	// Command settings
	Queues      []string
	ForwardTo   string
	Data        string
	DeleteTopic bool
	Timeout     time.Duration

	// Metrics settings
	MetricsHost   string
	MetricsPort   int
	Environment   string
	Region        string
	CloudProvider string
}

// MetricsAddr returns the formatted metrics address
func (c *Config) MetricsAddr() string {
	return fmt.Sprintf("%s:%d", c.MetricsHost, c.MetricsPort)
}

// buildConfig builds a Config from CLI context flags. Events options start
// from the EVENTS_* environment and explicit flags take precedence.
func buildConfig(c *cli.Context) (*Config, error) {
	opts, err := events.LoadOptions()
	if err != nil {
		return nil, err
	}

	opts.TopicName = c.String("topic-name")
	if c.IsSet("prefix") {
		opts.Prefix = c.String("prefix")
	}
	if c.IsSet("mode") {
		if err := opts.Mode.UnmarshalText([]byte(c.String("mode"))); err != nil {
			return nil, fmt.Errorf("invalid mode: %w", err)
		}
	}
	setDuration(c, "listen-interval", &opts.ListenInterval)
	setDuration(c, "visibility-timeout", &opts.VisibilityTimeout)
	setDuration(c, "wait-time", &opts.WaitTime)
	setDuration(c, "retry-interval", &opts.RetryInterval)
	setInt(c, "max-messages", &opts.MaxNumberOfMessages)
	setInt(c, "retry-limit", &opts.RetryLimit)
	if c.IsSet("throw-error") {
		opts.ThrowError = c.Bool("throw-error")
	}
	if c.IsSet("delete-all-queues") {
		opts.DeleteAllQueues = c.Bool("delete-all-queues")
	}

	attrs := []struct {
		flag string
		dst  *map[string]string
	}{
		{"topic-attribute", &opts.TopicAttributes},
		{"queue-attribute", &opts.QueueAttributes},
		{"send-attribute", &opts.SendAttributes},
	}
	for _, a := range attrs {
		if !c.IsSet(a.flag) {
			continue
		}
		parsed, err := parseAttributes(c.StringSlice(a.flag))
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", a.flag, err)
		}
		if *a.dst == nil {
			*a.dst = make(map[string]string, len(parsed))
		}
		for k, v := range parsed {
			(*a.dst)[k] = v
		}
	}

	if err := opts.Validate(); err != nil {
		return nil, err
	}

	return &Config{
		Verbose:  c.Bool("verbose"),
		LogLevel: c.String("log-level"),
		Provider: c.String("provider"),
		AWS: sqs.Config{
			Region:   c.String("aws-region"),
			Endpoint: c.String("aws-endpoint"),
		},
		Events:        opts,
		Queues:        splitList(c.StringSlice("queue")),
		ForwardTo:     c.String("forward-to"),
		Data:          c.String("data"),
		DeleteTopic:   c.Bool("delete-topic"),
		Timeout:       c.Duration("timeout"),
		MetricsHost:   c.String("metrics-host"),
		MetricsPort:   c.Int("metrics-port"),
		Environment:   c.String("environment"),
		Region:        c.String("region"),
		CloudProvider: c.String("cloud-provider"),
	}, nil
}

func setDuration(c *cli.Context, name string, dst *time.Duration) {
	if c.IsSet(name) {
		*dst = c.Duration(name)
	}
}

func setInt(c *cli.Context, name string, dst *int) {
	if c.IsSet(name) {
		*dst = c.Int(name)
	}
}

// splitList flattens comma-separated entries and drops blanks
func splitList(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// parseAttributes turns Key=Value pairs into a map
func parseAttributes(pairs []string) (map[string]string, error) {
	out := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		k, v, ok := strings.Cut(pair, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("attribute %q is not in Key=Value form", pair)
		}
		out[k] = strings.TrimSpace(v)
	}
	return out, nil
}

// newBackend builds the queue backend selected by cfg.Provider
func newBackend(ctx context.Context, cfg *Config, log *zap.SugaredLogger) (queue.Backend, error) {
	switch cfg.Provider {
	case providerLocal:
		return memory.New(), nil
	case providerAWS:
		sqsClient, snsClient, err := sqs.LoadClients(ctx, cfg.AWS)
		if err != nil {
			return nil, fmt.Errorf("failed to create aws clients: %w", err)
		}
		if cfg.Events.MaxNumberOfMessages > sqs.MaxReceiveMessages {
			log.Warnw("max messages exceeds the SQS receive limit; receives are capped",
				"maxMessages", cfg.Events.MaxNumberOfMessages,
				"limit", sqs.MaxReceiveMessages,
			)
		}
		return sqs.New(sqsClient, snsClient, log.Named("sqs")), nil
	default:
		return nil, fmt.Errorf("unknown provider %q (want %s or %s)", cfg.Provider, providerAWS, providerLocal)
	}
}

// parsePayload returns data as JSON when it is a JSON document, and as a
// plain string otherwise. "-" reads the payload from stdin.
func parsePayload(data string, stdin io.Reader) (any, error) {
	if data == "-" {
		b, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("failed to read payload from stdin: %w", err)
		}
		data = string(b)
	}
	trimmed := strings.TrimSpace(data)
	if trimmed != "" && (trimmed[0] == '{' || trimmed[0] == '[') && json.Valid([]byte(trimmed)) {
		return json.RawMessage(trimmed), nil
	}
	return data, nil
}
