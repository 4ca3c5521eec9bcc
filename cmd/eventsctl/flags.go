package main

import (
	"time"

	"github.com/urfave/cli/v2"

	"github.com/SwincikJr/cloud-solutions/pkg/events"
)

// commonFlags returns the flags shared by every command
func commonFlags() []cli.Flag {
	return []cli.Flag{
		&cli.BoolFlag{
			Name:    "verbose",
			Aliases: []string{"v"},
			Usage:   "Enable verbose logging",
			EnvVars: []string{"VERBOSE"},
			Value:   false,
		},
		&cli.StringFlag{
			Name:    "log-level",
			Usage:   "Log level when not verbose (debug, info, warn, error)",
			EnvVars: []string{"LOG_LEVEL"},
			Value:   "info",
		},
		&cli.StringFlag{
			Name:    "provider",
			Aliases: []string{"p"},
			Usage:   "Queue provider (aws or local)",
			EnvVars: []string{"EVENTS_PROVIDER"},
			Value:   providerAWS,
		},
		&cli.StringFlag{
			Name:    "aws-region",
			Usage:   "AWS region for SNS and SQS",
			EnvVars: []string{"AWS_REGION"},
		},
		&cli.StringFlag{
			Name:    "aws-endpoint",
			Usage:   "Endpoint override for SNS and SQS (e.g., LocalStack)",
			EnvVars: []string{"EVENTS_AWS_ENDPOINT"},
		},
		&cli.StringFlag{
			Name:     "topic-name",
			Aliases:  []string{"t"},
			Usage:    "The topic every queue subscribes to",
			EnvVars:  []string{"EVENTS_TOPIC_NAME"},
			Required: true,
		},
		&cli.StringFlag{
			Name:    "prefix",
			Usage:   "Prefix prepended to queue names",
			EnvVars: []string{"EVENTS_PREFIX"},
		},
		&cli.StringFlag{
			Name:    "mode",
			Usage:   "Delivery mode (standard or fifo)",
			EnvVars: []string{"EVENTS_MODE"},
			Value:   events.ModeStandard.String(),
		},
		&cli.StringSliceFlag{
			Name:  "topic-attribute",
			Usage: "Topic attribute applied on creation, as Key=Value (repeatable)",
		},
		&cli.StringSliceFlag{
			Name:  "queue-attribute",
			Usage: "Queue attribute applied on creation, as Key=Value (repeatable)",
		},
	}
}

// retryFlags returns the send retry flags
func retryFlags() []cli.Flag {
	return []cli.Flag{
		&cli.IntFlag{
			Name:    "retry-limit",
			Usage:   "Send retries after the first failed attempt",
			EnvVars: []string{"EVENTS_RETRY_LIMIT"},
			Value:   events.DefaultRetryLimit,
		},
		&cli.DurationFlag{
			Name:    "retry-interval",
			Usage:   "Delay between send attempts",
			EnvVars: []string{"EVENTS_RETRY_INTERVAL"},
			Value:   events.DefaultRetryInterval,
		},
	}
}

// producerFlags returns the flags of the commands that send messages
func producerFlags() []cli.Flag {
	return append(append(commonFlags(), retryFlags()...),
		&cli.StringFlag{
			Name:    "data",
			Aliases: []string{"d"},
			Usage:   "Payload to send; JSON objects and arrays are sent as is. Reads stdin when '-'",
		},
		&cli.StringSliceFlag{
			Name:  "send-attribute",
			Usage: "Send attribute such as MessageDeduplicationId, as Key=Value (repeatable)",
		},
	)
}

// runFlags returns all CLI flags for the run command. The retry flags apply
// to messages forwarded with --forward-to.
func runFlags() []cli.Flag {
	return append(append(commonFlags(), retryFlags()...),
		&cli.StringSliceFlag{
			Name:     "queue",
			Aliases:  []string{"q"},
			Usage:    "Queue to consume (repeatable or comma-separated)",
			EnvVars:  []string{"EVENTS_QUEUES"},
			Required: true,
		},
		&cli.DurationFlag{
			Name:    "listen-interval",
			Usage:   "Sleep between fetch sweeps",
			EnvVars: []string{"EVENTS_LISTEN_INTERVAL"},
			Value:   events.DefaultListenInterval,
		},
		&cli.IntFlag{
			Name:    "max-messages",
			Aliases: []string{"c"},
			Usage:   "Messages fetched per queue and handled concurrently per pass",
			EnvVars: []string{"EVENTS_MAX_NUMBER_OF_MESSAGES"},
			Value:   events.DefaultMaxNumberOfMessages,
		},
		&cli.DurationFlag{
			Name:    "visibility-timeout",
			Usage:   "How long a received message stays hidden",
			EnvVars: []string{"EVENTS_VISIBILITY_TIMEOUT"},
			Value:   events.DefaultVisibilityTimeout,
		},
		&cli.DurationFlag{
			Name:    "wait-time",
			Usage:   "Long-poll wait per receive call",
			EnvVars: []string{"EVENTS_WAIT_TIME"},
		},
		&cli.BoolFlag{
			Name:    "throw-error",
			Usage:   "Stop consuming when a handler fails",
			EnvVars: []string{"EVENTS_THROW_ERROR"},
		},
		&cli.BoolFlag{
			Name:    "delete-all-queues",
			Usage:   "Delete the given queues instead of consuming them, then exit",
			EnvVars: []string{"EVENTS_DELETE_ALL_QUEUES"},
		},
		&cli.StringFlag{
			Name:    "forward-to",
			Usage:   "Forward every consumed message to this queue instead of only logging it",
			EnvVars: []string{"EVENTS_FORWARD_TO"},
		},
		&cli.StringFlag{
			Name:    "metrics-host",
			Usage:   "Host for Prometheus metrics server (empty for all interfaces)",
			EnvVars: []string{"METRICS_HOST"},
			Value:   "",
		},
		&cli.IntFlag{
			Name:    "metrics-port",
			Aliases: []string{"m"},
			Usage:   "Port for Prometheus metrics server",
			EnvVars: []string{"METRICS_PORT"},
			Value:   9090,
		},
		&cli.StringFlag{
			Name:    "environment",
			Aliases: []string{"E"},
			Usage:   "Deployment environment for metrics labels (e.g., 'production', 'staging')",
			EnvVars: []string{"ENVIRONMENT"},
			Value:   "",
		},
		&cli.StringFlag{
			Name:    "region",
			Aliases: []string{"R"},
			Usage:   "Cloud region for metrics labels (e.g., 'us-east-1')",
			EnvVars: []string{"REGION"},
			Value:   "",
		},
		&cli.StringFlag{
			Name:    "cloud-provider",
			Aliases: []string{"C"},
			Usage:   "Cloud provider for metrics labels (e.g., 'aws', 'oci', 'gcp')",
			EnvVars: []string{"CLOUD_PROVIDER"},
			Value:   "",
		},
	)
}

// publishFlags returns all CLI flags for the publish command
func publishFlags() []cli.Flag {
	return producerFlags()
}

// sendFlags returns all CLI flags for the send command
func sendFlags() []cli.Flag {
	return append(producerFlags(),
		&cli.StringSliceFlag{
			Name:     "queue",
			Aliases:  []string{"q"},
			Usage:    "Destination queue (repeatable or comma-separated)",
			Required: true,
		},
	)
}

// removeFlags returns all CLI flags for the remove command
func removeFlags() []cli.Flag {
	return append(commonFlags(),
		&cli.StringSliceFlag{
			Name:    "queue",
			Aliases: []string{"q"},
			Usage:   "Queue to delete (repeatable or comma-separated)",
		},
		&cli.BoolFlag{
			Name:  "delete-topic",
			Usage: "Also delete the topic",
		},
		&cli.DurationFlag{
			Name:  "timeout",
			Usage: "Overall timeout for the removal",
			Value: 30 * time.Second,
		},
	)
}
