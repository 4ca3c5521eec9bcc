package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"time"

	"go.uber.org/zap"

	"github.com/SwincikJr/cloud-solutions/pkg/metrics"
	"github.com/SwincikJr/cloud-solutions/pkg/queue"
)

// SendOption customizes a single Send or Publish call.
type SendOption func(*sendOptions)

type sendOptions struct {
	retries int
	prefix  string
	attrs   map[string]string
}

// WithRetry sets how many times a failed send is retried after the first
// attempt. It overrides Options.RetryLimit for one call.
func WithRetry(n int) SendOption {
	return func(o *sendOptions) {
		if n >= 0 {
			o.retries = n
		}
	}
}

// WithPrefix formats the destination queue name with prefix instead of the
// configured one.
func WithPrefix(prefix string) SendOption {
	return func(o *sendOptions) {
		o.prefix = prefix
	}
}

// WithAttributes adds provider send attributes for one call. They take
// precedence over Options.SendAttributes.
func WithAttributes(attrs map[string]string) SendOption {
	return func(o *sendOptions) {
		o.attrs = mergeAttrs(o.attrs, attrs)
	}
}

// Publisher sends payloads to queues and to the topic with a fixed delay
// between attempts.
type Publisher struct {
	backend     queue.Backend
	provisioner *Provisioner
	log         *zap.SugaredLogger
	metrics     *metrics.Metrics

	mode          Mode
	prefix        string
	attrs         modeAttributes
	retryInterval time.Duration
	retryLimit    int
}

// NewPublisher creates a Publisher that resolves destinations through
// provisioner.
func NewPublisher(backend queue.Backend, provisioner *Provisioner, opts Options, log *zap.SugaredLogger, m *metrics.Metrics) *Publisher {
	return &Publisher{
		backend:       backend,
		provisioner:   provisioner,
		log:           log,
		metrics:       m,
		mode:          opts.Mode,
		prefix:        opts.prefix(),
		attrs:         opts.Mode.attributes(opts),
		retryInterval: opts.RetryInterval,
		retryLimit:    opts.RetryLimit,
	}
}

func (p *Publisher) sendOptions(opts []SendOption) sendOptions {
	so := sendOptions{retries: p.retryLimit, prefix: p.prefix}
	for _, o := range opts {
		o(&so)
	}
	return so
}

// Send delivers payload to the queue called name, creating the queue when it
// does not exist yet.
func (p *Publisher) Send(ctx context.Context, name string, payload any, opts ...SendOption) error {
	so := p.sendOptions(opts)
	queueName := FormatQueueName(name, so.prefix, p.mode)

	body, err := encodePayload(payload)
	if err != nil {
		return fmt.Errorf("failed to encode payload for %s: %w", queueName, err)
	}
	attrs := mergeAttrs(p.attrs.send, so.attrs)

	return p.withRetry(ctx, queueName, so.retries, func(ctx context.Context) error {
		ref, err := p.provisioner.EnsureQueue(ctx, queueName, p.attrs.queue)
		if err != nil {
			return err
		}
		return p.backend.Send(ctx, ref, body, attrs)
	})
}

// Publish delivers payload to the topic, which fans it out to every
// subscribed queue.
func (p *Publisher) Publish(ctx context.Context, payload any, opts ...SendOption) error {
	so := p.sendOptions(opts)
	topicName := p.attrs.topicName

	body, err := encodePayload(payload)
	if err != nil {
		return fmt.Errorf("failed to encode payload for %s: %w", topicName, err)
	}
	attrs := mergeAttrs(p.attrs.send, so.attrs)

	return p.withRetry(ctx, topicName, so.retries, func(ctx context.Context) error {
		ref, err := p.provisioner.EnsureTopic(ctx, topicName, p.attrs.topic)
		if err != nil {
			return err
		}
		return p.backend.Publish(ctx, ref, body, attrs)
	})
}

func (p *Publisher) withRetry(ctx context.Context, dest string, retries int, send func(context.Context) error) error {
	for attempt := 1; ; attempt++ {
		err := send(ctx)
		p.metrics.RecordPublishAttempt(dest, err)
		if err == nil {
			p.log.Debugw("message sent", "destination", dest, "attempt", attempt)
			return nil
		}

		if attempt > retries {
			p.log.Errorw("failed to send message", "destination", dest, "attempts", attempt, "error", err)
			p.metrics.RecordPublishFailure(dest)
			return &PublishError{Queue: dest, Attempts: attempt, Err: err}
		}

		p.log.Warnw("retrying send", "destination", dest, "attempt", attempt, "retryInterval", p.retryInterval, "error", err)
		if serr := sleep(ctx, p.retryInterval); serr != nil {
			p.metrics.RecordPublishFailure(dest)
			return &PublishError{Queue: dest, Attempts: attempt, Err: errors.Join(err, serr)}
		}
	}
}

// encodePayload renders payload as a message body. Composite values are JSON
// encoded, scalars are formatted, and an absent payload becomes "{}".
func encodePayload(payload any) (string, error) {
	switch v := payload.(type) {
	case nil:
		return emptyBody, nil
	case string:
		if v == "" {
			return emptyBody, nil
		}
		return v, nil
	case []byte:
		if len(v) == 0 {
			return emptyBody, nil
		}
		return string(v), nil
	case json.RawMessage:
		if len(v) == 0 {
			return emptyBody, nil
		}
		return string(v), nil
	}

	switch reflect.ValueOf(payload).Kind() {
	case reflect.Struct, reflect.Map, reflect.Slice, reflect.Array, reflect.Pointer, reflect.Interface:
		b, err := json.Marshal(payload)
		if err != nil {
			return "", err
		}
		return string(b), nil
	default:
		return fmt.Sprint(payload), nil
	}
}
