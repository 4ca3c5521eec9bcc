package events

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/SwincikJr/cloud-solutions/pkg/metrics"
	"github.com/SwincikJr/cloud-solutions/pkg/queue"
)

// Consumer polls every registered queue, buffers what it receives and drains
// the buffer through a Dispatcher with at most MaxNumberOfMessages handlers
// running per pass.
type Consumer struct {
	backend    queue.Backend
	dispatcher *Dispatcher
	log        *zap.SugaredLogger
	metrics    *metrics.Metrics

	listenInterval time.Duration
	maxMessages    int
	receive        queue.ReceiveParams
	retry          RetryPolicy
	now            func() time.Time

	mu   sync.Mutex
	regs []registration

	running atomic.Bool
}

// ConsumerOption customizes a Consumer.
type ConsumerOption func(*Consumer)

// WithFetchRetry replaces the policy applied to failed receives. The default
// retries every ListenInterval and never gives up.
func WithFetchRetry(p RetryPolicy) ConsumerOption {
	return func(c *Consumer) {
		c.retry = p
	}
}

// NewConsumer creates a Consumer.
func NewConsumer(
	backend queue.Backend,
	dispatcher *Dispatcher,
	opts Options,
	log *zap.SugaredLogger,
	m *metrics.Metrics,
	options ...ConsumerOption,
) *Consumer {
	c := &Consumer{
		backend:        backend,
		dispatcher:     dispatcher,
		log:            log,
		metrics:        m,
		listenInterval: opts.ListenInterval,
		maxMessages:    opts.MaxNumberOfMessages,
		receive: queue.ReceiveParams{
			MaxMessages:       opts.MaxNumberOfMessages,
			VisibilityTimeout: opts.VisibilityTimeout,
			WaitTime:          opts.WaitTime,
		},
		retry: ConstantBackoff{Delay: opts.ListenInterval, MaxRetries: Forever},
		now:   time.Now,
	}
	for _, o := range options {
		o(c)
	}
	return c
}

// Register adds a queue to the polling set. Queues registered while the loop
// runs are picked up on the next sweep.
func (c *Consumer) Register(name string, ref queue.QueueRef, h Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.regs = append(c.regs, registration{name: name, ref: ref, handler: h})
}

// Queues returns the names of the registered queues in registration order.
func (c *Consumer) Queues() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	names := make([]string, len(c.regs))
	for i, r := range c.regs {
		names[i] = r.name
	}
	return names
}

// Running reports whether Start is executing.
func (c *Consumer) Running() bool {
	return c.running.Load()
}

// Start runs the poll and drain loop until ctx is cancelled, in which case it
// returns nil. It returns a HandlerError only when the dispatcher throws.
//
// Messages still buffered when ctx is cancelled are left unsettled and come
// back once their visibility timeout expires.
func (c *Consumer) Start(ctx context.Context) error {
	c.running.Store(true)
	defer c.running.Store(false)
	defer c.dispatcher.Wait()

	c.log.Infow("consumer started",
		"queues", c.Queues(),
		"listenInterval", c.listenInterval,
		"maxMessages", c.maxMessages,
	)

	state := &consumerState{}
	for {
		if err := sleep(ctx, c.listenInterval); err != nil {
			c.log.Info("consumer stopped")
			return nil
		}

		if err := c.fetchAll(ctx, state); err != nil {
			c.log.Info("consumer stopped")
			return nil
		}

		for state.len() > 0 {
			if err := c.drain(ctx, state); err != nil {
				c.log.Errorw("consumer stopped by handler error", "error", err)
				return err
			}
			if ctx.Err() != nil {
				c.log.Infow("consumer stopped", "unsettled", state.len())
				return nil
			}
		}
	}
}

// fetchAll receives from every registered queue in order. It only fails when
// ctx is cancelled.
func (c *Consumer) fetchAll(ctx context.Context, state *consumerState) error {
	c.mu.Lock()
	regs := make([]registration, len(c.regs))
	copy(regs, c.regs)
	c.mu.Unlock()

	c.metrics.RecordFetchSweep()
	for _, reg := range regs {
		if err := c.fetch(ctx, state, reg); err != nil {
			return err
		}
	}
	c.metrics.SetBufferSize(state.len())
	return nil
}

func (c *Consumer) fetch(ctx context.Context, state *consumerState, reg registration) error {
	for attempt := 1; ; attempt++ {
		msgs, err := c.backend.Receive(ctx, reg.ref, c.receive)
		if err == nil {
			receivedAt := c.now()
			for _, raw := range msgs {
				state.push(inFlightMessage{
					queue:      reg.name,
					ref:        reg.ref,
					handler:    reg.handler,
					raw:        raw,
					receivedAt: receivedAt,
				})
			}
			if len(msgs) > 0 {
				c.log.Debugw("received messages", "queue", reg.name, "count", len(msgs))
				c.metrics.RecordMessagesReceived(reg.name, len(msgs))
			}
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		ferr := &FetchError{Queue: reg.name, Err: err}
		c.metrics.RecordFetchError(reg.name)

		delay, retry := c.retry.Next(attempt, ferr)
		if !retry {
			c.log.Errorw("giving up on queue for this sweep", "queue", reg.name, "attempts", attempt, "error", ferr)
			return nil
		}
		c.log.Warnw("failed to fetch messages, retrying", "queue", reg.name, "attempt", attempt, "delay", delay, "error", err)
		if err := sleep(ctx, delay); err != nil {
			return err
		}
	}
}

// drain runs one pass: up to maxMessages buffered messages are dispatched
// concurrently and all of them are awaited before it returns.
func (c *Consumer) drain(ctx context.Context, state *consumerState) error {
	state.slots = c.maxMessages

	var g errgroup.Group
	dispatched := 0
	for state.len() > 0 && state.take() {
		m, _ := state.pop()
		dispatched++
		g.Go(func() error {
			return c.dispatcher.Dispatch(ctx, m)
		})
	}

	c.metrics.RecordDrainPass(dispatched)
	c.metrics.SetBufferSize(state.len())
	return g.Wait()
}
