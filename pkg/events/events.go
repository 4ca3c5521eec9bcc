package events

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/SwincikJr/cloud-solutions/pkg/metrics"
	"github.com/SwincikJr/cloud-solutions/pkg/queue"
)

// Loader registers queues once the topic exists. It runs inside
// InitializeWith, before the consumer loop can start.
type Loader func(ctx context.Context, e *Events) error

// Events wires the Provisioner, Publisher, Consumer and Dispatcher of one
// topic together.
type Events struct {
	opts    Options
	attrs   modeAttributes
	backend queue.Backend
	log     *zap.SugaredLogger

	provisioner *Provisioner
	publisher   *Publisher
	dispatcher  *Dispatcher
	consumer    *Consumer

	mu    sync.RWMutex
	topic queue.TopicRef
}

var _ Producer = (*Events)(nil)

// New fills the unset fields of a bare opts literal from DefaultOptions,
// validates the result and builds the pipeline. Options derived from
// DefaultOptions or LoadOptions are taken as they are. m may be nil to
// disable metrics.
func New(backend queue.Backend, opts Options, log *zap.SugaredLogger, m *metrics.Metrics, options ...ConsumerOption) (*Events, error) {
	opts = opts.withDefaults()
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	e := &Events{
		opts:    opts,
		attrs:   opts.Mode.attributes(opts),
		backend: backend,
		log:     log,
	}
	e.provisioner = NewProvisioner(backend, opts, log.Named("provisioner"), m)
	e.publisher = NewPublisher(backend, e.provisioner, opts, log.Named("publisher"), m)
	e.dispatcher = NewDispatcher(backend, opts, e, log.Named("dispatcher"), m)
	e.consumer = NewConsumer(backend, e.dispatcher, opts, log.Named("consumer"), m, options...)
	return e, nil
}

// Options returns the effective options.
func (e *Events) Options() Options {
	return e.opts
}

// TopicName returns the provider topic name, including the FIFO suffix.
func (e *Events) TopicName() string {
	return e.attrs.topicName
}

// Topic returns the topic reference, or an empty ref before Initialize.
func (e *Events) Topic() queue.TopicRef {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.topic
}

// Initialize ensures the topic exists.
func (e *Events) Initialize(ctx context.Context) error {
	return e.InitializeWith(ctx, nil)
}

// InitializeWith ensures the topic exists and then runs loader. In
// DeleteAllQueues mode it returns ErrAllQueuesDeleted once loader is done so
// the caller does not go on to start consuming.
func (e *Events) InitializeWith(ctx context.Context, loader Loader) error {
	ref, err := e.provisioner.EnsureTopic(ctx, e.attrs.topicName, e.attrs.topic)
	if err != nil {
		return fmt.Errorf("failed to initialize events: %w", err)
	}

	e.mu.Lock()
	e.topic = ref
	e.mu.Unlock()
	e.log.Infow("events initialized", "topic", e.attrs.topicName, "ref", ref, "mode", e.opts.Mode)

	if loader != nil {
		if err := loader(ctx, e); err != nil {
			return err
		}
	}
	if e.opts.DeleteAllQueues {
		return ErrAllQueuesDeleted
	}
	return nil
}

// LoadQueue ensures each named queue exists, subscribes it to the topic and
// registers h to consume it. In DeleteAllQueues mode the queues are deleted
// instead.
func (e *Events) LoadQueue(ctx context.Context, h Handler, names ...string) error {
	topic := e.Topic()
	if topic == "" && !e.opts.DeleteAllQueues {
		return ErrNotInitialized
	}

	for _, n := range names {
		name := FormatQueueName(n, e.opts.Prefix, e.opts.Mode)
		if e.opts.DeleteAllQueues {
			if err := e.provisioner.DeleteQueue(ctx, name); err != nil {
				return err
			}
			continue
		}

		ref, err := e.provisioner.EnsureQueue(ctx, name, e.attrs.queue)
		if err != nil {
			return err
		}
		if _, err := e.provisioner.Subscribe(ctx, ref, topic); err != nil {
			return err
		}
		e.consumer.Register(name, ref, h)
		e.log.Infow("queue loaded", "queue", name, "ref", ref)
	}
	return nil
}

// SendToQueue sends payload to the queue called name.
func (e *Events) SendToQueue(ctx context.Context, name string, payload any, opts ...SendOption) error {
	return e.publisher.Send(ctx, name, payload, opts...)
}

// Publish sends payload to the topic.
func (e *Events) Publish(ctx context.Context, payload any, opts ...SendOption) error {
	return e.publisher.Publish(ctx, payload, opts...)
}

// DeleteQueue deletes the queue called name. A missing queue is ignored.
func (e *Events) DeleteQueue(ctx context.Context, name string) error {
	return e.provisioner.DeleteQueue(ctx, FormatQueueName(name, e.opts.Prefix, e.opts.Mode))
}

// DeleteTopic deletes the topic. A missing topic is ignored.
func (e *Events) DeleteTopic(ctx context.Context) error {
	if err := e.provisioner.DeleteTopic(ctx, e.attrs.topicName); err != nil {
		return err
	}
	e.mu.Lock()
	e.topic = ""
	e.mu.Unlock()
	return nil
}

// Start runs the consumer loop until ctx is cancelled.
func (e *Events) Start(ctx context.Context) error {
	if e.Topic() == "" {
		return ErrNotInitialized
	}
	return e.consumer.Start(ctx)
}

// Ready reports whether the topic is provisioned and the consumer is running.
func (e *Events) Ready() bool {
	return e.Topic() != "" && e.consumer.Running()
}

// Queues returns the names of the queues being consumed.
func (e *Events) Queues() []string {
	return e.consumer.Queues()
}
