package events

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/SwincikJr/cloud-solutions/pkg/metrics"
	"github.com/SwincikJr/cloud-solutions/pkg/queue"
)

const (
	resourceTopic        = "topic"
	resourceQueue        = "queue"
	resourceSubscription = "subscription"
)

// Provisioner idempotently creates the topic and queues the pipeline runs on
// and caches their references for the life of the process.
//
// Names passed to the Provisioner are provider names, already formatted with
// FormatQueueName. It is safe for concurrent use: concurrent resolutions of
// the same name share a single backend round trip.
type Provisioner struct {
	backend        queue.Backend
	log            *zap.SugaredLogger
	metrics        *metrics.Metrics
	mode           Mode
	groupID        string
	subscribeAttrs map[string]string

	mu     sync.RWMutex
	topics map[string]queue.TopicRef
	queues map[string]queue.QueueRef
	flight singleflight.Group
}

// NewProvisioner creates a Provisioner. m may be nil.
func NewProvisioner(backend queue.Backend, opts Options, log *zap.SugaredLogger, m *metrics.Metrics) *Provisioner {
	return &Provisioner{
		backend:        backend,
		log:            log,
		metrics:        m,
		mode:           opts.Mode,
		groupID:        opts.groupID(),
		subscribeAttrs: mergeAttrs(opts.SubscribeAttributes, nil),
		topics:         make(map[string]queue.TopicRef),
		queues:         make(map[string]queue.QueueRef),
	}
}

// EnsureTopic returns the reference of the topic called name, creating it
// with attrs when no existing topic matches. Attributes of an existing topic
// are left as they are.
func (p *Provisioner) EnsureTopic(ctx context.Context, name string, attrs map[string]string) (queue.TopicRef, error) {
	if ref, ok := p.cachedTopic(name); ok {
		return ref, nil
	}

	v, err := p.resolve(ctx, "topic/"+name, func(ctx context.Context) (any, error) {
		if ref, ok := p.cachedTopic(name); ok {
			return ref, nil
		}
		ref, err := p.backend.FindTopic(ctx, name)
		switch {
		case err == nil:
			p.log.Debugw("topic exists", "topic", name, "ref", ref)
			p.metrics.RecordProvision(resourceTopic, metrics.OutcomeFound)
		case errors.Is(err, queue.ErrNotFound):
			ref, err = p.backend.CreateTopic(ctx, name, attrs)
			if err != nil {
				p.log.Errorw("failed to create topic", "topic", name, "error", err)
				p.metrics.RecordProvision(resourceTopic, metrics.OutcomeError)
				return "", &ProvisionError{Op: "create topic", Name: name, Err: err}
			}
			p.log.Infow("created topic", "topic", name, "ref", ref)
			p.metrics.RecordProvision(resourceTopic, metrics.OutcomeCreated)
		default:
			p.metrics.RecordProvision(resourceTopic, metrics.OutcomeError)
			return "", &ProvisionError{Op: "find topic", Name: name, Err: fmt.Errorf("%w: %w", ErrLookup, err)}
		}

		p.mu.Lock()
		p.topics[name] = ref
		p.mu.Unlock()
		return ref, nil
	})
	if err != nil {
		return "", err
	}
	return v.(queue.TopicRef), nil
}

// EnsureQueue returns the address of the queue called name, creating it with
// attrs when it does not exist. A lookup that fails for any reason other than
// the queue being absent is reported as ErrLookup and nothing is created.
func (p *Provisioner) EnsureQueue(ctx context.Context, name string, attrs map[string]string) (queue.QueueRef, error) {
	if ref, ok := p.cachedQueue(name); ok {
		return ref, nil
	}

	v, err := p.resolve(ctx, "queue/"+name, func(ctx context.Context) (any, error) {
		if ref, ok := p.cachedQueue(name); ok {
			return ref, nil
		}
		ref, err := p.backend.FindQueue(ctx, name)
		switch {
		case err == nil:
			p.log.Debugw("queue exists", "queue", name, "ref", ref)
			p.metrics.RecordProvision(resourceQueue, metrics.OutcomeFound)
		case errors.Is(err, queue.ErrNotFound):
			ref, err = p.backend.CreateQueue(ctx, name, attrs)
			if err != nil {
				p.log.Errorw("failed to create queue", "queue", name, "error", err)
				p.metrics.RecordProvision(resourceQueue, metrics.OutcomeError)
				return "", &ProvisionError{Op: "create queue", Name: name, Err: err}
			}
			p.log.Infow("created queue", "queue", name, "ref", ref)
			p.metrics.RecordProvision(resourceQueue, metrics.OutcomeCreated)
		default:
			p.metrics.RecordProvision(resourceQueue, metrics.OutcomeError)
			return "", &ProvisionError{Op: "find queue", Name: name, Err: fmt.Errorf("%w: %w", ErrLookup, err)}
		}

		p.mu.Lock()
		p.queues[name] = ref
		p.mu.Unlock()
		return ref, nil
	})
	if err != nil {
		return "", err
	}
	return v.(queue.QueueRef), nil
}

// Subscribe subscribes queueRef to topicRef. In FIFO mode the subscription
// also gets a message group id so deliveries through the topic carry one.
func (p *Provisioner) Subscribe(ctx context.Context, queueRef queue.QueueRef, topicRef queue.TopicRef) (queue.SubscriptionRef, error) {
	sub, err := p.backend.Subscribe(ctx, queueRef, topicRef, p.subscribeAttrs)
	if err != nil {
		p.metrics.RecordProvision(resourceSubscription, metrics.OutcomeError)
		return "", &ProvisionError{Op: "subscribe", Name: string(queueRef), Err: err}
	}
	p.log.Debugw("queue subscribed to topic", "queue", queueRef, "topic", topicRef, "subscription", sub)

	if p.mode.IsFIFO() {
		if err := p.backend.SetSubscriptionAttribute(ctx, sub, queue.AttrSubscriptionGroupID, p.groupID); err != nil {
			p.metrics.RecordProvision(resourceSubscription, metrics.OutcomeError)
			return "", &ProvisionError{Op: "set subscription group id", Name: string(sub), Err: err}
		}
	}

	p.metrics.RecordProvision(resourceSubscription, metrics.OutcomeCreated)
	return sub, nil
}

// DeleteQueue removes the queue called name. A queue that cannot be found is
// not an error.
func (p *Provisioner) DeleteQueue(ctx context.Context, name string) error {
	ref, ok := p.cachedQueue(name)
	if !ok {
		var err error
		ref, err = p.backend.FindQueue(ctx, name)
		if err != nil {
			p.log.Infow("queue cannot be deleted, lookup failed", "queue", name, "error", err)
			return nil
		}
	}

	if err := p.backend.DeleteQueue(ctx, ref); err != nil {
		p.metrics.RecordProvision(resourceQueue, metrics.OutcomeError)
		return &ProvisionError{Op: "delete queue", Name: name, Err: err}
	}

	p.mu.Lock()
	delete(p.queues, name)
	p.mu.Unlock()

	p.log.Infow("deleted queue", "queue", name, "ref", ref)
	p.metrics.RecordProvision(resourceQueue, metrics.OutcomeDeleted)
	return nil
}

// DeleteTopic removes the topic called name. A topic that cannot be found is
// not an error.
func (p *Provisioner) DeleteTopic(ctx context.Context, name string) error {
	ref, ok := p.cachedTopic(name)
	if !ok {
		var err error
		ref, err = p.backend.FindTopic(ctx, name)
		if err != nil {
			p.log.Infow("topic cannot be deleted, lookup failed", "topic", name, "error", err)
			return nil
		}
	}

	if err := p.backend.DeleteTopic(ctx, ref); err != nil {
		p.metrics.RecordProvision(resourceTopic, metrics.OutcomeError)
		return &ProvisionError{Op: "delete topic", Name: name, Err: err}
	}

	p.mu.Lock()
	delete(p.topics, name)
	p.mu.Unlock()

	p.log.Infow("deleted topic", "topic", name, "ref", ref)
	p.metrics.RecordProvision(resourceTopic, metrics.OutcomeDeleted)
	return nil
}

// resolve runs fn once for all concurrent callers of key. fn gets a context
// that is not cancelled with any single caller, so one caller giving up does
// not fail the others; each caller still returns as soon as its own ctx is
// done.
func (p *Provisioner) resolve(ctx context.Context, key string, fn func(context.Context) (any, error)) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	flightCtx := context.WithoutCancel(ctx)
	ch := p.flight.DoChan(key, func() (any, error) {
		return fn(flightCtx)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		return res.Val, res.Err
	}
}

func (p *Provisioner) cachedTopic(name string) (queue.TopicRef, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	ref, ok := p.topics[name]
	return ref, ok
}

func (p *Provisioner) cachedQueue(name string) (queue.QueueRef, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	ref, ok := p.queues[name]
	return ref, ok
}
