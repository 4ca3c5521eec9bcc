// Package memory implements queue.Backend in process memory.
//
// It backs the "local" provider and the pipeline tests. Topics fan out to the
// queues subscribed to them, delivered messages become invisible for the
// requested visibility timeout, and FIFO queues do not hand out a message
// while an earlier message of the same group is still in flight.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/SwincikJr/cloud-solutions/pkg/queue"
)

const (
	topicRefPrefix = "arn:memory:sns:local:"
	queueRefPrefix = "memory://local/"

	defaultVisibilityTimeout = 30 * time.Second

	// pollInterval bounds how late a long-polling Receive notices a message
	// whose visibility timeout ran out.
	pollInterval = 25 * time.Millisecond
)

var (
	ErrInvalidReceipt = errors.New("receipt handle is invalid or expired")
	ErrMissingGroupID = errors.New("message group id is required for fifo queues")
)

type entry struct {
	id        string
	body      string
	attrs     map[string]string
	receipt   string
	visibleAt time.Time
	received  int
}

type memQueue struct {
	name    string
	ref     queue.QueueRef
	fifo    bool
	attrs   map[string]string
	entries []*entry
}

type subscription struct {
	ref   queue.SubscriptionRef
	queue queue.QueueRef
	attrs map[string]string
}

type topic struct {
	name  string
	ref   queue.TopicRef
	attrs map[string]string
	subs  []*subscription
}

// Backend is an in-memory queue.Backend. The zero value is not usable; use New.
type Backend struct {
	mu     sync.Mutex
	now    func() time.Time
	topics map[string]*topic
	queues map[string]*memQueue

	// wake is closed and replaced whenever a message may have become
	// receivable.
	wake chan struct{}
}

// Option configures a Backend.
type Option func(*Backend)

// WithClock replaces time.Now, letting tests drive visibility timeouts.
func WithClock(now func() time.Time) Option {
	return func(b *Backend) { b.now = now }
}

// New creates an empty Backend.
func New(opts ...Option) *Backend {
	b := &Backend{
		now:    time.Now,
		topics: make(map[string]*topic),
		queues: make(map[string]*memQueue),
		wake:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

var _ queue.Backend = (*Backend)(nil)

func (b *Backend) CreateTopic(ctx context.Context, name string, attrs map[string]string) (queue.TopicRef, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if t, ok := b.topics[name]; ok {
		return t.ref, nil
	}
	t := &topic{name: name, ref: queue.TopicRef(topicRefPrefix + name), attrs: copyAttrs(attrs)}
	b.topics[name] = t
	return t.ref, nil
}

func (b *Backend) FindTopic(ctx context.Context, name string) (queue.TopicRef, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	// stable order so substring matches are deterministic
	names := make([]string, 0, len(b.topics))
	for n := range b.topics {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		if ref := b.topics[n].ref; strings.Contains(string(ref), name) {
			return ref, nil
		}
	}
	return "", fmt.Errorf("topic %q: %w", name, queue.ErrNotFound)
}

func (b *Backend) DeleteTopic(ctx context.Context, ref queue.TopicRef) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	t, err := b.topicByRef(ref)
	if err != nil {
		return err
	}
	delete(b.topics, t.name)
	return nil
}

func (b *Backend) CreateQueue(ctx context.Context, name string, attrs map[string]string) (queue.QueueRef, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if q, ok := b.queues[name]; ok {
		return q.ref, nil
	}
	q := &memQueue{
		name:  name,
		ref:   queue.QueueRef(queueRefPrefix + name),
		fifo:  attrs[queue.AttrFifoQueue] == "true",
		attrs: copyAttrs(attrs),
	}
	b.queues[name] = q
	return q.ref, nil
}

func (b *Backend) FindQueue(ctx context.Context, name string) (queue.QueueRef, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	q, ok := b.queues[name]
	if !ok {
		return "", fmt.Errorf("queue %q: %w", name, queue.ErrNotFound)
	}
	return q.ref, nil
}

func (b *Backend) DeleteQueue(ctx context.Context, ref queue.QueueRef) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	q, err := b.queueByRef(ref)
	if err != nil {
		return err
	}
	delete(b.queues, q.name)
	for _, t := range b.topics {
		kept := t.subs[:0]
		for _, s := range t.subs {
			if s.queue != ref {
				kept = append(kept, s)
			}
		}
		t.subs = kept
	}
	return nil
}

func (b *Backend) Subscribe(
	ctx context.Context,
	queueRef queue.QueueRef,
	topicRef queue.TopicRef,
	attrs map[string]string,
) (queue.SubscriptionRef, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	t, err := b.topicByRef(topicRef)
	if err != nil {
		return "", err
	}
	if _, err := b.queueByRef(queueRef); err != nil {
		return "", err
	}
	for _, s := range t.subs {
		if s.queue == queueRef {
			return s.ref, nil
		}
	}
	s := &subscription{
		ref:   queue.SubscriptionRef(string(topicRef) + ":" + uuid.NewString()),
		queue: queueRef,
		attrs: copyAttrs(attrs),
	}
	t.subs = append(t.subs, s)
	return s.ref, nil
}

func (b *Backend) SetSubscriptionAttribute(ctx context.Context, ref queue.SubscriptionRef, key, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, t := range b.topics {
		for _, s := range t.subs {
			if s.ref == ref {
				s.attrs[key] = value
				return nil
			}
		}
	}
	return fmt.Errorf("subscription %q: %w", ref, queue.ErrNotFound)
}

// Receive returns up to params.MaxMessages visible messages. When none are
// visible and params.WaitTime is positive it waits for one to arrive until
// the wait time elapses or ctx is done.
func (b *Backend) Receive(ctx context.Context, ref queue.QueueRef, params queue.ReceiveParams) ([]queue.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	msgs, wake, err := b.collect(ref, params)
	if err != nil || len(msgs) > 0 || params.WaitTime <= 0 {
		return msgs, err
	}

	deadline := time.NewTimer(params.WaitTime)
	defer deadline.Stop()
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			msgs, _, err := b.collect(ref, params)
			return msgs, err
		case <-wake:
		case <-ticker.C:
		}
		msgs, wake, err = b.collect(ref, params)
		if err != nil || len(msgs) > 0 {
			return msgs, err
		}
	}
}

// collect hands out visible messages and returns the channel that signals
// the next change.
func (b *Backend) collect(ref queue.QueueRef, params queue.ReceiveParams) ([]queue.RawMessage, <-chan struct{}, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	q, err := b.queueByRef(ref)
	if err != nil {
		return nil, nil, err
	}

	limit := params.MaxMessages
	if limit <= 0 {
		limit = 1
	}
	visibility := params.VisibilityTimeout
	if visibility <= 0 {
		visibility = defaultVisibilityTimeout
	}

	now := b.now()
	blockedGroups := make(map[string]bool)
	out := make([]queue.RawMessage, 0, limit)
	for _, e := range q.entries {
		if len(out) == limit {
			break
		}
		group := e.attrs[queue.AttrMessageGroupID]
		if q.fifo && blockedGroups[group] {
			continue
		}
		if e.visibleAt.After(now) {
			if q.fifo {
				blockedGroups[group] = true
			}
			continue
		}
		e.receipt = uuid.NewString()
		e.visibleAt = now.Add(visibility)
		e.received++
		if q.fifo {
			blockedGroups[group] = true
		}
		out = append(out, queue.RawMessage{
			ID:         e.id,
			Body:       e.body,
			AckToken:   e.receipt,
			Attributes: copyAttrs(e.attrs),
		})
	}
	return out, b.wake, nil
}

func (b *Backend) Delete(ctx context.Context, ref queue.QueueRef, ackToken string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	q, err := b.queueByRef(ref)
	if err != nil {
		return err
	}
	for i, e := range q.entries {
		if e.receipt != "" && e.receipt == ackToken {
			q.entries = append(q.entries[:i], q.entries[i+1:]...)
			return nil
		}
	}
	return ErrInvalidReceipt
}

func (b *Backend) ChangeVisibility(ctx context.Context, ref queue.QueueRef, ackToken string, timeout time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	q, err := b.queueByRef(ref)
	if err != nil {
		return err
	}
	for _, e := range q.entries {
		if e.receipt != "" && e.receipt == ackToken {
			e.visibleAt = b.now().Add(timeout)
			b.notify()
			return nil
		}
	}
	return ErrInvalidReceipt
}

func (b *Backend) Send(ctx context.Context, ref queue.QueueRef, body string, attrs map[string]string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	q, err := b.queueByRef(ref)
	if err != nil {
		return err
	}
	return b.enqueue(q, body, attrs)
}

func (b *Backend) Publish(ctx context.Context, ref queue.TopicRef, body string, attrs map[string]string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	t, err := b.topicByRef(ref)
	if err != nil {
		return err
	}
	for _, s := range t.subs {
		q, err := b.queueByRef(s.queue)
		if err != nil {
			return err
		}
		msgAttrs := copyAttrs(attrs)
		if group, ok := s.attrs[queue.AttrSubscriptionGroupID]; ok && msgAttrs[queue.AttrMessageGroupID] == "" {
			msgAttrs[queue.AttrMessageGroupID] = group
		}
		if err := b.enqueue(q, body, msgAttrs); err != nil {
			return fmt.Errorf("fan-out to %s: %w", q.name, err)
		}
	}
	return nil
}

// Depth reports how many messages the queue holds, visible or not.
func (b *Backend) Depth(ref queue.QueueRef) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	q, err := b.queueByRef(ref)
	if err != nil {
		return 0
	}
	return len(q.entries)
}

func (b *Backend) enqueue(q *memQueue, body string, attrs map[string]string) error {
	if q.fifo && attrs[queue.AttrMessageGroupID] == "" {
		return ErrMissingGroupID
	}
	q.entries = append(q.entries, &entry{
		id:        uuid.NewString(),
		body:      body,
		attrs:     copyAttrs(attrs),
		visibleAt: b.now(),
	})
	b.notify()
	return nil
}

// notify wakes every waiting Receive. b.mu must be held.
func (b *Backend) notify() {
	close(b.wake)
	b.wake = make(chan struct{})
}

func (b *Backend) topicByRef(ref queue.TopicRef) (*topic, error) {
	name := strings.TrimPrefix(string(ref), topicRefPrefix)
	t, ok := b.topics[name]
	if !ok {
		return nil, fmt.Errorf("topic %q: %w", ref, queue.ErrNotFound)
	}
	return t, nil
}

func (b *Backend) queueByRef(ref queue.QueueRef) (*memQueue, error) {
	name := strings.TrimPrefix(string(ref), queueRefPrefix)
	q, ok := b.queues[name]
	if !ok {
		return nil, fmt.Errorf("queue %q: %w", ref, queue.ErrNotFound)
	}
	return q, nil
}

func copyAttrs(attrs map[string]string) map[string]string {
	out := make(map[string]string, len(attrs))
	for k, v := range attrs {
		out[k] = v
	}
	return out
}
