package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/SwincikJr/cloud-solutions/pkg/events/testutils"
	"github.com/SwincikJr/cloud-solutions/pkg/queue"
	"github.com/SwincikJr/cloud-solutions/pkg/queue/memory"
)

func newTestEvents(t *testing.T, backend queue.Backend, opts Options) *Events {
	e, err := New(backend, opts, testutils.NewTestLogger(t), nil)
	require.NoError(t, err)
	return e
}

// runEvents starts the consumer loop and returns a function that stops it
// and reports its result.
func runEvents(t *testing.T, e *Events) func() error {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Start(ctx) }()
	require.Eventually(t, e.Ready, time.Second, time.Millisecond)

	return func() error {
		cancel()
		select {
		case err := <-done:
			return err
		case <-time.After(2 * time.Second):
			t.Fatal("events loop did not stop")
			return nil
		}
	}
}

type collector struct {
	mu   sync.Mutex
	msgs []*Message
}

func (c *collector) handle(_ context.Context, msg *Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, msg)
	return nil
}

func (c *collector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.msgs)
}

func TestNew_RequiresTopicName(t *testing.T) {
	_, err := New(memory.New(), Options{}, testutils.NewTestLogger(t), nil)
	require.ErrorIs(t, err, ErrTopicNameRequired)
}

func TestNew_AppliesDefaults(t *testing.T) {
	e := newTestEvents(t, memory.New(), Options{TopicName: "orders"})

	opts := e.Options()
	assert.Equal(t, DefaultListenInterval, opts.ListenInterval)
	assert.Equal(t, DefaultRetryLimit, opts.RetryLimit)
	assert.Equal(t, "orders", e.TopicName())
}

func TestEvents_LoadQueue_BeforeInitialize(t *testing.T) {
	e := newTestEvents(t, memory.New(), Options{TopicName: "orders"})

	err := e.LoadQueue(context.Background(), func(context.Context, *Message) error { return nil }, "billing")
	require.ErrorIs(t, err, ErrNotInitialized)
	require.ErrorIs(t, e.Start(context.Background()), ErrNotInitialized)
}

func TestEvents_FIFOProvisioning(t *testing.T) {
	backend := &testutils.MockBackend{}
	backend.On("FindTopic", mock.Anything, "events.fifo").Return(queue.TopicRef(""), queue.ErrNotFound).Once()
	backend.On("CreateTopic", mock.Anything, "events.fifo", map[string]string{
		queue.AttrFifoTopic:            "true",
		queue.AttrContentDeduplication: "true",
	}).Return(queue.TopicRef("arn:topic:events.fifo"), nil).Once()
	backend.On("FindQueue", mock.Anything, "prod-orders.fifo").Return(queue.QueueRef(""), queue.ErrNotFound).Once()
	backend.On("CreateQueue", mock.Anything, "prod-orders.fifo", map[string]string{
		queue.AttrFifoQueue:            "true",
		queue.AttrContentDeduplication: "true",
	}).Return(queue.QueueRef("https://q/prod-orders.fifo"), nil).Once()
	backend.On("Subscribe", mock.Anything, queue.QueueRef("https://q/prod-orders.fifo"), queue.TopicRef("arn:topic:events.fifo"), mock.Anything).
		Return(queue.SubscriptionRef("sub-1"), nil).Once()
	backend.On("SetSubscriptionAttribute", mock.Anything, queue.SubscriptionRef("sub-1"), queue.AttrSubscriptionGroupID, "prod").
		Return(nil).Once()

	e := newTestEvents(t, backend, Options{TopicName: "events", Prefix: "prod", Mode: ModeFIFO})
	err := e.InitializeWith(context.Background(), func(ctx context.Context, e *Events) error {
		return e.LoadQueue(ctx, func(context.Context, *Message) error { return nil }, "orders")
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"prod-orders.fifo"}, e.Queues())
	backend.AssertExpectations(t)
}

func TestEvents_ExplicitZeroRetryLimit(t *testing.T) {
	sendErr := errors.New("service unavailable")
	backend := &testutils.MockBackend{}
	backend.On("FindQueue", mock.Anything, "orders").Return(queue.QueueRef("https://q/orders"), nil)
	backend.On("Send", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(sendErr)

	opts := DefaultOptions()
	opts.TopicName = "events"
	opts.RetryLimit = 0
	opts.RetryInterval = time.Millisecond
	e := newTestEvents(t, backend, opts)

	assert.Equal(t, 0, e.Options().RetryLimit)
	err := e.SendToQueue(context.Background(), "orders", "payload")

	var perr *PublishError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, 1, perr.Attempts)
	backend.AssertNumberOfCalls(t, "Send", 1)
}

func TestEvents_LoadedZeroOptionsKept(t *testing.T) {
	t.Setenv("EVENTS_TOPIC_NAME", "events")
	t.Setenv("EVENTS_RETRY_LIMIT", "0")
	t.Setenv("EVENTS_LISTEN_INTERVAL", "0s")
	t.Setenv("EVENTS_VISIBILITY_TIMEOUT", "0s")

	opts, err := LoadOptions()
	require.NoError(t, err)
	e := newTestEvents(t, memory.New(), opts)

	got := e.Options()
	assert.Equal(t, 0, got.RetryLimit)
	assert.Zero(t, got.ListenInterval)
	assert.Zero(t, got.VisibilityTimeout)
	assert.Equal(t, DefaultMaxNumberOfMessages, got.MaxNumberOfMessages)
}

func TestEvents_LiteralOptionsFilledFromDefaults(t *testing.T) {
	e := newTestEvents(t, memory.New(), Options{TopicName: "events", RetryLimit: 0})

	got := e.Options()
	assert.Equal(t, DefaultRetryLimit, got.RetryLimit)
	assert.Equal(t, DefaultListenInterval, got.ListenInterval)
	assert.Equal(t, DefaultVisibilityTimeout, got.VisibilityTimeout)
}

func TestEvents_DeleteAllQueues(t *testing.T) {
	backend := memory.New()
	ctx := context.Background()
	for _, name := range []string{"prod-billing", "prod-shipping"} {
		_, err := backend.CreateQueue(ctx, name, nil)
		require.NoError(t, err)
	}

	e := newTestEvents(t, backend, Options{TopicName: "orders", Prefix: "prod", DeleteAllQueues: true})
	err := e.InitializeWith(ctx, func(ctx context.Context, e *Events) error {
		return e.LoadQueue(ctx, nil, "billing", "shipping", "never-created")
	})
	require.ErrorIs(t, err, ErrAllQueuesDeleted)

	for _, name := range []string{"prod-billing", "prod-shipping"} {
		_, err := backend.FindQueue(ctx, name)
		assert.ErrorIs(t, err, queue.ErrNotFound, name)
	}
	assert.Empty(t, e.Queues())
}

func TestEvents_SendAndConsume(t *testing.T) {
	backend := memory.New()
	ctx := context.Background()
	got := &collector{}

	e := newTestEvents(t, backend, Options{
		TopicName:           "orders",
		Prefix:              "test",
		ListenInterval:      time.Millisecond,
		MaxNumberOfMessages: 2,
	})
	require.NoError(t, e.InitializeWith(ctx, func(ctx context.Context, e *Events) error {
		return e.LoadQueue(ctx, got.handle, "billing")
	}))

	for i := 0; i < 5; i++ {
		require.NoError(t, e.SendToQueue(ctx, "billing", map[string]int{"n": i}))
	}

	stop := runEvents(t, e)
	require.Eventually(t, func() bool { return got.count() == 5 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, stop())

	ref, err := backend.FindQueue(ctx, "test-billing")
	require.NoError(t, err)
	assert.Equal(t, 0, backend.Depth(ref), "every message acked")
}

func TestEvents_PublishFansOut(t *testing.T) {
	backend := memory.New()
	ctx := context.Background()
	billing, shipping := &collector{}, &collector{}

	e := newTestEvents(t, backend, Options{TopicName: "orders", Mode: ModeFIFO, ListenInterval: time.Millisecond})
	require.NoError(t, e.InitializeWith(ctx, func(ctx context.Context, e *Events) error {
		if err := e.LoadQueue(ctx, billing.handle, "billing"); err != nil {
			return err
		}
		return e.LoadQueue(ctx, shipping.handle, "shipping")
	}))

	require.NoError(t, e.Publish(ctx, map[string]string{"order": "A-1"}))

	stop := runEvents(t, e)
	require.Eventually(t, func() bool {
		return billing.count() == 1 && shipping.count() == 1
	}, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, stop())

	msg := billing.msgs[0]
	assert.Equal(t, "billing.fifo", msg.Queue)
	assert.Equal(t, map[string]any{"order": "A-1"}, msg.Body)
	assert.Equal(t, "orders", msg.Attributes[queue.AttrMessageGroupID])
}

func TestEvents_RejectedMessageIsRedelivered(t *testing.T) {
	backend := memory.New()
	ctx := context.Background()

	var mu sync.Mutex
	deliveries := 0
	h := func(context.Context, *Message) error {
		mu.Lock()
		defer mu.Unlock()
		deliveries++
		if deliveries == 1 {
			return ErrReject
		}
		return nil
	}

	e := newTestEvents(t, backend, Options{TopicName: "orders", ListenInterval: time.Millisecond})
	require.NoError(t, e.InitializeWith(ctx, func(ctx context.Context, e *Events) error {
		return e.LoadQueue(ctx, h, "billing")
	}))
	require.NoError(t, e.SendToQueue(ctx, "billing", "retry me"))

	stop := runEvents(t, e)
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return deliveries == 2
	}, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, stop())

	ref, err := backend.FindQueue(ctx, "billing")
	require.NoError(t, err)
	assert.Equal(t, 0, backend.Depth(ref))
}

func TestEvents_HandlerCanProduce(t *testing.T) {
	backend := memory.New()
	ctx := context.Background()
	audit := &collector{}

	forward := func(ctx context.Context, msg *Message) error {
		return msg.Producer.SendToQueue(ctx, "audit", msg.Body)
	}

	e := newTestEvents(t, backend, Options{TopicName: "orders", ListenInterval: time.Millisecond})
	require.NoError(t, e.InitializeWith(ctx, func(ctx context.Context, e *Events) error {
		if err := e.LoadQueue(ctx, forward, "billing"); err != nil {
			return err
		}
		return e.LoadQueue(ctx, audit.handle, "audit")
	}))
	require.NoError(t, e.SendToQueue(ctx, "billing", []int{1, 2, 3}))

	stop := runEvents(t, e)
	require.Eventually(t, func() bool { return audit.count() == 1 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, stop())

	assert.Equal(t, "[1,2,3]", audit.msgs[0].Raw)
}

func TestEvents_ThrowErrorEndsStart(t *testing.T) {
	backend := memory.New()
	ctx := context.Background()
	cause := errors.New("cannot process")

	e := newTestEvents(t, backend, Options{TopicName: "orders", ThrowError: true, ListenInterval: time.Millisecond})
	require.NoError(t, e.InitializeWith(ctx, func(ctx context.Context, e *Events) error {
		return e.LoadQueue(ctx, func(context.Context, *Message) error { return cause }, "billing")
	}))
	require.NoError(t, e.SendToQueue(ctx, "billing", "x"))

	runCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	err := e.Start(runCtx)
	require.ErrorIs(t, err, cause)

	// The nack made the message visible again.
	ref, ferr := backend.FindQueue(ctx, "billing")
	require.NoError(t, ferr)
	msgs, rerr := backend.Receive(ctx, ref, queue.ReceiveParams{MaxMessages: 1})
	require.NoError(t, rerr)
	assert.Len(t, msgs, 1)
}

func TestEvents_DeleteQueueAndTopic(t *testing.T) {
	backend := memory.New()
	ctx := context.Background()

	e := newTestEvents(t, backend, Options{TopicName: "orders", Prefix: "prod"})
	require.NoError(t, e.Initialize(ctx))
	require.NoError(t, e.LoadQueue(ctx, func(context.Context, *Message) error { return nil }, "billing"))

	require.NoError(t, e.DeleteQueue(ctx, "billing"))
	_, err := backend.FindQueue(ctx, "prod-billing")
	assert.ErrorIs(t, err, queue.ErrNotFound)

	require.NoError(t, e.DeleteQueue(ctx, "billing"), "deleting a missing queue is a no-op")

	require.NoError(t, e.DeleteTopic(ctx))
	assert.Empty(t, e.Topic())
	_, err = backend.FindTopic(ctx, "orders")
	assert.ErrorIs(t, err, queue.ErrNotFound)
}
