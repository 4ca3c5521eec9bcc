package events

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/SwincikJr/cloud-solutions/pkg/events/testutils"
	"github.com/SwincikJr/cloud-solutions/pkg/queue"
)

func newTestPublisher(t *testing.T, backend queue.Backend, override Options) *Publisher {
	opts := newTestOptions(override)
	log := testutils.NewTestLogger(t)
	return NewPublisher(backend, NewProvisioner(backend, opts, log, nil), opts, log, nil)
}

func noGroupID(attrs map[string]string) bool {
	_, ok := attrs[queue.AttrMessageGroupID]
	return !ok
}

func TestPublisher_Send_JSON(t *testing.T) {
	backend := &testutils.MockBackend{}
	backend.On("FindQueue", mock.Anything, "orders").Return(queue.QueueRef("https://q/orders"), nil).Once()
	backend.On("Send", mock.Anything, queue.QueueRef("https://q/orders"), `{"id":1}`, mock.MatchedBy(noGroupID)).
		Return(nil).Once()

	p := newTestPublisher(t, backend, Options{})

	err := p.Send(context.Background(), "orders", map[string]int{"id": 1})
	require.NoError(t, err)
	backend.AssertExpectations(t)
	backend.AssertNumberOfCalls(t, "Send", 1)
}

func TestPublisher_Send_CreatesMissingQueue(t *testing.T) {
	backend := &testutils.MockBackend{}
	backend.On("FindQueue", mock.Anything, "orders").Return(queue.QueueRef(""), queue.ErrNotFound).Once()
	backend.On("CreateQueue", mock.Anything, "orders", mock.Anything).Return(queue.QueueRef("https://q/orders"), nil).Once()
	backend.On("Send", mock.Anything, queue.QueueRef("https://q/orders"), "hello", mock.Anything).Return(nil).Once()

	p := newTestPublisher(t, backend, Options{})

	require.NoError(t, p.Send(context.Background(), "orders", "hello"))
	backend.AssertExpectations(t)
}

func TestPublisher_Send_FIFO(t *testing.T) {
	backend := &testutils.MockBackend{}
	backend.On("FindQueue", mock.Anything, "prod-orders.fifo").Return(queue.QueueRef("https://q/prod-orders.fifo"), nil).Once()
	backend.On("Send", mock.Anything, queue.QueueRef("https://q/prod-orders.fifo"), `{"id":1}`,
		map[string]string{queue.AttrMessageGroupID: "prod"}).Return(nil).Once()

	p := newTestPublisher(t, backend, Options{Prefix: "prod", Mode: ModeFIFO})

	require.NoError(t, p.Send(context.Background(), "orders", map[string]int{"id": 1}))
	backend.AssertExpectations(t)
}

func TestPublisher_Send_PrefixOverride(t *testing.T) {
	backend := &testutils.MockBackend{}
	backend.On("FindQueue", mock.Anything, "dev-orders").Return(queue.QueueRef("https://q/dev-orders"), nil).Once()
	backend.On("Send", mock.Anything, queue.QueueRef("https://q/dev-orders"), "{}",
		map[string]string{"DelaySeconds": "3"}).Return(nil).Once()

	p := newTestPublisher(t, backend, Options{Prefix: "prod"})

	err := p.Send(context.Background(), "orders", nil,
		WithPrefix("dev"),
		WithAttributes(map[string]string{"DelaySeconds": "3"}),
	)
	require.NoError(t, err)
	backend.AssertExpectations(t)
}

func TestPublisher_Send_RetryBudget(t *testing.T) {
	sendErr := errors.New("service unavailable")
	backend := &testutils.MockBackend{}
	backend.On("FindQueue", mock.Anything, "orders").Return(queue.QueueRef("https://q/orders"), nil)
	backend.On("Send", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(sendErr)

	p := newTestPublisher(t, backend, Options{RetryInterval: time.Millisecond})

	err := p.Send(context.Background(), "orders", "payload")
	require.Error(t, err)
	require.ErrorIs(t, err, sendErr)

	var perr *PublishError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, 4, perr.Attempts)
	assert.Equal(t, "orders", perr.Queue)
	backend.AssertNumberOfCalls(t, "Send", 4)
}

func TestPublisher_Send_WithRetryOverride(t *testing.T) {
	backend := &testutils.MockBackend{}
	backend.On("FindQueue", mock.Anything, "orders").Return(queue.QueueRef("https://q/orders"), nil)
	backend.On("Send", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(errors.New("nope"))

	p := newTestPublisher(t, backend, Options{RetryInterval: time.Millisecond})

	err := p.Send(context.Background(), "orders", "payload", WithRetry(0))

	var perr *PublishError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, 1, perr.Attempts)
	backend.AssertNumberOfCalls(t, "Send", 1)
}

func TestPublisher_Send_RecoversWithinBudget(t *testing.T) {
	backend := &testutils.MockBackend{}
	backend.On("FindQueue", mock.Anything, "orders").Return(queue.QueueRef("https://q/orders"), nil)
	backend.On("Send", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(errors.New("flaky")).Twice()
	backend.On("Send", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil).Once()

	p := newTestPublisher(t, backend, Options{RetryInterval: time.Millisecond})

	require.NoError(t, p.Send(context.Background(), "orders", "payload"))
	backend.AssertNumberOfCalls(t, "Send", 3)
}

func TestPublisher_Send_CancelledDuringRetry(t *testing.T) {
	backend := &testutils.MockBackend{}
	backend.On("FindQueue", mock.Anything, "orders").Return(queue.QueueRef("https://q/orders"), nil)
	backend.On("Send", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(errors.New("down"))

	p := newTestPublisher(t, backend, Options{RetryInterval: time.Hour})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := p.Send(ctx, "orders", "payload")
	require.ErrorIs(t, err, context.DeadlineExceeded)
	backend.AssertNumberOfCalls(t, "Send", 1)
}

func TestPublisher_Publish(t *testing.T) {
	backend := &testutils.MockBackend{}
	backend.On("FindTopic", mock.Anything, "orders.fifo").Return(queue.TopicRef("arn:topic:orders.fifo"), nil).Once()
	backend.On("Publish", mock.Anything, queue.TopicRef("arn:topic:orders.fifo"), `["a","b"]`,
		map[string]string{queue.AttrMessageGroupID: "orders"}).Return(nil).Once()

	p := newTestPublisher(t, backend, Options{TopicName: "orders", Mode: ModeFIFO})

	require.NoError(t, p.Publish(context.Background(), []string{"a", "b"}))
	backend.AssertExpectations(t)
}

func TestEncodePayload(t *testing.T) {
	type order struct {
		ID    int      `json:"id"`
		Items []string `json:"items"`
	}

	tests := []struct {
		name    string
		payload any
		want    string
	}{
		{"nil", nil, "{}"},
		{"empty string", "", "{}"},
		{"string", "plain text", "plain text"},
		{"bytes", []byte(`{"a":1}`), `{"a":1}`},
		{"int", 42, "42"},
		{"bool", true, "true"},
		{"float", 1.5, "1.5"},
		{"map", map[string]any{"id": 1}, `{"id":1}`},
		{"slice", []int{1, 2}, `[1,2]`},
		{"struct", order{ID: 7, Items: []string{"x"}}, `{"id":7,"items":["x"]}`},
		{"pointer", &order{ID: 8}, `{"id":8,"items":null}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := encodePayload(tt.payload)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEncodePayload_Unsupported(t *testing.T) {
	_, err := encodePayload(map[string]any{"ch": make(chan int)})
	require.Error(t, err)
}
