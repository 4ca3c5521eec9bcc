package testutils

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/SwincikJr/cloud-solutions/pkg/queue"
)

// MockBackend is a mock implementation of queue.Backend for testing
type MockBackend struct {
	mock.Mock
}

var _ queue.Backend = (*MockBackend)(nil)

func (m *MockBackend) CreateTopic(ctx context.Context, name string, attrs map[string]string) (queue.TopicRef, error) {
	args := m.Called(ctx, name, attrs)
	return args.Get(0).(queue.TopicRef), args.Error(1)
}

func (m *MockBackend) FindTopic(ctx context.Context, name string) (queue.TopicRef, error) {
	args := m.Called(ctx, name)
	return args.Get(0).(queue.TopicRef), args.Error(1)
}

func (m *MockBackend) DeleteTopic(ctx context.Context, topic queue.TopicRef) error {
	args := m.Called(ctx, topic)
	return args.Error(0)
}

func (m *MockBackend) CreateQueue(ctx context.Context, name string, attrs map[string]string) (queue.QueueRef, error) {
	args := m.Called(ctx, name, attrs)
	return args.Get(0).(queue.QueueRef), args.Error(1)
}

func (m *MockBackend) FindQueue(ctx context.Context, name string) (queue.QueueRef, error) {
	args := m.Called(ctx, name)
	return args.Get(0).(queue.QueueRef), args.Error(1)
}

func (m *MockBackend) DeleteQueue(ctx context.Context, q queue.QueueRef) error {
	args := m.Called(ctx, q)
	return args.Error(0)
}

func (m *MockBackend) Subscribe(ctx context.Context, q queue.QueueRef, topic queue.TopicRef, attrs map[string]string) (queue.SubscriptionRef, error) {
	args := m.Called(ctx, q, topic, attrs)
	return args.Get(0).(queue.SubscriptionRef), args.Error(1)
}

func (m *MockBackend) SetSubscriptionAttribute(ctx context.Context, sub queue.SubscriptionRef, key, value string) error {
	args := m.Called(ctx, sub, key, value)
	return args.Error(0)
}

func (m *MockBackend) Receive(ctx context.Context, q queue.QueueRef, params queue.ReceiveParams) ([]queue.RawMessage, error) {
	args := m.Called(ctx, q, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]queue.RawMessage), args.Error(1)
}

func (m *MockBackend) Delete(ctx context.Context, q queue.QueueRef, ackToken string) error {
	args := m.Called(ctx, q, ackToken)
	return args.Error(0)
}

func (m *MockBackend) ChangeVisibility(ctx context.Context, q queue.QueueRef, ackToken string, timeout time.Duration) error {
	args := m.Called(ctx, q, ackToken, timeout)
	return args.Error(0)
}

func (m *MockBackend) Send(ctx context.Context, q queue.QueueRef, body string, attrs map[string]string) error {
	args := m.Called(ctx, q, body, attrs)
	return args.Error(0)
}

func (m *MockBackend) Publish(ctx context.Context, topic queue.TopicRef, body string, attrs map[string]string) error {
	args := m.Called(ctx, topic, body, attrs)
	return args.Error(0)
}
