package queue

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by lookups when the requested topic or queue does
// not exist. Any other lookup error means the provider could not answer.
var ErrNotFound = errors.New("not found")

// TopicRef is the provider identifier of a topic (an ARN for SNS).
type TopicRef string

// QueueRef is the provider address of a queue (a URL for SQS).
type QueueRef string

// SubscriptionRef is the provider identifier of a queue-to-topic subscription.
type SubscriptionRef string

// RawMessage is a single delivered copy of a message.
//
// AckToken identifies this delivery (a receipt handle for SQS) and is what
// Delete and ChangeVisibility operate on. The same logical message delivered
// twice carries the same ID but a different AckToken.
type RawMessage struct {
	ID         string
	Body       string
	AckToken   string
	Attributes map[string]string
}

// ReceiveParams tunes a single Receive call.
type ReceiveParams struct {
	MaxMessages       int
	VisibilityTimeout time.Duration
	WaitTime          time.Duration
}

// Backend is the provider capability used by the events pipeline.
//
// Find methods return ErrNotFound (possibly wrapped) when nothing matches.
// FindTopic matches by substring of the topic reference, the way SNS ARNs
// embed the topic name.
type Backend interface {
	CreateTopic(ctx context.Context, name string, attrs map[string]string) (TopicRef, error)
	FindTopic(ctx context.Context, name string) (TopicRef, error)
	DeleteTopic(ctx context.Context, topic TopicRef) error

	CreateQueue(ctx context.Context, name string, attrs map[string]string) (QueueRef, error)
	FindQueue(ctx context.Context, name string) (QueueRef, error)
	DeleteQueue(ctx context.Context, queue QueueRef) error

	Subscribe(ctx context.Context, queue QueueRef, topic TopicRef, attrs map[string]string) (SubscriptionRef, error)
	SetSubscriptionAttribute(ctx context.Context, sub SubscriptionRef, key, value string) error

	Receive(ctx context.Context, queue QueueRef, params ReceiveParams) ([]RawMessage, error)
	Delete(ctx context.Context, queue QueueRef, ackToken string) error
	ChangeVisibility(ctx context.Context, queue QueueRef, ackToken string, timeout time.Duration) error

	Send(ctx context.Context, queue QueueRef, body string, attrs map[string]string) error
	Publish(ctx context.Context, topic TopicRef, body string, attrs map[string]string) error
}

// Well-known attribute keys understood by the providers.
const (
	AttrMessageGroupID         = "MessageGroupId"
	AttrMessageDeduplicationID = "MessageDeduplicationId"
	AttrFifoQueue              = "FifoQueue"
	AttrFifoTopic              = "FifoTopic"
	AttrContentDeduplication   = "ContentBasedDeduplication"
	AttrSubscriptionGroupID    = "SqsMessageGroupId"
)
