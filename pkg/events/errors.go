package events

import (
	"errors"
	"fmt"
)

var (
	// ErrTopicNameRequired is returned when Options carry no topic name.
	ErrTopicNameRequired = errors.New("topic name not specified for events")
	// ErrLookup marks a queue or topic whose reference could not be resolved.
	// Operations never fall back to creating a duplicate on a lookup error.
	ErrLookup = errors.New("lookup failed")
	// ErrReject is the in-band failure result of a Handler: the message is
	// nacked for redelivery and the error is never propagated.
	ErrReject = errors.New("message rejected by handler")
	// ErrNotInitialized is returned by operations that need the topic before
	// Initialize has run.
	ErrNotInitialized = errors.New("events not initialized")
	// ErrAllQueuesDeleted is returned by Initialize in DeleteAllQueues mode
	// once every loaded queue has been removed.
	ErrAllQueuesDeleted = errors.New("all queues deleted")
)

// ProvisionError reports a failed topic, queue or subscription operation.
type ProvisionError struct {
	Op   string // "ensure topic", "ensure queue", "subscribe", ...
	Name string
	Err  error
}

func (e *ProvisionError) Error() string {
	return fmt.Sprintf("provision %s %q: %v", e.Op, e.Name, e.Err)
}

func (e *ProvisionError) Unwrap() error { return e.Err }

// FetchError reports a failed receive on a registered queue. The consumer
// retries it and never surfaces it to callers of Start.
type FetchError struct {
	Queue string
	Err   error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch from queue %q: %v", e.Queue, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// PublishError is returned once a send exhausted its retry budget.
type PublishError struct {
	Queue    string
	Attempts int
	Err      error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("send to %q failed after %d attempts: %v", e.Queue, e.Attempts, e.Err)
}

func (e *PublishError) Unwrap() error { return e.Err }

// DecodeError reports a message body that looked like JSON but did not parse.
// Such messages are acked and dropped.
type DecodeError struct {
	Queue     string
	MessageID string
	Err       error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode message %s on queue %q: %v", e.MessageID, e.Queue, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// HandlerError wraps an error returned (or a panic raised) by a Handler.
type HandlerError struct {
	Queue     string
	MessageID string
	Err       error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("handle message %s on queue %q: %v", e.MessageID, e.Queue, e.Err)
}

func (e *HandlerError) Unwrap() error { return e.Err }
