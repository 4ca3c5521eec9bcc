package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Handler processes one delivered message.
//
// Returning nil acknowledges the message. Returning ErrReject (or an error
// wrapping it) requests redelivery without reporting a failure. Any other
// error, or a panic, also requests redelivery and is reported as a
// HandlerError.
type Handler func(ctx context.Context, msg *Message) error

// Producer lets handlers emit follow-up messages through the same pipeline.
type Producer interface {
	SendToQueue(ctx context.Context, name string, payload any, opts ...SendOption) error
	Publish(ctx context.Context, payload any, opts ...SendOption) error
}

// Message is what a Handler receives.
type Message struct {
	// Queue is the formatted name of the queue the message came from.
	Queue string
	ID    string
	// Body is the decoded JSON value when Raw starts with '{' or '[',
	// otherwise Raw itself.
	Body       any
	Raw        string
	Attributes map[string]string
	ReceivedAt time.Time
	Producer   Producer
}

// Unmarshal decodes the raw body into v.
func (m *Message) Unmarshal(v any) error {
	if err := json.Unmarshal([]byte(m.Raw), v); err != nil {
		return fmt.Errorf("failed to unmarshal message %s: %w", m.ID, err)
	}
	return nil
}

// emptyBody stands in for a message delivered without a body.
const emptyBody = "{}"

// decodeBody returns the raw body (defaulted) and its decoded form.
func decodeBody(body string) (string, any, error) {
	if body == "" {
		body = emptyBody
	}
	if body[0] != '{' && body[0] != '[' {
		return body, body, nil
	}

	var v any
	if err := json.Unmarshal([]byte(body), &v); err != nil {
		return body, nil, err
	}
	return body, v, nil
}
