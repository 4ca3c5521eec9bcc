package testutils

import (
	"fmt"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/SwincikJr/cloud-solutions/pkg/queue"
)

// NewTestLogger creates a test logger that writes to testing.T
func NewTestLogger(t *testing.T) *zap.SugaredLogger {
	return zaptest.NewLogger(t).Sugar()
}

// NewRawMessage creates a delivered message with a receipt derived from id
func NewRawMessage(id, body string) queue.RawMessage {
	return queue.RawMessage{
		ID:       id,
		Body:     body,
		AckToken: "receipt-" + id,
	}
}

// NewRawMessages creates n messages with ids "<prefix>-0" .. "<prefix>-<n-1>"
// and a small JSON body each
func NewRawMessages(prefix string, n int) []queue.RawMessage {
	msgs := make([]queue.RawMessage, n)
	for i := range msgs {
		id := fmt.Sprintf("%s-%d", prefix, i)
		msgs[i] = NewRawMessage(id, fmt.Sprintf(`{"n":%d}`, i))
	}
	return msgs
}
