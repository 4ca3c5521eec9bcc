package events

import (
	"time"

	"github.com/SwincikJr/cloud-solutions/pkg/queue"
)

// registration binds a loaded queue to its handler.
type registration struct {
	name    string
	ref     queue.QueueRef
	handler Handler
}

// inFlightMessage is a received message waiting in the buffer or being
// handled. It carries everything needed to ack or nack it later.
type inFlightMessage struct {
	queue      string
	ref        queue.QueueRef
	handler    Handler
	raw        queue.RawMessage
	receivedAt time.Time
}

// consumerState is owned by the consumer loop goroutine. No locking.
type consumerState struct {
	buffer []inFlightMessage
	slots  int
}

func (s *consumerState) push(msgs ...inFlightMessage) {
	s.buffer = append(s.buffer, msgs...)
}

// pop removes the oldest buffered message.
func (s *consumerState) pop() (inFlightMessage, bool) {
	if len(s.buffer) == 0 {
		return inFlightMessage{}, false
	}
	m := s.buffer[0]
	s.buffer[0] = inFlightMessage{}
	s.buffer = s.buffer[1:]
	return m, true
}

func (s *consumerState) len() int {
	return len(s.buffer)
}

// take consumes a slot if one is left.
func (s *consumerState) take() bool {
	if s.slots <= 0 {
		return false
	}
	s.slots--
	return true
}
