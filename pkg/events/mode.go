package events

import (
	"fmt"
	"strings"

	"github.com/SwincikJr/cloud-solutions/pkg/queue"
)

// Mode selects the delivery mode of a topic and every queue subscribed to it.
type Mode int

const (
	// ModeStandard delivers without ordering guarantees.
	ModeStandard Mode = iota
	// ModeFIFO delivers in order within a message group.
	ModeFIFO
)

const fifoSuffix = ".fifo"

func (m Mode) String() string {
	switch m {
	case ModeFIFO:
		return "fifo"
	default:
		return "standard"
	}
}

// UnmarshalText accepts "standard", "fifo" and the boolean spellings of a
// fifo flag, so the mode can be set from EVENTS_MODE.
func (m *Mode) UnmarshalText(text []byte) error {
	switch strings.ToLower(strings.TrimSpace(string(text))) {
	case "", "standard", "false", "0":
		*m = ModeStandard
	case "fifo", "true", "1":
		*m = ModeFIFO
	default:
		return fmt.Errorf("unknown mode %q", string(text))
	}
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// IsFIFO reports whether m is ModeFIFO.
func (m Mode) IsFIFO() bool {
	return m == ModeFIFO
}

func (m Mode) suffix(name string) string {
	if m.IsFIFO() && !strings.HasSuffix(name, fifoSuffix) {
		return name + fifoSuffix
	}
	return name
}

// modeAttributes holds the attributes a mode injects into provisioning and
// sends. It is computed once from Options.
type modeAttributes struct {
	topic     map[string]string
	queue     map[string]string
	send      map[string]string
	groupID   string
	topicName string
}

func (m Mode) attributes(opts Options) modeAttributes {
	ma := modeAttributes{
		topic:     mergeAttrs(opts.TopicAttributes, nil),
		queue:     mergeAttrs(opts.QueueAttributes, nil),
		send:      mergeAttrs(opts.SendAttributes, nil),
		topicName: m.suffix(opts.TopicName),
	}
	if !m.IsFIFO() {
		return ma
	}

	ma.groupID = opts.groupID()
	ma.topic[queue.AttrFifoTopic] = "true"
	ma.topic[queue.AttrContentDeduplication] = "true"
	ma.queue[queue.AttrFifoQueue] = "true"
	ma.queue[queue.AttrContentDeduplication] = "true"
	ma.send[queue.AttrMessageGroupID] = ma.groupID
	return ma
}

// mergeAttrs returns a fresh map holding base overlaid with override.
func mergeAttrs(base, override map[string]string) map[string]string {
	out := make(map[string]string, len(base)+len(override))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range override {
		out[k] = v
	}
	return out
}
