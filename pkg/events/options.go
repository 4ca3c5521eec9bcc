package events

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
)

// Default option values.
const (
	DefaultListenInterval      = 300 * time.Millisecond
	DefaultProcessInterval     = 300 * time.Millisecond
	DefaultMaxNumberOfMessages = 1
	DefaultRetryInterval       = 5 * time.Second
	DefaultRetryLimit          = 3
	DefaultVisibilityTimeout   = 120 * time.Second
)

// Options configures an Events instance.
type Options struct {
	TopicName string `env:"EVENTS_TOPIC_NAME"` // Topic every loaded queue subscribes to
	Prefix    string `env:"EVENTS_PREFIX"`     // Prepended to every queue name as "<prefix>-<name>"
	Mode      Mode   `env:"EVENTS_MODE"`       // "standard" or "fifo"

	ListenInterval      time.Duration `env:"EVENTS_LISTEN_INTERVAL"         validate:"gte=0"` // Sleep between fetch sweeps and between fetch retries
	ProcessInterval     time.Duration `env:"EVENTS_PROCESS_INTERVAL"        validate:"gte=0"` // Reserved
	MaxNumberOfMessages int           `env:"EVENTS_MAX_NUMBER_OF_MESSAGES"  validate:"gte=1"` // Per-queue fetch cap and per-pass concurrency cap
	RetryInterval       time.Duration `env:"EVENTS_RETRY_INTERVAL"          validate:"gte=0"` // Delay between publish retries
	RetryLimit          int           `env:"EVENTS_RETRY_LIMIT"             validate:"gte=0"` // Publish retries after the first attempt
	VisibilityTimeout   time.Duration `env:"EVENTS_VISIBILITY_TIMEOUT"      validate:"gte=0"` // How long a received message stays hidden
	WaitTime            time.Duration `env:"EVENTS_WAIT_TIME"               validate:"gte=0"` // Long-poll wait per receive call

	ThrowError      bool `env:"EVENTS_THROW_ERROR"`       // Stop the consumer with the handler error after nacking
	DeleteAllQueues bool `env:"EVENTS_DELETE_ALL_QUEUES"` // Teardown mode: LoadQueue deletes instead of registering

	TopicAttributes     map[string]string `env:"EVENTS_TOPIC_ATTRIBUTES"`
	QueueAttributes     map[string]string `env:"EVENTS_QUEUE_ATTRIBUTES"`
	SubscribeAttributes map[string]string `env:"EVENTS_SUBSCRIBE_ATTRIBUTES"`
	SendAttributes      map[string]string `env:"EVENTS_SEND_ATTRIBUTES"`

	// defaulted marks options derived from DefaultOptions, where zero values
	// are explicit settings rather than gaps to fill.
	defaulted bool
}

// DefaultOptions returns the hard-coded defaults. TopicName is left empty.
//
// Options built from DefaultOptions (or LoadOptions) are used as they are by
// New, so a field set to zero stays zero. A bare Options literal has its zero
// fields filled from the defaults instead.
func DefaultOptions() Options {
	return Options{
		defaulted:           true,
		ListenInterval:      DefaultListenInterval,
		ProcessInterval:     DefaultProcessInterval,
		MaxNumberOfMessages: DefaultMaxNumberOfMessages,
		RetryInterval:       DefaultRetryInterval,
		RetryLimit:          DefaultRetryLimit,
		VisibilityTimeout:   DefaultVisibilityTimeout,
	}
}

// LoadOptions reads Options from EVENTS_* environment variables on top of
// DefaultOptions. Map variables use the "key:value,key:value" form.
func LoadOptions() (Options, error) {
	opts := DefaultOptions()
	if err := env.Parse(&opts); err != nil {
		return Options{}, fmt.Errorf("failed to parse events options: %w", err)
	}
	return opts, nil
}

// Merge overlays override on base and returns the result; neither argument
// is modified.
//
// Precedence is call-site over instance over defaults: callers merge
// DefaultOptions with instance options, then with per-call options. A zero
// field in override leaves base untouched, so booleans can only be switched
// on and Mode can only move to ModeFIFO. Attribute maps merge key by key.
func Merge(base, override Options) Options {
	out := base
	if override.TopicName != "" {
		out.TopicName = override.TopicName
	}
	if override.Prefix != "" {
		out.Prefix = override.Prefix
	}
	if override.Mode != ModeStandard {
		out.Mode = override.Mode
	}
	if override.ListenInterval != 0 {
		out.ListenInterval = override.ListenInterval
	}
	if override.ProcessInterval != 0 {
		out.ProcessInterval = override.ProcessInterval
	}
	if override.MaxNumberOfMessages != 0 {
		out.MaxNumberOfMessages = override.MaxNumberOfMessages
	}
	if override.RetryInterval != 0 {
		out.RetryInterval = override.RetryInterval
	}
	if override.RetryLimit != 0 {
		out.RetryLimit = override.RetryLimit
	}
	if override.VisibilityTimeout != 0 {
		out.VisibilityTimeout = override.VisibilityTimeout
	}
	if override.WaitTime != 0 {
		out.WaitTime = override.WaitTime
	}
	out.ThrowError = base.ThrowError || override.ThrowError
	out.DeleteAllQueues = base.DeleteAllQueues || override.DeleteAllQueues

	out.TopicAttributes = mergeAttrs(base.TopicAttributes, override.TopicAttributes)
	out.QueueAttributes = mergeAttrs(base.QueueAttributes, override.QueueAttributes)
	out.SubscribeAttributes = mergeAttrs(base.SubscribeAttributes, override.SubscribeAttributes)
	out.SendAttributes = mergeAttrs(base.SendAttributes, override.SendAttributes)
	out.defaulted = base.defaulted || override.defaulted
	return out
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the options a running pipeline depends on.
func (o Options) Validate() error {
	if strings.TrimSpace(o.TopicName) == "" {
		return ErrTopicNameRequired
	}
	if err := validate.Struct(o); err != nil {
		return fmt.Errorf("invalid events options: %w", err)
	}
	return nil
}

// prefix returns the trimmed queue name prefix.
func (o Options) prefix() string {
	return strings.TrimSpace(o.Prefix)
}

// groupID is the FIFO message group used for sends and subscriptions: the
// prefix when set, the topic name otherwise.
func (o Options) groupID() string {
	if p := o.prefix(); p != "" {
		return p
	}
	return o.TopicName
}

// withDefaults fills the zero fields of a bare Options literal from
// DefaultOptions. Options that already derive from DefaultOptions are
// returned unchanged.
func (o Options) withDefaults() Options {
	if o.defaulted {
		return o
	}
	return Merge(DefaultOptions(), o)
}
