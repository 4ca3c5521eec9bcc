package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	Namespace = "events"

	// Status label values for success/error metrics
	StatusSuccess = "success"
	StatusError   = "error"

	// Nack reasons
	ReasonRejected = "rejected"
	ReasonError    = "error"

	// Provisioning outcomes
	OutcomeFound   = "found"
	OutcomeCreated = "created"
	OutcomeDeleted = "deleted"
	OutcomeError   = "error"

	Consumer  = "consumer"
	Publisher = "publisher"
	Provision = "provision"
	Backend   = "backend"
)

// Labels holds constant labels applied to all metrics.
// These are useful for distinguishing metrics from multiple consumer instances.
type Labels struct {
	Topic         string // Topic the instance is bound to
	Environment   string // Deployment environment (e.g., "production", "staging", "development")
	Region        string // Cloud region (e.g., "us-east-1", "eu-west-1")
	CloudProvider string // Queue provider (e.g., "aws", "local")
}

// toPrometheusLabels converts Labels to prometheus.Labels map.
// Only non-empty labels are included to avoid empty label values.
func (l Labels) toPrometheusLabels() prometheus.Labels {
	labels := prometheus.Labels{}
	if l.Topic != "" {
		labels["topic"] = l.Topic
	}
	if l.Environment != "" {
		labels["environment"] = l.Environment
	}
	if l.Region != "" {
		labels["region"] = l.Region
	}
	if l.CloudProvider != "" {
		labels["cloud_provider"] = l.CloudProvider
	}
	return labels
}

type Metrics struct {
	// Consumer loop
	fetchSweeps  prometheus.Counter
	fetchErrors  *prometheus.CounterVec // by queue
	drainPasses  prometheus.Counter
	bufferSize   prometheus.Gauge
	passDispatch prometheus.Histogram

	// Message outcomes
	messagesReceived *prometheus.CounterVec   // by queue
	messagesAcked    *prometheus.CounterVec   // by queue
	messagesNacked   *prometheus.CounterVec   // by queue, reason
	decodeFailures   *prometheus.CounterVec   // by queue
	handlerDuration  *prometheus.HistogramVec // by queue
	messagesInFlight prometheus.Gauge

	// Backend call failures that are logged and swallowed
	backendErrors *prometheus.CounterVec // by operation

	// Publisher
	publishAttempts *prometheus.CounterVec // by queue, status
	publishFailures *prometheus.CounterVec // by queue

	// Provisioner
	provisionOps *prometheus.CounterVec // by resource, outcome
}

// New creates a new Metrics instance and registers all metrics with the provided registerer.
// Returns an error if any metric registration fails.
// For metrics with constant labels, use NewWithLabels instead.
func New(reg prometheus.Registerer) (*Metrics, error) {
	return NewWithLabels(reg, Labels{})
}

// NewWithLabels creates a new Metrics instance with constant labels applied to all metrics.
func NewWithLabels(reg prometheus.Registerer, labels Labels) (*Metrics, error) {
	// Wrap the registerer with constant labels if any are provided
	promLabels := labels.toPrometheusLabels()
	if len(promLabels) > 0 {
		reg = prometheus.WrapRegistererWith(promLabels, reg)
	}

	return newMetrics(reg)
}

// newMetrics is the internal constructor that creates and registers all metrics.
func newMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		fetchSweeps: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: Consumer,
			Name:      "fetch_sweeps_total",
			Help:      "Total number of fetch sweeps over the registered queues",
		}),
		fetchErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: Consumer,
			Name:      "fetch_errors_total",
			Help:      "Total number of failed receive calls by queue",
		}, []string{"queue"}),
		drainPasses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: Consumer,
			Name:      "drain_passes_total",
			Help:      "Total number of drain passes over the buffer",
		}),
		bufferSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: Consumer,
			Name:      "buffer_size",
			Help:      "Number of fetched messages waiting to be dispatched",
		}),
		passDispatch: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: Consumer,
			Name:      "pass_dispatched_messages",
			Help:      "Messages dispatched per drain pass",
			Buckets:   []float64{1, 2, 5, 10, 20, 50, 100},
		}),
		messagesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: Consumer,
			Name:      "messages_received_total",
			Help:      "Total number of messages received by queue",
		}, []string{"queue"}),
		messagesAcked: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: Consumer,
			Name:      "messages_acked_total",
			Help:      "Total number of messages acked by queue",
		}, []string{"queue"}),
		messagesNacked: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: Consumer,
			Name:      "messages_nacked_total",
			Help:      "Total number of messages nacked by queue and reason (rejected/error)",
		}, []string{"queue", "reason"}),
		decodeFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: Consumer,
			Name:      "decode_failures_total",
			Help:      "Total number of malformed message bodies dropped by queue",
		}, []string{"queue"}),
		handlerDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: Consumer,
			Name:      "handler_duration_seconds",
			Help:      "Time spent in the message handler",
			// 1ms up to 60s
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"queue"}),
		messagesInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: Consumer,
			Name:      "messages_in_flight",
			Help:      "Number of messages currently being handled",
		}),
		backendErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: Backend,
			Name:      "errors_total",
			Help:      "Total number of swallowed backend errors by operation (ack/nack)",
		}, []string{"operation"}),
		publishAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: Publisher,
			Name:      "attempts_total",
			Help:      "Total number of send attempts by destination and status",
		}, []string{"queue", "status"}),
		publishFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: Publisher,
			Name:      "failures_total",
			Help:      "Total number of sends that exhausted their retry budget",
		}, []string{"queue"}),
		provisionOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: Provision,
			Name:      "operations_total",
			Help:      "Total provisioning operations by resource (topic/queue/subscription) and outcome",
		}, []string{"resource", "outcome"}),
	}

	err := errors.Join(
		reg.Register(m.fetchSweeps),
		reg.Register(m.fetchErrors),
		reg.Register(m.drainPasses),
		reg.Register(m.bufferSize),
		reg.Register(m.passDispatch),
		reg.Register(m.messagesReceived),
		reg.Register(m.messagesAcked),
		reg.Register(m.messagesNacked),
		reg.Register(m.decodeFailures),
		reg.Register(m.handlerDuration),
		reg.Register(m.messagesInFlight),
		reg.Register(m.backendErrors),
		reg.Register(m.publishAttempts),
		reg.Register(m.publishFailures),
		reg.Register(m.provisionOps),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}

// RecordFetchSweep counts one pass over all registered queues.
func (m *Metrics) RecordFetchSweep() {
	if m == nil {
		return
	}
	m.fetchSweeps.Inc()
}

// RecordFetchError counts a failed receive on queue.
func (m *Metrics) RecordFetchError(queue string) {
	if m == nil {
		return
	}
	m.fetchErrors.WithLabelValues(queue).Inc()
}

// RecordMessagesReceived adds count received messages for queue.
func (m *Metrics) RecordMessagesReceived(queue string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.messagesReceived.WithLabelValues(queue).Add(float64(count))
}

// RecordDrainPass records a drain pass and how many messages it dispatched.
func (m *Metrics) RecordDrainPass(dispatched int) {
	if m == nil {
		return
	}
	m.drainPasses.Inc()
	m.passDispatch.Observe(float64(dispatched))
}

// SetBufferSize updates the buffered message gauge.
func (m *Metrics) SetBufferSize(size int) {
	if m == nil {
		return
	}
	m.bufferSize.Set(float64(size))
}

// RecordAck counts an acked message.
func (m *Metrics) RecordAck(queue string) {
	if m == nil {
		return
	}
	m.messagesAcked.WithLabelValues(queue).Inc()
}

// RecordNack counts a nacked message. reason is ReasonRejected or ReasonError.
func (m *Metrics) RecordNack(queue, reason string) {
	if m == nil {
		return
	}
	m.messagesNacked.WithLabelValues(queue, reason).Inc()
}

// RecordDecodeFailure counts a malformed body that was dropped.
func (m *Metrics) RecordDecodeFailure(queue string) {
	if m == nil {
		return
	}
	m.decodeFailures.WithLabelValues(queue).Inc()
}

// ObserveHandlerDuration records how long a handler invocation took.
func (m *Metrics) ObserveHandlerDuration(queue string, seconds float64) {
	if m == nil {
		return
	}
	m.handlerDuration.WithLabelValues(queue).Observe(seconds)
}

// IncMessagesInFlight increments the in-flight message gauge.
func (m *Metrics) IncMessagesInFlight() {
	if m == nil {
		return
	}
	m.messagesInFlight.Inc()
}

// DecMessagesInFlight decrements the in-flight message gauge.
func (m *Metrics) DecMessagesInFlight() {
	if m == nil {
		return
	}
	m.messagesInFlight.Dec()
}

// RecordBackendError counts a backend failure that was logged and swallowed.
func (m *Metrics) RecordBackendError(operation string) {
	if m == nil {
		return
	}
	m.backendErrors.WithLabelValues(operation).Inc()
}

// RecordPublishAttempt records a single send attempt.
// Pass nil error for success, non-nil for failure.
func (m *Metrics) RecordPublishAttempt(queue string, err error) {
	if m == nil {
		return
	}
	status := StatusSuccess
	if err != nil {
		status = StatusError
	}
	m.publishAttempts.WithLabelValues(queue, status).Inc()
}

// RecordPublishFailure counts a send whose retry budget ran out.
func (m *Metrics) RecordPublishFailure(queue string) {
	if m == nil {
		return
	}
	m.publishFailures.WithLabelValues(queue).Inc()
}

// RecordProvision records a provisioning outcome for resource.
func (m *Metrics) RecordProvision(resource, outcome string) {
	if m == nil {
		return
	}
	m.provisionOps.WithLabelValues(resource, outcome).Inc()
}
