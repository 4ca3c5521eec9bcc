package events

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/SwincikJr/cloud-solutions/pkg/metrics"
	"github.com/SwincikJr/cloud-solutions/pkg/queue"
)

// Dispatcher decodes a buffered message, runs its handler and settles the
// message with exactly one ack or nack.
type Dispatcher struct {
	backend    queue.Backend
	log        *zap.SugaredLogger
	metrics    *metrics.Metrics
	producer   Producer
	throwError bool
	now        func() time.Time

	// pending tracks nacks issued in the background when throwError is set.
	pending sync.WaitGroup
}

// NewDispatcher creates a Dispatcher. producer is handed to handlers through
// Message.Producer and may be nil.
func NewDispatcher(backend queue.Backend, opts Options, producer Producer, log *zap.SugaredLogger, m *metrics.Metrics) *Dispatcher {
	return &Dispatcher{
		backend:    backend,
		log:        log,
		metrics:    m,
		producer:   producer,
		throwError: opts.ThrowError,
		now:        time.Now,
	}
}

// Dispatch handles one message. It returns a non-nil error only when the
// handler failed and the dispatcher was configured to throw; in every other
// case failures are settled and logged here.
func (d *Dispatcher) Dispatch(ctx context.Context, m inFlightMessage) error {
	d.metrics.IncMessagesInFlight()
	defer d.metrics.DecMessagesInFlight()

	// Settlement must outlive a cancelled loop context.
	settleCtx := context.WithoutCancel(ctx)

	raw, body, err := decodeBody(m.raw.Body)
	if err != nil {
		derr := &DecodeError{Queue: m.queue, MessageID: m.raw.ID, Err: err}
		d.log.Warnw("dropping message with malformed body", "queue", m.queue, "messageID", m.raw.ID, "error", derr)
		d.metrics.RecordDecodeFailure(m.queue)
		d.ack(settleCtx, m)
		return nil
	}

	msg := &Message{
		Queue:      m.queue,
		ID:         m.raw.ID,
		Body:       body,
		Raw:        raw,
		Attributes: m.raw.Attributes,
		ReceivedAt: m.receivedAt,
		Producer:   d.producer,
	}

	start := d.now()
	err = invoke(ctx, m.handler, msg)
	d.metrics.ObserveHandlerDuration(m.queue, d.now().Sub(start).Seconds())

	switch {
	case err == nil:
		d.ack(settleCtx, m)
		return nil
	case errors.Is(err, ErrReject):
		d.log.Debugw("message rejected", "queue", m.queue, "messageID", m.raw.ID)
		d.nack(settleCtx, m, metrics.ReasonRejected)
		return nil
	}

	herr := &HandlerError{Queue: m.queue, MessageID: m.raw.ID, Err: err}
	d.log.Errorw("handler failed", "queue", m.queue, "messageID", m.raw.ID, "error", err)
	if !d.throwError {
		d.nack(settleCtx, m, metrics.ReasonError)
		return nil
	}

	d.pending.Add(1)
	go func() {
		defer d.pending.Done()
		d.nack(settleCtx, m, metrics.ReasonError)
	}()
	return herr
}

// Wait blocks until background nacks have completed.
func (d *Dispatcher) Wait() {
	d.pending.Wait()
}

func invoke(ctx context.Context, h Handler, msg *Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(ctx, msg)
}

func (d *Dispatcher) ack(ctx context.Context, m inFlightMessage) {
	if err := d.backend.Delete(ctx, m.ref, m.raw.AckToken); err != nil {
		d.log.Errorw("failed to ack message", "queue", m.queue, "messageID", m.raw.ID, "error", err)
		d.metrics.RecordBackendError("delete")
		return
	}
	d.metrics.RecordAck(m.queue)
}

// nack makes the message visible again right away.
func (d *Dispatcher) nack(ctx context.Context, m inFlightMessage, reason string) {
	d.metrics.RecordNack(m.queue, reason)
	if err := d.backend.ChangeVisibility(ctx, m.ref, m.raw.AckToken, 0); err != nil {
		d.log.Errorw("failed to nack message", "queue", m.queue, "messageID", m.raw.ID, "error", err)
		d.metrics.RecordBackendError("change_visibility")
	}
}
