// Package events implements a topic fan-out pipeline on top of a
// queue.Backend.
//
// One Events value owns one topic. Queues loaded with LoadQueue are created
// on demand, subscribed to the topic and polled by a single loop that buffers
// received messages and hands them to their handlers in bounded passes:
//
//	e, err := events.New(backend, events.Options{TopicName: "orders", Prefix: "prod"}, log, m)
//	if err != nil {
//		return err
//	}
//	err = e.InitializeWith(ctx, func(ctx context.Context, e *events.Events) error {
//		return e.LoadQueue(ctx, handleOrder, "billing", "shipping")
//	})
//	if err != nil {
//		return err
//	}
//	return e.Start(ctx)
//
// Delivery is at least once. A handler that returns nil acks its message;
// anything else puts it back on the queue.
package events
