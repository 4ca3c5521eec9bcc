// Package queue defines the capability a message queue provider must expose
// for the events pipeline to run on top of it.
//
// A provider offers topics (fan-out points) and queues (durable, pull-based
// mailboxes subscribed to topics). Messages pulled from a queue stay owned by
// the consumer until they are deleted (ack) or their visibility is reset
// (nack), after which the provider may redeliver them.
//
// Implementations live in sub-packages: memory for an in-process provider and
// sqs for AWS SNS/SQS.
package queue
