// Package sqs implements queue.Backend on Amazon SNS topics and SQS queues.
package sqs

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	snstypes "github.com/aws/aws-sdk-go-v2/service/sns/types"
	awssqs "github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/aws/smithy-go"
	"go.uber.org/zap"

	"github.com/SwincikJr/cloud-solutions/pkg/queue"
)

const (
	protocolSQS = "sqs"
	attrDelay   = "DelaySeconds"

	codeNonExistentQueue = "AWS.SimpleQueueService.NonExistentQueue"
)

// SQS ReceiveMessage limits. Receive clamps its parameters to them.
const (
	MaxReceiveMessages   = 10
	MaxWaitTime          = 20 * time.Second
	MaxVisibilityTimeout = 12 * time.Hour
)

// queueURLPattern matches https://<service>.<region>.<domain>/<account>/<name>.
var queueURLPattern = regexp.MustCompile(`^https://(\w+)\.([\w-]+)\.([\w.]+)/(\w+)/([\w.-]+)$`)

// Backend talks to SNS and SQS through the given clients.
type Backend struct {
	sqs SQSAPI
	sns SNSAPI
	log *zap.SugaredLogger
}

var _ queue.Backend = (*Backend)(nil)

// New creates a Backend.
func New(sqsClient SQSAPI, snsClient SNSAPI, log *zap.SugaredLogger) *Backend {
	return &Backend{sqs: sqsClient, sns: snsClient, log: log}
}

func (b *Backend) CreateTopic(ctx context.Context, name string, attrs map[string]string) (queue.TopicRef, error) {
	out, err := b.sns.CreateTopic(ctx, &sns.CreateTopicInput{
		Name:       aws.String(name),
		Attributes: attrs,
	})
	if err != nil {
		return "", fmt.Errorf("failed to create topic %s: %w", name, err)
	}
	return queue.TopicRef(aws.ToString(out.TopicArn)), nil
}

// FindTopic lists every topic and returns the one whose ARN ends with name,
// or failing that the first whose ARN contains it.
func (b *Backend) FindTopic(ctx context.Context, name string) (queue.TopicRef, error) {
	var partial string
	p := sns.NewListTopicsPaginator(b.sns, &sns.ListTopicsInput{})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return "", fmt.Errorf("failed to list topics: %w", err)
		}
		for _, t := range page.Topics {
			arn := aws.ToString(t.TopicArn)
			if strings.HasSuffix(arn, ":"+name) {
				return queue.TopicRef(arn), nil
			}
			if partial == "" && strings.Contains(arn, name) {
				partial = arn
			}
		}
	}
	if partial != "" {
		return queue.TopicRef(partial), nil
	}
	return "", fmt.Errorf("topic %s: %w", name, queue.ErrNotFound)
}

func (b *Backend) DeleteTopic(ctx context.Context, topic queue.TopicRef) error {
	if _, err := b.sns.DeleteTopic(ctx, &sns.DeleteTopicInput{TopicArn: aws.String(string(topic))}); err != nil {
		return fmt.Errorf("failed to delete topic %s: %w", topic, err)
	}
	return nil
}

func (b *Backend) CreateQueue(ctx context.Context, name string, attrs map[string]string) (queue.QueueRef, error) {
	out, err := b.sqs.CreateQueue(ctx, &awssqs.CreateQueueInput{
		QueueName:  aws.String(name),
		Attributes: attrs,
	})
	if err != nil {
		return "", fmt.Errorf("failed to create queue %s: %w", name, err)
	}
	return queue.QueueRef(aws.ToString(out.QueueUrl)), nil
}

func (b *Backend) FindQueue(ctx context.Context, name string) (queue.QueueRef, error) {
	out, err := b.sqs.GetQueueUrl(ctx, &awssqs.GetQueueUrlInput{QueueName: aws.String(name)})
	if err != nil {
		if isQueueMissing(err) {
			return "", fmt.Errorf("queue %s: %w", name, queue.ErrNotFound)
		}
		return "", fmt.Errorf("failed to get queue url for %s: %w", name, err)
	}
	if aws.ToString(out.QueueUrl) == "" {
		return "", fmt.Errorf("queue %s: %w", name, queue.ErrNotFound)
	}
	return queue.QueueRef(aws.ToString(out.QueueUrl)), nil
}

func (b *Backend) DeleteQueue(ctx context.Context, q queue.QueueRef) error {
	if _, err := b.sqs.DeleteQueue(ctx, &awssqs.DeleteQueueInput{QueueUrl: aws.String(string(q))}); err != nil {
		return fmt.Errorf("failed to delete queue %s: %w", q, err)
	}
	return nil
}

// Subscribe subscribes the queue to the topic over the sqs protocol. The
// queue ARN is derived from its URL when the URL has the standard AWS form
// and read from the queue attributes otherwise.
func (b *Backend) Subscribe(ctx context.Context, q queue.QueueRef, topic queue.TopicRef, attrs map[string]string) (queue.SubscriptionRef, error) {
	arn, err := b.queueARN(ctx, q)
	if err != nil {
		return "", err
	}

	out, err := b.sns.Subscribe(ctx, &sns.SubscribeInput{
		Protocol:              aws.String(protocolSQS),
		TopicArn:              aws.String(string(topic)),
		Endpoint:              aws.String(arn),
		Attributes:            attrs,
		ReturnSubscriptionArn: true,
	})
	if err != nil {
		return "", fmt.Errorf("failed to subscribe %s to %s: %w", arn, topic, err)
	}
	b.log.Debugw("queue subscribed", "queueArn", arn, "topic", topic, "subscription", aws.ToString(out.SubscriptionArn))
	return queue.SubscriptionRef(aws.ToString(out.SubscriptionArn)), nil
}

func (b *Backend) SetSubscriptionAttribute(ctx context.Context, sub queue.SubscriptionRef, key, value string) error {
	_, err := b.sns.SetSubscriptionAttributes(ctx, &sns.SetSubscriptionAttributesInput{
		SubscriptionArn: aws.String(string(sub)),
		AttributeName:   aws.String(key),
		AttributeValue:  aws.String(value),
	})
	if err != nil {
		return fmt.Errorf("failed to set %s on subscription %s: %w", key, sub, err)
	}
	return nil
}

func (b *Backend) Receive(ctx context.Context, q queue.QueueRef, params queue.ReceiveParams) ([]queue.RawMessage, error) {
	in := &awssqs.ReceiveMessageInput{
		QueueUrl:                    aws.String(string(q)),
		MessageSystemAttributeNames: []sqstypes.MessageSystemAttributeName{sqstypes.MessageSystemAttributeNameAll},
		MessageAttributeNames:       []string{"All"},
		WaitTimeSeconds:             seconds(min(params.WaitTime, MaxWaitTime)),
	}
	if params.MaxMessages > 0 {
		in.MaxNumberOfMessages = int32(min(params.MaxMessages, MaxReceiveMessages))
	}
	if params.VisibilityTimeout > 0 {
		in.VisibilityTimeout = seconds(min(params.VisibilityTimeout, MaxVisibilityTimeout))
	}

	out, err := b.sqs.ReceiveMessage(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("failed to receive from %s: %w", q, err)
	}

	msgs := make([]queue.RawMessage, 0, len(out.Messages))
	for _, m := range out.Messages {
		msgs = append(msgs, queue.RawMessage{
			ID:         aws.ToString(m.MessageId),
			Body:       aws.ToString(m.Body),
			AckToken:   aws.ToString(m.ReceiptHandle),
			Attributes: messageAttributes(m),
		})
	}
	return msgs, nil
}

func (b *Backend) Delete(ctx context.Context, q queue.QueueRef, ackToken string) error {
	_, err := b.sqs.DeleteMessage(ctx, &awssqs.DeleteMessageInput{
		QueueUrl:      aws.String(string(q)),
		ReceiptHandle: aws.String(ackToken),
	})
	if err != nil {
		return fmt.Errorf("failed to delete message from %s: %w", q, err)
	}
	return nil
}

func (b *Backend) ChangeVisibility(ctx context.Context, q queue.QueueRef, ackToken string, timeout time.Duration) error {
	_, err := b.sqs.ChangeMessageVisibility(ctx, &awssqs.ChangeMessageVisibilityInput{
		QueueUrl:          aws.String(string(q)),
		ReceiptHandle:     aws.String(ackToken),
		VisibilityTimeout: seconds(timeout),
	})
	if err != nil {
		return fmt.Errorf("failed to change message visibility on %s: %w", q, err)
	}
	return nil
}

// Send maps MessageGroupId, MessageDeduplicationId and DelaySeconds onto the
// request. Every other attribute is sent as a String message attribute.
func (b *Backend) Send(ctx context.Context, q queue.QueueRef, body string, attrs map[string]string) error {
	in := &awssqs.SendMessageInput{
		QueueUrl:    aws.String(string(q)),
		MessageBody: aws.String(body),
	}
	for k, v := range attrs {
		switch k {
		case queue.AttrMessageGroupID:
			in.MessageGroupId = aws.String(v)
		case queue.AttrMessageDeduplicationID:
			in.MessageDeduplicationId = aws.String(v)
		case attrDelay:
			delay, err := strconv.ParseInt(v, 10, 32)
			if err != nil {
				return fmt.Errorf("invalid %s %q: %w", attrDelay, v, err)
			}
			in.DelaySeconds = int32(delay)
		default:
			if in.MessageAttributes == nil {
				in.MessageAttributes = make(map[string]sqstypes.MessageAttributeValue)
			}
			in.MessageAttributes[k] = sqstypes.MessageAttributeValue{
				DataType:    aws.String("String"),
				StringValue: aws.String(v),
			}
		}
	}

	if _, err := b.sqs.SendMessage(ctx, in); err != nil {
		return fmt.Errorf("failed to send message to %s: %w", q, err)
	}
	return nil
}

// Publish maps MessageGroupId and MessageDeduplicationId onto the request.
// Every other attribute is sent as a String message attribute.
func (b *Backend) Publish(ctx context.Context, topic queue.TopicRef, body string, attrs map[string]string) error {
	in := &sns.PublishInput{
		TopicArn: aws.String(string(topic)),
		Message:  aws.String(body),
	}
	for k, v := range attrs {
		switch k {
		case queue.AttrMessageGroupID:
			in.MessageGroupId = aws.String(v)
		case queue.AttrMessageDeduplicationID:
			in.MessageDeduplicationId = aws.String(v)
		default:
			if in.MessageAttributes == nil {
				in.MessageAttributes = make(map[string]snstypes.MessageAttributeValue)
			}
			in.MessageAttributes[k] = snstypes.MessageAttributeValue{
				DataType:    aws.String("String"),
				StringValue: aws.String(v),
			}
		}
	}

	if _, err := b.sns.Publish(ctx, in); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}
	return nil
}

func (b *Backend) queueARN(ctx context.Context, q queue.QueueRef) (string, error) {
	if arn, ok := queueURLToARN(string(q)); ok {
		return arn, nil
	}

	out, err := b.sqs.GetQueueAttributes(ctx, &awssqs.GetQueueAttributesInput{
		QueueUrl:       aws.String(string(q)),
		AttributeNames: []sqstypes.QueueAttributeName{sqstypes.QueueAttributeNameQueueArn},
	})
	if err != nil {
		return "", fmt.Errorf("failed to get queue arn for %s: %w", q, err)
	}
	arn := out.Attributes[string(sqstypes.QueueAttributeNameQueueArn)]
	if arn == "" {
		return "", fmt.Errorf("queue %s has no %s attribute", q, sqstypes.QueueAttributeNameQueueArn)
	}
	return arn, nil
}

// queueURLToARN converts https://sqs.<region>.amazonaws.com/<account>/<name>
// into arn:aws:sqs:<region>:<account>:<name>.
func queueURLToARN(url string) (string, bool) {
	if !queueURLPattern.MatchString(url) {
		return "", false
	}
	return queueURLPattern.ReplaceAllString(url, "arn:aws:${1}:${2}:${4}:${5}"), true
}

func isQueueMissing(err error) bool {
	var missing *sqstypes.QueueDoesNotExist
	if errors.As(err, &missing) {
		return true
	}
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode() == codeNonExistentQueue
}

// messageAttributes flattens system and String message attributes.
func messageAttributes(m sqstypes.Message) map[string]string {
	out := make(map[string]string, len(m.Attributes)+len(m.MessageAttributes))
	for k, v := range m.Attributes {
		out[k] = v
	}
	for k, v := range m.MessageAttributes {
		if v.StringValue != nil {
			out[k] = aws.ToString(v.StringValue)
		}
	}
	return out
}

func seconds(d time.Duration) int32 {
	return int32(d / time.Second)
}
