// Package events publishes account lifecycle events via SQS.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

// EventTypeAccountCreated is published after a new account is provisioned.
const EventTypeAccountCreated = "account.created"

// Publisher publishes account events to an async queue.
type Publisher interface {
	PublishAccountCreated(ctx context.Context, accountID string, data map[string]any) error
}

// EventPayload is the SQS message body for account events.
type EventPayload struct {
	EventType  string         `json:"eventType"`
	OccurredAt string         `json:"occurredAt"`
	AccountID  string         `json:"accountId"`
	Data       map[string]any `json:"data,omitempty"`
}

// SQSSender abstracts SQS send operations for dependency inversion.
type SQSSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// SQSPublisher publishes account events to an SQS queue.
type SQSPublisher struct {
	client   SQSSender
	queueURL string
	now      func() time.Time
}

// NewSQSPublisher creates a new SQSPublisher.
func NewSQSPublisher(client SQSSender, queueURL string) *SQSPublisher {
	return &SQSPublisher{
		client:   client,
		queueURL: queueURL,
		now:      time.Now,
	}
}

// PublishAccountCreated sends an account.created event to SQS.
func (p *SQSPublisher) PublishAccountCreated(ctx context.Context, accountID string, data map[string]any) error {
	msg := EventPayload{
		EventType:  EventTypeAccountCreated,
		OccurredAt: p.now().UTC().Format(time.RFC3339),
		AccountID:  accountID,
		Data:       data,
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	bodyStr := string(body)
	_, err = p.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    &p.queueURL,
		MessageBody: &bodyStr,
	})
	return err
}

// Discard is a Publisher that drops every event.
type Discard struct{}

// PublishAccountCreated implements Publisher.
func (Discard) PublishAccountCreated(context.Context, string, map[string]any) error { return nil }
