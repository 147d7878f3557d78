// Package events publishes ask-completed events to SQS for the downstream
// analytics pipeline, with an in-memory variant for tests and local runs.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

// AskCompletedEvent describes one finished ask. The question text itself is
// not carried; downstream consumers join on the request id when they need it.
type AskCompletedEvent struct {
	RequestID     string    `json:"request_id"`
	Lane          string    `json:"lane"`
	Provider      string    `json:"provider"`
	Outcome       string    `json:"outcome"`
	FallbackUsed  bool      `json:"fallback_used"`
	LatencyMs     int64     `json:"latency_ms"`
	TokenEstimate *int      `json:"token_estimate,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

type Publisher interface {
	Publish(ctx context.Context, event AskCompletedEvent) error
}

type SQSPublisher struct {
	client   *sqs.Client
	queueURL string
}

func NewSQSPublisher(ctx context.Context, region, queueURL string) (*SQSPublisher, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return NewSQSPublisherWithConfig(cfg, queueURL), nil
}

func NewSQSPublisherWithConfig(cfg aws.Config, queueURL string) *SQSPublisher {
	return &SQSPublisher{
		client:   sqs.NewFromConfig(cfg),
		queueURL: queueURL,
	}
}

func (p *SQSPublisher) Publish(ctx context.Context, event AskCompletedEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	_, err = p.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]sqstypes.MessageAttributeValue{
			"RequestID": {
				DataType:    aws.String("String"),
				StringValue: aws.String(event.RequestID),
			},
			"Lane": {
				DataType:    aws.String("String"),
				StringValue: aws.String(event.Lane),
			},
		},
	})
	if err != nil {
		return fmt.Errorf("send event: %w", err)
	}
	return nil
}

// InMemoryPublisher records events instead of sending them.
type InMemoryPublisher struct {
	mu     sync.Mutex
	events []AskCompletedEvent
}

func NewInMemoryPublisher() *InMemoryPublisher {
	return &InMemoryPublisher{}
}

func (p *InMemoryPublisher) Publish(_ context.Context, event AskCompletedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *InMemoryPublisher) Events() []AskCompletedEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]AskCompletedEvent, len(p.events))
	copy(out, p.events)
	return out
}
