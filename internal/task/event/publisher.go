// Package event announces task completions to downstream consumers.
package event

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"judgebridge/internal/common/mq"
	"judgebridge/internal/task/model"
	appErr "judgebridge/pkg/errors"
)

// TypeTaskCompleted is the event type of a completion event.
const TypeTaskCompleted = "task.completed"

// CompletionEvent is published once per task, by the merge that moved it to DONE.
type CompletionEvent struct {
	Type string `json:"type"`
	// Source is the path that completed the task: poll, callback or submit.
	Source    string       `json:"source"`
	Record    model.Record `json:"record"`
	CreatedAt int64        `json:"created_at"`
}

// CompletionPublisher publishes completion events.
type CompletionPublisher interface {
	PublishCompleted(ctx context.Context, source string, rec model.Record) error
}

// NopPublisher discards events; used when no broker is configured.
type NopPublisher struct{}

func (NopPublisher) PublishCompleted(ctx context.Context, source string, rec model.Record) error {
	return nil
}

// MQCompletionPublisher publishes completion events to a message queue.
type MQCompletionPublisher struct {
	producer mq.Producer
	topic    string
}

// NewMQCompletionPublisher creates a new MQ completion publisher.
func NewMQCompletionPublisher(producer mq.Producer, topic string) *MQCompletionPublisher {
	return &MQCompletionPublisher{producer: producer, topic: topic}
}

// PublishCompleted publishes a completion event keyed by the task token.
func (p *MQCompletionPublisher) PublishCompleted(ctx context.Context, source string, rec model.Record) error {
	if p == nil || p.producer == nil {
		return appErr.New(appErr.ServiceUnavailable).WithMessage("completion publisher is not configured")
	}
	if p.topic == "" {
		return appErr.New(appErr.InvalidParams).WithMessage("completion topic is required")
	}
	if rec.Token == "" {
		return appErr.ValidationError("token", "required")
	}
	event := CompletionEvent{
		Type:      TypeTaskCompleted,
		Source:    source,
		Record:    rec,
		CreatedAt: time.Now().Unix(),
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal completion event failed: %w", err)
	}
	message := mq.NewMessage(rec.Token, payload)
	message.Headers["event-type"] = TypeTaskCompleted
	if err := p.producer.Publish(ctx, p.topic, message); err != nil {
		return appErr.Wrapf(err, appErr.ServiceUnavailable, "publish completion event failed")
	}
	return nil
}

// Close releases the underlying producer.
func (p *MQCompletionPublisher) Close() error {
	if p == nil || p.producer == nil {
		return nil
	}
	return p.producer.Close()
}
