package kafka

import (
	"context"
	"encoding/json"
	"time"

	"github.com/IBM/sarama"
)

type EventType string

const (
	EventSubmitted EventType = "task.submitted"
	EventCompleted EventType = "task.completed"
	EventFailed    EventType = "task.failed"
	EventDeleted   EventType = "task.deleted"
)

// Event is one task lifecycle notification.
type Event struct {
	Type       EventType `json:"type"`
	TaskID     string    `json:"task_id"`
	TraceID    string    `json:"trace_id,omitempty"`
	Status     string    `json:"status,omitempty"`
	Error      string    `json:"error,omitempty"`
	ModelURL   string    `json:"model_url,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

type Producer interface {
	Publish(ctx context.Context, event *Event) error
	Close() error
}

type producer struct {
	producer sarama.SyncProducer
	topic    string
}

func NewProducer(brokers []string, topic string) (Producer, error) {
	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5
	config.Producer.Return.Successes = true

	p, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, err
	}

	return &producer{producer: p, topic: topic}, nil
}

// NewProducerFrom wraps an existing sarama producer.
func NewProducerFrom(p sarama.SyncProducer, topic string) Producer {
	return &producer{producer: p, topic: topic}
}

func (p *producer) Publish(ctx context.Context, event *Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}

	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(event.TaskID),
		Value: sarama.ByteEncoder(data),
	}

	_, _, err = p.producer.SendMessage(msg)
	return err
}

func (p *producer) Close() error {
	return p.producer.Close()
}
