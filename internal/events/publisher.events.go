// internal/events/publisher.events.go
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/Leiito98/glowshot-ledger/shared/rabbitmq"
	"go.uber.org/zap"
)

// Publisher is satisfied by shared/kafka.KafkaProducer, RabbitPublisher
// and Noop.
type Publisher interface {
	Publish(ctx context.Context, key string, value interface{}) error
	Close() error
}

// Event types emitted by the ledger.
const (
	PaymentCredited     = "payment.credited"
	PaymentCreditFailed = "payment.credit_failed"
	JobCompleted        = "job.completed"
	JobFailed           = "job.failed"
)

// Envelope is the wire shape of every event.
type Envelope struct {
	Type       string      `json:"type"`
	OccurredAt time.Time   `json:"occurred_at"`
	Data       interface{} `json:"data"`
}

type PaymentData struct {
	PaymentID string `json:"payment_id"`
	Gateway   string `json:"gateway"`
	UserID    string `json:"user_id"`
	PlanID    string `json:"plan_id"`
	Credits   int    `json:"credits,omitempty"`
	Error     string `json:"error,omitempty"`
}

type JobData struct {
	JobID     string `json:"job_id"`
	UserID    string `json:"user_id"`
	Status    string `json:"status"`
	ResultURL string `json:"result_url,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Emit publishes best-effort: a failed publish is logged and never
// propagated, the ledger row is the source of truth.
func Emit(ctx context.Context, pub Publisher, logger *zap.Logger, key, eventType string, data interface{}) {
	if pub == nil {
		return
	}
	env := Envelope{Type: eventType, OccurredAt: time.Now().UTC(), Data: data}
	if err := pub.Publish(ctx, key, env); err != nil {
		logger.Warn("event publish failed", zap.String("type", eventType), zap.String("key", key), zap.Error(err))
	}
}

// Noop drops every event. Used when no broker is configured.
type Noop struct{}

func (Noop) Publish(context.Context, string, interface{}) error { return nil }
func (Noop) Close() error                                       { return nil }

// queuePublisher is the subset of rabbitmq.RabbitmqClient used here.
type queuePublisher interface {
	Publish(ctx context.Context, queueName string, body []byte) error
	Close() error
}

// RabbitPublisher routes every event to one durable queue.
type RabbitPublisher struct {
	client queuePublisher
	queue  string
}

// NewRabbitPublisher declares the queue and returns a ready publisher.
func NewRabbitPublisher(client *rabbitmq.RabbitmqClient, queue string) (*RabbitPublisher, error) {
	if err := client.CreateQueue(queue); err != nil {
		return nil, err
	}
	return &RabbitPublisher{client: client, queue: queue}, nil
}

func (p *RabbitPublisher) Publish(ctx context.Context, _ string, value interface{}) error {
	body, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return p.client.Publish(ctx, p.queue, body)
}

func (p *RabbitPublisher) Close() error {
	return p.client.Close()
}
