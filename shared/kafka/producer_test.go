package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	skafka "github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// fakeWriter is a test writer that records messages written.
type fakeWriter struct {
	msgs []skafka.Message
	err  error
}

func (f *fakeWriter) WriteMessages(ctx context.Context, msgs ...skafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error { return nil }

func TestPublish(t *testing.T) {
	fw := &fakeWriter{}
	p := NewKafkaProducerWithWriter(fw, zap.NewNop())
	err := p.Publish(context.Background(), "mercadopago:123", map[string]string{"type": "payment.credited"})
	if err != nil {
		t.Fatalf("publish failed: %v", err)
	}
	if len(fw.msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(fw.msgs))
	}
	if string(fw.msgs[0].Key) != "mercadopago:123" {
		t.Errorf("key = %q", fw.msgs[0].Key)
	}
	var body map[string]string
	if err := json.Unmarshal(fw.msgs[0].Value, &body); err != nil || body["type"] != "payment.credited" {
		t.Errorf("unexpected value %s (%v)", fw.msgs[0].Value, err)
	}
}

func TestPublish_Errors(t *testing.T) {
	writeErr := errors.New("broker down")
	p := NewKafkaProducerWithWriter(&fakeWriter{err: writeErr}, nil)
	if err := p.Publish(context.Background(), "k", "v"); !errors.Is(err, writeErr) {
		t.Fatalf("expected wrapped write error, got %v", err)
	}
	if err := p.Publish(context.Background(), "k", make(chan int)); err == nil {
		t.Fatal("expected marshal error")
	}
}
