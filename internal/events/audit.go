package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/AnthonyGillesRudolfo/paypal-checkout-redirect/internal/checkout"
)

const auditEventVersion = "1"

// CheckoutAuditor publishes checkout audit events to Kafka.
type CheckoutAuditor struct {
	producer *Producer
	topic    string
}

func NewCheckoutAuditor(p *Producer, topic string) *CheckoutAuditor {
	if topic == "" {
		topic = DefaultTopic
	}
	return &CheckoutAuditor{producer: p, topic: topic}
}

func (a *CheckoutAuditor) Record(ctx context.Context, ev checkout.AuditEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode audit event: %w", err)
	}
	key := ev.OrderID
	if key == "" {
		key = ev.Token
	}
	return a.producer.Publish(ctx, a.topic, key, Envelope{
		EventType:    string(ev.Type),
		EventVersion: auditEventVersion,
		AggregateID:  key,
		Data:         data,
	})
}

// DecodeAudit parses a message value written by CheckoutAuditor.
func DecodeAudit(value []byte) (Envelope, checkout.AuditEvent, error) {
	var env Envelope
	if err := json.Unmarshal(value, &env); err != nil {
		return Envelope{}, checkout.AuditEvent{}, fmt.Errorf("decode envelope: %w", err)
	}
	var ev checkout.AuditEvent
	if err := json.Unmarshal(env.Data, &ev); err != nil {
		return env, checkout.AuditEvent{}, fmt.Errorf("decode %s data: %w", env.EventType, err)
	}
	return env, ev, nil
}
