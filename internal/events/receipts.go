package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/segmentio/kafka-go"

	"github.com/AnthonyGillesRudolfo/paypal-checkout-redirect/internal/checkout"
	"github.com/AnthonyGillesRudolfo/paypal-checkout-redirect/internal/email"
)

type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
}

// NewReceiptReader joins group on the checkout topic.
func NewReceiptReader(brokers []string, topic, group string) *kafka.Reader {
	if topic == "" {
		topic = DefaultTopic
	}
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  group,
		MinBytes: 1e3, MaxBytes: 10e6,
	})
}

// ReceiptWorker mails the payer when a checkout is captured or declined.
// Other event types are skipped.
type ReceiptWorker struct {
	Sender email.Sender
	// Fallback receives the mail when the event has no payer email.
	Fallback string
	Logger   *slog.Logger
}

// Run consumes until ctx is cancelled. Undecodable messages and failed sends
// are logged and skipped.
func (w *ReceiptWorker) Run(ctx context.Context, r messageReader) error {
	for {
		msg, err := r.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read message: %w", err)
		}
		if err := w.Handle(ctx, msg.Value); err != nil {
			w.logger().WarnContext(ctx, "receipt skipped", "offset", msg.Offset, "key", string(msg.Key), "error", err)
		}
	}
}

var errNoRecipient = errors.New("no recipient")

func (w *ReceiptWorker) Handle(ctx context.Context, value []byte) error {
	env, ev, err := DecodeAudit(value)
	if err != nil {
		return err
	}

	var (
		subject string
		render  func(email.Receipt) (string, error)
	)
	switch checkout.EventType(env.EventType) {
	case checkout.EventCaptured:
		subject, render = "Your payment receipt", email.RenderReceipt
	case checkout.EventDeclined:
		subject, render = "Your payment was not completed", email.RenderDeclined
	default:
		return nil
	}

	to := ev.PayerEmail
	if to == "" {
		to = w.Fallback
	}
	if to == "" {
		return fmt.Errorf("%s for order %s: %w", env.EventType, ev.OrderID, errNoRecipient)
	}

	body, err := render(email.Receipt{
		OrderID:       ev.OrderID,
		TransactionID: ev.TransactionID,
		Amount:        ev.Amount,
		Currency:      ev.Currency,
		PayerName:     ev.PayerName,
	})
	if err != nil {
		return fmt.Errorf("render %s: %w", env.EventType, err)
	}
	if err := w.Sender.Send(to, subject, body); err != nil {
		return fmt.Errorf("send %s to %s: %w", env.EventType, to, err)
	}
	w.logger().InfoContext(ctx, "receipt sent", "type", env.EventType, "order_id", ev.OrderID, "to", to)
	return nil
}

func (w *ReceiptWorker) logger() *slog.Logger {
	if w.Logger != nil {
		return w.Logger
	}
	return slog.Default()
}
