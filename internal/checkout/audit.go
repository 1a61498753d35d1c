package checkout

import (
	"context"
	"log/slog"
	"time"
)

type EventType string

const (
	EventOrderCreated  EventType = "CheckoutOrderCreated"
	EventCreateFailed  EventType = "CheckoutCreateFailed"
	EventCaptured      EventType = "CheckoutCaptured"
	EventDeclined      EventType = "CheckoutDeclined"
	EventCaptureFailed EventType = "CheckoutCaptureFailed"
)

type AuditItem struct {
	ProductID  string `json:"product_id"`
	Name       string `json:"name"`
	Quantity   int    `json:"quantity"`
	UnitAmount string `json:"unit_amount"`
}

// AuditEvent records one checkout step. It carries identifiers and amounts,
// never credentials.
type AuditEvent struct {
	Type          EventType   `json:"type"`
	Token         string      `json:"token,omitempty"`
	OrderID       string      `json:"order_id,omitempty"`
	TransactionID string      `json:"transaction_id,omitempty"`
	State         State       `json:"state"`
	Amount        string      `json:"amount,omitempty"`
	Currency      string      `json:"currency,omitempty"`
	Items         []AuditItem `json:"items,omitempty"`
	PayerEmail    string      `json:"payer_email,omitempty"`
	PayerName     string      `json:"payer_name,omitempty"`
	Detail        *Detail     `json:"detail,omitempty"`
	At            time.Time   `json:"at"`
}

type Auditor interface {
	Record(ctx context.Context, ev AuditEvent) error
}

// LogAuditor writes audit events to the structured log. It is the fallback
// when no broker is configured.
type LogAuditor struct {
	Logger *slog.Logger
}

func (a LogAuditor) Record(ctx context.Context, ev AuditEvent) error {
	l := a.Logger
	if l == nil {
		l = slog.Default()
	}
	attrs := []any{
		"type", ev.Type,
		"state", ev.State,
		"token", ev.Token,
		"order_id", ev.OrderID,
	}
	if ev.TransactionID != "" {
		attrs = append(attrs, "transaction_id", ev.TransactionID)
	}
	if ev.Amount != "" {
		attrs = append(attrs, "amount", ev.Amount, "currency", ev.Currency)
	}
	if ev.Detail != nil {
		attrs = append(attrs, "code", ev.Detail.Code)
	}
	l.InfoContext(ctx, "checkout audit", attrs...)
	return nil
}
