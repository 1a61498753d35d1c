package checkout

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/AnthonyGillesRudolfo/paypal-checkout-redirect/internal/paypal"
	"github.com/AnthonyGillesRudolfo/paypal-checkout-redirect/internal/pricing"
)

type Pricer interface {
	Price(ctx context.Context, lines []pricing.CartLine) (pricing.Breakdown, error)
}

// Gateway is the processor. *paypal.Client implements it.
type Gateway interface {
	CreateOrder(ctx context.Context, req paypal.OrderRequest, requestID string) (paypal.OrderResult, error)
	CaptureOrder(ctx context.Context, orderID string) (paypal.OrderResult, error)
	GetOrder(ctx context.Context, orderID string) (paypal.OrderResult, error)
}

const defaultAuditTimeout = 2 * time.Second

type Option func(*Service)

func WithAuditor(a Auditor) Option { return func(s *Service) { s.auditor = a } }

func WithLogger(l *slog.Logger) Option { return func(s *Service) { s.logger = l } }

func WithCallbackPaths(p paypal.CallbackPaths) Option { return func(s *Service) { s.paths = p } }

func WithAuditTimeout(d time.Duration) Option { return func(s *Service) { s.auditTimeout = d } }

// Service runs checkout attempts. It holds no per-attempt state; concurrent
// attempts only share the read-only catalog behind the Pricer.
type Service struct {
	pricer       Pricer
	gateway      Gateway
	auditor      Auditor
	logger       *slog.Logger
	paths        paypal.CallbackPaths
	auditTimeout time.Duration
	now          func() time.Time
}

func NewService(pricer Pricer, gateway Gateway, opts ...Option) *Service {
	s := &Service{
		pricer:       pricer,
		gateway:      gateway,
		logger:       slog.Default(),
		paths:        paypal.DefaultCallbackPaths,
		auditTimeout: defaultAuditTimeout,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.auditor == nil {
		s.auditor = LogAuditor{Logger: s.logger}
	}
	return s
}

// StartCheckout prices a single cart line, creates the PayPal order and
// returns the approval redirect. The returned error is non-nil only for
// infrastructure failures; the Outcome is always populated.
//
// Stock is checked but not reserved: two shoppers can both pass validation
// for the last unit.
func (s *Service) StartCheckout(ctx context.Context, line pricing.CartLine, origin, token string) (Outcome, error) {
	out := Outcome{State: StateCartReceived, Token: token}
	log := s.logger.With("token", token, "product_id", line.ProductID, "quantity", line.Quantity)

	if token == "" {
		out.State = StateErrored
		out.Detail = &Detail{Code: CodeMissingToken, Message: "checkout token is required"}
		log.WarnContext(ctx, "checkout rejected", "code", out.Detail.Code)
		s.audit(ctx, EventCreateFailed, out, nil)
		return out, nil
	}

	breakdown, err := s.pricer.Price(ctx, []pricing.CartLine{line})
	if err != nil {
		out.State = StateErrored
		out.Detail = detailFor(err)
		var verr *pricing.ValidationError
		if errors.As(err, &verr) {
			log.InfoContext(ctx, "checkout rejected", "code", out.Detail.Code, "reason", err)
			s.audit(ctx, EventCreateFailed, out, nil)
			return out, nil
		}
		log.ErrorContext(ctx, "pricing failed", "error", err)
		s.audit(ctx, EventCreateFailed, out, nil)
		return out, err
	}

	req, err := paypal.BuildOrderRequest(breakdown, origin, s.paths)
	if err != nil {
		out.State = StateErrored
		out.Detail = detailFor(err)
		log.WarnContext(ctx, "order request rejected", "error", err)
		s.audit(ctx, EventCreateFailed, out, &breakdown)
		return out, nil
	}

	res, err := s.gateway.CreateOrder(ctx, req, token)
	if err != nil {
		out.State = StateErrored
		out.Detail = detailFor(err)
		log.ErrorContext(ctx, "create order transport failure", "error", err)
		s.audit(ctx, EventCreateFailed, out, &breakdown)
		return out, err
	}

	href, err := ReconcileCreate(res)
	if err != nil {
		out.OrderID = res.Order.ID
		out.State = StateErrored
		out.Detail = detailFor(err)
		log.WarnContext(ctx, "create order failed", "order_id", out.OrderID, "code", out.Detail.Code, "error", err)
		s.audit(ctx, EventCreateFailed, out, &breakdown)
		return out, nil
	}

	out.OrderID = res.Order.ID
	out.State = StateApprovalPending
	out.RedirectURL = href
	log.InfoContext(ctx, "order created",
		"order_id", out.OrderID,
		"paypal_status", res.Order.Status,
		"replayed", res.Replayed,
		"total", breakdown.GrandTotal.StringFixed(2),
	)
	s.audit(ctx, EventOrderCreated, out, &breakdown)
	return out, nil
}

// CaptureCheckout captures an approved order. Like StartCheckout, only
// infrastructure failures are returned as errors.
func (s *Service) CaptureCheckout(ctx context.Context, orderID string) (Outcome, error) {
	out := Outcome{State: StateApprovalPending, OrderID: orderID}
	log := s.logger.With("order_id", orderID)

	if orderID == "" {
		out.State = StateErrored
		out.Detail = &Detail{Code: CodeMissingOrderID, Message: "order id is required"}
		log.WarnContext(ctx, "capture rejected", "code", out.Detail.Code)
		s.audit(ctx, EventCaptureFailed, out, nil)
		return out, nil
	}

	res, err := s.gateway.CaptureOrder(ctx, orderID)
	if err != nil {
		out.State = StateErrored
		out.Detail = detailFor(err)
		log.ErrorContext(ctx, "capture transport failure", "error", err)
		s.audit(ctx, EventCaptureFailed, out, nil)
		return out, err
	}

	cr, err := ReconcileCapture(res)
	if err != nil {
		out.State = StateErrored
		out.Detail = detailFor(err)
		log.WarnContext(ctx, "capture failed", "code", out.Detail.Code, "error", err)
		s.audit(ctx, EventCaptureFailed, out, nil)
		return out, nil
	}

	out.Capture = cr.Status
	out.TransactionID = cr.TransactionID
	ev := s.captureEvent(res.Order, cr)

	switch cr.Status {
	case CaptureCaptured:
		out.State = StateCaptured
		log.InfoContext(ctx, "payment captured", "transaction_id", cr.TransactionID, "kind", cr.Kind)
		ev.Type = EventCaptured
	case CaptureDeclined:
		out.State = StateDeclined
		out.Detail = &Detail{Code: CodeDeclined, Message: "the payment was declined"}
		log.InfoContext(ctx, "payment declined", "transaction_id", cr.TransactionID, "kind", cr.Kind)
		ev.Type = EventDeclined
	case CaptureMissing:
		out.State = StateDeclined
		out.Detail = &Detail{Code: CodeCaptureMissing, Message: "PayPal returned no capture or authorization"}
		log.WarnContext(ctx, "capture missing")
		ev.Type = EventDeclined
	}
	ev.State = out.State
	ev.Detail = out.Detail
	s.record(ctx, ev)
	return out, nil
}

// OrderDetails fetches the current order for display.
func (s *Service) OrderDetails(ctx context.Context, orderID string) (paypal.Order, error) {
	res, err := s.gateway.GetOrder(ctx, orderID)
	if err != nil {
		return paypal.Order{}, err
	}
	if res.Status != paypal.StatusOK {
		if res.Detail == nil {
			return paypal.Order{}, ErrUnexpectedShape
		}
		return paypal.Order{}, &ProcessorError{Detail: res.Detail}
	}
	return res.Order, nil
}

func (s *Service) captureEvent(order paypal.Order, cr CaptureResult) AuditEvent {
	ev := AuditEvent{OrderID: order.ID, TransactionID: cr.TransactionID}
	if cr.Amount != nil {
		ev.Amount = cr.Amount.Value
		ev.Currency = cr.Amount.CurrencyCode
	}
	if order.Payer != nil {
		ev.PayerEmail = order.Payer.EmailAddress
		if order.Payer.Name != nil {
			ev.PayerName = order.Payer.Name.GivenName
		}
	}
	return ev
}

func (s *Service) audit(ctx context.Context, typ EventType, out Outcome, b *pricing.Breakdown) {
	ev := AuditEvent{
		Type:          typ,
		Token:         out.Token,
		OrderID:       out.OrderID,
		TransactionID: out.TransactionID,
		State:         out.State,
		Detail:        out.Detail,
	}
	if b != nil {
		ev.Amount = b.GrandTotal.StringFixed(2)
		ev.Currency = b.Currency
		for _, it := range b.Items {
			ev.Items = append(ev.Items, AuditItem{ProductID: it.ProductID, Name: it.Name, Quantity: it.Quantity, UnitAmount: it.UnitAmount})
		}
	}
	s.record(ctx, ev)
}

// record publishes synchronously with a short deadline detached from the
// request's cancellation. Failures are logged, never surfaced.
func (s *Service) record(ctx context.Context, ev AuditEvent) {
	ev.At = s.now().UTC()
	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.auditTimeout)
	defer cancel()
	if err := s.auditor.Record(actx, ev); err != nil {
		s.logger.WarnContext(ctx, "audit publish failed", "type", ev.Type, "order_id", ev.OrderID, "error", err)
	}
}
