// Package checkout drives a single checkout attempt from cart submission to
// a terminal captured, declined or errored outcome.
package checkout

import (
	"errors"
	"fmt"

	"github.com/AnthonyGillesRudolfo/paypal-checkout-redirect/internal/paypal"
)

type State string

const (
	StateCartReceived    State = "CART_RECEIVED"
	StateOrderCreated    State = "ORDER_CREATED"
	StateApprovalPending State = "APPROVAL_PENDING"
	StateCaptured        State = "CAPTURED"
	StateDeclined        State = "DECLINED"
	StateErrored         State = "ERRORED"
)

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateCaptured || s == StateDeclined || s == StateErrored
}

type CaptureStatus string

const (
	CaptureCaptured CaptureStatus = "captured"
	CaptureDeclined CaptureStatus = "declined"
	CaptureMissing  CaptureStatus = "missing"
)

type RecordKind string

const (
	RecordCapture       RecordKind = "capture"
	RecordAuthorization RecordKind = "authorization"
)

// CaptureResult classifies the payment record found in a capture response.
type CaptureResult struct {
	Status        CaptureStatus
	TransactionID string
	Kind          RecordKind
	Amount        *paypal.Money
}

var (
	ErrNoPayerAction   = errors.New("checkout: order response has no payer-action link")
	ErrUnexpectedShape = errors.New("checkout: unexpected processor response shape")
)

// ProcessorError is a failure reported by PayPal in a tagged error result.
type ProcessorError struct {
	Detail *paypal.ErrorDetail
}

func (e *ProcessorError) Error() string {
	return fmt.Sprintf("paypal %d %s: %s", e.Detail.StatusCode, e.Detail.Name, e.Detail.Message)
}

// ReconcileCreate turns an order creation result into the approval URL the
// shopper is redirected to. The href is returned exactly as PayPal sent it.
func ReconcileCreate(res paypal.OrderResult) (string, error) {
	switch res.Status {
	case paypal.StatusOK:
		if res.Order.ID == "" {
			return "", fmt.Errorf("%w: order id missing", ErrUnexpectedShape)
		}
		link, ok := res.Order.PayerActionLink()
		if !ok || link.Href == "" {
			return "", ErrNoPayerAction
		}
		return link.Href, nil
	case paypal.StatusError:
		if res.Detail == nil {
			return "", fmt.Errorf("%w: error result without detail", ErrUnexpectedShape)
		}
		return "", &ProcessorError{Detail: res.Detail}
	default:
		return "", fmt.Errorf("%w: result status %q", ErrUnexpectedShape, res.Status)
	}
}

// ReconcileCapture inspects purchase_units[0].payments, preferring
// captures[0] over authorizations[0].
func ReconcileCapture(res paypal.OrderResult) (CaptureResult, error) {
	switch res.Status {
	case paypal.StatusOK:
	case paypal.StatusError:
		if res.Detail == nil {
			return CaptureResult{}, fmt.Errorf("%w: error result without detail", ErrUnexpectedShape)
		}
		return CaptureResult{}, &ProcessorError{Detail: res.Detail}
	default:
		return CaptureResult{}, fmt.Errorf("%w: result status %q", ErrUnexpectedShape, res.Status)
	}

	if len(res.Order.PurchaseUnits) == 0 || res.Order.PurchaseUnits[0].Payments == nil {
		return CaptureResult{Status: CaptureMissing}, nil
	}
	payments := res.Order.PurchaseUnits[0].Payments

	var (
		rec  paypal.PaymentRecord
		kind RecordKind
	)
	switch {
	case len(payments.Captures) > 0:
		rec, kind = payments.Captures[0], RecordCapture
	case len(payments.Authorizations) > 0:
		rec, kind = payments.Authorizations[0], RecordAuthorization
	default:
		return CaptureResult{Status: CaptureMissing}, nil
	}

	if rec.ID == "" {
		return CaptureResult{}, fmt.Errorf("%w: %s record without id", ErrUnexpectedShape, kind)
	}
	status := CaptureCaptured
	if rec.Status == paypal.StatusDeclined {
		status = CaptureDeclined
	}
	return CaptureResult{Status: status, TransactionID: rec.ID, Kind: kind, Amount: rec.Amount}, nil
}
