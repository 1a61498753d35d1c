package checkout

import (
	"encoding/json"
	"errors"

	"github.com/AnthonyGillesRudolfo/paypal-checkout-redirect/internal/paypal"
	"github.com/AnthonyGillesRudolfo/paypal-checkout-redirect/internal/pricing"
)

// Detail codes that are not pricing reasons or PayPal error names.
const (
	CodeMissingToken       = "MISSING_TOKEN"
	CodeMissingOrderID     = "MISSING_ORDER_ID"
	CodeInvalidRequest     = "INVALID_REQUEST"
	CodeProcessorDown      = "PROCESSOR_UNAVAILABLE"
	CodeNoPayerAction      = "NO_PAYER_ACTION"
	CodeUnexpectedResponse = "UNEXPECTED_RESPONSE"
	CodeDeclined           = "PAYMENT_DECLINED"
	CodeCaptureMissing     = "CAPTURE_MISSING"
	CodeInternal           = "INTERNAL"
)

// Detail is the user-displayable description of a failed attempt. It is
// serialized into the failure page URL.
type Detail struct {
	Code       string   `json:"code"`
	Message    string   `json:"message"`
	ProductID  string   `json:"product_id,omitempty"`
	Quantity   int      `json:"quantity,omitempty"`
	Suggestion string   `json:"suggestion,omitempty"`
	DebugID    string   `json:"debug_id,omitempty"`
	Issues     []string `json:"issues,omitempty"`
}

func (d Detail) Encode() string {
	b, _ := json.Marshal(d)
	return string(b)
}

// DecodeDetail parses a serialized Detail. Anything that is not a Detail
// JSON object is kept as the message.
func DecodeDetail(s string) Detail {
	var d Detail
	if err := json.Unmarshal([]byte(s), &d); err != nil || (d.Code == "" && d.Message == "") {
		return Detail{Code: CodeInternal, Message: s}
	}
	return d
}

// Outcome is the result of one step of a checkout attempt.
type Outcome struct {
	State         State
	Token         string
	OrderID       string
	RedirectURL   string
	Capture       CaptureStatus
	TransactionID string
	Detail        *Detail
}

func detailFor(err error) *Detail {
	var (
		verr *pricing.ValidationError
		perr *ProcessorError
	)
	switch {
	case errors.As(err, &verr):
		return &Detail{
			Code:       string(verr.Reason),
			Message:    verr.Error(),
			ProductID:  verr.ProductID,
			Quantity:   verr.Quantity,
			Suggestion: verr.Suggestion,
		}
	case errors.As(err, &perr):
		d := &Detail{Code: perr.Detail.Name, Message: perr.Detail.Message, DebugID: perr.Detail.DebugID}
		for _, is := range perr.Detail.Details {
			if is.Description != "" {
				d.Issues = append(d.Issues, is.Issue+": "+is.Description)
			} else {
				d.Issues = append(d.Issues, is.Issue)
			}
		}
		return d
	case errors.Is(err, ErrNoPayerAction):
		return &Detail{Code: CodeNoPayerAction, Message: "PayPal did not return an approval link"}
	case errors.Is(err, ErrUnexpectedShape):
		return &Detail{Code: CodeUnexpectedResponse, Message: err.Error()}
	case errors.Is(err, paypal.ErrEmptyBreakdown), errors.Is(err, paypal.ErrInvalidOrigin),
		errors.Is(err, paypal.ErrMissingRequestID), errors.Is(err, paypal.ErrRequestIDTooLong):
		return &Detail{Code: CodeInvalidRequest, Message: err.Error()}
	case paypal.IsTransport(err):
		return &Detail{Code: CodeProcessorDown, Message: "PayPal could not be reached, please try again"}
	default:
		return &Detail{Code: CodeInternal, Message: "checkout failed"}
	}
}
