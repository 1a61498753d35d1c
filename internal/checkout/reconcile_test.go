package checkout

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AnthonyGillesRudolfo/paypal-checkout-redirect/internal/paypal"
)

func okOrder(o paypal.Order) paypal.OrderResult {
	return paypal.OrderResult{Status: paypal.StatusOK, Order: o}
}

func withPayments(p *paypal.Payments) paypal.OrderResult {
	return okOrder(paypal.Order{ID: "O-1", Status: "COMPLETED", PurchaseUnits: []paypal.PurchaseUnitDetails{{Payments: p}}})
}

func TestReconcileCreateReturnsPayerActionHref(t *testing.T) {
	href := "https://www.sandbox.paypal.com/checkoutnow?token=O-1&x=a%20b"
	res := okOrder(paypal.Order{ID: "O-1", Links: []paypal.Link{
		{Href: "https://api/self", Rel: "self", Method: "GET"},
		{Href: "https://api/payer-action-patch", Rel: "payer-action", Method: "PATCH"},
		{Href: href, Rel: "payer-action", Method: "GET"},
	}})

	got, err := ReconcileCreate(res)
	require.NoError(t, err)
	assert.Equal(t, href, got)
}

func TestReconcileCreateMissingLink(t *testing.T) {
	_, err := ReconcileCreate(okOrder(paypal.Order{ID: "O-1", Links: []paypal.Link{{Href: "x", Rel: "self", Method: "GET"}}}))
	assert.ErrorIs(t, err, ErrNoPayerAction)
}

func TestReconcileCreateErrors(t *testing.T) {
	_, err := ReconcileCreate(okOrder(paypal.Order{}))
	assert.ErrorIs(t, err, ErrUnexpectedShape)

	_, err = ReconcileCreate(paypal.OrderResult{Status: paypal.StatusError})
	assert.ErrorIs(t, err, ErrUnexpectedShape)

	_, err = ReconcileCreate(paypal.OrderResult{})
	assert.ErrorIs(t, err, ErrUnexpectedShape)

	_, err = ReconcileCreate(paypal.OrderResult{Status: paypal.StatusError, Detail: &paypal.ErrorDetail{StatusCode: 422, Name: "UNPROCESSABLE_ENTITY"}})
	var perr *ProcessorError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "UNPROCESSABLE_ENTITY", perr.Detail.Name)
}

func TestReconcileCapture(t *testing.T) {
	tests := []struct {
		name  string
		res   paypal.OrderResult
		want  CaptureResult
		errIs error
	}{
		{
			name: "captured",
			res:  withPayments(&paypal.Payments{Captures: []paypal.PaymentRecord{{ID: "C-1", Status: "COMPLETED"}}}),
			want: CaptureResult{Status: CaptureCaptured, TransactionID: "C-1", Kind: RecordCapture},
		},
		{
			name: "pending capture still counts as captured",
			res:  withPayments(&paypal.Payments{Captures: []paypal.PaymentRecord{{ID: "C-2", Status: "PENDING"}}}),
			want: CaptureResult{Status: CaptureCaptured, TransactionID: "C-2", Kind: RecordCapture},
		},
		{
			name: "declined",
			res:  withPayments(&paypal.Payments{Captures: []paypal.PaymentRecord{{ID: "C-3", Status: "DECLINED"}}}),
			want: CaptureResult{Status: CaptureDeclined, TransactionID: "C-3", Kind: RecordCapture},
		},
		{
			name: "capture preferred over authorization",
			res: withPayments(&paypal.Payments{
				Captures:       []paypal.PaymentRecord{{ID: "C-4", Status: "COMPLETED"}},
				Authorizations: []paypal.PaymentRecord{{ID: "A-1", Status: "CREATED"}},
			}),
			want: CaptureResult{Status: CaptureCaptured, TransactionID: "C-4", Kind: RecordCapture},
		},
		{
			name: "authorization fallback",
			res:  withPayments(&paypal.Payments{Authorizations: []paypal.PaymentRecord{{ID: "A-2", Status: "CREATED"}}}),
			want: CaptureResult{Status: CaptureCaptured, TransactionID: "A-2", Kind: RecordAuthorization},
		},
		{
			name: "declined authorization",
			res:  withPayments(&paypal.Payments{Authorizations: []paypal.PaymentRecord{{ID: "A-3", Status: "DECLINED"}}}),
			want: CaptureResult{Status: CaptureDeclined, TransactionID: "A-3", Kind: RecordAuthorization},
		},
		{
			name: "both empty",
			res:  withPayments(&paypal.Payments{}),
			want: CaptureResult{Status: CaptureMissing},
		},
		{
			name: "no payments",
			res:  withPayments(nil),
			want: CaptureResult{Status: CaptureMissing},
		},
		{
			name: "no purchase units",
			res:  okOrder(paypal.Order{ID: "O-1"}),
			want: CaptureResult{Status: CaptureMissing},
		},
		{
			name:  "record without id",
			res:   withPayments(&paypal.Payments{Captures: []paypal.PaymentRecord{{Status: "COMPLETED"}}}),
			errIs: ErrUnexpectedShape,
		},
		{
			name:  "unknown result status",
			res:   paypal.OrderResult{Status: "weird"},
			errIs: ErrUnexpectedShape,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ReconcileCapture(tt.res)
			if tt.errIs != nil {
				assert.ErrorIs(t, err, tt.errIs)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestReconcileCaptureProcessorError(t *testing.T) {
	_, err := ReconcileCapture(paypal.OrderResult{Status: paypal.StatusError, Detail: &paypal.ErrorDetail{
		StatusCode: 422, Name: "UNPROCESSABLE_ENTITY", Message: "instrument declined",
		Details: []paypal.ErrorIssue{{Issue: "INSTRUMENT_DECLINED"}},
	}})
	var perr *ProcessorError
	require.ErrorAs(t, err, &perr)

	d := detailFor(err)
	assert.Equal(t, "UNPROCESSABLE_ENTITY", d.Code)
	assert.Equal(t, []string{"INSTRUMENT_DECLINED"}, d.Issues)
}

func TestStateTerminal(t *testing.T) {
	for _, s := range []State{StateCaptured, StateDeclined, StateErrored} {
		assert.True(t, s.Terminal(), s)
	}
	for _, s := range []State{StateCartReceived, StateOrderCreated, StateApprovalPending} {
		assert.False(t, s.Terminal(), s)
	}
}

func TestDetailRoundTrip(t *testing.T) {
	d := Detail{Code: "OUT_OF_STOCK", Message: "Hoodie 2 (qty: 9) is out of stock", ProductID: "2", Quantity: 9}
	assert.Equal(t, d, DecodeDetail(d.Encode()))

	assert.Equal(t, Detail{Code: CodeInternal, Message: "plain text"}, DecodeDetail("plain text"))
}
