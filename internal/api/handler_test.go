package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AnthonyGillesRudolfo/paypal-checkout-redirect/internal/catalog"
	"github.com/AnthonyGillesRudolfo/paypal-checkout-redirect/internal/checkout"
	"github.com/AnthonyGillesRudolfo/paypal-checkout-redirect/internal/paypal"
	"github.com/AnthonyGillesRudolfo/paypal-checkout-redirect/internal/pricing"
)

type fakeCheckout struct {
	start    checkout.Outcome
	startErr error
	capture  checkout.Outcome
	order    paypal.Order
	orderErr error

	gotLine   pricing.CartLine
	gotOrigin string
	gotToken  string
	gotOrder  string
	calls     int
}

func (f *fakeCheckout) StartCheckout(_ context.Context, line pricing.CartLine, origin, token string) (checkout.Outcome, error) {
	f.calls++
	f.gotLine, f.gotOrigin, f.gotToken = line, origin, token
	out := f.start
	out.Token = token
	return out, f.startErr
}

func (f *fakeCheckout) CaptureCheckout(_ context.Context, orderID string) (checkout.Outcome, error) {
	f.calls++
	f.gotOrder = orderID
	out := f.capture
	out.OrderID = orderID
	return out, nil
}

func (f *fakeCheckout) OrderDetails(_ context.Context, orderID string) (paypal.Order, error) {
	f.gotOrder = orderID
	return f.order, f.orderErr
}

func newTestRouter(t *testing.T, f *fakeCheckout, publicBaseURL string) http.Handler {
	t.Helper()
	cat, err := catalog.Default()
	require.NoError(t, err)
	h, err := NewHandler(f, cat, HandlerConfig{Currency: "USD", PublicBaseURL: publicBaseURL})
	require.NoError(t, err)
	return NewRouter(h)
}

func serve(router http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func formRequest(path string, form url.Values) *http.Request {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

func jsonRequest(path, body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	return req
}

func failureDetail(t *testing.T, location string) checkout.Detail {
	t.Helper()
	u, err := url.Parse(location)
	require.NoError(t, err)
	assert.Equal(t, pathFailure, u.Path)
	return checkout.DecodeDetail(u.Query().Get("error"))
}

func TestHomeRedirectsToStart(t *testing.T) {
	rec := serve(newTestRouter(t, &fakeCheckout{}, ""), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, pathStart, rec.Header().Get("Location"))
}

func TestStartPageListsProducts(t *testing.T) {
	rec := serve(newTestRouter(t, &fakeCheckout{}, ""), httptest.NewRequest(http.MethodGet, pathStart, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "T-shirt")
	assert.Contains(t, body, "Hoodie")
	assert.Contains(t, body, `name="token"`)
}

func TestCreateOrderFormRedirectsToPayPal(t *testing.T) {
	f := &fakeCheckout{start: checkout.Outcome{
		State:       checkout.StateApprovalPending,
		OrderID:     "5O190127TN364715T",
		RedirectURL: "https://www.sandbox.paypal.com/checkoutnow?token=5O190127TN364715T",
	}}
	router := newTestRouter(t, f, "")

	req := formRequest("/api/paypal/create-order", url.Values{"id": {"1"}, "quantity": {"2"}, "token": {"tok-1"}})
	req.Host = "shop.example.com"
	rec := serve(router, req)

	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, f.start.RedirectURL, rec.Header().Get("Location"))
	assert.Equal(t, pricing.CartLine{ProductID: "1", Quantity: 2}, f.gotLine)
	assert.Equal(t, "http://shop.example.com", f.gotOrigin)
	assert.Equal(t, "tok-1", f.gotToken)
}

func TestCreateOrderTokenSources(t *testing.T) {
	f := &fakeCheckout{start: checkout.Outcome{State: checkout.StateApprovalPending, RedirectURL: "https://paypal.test/approve"}}
	router := newTestRouter(t, f, "https://shop.example.com/")

	req := jsonRequest("/api/paypal/create-order", `{"id":"1","quantity":1,"token":"body-token"}`)
	req.Header.Set(HeaderIdempotencyKey, "header-token")
	rec := serve(router, req)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "header-token", f.gotToken)
	assert.Equal(t, "https://shop.example.com", f.gotOrigin)

	var resp OutcomeResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, checkout.StateApprovalPending, resp.State)
	assert.Equal(t, "https://paypal.test/approve", resp.RedirectURL)
	assert.Equal(t, "header-token", resp.Token)

	rec = serve(router, jsonRequest("/api/paypal/create-order", `{"id":"1","quantity":1}`))
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.NotEmpty(t, f.gotToken)
	assert.NotEqual(t, "header-token", f.gotToken)
}

func TestCreateOrderForwardedProto(t *testing.T) {
	f := &fakeCheckout{start: checkout.Outcome{State: checkout.StateApprovalPending, RedirectURL: "https://paypal.test/approve"}}
	req := formRequest("/api/paypal/create-order", url.Values{"id": {"1"}, "quantity": {"1"}})
	req.Host = "shop.example.com"
	req.Header.Set("X-Forwarded-Proto", "https")
	serve(newTestRouter(t, f, ""), req)
	assert.Equal(t, "https://shop.example.com", f.gotOrigin)
}

func TestCreateOrderPublicBaseURLIgnoresRequestHeaders(t *testing.T) {
	f := &fakeCheckout{start: checkout.Outcome{State: checkout.StateApprovalPending, RedirectURL: "https://paypal.test/approve"}}
	req := formRequest("/api/paypal/create-order", url.Values{"id": {"1"}, "quantity": {"1"}})
	req.Host = "attacker.example.net"
	req.Header.Set("X-Forwarded-Proto", "http")
	serve(newTestRouter(t, f, "https://shop.example.com"), req)
	assert.Equal(t, "https://shop.example.com", f.gotOrigin)
}

func TestCreateOrderRejectsInvalidBody(t *testing.T) {
	tests := map[string]url.Values{
		"missing id":       {"quantity": {"1"}},
		"missing quantity": {"id": {"1"}},
		"zero quantity":    {"id": {"1"}, "quantity": {"0"}},
		"fraction":         {"id": {"1"}, "quantity": {"1.5"}},
		"not a number":     {"id": {"1"}, "quantity": {"two"}},
	}
	for name, form := range tests {
		t.Run(name, func(t *testing.T) {
			f := &fakeCheckout{}
			rec := serve(newTestRouter(t, f, ""), formRequest("/api/paypal/create-order", form))
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, rec.Body.String(), checkout.CodeInvalidRequest)
			assert.Zero(t, f.calls)
		})
	}
}

func TestCreateOrderUnsupportedMedia(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/paypal/create-order", strings.NewReader("id=1"))
	req.Header.Set("Content-Type", "text/plain")
	req.Header.Set("Accept", "application/json")
	rec := serve(newTestRouter(t, &fakeCheckout{}, ""), req)
	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
}

func TestCreateOrderFailureRedirect(t *testing.T) {
	f := &fakeCheckout{start: checkout.Outcome{
		State: checkout.StateErrored,
		Detail: &checkout.Detail{
			Code:       string(pricing.ReasonUnknownProduct),
			Message:    "unknown product 99",
			ProductID:  "99",
			Suggestion: "9",
		},
	}}
	rec := serve(newTestRouter(t, f, ""), formRequest("/api/paypal/create-order", url.Values{"id": {"99"}, "quantity": {"1"}}))

	require.Equal(t, http.StatusSeeOther, rec.Code)
	d := failureDetail(t, rec.Header().Get("Location"))
	assert.Equal(t, *f.start.Detail, d)
}

func TestCreateOrderJSONStatuses(t *testing.T) {
	tests := []struct {
		name   string
		out    checkout.Outcome
		status int
	}{
		{"validation", checkout.Outcome{State: checkout.StateErrored, Detail: &checkout.Detail{Code: string(pricing.ReasonOutOfStock)}}, http.StatusUnprocessableEntity},
		{"missing token", checkout.Outcome{State: checkout.StateErrored, Detail: &checkout.Detail{Code: checkout.CodeMissingToken}}, http.StatusBadRequest},
		{"processor", checkout.Outcome{State: checkout.StateErrored, Detail: &checkout.Detail{Code: "UNPROCESSABLE_ENTITY"}}, http.StatusBadGateway},
		{"transport", checkout.Outcome{State: checkout.StateErrored, Detail: &checkout.Detail{Code: checkout.CodeProcessorDown}}, http.StatusBadGateway},
		{"no detail", checkout.Outcome{State: checkout.StateErrored}, http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &fakeCheckout{start: tt.out}
			rec := serve(newTestRouter(t, f, ""), jsonRequest("/api/paypal/create-order", `{"id":"1","quantity":1}`))
			assert.Equal(t, tt.status, rec.Code)

			var resp ErrorResponse
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
			assert.NotEmpty(t, resp.Error)
			require.NotNil(t, resp.Detail)
		})
	}
}

func TestCaptureOrderRedirects(t *testing.T) {
	t.Run("captured", func(t *testing.T) {
		f := &fakeCheckout{capture: checkout.Outcome{State: checkout.StateCaptured, TransactionID: "3C679366HH908993F"}}
		rec := serve(newTestRouter(t, f, ""), formRequest("/api/paypal/capture-order", url.Values{"orderID": {"ORDER-1"}}))
		assert.Equal(t, http.StatusSeeOther, rec.Code)
		assert.Equal(t, pathComplete+"?token=ORDER-1", rec.Header().Get("Location"))
		assert.Equal(t, "ORDER-1", f.gotOrder)
	})

	t.Run("declined", func(t *testing.T) {
		f := &fakeCheckout{capture: checkout.Outcome{
			State:  checkout.StateDeclined,
			Detail: &checkout.Detail{Code: checkout.CodeDeclined, Message: "the payment was declined"},
		}}
		rec := serve(newTestRouter(t, f, ""), formRequest("/api/paypal/capture-order", url.Values{"orderID": {"ORDER-1"}}))
		require.Equal(t, http.StatusSeeOther, rec.Code)
		assert.Equal(t, checkout.CodeDeclined, failureDetail(t, rec.Header().Get("Location")).Code)
	})

	t.Run("declined json", func(t *testing.T) {
		f := &fakeCheckout{capture: checkout.Outcome{
			State:  checkout.StateDeclined,
			Detail: &checkout.Detail{Code: checkout.CodeCaptureMissing},
		}}
		rec := serve(newTestRouter(t, f, ""), jsonRequest("/api/paypal/capture-order", `{"orderID":"ORDER-1"}`))
		assert.Equal(t, http.StatusPaymentRequired, rec.Code)
	})

	t.Run("missing order id", func(t *testing.T) {
		f := &fakeCheckout{}
		rec := serve(newTestRouter(t, f, ""), formRequest("/api/paypal/capture-order", url.Values{}))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Zero(t, f.calls)
	})
}

func TestCaptureCheckoutPage(t *testing.T) {
	f := &fakeCheckout{order: paypal.Order{
		ID:     "ORDER-1",
		Status: "APPROVED",
		Payer: &paypal.Payer{
			EmailAddress: "buyer@example.com",
			Name:         &paypal.PayerName{GivenName: "Ada", Surname: "Lovelace"},
		},
		PurchaseUnits: []paypal.PurchaseUnitDetails{{
			Amount: &paypal.Amount{CurrencyCode: "USD", Value: "21.00"},
			Items:  []paypal.Item{{Name: "T-shirt", Quantity: "2", UnitAmount: paypal.Money{CurrencyCode: "USD", Value: "10.00"}}},
		}},
	}}
	rec := serve(newTestRouter(t, f, ""), httptest.NewRequest(http.MethodGet, "/app/capture-checkout?token=ORDER-1&PayerID=X", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ORDER-1", f.gotOrder)
	body := rec.Body.String()
	assert.Contains(t, body, "Ada Lovelace")
	assert.Contains(t, body, "21.00")
	assert.Contains(t, body, `name="orderID" value="ORDER-1"`)
}

func TestCaptureCheckoutPageErrors(t *testing.T) {
	rec := serve(newTestRouter(t, &fakeCheckout{}, ""), httptest.NewRequest(http.MethodGet, "/app/capture-checkout", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), checkout.CodeMissingOrderID)

	f := &fakeCheckout{orderErr: &checkout.ProcessorError{Detail: &paypal.ErrorDetail{Name: "RESOURCE_NOT_FOUND", Message: "order not found", DebugID: "dbg-1"}}}
	rec = serve(newTestRouter(t, f, ""), httptest.NewRequest(http.MethodGet, "/app/capture-checkout?token=NOPE", nil))
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, rec.Body.String(), "RESOURCE_NOT_FOUND")
	assert.Contains(t, rec.Body.String(), "dbg-1")
}

func TestCancelAndFailurePages(t *testing.T) {
	router := newTestRouter(t, &fakeCheckout{}, "")

	rec := serve(router, httptest.NewRequest(http.MethodGet, "/app/cancel-checkout?token=ORDER-9", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ORDER-9")

	d := checkout.Detail{Code: string(pricing.ReasonOutOfStock), Message: "only 3 left", Issues: []string{"A: b"}}
	rec = serve(router, httptest.NewRequest(http.MethodGet, pathFailure+"?error="+url.QueryEscape(d.Encode()), nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "only 3 left")
	assert.Contains(t, rec.Body.String(), "OUT_OF_STOCK")

	rec = serve(router, httptest.NewRequest(http.MethodGet, pathFailure+"?error=plain+text", nil))
	assert.Contains(t, rec.Body.String(), "plain text")
}

func TestHealthz(t *testing.T) {
	rec := serve(newTestRouter(t, &fakeCheckout{}, ""), httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}
