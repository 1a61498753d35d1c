package paypal

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AnthonyGillesRudolfo/paypal-checkout-redirect/internal/pricing"
)

type fakePayPal struct {
	t *testing.T

	tokenCalls  atomic.Int32
	createCalls atomic.Int32

	mu       sync.Mutex
	headers  []http.Header
	bodies   [][]byte
	create   func(w http.ResponseWriter, r *http.Request)
	capture  func(w http.ResponseWriter, r *http.Request)
	tokenFor func(w http.ResponseWriter, r *http.Request)
}

func newFakePayPal(t *testing.T) (*fakePayPal, *httptest.Server) {
	f := &fakePayPal{t: t}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		f.tokenCalls.Add(1)
		if f.tokenFor != nil {
			f.tokenFor(w, r)
			return
		}
		id, secret, ok := r.BasicAuth()
		if !ok || id != "client" || secret != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "tok-A",
			"token_type":   "Bearer",
			"expires_in":   32400,
		})
	})
	mux.HandleFunc("POST /v2/checkout/orders", func(w http.ResponseWriter, r *http.Request) {
		f.createCalls.Add(1)
		body, _ := io.ReadAll(r.Body)
		f.mu.Lock()
		f.headers = append(f.headers, r.Header.Clone())
		f.bodies = append(f.bodies, body)
		f.mu.Unlock()
		if f.create != nil {
			f.create(w, r)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, `{"id":"5O190127TN364715T","status":"PAYER_ACTION_REQUIRED","links":[
			{"href":"https://api.sandbox.paypal.com/v2/checkout/orders/5O190127TN364715T","rel":"self","method":"GET"},
			{"href":"https://www.sandbox.paypal.com/checkoutnow?token=5O190127TN364715T","rel":"payer-action","method":"GET"}]}`)
	})
	mux.HandleFunc("POST /v2/checkout/orders/{id}/capture", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.headers = append(f.headers, r.Header.Clone())
		f.mu.Unlock()
		if f.capture != nil {
			f.capture(w, r)
			return
		}
		_, _ = io.WriteString(w, `{"id":"`+r.PathValue("id")+`","status":"COMPLETED","purchase_units":[{"payments":{"captures":[{"id":"3C679366HH908993F","status":"COMPLETED"}]}}]}`)
	})
	mux.HandleFunc("GET /v2/checkout/orders/{id}", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"id":"`+r.PathValue("id")+`","status":"APPROVED"}`)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return f, srv
}

func newTestClient(t *testing.T, baseURL string, opts ...Option) *Client {
	t.Helper()
	c, err := NewClient(Config{BaseURL: baseURL, ClientID: "client", ClientSecret: "secret", Timeout: 2 * time.Second}, opts...)
	require.NoError(t, err)
	return c
}

func sampleRequest(t *testing.T) OrderRequest {
	t.Helper()
	req, err := BuildOrderRequest(pricing.Breakdown{
		Currency:      "USD",
		Items:         []pricing.LineItem{{ProductID: "1", Name: "Plain T-Shirt", Quantity: 2, UnitAmount: "10.00"}},
		ItemTotal:     decimal.RequireFromString("20"),
		TaxTotal:      decimal.RequireFromString("1"),
		ShippingTotal: decimal.Zero,
		GrandTotal:    decimal.RequireFromString("21"),
	}, "http://localhost:8080", DefaultCallbackPaths)
	require.NoError(t, err)
	return req
}

func TestCreateOrderSendsIdempotencyHeaders(t *testing.T) {
	f, srv := newFakePayPal(t)
	c := newTestClient(t, srv.URL)

	res, err := c.CreateOrder(context.Background(), sampleRequest(t), "token-123")
	require.NoError(t, err)
	assert.Equal(t, StatusOK, res.Status)
	assert.Equal(t, "5O190127TN364715T", res.Order.ID)

	link, ok := res.Order.PayerActionLink()
	require.True(t, ok)
	assert.Equal(t, "https://www.sandbox.paypal.com/checkoutnow?token=5O190127TN364715T", link.Href)

	require.Len(t, f.headers, 1)
	h := f.headers[0]
	assert.Equal(t, "Bearer tok-A", h.Get("Authorization"))
	assert.Equal(t, "token-123", h.Get("PayPal-Request-Id"))
	assert.Equal(t, "return=minimal", h.Get("Prefer"))
	assert.Equal(t, "application/json", h.Get("Content-Type"))

	var sent map[string]any
	require.NoError(t, json.Unmarshal(f.bodies[0], &sent))
	assert.Equal(t, "CAPTURE", sent["intent"])
}

func TestTokenIsCached(t *testing.T) {
	f, srv := newFakePayPal(t)
	c := newTestClient(t, srv.URL)

	for i := 0; i < 3; i++ {
		_, err := c.GetOrder(context.Background(), "ORDER-1")
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), f.tokenCalls.Load())
}

func TestBusinessErrorIsTaggedResult(t *testing.T) {
	f, srv := newFakePayPal(t)
	f.create = func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Paypal-Debug-Id", "dbg-1")
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = io.WriteString(w, `{"name":"UNPROCESSABLE_ENTITY","message":"The requested action could not be performed.","details":[{"field":"/purchase_units/@reference_id=='default'/amount/value","issue":"AMOUNT_MISMATCH"}]}`)
	}
	c := newTestClient(t, srv.URL)

	res, err := c.CreateOrder(context.Background(), sampleRequest(t), "token-1")
	require.NoError(t, err)
	assert.Equal(t, StatusError, res.Status)
	require.NotNil(t, res.Detail)
	assert.Equal(t, http.StatusUnprocessableEntity, res.Detail.StatusCode)
	assert.Equal(t, "UNPROCESSABLE_ENTITY", res.Detail.Name)
	assert.Equal(t, "dbg-1", res.Detail.DebugID)
	require.Len(t, res.Detail.Details, 1)
	assert.Equal(t, "AMOUNT_MISMATCH", res.Detail.Details[0].Issue)
}

func TestNonJSONErrorBody(t *testing.T) {
	f, srv := newFakePayPal(t)
	f.create = func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = io.WriteString(w, "upstream exploded")
	}
	c := newTestClient(t, srv.URL)

	res, err := c.CreateOrder(context.Background(), sampleRequest(t), "token-1")
	require.NoError(t, err)
	assert.Equal(t, StatusError, res.Status)
	assert.Equal(t, "INTERNAL_SERVER_ERROR", res.Detail.Name)
	assert.Equal(t, "upstream exploded", res.Detail.Message)
}

func TestConnectionFailureIsTransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := newTestClient(t, url)
	_, err := c.CreateOrder(context.Background(), sampleRequest(t), "token-1")
	require.Error(t, err)
	assert.True(t, IsTransport(err))
}

func TestRejectedCredentialsAreTransportErrors(t *testing.T) {
	_, srv := newFakePayPal(t)
	c, err := NewClient(Config{BaseURL: srv.URL, ClientID: "client", ClientSecret: "wrong"})
	require.NoError(t, err)

	_, err = c.GetOrder(context.Background(), "ORDER-1")
	require.Error(t, err)
	assert.True(t, IsTransport(err))
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestUnauthorizedOrderCallInvalidatesToken(t *testing.T) {
	f, srv := newFakePayPal(t)
	var first atomic.Bool
	f.create = func(w http.ResponseWriter, r *http.Request) {
		if first.CompareAndSwap(false, true) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = io.WriteString(w, `{"id":"O-2","status":"PAYER_ACTION_REQUIRED"}`)
	}
	c := newTestClient(t, srv.URL)

	_, err := c.CreateOrder(context.Background(), sampleRequest(t), "token-1")
	assert.ErrorIs(t, err, ErrUnauthorized)

	res, err := c.CreateOrder(context.Background(), sampleRequest(t), "token-1")
	require.NoError(t, err)
	assert.Equal(t, "O-2", res.Order.ID)
	assert.Equal(t, int32(2), f.tokenCalls.Load())
}

func TestTimeoutIsTransportError(t *testing.T) {
	f, srv := newFakePayPal(t)
	release := make(chan struct{})
	f.create = func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}
	defer close(release)

	c, err := NewClient(Config{BaseURL: srv.URL, ClientID: "client", ClientSecret: "secret", Timeout: 100 * time.Millisecond})
	require.NoError(t, err)

	_, err = c.CreateOrder(context.Background(), sampleRequest(t), "token-1")
	require.Error(t, err)
	assert.True(t, IsTransport(err))
}

func TestConcurrentCreatesAreCoalesced(t *testing.T) {
	f, srv := newFakePayPal(t)
	gate := make(chan struct{})
	f.create = func(w http.ResponseWriter, r *http.Request) {
		<-gate
		_, _ = io.WriteString(w, `{"id":"O-1","status":"PAYER_ACTION_REQUIRED"}`)
	}
	c := newTestClient(t, srv.URL)
	// Warm the token so every goroutine goes straight to the order call.
	_, err := c.tokens.Token(context.Background())
	require.NoError(t, err)

	req := sampleRequest(t)
	var wg sync.WaitGroup
	results := make([]OrderResult, 5)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := c.CreateOrder(context.Background(), req, "same-token")
			assert.NoError(t, err)
			results[i] = res
		}(i)
	}
	require.Eventually(t, func() bool { return f.createCalls.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(gate)
	wg.Wait()

	assert.Equal(t, int32(1), f.createCalls.Load())
	for _, res := range results {
		assert.Equal(t, "O-1", res.Order.ID)
	}
}

func TestCoalescedCreateSurvivesFirstCallerCancel(t *testing.T) {
	f, srv := newFakePayPal(t)
	gate := make(chan struct{})
	f.create = func(w http.ResponseWriter, r *http.Request) {
		<-gate
		_, _ = io.WriteString(w, `{"id":"O-1","status":"PAYER_ACTION_REQUIRED"}`)
	}
	c := newTestClient(t, srv.URL)
	_, err := c.tokens.Token(context.Background())
	require.NoError(t, err)
	req := sampleRequest(t)

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := c.CreateOrder(firstCtx, req, "same-token")
		firstErr <- err
	}()
	require.Eventually(t, func() bool { return f.createCalls.Load() == 1 }, time.Second, 5*time.Millisecond)

	type outcome struct {
		res OrderResult
		err error
	}
	second := make(chan outcome, 1)
	go func() {
		res, err := c.CreateOrder(context.Background(), req, "same-token")
		second <- outcome{res, err}
	}()
	time.Sleep(20 * time.Millisecond)

	cancelFirst()
	err = <-firstErr
	require.Error(t, err)
	assert.True(t, IsTransport(err))
	assert.ErrorIs(t, err, context.Canceled)

	close(gate)
	got := <-second
	require.NoError(t, got.err)
	assert.Equal(t, "O-1", got.res.Order.ID)
	assert.Equal(t, int32(1), f.createCalls.Load())
}

func TestTokenFetchSurvivesFirstCallerCancel(t *testing.T) {
	f, srv := newFakePayPal(t)
	gate := make(chan struct{})
	f.tokenFor = func(w http.ResponseWriter, r *http.Request) {
		<-gate
		_ = json.NewEncoder(w).Encode(map[string]any{"access_token": "tok-B", "token_type": "Bearer", "expires_in": 32400})
	}
	c := newTestClient(t, srv.URL)

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := c.tokens.Token(firstCtx)
		firstErr <- err
	}()
	require.Eventually(t, func() bool { return f.tokenCalls.Load() == 1 }, time.Second, 5*time.Millisecond)

	second := make(chan string, 1)
	go func() {
		tok, err := c.tokens.Token(context.Background())
		assert.NoError(t, err)
		second <- tok
	}()
	time.Sleep(20 * time.Millisecond)

	cancelFirst()
	assert.ErrorIs(t, <-firstErr, context.Canceled)

	close(gate)
	assert.Equal(t, "tok-B", <-second)
	assert.Equal(t, int32(1), f.tokenCalls.Load())
}

type memStore struct {
	mu   sync.Mutex
	data map[string][]byte
	err  error
}

func (m *memStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, false, m.err
	}
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *memStore) Put(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	if _, ok := m.data[key]; !ok {
		m.data[key] = value
	}
	return nil
}

func TestReplayStoreAnswersRepeatedAttempt(t *testing.T) {
	f, srv := newFakePayPal(t)
	store := &memStore{data: map[string][]byte{}}
	c := newTestClient(t, srv.URL, WithReplayStore(store))

	first, err := c.CreateOrder(context.Background(), sampleRequest(t), "token-9")
	require.NoError(t, err)
	assert.False(t, first.Replayed)

	second, err := c.CreateOrder(context.Background(), sampleRequest(t), "token-9")
	require.NoError(t, err)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.Order.ID, second.Order.ID)
	assert.Equal(t, int32(1), f.createCalls.Load())
}

func TestReplayStoreFailureFallsThrough(t *testing.T) {
	f, srv := newFakePayPal(t)
	store := &memStore{data: map[string][]byte{}, err: errors.New("redis down")}
	c := newTestClient(t, srv.URL, WithReplayStore(store))

	res, err := c.CreateOrder(context.Background(), sampleRequest(t), "token-9")
	require.NoError(t, err)
	assert.Equal(t, StatusOK, res.Status)
	assert.Equal(t, int32(1), f.createCalls.Load())
}

func TestCreateOrderRequiresRequestID(t *testing.T) {
	_, srv := newFakePayPal(t)
	c := newTestClient(t, srv.URL)

	_, err := c.CreateOrder(context.Background(), sampleRequest(t), "")
	assert.ErrorIs(t, err, ErrMissingRequestID)

	long := make([]byte, 109)
	for i := range long {
		long[i] = 'a'
	}
	_, err = c.CreateOrder(context.Background(), sampleRequest(t), string(long))
	assert.ErrorIs(t, err, ErrRequestIDTooLong)
}

func TestCaptureOrderReturnsRepresentation(t *testing.T) {
	f, srv := newFakePayPal(t)
	c := newTestClient(t, srv.URL)

	res, err := c.CaptureOrder(context.Background(), "5O190127TN364715T")
	require.NoError(t, err)
	assert.Equal(t, "COMPLETED", res.Order.Status)
	require.Len(t, res.Order.PurchaseUnits, 1)
	assert.Equal(t, "3C679366HH908993F", res.Order.PurchaseUnits[0].Payments.Captures[0].ID)
	assert.Equal(t, "return=representation", f.headers[0].Get("Prefer"))
}

func TestNewClientRequiresCredentials(t *testing.T) {
	_, err := NewClient(Config{BaseURL: "http://localhost"})
	assert.ErrorIs(t, err, ErrMissingCredentials)
}
