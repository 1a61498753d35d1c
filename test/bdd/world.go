package bdd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/cucumber/godog"

	"github.com/AnthonyGillesRudolfo/paypal-checkout-redirect/internal/api"
	"github.com/AnthonyGillesRudolfo/paypal-checkout-redirect/internal/catalog"
	"github.com/AnthonyGillesRudolfo/paypal-checkout-redirect/internal/checkout"
	"github.com/AnthonyGillesRudolfo/paypal-checkout-redirect/internal/paypal"
	"github.com/AnthonyGillesRudolfo/paypal-checkout-redirect/internal/pricing"
)

type captureMode int

const (
	captureCompleted captureMode = iota
	captureDeclined
	captureEmpty
)

// fakePayPal records what the checkout service sends and answers like the
// Orders v2 API.
type fakePayPal struct {
	mu           sync.Mutex
	orders       map[string]string
	createBodies []paypal.OrderRequest
	requestIDs   []string
	rejectWith   string
	capture      captureMode
}

func (f *fakePayPal) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"access_token": "bdd-token", "token_type": "Bearer", "expires_in": 32400})
	})
	mux.HandleFunc("POST /v2/checkout/orders", func(w http.ResponseWriter, r *http.Request) {
		var req paypal.OrderRequest
		_ = json.NewDecoder(r.Body).Decode(&req)

		requestID := r.Header.Get("PayPal-Request-Id")

		// The same PayPal-Request-Id yields the same order.
		f.mu.Lock()
		f.createBodies = append(f.createBodies, req)
		f.requestIDs = append(f.requestIDs, requestID)
		reject := f.rejectWith
		id, ok := f.orders[requestID]
		if !ok && reject == "" {
			id = fmt.Sprintf("ORDER-%d", len(f.orders)+1)
			f.orders[requestID] = id
		}
		f.mu.Unlock()

		if reject != "" {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
				"name":     reject,
				"message":  "The requested action could not be performed.",
				"debug_id": "bdd-debug",
				"details":  []map[string]string{{"issue": "ITEM_TOTAL_MISMATCH", "description": "Should equal sum of items."}},
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"id":     id,
			"status": "PAYER_ACTION_REQUIRED",
			"links": []map[string]string{
				{"href": "https://api.sandbox.paypal.com/v2/checkout/orders/" + id, "rel": "self", "method": "GET"},
				{"href": "https://www.sandbox.paypal.com/checkoutnow?token=" + id, "rel": "payer-action", "method": "GET"},
			},
		})
	})
	mux.HandleFunc("POST /v2/checkout/orders/{id}/capture", func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		f.mu.Lock()
		mode := f.capture
		f.mu.Unlock()

		unit := map[string]any{"reference_id": "default"}
		switch mode {
		case captureCompleted:
			unit["payments"] = map[string]any{"captures": []map[string]any{{"id": "CAP-" + id, "status": "COMPLETED", "amount": map[string]string{"currency_code": "USD", "value": "21.00"}}}}
		case captureDeclined:
			unit["payments"] = map[string]any{"captures": []map[string]any{{"id": "CAP-" + id, "status": "DECLINED"}}}
		}
		writeJSON(w, http.StatusCreated, map[string]any{
			"id":             id,
			"status":         "COMPLETED",
			"purchase_units": []any{unit},
			"payer":          map[string]any{"email_address": "buyer@example.com", "name": map[string]string{"given_name": "Ada", "surname": "Lovelace"}},
		})
	})
	mux.HandleFunc("GET /v2/checkout/orders/{id}", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"id":     r.PathValue("id"),
			"status": "APPROVED",
			"payer":  map[string]any{"email_address": "buyer@example.com", "name": map[string]string{"given_name": "Ada", "surname": "Lovelace"}},
			"purchase_units": []map[string]any{{
				"amount": map[string]string{"currency_code": "USD", "value": "21.00"},
			}},
		})
	})
	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type recordingAuditor struct {
	mu     sync.Mutex
	events []checkout.EventType
}

func (a *recordingAuditor) Record(_ context.Context, ev checkout.AuditEvent) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, ev.Type)
	return nil
}

func (a *recordingAuditor) types() []checkout.EventType {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]checkout.EventType(nil), a.events...)
}

// CheckoutWorld is the per-scenario state: a fake PayPal, the real checkout
// stack wired to it, and the last HTTP response.
type CheckoutWorld struct {
	t *testing.T

	paypal  *fakePayPal
	ppSrv   *httptest.Server
	appSrv  *httptest.Server
	auditor *recordingAuditor
	http    *http.Client

	lastStatus   int
	lastLocation string
	lastBody     string
}

func NewCheckoutWorld(t *testing.T) *CheckoutWorld {
	return &CheckoutWorld{t: t}
}

func (w *CheckoutWorld) Register(sc *godog.ScenarioContext) {
	sc.After(func(ctx context.Context, _ *godog.Scenario, _ error) (context.Context, error) {
		w.close()
		return ctx, nil
	})
	w.registerCheckoutSteps(sc)
}

func (w *CheckoutWorld) start() error {
	w.paypal = &fakePayPal{orders: map[string]string{}}
	w.ppSrv = httptest.NewServer(w.paypal.handler())

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	client, err := paypal.NewClient(paypal.Config{
		BaseURL:      w.ppSrv.URL,
		ClientID:     "bdd-client",
		ClientSecret: "bdd-secret",
	}, paypal.WithLogger(logger))
	if err != nil {
		return err
	}

	cat, err := catalog.Default()
	if err != nil {
		return err
	}
	w.auditor = &recordingAuditor{}
	svc := checkout.NewService(pricing.NewEngine(cat, pricing.DefaultConfig()), client,
		checkout.WithAuditor(w.auditor),
		checkout.WithLogger(logger),
	)
	h, err := api.NewHandler(svc, cat, api.HandlerConfig{Currency: "USD", Logger: logger})
	if err != nil {
		return err
	}
	w.appSrv = httptest.NewServer(api.NewRouter(h))
	w.http = &http.Client{
		CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse },
	}
	return nil
}

func (w *CheckoutWorld) close() {
	if w.appSrv != nil {
		w.appSrv.Close()
	}
	if w.ppSrv != nil {
		w.ppSrv.Close()
	}
}

func (w *CheckoutWorld) capture(resp *http.Response) error {
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	w.lastStatus = resp.StatusCode
	w.lastLocation = resp.Header.Get("Location")
	w.lastBody = string(b)
	return nil
}
