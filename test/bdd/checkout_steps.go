package bdd

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/cucumber/godog"

	"github.com/AnthonyGillesRudolfo/paypal-checkout-redirect/internal/checkout"
)

func (w *CheckoutWorld) registerCheckoutSteps(sc *godog.ScenarioContext) {
	sc.Step(`^the checkout service is running against a fake PayPal$`, w.start)
	sc.Step(`^PayPal rejects order creation with "([^"]+)"$`, w.paypalRejects)
	sc.Step(`^PayPal declines captures$`, w.paypalDeclines)
	sc.Step(`^PayPal captures without payment records$`, w.paypalCapturesEmpty)

	sc.Step(`^I buy (\d+) of product "([^"]+)" with token "([^"]+)"$`, w.buy)
	sc.Step(`^PayPal returns me to the capture page for order "([^"]+)"$`, w.returnToCapturePage)
	sc.Step(`^PayPal cancels me back for order "([^"]+)"$`, w.cancelBack)
	sc.Step(`^I confirm the capture for order "([^"]+)"$`, w.confirmCapture)

	sc.Step(`^I am redirected to PayPal approval for order "([^"]+)"$`, w.assertApprovalRedirect)
	sc.Step(`^I am redirected to "([^"]+)"$`, w.assertRedirect)
	sc.Step(`^I am redirected to the failure page with code "([^"]+)"$`, w.assertFailureCode)
	sc.Step(`^the page shows "([^"]+)"$`, w.assertPageShows)
	sc.Step(`^PayPal received an order totalling "([^"]+)" USD with item total "([^"]+)" and tax "([^"]+)"$`, w.assertOrderTotals)
	sc.Step(`^PayPal received request id "([^"]+)"$`, w.assertRequestID)
	sc.Step(`^PayPal received no create-order calls$`, w.assertNoCreateCalls)
	sc.Step(`^PayPal received (\d+) create-order calls with request id "([^"]+)"$`, w.assertCreateCallsWithID)
	sc.Step(`^the audit log contains "([^"]+)"$`, w.assertAudit)
}

func (w *CheckoutWorld) paypalRejects(name string) error {
	w.paypal.mu.Lock()
	defer w.paypal.mu.Unlock()
	w.paypal.rejectWith = name
	return nil
}

func (w *CheckoutWorld) paypalDeclines() error {
	w.paypal.mu.Lock()
	defer w.paypal.mu.Unlock()
	w.paypal.capture = captureDeclined
	return nil
}

func (w *CheckoutWorld) paypalCapturesEmpty() error {
	w.paypal.mu.Lock()
	defer w.paypal.mu.Unlock()
	w.paypal.capture = captureEmpty
	return nil
}

func (w *CheckoutWorld) buy(quantity int, productID, token string) error {
	form := url.Values{"id": {productID}, "quantity": {fmt.Sprint(quantity)}, "token": {token}}
	resp, err := w.http.PostForm(w.appSrv.URL+"/api/paypal/create-order", form)
	if err != nil {
		return err
	}
	return w.capture(resp)
}

func (w *CheckoutWorld) returnToCapturePage(orderID string) error {
	return w.get("/app/capture-checkout?token=" + url.QueryEscape(orderID) + "&PayerID=BDDPAYER")
}

func (w *CheckoutWorld) cancelBack(orderID string) error {
	return w.get("/app/cancel-checkout?token=" + url.QueryEscape(orderID))
}

func (w *CheckoutWorld) confirmCapture(orderID string) error {
	resp, err := w.http.PostForm(w.appSrv.URL+"/api/paypal/capture-order", url.Values{"orderID": {orderID}})
	if err != nil {
		return err
	}
	return w.capture(resp)
}

func (w *CheckoutWorld) get(path string) error {
	resp, err := w.http.Get(w.appSrv.URL + path)
	if err != nil {
		return err
	}
	return w.capture(resp)
}

func (w *CheckoutWorld) assertApprovalRedirect(orderID string) error {
	want := "https://www.sandbox.paypal.com/checkoutnow?token=" + orderID
	return w.assertRedirect(want)
}

func (w *CheckoutWorld) assertRedirect(want string) error {
	if w.lastStatus != http.StatusSeeOther {
		return fmt.Errorf("expected 303, got %d: %s", w.lastStatus, w.lastBody)
	}
	if w.lastLocation != want {
		return fmt.Errorf("expected redirect to %q, got %q", want, w.lastLocation)
	}
	return nil
}

func (w *CheckoutWorld) assertFailureCode(code string) error {
	if w.lastStatus != http.StatusSeeOther {
		return fmt.Errorf("expected 303, got %d: %s", w.lastStatus, w.lastBody)
	}
	u, err := url.Parse(w.lastLocation)
	if err != nil {
		return err
	}
	if u.Path != "/app/create-order-failure" {
		return fmt.Errorf("expected failure page, got %q", w.lastLocation)
	}
	d := checkout.DecodeDetail(u.Query().Get("error"))
	if d.Code != code {
		return fmt.Errorf("expected failure code %q, got %q (%s)", code, d.Code, d.Message)
	}

	// The failure page must render what the redirect carried.
	if err := w.get(u.RequestURI()); err != nil {
		return err
	}
	return w.assertPageShows(code)
}

func (w *CheckoutWorld) assertPageShows(text string) error {
	if w.lastStatus != http.StatusOK {
		return fmt.Errorf("expected 200, got %d", w.lastStatus)
	}
	if !strings.Contains(w.lastBody, text) {
		return fmt.Errorf("page does not contain %q:\n%s", text, w.lastBody)
	}
	return nil
}

func (w *CheckoutWorld) assertOrderTotals(total, itemTotal, tax string) error {
	w.paypal.mu.Lock()
	defer w.paypal.mu.Unlock()
	if len(w.paypal.createBodies) == 0 {
		return fmt.Errorf("no create-order call recorded")
	}
	req := w.paypal.createBodies[len(w.paypal.createBodies)-1]
	if len(req.PurchaseUnits) != 1 {
		return fmt.Errorf("expected 1 purchase unit, got %d", len(req.PurchaseUnits))
	}
	amt := req.PurchaseUnits[0].Amount
	if amt.CurrencyCode != "USD" || amt.Value != total {
		return fmt.Errorf("expected USD %s, got %s %s", total, amt.CurrencyCode, amt.Value)
	}
	if amt.Breakdown == nil {
		return fmt.Errorf("amount has no breakdown")
	}
	if amt.Breakdown.ItemTotal.Value != itemTotal || amt.Breakdown.TaxTotal.Value != tax {
		return fmt.Errorf("expected item total %s tax %s, got %s / %s", itemTotal, tax, amt.Breakdown.ItemTotal.Value, amt.Breakdown.TaxTotal.Value)
	}
	return nil
}

func (w *CheckoutWorld) assertRequestID(id string) error {
	w.paypal.mu.Lock()
	defer w.paypal.mu.Unlock()
	if n := len(w.paypal.requestIDs); n == 0 || w.paypal.requestIDs[n-1] != id {
		return fmt.Errorf("expected PayPal-Request-Id %q, got %v", id, w.paypal.requestIDs)
	}
	return nil
}

func (w *CheckoutWorld) assertNoCreateCalls() error {
	w.paypal.mu.Lock()
	defer w.paypal.mu.Unlock()
	if n := len(w.paypal.requestIDs); n != 0 {
		return fmt.Errorf("expected no create-order calls, got %d", n)
	}
	return nil
}

func (w *CheckoutWorld) assertCreateCallsWithID(n int, id string) error {
	w.paypal.mu.Lock()
	defer w.paypal.mu.Unlock()
	if len(w.paypal.requestIDs) != n {
		return fmt.Errorf("expected %d create-order calls, got %d", n, len(w.paypal.requestIDs))
	}
	for _, got := range w.paypal.requestIDs {
		if got != id {
			return fmt.Errorf("expected request id %q on every call, got %v", id, w.paypal.requestIDs)
		}
	}
	return nil
}

func (w *CheckoutWorld) assertAudit(list string) error {
	var want []checkout.EventType
	for _, s := range strings.Split(list, ",") {
		want = append(want, checkout.EventType(strings.TrimSpace(s)))
	}
	got := w.auditor.types()
	if fmt.Sprint(got) != fmt.Sprint(want) {
		return fmt.Errorf("expected audit events %v, got %v", want, got)
	}
	return nil
}
