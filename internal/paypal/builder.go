package paypal

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/AnthonyGillesRudolfo/paypal-checkout-redirect/internal/pricing"
)

// CallbackPaths are the routes PayPal sends the shopper back to.
type CallbackPaths struct {
	Capture string
	Cancel  string
}

var DefaultCallbackPaths = CallbackPaths{
	Capture: "/app/capture-checkout",
	Cancel:  "/app/cancel-checkout",
}

// BuildOrderRequest assembles the order creation body from a priced cart.
// origin is scheme://host of the incoming request, without a path.
func BuildOrderRequest(b pricing.Breakdown, origin string, paths CallbackPaths) (OrderRequest, error) {
	if len(b.Items) == 0 {
		return OrderRequest{}, ErrEmptyBreakdown
	}
	origin, err := normalizeOrigin(origin)
	if err != nil {
		return OrderRequest{}, err
	}

	money := func(v string) Money { return Money{CurrencyCode: b.Currency, Value: v} }

	items := make([]Item, 0, len(b.Items))
	for _, it := range b.Items {
		items = append(items, Item{
			Name:        it.Name,
			ID:          it.ProductID,
			Description: it.Description,
			Category:    it.Category,
			Quantity:    strconv.Itoa(it.Quantity),
			UnitAmount:  money(it.UnitAmount),
		})
	}

	return OrderRequest{
		Intent: IntentCapture,
		PurchaseUnits: []PurchaseUnit{{
			Amount: Amount{
				CurrencyCode: b.Currency,
				Value:        b.GrandTotal.StringFixed(2),
				Breakdown: &AmountBreakdown{
					// item_total is required whenever items are present.
					ItemTotal: money(b.ItemTotal.StringFixed(2)),
					Shipping:  money(b.ShippingTotal.StringFixed(2)),
					TaxTotal:  money(b.TaxTotal.StringFixed(2)),
				},
			},
			Items: items,
		}},
		PaymentSource: &PaymentSource{
			PayPal: &PayPalWallet{
				ExperienceContext: ExperienceContext{
					UserAction: UserActionContinue,
					ReturnURL:  origin + paths.Capture,
					CancelURL:  origin + paths.Cancel,
				},
			},
		},
	}, nil
}

func normalizeOrigin(origin string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(origin))
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return "", ErrInvalidOrigin
	}
	return u.Scheme + "://" + u.Host, nil
}
