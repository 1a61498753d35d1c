// Package pricing validates a cart against the catalog and computes the
// itemized breakdown sent to the payment processor.
package pricing

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/AnthonyGillesRudolfo/paypal-checkout-redirect/internal/catalog"
)

// Config carries the pricing constants. The engine never reads globals.
type Config struct {
	Currency string
	TaxRate  decimal.Decimal
	Shipping decimal.Decimal
}

// DefaultConfig is USD, 5% tax, free shipping.
func DefaultConfig() Config {
	return Config{
		Currency: "USD",
		TaxRate:  decimal.RequireFromString("0.05"),
		Shipping: decimal.Zero,
	}
}

// CartLine is a single product/quantity pair submitted for checkout.
type CartLine struct {
	ProductID string `json:"id"`
	Quantity  int    `json:"quantity"`
}

// LineItem is a priced cart line. UnitAmount is a 2dp string so the value
// never round-trips through a float.
type LineItem struct {
	ProductID   string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Category    string `json:"category"`
	Quantity    int    `json:"quantity"`
	UnitAmount  string `json:"unit_amount"`
}

// Breakdown is the priced cart. All totals are rounded to 2 places.
type Breakdown struct {
	Currency      string          `json:"currency"`
	Items         []LineItem      `json:"items"`
	ItemTotal     decimal.Decimal `json:"item_total"`
	TaxTotal      decimal.Decimal `json:"tax_total"`
	ShippingTotal decimal.Decimal `json:"shipping_total"`
	GrandTotal    decimal.Decimal `json:"grand_total"`
}

// Suggester is optionally implemented by catalogs that can propose a close
// match for an unknown product id.
type Suggester interface {
	Suggest(ctx context.Context, id string) string
}

type Engine struct {
	catalog catalog.Catalog
	cfg     Config
}

func NewEngine(c catalog.Catalog, cfg Config) *Engine {
	if cfg.Currency == "" {
		cfg.Currency = DefaultConfig().Currency
	}
	return &Engine{catalog: c, cfg: cfg}
}

// Config returns the constants this engine prices with.
func (e *Engine) Config() Config { return e.cfg }

// Price validates every line and returns the breakdown. Any invalid line
// fails the whole cart with a *ValidationError; catalog infrastructure
// failures are returned wrapped.
func (e *Engine) Price(ctx context.Context, lines []CartLine) (Breakdown, error) {
	if len(lines) == 0 {
		return Breakdown{}, &ValidationError{Reason: ReasonEmptyCart}
	}

	items := make([]LineItem, 0, len(lines))
	requested := make(map[string]int, len(lines))
	sum := decimal.Zero
	for _, line := range lines {
		if line.Quantity <= 0 {
			return Breakdown{}, &ValidationError{Reason: ReasonInvalidQuantity, ProductID: line.ProductID, Quantity: line.Quantity}
		}

		product, err := e.catalog.FindByID(ctx, line.ProductID)
		if errors.Is(err, catalog.ErrNotFound) {
			verr := &ValidationError{Reason: ReasonUnknownProduct, ProductID: line.ProductID, Quantity: line.Quantity}
			if s, ok := e.catalog.(Suggester); ok {
				verr.Suggestion = s.Suggest(ctx, line.ProductID)
			}
			return Breakdown{}, verr
		}
		if err != nil {
			return Breakdown{}, fmt.Errorf("lookup product %s: %w", line.ProductID, err)
		}

		// Stock bounds the cart's total for a product, not each line.
		requested[product.ID] += line.Quantity
		if requested[product.ID] > product.Stock {
			return Breakdown{}, &ValidationError{
				Reason:    ReasonOutOfStock,
				ProductID: product.ID,
				Name:      product.Name,
				Quantity:  requested[product.ID],
				Stock:     product.Stock,
			}
		}

		unit, err := decimal.NewFromString(product.Price)
		if err != nil {
			return Breakdown{}, fmt.Errorf("product %s has invalid price %q: %w", product.ID, product.Price, err)
		}
		// Items are sent at 2dp, so the sum must be built from the same amounts.
		unit = Round2(unit)

		items = append(items, LineItem{
			ProductID:   product.ID,
			Name:        product.Name,
			Description: product.Description,
			Category:    product.Category,
			Quantity:    line.Quantity,
			UnitAmount:  unit.StringFixed(2),
		})
		sum = sum.Add(unit.Mul(decimal.NewFromInt(int64(line.Quantity))))
	}

	// Rounding order matters: item total, then tax from the rounded item
	// total, then the grand total from the rounded parts.
	itemTotal := Round2(sum)
	taxTotal := Round2(itemTotal.Mul(e.cfg.TaxRate))
	shipping := Round2(e.cfg.Shipping)
	grandTotal := Round2(itemTotal.Add(shipping).Add(taxTotal))

	return Breakdown{
		Currency:      e.cfg.Currency,
		Items:         items,
		ItemTotal:     itemTotal,
		TaxTotal:      taxTotal,
		ShippingTotal: shipping,
		GrandTotal:    grandTotal,
	}, nil
}

// Round2 rounds half up to 2 decimal places. Amounts are never negative so
// decimal's half-away-from-zero rounding is half-up here.
func Round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}
