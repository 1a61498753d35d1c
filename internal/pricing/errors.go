package pricing

import "fmt"

type Reason string

const (
	ReasonEmptyCart       Reason = "EMPTY_CART"
	ReasonInvalidQuantity Reason = "INVALID_QUANTITY"
	ReasonUnknownProduct  Reason = "UNKNOWN_PRODUCT"
	ReasonOutOfStock      Reason = "OUT_OF_STOCK"
)

// ValidationError rejects a cart before anything is sent to the processor.
type ValidationError struct {
	Reason     Reason
	ProductID  string
	Name       string
	Quantity   int
	Stock      int
	Suggestion string
}

func (e *ValidationError) Error() string {
	switch e.Reason {
	case ReasonEmptyCart:
		return "cart is empty"
	case ReasonInvalidQuantity:
		return fmt.Sprintf("invalid quantity %d for product %s", e.Quantity, e.ProductID)
	case ReasonUnknownProduct:
		if e.Suggestion != "" {
			return fmt.Sprintf("invalid product ID %s (did you mean %s?)", e.ProductID, e.Suggestion)
		}
		return fmt.Sprintf("invalid product ID %s", e.ProductID)
	case ReasonOutOfStock:
		return fmt.Sprintf("%s %s (qty: %d) is out of stock", e.Name, e.ProductID, e.Quantity)
	default:
		return fmt.Sprintf("invalid cart: %s", e.Reason)
	}
}
