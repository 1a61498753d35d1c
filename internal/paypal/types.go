package paypal

// Orders v2 request/response shapes. Only the fields this service reads or
// writes are modelled.

const (
	IntentCapture = "CAPTURE"

	UserActionContinue = "CONTINUE"
	UserActionPayNow   = "PAY_NOW"

	RelPayerAction = "payer-action"

	StatusDeclined = "DECLINED"
)

type Money struct {
	CurrencyCode string `json:"currency_code"`
	Value        string `json:"value"`
}

type AmountBreakdown struct {
	ItemTotal Money `json:"item_total"`
	Shipping  Money `json:"shipping"`
	TaxTotal  Money `json:"tax_total"`
}

type Amount struct {
	CurrencyCode string           `json:"currency_code"`
	Value        string           `json:"value"`
	Breakdown    *AmountBreakdown `json:"breakdown,omitempty"`
}

type Item struct {
	Name        string `json:"name"`
	ID          string `json:"id,omitempty"`
	Description string `json:"description,omitempty"`
	Category    string `json:"category,omitempty"`
	Quantity    string `json:"quantity"`
	UnitAmount  Money  `json:"unit_amount"`
}

type PurchaseUnit struct {
	Amount Amount `json:"amount"`
	Items  []Item `json:"items,omitempty"`
}

type ExperienceContext struct {
	UserAction string `json:"user_action"`
	ReturnURL  string `json:"return_url"`
	CancelURL  string `json:"cancel_url"`
}

type PayPalWallet struct {
	ExperienceContext ExperienceContext `json:"experience_context"`
}

type PaymentSource struct {
	PayPal *PayPalWallet `json:"paypal,omitempty"`
}

// OrderRequest is the body of POST /v2/checkout/orders.
type OrderRequest struct {
	Intent        string         `json:"intent"`
	PurchaseUnits []PurchaseUnit `json:"purchase_units"`
	PaymentSource *PaymentSource `json:"payment_source,omitempty"`
}

type Link struct {
	Href   string `json:"href"`
	Rel    string `json:"rel"`
	Method string `json:"method"`
}

// PaymentRecord is a capture or an authorization.
type PaymentRecord struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Amount *Money `json:"amount,omitempty"`
}

type Payments struct {
	Captures       []PaymentRecord `json:"captures,omitempty"`
	Authorizations []PaymentRecord `json:"authorizations,omitempty"`
}

type PurchaseUnitDetails struct {
	ReferenceID string    `json:"reference_id,omitempty"`
	Amount      *Amount   `json:"amount,omitempty"`
	Items       []Item    `json:"items,omitempty"`
	Payments    *Payments `json:"payments,omitempty"`
}

type PayerName struct {
	GivenName string `json:"given_name,omitempty"`
	Surname   string `json:"surname,omitempty"`
}

type Payer struct {
	PayerID      string     `json:"payer_id,omitempty"`
	EmailAddress string     `json:"email_address,omitempty"`
	Name         *PayerName `json:"name,omitempty"`
}

// Order is the processor's order representation. With Prefer:
// return=minimal only ID, Status and Links are populated.
type Order struct {
	ID            string                `json:"id"`
	Status        string                `json:"status"`
	Links         []Link                `json:"links,omitempty"`
	PurchaseUnits []PurchaseUnitDetails `json:"purchase_units,omitempty"`
	Payer         *Payer                `json:"payer,omitempty"`
}

// PayerActionLink returns the approval link the shopper must be sent to.
func (o Order) PayerActionLink() (Link, bool) {
	for _, l := range o.Links {
		if l.Rel == RelPayerAction && l.Method == "GET" {
			return l, true
		}
	}
	return Link{}, false
}

type ErrorIssue struct {
	Field       string `json:"field,omitempty"`
	Issue       string `json:"issue"`
	Description string `json:"description,omitempty"`
}

// ErrorDetail is the processor's error body plus the HTTP status it came with.
type ErrorDetail struct {
	StatusCode int          `json:"status_code"`
	Name       string       `json:"name"`
	Message    string       `json:"message"`
	DebugID    string       `json:"debug_id,omitempty"`
	Details    []ErrorIssue `json:"details,omitempty"`
}

type ResultStatus string

const (
	StatusOK    ResultStatus = "ok"
	StatusError ResultStatus = "error"
)

// OrderResult is the normalized outcome of an Orders API call. Business
// failures land in Detail; transport failures are returned as errors
// alongside a zero OrderResult.
type OrderResult struct {
	Status   ResultStatus `json:"status"`
	Order    Order        `json:"order"`
	Detail   *ErrorDetail `json:"detail,omitempty"`
	Replayed bool         `json:"-"`
}
