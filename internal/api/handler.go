// Package api exposes the redirect checkout flow over HTTP: storefront pages
// under /app and the form/JSON endpoints under /api/paypal.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/AnthonyGillesRudolfo/paypal-checkout-redirect/internal/catalog"
	"github.com/AnthonyGillesRudolfo/paypal-checkout-redirect/internal/checkout"
	"github.com/AnthonyGillesRudolfo/paypal-checkout-redirect/internal/paypal"
	"github.com/AnthonyGillesRudolfo/paypal-checkout-redirect/internal/pricing"
)

// HeaderIdempotencyKey lets API clients supply the checkout correlation
// token instead of the body's token field.
const HeaderIdempotencyKey = "X-Idempotency-Key"

const (
	pathStart    = "/app/start-checkout"
	pathComplete = "/app/complete-checkout"
	pathFailure  = "/app/create-order-failure"
)

// Checkout is the flow the handlers drive. *checkout.Service implements it.
type Checkout interface {
	StartCheckout(ctx context.Context, line pricing.CartLine, origin, token string) (checkout.Outcome, error)
	CaptureCheckout(ctx context.Context, orderID string) (checkout.Outcome, error)
	OrderDetails(ctx context.Context, orderID string) (paypal.Order, error)
}

type Handler struct {
	checkout      Checkout
	products      catalog.Lister
	currency      string
	publicBaseURL string
	pages         pages
	logger        *slog.Logger
}

type HandlerConfig struct {
	Currency string
	// PublicBaseURL is the origin PayPal returns shoppers to. When empty it
	// is taken from the request's Host and X-Forwarded-Proto headers, which
	// clients control; set it in production.
	PublicBaseURL string
	Logger        *slog.Logger
}

func NewHandler(c Checkout, products catalog.Lister, cfg HandlerConfig) (*Handler, error) {
	p, err := loadPages()
	if err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		checkout:      c,
		products:      products,
		currency:      cfg.Currency,
		publicBaseURL: strings.TrimRight(cfg.PublicBaseURL, "/"),
		pages:         p,
		logger:        logger,
	}, nil
}

type ErrorResponse struct {
	Error   string           `json:"error"`
	Message string           `json:"message"`
	Detail  *checkout.Detail `json:"detail,omitempty"`
}

type OutcomeResponse struct {
	State         checkout.State   `json:"state"`
	Token         string           `json:"token,omitempty"`
	OrderID       string           `json:"order_id,omitempty"`
	RedirectURL   string           `json:"redirect_url,omitempty"`
	TransactionID string           `json:"transaction_id,omitempty"`
	Detail        *checkout.Detail `json:"detail,omitempty"`
}

func (h *Handler) Home(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, pathStart, http.StatusFound)
}

func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// StartCheckoutPage lists the catalog. Every render carries a fresh
// checkout token, so resubmitting the same form reuses it.
func (h *Handler) StartCheckoutPage(w http.ResponseWriter, r *http.Request) {
	products, err := h.products.List(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list products", "error", err)
		h.renderFailure(w, r, http.StatusInternalServerError, checkout.Detail{Code: checkout.CodeInternal, Message: "the catalog is unavailable"})
		return
	}
	h.render(w, r, http.StatusOK, pageStart, startPage{Token: uuid.NewString(), Currency: h.currency, Products: products})
}

func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := decodeBody(r, createOrderSchema, &req, "quantity"); err != nil {
		h.badRequest(w, r, err)
		return
	}

	token := r.Header.Get(HeaderIdempotencyKey)
	if token == "" {
		token = req.Token
	}
	if token == "" {
		token = uuid.NewString()
		h.logger.InfoContext(r.Context(), "no checkout token supplied, generated one", "token", token)
	}

	out, err := h.checkout.StartCheckout(r.Context(), pricing.CartLine{ProductID: req.ID, Quantity: req.Quantity}, h.origin(r), token)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "start checkout", "token", token, "error", err, "request_id", middleware.GetReqID(r.Context()))
	}

	if out.State == checkout.StateApprovalPending {
		if wantsJSON(r) {
			writeJSON(w, http.StatusCreated, toResponse(out))
			return
		}
		http.Redirect(w, r, out.RedirectURL, http.StatusSeeOther)
		return
	}

	h.fail(w, r, out)
}

func (h *Handler) CaptureOrder(w http.ResponseWriter, r *http.Request) {
	var req captureOrderRequest
	if err := decodeBody(r, captureOrderSchema, &req); err != nil {
		h.badRequest(w, r, err)
		return
	}

	out, err := h.checkout.CaptureCheckout(r.Context(), req.OrderID)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "capture checkout", "order_id", req.OrderID, "error", err, "request_id", middleware.GetReqID(r.Context()))
	}

	if out.State == checkout.StateCaptured {
		if wantsJSON(r) {
			writeJSON(w, http.StatusOK, toResponse(out))
			return
		}
		http.Redirect(w, r, pathComplete+"?token="+url.QueryEscape(out.OrderID), http.StatusSeeOther)
		return
	}

	h.fail(w, r, out)
}

// CaptureCheckoutPage is PayPal's return_url. token is the PayPal order id.
func (h *Handler) CaptureCheckoutPage(w http.ResponseWriter, r *http.Request) {
	h.orderPage(w, r, pageCapture)
}

func (h *Handler) CompleteCheckoutPage(w http.ResponseWriter, r *http.Request) {
	h.orderPage(w, r, pageComplete)
}

// CancelCheckoutPage is PayPal's cancel_url.
func (h *Handler) CancelCheckoutPage(w http.ResponseWriter, r *http.Request) {
	orderID := r.URL.Query().Get("token")
	h.logger.InfoContext(r.Context(), "checkout cancelled by payer", "order_id", orderID)
	h.render(w, r, http.StatusOK, pageCancel, cancelPage{OrderID: orderID})
}

func (h *Handler) CreateOrderFailurePage(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("error")
	if raw == "" {
		h.renderFailure(w, r, http.StatusOK, checkout.Detail{Code: checkout.CodeInternal, Message: "checkout failed"})
		return
	}
	h.renderFailure(w, r, http.StatusOK, checkout.DecodeDetail(raw))
}

func (h *Handler) orderPage(w http.ResponseWriter, r *http.Request, page string) {
	orderID := r.URL.Query().Get("token")
	if orderID == "" {
		h.renderFailure(w, r, http.StatusBadRequest, checkout.Detail{Code: checkout.CodeMissingOrderID, Message: "querystring must have required property 'token'"})
		return
	}
	order, err := h.checkout.OrderDetails(r.Context(), orderID)
	if err != nil {
		h.logger.WarnContext(r.Context(), "order details", "order_id", orderID, "error", err)
		var perr *checkout.ProcessorError
		switch {
		case errors.As(err, &perr):
			h.renderFailure(w, r, http.StatusBadGateway, checkout.Detail{Code: perr.Detail.Name, Message: perr.Detail.Message, DebugID: perr.Detail.DebugID})
		default:
			h.renderFailure(w, r, http.StatusBadGateway, checkout.Detail{Code: checkout.CodeProcessorDown, Message: "PayPal could not be reached, please try again"})
		}
		return
	}
	h.render(w, r, http.StatusOK, page, orderPage{Order: newOrderView(order)})
}

// fail answers a non-successful outcome: JSON clients get an error body,
// browsers are redirected to the failure page with the detail in the query.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, out checkout.Outcome) {
	detail := checkout.Detail{Code: checkout.CodeInternal, Message: "checkout failed"}
	if out.Detail != nil {
		detail = *out.Detail
	}
	if wantsJSON(r) {
		writeJSON(w, statusFor(out), ErrorResponse{Error: detail.Code, Message: detail.Message, Detail: &detail})
		return
	}
	http.Redirect(w, r, pathFailure+"?error="+url.QueryEscape(detail.Encode()), http.StatusSeeOther)
}

func (h *Handler) badRequest(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusBadRequest
	if errors.Is(err, errUnsupportedMedia) {
		status = http.StatusUnsupportedMediaType
	}
	detail := checkout.Detail{Code: checkout.CodeInvalidRequest, Message: err.Error()}
	h.logger.InfoContext(r.Context(), "invalid request body", "path", r.URL.Path, "error", err)
	if wantsJSON(r) {
		writeJSON(w, status, ErrorResponse{Error: detail.Code, Message: detail.Message})
		return
	}
	h.renderFailure(w, r, status, detail)
}

func (h *Handler) renderFailure(w http.ResponseWriter, r *http.Request, status int, d checkout.Detail) {
	h.render(w, r, status, pageFailure, failurePage{Detail: d})
}

func (h *Handler) render(w http.ResponseWriter, r *http.Request, status int, page string, data any) {
	if err := h.pages.render(w, status, page, data); err != nil {
		h.logger.ErrorContext(r.Context(), "render page", "page", page, "error", err)
	}
}

// origin is scheme://host used for PayPal's return and cancel URLs.
func (h *Handler) origin(r *http.Request) string {
	if h.publicBaseURL != "" {
		return h.publicBaseURL
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if p := r.Header.Get("X-Forwarded-Proto"); p == "https" || p == "http" {
		scheme = p
	}
	return scheme + "://" + r.Host
}

func statusFor(out checkout.Outcome) int {
	if out.State == checkout.StateDeclined {
		return http.StatusPaymentRequired
	}
	if out.Detail == nil {
		return http.StatusBadGateway
	}
	switch out.Detail.Code {
	case string(pricing.ReasonEmptyCart), string(pricing.ReasonInvalidQuantity),
		string(pricing.ReasonUnknownProduct), string(pricing.ReasonOutOfStock):
		return http.StatusUnprocessableEntity
	case checkout.CodeMissingToken, checkout.CodeMissingOrderID, checkout.CodeInvalidRequest:
		return http.StatusBadRequest
	case checkout.CodeInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusBadGateway
	}
}

func toResponse(out checkout.Outcome) OutcomeResponse {
	return OutcomeResponse{
		State:         out.State,
		Token:         out.Token,
		OrderID:       out.OrderID,
		RedirectURL:   out.RedirectURL,
		TransactionID: out.TransactionID,
		Detail:        out.Detail,
	}
}

func wantsJSON(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "application/json")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
