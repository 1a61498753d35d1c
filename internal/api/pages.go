package api

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"net/http"
	"strings"

	"github.com/AnthonyGillesRudolfo/paypal-checkout-redirect/internal/catalog"
	"github.com/AnthonyGillesRudolfo/paypal-checkout-redirect/internal/checkout"
	"github.com/AnthonyGillesRudolfo/paypal-checkout-redirect/internal/paypal"
)

//go:embed templates/*.html
var templateFS embed.FS

const (
	pageStart    = "start"
	pageCapture  = "capture"
	pageComplete = "complete"
	pageCancel   = "cancel"
	pageFailure  = "failure"
)

type pages map[string]*template.Template

func loadPages() (pages, error) {
	p := pages{}
	for _, name := range []string{pageStart, pageCapture, pageComplete, pageCancel, pageFailure} {
		t, err := template.ParseFS(templateFS, "templates/layout.html", "templates/order.html", "templates/"+name+".html")
		if err != nil {
			return nil, fmt.Errorf("parse %s page: %w", name, err)
		}
		p[name] = t
	}
	return p, nil
}

// render buffers the page so a template error never leaves a half-written
// response.
func (p pages) render(w http.ResponseWriter, status int, name string, data any) error {
	var buf bytes.Buffer
	if err := p[name].ExecuteTemplate(&buf, "layout.html", data); err != nil {
		http.Error(w, "template error", http.StatusInternalServerError)
		return err
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, err := buf.WriteTo(w)
	return err
}

type startPage struct {
	Token    string
	Currency string
	Products []catalog.Product
}

type orderView struct {
	ID            string
	Status        string
	PayerName     string
	PayerEmail    string
	Items         []paypal.Item
	Total         string
	Currency      string
	TransactionID string
}

type orderPage struct {
	Order orderView
}

type cancelPage struct {
	OrderID string
}

type failurePage struct {
	Detail checkout.Detail
}

// newOrderView flattens the parts of an order the pages display. Missing
// fields stay empty.
func newOrderView(o paypal.Order) orderView {
	v := orderView{ID: o.ID, Status: o.Status}
	if o.Payer != nil {
		v.PayerEmail = o.Payer.EmailAddress
		if o.Payer.Name != nil {
			v.PayerName = strings.TrimSpace(o.Payer.Name.GivenName + " " + o.Payer.Name.Surname)
		}
	}
	if len(o.PurchaseUnits) > 0 {
		pu := o.PurchaseUnits[0]
		v.Items = pu.Items
		if pu.Amount != nil {
			v.Total = pu.Amount.Value
			v.Currency = pu.Amount.CurrencyCode
		}
		if pu.Payments != nil && len(pu.Payments.Captures) > 0 {
			v.TransactionID = pu.Payments.Captures[0].ID
		}
	}
	return v
}
