package email

import (
	"bytes"
	"fmt"
	"html/template"
	"log/slog"
	"net/smtp"
)

type Sender interface {
	Send(to, subject, htmlBody string) error
}

type SMTPConfig struct {
	Host     string
	Port     string
	From     string
	Username string
	Password string
}

type SMTPSender struct {
	host string
	port string
	from string
	auth smtp.Auth // nil for local dev (MailHog)
}

func NewSMTPSender(cfg SMTPConfig) *SMTPSender {
	s := &SMTPSender{host: cfg.Host, port: cfg.Port, from: cfg.From}
	if s.host == "" {
		s.host = "localhost"
	}
	if s.port == "" {
		s.port = "1025"
	}
	if s.from == "" {
		s.from = "no-reply@example.local"
	}
	if cfg.Username != "" {
		s.auth = smtp.PlainAuth("", cfg.Username, cfg.Password, s.host)
	}
	return s
}

func (s *SMTPSender) Send(to, subject, htmlBody string) error {
	addr := fmt.Sprintf("%s:%s", s.host, s.port)
	msg := buildRFC822(s.from, to, subject, htmlBody)
	return smtp.SendMail(addr, s.auth, s.from, []string{to}, msg)
}

func buildRFC822(from, to, subject, html string) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "From: %s\r\n", from)
	fmt.Fprintf(&buf, "To: %s\r\n", to)
	fmt.Fprintf(&buf, "Subject: %s\r\n", subject)
	fmt.Fprintf(&buf, "MIME-Version: 1.0\r\n")
	fmt.Fprintf(&buf, "Content-Type: text/html; charset=UTF-8\r\n")
	fmt.Fprintf(&buf, "\r\n%s\r\n", html)
	return buf.Bytes()
}

// Receipt is what the shopper sees after a successful capture.
type Receipt struct {
	OrderID       string
	TransactionID string
	Amount        string
	Currency      string
	PayerName     string
}

var receiptTpl = template.Must(template.New("receipt").Parse(`
<h2>Thanks for your purchase{{if .PayerName}}, {{.PayerName}}{{end}}!</h2>
<p>Order ID: <b>{{.OrderID}}</b></p>
<p>Transaction ID: <b>{{.TransactionID}}</b></p>
{{if .Amount}}<p>Total: <b>{{.Currency}} {{.Amount}}</b></p>{{end}}
`))

var declinedTpl = template.Must(template.New("declined").Parse(`
<h2>Your payment was not completed</h2>
<p>Order ID: <b>{{.OrderID}}</b></p>
<p>PayPal declined the payment. You can start a new checkout at any time.</p>
`))

func RenderReceipt(r Receipt) (string, error) {
	var buf bytes.Buffer
	if err := receiptTpl.Execute(&buf, r); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func RenderDeclined(r Receipt) (string, error) {
	var buf bytes.Buffer
	if err := declinedTpl.Execute(&buf, r); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// LogSender is the fallback when no SMTP server is configured.
type LogSender struct {
	Logger *slog.Logger
}

func (s LogSender) Send(to, subject, htmlBody string) error {
	l := s.Logger
	if l == nil {
		l = slog.Default()
	}
	l.Info("email", "to", to, "subject", subject, "bytes", len(htmlBody))
	return nil
}
