package notifications

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"net"
	"net/mail"
	"net/smtp"
	"strconv"
	"strings"

	"github.com/angelmondragon/storefront-backend/pkg/config"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
	"github.com/angelmondragon/storefront-backend/pkg/outbox/payloads"
)

// Recipient is the addressee of an order e-mail.
type Recipient struct {
	Email string
	Name  string
}

// Message is a rendered e-mail ready for a transport.
type Message struct {
	To      Recipient
	Subject string
	HTML    string
}

// Transport delivers rendered messages.
type Transport interface {
	Send(ctx context.Context, msg Message) error
}

// Mailer renders and sends the order e-mails.
type Mailer interface {
	SendOrderConfirmation(ctx context.Context, to Recipient, event payloads.OrderCreatedEvent) error
	SendOrderCancellation(ctx context.Context, to Recipient, event payloads.OrderCanceledEvent) error
	SendOrderStatusUpdate(ctx context.Context, to Recipient, event payloads.OrderStatusChangedEvent) error
}

const emailTemplates = `
{{define "layout"}}<!doctype html>
<html><body style="font-family:sans-serif">
<p>Hi {{.Name}},</p>
{{template "body" .}}
<p><a href="{{.Link}}">View order {{.Order.OrderNumber}}</a></p>
</body></html>{{end}}

{{define "confirmation"}}{{template "layout" .}}{{end}}
{{define "cancellation"}}{{template "layout" .}}{{end}}
{{define "status"}}{{template "layout" .}}{{end}}
`

var bodies = map[string]string{
	"confirmation": `{{define "body"}}<p>Thanks for your order. We received order <strong>{{.Order.OrderNumber}}</strong> with {{.Order.ItemCount}} item(s), total {{.Order.Total.StringFixed 2}}.</p>
<p>Payment method: {{.Order.PaymentMethod}}.</p>{{end}}`,
	"cancellation": `{{define "body"}}<p>Your order <strong>{{.Order.OrderNumber}}</strong> has been cancelled.</p>
{{if .Restocked}}<p>Any payment taken will be refunded to the original method.</p>{{end}}{{end}}`,
	"status": `{{define "body"}}<p>Your order <strong>{{.Order.OrderNumber}}</strong> is now <strong>{{.Status}}</strong>.</p>{{end}}`,
}

type emailData struct {
	Name      string
	Link      string
	Order     payloads.OrderSnapshot
	Restocked bool
	Status    string
}

// TemplateMailer renders html/template bodies and hands them to a Transport.
type TemplateMailer struct {
	transport Transport
	origin    string
	templates map[string]*template.Template
}

// NewTemplateMailer parses the order templates. origin is used to build the
// order links.
func NewTemplateMailer(transport Transport, origin string) (*TemplateMailer, error) {
	if transport == nil {
		return nil, fmt.Errorf("mail transport required")
	}
	base, err := template.New("emails").Parse(emailTemplates)
	if err != nil {
		return nil, fmt.Errorf("parse email layout: %w", err)
	}
	templates := make(map[string]*template.Template, len(bodies))
	for name, body := range bodies {
		clone, err := base.Clone()
		if err != nil {
			return nil, err
		}
		if _, err := clone.Parse(body); err != nil {
			return nil, fmt.Errorf("parse %s template: %w", name, err)
		}
		templates[name] = clone
	}
	return &TemplateMailer{
		transport: transport,
		origin:    strings.TrimRight(origin, "/"),
		templates: templates,
	}, nil
}

func (m *TemplateMailer) SendOrderConfirmation(ctx context.Context, to Recipient, event payloads.OrderCreatedEvent) error {
	subject := fmt.Sprintf("Order %s confirmed", event.OrderNumber)
	return m.send(ctx, "confirmation", to, subject, emailData{Order: event.OrderSnapshot})
}

func (m *TemplateMailer) SendOrderCancellation(ctx context.Context, to Recipient, event payloads.OrderCanceledEvent) error {
	subject := fmt.Sprintf("Order %s cancelled", event.OrderNumber)
	return m.send(ctx, "cancellation", to, subject, emailData{Order: event.OrderSnapshot, Restocked: event.Restocked})
}

func (m *TemplateMailer) SendOrderStatusUpdate(ctx context.Context, to Recipient, event payloads.OrderStatusChangedEvent) error {
	status := statusLabel(event.Status)
	subject := fmt.Sprintf("Order %s is %s", event.OrderNumber, status)
	return m.send(ctx, "status", to, subject, emailData{Order: event.OrderSnapshot, Status: status})
}

func (m *TemplateMailer) send(ctx context.Context, name string, to Recipient, subject string, data emailData) error {
	tmpl, ok := m.templates[name]
	if !ok {
		return fmt.Errorf("unknown email template %q", name)
	}
	data.Name = to.Name
	if data.Name == "" {
		data.Name = "there"
	}
	data.Link = m.origin + "/orders/" + data.Order.OrderNumber

	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, name, data); err != nil {
		return fmt.Errorf("render %s email: %w", name, err)
	}
	return m.transport.Send(ctx, Message{To: to, Subject: subject, HTML: buf.String()})
}

func statusLabel(status enums.OrderStatus) string {
	return strings.ReplaceAll(string(status), "_", " ")
}

// SMTPTransport relays messages through an authenticated SMTP server.
type SMTPTransport struct {
	addr     string
	auth     smtp.Auth
	from     mail.Address
	sendMail func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewSMTPTransport builds a transport from the SMTP config.
func NewSMTPTransport(cfg config.SMTPConfig) *SMTPTransport {
	var auth smtp.Auth
	if cfg.User != "" {
		auth = smtp.PlainAuth("", cfg.User, cfg.Password, cfg.Host)
	}
	return &SMTPTransport{
		addr:     net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		auth:     auth,
		from:     mail.Address{Name: cfg.FromName, Address: cfg.From},
		sendMail: smtp.SendMail,
	}
}

func (t *SMTPTransport) Send(_ context.Context, msg Message) error {
	if msg.To.Email == "" {
		return fmt.Errorf("recipient address required")
	}
	to := mail.Address{Name: msg.To.Name, Address: msg.To.Email}

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "From: %s\r\n", t.from.String())
	fmt.Fprintf(&buf, "To: %s\r\n", to.String())
	fmt.Fprintf(&buf, "Subject: %s\r\n", msg.Subject)
	buf.WriteString("MIME-Version: 1.0\r\n")
	buf.WriteString("Content-Type: text/html; charset=\"UTF-8\"\r\n\r\n")
	buf.WriteString(msg.HTML)

	return t.sendMail(t.addr, t.auth, t.from.Address, []string{to.Address}, buf.Bytes())
}

// LogTransport writes messages to the log instead of sending them. Used when
// no SMTP relay is configured.
type LogTransport struct {
	logg *logger.Logger
}

func NewLogTransport(logg *logger.Logger) *LogTransport {
	return &LogTransport{logg: logg}
}

func (t *LogTransport) Send(ctx context.Context, msg Message) error {
	t.logg.Info(t.logg.WithFields(ctx, map[string]any{
		"to":      msg.To.Email,
		"subject": msg.Subject,
	}), "email suppressed: smtp disabled")
	return nil
}

// NewTransport picks SMTP when configured and the log transport otherwise.
func NewTransport(cfg config.SMTPConfig, logg *logger.Logger) Transport {
	if cfg.Enabled() {
		return NewSMTPTransport(cfg)
	}
	return NewLogTransport(logg)
}
