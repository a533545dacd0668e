package notifications

import (
	"context"
	"net/smtp"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/storefront-backend/pkg/config"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	"github.com/angelmondragon/storefront-backend/pkg/outbox/payloads"
)

type captureTransport struct {
	messages []Message
}

func (c *captureTransport) Send(_ context.Context, msg Message) error {
	c.messages = append(c.messages, msg)
	return nil
}

func TestTemplateMailerRendersOrderEmails(t *testing.T) {
	transport := &captureTransport{}
	mailer, err := NewTemplateMailer(transport, "https://shop.example/")
	require.NoError(t, err)

	to := Recipient{Email: "ada@example.com", Name: "Ada <Admin>"}
	order := snapshot(uuid.New())
	ctx := context.Background()

	require.NoError(t, mailer.SendOrderConfirmation(ctx, to, payloads.OrderCreatedEvent{OrderSnapshot: order}))
	order.Status = enums.OrderStatusShipped
	require.NoError(t, mailer.SendOrderStatusUpdate(ctx, to, payloads.OrderStatusChangedEvent{OrderSnapshot: order}))
	require.NoError(t, mailer.SendOrderCancellation(ctx, Recipient{Email: to.Email}, payloads.OrderCanceledEvent{OrderSnapshot: order, Restocked: true}))
	require.Len(t, transport.messages, 3)

	confirmation := transport.messages[0]
	assert.Equal(t, "Order ORD-202610-000001 confirmed", confirmation.Subject)
	assert.Contains(t, confirmation.HTML, "49.90")
	assert.Contains(t, confirmation.HTML, `href="https://shop.example/orders/ORD-202610-000001"`)
	assert.Contains(t, confirmation.HTML, "Ada &lt;Admin&gt;")

	assert.Equal(t, "Order ORD-202610-000001 is shipped", transport.messages[1].Subject)

	cancellation := transport.messages[2]
	assert.Contains(t, cancellation.HTML, "Hi there")
	assert.Contains(t, cancellation.HTML, "refunded")
}

func TestSMTPTransportBuildsMIMEMessage(t *testing.T) {
	transport := NewSMTPTransport(config.SMTPConfig{
		Host:     "smtp.example",
		Port:     2525,
		User:     "mailer",
		Password: "secret",
		From:     "orders@shop.example",
		FromName: "Shop",
	})
	var gotAddr, gotFrom string
	var gotTo []string
	var gotBody []byte
	transport.sendMail = func(addr string, _ smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotFrom, gotTo, gotBody = addr, from, to, msg
		return nil
	}

	err := transport.Send(context.Background(), Message{
		To:      Recipient{Email: "ada@example.com", Name: "Ada"},
		Subject: "Order confirmed",
		HTML:    "<p>hello</p>",
	})
	require.NoError(t, err)
	assert.Equal(t, "smtp.example:2525", gotAddr)
	assert.Equal(t, "orders@shop.example", gotFrom)
	assert.Equal(t, []string{"ada@example.com"}, gotTo)

	body := string(gotBody)
	assert.Contains(t, body, "Subject: Order confirmed\r\n")
	assert.Contains(t, body, `To: "Ada" <ada@example.com>`)
	assert.Contains(t, body, "Content-Type: text/html")
	assert.True(t, strings.HasSuffix(body, "<p>hello</p>"))

	assert.Error(t, transport.Send(context.Background(), Message{Subject: "no recipient"}))
}
