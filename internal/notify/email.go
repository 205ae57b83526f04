package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-resty/resty/v2"

	"github.com/tabletopforge/storefront-backend/pkg/config"
	"github.com/tabletopforge/storefront-backend/pkg/enums"
)

const sendgridSendPath = "/v3/mail/send"

type sendgridAddress struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type sendgridPersonalization struct {
	To []sendgridAddress `json:"to"`
}

type sendgridContent struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

type sendgridMessage struct {
	Personalizations []sendgridPersonalization `json:"personalizations"`
	From             sendgridAddress           `json:"from"`
	Subject          string                    `json:"subject"`
	Content          []sendgridContent         `json:"content"`
}

// EmailSink sends the customer a plain-text status email through SendGrid.
type EmailSink struct {
	http     *resty.Client
	endpoint string
	from     sendgridAddress
}

func NewEmailSink(cfg config.SendgridConfig, client *resty.Client) *EmailSink {
	if client == nil {
		client = resty.New()
	}
	client.SetAuthToken(cfg.APIKey).SetHeader("Content-Type", "application/json")
	return &EmailSink{
		http:     client,
		endpoint: strings.TrimRight(cfg.BaseURL, "/") + sendgridSendPath,
		from:     sendgridAddress{Email: cfg.FromEmail, Name: cfg.FromName},
	}
}

func (s *EmailSink) Name() string { return "email" }

func (s *EmailSink) Accepts(kind enums.NotificationKind) bool {
	_, ok := emailSubjects[kind]
	return ok
}

var emailSubjects = map[enums.NotificationKind]string{
	enums.NotificationOrderPaid:              "We received your payment",
	enums.NotificationOrderShipped:           "Your order is on its way",
	enums.NotificationOrderRefunded:          "Your refund is on its way",
	enums.NotificationOrderPartiallyRefunded: "A partial refund was issued",
}

func (s *EmailSink) Deliver(ctx context.Context, event Event) error {
	if s.http == nil {
		return errors.New("email sink not configured")
	}
	if strings.TrimSpace(event.CustomerEmail) == "" {
		return nil
	}
	msg := sendgridMessage{
		Personalizations: []sendgridPersonalization{{
			To: []sendgridAddress{{Email: event.CustomerEmail, Name: event.CustomerName}},
		}},
		From:    s.from,
		Subject: emailSubjects[event.Kind],
		Content: []sendgridContent{{Type: "text/plain", Value: emailBody(event)}},
	}

	resp, err := s.http.R().SetContext(ctx).SetBody(msg).Post(s.endpoint)
	if err != nil {
		return fmt.Errorf("sendgrid request: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("sendgrid returned %d: %s", resp.StatusCode(), strings.TrimSpace(resp.String()))
	}
	return nil
}

func emailBody(event Event) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Hi %s,\n\n", event.CustomerName)
	fmt.Fprintf(&b, "Order %s is now %s.\n", event.OrderID, strings.ReplaceAll(event.Status.String(), "_", " "))
	for _, item := range event.Items {
		if item.Size != "" {
			fmt.Fprintf(&b, "  %d x %s (%s)\n", item.Quantity, item.Name, item.Size)
			continue
		}
		fmt.Fprintf(&b, "  %d x %s\n", item.Quantity, item.Name)
	}
	fmt.Fprintf(&b, "Total: %s\n", formatCents(event.TotalCents, event.Currency))
	if event.RefundedCents > 0 {
		fmt.Fprintf(&b, "Refunded: %s\n", formatCents(event.RefundedCents, event.Currency))
	}
	if event.TrackingNumber != "" {
		fmt.Fprintf(&b, "Tracking number: %s\n", event.TrackingNumber)
	}
	return b.String()
}

func formatCents(cents int, currency string) string {
	return fmt.Sprintf("%d.%02d %s", cents/100, cents%100, strings.ToUpper(currency))
}
