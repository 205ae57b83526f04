package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-resty/resty/v2"

	"github.com/tabletopforge/storefront-backend/pkg/enums"
)

// ChatSink posts staff-facing order updates to a Discord webhook.
type ChatSink struct {
	http       *resty.Client
	webhookURL string
}

func NewChatSink(webhookURL string, client *resty.Client) *ChatSink {
	if client == nil {
		client = resty.New()
	}
	return &ChatSink{http: client, webhookURL: webhookURL}
}

func (s *ChatSink) Name() string { return "chat" }

// Accepts covers the events staff act on.
func (s *ChatSink) Accepts(kind enums.NotificationKind) bool {
	return acceptsAny(kind,
		enums.NotificationOrderPaid,
		enums.NotificationOrderPaymentFailed,
		enums.NotificationOrderRefunded,
		enums.NotificationOrderPartiallyRefunded,
		enums.NotificationOrderCancelled,
	)
}

func (s *ChatSink) Deliver(ctx context.Context, event Event) error {
	if s.http == nil || s.webhookURL == "" {
		return errors.New("chat sink not configured")
	}
	body := map[string]string{"content": chatMessage(event)}
	resp, err := s.http.R().SetContext(ctx).SetBody(body).Post(s.webhookURL)
	if err != nil {
		return fmt.Errorf("discord request: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("discord returned %d", resp.StatusCode())
	}
	return nil
}

func chatMessage(event Event) string {
	msg := fmt.Sprintf("Order %s: %s -> %s (%s, %s)",
		event.OrderID, event.PreviousStatus, event.Status,
		event.CustomerEmail, formatCents(event.TotalCents, event.Currency))
	if event.RefundedCents > 0 {
		msg += fmt.Sprintf(" refunded %s", formatCents(event.RefundedCents, event.Currency))
	}
	return msg
}
