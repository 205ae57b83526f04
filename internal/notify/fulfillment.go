package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tabletopforge/storefront-backend/pkg/enums"
)

// Publisher is the topic publish surface backed by Pub/Sub.
type Publisher interface {
	Publish(ctx context.Context, data []byte, attributes map[string]string) (string, error)
}

// FulfillmentSink hands paid, cancelled and refunded orders to the warehouse
// sync over a message topic.
type FulfillmentSink struct {
	publisher Publisher
}

func NewFulfillmentSink(publisher Publisher) *FulfillmentSink {
	return &FulfillmentSink{publisher: publisher}
}

func (s *FulfillmentSink) Name() string { return "fulfillment" }

func (s *FulfillmentSink) Accepts(kind enums.NotificationKind) bool {
	return acceptsAny(kind,
		enums.NotificationOrderPaid,
		enums.NotificationOrderCancelled,
		enums.NotificationOrderRefunded,
		enums.NotificationOrderPartiallyRefunded,
	)
}

func (s *FulfillmentSink) Deliver(ctx context.Context, event Event) error {
	if s.publisher == nil {
		return errors.New("fulfillment publisher not configured")
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal fulfillment event: %w", err)
	}
	attrs := map[string]string{
		"event_kind": event.Kind.String(),
		"order_id":   event.OrderID.String(),
	}
	if _, err := s.publisher.Publish(ctx, payload, attrs); err != nil {
		return fmt.Errorf("publish fulfillment event: %w", err)
	}
	return nil
}
