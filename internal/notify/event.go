package notify

import (
	"time"

	"github.com/google/uuid"

	"github.com/tabletopforge/storefront-backend/pkg/db/models"
	"github.com/tabletopforge/storefront-backend/pkg/enums"
	"github.com/tabletopforge/storefront-backend/pkg/types"
)

// EventItem is the line summary carried on notifications.
type EventItem struct {
	Kind     enums.ItemKind `json:"kind"`
	ItemID   uuid.UUID      `json:"itemId"`
	Name     string         `json:"name"`
	Size     string         `json:"size,omitempty"`
	Quantity int            `json:"quantity"`
}

// Event is the order snapshot fanned out after a status change commits.
type Event struct {
	Kind            enums.NotificationKind `json:"kind"`
	OrderID         uuid.UUID              `json:"orderId"`
	Status          enums.OrderStatus      `json:"status"`
	PreviousStatus  enums.OrderStatus      `json:"previousStatus"`
	CustomerName    string                 `json:"customerName"`
	CustomerEmail   string                 `json:"customerEmail"`
	Currency        string                 `json:"currency"`
	TotalCents      int                    `json:"totalCents"`
	RefundedCents   int                    `json:"refundedCents"`
	TrackingNumber  string                 `json:"trackingNumber,omitempty"`
	ShippingAddress types.Address          `json:"shippingAddress"`
	Items           []EventItem            `json:"items"`
	OccurredAt      time.Time              `json:"occurredAt"`
}

// EventFromOrder snapshots order for the given kind.
func EventFromOrder(kind enums.NotificationKind, order *models.Order, previous enums.OrderStatus, at time.Time) Event {
	items := make([]EventItem, 0, len(order.Items))
	for _, line := range order.Items {
		items = append(items, EventItem{
			Kind:     line.Kind,
			ItemID:   line.ItemID(),
			Name:     line.Name,
			Size:     line.Size,
			Quantity: line.Quantity,
		})
	}
	evt := Event{
		Kind:            kind,
		OrderID:         order.ID,
		Status:          order.Status,
		PreviousStatus:  previous,
		CustomerName:    order.CustomerName,
		CustomerEmail:   order.CustomerEmail,
		Currency:        order.Currency,
		TotalCents:      order.TotalCents,
		RefundedCents:   order.RefundedCents,
		ShippingAddress: order.ShippingAddress,
		Items:           items,
		OccurredAt:      at.UTC(),
	}
	if order.TrackingNumber != nil {
		evt.TrackingNumber = *order.TrackingNumber
	}
	return evt
}
