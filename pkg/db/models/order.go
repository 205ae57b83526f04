package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tabletopforge/storefront-backend/pkg/enums"
	"github.com/tabletopforge/storefront-backend/pkg/types"
)

// Order is the order header. Rows are never deleted; every status change
// goes through the state machine and appends an OrderStatusEvent.
type Order struct {
	ID               uuid.UUID          `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	CustomerName     string             `gorm:"column:customer_name;not null" json:"customerName"`
	CustomerEmail    string             `gorm:"column:customer_email;not null;index" json:"customerEmail"`
	CustomerPhone    *string            `gorm:"column:customer_phone" json:"customerPhone,omitempty"`
	ShippingAddress  types.Address      `gorm:"column:shipping_address;type:jsonb;serializer:json;not null" json:"shippingAddress"`
	BillingAddress   *types.Address     `gorm:"column:billing_address;type:jsonb;serializer:json" json:"billingAddress,omitempty"`
	Status           enums.OrderStatus  `gorm:"column:status;type:text;not null;default:'pending';index" json:"status"`
	Currency         string             `gorm:"column:currency;type:text;not null;default:'usd'" json:"currency"`
	SubtotalCents    int                `gorm:"column:subtotal_cents;not null" json:"subtotalCents"`
	ShippingCents    int                `gorm:"column:shipping_cents;not null;default:0" json:"shippingCents"`
	TaxCents         int                `gorm:"column:tax_cents;not null;default:0" json:"taxCents"`
	TotalCents       int                `gorm:"column:total_cents;not null" json:"totalCents"`
	RefundedCents    int                `gorm:"column:refunded_cents;not null;default:0" json:"refundedCents"`
	PaymentReference *string            `gorm:"column:payment_reference;index" json:"paymentReference,omitempty"`
	TrackingNumber   *string            `gorm:"column:tracking_number" json:"trackingNumber,omitempty"`
	PaidAt           *time.Time         `gorm:"column:paid_at" json:"paidAt,omitempty"`
	PaymentFailedAt  *time.Time         `gorm:"column:payment_failed_at" json:"paymentFailedAt,omitempty"`
	ShippedAt        *time.Time         `gorm:"column:shipped_at" json:"shippedAt,omitempty"`
	DeliveredAt      *time.Time         `gorm:"column:delivered_at" json:"deliveredAt,omitempty"`
	CancelledAt      *time.Time         `gorm:"column:cancelled_at" json:"cancelledAt,omitempty"`
	RefundedAt       *time.Time         `gorm:"column:refunded_at" json:"refundedAt,omitempty"`
	Items            []OrderLineItem    `gorm:"foreignKey:OrderID" json:"items"`
	History          []OrderStatusEvent `gorm:"foreignKey:OrderID" json:"history"`
	CreatedAt        time.Time          `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
	UpdatedAt        time.Time          `gorm:"column:updated_at;autoUpdateTime" json:"updatedAt"`
}

func (o *Order) BeforeCreate(*gorm.DB) error {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	return nil
}

// OrderLineItem snapshots name and unit price at order time.
type OrderLineItem struct {
	ID               uuid.UUID              `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	OrderID          uuid.UUID              `gorm:"column:order_id;type:uuid;not null;index" json:"orderId"`
	LineNumber       int                    `gorm:"column:line_number;not null" json:"lineNumber"`
	Kind             enums.ItemKind         `gorm:"column:kind;type:text;not null" json:"kind"`
	GameID           *uuid.UUID             `gorm:"column:game_id;type:uuid" json:"gameId,omitempty"`
	MerchItemID      *uuid.UUID             `gorm:"column:merch_item_id;type:uuid" json:"merchItemId,omitempty"`
	Size             string                 `gorm:"column:size;not null;default:''" json:"size,omitempty"`
	Name             string                 `gorm:"column:name;not null" json:"name"`
	Quantity         int                    `gorm:"column:quantity;not null" json:"quantity"`
	UnitPriceCents   int                    `gorm:"column:unit_price_cents;not null" json:"unitPriceCents"`
	LineTotalCents   int                    `gorm:"column:line_total_cents;not null" json:"lineTotalCents"`
	ReservationState enums.ReservationState `gorm:"column:reservation_state;type:text;not null;default:'held'" json:"reservationState"`
	CreatedAt        time.Time              `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
	UpdatedAt        time.Time              `gorm:"column:updated_at;autoUpdateTime" json:"updatedAt"`
}

func (l *OrderLineItem) BeforeCreate(*gorm.DB) error {
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	return nil
}

// ItemID returns the referenced catalog or merch id.
func (l OrderLineItem) ItemID() uuid.UUID {
	if l.Kind == enums.ItemKindGame && l.GameID != nil {
		return *l.GameID
	}
	if l.MerchItemID != nil {
		return *l.MerchItemID
	}
	return uuid.Nil
}

// OrderStatusEvent is an append-only status history entry.
type OrderStatusEvent struct {
	ID        uuid.UUID         `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	OrderID   uuid.UUID         `gorm:"column:order_id;type:uuid;not null;index" json:"orderId"`
	Status    enums.OrderStatus `gorm:"column:status;type:text;not null" json:"status"`
	Note      *string           `gorm:"column:note" json:"note,omitempty"`
	CreatedAt time.Time         `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
}

func (OrderStatusEvent) TableName() string { return "order_status_events" }

func (e *OrderStatusEvent) BeforeCreate(*gorm.DB) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return nil
}
