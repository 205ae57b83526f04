package orders

import (
	"github.com/google/uuid"

	"github.com/tabletopforge/storefront-backend/pkg/db/models"
	"github.com/tabletopforge/storefront-backend/pkg/enums"
	"github.com/tabletopforge/storefront-backend/pkg/types"
)

// CustomerInput carries the buyer contact captured at checkout.
type CustomerInput struct {
	Name  string
	Email string
	Phone *string
}

// LineInput is one requested line. Size is required for sized merch and
// must be empty otherwise.
type LineInput struct {
	Kind     enums.ItemKind
	ItemID   uuid.UUID
	Size     string
	Quantity int
}

// CreateOrderInput is the validated request to place an order. Prices and
// totals are never accepted from the caller.
type CreateOrderInput struct {
	Customer        CustomerInput
	ShippingAddress types.Address
	BillingAddress  *types.Address
	Items           []LineInput
}

// ListFilters narrow the order list.
type ListFilters struct {
	Status *enums.OrderStatus
	Email  string
}

// OrderList wraps one page of orders plus the next page cursor.
type OrderList struct {
	Orders     []models.Order `json:"orders"`
	NextCursor string         `json:"nextCursor,omitempty"`
}

// TransitionInput requests a status change.
//
// AllowedFrom restricts the statuses the change may start from; when the
// current status is outside it the call is a no-op instead of an error.
// RefundedCents is the cumulative refunded amount for refund targets.
type TransitionInput struct {
	OrderID          uuid.UUID
	To               enums.OrderStatus
	Note             string
	TrackingNumber   string
	PaymentReference string
	RefundedCents    int
	AllowedFrom      []enums.OrderStatus
	Source           string
}

// TransitionResult reports the order after the call. Changed is false for
// idempotent repeats and AllowedFrom skips.
type TransitionResult struct {
	Order   *models.Order
	From    enums.OrderStatus
	Changed bool
}
