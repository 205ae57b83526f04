package orders

import (
	"time"

	"github.com/tabletopforge/storefront-backend/pkg/db/models"
	"github.com/tabletopforge/storefront-backend/pkg/enums"
)

type ledgerEffect int

const (
	effectNone ledgerEffect = iota
	effectRelease
	effectCommit
	// effectReleaseIfUnshipped releases held stock only when the goods never
	// left the warehouse.
	effectReleaseIfUnshipped
	// effectReacquire re-reserves lines released by an earlier payment failure.
	effectReacquire
)

type transitionRule struct {
	effect ledgerEffect
	// guard rejects the move for the given order when it returns false.
	guard func(order *models.Order) bool
}

func notYetShipped(order *models.Order) bool  { return order.ShippedAt == nil }
func alreadyShipped(order *models.Order) bool { return order.ShippedAt != nil }

// transitions is the complete set of legal status moves. Anything absent is
// rejected with STATE_CONFLICT.
var transitions = map[enums.OrderStatus]map[enums.OrderStatus]transitionRule{
	enums.OrderStatusPending: {
		enums.OrderStatusPaid:          {effect: effectNone},
		enums.OrderStatusPaymentFailed: {effect: effectRelease},
		enums.OrderStatusCancelled:     {effect: effectRelease},
	},
	// A failed card can be retried on the same payment intent.
	enums.OrderStatusPaymentFailed: {
		enums.OrderStatusPaid: {effect: effectReacquire},
	},
	enums.OrderStatusPaid: {
		enums.OrderStatusShipped:           {effect: effectCommit},
		enums.OrderStatusPaymentFailed:     {effect: effectRelease},
		enums.OrderStatusCancelled:         {effect: effectRelease},
		enums.OrderStatusRefunded:          {effect: effectReleaseIfUnshipped},
		enums.OrderStatusPartiallyRefunded: {effect: effectNone},
	},
	enums.OrderStatusShipped: {
		enums.OrderStatusDelivered:         {effect: effectNone},
		enums.OrderStatusRefunded:          {effect: effectReleaseIfUnshipped},
		enums.OrderStatusPartiallyRefunded: {effect: effectNone},
	},
	enums.OrderStatusPartiallyRefunded: {
		enums.OrderStatusPartiallyRefunded: {effect: effectNone},
		enums.OrderStatusRefunded:          {effect: effectReleaseIfUnshipped},
		enums.OrderStatusShipped:           {effect: effectCommit, guard: notYetShipped},
		enums.OrderStatusDelivered:         {effect: effectNone, guard: alreadyShipped},
	},
}

func lookupTransition(order *models.Order, to enums.OrderStatus) (transitionRule, bool) {
	rule, ok := transitions[order.Status][to]
	if !ok {
		return transitionRule{}, false
	}
	if rule.guard != nil && !rule.guard(order) {
		return transitionRule{}, false
	}
	return rule, true
}

// CanTransition reports whether the order may move to the requested status.
func CanTransition(order *models.Order, to enums.OrderStatus) bool {
	_, ok := lookupTransition(order, to)
	return ok
}

func isRefund(status enums.OrderStatus) bool {
	return status == enums.OrderStatusRefunded || status == enums.OrderStatusPartiallyRefunded
}

// stampMilestone sets the milestone column for to, keeping any earlier value.
func stampMilestone(order *models.Order, to enums.OrderStatus, now time.Time, updates map[string]any) {
	stamp := func(column string, current *time.Time) {
		if current == nil {
			updates[column] = now
		}
	}
	switch to {
	case enums.OrderStatusPaid:
		stamp("paid_at", order.PaidAt)
	case enums.OrderStatusPaymentFailed:
		stamp("payment_failed_at", order.PaymentFailedAt)
	case enums.OrderStatusShipped:
		stamp("shipped_at", order.ShippedAt)
	case enums.OrderStatusDelivered:
		stamp("delivered_at", order.DeliveredAt)
	case enums.OrderStatusCancelled:
		stamp("cancelled_at", order.CancelledAt)
	case enums.OrderStatusRefunded:
		stamp("refunded_at", order.RefundedAt)
	}
}
