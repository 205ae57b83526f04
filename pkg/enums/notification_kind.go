package enums

// NotificationKind names the order events fanned out to side-effect sinks.
type NotificationKind string

const (
	NotificationOrderPaid              NotificationKind = "order.paid"
	NotificationOrderPaymentFailed     NotificationKind = "order.payment_failed"
	NotificationOrderCancelled         NotificationKind = "order.cancelled"
	NotificationOrderShipped           NotificationKind = "order.shipped"
	NotificationOrderDelivered         NotificationKind = "order.delivered"
	NotificationOrderRefunded          NotificationKind = "order.refunded"
	NotificationOrderPartiallyRefunded NotificationKind = "order.partially_refunded"
)

// NotificationForStatus maps a newly entered order status to its event kind.
func NotificationForStatus(status OrderStatus) (NotificationKind, bool) {
	switch status {
	case OrderStatusPaid:
		return NotificationOrderPaid, true
	case OrderStatusPaymentFailed:
		return NotificationOrderPaymentFailed, true
	case OrderStatusCancelled:
		return NotificationOrderCancelled, true
	case OrderStatusShipped:
		return NotificationOrderShipped, true
	case OrderStatusDelivered:
		return NotificationOrderDelivered, true
	case OrderStatusRefunded:
		return NotificationOrderRefunded, true
	case OrderStatusPartiallyRefunded:
		return NotificationOrderPartiallyRefunded, true
	}
	return "", false
}

func (k NotificationKind) String() string {
	return string(k)
}
