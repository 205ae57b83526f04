package stripewebhook

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"

	"github.com/tabletopforge/storefront-backend/internal/orders"
	"github.com/tabletopforge/storefront-backend/pkg/db/models"
	"github.com/tabletopforge/storefront-backend/pkg/enums"
	pkgerrors "github.com/tabletopforge/storefront-backend/pkg/errors"
	"github.com/tabletopforge/storefront-backend/pkg/logger"
	"github.com/tabletopforge/storefront-backend/pkg/metrics"
)

// Outcome describes how a webhook event was handled. Every outcome except
// failed is acknowledged to the provider.
type Outcome string

const (
	OutcomeProcessed Outcome = "processed"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeIgnored   Outcome = "ignored"
	OutcomeSkipped   Outcome = "skipped"
	OutcomeFailed    Outcome = "failed"
)

const (
	metadataOrderID = "order_id"
	transitionSrc   = "stripe"
	guardScope      = "stripe"
)

type orderService interface {
	Get(ctx context.Context, id uuid.UUID) (*models.Order, error)
	GetByPaymentReference(ctx context.Context, reference string) (*models.Order, error)
	Transition(ctx context.Context, input orders.TransitionInput) (*orders.TransitionResult, error)
}

// Service reconciles Stripe payment events against order state.
type Service struct {
	orders  orderService
	guard   *IdempotencyGuard
	logg    *logger.Logger
	metrics *metrics.OrderMetrics
}

// ServiceParams collects the reconciler dependencies.
type ServiceParams struct {
	Orders  orderService
	Guard   *IdempotencyGuard
	Logger  *logger.Logger
	Metrics *metrics.OrderMetrics
}

func NewService(p ServiceParams) (*Service, error) {
	if p.Orders == nil {
		return nil, fmt.Errorf("orders service required")
	}
	if p.Guard == nil {
		return nil, fmt.Errorf("idempotency guard required")
	}
	logg := p.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	return &Service{orders: p.Orders, guard: p.Guard, logg: logg, metrics: p.Metrics}, nil
}

// NewEventGuard builds the guard scoped to Stripe event ids.
func NewEventGuard(store eventStore, ttl time.Duration) (*IdempotencyGuard, error) {
	return NewIdempotencyGuard(store, ttl, guardScope)
}

// Process deduplicates the event by id and handles it. When handling fails
// the id is released so the provider's redelivery is processed.
func (s *Service) Process(ctx context.Context, event stripe.Event) (Outcome, error) {
	eventType := string(event.Type)
	ctx = s.logg.WithEvent(ctx, event.ID, eventType)

	duplicate, err := s.guard.CheckAndMark(ctx, event.ID)
	if err != nil {
		s.metrics.ObserveWebhook(eventType, string(OutcomeFailed))
		return OutcomeFailed, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "webhook idempotency check failed")
	}
	if duplicate {
		s.logg.Info(ctx, "stripe event already processed")
		s.metrics.ObserveWebhook(eventType, string(OutcomeDuplicate))
		return OutcomeDuplicate, nil
	}

	outcome, err := s.HandleEvent(ctx, event)
	if err != nil {
		if relErr := s.guard.Release(ctx, event.ID); relErr != nil {
			s.logg.Error(ctx, "failed to release stripe event key", relErr)
		}
		s.metrics.ObserveWebhook(eventType, string(OutcomeFailed))
		return OutcomeFailed, err
	}
	s.metrics.ObserveWebhook(eventType, string(outcome))
	return outcome, nil
}

// HandleEvent applies a single verified event. It does not deduplicate.
func (s *Service) HandleEvent(ctx context.Context, event stripe.Event) (Outcome, error) {
	if event.Data == nil {
		return OutcomeIgnored, nil
	}
	switch event.Type {
	case stripe.EventTypePaymentIntentSucceeded:
		return s.handlePaymentSucceeded(ctx, event)
	case stripe.EventTypePaymentIntentPaymentFailed:
		return s.handlePaymentFailed(ctx, event)
	case stripe.EventTypeChargeRefunded:
		return s.handleChargeRefunded(ctx, event)
	default:
		s.logg.Debug(ctx, "ignoring unhandled stripe event type")
		return OutcomeIgnored, nil
	}
}

func (s *Service) handlePaymentSucceeded(ctx context.Context, event stripe.Event) (Outcome, error) {
	var pi stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
		return OutcomeIgnored, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode payment intent")
	}
	order, err := s.orderFromMetadata(ctx, pi.Metadata)
	if order == nil || err != nil {
		return OutcomeIgnored, err
	}
	ctx = s.logg.WithOrderID(ctx, order.ID.String())
	if order.Status.IsPaidOrLater() {
		s.logg.Info(ctx, "order already paid, skipping payment success")
		return OutcomeSkipped, nil
	}

	return s.transition(ctx, orders.TransitionInput{
		OrderID:          order.ID,
		To:               enums.OrderStatusPaid,
		AllowedFrom:      []enums.OrderStatus{enums.OrderStatusPending, enums.OrderStatusPaymentFailed},
		PaymentReference: pi.ID,
		Note:             fmt.Sprintf("payment %s succeeded", pi.ID),
		Source:           transitionSrc,
	})
}

func (s *Service) handlePaymentFailed(ctx context.Context, event stripe.Event) (Outcome, error) {
	var pi stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
		return OutcomeIgnored, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode payment intent")
	}
	order, err := s.orderFromMetadata(ctx, pi.Metadata)
	if order == nil || err != nil {
		return OutcomeIgnored, err
	}
	ctx = s.logg.WithOrderID(ctx, order.ID.String())
	if order.Status != enums.OrderStatusPending {
		s.logg.Info(ctx, "order no longer pending, skipping payment failure")
		return OutcomeSkipped, nil
	}

	note := fmt.Sprintf("payment %s failed", pi.ID)
	if pi.LastPaymentError != nil && pi.LastPaymentError.Msg != "" {
		note += ": " + pi.LastPaymentError.Msg
	}
	// The intent id stays in the note; the payment reference is only set once
	// a payment succeeds.
	return s.transition(ctx, orders.TransitionInput{
		OrderID:     order.ID,
		To:          enums.OrderStatusPaymentFailed,
		AllowedFrom: []enums.OrderStatus{enums.OrderStatusPending},
		Note:        note,
		Source:      transitionSrc,
	})
}

func (s *Service) handleChargeRefunded(ctx context.Context, event stripe.Event) (Outcome, error) {
	var charge stripe.Charge
	if err := json.Unmarshal(event.Data.Raw, &charge); err != nil {
		return OutcomeIgnored, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode charge")
	}
	order, err := s.orderForCharge(ctx, &charge)
	if order == nil || err != nil {
		return OutcomeIgnored, err
	}
	ctx = s.logg.WithOrderID(ctx, order.ID.String())

	full := charge.AmountRefunded >= charge.Amount
	refunded := int(charge.AmountRefunded)
	if full || refunded > order.TotalCents {
		refunded = order.TotalCents
	}

	switch order.Status {
	case enums.OrderStatusRefunded:
		s.logg.Info(ctx, "order already refunded, skipping")
		return OutcomeSkipped, nil
	case enums.OrderStatusPending:
		// The payment success has not landed yet; the provider redelivers.
		return OutcomeFailed, pkgerrors.New(pkgerrors.CodeConflict, "refund received before payment confirmation")
	case enums.OrderStatusPaymentFailed, enums.OrderStatusCancelled:
		s.logg.Warn(ctx, "refund received for order that was never paid")
		return OutcomeSkipped, nil
	}
	if refunded <= order.RefundedCents {
		s.logg.Info(ctx, "refund amount already recorded, skipping")
		return OutcomeSkipped, nil
	}

	to := enums.OrderStatusPartiallyRefunded
	if full || refunded >= order.TotalCents {
		to = enums.OrderStatusRefunded
	}
	return s.transition(ctx, orders.TransitionInput{
		OrderID:       order.ID,
		To:            to,
		RefundedCents: refunded,
		Note:          fmt.Sprintf("charge %s refunded %d", charge.ID, charge.AmountRefunded),
		Source:        transitionSrc,
	})
}

func (s *Service) transition(ctx context.Context, input orders.TransitionInput) (Outcome, error) {
	result, err := s.orders.Transition(ctx, input)
	if err != nil {
		switch {
		case pkgerrors.IsCode(err, pkgerrors.CodeStateConflict):
			s.logg.Warn(ctx, "stripe event requests illegal transition, needs manual review")
			return OutcomeSkipped, nil
		case pkgerrors.IsCode(err, pkgerrors.CodeInsufficientStock):
			s.logg.Error(ctx, "payment captured but stock could not be reserved again, needs manual review", err)
		}
		return OutcomeFailed, err
	}
	if !result.Changed {
		if result.From != input.To {
			warnCtx := s.logg.WithFields(ctx, map[string]any{
				"current":   result.From.String(),
				"requested": input.To.String(),
			})
			s.logg.Warn(warnCtx, "stripe event skipped, order not in an eligible status")
		}
		return OutcomeSkipped, nil
	}
	s.logg.Info(ctx, "order reconciled from stripe event")
	return OutcomeProcessed, nil
}

// orderFromMetadata resolves metadata.order_id. A missing, malformed or
// unknown id yields a nil order and no error.
func (s *Service) orderFromMetadata(ctx context.Context, metadata map[string]string) (*models.Order, error) {
	raw := strings.TrimSpace(metadata[metadataOrderID])
	if raw == "" {
		s.logg.Warn(ctx, "stripe event missing order_id metadata")
		return nil, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		s.logg.Warn(ctx, "stripe event has malformed order_id metadata")
		return nil, nil
	}
	order, err := s.orders.Get(ctx, id)
	if err != nil {
		if pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
			s.logg.Warn(ctx, "stripe event references unknown order")
			return nil, nil
		}
		return nil, err
	}
	return order, nil
}

func (s *Service) orderForCharge(ctx context.Context, charge *stripe.Charge) (*models.Order, error) {
	if charge.PaymentIntent != nil && charge.PaymentIntent.ID != "" {
		order, err := s.orders.GetByPaymentReference(ctx, charge.PaymentIntent.ID)
		switch {
		case err == nil:
			return order, nil
		case !pkgerrors.IsCode(err, pkgerrors.CodeNotFound):
			return nil, err
		}
	}
	return s.orderFromMetadata(ctx, charge.Metadata)
}
