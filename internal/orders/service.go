package orders

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"gorm.io/gorm"

	"github.com/tabletopforge/storefront-backend/internal/catalog"
	"github.com/tabletopforge/storefront-backend/internal/inventory"
	"github.com/tabletopforge/storefront-backend/internal/notify"
	"github.com/tabletopforge/storefront-backend/internal/pricing"
	"github.com/tabletopforge/storefront-backend/pkg/config"
	"github.com/tabletopforge/storefront-backend/pkg/db"
	"github.com/tabletopforge/storefront-backend/pkg/db/models"
	"github.com/tabletopforge/storefront-backend/pkg/enums"
	pkgerrors "github.com/tabletopforge/storefront-backend/pkg/errors"
	"github.com/tabletopforge/storefront-backend/pkg/logger"
	"github.com/tabletopforge/storefront-backend/pkg/metrics"
	"github.com/tabletopforge/storefront-backend/pkg/pagination"
)

const maxLinesPerOrder = 50

type txRunner interface {
	WithTxOptions(ctx context.Context, opts db.TxOptions, fn func(tx *gorm.DB) error) error
}

// Notifier receives order events after the status change has committed.
type Notifier interface {
	Dispatch(ctx context.Context, event notify.Event) error
}

// Service defines the order engine operations.
type Service interface {
	CreateOrder(ctx context.Context, input CreateOrderInput) (*models.Order, error)
	Get(ctx context.Context, id uuid.UUID) (*models.Order, error)
	GetByPaymentReference(ctx context.Context, reference string) (*models.Order, error)
	List(ctx context.Context, filters ListFilters, params pagination.Params) (*OrderList, error)
	Transition(ctx context.Context, input TransitionInput) (*TransitionResult, error)
	ListStalePending(ctx context.Context, olderThan time.Duration, limit int) ([]uuid.UUID, error)
}

// ServiceParams collects the order engine dependencies.
type ServiceParams struct {
	Repo     Repository
	Tx       txRunner
	Catalog  catalog.Reader
	Ledger   inventory.Ledger
	Pricing  *pricing.Calculator
	Notifier Notifier
	Logger   *logger.Logger
	Metrics  *metrics.OrderMetrics
	Config   config.OrdersConfig
	Currency string
	// Now overrides the clock in tests.
	Now func() time.Time
}

type service struct {
	repo       Repository
	tx         txRunner
	catalog    catalog.Reader
	ledger     inventory.Ledger
	pricing    *pricing.Calculator
	notifier   Notifier
	logg       *logger.Logger
	metrics    *metrics.OrderMetrics
	txOpts     db.TxOptions
	maxRetries uint64
	retryBase  time.Duration
	currency   string
	now        func() time.Time
}

// NewService builds the order engine with the required dependencies.
func NewService(p ServiceParams) (Service, error) {
	if p.Repo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if p.Tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if p.Catalog == nil {
		return nil, fmt.Errorf("catalog reader required")
	}
	if p.Ledger == nil {
		return nil, fmt.Errorf("stock ledger required")
	}
	if p.Pricing == nil {
		return nil, fmt.Errorf("pricing calculator required")
	}
	logg := p.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	now := p.Now
	if now == nil {
		now = time.Now
	}
	retryBase := p.Config.RetryBase
	if retryBase <= 0 {
		retryBase = 25 * time.Millisecond
	}
	currency := strings.ToLower(strings.TrimSpace(p.Currency))
	if currency == "" {
		currency = "usd"
	}
	return &service{
		repo:       p.Repo,
		tx:         p.Tx,
		catalog:    p.Catalog,
		ledger:     p.Ledger,
		pricing:    p.Pricing,
		notifier:   p.Notifier,
		logg:       logg,
		metrics:    p.Metrics,
		txOpts:     db.Serializable(p.Config.TxTimeout, p.Config.LockTimeout, p.Config.StatementTimeout),
		maxRetries: p.Config.MaxRetries,
		retryBase:  retryBase,
		currency:   currency,
		now:        now,
	}, nil
}

// CreateOrder prices and reserves every line inside one serializable
// transaction. Either the order, its lines, its first history entry and all
// reservations persist together or nothing does.
func (s *service) CreateOrder(ctx context.Context, input CreateOrderInput) (*models.Order, error) {
	input, err := normalizeCreateInput(input)
	if err != nil {
		return nil, err
	}

	var created *models.Order
	err = s.runSerializable(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		cat := s.catalog.WithTx(tx)
		ledger := s.ledger.WithTx(tx)

		lines := make([]models.OrderLineItem, 0, len(input.Items))
		subtotal := 0
		for i, requested := range input.Items {
			line, err := s.buildLine(ctx, cat, ledger, i+1, requested)
			if err != nil {
				return err
			}
			subtotal += line.LineTotalCents
			lines = append(lines, line)
		}

		totals := s.pricing.Compute(subtotal)
		order := &models.Order{
			CustomerName:    input.Customer.Name,
			CustomerEmail:   input.Customer.Email,
			CustomerPhone:   input.Customer.Phone,
			ShippingAddress: input.ShippingAddress,
			BillingAddress:  input.BillingAddress,
			Status:          enums.OrderStatusPending,
			Currency:        s.currency,
			SubtotalCents:   totals.SubtotalCents,
			ShippingCents:   totals.ShippingCents,
			TaxCents:        totals.TaxCents,
			TotalCents:      totals.TotalCents,
		}
		if err := repo.CreateOrder(ctx, order, lines); err != nil {
			return err
		}
		note := "order placed"
		if err := repo.AppendStatusEvent(ctx, &models.OrderStatusEvent{OrderID: order.ID, Status: enums.OrderStatusPending, Note: &note}); err != nil {
			return err
		}

		reloaded, err := repo.FindByID(ctx, order.ID)
		if err != nil {
			return err
		}
		created = reloaded
		return nil
	})
	if err != nil {
		return nil, err
	}

	logCtx := s.logg.WithOrderID(ctx, created.ID.String())
	s.logg.Info(logCtx, fmt.Sprintf("order created total=%d lines=%d", created.TotalCents, len(created.Items)))
	return created, nil
}

func (s *service) buildLine(ctx context.Context, cat catalog.Reader, ledger inventory.Ledger, lineNumber int, requested LineInput) (models.OrderLineItem, error) {
	item, err := cat.Find(ctx, requested.Kind, requested.ItemID)
	if err != nil {
		if pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
			return models.OrderLineItem{}, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("line %d: item is not available", lineNumber)).
				WithDetails(map[string]any{"line": lineNumber, "itemId": requested.ItemID.String()})
		}
		return models.OrderLineItem{}, err
	}
	if err := validateSize(item, requested.Size, lineNumber); err != nil {
		return models.OrderLineItem{}, err
	}

	line := models.OrderLineItem{
		LineNumber:       lineNumber,
		Kind:             requested.Kind,
		Size:             requested.Size,
		Name:             item.Name,
		Quantity:         requested.Quantity,
		UnitPriceCents:   item.PriceCents,
		LineTotalCents:   pricing.LineTotal(item.PriceCents, requested.Quantity),
		ReservationState: enums.ReservationStateHeld,
	}
	id := item.ID
	if requested.Kind == enums.ItemKindGame {
		line.GameID = &id
	} else {
		line.MerchItemID = &id
	}

	if item.PrintOnDemand {
		line.ReservationState = enums.ReservationStateNone
		return line, nil
	}
	key := inventory.StockKey{Kind: requested.Kind, ItemID: item.ID, Variant: requested.Size}
	if _, err := ledger.Reserve(ctx, key, requested.Quantity); err != nil {
		return models.OrderLineItem{}, err
	}
	return line, nil
}

func validateSize(item *catalog.Item, size string, lineNumber int) error {
	switch {
	case item.Kind == enums.ItemKindGame && size != "":
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("line %d: games do not take a size", lineNumber))
	case item.Kind == enums.ItemKindMerch && len(item.Sizes) > 0 && !item.Sizes.Contains(size):
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("line %d: size must be one of %s", lineNumber, strings.Join(item.Sizes, ", "))).
			WithDetails(map[string]any{"line": lineNumber, "sizes": []string(item.Sizes)})
	case item.Kind == enums.ItemKindMerch && len(item.Sizes) == 0 && size != "":
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("line %d: item is not sized", lineNumber))
	}
	return nil
}

func normalizeCreateInput(input CreateOrderInput) (CreateOrderInput, error) {
	input.Customer.Name = strings.TrimSpace(input.Customer.Name)
	input.Customer.Email = strings.TrimSpace(input.Customer.Email)
	if input.Customer.Phone != nil {
		phone := strings.TrimSpace(*input.Customer.Phone)
		if phone == "" {
			input.Customer.Phone = nil
		} else {
			input.Customer.Phone = &phone
		}
	}
	input.ShippingAddress = input.ShippingAddress.Normalize()
	if input.BillingAddress != nil {
		billing := input.BillingAddress.Normalize()
		input.BillingAddress = &billing
	}

	var problems []string
	if input.Customer.Name == "" {
		problems = append(problems, "customer name is required")
	}
	if _, err := mail.ParseAddress(input.Customer.Email); err != nil || !strings.Contains(input.Customer.Email, "@") {
		problems = append(problems, "customer email is invalid")
	}
	for _, field := range input.ShippingAddress.Missing() {
		problems = append(problems, "shipping address "+field+" is required")
	}
	if input.BillingAddress != nil {
		for _, field := range input.BillingAddress.Missing() {
			problems = append(problems, "billing address "+field+" is required")
		}
	}
	if len(input.Items) == 0 {
		problems = append(problems, "at least one item is required")
	}
	if len(input.Items) > maxLinesPerOrder {
		problems = append(problems, fmt.Sprintf("at most %d items are allowed", maxLinesPerOrder))
	}
	for i := range input.Items {
		line := &input.Items[i]
		line.Size = strings.TrimSpace(line.Size)
		if !line.Kind.IsValid() {
			problems = append(problems, fmt.Sprintf("line %d: kind must be game or merch", i+1))
		}
		if line.ItemID == uuid.Nil {
			problems = append(problems, fmt.Sprintf("line %d: item id is required", i+1))
		}
		if line.Quantity <= 0 {
			problems = append(problems, fmt.Sprintf("line %d: quantity must be positive", i+1))
		}
	}
	if len(problems) > 0 {
		return input, pkgerrors.New(pkgerrors.CodeValidation, problems[0]).
			WithDetails(map[string]any{"problems": problems})
	}
	return input, nil
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	if id == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	order, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, mapLookupErr(err)
	}
	return order, nil
}

func (s *service) GetByPaymentReference(ctx context.Context, reference string) (*models.Order, error) {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment reference required")
	}
	order, err := s.repo.FindByPaymentReference(ctx, reference)
	if err != nil {
		return nil, mapLookupErr(err)
	}
	return order, nil
}

func (s *service) List(ctx context.Context, filters ListFilters, params pagination.Params) (*OrderList, error) {
	if filters.Status != nil && !filters.Status.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid status filter")
	}
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}

	rows, err := s.repo.List(ctx, filters, cursor, pagination.LimitWithBuffer(params.Limit))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list orders")
	}
	page, next := pagination.Trim(rows, params.Limit, func(o models.Order) pagination.Cursor {
		return pagination.Cursor{CreatedAt: o.CreatedAt, ID: o.ID}
	})
	if page == nil {
		page = []models.Order{}
	}
	return &OrderList{Orders: page, NextCursor: next}, nil
}

func (s *service) ListStalePending(ctx context.Context, olderThan time.Duration, limit int) ([]uuid.UUID, error) {
	if olderThan <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "pending ttl must be positive")
	}
	ids, err := s.repo.FindPendingBefore(ctx, s.now().UTC().Add(-olderThan), pagination.NormalizeLimit(limit))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list stale pending orders")
	}
	return ids, nil
}

// Transition moves an order through the state machine. Repeating the current
// status is a no-op; unlisted moves fail with STATE_CONFLICT and leave the
// order untouched.
func (s *service) Transition(ctx context.Context, input TransitionInput) (*TransitionResult, error) {
	if input.OrderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	if !input.To.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid target status")
	}
	if input.RefundedCents < 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "refunded amount must not be negative")
	}

	var result TransitionResult
	err := s.runSerializable(ctx, func(tx *gorm.DB) error {
		result = TransitionResult{}
		repo := s.repo.WithTx(tx)

		order, err := repo.FindByID(ctx, input.OrderID)
		if err != nil {
			return mapLookupErr(err)
		}
		result.Order = order
		result.From = order.Status

		if skipTransition(order, input) {
			return nil
		}
		rule, ok := lookupTransition(order, input.To)
		if !ok {
			return pkgerrors.IllegalTransition(order.Status.String(), input.To.String())
		}
		if isRefund(input.To) && input.RefundedCents > order.TotalCents {
			return pkgerrors.New(pkgerrors.CodeValidation, "refunded amount exceeds order total")
		}

		updates := map[string]any{"status": input.To}
		stampMilestone(order, input.To, s.now().UTC(), updates)
		if ref := strings.TrimSpace(input.PaymentReference); ref != "" && order.PaymentReference == nil {
			updates["payment_reference"] = ref
		}
		if tracking := strings.TrimSpace(input.TrackingNumber); tracking != "" {
			updates["tracking_number"] = tracking
		}
		switch {
		case isRefund(input.To) && input.RefundedCents > order.RefundedCents:
			updates["refunded_cents"] = input.RefundedCents
		case input.To == enums.OrderStatusRefunded && input.RefundedCents == 0:
			updates["refunded_cents"] = order.TotalCents
		}

		changed, err := repo.UpdateStatusIf(ctx, order.ID, order.Status, updates)
		if err != nil {
			return err
		}
		if !changed {
			return pkgerrors.New(pkgerrors.CodeConflict, "order was modified concurrently")
		}
		if err := s.applyEffect(ctx, tx, order, rule.effect); err != nil {
			return err
		}

		event := &models.OrderStatusEvent{OrderID: order.ID, Status: input.To}
		if note := strings.TrimSpace(input.Note); note != "" {
			event.Note = &note
		}
		if err := repo.AppendStatusEvent(ctx, event); err != nil {
			return err
		}

		updated, err := repo.FindByID(ctx, order.ID)
		if err != nil {
			return err
		}
		result.Order = updated
		result.Changed = true
		return nil
	})
	if err != nil {
		return nil, err
	}

	if result.Changed {
		s.metrics.ObserveTransition(result.From.String(), input.To.String())
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"order_id": input.OrderID.String(),
			"from":     result.From.String(),
			"to":       input.To.String(),
			"source":   input.Source,
		})
		s.logg.Info(logCtx, "order status changed")
		s.dispatch(ctx, &result)
	}
	return &result, nil
}

// skipTransition reports the idempotent cases that leave the order as is.
func skipTransition(order *models.Order, input TransitionInput) bool {
	if len(input.AllowedFrom) > 0 && !containsStatus(input.AllowedFrom, order.Status) {
		return true
	}
	if order.Status == input.To {
		// Only a larger cumulative refund moves a partial refund forward.
		return input.To != enums.OrderStatusPartiallyRefunded || input.RefundedCents <= order.RefundedCents
	}
	return isRefund(input.To) && input.RefundedCents > 0 && input.RefundedCents <= order.RefundedCents
}

func (s *service) applyEffect(ctx context.Context, tx *gorm.DB, order *models.Order, effect ledgerEffect) error {
	switch effect {
	case effectNone:
		return nil
	case effectReacquire:
		return s.reacquire(ctx, tx, order)
	case effectReleaseIfUnshipped:
		if order.ShippedAt != nil {
			return nil
		}
		effect = effectRelease
	}

	repo := s.repo.WithTx(tx)
	ledger := s.ledger.WithTx(tx)
	for _, line := range order.Items {
		if line.ReservationState != enums.ReservationStateHeld {
			continue
		}
		key := inventory.StockKey{Kind: line.Kind, ItemID: line.ItemID(), Variant: line.Size}
		next := enums.ReservationStateReleased
		var err error
		if effect == effectCommit {
			next = enums.ReservationStateCommitted
			err = ledger.Commit(ctx, key, line.Quantity)
		} else {
			err = ledger.Release(ctx, key, line.Quantity)
		}
		if err != nil {
			return err
		}
		if _, err := repo.UpdateReservationState(ctx, line.ID, enums.ReservationStateHeld, next); err != nil {
			return err
		}
	}
	return nil
}

// reacquire reserves released lines again. Any shortfall fails the whole
// transition with INSUFFICIENT_STOCK and leaves the order as it was.
func (s *service) reacquire(ctx context.Context, tx *gorm.DB, order *models.Order) error {
	repo := s.repo.WithTx(tx)
	ledger := s.ledger.WithTx(tx)
	for _, line := range order.Items {
		if line.ReservationState != enums.ReservationStateReleased {
			continue
		}
		key := inventory.StockKey{Kind: line.Kind, ItemID: line.ItemID(), Variant: line.Size}
		if _, err := ledger.Reserve(ctx, key, line.Quantity); err != nil {
			return err
		}
		if _, err := repo.UpdateReservationState(ctx, line.ID, enums.ReservationStateReleased, enums.ReservationStateHeld); err != nil {
			return err
		}
	}
	return nil
}

// dispatch runs after commit on a context detached from the caller so a
// client disconnect does not cut notifications short.
func (s *service) dispatch(ctx context.Context, result *TransitionResult) {
	if s.notifier == nil || result.Order == nil {
		return
	}
	kind, ok := enums.NotificationForStatus(result.Order.Status)
	if !ok {
		return
	}
	event := notify.EventFromOrder(kind, result.Order, result.From, s.now())
	if err := s.notifier.Dispatch(context.WithoutCancel(ctx), event); err != nil {
		s.logg.Warn(s.logg.WithOrderID(ctx, result.Order.ID.String()), "order notifications partially failed: "+err.Error())
	}
}

// runSerializable retries fn on serialization conflicts with jittered
// exponential backoff.
func (s *service) runSerializable(ctx context.Context, fn func(tx *gorm.DB) error) error {
	backoff := retry.WithMaxRetries(s.maxRetries, retry.WithJitterPercent(20, retry.NewExponential(s.retryBase)))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := s.tx.WithTxOptions(ctx, s.txOpts, fn)
		if pkgerrors.IsCode(err, pkgerrors.CodeConflict) {
			s.logg.Debug(ctx, "retrying order transaction after conflict")
			return retry.RetryableError(err)
		}
		return err
	})
}

func mapLookupErr(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	if pkgerrors.As(err) != nil {
		return err
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
}

func containsStatus(list []enums.OrderStatus, status enums.OrderStatus) bool {
	for _, candidate := range list {
		if candidate == status {
			return true
		}
	}
	return false
}
