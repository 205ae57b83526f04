package cron

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/tabletopforge/storefront-backend/internal/catalog"
	"github.com/tabletopforge/storefront-backend/internal/inventory"
	"github.com/tabletopforge/storefront-backend/internal/orders"
	"github.com/tabletopforge/storefront-backend/internal/pricing"
	"github.com/tabletopforge/storefront-backend/pkg/config"
	"github.com/tabletopforge/storefront-backend/pkg/db"
	"github.com/tabletopforge/storefront-backend/pkg/db/models"
	"github.com/tabletopforge/storefront-backend/pkg/enums"
	pkgerrors "github.com/tabletopforge/storefront-backend/pkg/errors"
	"github.com/tabletopforge/storefront-backend/pkg/logger"
	"github.com/tabletopforge/storefront-backend/pkg/types"
)

type fakePendingOrders struct {
	ids      []uuid.UUID
	listErr  error
	results  map[uuid.UUID]error
	inputs   []orders.TransitionInput
	olderArg time.Duration
	limitArg int
}

func (f *fakePendingOrders) ListStalePending(_ context.Context, olderThan time.Duration, limit int) ([]uuid.UUID, error) {
	f.olderArg, f.limitArg = olderThan, limit
	return f.ids, f.listErr
}

func (f *fakePendingOrders) Transition(_ context.Context, input orders.TransitionInput) (*orders.TransitionResult, error) {
	f.inputs = append(f.inputs, input)
	if err := f.results[input.OrderID]; err != nil {
		return nil, err
	}
	return &orders.TransitionResult{Changed: true}, nil
}

func TestExpirePendingJobCancelsThroughStateMachine(t *testing.T) {
	paidMeanwhile, broken, stale := uuid.New(), uuid.New(), uuid.New()
	fake := &fakePendingOrders{
		ids: []uuid.UUID{paidMeanwhile, broken, stale},
		results: map[uuid.UUID]error{
			paidMeanwhile: pkgerrors.IllegalTransition("paid", "cancelled"),
			broken:        pkgerrors.New(pkgerrors.CodeDependency, "db down"),
		},
	}
	job, err := NewExpirePendingJob(ExpirePendingJobParams{Logger: logger.Nop(), Orders: fake, OlderThan: 24 * time.Hour, BatchSize: 10})
	require.NoError(t, err)

	err = job.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), broken.String())
	assert.NotContains(t, err.Error(), paidMeanwhile.String())

	assert.Equal(t, 24*time.Hour, fake.olderArg)
	assert.Equal(t, 10, fake.limitArg)
	require.Len(t, fake.inputs, 3)
	for _, in := range fake.inputs {
		assert.Equal(t, enums.OrderStatusCancelled, in.To)
		assert.Equal(t, []enums.OrderStatus{enums.OrderStatusPending}, in.AllowedFrom)
		assert.Equal(t, "expired: unpaid", in.Note)
		assert.Equal(t, "cron", in.Source)
	}
}

func TestExpirePendingJobListFailure(t *testing.T) {
	fake := &fakePendingOrders{listErr: errors.New("timeout")}
	job, err := NewExpirePendingJob(ExpirePendingJobParams{Logger: logger.Nop(), Orders: fake, OlderThan: time.Hour})
	require.NoError(t, err)
	assert.Error(t, job.Run(context.Background()))
	assert.Equal(t, defaultBatchSize, fake.limitArg)
}

func TestNewExpirePendingJobValidates(t *testing.T) {
	_, err := NewExpirePendingJob(ExpirePendingJobParams{Orders: &fakePendingOrders{}, OlderThan: time.Hour})
	assert.Error(t, err)
	_, err = NewExpirePendingJob(ExpirePendingJobParams{Logger: logger.Nop(), OlderThan: time.Hour})
	assert.Error(t, err)
	_, err = NewExpirePendingJob(ExpirePendingJobParams{Logger: logger.Nop(), Orders: &fakePendingOrders{}})
	assert.Error(t, err)
}

func TestExpirePendingJobReleasesStock(t *testing.T) {
	conn, err := gorm.Open(sqlite.Open("file:cron_"+uuid.NewString()+"?mode=memory&cache=shared"), &gorm.Config{
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	require.NoError(t, err)
	sqlDB, err := conn.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, conn.AutoMigrate(
		&models.Game{}, &models.MerchItem{}, &models.GameStock{}, &models.MerchStock{},
		&models.Order{}, &models.OrderLineItem{}, &models.OrderStatusEvent{},
	))

	clock := time.Now().UTC()
	calc, err := pricing.NewCalculator(config.PricingConfig{Currency: "usd", ShippingFlatCents: 599, FreeShippingThresholdCents: 5000, TaxRate: "0.08"})
	require.NoError(t, err)
	ledger := inventory.NewLedger(conn, catalog.NewRepository(conn), nil, nil)
	svc, err := orders.NewService(orders.ServiceParams{
		Repo:    orders.NewRepository(conn),
		Tx:      db.NewFromGorm(conn),
		Catalog: catalog.NewRepository(conn),
		Ledger:  ledger,
		Pricing: calc,
		Config:  config.OrdersConfig{TxTimeout: 5 * time.Second, MaxRetries: 2, RetryBase: time.Millisecond},
		Now:     func() time.Time { return clock },
	})
	require.NoError(t, err)

	game := models.Game{SKU: "AZUL", Name: "Azul", PriceCents: 3000, Stock: 4, Active: true}
	require.NoError(t, conn.Create(&game).Error)
	order, err := svc.CreateOrder(context.Background(), orders.CreateOrderInput{
		Customer:        orders.CustomerInput{Name: "Ada", Email: "ada@example.com"},
		ShippingAddress: types.Address{Line1: "1 Main St", City: "Springfield", PostalCode: "12345", Country: "US"},
		Items:           []orders.LineInput{{Kind: enums.ItemKindGame, ItemID: game.ID, Quantity: 3}},
	})
	require.NoError(t, err)

	job, err := NewExpirePendingJob(ExpirePendingJobParams{Logger: logger.Nop(), Orders: svc, OlderThan: 24 * time.Hour})
	require.NoError(t, err)

	// Not stale yet.
	require.NoError(t, job.Run(context.Background()))
	current, err := svc.Get(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusPending, current.Status)

	clock = clock.Add(48 * time.Hour)
	require.NoError(t, job.Run(context.Background()))

	current, err = svc.Get(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusCancelled, current.Status)
	level, err := ledger.Get(context.Background(), inventory.StockKey{Kind: enums.ItemKindGame, ItemID: game.ID})
	require.NoError(t, err)
	assert.Equal(t, 4, level.Available())
}
