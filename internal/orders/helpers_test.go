package orders

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/tabletopforge/storefront-backend/internal/catalog"
	"github.com/tabletopforge/storefront-backend/internal/inventory"
	"github.com/tabletopforge/storefront-backend/internal/notify"
	"github.com/tabletopforge/storefront-backend/internal/pricing"
	"github.com/tabletopforge/storefront-backend/pkg/config"
	"github.com/tabletopforge/storefront-backend/pkg/db"
	"github.com/tabletopforge/storefront-backend/pkg/db/models"
	"github.com/tabletopforge/storefront-backend/pkg/enums"
	"github.com/tabletopforge/storefront-backend/pkg/types"
)

type recordingNotifier struct {
	mu     sync.Mutex
	events []notify.Event
}

func (r *recordingNotifier) Dispatch(_ context.Context, event notify.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *recordingNotifier) kinds() []enums.NotificationKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]enums.NotificationKind, 0, len(r.events))
	for _, evt := range r.events {
		out = append(out, evt.Kind)
	}
	return out
}

type testEnv struct {
	conn     *gorm.DB
	svc      Service
	notifier *recordingNotifier
	ledger   inventory.Ledger
}

func setupOrdersDB(t *testing.T) *gorm.DB {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open("file:orders_"+uuid.NewString()+"?mode=memory&cache=shared"), &gorm.Config{
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
	return conn
}

func testPricing(t *testing.T) *pricing.Calculator {
	t.Helper()
	calc, err := pricing.NewCalculator(config.PricingConfig{
		Currency:                   "usd",
		ShippingFlatCents:          599,
		FreeShippingThresholdCents: 5000,
		TaxRate:                    "0.08",
	})
	require.NoError(t, err)
	return calc
}

func newTestEnv(t *testing.T, now func() time.Time) *testEnv {
	t.Helper()
	conn := setupOrdersDB(t)
	notifier := &recordingNotifier{}
	ledger := inventory.NewLedger(conn, catalog.NewRepository(conn), nil, nil)
	svc, err := NewService(ServiceParams{
		Repo:     NewRepository(conn),
		Tx:       db.NewFromGorm(conn),
		Catalog:  catalog.NewRepository(conn),
		Ledger:   ledger,
		Pricing:  testPricing(t),
		Notifier: notifier,
		Config:   config.OrdersConfig{TxTimeout: 5 * time.Second, MaxRetries: 3, RetryBase: time.Millisecond},
		Now:      now,
	})
	require.NoError(t, err)
	return &testEnv{conn: conn, svc: svc, notifier: notifier, ledger: ledger}
}

func (e *testEnv) seedGame(t *testing.T, sku string, priceCents, stock int) uuid.UUID {
	t.Helper()
	game := models.Game{SKU: sku, Name: sku, PriceCents: priceCents, Stock: stock, Active: true}
	require.NoError(t, e.conn.Create(&game).Error)
	return game.ID
}

func (e *testEnv) seedMerch(t *testing.T, sku string, priceCents, stock int, sizes []string, printOnDemand bool) uuid.UUID {
	t.Helper()
	item := models.MerchItem{SKU: sku, Name: sku, PriceCents: priceCents, Stock: stock, Sizes: types.StringList(sizes), PrintOnDemand: printOnDemand, Active: true}
	require.NoError(t, e.conn.Create(&item).Error)
	return item.ID
}

func (e *testEnv) gameLevel(t *testing.T, id uuid.UUID) inventory.StockLevel {
	t.Helper()
	level, err := e.ledger.Get(context.Background(), inventory.StockKey{Kind: enums.ItemKindGame, ItemID: id})
	require.NoError(t, err)
	return level
}

func orderInput(lines ...LineInput) CreateOrderInput {
	return CreateOrderInput{
		Customer: CustomerInput{Name: "Ada Lovelace", Email: "ada@example.com"},
		ShippingAddress: types.Address{
			Line1:      "1 Analytical Way",
			City:       "London",
			PostalCode: "N1 9GU",
			Country:    "gb",
		},
		Items: lines,
	}
}

func gameLine(id uuid.UUID, qty int) LineInput {
	return LineInput{Kind: enums.ItemKindGame, ItemID: id, Quantity: qty}
}
