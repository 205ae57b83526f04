package webhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v84"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/tabletopforge/storefront-backend/api/responses"
	"github.com/tabletopforge/storefront-backend/internal/catalog"
	"github.com/tabletopforge/storefront-backend/internal/inventory"
	"github.com/tabletopforge/storefront-backend/internal/orders"
	"github.com/tabletopforge/storefront-backend/internal/pricing"
	stripewebhook "github.com/tabletopforge/storefront-backend/internal/webhooks/stripe"
	"github.com/tabletopforge/storefront-backend/pkg/config"
	"github.com/tabletopforge/storefront-backend/pkg/db"
	"github.com/tabletopforge/storefront-backend/pkg/db/models"
	"github.com/tabletopforge/storefront-backend/pkg/enums"
	pkgredis "github.com/tabletopforge/storefront-backend/pkg/redis"
	pkgstripe "github.com/tabletopforge/storefront-backend/pkg/stripe"
	"github.com/tabletopforge/storefront-backend/pkg/types"
)

const testSecret = "whsec_test"

type webhookEnv struct {
	conn    *gorm.DB
	orders  orders.Service
	ledger  inventory.Ledger
	handler http.HandlerFunc
	redis   *miniredis.Miniredis
}

func newWebhookEnv(t *testing.T) *webhookEnv {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open("file:webhooks_"+uuid.NewString()+"?mode=memory&cache=shared"), &gorm.Config{
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

	calc, err := pricing.NewCalculator(config.PricingConfig{Currency: "usd", ShippingFlatCents: 599, FreeShippingThresholdCents: 5000, TaxRate: "0.08"})
	require.NoError(t, err)
	ledger := inventory.NewLedger(conn, catalog.NewRepository(conn), nil, nil)
	orderSvc, err := orders.NewService(orders.ServiceParams{
		Repo:    orders.NewRepository(conn),
		Tx:      db.NewFromGorm(conn),
		Catalog: catalog.NewRepository(conn),
		Ledger:  ledger,
		Pricing: calc,
		Config:  config.OrdersConfig{TxTimeout: 5 * time.Second, MaxRetries: 2, RetryBase: time.Millisecond},
	})
	require.NoError(t, err)

	mr := miniredis.RunT(t)
	rdb, err := pkgredis.New(context.Background(), config.RedisConfig{URL: "redis://" + mr.Addr()}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rdb.Close() })
	guard, err := stripewebhook.NewEventGuard(rdb, time.Hour)
	require.NoError(t, err)
	reconciler, err := stripewebhook.NewService(stripewebhook.ServiceParams{Orders: orderSvc, Guard: guard})
	require.NoError(t, err)
	verifier, err := pkgstripe.NewVerifier(config.StripeConfig{WebhookSecret: testSecret, WebhookTolerance: 5 * time.Minute})
	require.NoError(t, err)

	return &webhookEnv{
		conn:    conn,
		orders:  orderSvc,
		ledger:  ledger,
		handler: StripeWebhook(reconciler, verifier, nil),
		redis:   mr,
	}
}

func (e *webhookEnv) placeOrder(t *testing.T, stock, qty int) (*models.Order, uuid.UUID) {
	t.Helper()
	game := models.Game{SKU: "SKU-" + uuid.NewString()[:8], Name: "Catan", PriceCents: 2500, Stock: stock, Active: true}
	require.NoError(t, e.conn.Create(&game).Error)
	order, err := e.orders.CreateOrder(context.Background(), orders.CreateOrderInput{
		Customer:        orders.CustomerInput{Name: "Ada", Email: "ada@example.com"},
		ShippingAddress: types.Address{Line1: "1 Main St", City: "Springfield", PostalCode: "12345", Country: "US"},
		Items:           []orders.LineInput{{Kind: enums.ItemKindGame, ItemID: game.ID, Quantity: qty}},
	})
	require.NoError(t, err)
	return order, game.ID
}

func (e *webhookEnv) available(t *testing.T, gameID uuid.UUID) int {
	t.Helper()
	level, err := e.ledger.Get(context.Background(), inventory.StockKey{Kind: enums.ItemKindGame, ItemID: gameID})
	require.NoError(t, err)
	return level.Available()
}

func eventPayload(t *testing.T, id string, typ stripe.EventType, object map[string]any) []byte {
	t.Helper()
	raw, err := json.Marshal(object)
	require.NoError(t, err)
	return []byte(fmt.Sprintf(`{"id":%q,"object":"event","type":%q,"api_version":%q,"created":%d,"data":{"object":%s}}`,
		id, typ, stripe.APIVersion, time.Now().Unix(), raw))
}

func signature(payload []byte, secret string) string {
	ts := time.Now().Unix()
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(fmt.Sprintf("%d.%s", ts, payload)))
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

func (e *webhookEnv) deliver(payload []byte, sig string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/stripe", bytes.NewReader(payload))
	if sig != "" {
		req.Header.Set(pkgstripe.SignatureHeader, sig)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func succeeded(t *testing.T, eventID, piID string, orderID uuid.UUID) []byte {
	return eventPayload(t, eventID, stripe.EventTypePaymentIntentSucceeded, map[string]any{
		"id": piID, "object": "payment_intent", "metadata": map[string]string{"order_id": orderID.String()},
	})
}

func TestPaymentSucceededIsAppliedOnce(t *testing.T) {
	env := newWebhookEnv(t)
	order, _ := env.placeOrder(t, 5, 1)
	payload := succeeded(t, "evt_paid", "pi_1", order.ID)

	first := env.deliver(payload, signature(payload, testSecret))
	require.Equal(t, http.StatusOK, first.Code, first.Body.String())
	assert.JSONEq(t, `{"received":true}`, first.Body.String())

	second := env.deliver(payload, signature(payload, testSecret))
	require.Equal(t, http.StatusOK, second.Code)
	assert.JSONEq(t, `{"received":true,"duplicate":true}`, second.Body.String())

	// A distinct event for the same payment is absorbed by order state.
	again := succeeded(t, "evt_paid_again", "pi_1", order.ID)
	require.Equal(t, http.StatusOK, env.deliver(again, signature(again, testSecret)).Code)

	reloaded, err := env.orders.Get(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusPaid, reloaded.Status)
	require.NotNil(t, reloaded.PaymentReference)
	assert.Equal(t, "pi_1", *reloaded.PaymentReference)
	assert.Len(t, reloaded.History, 2)
}

func TestInvalidSignatureIsRejected(t *testing.T) {
	env := newWebhookEnv(t)
	order, _ := env.placeOrder(t, 5, 1)
	payload := succeeded(t, "evt_forged", "pi_1", order.ID)

	for name, sig := range map[string]string{
		"missing":   "",
		"wrong key": signature(payload, "whsec_other"),
		"malformed": "t=1,v1=invalid",
	} {
		t.Run(name, func(t *testing.T) {
			rec := env.deliver(payload, sig)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			var body responses.ErrorEnvelope
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
			assert.Equal(t, "INVALID_SIGNATURE", body.Error.Code)
		})
	}

	reloaded, err := env.orders.Get(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusPending, reloaded.Status)
	assert.Empty(t, env.redis.Keys())
}

func TestPaymentFailedReleasesStock(t *testing.T) {
	env := newWebhookEnv(t)
	order, gameID := env.placeOrder(t, 5, 3)
	require.Equal(t, 2, env.available(t, gameID))

	payload := eventPayload(t, "evt_failed", stripe.EventTypePaymentIntentPaymentFailed, map[string]any{
		"id": "pi_f", "object": "payment_intent", "metadata": map[string]string{"order_id": order.ID.String()},
	})
	rec := env.deliver(payload, signature(payload, testSecret))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	reloaded, err := env.orders.Get(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusPaymentFailed, reloaded.Status)
	assert.Equal(t, 5, env.available(t, gameID))
}

func TestRetriedCardAfterFailureMarksOrderPaid(t *testing.T) {
	env := newWebhookEnv(t)
	order, gameID := env.placeOrder(t, 5, 2)

	failed := eventPayload(t, "evt_failed", stripe.EventTypePaymentIntentPaymentFailed, map[string]any{
		"id": "pi_1", "object": "payment_intent", "metadata": map[string]string{"order_id": order.ID.String()},
	})
	require.Equal(t, http.StatusOK, env.deliver(failed, signature(failed, testSecret)).Code)
	require.Equal(t, 5, env.available(t, gameID))

	paid := succeeded(t, "evt_paid", "pi_1", order.ID)
	rec := env.deliver(paid, signature(paid, testSecret))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	reloaded, err := env.orders.Get(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusPaid, reloaded.Status)
	require.NotNil(t, reloaded.PaymentReference)
	assert.Equal(t, "pi_1", *reloaded.PaymentReference)
	assert.Equal(t, 3, env.available(t, gameID))
}

func TestRefundBeforePaymentAsksForRedelivery(t *testing.T) {
	env := newWebhookEnv(t)
	order, gameID := env.placeOrder(t, 5, 1)

	refund := eventPayload(t, "evt_refund", stripe.EventTypeChargeRefunded, map[string]any{
		"id": "ch_1", "object": "charge", "amount": order.TotalCents, "amount_refunded": order.TotalCents,
		"payment_intent": "pi_1", "metadata": map[string]string{"order_id": order.ID.String()},
	})
	rec := env.deliver(refund, signature(refund, testSecret))
	assert.Equal(t, http.StatusConflict, rec.Code)

	paid := succeeded(t, "evt_paid", "pi_1", order.ID)
	require.Equal(t, http.StatusOK, env.deliver(paid, signature(paid, testSecret)).Code)

	rec = env.deliver(refund, signature(refund, testSecret))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"received":true}`, rec.Body.String())

	reloaded, err := env.orders.Get(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusRefunded, reloaded.Status)
	assert.Equal(t, order.TotalCents, reloaded.RefundedCents)
	assert.Equal(t, 5, env.available(t, gameID))
}

func TestUnhandledEventIsAcknowledged(t *testing.T) {
	env := newWebhookEnv(t)
	payload := eventPayload(t, "evt_customer", stripe.EventTypeCustomerCreated, map[string]any{"id": "cus_1", "object": "customer"})
	rec := env.deliver(payload, signature(payload, testSecret))
	assert.Equal(t, http.StatusOK, rec.Code)
}
