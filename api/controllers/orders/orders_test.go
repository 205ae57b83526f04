package orders

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/tabletopforge/storefront-backend/api/responses"
	"github.com/tabletopforge/storefront-backend/internal/catalog"
	"github.com/tabletopforge/storefront-backend/internal/inventory"
	internalorders "github.com/tabletopforge/storefront-backend/internal/orders"
	"github.com/tabletopforge/storefront-backend/internal/pricing"
	"github.com/tabletopforge/storefront-backend/pkg/config"
	"github.com/tabletopforge/storefront-backend/pkg/db"
	"github.com/tabletopforge/storefront-backend/pkg/db/models"
	"github.com/tabletopforge/storefront-backend/pkg/enums"
)

type orderEnvelope struct {
	Data models.Order `json:"data"`
}

type listEnvelope struct {
	Data internalorders.OrderList `json:"data"`
}

type testAPI struct {
	conn   *gorm.DB
	router http.Handler
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open("file:orders_api_"+uuid.NewString()+"?mode=memory&cache=shared"), &gorm.Config{
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
	svc, err := internalorders.NewService(internalorders.ServiceParams{
		Repo:    internalorders.NewRepository(conn),
		Tx:      db.NewFromGorm(conn),
		Catalog: catalog.NewRepository(conn),
		Ledger:  inventory.NewLedger(conn, catalog.NewRepository(conn), nil, nil),
		Pricing: calc,
		Config:  config.OrdersConfig{TxTimeout: 5 * time.Second, MaxRetries: 2, RetryBase: time.Millisecond},
	})
	require.NoError(t, err)

	r := chi.NewRouter()
	r.Post("/api/v1/orders", Create(svc, nil))
	r.Get("/api/v1/orders", List(svc, nil))
	r.Put("/api/v1/orders", UpdateStatus(svc, nil))
	return &testAPI{conn: conn, router: r}
}

func (a *testAPI) seedGame(t *testing.T, sku string, price, stock int) uuid.UUID {
	t.Helper()
	game := models.Game{SKU: sku, Name: sku, PriceCents: price, Stock: stock, Active: true}
	require.NoError(t, a.conn.Create(&game).Error)
	return game.ID
}

func (a *testAPI) do(t *testing.T, method, url string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, url, &buf)
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	return rec
}

func orderBody(email string, items ...map[string]any) map[string]any {
	return map[string]any{
		"customer": map[string]any{"name": "Ada Lovelace", "email": email},
		"shippingAddress": map[string]any{
			"line1": "1 Analytical Way", "city": "London", "postalCode": "N1 9GU", "country": "GB",
		},
		"items": items,
	}
}

func gameItem(id uuid.UUID, qty int) map[string]any {
	return map[string]any{"kind": "game", "id": id.String(), "quantity": qty}
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) responses.APIError {
	t.Helper()
	var env responses.ErrorEnvelope
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&env))
	return env.Error
}

func TestCreateOrderReturnsPricedOrder(t *testing.T) {
	api := newTestAPI(t)
	game := api.seedGame(t, "CATAN", 2500, 5)

	rec := api.do(t, http.MethodPost, "/api/v1/orders", orderBody("ada@example.com", gameItem(game, 2)))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var env orderEnvelope
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&env))
	assert.Equal(t, enums.OrderStatusPending, env.Data.Status)
	assert.Equal(t, 5000, env.Data.SubtotalCents)
	assert.Equal(t, 0, env.Data.ShippingCents)
	assert.Equal(t, 400, env.Data.TaxCents)
	assert.Equal(t, 5400, env.Data.TotalCents)
	require.Len(t, env.Data.Items, 1)
	require.Len(t, env.Data.History, 1)
}

func TestCreateOrderRejectsBadInput(t *testing.T) {
	api := newTestAPI(t)
	game := api.seedGame(t, "CATAN", 2500, 5)

	tests := map[string]map[string]any{
		"no items":      orderBody("ada@example.com"),
		"bad email":     orderBody("nope", gameItem(game, 1)),
		"zero quantity": orderBody("ada@example.com", gameItem(game, 0)),
		"unknown kind":  orderBody("ada@example.com", map[string]any{"kind": "card", "id": game.String(), "quantity": 1}),
		"client pricing": func() map[string]any {
			b := orderBody("ada@example.com", gameItem(game, 1))
			b["totalCents"] = 1
			return b
		}(),
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			rec := api.do(t, http.MethodPost, "/api/v1/orders", body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, "VALIDATION_ERROR", decodeError(t, rec).Code)
		})
	}
}

func TestCreateOrderInsufficientStock(t *testing.T) {
	api := newTestAPI(t)
	game := api.seedGame(t, "WIDGET", 1000, 5)

	require.Equal(t, http.StatusCreated, api.do(t, http.MethodPost, "/api/v1/orders", orderBody("a@example.com", gameItem(game, 3))).Code)
	rec := api.do(t, http.MethodPost, "/api/v1/orders", orderBody("b@example.com", gameItem(game, 3)))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	apiErr := decodeError(t, rec)
	assert.Equal(t, "INSUFFICIENT_STOCK", apiErr.Code)
	details := apiErr.Details.(map[string]any)
	assert.Equal(t, "WIDGET", details["item"])
	assert.EqualValues(t, 2, details["available"])
	assert.EqualValues(t, 3, details["requested"])
}

func TestListOrdersFiltersAndPaginates(t *testing.T) {
	api := newTestAPI(t)
	game := api.seedGame(t, "CATAN", 1000, 50)
	for i := 0; i < 3; i++ {
		require.Equal(t, http.StatusCreated, api.do(t, http.MethodPost, "/api/v1/orders", orderBody("ada@example.com", gameItem(game, 1))).Code)
	}
	require.Equal(t, http.StatusCreated, api.do(t, http.MethodPost, "/api/v1/orders", orderBody("bob@example.com", gameItem(game, 1))).Code)

	rec := api.do(t, http.MethodGet, "/api/v1/orders?email=ADA@example.com&limit=2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var page listEnvelope
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&page))
	assert.Len(t, page.Data.Orders, 2)
	require.NotEmpty(t, page.Data.NextCursor)

	rec = api.do(t, http.MethodGet, fmt.Sprintf("/api/v1/orders?email=ada@example.com&limit=2&cursor=%s", page.Data.NextCursor), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var next listEnvelope
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&next))
	assert.Len(t, next.Data.Orders, 1)
	assert.Empty(t, next.Data.NextCursor)

	rec = api.do(t, http.MethodGet, "/api/v1/orders?status=shipped", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var none listEnvelope
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&none))
	assert.Empty(t, none.Data.Orders)

	assert.Equal(t, http.StatusBadRequest, api.do(t, http.MethodGet, "/api/v1/orders?status=lost", nil).Code)
	assert.Equal(t, http.StatusBadRequest, api.do(t, http.MethodGet, "/api/v1/orders?limit=1000", nil).Code)
}

func TestUpdateStatus(t *testing.T) {
	api := newTestAPI(t)
	game := api.seedGame(t, "CATAN", 1000, 5)
	rec := api.do(t, http.MethodPost, "/api/v1/orders", orderBody("ada@example.com", gameItem(game, 1)))
	require.Equal(t, http.StatusCreated, rec.Code)
	var created orderEnvelope
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&created))
	url := "/api/v1/orders?id=" + created.Data.ID.String()

	rec = api.do(t, http.MethodPut, url, map[string]any{"status": "shipped"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	apiErr := decodeError(t, rec)
	assert.Equal(t, "STATE_CONFLICT", apiErr.Code)
	assert.Equal(t, map[string]any{"current": "pending", "requested": "shipped"}, apiErr.Details)

	rec = api.do(t, http.MethodPut, url, map[string]any{"status": "cancelled", "note": "customer asked"})
	require.Equal(t, http.StatusOK, rec.Code)
	var updated orderEnvelope
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&updated))
	assert.Equal(t, enums.OrderStatusCancelled, updated.Data.Status)
	assert.Len(t, updated.Data.History, 2)

	assert.Equal(t, http.StatusNotFound, api.do(t, http.MethodPut, "/api/v1/orders?id="+uuid.NewString(), map[string]any{"status": "paid"}).Code)
	assert.Equal(t, http.StatusBadRequest, api.do(t, http.MethodPut, "/api/v1/orders?id=nope", map[string]any{"status": "paid"}).Code)
	assert.Equal(t, http.StatusBadRequest, api.do(t, http.MethodPut, url, map[string]any{"status": "lost"}).Code)
}

func TestNilServiceIsInternalError(t *testing.T) {
	rec := httptest.NewRecorder()
	Create(nil, nil).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
