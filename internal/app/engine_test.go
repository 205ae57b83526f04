package app

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/tabletopforge/storefront-backend/pkg/config"
	"github.com/tabletopforge/storefront-backend/pkg/db"
)

func testDB(t *testing.T) *db.Client {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open("file:app_"+uuid.NewString()+"?mode=memory&cache=shared"), &gorm.Config{
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	require.NoError(t, err)
	sqlDB, err := conn.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return db.NewFromGorm(conn)
}

func baseConfig() *config.Config {
	return &config.Config{
		Pricing: config.PricingConfig{Currency: "usd", ShippingFlatCents: 599, FreeShippingThresholdCents: 5000, TaxRate: "0.08"},
		Orders:  config.OrdersConfig{TxTimeout: time.Second, MaxRetries: 1, RetryBase: time.Millisecond},
	}
}

func TestNewOrderEngineRegistersConfiguredSinks(t *testing.T) {
	cfg := baseConfig()
	cfg.Discord.WebhookURL = "https://discord.example/webhook"
	cfg.Sendgrid = config.SendgridConfig{APIKey: "key", FromEmail: "shop@example.com", BaseURL: "https://sendgrid.example"}

	engine, err := NewOrderEngine(context.Background(), cfg, nil, testDB(t), prometheus.NewRegistry())
	require.NoError(t, err)
	t.Cleanup(func() { _ = engine.Close() })

	assert.NotNil(t, engine.Orders)
	assert.ElementsMatch(t, []string{"email", "chat"}, engine.Sinks)
}

func TestNewOrderEngineWithoutSinks(t *testing.T) {
	engine, err := NewOrderEngine(context.Background(), baseConfig(), nil, testDB(t), nil)
	require.NoError(t, err)
	assert.Empty(t, engine.Sinks)
	assert.NoError(t, engine.Close())
}

func TestNewOrderEngineRejectsBadPricing(t *testing.T) {
	cfg := baseConfig()
	cfg.Pricing.TaxRate = "1.5"
	_, err := NewOrderEngine(context.Background(), cfg, nil, testDB(t), nil)
	assert.Error(t, err)

	_, err = NewOrderEngine(context.Background(), nil, nil, testDB(t), nil)
	assert.Error(t, err)
}

func TestNewOrderEngineFulfillmentNeedsProject(t *testing.T) {
	cfg := baseConfig()
	cfg.PubSub.FulfillmentTopic = "orders-fulfillment"
	_, err := NewOrderEngine(context.Background(), cfg, nil, testDB(t), nil)
	assert.Error(t, err)
}
