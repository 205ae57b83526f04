package config

const (
	EnvPrefix = "STOREFRONT"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	EnvAppEnv   = "STOREFRONT_APP_ENV"
	EnvPort     = "STOREFRONT_APP_PORT"
	EnvLogLevel = "STOREFRONT_LOG_LEVEL"

	EnvDBDSN  = "STOREFRONT_DB_DSN"
	EnvDBHost = "STOREFRONT_DB_HOST"
	EnvDBPort = "STOREFRONT_DB_PORT"
	EnvDBUser = "STOREFRONT_DB_USER"
	EnvDBPass = "STOREFRONT_DB_PASSWORD"
	EnvDBName = "STOREFRONT_DB_NAME"

	EnvRedisURL = "STOREFRONT_REDIS_URL"

	EnvOrdersTxTimeout  = "STOREFRONT_ORDERS_TX_TIMEOUT"
	EnvOrdersMaxRetries = "STOREFRONT_ORDERS_MAX_RETRIES"

	EnvShippingFlatCents = "STOREFRONT_SHIPPING_FLAT_CENTS"
	EnvFreeShippingCents = "STOREFRONT_FREE_SHIPPING_THRESHOLD_CENTS"
	EnvTaxRate           = "STOREFRONT_TAX_RATE"

	EnvStripeWebhookSecret = "STOREFRONT_STRIPE_WEBHOOK_SECRET"

	EnvJWTSecret = "STOREFRONT_JWT_SECRET"
	EnvJWTIssuer = "STOREFRONT_JWT_ISSUER"

	EnvPubSubFulfillmentTopic = "STOREFRONT_PUBSUB_FULFILLMENT_TOPIC"
	EnvCronPendingOrderTTL    = "STOREFRONT_CRON_PENDING_ORDER_TTL"
)

// discreteDBEnvVars must all be set when no DSN is provided.
var discreteDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
