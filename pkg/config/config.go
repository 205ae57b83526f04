package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
)

type Config struct {
	App      AppConfig
	DB       DBConfig
	Redis    RedisConfig
	Orders   OrdersConfig
	Pricing  PricingConfig
	Stripe   StripeConfig
	JWT      JWTConfig
	GCP      GCPConfig
	PubSub   PubSubConfig
	Sendgrid SendgridConfig
	Discord  DiscordConfig
	Cron     CronConfig
	Flags    FeatureFlagsConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if _, err := cfg.Pricing.Rate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"STOREFRONT_APP_ENV" required:"true"`
	Port         string `envconfig:"STOREFRONT_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"STOREFRONT_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"STOREFRONT_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd) || strings.EqualFold(a.Env, "production")
}

type DBConfig struct {
	DSN string `envconfig:"STOREFRONT_DB_DSN"`

	Host     string `envconfig:"STOREFRONT_DB_HOST"`
	Port     int    `envconfig:"STOREFRONT_DB_PORT" default:"5432"`
	User     string `envconfig:"STOREFRONT_DB_USER"`
	Password string `envconfig:"STOREFRONT_DB_PASSWORD"`
	Name     string `envconfig:"STOREFRONT_DB_NAME"`
	SSLMode  string `envconfig:"STOREFRONT_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"STOREFRONT_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"STOREFRONT_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"STOREFRONT_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"STOREFRONT_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"STOREFRONT_REDIS_URL" required:"true"`
	Password     string        `envconfig:"STOREFRONT_REDIS_PASSWORD"`
	PoolSize     int           `envconfig:"STOREFRONT_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"STOREFRONT_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"STOREFRONT_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"STOREFRONT_REDIS_READ_TIMEOUT" default:"3s"`
	WriteTimeout time.Duration `envconfig:"STOREFRONT_REDIS_WRITE_TIMEOUT" default:"3s"`
}

// OrdersConfig bounds the serializable transactions used for order creation
// and status transitions.
type OrdersConfig struct {
	TxTimeout        time.Duration `envconfig:"STOREFRONT_ORDERS_TX_TIMEOUT" default:"5s"`
	LockTimeout      time.Duration `envconfig:"STOREFRONT_ORDERS_LOCK_TIMEOUT" default:"2s"`
	StatementTimeout time.Duration `envconfig:"STOREFRONT_ORDERS_STATEMENT_TIMEOUT" default:"3s"`
	MaxRetries       uint64        `envconfig:"STOREFRONT_ORDERS_MAX_RETRIES" default:"3"`
	RetryBase        time.Duration `envconfig:"STOREFRONT_ORDERS_RETRY_BASE" default:"25ms"`
}

type PricingConfig struct {
	Currency                   string `envconfig:"STOREFRONT_CURRENCY" default:"usd"`
	ShippingFlatCents          int    `envconfig:"STOREFRONT_SHIPPING_FLAT_CENTS" default:"599"`
	FreeShippingThresholdCents int    `envconfig:"STOREFRONT_FREE_SHIPPING_THRESHOLD_CENTS" default:"5000"`
	TaxRate                    string `envconfig:"STOREFRONT_TAX_RATE" default:"0.08"`
}

// Rate parses TaxRate as a decimal fraction in [0, 1).
func (p PricingConfig) Rate() (decimal.Decimal, error) {
	rate, err := decimal.NewFromString(strings.TrimSpace(p.TaxRate))
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid %s %q: %w", EnvTaxRate, p.TaxRate, err)
	}
	if rate.IsNegative() || rate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return decimal.Zero, fmt.Errorf("%s must be in [0, 1), got %s", EnvTaxRate, rate)
	}
	return rate, nil
}

type StripeConfig struct {
	WebhookSecret    string        `envconfig:"STOREFRONT_STRIPE_WEBHOOK_SECRET" required:"true"`
	WebhookTolerance time.Duration `envconfig:"STOREFRONT_STRIPE_WEBHOOK_TOLERANCE" default:"5m"`
	EventTTL         time.Duration `envconfig:"STOREFRONT_STRIPE_EVENT_TTL" default:"72h"`
}

type JWTConfig struct {
	Secret string `envconfig:"STOREFRONT_JWT_SECRET"`
	Issuer string `envconfig:"STOREFRONT_JWT_ISSUER" default:"storefront"`
}

type GCPConfig struct {
	ProjectID       string `envconfig:"STOREFRONT_GCP_PROJECT_ID"`
	CredentialsJSON string `envconfig:"STOREFRONT_GCP_CREDENTIALS_JSON"`
}

type PubSubConfig struct {
	FulfillmentTopic string `envconfig:"STOREFRONT_PUBSUB_FULFILLMENT_TOPIC"`
}

type SendgridConfig struct {
	APIKey    string `envconfig:"STOREFRONT_SENDGRID_API_KEY"`
	FromEmail string `envconfig:"STOREFRONT_SENDGRID_FROM_EMAIL"`
	FromName  string `envconfig:"STOREFRONT_SENDGRID_FROM_NAME" default:"Storefront"`
	BaseURL   string `envconfig:"STOREFRONT_SENDGRID_BASE_URL" default:"https://api.sendgrid.com"`
}

type DiscordConfig struct {
	WebhookURL string `envconfig:"STOREFRONT_DISCORD_WEBHOOK_URL"`
}

type CronConfig struct {
	Interval        time.Duration `envconfig:"STOREFRONT_CRON_INTERVAL" default:"5m"`
	LockTTL         time.Duration `envconfig:"STOREFRONT_CRON_LOCK_TTL" default:"4m"`
	PendingOrderTTL time.Duration `envconfig:"STOREFRONT_CRON_PENDING_ORDER_TTL" default:"24h"`
	BatchSize       int           `envconfig:"STOREFRONT_CRON_BATCH_SIZE" default:"100"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"STOREFRONT_AUTO_MIGRATE" default:"false"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	values := map[string]string{
		EnvDBHost: db.Host,
		EnvDBUser: db.User,
		EnvDBName: db.Name,
	}
	for _, env := range discreteDBEnvVars {
		if values[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.User)
	if db.Password != "" {
		userInfo = url.UserPassword(db.User, db.Password)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.Host, db.Port),
		Path:   db.Name,
	}

	if db.SSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.SSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
