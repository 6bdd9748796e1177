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
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	Password     PasswordConfig
	RateLimit    RateLimitConfig
	FeatureFlags FeatureFlagsConfig
	Checkout     CheckoutConfig
	Payments     PaymentsConfig
	Stripe       StripeConfig
	Outbox       OutboxConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Kafka        KafkaConfig
	Cron         CronConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if _, err := cfg.Checkout.Tolerance(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"STOREFRONT_APP_ENV" required:"true"`
	Port         string `envconfig:"STOREFRONT_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"STOREFRONT_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"STOREFRONT_LOG_WARN_STACK" default:"false"`
	LogFormat    string `envconfig:"STOREFRONT_LOG_FORMAT" default:"json"`
	// AdminEmails are granted the admin role when they register.
	AdminEmails []string `envconfig:"STOREFRONT_ADMIN_EMAILS"`
	CORSOrigins []string `envconfig:"STOREFRONT_CORS_ORIGINS"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd) || strings.EqualFold(a.Env, "production")
}

type ServiceConfig struct {
	Kind string `envconfig:"STOREFRONT_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"STOREFRONT_DB_DSN"`
	Driver string `envconfig:"STOREFRONT_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"STOREFRONT_DB_HOST"`
	LegacyPort     int    `envconfig:"STOREFRONT_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"STOREFRONT_DB_USER"`
	LegacyPassword string `envconfig:"STOREFRONT_DB_PASSWORD"`
	LegacyName     string `envconfig:"STOREFRONT_DB_NAME"`
	LegacySSLMode  string `envconfig:"STOREFRONT_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"STOREFRONT_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"STOREFRONT_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"STOREFRONT_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"STOREFRONT_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"STOREFRONT_REDIS_URL"`
	Address      string        `envconfig:"STOREFRONT_REDIS_ADDR"`
	Password     string        `envconfig:"STOREFRONT_REDIS_PASSWORD"`
	DB           int           `envconfig:"STOREFRONT_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"STOREFRONT_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"STOREFRONT_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"STOREFRONT_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"STOREFRONT_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"STOREFRONT_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"STOREFRONT_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"STOREFRONT_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"STOREFRONT_JWT_EXPIRATION_MINUTES" default:"60"`
}

// TTL returns the access token lifetime.
func (j JWTConfig) TTL() time.Duration {
	if j.ExpirationMinutes <= 0 {
		return 0
	}
	return time.Duration(j.ExpirationMinutes) * time.Minute
}

type PasswordConfig struct {
	ArgonMemoryKB    int `envconfig:"STOREFRONT_ARGON_MEMORY_KB" default:"65536"`
	ArgonTime        int `envconfig:"STOREFRONT_ARGON_TIME" default:"3"`
	ArgonParallelism int `envconfig:"STOREFRONT_ARGON_PARALLELISM" default:"2"`
	ArgonSaltLen     int `envconfig:"STOREFRONT_ARGON_SALT_LEN" default:"16"`
	ArgonKeyLen      int `envconfig:"STOREFRONT_ARGON_KEY_LEN" default:"32"`
}

// RateLimitConfig holds fixed-window limits for the public auth endpoints
// and per-user checkout attempts. A zero window or limit disables that rule.
type RateLimitConfig struct {
	LoginWindow        time.Duration `envconfig:"STOREFRONT_AUTH_RATE_LIMIT_LOGIN_WINDOW" default:"1m"`
	LoginEmailLimit    int           `envconfig:"STOREFRONT_AUTH_RATE_LIMIT_LOGIN_EMAIL_LIMIT" default:"5"`
	LoginIPLimit       int           `envconfig:"STOREFRONT_AUTH_RATE_LIMIT_LOGIN_IP_LIMIT" default:"20"`
	RegisterWindow     time.Duration `envconfig:"STOREFRONT_AUTH_RATE_LIMIT_REGISTER_WINDOW" default:"5m"`
	RegisterEmailLimit int           `envconfig:"STOREFRONT_AUTH_RATE_LIMIT_REGISTER_EMAIL_LIMIT" default:"3"`
	RegisterIPLimit    int           `envconfig:"STOREFRONT_AUTH_RATE_LIMIT_REGISTER_IP_LIMIT" default:"20"`
	CheckoutWindow     time.Duration `envconfig:"STOREFRONT_CHECKOUT_RATE_LIMIT_WINDOW" default:"1m"`
	CheckoutUserLimit  int           `envconfig:"STOREFRONT_CHECKOUT_RATE_LIMIT_USER_LIMIT" default:"10"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"STOREFRONT_AUTO_MIGRATE" default:"false"`
}

type CheckoutConfig struct {
	Timeout          time.Duration `envconfig:"STOREFRONT_CHECKOUT_TIMEOUT" default:"10s"`
	PriceTolerance   string        `envconfig:"STOREFRONT_CHECKOUT_PRICE_TOLERANCE" default:"0.02"`
	ReserveInventory bool          `envconfig:"STOREFRONT_CHECKOUT_RESERVE_INVENTORY" default:"true"`
}

// Tolerance parses the allowed relative price drift (0.02 = 2%).
func (c CheckoutConfig) Tolerance() (decimal.Decimal, error) {
	raw := strings.TrimSpace(c.PriceTolerance)
	if raw == "" {
		return decimal.Zero, nil
	}
	tol, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid %s %q: %w", EnvCheckoutPriceTolerance, raw, err)
	}
	if tol.IsNegative() {
		return decimal.Zero, fmt.Errorf("%s must be non-negative", EnvCheckoutPriceTolerance)
	}
	return tol, nil
}

type PaymentsConfig struct {
	Provider      string        `envconfig:"STOREFRONT_PAYMENTS_PROVIDER" default:"manual"`
	Currency      string        `envconfig:"STOREFRONT_PAYMENTS_CURRENCY" default:"usd"`
	ApplyTimeout  time.Duration `envconfig:"STOREFRONT_PAYMENTS_APPLY_TIMEOUT" default:"10s"`
	PollAfter     time.Duration `envconfig:"STOREFRONT_PAYMENTS_POLL_AFTER" default:"5m"`
	PollBatchSize int           `envconfig:"STOREFRONT_PAYMENTS_POLL_BATCH_SIZE" default:"50"`
	WebhookSecret string        `envconfig:"STOREFRONT_WEBHOOK_SECRET"`
}

// NormalizedCurrency returns the lower-cased ISO currency code.
func (p PaymentsConfig) NormalizedCurrency() string {
	currency := strings.ToLower(strings.TrimSpace(p.Currency))
	if currency == "" {
		return "usd"
	}
	return currency
}

type StripeConfig struct {
	APIKey        string `envconfig:"STOREFRONT_STRIPE_API_KEY"`
	WebhookSecret string `envconfig:"STOREFRONT_STRIPE_WEBHOOK_SECRET"`
	Env           string `envconfig:"STOREFRONT_STRIPE_ENV" default:"test"`
}

// Environment returns the normalized Stripe environment (test/live).
func (s StripeConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "test"
	}
	return env
}

type OutboxConfig struct {
	BatchSize      int    `envconfig:"STOREFRONT_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int    `envconfig:"STOREFRONT_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int    `envconfig:"STOREFRONT_OUTBOX_MAX_ATTEMPTS" default:"10"`
	Sink           string `envconfig:"STOREFRONT_OUTBOX_SINK" default:"pubsub"`
	RetentionDays  int    `envconfig:"STOREFRONT_OUTBOX_RETENTION_DAYS" default:"30"`
}

type GCPConfig struct {
	ProjectID string `envconfig:"STOREFRONT_GCP_PROJECT_ID"`
}

type PubSubConfig struct {
	DomainTopic string `envconfig:"STOREFRONT_PUBSUB_DOMAIN_TOPIC" default:"storefront-domain-events"`
}

type KafkaConfig struct {
	Brokers  []string `envconfig:"STOREFRONT_KAFKA_BROKERS"`
	Topic    string   `envconfig:"STOREFRONT_KAFKA_TOPIC" default:"storefront.domain-events"`
	ClientID string   `envconfig:"STOREFRONT_KAFKA_CLIENT_ID" default:"storefront-outbox"`
}

type CronConfig struct {
	Interval time.Duration `envconfig:"STOREFRONT_CRON_INTERVAL" default:"1m"`
	LockTTL  time.Duration `envconfig:"STOREFRONT_CRON_LOCK_TTL" default:"5m"`
	// PendingOrderTTL cancels unpaid orders older than this. Zero disables expiry.
	PendingOrderTTL time.Duration `envconfig:"STOREFRONT_CRON_PENDING_ORDER_TTL" default:"72h"`
	BatchSize       int           `envconfig:"STOREFRONT_CRON_BATCH_SIZE" default:"100"`
	// ExpiryEvery and RetentionEvery bound how often those jobs run across all
	// workers; payment polling runs every Interval.
	ExpiryEvery    time.Duration `envconfig:"STOREFRONT_CRON_EXPIRY_EVERY" default:"5m"`
	RetentionEvery time.Duration `envconfig:"STOREFRONT_CRON_RETENTION_EVERY" default:"6h"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	legacyValues := map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	}
	for _, env := range legacyDBEnvVars {
		if legacyValues[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		userInfo = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.LegacyHost, db.LegacyPort),
		Path:   "/" + db.LegacyName,
	}
	if db.LegacySSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.LegacySSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
