package config

// EnvPrefix is empty: every field carries its fully-qualified variable name.
const EnvPrefix = ""

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	EnvAppEnv   = "STOREFRONT_APP_ENV"
	EnvPort     = "STOREFRONT_APP_PORT"
	EnvLogLevel = "STOREFRONT_LOG_LEVEL"

	EnvDBDSN  = "STOREFRONT_DB_DSN"
	EnvDBHost = "STOREFRONT_DB_HOST"
	EnvDBUser = "STOREFRONT_DB_USER"
	EnvDBName = "STOREFRONT_DB_NAME"

	EnvRedisURL = "STOREFRONT_REDIS_URL"

	EnvJWTSecret  = "STOREFRONT_JWT_SECRET"
	EnvJWTIssuer  = "STOREFRONT_JWT_ISSUER"
	EnvJWTExpMins = "STOREFRONT_JWT_EXPIRATION_MINUTES"

	EnvCheckoutTimeout          = "STOREFRONT_CHECKOUT_TIMEOUT"
	EnvCheckoutPriceTolerance   = "STOREFRONT_CHECKOUT_PRICE_TOLERANCE"
	EnvCheckoutReserveInventory = "STOREFRONT_CHECKOUT_RESERVE_INVENTORY"

	EnvPaymentsProvider = "STOREFRONT_PAYMENTS_PROVIDER"
	EnvWebhookSecret    = "STOREFRONT_WEBHOOK_SECRET"

	EnvOutboxSink   = "STOREFRONT_OUTBOX_SINK"
	EnvKafkaBrokers = "STOREFRONT_KAFKA_BROKERS"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
