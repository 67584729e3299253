package config

// EnvPrefix is handed to envconfig; every field carries its full variable name.
const EnvPrefix = "BODYF1RST"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	EnvAppEnv           = "BODYF1RST_APP_ENV"
	EnvPort             = "BODYF1RST_APP_PORT"
	EnvLogLevel         = "BODYF1RST_LOG_LEVEL"
	EnvDBDSN            = "BODYF1RST_DB_DSN"
	EnvDBHost           = "BODYF1RST_DB_HOST"
	EnvDBUser           = "BODYF1RST_DB_USER"
	EnvDBName           = "BODYF1RST_DB_NAME"
	EnvRedisURL         = "BODYF1RST_REDIS_URL"
	EnvJWTSecret        = "BODYF1RST_JWT_SECRET"
	EnvJWTIssuer        = "BODYF1RST_JWT_ISSUER"
	EnvStripeAPIKey     = "BODYF1RST_STRIPE_API_KEY"
	EnvStripeSecret     = "BODYF1RST_STRIPE_WEBHOOK_SECRET"
	EnvStripeEnv        = "BODYF1RST_STRIPE_ENV"
	EnvStripeTimeout    = "BODYF1RST_STRIPE_TIMEOUT"
	EnvStripePlanPrices = "BODYF1RST_STRIPE_PLAN_PRICES"
	EnvSurchargeRate    = "BODYF1RST_SURCHARGE_RATE"
	EnvSurchargeFixed   = "BODYF1RST_SURCHARGE_FIXED"
	EnvSurchargeStates  = "BODYF1RST_SURCHARGE_RESTRICTED_STATES"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
