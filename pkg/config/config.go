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
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	Stripe       StripeConfig
	Surcharge    SurchargeConfig
	Webhook      WebhookConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Outbox       OutboxConfig
	Cron         CronConfig
	FeatureFlags FeatureFlagsConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.Surcharge.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string   `envconfig:"BODYF1RST_APP_ENV" required:"true"`
	Port         string   `envconfig:"BODYF1RST_APP_PORT" required:"true"`
	LogLevel     string   `envconfig:"BODYF1RST_LOG_LEVEL" default:"info"`
	LogWarnStack bool     `envconfig:"BODYF1RST_LOG_WARN_STACK" default:"false"`
	CORSOrigins  []string `envconfig:"BODYF1RST_CORS_ORIGINS" default:"http://localhost:3000"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type DBConfig struct {
	DSN    string `envconfig:"BODYF1RST_DB_DSN"`
	Driver string `envconfig:"BODYF1RST_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"BODYF1RST_DB_HOST"`
	LegacyPort     int    `envconfig:"BODYF1RST_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"BODYF1RST_DB_USER"`
	LegacyPassword string `envconfig:"BODYF1RST_DB_PASSWORD"`
	LegacyName     string `envconfig:"BODYF1RST_DB_NAME"`
	LegacySSLMode  string `envconfig:"BODYF1RST_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"BODYF1RST_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"BODYF1RST_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"BODYF1RST_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"BODYF1RST_DB_CONN_MAX_IDLE_TIME" default:"10m"`

	// SlowQueryThreshold logs statements at or above this duration. Zero disables it.
	SlowQueryThreshold time.Duration `envconfig:"BODYF1RST_DB_SLOW_QUERY_THRESHOLD" default:"500ms"`
}

type RedisConfig struct {
	URL          string        `envconfig:"BODYF1RST_REDIS_URL"`
	Address      string        `envconfig:"BODYF1RST_REDIS_ADDR"`
	Password     string        `envconfig:"BODYF1RST_REDIS_PASSWORD"`
	DB           int           `envconfig:"BODYF1RST_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"BODYF1RST_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"BODYF1RST_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"BODYF1RST_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"BODYF1RST_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"BODYF1RST_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret string `envconfig:"BODYF1RST_JWT_SECRET" required:"true"`
	Issuer string `envconfig:"BODYF1RST_JWT_ISSUER" required:"true"`
}

type StripeConfig struct {
	APIKey         string            `envconfig:"BODYF1RST_STRIPE_API_KEY"`
	Secret         string            `envconfig:"BODYF1RST_STRIPE_WEBHOOK_SECRET"`
	Env            string            `envconfig:"BODYF1RST_STRIPE_ENV" default:"test"`
	Timeout        time.Duration     `envconfig:"BODYF1RST_STRIPE_TIMEOUT" default:"10s"`
	MaxRetries     int64             `envconfig:"BODYF1RST_STRIPE_MAX_RETRIES" default:"2"`
	Currency       string            `envconfig:"BODYF1RST_STRIPE_CURRENCY" default:"usd"`
	PlanPrices     map[string]string `envconfig:"BODYF1RST_STRIPE_PLAN_PRICES"`
	ConnectRefresh string            `envconfig:"BODYF1RST_STRIPE_CONNECT_REFRESH_URL"`
	ConnectReturn  string            `envconfig:"BODYF1RST_STRIPE_CONNECT_RETURN_URL"`
	ConnectCountry string            `envconfig:"BODYF1RST_STRIPE_CONNECT_COUNTRY" default:"US"`
	PayoutsInstant bool              `envconfig:"BODYF1RST_STRIPE_PAYOUTS_INSTANT" default:"true"`
}

// Environment returns the normalized Stripe environment (test/live).
func (s StripeConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "test"
	}
	return env
}

// PriceForPlan resolves a plan identifier to the configured Stripe price.
func (s StripeConfig) PriceForPlan(plan string) (string, bool) {
	plan = strings.TrimSpace(strings.ToLower(plan))
	for key, price := range s.PlanPrices {
		if strings.ToLower(strings.TrimSpace(key)) == plan && strings.TrimSpace(price) != "" {
			return strings.TrimSpace(price), true
		}
	}
	return "", false
}

// PlanForPrice is the reverse lookup of PriceForPlan.
func (s StripeConfig) PlanForPrice(price string) string {
	for key, candidate := range s.PlanPrices {
		if strings.TrimSpace(candidate) == price {
			return strings.ToLower(strings.TrimSpace(key))
		}
	}
	return ""
}

type SurchargeConfig struct {
	Enabled          bool     `envconfig:"BODYF1RST_SURCHARGE_ENABLED" default:"true"`
	Rate             string   `envconfig:"BODYF1RST_SURCHARGE_RATE" default:"0.029"`
	Fixed            string   `envconfig:"BODYF1RST_SURCHARGE_FIXED" default:"0.30"`
	RestrictedStates []string `envconfig:"BODYF1RST_SURCHARGE_RESTRICTED_STATES" default:"CT,MA"`
}

func (s SurchargeConfig) validate() error {
	if _, err := decimal.NewFromString(s.Rate); err != nil {
		return fmt.Errorf("invalid %s: %w", EnvSurchargeRate, err)
	}
	if _, err := decimal.NewFromString(s.Fixed); err != nil {
		return fmt.Errorf("invalid %s: %w", EnvSurchargeFixed, err)
	}
	return nil
}

type WebhookConfig struct {
	IdempotencyTTL time.Duration `envconfig:"BODYF1RST_WEBHOOK_IDEMPOTENCY_TTL" default:"72h"`
	MaxBodyBytes   int64         `envconfig:"BODYF1RST_WEBHOOK_MAX_BODY_BYTES" default:"1048576"`
}

type GCPConfig struct {
	ProjectID       string `envconfig:"BODYF1RST_GCP_PROJECT_ID"`
	CredentialsJSON string `envconfig:"BODYF1RST_GCP_CREDENTIALS_JSON"`
}

type PubSubConfig struct {
	NotificationTopic        string `envconfig:"BODYF1RST_PUBSUB_NOTIFICATION_TOPIC" default:"bf-notification-events"`
	NotificationSubscription string `envconfig:"BODYF1RST_PUBSUB_NOTIFICATION_SUBSCRIPTION"`
}

type OutboxConfig struct {
	BatchSize      int           `envconfig:"BODYF1RST_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int           `envconfig:"BODYF1RST_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int           `envconfig:"BODYF1RST_OUTBOX_MAX_ATTEMPTS" default:"10"`
	Retention      time.Duration `envconfig:"BODYF1RST_OUTBOX_RETENTION" default:"720h"`
}

type CronConfig struct {
	Interval          time.Duration `envconfig:"BODYF1RST_CRON_INTERVAL" default:"1h"`
	LockTTL           time.Duration `envconfig:"BODYF1RST_CRON_LOCK_TTL" default:"55m"`
	ReconcileLimit    int           `envconfig:"BODYF1RST_CRON_RECONCILE_LIMIT" default:"250"`
	ReconcileLookback time.Duration `envconfig:"BODYF1RST_CRON_RECONCILE_LOOKBACK" default:"168h"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"BODYF1RST_AUTO_MIGRATE" default:"false"`
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
		Path:   db.LegacyName,
	}

	if db.LegacySSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.LegacySSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
