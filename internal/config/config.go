package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/flexprice/dealpay/internal/types"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Configuration struct {
	Deployment DeploymentConfig `mapstructure:"deployment" validate:"required"`
	Server     ServerConfig     `mapstructure:"server" validate:"required"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Logging    LoggingConfig    `mapstructure:"logging" validate:"required"`
	Postgres   PostgresConfig   `mapstructure:"postgres" validate:"required"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Lock       LockConfig       `mapstructure:"lock" validate:"required"`
	Stripe     StripeConfig     `mapstructure:"stripe" validate:"required"`
	HubSpot    HubSpotConfig    `mapstructure:"hubspot" validate:"required"`
	Temporal   TemporalConfig   `mapstructure:"temporal" validate:"required"`
	Sentry     SentryConfig     `mapstructure:"sentry"`
	Pyroscope  PyroscopeConfig  `mapstructure:"pyroscope"`
	Currency   CurrencyConfig   `mapstructure:"currency" validate:"required"`
	Payments   PaymentsConfig   `mapstructure:"payments" validate:"required"`
}

type DeploymentConfig struct {
	Mode types.RunMode `mapstructure:"mode" validate:"required"`
}

type ServerConfig struct {
	Address string `mapstructure:"address" validate:"required"`
}

type AuthConfig struct {
	APIKey APIKeyConfig `mapstructure:"api_key"`
}

// APIKeyConfig guards the operator endpoints. Keys maps the sha256 hex of a
// key to the name of the caller holding it.
type APIKeyConfig struct {
	Header string                   `mapstructure:"header" validate:"required"`
	Keys   map[string]APIKeyDetails `mapstructure:"keys"`
}

type APIKeyDetails struct {
	Name     string `mapstructure:"name"`
	IsActive bool   `mapstructure:"is_active"`
}

type LoggingConfig struct {
	Level types.LogLevel `mapstructure:"level" validate:"required"`
}

type PostgresConfig struct {
	Host                   string `mapstructure:"host"`
	Port                   int    `mapstructure:"port"`
	User                   string `mapstructure:"user"`
	Password               string `mapstructure:"password"`
	DBName                 string `mapstructure:"dbname"`
	SSLMode                string `mapstructure:"sslmode"`
	MaxOpenConns           int    `mapstructure:"max_open_conns"`
	MaxIdleConns           int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetimeMinutes int    `mapstructure:"conn_max_lifetime_minutes"`
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// LockConfig controls the per deal lock guarding session creation
type LockConfig struct {
	Backend    types.LockBackend `mapstructure:"backend" validate:"required,oneof=redis memory"`
	KeyPrefix  string            `mapstructure:"key_prefix"`
	TTL        time.Duration     `mapstructure:"ttl" validate:"required"`
	MaxRetries int               `mapstructure:"max_retries" validate:"gte=0"`
	RetryDelay time.Duration     `mapstructure:"retry_delay"`
}

type StripeConfig struct {
	SecretKey     string `mapstructure:"secret_key"`
	WebhookSecret string `mapstructure:"webhook_secret"`
}

type HubSpotConfig struct {
	BaseURL           string  `mapstructure:"base_url" validate:"required"`
	AccessToken       string  `mapstructure:"access_token"`
	ClientSecret      string  `mapstructure:"client_secret"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second" validate:"gt=0"`
	Burst             int     `mapstructure:"burst" validate:"gt=0"`
	TaskOwnerID       string  `mapstructure:"task_owner_id"`
}

type TemporalConfig struct {
	Address          string        `mapstructure:"address"`
	Namespace        string        `mapstructure:"namespace"`
	TaskQueue        string        `mapstructure:"task_queue" validate:"required"`
	APIKey           string        `mapstructure:"api_key"`
	TLS              bool          `mapstructure:"tls"`
	ScheduleID       string        `mapstructure:"schedule_id"`
	ScheduleInterval time.Duration `mapstructure:"schedule_interval"`
}

type SentryConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	DSN         string  `mapstructure:"dsn"`
	Environment string  `mapstructure:"environment"`
	SampleRate  float64 `mapstructure:"sample_rate"`
}

// PyroscopeConfig configures continuous profiling
type PyroscopeConfig struct {
	Enabled         bool     `mapstructure:"enabled"`
	ServerAddress   string   `mapstructure:"server_address" validate:"required_if=Enabled true"`
	ApplicationName string   `mapstructure:"application_name"`
	BasicAuthUser   string   `mapstructure:"basic_auth_user"`
	BasicAuthPass   string   `mapstructure:"basic_auth_password"`
	ProfileTypes    []string `mapstructure:"profile_types"`
	SampleRate      uint32   `mapstructure:"sample_rate"`
}

// CurrencyConfig configures the exchange rate provider and its cache
type CurrencyConfig struct {
	BaseURL string        `mapstructure:"base_url" validate:"required"`
	RateTTL time.Duration `mapstructure:"rate_ttl" validate:"required"`
}

type PaymentsConfig struct {
	SettlementCurrency  string        `mapstructure:"settlement_currency" validate:"required,len=3"`
	TwoLegThresholdDays int           `mapstructure:"two_leg_threshold_days" validate:"gt=0"`
	RecoveryStaleness   time.Duration `mapstructure:"recovery_staleness" validate:"required"`
	MaxSessionsPerRun   int           `mapstructure:"max_sessions_per_run" validate:"gt=0"`
	Concurrency         int           `mapstructure:"concurrency" validate:"gt=0"`
	ReconcileWindow     time.Duration `mapstructure:"reconcile_window" validate:"required"`
	ReconcilePageSize   int64         `mapstructure:"reconcile_page_size" validate:"gt=0,lte=100"`
	SessionLookback     time.Duration `mapstructure:"session_lookback" validate:"required"`
	PageRetries         uint64        `mapstructure:"page_retries"`
	VATRate             float64       `mapstructure:"vat_rate" validate:"gte=0"`
	ProductName         string        `mapstructure:"product_name" validate:"required"`
	SuccessURL          string        `mapstructure:"success_url" validate:"required"`
	CancelURL           string        `mapstructure:"cancel_url" validate:"required"`

	Trigger TriggerConfig `mapstructure:"trigger" validate:"required"`
	Stages  StageConfig   `mapstructure:"stages" validate:"required"`

	RefundReasons []string `mapstructure:"refund_reasons"`
}

// TriggerConfig describes the CRM property that requests payment links
type TriggerConfig struct {
	Property      string   `mapstructure:"property" validate:"required"`
	Values        []string `mapstructure:"values" validate:"required,min=1"`
	AwaitingValue string   `mapstructure:"awaiting_value" validate:"required"`
}

// StageConfig maps payment stages onto CRM pipeline stage ids
type StageConfig struct {
	Pipeline      string   `mapstructure:"pipeline"`
	PartiallyPaid string   `mapstructure:"partially_paid" validate:"required"`
	FullyPaid     string   `mapstructure:"fully_paid" validate:"required"`
	ClosedLost    string   `mapstructure:"closed_lost" validate:"required"`
	ClosedWon     string   `mapstructure:"closed_won"`
	Eligible      []string `mapstructure:"eligible"`
}

func NewConfig() (*Configuration, error) {
	// local .env files are optional
	_ = godotenv.Load()

	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./internal/config")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/dealpay")

	v.SetEnvPrefix("DEALPAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(
		".", "_",
		"-", "_",
	))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("Error reading config file: %v\n", err)
		if !errors.As(err, &viper.ConfigFileNotFoundError{}) {
			return nil, err
		}
	} else {
		fmt.Printf("Using config file: %s\n", v.ConfigFileUsed())
	}

	var config Configuration
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func (c Configuration) Validate() error {
	validate := validator.New()
	return validate.Struct(c)
}

// setDefaults registers every key so AutomaticEnv can override keys missing from the file
func setDefaults(v *viper.Viper) {
	d := GetDefaultConfig()

	v.SetDefault("deployment.mode", d.Deployment.Mode)
	v.SetDefault("server.address", d.Server.Address)
	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("auth.api_key.header", d.Auth.APIKey.Header)

	v.SetDefault("postgres.host", d.Postgres.Host)
	v.SetDefault("postgres.port", d.Postgres.Port)
	v.SetDefault("postgres.user", d.Postgres.User)
	v.SetDefault("postgres.password", d.Postgres.Password)
	v.SetDefault("postgres.dbname", d.Postgres.DBName)
	v.SetDefault("postgres.sslmode", d.Postgres.SSLMode)
	v.SetDefault("postgres.max_open_conns", d.Postgres.MaxOpenConns)
	v.SetDefault("postgres.max_idle_conns", d.Postgres.MaxIdleConns)
	v.SetDefault("postgres.conn_max_lifetime_minutes", d.Postgres.ConnMaxLifetimeMinutes)

	v.SetDefault("redis.address", d.Redis.Address)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("lock.backend", d.Lock.Backend)
	v.SetDefault("lock.key_prefix", d.Lock.KeyPrefix)
	v.SetDefault("lock.ttl", d.Lock.TTL)
	v.SetDefault("lock.max_retries", d.Lock.MaxRetries)
	v.SetDefault("lock.retry_delay", d.Lock.RetryDelay)

	v.SetDefault("stripe.secret_key", "")
	v.SetDefault("stripe.webhook_secret", "")

	v.SetDefault("hubspot.base_url", d.HubSpot.BaseURL)
	v.SetDefault("hubspot.access_token", "")
	v.SetDefault("hubspot.client_secret", "")
	v.SetDefault("hubspot.requests_per_second", d.HubSpot.RequestsPerSecond)
	v.SetDefault("hubspot.burst", d.HubSpot.Burst)
	v.SetDefault("hubspot.task_owner_id", "")

	v.SetDefault("temporal.address", d.Temporal.Address)
	v.SetDefault("temporal.namespace", d.Temporal.Namespace)
	v.SetDefault("temporal.task_queue", d.Temporal.TaskQueue)
	v.SetDefault("temporal.api_key", "")
	v.SetDefault("temporal.tls", false)
	v.SetDefault("temporal.schedule_id", d.Temporal.ScheduleID)
	v.SetDefault("temporal.schedule_interval", d.Temporal.ScheduleInterval)

	v.SetDefault("sentry.enabled", false)
	v.SetDefault("sentry.dsn", "")
	v.SetDefault("sentry.environment", "local")
	v.SetDefault("sentry.sample_rate", 1.0)

	v.SetDefault("pyroscope.enabled", false)
	v.SetDefault("pyroscope.server_address", "")
	v.SetDefault("pyroscope.application_name", "dealpay")
	v.SetDefault("pyroscope.basic_auth_user", "")
	v.SetDefault("pyroscope.basic_auth_password", "")
	v.SetDefault("pyroscope.profile_types", []string{})
	v.SetDefault("pyroscope.sample_rate", 100)

	v.SetDefault("currency.base_url", d.Currency.BaseURL)
	v.SetDefault("currency.rate_ttl", d.Currency.RateTTL)

	p := d.Payments
	v.SetDefault("payments.settlement_currency", p.SettlementCurrency)
	v.SetDefault("payments.two_leg_threshold_days", p.TwoLegThresholdDays)
	v.SetDefault("payments.recovery_staleness", p.RecoveryStaleness)
	v.SetDefault("payments.max_sessions_per_run", p.MaxSessionsPerRun)
	v.SetDefault("payments.concurrency", p.Concurrency)
	v.SetDefault("payments.reconcile_window", p.ReconcileWindow)
	v.SetDefault("payments.reconcile_page_size", p.ReconcilePageSize)
	v.SetDefault("payments.session_lookback", p.SessionLookback)
	v.SetDefault("payments.page_retries", p.PageRetries)
	v.SetDefault("payments.vat_rate", p.VATRate)
	v.SetDefault("payments.product_name", p.ProductName)
	v.SetDefault("payments.success_url", p.SuccessURL)
	v.SetDefault("payments.cancel_url", p.CancelURL)
	v.SetDefault("payments.trigger.property", p.Trigger.Property)
	v.SetDefault("payments.trigger.values", p.Trigger.Values)
	v.SetDefault("payments.trigger.awaiting_value", p.Trigger.AwaitingValue)
	v.SetDefault("payments.stages.pipeline", p.Stages.Pipeline)
	v.SetDefault("payments.stages.partially_paid", p.Stages.PartiallyPaid)
	v.SetDefault("payments.stages.fully_paid", p.Stages.FullyPaid)
	v.SetDefault("payments.stages.closed_lost", p.Stages.ClosedLost)
	v.SetDefault("payments.stages.closed_won", p.Stages.ClosedWon)
	v.SetDefault("payments.stages.eligible", p.Stages.Eligible)
	v.SetDefault("payments.refund_reasons", p.RefundReasons)
}

// GetDefaultConfig returns a default configuration for local development and tests
func GetDefaultConfig() *Configuration {
	return &Configuration{
		Deployment: DeploymentConfig{Mode: types.ModeLocal},
		Server:     ServerConfig{Address: ":8080"},
		Auth:       AuthConfig{APIKey: APIKeyConfig{Header: "x-api-key"}},
		Logging:    LoggingConfig{Level: types.LogLevelDebug},
		Postgres: PostgresConfig{
			Host:                   "localhost",
			Port:                   5432,
			User:                   "dealpay",
			Password:               "dealpay",
			DBName:                 "dealpay",
			SSLMode:                "disable",
			MaxOpenConns:           10,
			MaxIdleConns:           5,
			ConnMaxLifetimeMinutes: 30,
		},
		Redis: RedisConfig{Address: "localhost:6379"},
		Lock: LockConfig{
			Backend:    types.LockBackendRedis,
			KeyPrefix:  "dealpay:lock",
			TTL:        30 * time.Second,
			MaxRetries: 5,
			RetryDelay: 200 * time.Millisecond,
		},
		HubSpot: HubSpotConfig{
			BaseURL:           "https://api.hubapi.com",
			RequestsPerSecond: 9,
			Burst:             3,
		},
		Temporal: TemporalConfig{
			Address:          "localhost:7233",
			Namespace:        "default",
			TaskQueue:        "dealpay",
			ScheduleID:       "dealpay-payment-cycle",
			ScheduleInterval: 15 * time.Minute,
		},
		Sentry: SentryConfig{Environment: "local", SampleRate: 1.0},
		Currency: CurrencyConfig{
			BaseURL: "https://api.nbp.pl/api",
			RateTTL: time.Hour,
		},
		Payments: PaymentsConfig{
			SettlementCurrency:  "PLN",
			TwoLegThresholdDays: 30,
			RecoveryStaleness:   time.Hour,
			MaxSessionsPerRun:   50,
			Concurrency:         4,
			ReconcileWindow:     72 * time.Hour,
			ReconcilePageSize:   100,
			SessionLookback:     90 * 24 * time.Hour,
			PageRetries:         3,
			VATRate:             23,
			ProductName:         "Booking payment",
			SuccessURL:          "https://example.com/payment/success",
			CancelURL:           "https://example.com/payment/cancel",
			Trigger: TriggerConfig{
				Property:      "payment_link_trigger",
				Values:        []string{"create_payment_link"},
				AwaitingValue: "awaiting_payment",
			},
			Stages: StageConfig{
				Pipeline:      "default",
				PartiallyPaid: "deposit_paid",
				FullyPaid:     "fully_paid",
				ClosedLost:    "closedlost",
				ClosedWon:     "closedwon",
				Eligible:      []string{"appointmentscheduled", "qualifiedtobuy", "contractsent"},
			},
			RefundReasons: []string{"cancelled_by_client", "refund_requested"},
		},
	}
}

func (c PostgresConfig) GetDSN() string {
	return fmt.Sprintf(
		"user=%s password=%s dbname=%s host=%s port=%d sslmode=%s",
		c.User,
		c.Password,
		c.DBName,
		c.Host,
		c.Port,
		c.SSLMode,
	)
}
