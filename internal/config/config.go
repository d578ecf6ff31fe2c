package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// PayoutTimeoutPolicy says what the sweeper does with payouts that never heard back.
type PayoutTimeoutPolicy string

const (
	PayoutTimeoutNone       PayoutTimeoutPolicy = "none"
	PayoutTimeoutFail       PayoutTimeoutPolicy = "fail"
	PayoutTimeoutCompensate PayoutTimeoutPolicy = "compensate"
)

type Config struct {
	DBSource string
	Port     string
	Env      string

	JWTSecret string

	BaseCurrency              string
	PayoutCurrency            string
	TransactionFee            decimal.Decimal
	ComplianceReasonThreshold decimal.Decimal
	DailySendLimit            decimal.Decimal
	RecipientLimitDaily       int
	GlobalDailyCap            decimal.Decimal

	AuthorizationTTL    time.Duration
	StaleCreatedTTL     time.Duration
	PayoutTimeout       time.Duration
	PayoutTimeoutPolicy PayoutTimeoutPolicy
	ChargebackWindow    time.Duration

	PaymentProvider    string
	PayoutProvider     string
	SandboxDelay       time.Duration
	WebhookSecrets     map[string]string
	WebhookTolerance   time.Duration
	WebhookMaxAttempts int

	RedisAddr     string
	RateSourceURL string
	RateCacheTTL  time.Duration

	KafkaBrokers           []string
	KafkaNotificationTopic string

	SweepInterval time.Duration
}

// UsesMemoryStore reports whether the process runs without Postgres.
func (c *Config) UsesMemoryStore() bool {
	return c.Env == "memory"
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("SERVER_PORT", "8080")
	v.SetDefault("ENVIRONMENT", "development")
	v.SetDefault("BASE_CURRENCY", "GBP")
	v.SetDefault("PAYOUT_CURRENCY", "KES")
	v.SetDefault("TRANSACTION_FEE", "2.00")
	v.SetDefault("COMPLIANCE_REASON_THRESHOLD", "300")
	v.SetDefault("DAILY_SEND_LIMIT", "5000")
	v.SetDefault("RECIPIENT_LIMIT_DAILY", 5)
	v.SetDefault("GLOBAL_DAILY_CAP", "1000000")
	v.SetDefault("AUTHORIZATION_TTL", "30m")
	v.SetDefault("STALE_CREATED_TTL", "15m")
	v.SetDefault("PAYOUT_TIMEOUT", "24h")
	v.SetDefault("PAYOUT_TIMEOUT_POLICY", string(PayoutTimeoutNone))
	v.SetDefault("CHARGEBACK_WINDOW", "2880h")
	v.SetDefault("PAYMENT_PROVIDER", "sandbox")
	v.SetDefault("PAYOUT_PROVIDER", "sandbox")
	v.SetDefault("SANDBOX_DELAY", "2s")
	v.SetDefault("WEBHOOK_TOLERANCE", "5m")
	v.SetDefault("WEBHOOK_MAX_ATTEMPTS", 5)
	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("RATE_SOURCE_URL", "")
	v.SetDefault("RATE_CACHE_TTL", "1h")
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("KAFKA_NOTIFICATION_TOPIC", "transaction_notifications")
	v.SetDefault("SWEEP_INTERVAL", "1m")
}

// Load reads configuration from the environment, after loading an optional .env file.
func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()
	setDefaults(v)
	return fromViper(v)
}

func fromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		DBSource:               v.GetString("DB_SOURCE"),
		Port:                   v.GetString("SERVER_PORT"),
		Env:                    v.GetString("ENVIRONMENT"),
		JWTSecret:              v.GetString("JWT_SECRET"),
		BaseCurrency:           strings.ToUpper(v.GetString("BASE_CURRENCY")),
		PayoutCurrency:         strings.ToUpper(v.GetString("PAYOUT_CURRENCY")),
		AuthorizationTTL:       v.GetDuration("AUTHORIZATION_TTL"),
		StaleCreatedTTL:        v.GetDuration("STALE_CREATED_TTL"),
		PayoutTimeout:          v.GetDuration("PAYOUT_TIMEOUT"),
		PayoutTimeoutPolicy:    PayoutTimeoutPolicy(strings.ToLower(v.GetString("PAYOUT_TIMEOUT_POLICY"))),
		ChargebackWindow:       v.GetDuration("CHARGEBACK_WINDOW"),
		PaymentProvider:        strings.ToLower(v.GetString("PAYMENT_PROVIDER")),
		PayoutProvider:         strings.ToLower(v.GetString("PAYOUT_PROVIDER")),
		SandboxDelay:           v.GetDuration("SANDBOX_DELAY"),
		WebhookTolerance:       v.GetDuration("WEBHOOK_TOLERANCE"),
		WebhookMaxAttempts:     v.GetInt("WEBHOOK_MAX_ATTEMPTS"),
		RedisAddr:              v.GetString("REDIS_ADDR"),
		RateSourceURL:          v.GetString("RATE_SOURCE_URL"),
		RateCacheTTL:           v.GetDuration("RATE_CACHE_TTL"),
		KafkaNotificationTopic: v.GetString("KAFKA_NOTIFICATION_TOPIC"),
		SweepInterval:          v.GetDuration("SWEEP_INTERVAL"),
		RecipientLimitDaily:    v.GetInt("RECIPIENT_LIMIT_DAILY"),
	}

	if cfg.DBSource == "" && !cfg.UsesMemoryStore() {
		return nil, fmt.Errorf("DB_SOURCE environment variable is required")
	}

	var err error
	if cfg.TransactionFee, err = decimalKey(v, "TRANSACTION_FEE"); err != nil {
		return nil, err
	}
	if cfg.ComplianceReasonThreshold, err = decimalKey(v, "COMPLIANCE_REASON_THRESHOLD"); err != nil {
		return nil, err
	}
	if cfg.DailySendLimit, err = decimalKey(v, "DAILY_SEND_LIMIT"); err != nil {
		return nil, err
	}
	if cfg.GlobalDailyCap, err = decimalKey(v, "GLOBAL_DAILY_CAP"); err != nil {
		return nil, err
	}
	if cfg.RecipientLimitDaily < 0 {
		return nil, fmt.Errorf("RECIPIENT_LIMIT_DAILY must not be negative")
	}

	switch cfg.PayoutTimeoutPolicy {
	case PayoutTimeoutNone, PayoutTimeoutFail, PayoutTimeoutCompensate:
	default:
		return nil, fmt.Errorf("PAYOUT_TIMEOUT_POLICY must be none, fail or compensate, got %q", cfg.PayoutTimeoutPolicy)
	}

	if brokers := v.GetString("KAFKA_BROKERS"); brokers != "" {
		for _, b := range strings.Split(brokers, ",") {
			if b = strings.TrimSpace(b); b != "" {
				cfg.KafkaBrokers = append(cfg.KafkaBrokers, b)
			}
		}
	}

	cfg.WebhookSecrets = make(map[string]string)
	for _, name := range []string{cfg.PaymentProvider, cfg.PayoutProvider} {
		secret := v.GetString("WEBHOOK_SECRET_" + strings.ToUpper(name))
		if secret == "" && cfg.Env == "production" {
			return nil, fmt.Errorf("WEBHOOK_SECRET_%s is required in production", strings.ToUpper(name))
		}
		if secret == "" {
			secret = "dev-" + name + "-secret"
		}
		cfg.WebhookSecrets[name] = secret
	}

	if cfg.JWTSecret == "" {
		if cfg.Env == "production" {
			return nil, fmt.Errorf("JWT_SECRET environment variable is required in production")
		}
		cfg.JWTSecret = "dev-jwt-secret"
	}

	return cfg, nil
}

func decimalKey(v *viper.Viper, key string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(v.GetString(key))
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s: %w", key, err)
	}
	if d.IsNegative() {
		return decimal.Zero, fmt.Errorf("%s must not be negative", key)
	}
	return d, nil
}
