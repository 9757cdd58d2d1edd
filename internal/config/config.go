package config

import (
	"time"

	"github.com/veriguard/auth-service/internal/client"
	"github.com/veriguard/auth-service/internal/util"
	"github.com/veriguard/auth-service/internal/util/logger"
)

type Config struct {
	Env         string `yaml:"env" env:"APP_ENV"`
	Port        int    `yaml:"port" env:"PORT"`
	DatabaseURL string `yaml:"database_url" env:"DATABASE_URL"`

	Logger logger.Config      `yaml:"logger"`
	Redis  client.RedisConfig `yaml:"redis"`
	JWT    util.JWTConfig     `yaml:"jwt"`

	OTP       OTPConfig       `yaml:"otp"`
	Fraud     FraudConfig     `yaml:"fraud"`
	IPBlock   IPBlockConfig   `yaml:"ip_block"`
	Attempts  AttemptConfig   `yaml:"attempts"`
	Lockout   LockoutConfig   `yaml:"lockout"`
	MFA       MFAConfig       `yaml:"mfa"`
	Providers   ProviderConfig    `yaml:"providers"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
	RateLimit   RateLimitConfig   `yaml:"rate_limit"`
	Fingerprint FingerprintConfig `yaml:"fingerprint"`
}

type OTPConfig struct {
	CodeLength         int           `yaml:"code_length"`
	Expiration         time.Duration `yaml:"expiration"`
	MaxAttempts        int           `yaml:"max_attempts"`
	ResendCooldown     time.Duration `yaml:"resend_cooldown"`
	MaxDailyPerSubject int           `yaml:"max_daily_per_subject"`
	Retention          time.Duration `yaml:"retention"`
	DeliverySimulation bool          `yaml:"delivery_simulation"`
}

type FraudConfig struct {
	Threshold          int           `yaml:"threshold"`            // score at and above which a signal is fraudulent
	AutoBlockScore     int           `yaml:"auto_block_score"`     // registration score that triggers an automatic IP block
	AutoBlockDuration  time.Duration `yaml:"auto_block_duration"`  //
	DisposableDomains  []string      `yaml:"disposable_domains"`   // appended to the built-in list
	BlacklistedCIDRs   []string      `yaml:"blacklisted_cidrs"`    //
	HighRiskCountries  []string      `yaml:"high_risk_countries"`  // ISO 3166-1 alpha-2
	RepeatFraudWindow  time.Duration `yaml:"repeat_fraud_window"`  // lookback for prior flagged registrations per IP
	RepeatFraudMinimum int           `yaml:"repeat_fraud_minimum"` //
	ProviderTimeout    time.Duration `yaml:"provider_timeout"`     //
	ScreenEmailOnSignup bool         `yaml:"screen_email_on_signup"`
	ScreenPhoneOnSignup bool         `yaml:"screen_phone_on_signup"`
}

type IPBlockConfig struct {
	DefaultDuration    time.Duration `yaml:"default_duration"`
	EscalationDuration time.Duration `yaml:"escalation_duration"` // applied when brute force escalates to a block
}

type AttemptConfig struct {
	Window             time.Duration `yaml:"window"`               // retention per key
	BruteForceCount    int           `yaml:"brute_force_count"`    //
	BruteForceWindow   time.Duration `yaml:"brute_force_window"`   //
	BurstCount         int           `yaml:"burst_count"`          //
	BurstSpan          time.Duration `yaml:"burst_span"`           //
}

type LockoutConfig struct {
	MaxFailedLogins int           `yaml:"max_failed_logins"`
	LockDuration    time.Duration `yaml:"lock_duration"`
}

type MFAConfig struct {
	Digits int `yaml:"digits"`
	Period int `yaml:"period"` // seconds
	Skew   int `yaml:"skew"`   // accepted steps either side of now
}

type ProviderConfig struct {
	Mode            string        `yaml:"mode"` // "live" or "stub"
	CarrierEndpoint string        `yaml:"carrier_endpoint"`
	CarrierAPIKey   string        `yaml:"carrier_api_key" env:"CARRIER_API_KEY"`
	IPRepEndpoint   string        `yaml:"ip_reputation_endpoint"`
	IPRepAPIKey     string        `yaml:"ip_reputation_api_key" env:"IP_REPUTATION_API_KEY"`
	Timeout         time.Duration `yaml:"timeout"`
}

type TelemetryConfig struct {
	Kafka KafkaConfig `yaml:"kafka"`
}

type KafkaConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Brokers       []string      `yaml:"brokers" env:"KAFKA_BROKERS"`
	TopicFraud    string        `yaml:"topic_fraud"`
	TopicOTPAudit string        `yaml:"topic_otp_audit"`
	BatchSize     int           `yaml:"batch_size"`
	FlushEvery    time.Duration `yaml:"flush_every"`
	QueueCapacity int           `yaml:"queue_capacity"`
	DialTimeout   time.Duration `yaml:"dial_timeout"`
	WriteTimeout  time.Duration `yaml:"write_timeout"`
	TLS           bool          `yaml:"tls"`
}

type FingerprintConfig struct {
	Pepper                string   `yaml:"pepper" env:"FINGERPRINT_PEPPER"`
	TrustedProxyIPHeaders []string `yaml:"trusted_proxy_ip_headers"`
	TrustedProxyCIDRs     []string `yaml:"trusted_proxy_cidrs"`
}

type RateLimitConfig struct {
	RatePerInterval int           `yaml:"rate_per_interval"`
	Interval        time.Duration `yaml:"interval"`
	Burst           int           `yaml:"burst"`
}

// ApplyDefaults fills unset knobs with production defaults. The zero
// config is not runnable (no database, no signing key) but every
// behavioral parameter has a sane value.
func (c *Config) ApplyDefaults() {
	if c.Port == 0 {
		c.Port = 8080
	}
	if c.OTP.CodeLength == 0 {
		c.OTP.CodeLength = 6
	}
	if c.OTP.Expiration == 0 {
		c.OTP.Expiration = 60 * time.Second
	}
	if c.OTP.MaxAttempts == 0 {
		c.OTP.MaxAttempts = 3
	}
	if c.OTP.ResendCooldown == 0 {
		c.OTP.ResendCooldown = 30 * time.Second
	}
	if c.OTP.MaxDailyPerSubject == 0 {
		c.OTP.MaxDailyPerSubject = 10
	}
	if c.OTP.Retention == 0 {
		c.OTP.Retention = 24 * time.Hour
	}
	if c.Fraud.Threshold == 0 {
		c.Fraud.Threshold = 50
	}
	if c.Fraud.AutoBlockScore == 0 {
		c.Fraud.AutoBlockScore = 80
	}
	if c.Fraud.AutoBlockDuration == 0 {
		c.Fraud.AutoBlockDuration = 24 * time.Hour
	}
	if c.Fraud.RepeatFraudWindow == 0 {
		c.Fraud.RepeatFraudWindow = 30 * 24 * time.Hour
	}
	if c.Fraud.RepeatFraudMinimum == 0 {
		c.Fraud.RepeatFraudMinimum = 3
	}
	if c.Fraud.ProviderTimeout == 0 {
		c.Fraud.ProviderTimeout = 3 * time.Second
	}
	if c.IPBlock.DefaultDuration == 0 {
		c.IPBlock.DefaultDuration = time.Hour
	}
	if c.IPBlock.EscalationDuration == 0 {
		c.IPBlock.EscalationDuration = 24 * time.Hour
	}
	if c.Attempts.Window == 0 {
		c.Attempts.Window = 24 * time.Hour
	}
	if c.Attempts.BruteForceCount == 0 {
		c.Attempts.BruteForceCount = 5
	}
	if c.Attempts.BruteForceWindow == 0 {
		c.Attempts.BruteForceWindow = 15 * time.Minute
	}
	if c.Attempts.BurstCount == 0 {
		c.Attempts.BurstCount = 5
	}
	if c.Attempts.BurstSpan == 0 {
		c.Attempts.BurstSpan = 30 * time.Second
	}
	if c.Lockout.MaxFailedLogins == 0 {
		c.Lockout.MaxFailedLogins = 5
	}
	if c.Lockout.LockDuration == 0 {
		c.Lockout.LockDuration = 15 * time.Minute
	}
	if c.MFA.Digits == 0 {
		c.MFA.Digits = 6
	}
	if c.MFA.Period == 0 {
		c.MFA.Period = 30
	}
	if c.MFA.Skew == 0 {
		c.MFA.Skew = 2
	}
	if c.Providers.Timeout == 0 {
		c.Providers.Timeout = 3 * time.Second
	}
	if c.RateLimit.RatePerInterval == 0 {
		c.RateLimit.RatePerInterval = 60
	}
	if c.RateLimit.Interval == 0 {
		c.RateLimit.Interval = time.Minute
	}
}
