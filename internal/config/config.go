// Package config loads service settings from the environment.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

const (
	AppEnvDev  = "development"
	AppEnvProd = "production"

	NotifyDriverQueue = "queue"
	NotifyDriverSNS   = "sns"
	NotifyDriverSMTP  = "smtp"
)

type Config struct {
	App       AppConfig
	Tables    TablesConfig
	Handshake HandshakeConfig
	Notify    NotifyConfig
	SMTP      SMTPConfig
	Auth      AuthConfig
	Metrics   MetricsConfig
}

type AppConfig struct {
	Env      string `envconfig:"APP_ENV" default:"development"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
	RunLocal bool   `envconfig:"RUN_LOCAL" default:"false"`
	HTTPAddr string `envconfig:"HTTP_ADDR" default:":8080"`
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type TablesConfig struct {
	Orders      string `envconfig:"ORDERS_TABLE" default:"orders"`
	Idempotency string `envconfig:"IDEMPOTENCY_TABLE" default:"idempotency"`
	Items       string `envconfig:"ITEMS_TABLE" default:"items"`
	Users       string `envconfig:"USERS_TABLE" default:"users"`
}

type HandshakeConfig struct {
	IdempotencyTTL       time.Duration `envconfig:"IDEMPOTENCY_TTL" default:"48h"`
	HistoryPendingWindow time.Duration `envconfig:"HISTORY_PENDING_WINDOW" default:"168h"`
}

type NotifyConfig struct {
	Driver   string `envconfig:"NOTIFY_DRIVER" default:"queue"`
	QueueURL string `envconfig:"NOTIFICATIONS_QUEUE_URL"`
	TopicARN string `envconfig:"NOTIFICATIONS_TOPIC_ARN"`
}

type SMTPConfig struct {
	Host     string `envconfig:"SMTP_HOST"`
	Port     string `envconfig:"SMTP_PORT" default:"587"`
	Username string `envconfig:"SMTP_USER"`
	Password string `envconfig:"SMTP_PASS"`
	From     string `envconfig:"SMTP_FROM"`
}

type AuthConfig struct {
	JWTSecret       string `envconfig:"JWT_SECRET"`
	TrustUserHeader bool   `envconfig:"TRUST_USER_HEADER" default:"false"`
}

type MetricsConfig struct {
	Enabled   bool   `envconfig:"CLOUDWATCH_ENABLED" default:"false"`
	Namespace string `envconfig:"CLOUDWATCH_NAMESPACE" default:"CampusHandshake"`
}

// Load reads an optional .env file and then the process environment, and validates the
// result for the API.
func Load() (*Config, error) {
	cfg, err := Process()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Process is Load without validation; binaries that only need part of the settings
// validate those themselves.
func Process() (*Config, error) {
	// a missing .env is normal outside local development
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	return &cfg, nil
}

// Validate checks cross-field requirements that envconfig tags cannot express.
func (c *Config) Validate() error {
	switch c.Notify.Driver {
	case NotifyDriverQueue:
		if c.Notify.QueueURL == "" {
			return errors.New("NOTIFICATIONS_QUEUE_URL is required for the queue notify driver")
		}
	case NotifyDriverSNS:
		if c.Notify.TopicARN == "" {
			return errors.New("NOTIFICATIONS_TOPIC_ARN is required for the sns notify driver")
		}
	case NotifyDriverSMTP:
		if err := c.SMTP.Validate(); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown NOTIFY_DRIVER %q", c.Notify.Driver)
	}
	if c.Auth.JWTSecret == "" && !c.Auth.TrustUserHeader {
		return errors.New("either JWT_SECRET or TRUST_USER_HEADER=true is required")
	}
	if c.Handshake.HistoryPendingWindow <= 0 {
		return errors.New("HISTORY_PENDING_WINDOW must be positive")
	}
	return nil
}

// Validate reports the first missing SMTP setting.
func (s SMTPConfig) Validate() error {
	if s.Host == "" {
		return errors.New("SMTP_HOST not set")
	}
	if s.Username == "" {
		return errors.New("SMTP_USER not set")
	}
	if s.Password == "" {
		return errors.New("SMTP_PASS not set")
	}
	return nil
}
