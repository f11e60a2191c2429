// Package config defines the global configuration structure for the CropSense
// backend. Configuration is loaded once at process initialization and is
// immutable thereafter. It follows 12-Factor App principles by strictly
// separating code from configuration.
//
// Values are resolved via a priority chain:
//
//	OS Environment (Highest) -> Dotenv File
//
// Any missing required value or invalid format causes the application to fail
// immediately on startup.
package config

import "time"

// Config is the top-level configuration struct. It is populated once during
// process initialization and never modified. Sub-components receive only the
// specific config subsets they require.
type Config struct {
	// System Metadata
	Environment string `envconfig:"APP_ENV" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"cropsense-api"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	// Domain Configurations
	Server    ServerConfig
	Database  DatabaseConfig
	Weather   WeatherConfig
	Geocoder  GeocoderConfig
	Push      PushConfig
	AWS       AWSConfig
	Billing   BillingConfig
	Scheduler SchedulerConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port               string        `envconfig:"PORT" default:"8080"`
	RequestTimeout     time.Duration `envconfig:"REQUEST_TIMEOUT" default:"29s"`
	CorsAllowedOrigins []string      `envconfig:"CORS_ALLOWED_ORIGINS"`
}

// DatabaseConfig holds database connection and pool tuning parameters.
type DatabaseConfig struct {
	URL string `envconfig:"DATABASE_URL" validate:"required,url"`

	MaxConns          int           `envconfig:"DB_MAX_CONNS" default:"10"`
	MinConns          int           `envconfig:"DB_MIN_CONNS" default:"2"`
	MaxConnLifetime   time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	HealthCheckPeriod time.Duration `envconfig:"DB_HEALTH_CHECK_PERIOD" default:"1m"`
}

// WeatherConfig holds the forecast provider endpoint configuration.
type WeatherConfig struct {
	BaseURL   string        `envconfig:"WEATHER_BASE_URL" default:"https://api.open-meteo.com" validate:"required,url"`
	Timeout   time.Duration `envconfig:"WEATHER_TIMEOUT" default:"10s"`
	UserAgent string        `envconfig:"WEATHER_USER_AGENT" default:"cropsense/1.0"`
}

// GeocoderConfig holds the reverse geocoding endpoint configuration.
type GeocoderConfig struct {
	BaseURL string        `envconfig:"GEOCODER_BASE_URL" default:"https://geocoding-api.open-meteo.com" validate:"required,url"`
	Timeout time.Duration `envconfig:"GEOCODER_TIMEOUT" default:"5s"`
}

// PushConfig holds the push relay used by the alert worker.
type PushConfig struct {
	RelayURL  string        `envconfig:"PUSH_RELAY_URL" validate:"omitempty,url"`
	AuthToken string        `envconfig:"PUSH_RELAY_TOKEN"`
	Timeout   time.Duration `envconfig:"PUSH_TIMEOUT" default:"10s"`
}

// AWSConfig holds AWS resource identifiers and regional configuration.
type AWSConfig struct {
	Region           string `envconfig:"AWS_REGION" default:"ap-south-1"`
	AlertQueueURL    string `envconfig:"SQS_ALERT_QUEUE" validate:"omitempty,url"`
	MetricsNamespace string `envconfig:"METRICS_NAMESPACE" default:"CropSense"`
}

// BillingConfig holds Stripe integration configuration.
type BillingConfig struct {
	StripeSecretKey     string `envconfig:"STRIPE_SECRET_KEY"`
	StripeWebhookSecret string `envconfig:"STRIPE_WEBHOOK_SECRET"`
	UsageMeterName      string `envconfig:"STRIPE_USAGE_METER" default:"insight_requests"`
}

// SchedulerConfig tunes the spray advisor run.
type SchedulerConfig struct {
	Concurrency     int           `envconfig:"ADVISOR_CONCURRENCY" default:"8"`
	AlertLeadWindow time.Duration `envconfig:"ADVISOR_ALERT_LEAD" default:"6h"`
}

// IsLocal reports whether the process runs in local development mode.
func (c *Config) IsLocal() bool {
	return c.Environment == "local"
}
