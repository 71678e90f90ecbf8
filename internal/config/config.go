// Package config defines the global configuration structure for the DuePoint
// platform. Configuration is loaded once at process initialization (Lambda
// cold start or API boot) and is immutable thereafter. It follows 12-Factor
// App principles by strictly separating code from configuration.
//
// Values are resolved via a priority chain:
//
//	OS Environment (Highest) -> Dotenv File -> AWS SSM Parameter Store (Lowest)
//
// Any missing required value or invalid format causes the application to fail
// immediately on startup.
package config

import (
	"time"

	"duepoint/internal/types"
)

// SecretString is an alias for types.SecretString, the redacted secret type
// used throughout configuration to prevent accidental logging of sensitive
// values.
type SecretString = types.SecretString

// Config is the top-level configuration struct for the DuePoint platform.
// It is populated once during process initialization and never modified.
// Sub-components receive only the specific config subsets they require.
type Config struct {
	// System Metadata
	Environment string `envconfig:"APP_ENV" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"duepoint-service"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	// Domain Configurations
	Server        ServerConfig
	Database      DatabaseConfig
	AWS           AWSConfig
	Security      SecurityConfig
	Delivery      DeliveryConfig
	Scheduler     SchedulerConfig
	Pix           PixConfig
	Observability ObservabilityConfig

	// Build Metadata (Injected via ldflags, not Env)
	Build BuildInfo
}

// ServerConfig holds HTTP server and public URL configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8080"`
	// Public URLs for payment-provider callbacks (no trailing slash)
	APIExternalURL string `envconfig:"API_EXTERNAL_URL" validate:"required,url"`
	DashboardURL   string `envconfig:"DASHBOARD_URL" validate:"required,url"`
}

// DatabaseConfig holds database connection and pool tuning parameters.
type DatabaseConfig struct {
	// Resolved from SSM or Env
	URL SecretString `envconfig:"DATABASE_URL" validate:"required,url"`

	// Tuning Parameters
	MaxConns          int           `envconfig:"DB_MAX_CONNS" default:"10"`
	MinConns          int           `envconfig:"DB_MIN_CONNS" default:"2"`
	MaxConnLifetime   time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	AcquireTimeout    time.Duration `envconfig:"DB_ACQUIRE_TIMEOUT" default:"2s"`
	HealthCheckPeriod time.Duration `envconfig:"DB_HEALTH_CHECK_PERIOD" default:"1m"`
}

// AWSConfig holds AWS regional configuration.
type AWSConfig struct {
	Region string `envconfig:"AWS_REGION" default:"us-east-1"`

	// LocalStack Support (Empty in Prod)
	EndpointURL string `envconfig:"AWS_ENDPOINT_URL"`
}

// SecurityConfig holds authentication credentials and CORS settings.
// CronSecret authenticates the scheduler triggers that invoke the pipeline
// workers; account requests authenticate with per-account API tokens.
type SecurityConfig struct {
	CronSecret         SecretString `envconfig:"CRON_SECRET" validate:"required,min=16"`
	AdminAPIKey        SecretString `envconfig:"ADMIN_API_KEY" validate:"required"`
	CorsAllowedOrigins []string     `envconfig:"CORS_ALLOWED_ORIGINS" default:"*"`
	BcryptCost         int          `envconfig:"BCRYPT_COST" default:"10"`
}

// DeliveryConfig holds settings for outbound WhatsApp webhook delivery.
type DeliveryConfig struct {
	UserAgent      string        `envconfig:"DELIVERY_USER_AGENT" default:"DuePoint-Notifier/1.0"`
	DefaultTimeout time.Duration `envconfig:"DELIVERY_TIMEOUT" default:"15s"`
	MaxRedirects   int           `envconfig:"DELIVERY_MAX_REDIRECTS" default:"3"`
}

// SchedulerConfig tunes the notification pipeline workers.
type SchedulerConfig struct {
	// DrainBatchSize caps how many due notifications one drainer run claims.
	DrainBatchSize int `envconfig:"DRAIN_BATCH_SIZE" default:"10" validate:"min=1,max=100"`

	// MaxAttempts bounds delivery retries; a row that fails this many times
	// transitions to failed instead of retrying.
	MaxAttempts int `envconfig:"DELIVERY_MAX_ATTEMPTS" default:"3" validate:"min=1,max=10"`

	// RetryBackoff is the base delay applied by the retry sweeper. The
	// effective delay doubles per attempt.
	RetryBackoff time.Duration `envconfig:"RETRY_BACKOFF" default:"5m"`

	// ScheduleGraceWindow is how far in the past a submitted send_at may be
	// before a schedule-replace entry is rejected as stale.
	ScheduleGraceWindow time.Duration `envconfig:"SCHEDULE_GRACE_WINDOW" default:"60s"`

	// ProjectionHorizon bounds how far ahead the due-date projector
	// materializes notification rows.
	ProjectionHorizon time.Duration `envconfig:"PROJECTION_HORIZON" default:"720h"`

	// JobLockTTL is how long a worker's advisory lock row stays valid before
	// another instance may steal it.
	JobLockTTL time.Duration `envconfig:"JOB_LOCK_TTL" default:"10m"`

	// StuckAfter is how long a notification may sit in processing before
	// the sweeper closes it out as failed.
	StuckAfter time.Duration `envconfig:"STUCK_PROCESSING_AFTER" default:"15m"`
}

// PixConfig holds PIX payment provider credentials. Provider request and
// response bodies are treated as opaque JSON; only the base URL and key are
// configuration.
type PixConfig struct {
	Provider       string        `envconfig:"PIX_PROVIDER" default:"openpix"`
	BaseURL        string        `envconfig:"PIX_BASE_URL" validate:"required,url"`
	APIKey         SecretString  `envconfig:"PIX_API_KEY" validate:"required"`
	WebhookSecret  SecretString  `envconfig:"PIX_WEBHOOK_SECRET" validate:"required"`
	RequestTimeout time.Duration `envconfig:"PIX_TIMEOUT" default:"10s"`
}

// ObservabilityConfig holds telemetry and monitoring settings.
type ObservabilityConfig struct {
	MetricNamespace string `envconfig:"METRIC_NAMESPACE" default:"DuePoint"`
	EnableMetrics   bool   `envconfig:"ENABLE_METRICS" default:"true"`
}

// BuildInfo holds build-time metadata injected via ldflags.
// These values are NOT populated from environment variables.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildTime string
}

// ConfigErrorType categorizes configuration loading failures to aid debugging.
type ConfigErrorType string

const (
	// ErrMissingEnv indicates a required environment variable was not found.
	ErrMissingEnv ConfigErrorType = "MISSING_ENV"
	// ErrSSMResolution indicates a failure when fetching secrets from AWS SSM.
	ErrSSMResolution ConfigErrorType = "SSM_FAILURE"
	// ErrValidation indicates the configuration failed struct validation rules.
	ErrValidation ConfigErrorType = "VALIDATION_FAILED"
	// ErrParsing indicates a failure when parsing environment variable values
	// into their target types.
	ErrParsing ConfigErrorType = "PARSING_FAILED"
)
