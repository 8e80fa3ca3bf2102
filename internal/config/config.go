// Package config defines the process configuration for membergate.
//
// Values are resolved once at startup through a priority chain:
//
//	OS Environment (Highest) -> Dotenv File -> AWS SSM Parameter Store (Lowest)
//
// Any missing required value or invalid format fails startup.
package config

import (
	"time"

	"membergate/internal/types"
)

// SecretString is an alias for types.SecretString.
type SecretString = types.SecretString

// Config is the top-level configuration struct. Sub-components receive only
// the subset they need.
type Config struct {
	Environment string `envconfig:"APP_ENV" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"OTEL_SERVICE_NAME" default:"membergate"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	AWS       AWSConfig
	Stripe    StripeConfig
	Auth      AuthConfig
	RateLimit RateLimitConfig
	Metrics   MetricsConfig
	Tracing   TracingConfig

	// Build is injected via ldflags, not env.
	Build BuildInfo
}

// ServerConfig holds HTTP server and public URL configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8080"`
	// FrontendURL is the base for checkout, identity and portal redirects
	// (no trailing slash).
	FrontendURL     string        `envconfig:"FRONTEND_URL" validate:"required,url"`
	RequestTimeout  time.Duration `envconfig:"REQUEST_TIMEOUT" default:"29s"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`
	CorsOrigins     []string      `envconfig:"CORS_ALLOWED_ORIGINS" default:"*"`
}

// DatabaseConfig holds connection and pool tuning parameters.
type DatabaseConfig struct {
	URL SecretString `envconfig:"DATABASE_URL" validate:"required"`

	MaxConns          int32         `envconfig:"DB_MAX_CONNS" default:"10"`
	MinConns          int32         `envconfig:"DB_MIN_CONNS" default:"2"`
	MaxConnLifetime   time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	HealthCheckPeriod time.Duration `envconfig:"DB_HEALTH_CHECK_PERIOD" default:"1m"`
	// RunMigrations applies pending migrations at API startup. Production
	// runs them from the ops CLI instead.
	RunMigrations bool `envconfig:"DB_RUN_MIGRATIONS" default:"false"`
}

// RedisConfig configures the rate limiter backend. An empty URL disables
// rate limiting.
type RedisConfig struct {
	URL SecretString `envconfig:"REDIS_URL"`
}

// AWSConfig holds AWS resource identifiers and regional configuration.
type AWSConfig struct {
	Region string `envconfig:"AWS_REGION" default:"us-east-1"`

	// EntitlementsQueue receives entitlement-changed messages. Empty
	// disables publishing.
	EntitlementsQueue string `envconfig:"SQS_ENTITLEMENTS" validate:"omitempty,url"`

	// LocalStack support (empty in prod)
	EndpointURL string `envconfig:"AWS_ENDPOINT_URL"`
}

// StripeConfig holds provider credentials and product identifiers.
type StripeConfig struct {
	SecretKey      SecretString  `envconfig:"STRIPE_SECRET_KEY" validate:"required"`
	WebhookSecret  SecretString  `envconfig:"STRIPE_WEBHOOK_SECRET" validate:"required"`
	PublishableKey string        `envconfig:"STRIPE_PUBLISHABLE_KEY" validate:"required"`
	PriceID        string        `envconfig:"STRIPE_PRICE_ID" validate:"required"`
	APIBase        string        `envconfig:"STRIPE_API_BASE" validate:"omitempty,url"`
	Timeout        time.Duration `envconfig:"STRIPE_TIMEOUT" default:"20s"`
}

// AuthConfig configures bearer token verification. Tokens are issued by
// the account service; this process only verifies them.
type AuthConfig struct {
	JWTSecret SecretString `envconfig:"JWT_SECRET" validate:"required,min=32"`
	JWTIssuer string       `envconfig:"JWT_ISSUER"`
}

// RateLimitConfig bounds how often a single user may start hosted sessions.
type RateLimitConfig struct {
	SessionsPerWindow int           `envconfig:"RATE_LIMIT_SESSIONS" default:"10"`
	Window            time.Duration `envconfig:"RATE_LIMIT_WINDOW" default:"1m"`
}

// MetricsConfig holds telemetry settings for batch jobs.
type MetricsConfig struct {
	Namespace string `envconfig:"METRIC_NAMESPACE" default:"MemberGate"`
}

// TracingConfig enables OTLP trace export. An empty endpoint leaves the
// global no-op tracer in place.
type TracingConfig struct {
	Endpoint    string  `envconfig:"OTEL_EXPORTER_OTLP_ENDPOINT" validate:"omitempty,url"`
	SampleRatio float64 `envconfig:"OTEL_TRACES_SAMPLE_RATIO" default:"1" validate:"gte=0,lte=1"`
}

// BuildInfo holds build-time metadata injected via ldflags.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildTime string
}

// ConfigErrorType categorizes configuration loading failures.
type ConfigErrorType string

const (
	ErrMissingEnv    ConfigErrorType = "MISSING_ENV"
	ErrSSMResolution ConfigErrorType = "SSM_FAILURE"
	ErrValidation    ConfigErrorType = "VALIDATION_FAILED"
	ErrParsing       ConfigErrorType = "PARSING_FAILED"
)
