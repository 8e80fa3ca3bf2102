package config

import "time"

// BackfillConfig configures the legacy-paid backfill job.
type BackfillConfig struct {
	Environment string `envconfig:"APP_ENV" validate:"required,oneof=local dev staging prod"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	Database DatabaseConfig
	AWS      AWSConfig
	Metrics  MetricsConfig

	// LegacyCutoff: accounts created strictly before it are flagged.
	LegacyCutoff time.Time `envconfig:"LEGACY_CUTOFF" default:"2026-02-07T00:00:00Z"`
	// DryRun counts matching accounts without updating them.
	DryRun bool `envconfig:"DRY_RUN" default:"false"`
}
