// Package main is the Lambda entry point for the legacy backfill job.
//
// The job marks every user created before the configured cutoff as a legacy
// paid member. It is idempotent and safe to schedule repeatedly. Setting
// APP_ENV=local reads a single event from stdin instead of starting the
// Lambda runtime:
//
//	echo '{"dry_run":true}' | go run ./cmd/backfill-job
package main

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"

	"membergate/internal/backfill"
	"membergate/internal/config"
	"membergate/internal/db"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	logger.Info("Backfill Lambda initializing (cold start)")
	ctx := context.Background()

	var provider config.SecretProvider
	if os.Getenv("APP_ENV") != "local" {
		provider = config.NewSSMProvider(os.Getenv("AWS_REGION"))
	}
	cfg, err := config.LoadBackfillConfig(provider)
	if err != nil {
		logger.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	pool, err := db.NewPool(ctx, cfg.Database)
	if err != nil {
		logger.Error("Failed to open database pool", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
	if err != nil {
		logger.Error("Failed to load AWS SDK config", "error", err)
		os.Exit(1)
	}
	cwClient := cloudwatch.NewFromConfig(awsCfg, func(o *cloudwatch.Options) {
		if cfg.AWS.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.AWS.EndpointURL)
		}
	})

	job := &backfill.Job{
		Config: backfill.Config{
			Cutoff: cfg.LegacyCutoff,
			DryRun: cfg.DryRun,
		},
		Store:   db.NewBillingRepository(pool),
		Metrics: backfill.NewCloudWatchMetrics(cwClient, cfg.Metrics.Namespace),
		Log:     logger,
	}

	logger.Info("Backfill Lambda initialized",
		"cutoff", cfg.LegacyCutoff,
		"dry_run", cfg.DryRun,
		"metric_namespace", cfg.Metrics.Namespace,
	)

	if cfg.Environment == "local" {
		logger.Info("APP_ENV=local: reading event from stdin")
		payload, err := io.ReadAll(os.Stdin)
		if err != nil {
			logger.Error("Failed to read stdin", "error", err)
			os.Exit(1)
		}
		if _, err := job.Handler(ctx, json.RawMessage(payload)); err != nil {
			logger.Error("Handler execution failed", "error", err)
			os.Exit(1)
		}
		return
	}

	lambda.Start(job.Handler)
}
