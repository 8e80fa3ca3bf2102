// Package backfill flags accounts created before the subscription launch as
// legacy-paid so they keep restricted-action access without a subscription
// or identity check.
//
// The job is idempotent: rows already flagged are skipped, so a rerun
// reports zero. It runs from the ops CLI or on a schedule as a Lambda.
//
// Eligibility is keyed on the account's registration time when the row has
// one, and on the row's own creation time otherwise. Users known to predate
// launch but who have never touched billing can be seeded by id.
package backfill

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// LegacyStore is implemented by *db.BillingRepository.
type LegacyStore interface {
	BackfillLegacy(ctx context.Context, cutoff time.Time, dryRun bool) (int64, error)
	SeedLegacy(ctx context.Context, userIDs []string, dryRun bool) (int64, error)
}

// MetricPublisher reports the job result.
type MetricPublisher interface {
	PublishBackfilled(ctx context.Context, count int64, dryRun bool) error
}

// Config holds the job defaults. A Request may override them per run.
type Config struct {
	Cutoff time.Time
	DryRun bool
}

// Request is the optional invocation payload. Scheduled events carry none
// of these fields and run with the configured defaults.
type Request struct {
	Cutoff  *time.Time `json:"cutoff,omitempty"`
	DryRun  *bool      `json:"dry_run,omitempty"`
	UserIDs []string   `json:"user_ids,omitempty"`
}

// Result summarizes one run.
type Result struct {
	Cutoff  time.Time `json:"cutoff"`
	DryRun  bool      `json:"dry_run"`
	Matched int64     `json:"matched"`
	Seeded  int64     `json:"seeded,omitempty"`
}

// Job runs the legacy backfill.
type Job struct {
	Config  Config
	Store   LegacyStore
	Metrics MetricPublisher // optional
	Log     *slog.Logger
}

// Run flags (or with DryRun, counts) every unflagged account created
// strictly before cutoff.
func (j *Job) Run(ctx context.Context, cutoff time.Time, dryRun bool) (Result, error) {
	if cutoff.IsZero() {
		return Result{}, errors.New("backfill: cutoff is required")
	}
	if j.Store == nil {
		return Result{}, errors.New("backfill: store is not configured")
	}
	log := j.logger()
	cutoff = cutoff.UTC()

	log.InfoContext(ctx, "legacy backfill starting",
		"cutoff", cutoff.Format(time.RFC3339),
		"dry_run", dryRun,
	)

	n, err := j.Store.BackfillLegacy(ctx, cutoff, dryRun)
	if err != nil {
		return Result{}, fmt.Errorf("backfill: %w", err)
	}

	res := Result{Cutoff: cutoff, DryRun: dryRun, Matched: n}
	if dryRun {
		log.InfoContext(ctx, "legacy backfill dry run complete", "would_update", n)
	} else {
		log.InfoContext(ctx, "legacy backfill complete", "updated", n)
	}

	// The update is already committed; a metric failure does not fail the run.
	if j.Metrics != nil {
		if err := j.Metrics.PublishBackfilled(ctx, n, dryRun); err != nil {
			log.WarnContext(ctx, "failed to publish backfill metric", "error", err)
		}
	}
	return res, nil
}

// Seed flags the listed users as legacy-paid regardless of when their
// billing row appeared, creating rows for users who have none.
func (j *Job) Seed(ctx context.Context, userIDs []string, dryRun bool) (int64, error) {
	if j.Store == nil {
		return 0, errors.New("backfill: store is not configured")
	}
	ids := dedupeIDs(userIDs)
	if len(ids) == 0 {
		return 0, nil
	}

	n, err := j.Store.SeedLegacy(ctx, ids, dryRun)
	if err != nil {
		return 0, fmt.Errorf("backfill: seed: %w", err)
	}
	j.logger().InfoContext(ctx, "legacy seed complete",
		"listed", len(ids),
		"dry_run", dryRun,
		"matched", n,
	)
	return n, nil
}

// RunWithSeed seeds userIDs and then runs the cutoff backfill.
func (j *Job) RunWithSeed(ctx context.Context, cutoff time.Time, userIDs []string, dryRun bool) (Result, error) {
	seeded, err := j.Seed(ctx, userIDs, dryRun)
	if err != nil {
		return Result{}, err
	}
	res, err := j.Run(ctx, cutoff, dryRun)
	if err != nil {
		return Result{}, err
	}
	res.Seeded = seeded
	return res, nil
}

// Handler is the Lambda entrypoint. payload may be empty, a scheduled
// event, or a Request with overrides.
func (j *Job) Handler(ctx context.Context, payload json.RawMessage) (Result, error) {
	cutoff, dryRun := j.Config.Cutoff, j.Config.DryRun
	var userIDs []string

	if len(payload) > 0 {
		var req Request
		if err := json.Unmarshal(payload, &req); err != nil {
			return Result{}, fmt.Errorf("backfill: failed to parse payload: %w", err)
		}
		if req.Cutoff != nil {
			cutoff = *req.Cutoff
		}
		if req.DryRun != nil {
			dryRun = *req.DryRun
		}
		userIDs = req.UserIDs
	}

	return j.RunWithSeed(ctx, cutoff, userIDs, dryRun)
}

func dedupeIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func (j *Job) logger() *slog.Logger {
	if j.Log == nil {
		return slog.Default()
	}
	return j.Log
}
