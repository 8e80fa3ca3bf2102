// Package main implements the membergate operator CLI.
//
// Usage:
//
//	go run ./cmd/ops migrate up
//	go run ./cmd/ops migrate down --steps=1
//	go run ./cmd/ops migrate version
//	go run ./cmd/ops backfill-legacy --dry-run
//	go run ./cmd/ops backfill-legacy --cutoff=2026-02-07T00:00:00Z
//	go run ./cmd/ops backfill-legacy --users-file=prelaunch.txt
//
// Configuration is read the same way as the API: environment, then .env,
// then SSM Parameter Store outside APP_ENV=local.
package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"membergate/internal/backfill"
	"membergate/internal/config"
	"membergate/internal/db"
)

// Version is injected via ldflags.
var Version = "dev"

// schemaMigrator is the subset of *db.Migrator the CLI drives.
type schemaMigrator interface {
	Up() error
	Down(steps int) error
	Version() (uint, bool, error)
	Close() error
}

// cli holds the collaborators each command resolves lazily, so tests can
// swap them without a database.
type cli struct {
	out        io.Writer
	logger     *slog.Logger
	loadConfig func() (*config.BackfillConfig, error)
	migrator   func(cfg *config.BackfillConfig) (schemaMigrator, error)
	store      func(ctx context.Context, cfg *config.BackfillConfig) (backfill.LegacyStore, func(), error)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	root := newRootCmd(defaultCLI(logger))
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func defaultCLI(logger *slog.Logger) *cli {
	return &cli{
		out:    os.Stdout,
		logger: logger,
		loadConfig: func() (*config.BackfillConfig, error) {
			var provider config.SecretProvider
			if os.Getenv("APP_ENV") != "local" {
				provider = config.NewSSMProvider(os.Getenv("AWS_REGION"))
			}
			return config.LoadBackfillConfig(provider)
		},
		migrator: func(cfg *config.BackfillConfig) (schemaMigrator, error) {
			return db.NewMigrator(cfg.Database.URL.Unmask(), logger)
		},
		store: func(ctx context.Context, cfg *config.BackfillConfig) (backfill.LegacyStore, func(), error) {
			pool, err := db.NewPool(ctx, cfg.Database)
			if err != nil {
				return nil, nil, err
			}
			return db.NewBillingRepository(pool), pool.Close, nil
		},
	}
}

func newRootCmd(c *cli) *cobra.Command {
	root := &cobra.Command{
		Use:           "membergate-ops",
		Short:         "Operator tooling for membergate",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(c.out)

	root.AddCommand(c.migrateCmd())
	root.AddCommand(c.backfillCmd())
	return root
}

func (c *cli) migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withMigrator(func(m schemaMigrator) error {
				return m.Up()
			})
		},
	})

	var steps int
	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withMigrator(func(m schemaMigrator) error {
				return m.Down(steps)
			})
		},
	}
	down.Flags().IntVar(&steps, "steps", 1, "number of migrations to roll back")
	cmd.AddCommand(down)

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the current schema version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withMigrator(func(m schemaMigrator) error {
				v, dirty, err := m.Version()
				if err != nil {
					return fmt.Errorf("reading schema version: %w", err)
				}
				fmt.Fprintf(c.out, "version %d (dirty=%t)\n", v, dirty)
				return nil
			})
		},
	})

	return cmd
}

func (c *cli) withMigrator(fn func(m schemaMigrator) error) error {
	cfg, err := c.loadConfig()
	if err != nil {
		return err
	}
	m, err := c.migrator(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := m.Close(); err != nil {
			c.logger.Warn("closing migrator", "error", err)
		}
	}()
	return fn(m)
}

func (c *cli) backfillCmd() *cobra.Command {
	var (
		dryRun    bool
		cutoff    string
		usersFile string
	)

	cmd := &cobra.Command{
		Use:   "backfill-legacy",
		Short: "Mark users created before the cutoff as legacy paid members",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := c.loadConfig()
			if err != nil {
				return err
			}

			at := cfg.LegacyCutoff
			if cutoff != "" {
				at, err = time.Parse(time.RFC3339, cutoff)
				if err != nil {
					return fmt.Errorf("invalid --cutoff %q: %w", cutoff, err)
				}
			}

			var userIDs []string
			if usersFile != "" {
				userIDs, err = readUserIDs(usersFile)
				if err != nil {
					return err
				}
			}

			store, closeFn, err := c.store(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			if closeFn != nil {
				defer closeFn()
			}

			job := &backfill.Job{Store: store, Log: c.logger}
			res, err := job.RunWithSeed(cmd.Context(), at, userIDs, dryRun || cfg.DryRun)
			if err != nil {
				return err
			}

			verb := "updated"
			if res.DryRun {
				verb = "would update"
			}
			if usersFile != "" {
				fmt.Fprintf(c.out, "%s %d listed user(s)\n", verb, res.Seeded)
			}
			fmt.Fprintf(c.out, "%s %d user(s) created before %s\n", verb, res.Matched, res.Cutoff.Format(time.RFC3339))
			return nil
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "count matching users without updating them")
	cmd.Flags().StringVar(&cutoff, "cutoff", "", "RFC 3339 cutoff (defaults to LEGACY_CUTOFF)")
	cmd.Flags().StringVar(&usersFile, "users-file", "", "file of pre-launch user ids to flag, one per line")
	return cmd
}

// readUserIDs reads one id per line. Blank lines and lines starting with #
// are skipped.
func readUserIDs(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening users file: %w", err)
	}
	defer f.Close()

	var ids []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		ids = append(ids, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading users file: %w", err)
	}
	return ids, nil
}
