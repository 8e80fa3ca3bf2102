package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"membergate/internal/backfill"
	"membergate/internal/config"
)

type fakeMigrator struct {
	ups, closes int
	downSteps   []int
	version     uint
	dirty       bool
	err         error
}

func (f *fakeMigrator) Up() error { f.ups++; return f.err }
func (f *fakeMigrator) Down(steps int) error {
	f.downSteps = append(f.downSteps, steps)
	return f.err
}
func (f *fakeMigrator) Version() (uint, bool, error) { return f.version, f.dirty, f.err }
func (f *fakeMigrator) Close() error                 { f.closes++; return nil }

type fakeStore struct {
	cutoff time.Time
	dryRun bool
	n      int64
	seeded []string
}

func (f *fakeStore) SeedLegacy(_ context.Context, userIDs []string, _ bool) (int64, error) {
	f.seeded = userIDs
	return int64(len(userIDs)), nil
}

func (f *fakeStore) BackfillLegacy(_ context.Context, cutoff time.Time, dryRun bool) (int64, error) {
	f.cutoff, f.dryRun = cutoff, dryRun
	return f.n, nil
}

var defaultCutoff = time.Date(2026, 2, 7, 0, 0, 0, 0, time.UTC)

func newTestCLI(m *fakeMigrator, s backfill.LegacyStore) (*cli, *bytes.Buffer) {
	out := &bytes.Buffer{}
	return &cli{
		out:    out,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		loadConfig: func() (*config.BackfillConfig, error) {
			return &config.BackfillConfig{Environment: "local", LegacyCutoff: defaultCutoff}, nil
		},
		migrator: func(*config.BackfillConfig) (schemaMigrator, error) { return m, nil },
		store: func(context.Context, *config.BackfillConfig) (backfill.LegacyStore, func(), error) {
			return s, nil, nil
		},
	}, out
}

func execute(t *testing.T, c *cli, args ...string) error {
	t.Helper()
	root := newRootCmd(c)
	root.SetArgs(args)
	root.SetErr(io.Discard)
	return root.ExecuteContext(context.Background())
}

func TestMigrateCommands(t *testing.T) {
	m := &fakeMigrator{version: 3}
	c, out := newTestCLI(m, nil)

	if err := execute(t, c, "migrate", "up"); err != nil {
		t.Fatalf("migrate up: %v", err)
	}
	if err := execute(t, c, "migrate", "down", "--steps=2"); err != nil {
		t.Fatalf("migrate down: %v", err)
	}
	if err := execute(t, c, "migrate", "version"); err != nil {
		t.Fatalf("migrate version: %v", err)
	}

	if m.ups != 1 {
		t.Errorf("Up called %d times, want 1", m.ups)
	}
	if len(m.downSteps) != 1 || m.downSteps[0] != 2 {
		t.Errorf("Down steps = %v, want [2]", m.downSteps)
	}
	if m.closes != 3 {
		t.Errorf("Close called %d times, want 3", m.closes)
	}
	if !strings.Contains(out.String(), "version 3 (dirty=false)") {
		t.Errorf("version output = %q", out.String())
	}
}

func TestMigrate_ErrorPropagates(t *testing.T) {
	m := &fakeMigrator{err: errors.New("locked")}
	c, _ := newTestCLI(m, nil)

	if err := execute(t, c, "migrate", "up"); err == nil {
		t.Fatal("expected error from migrate up")
	}
	if m.closes != 1 {
		t.Errorf("migrator not closed after failure")
	}
}

func TestBackfill_Defaults(t *testing.T) {
	store := &fakeStore{n: 7}
	c, out := newTestCLI(nil, store)

	if err := execute(t, c, "backfill-legacy"); err != nil {
		t.Fatalf("backfill-legacy: %v", err)
	}
	if !store.cutoff.Equal(defaultCutoff) || store.dryRun {
		t.Errorf("store called with cutoff=%v dryRun=%v", store.cutoff, store.dryRun)
	}
	if !strings.Contains(out.String(), "updated 7 user(s)") {
		t.Errorf("output = %q", out.String())
	}
}

func TestBackfill_DryRunAndCutoffFlags(t *testing.T) {
	store := &fakeStore{n: 2}
	c, out := newTestCLI(nil, store)

	if err := execute(t, c, "backfill-legacy", "--dry-run", "--cutoff=2025-12-31T12:00:00+02:00"); err != nil {
		t.Fatalf("backfill-legacy: %v", err)
	}
	want := time.Date(2025, 12, 31, 10, 0, 0, 0, time.UTC)
	if !store.cutoff.Equal(want) || !store.dryRun {
		t.Errorf("store called with cutoff=%v dryRun=%v", store.cutoff, store.dryRun)
	}
	if !strings.Contains(out.String(), "would update 2 user(s)") {
		t.Errorf("output = %q", out.String())
	}
}

func TestBackfill_InvalidCutoff(t *testing.T) {
	store := &fakeStore{}
	c, _ := newTestCLI(nil, store)

	err := execute(t, c, "backfill-legacy", "--cutoff=yesterday")
	if err == nil || !strings.Contains(err.Error(), "invalid --cutoff") {
		t.Fatalf("err = %v, want invalid --cutoff", err)
	}
	if !store.cutoff.IsZero() {
		t.Error("store should not be called with an invalid cutoff")
	}
}

func TestConfigErrorStopsCommand(t *testing.T) {
	c, _ := newTestCLI(&fakeMigrator{}, &fakeStore{})
	c.loadConfig = func() (*config.BackfillConfig, error) { return nil, errors.New("DATABASE_URL missing") }

	if err := execute(t, c, "migrate", "up"); err == nil {
		t.Error("migrate up: expected config error")
	}
	if err := execute(t, c, "backfill-legacy"); err == nil {
		t.Error("backfill-legacy: expected config error")
	}
}

func TestBackfill_UsersFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prelaunch.txt")
	if err := os.WriteFile(path, []byte("# exported 2026-02-06\nuser_1\n\n  user_2  \n"), 0o600); err != nil {
		t.Fatal(err)
	}
	store := &fakeStore{n: 0}
	c, out := newTestCLI(nil, store)

	if err := execute(t, c, "backfill-legacy", "--users-file="+path); err != nil {
		t.Fatalf("backfill-legacy: %v", err)
	}
	if len(store.seeded) != 2 || store.seeded[0] != "user_1" || store.seeded[1] != "user_2" {
		t.Errorf("seeded = %v", store.seeded)
	}
	if !strings.Contains(out.String(), "updated 2 listed user(s)") {
		t.Errorf("output = %q", out.String())
	}
}

func TestBackfill_MissingUsersFile(t *testing.T) {
	store := &fakeStore{}
	c, _ := newTestCLI(nil, store)

	err := execute(t, c, "backfill-legacy", "--users-file="+filepath.Join(t.TempDir(), "nope.txt"))
	if err == nil || !strings.Contains(err.Error(), "opening users file") {
		t.Fatalf("err = %v, want opening users file error", err)
	}
	if store.seeded != nil || !store.cutoff.IsZero() {
		t.Error("store should not be called without a readable users file")
	}
}
