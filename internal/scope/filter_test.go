package scope_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"careline/internal/config"
	"careline/internal/db"
	"careline/internal/domain"
	"careline/internal/engine"
	"careline/internal/migrate"
	"careline/internal/repo"
	"careline/internal/scope"
)

func newFilter(t *testing.T) (scope.Filter, context.Context) {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	eng := engine.New(conn, config.Default("pat-1"), nil)
	ctx := context.Background()
	if _, err := eng.CreatePatient(ctx, "pat-1", "Test Patient", "tester"); err != nil {
		t.Fatalf("create patient: %v", err)
	}
	f := scope.New(eng.Repo)
	f.Now = func() time.Time { return time.Date(2025, 6, 2, 7, 0, 0, 0, time.UTC) }
	return f, ctx
}

func instanceFor(item, date string) domain.DailyInstance {
	return domain.DailyInstance{ID: item + "|" + date, PatientID: "pat-1", ItemID: item, Date: date}
}

func TestSuppressApplyRestore(t *testing.T) {
	f, ctx := newFilter(t)
	if _, err := f.Suppress(ctx, "pat-1", "item-a", "2025-06-02", "hospital visit"); err != nil {
		t.Fatalf("suppress: %v", err)
	}
	day := []domain.DailyInstance{
		instanceFor("item-a", "2025-06-02"),
		instanceFor("item-b", "2025-06-02"),
	}
	visible, err := f.Apply(ctx, "pat-1", "2025-06-02", day)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if len(visible) != 1 || visible[0].ItemID != "item-b" {
		t.Fatalf("expected item-a hidden, got %+v", visible)
	}
	// other days stay untouched
	other, err := f.Apply(ctx, "pat-1", "2025-06-03", []domain.DailyInstance{instanceFor("item-a", "2025-06-03")})
	if err != nil {
		t.Fatal(err)
	}
	if len(other) != 1 {
		t.Fatalf("suppression must be day-scoped, got %+v", other)
	}
	if err := f.Restore(ctx, "pat-1", "item-a", "2025-06-02"); err != nil {
		t.Fatalf("restore: %v", err)
	}
	restored, err := f.Apply(ctx, "pat-1", "2025-06-02", day)
	if err != nil {
		t.Fatal(err)
	}
	if len(restored) != 2 {
		t.Fatalf("expected both items after restore, got %+v", restored)
	}
}

func TestApplyLeavesInputIntact(t *testing.T) {
	f, ctx := newFilter(t)
	if _, err := f.Suppress(ctx, "pat-1", "item-a", "2025-06-02", "hospital visit"); err != nil {
		t.Fatal(err)
	}
	day := []domain.DailyInstance{
		instanceFor("item-a", "2025-06-02"),
		instanceFor("item-b", "2025-06-02"),
	}
	if _, err := f.Apply(ctx, "pat-1", "2025-06-02", day); err != nil {
		t.Fatal(err)
	}
	if day[0].ItemID != "item-a" || day[1].ItemID != "item-b" {
		t.Fatalf("caller's slice mutated by Apply: %+v", day)
	}
}

func TestSuppressTwiceUpdatesReason(t *testing.T) {
	f, ctx := newFilter(t)
	if _, err := f.Suppress(ctx, "pat-1", "item-a", "2025-06-02", "first"); err != nil {
		t.Fatal(err)
	}
	if _, err := f.Suppress(ctx, "pat-1", "item-a", "2025-06-02", "second"); err != nil {
		t.Fatalf("re-suppress: %v", err)
	}
	rules, err := f.Rules(ctx, "pat-1", "2025-06-02")
	if err != nil {
		t.Fatal(err)
	}
	if len(rules) != 1 || rules[0].Reason != "second" {
		t.Fatalf("expected one rule with updated reason, got %+v", rules)
	}
}

func TestRestoreMissingRule(t *testing.T) {
	f, ctx := newFilter(t)
	err := f.Restore(ctx, "pat-1", "item-a", "2025-06-02")
	if !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
