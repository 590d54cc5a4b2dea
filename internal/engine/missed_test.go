package engine

import (
	"context"
	"testing"
	"time"

	"careline/internal/config"
	"careline/internal/db"
	"careline/internal/domain"
	"careline/internal/migrate"
)

// The sweep works from a snapshot read before any writes; a transition
// that lands between the read and the update must not fail the sweep.
func TestSweepSkipsConcurrentlySettledInstance(t *testing.T) {
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	eng := New(conn, config.Default("pat-1"), nil)
	now := time.Date(2025, 6, 2, 7, 0, 0, 0, time.UTC)
	eng.Now = func() time.Time { return now }
	ctx := context.Background()
	if _, err := eng.CreatePatient(ctx, "pat-1", "Test Patient", "tester"); err != nil {
		t.Fatalf("create patient: %v", err)
	}
	plan, err := eng.CreatePlan(ctx, PlanCreateOptions{
		PatientID: "pat-1", Timezone: "UTC", StartDate: "2025-06-01", ActorID: "tester",
	})
	if err != nil {
		t.Fatalf("create plan: %v", err)
	}
	if _, err := eng.AddItem(ctx, ItemOptions{
		PlanID:   plan.ID,
		Type:     domain.ItemMedication,
		Name:     "Heart pill",
		Priority: "required",
		Schedule: domain.Schedule{
			Frequency: "daily",
			Windows:   []domain.TimeWindow{{At: "08:00"}, {At: "20:00"}},
		},
		ActorID: "tester",
	}); err != nil {
		t.Fatalf("add item: %v", err)
	}
	snapshot, err := eng.EnsureDailyInstances(ctx, "pat-1", "2025-06-02")
	if err != nil {
		t.Fatal(err)
	}
	if len(snapshot) != 2 {
		t.Fatalf("expected 2 instances, got %d", len(snapshot))
	}

	// settle one instance after the snapshot was taken, then sweep past
	// the grace deadline with the stale snapshot
	if _, _, err := eng.CompleteInstance(ctx, CompleteOptions{
		InstanceID: snapshot[0].ID, ActorID: "tester",
	}); err != nil {
		t.Fatalf("complete: %v", err)
	}
	now = time.Date(2025, 6, 2, 21, 30, 0, 0, time.UTC)
	if _, err := eng.sweepMissed(ctx, snapshot); err != nil {
		t.Fatalf("sweep over stale snapshot: %v", err)
	}

	settled, err := eng.Repo.GetInstance(ctx, snapshot[0].ID)
	if err != nil {
		t.Fatal(err)
	}
	if settled.Status != domain.StatusCompleted {
		t.Fatalf("completed instance overwritten by sweep: %s", settled.Status)
	}
	overdue, err := eng.Repo.GetInstance(ctx, snapshot[1].ID)
	if err != nil {
		t.Fatal(err)
	}
	if overdue.Status != domain.StatusMissed {
		t.Fatalf("overdue instance not swept: %s", overdue.Status)
	}
}
