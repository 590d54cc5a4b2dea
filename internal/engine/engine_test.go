package engine_test

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
	"careline/internal/schedule"
)

type testEnv struct {
	Engine *engine.Engine
	Ctx    context.Context
	PlanID string
	ItemID string
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default("pat-1")
	eng := engine.New(conn, cfg, nil)
	// Monday morning, before the first window of the day
	eng.Now = func() time.Time { return time.Date(2025, 6, 2, 7, 0, 0, 0, time.UTC) }
	ctx := context.Background()
	if _, err := eng.CreatePatient(ctx, "pat-1", "Test Patient", "tester"); err != nil {
		t.Fatalf("create patient: %v", err)
	}
	plan, err := eng.CreatePlan(ctx, engine.PlanCreateOptions{
		PatientID: "pat-1", Timezone: "UTC", StartDate: "2025-06-01", ActorID: "tester",
	})
	if err != nil {
		t.Fatalf("create plan: %v", err)
	}
	item, err := eng.AddItem(ctx, engine.ItemOptions{
		PlanID:   plan.ID,
		Type:     domain.ItemMedication,
		Name:     "Heart pill",
		Priority: "required",
		Schedule: domain.Schedule{
			Frequency: "daily",
			Windows:   []domain.TimeWindow{{At: "08:00"}, {At: "20:00"}},
		},
		ActorID: "tester",
	})
	if err != nil {
		t.Fatalf("add item: %v", err)
	}
	return testEnv{Engine: eng, Ctx: ctx, PlanID: plan.ID, ItemID: item.ID}
}

func TestGenerationIdempotent(t *testing.T) {
	env := newTestEnv(t)
	first, err := env.Engine.EnsureDailyInstances(env.Ctx, "pat-1", "2025-06-02")
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if len(first) != 2 {
		t.Fatalf("expected 2 instances, got %d", len(first))
	}
	second, err := env.Engine.EnsureDailyInstances(env.Ctx, "pat-1", "2025-06-02")
	if err != nil {
		t.Fatalf("ensure again: %v", err)
	}
	if len(second) != 2 {
		t.Fatalf("expected 2 instances after repeat, got %d", len(second))
	}
	ids := map[string]bool{}
	for _, in := range first {
		ids[in.ID] = true
	}
	for _, in := range second {
		if !ids[in.ID] {
			t.Fatalf("regeneration changed instance id %s", in.ID)
		}
		if in.Status != domain.StatusPending {
			t.Fatalf("expected pending, got %s", in.Status)
		}
	}
}

func TestRegenerationPreservesTerminal(t *testing.T) {
	env := newTestEnv(t)
	instances, err := env.Engine.EnsureDailyInstances(env.Ctx, "pat-1", "2025-06-02")
	if err != nil {
		t.Fatal(err)
	}
	done, _, err := env.Engine.CompleteInstance(env.Ctx, engine.CompleteOptions{
		InstanceID: instances[0].ID, ActorID: "tester",
	})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	// adding an item bumps the plan version and forces regeneration
	if _, err := env.Engine.AddItem(env.Ctx, engine.ItemOptions{
		PlanID:   env.PlanID,
		Type:     domain.ItemHydration,
		Name:     "Water",
		Priority: "optional",
		Schedule: domain.Schedule{Frequency: "daily", Windows: []domain.TimeWindow{{At: "12:00"}}},
		ActorID:  "tester",
	}); err != nil {
		t.Fatalf("add second item: %v", err)
	}
	regen, err := env.Engine.EnsureDailyInstances(env.Ctx, "pat-1", "2025-06-02")
	if err != nil {
		t.Fatalf("regenerate: %v", err)
	}
	if len(regen) != 3 {
		t.Fatalf("expected 3 instances after regeneration, got %d", len(regen))
	}
	plan, err := env.Engine.Repo.GetPlan(env.Ctx, env.PlanID)
	if err != nil {
		t.Fatal(err)
	}
	for _, in := range regen {
		if in.ID == done.ID {
			if in.Status != domain.StatusCompleted {
				t.Fatalf("terminal instance lost its status: %s", in.Status)
			}
			if in.GeneratedFromVersion == plan.Version {
				t.Fatalf("terminal instance should keep its generating version")
			}
			continue
		}
		if in.GeneratedFromVersion != plan.Version {
			t.Fatalf("pending instance not refreshed to version %d", plan.Version)
		}
	}
}

func TestRegenerationAfterAllTerminal(t *testing.T) {
	env := newTestEnv(t)
	instances, err := env.Engine.EnsureDailyInstances(env.Ctx, "pat-1", "2025-06-02")
	if err != nil {
		t.Fatal(err)
	}
	for _, in := range instances {
		if _, _, err := env.Engine.CompleteInstance(env.Ctx, engine.CompleteOptions{
			InstanceID: in.ID, ActorID: "tester",
		}); err != nil {
			t.Fatalf("complete %s: %v", in.ID, err)
		}
	}
	// a version advance must still add instances for the new item even
	// though every stored instance on the day is terminal
	if _, err := env.Engine.AddItem(env.Ctx, engine.ItemOptions{
		PlanID:   env.PlanID,
		Type:     domain.ItemHydration,
		Name:     "Water",
		Priority: "optional",
		Schedule: domain.Schedule{Frequency: "daily", Windows: []domain.TimeWindow{{At: "12:00"}}},
		ActorID:  "tester",
	}); err != nil {
		t.Fatalf("add item: %v", err)
	}
	regen, err := env.Engine.EnsureDailyInstances(env.Ctx, "pat-1", "2025-06-02")
	if err != nil {
		t.Fatalf("regenerate: %v", err)
	}
	if len(regen) != 3 {
		t.Fatalf("expected 3 instances after version advance on a settled day, got %d", len(regen))
	}
	var completed, pending int
	for _, in := range regen {
		switch in.Status {
		case domain.StatusCompleted:
			completed++
		case domain.StatusPending:
			pending++
		}
	}
	if completed != 2 || pending != 1 {
		t.Fatalf("expected 2 completed + 1 pending, got %d completed %d pending", completed, pending)
	}
}

func TestCompleteTransition(t *testing.T) {
	env := newTestEnv(t)
	instances, err := env.Engine.EnsureDailyInstances(env.Ctx, "pat-1", "2025-06-02")
	if err != nil {
		t.Fatal(err)
	}
	in, log, err := env.Engine.CompleteInstance(env.Ctx, engine.CompleteOptions{
		InstanceID: instances[0].ID,
		Data:       domain.LogData{Medication: &domain.MedicationData{DoseTaken: "10mg"}},
		Notes:      "with breakfast",
		ActorID:    "tester",
	})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if in.Status != domain.StatusCompleted {
		t.Fatalf("expected completed, got %s", in.Status)
	}
	if in.LogID == nil || *in.LogID != log.ID {
		t.Fatalf("instance not linked to its log entry")
	}
	if log.Outcome != domain.StatusCompleted || log.Notes != "with breakfast" {
		t.Fatalf("unexpected log entry: %+v", log)
	}
	// terminal statuses never change again
	_, _, err = env.Engine.CompleteInstance(env.Ctx, engine.CompleteOptions{InstanceID: in.ID, ActorID: "tester"})
	var ite engine.InvalidTransitionError
	if !errors.As(err, &ite) {
		t.Fatalf("expected InvalidTransitionError, got %v", err)
	}
	if ite.From != domain.StatusCompleted {
		t.Fatalf("unexpected transition error: %+v", ite)
	}
}

func TestSkipWritesLog(t *testing.T) {
	env := newTestEnv(t)
	instances, err := env.Engine.EnsureDailyInstances(env.Ctx, "pat-1", "2025-06-02")
	if err != nil {
		t.Fatal(err)
	}
	if err := env.Engine.SkipInstance(env.Ctx, instances[0].ID, "feeling fine", "tester"); err != nil {
		t.Fatalf("skip: %v", err)
	}
	logs, err := env.Engine.Repo.ListLogsForInstance(env.Ctx, instances[0].ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(logs) != 1 || logs[0].Outcome != domain.StatusSkipped {
		t.Fatalf("expected one skipped log entry, got %+v", logs)
	}
}

func TestPayloadKindMismatch(t *testing.T) {
	env := newTestEnv(t)
	instances, err := env.Engine.EnsureDailyInstances(env.Ctx, "pat-1", "2025-06-02")
	if err != nil {
		t.Fatal(err)
	}
	_, _, err = env.Engine.CompleteInstance(env.Ctx, engine.CompleteOptions{
		InstanceID: instances[0].ID,
		Data:       domain.LogData{Vitals: &domain.VitalsData{HeartRate: 70}},
		ActorID:    "tester",
	})
	var ve schedule.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected validation error for mismatched payload, got %v", err)
	}
	// the failed attempt must leave the instance pending
	in, err := env.Engine.Repo.GetInstance(env.Ctx, instances[0].ID)
	if err != nil {
		t.Fatal(err)
	}
	if in.Status != domain.StatusPending {
		t.Fatalf("instance should stay pending, got %s", in.Status)
	}
}

func TestMissedSweepAfterGrace(t *testing.T) {
	env := newTestEnv(t)
	instances, err := env.Engine.EnsureDailyInstances(env.Ctx, "pat-1", "2025-06-02")
	if err != nil {
		t.Fatal(err)
	}
	// 21:30 is past both windows plus the 60 minute grace
	env.Engine.Now = func() time.Time { return time.Date(2025, 6, 2, 21, 30, 0, 0, time.UTC) }
	swept, err := env.Engine.ListInstances(env.Ctx, "pat-1", "2025-06-02")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	for _, in := range swept {
		if in.Status != domain.StatusMissed {
			t.Fatalf("expected missed, got %s", in.Status)
		}
	}
	// missed records the absence of an action: no log entry
	logs, err := env.Engine.Repo.ListLogsForInstance(env.Ctx, instances[0].ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(logs) != 0 {
		t.Fatalf("missed sweep must not write log entries, got %d", len(logs))
	}
	_, _, err = env.Engine.CompleteInstance(env.Ctx, engine.CompleteOptions{InstanceID: instances[0].ID, ActorID: "tester"})
	var ite engine.InvalidTransitionError
	if !errors.As(err, &ite) {
		t.Fatalf("expected InvalidTransitionError on missed instance, got %v", err)
	}
}

func TestMarkMissedBeforeGrace(t *testing.T) {
	env := newTestEnv(t)
	instances, err := env.Engine.EnsureDailyInstances(env.Ctx, "pat-1", "2025-06-02")
	if err != nil {
		t.Fatal(err)
	}
	// now is 07:00; the 08:00 window is not even due yet
	err = env.Engine.MarkMissed(env.Ctx, instances[0].ID)
	var ite engine.InvalidTransitionError
	if !errors.As(err, &ite) {
		t.Fatalf("expected InvalidTransitionError before grace, got %v", err)
	}
}

func TestCorrectionTerminalOnly(t *testing.T) {
	env := newTestEnv(t)
	instances, err := env.Engine.EnsureDailyInstances(env.Ctx, "pat-1", "2025-06-02")
	if err != nil {
		t.Fatal(err)
	}
	_, err = env.Engine.AppendCorrection(env.Ctx, instances[0].ID, "wrong note", "tester", domain.LogData{})
	var ite engine.InvalidTransitionError
	if !errors.As(err, &ite) {
		t.Fatalf("expected correction rejected on pending instance, got %v", err)
	}
	in, _, err := env.Engine.CompleteInstance(env.Ctx, engine.CompleteOptions{InstanceID: instances[0].ID, ActorID: "tester"})
	if err != nil {
		t.Fatal(err)
	}
	correction, err := env.Engine.AppendCorrection(env.Ctx, in.ID, "actually took it at 08:15", "tester", domain.LogData{})
	if err != nil {
		t.Fatalf("correction: %v", err)
	}
	if correction.Outcome != domain.StatusCompleted {
		t.Fatalf("correction must carry the instance outcome, got %s", correction.Outcome)
	}
	logs, err := env.Engine.Repo.ListLogsForInstance(env.Ctx, in.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(logs) != 2 {
		t.Fatalf("expected original plus correction, got %d entries", len(logs))
	}
}

func TestPlanStatusTransitions(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.SetPlanStatus(env.Ctx, env.PlanID, "paused", "tester"); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if _, err := env.Engine.SetPlanStatus(env.Ctx, env.PlanID, "active", "tester"); err != nil {
		t.Fatalf("resume: %v", err)
	}
	if _, err := env.Engine.SetPlanStatus(env.Ctx, env.PlanID, "archived", "tester"); err != nil {
		t.Fatalf("archive: %v", err)
	}
	if _, err := env.Engine.SetPlanStatus(env.Ctx, env.PlanID, "active", "tester"); err == nil {
		t.Fatalf("expected archived plan to reject reactivation")
	}
}

func TestInactiveItemStopsGenerating(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.EnsureDailyInstances(env.Ctx, "pat-1", "2025-06-02"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.SetItemActive(env.Ctx, env.ItemID, false, "tester"); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	regen, err := env.Engine.EnsureDailyInstances(env.Ctx, "pat-1", "2025-06-02")
	if err != nil {
		t.Fatal(err)
	}
	if len(regen) != 0 {
		t.Fatalf("expected no instances for inactive item, got %d", len(regen))
	}
}

func TestWeeklySchedule(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.AddItem(env.Ctx, engine.ItemOptions{
		PlanID: env.PlanID,
		Type:   domain.ItemVitals,
		Name:   "Weigh-in",
		Schedule: domain.Schedule{
			Frequency:  "weekly",
			DaysOfWeek: []int{1}, // Monday
			Windows:    []domain.TimeWindow{{At: "09:00"}},
		},
		ActorID: "tester",
	}); err != nil {
		t.Fatalf("add weekly item: %v", err)
	}
	monday, err := env.Engine.EnsureDailyInstances(env.Ctx, "pat-1", "2025-06-02")
	if err != nil {
		t.Fatal(err)
	}
	if len(monday) != 3 {
		t.Fatalf("expected daily plus weekly on Monday, got %d", len(monday))
	}
	tuesday, err := env.Engine.EnsureDailyInstances(env.Ctx, "pat-1", "2025-06-03")
	if err != nil {
		t.Fatal(err)
	}
	if len(tuesday) != 2 {
		t.Fatalf("expected daily only on Tuesday, got %d", len(tuesday))
	}
}

func TestPurgeRemovesTerminal(t *testing.T) {
	env := newTestEnv(t)
	instances, err := env.Engine.EnsureDailyInstances(env.Ctx, "pat-1", "2025-06-02")
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := env.Engine.CompleteInstance(env.Ctx, engine.CompleteOptions{InstanceID: instances[0].ID, ActorID: "tester"}); err != nil {
		t.Fatal(err)
	}
	removed, err := env.Engine.PurgeInstances(env.Ctx, "pat-1", "2025-06-01", "2025-06-30", "tester")
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if removed != 2 {
		t.Fatalf("expected 2 removed, got %d", removed)
	}
	left, err := env.Engine.Repo.ListInstancesByDate(env.Ctx, "pat-1", "2025-06-02")
	if err != nil {
		t.Fatal(err)
	}
	if len(left) != 0 {
		t.Fatalf("expected empty day after purge, got %d", len(left))
	}
}

func TestGenerationEventLogged(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.EnsureDailyInstances(env.Ctx, "pat-1", "2025-06-02"); err != nil {
		t.Fatal(err)
	}
	var count int
	row := env.Engine.DB.QueryRowContext(env.Ctx, `SELECT count(*) FROM events WHERE type='instances.generated'`)
	if err := row.Scan(&count); err != nil {
		t.Fatalf("query events: %v", err)
	}
	if count == 0 {
		t.Fatalf("expected a generation event row")
	}
}
