package insights_test

import (
	"testing"

	"careline/internal/domain"
	"careline/internal/insights"
)

func inst(item, name, date, window, priority, status string) domain.DailyInstance {
	return domain.DailyInstance{
		ID:          item + "|" + window + "|" + date,
		PatientID:   "pat-1",
		ItemID:      item,
		ItemName:    name,
		ItemType:    domain.ItemMedication,
		Date:        date,
		WindowLabel: window,
		Priority:    priority,
		Status:      status,
	}
}

func TestAdherenceCountsSkipsAsAdherent(t *testing.T) {
	instances := []domain.DailyInstance{
		inst("med", "Heart pill", "2025-06-01", "morning", "required", domain.StatusCompleted),
		inst("med", "Heart pill", "2025-06-02", "morning", "required", domain.StatusCompleted),
		inst("med", "Heart pill", "2025-06-03", "morning", "required", domain.StatusSkipped),
		inst("med", "Heart pill", "2025-06-04", "morning", "required", domain.StatusMissed),
	}
	stats := insights.StatsByItem(instances)
	if len(stats) != 1 {
		t.Fatalf("expected one item, got %d", len(stats))
	}
	s := stats[0]
	if s.Total != 4 || s.Completed != 2 || s.Skipped != 1 || s.Missed != 1 {
		t.Fatalf("unexpected tallies: %+v", s)
	}
	if s.AdherenceRate != 75 {
		t.Fatalf("adherence %v, want 75 (skips count)", s.AdherenceRate)
	}
	if s.CompletionRate != 50 {
		t.Fatalf("completion %v, want 50", s.CompletionRate)
	}
	overall := insights.Overall(instances)
	if overall.AdherenceRate < 0 || overall.AdherenceRate > 100 {
		t.Fatalf("adherence out of bounds: %v", overall.AdherenceRate)
	}
}

func TestStatsByItemWeakestFirst(t *testing.T) {
	instances := []domain.DailyInstance{
		inst("good", "Good", "2025-06-01", "morning", "required", domain.StatusCompleted),
		inst("bad", "Bad", "2025-06-01", "morning", "required", domain.StatusMissed),
	}
	stats := insights.StatsByItem(instances)
	if len(stats) != 2 || stats[0].ItemID != "bad" {
		t.Fatalf("expected weakest item first, got %+v", stats)
	}
}

func TestStatsByWindowDayOrder(t *testing.T) {
	instances := []domain.DailyInstance{
		inst("med", "Pill", "2025-06-01", "evening", "required", domain.StatusCompleted),
		inst("med", "Pill", "2025-06-01", "morning", "required", domain.StatusMissed),
		inst("med", "Pill", "2025-06-01", "night", "required", domain.StatusSkipped),
	}
	windows := insights.StatsByWindow(instances)
	if len(windows) != 3 {
		t.Fatalf("expected 3 windows, got %d", len(windows))
	}
	want := []string{"morning", "evening", "night"}
	for i, w := range windows {
		if w.Window != want[i] {
			t.Fatalf("window %d is %s, want %s", i, w.Window, want[i])
		}
	}
}

func TestStreakBrokenByMiss(t *testing.T) {
	// three completed days then a miss: the run is over but remembered
	instances := []domain.DailyInstance{
		inst("med", "Pill", "2025-06-01", "morning", "required", domain.StatusCompleted),
		inst("med", "Pill", "2025-06-02", "morning", "required", domain.StatusCompleted),
		inst("med", "Pill", "2025-06-03", "morning", "required", domain.StatusCompleted),
		inst("med", "Pill", "2025-06-04", "morning", "required", domain.StatusMissed),
	}
	streaks := insights.Streaks(instances, "2025-06-05")
	if len(streaks) != 1 {
		t.Fatalf("expected one streak row, got %d", len(streaks))
	}
	s := streaks[0]
	if s.Current != 0 {
		t.Fatalf("current %d, want 0 after a miss", s.Current)
	}
	if s.Longest != 3 {
		t.Fatalf("longest %d, want 3", s.Longest)
	}
}

func TestStreakActiveThroughYesterday(t *testing.T) {
	instances := []domain.DailyInstance{
		inst("med", "Pill", "2025-06-02", "morning", "required", domain.StatusCompleted),
		inst("med", "Pill", "2025-06-03", "morning", "required", domain.StatusCompleted),
		inst("med", "Pill", "2025-06-04", "morning", "required", domain.StatusCompleted),
	}
	s := insights.Streaks(instances, "2025-06-05")[0]
	if s.Current != 3 || s.Longest != 3 {
		t.Fatalf("expected live 3-day streak, got %+v", s)
	}
	// two days later the run has lapsed
	s = insights.Streaks(instances, "2025-06-07")[0]
	if s.Current != 0 || s.Longest != 3 {
		t.Fatalf("expected lapsed streak, got %+v", s)
	}
}

func TestStreakIgnoresOpenDays(t *testing.T) {
	// today's pending instance neither extends nor breaks the run
	instances := []domain.DailyInstance{
		inst("med", "Pill", "2025-06-03", "morning", "required", domain.StatusCompleted),
		inst("med", "Pill", "2025-06-04", "morning", "required", domain.StatusCompleted),
		inst("med", "Pill", "2025-06-05", "morning", "required", domain.StatusPending),
	}
	s := insights.Streaks(instances, "2025-06-05")[0]
	if s.Current != 2 || s.LastDay != "2025-06-04" {
		t.Fatalf("expected open day ignored, got %+v", s)
	}
}

func TestStreakRequiresEveryInstance(t *testing.T) {
	// a day with one of two windows completed does not qualify
	instances := []domain.DailyInstance{
		inst("med", "Pill", "2025-06-04", "morning", "required", domain.StatusCompleted),
		inst("med", "Pill", "2025-06-04", "evening", "required", domain.StatusSkipped),
	}
	s := insights.Streaks(instances, "2025-06-05")[0]
	if s.Current != 0 || s.Longest != 0 {
		t.Fatalf("partial day must not qualify, got %+v", s)
	}
}

func TestBurdenByDay(t *testing.T) {
	instances := []domain.DailyInstance{
		inst("a", "A", "2025-06-01", "morning", "required", domain.StatusPending),
		inst("b", "B", "2025-06-01", "morning", "required", domain.StatusCompleted),
		inst("c", "C", "2025-06-01", "evening", "optional", domain.StatusMissed),
		inst("a", "A", "2025-06-02", "morning", "required", domain.StatusPending),
	}
	days := insights.BurdenByDay(instances, insights.DefaultBurdenWeights())
	if len(days) != 2 {
		t.Fatalf("expected 2 days, got %d", len(days))
	}
	first := days[0]
	if first.Date != "2025-06-01" || first.Count != 3 || first.Load != 7 {
		t.Fatalf("unexpected day burden: %+v", first)
	}
	want := float64(7) / 30 * 100
	if first.Score != want {
		t.Fatalf("score %v, want %v", first.Score, want)
	}
	peak := insights.PeakBurden(days)
	if peak.Date != "2025-06-01" {
		t.Fatalf("peak should be the heaviest day, got %+v", peak)
	}
}

func TestBurdenScoreClipped(t *testing.T) {
	var instances []domain.DailyInstance
	for i := 0; i < 15; i++ {
		in := inst("a", "A", "2025-06-01", "morning", "required", domain.StatusPending)
		in.ID = in.ID + string(rune('a'+i))
		instances = append(instances, in)
	}
	days := insights.BurdenByDay(instances, insights.DefaultBurdenWeights())
	if days[0].Load != 45 {
		t.Fatalf("load %d, want 45", days[0].Load)
	}
	if days[0].Score != 100 {
		t.Fatalf("score must clip to 100, got %v", days[0].Score)
	}
}

func TestEvaluatePriorityOrder(t *testing.T) {
	c := insights.Context{
		Streaks: []insights.ItemStreak{{ItemID: "med", ItemName: "Pill", Current: 4, Longest: 4}},
		Stats: []insights.ItemStats{
			{ItemID: "stretch", ItemName: "Stretching", Priority: "optional", Total: 5, Skipped: 3},
		},
	}
	out := insights.Evaluate(c)
	if len(out) < 2 {
		t.Fatalf("expected streak and skip insights, got %+v", out)
	}
	if out[0].Type != insights.InsightReinforcement {
		t.Fatalf("reinforcement must rank first, got %s", out[0].Type)
	}
	for i := 1; i < len(out); i++ {
		if out[i].Priority < out[i-1].Priority {
			t.Fatalf("insights out of priority order: %+v", out)
		}
	}
	primary := insights.Primary(out)
	if primary == nil || primary.ItemID != "med" {
		t.Fatalf("unexpected primary insight: %+v", primary)
	}
	if insights.Primary(nil) != nil {
		t.Fatalf("empty evaluation must yield no primary")
	}
}

func TestEvaluateConfidenceFloor(t *testing.T) {
	for _, in := range insights.Evaluate(insights.Context{}) {
		if in.Confidence < 0.7 {
			t.Fatalf("surfaced insight below confidence floor: %+v", in)
		}
	}
}
