package schedule_test

import (
	"testing"
	"time"

	"careline/internal/domain"
	"careline/internal/schedule"
)

func day(s string) time.Time {
	t, err := time.Parse(schedule.DateLayout, s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestMatchesDate(t *testing.T) {
	daily := domain.Schedule{Frequency: "daily", Windows: []domain.TimeWindow{{At: "08:00"}}}
	if !schedule.MatchesDate(daily, day("2025-06-02")) {
		t.Fatalf("daily must match every date")
	}
	daily.SkipDates = []string{"2025-06-02"}
	if schedule.MatchesDate(daily, day("2025-06-02")) {
		t.Fatalf("skip date must win over frequency")
	}

	weekly := domain.Schedule{Frequency: "weekly", DaysOfWeek: []int{1, 3}, Windows: []domain.TimeWindow{{At: "09:00"}}}
	if !schedule.MatchesDate(weekly, day("2025-06-02")) { // Monday
		t.Fatalf("weekly must match a listed weekday")
	}
	if schedule.MatchesDate(weekly, day("2025-06-03")) { // Tuesday
		t.Fatalf("weekly must not match an unlisted weekday")
	}

	custom := domain.Schedule{Frequency: "custom", Windows: []domain.TimeWindow{{At: "09:00"}}}
	if !schedule.MatchesDate(custom, day("2025-06-03")) {
		t.Fatalf("custom without days matches every date")
	}
	custom.DaysOfWeek = []int{0}
	if schedule.MatchesDate(custom, day("2025-06-03")) {
		t.Fatalf("custom with days must honor them")
	}
}

func TestValidate(t *testing.T) {
	ok := domain.Schedule{Frequency: "daily", Windows: []domain.TimeWindow{{At: "08:00"}}}
	if err := schedule.Validate(ok); err != nil {
		t.Fatalf("valid schedule rejected: %v", err)
	}
	cases := []struct {
		name string
		s    domain.Schedule
	}{
		{"no windows", domain.Schedule{Frequency: "daily"}},
		{"window without time", domain.Schedule{Frequency: "daily", Windows: []domain.TimeWindow{{Label: "morning"}}}},
		{"mixed exact and band", domain.Schedule{Frequency: "daily", Windows: []domain.TimeWindow{{At: "08:00", Start: "07:00"}}}},
		{"band end before start", domain.Schedule{Frequency: "daily", Windows: []domain.TimeWindow{{Start: "10:00", End: "09:00"}}}},
		{"weekly without days", domain.Schedule{Frequency: "weekly", Windows: []domain.TimeWindow{{At: "08:00"}}}},
		{"duplicate day", domain.Schedule{Frequency: "weekly", DaysOfWeek: []int{2, 2}, Windows: []domain.TimeWindow{{At: "08:00"}}}},
		{"bad frequency", domain.Schedule{Frequency: "hourly", Windows: []domain.TimeWindow{{At: "08:00"}}}},
	}
	for _, c := range cases {
		if err := schedule.Validate(c.s); err == nil {
			t.Fatalf("%s: expected validation error", c.name)
		}
	}
}

func TestInstanceIDDeterministic(t *testing.T) {
	a := schedule.InstanceID("item-1", "win-1", "2025-06-02")
	b := schedule.InstanceID("item-1", "win-1", "2025-06-02")
	if a != b {
		t.Fatalf("same triple must yield same id: %s vs %s", a, b)
	}
	if a == schedule.InstanceID("item-1", "win-1", "2025-06-03") {
		t.Fatalf("different date must yield a different id")
	}
	if a == schedule.InstanceID("item-1", "win-2", "2025-06-02") {
		t.Fatalf("different window must yield a different id")
	}
}

func TestWindowIDStable(t *testing.T) {
	w := domain.TimeWindow{Label: "morning", At: "08:00"}
	if schedule.WindowID("item-1", w) != schedule.WindowID("item-1", w) {
		t.Fatalf("window id must be stable")
	}
	w.ID = "explicit"
	if schedule.WindowID("item-1", w) != "explicit" {
		t.Fatalf("explicit window id must be kept")
	}
}

func TestExpand(t *testing.T) {
	plan := domain.CarePlan{ID: "plan-1", PatientID: "pat-1", Timezone: "UTC", Version: 2}
	item := domain.CarePlanItem{
		ID: "item-1", PlanID: "plan-1", Type: domain.ItemMedication,
		Name: "Heart pill", Priority: "required", Active: true,
		Schedule: domain.Schedule{
			Frequency: "daily",
			Windows:   []domain.TimeWindow{{At: "20:00"}, {At: "08:00"}},
		},
	}
	bands := schedule.Bands{MorningStart: "05:00", AfternoonStart: "12:00", EveningStart: "17:00", NightStart: "21:00"}
	now := time.Date(2025, 6, 2, 7, 0, 0, 0, time.UTC)
	out := schedule.Expand(plan, item, day("2025-06-02"), bands, now)
	if len(out) != 2 {
		t.Fatalf("expected one instance per window, got %d", len(out))
	}
	// sorted by scheduled time, labels derived from the bands
	if out[0].ScheduledAt != "2025-06-02T08:00:00Z" || out[0].WindowLabel != "morning" {
		t.Fatalf("unexpected first instance: %+v", out[0])
	}
	if out[1].ScheduledAt != "2025-06-02T20:00:00Z" || out[1].WindowLabel != "evening" {
		t.Fatalf("unexpected second instance: %+v", out[1])
	}
	for _, in := range out {
		if in.Status != domain.StatusPending || in.GeneratedFromVersion != 2 {
			t.Fatalf("unexpected instance state: %+v", in)
		}
	}
	item.Active = false
	if got := schedule.Expand(plan, item, day("2025-06-02"), bands, now); got != nil {
		t.Fatalf("inactive item must expand to nothing, got %+v", got)
	}
}

func TestLabelBands(t *testing.T) {
	b := schedule.Bands{MorningStart: "05:00", AfternoonStart: "12:00", EveningStart: "17:00", NightStart: "21:00"}
	cases := map[string]string{
		"06:00": "morning",
		"13:30": "afternoon",
		"18:00": "evening",
		"22:00": "night",
		"02:00": "night",
	}
	for at, want := range cases {
		if got := schedule.Label(domain.TimeWindow{At: at}, b); got != want {
			t.Fatalf("label for %s: got %s, want %s", at, got, want)
		}
	}
	if got := schedule.Label(domain.TimeWindow{Label: "evening", At: "06:00"}, b); got != "evening" {
		t.Fatalf("explicit label must win, got %s", got)
	}
}
