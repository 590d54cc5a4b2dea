// Package schedule expands a care plan's recurrence rules into the
// concrete instances a single day requires.
package schedule

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"careline/internal/domain"
)

const DateLayout = "2006-01-02"

// instance identity namespace; ids must be stable across regenerations.
var instanceNS = uuid.NewSHA1(uuid.NameSpaceOID, []byte("careline.daily-instance"))
var windowNS = uuid.NewSHA1(uuid.NameSpaceOID, []byte("careline.time-window"))

// InstanceID derives the deterministic id for (itemID, windowID, date).
// Repeated generation for the same triple always yields the same id.
func InstanceID(itemID, windowID, date string) string {
	return uuid.NewSHA1(instanceNS, []byte(itemID+"|"+windowID+"|"+date)).String()
}

// WindowID fills in a stable id for a window declared without one.
func WindowID(itemID string, w domain.TimeWindow) string {
	if w.ID != "" {
		return w.ID
	}
	key := fmt.Sprintf("%s|%s|%s|%s|%s", itemID, w.Label, w.At, w.Start, w.End)
	return uuid.NewSHA1(windowNS, []byte(key)).String()
}

// Bands are the day-part boundaries used to label windows.
type Bands struct {
	MorningStart   string
	AfternoonStart string
	EveningStart   string
	NightStart     string
}

// MatchesDate reports whether the schedule is active on the given date.
// Skip dates always win; weekly and custom schedules honor days-of-week.
func MatchesDate(s domain.Schedule, date time.Time) bool {
	day := date.Format(DateLayout)
	for _, skip := range s.SkipDates {
		if skip == day {
			return false
		}
	}
	switch s.Frequency {
	case "daily":
		return true
	case "weekly", "custom":
		if len(s.DaysOfWeek) == 0 {
			return s.Frequency == "custom"
		}
		wd := int(date.Weekday())
		for _, d := range s.DaysOfWeek {
			if d == wd {
				return true
			}
		}
		return false
	}
	return false
}

// ClockTime returns the concrete HH:MM an instance in this window is due.
// Exact windows use At; band windows are due at the start of the band.
func ClockTime(w domain.TimeWindow) string {
	if w.At != "" {
		return w.At
	}
	if w.Start != "" {
		return w.Start
	}
	return "09:00"
}

// Label resolves the coarse day-part label for a window, deriving it from
// the band boundaries when the window does not carry one.
func Label(w domain.TimeWindow, b Bands) string {
	if w.Label != "" && w.Label != "custom" {
		return w.Label
	}
	t := ClockTime(w)
	switch {
	case t >= b.NightStart || t < b.MorningStart:
		return "night"
	case t >= b.EveningStart:
		return "evening"
	case t >= b.AfternoonStart:
		return "afternoon"
	default:
		return "morning"
	}
}

// ScheduledAt anchors a window's clock time on a calendar date in the
// plan's timezone.
func ScheduledAt(date time.Time, w domain.TimeWindow, loc *time.Location) time.Time {
	clock := ClockTime(w)
	var hh, mm int
	fmt.Sscanf(clock, "%d:%d", &hh, &mm)
	return time.Date(date.Year(), date.Month(), date.Day(), hh, mm, 0, 0, loc)
}

// Expand produces the day's instances for one item, one per time window.
// Returns nil when the schedule does not match the date.
func Expand(plan domain.CarePlan, item domain.CarePlanItem, date time.Time, b Bands, now time.Time) []domain.DailyInstance {
	if !item.Active || !MatchesDate(item.Schedule, date) {
		return nil
	}
	loc, err := time.LoadLocation(plan.Timezone)
	if err != nil {
		loc = time.UTC
	}
	day := date.Format(DateLayout)
	nowStr := now.UTC().Format(time.RFC3339)
	instances := make([]domain.DailyInstance, 0, len(item.Schedule.Windows))
	for _, w := range item.Schedule.Windows {
		windowID := WindowID(item.ID, w)
		instances = append(instances, domain.DailyInstance{
			ID:                   InstanceID(item.ID, windowID, day),
			PatientID:            plan.PatientID,
			PlanID:               plan.ID,
			ItemID:               item.ID,
			WindowID:             windowID,
			Date:                 day,
			WindowLabel:          Label(w, b),
			ScheduledAt:          ScheduledAt(date, w, loc).Format(time.RFC3339),
			ItemName:             item.Name,
			ItemType:             item.Type,
			ItemEmoji:            item.Emoji,
			Priority:             item.Priority,
			Instructions:         item.Instructions,
			Dosage:               item.Dosage,
			Status:               domain.StatusPending,
			GeneratedFromVersion: plan.Version,
			CreatedAt:            nowStr,
			UpdatedAt:            nowStr,
		})
	}
	sort.Slice(instances, func(i, j int) bool { return instances[i].ScheduledAt < instances[j].ScheduledAt })
	return instances
}

// InRange reports whether day falls within the plan's start/end dates.
func InRange(plan domain.CarePlan, day string) bool {
	if plan.StartDate != "" && day < plan.StartDate {
		return false
	}
	if plan.EndDate != "" && day > plan.EndDate {
		return false
	}
	return true
}
