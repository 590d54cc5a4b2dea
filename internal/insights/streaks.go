package insights

import (
	"sort"
	"time"

	"careline/internal/domain"
	"careline/internal/schedule"
)

// ItemStreak tracks consecutive fully-completed days for one item. A day
// counts only when every instance of the item that day was completed;
// days still holding pending instances are left out of the reckoning.
type ItemStreak struct {
	ItemID   string `json:"item_id"`
	ItemName string `json:"item_name"`
	Current  int    `json:"current"`
	Longest  int    `json:"longest"`
	LastDay  string `json:"last_day,omitempty" format:"date"`
}

type dayOutcome struct {
	date      string
	qualified bool
}

func outcomes(instances []domain.DailyInstance) []dayOutcome {
	type tally struct{ total, completed, pending int }
	byDay := make(map[string]*tally)
	for _, in := range instances {
		t, ok := byDay[in.Date]
		if !ok {
			t = &tally{}
			byDay[in.Date] = t
		}
		t.total++
		switch in.Status {
		case domain.StatusCompleted:
			t.completed++
		case domain.StatusPending:
			t.pending++
		}
	}
	out := make([]dayOutcome, 0, len(byDay))
	for date, t := range byDay {
		if t.pending > 0 {
			// the day is still open; it neither extends nor breaks
			continue
		}
		out = append(out, dayOutcome{date: date, qualified: t.completed == t.total})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].date < out[j].date })
	return out
}

// streak computes current and longest runs over settled days. The
// current run survives only while its last day is today or yesterday.
func streak(days []dayOutcome, today string) (current, longest int, lastDay string) {
	run := 0
	for _, d := range days {
		if d.qualified {
			run++
			if run > longest {
				longest = run
			}
			lastDay = d.date
		} else {
			run = 0
		}
	}
	if len(days) == 0 || !days[len(days)-1].qualified {
		return 0, longest, lastDay
	}
	if !recentDay(lastDay, today) {
		return 0, longest, lastDay
	}
	return run, longest, lastDay
}

func recentDay(day, today string) bool {
	d, err1 := time.Parse(schedule.DateLayout, day)
	t, err2 := time.Parse(schedule.DateLayout, today)
	if err1 != nil || err2 != nil {
		return false
	}
	diff := t.Sub(d).Hours() / 24
	return diff >= 0 && diff <= 1
}

// Streaks computes per-item streaks from a range of instances.
func Streaks(instances []domain.DailyInstance, today string) []ItemStreak {
	byItem := make(map[string][]domain.DailyInstance)
	names := make(map[string]string)
	var order []string
	for _, in := range instances {
		if _, ok := byItem[in.ItemID]; !ok {
			order = append(order, in.ItemID)
			names[in.ItemID] = in.ItemName
		}
		byItem[in.ItemID] = append(byItem[in.ItemID], in)
	}
	out := make([]ItemStreak, 0, len(order))
	for _, id := range order {
		cur, longest, last := streak(outcomes(byItem[id]), today)
		out = append(out, ItemStreak{ItemID: id, ItemName: names[id], Current: cur, Longest: longest, LastDay: last})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Current != out[j].Current {
			return out[i].Current > out[j].Current
		}
		return out[i].ItemName < out[j].ItemName
	})
	return out
}
