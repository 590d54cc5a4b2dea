// Package insights derives adherence statistics, burden scores, streaks
// and coaching insights from generated instances. Everything here is a
// pure function over loaded data; the Reporter wires them to storage.
package insights

import (
	"sort"

	"careline/internal/domain"
)

// ItemStats aggregates outcomes for one plan item over a range. Items
// with no instances in the range produce no entry at all.
type ItemStats struct {
	ItemID         string  `json:"item_id"`
	ItemName       string  `json:"item_name"`
	ItemType       string  `json:"item_type"`
	Priority       string  `json:"priority"`
	Total          int     `json:"total"`
	Completed      int     `json:"completed"`
	Skipped        int     `json:"skipped"`
	Missed         int     `json:"missed"`
	Partial        int     `json:"partial"`
	Pending        int     `json:"pending"`
	AdherenceRate  float64 `json:"adherence_rate"`
	CompletionRate float64 `json:"completion_rate"`
}

// WindowStats aggregates outcomes per time-of-day window.
type WindowStats struct {
	Window         string  `json:"window"`
	Total          int     `json:"total"`
	Completed      int     `json:"completed"`
	Skipped        int     `json:"skipped"`
	Missed         int     `json:"missed"`
	AdherenceRate  float64 `json:"adherence_rate"`
	CompletionRate float64 `json:"completion_rate"`
}

func pct(part, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(part) / float64(total) * 100
}

func (s *ItemStats) finish() {
	// a skip is a deliberate, recorded decision; it counts as adherent
	s.AdherenceRate = pct(s.Completed+s.Skipped, s.Total)
	s.CompletionRate = pct(s.Completed, s.Total)
}

// StatsByItem folds instances into per-item aggregates, ordered by
// adherence ascending so the weakest item surfaces first.
func StatsByItem(instances []domain.DailyInstance) []ItemStats {
	byItem := make(map[string]*ItemStats)
	var order []string
	for _, in := range instances {
		s, ok := byItem[in.ItemID]
		if !ok {
			s = &ItemStats{ItemID: in.ItemID, ItemName: in.ItemName, ItemType: in.ItemType, Priority: in.Priority}
			byItem[in.ItemID] = s
			order = append(order, in.ItemID)
		}
		s.Total++
		switch in.Status {
		case domain.StatusCompleted:
			s.Completed++
		case domain.StatusSkipped:
			s.Skipped++
		case domain.StatusMissed:
			s.Missed++
		case domain.StatusPartial:
			s.Partial++
		case domain.StatusPending:
			s.Pending++
		}
	}
	out := make([]ItemStats, 0, len(order))
	for _, id := range order {
		byItem[id].finish()
		out = append(out, *byItem[id])
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].AdherenceRate != out[j].AdherenceRate {
			return out[i].AdherenceRate < out[j].AdherenceRate
		}
		return out[i].ItemName < out[j].ItemName
	})
	return out
}

// StatsByWindow folds instances into per-window aggregates in day order.
func StatsByWindow(instances []domain.DailyInstance) []WindowStats {
	byWindow := make(map[string]*WindowStats)
	for _, in := range instances {
		s, ok := byWindow[in.WindowLabel]
		if !ok {
			s = &WindowStats{Window: in.WindowLabel}
			byWindow[in.WindowLabel] = s
		}
		s.Total++
		switch in.Status {
		case domain.StatusCompleted:
			s.Completed++
		case domain.StatusSkipped:
			s.Skipped++
		case domain.StatusMissed:
			s.Missed++
		}
	}
	order := []string{"morning", "afternoon", "evening", "night", "custom"}
	out := make([]WindowStats, 0, len(byWindow))
	for _, w := range order {
		if s, ok := byWindow[w]; ok {
			s.AdherenceRate = pct(s.Completed+s.Skipped, s.Total)
			s.CompletionRate = pct(s.Completed, s.Total)
			out = append(out, *s)
		}
	}
	return out
}

// Overall collapses instances into a single stats row.
func Overall(instances []domain.DailyInstance) ItemStats {
	var s ItemStats
	for _, in := range instances {
		s.Total++
		switch in.Status {
		case domain.StatusCompleted:
			s.Completed++
		case domain.StatusSkipped:
			s.Skipped++
		case domain.StatusMissed:
			s.Missed++
		case domain.StatusPartial:
			s.Partial++
		case domain.StatusPending:
			s.Pending++
		}
	}
	s.finish()
	return s
}
