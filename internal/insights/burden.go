package insights

import (
	"sort"

	"careline/internal/domain"
)

// BurdenWeights calibrate how much each priority tier contributes to
// the daily load score.
type BurdenWeights struct {
	Required    int
	Recommended int
	Optional    int
	MaxLoad     int
}

// DefaultBurdenWeights mirrors the careline.yml defaults.
func DefaultBurdenWeights() BurdenWeights {
	return BurdenWeights{Required: 3, Recommended: 2, Optional: 1, MaxLoad: 30}
}

// DayBurden is one day's workload score. Score is Load normalized
// against the calibrated maximum and clipped to 100.
type DayBurden struct {
	Date  string  `json:"date" format:"date"`
	Count int     `json:"count"`
	Load  int     `json:"load"`
	Score float64 `json:"score"`
}

func weight(priority string, w BurdenWeights) int {
	switch priority {
	case "required":
		return w.Required
	case "recommended":
		return w.Recommended
	default:
		return w.Optional
	}
}

// BurdenByDay scores each day's scheduled workload. Suppressed or
// terminal instances still count: burden measures what the day asked
// for, not how it went.
func BurdenByDay(instances []domain.DailyInstance, w BurdenWeights) []DayBurden {
	if w.MaxLoad <= 0 {
		w = DefaultBurdenWeights()
	}
	byDay := make(map[string]*DayBurden)
	for _, in := range instances {
		d, ok := byDay[in.Date]
		if !ok {
			d = &DayBurden{Date: in.Date}
			byDay[in.Date] = d
		}
		d.Count++
		d.Load += weight(in.Priority, w)
	}
	out := make([]DayBurden, 0, len(byDay))
	for _, d := range byDay {
		d.Score = float64(d.Load) / float64(w.MaxLoad) * 100
		if d.Score > 100 {
			d.Score = 100
		}
		out = append(out, *d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out
}

// PeakBurden returns the heaviest day in the range, or a zero value when
// the range is empty.
func PeakBurden(days []DayBurden) DayBurden {
	var peak DayBurden
	for _, d := range days {
		if d.Load > peak.Load {
			peak = d
		}
	}
	return peak
}
