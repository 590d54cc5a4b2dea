package insights

import (
	"fmt"
	"sort"
)

// Insight types, roughly in coaching order.
const (
	InsightReinforcement = "reinforcement"
	InsightPattern       = "pattern"
	InsightDependency    = "dependency"
	InsightSuggestion    = "suggestion"
)

// Insight is one generated coaching message.
type Insight struct {
	Type       string  `json:"type" enum:"reinforcement,pattern,dependency,suggestion"`
	ItemID     string  `json:"item_id,omitempty"`
	Title      string  `json:"title"`
	Message    string  `json:"message"`
	Confidence float64 `json:"confidence"`
	Priority   int     `json:"priority"`
}

// Context is the read-only input to the rule table.
type Context struct {
	Overall                ItemStats
	Stats                  []ItemStats
	ByWindow               []WindowStats
	Streaks                []ItemStreak
	Burden                 []DayBurden
	CurrentHour            int
	CurrentWindow          string
	ConsecutiveLoggingDays int
	RecentCompletionRate   float64
}

// minConfidence keeps speculative matches out of the surfaced set.
const minConfidence = 0.7

type rule struct {
	priority int
	eval     func(Context) *Insight
}

// ruleTable is evaluated in full on every run; each rule is a pure
// function of the context. A lower priority number means more
// important. Order in the table is tie-break order.
var ruleTable = []rule{
	{priority: 10, eval: ruleStreakReinforcement},
	{priority: 20, eval: ruleLoggingHabit},
	{priority: 30, eval: ruleWeakWindow},
	{priority: 35, eval: ruleStrugglingItem},
	{priority: 40, eval: ruleMissedPair},
	{priority: 50, eval: ruleHeavyDay},
	{priority: 60, eval: ruleSkipHeavy},
}

func ruleStreakReinforcement(c Context) *Insight {
	for _, s := range c.Streaks {
		if s.Current >= 3 {
			return &Insight{
				Type:       InsightReinforcement,
				ItemID:     s.ItemID,
				Title:      fmt.Sprintf("%d-day streak", s.Current),
				Message:    fmt.Sprintf("%s has been completed %d days in a row. Keep it going.", s.ItemName, s.Current),
				Confidence: 0.95,
			}
		}
	}
	return nil
}

func ruleLoggingHabit(c Context) *Insight {
	if c.ConsecutiveLoggingDays >= 7 {
		return &Insight{
			Type:       InsightReinforcement,
			Title:      "Consistent logging",
			Message:    fmt.Sprintf("Something has been logged every day for %d days straight.", c.ConsecutiveLoggingDays),
			Confidence: 0.9,
		}
	}
	return nil
}

func ruleWeakWindow(c Context) *Insight {
	if len(c.ByWindow) < 2 {
		return nil
	}
	var best, worst *WindowStats
	for i := range c.ByWindow {
		w := &c.ByWindow[i]
		if w.Total < 3 {
			continue
		}
		if best == nil || w.AdherenceRate > best.AdherenceRate {
			best = w
		}
		if worst == nil || w.AdherenceRate < worst.AdherenceRate {
			worst = w
		}
	}
	if best == nil || worst == nil || best.Window == worst.Window {
		return nil
	}
	gap := best.AdherenceRate - worst.AdherenceRate
	if gap < 25 {
		return nil
	}
	conf := 0.7 + gap/200
	if conf > 0.95 {
		conf = 0.95
	}
	return &Insight{
		Type:       InsightPattern,
		Title:      fmt.Sprintf("%s tasks slip", worst.Window),
		Message:    fmt.Sprintf("Adherence in the %s (%.0f%%) trails the %s (%.0f%%). Consider moving flexible tasks earlier.", worst.Window, worst.AdherenceRate, best.Window, best.AdherenceRate),
		Confidence: conf,
	}
}

func ruleStrugglingItem(c Context) *Insight {
	for _, s := range c.Stats {
		if s.Total >= 5 && s.AdherenceRate < 50 && s.Priority == "required" {
			return &Insight{
				Type:       InsightPattern,
				ItemID:     s.ItemID,
				Title:      fmt.Sprintf("%s needs attention", s.ItemName),
				Message:    fmt.Sprintf("%s was followed through only %.0f%% of the time despite being required.", s.ItemName, s.AdherenceRate),
				Confidence: 0.85,
			}
		}
	}
	return nil
}

// ruleMissedPair flags two items that fail together, a hint that one
// depends on the other in the daily routine.
func ruleMissedPair(c Context) *Insight {
	var missed []ItemStats
	for _, s := range c.Stats {
		if s.Total >= 4 && pct(s.Missed, s.Total) >= 50 {
			missed = append(missed, s)
		}
	}
	if len(missed) < 2 {
		return nil
	}
	return &Insight{
		Type:       InsightDependency,
		ItemID:     missed[0].ItemID,
		Title:      "Tasks failing together",
		Message:    fmt.Sprintf("%s and %s are being missed on the same days. Anchoring one to the other may help both.", missed[0].ItemName, missed[1].ItemName),
		Confidence: 0.7,
	}
}

func ruleHeavyDay(c Context) *Insight {
	peak := PeakBurden(c.Burden)
	if peak.Score < 85 {
		return nil
	}
	return &Insight{
		Type:       InsightSuggestion,
		Title:      "Heavy day ahead",
		Message:    fmt.Sprintf("%s carries %d scheduled tasks (load %d). Spreading optional items across the week would lighten it.", peak.Date, peak.Count, peak.Load),
		Confidence: 0.75,
	}
}

func ruleSkipHeavy(c Context) *Insight {
	for _, s := range c.Stats {
		if s.Total >= 5 && pct(s.Skipped, s.Total) >= 60 {
			return &Insight{
				Type:       InsightSuggestion,
				ItemID:     s.ItemID,
				Title:      fmt.Sprintf("Rethink %s", s.ItemName),
				Message:    fmt.Sprintf("%s is skipped %.0f%% of the time. If it no longer fits the routine, lowering its priority or rescheduling it may be honest.", s.ItemName, pct(s.Skipped, s.Total)),
				Confidence: 0.8,
			}
		}
	}
	return nil
}

// Evaluate runs the full rule table and returns the surfaced insights,
// lowest priority number first. Matches under the confidence floor are
// discarded.
func Evaluate(c Context) []Insight {
	var out []Insight
	for _, r := range ruleTable {
		in := r.eval(c)
		if in == nil || in.Confidence < minConfidence {
			continue
		}
		in.Priority = r.priority
		out = append(out, *in)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].Confidence > out[j].Confidence
	})
	return out
}

// Primary returns the single most important insight, if any.
func Primary(insights []Insight) *Insight {
	if len(insights) == 0 {
		return nil
	}
	return &insights[0]
}
