package insights

import (
	"context"
	"sync"
	"time"

	"careline/internal/config"
	"careline/internal/domain"
	"careline/internal/events"
	"careline/internal/repo"
	"careline/internal/schedule"
)

// Summary is the full derived view over a date range.
type Summary struct {
	PatientID string        `json:"patient_id"`
	From      string        `json:"from" format:"date"`
	To        string        `json:"to" format:"date"`
	Overall   ItemStats     `json:"overall"`
	Items     []ItemStats   `json:"items"`
	Windows   []WindowStats `json:"windows"`
	Streaks   []ItemStreak  `json:"streaks"`
	Burden    []DayBurden   `json:"burden"`
	Insights  []Insight     `json:"insights"`
	Primary   *Insight      `json:"primary,omitempty"`
}

// Reporter computes summaries on demand and caches the last one per
// patient until the bus reports a change.
type Reporter struct {
	Repo   repo.Repo
	Config *config.Config
	Now    func() time.Time

	mu    sync.Mutex
	cache map[string]Summary // key patientID|from|to
	unsub func()
	stop  func()
}

func NewReporter(r repo.Repo, bus *events.Bus, cfg *config.Config) *Reporter {
	rep := &Reporter{
		Repo:   r,
		Config: cfg,
		Now:    time.Now,
		cache:  make(map[string]Summary),
	}
	if bus != nil {
		// coalesce bursts of changes into one invalidation
		handler, stop := events.Debounce(200*time.Millisecond, func([]events.Change) {
			rep.invalidate()
		})
		rep.stop = stop
		unsubA := bus.Subscribe(events.TopicInstances, handler)
		unsubB := bus.Subscribe(events.TopicLogs, handler)
		rep.unsub = func() { unsubA(); unsubB() }
	}
	return rep
}

func (r *Reporter) Close() {
	if r.unsub != nil {
		r.unsub()
	}
	if r.stop != nil {
		r.stop()
	}
}

func (r *Reporter) invalidate() {
	r.mu.Lock()
	r.cache = make(map[string]Summary)
	r.mu.Unlock()
}

func (r *Reporter) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

func (r *Reporter) weights() BurdenWeights {
	if r.Config == nil {
		return DefaultBurdenWeights()
	}
	return BurdenWeights{
		Required:    r.Config.Burden.RequiredWeight,
		Recommended: r.Config.Burden.RecommendedWeight,
		Optional:    r.Config.Burden.OptionalWeight,
		MaxLoad:     r.Config.Burden.MaxDailyLoad,
	}
}

func (r *Reporter) bands() schedule.Bands {
	b := schedule.Bands{MorningStart: "05:00", AfternoonStart: "12:00", EveningStart: "17:00", NightStart: "21:00"}
	if r.Config != nil && r.Config.Windows.MorningStart != "" {
		b = schedule.Bands{
			MorningStart:   r.Config.Windows.MorningStart,
			AfternoonStart: r.Config.Windows.AfternoonStart,
			EveningStart:   r.Config.Windows.EveningStart,
			NightStart:     r.Config.Windows.NightStart,
		}
	}
	return b
}

// loggingStreak counts consecutive days with at least one log entry,
// ending today or yesterday.
func loggingStreak(logs []domain.LogEntry, today time.Time) int {
	days := make(map[string]bool)
	for _, l := range logs {
		if t, err := time.Parse(time.RFC3339, l.LoggedAt); err == nil {
			days[t.Format(schedule.DateLayout)] = true
		}
	}
	day := today
	if !days[day.Format(schedule.DateLayout)] {
		day = day.AddDate(0, 0, -1)
		if !days[day.Format(schedule.DateLayout)] {
			return 0
		}
	}
	n := 0
	for days[day.Format(schedule.DateLayout)] {
		n++
		day = day.AddDate(0, 0, -1)
	}
	return n
}

func currentWindow(now time.Time, b schedule.Bands) string {
	t := now.Format("15:04")
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

// Summarize computes the full derived view for [from, to] inclusive.
func (r *Reporter) Summarize(ctx context.Context, patientID, from, to string) (Summary, error) {
	key := patientID + "|" + from + "|" + to
	r.mu.Lock()
	if s, ok := r.cache[key]; ok {
		r.mu.Unlock()
		return s, nil
	}
	r.mu.Unlock()

	instances, err := r.Repo.ListInstancesInRange(ctx, patientID, from, to)
	if err != nil {
		return Summary{}, err
	}
	now := r.now()
	today := now.Format(schedule.DateLayout)
	// logging habit looks beyond the requested range
	logs, err := r.Repo.ListLogsInRange(ctx, patientID,
		now.AddDate(0, 0, -60).UTC().Format(time.RFC3339),
		now.AddDate(0, 0, 1).UTC().Format(time.RFC3339))
	if err != nil {
		return Summary{}, err
	}

	s := Summary{PatientID: patientID, From: from, To: to}
	s.Overall = Overall(instances)
	s.Items = StatsByItem(instances)
	s.Windows = StatsByWindow(instances)
	s.Streaks = Streaks(instances, today)
	s.Burden = BurdenByDay(instances, r.weights())

	b := r.bands()
	c := Context{
		Overall:                s.Overall,
		Stats:                  s.Items,
		ByWindow:               s.Windows,
		Streaks:                s.Streaks,
		Burden:                 s.Burden,
		CurrentHour:            now.Hour(),
		CurrentWindow:          currentWindow(now, b),
		ConsecutiveLoggingDays: loggingStreak(logs, now),
		RecentCompletionRate:   s.Overall.CompletionRate,
	}
	s.Insights = Evaluate(c)
	s.Primary = Primary(s.Insights)

	r.mu.Lock()
	r.cache[key] = s
	r.mu.Unlock()
	return s, nil
}
