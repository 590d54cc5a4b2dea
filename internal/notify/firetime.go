package notify

import (
	"fmt"
	"time"

	"careline/internal/domain"
)

// Offset maps a reminder timing to how far before the scheduled time the
// initial notification fires.
func Offset(timing string, customMinutes int) (time.Duration, error) {
	switch timing {
	case "", "at_time":
		return 0, nil
	case "before_5":
		return 5 * time.Minute, nil
	case "before_15":
		return 15 * time.Minute, nil
	case "before_30":
		return 30 * time.Minute, nil
	case "before_60":
		return 60 * time.Minute, nil
	case "custom":
		if customMinutes <= 0 {
			return 0, fmt.Errorf("custom timing needs custom_minutes_before")
		}
		return time.Duration(customMinutes) * time.Minute, nil
	}
	return 0, fmt.Errorf("unknown notification timing %s", timing)
}

func parseClock(s string) (int, bool) {
	var hh, mm int
	if _, err := fmt.Sscanf(s, "%d:%d", &hh, &mm); err != nil {
		return 0, false
	}
	if hh < 0 || hh > 23 || mm < 0 || mm > 59 {
		return 0, false
	}
	return hh*60 + mm, true
}

// ClipQuietHours pushes a fire time that lands inside the quiet-hours
// band to the band's end boundary. Delivery moves; the underlying
// scheduled time never does. A band whose start is after its end crosses
// midnight.
func ClipQuietHours(t time.Time, q domain.QuietHours) time.Time {
	if !q.Enabled {
		return t
	}
	start, ok1 := parseClock(q.Start)
	end, ok2 := parseClock(q.End)
	if !ok1 || !ok2 || start == end {
		return t
	}
	m := t.Hour()*60 + t.Minute()
	endOfBand := func(day time.Time) time.Time {
		return time.Date(day.Year(), day.Month(), day.Day(), end/60, end%60, 0, 0, t.Location())
	}
	if start < end {
		if m >= start && m < end {
			return endOfBand(t)
		}
		return t
	}
	// band crosses midnight
	if m >= start {
		return endOfBand(t.AddDate(0, 0, 1))
	}
	if m < end {
		return endOfBand(t)
	}
	return t
}

// FireTime computes when the initial reminder for an instance should be
// delivered under the given config and preferences.
func FireTime(scheduledAt string, cfg domain.NotificationConfig, prefs domain.DeliveryPreferences) (time.Time, error) {
	scheduled, err := time.Parse(time.RFC3339, scheduledAt)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse scheduled time: %w", err)
	}
	off, err := Offset(cfg.Timing, cfg.CustomMinutesBefore)
	if err != nil {
		return time.Time{}, err
	}
	return ClipQuietHours(scheduled.Add(-off), prefs.QuietHours), nil
}
