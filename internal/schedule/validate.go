package schedule

import (
	"fmt"

	"github.com/go-playground/validator/v10"

	"careline/internal/domain"
)

// ValidationError marks a malformed schedule or payload; the API surface
// maps it to a 400.
type ValidationError struct {
	Msg string
}

func (e ValidationError) Error() string { return e.Msg }

func invalid(format string, args ...any) error {
	return ValidationError{Msg: fmt.Sprintf(format, args...)}
}

var validate = validator.New()

// Validate rejects schedules that cannot resolve to at least one concrete
// time window on every active day.
func Validate(s domain.Schedule) error {
	if err := validate.Struct(s); err != nil {
		return invalid("schedule: %v", err)
	}
	if len(s.Windows) == 0 {
		return invalid("schedule must declare at least one time window")
	}
	for i, w := range s.Windows {
		if w.At == "" && w.Start == "" {
			return invalid("window %d needs an exact time or a band start", i)
		}
		if w.At != "" && (w.Start != "" || w.End != "") {
			return invalid("window %d mixes exact time and band", i)
		}
		if w.Start != "" && w.End != "" && w.End <= w.Start {
			return invalid("window %d band end %s not after start %s", i, w.End, w.Start)
		}
	}
	if s.Frequency == "weekly" && len(s.DaysOfWeek) == 0 {
		return invalid("weekly schedule needs days_of_week")
	}
	seen := map[int]bool{}
	for _, d := range s.DaysOfWeek {
		if d < 0 || d > 6 {
			return invalid("day_of_week %d out of range", d)
		}
		if seen[d] {
			return invalid("day_of_week %d repeated", d)
		}
		seen[d] = true
	}
	return nil
}

// ValidatePayload runs struct validation over a log payload variant.
func ValidatePayload(d domain.LogData) error {
	v := d.Variant()
	if v == nil {
		return nil
	}
	if err := validate.Struct(v); err != nil {
		return invalid("log data: %v", err)
	}
	return nil
}
