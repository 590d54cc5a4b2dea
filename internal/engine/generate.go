package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"careline/internal/domain"
	"careline/internal/events"
	"careline/internal/repo"
	"careline/internal/schedule"
)

// EnsureDailyInstances materializes the given day's instances for the
// patient's active plan. Repeated calls for an unchanged plan version are
// no-ops; a version advance regenerates, replacing only instances that
// have no terminal status. Overlapping calls for the same (patient, date)
// collapse onto one generation pass.
func (e *Engine) EnsureDailyInstances(ctx context.Context, patientID, date string) ([]domain.DailyInstance, error) {
	key := patientID + "|" + date
	e.genInFlight.Store(key, struct{}{})
	res, err, _ := e.genGroup.Do(key, func() (any, error) {
		defer e.genInFlight.Delete(key)
		return e.generate(ctx, patientID, date)
	})
	if err != nil {
		return nil, err
	}
	return res.([]domain.DailyInstance), nil
}

// EnsureDailyInstancesNoWait behaves like EnsureDailyInstances but
// returns ErrGenerationInFlight instead of queueing behind a concurrent
// generation for the same key. Background passes use it so they never
// stall a foreground caller.
func (e *Engine) EnsureDailyInstancesNoWait(ctx context.Context, patientID, date string) ([]domain.DailyInstance, error) {
	key := patientID + "|" + date
	if _, busy := e.genInFlight.Load(key); busy {
		return nil, ErrGenerationInFlight
	}
	return e.EnsureDailyInstances(ctx, patientID, date)
}

func (e *Engine) generate(ctx context.Context, patientID, date string) ([]domain.DailyInstance, error) {
	day, err := time.Parse(schedule.DateLayout, date)
	if err != nil {
		return nil, fmt.Errorf("invalid date %q: %w", date, err)
	}
	existing, err := e.Repo.ListInstancesByDate(ctx, patientID, date)
	if err != nil {
		return nil, err
	}
	plan, err := e.Repo.ActivePlan(ctx, patientID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			// no active plan: nothing to generate, history stays readable
			return e.sweepMissed(ctx, existing)
		}
		return nil, err
	}
	if !schedule.InRange(plan, date) {
		return e.sweepMissed(ctx, existing)
	}
	items, err := e.Repo.ListItems(ctx, plan.ID)
	if err != nil {
		return nil, err
	}
	loc, err := time.LoadLocation(plan.Timezone)
	if err != nil {
		loc = time.UTC
	}
	localDay := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, loc)
	now := e.now()

	desired := make(map[string]domain.DailyInstance)
	var order []string
	for _, it := range items {
		for _, in := range schedule.Expand(plan, it, localDay, e.bands(), now) {
			desired[in.ID] = in
			order = append(order, in.ID)
		}
	}
	current := make(map[string]domain.DailyInstance, len(existing))
	for _, in := range existing {
		current[in.ID] = in
	}
	if upToDate(existing, desired, plan.Version) {
		return e.sweepMissed(ctx, existing)
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var added, replaced, removed int
	for _, in := range existing {
		if _, keep := desired[in.ID]; keep {
			continue
		}
		ok, err := e.Repo.DeleteInstanceTx(ctx, tx, in.ID)
		if err != nil {
			return nil, err
		}
		if ok {
			removed++
		}
	}
	for _, id := range order {
		want := desired[id]
		have, exists := current[id]
		if exists {
			// terminal outcomes survive regeneration untouched;
			// pending instances refresh their snapshot and version
			if domain.TerminalStatus(have.Status) || have.GeneratedFromVersion == plan.Version {
				continue
			}
			if _, err := e.Repo.DeleteInstanceTx(ctx, tx, have.ID); err != nil {
				return nil, err
			}
			want.CreatedAt = have.CreatedAt
			replaced++
		} else {
			added++
		}
		if err := e.Repo.InsertInstanceTx(ctx, tx, want); err != nil {
			return nil, fmt.Errorf("insert instance %s: %w", want.ID, err)
		}
	}
	if added+replaced+removed > 0 {
		if err := e.Events.Append(ctx, tx, "instances.generated", patientID, "day", date, "system", events.EventPayload{
			"plan_version": plan.Version, "added": added, "replaced": replaced, "removed": removed,
		}); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	if added+replaced+removed > 0 {
		e.publish(events.Change{Topic: events.TopicInstances, PatientID: patientID})
	}

	out, err := e.Repo.ListInstancesByDate(ctx, patientID, date)
	if err != nil {
		return nil, err
	}
	return e.sweepMissed(ctx, out)
}

// upToDate reports whether the stored day already matches the desired
// set: every desired instance exists, every pending one at the current
// plan version, and no stale pending instance remains. Terminal
// instances satisfy the id they cover regardless of version, but they
// never stand in for a desired id they do not cover.
func upToDate(existing []domain.DailyInstance, desired map[string]domain.DailyInstance, version int64) bool {
	have := make(map[string]struct{}, len(existing))
	for _, in := range existing {
		have[in.ID] = struct{}{}
		if domain.TerminalStatus(in.Status) {
			continue
		}
		if in.GeneratedFromVersion != version {
			return false
		}
		if _, ok := desired[in.ID]; !ok {
			return false
		}
	}
	for id := range desired {
		if _, ok := have[id]; !ok {
			return false
		}
	}
	return true
}

func (e *Engine) bands() schedule.Bands {
	b := schedule.Bands{
		MorningStart:   "05:00",
		AfternoonStart: "12:00",
		EveningStart:   "17:00",
		NightStart:     "21:00",
	}
	if e.Config == nil {
		return b
	}
	w := e.Config.Windows
	if w.MorningStart != "" {
		b.MorningStart = w.MorningStart
	}
	if w.AfternoonStart != "" {
		b.AfternoonStart = w.AfternoonStart
	}
	if w.EveningStart != "" {
		b.EveningStart = w.EveningStart
	}
	if w.NightStart != "" {
		b.NightStart = w.NightStart
	}
	return b
}

// ListInstances returns a day's instances with the missed sweep applied.
// It never generates; callers wanting generation use EnsureDailyInstances.
func (e *Engine) ListInstances(ctx context.Context, patientID, date string) ([]domain.DailyInstance, error) {
	instances, err := e.Repo.ListInstancesByDate(ctx, patientID, date)
	if err != nil {
		return nil, err
	}
	return e.sweepMissed(ctx, instances)
}

// ListInstancesInRange returns instances between start and end dates
// inclusive, swept for missed.
func (e *Engine) ListInstancesInRange(ctx context.Context, patientID, start, end string) ([]domain.DailyInstance, error) {
	instances, err := e.Repo.ListInstancesInRange(ctx, patientID, start, end)
	if err != nil {
		return nil, err
	}
	return e.sweepMissed(ctx, instances)
}

// PurgeInstances drops all instances in a date range. This is the only
// deletion path that touches terminal instances.
func (e *Engine) PurgeInstances(ctx context.Context, patientID, start, end, actorID string) (int64, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()
	n, err := e.Repo.PurgeInstances(ctx, tx, patientID, start, end)
	if err != nil {
		return 0, err
	}
	if err := e.Events.Append(ctx, tx, "instances.purged", patientID, "day", start+".."+end, actorID, events.EventPayload{
		"count": n,
	}); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	if n > 0 {
		e.publish(events.Change{Topic: events.TopicInstances, PatientID: patientID})
	}
	return n, nil
}
