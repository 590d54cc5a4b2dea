package engine

import (
	"context"
	"errors"
	"time"

	"careline/internal/domain"
	"careline/internal/events"
	"careline/internal/repo"
)

// missedDeadline is the moment a pending instance becomes missed.
func (e *Engine) missedDeadline(in domain.DailyInstance) (time.Time, bool) {
	scheduled, err := time.Parse(time.RFC3339, in.ScheduledAt)
	if err != nil {
		return time.Time{}, false
	}
	return scheduled.Add(time.Duration(e.graceMinutes()) * time.Minute), true
}

// sweepMissed lazily marks overdue pending instances as missed. It runs
// on every read path so callers always observe post-grace state; there is
// no background sweeper.
func (e *Engine) sweepMissed(ctx context.Context, instances []domain.DailyInstance) ([]domain.DailyInstance, error) {
	now := e.now()
	var flipped []string
	for i, in := range instances {
		if in.Status != domain.StatusPending {
			continue
		}
		deadline, ok := e.missedDeadline(in)
		if !ok || !now.After(deadline) {
			continue
		}
		if err := e.markMissed(ctx, in); err != nil {
			// another writer settled the instance between our read and
			// the update; their transition stands
			if errors.Is(err, repo.ErrNotFound) {
				continue
			}
			return nil, err
		}
		instances[i].Status = domain.StatusMissed
		flipped = append(flipped, in.ID)
	}
	if len(flipped) > 0 {
		e.publish(events.Change{Topic: events.TopicInstances, PatientID: instances[0].PatientID, InstanceIDs: flipped})
	}
	return instances, nil
}

// MarkMissed applies the missed transition to one instance. Unlike
// complete/skip it writes no log entry: missed records the absence of an
// action, not an action.
func (e *Engine) MarkMissed(ctx context.Context, instanceID string) error {
	in, err := e.Repo.GetInstance(ctx, instanceID)
	if err != nil {
		return err
	}
	if in.Status != domain.StatusPending {
		return InvalidTransitionError{InstanceID: in.ID, From: in.Status, To: domain.StatusMissed}
	}
	deadline, ok := e.missedDeadline(in)
	if !ok || !e.now().After(deadline) {
		return InvalidTransitionError{InstanceID: in.ID, From: in.Status, To: domain.StatusMissed}
	}
	if err := e.markMissed(ctx, in); err != nil {
		return err
	}
	e.publish(events.Change{Topic: events.TopicInstances, PatientID: in.PatientID, InstanceIDs: []string{in.ID}})
	return nil
}

func (e *Engine) markMissed(ctx context.Context, in domain.DailyInstance) error {
	nowStr := e.now().UTC().Format(time.RFC3339)
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.MarkInstanceMissedTx(ctx, tx, in.ID, nowStr); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "instance.missed", in.PatientID, "instance", in.ID, "system", events.EventPayload{
		"item": in.ItemName, "scheduled_at": in.ScheduledAt,
	}); err != nil {
		return err
	}
	return tx.Commit()
}
