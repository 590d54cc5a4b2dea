package engine

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"careline/internal/domain"
	"careline/internal/events"
	"careline/internal/schedule"
)

// CompleteOptions carries one user action against a pending instance.
type CompleteOptions struct {
	InstanceID string
	Outcome    string // completed or partial
	Data       domain.LogData
	Notes      string
	ActorID    string
}

// CompleteInstance transitions a pending instance to a terminal outcome
// and appends the matching log entry. Both writes share one transaction:
// a log without its status change (or the reverse) can never persist.
func (e *Engine) CompleteInstance(ctx context.Context, opts CompleteOptions) (domain.DailyInstance, domain.LogEntry, error) {
	switch opts.Outcome {
	case "":
		opts.Outcome = domain.StatusCompleted
	case domain.StatusCompleted, domain.StatusPartial:
	default:
		return domain.DailyInstance{}, domain.LogEntry{}, schedule.ValidationError{Msg: "outcome must be completed or partial"}
	}
	return e.transition(ctx, opts.InstanceID, opts.Outcome, opts.Data, opts.Notes, opts.ActorID)
}

// SkipInstance records an intentional skip. Skips count as adherent in
// analytics, unlike missed.
func (e *Engine) SkipInstance(ctx context.Context, instanceID, notes, actorID string) error {
	_, _, err := e.transition(ctx, instanceID, domain.StatusSkipped, domain.LogData{}, notes, actorID)
	return err
}

func (e *Engine) transition(ctx context.Context, instanceID, outcome string, data domain.LogData, notes, actorID string) (domain.DailyInstance, domain.LogEntry, error) {
	var log domain.LogEntry
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.DailyInstance{}, log, err
	}
	defer tx.Rollback()

	in, err := e.Repo.GetInstanceTx(ctx, tx, instanceID)
	if err != nil {
		return in, log, err
	}
	if in.Status != domain.StatusPending {
		return in, log, InvalidTransitionError{InstanceID: in.ID, From: in.Status, To: outcome}
	}
	if err := data.CheckAgainst(in.ItemType); err != nil {
		return in, log, schedule.ValidationError{Msg: err.Error()}
	}
	if err := schedule.ValidatePayload(data); err != nil {
		return in, log, err
	}

	nowStr := e.now().UTC().Format(time.RFC3339)
	log = domain.LogEntry{
		ID:         uuid.New().String(),
		PatientID:  in.PatientID,
		InstanceID: &in.ID,
		ItemType:   in.ItemType,
		Outcome:    outcome,
		Data:       data,
		Notes:      notes,
		LoggedAt:   nowStr,
	}
	if err := e.Repo.InsertLogTx(ctx, tx, log); err != nil {
		return in, log, err
	}
	if err := e.Repo.SetInstanceStatusTx(ctx, tx, in.ID, outcome, &log.ID, nowStr); err != nil {
		return in, log, err
	}
	if err := e.Events.Append(ctx, tx, "instance."+outcome, in.PatientID, "instance", in.ID, actorID, events.EventPayload{
		"item": in.ItemName, "log_id": log.ID,
	}); err != nil {
		return in, log, err
	}
	if err := tx.Commit(); err != nil {
		return in, log, err
	}
	in.Status = outcome
	in.LogID = &log.ID
	in.UpdatedAt = nowStr
	e.publish(events.Change{Topic: events.TopicInstances, PatientID: in.PatientID, InstanceIDs: []string{in.ID}})
	e.publish(events.Change{Topic: events.TopicLogs, PatientID: in.PatientID})
	return in, log, nil
}

// AppendCorrection adds a follow-up log entry to an already-terminal
// instance. The instance status never changes; the log is the correction.
func (e *Engine) AppendCorrection(ctx context.Context, instanceID, notes, actorID string, data domain.LogData) (domain.LogEntry, error) {
	var log domain.LogEntry
	if notes == "" {
		return log, errors.New("correction notes are required")
	}
	in, err := e.Repo.GetInstance(ctx, instanceID)
	if err != nil {
		return log, err
	}
	if !domain.TerminalStatus(in.Status) {
		return log, InvalidTransitionError{InstanceID: in.ID, From: in.Status, To: "correction"}
	}
	if err := data.CheckAgainst(in.ItemType); err != nil {
		return log, schedule.ValidationError{Msg: err.Error()}
	}
	if err := schedule.ValidatePayload(data); err != nil {
		return log, err
	}
	nowStr := e.now().UTC().Format(time.RFC3339)
	log = domain.LogEntry{
		ID:         uuid.New().String(),
		PatientID:  in.PatientID,
		InstanceID: &in.ID,
		ItemType:   in.ItemType,
		Outcome:    in.Status,
		Data:       data,
		Notes:      notes,
		LoggedAt:   nowStr,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return log, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertLogTx(ctx, tx, log); err != nil {
		return log, err
	}
	if err := e.Events.Append(ctx, tx, "log.correction", in.PatientID, "instance", in.ID, actorID, events.EventPayload{
		"log_id": log.ID,
	}); err != nil {
		return log, err
	}
	if err := tx.Commit(); err != nil {
		return log, err
	}
	e.publish(events.Change{Topic: events.TopicLogs, PatientID: in.PatientID})
	return log, nil
}

// ListLogsInRange returns the patient's log entries between two RFC3339
// timestamps.
func (e *Engine) ListLogsInRange(ctx context.Context, patientID, start, end string) ([]domain.LogEntry, error) {
	return e.Repo.ListLogsInRange(ctx, patientID, start, end)
}
