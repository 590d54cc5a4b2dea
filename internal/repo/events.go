package repo

import (
	"context"
	"database/sql"

	"careline/internal/domain"
)

func (r Repo) listEvents(ctx context.Context, query string, args ...any) ([]domain.Event, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		var patientID, entityID sql.NullString
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &patientID, &e.EntityKind, &entityID, &e.ActorID, &e.Payload); err != nil {
			return nil, err
		}
		e.PatientID = patientID.String
		e.EntityID = entityID.String
		res = append(res, e)
	}
	return res, rows.Err()
}

// TailEvents returns the most recent events for a patient, newest first.
func (r Repo) TailEvents(ctx context.Context, patientID string, limit int) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 50
	}
	return r.listEvents(ctx,
		`SELECT id,ts,type,patient_id,entity_kind,entity_id,actor_id,payload_json FROM events
WHERE patient_id=? ORDER BY id DESC LIMIT ?`, patientID, limit)
}

// EventsAfter returns up to limit events with id greater than cursor, in
// id order. Used by pollers that track their own cursor.
func (r Repo) EventsAfter(ctx context.Context, limit int, cursor int64, patientID string) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	return r.listEvents(ctx,
		`SELECT id,ts,type,patient_id,entity_kind,entity_id,actor_id,payload_json FROM events
WHERE id>? AND patient_id=? ORDER BY id LIMIT ?`, cursor, patientID, limit)
}

func (r Repo) LatestEventID(ctx context.Context, patientID string) (int64, error) {
	var id sql.NullInt64
	err := r.DB.QueryRowContext(ctx, `SELECT MAX(id) FROM events WHERE patient_id=?`, patientID).Scan(&id)
	if err != nil {
		return 0, err
	}
	return id.Int64, nil
}
