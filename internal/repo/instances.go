package repo

import (
	"context"
	"database/sql"

	"careline/internal/domain"
)

const instanceCols = `id,patient_id,plan_id,item_id,window_id,date,window_label,scheduled_at,item_name,item_type,item_emoji,priority,instructions,dosage,status,log_id,generated_from_version,created_at,updated_at`

func scanInstance(scan func(dest ...any) error) (domain.DailyInstance, error) {
	var in domain.DailyInstance
	var emoji, instructions, dosage, logID sql.NullString
	err := scan(&in.ID, &in.PatientID, &in.PlanID, &in.ItemID, &in.WindowID, &in.Date, &in.WindowLabel,
		&in.ScheduledAt, &in.ItemName, &in.ItemType, &emoji, &in.Priority, &instructions, &dosage,
		&in.Status, &logID, &in.GeneratedFromVersion, &in.CreatedAt, &in.UpdatedAt)
	if err == sql.ErrNoRows {
		return in, ErrNotFound
	}
	if err != nil {
		return in, err
	}
	in.ItemEmoji = emoji.String
	in.Instructions = instructions.String
	in.Dosage = dosage.String
	if logID.Valid {
		in.LogID = &logID.String
	}
	return in, nil
}

func (r Repo) InsertInstanceTx(ctx context.Context, tx *sql.Tx, in domain.DailyInstance) error {
	var logID any
	if in.LogID != nil {
		logID = *in.LogID
	}
	_, err := tx.ExecContext(ctx, `INSERT INTO daily_instances(`+instanceCols+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		in.ID, in.PatientID, in.PlanID, in.ItemID, in.WindowID, in.Date, in.WindowLabel, in.ScheduledAt,
		in.ItemName, in.ItemType, nullable(in.ItemEmoji), in.Priority, nullable(in.Instructions), nullable(in.Dosage),
		in.Status, logID, in.GeneratedFromVersion, in.CreatedAt, in.UpdatedAt)
	return err
}

func (r Repo) GetInstance(ctx context.Context, id string) (domain.DailyInstance, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+instanceCols+` FROM daily_instances WHERE id=?`, id)
	return scanInstance(row.Scan)
}

func (r Repo) GetInstanceTx(ctx context.Context, tx *sql.Tx, id string) (domain.DailyInstance, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+instanceCols+` FROM daily_instances WHERE id=?`, id)
	return scanInstance(row.Scan)
}

func (r Repo) listInstances(ctx context.Context, query string, args ...any) ([]domain.DailyInstance, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.DailyInstance
	for rows.Next() {
		in, err := scanInstance(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, in)
	}
	return res, rows.Err()
}

func (r Repo) ListInstancesByDate(ctx context.Context, patientID, date string) ([]domain.DailyInstance, error) {
	return r.listInstances(ctx,
		`SELECT `+instanceCols+` FROM daily_instances WHERE patient_id=? AND date=? ORDER BY scheduled_at, item_name`,
		patientID, date)
}

func (r Repo) ListInstancesInRange(ctx context.Context, patientID, start, end string) ([]domain.DailyInstance, error) {
	return r.listInstances(ctx,
		`SELECT `+instanceCols+` FROM daily_instances WHERE patient_id=? AND date>=? AND date<=? ORDER BY date, scheduled_at`,
		patientID, start, end)
}

// SetInstanceStatusTx flips status and the optional log link; the caller
// owns transition checks.
func (r Repo) SetInstanceStatusTx(ctx context.Context, tx *sql.Tx, id, status string, logID *string, ts string) error {
	var lid any
	if logID != nil {
		lid = *logID
	}
	res, err := tx.ExecContext(ctx, `UPDATE daily_instances SET status=?, log_id=COALESCE(?, log_id), updated_at=? WHERE id=?`,
		status, lid, ts, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkInstanceMissedTx flips pending to missed; it is a no-op returning
// ErrNotFound if the instance moved to another status first.
func (r Repo) MarkInstanceMissedTx(ctx context.Context, tx *sql.Tx, id, ts string) error {
	res, err := tx.ExecContext(ctx, `UPDATE daily_instances SET status='missed', updated_at=? WHERE id=? AND status='pending'`, ts, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteInstanceTx removes one instance during regeneration. Only
// pending instances may be replaced; the WHERE clause enforces it.
func (r Repo) DeleteInstanceTx(ctx context.Context, tx *sql.Tx, id string) (bool, error) {
	res, err := tx.ExecContext(ctx, `DELETE FROM daily_instances WHERE id=? AND status='pending'`, id)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// PurgeInstances is the only bulk deletion path: it drops a date range
// regardless of status.
func (r Repo) PurgeInstances(ctx context.Context, tx *sql.Tx, patientID, start, end string) (int64, error) {
	res, err := tx.ExecContext(ctx, `DELETE FROM daily_instances WHERE patient_id=? AND date>=? AND date<=?`,
		patientID, start, end)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return n, nil
}
