package repo

import (
	"context"
	"database/sql"

	"careline/internal/domain"
)

const logCols = `id,patient_id,instance_id,item_type,outcome,data_json,notes,logged_at`

// InsertLogTx appends a log entry. There is no update or delete path;
// the table is append-only.
func (r Repo) InsertLogTx(ctx context.Context, tx *sql.Tx, l domain.LogEntry) error {
	dataJSON, err := domain.EncodeLogData(l.Data)
	if err != nil {
		return err
	}
	var instanceID any
	if l.InstanceID != nil {
		instanceID = *l.InstanceID
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO log_entries(`+logCols+`) VALUES (?,?,?,?,?,?,?,?)`,
		l.ID, l.PatientID, instanceID, l.ItemType, l.Outcome, nullable(dataJSON), nullable(l.Notes), l.LoggedAt)
	return err
}

func scanLog(scan func(dest ...any) error) (domain.LogEntry, error) {
	var l domain.LogEntry
	var instanceID, dataJSON, notes sql.NullString
	err := scan(&l.ID, &l.PatientID, &instanceID, &l.ItemType, &l.Outcome, &dataJSON, &notes, &l.LoggedAt)
	if err == sql.ErrNoRows {
		return l, ErrNotFound
	}
	if err != nil {
		return l, err
	}
	if instanceID.Valid {
		l.InstanceID = &instanceID.String
	}
	l.Notes = notes.String
	l.Data, err = domain.DecodeLogData(dataJSON.String)
	return l, err
}

func (r Repo) GetLog(ctx context.Context, id string) (domain.LogEntry, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+logCols+` FROM log_entries WHERE id=?`, id)
	return scanLog(row.Scan)
}

// ListLogsInRange returns logs whose timestamp falls inside [start, end),
// both RFC3339.
func (r Repo) ListLogsInRange(ctx context.Context, patientID, start, end string) ([]domain.LogEntry, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT `+logCols+` FROM log_entries WHERE patient_id=? AND logged_at>=? AND logged_at<? ORDER BY logged_at`,
		patientID, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.LogEntry
	for rows.Next() {
		l, err := scanLog(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, l)
	}
	return res, rows.Err()
}

// ListLogsForInstance returns the full history for one instance,
// corrections included.
func (r Repo) ListLogsForInstance(ctx context.Context, instanceID string) ([]domain.LogEntry, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT `+logCols+` FROM log_entries WHERE instance_id=? ORDER BY logged_at`, instanceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.LogEntry
	for rows.Next() {
		l, err := scanLog(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, l)
	}
	return res, rows.Err()
}
