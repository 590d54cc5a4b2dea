package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"careline/internal/domain"
)

const notifCols = `id,patient_id,instance_id,scheduled_for,original_time,timing,status,follow_up_attempt,snoozed_until,created_at,updated_at`

func scanNotification(scan func(dest ...any) error) (domain.ScheduledNotification, error) {
	var n domain.ScheduledNotification
	var snoozed sql.NullString
	err := scan(&n.ID, &n.PatientID, &n.InstanceID, &n.ScheduledFor, &n.OriginalTime, &n.Timing,
		&n.Status, &n.FollowUpAttempt, &snoozed, &n.CreatedAt, &n.UpdatedAt)
	if err == sql.ErrNoRows {
		return n, ErrNotFound
	}
	if err != nil {
		return n, err
	}
	if snoozed.Valid {
		n.SnoozedUntil = &snoozed.String
	}
	return n, nil
}

func (r Repo) InsertNotification(ctx context.Context, n domain.ScheduledNotification) error {
	var snoozed any
	if n.SnoozedUntil != nil {
		snoozed = *n.SnoozedUntil
	}
	_, err := r.DB.ExecContext(ctx, `INSERT INTO scheduled_notifications(`+notifCols+`) VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		n.ID, n.PatientID, n.InstanceID, n.ScheduledFor, n.OriginalTime, n.Timing, n.Status,
		n.FollowUpAttempt, snoozed, n.CreatedAt, n.UpdatedAt)
	return err
}

func (r Repo) GetNotification(ctx context.Context, id string) (domain.ScheduledNotification, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+notifCols+` FROM scheduled_notifications WHERE id=?`, id)
	return scanNotification(row.Scan)
}

func (r Repo) listNotifications(ctx context.Context, query string, args ...any) ([]domain.ScheduledNotification, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ScheduledNotification
	for rows.Next() {
		n, err := scanNotification(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, n)
	}
	return res, rows.Err()
}

// ListUpcomingNotifications returns pending or snoozed reminders ordered
// by fire time.
func (r Repo) ListUpcomingNotifications(ctx context.Context, patientID string, limit int) ([]domain.ScheduledNotification, error) {
	query := `SELECT ` + notifCols + ` FROM scheduled_notifications WHERE patient_id=? AND status IN ('pending','snoozed') ORDER BY scheduled_for`
	args := []any{patientID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	return r.listNotifications(ctx, query, args...)
}

// ListDueNotifications returns pending reminders whose fire time (or
// snooze expiry) is at or before now.
func (r Repo) ListDueNotifications(ctx context.Context, now string) ([]domain.ScheduledNotification, error) {
	return r.listNotifications(ctx,
		`SELECT `+notifCols+` FROM scheduled_notifications
WHERE (status='pending' AND scheduled_for<=?) OR (status='snoozed' AND snoozed_until<=?)
ORDER BY scheduled_for`, now, now)
}

func (r Repo) ListNotificationsForInstance(ctx context.Context, instanceID string) ([]domain.ScheduledNotification, error) {
	return r.listNotifications(ctx,
		`SELECT `+notifCols+` FROM scheduled_notifications WHERE instance_id=? ORDER BY follow_up_attempt`, instanceID)
}

func (r Repo) SetNotificationStatus(ctx context.Context, id, status string, snoozedUntil *string, ts string) error {
	var snoozed any
	if snoozedUntil != nil {
		snoozed = *snoozedUntil
	}
	res, err := r.DB.ExecContext(ctx,
		`UPDATE scheduled_notifications SET status=?, snoozed_until=?, updated_at=? WHERE id=?`,
		status, snoozed, ts, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// CancelNotificationsForInstance actions every open reminder in the
// instance's chain; returns how many were cancelled.
func (r Repo) CancelNotificationsForInstance(ctx context.Context, instanceID, ts string) (int64, error) {
	res, err := r.DB.ExecContext(ctx,
		`UPDATE scheduled_notifications SET status='actioned', updated_at=? WHERE instance_id=? AND status IN ('pending','snoozed','sent')`,
		ts, instanceID)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// --- per-item notification config overrides ---

func (r Repo) UpsertNotificationConfig(ctx context.Context, patientID, itemID string, cfg domain.NotificationConfig, ts string) error {
	payload, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal notification config: %w", err)
	}
	_, err = r.DB.ExecContext(ctx, `INSERT INTO notification_configs(patient_id,item_id,config_json,updated_at) VALUES (?,?,?,?)
ON CONFLICT(patient_id,item_id) DO UPDATE SET config_json=excluded.config_json, updated_at=excluded.updated_at`,
		patientID, itemID, string(payload), ts)
	return err
}

func (r Repo) GetNotificationConfig(ctx context.Context, patientID, itemID string) (domain.NotificationConfig, error) {
	var payload string
	err := r.DB.QueryRowContext(ctx,
		`SELECT config_json FROM notification_configs WHERE patient_id=? AND item_id=?`, patientID, itemID).Scan(&payload)
	if err == sql.ErrNoRows {
		return domain.NotificationConfig{}, ErrNotFound
	}
	if err != nil {
		return domain.NotificationConfig{}, err
	}
	var cfg domain.NotificationConfig
	if err := json.Unmarshal([]byte(payload), &cfg); err != nil {
		return cfg, fmt.Errorf("unmarshal notification config: %w", err)
	}
	return cfg, nil
}

// --- delivery preferences ---

func (r Repo) GetDeliveryPreferences(ctx context.Context, patientID string) (domain.DeliveryPreferences, error) {
	var payload string
	err := r.DB.QueryRowContext(ctx,
		`SELECT prefs_json FROM delivery_preferences WHERE patient_id=?`, patientID).Scan(&payload)
	if err == sql.ErrNoRows {
		// defaults: everything on, no quiet hours
		return domain.DeliveryPreferences{MasterEnabled: true, SoundEnabled: true, VibrationEnabled: true}, nil
	}
	if err != nil {
		return domain.DeliveryPreferences{}, err
	}
	var prefs domain.DeliveryPreferences
	if err := json.Unmarshal([]byte(payload), &prefs); err != nil {
		return prefs, fmt.Errorf("unmarshal delivery preferences: %w", err)
	}
	return prefs, nil
}

func (r Repo) UpsertDeliveryPreferences(ctx context.Context, patientID string, prefs domain.DeliveryPreferences, ts string) error {
	payload, err := json.Marshal(prefs)
	if err != nil {
		return fmt.Errorf("marshal delivery preferences: %w", err)
	}
	_, err = r.DB.ExecContext(ctx, `INSERT INTO delivery_preferences(patient_id,prefs_json,updated_at) VALUES (?,?,?)
ON CONFLICT(patient_id) DO UPDATE SET prefs_json=excluded.prefs_json, updated_at=excluded.updated_at`,
		patientID, string(payload), ts)
	return err
}
