package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"careline/internal/config"
	"careline/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// --- patients ---

func (r Repo) InsertPatient(ctx context.Context, p domain.Patient) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO patients(id,name,created_at) VALUES (?,?,?)`,
		p.ID, p.Name, p.CreatedAt)
	return err
}

func (r Repo) EnsurePatient(ctx context.Context, tx *sql.Tx, id, ts string) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO patients(id,name,created_at) VALUES (?,?,?) ON CONFLICT(id) DO NOTHING`,
		id, "", ts)
	return err
}

func (r Repo) GetPatient(ctx context.Context, id string) (domain.Patient, error) {
	var p domain.Patient
	err := r.DB.QueryRowContext(ctx, `SELECT id,COALESCE(name,''),created_at FROM patients WHERE id=?`, id).
		Scan(&p.ID, &p.Name, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	return p, err
}

func (r Repo) ListPatients(ctx context.Context) ([]domain.Patient, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,COALESCE(name,''),created_at FROM patients ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Patient
	for rows.Next() {
		var p domain.Patient
		if err := rows.Scan(&p.ID, &p.Name, &p.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

func (r Repo) SinglePatient(ctx context.Context) (domain.Patient, error) {
	patients, err := r.ListPatients(ctx)
	if err != nil {
		return domain.Patient{}, err
	}
	if len(patients) == 0 {
		return domain.Patient{}, ErrNotFound
	}
	if len(patients) > 1 {
		return domain.Patient{}, fmt.Errorf("multiple patients exist; specify --patient")
	}
	return patients[0], nil
}

// --- patient configs ---

func (r Repo) UpsertPatientConfig(ctx context.Context, patientID string, cfg *config.Config) error {
	return upsertPatientConfig(ctx, r.DB, nil, patientID, cfg)
}

func (r Repo) UpsertPatientConfigTx(ctx context.Context, tx *sql.Tx, patientID string, cfg *config.Config) error {
	return upsertPatientConfig(ctx, nil, tx, patientID, cfg)
}

func upsertPatientConfig(ctx context.Context, db *sql.DB, tx *sql.Tx, patientID string, cfg *config.Config) error {
	if cfg == nil {
		return fmt.Errorf("config nil")
	}
	cfg.Patient.ID = patientID
	if err := cfg.Validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	now := time.Now().UTC().Format(time.RFC3339)
	exec := func(query string, args ...any) (sql.Result, error) {
		if tx != nil {
			return tx.ExecContext(ctx, query, args...)
		}
		return db.ExecContext(ctx, query, args...)
	}
	_, err = exec(`INSERT INTO patient_configs(patient_id,config_json,created_at,updated_at) VALUES (?,?,?,?)
ON CONFLICT(patient_id) DO UPDATE SET config_json=excluded.config_json, updated_at=excluded.updated_at`, patientID, string(payload), now, now)
	return err
}

func (r Repo) GetPatientConfig(ctx context.Context, patientID string) (*config.Config, error) {
	var payload string
	err := r.DB.QueryRowContext(ctx, `SELECT config_json FROM patient_configs WHERE patient_id=?`, patientID).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var cfg config.Config
	if err := json.Unmarshal([]byte(payload), &cfg); err != nil {
		return nil, err
	}
	if cfg.Patient.ID == "" {
		cfg.Patient.ID = patientID
	}
	return &cfg, cfg.Validate()
}

// --- care plans ---

func scanPlan(row *sql.Row) (domain.CarePlan, error) {
	var p domain.CarePlan
	var end sql.NullString
	err := row.Scan(&p.ID, &p.PatientID, &p.Timezone, &p.StartDate, &end, &p.Status, &p.Version, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	if end.Valid {
		p.EndDate = end.String
	}
	return p, err
}

const planCols = `id,patient_id,timezone,start_date,end_date,status,version,created_at,updated_at`

func (r Repo) InsertPlanTx(ctx context.Context, tx *sql.Tx, p domain.CarePlan) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO care_plans(`+planCols+`) VALUES (?,?,?,?,?,?,?,?,?)`,
		p.ID, p.PatientID, p.Timezone, p.StartDate, nullable(p.EndDate), p.Status, p.Version, p.CreatedAt, p.UpdatedAt)
	return err
}

func (r Repo) GetPlan(ctx context.Context, id string) (domain.CarePlan, error) {
	return scanPlan(r.DB.QueryRowContext(ctx, `SELECT `+planCols+` FROM care_plans WHERE id=?`, id))
}

// ActivePlan returns the patient's single active plan.
func (r Repo) ActivePlan(ctx context.Context, patientID string) (domain.CarePlan, error) {
	return scanPlan(r.DB.QueryRowContext(ctx,
		`SELECT `+planCols+` FROM care_plans WHERE patient_id=? AND status='active' ORDER BY created_at DESC LIMIT 1`, patientID))
}

func (r Repo) ListPlans(ctx context.Context, patientID string) ([]domain.CarePlan, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+planCols+` FROM care_plans WHERE patient_id=? ORDER BY created_at DESC`, patientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.CarePlan
	for rows.Next() {
		var p domain.CarePlan
		var end sql.NullString
		if err := rows.Scan(&p.ID, &p.PatientID, &p.Timezone, &p.StartDate, &end, &p.Status, &p.Version, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		if end.Valid {
			p.EndDate = end.String
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

func (r Repo) SetPlanStatusTx(ctx context.Context, tx *sql.Tx, id, status, ts string) error {
	res, err := tx.ExecContext(ctx, `UPDATE care_plans SET status=?, updated_at=? WHERE id=?`, status, ts, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// BumpPlanVersionTx advances the plan version; instance generation keys
// off the returned value.
func (r Repo) BumpPlanVersionTx(ctx context.Context, tx *sql.Tx, id, ts string) (int64, error) {
	res, err := tx.ExecContext(ctx, `UPDATE care_plans SET version=version+1, updated_at=? WHERE id=?`, ts, id)
	if err != nil {
		return 0, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return 0, ErrNotFound
	}
	var v int64
	if err := tx.QueryRowContext(ctx, `SELECT version FROM care_plans WHERE id=?`, id).Scan(&v); err != nil {
		return 0, err
	}
	return v, nil
}

// --- care plan items ---

func (r Repo) InsertItemTx(ctx context.Context, tx *sql.Tx, it domain.CarePlanItem) error {
	scheduleJSON, err := json.Marshal(it.Schedule)
	if err != nil {
		return fmt.Errorf("marshal schedule: %w", err)
	}
	var notifyJSON any
	if it.Notify != nil {
		b, err := json.Marshal(it.Notify)
		if err != nil {
			return fmt.Errorf("marshal notify config: %w", err)
		}
		notifyJSON = string(b)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO care_plan_items(id,plan_id,type,name,emoji,priority,active,instructions,dosage,schedule_json,notify_json,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		it.ID, it.PlanID, it.Type, it.Name, nullable(it.Emoji), it.Priority, boolInt(it.Active),
		nullable(it.Instructions), nullable(it.Dosage), string(scheduleJSON), notifyJSON, it.CreatedAt, it.UpdatedAt)
	return err
}

func (r Repo) UpdateItemTx(ctx context.Context, tx *sql.Tx, it domain.CarePlanItem) error {
	scheduleJSON, err := json.Marshal(it.Schedule)
	if err != nil {
		return fmt.Errorf("marshal schedule: %w", err)
	}
	var notifyJSON any
	if it.Notify != nil {
		b, err := json.Marshal(it.Notify)
		if err != nil {
			return fmt.Errorf("marshal notify config: %w", err)
		}
		notifyJSON = string(b)
	}
	res, err := tx.ExecContext(ctx, `UPDATE care_plan_items SET type=?,name=?,emoji=?,priority=?,active=?,instructions=?,dosage=?,schedule_json=?,notify_json=?,updated_at=? WHERE id=?`,
		it.Type, it.Name, nullable(it.Emoji), it.Priority, boolInt(it.Active),
		nullable(it.Instructions), nullable(it.Dosage), string(scheduleJSON), notifyJSON, it.UpdatedAt, it.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanItem(scan func(dest ...any) error) (domain.CarePlanItem, error) {
	var it domain.CarePlanItem
	var emoji, instructions, dosage, notifyJSON sql.NullString
	var active int
	var scheduleJSON string
	err := scan(&it.ID, &it.PlanID, &it.Type, &it.Name, &emoji, &it.Priority, &active,
		&instructions, &dosage, &scheduleJSON, &notifyJSON, &it.CreatedAt, &it.UpdatedAt)
	if err == sql.ErrNoRows {
		return it, ErrNotFound
	}
	if err != nil {
		return it, err
	}
	it.Emoji = emoji.String
	it.Instructions = instructions.String
	it.Dosage = dosage.String
	it.Active = active != 0
	if err := json.Unmarshal([]byte(scheduleJSON), &it.Schedule); err != nil {
		return it, fmt.Errorf("unmarshal schedule for item %s: %w", it.ID, err)
	}
	if notifyJSON.Valid && notifyJSON.String != "" {
		var nc domain.NotificationConfig
		if err := json.Unmarshal([]byte(notifyJSON.String), &nc); err != nil {
			return it, fmt.Errorf("unmarshal notify config for item %s: %w", it.ID, err)
		}
		it.Notify = &nc
	}
	return it, nil
}

const itemCols = `id,plan_id,type,name,emoji,priority,active,instructions,dosage,schedule_json,notify_json,created_at,updated_at`

func (r Repo) GetItem(ctx context.Context, id string) (domain.CarePlanItem, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+itemCols+` FROM care_plan_items WHERE id=?`, id)
	return scanItem(row.Scan)
}

// ListItems returns all items of a plan, active or not.
func (r Repo) ListItems(ctx context.Context, planID string) ([]domain.CarePlanItem, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+itemCols+` FROM care_plan_items WHERE plan_id=? ORDER BY created_at`, planID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.CarePlanItem
	for rows.Next() {
		it, err := scanItem(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, it)
	}
	return res, rows.Err()
}
