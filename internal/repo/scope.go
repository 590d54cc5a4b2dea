package repo

import (
	"context"
	"database/sql"

	"careline/internal/domain"
)

func (r Repo) InsertScopeRule(ctx context.Context, rule domain.ScopeRule) error {
	_, err := r.DB.ExecContext(ctx,
		`INSERT INTO scope_rules(id,patient_id,item_id,date,reason,created_at) VALUES (?,?,?,?,?,?)
ON CONFLICT(patient_id,item_id,date) DO UPDATE SET reason=excluded.reason`,
		rule.ID, rule.PatientID, rule.ItemID, rule.Date, nullable(rule.Reason), rule.CreatedAt)
	return err
}

func (r Repo) DeleteScopeRule(ctx context.Context, patientID, itemID, date string) error {
	res, err := r.DB.ExecContext(ctx,
		`DELETE FROM scope_rules WHERE patient_id=? AND item_id=? AND date=?`, patientID, itemID, date)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) ListScopeRules(ctx context.Context, patientID, date string) ([]domain.ScopeRule, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT id,patient_id,item_id,date,reason,created_at FROM scope_rules WHERE patient_id=? AND date=? ORDER BY created_at`,
		patientID, date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ScopeRule
	for rows.Next() {
		var rule domain.ScopeRule
		var reason sql.NullString
		if err := rows.Scan(&rule.ID, &rule.PatientID, &rule.ItemID, &rule.Date, &reason, &rule.CreatedAt); err != nil {
			return nil, err
		}
		rule.Reason = reason.String
		res = append(res, rule)
	}
	return res, rows.Err()
}
