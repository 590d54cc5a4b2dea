package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"careline/internal/config"
	"careline/internal/repo"
)

// ResolvePatientAndConfig picks the active patient and ensures a patient
// plus stored config exist, seeding defaults if missing. It prefers the
// override, then the single patient in the database. A missing patient
// is created on the fly.
func ResolvePatientAndConfig(ctx context.Context, patientOverride, actorID string, r repo.Repo) (string, *config.Config, error) {
	patientID := patientOverride
	if patientID == "" {
		if p, err := r.SinglePatient(ctx); err == nil {
			patientID = p.ID
		} else {
			return "", nil, fmt.Errorf("patient not specified; use --patient")
		}
	}
	seedCfg := config.Default(patientID)

	if _, err := r.GetPatient(ctx, patientID); err != nil {
		if !errors.Is(err, repo.ErrNotFound) {
			return "", nil, err
		}
		if err := createPatient(ctx, r, patientID, seedCfg); err != nil {
			return "", nil, err
		}
	}
	cfg, err := r.GetPatientConfig(ctx, patientID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			if err := r.UpsertPatientConfig(ctx, patientID, seedCfg); err != nil {
				return "", nil, fmt.Errorf("seed patient config: %w", err)
			}
			cfg = seedCfg
		} else {
			return "", nil, err
		}
	}
	cfg.Patient.ID = patientID
	return patientID, cfg, nil
}

func createPatient(ctx context.Context, r repo.Repo, patientID string, seedCfg *config.Config) error {
	if seedCfg == nil {
		seedCfg = config.Default(patientID)
	}
	now := time.Now().UTC().Format(time.RFC3339)
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := r.EnsurePatient(ctx, tx, patientID, now); err != nil {
		return fmt.Errorf("ensure patient: %w", err)
	}
	if err := r.UpsertPatientConfigTx(ctx, tx, patientID, seedCfg); err != nil {
		return fmt.Errorf("insert patient config: %w", err)
	}
	return tx.Commit()
}
