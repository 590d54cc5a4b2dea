// Package scope applies day-scoped, non-destructive suppression of plan
// items. Rules hide instances from a single day's view; the plan and the
// stored instances are untouched.
package scope

import (
	"context"
	"time"

	"github.com/google/uuid"

	"careline/internal/domain"
	"careline/internal/repo"
)

type Filter struct {
	Repo repo.Repo
	Now  func() time.Time
}

func New(r repo.Repo) Filter {
	return Filter{Repo: r, Now: time.Now}
}

// Suppress hides one item on one date. Re-suppressing updates the reason.
func (f Filter) Suppress(ctx context.Context, patientID, itemID, date, reason string) (domain.ScopeRule, error) {
	now := f.Now
	if now == nil {
		now = time.Now
	}
	rule := domain.ScopeRule{
		ID:        uuid.New().String(),
		PatientID: patientID,
		ItemID:    itemID,
		Date:      date,
		Reason:    reason,
		CreatedAt: now().UTC().Format(time.RFC3339),
	}
	if err := f.Repo.InsertScopeRule(ctx, rule); err != nil {
		return rule, err
	}
	return rule, nil
}

// Restore lifts a suppression.
func (f Filter) Restore(ctx context.Context, patientID, itemID, date string) error {
	return f.Repo.DeleteScopeRule(ctx, patientID, itemID, date)
}

// Rules returns the suppressions in force for a day.
func (f Filter) Rules(ctx context.Context, patientID, date string) ([]domain.ScopeRule, error) {
	return f.Repo.ListScopeRules(ctx, patientID, date)
}

// Apply drops suppressed instances from a day's listing.
func (f Filter) Apply(ctx context.Context, patientID, date string, instances []domain.DailyInstance) ([]domain.DailyInstance, error) {
	rules, err := f.Repo.ListScopeRules(ctx, patientID, date)
	if err != nil {
		return nil, err
	}
	if len(rules) == 0 {
		return instances, nil
	}
	hidden := make(map[string]bool, len(rules))
	for _, r := range rules {
		hidden[r.ItemID] = true
	}
	out := make([]domain.DailyInstance, 0, len(instances))
	for _, in := range instances {
		if !hidden[in.ItemID] {
			out = append(out, in)
		}
	}
	return out, nil
}
