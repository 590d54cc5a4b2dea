package notify

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"careline/internal/domain"
	"careline/internal/repo"
)

// DispatchDue delivers every reminder whose fire time (or snooze expiry)
// has passed, then extends follow-up chains for instances still pending.
// Delivery failures are logged and left pending for the next pass.
func (s *Scheduler) DispatchDue(ctx context.Context) error {
	nowStr := s.now().UTC().Format(time.RFC3339)
	due, err := s.Repo.ListDueNotifications(ctx, nowStr)
	if err != nil {
		return err
	}
	for _, n := range due {
		if err := s.dispatchOne(ctx, n); err != nil {
			s.Logger.Warn("deliver reminder", "notification_id", n.ID, "error", err)
		}
	}
	return nil
}

func (s *Scheduler) dispatchOne(ctx context.Context, n domain.ScheduledNotification) error {
	in, err := s.Repo.GetInstance(ctx, n.InstanceID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			// instance purged; close the orphaned chain
			_, cerr := s.Repo.CancelNotificationsForInstance(ctx, n.InstanceID, s.now().UTC().Format(time.RFC3339))
			return cerr
		}
		return err
	}
	if in.Status != domain.StatusPending {
		return s.CancelForInstance(ctx, n.InstanceID)
	}
	prefs, err := s.Repo.GetDeliveryPreferences(ctx, n.PatientID)
	if err != nil {
		return err
	}
	if !prefs.MasterEnabled {
		// suppressed, not cancelled: re-enabling restores delivery
		// without recomputation
		return nil
	}
	if err := s.Deliverer.Deliver(ctx, n, prefs); err != nil {
		// recoverable; retried on the next pass
		s.Logger.Warn("delivery channel", "notification_id", n.ID, "error", err)
		return nil
	}
	nowStr := s.now().UTC().Format(time.RFC3339)
	if err := s.Repo.SetNotificationStatus(ctx, n.ID, domain.NotifSent, nil, nowStr); err != nil {
		return err
	}
	return s.extendChain(ctx, n, in, prefs)
}

// extendChain schedules the next follow-up after a successful send, up
// to the configured attempt cap.
func (s *Scheduler) extendChain(ctx context.Context, sent domain.ScheduledNotification, in domain.DailyInstance, prefs domain.DeliveryPreferences) error {
	item, err := s.Repo.GetItem(ctx, in.ItemID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil
		}
		return err
	}
	cfg, enabled := s.ResolveConfig(ctx, in.PatientID, item)
	if !enabled || !cfg.FollowUp.Enabled {
		return nil
	}
	interval := cfg.FollowUp.IntervalMinutes
	attempts := cfg.FollowUp.MaxAttempts
	if s.Config != nil {
		def := s.Config.Notifications.DefaultFollowUp
		if interval <= 0 {
			interval = def.IntervalMinutes
		}
		if attempts <= 0 {
			attempts = def.MaxAttempts
		}
	}
	if interval <= 0 || attempts <= 0 || sent.FollowUpAttempt >= attempts {
		return nil
	}
	base, err := time.Parse(time.RFC3339, sent.ScheduledFor)
	if err != nil {
		return err
	}
	fireAt := ClipQuietHours(base.Add(time.Duration(interval)*time.Minute), prefs.QuietHours)
	nowStr := s.now().UTC().Format(time.RFC3339)
	next := domain.ScheduledNotification{
		ID:              uuid.New().String(),
		PatientID:       sent.PatientID,
		InstanceID:      sent.InstanceID,
		ScheduledFor:    fireAt.UTC().Format(time.RFC3339),
		OriginalTime:    sent.OriginalTime,
		Timing:          sent.Timing,
		Status:          domain.NotifPending,
		FollowUpAttempt: sent.FollowUpAttempt + 1,
		CreatedAt:       nowStr,
		UpdatedAt:       nowStr,
	}
	if err := s.Repo.InsertNotification(ctx, next); err != nil {
		return err
	}
	s.armTimer(next.ID, fireAt)
	return nil
}

// Run polls for due reminders until the context ends. The serve command
// owns this loop; timers make it responsive, the poll makes it resilient.
func (s *Scheduler) Run(ctx context.Context) {
	interval := 30 * time.Second
	if s.Config != nil && s.Config.Notifications.DispatchIntervalSeconds > 0 {
		interval = time.Duration(s.Config.Notifications.DispatchIntervalSeconds) * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if err := s.DispatchDue(ctx); err != nil {
			s.Logger.Warn("dispatch pass", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// UpdateDeliveryPreferences stores the global delivery gates.
func (s *Scheduler) UpdateDeliveryPreferences(ctx context.Context, patientID string, prefs domain.DeliveryPreferences) error {
	return s.Repo.UpsertDeliveryPreferences(ctx, patientID, prefs, s.now().UTC().Format(time.RFC3339))
}

// DeliveryPreferences reads the global delivery gates, defaulting to
// everything enabled.
func (s *Scheduler) DeliveryPreferences(ctx context.Context, patientID string) (domain.DeliveryPreferences, error) {
	return s.Repo.GetDeliveryPreferences(ctx, patientID)
}

// UpdateItemConfig stores a per-item reminder override.
func (s *Scheduler) UpdateItemConfig(ctx context.Context, patientID, itemID string, cfg domain.NotificationConfig) error {
	if _, err := Offset(cfg.Timing, cfg.CustomMinutesBefore); err != nil {
		return err
	}
	return s.Repo.UpsertNotificationConfig(ctx, patientID, itemID, cfg, s.now().UTC().Format(time.RFC3339))
}
