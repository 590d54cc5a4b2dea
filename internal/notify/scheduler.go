// Package notify computes reminder fire times from per-item
// configuration, keeps the registry of scheduled notifications, and runs
// escalating follow-up chains until the owning instance leaves pending.
package notify

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"careline/internal/config"
	"careline/internal/domain"
	"careline/internal/events"
	"careline/internal/repo"
)

// Deliverer is the OS-level delivery channel. Failures are recoverable:
// the scheduler retries on its next pass.
type Deliverer interface {
	Deliver(ctx context.Context, n domain.ScheduledNotification, prefs domain.DeliveryPreferences) error
}

// LogDeliverer writes reminders to the structured log; the default
// channel for headless runs and tests.
type LogDeliverer struct {
	Logger *slog.Logger
}

func (d LogDeliverer) Deliver(_ context.Context, n domain.ScheduledNotification, prefs domain.DeliveryPreferences) error {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("reminder",
		"notification_id", n.ID,
		"instance_id", n.InstanceID,
		"attempt", n.FollowUpAttempt,
		"sound", prefs.SoundEnabled,
		"vibration", prefs.VibrationEnabled)
	return nil
}

// Scheduler owns the reminder registry and the timers that drive it.
// Timers are owned resources: Close releases every outstanding one.
type Scheduler struct {
	Repo      repo.Repo
	Config    *config.Config
	Now       func() time.Time
	Deliverer Deliverer
	Logger    *slog.Logger

	mu     sync.Mutex
	timers map[string]*time.Timer // notification id -> armed timer
	unsub  func()
	closed bool
}

func New(r repo.Repo, bus *events.Bus, cfg *config.Config) *Scheduler {
	s := &Scheduler{
		Repo:      r,
		Config:    cfg,
		Now:       time.Now,
		Deliverer: LogDeliverer{},
		Logger:    slog.Default(),
		timers:    make(map[string]*time.Timer),
	}
	if bus != nil {
		s.unsub = bus.Subscribe(events.TopicInstances, s.onInstanceChange)
	}
	return s
}

func (s *Scheduler) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// onInstanceChange cancels chains for instances that left pending. The
// bus delivers instance ids only for per-instance transitions.
func (s *Scheduler) onInstanceChange(c events.Change) {
	ctx := context.Background()
	for _, id := range c.InstanceIDs {
		if err := s.CancelForInstance(ctx, id); err != nil {
			s.Logger.Warn("cancel reminders", "instance_id", id, "error", err)
		}
	}
}

// Close stops every armed timer and detaches from the bus.
func (s *Scheduler) Close() {
	s.mu.Lock()
	s.closed = true
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
	s.mu.Unlock()
	if s.unsub != nil {
		s.unsub()
	}
}

func (s *Scheduler) armTimer(id string, fireAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if old, ok := s.timers[id]; ok {
		old.Stop()
	}
	d := time.Until(fireAt)
	if d < 0 {
		d = 0
	}
	s.timers[id] = time.AfterFunc(d, func() {
		s.mu.Lock()
		delete(s.timers, id)
		closed := s.closed
		s.mu.Unlock()
		if closed {
			return
		}
		if err := s.DispatchDue(context.Background()); err != nil {
			s.Logger.Warn("dispatch", "error", err)
		}
	})
}

func (s *Scheduler) stopTimer(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.timers[id]; ok {
		t.Stop()
		delete(s.timers, id)
	}
}

// ResolveConfig picks the effective reminder config for an item: the
// stored per-patient override wins, then the item's own config.
func (s *Scheduler) ResolveConfig(ctx context.Context, patientID string, item domain.CarePlanItem) (domain.NotificationConfig, bool) {
	if cfg, err := s.Repo.GetNotificationConfig(ctx, patientID, item.ID); err == nil {
		return cfg, cfg.Enabled
	}
	if item.Notify != nil {
		return *item.Notify, item.Notify.Enabled
	}
	return domain.NotificationConfig{}, false
}

// ScheduleForInstance opens a reminder chain for a pending instance. One
// active chain per instance: an existing open chain is returned as-is.
func (s *Scheduler) ScheduleForInstance(ctx context.Context, in domain.DailyInstance, cfg domain.NotificationConfig) (*domain.ScheduledNotification, error) {
	if !cfg.Enabled || in.Status != domain.StatusPending {
		return nil, nil
	}
	existing, err := s.Repo.ListNotificationsForInstance(ctx, in.ID)
	if err != nil {
		return nil, err
	}
	for i := range existing {
		if existing[i].Status == domain.NotifPending || existing[i].Status == domain.NotifSnoozed {
			return &existing[i], nil
		}
	}
	if len(existing) > 0 {
		// chain already ran (sent/actioned/dismissed); never reopen
		return nil, nil
	}
	prefs, err := s.Repo.GetDeliveryPreferences(ctx, in.PatientID)
	if err != nil {
		return nil, err
	}
	fireAt, err := FireTime(in.ScheduledAt, cfg, prefs)
	if err != nil {
		return nil, err
	}
	nowStr := s.now().UTC().Format(time.RFC3339)
	n := domain.ScheduledNotification{
		ID:           uuid.New().String(),
		PatientID:    in.PatientID,
		InstanceID:   in.ID,
		ScheduledFor: fireAt.UTC().Format(time.RFC3339),
		OriginalTime: in.ScheduledAt,
		Timing:       cfg.Timing,
		Status:       domain.NotifPending,
		CreatedAt:    nowStr,
		UpdatedAt:    nowStr,
	}
	if n.Timing == "" {
		n.Timing = "at_time"
	}
	if err := s.Repo.InsertNotification(ctx, n); err != nil {
		return nil, err
	}
	s.armTimer(n.ID, fireAt)
	return &n, nil
}

// ScheduleForDay walks a day's pending instances and opens chains for
// every item with reminders enabled.
func (s *Scheduler) ScheduleForDay(ctx context.Context, patientID string, instances []domain.DailyInstance, items []domain.CarePlanItem) (int, error) {
	byItem := make(map[string]domain.CarePlanItem, len(items))
	for _, it := range items {
		byItem[it.ID] = it
	}
	scheduled := 0
	for _, in := range instances {
		if in.Status != domain.StatusPending {
			continue
		}
		item, ok := byItem[in.ItemID]
		if !ok {
			continue
		}
		cfg, enabled := s.ResolveConfig(ctx, patientID, item)
		if !enabled {
			continue
		}
		n, err := s.ScheduleForInstance(ctx, in, cfg)
		if err != nil {
			return scheduled, err
		}
		if n != nil {
			scheduled++
		}
	}
	return scheduled, nil
}

// CancelForInstance closes the instance's chain: every open notification
// is marked actioned and its timer released.
func (s *Scheduler) CancelForInstance(ctx context.Context, instanceID string) error {
	rows, err := s.Repo.ListNotificationsForInstance(ctx, instanceID)
	if err != nil {
		return err
	}
	nowStr := s.now().UTC().Format(time.RFC3339)
	if _, err := s.Repo.CancelNotificationsForInstance(ctx, instanceID, nowStr); err != nil {
		return err
	}
	for _, n := range rows {
		s.stopTimer(n.ID)
	}
	return nil
}

// Snooze pushes one notification out by the given minutes.
func (s *Scheduler) Snooze(ctx context.Context, notificationID string, minutes int) (domain.ScheduledNotification, error) {
	n, err := s.Repo.GetNotification(ctx, notificationID)
	if err != nil {
		return n, err
	}
	if n.Status == domain.NotifActioned || n.Status == domain.NotifDismissed {
		return n, errors.New("notification already closed")
	}
	if minutes <= 0 {
		minutes = 10
	}
	until := s.now().Add(time.Duration(minutes) * time.Minute)
	untilStr := until.UTC().Format(time.RFC3339)
	nowStr := s.now().UTC().Format(time.RFC3339)
	if err := s.Repo.SetNotificationStatus(ctx, n.ID, domain.NotifSnoozed, &untilStr, nowStr); err != nil {
		return n, err
	}
	n.Status = domain.NotifSnoozed
	n.SnoozedUntil = &untilStr
	s.armTimer(n.ID, until)
	return n, nil
}

// Dismiss closes one notification without touching the rest of the chain.
func (s *Scheduler) Dismiss(ctx context.Context, notificationID string) error {
	n, err := s.Repo.GetNotification(ctx, notificationID)
	if err != nil {
		return err
	}
	nowStr := s.now().UTC().Format(time.RFC3339)
	if err := s.Repo.SetNotificationStatus(ctx, n.ID, domain.NotifDismissed, nil, nowStr); err != nil {
		return err
	}
	s.stopTimer(n.ID)
	return nil
}

// Upcoming lists pending and snoozed reminders in fire order.
func (s *Scheduler) Upcoming(ctx context.Context, patientID string, limit int) ([]domain.ScheduledNotification, error) {
	return s.Repo.ListUpcomingNotifications(ctx, patientID, limit)
}
