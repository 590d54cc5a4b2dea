package domain

// Item types a care plan can schedule.
const (
	ItemMedication  = "medication"
	ItemVitals      = "vitals"
	ItemNutrition   = "nutrition"
	ItemHydration   = "hydration"
	ItemMood        = "mood"
	ItemSleep       = "sleep"
	ItemWellness    = "wellness"
	ItemActivity    = "activity"
	ItemAppointment = "appointment"
	ItemCustom      = "custom"
)

// Instance statuses. Completed, skipped, missed and partial are terminal.
const (
	StatusPending   = "pending"
	StatusCompleted = "completed"
	StatusSkipped   = "skipped"
	StatusMissed    = "missed"
	StatusPartial   = "partial"
)

// TerminalStatus reports whether a status can no longer change.
func TerminalStatus(s string) bool {
	return s == StatusCompleted || s == StatusSkipped || s == StatusMissed || s == StatusPartial
}

type Patient struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// CarePlan is the versioned source of truth for a patient's recurring
// obligations. Version increments on every item mutation; generated
// instances record which version produced them.
type CarePlan struct {
	ID        string `json:"id"`
	PatientID string `json:"patient_id"`
	Timezone  string `json:"timezone"`
	StartDate string `json:"start_date" format:"date"`
	EndDate   string `json:"end_date,omitempty" format:"date"`
	Status    string `json:"status" enum:"active,paused,archived"`
	Version   int64  `json:"version"`
	CreatedAt string `json:"created_at" format:"date-time"`
	UpdatedAt string `json:"updated_at" format:"date-time"`
}

type CarePlanItem struct {
	ID           string              `json:"id"`
	PlanID       string              `json:"plan_id"`
	Type         string              `json:"type" enum:"medication,vitals,nutrition,hydration,mood,sleep,wellness,activity,appointment,custom"`
	Name         string              `json:"name"`
	Emoji        string              `json:"emoji,omitempty"`
	Priority     string              `json:"priority" enum:"required,recommended,optional"`
	Active       bool                `json:"active"`
	Instructions string              `json:"instructions,omitempty"`
	Dosage       string              `json:"dosage,omitempty"`
	Schedule     Schedule            `json:"schedule"`
	Notify       *NotificationConfig `json:"notify,omitempty"`
	CreatedAt    string              `json:"created_at" format:"date-time"`
	UpdatedAt    string              `json:"updated_at" format:"date-time"`
}

// Schedule describes when an item recurs. A schedule must resolve to at
// least one time window on every day it is active.
type Schedule struct {
	Frequency  string       `json:"frequency" enum:"daily,weekly,custom" validate:"oneof=daily weekly custom"`
	Windows    []TimeWindow `json:"windows" validate:"min=1,dive"`
	DaysOfWeek []int        `json:"days_of_week,omitempty" validate:"max=7,dive,min=0,max=6"`
	SkipDates  []string     `json:"skip_dates,omitempty" validate:"dive,datetime=2006-01-02"`
}

// TimeWindow is either an exact time of day or a start/end band.
type TimeWindow struct {
	ID    string `json:"id" required:"false"`
	Label string `json:"label" enum:"morning,afternoon,evening,night,custom" required:"false"`
	At    string `json:"at,omitempty" validate:"omitempty,datetime=15:04"`
	Start string `json:"start,omitempty" validate:"omitempty,datetime=15:04"`
	End   string `json:"end,omitempty" validate:"omitempty,datetime=15:04"`
}

// DailyInstance is one concrete occurrence of an item on one date in one
// window. It carries a denormalized snapshot of the item so listings never
// join back to the plan.
type DailyInstance struct {
	ID                   string  `json:"id"`
	PatientID            string  `json:"patient_id"`
	PlanID               string  `json:"plan_id"`
	ItemID               string  `json:"item_id"`
	WindowID             string  `json:"window_id"`
	Date                 string  `json:"date" format:"date"`
	WindowLabel          string  `json:"window_label"`
	ScheduledAt          string  `json:"scheduled_at" format:"date-time"`
	ItemName             string  `json:"item_name"`
	ItemType             string  `json:"item_type"`
	ItemEmoji            string  `json:"item_emoji,omitempty"`
	Priority             string  `json:"priority"`
	Instructions         string  `json:"instructions,omitempty"`
	Dosage               string  `json:"dosage,omitempty"`
	Status               string  `json:"status" enum:"pending,completed,skipped,missed,partial"`
	LogID                *string `json:"log_id,omitempty"`
	GeneratedFromVersion int64   `json:"generated_from_version"`
	CreatedAt            string  `json:"created_at" format:"date-time"`
	UpdatedAt            string  `json:"updated_at" format:"date-time"`
}

// LogEntry is an immutable outcome record. Corrections are additional
// entries with notes, never edits.
type LogEntry struct {
	ID         string  `json:"id"`
	PatientID  string  `json:"patient_id"`
	InstanceID *string `json:"instance_id,omitempty"`
	ItemType   string  `json:"item_type"`
	Outcome    string  `json:"outcome" enum:"completed,skipped,partial,missed"`
	Data       LogData `json:"data,omitempty"`
	Notes      string  `json:"notes,omitempty"`
	LoggedAt   string  `json:"logged_at" format:"date-time"`
}

// NotificationFollowUp configures escalation after an unanswered reminder.
type NotificationFollowUp struct {
	Enabled         bool `json:"enabled"`
	IntervalMinutes int  `json:"interval_minutes,omitempty" validate:"omitempty,min=1"`
	MaxAttempts     int  `json:"max_attempts,omitempty" validate:"omitempty,min=1,max=10"`
}

// NotificationConfig is per-item reminder configuration.
type NotificationConfig struct {
	Enabled             bool                 `json:"enabled"`
	Timing              string               `json:"timing" enum:"at_time,before_5,before_15,before_30,before_60,custom" validate:"omitempty,oneof=at_time before_5 before_15 before_30 before_60 custom"`
	CustomMinutesBefore int                  `json:"custom_minutes_before,omitempty" validate:"omitempty,min=1,max=720"`
	FollowUp            NotificationFollowUp `json:"follow_up"`
}

// Scheduled notification statuses.
const (
	NotifPending   = "pending"
	NotifSent      = "sent"
	NotifActioned  = "actioned"
	NotifDismissed = "dismissed"
	NotifSnoozed   = "snoozed"
)

// ScheduledNotification is one runtime reminder record. A chain for an
// instance is the initial notification plus its follow-ups.
type ScheduledNotification struct {
	ID              string  `json:"id"`
	PatientID       string  `json:"patient_id"`
	InstanceID      string  `json:"instance_id"`
	ScheduledFor    string  `json:"scheduled_for" format:"date-time"`
	OriginalTime    string  `json:"original_time" format:"date-time"`
	Timing          string  `json:"timing"`
	Status          string  `json:"status" enum:"pending,sent,actioned,dismissed,snoozed"`
	FollowUpAttempt int     `json:"follow_up_attempt"`
	SnoozedUntil    *string `json:"snoozed_until,omitempty" format:"date-time"`
	CreatedAt       string  `json:"created_at" format:"date-time"`
	UpdatedAt       string  `json:"updated_at" format:"date-time"`
}

// QuietHours is a daily delivery blackout band. Start after End means the
// band crosses midnight.
type QuietHours struct {
	Enabled bool   `json:"enabled"`
	Start   string `json:"start,omitempty" validate:"omitempty,datetime=15:04"`
	End     string `json:"end,omitempty" validate:"omitempty,datetime=15:04"`
}

// DeliveryPreferences gate delivery globally; they never change what is
// scheduled.
type DeliveryPreferences struct {
	MasterEnabled    bool       `json:"master_enabled"`
	SoundEnabled     bool       `json:"sound_enabled"`
	VibrationEnabled bool       `json:"vibration_enabled"`
	QuietHours       QuietHours `json:"quiet_hours"`
}

// ScopeRule suppresses one item's instances on one date without touching
// the plan.
type ScopeRule struct {
	ID        string `json:"id"`
	PatientID string `json:"patient_id"`
	ItemID    string `json:"item_id"`
	Date      string `json:"date" format:"date"`
	Reason    string `json:"reason,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// Event is one append-only row in the change journal.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	PatientID  string `json:"patient_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}
