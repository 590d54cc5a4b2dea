package server

import (
	"encoding/json"

	"careline/internal/domain"
)

// Request payloads

type CreatePatientRequest struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name"`
}

type CreatePlanRequest struct {
	ID        string `json:"id,omitempty"`
	Timezone  string `json:"timezone,omitempty"`
	StartDate string `json:"start_date,omitempty" format:"date"`
	EndDate   string `json:"end_date,omitempty" format:"date"`
}

type SetPlanStatusRequest struct {
	Status string `json:"status" enum:"active,paused,archived"`
}

type ItemRequest struct {
	ID           string                     `json:"id,omitempty"`
	Type         string                     `json:"type,omitempty" enum:"medication,vitals,nutrition,hydration,mood,sleep,wellness,activity,appointment,custom"`
	Name         string                     `json:"name"`
	Emoji        string                     `json:"emoji,omitempty"`
	Priority     string                     `json:"priority,omitempty" enum:"required,recommended,optional"`
	Instructions string                     `json:"instructions,omitempty"`
	Dosage       string                     `json:"dosage,omitempty"`
	Schedule     domain.Schedule            `json:"schedule"`
	Notify       *domain.NotificationConfig `json:"notify,omitempty"`
}

type SetItemActiveRequest struct {
	Active bool `json:"active"`
}

type CompleteInstanceRequest struct {
	Outcome string         `json:"outcome,omitempty" enum:"completed,partial"`
	Data    domain.LogData `json:"data,omitempty"`
	Notes   string         `json:"notes,omitempty"`
}

type SkipInstanceRequest struct {
	Notes string `json:"notes,omitempty"`
}

type CorrectionRequest struct {
	Notes string         `json:"notes"`
	Data  domain.LogData `json:"data,omitempty"`
}

type SnoozeRequest struct {
	Minutes int `json:"minutes,omitempty" minimum:"1" maximum:"720"`
}

type SuppressRequest struct {
	ItemID string `json:"item_id"`
	Date   string `json:"date" format:"date"`
	Reason string `json:"reason,omitempty"`
}

type PurgeRequest struct {
	Start string `json:"start" format:"date"`
	End   string `json:"end" format:"date"`
}

// Response payloads

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts" format:"date-time"`
	Type       string         `json:"type"`
	PatientID  string         `json:"patient_id,omitempty"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

type DayResponse struct {
	Date      string                 `json:"date" format:"date"`
	Instances []domain.DailyInstance `json:"instances"`
	Scheduled int                    `json:"reminders_scheduled,omitempty"`
}

type CompleteResponse struct {
	Instance domain.DailyInstance `json:"instance"`
	Log      domain.LogEntry      `json:"log"`
}

type PurgeResponse struct {
	Removed int64 `json:"removed"`
}

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		PatientID:  e.PatientID,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		ActorID:    e.ActorID,
		Payload:    decodeJSONMap(e.Payload),
	}
}

func mapEvents(events []domain.Event) []EventResponse {
	out := make([]EventResponse, 0, len(events))
	for _, e := range events {
		out = append(out, eventResponse(e))
	}
	return out
}

func decodeJSONMap(raw string) map[string]any {
	if raw == "" {
		return nil
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(raw), &obj); err != nil {
		return nil
	}
	return obj
}

func nonNilInstances(in []domain.DailyInstance) []domain.DailyInstance {
	if in == nil {
		return []domain.DailyInstance{}
	}
	return in
}
