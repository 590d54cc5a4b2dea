package domain

import (
	"encoding/json"
	"fmt"
)

// LogData is the type-specific payload of a LogEntry, modeled as a oneof:
// at most one variant may be set, and it must match the item type the log
// belongs to.
type LogData struct {
	Medication *MedicationData `json:"medication,omitempty"`
	Vitals     *VitalsData     `json:"vitals,omitempty"`
	Mood       *MoodData       `json:"mood,omitempty"`
	Nutrition  *NutritionData  `json:"nutrition,omitempty"`
	Hydration  *HydrationData  `json:"hydration,omitempty"`
	Sleep      *SleepData      `json:"sleep,omitempty"`
	Activity   *ActivityData   `json:"activity,omitempty"`
}

type MedicationData struct {
	DoseTaken   string   `json:"dose_taken,omitempty"`
	SideEffects []string `json:"side_effects,omitempty"`
}

type VitalsData struct {
	SystolicBP  int     `json:"systolic_bp,omitempty" validate:"omitempty,min=40,max=300"`
	DiastolicBP int     `json:"diastolic_bp,omitempty" validate:"omitempty,min=20,max=200"`
	HeartRate   int     `json:"heart_rate,omitempty" validate:"omitempty,min=20,max=300"`
	TempCelsius float64 `json:"temp_celsius,omitempty" validate:"omitempty,min=30,max=45"`
	GlucoseMgDl int     `json:"glucose_mg_dl,omitempty" validate:"omitempty,min=10,max=1000"`
	WeightKg    float64 `json:"weight_kg,omitempty" validate:"omitempty,min=1,max=500"`
}

type MoodData struct {
	Scale int    `json:"scale" validate:"min=1,max=10"`
	Note  string `json:"note,omitempty"`
}

type NutritionData struct {
	Meal     string `json:"meal,omitempty" validate:"omitempty,oneof=breakfast lunch dinner snack"`
	Appetite string `json:"appetite,omitempty" validate:"omitempty,oneof=none poor fair good"`
}

type HydrationData struct {
	Count int `json:"count" validate:"min=0,max=64"`
}

type SleepData struct {
	Hours   float64 `json:"hours" validate:"min=0,max=24"`
	Quality int     `json:"quality,omitempty" validate:"omitempty,min=1,max=10"`
}

type ActivityData struct {
	Minutes   int    `json:"minutes,omitempty" validate:"omitempty,min=0,max=1440"`
	Intensity string `json:"intensity,omitempty" validate:"omitempty,oneof=light moderate vigorous"`
}

// variant maps each set pointer to the item type it belongs with.
func (d LogData) variant() (string, any) {
	switch {
	case d.Medication != nil:
		return ItemMedication, d.Medication
	case d.Vitals != nil:
		return ItemVitals, d.Vitals
	case d.Mood != nil:
		return ItemMood, d.Mood
	case d.Nutrition != nil:
		return ItemNutrition, d.Nutrition
	case d.Hydration != nil:
		return ItemHydration, d.Hydration
	case d.Sleep != nil:
		return ItemSleep, d.Sleep
	case d.Activity != nil:
		return ItemActivity, d.Activity
	}
	return "", nil
}

// Empty reports whether no variant is set. Wellness, appointment and
// custom items log without a payload.
func (d LogData) Empty() bool {
	_, v := d.variant()
	return v == nil
}

// Kind returns the item type of the set variant, or "" when empty.
func (d LogData) Kind() string {
	k, _ := d.variant()
	return k
}

// CheckAgainst ensures the payload variant is consistent with the item
// type it is being logged for. Empty payloads are always acceptable.
func (d LogData) CheckAgainst(itemType string) error {
	count := 0
	for _, set := range []bool{
		d.Medication != nil, d.Vitals != nil, d.Mood != nil, d.Nutrition != nil,
		d.Hydration != nil, d.Sleep != nil, d.Activity != nil,
	} {
		if set {
			count++
		}
	}
	if count == 0 {
		return nil
	}
	if count > 1 {
		return fmt.Errorf("log data must set a single variant, got %d", count)
	}
	if kind := d.Kind(); kind != itemType {
		return fmt.Errorf("log data kind %s does not match item type %s", kind, itemType)
	}
	return nil
}

// Variant returns the concrete payload for validation, or nil when empty.
func (d LogData) Variant() any {
	_, v := d.variant()
	return v
}

// EncodeLogData serializes a payload for storage. Empty payloads encode
// as the empty string so the column stays NULL.
func EncodeLogData(d LogData) (string, error) {
	if d.Empty() {
		return "", nil
	}
	b, err := json.Marshal(d)
	if err != nil {
		return "", fmt.Errorf("marshal log data: %w", err)
	}
	return string(b), nil
}

// DecodeLogData parses a stored payload; "" yields the empty LogData.
func DecodeLogData(raw string) (LogData, error) {
	var d LogData
	if raw == "" {
		return d, nil
	}
	if err := json.Unmarshal([]byte(raw), &d); err != nil {
		return d, fmt.Errorf("unmarshal log data: %w", err)
	}
	return d, nil
}
