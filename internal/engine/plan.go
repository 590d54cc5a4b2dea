package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"careline/internal/domain"
	"careline/internal/events"
	"careline/internal/repo"
	"careline/internal/schedule"
)

// CreatePatient registers a care recipient.
func (e *Engine) CreatePatient(ctx context.Context, id, name, actorID string) (domain.Patient, error) {
	if id == "" {
		id = uuid.New().String()
	}
	p := domain.Patient{
		ID:        id,
		Name:      name,
		CreatedAt: e.now().UTC().Format(time.RFC3339),
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return p, err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `INSERT INTO patients(id,name,created_at) VALUES (?,?,?)`, p.ID, p.Name, p.CreatedAt); err != nil {
		return p, fmt.Errorf("insert patient: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "patient.created", p.ID, "patient", p.ID, actorID, events.EventPayload{"name": p.Name}); err != nil {
		return p, err
	}
	if err := tx.Commit(); err != nil {
		return p, err
	}
	return p, nil
}

// PlanCreateOptions are parameters for creating a care plan.
type PlanCreateOptions struct {
	ID        string
	PatientID string
	Timezone  string
	StartDate string
	EndDate   string
	ActorID   string
}

func (e *Engine) CreatePlan(ctx context.Context, opts PlanCreateOptions) (domain.CarePlan, error) {
	if opts.PatientID == "" {
		return domain.CarePlan{}, errors.New("patient is required")
	}
	if _, err := e.Repo.GetPatient(ctx, opts.PatientID); err != nil {
		return domain.CarePlan{}, err
	}
	if opts.Timezone == "" {
		opts.Timezone = "UTC"
	}
	if _, err := time.LoadLocation(opts.Timezone); err != nil {
		return domain.CarePlan{}, fmt.Errorf("invalid timezone %s: %w", opts.Timezone, err)
	}
	now := e.now().UTC()
	if opts.StartDate == "" {
		opts.StartDate = now.Format(schedule.DateLayout)
	}
	if opts.EndDate != "" && opts.EndDate < opts.StartDate {
		return domain.CarePlan{}, errors.New("end date before start date")
	}
	id := opts.ID
	if id == "" {
		id = uuid.New().String()
	}
	nowStr := now.Format(time.RFC3339)
	p := domain.CarePlan{
		ID:        id,
		PatientID: opts.PatientID,
		Timezone:  opts.Timezone,
		StartDate: opts.StartDate,
		EndDate:   opts.EndDate,
		Status:    "active",
		Version:   1,
		CreatedAt: nowStr,
		UpdatedAt: nowStr,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return p, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertPlanTx(ctx, tx, p); err != nil {
		return p, fmt.Errorf("insert plan: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "plan.created", p.PatientID, "plan", p.ID, opts.ActorID, events.EventPayload{
		"timezone": p.Timezone, "start_date": p.StartDate,
	}); err != nil {
		return p, err
	}
	if err := tx.Commit(); err != nil {
		return p, err
	}
	e.publish(events.Change{Topic: events.TopicPlan, PatientID: p.PatientID})
	return p, nil
}

func ensurePlanTransition(oldStatus, newStatus string) error {
	switch oldStatus {
	case "active":
		if newStatus == "paused" || newStatus == "archived" {
			return nil
		}
	case "paused":
		if newStatus == "active" || newStatus == "archived" {
			return nil
		}
	}
	return fmt.Errorf("invalid plan status transition %s -> %s", oldStatus, newStatus)
}

func (e *Engine) SetPlanStatus(ctx context.Context, planID, status, actorID string) (domain.CarePlan, error) {
	p, err := e.Repo.GetPlan(ctx, planID)
	if err != nil {
		return p, err
	}
	if err := ensurePlanTransition(p.Status, status); err != nil {
		return p, err
	}
	nowStr := e.now().UTC().Format(time.RFC3339)
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return p, err
	}
	defer tx.Rollback()
	if err := e.Repo.SetPlanStatusTx(ctx, tx, planID, status, nowStr); err != nil {
		return p, err
	}
	if err := e.Events.Append(ctx, tx, "plan.status", p.PatientID, "plan", p.ID, actorID, events.EventPayload{
		"from": p.Status, "to": status,
	}); err != nil {
		return p, err
	}
	if err := tx.Commit(); err != nil {
		return p, err
	}
	p.Status = status
	p.UpdatedAt = nowStr
	e.publish(events.Change{Topic: events.TopicPlan, PatientID: p.PatientID})
	return p, nil
}

// ItemOptions are parameters for adding or updating a plan item.
type ItemOptions struct {
	ID           string
	PlanID       string
	Type         string
	Name         string
	Emoji        string
	Priority     string
	Instructions string
	Dosage       string
	Schedule     domain.Schedule
	Notify       *domain.NotificationConfig
	ActorID      string
}

func (e *Engine) validateItemOptions(opts *ItemOptions) error {
	if opts.Name == "" {
		return errors.New("item name is required")
	}
	switch opts.Type {
	case domain.ItemMedication, domain.ItemVitals, domain.ItemNutrition, domain.ItemHydration,
		domain.ItemMood, domain.ItemSleep, domain.ItemWellness, domain.ItemActivity,
		domain.ItemAppointment, domain.ItemCustom:
	case "":
		opts.Type = domain.ItemCustom
	default:
		return fmt.Errorf("unknown item type %s", opts.Type)
	}
	switch opts.Priority {
	case "required", "recommended", "optional":
	case "":
		opts.Priority = "recommended"
	default:
		return fmt.Errorf("unknown priority %s", opts.Priority)
	}
	if opts.Schedule.Frequency == "" {
		opts.Schedule.Frequency = "daily"
	}
	return schedule.Validate(opts.Schedule)
}

// AddItem appends an item to a plan and bumps the plan version so the
// next generation pass picks it up.
func (e *Engine) AddItem(ctx context.Context, opts ItemOptions) (domain.CarePlanItem, error) {
	if err := e.validateItemOptions(&opts); err != nil {
		return domain.CarePlanItem{}, err
	}
	p, err := e.Repo.GetPlan(ctx, opts.PlanID)
	if err != nil {
		return domain.CarePlanItem{}, err
	}
	id := opts.ID
	nowStr := e.now().UTC().Format(time.RFC3339)
	if id == "" {
		id = uuid.NewSHA1(uuid.NameSpaceOID, []byte(opts.PlanID+"|"+opts.Name+"|"+nowStr)).String()
	}
	// fill stable window ids before persisting so generation stays
	// deterministic across schedule reads
	for i := range opts.Schedule.Windows {
		opts.Schedule.Windows[i].ID = schedule.WindowID(id, opts.Schedule.Windows[i])
	}
	it := domain.CarePlanItem{
		ID:           id,
		PlanID:       opts.PlanID,
		Type:         opts.Type,
		Name:         opts.Name,
		Emoji:        opts.Emoji,
		Priority:     opts.Priority,
		Active:       true,
		Instructions: opts.Instructions,
		Dosage:       opts.Dosage,
		Schedule:     opts.Schedule,
		Notify:       opts.Notify,
		CreatedAt:    nowStr,
		UpdatedAt:    nowStr,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return it, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertItemTx(ctx, tx, it); err != nil {
		return it, fmt.Errorf("insert item: %w", err)
	}
	version, err := e.Repo.BumpPlanVersionTx(ctx, tx, p.ID, nowStr)
	if err != nil {
		return it, err
	}
	if err := e.Events.Append(ctx, tx, "item.added", p.PatientID, "item", it.ID, opts.ActorID, events.EventPayload{
		"name": it.Name, "type": it.Type, "plan_version": version,
	}); err != nil {
		return it, err
	}
	if err := tx.Commit(); err != nil {
		return it, err
	}
	e.publish(events.Change{Topic: events.TopicPlan, PatientID: p.PatientID})
	return it, nil
}

// UpdateItem replaces an item's definition and bumps the plan version.
func (e *Engine) UpdateItem(ctx context.Context, opts ItemOptions) (domain.CarePlanItem, error) {
	if opts.ID == "" {
		return domain.CarePlanItem{}, errors.New("item id is required")
	}
	it, err := e.Repo.GetItem(ctx, opts.ID)
	if err != nil {
		return it, err
	}
	p, err := e.Repo.GetPlan(ctx, it.PlanID)
	if err != nil {
		return it, err
	}
	if err := e.validateItemOptions(&opts); err != nil {
		return it, err
	}
	for i := range opts.Schedule.Windows {
		opts.Schedule.Windows[i].ID = schedule.WindowID(it.ID, opts.Schedule.Windows[i])
	}
	nowStr := e.now().UTC().Format(time.RFC3339)
	it.Type = opts.Type
	it.Name = opts.Name
	it.Emoji = opts.Emoji
	it.Priority = opts.Priority
	it.Instructions = opts.Instructions
	it.Dosage = opts.Dosage
	it.Schedule = opts.Schedule
	if opts.Notify != nil {
		it.Notify = opts.Notify
	}
	it.UpdatedAt = nowStr

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return it, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateItemTx(ctx, tx, it); err != nil {
		return it, err
	}
	version, err := e.Repo.BumpPlanVersionTx(ctx, tx, p.ID, nowStr)
	if err != nil {
		return it, err
	}
	if err := e.Events.Append(ctx, tx, "item.updated", p.PatientID, "item", it.ID, opts.ActorID, events.EventPayload{
		"plan_version": version,
	}); err != nil {
		return it, err
	}
	if err := tx.Commit(); err != nil {
		return it, err
	}
	e.publish(events.Change{Topic: events.TopicPlan, PatientID: p.PatientID})
	return it, nil
}

// SetItemActive toggles an item without losing its definition; inactive
// items stop generating instances on the next version.
func (e *Engine) SetItemActive(ctx context.Context, itemID string, active bool, actorID string) (domain.CarePlanItem, error) {
	it, err := e.Repo.GetItem(ctx, itemID)
	if err != nil {
		return it, err
	}
	if it.Active == active {
		return it, nil
	}
	p, err := e.Repo.GetPlan(ctx, it.PlanID)
	if err != nil {
		return it, err
	}
	nowStr := e.now().UTC().Format(time.RFC3339)
	it.Active = active
	it.UpdatedAt = nowStr
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return it, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateItemTx(ctx, tx, it); err != nil {
		return it, err
	}
	version, err := e.Repo.BumpPlanVersionTx(ctx, tx, p.ID, nowStr)
	if err != nil {
		return it, err
	}
	if err := e.Events.Append(ctx, tx, "item.active", p.PatientID, "item", it.ID, actorID, events.EventPayload{
		"active": active, "plan_version": version,
	}); err != nil {
		return it, err
	}
	if err := tx.Commit(); err != nil {
		return it, err
	}
	e.publish(events.Change{Topic: events.TopicPlan, PatientID: p.PatientID})
	return it, nil
}

// ActivePlanItems returns the active plan plus its items, the read the
// generator and the notification scheduler both start from.
func (e *Engine) ActivePlanItems(ctx context.Context, patientID string) (domain.CarePlan, []domain.CarePlanItem, error) {
	p, err := e.Repo.ActivePlan(ctx, patientID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return p, nil, fmt.Errorf("no active care plan for patient %s: %w", patientID, err)
		}
		return p, nil, err
	}
	items, err := e.Repo.ListItems(ctx, p.ID)
	if err != nil {
		return p, nil, err
	}
	return p, items, nil
}
