package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"careline/internal/domain"
	"careline/internal/engine"
	"careline/internal/insights"
	"careline/internal/notify"
	"careline/internal/repo"
	"careline/internal/scope"
)

func registerPatients(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-patient",
		Method:        http.MethodPost,
		Path:          "/patients",
		Summary:       "Register patient",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusConflict, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		Actor string               `header:"X-Actor-Id"`
		Body  CreatePatientRequest `json:"body"`
	}) (*struct {
		Body domain.Patient `json:"body"`
	}, error) {
		if input.Body.Name == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "name is required", nil)
		}
		p, err := e.CreatePatient(ctx, input.Body.ID, input.Body.Name, actorFrom(input.Actor))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Patient `json:"body"`
		}{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-patients",
		Method:      http.MethodGet,
		Path:        "/patients",
		Summary:     "List patients",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.Patient `json:"body"`
	}, error) {
		items, err := e.Repo.ListPatients(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Patient `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-patient",
		Method:      http.MethodGet,
		Path:        "/patients/{patient_id}",
		Summary:     "Get patient",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		PatientID string `path:"patient_id"`
	}) (*struct {
		Body domain.Patient `json:"body"`
	}, error) {
		p, err := e.Repo.GetPatient(ctx, input.PatientID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Patient `json:"body"`
		}{Body: p}, nil
	})
}

func registerPlans(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-plan",
		Method:        http.MethodPost,
		Path:          "/patients/{patient_id}/plans",
		Summary:       "Create care plan",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		PatientID string            `path:"patient_id"`
		Actor     string            `header:"X-Actor-Id"`
		Body      CreatePlanRequest `json:"body"`
	}) (*struct {
		Body domain.CarePlan `json:"body"`
	}, error) {
		p, err := e.CreatePlan(ctx, engine.PlanCreateOptions{
			ID:        input.Body.ID,
			PatientID: input.PatientID,
			Timezone:  input.Body.Timezone,
			StartDate: input.Body.StartDate,
			EndDate:   input.Body.EndDate,
			ActorID:   actorFrom(input.Actor),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.CarePlan `json:"body"`
		}{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-plans",
		Method:      http.MethodGet,
		Path:        "/patients/{patient_id}/plans",
		Summary:     "List care plans",
	}, func(ctx context.Context, input *struct {
		PatientID string `path:"patient_id"`
	}) (*struct {
		Body []domain.CarePlan `json:"body"`
	}, error) {
		plans, err := e.Repo.ListPlans(ctx, input.PatientID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.CarePlan `json:"body"`
		}{Body: plans}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-plan",
		Method:      http.MethodGet,
		Path:        "/plans/{plan_id}",
		Summary:     "Get care plan",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		PlanID string `path:"plan_id"`
	}) (*struct {
		Body domain.CarePlan `json:"body"`
	}, error) {
		p, err := e.Repo.GetPlan(ctx, input.PlanID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.CarePlan `json:"body"`
		}{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-plan-status",
		Method:      http.MethodPatch,
		Path:        "/plans/{plan_id}/status",
		Summary:     "Pause, resume or archive a plan",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		PlanID string               `path:"plan_id"`
		Actor  string               `header:"X-Actor-Id"`
		Body   SetPlanStatusRequest `json:"body"`
	}) (*struct {
		Body domain.CarePlan `json:"body"`
	}, error) {
		p, err := e.SetPlanStatus(ctx, input.PlanID, input.Body.Status, actorFrom(input.Actor))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.CarePlan `json:"body"`
		}{Body: p}, nil
	})
}

func registerItems(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "add-item",
		Method:        http.MethodPost,
		Path:          "/plans/{plan_id}/items",
		Summary:       "Add plan item",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		PlanID string      `path:"plan_id"`
		Actor  string      `header:"X-Actor-Id"`
		Body   ItemRequest `json:"body"`
	}) (*struct {
		Body domain.CarePlanItem `json:"body"`
	}, error) {
		it, err := e.AddItem(ctx, engine.ItemOptions{
			ID:           input.Body.ID,
			PlanID:       input.PlanID,
			Type:         input.Body.Type,
			Name:         input.Body.Name,
			Emoji:        input.Body.Emoji,
			Priority:     input.Body.Priority,
			Instructions: input.Body.Instructions,
			Dosage:       input.Body.Dosage,
			Schedule:     input.Body.Schedule,
			Notify:       input.Body.Notify,
			ActorID:      actorFrom(input.Actor),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.CarePlanItem `json:"body"`
		}{Body: it}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-items",
		Method:      http.MethodGet,
		Path:        "/plans/{plan_id}/items",
		Summary:     "List plan items",
	}, func(ctx context.Context, input *struct {
		PlanID string `path:"plan_id"`
	}) (*struct {
		Body []domain.CarePlanItem `json:"body"`
	}, error) {
		items, err := e.Repo.ListItems(ctx, input.PlanID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.CarePlanItem `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-item",
		Method:      http.MethodPut,
		Path:        "/items/{item_id}",
		Summary:     "Update plan item",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ItemID string      `path:"item_id"`
		Actor  string      `header:"X-Actor-Id"`
		Body   ItemRequest `json:"body"`
	}) (*struct {
		Body domain.CarePlanItem `json:"body"`
	}, error) {
		it, err := e.UpdateItem(ctx, engine.ItemOptions{
			ID:           input.ItemID,
			Type:         input.Body.Type,
			Name:         input.Body.Name,
			Emoji:        input.Body.Emoji,
			Priority:     input.Body.Priority,
			Instructions: input.Body.Instructions,
			Dosage:       input.Body.Dosage,
			Schedule:     input.Body.Schedule,
			Notify:       input.Body.Notify,
			ActorID:      actorFrom(input.Actor),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.CarePlanItem `json:"body"`
		}{Body: it}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-item-active",
		Method:      http.MethodPatch,
		Path:        "/items/{item_id}/active",
		Summary:     "Activate or deactivate an item",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ItemID string               `path:"item_id"`
		Actor  string               `header:"X-Actor-Id"`
		Body   SetItemActiveRequest `json:"body"`
	}) (*struct {
		Body domain.CarePlanItem `json:"body"`
	}, error) {
		it, err := e.SetItemActive(ctx, input.ItemID, input.Body.Active, actorFrom(input.Actor))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.CarePlanItem `json:"body"`
		}{Body: it}, nil
	})
}

func registerDays(api huma.API, e *engine.Engine, n *notify.Scheduler, sf scope.Filter) {
	huma.Register(api, huma.Operation{
		OperationID: "ensure-day",
		Method:      http.MethodPost,
		Path:        "/patients/{patient_id}/days/{date}/ensure",
		Summary:     "Materialize a day's instances",
		Errors:      []int{http.StatusBadRequest, http.StatusConflict, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		PatientID string `path:"patient_id"`
		Date      string `path:"date"`
		NoWait    bool   `query:"no_wait"`
	}) (*struct {
		Body DayResponse `json:"body"`
	}, error) {
		var instances []domain.DailyInstance
		var err error
		if input.NoWait {
			instances, err = e.EnsureDailyInstancesNoWait(ctx, input.PatientID, input.Date)
		} else {
			instances, err = e.EnsureDailyInstances(ctx, input.PatientID, input.Date)
		}
		if err != nil {
			return nil, handleError(err)
		}
		scheduled := 0
		if n != nil {
			if _, items, perr := e.ActivePlanItems(ctx, input.PatientID); perr == nil {
				scheduled, err = n.ScheduleForDay(ctx, input.PatientID, instances, items)
				if err != nil {
					return nil, handleError(err)
				}
			}
		}
		instances, err = sf.Apply(ctx, input.PatientID, input.Date, instances)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body DayResponse `json:"body"`
		}{Body: DayResponse{Date: input.Date, Instances: nonNilInstances(instances), Scheduled: scheduled}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-day",
		Method:      http.MethodGet,
		Path:        "/patients/{patient_id}/days/{date}",
		Summary:     "List a day's instances",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		PatientID string `path:"patient_id"`
		Date      string `path:"date"`
		All       bool   `query:"all" doc:"Include suppressed instances"`
	}) (*struct {
		Body DayResponse `json:"body"`
	}, error) {
		instances, err := e.ListInstances(ctx, input.PatientID, input.Date)
		if err != nil {
			return nil, handleError(err)
		}
		if !input.All {
			instances, err = sf.Apply(ctx, input.PatientID, input.Date, instances)
			if err != nil {
				return nil, handleError(err)
			}
		}
		return &struct {
			Body DayResponse `json:"body"`
		}{Body: DayResponse{Date: input.Date, Instances: nonNilInstances(instances)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-range",
		Method:      http.MethodGet,
		Path:        "/patients/{patient_id}/instances",
		Summary:     "List instances in a date range",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		PatientID string `path:"patient_id"`
		From      string `query:"from" format:"date"`
		To        string `query:"to" format:"date"`
	}) (*struct {
		Body []domain.DailyInstance `json:"body"`
	}, error) {
		if input.From == "" || input.To == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "from and to are required", nil)
		}
		instances, err := e.ListInstancesInRange(ctx, input.PatientID, input.From, input.To)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.DailyInstance `json:"body"`
		}{Body: nonNilInstances(instances)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "complete-instance",
		Method:      http.MethodPost,
		Path:        "/instances/{instance_id}/complete",
		Summary:     "Complete an instance",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		InstanceID string                  `path:"instance_id"`
		Actor      string                  `header:"X-Actor-Id"`
		Body       CompleteInstanceRequest `json:"body"`
	}) (*struct {
		Body CompleteResponse `json:"body"`
	}, error) {
		in, log, err := e.CompleteInstance(ctx, engine.CompleteOptions{
			InstanceID: input.InstanceID,
			Outcome:    input.Body.Outcome,
			Data:       input.Body.Data,
			Notes:      input.Body.Notes,
			ActorID:    actorFrom(input.Actor),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CompleteResponse `json:"body"`
		}{Body: CompleteResponse{Instance: in, Log: log}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "skip-instance",
		Method:      http.MethodPost,
		Path:        "/instances/{instance_id}/skip",
		Summary:     "Skip an instance",
		Errors:      []int{http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		InstanceID string              `path:"instance_id"`
		Actor      string              `header:"X-Actor-Id"`
		Body       SkipInstanceRequest `json:"body"`
	}) (*struct {
		Body domain.DailyInstance `json:"body"`
	}, error) {
		if err := e.SkipInstance(ctx, input.InstanceID, input.Body.Notes, actorFrom(input.Actor)); err != nil {
			return nil, handleError(err)
		}
		in, err := e.Repo.GetInstance(ctx, input.InstanceID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.DailyInstance `json:"body"`
		}{Body: in}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "miss-instance",
		Method:      http.MethodPost,
		Path:        "/instances/{instance_id}/miss",
		Summary:     "Mark an overdue instance missed",
		Errors:      []int{http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		InstanceID string `path:"instance_id"`
	}) (*struct {
		Body domain.DailyInstance `json:"body"`
	}, error) {
		if err := e.MarkMissed(ctx, input.InstanceID); err != nil {
			return nil, handleError(err)
		}
		in, err := e.Repo.GetInstance(ctx, input.InstanceID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.DailyInstance `json:"body"`
		}{Body: in}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "purge-instances",
		Method:      http.MethodPost,
		Path:        "/patients/{patient_id}/instances/purge",
		Summary:     "Purge instances in a date range",
		Errors:      []int{http.StatusBadRequest, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		PatientID string       `path:"patient_id"`
		Actor     string       `header:"X-Actor-Id"`
		Body      PurgeRequest `json:"body"`
	}) (*struct {
		Body PurgeResponse `json:"body"`
	}, error) {
		if input.Body.Start == "" || input.Body.End == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "start and end are required", nil)
		}
		n, err := e.PurgeInstances(ctx, input.PatientID, input.Body.Start, input.Body.End, actorFrom(input.Actor))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body PurgeResponse `json:"body"`
		}{Body: PurgeResponse{Removed: n}}, nil
	})
}

func registerLogs(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-logs",
		Method:      http.MethodGet,
		Path:        "/patients/{patient_id}/logs",
		Summary:     "List log entries in a time range",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		PatientID string `path:"patient_id"`
		From      string `query:"from" format:"date-time"`
		To        string `query:"to" format:"date-time"`
	}) (*struct {
		Body []domain.LogEntry `json:"body"`
	}, error) {
		if input.From == "" || input.To == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "from and to are required", nil)
		}
		logs, err := e.ListLogsInRange(ctx, input.PatientID, input.From, input.To)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.LogEntry `json:"body"`
		}{Body: logs}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "instance-logs",
		Method:      http.MethodGet,
		Path:        "/instances/{instance_id}/logs",
		Summary:     "List log entries for an instance",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		InstanceID string `path:"instance_id"`
	}) (*struct {
		Body []domain.LogEntry `json:"body"`
	}, error) {
		logs, err := e.Repo.ListLogsForInstance(ctx, input.InstanceID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.LogEntry `json:"body"`
		}{Body: logs}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "append-correction",
		Method:        http.MethodPost,
		Path:          "/instances/{instance_id}/corrections",
		Summary:       "Append a correction log entry",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		InstanceID string            `path:"instance_id"`
		Actor      string            `header:"X-Actor-Id"`
		Body       CorrectionRequest `json:"body"`
	}) (*struct {
		Body domain.LogEntry `json:"body"`
	}, error) {
		log, err := e.AppendCorrection(ctx, input.InstanceID, input.Body.Notes, actorFrom(input.Actor), input.Body.Data)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.LogEntry `json:"body"`
		}{Body: log}, nil
	})
}

func registerNotifications(api huma.API, n *notify.Scheduler) {
	if n == nil {
		return
	}
	huma.Register(api, huma.Operation{
		OperationID: "upcoming-notifications",
		Method:      http.MethodGet,
		Path:        "/patients/{patient_id}/notifications",
		Summary:     "List upcoming reminders",
	}, func(ctx context.Context, input *struct {
		PatientID string `path:"patient_id"`
		Limit     int    `query:"limit" default:"50"`
	}) (*struct {
		Body []domain.ScheduledNotification `json:"body"`
	}, error) {
		items, err := n.Upcoming(ctx, input.PatientID, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.ScheduledNotification `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "snooze-notification",
		Method:      http.MethodPost,
		Path:        "/notifications/{notification_id}/snooze",
		Summary:     "Snooze a reminder",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		NotificationID string        `path:"notification_id"`
		Body           SnoozeRequest `json:"body"`
	}) (*struct {
		Body domain.ScheduledNotification `json:"body"`
	}, error) {
		res, err := n.Snooze(ctx, input.NotificationID, input.Body.Minutes)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return nil, handleError(err)
			}
			return nil, newAPIError(http.StatusConflict, "conflict", err.Error(), nil)
		}
		return &struct {
			Body domain.ScheduledNotification `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "dismiss-notification",
		Method:      http.MethodPost,
		Path:        "/notifications/{notification_id}/dismiss",
		Summary:     "Dismiss a reminder",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		NotificationID string `path:"notification_id"`
	}) (*struct{}, error) {
		if err := n.Dismiss(ctx, input.NotificationID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-delivery-preferences",
		Method:      http.MethodGet,
		Path:        "/patients/{patient_id}/notifications/preferences",
		Summary:     "Get delivery preferences",
	}, func(ctx context.Context, input *struct {
		PatientID string `path:"patient_id"`
	}) (*struct {
		Body domain.DeliveryPreferences `json:"body"`
	}, error) {
		prefs, err := n.DeliveryPreferences(ctx, input.PatientID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.DeliveryPreferences `json:"body"`
		}{Body: prefs}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-delivery-preferences",
		Method:      http.MethodPut,
		Path:        "/patients/{patient_id}/notifications/preferences",
		Summary:     "Update delivery preferences",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		PatientID string                     `path:"patient_id"`
		Body      domain.DeliveryPreferences `json:"body"`
	}) (*struct {
		Body domain.DeliveryPreferences `json:"body"`
	}, error) {
		if err := n.UpdateDeliveryPreferences(ctx, input.PatientID, input.Body); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.DeliveryPreferences `json:"body"`
		}{Body: input.Body}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-item-notification-config",
		Method:      http.MethodPut,
		Path:        "/patients/{patient_id}/items/{item_id}/notifications",
		Summary:     "Override an item's reminder config",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		PatientID string                    `path:"patient_id"`
		ItemID    string                    `path:"item_id"`
		Body      domain.NotificationConfig `json:"body"`
	}) (*struct {
		Body domain.NotificationConfig `json:"body"`
	}, error) {
		if err := n.UpdateItemConfig(ctx, input.PatientID, input.ItemID, input.Body); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.NotificationConfig `json:"body"`
		}{Body: input.Body}, nil
	})
}

func registerInsights(api huma.API, r *insights.Reporter) {
	if r == nil {
		return
	}
	huma.Register(api, huma.Operation{
		OperationID: "insights-summary",
		Method:      http.MethodGet,
		Path:        "/patients/{patient_id}/insights",
		Summary:     "Adherence, burden, streaks and coaching insights",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		PatientID string `path:"patient_id"`
		From      string `query:"from" format:"date"`
		To        string `query:"to" format:"date"`
	}) (*struct {
		Body insights.Summary `json:"body"`
	}, error) {
		if input.From == "" || input.To == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "from and to are required", nil)
		}
		s, err := r.Summarize(ctx, input.PatientID, input.From, input.To)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body insights.Summary `json:"body"`
		}{Body: s}, nil
	})
}

func registerScope(api huma.API, sf scope.Filter) {
	huma.Register(api, huma.Operation{
		OperationID:   "suppress-item",
		Method:        http.MethodPost,
		Path:          "/patients/{patient_id}/scope",
		Summary:       "Suppress an item for one day",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		PatientID string          `path:"patient_id"`
		Body      SuppressRequest `json:"body"`
	}) (*struct {
		Body domain.ScopeRule `json:"body"`
	}, error) {
		if input.Body.ItemID == "" || input.Body.Date == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "item_id and date are required", nil)
		}
		rule, err := sf.Suppress(ctx, input.PatientID, input.Body.ItemID, input.Body.Date, input.Body.Reason)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.ScopeRule `json:"body"`
		}{Body: rule}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "restore-item",
		Method:      http.MethodDelete,
		Path:        "/patients/{patient_id}/scope/{item_id}/{date}",
		Summary:     "Lift a suppression",
	}, func(ctx context.Context, input *struct {
		PatientID string `path:"patient_id"`
		ItemID    string `path:"item_id"`
		Date      string `path:"date"`
	}) (*struct{}, error) {
		if err := sf.Restore(ctx, input.PatientID, input.ItemID, input.Date); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-scope-rules",
		Method:      http.MethodGet,
		Path:        "/patients/{patient_id}/scope/{date}",
		Summary:     "List a day's suppressions",
	}, func(ctx context.Context, input *struct {
		PatientID string `path:"patient_id"`
		Date      string `path:"date"`
	}) (*struct {
		Body []domain.ScopeRule `json:"body"`
	}, error) {
		rules, err := sf.Rules(ctx, input.PatientID, input.Date)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.ScopeRule `json:"body"`
		}{Body: rules}, nil
	})
}

func registerEvents(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "tail-events",
		Method:      http.MethodGet,
		Path:        "/patients/{patient_id}/events",
		Summary:     "Tail the change journal",
	}, func(ctx context.Context, input *struct {
		PatientID string `path:"patient_id"`
		Limit     int    `query:"limit" default:"50"`
		After     int64  `query:"after" doc:"Return events with id greater than this cursor"`
	}) (*struct {
		Body []EventResponse `json:"body"`
	}, error) {
		var (
			events []domain.Event
			err    error
		)
		if input.After > 0 {
			events, err = e.Repo.EventsAfter(ctx, input.Limit, input.After, input.PatientID)
		} else {
			events, err = e.Repo.TailEvents(ctx, input.PatientID, input.Limit)
		}
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []EventResponse `json:"body"`
		}{Body: mapEvents(events)}, nil
	})
}
