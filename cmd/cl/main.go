package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"careline/internal/app"
	"careline/internal/config"
	"careline/internal/db"
	"careline/internal/domain"
	"careline/internal/engine"
	"careline/internal/events"
	"careline/internal/insights"
	"careline/internal/migrate"
	"careline/internal/notify"
	"careline/internal/repo"
	"careline/internal/schedule"
	"careline/internal/scope"
	"careline/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "cl",
	Short: "Careline CLI",
	Long: `Careline turns a care plan into a daily checklist with reminders.
- Workspace: the .careline directory holding the database; config lives in the DB and is imported explicitly.
- Care plan: the versioned list of recurring items (meds, vitals, meals) for one patient.
- Day: 'cl day ensure' materializes today's instances; complete, skip or let them go missed after the grace period.
- Log: every outcome is an immutable entry; corrections are new entries, never edits.
- Reminders: per-item timing with quiet hours and escalating follow-ups; 'cl serve' runs the dispatcher.
- Insights: adherence, burden and streaks derived from the instances, view with 'cl insights'.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("CARELINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	rootCmd.PersistentFlags().String("patient", "", "patient id (overrides single-patient default)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("patient", rootCmd.PersistentFlags().Lookup("patient"))
}

func registerCommands() {
	rootCmd.AddCommand(patientCmd())
	rootCmd.AddCommand(planCmd())
	rootCmd.AddCommand(itemCmd())
	rootCmd.AddCommand(dayCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(notifyCmd())
	rootCmd.AddCommand(insightsCmd())
	rootCmd.AddCommand(scopeCmd())
	rootCmd.AddCommand(purgeCmd())
	rootCmd.AddCommand(serveCmd())
}

// --- patient ---

func patientCmd() *cobra.Command {
	p := &cobra.Command{Use: "patient", Short: "Manage patients"}
	p.AddCommand(patientCreateCmd())
	p.AddCommand(patientListCmd())
	p.AddCommand(patientShowCmd())
	p.AddCommand(patientConfigCmd())
	return p
}

func patientCreateCmd() *cobra.Command {
	var id, name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Register a patient",
		RunE: func(cmd *cobra.Command, args []string) error {
			if name == "" {
				return fmt.Errorf("--name required")
			}
			workspace := viper.GetString("workspace")
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			e := engine.New(conn, nil, nil)
			p, err := e.CreatePatient(cmd.Context(), id, name, viper.GetString("actor-id"))
			if err != nil {
				return err
			}
			if err := e.Repo.UpsertPatientConfig(cmd.Context(), p.ID, config.Default(p.ID)); err != nil {
				return err
			}
			return printJSONOrTable(p)
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "patient id (generated when empty)")
	cmd.Flags().StringVar(&name, "name", "", "patient name")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func patientListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List patients",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListPatients(ctx)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
}

func patientShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the active patient",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine, patientID string) error {
				p, err := e.Repo.GetPatient(ctx, patientID)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
}

func patientConfigCmd() *cobra.Command {
	cfg := &cobra.Command{Use: "config", Short: "Manage patient config"}
	cfg.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show config stored in DB",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine, patientID string) error {
				return printJSONOrTable(e.Config)
			})
		},
	})
	cfg.AddCommand(patientConfigImportCmd())
	cfg.AddCommand(patientConfigInitCmd())
	return cfg
}

func patientConfigImportCmd() *cobra.Command {
	var filePath string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import config from YAML into the DB",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.FromFile(filePath)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine, patientID string) error {
				target := cfg.Patient.ID
				if target == "" {
					target = patientID
				}
				if err := e.Repo.UpsertPatientConfig(ctx, target, cfg); err != nil {
					return err
				}
				return printJSONOrTable(cfg)
			})
		},
	}
	cmd.Flags().StringVar(&filePath, "file", "", "path to YAML config")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func patientConfigInitCmd() *cobra.Command {
	var id string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default careline.yml to the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			if id == "" {
				id = viper.GetString("patient")
			}
			if id == "" {
				return fmt.Errorf("--id or --patient required")
			}
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault(id)), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "patient id")
	return cmd
}

// --- plan ---

func planCmd() *cobra.Command {
	p := &cobra.Command{Use: "plan", Short: "Manage care plans"}
	p.AddCommand(planCreateCmd())
	p.AddCommand(planListCmd())
	p.AddCommand(planShowCmd())
	p.AddCommand(planStatusCmd())
	return p
}

func planCreateCmd() *cobra.Command {
	var tz, start, end string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a care plan",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine, patientID string) error {
				p, err := e.CreatePlan(ctx, engine.PlanCreateOptions{
					PatientID: patientID,
					Timezone:  tz,
					StartDate: start,
					EndDate:   end,
					ActorID:   viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&tz, "timezone", "", "IANA timezone (defaults to UTC)")
	cmd.Flags().StringVar(&start, "start", "", "start date YYYY-MM-DD (defaults to today)")
	cmd.Flags().StringVar(&end, "end", "", "end date YYYY-MM-DD")
	return cmd
}

func planListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List care plans",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine, patientID string) error {
				plans, err := e.Repo.ListPlans(ctx, patientID)
				if err != nil {
					return err
				}
				return printJSONOrTable(plans)
			})
		},
	}
}

func planShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the active plan and its items",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine, patientID string) error {
				plan, items, err := e.ActivePlanItems(ctx, patientID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"plan": plan, "items": items})
				}
				fmt.Printf("Plan %s v%d (%s) tz=%s %s..%s\n", plan.ID, plan.Version, plan.Status, plan.Timezone, plan.StartDate, plan.EndDate)
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Type", "Priority", "Active", "Windows"})
				for _, it := range items {
					tw.AppendRow(table.Row{it.ID, it.Name, it.Type, it.Priority, it.Active, len(it.Schedule.Windows)})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func planStatusCmd() *cobra.Command {
	var planID, status string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Pause, resume or archive a plan",
		RunE: func(cmd *cobra.Command, args []string) error {
			if status == "" {
				return fmt.Errorf("--status required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine, patientID string) error {
				target := planID
				if target == "" {
					p, err := e.Repo.ActivePlan(ctx, patientID)
					if err != nil {
						return err
					}
					target = p.ID
				}
				p, err := e.SetPlanStatus(ctx, target, status, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&planID, "plan", "", "plan id (defaults to the active plan)")
	cmd.Flags().StringVar(&status, "status", "", "active, paused or archived")
	return cmd
}

// --- item ---

func itemCmd() *cobra.Command {
	it := &cobra.Command{Use: "item", Short: "Manage plan items"}
	it.AddCommand(itemAddCmd())
	it.AddCommand(itemListCmd())
	it.AddCommand(itemSetActiveCmd("enable", true))
	it.AddCommand(itemSetActiveCmd("disable", false))
	return it
}

func itemScheduleFlags(cmd *cobra.Command, freq *string, ats, days, skips *[]string) {
	cmd.Flags().StringVar(freq, "frequency", "daily", "daily, weekly or custom")
	cmd.Flags().StringArrayVar(ats, "at", []string{}, "exact time HH:MM (repeatable)")
	cmd.Flags().StringArrayVar(days, "day", []string{}, "day of week 0-6, Sunday=0 (repeatable)")
	cmd.Flags().StringArrayVar(skips, "skip", []string{}, "skip date YYYY-MM-DD (repeatable)")
}

func buildSchedule(freq string, ats, days, skips []string) (domain.Schedule, error) {
	s := domain.Schedule{Frequency: freq, SkipDates: skips}
	for _, at := range ats {
		s.Windows = append(s.Windows, domain.TimeWindow{At: at})
	}
	for _, d := range days {
		var n int
		if _, err := fmt.Sscanf(d, "%d", &n); err != nil {
			return s, fmt.Errorf("invalid --day %q", d)
		}
		s.DaysOfWeek = append(s.DaysOfWeek, n)
	}
	return s, nil
}

func itemAddCmd() *cobra.Command {
	var opts engine.ItemOptions
	var freq string
	var ats, days, skips []string
	var notifyTiming string
	var notifyCustom, fuInterval, fuAttempts int
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add an item to the active plan",
		RunE: func(cmd *cobra.Command, args []string) error {
			sched, err := buildSchedule(freq, ats, days, skips)
			if err != nil {
				return err
			}
			opts.Schedule = sched
			opts.ActorID = viper.GetString("actor-id")
			if cmd.Flags().Changed("notify-timing") {
				opts.Notify = &domain.NotificationConfig{
					Enabled:             true,
					Timing:              notifyTiming,
					CustomMinutesBefore: notifyCustom,
				}
				if fuInterval > 0 || fuAttempts > 0 {
					opts.Notify.FollowUp = domain.NotificationFollowUp{
						Enabled:         true,
						IntervalMinutes: fuInterval,
						MaxAttempts:     fuAttempts,
					}
				}
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine, patientID string) error {
				if opts.PlanID == "" {
					p, err := e.Repo.ActivePlan(ctx, patientID)
					if err != nil {
						return err
					}
					opts.PlanID = p.ID
				}
				it, err := e.AddItem(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(it)
			})
		},
	}
	cmd.Flags().StringVar(&opts.PlanID, "plan", "", "plan id (defaults to the active plan)")
	cmd.Flags().StringVar(&opts.Name, "name", "", "item name")
	cmd.Flags().StringVar(&opts.Type, "type", "", "item type (medication, vitals, ...)")
	cmd.Flags().StringVar(&opts.Priority, "priority", "", "required, recommended or optional")
	cmd.Flags().StringVar(&opts.Emoji, "emoji", "", "display emoji")
	cmd.Flags().StringVar(&opts.Dosage, "dosage", "", "dosage text")
	cmd.Flags().StringVar(&opts.Instructions, "instructions", "", "instructions")
	itemScheduleFlags(cmd, &freq, &ats, &days, &skips)
	cmd.Flags().StringVar(&notifyTiming, "notify-timing", "", "reminder timing (at_time, before_5..before_60, custom)")
	cmd.Flags().IntVar(&notifyCustom, "notify-minutes", 0, "minutes before, for custom timing")
	cmd.Flags().IntVar(&fuInterval, "follow-up-interval", 0, "follow-up interval minutes")
	cmd.Flags().IntVar(&fuAttempts, "follow-up-attempts", 0, "max follow-up attempts")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func itemListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List items of the active plan",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine, patientID string) error {
				_, items, err := e.ActivePlanItems(ctx, patientID)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
}

func itemSetActiveCmd(use string, active bool) *cobra.Command {
	short := "Disable an item (keeps its definition)"
	if active {
		short = "Enable an item"
	}
	return &cobra.Command{
		Use:   use + " <item-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine, patientID string) error {
				it, err := e.SetItemActive(ctx, args[0], active, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(it)
			})
		},
	}
}

// --- day ---

func dayCmd() *cobra.Command {
	d := &cobra.Command{Use: "day", Short: "Work a day's checklist"}
	d.AddCommand(dayEnsureCmd())
	d.AddCommand(dayListCmd())
	d.AddCommand(dayCompleteCmd())
	d.AddCommand(daySkipCmd())
	d.AddCommand(dayMissCmd())
	return d
}

func dateArg(args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	return time.Now().Format(schedule.DateLayout)
}

func dayEnsureCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ensure [date]",
		Short: "Materialize a day's instances (defaults to today)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			date := dateArg(args)
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine, patientID string) error {
				instances, err := e.EnsureDailyInstances(ctx, patientID, date)
				if err != nil {
					return err
				}
				return renderDay(ctx, e, patientID, date, instances)
			})
		},
	}
}

func dayListCmd() *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "list [date]",
		Short: "List a day's instances (defaults to today)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			date := dateArg(args)
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine, patientID string) error {
				instances, err := e.ListInstances(ctx, patientID, date)
				if err != nil {
					return err
				}
				if all {
					return printDayTable(instances)
				}
				return renderDay(ctx, e, patientID, date, instances)
			})
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "include suppressed instances")
	return cmd
}

func renderDay(ctx context.Context, e *engine.Engine, patientID, date string, instances []domain.DailyInstance) error {
	sf := scope.New(e.Repo)
	filtered, err := sf.Apply(ctx, patientID, date, instances)
	if err != nil {
		return err
	}
	return printDayTable(filtered)
}

func printDayTable(instances []domain.DailyInstance) error {
	if viper.GetBool("json") {
		return printJSON(instances)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"ID", "Time", "Window", "Item", "Priority", "Status"})
	for _, in := range instances {
		at := in.ScheduledAt
		if t, err := time.Parse(time.RFC3339, in.ScheduledAt); err == nil {
			at = t.Format("15:04")
		}
		name := in.ItemName
		if in.ItemEmoji != "" {
			name = in.ItemEmoji + " " + name
		}
		tw.AppendRow(table.Row{in.ID, at, in.WindowLabel, name, in.Priority, in.Status})
	}
	tw.Render()
	return nil
}

func dayCompleteCmd() *cobra.Command {
	var outcome, dataJSON, notes string
	cmd := &cobra.Command{
		Use:   "complete <instance-id>",
		Short: "Complete an instance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var data domain.LogData
			if dataJSON != "" {
				if err := json.Unmarshal([]byte(dataJSON), &data); err != nil {
					return fmt.Errorf("invalid --data: %w", err)
				}
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine, patientID string) error {
				in, log, err := e.CompleteInstance(ctx, engine.CompleteOptions{
					InstanceID: args[0],
					Outcome:    outcome,
					Data:       data,
					Notes:      notes,
					ActorID:    viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{"instance": in, "log": log})
			})
		},
	}
	cmd.Flags().StringVar(&outcome, "outcome", "", "completed (default) or partial")
	cmd.Flags().StringVar(&dataJSON, "data", "", `structured payload, e.g. '{"vitals":{"systolic":120,"diastolic":80}}'`)
	cmd.Flags().StringVar(&notes, "notes", "", "free-form notes")
	return cmd
}

func daySkipCmd() *cobra.Command {
	var notes string
	cmd := &cobra.Command{
		Use:   "skip <instance-id>",
		Short: "Skip an instance deliberately",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine, patientID string) error {
				if err := e.SkipInstance(ctx, args[0], notes, viper.GetString("actor-id")); err != nil {
					return err
				}
				in, err := e.Repo.GetInstance(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(in)
			})
		},
	}
	cmd.Flags().StringVar(&notes, "notes", "", "why it was skipped")
	return cmd
}

func dayMissCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "miss <instance-id>",
		Short: "Mark an overdue instance missed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine, patientID string) error {
				if err := e.MarkMissed(ctx, args[0]); err != nil {
					return err
				}
				in, err := e.Repo.GetInstance(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(in)
			})
		},
	}
}

// --- log ---

func logCmd() *cobra.Command {
	l := &cobra.Command{Use: "log", Short: "Outcome log and change journal"}
	l.AddCommand(logListCmd())
	l.AddCommand(logCorrectCmd())
	l.AddCommand(logTailCmd())
	return l
}

func logListCmd() *cobra.Command {
	var daysBack int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List log entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine, patientID string) error {
				now := time.Now().UTC()
				logs, err := e.ListLogsInRange(ctx, patientID,
					now.AddDate(0, 0, -daysBack).Format(time.RFC3339),
					now.AddDate(0, 0, 1).Format(time.RFC3339))
				if err != nil {
					return err
				}
				return printJSONOrTable(logs)
			})
		},
	}
	cmd.Flags().IntVar(&daysBack, "days", 7, "how many days back")
	return cmd
}

func logCorrectCmd() *cobra.Command {
	var notes, dataJSON string
	cmd := &cobra.Command{
		Use:   "correct <instance-id>",
		Short: "Append a correction entry to a settled instance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var data domain.LogData
			if dataJSON != "" {
				if err := json.Unmarshal([]byte(dataJSON), &data); err != nil {
					return fmt.Errorf("invalid --data: %w", err)
				}
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine, patientID string) error {
				log, err := e.AppendCorrection(ctx, args[0], notes, viper.GetString("actor-id"), data)
				if err != nil {
					return err
				}
				return printJSONOrTable(log)
			})
		},
	}
	cmd.Flags().StringVar(&notes, "notes", "", "what the correction is")
	cmd.Flags().StringVar(&dataJSON, "data", "", "corrected structured payload")
	_ = cmd.MarkFlagRequired("notes")
	return cmd
}

func logTailCmd() *cobra.Command {
	var n int
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail the change journal",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine, patientID string) error {
				events, err := e.Repo.TailEvents(ctx, patientID, n)
				if err != nil {
					return err
				}
				return printJSONOrTable(events)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	return cmd
}

// --- notify ---

func notifyCmd() *cobra.Command {
	nc := &cobra.Command{Use: "notify", Short: "Reminders"}
	nc.AddCommand(notifyUpcomingCmd())
	nc.AddCommand(notifyScheduleCmd())
	nc.AddCommand(notifySnoozeCmd())
	nc.AddCommand(notifyDismissCmd())
	nc.AddCommand(notifyPrefsCmd())
	return nc
}

func withScheduler(ctx context.Context, fn func(context.Context, *engine.Engine, *notify.Scheduler, string) error) error {
	return withEngine(ctx, func(ctx context.Context, e *engine.Engine, patientID string) error {
		s := notify.New(e.Repo, nil, e.Config)
		defer s.Close()
		return fn(ctx, e, s, patientID)
	})
}

func notifyUpcomingCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "upcoming",
		Short: "List upcoming reminders",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withScheduler(cmd.Context(), func(ctx context.Context, e *engine.Engine, s *notify.Scheduler, patientID string) error {
				items, err := s.Upcoming(ctx, patientID, limit)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	cmd.Flags().IntVar(&limit, "n", 50, "max reminders")
	return cmd
}

func notifyScheduleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schedule [date]",
		Short: "Open reminder chains for a day's pending instances",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			date := dateArg(args)
			return withScheduler(cmd.Context(), func(ctx context.Context, e *engine.Engine, s *notify.Scheduler, patientID string) error {
				instances, err := e.EnsureDailyInstances(ctx, patientID, date)
				if err != nil {
					return err
				}
				_, items, err := e.ActivePlanItems(ctx, patientID)
				if err != nil {
					return err
				}
				n, err := s.ScheduleForDay(ctx, patientID, instances, items)
				if err != nil {
					return err
				}
				fmt.Printf("scheduled %d reminder(s) for %s\n", n, date)
				return nil
			})
		},
	}
}

func notifySnoozeCmd() *cobra.Command {
	var minutes int
	cmd := &cobra.Command{
		Use:   "snooze <notification-id>",
		Short: "Snooze a reminder",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withScheduler(cmd.Context(), func(ctx context.Context, e *engine.Engine, s *notify.Scheduler, patientID string) error {
				n, err := s.Snooze(ctx, args[0], minutes)
				if err != nil {
					return err
				}
				return printJSONOrTable(n)
			})
		},
	}
	cmd.Flags().IntVar(&minutes, "minutes", 10, "snooze duration")
	return cmd
}

func notifyDismissCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dismiss <notification-id>",
		Short: "Dismiss a reminder",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withScheduler(cmd.Context(), func(ctx context.Context, e *engine.Engine, s *notify.Scheduler, patientID string) error {
				return s.Dismiss(ctx, args[0])
			})
		},
	}
}

func notifyPrefsCmd() *cobra.Command {
	var master, sound, vibration, quiet string
	var quietStart, quietEnd string
	cmd := &cobra.Command{
		Use:   "prefs",
		Short: "Show or update delivery preferences",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withScheduler(cmd.Context(), func(ctx context.Context, e *engine.Engine, s *notify.Scheduler, patientID string) error {
				prefs, err := s.DeliveryPreferences(ctx, patientID)
				if err != nil {
					return err
				}
				changed := false
				setBool := func(flag string, target *bool) error {
					if flag == "" {
						return nil
					}
					switch flag {
					case "on":
						*target = true
					case "off":
						*target = false
					default:
						return fmt.Errorf("expected on or off, got %q", flag)
					}
					changed = true
					return nil
				}
				if err := setBool(master, &prefs.MasterEnabled); err != nil {
					return err
				}
				if err := setBool(sound, &prefs.SoundEnabled); err != nil {
					return err
				}
				if err := setBool(vibration, &prefs.VibrationEnabled); err != nil {
					return err
				}
				if err := setBool(quiet, &prefs.QuietHours.Enabled); err != nil {
					return err
				}
				if quietStart != "" {
					prefs.QuietHours.Start = quietStart
					changed = true
				}
				if quietEnd != "" {
					prefs.QuietHours.End = quietEnd
					changed = true
				}
				if changed {
					if err := s.UpdateDeliveryPreferences(ctx, patientID, prefs); err != nil {
						return err
					}
				}
				return printJSONOrTable(prefs)
			})
		},
	}
	cmd.Flags().StringVar(&master, "master", "", "on or off")
	cmd.Flags().StringVar(&sound, "sound", "", "on or off")
	cmd.Flags().StringVar(&vibration, "vibration", "", "on or off")
	cmd.Flags().StringVar(&quiet, "quiet-hours", "", "on or off")
	cmd.Flags().StringVar(&quietStart, "quiet-start", "", "quiet hours start HH:MM")
	cmd.Flags().StringVar(&quietEnd, "quiet-end", "", "quiet hours end HH:MM")
	return cmd
}

// --- insights ---

func insightsCmd() *cobra.Command {
	var from, to string
	var daysBack int
	cmd := &cobra.Command{
		Use:   "insights",
		Short: "Adherence, burden, streaks and coaching insights",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine, patientID string) error {
				if to == "" {
					to = time.Now().Format(schedule.DateLayout)
				}
				if from == "" {
					from = time.Now().AddDate(0, 0, -daysBack).Format(schedule.DateLayout)
				}
				rep := insights.NewReporter(e.Repo, nil, e.Config)
				s, err := rep.Summarize(ctx, patientID, from, to)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(s)
				}
				fmt.Printf("Adherence %s..%s: %.0f%% adherent, %.0f%% completed (%d instances)\n",
					s.From, s.To, s.Overall.AdherenceRate, s.Overall.CompletionRate, s.Overall.Total)
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Item", "Adherence", "Completed", "Skipped", "Missed", "Streak"})
				streakByItem := map[string]insights.ItemStreak{}
				for _, st := range s.Streaks {
					streakByItem[st.ItemID] = st
				}
				for _, it := range s.Items {
					st := streakByItem[it.ItemID]
					tw.AppendRow(table.Row{it.ItemName, fmt.Sprintf("%.0f%%", it.AdherenceRate), it.Completed, it.Skipped, it.Missed, st.Current})
				}
				tw.Render()
				for _, in := range s.Insights {
					fmt.Printf("[%s] %s: %s\n", in.Type, in.Title, in.Message)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "range start YYYY-MM-DD")
	cmd.Flags().StringVar(&to, "to", "", "range end YYYY-MM-DD")
	cmd.Flags().IntVar(&daysBack, "days", 7, "days back when --from is not set")
	return cmd
}

// --- scope ---

func scopeCmd() *cobra.Command {
	sc := &cobra.Command{Use: "scope", Short: "Hide items from a day without changing the plan"}
	sc.AddCommand(scopeHideCmd())
	sc.AddCommand(scopeRestoreCmd())
	sc.AddCommand(scopeListCmd())
	return sc
}

func scopeHideCmd() *cobra.Command {
	var date, reason string
	cmd := &cobra.Command{
		Use:   "hide <item-id>",
		Short: "Suppress an item for one day",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if date == "" {
				date = time.Now().Format(schedule.DateLayout)
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine, patientID string) error {
				rule, err := scope.New(e.Repo).Suppress(ctx, patientID, args[0], date, reason)
				if err != nil {
					return err
				}
				return printJSONOrTable(rule)
			})
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "date YYYY-MM-DD (defaults to today)")
	cmd.Flags().StringVar(&reason, "reason", "", "why it is hidden")
	return cmd
}

func scopeRestoreCmd() *cobra.Command {
	var date string
	cmd := &cobra.Command{
		Use:   "restore <item-id>",
		Short: "Lift a suppression",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if date == "" {
				date = time.Now().Format(schedule.DateLayout)
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine, patientID string) error {
				return scope.New(e.Repo).Restore(ctx, patientID, args[0], date)
			})
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "date YYYY-MM-DD (defaults to today)")
	return cmd
}

func scopeListCmd() *cobra.Command {
	var date string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List a day's suppressions",
		RunE: func(cmd *cobra.Command, args []string) error {
			if date == "" {
				date = time.Now().Format(schedule.DateLayout)
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine, patientID string) error {
				rules, err := scope.New(e.Repo).Rules(ctx, patientID, date)
				if err != nil {
					return err
				}
				return printJSONOrTable(rules)
			})
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "date YYYY-MM-DD (defaults to today)")
	return cmd
}

// --- purge ---

func purgeCmd() *cobra.Command {
	var start, end string
	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete instances in a date range, terminal ones included",
		RunE: func(cmd *cobra.Command, args []string) error {
			if start == "" || end == "" {
				return fmt.Errorf("--start and --end required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine, patientID string) error {
				n, err := e.PurgeInstances(ctx, patientID, start, end, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				fmt.Printf("purged %d instance(s)\n", n)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&start, "start", "", "range start YYYY-MM-DD")
	cmd.Flags().StringVar(&end, "end", "", "range end YYYY-MM-DD")
	return cmd
}

// --- serve ---

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API and reminder dispatcher",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			r := repo.Repo{DB: conn}
			_, cfg, err := app.ResolvePatientAndConfig(cmd.Context(), viper.GetString("patient"), viper.GetString("actor-id"), r)
			if err != nil {
				return err
			}
			bus := events.NewBus()
			defer bus.Close()
			e := engine.New(conn, cfg, bus)
			sched := notify.New(r, bus, cfg)
			defer sched.Close()
			rep := insights.NewReporter(r, bus, cfg)
			defer rep.Close()
			go sched.Run(cmd.Context())

			handler, err := server.New(server.Config{
				Engine:   e,
				Notifier: sched,
				Reporter: rep,
				Scope:    scope.New(r),
				BasePath: basePath,
			})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Careline API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, *engine.Engine, string) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	r := repo.Repo{DB: conn}
	patientID, cfg, err := app.ResolvePatientAndConfig(ctx, viper.GetString("patient"), viper.GetString("actor-id"), r)
	if err != nil {
		return err
	}
	e := engine.New(conn, cfg, nil)
	return fn(ctx, e, patientID)
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	return fn(ctx, repo.Repo{DB: conn})
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
