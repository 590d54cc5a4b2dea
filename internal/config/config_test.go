package config_test

import (
	"os"
	"testing"

	"careline/internal/config"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := config.Default("pat-1")
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Patient.ID != "pat-1" {
		t.Fatalf("patient id %q", cfg.Patient.ID)
	}
	if cfg.Generation.GraceMinutes != 60 {
		t.Fatalf("grace %d, want 60", cfg.Generation.GraceMinutes)
	}
	if cfg.Burden.RequiredWeight != 3 || cfg.Burden.OptionalWeight != 1 || cfg.Burden.MaxDailyLoad != 30 {
		t.Fatalf("unexpected burden defaults: %+v", cfg.Burden)
	}
	fu := cfg.Notifications.DefaultFollowUp
	if fu.IntervalMinutes != 30 || fu.MaxAttempts != 3 {
		t.Fatalf("unexpected follow-up defaults: %+v", fu)
	}
}

func TestValidateRejects(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"missing patient id", func(c *config.Config) { c.Patient.ID = "" }},
		{"negative grace", func(c *config.Config) { c.Generation.GraceMinutes = -1 }},
		{"zero weight", func(c *config.Config) { c.Burden.OptionalWeight = 0 }},
		{"inverted weights", func(c *config.Config) { c.Burden.RecommendedWeight = 5 }},
		{"zero max load", func(c *config.Config) { c.Burden.MaxDailyLoad = 0 }},
		{"bad window clock", func(c *config.Config) { c.Windows.MorningStart = "5am" }},
		{"zero dispatch interval", func(c *config.Config) { c.Notifications.DispatchIntervalSeconds = 0 }},
		{"zero follow-up attempts", func(c *config.Config) { c.Notifications.DefaultFollowUp.MaxAttempts = 0 }},
	}
	for _, c := range cases {
		cfg := config.Default("pat-1")
		c.mutate(cfg)
		if err := cfg.Validate(); err == nil {
			t.Fatalf("%s: expected validation error", c.name)
		}
	}
}

func TestFromYAML(t *testing.T) {
	cfg, err := config.FromYAML([]byte(config.GenerateDefault("pat-2")))
	if err != nil {
		t.Fatalf("parse default template: %v", err)
	}
	if cfg.Patient.ID != "pat-2" {
		t.Fatalf("patient id %q, want pat-2", cfg.Patient.ID)
	}
	if _, err := config.FromYAML([]byte("patient: [")); err == nil {
		t.Fatalf("expected error for malformed yaml")
	}
	if _, err := config.FromYAML([]byte("patient:\n  id: \"\"\n")); err == nil {
		t.Fatalf("expected validation error for empty patient id")
	}
}

func TestLoadFromWorkspace(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(config.Path(dir), []byte(config.GenerateDefault("pat-3")), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := config.Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Patient.ID != "pat-3" {
		t.Fatalf("patient id %q, want pat-3", cfg.Patient.ID)
	}

	empty := t.TempDir()
	if _, err := config.Load(empty); err == nil {
		t.Fatalf("expected error when config missing")
	}
	opt, err := config.LoadOptional(empty)
	if err != nil || opt != nil {
		t.Fatalf("optional load of missing config: cfg=%v err=%v", opt, err)
	}
}
