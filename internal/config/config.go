package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models careline.yml.
type Config struct {
	Patient struct {
		ID       string `yaml:"id"`
		Timezone string `yaml:"timezone"`
	} `yaml:"patient"`
	Generation struct {
		GraceMinutes int `yaml:"grace_minutes"`
	} `yaml:"generation"`
	Burden struct {
		RequiredWeight    int `yaml:"required_weight"`
		RecommendedWeight int `yaml:"recommended_weight"`
		OptionalWeight    int `yaml:"optional_weight"`
		MaxDailyLoad      int `yaml:"max_daily_load"`
	} `yaml:"burden"`
	Windows struct {
		MorningStart   string `yaml:"morning_start"`
		AfternoonStart string `yaml:"afternoon_start"`
		EveningStart   string `yaml:"evening_start"`
		NightStart     string `yaml:"night_start"`
	} `yaml:"windows"`
	Notifications struct {
		DispatchIntervalSeconds int `yaml:"dispatch_interval_seconds"`
		DefaultFollowUp         struct {
			IntervalMinutes int `yaml:"interval_minutes"`
			MaxAttempts     int `yaml:"max_attempts"`
		} `yaml:"default_follow_up"`
	} `yaml:"notifications"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; import with cl patient config import --file <path>", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Patient.ID == "" {
		return fmt.Errorf("config.patient.id is required")
	}
	if c.Generation.GraceMinutes < 0 {
		return fmt.Errorf("config.generation.grace_minutes must not be negative")
	}
	if c.Burden.RequiredWeight <= 0 || c.Burden.RecommendedWeight <= 0 || c.Burden.OptionalWeight <= 0 {
		return fmt.Errorf("config.burden weights must be positive")
	}
	if c.Burden.RequiredWeight < c.Burden.RecommendedWeight || c.Burden.RecommendedWeight < c.Burden.OptionalWeight {
		return fmt.Errorf("config.burden weights must not invert priority order")
	}
	if c.Burden.MaxDailyLoad <= 0 {
		return fmt.Errorf("config.burden.max_daily_load must be positive")
	}
	for _, b := range []struct {
		name, val string
	}{
		{"morning_start", c.Windows.MorningStart},
		{"afternoon_start", c.Windows.AfternoonStart},
		{"evening_start", c.Windows.EveningStart},
		{"night_start", c.Windows.NightStart},
	} {
		if len(b.val) != 5 || b.val[2] != ':' {
			return fmt.Errorf("config.windows.%s must be HH:MM, got %q", b.name, b.val)
		}
	}
	if c.Notifications.DispatchIntervalSeconds <= 0 {
		return fmt.Errorf("config.notifications.dispatch_interval_seconds must be positive")
	}
	fu := c.Notifications.DefaultFollowUp
	if fu.IntervalMinutes <= 0 || fu.MaxAttempts <= 0 {
		return fmt.Errorf("config.notifications.default_follow_up must set positive interval and attempts")
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "careline.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault(patientID string) string {
	return fmt.Sprintf(defaultTemplate, patientID)
}

// Default returns the default Config struct for a patient.
func Default(patientID string) *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(fmt.Sprintf(defaultTemplate, patientID))).Decode(&cfg)
	cfg.Patient.ID = patientID
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `patient:
  id: %s
  timezone: UTC

generation:
  grace_minutes: 60

burden:
  required_weight: 3
  recommended_weight: 2
  optional_weight: 1
  max_daily_load: 30

windows:
  morning_start: "05:00"
  afternoon_start: "12:00"
  evening_start: "17:00"
  night_start: "21:00"

notifications:
  dispatch_interval_seconds: 30
  default_follow_up:
    interval_minutes: 30
    max_attempts: 3
`
