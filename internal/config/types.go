package config

import (
	"fmt"
	"strings"
	"time"

	"flowdesk/pkg/logx"
)

type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Storage   StorageConfig   `json:"storage"`
	HTTP      HTTPConfig      `json:"http,omitempty"`
}

type LoggingConfig struct {
	Level   string         `json:"level,omitempty"`
	Console bool           `json:"console"`
	File    LogFileConfig  `json:"file,omitempty"`
}

type LogFileConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}

// SchedulerConfig controls the automation scheduler.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
//
// Defaults (when fields are omitted/zero):
//   - poll_interval: "1m"
//   - workers: 4
//   - handler_timeout: "30s"
//   - dispatch_rate_per_sec: 0 (disabled)
//   - history_size: 200
type SchedulerConfig struct {
	Enabled bool `json:"enabled"`

	// PollInterval is the tick cadence.
	PollInterval string `json:"poll_interval,omitempty"`

	// Timezone is the default IANA zone used to interpret HH:MM schedule
	// fields for automations that don't carry their own zone.
	Timezone string `json:"timezone,omitempty"`

	Workers int `json:"workers,omitempty"`

	// HandlerTimeout bounds a single action handler invocation.
	HandlerTimeout string `json:"handler_timeout,omitempty"`

	// DispatchRatePerSec caps handler dispatches per second across a tick.
	// 0 disables rate limiting.
	DispatchRatePerSec int `json:"dispatch_rate_per_sec,omitempty"`

	HistorySize int `json:"history_size,omitempty"`
}

type StorageConfig struct {
	Driver      string `json:"driver,omitempty"` // "sqlite" (default) or "memory"
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// HTTPConfig controls the tick-trigger/status HTTP listener.
type HTTPConfig struct {
	Enabled bool   `json:"enabled"`
	Address string `json:"address,omitempty"`
}

// ToLogx maps the logging section onto the logx service config.
func (c LoggingConfig) ToLogx() logx.Config {
	return logx.Config{
		Level:   c.Level,
		Console: c.Console,
		File: logx.FileConfig{
			Enabled: c.File.Enabled,
			Path:    c.File.Path,
		},
	}
}

// Validate checks cross-field constraints that the strict decoder can't.
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("config is nil")
	}
	if _, err := ParseDurationField("scheduler.poll_interval", c.Scheduler.PollInterval); err != nil {
		return err
	}
	if _, err := ParseDurationField("scheduler.handler_timeout", c.Scheduler.HandlerTimeout); err != nil {
		return err
	}
	if _, err := ParseDurationField("storage.busy_timeout", c.Storage.BusyTimeout); err != nil {
		return err
	}
	if tz := strings.TrimSpace(c.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("scheduler.timezone: invalid zone %q: %w", tz, err)
		}
	}
	if c.Scheduler.Workers < 0 {
		return fmt.Errorf("scheduler.workers must be >= 0")
	}
	if c.Scheduler.DispatchRatePerSec < 0 {
		return fmt.Errorf("scheduler.dispatch_rate_per_sec must be >= 0")
	}
	switch strings.ToLower(strings.TrimSpace(c.Storage.Driver)) {
	case "", "sqlite", "sqlite3", "memory":
	default:
		return fmt.Errorf("storage.driver: unknown driver %q", c.Storage.Driver)
	}
	return nil
}
