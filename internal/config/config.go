// Copyright (c) 2025 Open Swarm Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

package config

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"loom/internal/dispatch"
	"loom/internal/engine"
	"loom/internal/telemetry"
)

// Dispatcher types
const (
	DispatcherLocal    = "local"
	DispatcherTemporal = "temporal"
)

// Config represents the complete loomd configuration
type Config struct {
	Engine       EngineConfig       `yaml:"engine"`
	Dispatcher   DispatcherConfig   `yaml:"dispatcher"`
	Notification NotificationConfig `yaml:"notification"`
	Telemetry    TelemetryConfig    `yaml:"telemetry"`
	Logging      LoggingConfig      `yaml:"logging"`
}

// EngineConfig controls heartbeat supervision and retry budgets
type EngineConfig struct {
	HeartbeatInterval        time.Duration      `yaml:"heartbeat_interval"`
	HeartbeatTimeoutMultiple int                `yaml:"heartbeat_timeout_multiple"`
	SweepInterval            time.Duration      `yaml:"sweep_interval"`
	Retries                  engine.RetryLimits `yaml:"retries"`
}

// DispatcherConfig selects where attempts execute
type DispatcherConfig struct {
	Type             string         `yaml:"type"`
	MaxConcurrent    int            `yaml:"max_concurrent"`
	WorkingRoot      string         `yaml:"working_root"`
	Temporal         TemporalConfig `yaml:"temporal"`
	SubmitMaxRetries uint64         `yaml:"submit_max_retries"`
}

// TemporalConfig holds Temporal connection settings
type TemporalConfig struct {
	HostPort  string `yaml:"host_port"`
	Namespace string `yaml:"namespace"`
	TaskQueue string `yaml:"task_queue"`
}

// NotificationConfig configures run notifications
type NotificationConfig struct {
	WebhookURL string `yaml:"webhook_url"`
}

// TelemetryConfig configures trace export
type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled"`
	ServiceName  string  `yaml:"service_name"`
	CollectorURL string  `yaml:"collector_url"`
	SamplingRate float64 `yaml:"sampling_rate"`
}

// LoggingConfig configures the process logger
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Engine: EngineConfig{
			HeartbeatInterval:        60 * time.Second,
			HeartbeatTimeoutMultiple: 3,
			SweepInterval:            30 * time.Second,
			Retries:                  engine.DefaultRetryLimits(),
		},
		Dispatcher: DispatcherConfig{
			Type:          DispatcherLocal,
			MaxConcurrent: 8,
			WorkingRoot:   "/tmp/loom",
			Temporal: TemporalConfig{
				HostPort:  "localhost:7233",
				Namespace: "default",
				TaskQueue: "loom-attempts",
			},
			SubmitMaxRetries: 5,
		},
		Telemetry: TelemetryConfig{
			ServiceName:  "loom",
			CollectorURL: "localhost:4318",
			SamplingRate: 1.0,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads a YAML file over the defaults. Keys absent from the file keep
// their default values.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.Engine.HeartbeatInterval <= 0 {
		return fmt.Errorf("engine.heartbeat_interval must be positive")
	}
	if c.Engine.HeartbeatTimeoutMultiple < 1 {
		return fmt.Errorf("engine.heartbeat_timeout_multiple must be at least 1")
	}
	if c.Engine.SweepInterval <= 0 {
		return fmt.Errorf("engine.sweep_interval must be positive")
	}
	r := c.Engine.Retries
	if r.System < 0 || r.Analysis < 0 || r.Timeout < 0 {
		return fmt.Errorf("engine.retries must not be negative")
	}

	switch c.Dispatcher.Type {
	case DispatcherLocal:
		if c.Dispatcher.WorkingRoot == "" {
			return fmt.Errorf("dispatcher.working_root is required")
		}
	case DispatcherTemporal:
		if c.Dispatcher.Temporal.HostPort == "" {
			return fmt.Errorf("dispatcher.temporal.host_port is required")
		}
		if c.Dispatcher.Temporal.TaskQueue == "" {
			return fmt.Errorf("dispatcher.temporal.task_queue is required")
		}
	default:
		return fmt.Errorf("dispatcher.type must be %q or %q, got %q", DispatcherLocal, DispatcherTemporal, c.Dispatcher.Type)
	}
	if c.Dispatcher.MaxConcurrent < 1 {
		return fmt.Errorf("dispatcher.max_concurrent must be at least 1")
	}

	if c.Telemetry.Enabled {
		if c.Telemetry.CollectorURL == "" {
			return fmt.Errorf("telemetry.collector_url is required when telemetry is enabled")
		}
		if c.Telemetry.SamplingRate < 0 || c.Telemetry.SamplingRate > 1 {
			return fmt.Errorf("telemetry.sampling_rate must be between 0 and 1")
		}
	}

	if _, err := c.Logging.level(); err != nil {
		return err
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}
	return nil
}

// EngineConfig converts to the engine's settings.
func (c *Config) EngineConfig() engine.Config {
	return engine.Config{
		HeartbeatInterval:        c.Engine.HeartbeatInterval,
		HeartbeatTimeoutMultiple: c.Engine.HeartbeatTimeoutMultiple,
		SweepInterval:            c.Engine.SweepInterval,
		Retries:                  c.Engine.Retries,
	}
}

// TemporalDispatch converts to the Temporal dispatcher's settings.
// Open workflows are reported to the engine once per heartbeat interval.
func (c *Config) TemporalDispatch() dispatch.TemporalConfig {
	return dispatch.TemporalConfig{
		TaskQueue:        c.Dispatcher.Temporal.TaskQueue,
		ReportEvery:      c.Engine.HeartbeatInterval,
		SubmitMaxRetries: c.Dispatcher.SubmitMaxRetries,
	}
}

// TelemetryConfig converts to the tracer provider's settings.
func (c *Config) TelemetryConfig() *telemetry.Config {
	tc := telemetry.DefaultConfig()
	if c.Telemetry.ServiceName != "" {
		tc.ServiceName = c.Telemetry.ServiceName
	}
	tc.CollectorURL = c.Telemetry.CollectorURL
	tc.SamplingRate = c.Telemetry.SamplingRate
	return tc
}

func (l LoggingConfig) level() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(l.Level)); err != nil {
		return 0, fmt.Errorf("logging.level: %w", err)
	}
	return lvl, nil
}

// NewLogger builds the process logger. Output goes to stderr.
func (l LoggingConfig) NewLogger() *slog.Logger {
	lvl, err := l.level()
	if err != nil {
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if l.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
