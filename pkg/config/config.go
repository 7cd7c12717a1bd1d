/*
 * Copyright 2026 Meshview Labs.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package config loads the engine configuration from a JSON file:
// discovery targets with per-target credentials, scheduled jobs, lifecycle
// windows, and the persistence and event-stream collaborators.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/meshview/meshview/pkg/logger"
	"github.com/meshview/meshview/pkg/probe"
)

var (
	ErrNoTargets          = errors.New("configuration has no targets")
	ErrNoJobs             = errors.New("configuration has no enabled jobs")
	ErrUnknownProbe       = errors.New("unknown probe name")
	ErrInvalidDuration    = errors.New("invalid duration")
	ErrRetentionTooShort  = errors.New("retention_period must exceed grace_period")
	ErrJobMissingName     = errors.New("scheduled job missing name")
	ErrJobMissingInterval = errors.New("scheduled job missing interval")
)

// Duration unmarshals from JSON duration strings ("30s", "5m") or bare
// numbers, which count nanoseconds like encoding/json does for
// time.Duration.
type Duration time.Duration

func (d *Duration) UnmarshalJSON(data []byte) error {
	var v interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidDuration, err)
	}

	switch value := v.(type) {
	case float64:
		*d = Duration(time.Duration(value))
	case string:
		parsed, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("%w: %q", ErrInvalidDuration, value)
		}

		*d = Duration(parsed)
	default:
		return fmt.Errorf("%w: %v", ErrInvalidDuration, v)
	}

	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// AsDuration converts to time.Duration.
func (d Duration) AsDuration() time.Duration { return time.Duration(d) }

// TargetConfig is one discovery target plus its credentials and the probes
// to run against it.
type TargetConfig struct {
	Host        string            `json:"host,omitempty"`
	Interface   string            `json:"interface,omitempty"`
	Probes      []string          `json:"probes"`
	Credentials probe.Credentials `json:"credentials,omitempty"`
}

// JobConfig is one recurring discovery job.
type JobConfig struct {
	Name         string   `json:"name"`
	Interval     Duration `json:"interval"`
	Enabled      bool     `json:"enabled"`
	RunOnStart   bool     `json:"run_on_start"`
	Targets      []string `json:"targets,omitempty"` // hosts; empty means all configured targets
	ProbeTimeout Duration `json:"probe_timeout,omitempty"`
	RoundTimeout Duration `json:"round_timeout,omitempty"`
	Concurrency  int      `json:"concurrency,omitempty"`
	MaxRetries   int      `json:"max_retries,omitempty"`
}

// LifecycleConfig mirrors the grace/retention windows of the graph store.
type LifecycleConfig struct {
	GracePeriod     Duration `json:"grace_period"`
	RetentionPeriod Duration `json:"retention_period"`
	SweepInterval   Duration `json:"sweep_interval"`
}

// DatabaseConfig points at the Postgres persistence collaborator.
type DatabaseConfig struct {
	DSN string `json:"dsn"`
}

// NATSConfig points at the change-event stream.
type NATSConfig struct {
	URL    string `json:"url"`
	Stream string `json:"stream"`
}

// AnalyticsConfig mirrors the analytics engine tuning knobs.
type AnalyticsConfig struct {
	DiameterInflationFactor float64 `json:"diameter_inflation_factor,omitempty"`
	BottleneckShareFactor   float64 `json:"bottleneck_share_factor,omitempty"`
}

// Config is the full engine configuration.
type Config struct {
	Targets   []TargetConfig  `json:"targets"`
	Jobs      []JobConfig     `json:"jobs"`
	Lifecycle LifecycleConfig `json:"lifecycle"`
	Database  *DatabaseConfig `json:"database,omitempty"`
	NATS      *NATSConfig     `json:"nats,omitempty"`
	Analytics AnalyticsConfig `json:"analytics,omitempty"`
	Logging   *logger.Config  `json:"logging,omitempty"`
	// ListenWindow bounds each passive listener invocation.
	ListenWindow Duration `json:"listen_window,omitempty"`
}

var knownProbes = map[string]struct{}{
	"snmp":     {},
	"ssh":      {},
	"api":      {},
	"listener": {},
	"nmap":     {},
}

// Load reads and validates a JSON configuration file. The database DSN may
// be overridden through MESHVIEW_DB_DSN, the NATS URL through
// MESHVIEW_NATS_URL.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file '%s': %w", path, err)
	}

	var cfg Config

	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config from '%s': %w", path, err)
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if dsn := os.Getenv("MESHVIEW_DB_DSN"); dsn != "" {
		if cfg.Database == nil {
			cfg.Database = &DatabaseConfig{}
		}

		cfg.Database.DSN = dsn
	}

	if url := os.Getenv("MESHVIEW_NATS_URL"); url != "" {
		if cfg.NATS == nil {
			cfg.NATS = &NATSConfig{}
		}

		cfg.NATS.URL = url
	}
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	if len(c.Targets) == 0 {
		return ErrNoTargets
	}

	for i := range c.Targets {
		for _, p := range c.Targets[i].Probes {
			if _, ok := knownProbes[p]; !ok {
				return fmt.Errorf("%w: %q on target %q", ErrUnknownProbe, p, c.Targets[i].Host)
			}
		}
	}

	enabled := 0

	for i := range c.Jobs {
		job := &c.Jobs[i]

		if job.Name == "" {
			return ErrJobMissingName
		}

		if !job.Enabled {
			continue
		}

		if job.Interval <= 0 {
			return fmt.Errorf("%w: job %q", ErrJobMissingInterval, job.Name)
		}

		enabled++
	}

	if enabled == 0 {
		return ErrNoJobs
	}

	grace := c.Lifecycle.GracePeriod.AsDuration()
	retention := c.Lifecycle.RetentionPeriod.AsDuration()

	if grace > 0 && retention > 0 && retention <= grace {
		return ErrRetentionTooShort
	}

	return nil
}
