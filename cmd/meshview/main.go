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

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/meshview/meshview/pkg/analytics"
	"github.com/meshview/meshview/pkg/config"
	"github.com/meshview/meshview/pkg/core"
	"github.com/meshview/meshview/pkg/db"
	"github.com/meshview/meshview/pkg/discovery"
	"github.com/meshview/meshview/pkg/logger"
	"github.com/meshview/meshview/pkg/models"
	"github.com/meshview/meshview/pkg/natsutil"
	"github.com/meshview/meshview/pkg/probe"
	"github.com/meshview/meshview/pkg/resolver"
	"github.com/meshview/meshview/pkg/topology"
	"github.com/meshview/meshview/pkg/version"
)

const defaultSweepInterval = time.Minute

func main() {
	configPath := flag.String("config", "/etc/meshview/meshview.json", "Path to the configuration file")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("meshview %s\n", version.GetFullVersion())
		return
	}

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "meshview: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logConfig := cfg.Logging
	if logConfig == nil {
		logConfig = &logger.Config{Level: "info"}
	}

	log, err := logger.New(logConfig)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		persist  db.Store
		restored *models.Snapshot
	)

	if cfg.Database != nil && cfg.Database.DSN != "" {
		database, dbErr := db.New(ctx, cfg.Database.DSN, log)
		if dbErr != nil {
			return fmt.Errorf("failed to connect to database: %w", dbErr)
		}
		defer database.Close()

		persist = database

		restored, dbErr = database.LoadGraphSnapshot(ctx)
		if dbErr != nil && !errors.Is(dbErr, db.ErrNoSnapshot) {
			return fmt.Errorf("failed to restore snapshot: %w", dbErr)
		}

		if restored != nil {
			log.Info().
				Uint64("version", restored.Version).
				Int("devices", len(restored.Devices)).
				Msg("Restored topology snapshot")
		}
	}

	var events core.EventSink

	if cfg.NATS != nil && cfg.NATS.URL != "" {
		publisher, conn, natsErr := natsutil.ConnectWithEventPublisher(ctx, cfg.NATS.URL, cfg.NATS.Stream, log)
		if natsErr != nil {
			return fmt.Errorf("failed to connect to NATS: %w", natsErr)
		}
		defer conn.Close()

		events = publisher
	}

	store := topology.NewStore(topology.LifecycleConfig{
		GracePeriod:     cfg.Lifecycle.GracePeriod.AsDuration(),
		RetentionPeriod: cfg.Lifecycle.RetentionPeriod.AsDuration(),
	}, restored, log)

	analyticsEngine := analytics.NewEngine(analytics.Config{
		DiameterInflationFactor: cfg.Analytics.DiameterInflationFactor,
		BottleneckShareFactor:   cfg.Analytics.BottleneckShareFactor,
	}, log)

	coordinator := discovery.NewCoordinator(log)
	engine := core.NewEngine(coordinator, resolver.New(log), store, analyticsEngine, persist, events, log)

	probes := buildProbes(cfg, log)

	jobs, err := buildJobs(cfg, probes)
	if err != nil {
		return err
	}

	scheduler := discovery.NewScheduler(coordinator, jobs, func(ctx context.Context, result *models.RoundResult) {
		engine.HandleRound(ctx, result)
	}, log)

	if err := scheduler.Start(ctx); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}

	sweepInterval := cfg.Lifecycle.SweepInterval.AsDuration()
	if sweepInterval <= 0 {
		sweepInterval = defaultSweepInterval
	}

	go runSweeper(ctx, engine, sweepInterval, log)

	log.Info().
		Str("version", version.GetVersion()).
		Int("jobs", len(jobs)).
		Int("targets", len(cfg.Targets)).
		Msg("Meshview engine started")

	<-ctx.Done()

	log.Info().Msg("Shutting down")

	stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	return scheduler.Stop(stopCtx)
}

func runSweeper(ctx context.Context, engine *core.Engine, interval time.Duration, log logger.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if _, err := engine.Sweep(ctx, now); err != nil {
				log.Error().Err(err).Msg("Lifecycle sweep failed")
			}
		}
	}
}

// buildProbes constructs one shared instance per configured probe type.
// Probes are stateless per invocation, so instances are safe to share
// across targets and jobs.
func buildProbes(cfg *config.Config, log logger.Logger) map[string]probe.Probe {
	probeTimeout := 10 * time.Second

	return map[string]probe.Probe{
		"snmp":     probe.NewSNMPProbe(probeTimeout, log),
		"ssh":      probe.NewSSHProbe(probeTimeout, log),
		"api":      probe.NewAPIProbe(probeTimeout, log),
		"listener": probe.NewListenerProbe(cfg.ListenWindow.AsDuration(), nil, log),
		"nmap":     probe.NewNmapProbe(log),
	}
}

func buildJobs(cfg *config.Config, probes map[string]probe.Probe) ([]discovery.Job, error) {
	jobs := make([]discovery.Job, 0, len(cfg.Jobs))

	for _, jobCfg := range cfg.Jobs {
		assignments, err := buildAssignments(cfg, jobCfg, probes)
		if err != nil {
			return nil, fmt.Errorf("job %q: %w", jobCfg.Name, err)
		}

		jobs = append(jobs, discovery.Job{
			Name:        jobCfg.Name,
			Interval:    jobCfg.Interval.AsDuration(),
			Enabled:     jobCfg.Enabled,
			RunOnStart:  jobCfg.RunOnStart,
			Assignments: assignments,
			Config: discovery.RoundConfig{
				ProbeTimeout: jobCfg.ProbeTimeout.AsDuration(),
				RoundTimeout: jobCfg.RoundTimeout.AsDuration(),
				Concurrency:  jobCfg.Concurrency,
				MaxRetries:   jobCfg.MaxRetries,
			},
		})
	}

	return jobs, nil
}

// buildAssignments pairs each of the job's targets with the probe
// instances its configuration names. An empty job target list means every
// configured target.
func buildAssignments(cfg *config.Config, jobCfg config.JobConfig, probes map[string]probe.Probe) ([]discovery.Assignment, error) {
	wanted := make(map[string]struct{}, len(jobCfg.Targets))
	for _, host := range jobCfg.Targets {
		wanted[host] = struct{}{}
	}

	assignments := make([]discovery.Assignment, 0, len(cfg.Targets))

	for _, target := range cfg.Targets {
		if len(wanted) > 0 {
			if _, ok := wanted[target.Host]; !ok {
				continue
			}
		}

		selected := make([]probe.Probe, 0, len(target.Probes))

		for _, name := range target.Probes {
			p, ok := probes[name]
			if !ok {
				return nil, fmt.Errorf("%w: %s", config.ErrUnknownProbe, name)
			}

			selected = append(selected, p)
		}

		assignments = append(assignments, discovery.Assignment{
			Target: probe.Target{
				Host:        target.Host,
				Interface:   target.Interface,
				Credentials: target.Credentials,
			},
			Probes: selected,
		})
	}

	return assignments, nil
}
