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

// Package discovery coordinates discovery rounds: it fans (target, probe)
// pairs out over a bounded worker pool, applies per-probe timeouts and
// retry with backoff, and aggregates raw observations into a RoundResult.
package discovery

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/meshview/meshview/pkg/logger"
	"github.com/meshview/meshview/pkg/models"
	"github.com/meshview/meshview/pkg/probe"
)

const (
	defaultConcurrency  = 10
	defaultProbeTimeout = 10 * time.Second
	defaultRoundTimeout = 5 * time.Minute
	defaultMaxRetries   = 2
	defaultBackoffBase  = 500 * time.Millisecond
	defaultBackoffMax   = 10 * time.Second
	backoffJitterFactor = 0.1
)

// RoundConfig bounds one discovery round.
type RoundConfig struct {
	ProbeTimeout time.Duration `json:"probe_timeout"`
	RoundTimeout time.Duration `json:"round_timeout"`
	Concurrency  int           `json:"concurrency"`
	MaxRetries   int           `json:"max_retries"`
	BackoffBase  time.Duration `json:"backoff_base"`
	BackoffMax   time.Duration `json:"backoff_max"`
}

func (c RoundConfig) withDefaults() RoundConfig {
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = defaultProbeTimeout
	}

	if c.RoundTimeout <= 0 {
		c.RoundTimeout = defaultRoundTimeout
	}

	if c.Concurrency <= 0 {
		c.Concurrency = defaultConcurrency
	}

	if c.MaxRetries < 0 {
		c.MaxRetries = defaultMaxRetries
	}

	if c.BackoffBase <= 0 {
		c.BackoffBase = defaultBackoffBase
	}

	if c.BackoffMax <= 0 {
		c.BackoffMax = defaultBackoffMax
	}

	return c
}

// Assignment pairs one target with the probes to run against it.
type Assignment struct {
	Target probe.Target
	Probes []probe.Probe
}

// Coordinator schedules probes against targets and aggregates the raw
// observations per round. Probe tasks share no mutable state; a failure on
// one (target, probe) pair never blocks or cancels the others.
type Coordinator struct {
	logger logger.Logger
}

// NewCoordinator creates a discovery coordinator.
func NewCoordinator(log logger.Logger) *Coordinator {
	return &Coordinator{logger: log}
}

type pairTask struct {
	target probe.Target
	probe  probe.Probe
}

type pairOutcome struct {
	result  models.PairResult
	records []*models.DiscoveryRecord
}

// RunRound executes one bounded discovery round. Every (target, probe)
// pair gets a status in the result; a round that produced zero successes
// returns the aggregated result together with ErrRoundFailed.
func (c *Coordinator) RunRound(ctx context.Context, assignments []Assignment, cfg RoundConfig) (*models.RoundResult, error) {
	cfg = cfg.withDefaults()

	tasks := buildTasks(assignments)
	if len(tasks) == 0 {
		return nil, ErrNoAssignments
	}

	roundID := uuid.New().String()

	roundCtx, cancel := context.WithTimeout(ctx, cfg.RoundTimeout)
	defer cancel()

	c.logger.Info().
		Str("round_id", roundID).
		Int("pairs", len(tasks)).
		Int("concurrency", cfg.Concurrency).
		Msg("starting discovery round")

	taskChan := make(chan pairTask)
	outcomes := make(chan pairOutcome, len(tasks))

	var wg sync.WaitGroup

	workers := cfg.Concurrency
	if workers > len(tasks) {
		workers = len(tasks)
	}

	wg.Add(workers)

	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()

			for task := range taskChan {
				outcomes <- c.runPair(roundCtx, task, cfg)
			}
		}()
	}

	started := time.Now()

dispatch:
	for _, task := range tasks {
		select {
		case taskChan <- task:
		case <-roundCtx.Done():
			break dispatch
		}
	}

	close(taskChan)
	wg.Wait()
	close(outcomes)

	result := &models.RoundResult{
		RoundID:   roundID,
		StartedAt: started,
	}

	completed := make(map[string]struct{}, len(tasks))

	for outcome := range outcomes {
		result.Pairs = append(result.Pairs, outcome.result)
		result.Records = append(result.Records, outcome.records...)
		completed[pairKey(outcome.result.Target, outcome.result.Probe)] = struct{}{}
	}

	// Pairs never dispatched before the deadline are recorded as timed out.
	for _, task := range tasks {
		key := pairKey(task.target.Host, task.probe.Source())
		if _, ok := completed[key]; ok {
			continue
		}

		result.Pairs = append(result.Pairs, models.PairResult{
			Target: task.target.Host,
			Probe:  task.probe.Source(),
			Status: models.PairStatusFailed,
			Error:  probe.ErrTimeout.Error(),
		})
	}

	result.CompletedAt = time.Now()

	c.logger.Info().
		Str("round_id", roundID).
		Int("records", len(result.Records)).
		Int("successes", result.Successes()).
		Dur("elapsed", result.CompletedAt.Sub(result.StartedAt)).
		Msg("discovery round complete")

	if result.Successes() == 0 {
		return result, ErrRoundFailed
	}

	return result, nil
}

// runPair executes one (target, probe) task with per-attempt timeout and
// exponential backoff on transient errors. Auth failures are terminal for
// the pair and never retried.
func (c *Coordinator) runPair(ctx context.Context, task pairTask, cfg RoundConfig) pairOutcome {
	outcome := pairOutcome{
		result: models.PairResult{
			Target: task.target.Host,
			Probe:  task.probe.Source(),
		},
	}

	started := time.Now()

	var lastErr error

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		outcome.result.Attempts = attempt + 1

		if attempt > 0 {
			if !sleepBackoff(ctx, backoffDelay(cfg, attempt)) {
				break
			}
		}

		attemptCtx, cancel := context.WithTimeout(ctx, cfg.ProbeTimeout)
		records, err := task.probe.Run(attemptCtx, task.target)

		cancel()

		if len(records) > 0 {
			outcome.records = append(outcome.records, records...)
		}

		if err == nil {
			outcome.result.Status = models.PairStatusSuccess
			outcome.result.Records = len(outcome.records)
			outcome.result.Duration = time.Since(started)

			return outcome
		}

		lastErr = err

		c.logger.Debug().
			Err(err).
			Str("target", task.target.Host).
			Str("probe", string(task.probe.Source())).
			Int("attempt", attempt+1).
			Msg("probe attempt failed")

		if !probe.Retryable(err) || ctx.Err() != nil {
			break
		}
	}

	outcome.result.Records = len(outcome.records)
	outcome.result.Duration = time.Since(started)

	if len(outcome.records) > 0 {
		outcome.result.Status = models.PairStatusPartial
	} else {
		outcome.result.Status = models.PairStatusFailed
	}

	if lastErr != nil {
		outcome.result.Error = lastErr.Error()
	}

	return outcome
}

func buildTasks(assignments []Assignment) []pairTask {
	var tasks []pairTask

	for _, a := range assignments {
		for _, p := range a.Probes {
			if p == nil {
				continue
			}

			tasks = append(tasks, pairTask{target: a.Target, probe: p})
		}
	}

	return tasks
}

func pairKey(target string, source models.ProbeSource) string {
	return target + "|" + string(source)
}

func backoffDelay(cfg RoundConfig, attempt int) time.Duration {
	delay := cfg.BackoffBase << (attempt - 1)
	if delay > cfg.BackoffMax {
		delay = cfg.BackoffMax
	}

	jitter := time.Duration(rand.Int63n(int64(float64(delay)*backoffJitterFactor) + 1)) //nolint:gosec // G404: jitter needs no crypto rand

	return delay + jitter
}

// sleepBackoff waits for the delay unless the round is cancelled first.
func sleepBackoff(ctx context.Context, delay time.Duration) bool {
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
