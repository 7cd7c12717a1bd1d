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

package discovery

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/meshview/meshview/pkg/logger"
	"github.com/meshview/meshview/pkg/models"
)

const stopFallbackTimeout = 10 * time.Second

// Job is one recurring discovery round configuration.
type Job struct {
	Name        string
	Interval    time.Duration
	Enabled     bool
	Assignments []Assignment
	Config      RoundConfig
	// RunOnStart fires the job immediately instead of waiting one interval.
	RunOnStart bool
}

// RoundHandler consumes each completed round result, e.g. to resolve and
// apply it to the graph store.
type RoundHandler func(ctx context.Context, result *models.RoundResult)

// ErrSchedulerStopTimeout occurs when the scheduler fails to stop within
// the allotted time.
var ErrSchedulerStopTimeout = errors.New("scheduler stop timed out")

// Scheduler runs configured discovery jobs on their intervals and hands
// each RoundResult to the pipeline handler. Partial rounds are handed over
// too; only rounds with zero records are dropped.
type Scheduler struct {
	coordinator *Coordinator
	handler     RoundHandler
	jobs        []Job
	logger      logger.Logger

	mu      sync.Mutex
	done    chan struct{}
	wg      sync.WaitGroup
	started bool
}

// NewScheduler creates a scheduler over the given jobs.
func NewScheduler(coordinator *Coordinator, jobs []Job, handler RoundHandler, log logger.Logger) *Scheduler {
	return &Scheduler{
		coordinator: coordinator,
		handler:     handler,
		jobs:        jobs,
		logger:      log,
		done:        make(chan struct{}),
	}
}

// Start launches one ticker goroutine per enabled job.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}

	for i := range s.jobs {
		job := s.jobs[i]

		if !job.Enabled {
			s.logger.Info().Str("job", job.Name).Msg("scheduled job disabled, skipping")
			continue
		}

		if job.Interval <= 0 {
			return ErrInvalidInterval
		}

		s.wg.Add(1)

		go func() {
			defer s.wg.Done()
			s.runJobLoop(ctx, job)
		}()
	}

	s.started = true

	return nil
}

// Stop signals all job loops and waits for them to finish.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()

	if !s.started {
		s.mu.Unlock()
		return nil
	}

	close(s.done)
	s.started = false
	s.mu.Unlock()

	waitChan := make(chan struct{})

	go func() {
		s.wg.Wait()
		close(waitChan)
	}()

	select {
	case <-waitChan:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(stopFallbackTimeout):
		return ErrSchedulerStopTimeout
	}
}

func (s *Scheduler) runJobLoop(ctx context.Context, job Job) {
	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()

	s.logger.Info().
		Str("job", job.Name).
		Dur("interval", job.Interval).
		Msg("scheduled discovery job started")

	if job.RunOnStart {
		s.runJobOnce(ctx, job)
	}

	for {
		select {
		case <-ticker.C:
			s.runJobOnce(ctx, job)
		case <-s.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (s *Scheduler) runJobOnce(ctx context.Context, job Job) {
	result, err := s.coordinator.RunRound(ctx, job.Assignments, job.Config)
	if err != nil {
		if errors.Is(err, ErrRoundFailed) {
			s.logger.Warn().Str("job", job.Name).Msg("discovery round produced no successes")
		} else {
			s.logger.Error().Err(err).Str("job", job.Name).Msg("discovery round error")
			return
		}
	}

	if result == nil || len(result.Records) == 0 {
		return
	}

	s.handler(ctx, result)
}
