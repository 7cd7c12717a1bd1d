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
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meshview/meshview/pkg/logger"
	"github.com/meshview/meshview/pkg/models"
	"github.com/meshview/meshview/pkg/probe"
)

// fakeProbe scripts per-call outcomes for coordinator tests.
type fakeProbe struct {
	source models.ProbeSource

	mu       sync.Mutex
	calls    int
	outcomes []fakeOutcome
	delay    time.Duration
}

type fakeOutcome struct {
	records []*models.DiscoveryRecord
	err     error
}

func (f *fakeProbe) Source() models.ProbeSource { return f.source }

func (f *fakeProbe) Run(ctx context.Context, _ probe.Target) ([]*models.DiscoveryRecord, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, probe.ErrTimeout
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	idx := f.calls
	f.calls++

	if idx >= len(f.outcomes) {
		idx = len(f.outcomes) - 1
	}

	if idx < 0 {
		return nil, nil
	}

	return f.outcomes[idx].records, f.outcomes[idx].err
}

func (f *fakeProbe) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.calls
}

func testRecord(mac string) *models.DiscoveryRecord {
	return &models.DiscoveryRecord{
		SourceProbe:    models.ProbeSourceSNMP,
		Timestamp:      time.Now(),
		ConfidenceHint: models.ConfidenceSNMP,
		Identity:       models.IdentityCandidates{MAC: mac},
	}
}

func fastConfig() RoundConfig {
	return RoundConfig{
		ProbeTimeout: time.Second,
		RoundTimeout: 5 * time.Second,
		Concurrency:  4,
		MaxRetries:   2,
		BackoffBase:  time.Millisecond,
		BackoffMax:   5 * time.Millisecond,
	}
}

func TestRunRoundNoAssignments(t *testing.T) {
	c := NewCoordinator(logger.NewTestLogger())

	_, err := c.RunRound(context.Background(), nil, fastConfig())
	assert.ErrorIs(t, err, ErrNoAssignments)
}

func TestRunRoundCollectsRecords(t *testing.T) {
	c := NewCoordinator(logger.NewTestLogger())

	p := &fakeProbe{
		source:   models.ProbeSourceSNMP,
		outcomes: []fakeOutcome{{records: []*models.DiscoveryRecord{testRecord("aa:bb:cc:dd:ee:ff")}}},
	}

	result, err := c.RunRound(context.Background(), []Assignment{{
		Target: probe.Target{Host: "10.0.0.1"},
		Probes: []probe.Probe{p},
	}}, fastConfig())
	require.NoError(t, err)

	assert.NotEmpty(t, result.RoundID)
	assert.Len(t, result.Records, 1)
	require.Len(t, result.Pairs, 1)
	assert.Equal(t, models.PairStatusSuccess, result.Pairs[0].Status)
	assert.Equal(t, 1, result.Pairs[0].Attempts)
}

func TestRunRoundRetriesTransientErrors(t *testing.T) {
	c := NewCoordinator(logger.NewTestLogger())

	p := &fakeProbe{
		source: models.ProbeSourceSNMP,
		outcomes: []fakeOutcome{
			{err: probe.ErrTimeout},
			{err: probe.ErrUnreachable},
			{records: []*models.DiscoveryRecord{testRecord("aa:bb:cc:dd:ee:ff")}},
		},
	}

	result, err := c.RunRound(context.Background(), []Assignment{{
		Target: probe.Target{Host: "10.0.0.1"},
		Probes: []probe.Probe{p},
	}}, fastConfig())
	require.NoError(t, err)

	assert.Equal(t, 3, p.callCount())
	require.Len(t, result.Pairs, 1)
	assert.Equal(t, models.PairStatusSuccess, result.Pairs[0].Status)
	assert.Equal(t, 3, result.Pairs[0].Attempts)
}

func TestRunRoundDoesNotRetryAuthFailure(t *testing.T) {
	c := NewCoordinator(logger.NewTestLogger())

	p := &fakeProbe{
		source:   models.ProbeSourceSSH,
		outcomes: []fakeOutcome{{err: probe.ErrAuthFailure}},
	}

	result, err := c.RunRound(context.Background(), []Assignment{{
		Target: probe.Target{Host: "10.0.0.1"},
		Probes: []probe.Probe{p},
	}}, fastConfig())
	require.ErrorIs(t, err, ErrRoundFailed)

	assert.Equal(t, 1, p.callCount(), "auth failures are terminal for the pair")
	require.Len(t, result.Pairs, 1)
	assert.Equal(t, models.PairStatusFailed, result.Pairs[0].Status)
}

func TestRunRoundPartialOnFailureWithRecords(t *testing.T) {
	c := NewCoordinator(logger.NewTestLogger())

	p := &fakeProbe{
		source: models.ProbeSourceSNMP,
		outcomes: []fakeOutcome{{
			records: []*models.DiscoveryRecord{testRecord("aa:bb:cc:dd:ee:ff")},
			err:     probe.ErrMalformedResponse,
		}},
	}

	result, err := c.RunRound(context.Background(), []Assignment{{
		Target: probe.Target{Host: "10.0.0.1"},
		Probes: []probe.Probe{p},
	}}, fastConfig())
	require.NoError(t, err, "a partial pair still counts as a success for the round")

	require.Len(t, result.Pairs, 1)
	assert.Equal(t, models.PairStatusPartial, result.Pairs[0].Status)
	assert.Len(t, result.Records, 1, "records parsed before the failure are kept")
}

func TestRunRoundIsolatesPairFailures(t *testing.T) {
	c := NewCoordinator(logger.NewTestLogger())

	good := &fakeProbe{
		source:   models.ProbeSourceSNMP,
		outcomes: []fakeOutcome{{records: []*models.DiscoveryRecord{testRecord("aa:bb:cc:dd:ee:ff")}}},
	}
	bad := &fakeProbe{
		source:   models.ProbeSourceSSH,
		outcomes: []fakeOutcome{{err: probe.ErrAuthFailure}},
	}

	result, err := c.RunRound(context.Background(), []Assignment{{
		Target: probe.Target{Host: "10.0.0.1"},
		Probes: []probe.Probe{good, bad},
	}}, fastConfig())
	require.NoError(t, err)

	require.Len(t, result.Pairs, 2)

	statuses := map[models.ProbeSource]models.PairStatus{}
	for _, pair := range result.Pairs {
		statuses[pair.Probe] = pair.Status
	}

	assert.Equal(t, models.PairStatusSuccess, statuses[models.ProbeSourceSNMP])
	assert.Equal(t, models.PairStatusFailed, statuses[models.ProbeSourceSSH])
}

func TestRunRoundHonorsRoundDeadline(t *testing.T) {
	c := NewCoordinator(logger.NewTestLogger())

	slow := &fakeProbe{
		source: models.ProbeSourceSNMP,
		delay:  200 * time.Millisecond,
	}

	cfg := fastConfig()
	cfg.RoundTimeout = 50 * time.Millisecond
	cfg.ProbeTimeout = time.Second
	cfg.MaxRetries = 0
	cfg.Concurrency = 1

	assignments := []Assignment{
		{Target: probe.Target{Host: "10.0.0.1"}, Probes: []probe.Probe{slow}},
		{Target: probe.Target{Host: "10.0.0.2"}, Probes: []probe.Probe{slow}},
		{Target: probe.Target{Host: "10.0.0.3"}, Probes: []probe.Probe{slow}},
	}

	started := time.Now()
	result, err := c.RunRound(context.Background(), assignments, cfg)

	assert.Less(t, time.Since(started), 2*time.Second)
	require.ErrorIs(t, err, ErrRoundFailed)

	// Every pair gets a status even when the round times out mid-dispatch.
	assert.Len(t, result.Pairs, 3)

	for _, pair := range result.Pairs {
		assert.Equal(t, models.PairStatusFailed, pair.Status)
	}
}

func TestSchedulerRunsJobOnStart(t *testing.T) {
	c := NewCoordinator(logger.NewTestLogger())

	p := &fakeProbe{
		source:   models.ProbeSourceSNMP,
		outcomes: []fakeOutcome{{records: []*models.DiscoveryRecord{testRecord("aa:bb:cc:dd:ee:ff")}}},
	}

	var handled atomic.Int32

	s := NewScheduler(c, []Job{{
		Name:       "lan",
		Interval:   time.Hour,
		Enabled:    true,
		RunOnStart: true,
		Assignments: []Assignment{{
			Target: probe.Target{Host: "10.0.0.1"},
			Probes: []probe.Probe{p},
		}},
		Config: fastConfig(),
	}}, func(_ context.Context, result *models.RoundResult) {
		if len(result.Records) > 0 {
			handled.Add(1)
		}
	}, logger.NewTestLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, s.Start(ctx))

	assert.Eventually(t, func() bool { return handled.Load() >= 1 }, 2*time.Second, 10*time.Millisecond)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), time.Second)
	defer stopCancel()

	require.NoError(t, s.Stop(stopCtx))
}

func TestSchedulerSkipsDisabledJobs(t *testing.T) {
	c := NewCoordinator(logger.NewTestLogger())

	p := &fakeProbe{
		source:   models.ProbeSourceSNMP,
		outcomes: []fakeOutcome{{records: []*models.DiscoveryRecord{testRecord("aa:bb:cc:dd:ee:ff")}}},
	}

	var handled atomic.Int32

	s := NewScheduler(c, []Job{{
		Name:       "disabled",
		Interval:   time.Millisecond,
		Enabled:    false,
		RunOnStart: true,
		Assignments: []Assignment{{
			Target: probe.Target{Host: "10.0.0.1"},
			Probes: []probe.Probe{p},
		}},
		Config: fastConfig(),
	}}, func(context.Context, *models.RoundResult) {
		handled.Add(1)
	}, logger.NewTestLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, s.Start(ctx))

	time.Sleep(50 * time.Millisecond)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), time.Second)
	defer stopCancel()

	require.NoError(t, s.Stop(stopCtx))

	assert.Zero(t, handled.Load())
}

func TestBackoffDelayIsCapped(t *testing.T) {
	cfg := RoundConfig{
		BackoffBase: 100 * time.Millisecond,
		BackoffMax:  300 * time.Millisecond,
	}

	for attempt := 1; attempt <= 8; attempt++ {
		delay := backoffDelay(cfg, attempt)
		assert.GreaterOrEqual(t, delay, 100*time.Millisecond)
		assert.LessOrEqual(t, delay, time.Duration(float64(300*time.Millisecond)*(1+backoffJitterFactor))+time.Millisecond)
	}
}
