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

// Package core wires the discovery pipeline together: rounds from the
// coordinator flow through the identity resolver into the topology store,
// every new snapshot is analyzed, and the resulting diffs and findings are
// persisted and published.
package core

import (
	"context"
	"sync"
	"time"

	"github.com/meshview/meshview/pkg/analytics"
	"github.com/meshview/meshview/pkg/db"
	"github.com/meshview/meshview/pkg/discovery"
	"github.com/meshview/meshview/pkg/logger"
	"github.com/meshview/meshview/pkg/models"
	"github.com/meshview/meshview/pkg/resolver"
	"github.com/meshview/meshview/pkg/topology"
)

// EventSink receives topology-change and finding events. The NATS
// publisher satisfies it; a nil sink disables publishing.
type EventSink interface {
	PublishTopologyChange(ctx context.Context, diff *models.GraphDiff) error
	PublishFinding(ctx context.Context, finding *models.Finding) error
}

// RoundStatus summarizes the most recently processed discovery round.
type RoundStatus struct {
	RoundID         string              `json:"round_id"`
	StartedAt       time.Time           `json:"started_at"`
	CompletedAt     time.Time           `json:"completed_at"`
	DevicesFound    int                 `json:"devices_found"`
	LinksFound      int                 `json:"links_found"`
	Conflicts       int                 `json:"conflicts"`
	Pairs           []models.PairResult `json:"pairs"`
	SnapshotVersion uint64              `json:"snapshot_version"`
}

// InventorySummary counts the devices in the current snapshot by status.
type InventorySummary struct {
	SnapshotVersion uint64                      `json:"snapshot_version"`
	Total           int                         `json:"total"`
	ByStatus        map[models.DeviceStatus]int `json:"by_status"`
	BySource        map[models.ProbeSource]int  `json:"by_source"`
	Provisional     int                         `json:"provisional"`
}

// Engine runs the discovery pipeline end to end.
type Engine struct {
	coordinator *discovery.Coordinator
	resolver    *resolver.Resolver
	store       *topology.Store
	analytics   *analytics.Engine
	persist     db.Store  // optional
	events      EventSink // optional
	logger      logger.Logger

	statusMu   sync.RWMutex
	lastStatus *RoundStatus
}

// NewEngine assembles the pipeline. persist and events may be nil when the
// engine runs without Postgres or NATS.
func NewEngine(
	coordinator *discovery.Coordinator,
	res *resolver.Resolver,
	store *topology.Store,
	analyticsEngine *analytics.Engine,
	persist db.Store,
	events EventSink,
	log logger.Logger,
) *Engine {
	return &Engine{
		coordinator: coordinator,
		resolver:    res,
		store:       store,
		analytics:   analyticsEngine,
		persist:     persist,
		events:      events,
		logger:      log,
	}
}

// RunRound executes one discovery round synchronously and feeds the result
// through the pipeline. Partial rounds are processed; only a round with
// zero successful pairs returns the coordinator's error.
func (e *Engine) RunRound(ctx context.Context, assignments []discovery.Assignment, cfg discovery.RoundConfig) (*models.Snapshot, error) {
	result, err := e.coordinator.RunRound(ctx, assignments, cfg)
	if err != nil && (result == nil || len(result.Records) == 0) {
		return nil, err
	}

	return e.HandleRound(ctx, result), nil
}

// HandleRound resolves a round against the current snapshot, applies the
// delta, analyzes the new snapshot, and fans the outcome out to the
// persistence and event collaborators. It is the scheduler's RoundHandler.
// Persistence and publish failures are logged, never fatal: the in-memory
// graph is the source of truth.
func (e *Engine) HandleRound(ctx context.Context, result *models.RoundResult) *models.Snapshot {
	prev := e.store.CurrentSnapshot()
	delta := e.resolver.Resolve(result, prev)

	next, err := e.store.Apply(delta)
	if err != nil {
		e.logger.Error().Err(err).
			Str("round_id", result.RoundID).
			Msg("Delta rejected, previous snapshot retained")

		e.recordStatus(result, delta, prev.Version)

		return prev
	}

	e.recordStatus(result, delta, next.Version)

	if next.Version != prev.Version {
		e.persistDelta(ctx, next.Version, delta)
		e.publishDiff(ctx, prev.Version, next.Version)
	}

	e.persistFindings(ctx, delta.Conflicts)

	report := e.analytics.Analyze(next)
	e.persistFindings(ctx, report.Findings)

	e.logger.Info().
		Str("round_id", result.RoundID).
		Uint64("version", next.Version).
		Int("devices", len(delta.Devices)).
		Int("links", len(delta.Links)).
		Int("findings", len(report.Findings)).
		Msg("Round applied")

	return next
}

// Sweep advances device lifecycle state against the wall clock and
// propagates any resulting changes to the persistence and event sinks.
func (e *Engine) Sweep(ctx context.Context, now time.Time) (*models.Snapshot, error) {
	prev := e.store.CurrentSnapshot()

	next, err := e.store.Sweep(now)
	if err != nil {
		return nil, err
	}

	if next.Version == prev.Version {
		return next, nil
	}

	diff, err := e.store.Diff(prev.Version, next.Version)
	if err == nil {
		e.persistDiff(ctx, next.Version, diff)
		e.sendDiff(ctx, diff)
	}

	return next, nil
}

// CurrentSnapshot returns the latest published snapshot.
func (e *Engine) CurrentSnapshot() *models.Snapshot {
	return e.store.CurrentSnapshot()
}

// Diff reports what changed between two retained snapshot versions.
func (e *Engine) Diff(from, to uint64) (*models.GraphDiff, error) {
	return e.store.Diff(from, to)
}

// Subscribe returns a change feed of graph diffs.
func (e *Engine) Subscribe(buffer int) (<-chan *models.GraphDiff, func()) {
	return e.store.Subscribe(buffer)
}

// SetDeviceStatus pins or unpins a device status, e.g. for maintenance
// windows, and propagates the change downstream.
func (e *Engine) SetDeviceStatus(ctx context.Context, key string, status models.DeviceStatus, pinned bool) error {
	prev := e.store.CurrentSnapshot()

	next, err := e.store.SetDeviceStatus(key, status, pinned)
	if err != nil {
		return err
	}

	if next.Version == prev.Version {
		return nil
	}

	if device := next.Device(key); device != nil && e.persist != nil {
		if err := e.persist.SaveDevices(ctx, next.Version, []*models.Device{device}); err != nil {
			e.logger.Error().Err(err).Str("device", key).Msg("Failed to persist status change")
		}
	}

	e.publishDiff(ctx, prev.Version, next.Version)

	return nil
}

// Analyze runs the analytics engine over the current snapshot.
func (e *Engine) Analyze() *analytics.Report {
	return e.analytics.Analyze(e.store.CurrentSnapshot())
}

// Status returns the outcome of the last processed round, or nil before
// the first round completes.
func (e *Engine) Status() *RoundStatus {
	e.statusMu.RLock()
	defer e.statusMu.RUnlock()

	return e.lastStatus
}

// Inventory summarizes the current snapshot's device population.
func (e *Engine) Inventory() InventorySummary {
	snap := e.store.CurrentSnapshot()

	summary := InventorySummary{
		SnapshotVersion: snap.Version,
		Total:           len(snap.Devices),
		ByStatus:        make(map[models.DeviceStatus]int),
		BySource:        make(map[models.ProbeSource]int),
	}

	for _, device := range snap.Devices {
		summary.ByStatus[device.Status]++

		for _, info := range device.Sources {
			summary.BySource[info.Source]++
		}

		if device.Provisional() {
			summary.Provisional++
		}
	}

	return summary
}

func (e *Engine) recordStatus(result *models.RoundResult, delta *models.GraphDelta, version uint64) {
	e.statusMu.Lock()
	defer e.statusMu.Unlock()

	e.lastStatus = &RoundStatus{
		RoundID:         result.RoundID,
		StartedAt:       result.StartedAt,
		CompletedAt:     result.CompletedAt,
		DevicesFound:    len(delta.Devices),
		LinksFound:      len(delta.Links),
		Conflicts:       len(delta.Conflicts),
		Pairs:           result.Pairs,
		SnapshotVersion: version,
	}
}

func (e *Engine) persistDelta(ctx context.Context, version uint64, delta *models.GraphDelta) {
	if e.persist == nil {
		return
	}

	if len(delta.RemoveDevices) > 0 {
		if err := e.persist.DeleteDevices(ctx, delta.RemoveDevices); err != nil {
			e.logger.Error().Err(err).Msg("Failed to delete devices")
		}
	}

	if len(delta.RemoveLinks) > 0 {
		if err := e.persist.DeleteLinks(ctx, delta.RemoveLinks); err != nil {
			e.logger.Error().Err(err).Msg("Failed to delete links")
		}
	}

	if len(delta.Devices) > 0 {
		if err := e.persist.SaveDevices(ctx, version, delta.Devices); err != nil {
			e.logger.Error().Err(err).Msg("Failed to save devices")
		}
	}

	if len(delta.Links) > 0 {
		if err := e.persist.SaveLinks(ctx, version, delta.Links); err != nil {
			e.logger.Error().Err(err).Msg("Failed to save links")
		}
	}
}

// persistDiff mirrors a sweep's lifecycle changes into Postgres. Sweeps
// only transition or remove devices, so additions carry status changes.
func (e *Engine) persistDiff(ctx context.Context, version uint64, diff *models.GraphDiff) {
	if e.persist == nil {
		return
	}

	if len(diff.RemovedDevices) > 0 {
		keys := make([]string, 0, len(diff.RemovedDevices))
		for _, d := range diff.RemovedDevices {
			keys = append(keys, d.Key)
		}

		if err := e.persist.DeleteDevices(ctx, keys); err != nil {
			e.logger.Error().Err(err).Msg("Failed to delete swept devices")
		}
	}

	if len(diff.RemovedLinks) > 0 {
		keys := make([]string, 0, len(diff.RemovedLinks))
		for _, l := range diff.RemovedLinks {
			keys = append(keys, l.Key)
		}

		if err := e.persist.DeleteLinks(ctx, keys); err != nil {
			e.logger.Error().Err(err).Msg("Failed to delete swept links")
		}
	}

	if len(diff.StatusChanged) > 0 {
		snap := e.store.CurrentSnapshot()

		changed := make([]*models.Device, 0, len(diff.StatusChanged))

		for _, sc := range diff.StatusChanged {
			if device := snap.Device(sc.DeviceKey); device != nil {
				changed = append(changed, device)
			}
		}

		if len(changed) > 0 {
			if err := e.persist.SaveDevices(ctx, version, changed); err != nil {
				e.logger.Error().Err(err).Msg("Failed to save status transitions")
			}
		}
	}
}

func (e *Engine) persistFindings(ctx context.Context, findings []*models.Finding) {
	if len(findings) == 0 {
		return
	}

	if e.persist != nil {
		if err := e.persist.AppendFindings(ctx, findings); err != nil {
			e.logger.Error().Err(err).Msg("Failed to append findings")
		}
	}

	if e.events != nil {
		for _, finding := range findings {
			if err := e.events.PublishFinding(ctx, finding); err != nil {
				e.logger.Error().Err(err).
					Str("finding_id", finding.ID).
					Msg("Failed to publish finding")
			}
		}
	}
}

func (e *Engine) publishDiff(ctx context.Context, from, to uint64) {
	diff, err := e.store.Diff(from, to)
	if err != nil {
		e.logger.Warn().Err(err).
			Uint64("from", from).
			Uint64("to", to).
			Msg("Diff unavailable for publishing")

		return
	}

	e.sendDiff(ctx, diff)
}

func (e *Engine) sendDiff(ctx context.Context, diff *models.GraphDiff) {
	if e.events == nil || diff.Empty() {
		return
	}

	if err := e.events.PublishTopologyChange(ctx, diff); err != nil {
		e.logger.Error().Err(err).
			Uint64("to_version", diff.ToVersion).
			Msg("Failed to publish topology change")
	}
}
