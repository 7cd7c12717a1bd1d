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

// Package topology maintains the live topology graph as a sequence of
// immutable, monotonically versioned snapshots. Devices and links are held
// in maps keyed by identity and reference each other by key, never by
// pointer. Readers take the current snapshot without locking beyond the
// pointer read; all mutation funnels through the single-writer apply path.
package topology

import (
	"fmt"
	"sync"
	"time"

	"github.com/meshview/meshview/pkg/logger"
	"github.com/meshview/meshview/pkg/models"
)

const defaultHistorySize = 64

// LifecycleConfig controls the observation/grace/prune lifecycle.
type LifecycleConfig struct {
	// GracePeriod is how long a device may go unseen before transitioning
	// to Offline. Devices unseen for more than half the grace period are
	// marked Warning first.
	GracePeriod time.Duration `json:"grace_period"`
	// RetentionPeriod is how long an unseen device is kept before being
	// pruned; it must exceed GracePeriod.
	RetentionPeriod time.Duration `json:"retention_period"`
	// HistorySize bounds how many past snapshots Diff can reach.
	HistorySize int `json:"history_size"`
}

func (c LifecycleConfig) withDefaults() LifecycleConfig {
	if c.GracePeriod <= 0 {
		c.GracePeriod = 10 * time.Minute
	}

	if c.RetentionPeriod <= c.GracePeriod {
		c.RetentionPeriod = 6 * c.GracePeriod
	}

	if c.HistorySize <= 0 {
		c.HistorySize = defaultHistorySize
	}

	return c
}

// Store holds the current versioned topology graph.
type Store struct {
	config LifecycleConfig
	logger logger.Logger

	mu      sync.RWMutex
	current *models.Snapshot
	history map[uint64]*models.Snapshot
	oldest  uint64

	subMu       sync.Mutex
	subscribers []chan *models.GraphDiff
}

// NewStore creates a graph store starting from an empty version-zero
// snapshot, or from a restored snapshot if one is given.
func NewStore(config LifecycleConfig, restored *models.Snapshot, log logger.Logger) *Store {
	initial := restored
	if initial == nil {
		initial = models.EmptySnapshot()
	}

	s := &Store{
		config:  config.withDefaults(),
		logger:  log,
		current: initial,
		history: map[uint64]*models.Snapshot{initial.Version: initial},
		oldest:  initial.Version,
	}

	return s
}

// CurrentSnapshot returns the latest published snapshot. The returned
// snapshot is immutable and safe to share.
func (s *Store) CurrentSnapshot() *models.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.current
}

// Apply commits a graph delta atomically, producing version+1. On an
// invariant violation nothing is published and the previous snapshot keeps
// serving.
func (s *Store) Apply(delta *models.GraphDelta) (*models.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if delta == nil || delta.Empty() {
		return s.current, nil
	}

	next := s.buildNext(delta)

	if err := validate(next); err != nil {
		s.logger.Error().
			Err(err).
			Uint64("version", s.current.Version).
			Str("round_id", delta.RoundID).
			Msg("apply aborted, retaining previous snapshot")

		return s.current, err
	}

	diff := computeDiff(s.current, next)

	s.publish(next)
	s.notify(diff)

	s.logger.Info().
		Uint64("version", next.Version).
		Int("devices", len(next.Devices)).
		Int("links", len(next.Links)).
		Str("round_id", delta.RoundID).
		Msg("snapshot published")

	return next, nil
}

// buildNext assembles the candidate snapshot. Untouched devices and links
// are shared by pointer with the previous snapshot; that is safe because
// published records are never mutated.
func (s *Store) buildNext(delta *models.GraphDelta) *models.Snapshot {
	next := &models.Snapshot{
		Version: s.current.Version + 1,
		Devices: make(map[string]*models.Device, len(s.current.Devices)+len(delta.Devices)),
		Links:   make(map[string]*models.Link, len(s.current.Links)+len(delta.Links)),
		TakenAt: time.Now(),
	}

	for k, d := range s.current.Devices {
		next.Devices[k] = d
	}

	for k, l := range s.current.Links {
		next.Links[k] = l
	}

	for _, key := range delta.RemoveDevices {
		delete(next.Devices, key)
	}

	for _, key := range delta.RemoveLinks {
		delete(next.Links, key)
	}

	for _, d := range delta.Devices {
		next.Devices[d.Key] = d
	}

	added := make(map[string]struct{}, len(delta.Links))

	for _, l := range delta.Links {
		next.Links[l.Key] = l
		added[l.Key] = struct{}{}
	}

	// A removed device takes its carried-over links with it so the endpoint
	// invariant holds. Links the delta itself adds are not cascaded: if one
	// references a missing device the delta is malformed and validate
	// rejects it.
	for key, l := range next.Links {
		if _, ok := added[key]; ok {
			continue
		}

		if next.Devices[l.A] == nil || next.Devices[l.B] == nil {
			delete(next.Links, key)
		}
	}

	return next
}

// Sweep runs the lifecycle pass: devices unseen past half the grace period
// go to Warning, past the grace period to Offline, and past the retention
// period they are pruned together with their links. Returns the current
// snapshot unchanged when nothing transitions.
func (s *Store) Sweep(now time.Time) (*models.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.current

	var (
		updates       []*models.Device
		removeDevices []string
		removeLinks   []string
	)

	for _, d := range cur.Devices {
		unseen := now.Sub(d.LastSeen)

		switch {
		case unseen >= s.config.RetentionPeriod:
			removeDevices = append(removeDevices, d.Key)
		case d.StatusPinned:
			// Pinned statuses (maintenance) ride out grace transitions.
		case unseen >= s.config.GracePeriod && d.Status != models.DeviceStatusOffline:
			clone := d.Clone()
			clone.Status = models.DeviceStatusOffline
			updates = append(updates, clone)
		case unseen >= s.config.GracePeriod/2 && d.Status == models.DeviceStatusOnline:
			clone := d.Clone()
			clone.Status = models.DeviceStatusWarning
			updates = append(updates, clone)
		}
	}

	// Links age out on their own schedule too, scoped to the lesser of
	// their endpoints' lifecycles via the removal cascade in buildNext.
	for _, l := range cur.Links {
		if now.Sub(l.LastSeen) >= s.config.RetentionPeriod {
			removeLinks = append(removeLinks, l.Key)
		}
	}

	if len(updates) == 0 && len(removeDevices) == 0 && len(removeLinks) == 0 {
		return cur, nil
	}

	next := s.buildNext(&models.GraphDelta{
		Devices:       updates,
		RemoveDevices: removeDevices,
		RemoveLinks:   removeLinks,
	})

	if err := validate(next); err != nil {
		return cur, err
	}

	diff := computeDiff(cur, next)

	s.publish(next)
	s.notify(diff)

	s.logger.Info().
		Uint64("version", next.Version).
		Int("status_changes", len(updates)).
		Int("pruned_devices", len(removeDevices)).
		Int("pruned_links", len(removeLinks)).
		Msg("lifecycle sweep published")

	return next, nil
}

// SetDeviceStatus pins a manual status (e.g. maintenance) on a device, or
// clears the pin when pinned is false.
func (s *Store) SetDeviceStatus(key string, status models.DeviceStatus, pinned bool) (*models.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d := s.current.Device(key)
	if d == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDevice, key)
	}

	clone := d.Clone()
	clone.Status = status
	clone.StatusPinned = pinned

	next := s.buildNext(&models.GraphDelta{Devices: []*models.Device{clone}})

	if err := validate(next); err != nil {
		return nil, err
	}

	diff := computeDiff(s.current, next)

	s.publish(next)
	s.notify(diff)

	return next, nil
}

// Diff reports what changed between two retained versions.
func (s *Store) Diff(from, to uint64) (*models.GraphDiff, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.history[from]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownVersion, from)
	}

	b, ok := s.history[to]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownVersion, to)
	}

	return computeDiff(a, b), nil
}

// Subscribe registers a change-event consumer. Events are delivered
// best-effort: a consumer that stops draining its channel loses events
// rather than stalling the apply path. The returned func unsubscribes.
func (s *Store) Subscribe(buffer int) (<-chan *models.GraphDiff, func()) {
	if buffer <= 0 {
		buffer = 16
	}

	ch := make(chan *models.GraphDiff, buffer)

	s.subMu.Lock()
	s.subscribers = append(s.subscribers, ch)
	s.subMu.Unlock()

	unsubscribe := func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()

		for i, sub := range s.subscribers {
			if sub == ch {
				s.subscribers = append(s.subscribers[:i], s.subscribers[i+1:]...)
				close(ch)

				return
			}
		}
	}

	return ch, unsubscribe
}

// publish swaps in the new snapshot and trims history. Callers hold mu.
func (s *Store) publish(next *models.Snapshot) {
	s.current = next
	s.history[next.Version] = next

	for len(s.history) > s.config.HistorySize {
		delete(s.history, s.oldest)
		s.oldest++
	}
}

func (s *Store) notify(diff *models.GraphDiff) {
	if diff.Empty() {
		return
	}

	s.subMu.Lock()
	defer s.subMu.Unlock()

	for _, sub := range s.subscribers {
		select {
		case sub <- diff:
		default:
		}
	}
}

// validate checks the published-snapshot invariant: every link's endpoints
// exist in the snapshot's device set.
func validate(snap *models.Snapshot) error {
	for key, l := range snap.Links {
		if snap.Devices[l.A] == nil || snap.Devices[l.B] == nil {
			return fmt.Errorf("%w: link %s references missing device", ErrGraphInvariantViolation, key)
		}
	}

	return nil
}
