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

package models

import (
	"time"
)

// Snapshot is one immutable, versioned view of the topology graph. Devices
// and links are stored by identity key and reference each other by key,
// never by pointer, so a snapshot has no internal cycles. Published
// snapshots must never be mutated; the graph store builds each new version
// from clones.
type Snapshot struct {
	Version uint64             `json:"version"`
	Devices map[string]*Device `json:"devices"`
	Links   map[string]*Link   `json:"links"`
	TakenAt time.Time          `json:"taken_at"`
}

// EmptySnapshot returns version-zero state with no devices or links.
func EmptySnapshot() *Snapshot {
	return &Snapshot{
		Version: 0,
		Devices: make(map[string]*Device),
		Links:   make(map[string]*Link),
	}
}

// Device returns the device for a key, or nil.
func (s *Snapshot) Device(key string) *Device {
	return s.Devices[key]
}

// DeviceByIP scans for a device whose IP matches. Used for provisional
// identity lookups when no MAC is known.
func (s *Snapshot) DeviceByIP(ip string) *Device {
	for _, d := range s.Devices {
		if d.IP == ip {
			return d
		}
	}

	return nil
}

// GraphDelta is the set of device and link upserts plus removals produced
// by resolving one discovery round, applied atomically by the graph store.
type GraphDelta struct {
	RoundID    string    `json:"round_id"`
	ObservedAt time.Time `json:"observed_at"`
	Devices    []*Device `json:"devices,omitempty"`
	Links      []*Link   `json:"links,omitempty"`
	// RemoveDevices folds a provisional ip-keyed record into its MAC-keyed
	// replacement: the old key is dropped in the same Apply that upserts
	// the merged record.
	RemoveDevices []string   `json:"remove_devices,omitempty"`
	RemoveLinks   []string   `json:"remove_links,omitempty"`
	Conflicts     []*Finding `json:"conflicts,omitempty"`
}

// Empty reports whether the delta carries no changes at all.
func (d *GraphDelta) Empty() bool {
	return len(d.Devices) == 0 && len(d.Links) == 0 &&
		len(d.RemoveDevices) == 0 && len(d.RemoveLinks) == 0 &&
		len(d.Conflicts) == 0
}

// GraphDiff describes what changed between two snapshot versions.
type GraphDiff struct {
	FromVersion uint64 `json:"from_version"`
	ToVersion   uint64 `json:"to_version"`

	AddedDevices   []*Device `json:"added_devices,omitempty"`
	RemovedDevices []*Device `json:"removed_devices,omitempty"`
	AddedLinks     []*Link   `json:"added_links,omitempty"`
	RemovedLinks   []*Link   `json:"removed_links,omitempty"`

	StatusChanged []StatusChange `json:"status_changed,omitempty"`
}

// StatusChange records one device status transition between two versions.
type StatusChange struct {
	DeviceKey string       `json:"device_key"`
	From      DeviceStatus `json:"from"`
	To        DeviceStatus `json:"to"`
}

// Empty reports whether the diff carries no changes.
func (d *GraphDiff) Empty() bool {
	return len(d.AddedDevices) == 0 && len(d.RemovedDevices) == 0 &&
		len(d.AddedLinks) == 0 && len(d.RemovedLinks) == 0 &&
		len(d.StatusChanged) == 0
}
