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

// IdentityCandidates are the identity clues a probe extracted for a device.
// MAC is the primary key, StableID is a vendor-assigned identifier, IP is
// the fallback key for provisional devices.
type IdentityCandidates struct {
	MAC      string `json:"mac,omitempty"`
	IP       string `json:"ip,omitempty"`
	StableID string `json:"stable_id,omitempty"`
}

// DeviceAttrs are the pre-normalization device attributes carried in a
// discovery record payload.
type DeviceAttrs struct {
	Hostname   string            `json:"hostname,omitempty"`
	DeviceType string            `json:"device_type,omitempty"`
	Vendor     string            `json:"vendor,omitempty"`
	Model      string            `json:"model,omitempty"`
	OSVersion  string            `json:"os_version,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// LinkObservation is a raw neighbor sighting reported by a probe. The local
// side is the probed target; the neighbor side is whatever identity clues
// the protocol exposes.
type LinkObservation struct {
	LocalMAC     string   `json:"local_mac,omitempty"`
	LocalIP      string   `json:"local_ip,omitempty"`
	LocalPort    string   `json:"local_port,omitempty"`
	NeighborMAC  string   `json:"neighbor_mac,omitempty"`
	NeighborIP   string   `json:"neighbor_ip,omitempty"`
	NeighborName string   `json:"neighbor_name,omitempty"`
	NeighborPort string   `json:"neighbor_port,omitempty"`
	Type         LinkType `json:"type"`
}

// DiscoveryRecord is one raw probe observation, tagged with its source and
// confidence hint. Records are ephemeral: the resolver consumes them and
// they are not retained beyond the round's audit trail.
type DiscoveryRecord struct {
	SourceProbe    ProbeSource        `json:"source_probe"`
	Target         string             `json:"target"`
	Timestamp      time.Time          `json:"timestamp"`
	ConfidenceHint float64            `json:"confidence_hint"`
	Identity       IdentityCandidates `json:"identity"`
	Attrs          DeviceAttrs        `json:"attrs"`
	Links          []LinkObservation  `json:"links,omitempty"`
}

// PairStatus is the outcome of one (target, probe) task in a round.
type PairStatus string

const (
	PairStatusSuccess PairStatus = "success"
	PairStatusPartial PairStatus = "partial"
	PairStatusFailed  PairStatus = "failed"
)

// PairResult reports how one (target, probe) pair fared.
type PairResult struct {
	Target   string        `json:"target"`
	Probe    ProbeSource   `json:"probe"`
	Status   PairStatus    `json:"status"`
	Error    string        `json:"error,omitempty"`
	Attempts int           `json:"attempts"`
	Records  int           `json:"records"`
	Duration time.Duration `json:"duration"`
}

// RoundResult aggregates everything one discovery round produced.
type RoundResult struct {
	RoundID     string             `json:"round_id"`
	StartedAt   time.Time          `json:"started_at"`
	CompletedAt time.Time          `json:"completed_at"`
	Records     []*DiscoveryRecord `json:"records"`
	Pairs       []PairResult       `json:"pairs"`
}

// Successes counts pairs that produced at least partial results.
func (r *RoundResult) Successes() int {
	n := 0

	for _, p := range r.Pairs {
		if p.Status != PairStatusFailed {
			n++
		}
	}

	return n
}
