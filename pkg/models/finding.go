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

// FindingType classifies a derived finding.
type FindingType string

const (
	// FindingSinglePointOfFailure flags a device whose removal disconnects
	// the graph or inflates its diameter past the configured factor.
	FindingSinglePointOfFailure FindingType = "single_point_of_failure"
	// FindingLinkBottleneck flags a link carrying a disproportionate share
	// of shortest paths.
	FindingLinkBottleneck FindingType = "link_bottleneck"
	// FindingResolverConflict flags contradictory identity bindings across
	// sources, surfaced for manual review rather than silently resolved.
	FindingResolverConflict FindingType = "resolver_conflict"
)

// Severity ranks a finding. Severities are computed by a deterministic
// scoring function, never assigned at random.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
)

// Finding is a derived vulnerability or conflict report attached to a
// graph snapshot.
type Finding struct {
	ID              string            `json:"id" db:"id"`
	Type            FindingType       `json:"type" db:"finding_type"`
	Severity        Severity          `json:"severity" db:"severity"`
	Subject         string            `json:"subject" db:"subject"`
	Summary         string            `json:"summary" db:"summary"`
	Details         map[string]string `json:"details,omitempty" db:"details"`
	SnapshotVersion uint64            `json:"snapshot_version" db:"snapshot_version"`
	DetectedAt      time.Time         `json:"detected_at" db:"detected_at"`
}
