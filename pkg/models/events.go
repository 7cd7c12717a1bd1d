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

import "time"

// CloudEvent is the envelope published to the change-event stream.
type CloudEvent struct {
	SpecVersion     string      `json:"specversion"`
	ID              string      `json:"id"`
	Source          string      `json:"source"`
	Type            string      `json:"type"`
	DataContentType string      `json:"datacontenttype"`
	Subject         string      `json:"subject"`
	Time            *time.Time  `json:"time,omitempty"`
	Data            interface{} `json:"data,omitempty"`
}

// TopologyChangeEvent is the payload for graph change events.
type TopologyChangeEvent struct {
	FromVersion uint64     `json:"from_version"`
	ToVersion   uint64     `json:"to_version"`
	Diff        *GraphDiff `json:"diff"`
	Timestamp   time.Time  `json:"timestamp"`
}

// FindingEvent is the payload for new vulnerability or conflict findings.
type FindingEvent struct {
	Finding   *Finding  `json:"finding"`
	Timestamp time.Time `json:"timestamp"`
}
