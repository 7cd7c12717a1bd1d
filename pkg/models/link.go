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

// LinkType classifies how a topology link was established.
type LinkType string

const (
	LinkTypePhysical LinkType = "physical"
	LinkTypeLogical  LinkType = "logical"
	LinkTypeInferred LinkType = "inferred"
)

// Link is an unordered connection between two devices. Endpoints are stored
// in canonical order (A < B lexicographically) so the pair plus the link
// type forms a stable dedupe key.
type Link struct {
	Key string `json:"key" db:"link_key"`

	A string `json:"a" db:"endpoint_a"`
	B string `json:"b" db:"endpoint_b"`

	Type          LinkType    `json:"type" db:"link_type"`
	DiscoveredVia ProbeSource `json:"discovered_via" db:"discovered_via"`
	LocalPort     string      `json:"local_port,omitempty" db:"local_port"`
	RemotePort    string      `json:"remote_port,omitempty" db:"remote_port"`

	FirstSeen time.Time `json:"first_seen" db:"first_seen"`
	LastSeen  time.Time `json:"last_seen" db:"last_seen"`
}

// LinkKey builds the canonical key for an unordered endpoint pair and type.
func LinkKey(a, b string, linkType LinkType) string {
	if b < a {
		a, b = b, a
	}

	return a + "|" + b + "|" + string(linkType)
}

// NewLink constructs a link with canonically ordered endpoints.
func NewLink(a, b string, linkType LinkType, via ProbeSource, ts time.Time) *Link {
	if b < a {
		a, b = b, a
	}

	return &Link{
		Key:           LinkKey(a, b, linkType),
		A:             a,
		B:             b,
		Type:          linkType,
		DiscoveredVia: via,
		FirstSeen:     ts,
		LastSeen:      ts,
	}
}

// Clone returns a copy of the link.
func (l *Link) Clone() *Link {
	if l == nil {
		return nil
	}

	out := *l

	return &out
}

// Other returns the endpoint opposite to the given device key, or the empty
// string if the key is not an endpoint of this link.
func (l *Link) Other(key string) string {
	switch key {
	case l.A:
		return l.B
	case l.B:
		return l.A
	default:
		return ""
	}
}
