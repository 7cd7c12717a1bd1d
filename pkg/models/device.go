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
	"fmt"
	"strings"
	"time"
)

// DeviceStatus represents the operational state of a discovered device.
type DeviceStatus string

const (
	DeviceStatusUnknown     DeviceStatus = "unknown"
	DeviceStatusOnline      DeviceStatus = "online"
	DeviceStatusWarning     DeviceStatus = "warning"
	DeviceStatusOffline     DeviceStatus = "offline"
	DeviceStatusMaintenance DeviceStatus = "maintenance"
)

// ProbeSource identifies the discovery technique that produced an observation.
type ProbeSource string

const (
	ProbeSourceSNMP     ProbeSource = "snmp"
	ProbeSourceSSH      ProbeSource = "ssh"
	ProbeSourceAPI      ProbeSource = "api"
	ProbeSourceListener ProbeSource = "listener"
	ProbeSourceNmap     ProbeSource = "nmap"
	ProbeSourceManual   ProbeSource = "manual"
)

// Default confidence hints per source (0-1 scale). Authenticated or active
// queries rank above passive observation; human input ranks above everything.
const (
	ConfidencePassiveListener = 0.4
	ConfidenceHostDiscovery   = 0.5
	ConfidenceVendorAPI       = 0.8
	ConfidenceSNMP            = 0.9
	ConfidenceSSH             = 0.9
	ConfidenceManual          = 1.0
)

// SourceConfidence returns the default confidence hint for a probe source.
func SourceConfidence(source ProbeSource) float64 {
	switch source {
	case ProbeSourceListener:
		return ConfidencePassiveListener
	case ProbeSourceNmap:
		return ConfidenceHostDiscovery
	case ProbeSourceAPI:
		return ConfidenceVendorAPI
	case ProbeSourceSNMP:
		return ConfidenceSNMP
	case ProbeSourceSSH:
		return ConfidenceSSH
	case ProbeSourceManual:
		return ConfidenceManual
	default:
		return 0.1
	}
}

// SourceIsActive reports whether a probe source actively queries the target,
// as opposed to passively observing traffic. Active sources win merge
// tie-breaks against passive ones.
func SourceIsActive(source ProbeSource) bool {
	switch source {
	case ProbeSourceSNMP, ProbeSourceSSH, ProbeSourceAPI, ProbeSourceNmap, ProbeSourceManual:
		return true
	default:
		return false
	}
}

// DiscoveredField is a device attribute value with its discovery attribution.
// Merge precedence between two values for the same field: higher confidence
// wins; on a tie the more recent timestamp wins; on a further tie an active
// source outranks a passive one.
type DiscoveredField[T any] struct {
	Value      T           `json:"value"`
	Source     ProbeSource `json:"source"`
	Confidence float64     `json:"confidence"`
	Timestamp  time.Time   `json:"timestamp"`
}

// Supersedes reports whether a candidate observation should replace the
// current field value under the documented precedence order.
func (f *DiscoveredField[T]) Supersedes(confidence float64, ts time.Time, source ProbeSource) bool {
	if f == nil {
		return true
	}

	if confidence != f.Confidence {
		return confidence > f.Confidence
	}

	if !ts.Equal(f.Timestamp) {
		return ts.After(f.Timestamp)
	}

	return SourceIsActive(source) && !SourceIsActive(f.Source)
}

// SourceInfo tracks when and how a device was observed by one probe source.
type SourceInfo struct {
	Source     ProbeSource `json:"source"`
	FirstSeen  time.Time   `json:"first_seen"`
	LastSeen   time.Time   `json:"last_seen"`
	Confidence float64     `json:"confidence"`
}

// Device is the canonical inventory record for one network device.
//
// The MAC address is the primary identity key. A device learned from an
// IP-only observation is provisional and is folded into a MAC-keyed record
// once a MAC is learned for that IP.
type Device struct {
	Key string `json:"key" db:"device_key"`
	MAC string `json:"mac,omitempty" db:"mac"`
	IP  string `json:"ip,omitempty" db:"ip"`

	Hostname   *DiscoveredField[string]            `json:"hostname,omitempty"`
	DeviceType *DiscoveredField[string]            `json:"device_type,omitempty"`
	Vendor     *DiscoveredField[string]            `json:"vendor,omitempty"`
	Model      *DiscoveredField[string]            `json:"model,omitempty"`
	OSVersion  *DiscoveredField[string]            `json:"os_version,omitempty"`
	Metadata   *DiscoveredField[map[string]string] `json:"metadata,omitempty"`

	Status     DeviceStatus `json:"status" db:"status"`
	Confidence float64      `json:"confidence" db:"confidence"`
	FirstSeen  time.Time    `json:"first_seen" db:"first_seen"`
	LastSeen   time.Time    `json:"last_seen" db:"last_seen"`

	Sources []SourceInfo `json:"sources"`

	// StatusPinned marks a manually applied status (e.g. maintenance) that
	// lifecycle sweeps must not override.
	StatusPinned bool `json:"status_pinned,omitempty"`
}

// Provisional reports whether the device has no known MAC yet and is
// therefore merge-eligible once a MAC is learned.
func (d *Device) Provisional() bool {
	return d.MAC == ""
}

// HostnameValue returns the merged hostname or the empty string.
func (d *Device) HostnameValue() string {
	if d.Hostname == nil {
		return ""
	}

	return d.Hostname.Value
}

// Clone returns a deep copy of the device. Snapshots are immutable once
// published, so every mutation path works on a clone.
func (d *Device) Clone() *Device {
	if d == nil {
		return nil
	}

	out := *d

	out.Hostname = cloneField(d.Hostname)
	out.DeviceType = cloneField(d.DeviceType)
	out.Vendor = cloneField(d.Vendor)
	out.Model = cloneField(d.Model)
	out.OSVersion = cloneField(d.OSVersion)

	if d.Metadata != nil {
		meta := *d.Metadata
		meta.Value = make(map[string]string, len(d.Metadata.Value))

		for k, v := range d.Metadata.Value {
			meta.Value[k] = v
		}

		out.Metadata = &meta
	}

	out.Sources = make([]SourceInfo, len(d.Sources))
	copy(out.Sources, d.Sources)

	return &out
}

func cloneField[T any](f *DiscoveredField[T]) *DiscoveredField[T] {
	if f == nil {
		return nil
	}

	out := *f

	return &out
}

// MarkSeen records an observation from the given source, updating the
// per-source sighting list and the device-level seen timestamps.
func (d *Device) MarkSeen(source ProbeSource, confidence float64, ts time.Time) {
	if d.FirstSeen.IsZero() || ts.Before(d.FirstSeen) {
		d.FirstSeen = ts
	}

	if ts.After(d.LastSeen) {
		d.LastSeen = ts
	}

	if confidence > d.Confidence {
		d.Confidence = confidence
	}

	for i := range d.Sources {
		if d.Sources[i].Source == source {
			if ts.After(d.Sources[i].LastSeen) {
				d.Sources[i].LastSeen = ts
			}

			if confidence > d.Sources[i].Confidence {
				d.Sources[i].Confidence = confidence
			}

			return
		}
	}

	d.Sources = append(d.Sources, SourceInfo{
		Source:     source,
		FirstSeen:  ts,
		LastSeen:   ts,
		Confidence: confidence,
	})
}

// DeviceKeyForMAC returns the canonical identity key for a MAC address.
func DeviceKeyForMAC(mac string) string {
	return "mac:" + NormalizeMAC(mac)
}

// DeviceKeyForIP returns the provisional identity key for an IP-only device.
func DeviceKeyForIP(ip string) string {
	return "ip:" + strings.TrimSpace(ip)
}

// NormalizeMAC canonicalizes a MAC address to upper-case colon-separated
// form so that aa-bb-cc-dd-ee-ff and AA:BB:CC:DD:EE:FF dedupe to one key.
// Strings that are not a 48-bit MAC in any recognized notation normalize
// to the empty string.
func NormalizeMAC(mac string) string {
	s := strings.TrimSpace(mac)
	s = strings.ReplaceAll(s, "-", ":")
	s = strings.ReplaceAll(s, ".", "")
	s = strings.ReplaceAll(s, ":", "")

	if len(s) != 12 {
		return ""
	}

	var b strings.Builder

	for i := 0; i < 12; i += 2 {
		if !isHexByte(s[i]) || !isHexByte(s[i+1]) {
			return ""
		}

		if i > 0 {
			b.WriteByte(':')
		}

		b.WriteString(s[i : i+2])
	}

	return strings.ToUpper(b.String())
}

func isHexByte(c byte) bool {
	switch {
	case c >= '0' && c <= '9', c >= 'a' && c <= 'f', c >= 'A' && c <= 'F':
		return true
	default:
		return false
	}
}

func (d *Device) String() string {
	return fmt.Sprintf("device %s (mac=%s ip=%s status=%s)", d.Key, d.MAC, d.IP, d.Status)
}
