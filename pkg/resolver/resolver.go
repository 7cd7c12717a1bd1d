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

// Package resolver normalizes raw discovery records into canonical device
// and link records. The MAC address is the primary identity key; IP-only
// observations create provisional devices that are folded into MAC-keyed
// records once a MAC is learned. Field merges follow a strict precedence:
// higher confidence wins, then the newer timestamp, then an active source
// over a passive one.
package resolver

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/meshview/meshview/pkg/logger"
	"github.com/meshview/meshview/pkg/models"
)

// Resolver turns round results into graph deltas.
type Resolver struct {
	logger logger.Logger
}

// New creates a resolver.
func New(log logger.Logger) *Resolver {
	return &Resolver{logger: log}
}

// workset tracks the devices and links being built while resolving one
// round, layered over the read-only current snapshot.
type workset struct {
	snapshot  *models.Snapshot
	devices   map[string]*models.Device
	links     map[string]*models.Link
	removals  []string
	conflicts []*models.Finding
	// conflictSeen dedupes conflict findings per subject within a round.
	conflictSeen map[string]struct{}
}

// Resolve merges every discovery record of a round against the current
// snapshot and produces the delta to apply. Resolution never fails:
// malformed observations are dropped, identity conflicts become findings.
func (r *Resolver) Resolve(round *models.RoundResult, snapshot *models.Snapshot) *models.GraphDelta {
	if snapshot == nil {
		snapshot = models.EmptySnapshot()
	}

	ws := &workset{
		snapshot:     snapshot,
		devices:      make(map[string]*models.Device),
		links:        make(map[string]*models.Link),
		conflictSeen: make(map[string]struct{}),
	}

	// Sort records into a canonical order so the merge outcome does not
	// depend on probe completion order.
	records := make([]*models.DiscoveryRecord, len(round.Records))
	copy(records, round.Records)

	sort.SliceStable(records, func(i, j int) bool {
		if !records[i].Timestamp.Equal(records[j].Timestamp) {
			return records[i].Timestamp.Before(records[j].Timestamp)
		}

		if records[i].SourceProbe != records[j].SourceProbe {
			return records[i].SourceProbe < records[j].SourceProbe
		}

		return records[i].Target < records[j].Target
	})

	for _, record := range records {
		device := r.resolveDevice(ws, record)
		if device == nil {
			continue
		}

		r.resolveLinks(ws, record, device)
	}

	delta := &models.GraphDelta{
		RoundID:       round.RoundID,
		ObservedAt:    time.Now(),
		RemoveDevices: ws.removals,
		Conflicts:     ws.conflicts,
	}

	for _, d := range sortedKeys(ws.devices) {
		delta.Devices = append(delta.Devices, ws.devices[d])
	}

	for _, l := range sortedKeys(ws.links) {
		delta.Links = append(delta.Links, ws.links[l])
	}

	return delta
}

// resolveDevice locates or creates the canonical device for a record and
// merges the record's attributes into it.
func (r *Resolver) resolveDevice(ws *workset, record *models.DiscoveryRecord) *models.Device {
	mac := models.NormalizeMAC(record.Identity.MAC)
	ip := record.Identity.IP

	if mac == "" && ip == "" {
		r.logger.Debug().
			Str("probe", string(record.SourceProbe)).
			Str("target", record.Target).
			Msg("dropping observation without identity candidates")

		return nil
	}

	device := ws.lookup(mac, ip)

	switch {
	case device == nil:
		device = newDevice(mac, ip, record.Timestamp)
	case mac != "" && device.Provisional():
		// An ip-only provisional record just learned its MAC: rekey it and
		// drop the provisional entry in the same delta.
		ws.rekey(device, mac)
	case mac != "" && device.MAC != "" && device.MAC != mac:
		// Two sources claim the same IP with different MACs. Keep the
		// existing binding, surface the disagreement for manual review.
		r.flagConflict(ws, device, record,
			fmt.Sprintf("IP %s bound to MAC %s but %s reports MAC %s", ip, device.MAC, record.SourceProbe, mac))

		return nil
	}

	if ip != "" {
		if device.IP == "" {
			device.IP = ip
		} else if device.IP != ip {
			// Conflicting MAC-to-IP binding: retain the existing binding.
			r.flagConflict(ws, device, record,
				fmt.Sprintf("MAC %s bound to IP %s but %s reports IP %s", device.MAC, device.IP, record.SourceProbe, ip))
		}
	}

	mergeAttrs(device, record)

	device.MarkSeen(record.SourceProbe, record.ConfidenceHint, record.Timestamp)

	if !device.StatusPinned {
		device.Status = models.DeviceStatusOnline
	}

	ws.devices[device.Key] = device

	return device
}

// resolveLinks turns a record's neighbor sightings into canonical links,
// creating stub devices for neighbors not yet in the inventory so that no
// link ever references a missing device.
func (r *Resolver) resolveLinks(ws *workset, record *models.DiscoveryRecord, local *models.Device) {
	for _, obs := range record.Links {
		neighbor := r.resolveNeighbor(ws, record, obs)
		if neighbor == nil || neighbor.Key == local.Key {
			continue
		}

		linkType := obs.Type
		if linkType == "" {
			linkType = models.LinkTypeInferred
		}

		key := models.LinkKey(local.Key, neighbor.Key, linkType)

		link := ws.links[key]
		if link == nil {
			if existing := ws.snapshot.Links[key]; existing != nil {
				link = existing.Clone()
			} else {
				link = models.NewLink(local.Key, neighbor.Key, linkType, record.SourceProbe, record.Timestamp)
				link.LocalPort = obs.LocalPort
				link.RemotePort = obs.NeighborPort
			}
		}

		if record.Timestamp.After(link.LastSeen) {
			link.LastSeen = record.Timestamp
		}

		ws.links[key] = link
	}
}

// resolveNeighbor locates or creates the device on the far side of a link
// observation. Neighbor attributes inherit the record's source with a
// reduced confidence, since they were reported about rather than by the
// device itself.
func (r *Resolver) resolveNeighbor(ws *workset, record *models.DiscoveryRecord, obs models.LinkObservation) *models.Device {
	mac := models.NormalizeMAC(obs.NeighborMAC)
	ip := obs.NeighborIP

	if mac == "" && ip == "" {
		return nil
	}

	neighbor := ws.lookup(mac, ip)
	if neighbor == nil {
		neighbor = newDevice(mac, ip, record.Timestamp)
	} else if mac != "" && neighbor.Provisional() {
		ws.rekey(neighbor, mac)
	}

	if neighbor.IP == "" && ip != "" {
		neighbor.IP = ip
	}

	confidence := record.ConfidenceHint * 0.75

	if obs.NeighborName != "" && neighbor.Hostname.Supersedes(confidence, record.Timestamp, record.SourceProbe) {
		neighbor.Hostname = &models.DiscoveredField[string]{
			Value:      obs.NeighborName,
			Source:     record.SourceProbe,
			Confidence: confidence,
			Timestamp:  record.Timestamp,
		}
	}

	neighbor.MarkSeen(record.SourceProbe, confidence, record.Timestamp)

	if !neighbor.StatusPinned && neighbor.Status == "" {
		neighbor.Status = models.DeviceStatusUnknown
	}

	ws.devices[neighbor.Key] = neighbor

	return neighbor
}

func (r *Resolver) flagConflict(ws *workset, device *models.Device, record *models.DiscoveryRecord, summary string) {
	if _, ok := ws.conflictSeen[device.Key+"|"+summary]; ok {
		return
	}

	ws.conflictSeen[device.Key+"|"+summary] = struct{}{}

	r.logger.Warn().
		Str("device", device.Key).
		Str("probe", string(record.SourceProbe)).
		Msg("identity binding conflict")

	ws.conflicts = append(ws.conflicts, &models.Finding{
		ID:       uuid.New().String(),
		Type:     models.FindingResolverConflict,
		Severity: models.SeverityMedium,
		Subject:  device.Key,
		Summary:  summary,
		Details: map[string]string{
			"probe":  string(record.SourceProbe),
			"target": record.Target,
		},
		DetectedAt: record.Timestamp,
	})
}

// rekey folds a provisional ip-keyed device into its MAC-keyed identity.
// Every link referencing the provisional key moves with the rename: pending
// links in the workset are rewritten in place, and links committed under
// the old key in earlier snapshots are re-emitted against the new key so
// the removal's cascade never cuts them short.
func (ws *workset) rekey(device *models.Device, mac string) {
	oldKey := device.Key
	newKey := models.DeviceKeyForMAC(mac)

	delete(ws.devices, oldKey)
	ws.removals = append(ws.removals, oldKey)

	device.Key = newKey
	device.MAC = mac

	for key, link := range ws.links {
		if link.A != oldKey && link.B != oldKey {
			continue
		}

		delete(ws.links, key)
		rewriteEndpoint(link, oldKey, newKey)
		ws.links[link.Key] = link
	}

	for _, link := range ws.snapshot.Links {
		if link.A != oldKey && link.B != oldKey {
			continue
		}

		moved := link.Clone()
		rewriteEndpoint(moved, oldKey, newKey)

		if _, ok := ws.links[moved.Key]; !ok {
			ws.links[moved.Key] = moved
		}
	}
}

// rewriteEndpoint renames one endpoint of a link, restoring the canonical
// endpoint order and key.
func rewriteEndpoint(link *models.Link, oldKey, newKey string) {
	a, b := link.A, link.B

	if a == oldKey {
		a = newKey
	}

	if b == oldKey {
		b = newKey
	}

	if b < a {
		a, b = b, a
	}

	link.A, link.B = a, b
	link.Key = models.LinkKey(link.A, link.B, link.Type)
}

// lookup finds the device for the given identity, checking the in-progress
// workset first, then the snapshot (cloning, since snapshots are
// immutable). MAC lookups win over IP lookups.
func (ws *workset) lookup(mac, ip string) *models.Device {
	if mac != "" {
		key := models.DeviceKeyForMAC(mac)

		if d, ok := ws.devices[key]; ok {
			return d
		}

		if d := ws.snapshot.Device(key); d != nil {
			return d.Clone()
		}
	}

	if ip != "" {
		// Provisional record pending in this round?
		if d, ok := ws.devices[models.DeviceKeyForIP(ip)]; ok {
			return d
		}

		for _, d := range ws.devices {
			if d.IP == ip {
				return d
			}
		}

		if d := ws.snapshot.DeviceByIP(ip); d != nil {
			return d.Clone()
		}
	}

	return nil
}

func newDevice(mac, ip string, ts time.Time) *models.Device {
	d := &models.Device{
		IP:        ip,
		Status:    models.DeviceStatusUnknown,
		FirstSeen: ts,
		LastSeen:  ts,
	}

	if mac != "" {
		d.MAC = mac
		d.Key = models.DeviceKeyForMAC(mac)
	} else {
		d.Key = models.DeviceKeyForIP(ip)
	}

	return d
}

// mergeAttrs applies the record's attribute payload field by field under
// the precedence rules.
func mergeAttrs(device *models.Device, record *models.DiscoveryRecord) {
	merge := func(current **models.DiscoveredField[string], value string) {
		if value == "" {
			return
		}

		if (*current).Supersedes(record.ConfidenceHint, record.Timestamp, record.SourceProbe) {
			*current = &models.DiscoveredField[string]{
				Value:      value,
				Source:     record.SourceProbe,
				Confidence: record.ConfidenceHint,
				Timestamp:  record.Timestamp,
			}
		}
	}

	merge(&device.Hostname, record.Attrs.Hostname)
	merge(&device.DeviceType, record.Attrs.DeviceType)
	merge(&device.Vendor, record.Attrs.Vendor)
	merge(&device.Model, record.Attrs.Model)
	merge(&device.OSVersion, record.Attrs.OSVersion)

	if len(record.Attrs.Metadata) > 0 {
		if device.Metadata == nil {
			device.Metadata = &models.DiscoveredField[map[string]string]{
				Value:      map[string]string{},
				Source:     record.SourceProbe,
				Confidence: record.ConfidenceHint,
				Timestamp:  record.Timestamp,
			}
		}

		// Metadata merges additively; individual keys follow the same
		// precedence as scalar fields via the field-level attribution.
		if record.ConfidenceHint >= device.Metadata.Confidence {
			for k, v := range record.Attrs.Metadata {
				device.Metadata.Value[k] = v
			}

			device.Metadata.Source = record.SourceProbe
			device.Metadata.Confidence = record.ConfidenceHint
			device.Metadata.Timestamp = record.Timestamp
		} else {
			for k, v := range record.Attrs.Metadata {
				if _, exists := device.Metadata.Value[k]; !exists {
					device.Metadata.Value[k] = v
				}
			}
		}
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))

	for k := range m {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	return keys
}
