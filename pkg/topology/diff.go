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

package topology

import (
	"sort"

	"github.com/meshview/meshview/pkg/models"
)

// computeDiff derives additions, removals, and status transitions between
// two snapshots. Output slices are sorted by key so diffs are stable.
func computeDiff(from, to *models.Snapshot) *models.GraphDiff {
	diff := &models.GraphDiff{
		FromVersion: from.Version,
		ToVersion:   to.Version,
	}

	for key, d := range to.Devices {
		prev, ok := from.Devices[key]

		switch {
		case !ok:
			diff.AddedDevices = append(diff.AddedDevices, d)
		case prev.Status != d.Status:
			diff.StatusChanged = append(diff.StatusChanged, models.StatusChange{
				DeviceKey: key,
				From:      prev.Status,
				To:        d.Status,
			})
		}
	}

	for key, d := range from.Devices {
		if _, ok := to.Devices[key]; !ok {
			diff.RemovedDevices = append(diff.RemovedDevices, d)
		}
	}

	for key, l := range to.Links {
		if _, ok := from.Links[key]; !ok {
			diff.AddedLinks = append(diff.AddedLinks, l)
		}
	}

	for key, l := range from.Links {
		if _, ok := to.Links[key]; !ok {
			diff.RemovedLinks = append(diff.RemovedLinks, l)
		}
	}

	sort.Slice(diff.AddedDevices, func(i, j int) bool { return diff.AddedDevices[i].Key < diff.AddedDevices[j].Key })
	sort.Slice(diff.RemovedDevices, func(i, j int) bool { return diff.RemovedDevices[i].Key < diff.RemovedDevices[j].Key })
	sort.Slice(diff.AddedLinks, func(i, j int) bool { return diff.AddedLinks[i].Key < diff.AddedLinks[j].Key })
	sort.Slice(diff.RemovedLinks, func(i, j int) bool { return diff.RemovedLinks[i].Key < diff.RemovedLinks[j].Key })
	sort.Slice(diff.StatusChanged, func(i, j int) bool { return diff.StatusChanged[i].DeviceKey < diff.StatusChanged[j].DeviceKey })

	return diff
}
