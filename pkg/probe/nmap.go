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

package probe

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	nmap "github.com/Ullaakut/nmap/v3"

	"github.com/meshview/meshview/pkg/logger"
	"github.com/meshview/meshview/pkg/models"
)

// NmapProbe runs an nmap ping sweep (-sn) against a host or CIDR range.
// It yields lower-confidence sightings than the authenticated probes but
// covers hosts that answer nothing else.
type NmapProbe struct {
	logger logger.Logger
}

// NewNmapProbe creates an nmap host-discovery probe. The nmap binary must
// be on PATH.
func NewNmapProbe(log logger.Logger) *NmapProbe {
	return &NmapProbe{logger: log}
}

func (*NmapProbe) Source() models.ProbeSource { return models.ProbeSourceNmap }

// Run sweeps the target and returns one record per responding host.
func (p *NmapProbe) Run(ctx context.Context, target Target) ([]*models.DiscoveryRecord, error) {
	scanner, err := nmap.NewScanner(
		ctx,
		nmap.WithTargets(target.Host),
		nmap.WithPingScan(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create nmap scanner: %w", err)
	}

	result, warnings, err := scanner.Run()
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, fmt.Errorf("%w: %w", ErrTimeout, err)
		}

		return nil, fmt.Errorf("nmap sweep of %s failed: %w", target.Host, err)
	}

	if warnings != nil && len(*warnings) > 0 {
		p.logger.Debug().Strs("warnings", *warnings).Str("target", target.Host).Msg("nmap warnings")
	}

	now := time.Now()
	records := make([]*models.DiscoveryRecord, 0, len(result.Hosts))

	for i := range result.Hosts {
		host := &result.Hosts[i]

		if host.Status.State != "up" || len(host.Addresses) == 0 {
			continue
		}

		record := &models.DiscoveryRecord{
			SourceProbe:    models.ProbeSourceNmap,
			Target:         target.Host,
			Timestamp:      now,
			ConfidenceHint: models.ConfidenceHostDiscovery,
			Attrs:          models.DeviceAttrs{Metadata: map[string]string{}},
		}

		for _, addr := range host.Addresses {
			switch addr.AddrType {
			case "ipv4", "ipv6":
				if record.Identity.IP == "" {
					record.Identity.IP = addr.Addr
				}
			case "mac":
				record.Identity.MAC = models.NormalizeMAC(addr.Addr)

				if addr.Vendor != "" {
					record.Attrs.Vendor = addr.Vendor
				}
			}
		}

		if record.Identity.IP == "" && record.Identity.MAC == "" {
			continue
		}

		if len(host.Hostnames) > 0 {
			name := host.Hostnames[0].Name
			if idx := strings.Index(name, "."); idx > 2 {
				name = name[:idx]
			}

			record.Attrs.Hostname = name
		}

		records = append(records, record)
	}

	return records, nil
}
