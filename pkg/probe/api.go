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
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/meshview/meshview/pkg/logger"
	"github.com/meshview/meshview/pkg/models"
)

// controllerDevice is a device entry from a UniFi-style controller API.
type controllerDevice struct {
	ID        string `json:"id"`
	IPAddress string `json:"ipAddress"`
	Name      string `json:"name"`
	MAC       string `json:"macAddress"`
	Model     string `json:"model"`
	Firmware  string `json:"firmwareVersion"`
	State     string `json:"state"`
	Uplink    struct {
		DeviceID string `json:"deviceId"`
	} `json:"uplink"`
}

// APIProbe queries a vendor controller management API for its device
// inventory. The controller sees every device it manages plus the uplink
// relations between them, so one probe invocation can observe devices
// beyond the nominal target.
type APIProbe struct {
	timeout time.Duration
	logger  logger.Logger
}

// NewAPIProbe creates a vendor API probe with the given request timeout.
func NewAPIProbe(timeout time.Duration, log logger.Logger) *APIProbe {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	return &APIProbe{timeout: timeout, logger: log}
}

func (*APIProbe) Source() models.ProbeSource { return models.ProbeSourceAPI }

// Run lists the controller's devices and returns one record per device,
// with uplink links attached to the record of the downstream device.
func (p *APIProbe) Run(ctx context.Context, target Target) ([]*models.DiscoveryRecord, error) {
	creds := target.Credentials
	if creds.APIBaseURL == "" || creds.APIKey == "" {
		return nil, fmt.Errorf("%w: api base url/key for %s", ErrMissingCredentials, target.Host)
	}

	devices, err := p.fetchDevices(ctx, creds)
	if err != nil {
		return nil, err
	}

	now := time.Now()

	// The controller keys uplinks by its own device IDs; index by ID so
	// uplink references resolve to identity clues.
	byID := make(map[string]controllerDevice, len(devices))
	for _, d := range devices {
		byID[d.ID] = d
	}

	records := make([]*models.DiscoveryRecord, 0, len(devices))

	for _, d := range devices {
		if d.MAC == "" && d.IPAddress == "" {
			continue
		}

		record := &models.DiscoveryRecord{
			SourceProbe:    models.ProbeSourceAPI,
			Target:         target.Host,
			Timestamp:      now,
			ConfidenceHint: models.ConfidenceVendorAPI,
			Identity: models.IdentityCandidates{
				MAC:      models.NormalizeMAC(d.MAC),
				IP:       d.IPAddress,
				StableID: d.ID,
			},
			Attrs: models.DeviceAttrs{
				Hostname:  d.Name,
				Vendor:    "Ubiquiti",
				Model:     d.Model,
				OSVersion: d.Firmware,
				Metadata: map[string]string{
					"controller_state": d.State,
				},
			},
		}

		if up, ok := byID[d.Uplink.DeviceID]; ok {
			record.Links = append(record.Links, models.LinkObservation{
				LocalMAC:     models.NormalizeMAC(d.MAC),
				LocalIP:      d.IPAddress,
				NeighborMAC:  models.NormalizeMAC(up.MAC),
				NeighborIP:   up.IPAddress,
				NeighborName: up.Name,
				Type:         models.LinkTypePhysical,
			})
		}

		records = append(records, record)
	}

	return records, nil
}

func (p *APIProbe) fetchDevices(ctx context.Context, creds Credentials) ([]controllerDevice, error) {
	client := &http.Client{
		Timeout: p.timeout,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{
				InsecureSkipVerify: creds.APIInsecureSkipTLS, //nolint:gosec // G402: controllers commonly run self-signed certs
			},
		},
	}

	url := fmt.Sprintf("%s/devices", creds.APIBaseURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create devices request: %w", err)
	}

	req.Header.Set("X-API-Key", creds.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, classifyNetErr(err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized, http.StatusForbidden:
		return nil, fmt.Errorf("%w: controller returned status %d", ErrAuthFailure, resp.StatusCode)
	default:
		return nil, fmt.Errorf("devices request failed with status: %d", resp.StatusCode)
	}

	var devicesResp struct {
		Data []controllerDevice `json:"data"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&devicesResp); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedResponse, err)
	}

	return devicesResp.Data, nil
}
