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

// Package probe defines the discovery capability interface and its variant
// implementations: passive link-layer listener, authenticated remote-query
// clients (SNMP, SSH), vendor management-API client, and nmap host sweep.
package probe

import (
	"context"

	"github.com/meshview/meshview/pkg/models"
)

// Target is one host or interface a probe runs against, together with the
// credentials the probe variant may need.
type Target struct {
	// Host is the IP address or hostname for active probes.
	Host string `json:"host"`
	// Interface is the local capture interface for passive listeners.
	Interface string `json:"interface,omitempty"`

	Credentials Credentials `json:"credentials"`
}

// Credentials carries per-target secrets. Each probe variant reads only the
// fields it understands.
type Credentials struct {
	SNMPCommunity string `json:"snmp_community,omitempty"`
	SNMPPort      uint16 `json:"snmp_port,omitempty"`

	SSHUser     string `json:"ssh_user,omitempty"`
	SSHPassword string `json:"ssh_password,omitempty"`
	SSHPort     uint16 `json:"ssh_port,omitempty"`

	APIBaseURL         string `json:"api_base_url,omitempty"`
	APIKey             string `json:"api_key,omitempty"`
	APIInsecureSkipTLS bool   `json:"api_insecure_skip_tls,omitempty"`
}

// Probe is a single discovery technique. Implementations are stateless per
// invocation and perform network I/O only; they never mutate shared state.
//
// Run must honor ctx as a hard deadline: it returns promptly on
// cancellation and hands back whatever records were fully parsed before the
// cutoff alongside the error. Records fully parsed before cancellation are
// never dropped.
type Probe interface {
	Source() models.ProbeSource
	Run(ctx context.Context, target Target) ([]*models.DiscoveryRecord, error)
}
