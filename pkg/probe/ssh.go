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
	"net"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/meshview/meshview/pkg/logger"
	"github.com/meshview/meshview/pkg/models"
)

const (
	defaultSSHPort    = 22
	defaultSSHTimeout = 10 * time.Second
)

// SSHProbe opens an authenticated session against a network device and
// issues read-only show commands, parsing device attributes from the
// version output and topology neighbors from the CDP detail table.
type SSHProbe struct {
	timeout time.Duration
	logger  logger.Logger
}

// NewSSHProbe creates an SSH probe with the given connect timeout.
func NewSSHProbe(timeout time.Duration, log logger.Logger) *SSHProbe {
	if timeout <= 0 {
		timeout = defaultSSHTimeout
	}

	return &SSHProbe{timeout: timeout, logger: log}
}

func (*SSHProbe) Source() models.ProbeSource { return models.ProbeSourceSSH }

// Run connects, gathers version and neighbor output, and returns one record
// for the target. A cancellation mid-session returns whatever was parsed so
// far together with the timeout error.
func (p *SSHProbe) Run(ctx context.Context, target Target) ([]*models.DiscoveryRecord, error) {
	creds := target.Credentials
	if creds.SSHUser == "" || creds.SSHPassword == "" {
		return nil, fmt.Errorf("%w: ssh user/password for %s", ErrMissingCredentials, target.Host)
	}

	client, err := p.connect(ctx, target)
	if err != nil {
		return nil, err
	}
	defer func() { _ = client.Close() }()

	record := &models.DiscoveryRecord{
		SourceProbe:    models.ProbeSourceSSH,
		Target:         target.Host,
		Timestamp:      time.Now(),
		ConfidenceHint: models.ConfidenceSSH,
		Identity:       models.IdentityCandidates{IP: target.Host},
		Attrs:          models.DeviceAttrs{Metadata: map[string]string{}},
	}

	out, err := p.runCommand(ctx, client, "show version")
	if err != nil {
		return nil, err
	}

	parseShowVersion(out, &record.Attrs)

	if err := ctx.Err(); err != nil {
		return []*models.DiscoveryRecord{record}, fmt.Errorf("%w: %w", ErrTimeout, err)
	}

	out, err = p.runCommand(ctx, client, "show cdp neighbors detail")
	if err != nil {
		// Version info already parsed is a usable partial result.
		return []*models.DiscoveryRecord{record}, err
	}

	record.Links = ParseCDPNeighborsDetail(out, target.Host)

	return []*models.DiscoveryRecord{record}, nil
}

func (p *SSHProbe) connect(ctx context.Context, target Target) (*ssh.Client, error) {
	port := target.Credentials.SSHPort
	if port == 0 {
		port = defaultSSHPort
	}

	config := &ssh.ClientConfig{
		User: target.Credentials.SSHUser,
		Auth: []ssh.AuthMethod{
			ssh.Password(target.Credentials.SSHPassword),
		},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), //nolint:gosec // G106: network gear rarely has managed host keys
		Timeout:         p.timeout,
	}

	addr := net.JoinHostPort(target.Host, fmt.Sprintf("%d", port))

	dialer := &net.Dialer{Timeout: p.timeout}

	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, classifyNetErr(err)
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
	if err != nil {
		_ = conn.Close()

		if strings.Contains(err.Error(), "unable to authenticate") ||
			strings.Contains(err.Error(), "password") {
			return nil, fmt.Errorf("%w: %w", ErrAuthFailure, err)
		}

		return nil, classifyNetErr(err)
	}

	return ssh.NewClient(sshConn, chans, reqs), nil
}

func (p *SSHProbe) runCommand(ctx context.Context, client *ssh.Client, cmd string) (string, error) {
	session, err := client.NewSession()
	if err != nil {
		return "", classifyNetErr(err)
	}
	defer func() { _ = session.Close() }()

	done := make(chan error, 1)

	var output []byte

	go func() {
		var runErr error
		output, runErr = session.CombinedOutput(cmd)
		done <- runErr
	}()

	select {
	case err := <-done:
		if err != nil {
			var exitErr *ssh.ExitError
			if errors.As(err, &exitErr) {
				// Non-zero exit still carries usable output.
				return string(output), nil
			}

			return "", classifyNetErr(err)
		}

		return string(output), nil
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGKILL)
		return "", fmt.Errorf("%w: %w", ErrTimeout, ctx.Err())
	}
}

// parseShowVersion extracts hostname, vendor, model, and OS version from
// IOS-style "show version" output.
func parseShowVersion(out string, attrs *models.DeviceAttrs) {
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)

		switch {
		case strings.Contains(line, "IOS") && strings.Contains(line, "Version"):
			attrs.Vendor = "Cisco"

			if idx := strings.Index(line, "Version "); idx >= 0 {
				version := line[idx+len("Version "):]
				if end := strings.IndexAny(version, ", "); end > 0 {
					version = version[:end]
				}

				attrs.OSVersion = version
			}
		case strings.Contains(line, "RouterOS"):
			attrs.Vendor = "MikroTik"
			attrs.OSVersion = strings.TrimSpace(line)
		case strings.HasSuffix(line, "uptime is") || strings.Contains(line, " uptime is "):
			if fields := strings.Fields(line); len(fields) > 0 {
				attrs.Hostname = fields[0]
			}
		case strings.HasPrefix(line, "Model number") || strings.HasPrefix(line, "Model Number"):
			if _, after, ok := strings.Cut(line, ":"); ok {
				attrs.Model = strings.TrimSpace(after)
			}
		}
	}
}

// ParseCDPNeighborsDetail parses "show cdp neighbors detail" output into
// link observations. Entries are separated by dashed lines; each carries a
// device ID, management address, platform, and the two interface names.
func ParseCDPNeighborsDetail(out, localIP string) []models.LinkObservation {
	var links []models.LinkObservation

	for _, block := range strings.Split(out, "-------------------------") {
		var obs models.LinkObservation

		obs.LocalIP = localIP
		obs.Type = models.LinkTypePhysical

		for _, line := range strings.Split(block, "\n") {
			line = strings.TrimSpace(line)

			switch {
			case strings.HasPrefix(line, "Device ID:"):
				obs.NeighborName = strings.TrimSpace(strings.TrimPrefix(line, "Device ID:"))
			case strings.HasPrefix(line, "IP address:"):
				if obs.NeighborIP == "" {
					obs.NeighborIP = strings.TrimSpace(strings.TrimPrefix(line, "IP address:"))
				}
			case strings.HasPrefix(line, "Interface:"):
				rest := strings.TrimPrefix(line, "Interface:")

				local, remote, found := strings.Cut(rest, ",")
				obs.LocalPort = strings.TrimSpace(local)

				if found {
					remote = strings.TrimSpace(remote)
					remote = strings.TrimPrefix(remote, "Port ID (outgoing port):")
					obs.NeighborPort = strings.TrimSpace(remote)
				}
			}
		}

		if obs.NeighborName != "" || obs.NeighborIP != "" {
			links = append(links, obs)
		}
	}

	return links
}
