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

	"github.com/gosnmp/gosnmp"

	"github.com/meshview/meshview/pkg/logger"
	"github.com/meshview/meshview/pkg/models"
)

// Common SNMP OIDs.
const (
	oidSysDescr    = ".1.3.6.1.2.1.1.1.0"
	oidSysObjectID = ".1.3.6.1.2.1.1.2.0"
	oidSysName     = ".1.3.6.1.2.1.1.5.0"
	oidSysLocation = ".1.3.6.1.2.1.1.6.0"

	oidIfPhysAddress = ".1.3.6.1.2.1.2.2.1.6"

	// LLDP remote systems table (LLDP-MIB).
	oidLLDPRemTable = ".1.0.8802.1.1.2.1.4.1.1"

	lldpColChassisID = 5
	lldpColPortID    = 7
	lldpColPortDescr = 8
	lldpColSysName   = 9

	defaultSNMPPort    = 161
	defaultSNMPTimeout = 5 * time.Second
)

// SNMPProbe queries a target over SNMP v2c: the system group for device
// attributes, the interface table for a stable MAC, and the LLDP remote
// table for topology links.
type SNMPProbe struct {
	timeout time.Duration
	logger  logger.Logger
}

// NewSNMPProbe creates an SNMP probe with the given per-request timeout.
func NewSNMPProbe(timeout time.Duration, log logger.Logger) *SNMPProbe {
	if timeout <= 0 {
		timeout = defaultSNMPTimeout
	}

	return &SNMPProbe{timeout: timeout, logger: log}
}

func (*SNMPProbe) Source() models.ProbeSource { return models.ProbeSourceSNMP }

// Run queries the target and returns one discovery record carrying the
// device attributes plus any LLDP neighbor links. Results gathered before a
// cancellation are returned alongside the error.
func (p *SNMPProbe) Run(ctx context.Context, target Target) ([]*models.DiscoveryRecord, error) {
	if target.Credentials.SNMPCommunity == "" {
		return nil, fmt.Errorf("%w: snmp community for %s", ErrMissingCredentials, target.Host)
	}

	client := p.newClient(ctx, target)

	if err := client.Connect(); err != nil {
		return nil, classifyNetErr(err)
	}

	defer func() {
		if client.Conn != nil {
			_ = client.Conn.Close()
		}
	}()

	record := &models.DiscoveryRecord{
		SourceProbe:    models.ProbeSourceSNMP,
		Target:         target.Host,
		Timestamp:      time.Now(),
		ConfidenceHint: models.ConfidenceSNMP,
		Identity:       models.IdentityCandidates{IP: target.Host},
		Attrs:          models.DeviceAttrs{Metadata: map[string]string{}},
	}

	if err := p.querySystemGroup(client, record); err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return []*models.DiscoveryRecord{record}, fmt.Errorf("%w: %w", ErrTimeout, err)
	}

	if mac, err := p.queryFirstMAC(client); err == nil && mac != "" {
		record.Identity.MAC = mac
	}

	if err := ctx.Err(); err != nil {
		return []*models.DiscoveryRecord{record}, fmt.Errorf("%w: %w", ErrTimeout, err)
	}

	links, err := p.queryLLDPNeighbors(client, target.Host)
	if err != nil {
		p.logger.Debug().Err(err).Str("target", target.Host).Msg("LLDP walk failed; returning system info only")
	}

	record.Links = links

	return []*models.DiscoveryRecord{record}, nil
}

func (p *SNMPProbe) newClient(ctx context.Context, target Target) *gosnmp.GoSNMP {
	port := target.Credentials.SNMPPort
	if port == 0 {
		port = defaultSNMPPort
	}

	timeout := p.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}

	return &gosnmp.GoSNMP{
		Context:   ctx,
		Target:    target.Host,
		Port:      port,
		Community: target.Credentials.SNMPCommunity,
		Version:   gosnmp.Version2c,
		Timeout:   timeout,
		Retries:   1,
	}
}

func (p *SNMPProbe) querySystemGroup(client *gosnmp.GoSNMP, record *models.DiscoveryRecord) error {
	oids := []string{oidSysDescr, oidSysObjectID, oidSysName, oidSysLocation}

	result, err := client.Get(oids)
	if err != nil {
		return classifyNetErr(err)
	}

	if result.Error != gosnmp.NoError {
		return fmt.Errorf("%w: snmp error status %d", ErrMalformedResponse, result.Error)
	}

	for _, v := range result.Variables {
		if v.Type == gosnmp.NoSuchObject || v.Type == gosnmp.NoSuchInstance {
			continue
		}

		switch v.Name {
		case oidSysDescr:
			if s := pduString(v); s != "" {
				record.Attrs.OSVersion = s
				record.Attrs.Vendor = vendorFromSysDescr(s)
			}
		case oidSysObjectID:
			if v.Type == gosnmp.ObjectIdentifier {
				record.Identity.StableID = fmt.Sprintf("%v", v.Value)
			}
		case oidSysName:
			record.Attrs.Hostname = pduString(v)
		case oidSysLocation:
			if s := pduString(v); s != "" {
				record.Attrs.Metadata["sys_location"] = s
			}
		}
	}

	return nil
}

// queryFirstMAC walks ifPhysAddress and returns the first non-empty MAC,
// which serves as the device's primary identity key.
func (p *SNMPProbe) queryFirstMAC(client *gosnmp.GoSNMP) (string, error) {
	var mac string

	err := client.Walk(oidIfPhysAddress, func(pdu gosnmp.SnmpPDU) error {
		if pdu.Type != gosnmp.OctetString {
			return nil
		}

		raw, ok := pdu.Value.([]byte)
		if !ok || len(raw) != 6 {
			return nil
		}

		mac = net.HardwareAddr(raw).String()

		return errWalkDone
	})

	if err != nil && !errors.Is(err, errWalkDone) {
		return "", classifyNetErr(err)
	}

	return models.NormalizeMAC(mac), nil
}

var errWalkDone = errors.New("walk complete")

// queryLLDPNeighbors walks the LLDP remote table and emits one link
// observation per remote entry. LLDP indexes rows by
// <timemark>.<localPort>.<index>, with the column number immediately after
// the table prefix.
func (p *SNMPProbe) queryLLDPNeighbors(client *gosnmp.GoSNMP, localIP string) ([]models.LinkObservation, error) {
	type neighbor struct {
		chassisID string
		portID    string
		portDescr string
		sysName   string
		localPort string
	}

	rows := make(map[string]*neighbor)

	err := client.Walk(oidLLDPRemTable, func(pdu gosnmp.SnmpPDU) error {
		suffix := strings.TrimPrefix(pdu.Name, oidLLDPRemTable+".")

		parts := strings.Split(suffix, ".")
		if len(parts) < 4 {
			return nil
		}

		col := parts[0]
		rowKey := strings.Join(parts[1:], ".")

		row, ok := rows[rowKey]
		if !ok {
			row = &neighbor{localPort: parts[2]}
			rows[rowKey] = row
		}

		switch col {
		case fmt.Sprintf("%d", lldpColChassisID):
			row.chassisID = pduMACOrString(pdu)
		case fmt.Sprintf("%d", lldpColPortID):
			row.portID = pduMACOrString(pdu)
		case fmt.Sprintf("%d", lldpColPortDescr):
			row.portDescr = pduString(pdu)
		case fmt.Sprintf("%d", lldpColSysName):
			row.sysName = pduString(pdu)
		}

		return nil
	})
	if err != nil {
		return nil, classifyNetErr(err)
	}

	links := make([]models.LinkObservation, 0, len(rows))

	for _, row := range rows {
		if row.chassisID == "" && row.sysName == "" {
			continue
		}

		obs := models.LinkObservation{
			LocalIP:      localIP,
			LocalPort:    row.localPort,
			NeighborName: row.sysName,
			NeighborPort: row.portID,
			Type:         models.LinkTypePhysical,
		}

		if looksLikeMAC(row.chassisID) {
			obs.NeighborMAC = models.NormalizeMAC(row.chassisID)
		}

		links = append(links, obs)
	}

	return links, nil
}

func pduString(pdu gosnmp.SnmpPDU) string {
	if pdu.Type != gosnmp.OctetString {
		return ""
	}

	raw, ok := pdu.Value.([]byte)
	if !ok {
		return ""
	}

	return strings.TrimSpace(string(raw))
}

// pduMACOrString renders an octet string as a MAC when it is 6 raw bytes,
// otherwise as trimmed text. LLDP chassis and port IDs use both encodings.
func pduMACOrString(pdu gosnmp.SnmpPDU) string {
	if pdu.Type != gosnmp.OctetString {
		return ""
	}

	raw, ok := pdu.Value.([]byte)
	if !ok {
		return ""
	}

	if len(raw) == 6 {
		return net.HardwareAddr(raw).String()
	}

	return strings.TrimSpace(string(raw))
}

func looksLikeMAC(s string) bool {
	_, err := net.ParseMAC(s)
	return err == nil
}

func vendorFromSysDescr(descr string) string {
	lower := strings.ToLower(descr)

	switch {
	case strings.Contains(lower, "cisco"):
		return "Cisco"
	case strings.Contains(lower, "juniper"):
		return "Juniper"
	case strings.Contains(lower, "mikrotik"), strings.Contains(lower, "routeros"):
		return "MikroTik"
	case strings.Contains(lower, "ubiquiti"), strings.Contains(lower, "unifi"), strings.Contains(lower, "edgeos"):
		return "Ubiquiti"
	case strings.Contains(lower, "arista"):
		return "Arista"
	case strings.Contains(lower, "hp "), strings.Contains(lower, "procurve"), strings.Contains(lower, "aruba"):
		return "HPE"
	default:
		return ""
	}
}

func classifyNetErr(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}

	msg := err.Error()

	switch {
	case strings.Contains(msg, "connection refused"),
		strings.Contains(msg, "no route to host"),
		strings.Contains(msg, "network is unreachable"):
		return fmt.Errorf("%w: %w", ErrUnreachable, err)
	case strings.Contains(msg, "request timeout"),
		strings.Contains(msg, "timeout"):
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	default:
		return err
	}
}
