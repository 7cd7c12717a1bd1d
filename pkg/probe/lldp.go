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
	"bytes"
	"encoding/binary"
	"fmt"
	"net"
	"time"

	"github.com/meshview/meshview/pkg/models"
)

const (
	etherTypeLLDP = 0x88cc

	lldpTLVEnd        = 0
	lldpTLVChassisID  = 1
	lldpTLVPortID     = 2
	lldpTLVTTL        = 3
	lldpTLVPortDescr  = 4
	lldpTLVSystemName = 5
	lldpTLVSystemDesc = 6

	lldpChassisSubtypeMAC = 4
	lldpPortSubtypeMAC    = 3

	ethHeaderLen = 14
	minFrameLen  = ethHeaderLen + 2
)

// cdpMulticast is the destination address CDP announcements are sent to.
var cdpMulticast = net.HardwareAddr{0x01, 0x00, 0x0c, 0xcc, 0xcc, 0xcc}

// ParseDiscoveryFrame decodes one captured link-layer frame into a
// discovery record, or returns ErrMalformedResponse when the frame is not a
// recognizable discovery announcement.
func ParseDiscoveryFrame(frame []byte, iface string, ts time.Time) (*models.DiscoveryRecord, error) {
	if len(frame) < minFrameLen {
		return nil, fmt.Errorf("%w: frame too short (%d bytes)", ErrMalformedResponse, len(frame))
	}

	dst := net.HardwareAddr(frame[0:6])
	src := net.HardwareAddr(frame[6:12])
	ethType := binary.BigEndian.Uint16(frame[12:14])

	switch {
	case ethType == etherTypeLLDP:
		return parseLLDP(frame[ethHeaderLen:], src, iface, ts)
	case bytes.Equal(dst, cdpMulticast):
		// CDP payloads are SNAP-encapsulated; the announcing MAC alone is
		// still a usable passive sighting.
		return &models.DiscoveryRecord{
			SourceProbe:    models.ProbeSourceListener,
			Target:         iface,
			Timestamp:      ts,
			ConfidenceHint: models.ConfidencePassiveListener,
			Identity:       models.IdentityCandidates{MAC: models.NormalizeMAC(src.String())},
			Attrs: models.DeviceAttrs{
				Metadata: map[string]string{"announce_protocol": "cdp"},
			},
		}, nil
	default:
		return nil, fmt.Errorf("%w: not a discovery frame (ethertype 0x%04x)", ErrMalformedResponse, ethType)
	}
}

// parseLLDP walks the TLV list of an LLDP payload. The chassis ID TLV (MAC
// subtype) is the primary identity; system name and description fill in
// device attributes.
func parseLLDP(payload []byte, src net.HardwareAddr, iface string, ts time.Time) (*models.DiscoveryRecord, error) {
	record := &models.DiscoveryRecord{
		SourceProbe:    models.ProbeSourceListener,
		Target:         iface,
		Timestamp:      ts,
		ConfidenceHint: models.ConfidencePassiveListener,
		Identity:       models.IdentityCandidates{MAC: models.NormalizeMAC(src.String())},
		Attrs: models.DeviceAttrs{
			Metadata: map[string]string{"announce_protocol": "lldp"},
		},
	}

	var port string

	for offset := 0; offset+2 <= len(payload); {
		header := binary.BigEndian.Uint16(payload[offset : offset+2])
		tlvType := int(header >> 9)
		tlvLen := int(header & 0x1ff)
		offset += 2

		if tlvType == lldpTLVEnd {
			break
		}

		if offset+tlvLen > len(payload) {
			return nil, fmt.Errorf("%w: truncated TLV type %d", ErrMalformedResponse, tlvType)
		}

		value := payload[offset : offset+tlvLen]
		offset += tlvLen

		switch tlvType {
		case lldpTLVChassisID:
			if len(value) >= 7 && value[0] == lldpChassisSubtypeMAC {
				record.Identity.MAC = models.NormalizeMAC(net.HardwareAddr(value[1:7]).String())
			} else if len(value) > 1 {
				record.Identity.StableID = string(value[1:])
			}
		case lldpTLVPortID:
			if len(value) >= 7 && value[0] == lldpPortSubtypeMAC {
				port = net.HardwareAddr(value[1:7]).String()
			} else if len(value) > 1 {
				port = string(value[1:])
			}
		case lldpTLVSystemName:
			record.Attrs.Hostname = string(value)
		case lldpTLVSystemDesc:
			record.Attrs.OSVersion = string(value)
			record.Attrs.Vendor = vendorFromSysDescr(string(value))
		case lldpTLVTTL, lldpTLVPortDescr:
			// Not used for identity.
		}
	}

	if record.Identity.MAC == "" {
		return nil, fmt.Errorf("%w: LLDP frame without chassis identity", ErrMalformedResponse)
	}

	if port != "" {
		record.Attrs.Metadata["announce_port"] = port
	}

	return record, nil
}
