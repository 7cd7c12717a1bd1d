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
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meshview/meshview/pkg/models"
)

var frameTime = time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

func lldpTLV(tlvType int, value []byte) []byte {
	header := make([]byte, 2)
	binary.BigEndian.PutUint16(header, uint16(tlvType)<<9|uint16(len(value)))

	return append(header, value...)
}

// buildLLDPFrame assembles an ethernet frame carrying an LLDP payload.
func buildLLDPFrame(src []byte, tlvs ...[]byte) []byte {
	frame := make([]byte, 0, 64)
	frame = append(frame, 0x01, 0x80, 0xc2, 0x00, 0x00, 0x0e) // LLDP multicast
	frame = append(frame, src...)
	frame = append(frame, 0x88, 0xcc)

	for _, tlv := range tlvs {
		frame = append(frame, tlv...)
	}

	frame = append(frame, lldpTLV(lldpTLVEnd, nil)...)

	return frame
}

func TestParseDiscoveryFrameLLDP(t *testing.T) {
	chassis := append([]byte{lldpChassisSubtypeMAC}, 0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff)
	portID := append([]byte{7}, []byte("Gi0/24")...) // locally assigned subtype

	frame := buildLLDPFrame(
		[]byte{0x11, 0x22, 0x33, 0x44, 0x55, 0x66},
		lldpTLV(lldpTLVChassisID, chassis),
		lldpTLV(lldpTLVPortID, portID),
		lldpTLV(lldpTLVTTL, []byte{0x00, 0x78}),
		lldpTLV(lldpTLVSystemName, []byte("core-sw1")),
		lldpTLV(lldpTLVSystemDesc, []byte("Cisco IOS Software, Version 15.2(4)E")),
	)

	record, err := ParseDiscoveryFrame(frame, "eth0", frameTime)
	require.NoError(t, err)

	// The chassis ID TLV outranks the source MAC for identity.
	assert.Equal(t, "AA:BB:CC:DD:EE:FF", record.Identity.MAC)
	assert.Equal(t, models.ProbeSourceListener, record.SourceProbe)
	assert.Equal(t, models.ConfidencePassiveListener, record.ConfidenceHint)
	assert.Equal(t, "core-sw1", record.Attrs.Hostname)
	assert.Equal(t, "Cisco", record.Attrs.Vendor)
	assert.Equal(t, "lldp", record.Attrs.Metadata["announce_protocol"])
	assert.Equal(t, "Gi0/24", record.Attrs.Metadata["announce_port"])
}

func TestParseDiscoveryFrameLLDPNonMACChassis(t *testing.T) {
	chassis := append([]byte{6}, []byte("ifname0")...) // interface-name subtype

	frame := buildLLDPFrame(
		[]byte{0x11, 0x22, 0x33, 0x44, 0x55, 0x66},
		lldpTLV(lldpTLVChassisID, chassis),
	)

	record, err := ParseDiscoveryFrame(frame, "eth0", frameTime)
	require.NoError(t, err)

	// Identity falls back to the announcing source MAC.
	assert.Equal(t, "11:22:33:44:55:66", record.Identity.MAC)
	assert.Equal(t, "ifname0", record.Identity.StableID)
}

func TestParseDiscoveryFrameCDP(t *testing.T) {
	frame := make([]byte, 0, 32)
	frame = append(frame, cdpMulticast...)
	frame = append(frame, 0xde, 0xad, 0xbe, 0xef, 0x00, 0x01)
	frame = append(frame, 0x01, 0xaa) // SNAP length field, not an ethertype
	frame = append(frame, make([]byte, 8)...)

	record, err := ParseDiscoveryFrame(frame, "eth0", frameTime)
	require.NoError(t, err)

	assert.Equal(t, "DE:AD:BE:EF:00:01", record.Identity.MAC)
	assert.Equal(t, "cdp", record.Attrs.Metadata["announce_protocol"])
}

func TestParseDiscoveryFrameRejectsNonDiscovery(t *testing.T) {
	// An IPv4 frame.
	frame := make([]byte, 20)
	frame[12] = 0x08
	frame[13] = 0x00

	_, err := ParseDiscoveryFrame(frame, "eth0", frameTime)
	assert.ErrorIs(t, err, ErrMalformedResponse)
}

func TestParseDiscoveryFrameTooShort(t *testing.T) {
	_, err := ParseDiscoveryFrame([]byte{0x01, 0x02}, "eth0", frameTime)
	assert.ErrorIs(t, err, ErrMalformedResponse)
}

func TestParseDiscoveryFrameTruncatedTLV(t *testing.T) {
	frame := make([]byte, 0, 20)
	frame = append(frame, 0x01, 0x80, 0xc2, 0x00, 0x00, 0x0e)
	frame = append(frame, 0x11, 0x22, 0x33, 0x44, 0x55, 0x66)
	frame = append(frame, 0x88, 0xcc)
	// Header claims 100 bytes of chassis ID but the frame ends here.
	header := make([]byte, 2)
	binary.BigEndian.PutUint16(header, uint16(lldpTLVChassisID)<<9|100)
	frame = append(frame, header...)

	_, err := ParseDiscoveryFrame(frame, "eth0", frameTime)
	assert.ErrorIs(t, err, ErrMalformedResponse)
}
