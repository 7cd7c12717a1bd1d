package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeMAC(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "colon form", input: "aa:bb:cc:dd:ee:ff", want: "AA:BB:CC:DD:EE:FF"},
		{name: "dash form", input: "AA-BB-CC-DD-EE-FF", want: "AA:BB:CC:DD:EE:FF"},
		{name: "cisco dotted", input: "aabb.ccdd.eeff", want: "AA:BB:CC:DD:EE:FF"},
		{name: "bare hex", input: "aabbccddeeff", want: "AA:BB:CC:DD:EE:FF"},
		{name: "garbage", input: "not-a-mac", want: ""},
		{name: "too short", input: "aa:bb:cc", want: ""},
		{name: "empty", input: "", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeMAC(tt.input))
		})
	}
}

func TestDeviceKeys(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "mac:AA:BB:CC:DD:EE:FF", DeviceKeyForMAC("aa:bb:cc:dd:ee:ff"))
	assert.Equal(t, "ip:10.0.0.1", DeviceKeyForIP("10.0.0.1"))
}

func TestDeviceProvisional(t *testing.T) {
	t.Parallel()

	ipOnly := &Device{Key: DeviceKeyForIP("10.0.0.1"), IP: "10.0.0.1"}
	assert.True(t, ipOnly.Provisional())

	withMAC := &Device{Key: DeviceKeyForMAC("aa:bb:cc:dd:ee:ff"), MAC: "AA:BB:CC:DD:EE:FF"}
	assert.False(t, withMAC.Provisional())
}

func TestSupersedes(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name       string
		existing   *DiscoveredField[string]
		confidence float64
		ts         time.Time
		source     ProbeSource
		want       bool
	}{
		{
			name:       "nil field always superseded",
			existing:   nil,
			confidence: 0.1,
			ts:         base,
			source:     ProbeSourceListener,
			want:       true,
		},
		{
			name: "higher confidence wins regardless of age",
			existing: &DiscoveredField[string]{
				Value: "switch-unknown", Source: ProbeSourceListener,
				Confidence: ConfidencePassiveListener, Timestamp: base.Add(5 * time.Second),
			},
			confidence: ConfidenceSNMP,
			ts:         base,
			source:     ProbeSourceSNMP,
			want:       true,
		},
		{
			name: "lower confidence never wins",
			existing: &DiscoveredField[string]{
				Value: "sw1", Source: ProbeSourceSNMP,
				Confidence: ConfidenceSNMP, Timestamp: base,
			},
			confidence: ConfidencePassiveListener,
			ts:         base.Add(time.Hour),
			source:     ProbeSourceListener,
			want:       false,
		},
		{
			name: "equal confidence newer timestamp wins",
			existing: &DiscoveredField[string]{
				Value: "sw1", Source: ProbeSourceSNMP,
				Confidence: ConfidenceSNMP, Timestamp: base,
			},
			confidence: ConfidenceSSH,
			ts:         base.Add(time.Minute),
			source:     ProbeSourceSSH,
			want:       true,
		},
		{
			name: "equal confidence older timestamp loses",
			existing: &DiscoveredField[string]{
				Value: "sw1", Source: ProbeSourceSSH,
				Confidence: ConfidenceSSH, Timestamp: base,
			},
			confidence: ConfidenceSNMP,
			ts:         base.Add(-time.Minute),
			source:     ProbeSourceSNMP,
			want:       false,
		},
		{
			name: "tie broken by active source over passive",
			existing: &DiscoveredField[string]{
				Value: "sw1", Source: ProbeSourceListener,
				Confidence: 0.9, Timestamp: base,
			},
			confidence: 0.9,
			ts:         base,
			source:     ProbeSourceSNMP,
			want:       true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.existing.Supersedes(tt.confidence, tt.ts, tt.source))
		})
	}
}

func TestDeviceCloneIsDeep(t *testing.T) {
	t.Parallel()

	ts := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	device := &Device{
		Key: DeviceKeyForMAC("aa:bb:cc:dd:ee:ff"),
		MAC: "AA:BB:CC:DD:EE:FF",
		IP:  "10.0.0.1",
		Hostname: &DiscoveredField[string]{
			Value: "sw1", Source: ProbeSourceSNMP, Confidence: ConfidenceSNMP, Timestamp: ts,
		},
		Metadata: &DiscoveredField[map[string]string]{
			Value: map[string]string{"location": "rack-1"}, Source: ProbeSourceSNMP,
			Confidence: ConfidenceSNMP, Timestamp: ts,
		},
		Status:  DeviceStatusOnline,
		Sources: []SourceInfo{{Source: ProbeSourceSNMP}},
	}

	clone := device.Clone()
	require.NotSame(t, device, clone)

	clone.Hostname.Value = "changed"
	clone.Metadata.Value["location"] = "rack-2"
	clone.Sources = append(clone.Sources, SourceInfo{Source: ProbeSourceSSH})

	assert.Equal(t, "sw1", device.Hostname.Value)
	assert.Equal(t, "rack-1", device.Metadata.Value["location"])
	assert.Len(t, device.Sources, 1)
}

func TestLinkKeyIsOrderIndependent(t *testing.T) {
	t.Parallel()

	a := LinkKey("mac:AA:AA:AA:AA:AA:AA", "mac:BB:BB:BB:BB:BB:BB", "lldp")
	b := LinkKey("mac:BB:BB:BB:BB:BB:BB", "mac:AA:AA:AA:AA:AA:AA", "lldp")

	assert.Equal(t, a, b)

	c := LinkKey("mac:AA:AA:AA:AA:AA:AA", "mac:BB:BB:BB:BB:BB:BB", "cdp")
	assert.NotEqual(t, a, c)
}
