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

package analytics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meshview/meshview/pkg/logger"
	"github.com/meshview/meshview/pkg/models"
)

func snapshotOf(edges ...[2]string) *models.Snapshot {
	snap := models.EmptySnapshot()
	snap.Version = 1

	ts := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	addDevice := func(key string) {
		if snap.Devices[key] == nil {
			snap.Devices[key] = &models.Device{Key: key, Status: models.DeviceStatusOnline, LastSeen: ts}
		}
	}

	for _, e := range edges {
		addDevice(e[0])
		addDevice(e[1])

		link := models.NewLink(e[0], e[1], models.LinkTypePhysical, models.ProbeSourceSNMP, ts)
		snap.Links[link.Key] = link
	}

	return snap
}

func findingsOfType(report *Report, t models.FindingType) []*models.Finding {
	var out []*models.Finding

	for _, f := range report.Findings {
		if f.Type == t {
			out = append(out, f)
		}
	}

	return out
}

func TestAnalyzeEmptySnapshot(t *testing.T) {
	t.Parallel()

	e := NewEngine(Config{}, logger.NewTestLogger())

	report := e.Analyze(models.EmptySnapshot())

	assert.Zero(t, report.Summary.Nodes)
	assert.False(t, report.Summary.DiameterDefined)
	assert.Empty(t, report.Findings)
}

func TestAnalyzeStarTopology(t *testing.T) {
	t.Parallel()

	e := NewEngine(Config{}, logger.NewTestLogger())

	// Four leaves hanging off one hub.
	snap := snapshotOf(
		[2]string{"hub", "leaf1"},
		[2]string{"hub", "leaf2"},
		[2]string{"hub", "leaf3"},
		[2]string{"hub", "leaf4"},
	)

	report := e.Analyze(snap)

	assert.Equal(t, 5, report.Summary.Nodes)
	assert.Equal(t, 4, report.Summary.Edges)
	assert.Equal(t, 1, report.Summary.Components)
	require.True(t, report.Summary.DiameterDefined)
	assert.Equal(t, 2, report.Summary.Diameter)

	// Every leaf pair routes through the hub: C(4,2) = 6.
	assert.InDelta(t, 6.0, report.Summary.Betweenness["hub"], 1e-9)
	assert.InDelta(t, 0.0, report.Summary.Betweenness["leaf1"], 1e-9)

	require.NotEmpty(t, report.Summary.TopCentral)
	assert.Equal(t, "hub", report.Summary.TopCentral[0].DeviceKey)

	spofs := findingsOfType(report, models.FindingSinglePointOfFailure)
	require.Len(t, spofs, 1, "only the hub is a single point of failure")
	assert.Equal(t, "hub", spofs[0].Subject)
	assert.Equal(t, models.SeverityCritical, spofs[0].Severity)
}

func TestAnalyzeSeverityIsDeterministic(t *testing.T) {
	t.Parallel()

	snap := snapshotOf(
		[2]string{"hub", "leaf1"},
		[2]string{"hub", "leaf2"},
		[2]string{"hub", "leaf3"},
		[2]string{"hub", "leaf4"},
	)

	first := NewEngine(Config{}, logger.NewTestLogger()).Analyze(snap)

	for i := 0; i < 10; i++ {
		report := NewEngine(Config{}, logger.NewTestLogger()).Analyze(snap)

		require.Len(t, report.Findings, len(first.Findings))

		for j, f := range report.Findings {
			assert.Equal(t, first.Findings[j].Severity, f.Severity)
			assert.Equal(t, first.Findings[j].Subject, f.Subject)
		}
	}
}

func TestAnalyzePathMidpoint(t *testing.T) {
	t.Parallel()

	e := NewEngine(Config{}, logger.NewTestLogger())

	report := e.Analyze(snapshotOf(
		[2]string{"a", "b"},
		[2]string{"b", "c"},
	))

	require.True(t, report.Summary.DiameterDefined)
	assert.Equal(t, 2, report.Summary.Diameter)

	spofs := findingsOfType(report, models.FindingSinglePointOfFailure)
	require.Len(t, spofs, 1)
	assert.Equal(t, "b", spofs[0].Subject)
	assert.Equal(t, "true", spofs[0].Details["disconnects"])
}

func TestAnalyzeDisconnectedGraphDiameterUndefined(t *testing.T) {
	t.Parallel()

	e := NewEngine(Config{}, logger.NewTestLogger())

	report := e.Analyze(snapshotOf(
		[2]string{"a", "b"},
		[2]string{"c", "d"},
	))

	assert.Equal(t, 2, report.Summary.Components)
	assert.False(t, report.Summary.DiameterDefined)
}

func TestAnalyzeTriangleHasNoSPOF(t *testing.T) {
	t.Parallel()

	e := NewEngine(Config{}, logger.NewTestLogger())

	report := e.Analyze(snapshotOf(
		[2]string{"a", "b"},
		[2]string{"b", "c"},
		[2]string{"a", "c"},
	))

	assert.InDelta(t, 1.0, report.Summary.AvgClustering, 1e-9)
	assert.Empty(t, findingsOfType(report, models.FindingSinglePointOfFailure))
}

func TestAnalyzeBridgeBottleneck(t *testing.T) {
	t.Parallel()

	e := NewEngine(Config{BottleneckShareFactor: 2}, logger.NewTestLogger())

	// Two triangles joined by one bridge link.
	report := e.Analyze(snapshotOf(
		[2]string{"a", "b"},
		[2]string{"b", "c"},
		[2]string{"a", "c"},
		[2]string{"c", "d"},
		[2]string{"d", "e"},
		[2]string{"e", "f"},
		[2]string{"d", "f"},
	))

	bottlenecks := findingsOfType(report, models.FindingLinkBottleneck)
	require.Len(t, bottlenecks, 1)
	assert.Equal(t, "c|d", bottlenecks[0].Subject)
}

func TestAnalyzeParallelLinksCollapse(t *testing.T) {
	t.Parallel()

	snap := snapshotOf([2]string{"a", "b"})

	dup := models.NewLink("a", "b", models.LinkTypeLogical, models.ProbeSourceAPI, time.Now())
	snap.Links[dup.Key] = dup

	report := NewEngine(Config{}, logger.NewTestLogger()).Analyze(snap)

	assert.Equal(t, 1, report.Summary.Edges)
}

func TestScoreSeverityBands(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		affectedShare float64
		percentile    float64
		disconnects   bool
		want          models.Severity
	}{
		{name: "full impact disconnect", affectedShare: 1, percentile: 1, disconnects: true, want: models.SeverityCritical},
		{name: "half impact disconnect", affectedShare: 0.5, percentile: 0.5, disconnects: true, want: models.SeverityCritical},
		{name: "low impact disconnect", affectedShare: 0.1, percentile: 0.2, disconnects: true, want: models.SeverityMedium},
		{name: "moderate no disconnect", affectedShare: 0.5, percentile: 0.5, disconnects: false, want: models.SeverityHigh},
		{name: "minimal", affectedShare: 0.05, percentile: 0, disconnects: false, want: models.SeverityMedium},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, scoreSeverity(tt.affectedShare, tt.percentile, tt.disconnects))
		})
	}
}

func TestDegreeDistribution(t *testing.T) {
	t.Parallel()

	report := NewEngine(Config{}, logger.NewTestLogger()).Analyze(snapshotOf(
		[2]string{"hub", "leaf1"},
		[2]string{"hub", "leaf2"},
	))

	assert.Equal(t, 1, report.Summary.DegreeDistribution[2])
	assert.Equal(t, 2, report.Summary.DegreeDistribution[1])
}
