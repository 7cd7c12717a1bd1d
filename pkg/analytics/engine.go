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
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/meshview/meshview/pkg/logger"
	"github.com/meshview/meshview/pkg/models"
)

// Config tunes the vulnerability detectors.
type Config struct {
	// DiameterInflationFactor flags a node whose removal multiplies the
	// diameter by more than this factor, even when the graph stays
	// connected.
	DiameterInflationFactor float64 `json:"diameter_inflation_factor"`
	// BottleneckShareFactor flags a link whose share of shortest paths
	// exceeds this multiple of the uniform share.
	BottleneckShareFactor float64 `json:"bottleneck_share_factor"`
	// TopCentral bounds the centrality leaderboard in the summary.
	TopCentral int `json:"top_central"`
}

func (c Config) withDefaults() Config {
	if c.DiameterInflationFactor <= 1 {
		c.DiameterInflationFactor = 1.5
	}

	if c.BottleneckShareFactor <= 1 {
		c.BottleneckShareFactor = 3
	}

	if c.TopCentral <= 0 {
		c.TopCentral = 10
	}

	return c
}

// NodeCentrality is one leaderboard entry.
type NodeCentrality struct {
	DeviceKey   string  `json:"device_key"`
	Betweenness float64 `json:"betweenness"`
}

// Summary carries the structural metrics of one snapshot.
type Summary struct {
	SnapshotVersion    uint64             `json:"snapshot_version"`
	Nodes              int                `json:"nodes"`
	Edges              int                `json:"edges"`
	Components         int                `json:"components"`
	AvgDegree          float64            `json:"avg_degree"`
	Density            float64            `json:"density"`
	DegreeDistribution map[int]int        `json:"degree_distribution"`
	Diameter           int                `json:"diameter"`
	DiameterDefined    bool               `json:"diameter_defined"`
	AvgClustering      float64            `json:"avg_clustering"`
	Betweenness        map[string]float64 `json:"betweenness"`
	TopCentral         []NodeCentrality   `json:"top_central"`
}

// Report is the full analytics output for one snapshot.
type Report struct {
	Summary  Summary           `json:"summary"`
	Findings []*models.Finding `json:"findings"`
}

// Engine computes analytics reports over snapshots.
type Engine struct {
	config Config
	logger logger.Logger
}

// NewEngine creates an analytics engine.
func NewEngine(config Config, log logger.Logger) *Engine {
	return &Engine{config: config.withDefaults(), logger: log}
}

// Analyze computes the structural summary and the vulnerability findings
// for a snapshot. The snapshot is read-only; Analyze never mutates it.
func (e *Engine) Analyze(snap *models.Snapshot) *Report {
	g := buildGraph(snap)

	report := &Report{
		Summary: Summary{
			SnapshotVersion:    snap.Version,
			Nodes:              g.nodeCount(),
			Edges:              g.edgeCount(),
			DegreeDistribution: make(map[int]int),
			Betweenness:        make(map[string]float64, g.nodeCount()),
		},
	}

	if g.nodeCount() == 0 {
		return report
	}

	for i := range g.adj {
		report.Summary.DegreeDistribution[len(g.adj[i])]++
	}

	report.Summary.AvgDegree = 2 * float64(report.Summary.Edges) / float64(report.Summary.Nodes)

	if report.Summary.Nodes > 1 {
		possible := float64(report.Summary.Nodes) * float64(report.Summary.Nodes-1) / 2
		report.Summary.Density = float64(report.Summary.Edges) / possible
	}

	_, report.Summary.Components = g.components(-1)
	report.Summary.Diameter, report.Summary.DiameterDefined = g.diameter()
	report.Summary.AvgClustering = g.clusteringCoefficient()

	nodeBC, edgeBC := g.brandes()

	for i, bc := range nodeBC {
		report.Summary.Betweenness[g.keys[i]] = bc
	}

	report.Summary.TopCentral = topCentral(g, nodeBC, e.config.TopCentral)

	now := time.Now()

	report.Findings = append(report.Findings, e.findSinglePointsOfFailure(g, nodeBC, snap.Version, now)...)
	report.Findings = append(report.Findings, e.findBottlenecks(g, edgeBC, snap.Version, now)...)

	e.logger.Debug().
		Uint64("version", snap.Version).
		Int("nodes", report.Summary.Nodes).
		Int("findings", len(report.Findings)).
		Msg("analytics report computed")

	return report
}

func topCentral(g *graph, nodeBC []float64, limit int) []NodeCentrality {
	entries := make([]NodeCentrality, 0, len(nodeBC))

	for i, bc := range nodeBC {
		entries = append(entries, NodeCentrality{DeviceKey: g.keys[i], Betweenness: bc})
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Betweenness != entries[j].Betweenness {
			return entries[i].Betweenness > entries[j].Betweenness
		}

		return entries[i].DeviceKey < entries[j].DeviceKey
	})

	if len(entries) > limit {
		entries = entries[:limit]
	}

	return entries
}

// findSinglePointsOfFailure flags nodes whose removal disconnects their
// component or inflates the diameter past the configured factor.
func (e *Engine) findSinglePointsOfFailure(g *graph, nodeBC []float64, version uint64, now time.Time) []*models.Finding {
	n := g.nodeCount()
	if n < 3 {
		return nil
	}

	_, baseComponents := g.components(-1)
	baseDiameter, baseConnected := g.diameter()

	var findings []*models.Finding

	for v := 0; v < n; v++ {
		if len(g.adj[v]) < 2 {
			// A leaf's removal never splits anyone else off.
			continue
		}

		labels, count := g.components(v)

		// Removing the node itself accounts for one fewer reachable node;
		// more components than before means an actual split.
		disconnects := count > baseComponents

		inflates := false

		if !disconnects && baseConnected {
			if d, ok := diameterWithout(g, v); ok {
				inflates = float64(d) > float64(baseDiameter)*e.config.DiameterInflationFactor
			}
		}

		if !disconnects && !inflates {
			continue
		}

		affected := strandedNodes(g, v, labels)

		severity := scoreSeverity(
			float64(affected)/float64(n-1),
			centralityPercentile(nodeBC, v),
			disconnects,
		)

		findings = append(findings, &models.Finding{
			ID:       uuid.New().String(),
			Type:     models.FindingSinglePointOfFailure,
			Severity: severity,
			Subject:  g.keys[v],
			Summary:  fmt.Sprintf("removal of %s strands %d device(s)", g.keys[v], affected),
			Details: map[string]string{
				"affected_nodes": fmt.Sprintf("%d", affected),
				"disconnects":    fmt.Sprintf("%t", disconnects),
				"degree":         fmt.Sprintf("%d", len(g.adj[v])),
			},
			SnapshotVersion: version,
			DetectedAt:      now,
		})
	}

	sort.Slice(findings, func(i, j int) bool { return findings[i].Subject < findings[j].Subject })

	return findings
}

// strandedNodes counts nodes cut off from the largest surviving component
// when v is removed.
func strandedNodes(g *graph, v int, labels []int) int {
	sizes := make(map[int]int)
	survivors := 0

	for i, label := range labels {
		if i == v || label < 0 {
			continue
		}

		sizes[label]++
		survivors++
	}

	largest := 0

	for _, size := range sizes {
		if size > largest {
			largest = size
		}
	}

	return survivors - largest
}

func diameterWithout(g *graph, skip int) (int, bool) {
	max := 0

	for v := 0; v < len(g.adj); v++ {
		if v == skip {
			continue
		}

		for i, d := range g.bfsDistances(v, skip) {
			if i == skip {
				continue
			}

			if d < 0 {
				return 0, false
			}

			if d > max {
				max = d
			}
		}
	}

	return max, true
}

// findBottlenecks flags links carrying a disproportionate share of
// shortest paths relative to a uniform distribution over all links.
func (e *Engine) findBottlenecks(g *graph, edgeBC map[[2]int]float64, version uint64, now time.Time) []*models.Finding {
	edges := g.edgeCount()
	if edges < 2 {
		return nil
	}

	total := 0.0

	for _, bc := range edgeBC {
		total += bc
	}

	if total == 0 {
		return nil
	}

	uniform := 1.0 / float64(edges)

	var findings []*models.Finding

	for edge, bc := range edgeBC {
		share := bc / total
		if share <= uniform*e.config.BottleneckShareFactor {
			continue
		}

		a, b := g.keys[edge[0]], g.keys[edge[1]]

		severity := scoreSeverity(share, share/uniform/float64(edges), false)

		findings = append(findings, &models.Finding{
			ID:       uuid.New().String(),
			Type:     models.FindingLinkBottleneck,
			Severity: severity,
			Subject:  a + "|" + b,
			Summary:  fmt.Sprintf("link %s<->%s carries %.0f%% of shortest paths", a, b, share*100),
			Details: map[string]string{
				"share":   fmt.Sprintf("%.4f", share),
				"uniform": fmt.Sprintf("%.4f", uniform),
			},
			SnapshotVersion: version,
			DetectedAt:      now,
		})
	}

	sort.Slice(findings, func(i, j int) bool { return findings[i].Subject < findings[j].Subject })

	return findings
}

func centralityPercentile(nodeBC []float64, v int) float64 {
	if len(nodeBC) <= 1 {
		return 1
	}

	below := 0

	for i, bc := range nodeBC {
		if i != v && bc < nodeBC[v] {
			below++
		}
	}

	return float64(below) / float64(len(nodeBC)-1)
}

// scoreSeverity maps affected share and centrality percentile to a
// severity band. The function is pure: identical graphs always yield
// identical severities.
func scoreSeverity(affectedShare, percentile float64, disconnects bool) models.Severity {
	score := 0.6*affectedShare + 0.4*percentile

	if disconnects {
		score += 0.25
	}

	switch {
	case score >= 0.75:
		return models.SeverityCritical
	case score >= 0.45:
		return models.SeverityHigh
	default:
		return models.SeverityMedium
	}
}
