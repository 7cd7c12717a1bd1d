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

// Package analytics computes structural metrics and vulnerability findings
// over a read-only topology snapshot. All computations tolerate
// disconnected graphs and isolated nodes.
package analytics

import (
	"sort"

	"github.com/meshview/meshview/pkg/models"
)

// graph is the adjacency view of one snapshot, indexed by position for the
// traversal algorithms and mapped back to device keys for reporting.
type graph struct {
	keys  []string
	index map[string]int
	adj   [][]int
}

// buildGraph derives an undirected adjacency structure from a snapshot.
// Parallel links between the same endpoint pair collapse to one edge.
func buildGraph(snap *models.Snapshot) *graph {
	keys := make([]string, 0, len(snap.Devices))

	for k := range snap.Devices {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	g := &graph{
		keys:  keys,
		index: make(map[string]int, len(keys)),
		adj:   make([][]int, len(keys)),
	}

	for i, k := range keys {
		g.index[k] = i
	}

	seen := make(map[[2]int]struct{}, len(snap.Links))

	for _, l := range snap.Links {
		a, aok := g.index[l.A]
		b, bok := g.index[l.B]

		if !aok || !bok || a == b {
			continue
		}

		edge := [2]int{a, b}
		if b < a {
			edge = [2]int{b, a}
		}

		if _, dup := seen[edge]; dup {
			continue
		}

		seen[edge] = struct{}{}

		g.adj[a] = append(g.adj[a], b)
		g.adj[b] = append(g.adj[b], a)
	}

	return g
}

func (g *graph) nodeCount() int { return len(g.keys) }

func (g *graph) edgeCount() int {
	total := 0

	for _, n := range g.adj {
		total += len(n)
	}

	return total / 2
}

// bfsDistances returns hop distances from src; unreachable nodes hold -1.
func (g *graph) bfsDistances(src int, skip int) []int {
	dist := make([]int, len(g.adj))

	for i := range dist {
		dist[i] = -1
	}

	if src == skip {
		return dist
	}

	dist[src] = 0
	queue := []int{src}

	for len(queue) > 0 {
		v := queue[0]
		queue = queue[1:]

		for _, w := range g.adj[v] {
			if w == skip || dist[w] >= 0 {
				continue
			}

			dist[w] = dist[v] + 1
			queue = append(queue, w)
		}
	}

	return dist
}

// components labels each node with its connected-component id and returns
// the number of components. A node excluded via skip gets label -1.
func (g *graph) components(skip int) (labels []int, count int) {
	labels = make([]int, len(g.adj))

	for i := range labels {
		labels[i] = -1
	}

	for i := range g.adj {
		if i == skip || labels[i] >= 0 {
			continue
		}

		labels[i] = count
		queue := []int{i}

		for len(queue) > 0 {
			v := queue[0]
			queue = queue[1:]

			for _, w := range g.adj[v] {
				if w == skip || labels[w] >= 0 {
					continue
				}

				labels[w] = count
				queue = append(queue, w)
			}
		}

		count++
	}

	return labels, count
}

// diameter returns the longest shortest path, or ok=false when the graph
// is disconnected or empty and the diameter is undefined.
func (g *graph) diameter() (int, bool) {
	n := g.nodeCount()
	if n == 0 {
		return 0, false
	}

	if _, count := g.components(-1); count != 1 {
		return 0, false
	}

	max := 0

	for v := 0; v < n; v++ {
		for _, d := range g.bfsDistances(v, -1) {
			if d > max {
				max = d
			}
		}
	}

	return max, true
}

// clusteringCoefficient returns the average local clustering coefficient.
// Nodes with fewer than two neighbors contribute zero.
func (g *graph) clusteringCoefficient() float64 {
	n := g.nodeCount()
	if n == 0 {
		return 0
	}

	neighborSets := make([]map[int]struct{}, n)

	for i, nbrs := range g.adj {
		set := make(map[int]struct{}, len(nbrs))

		for _, w := range nbrs {
			set[w] = struct{}{}
		}

		neighborSets[i] = set
	}

	total := 0.0

	for v := 0; v < n; v++ {
		k := len(g.adj[v])
		if k < 2 {
			continue
		}

		closed := 0

		for i := 0; i < k; i++ {
			for j := i + 1; j < k; j++ {
				if _, ok := neighborSets[g.adj[v][i]][g.adj[v][j]]; ok {
					closed++
				}
			}
		}

		total += 2.0 * float64(closed) / float64(k*(k-1))
	}

	return total / float64(n)
}

// brandes computes betweenness centrality for nodes and edges in one pass
// (Brandes 2001, unweighted). Each undirected pair is counted once; the
// conventional halving for undirected graphs is applied at the end.
func (g *graph) brandes() (nodeBC []float64, edgeBC map[[2]int]float64) {
	n := g.nodeCount()
	nodeBC = make([]float64, n)
	edgeBC = make(map[[2]int]float64)

	for s := 0; s < n; s++ {
		var stack []int

		pred := make([][]int, n)
		sigma := make([]float64, n)
		dist := make([]int, n)

		for i := range dist {
			dist[i] = -1
		}

		sigma[s] = 1
		dist[s] = 0
		queue := []int{s}

		for len(queue) > 0 {
			v := queue[0]
			queue = queue[1:]
			stack = append(stack, v)

			for _, w := range g.adj[v] {
				if dist[w] < 0 {
					dist[w] = dist[v] + 1
					queue = append(queue, w)
				}

				if dist[w] == dist[v]+1 {
					sigma[w] += sigma[v]
					pred[w] = append(pred[w], v)
				}
			}
		}

		delta := make([]float64, n)

		for i := len(stack) - 1; i >= 0; i-- {
			w := stack[i]

			for _, v := range pred[w] {
				share := sigma[v] / sigma[w] * (1 + delta[w])
				delta[v] += share

				edge := [2]int{v, w}
				if w < v {
					edge = [2]int{w, v}
				}

				edgeBC[edge] += share
			}

			if w != s {
				nodeBC[w] += delta[w]
			}
		}
	}

	for i := range nodeBC {
		nodeBC[i] /= 2
	}

	for k := range edgeBC {
		edgeBC[k] /= 2
	}

	return nodeBC, edgeBC
}
