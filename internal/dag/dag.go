// Copyright 2022 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package dag records the operator graph of a dataflow scope.
//
// Nodes are labeled by operator name and kept in insertion order. Operators
// are added after their inputs, so insertion order is a topological order
// and the scheduler can run nodes in it. An edge from a to b means that b
// consumes the output of a.
package dag

import (
	"sort"
	"strings"
)

type Graph struct {
	Nodes   []string
	byLabel map[string]int
	edges   map[string]map[string]bool
}

func (g *Graph) AddNode(label string) bool {
	if _, ok := g.byLabel[label]; ok {
		return false
	}
	g.byLabel[label] = len(g.Nodes)
	g.Nodes = append(g.Nodes, label)
	g.edges[label] = map[string]bool{}
	return true
}

func (g *Graph) HasNode(label string) bool {
	_, ok := g.byLabel[label]
	return ok
}

func (g *Graph) AddEdge(from, to string) {
	g.edges[from][to] = true
}

func (g *Graph) HasEdge(from, to string) bool {
	return g.edges[from] != nil && g.edges[from][to]
}

// Edges returns the consumers of a node in insertion order.
func (g *Graph) Edges(from string) []string {
	edges := make([]string, 0, 16)
	for k := range g.edges[from] {
		edges = append(edges, k)
	}
	sort.Slice(edges, func(i, j int) bool { return g.byLabel[edges[i]] < g.byLabel[edges[j]] })
	return edges
}

// Inputs returns the nodes a node consumes, in insertion order.
func (g *Graph) Inputs(to string) []string {
	ret := []string{}
	for _, from := range g.Nodes {
		if g.HasEdge(from, to) {
			ret = append(ret, from)
		}
	}
	return ret
}

// String renders the graph one node per line as "node <- input, input".
func (g *Graph) String() string {
	var b strings.Builder
	for _, n := range g.Nodes {
		b.WriteString(n)
		if in := g.Inputs(n); len(in) > 0 {
			b.WriteString(" <- ")
			b.WriteString(strings.Join(in, ", "))
		}
		b.WriteByte('\n')
	}
	return b.String()
}
