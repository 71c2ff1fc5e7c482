// Copyright 2026 The Solvstate Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package prefixgraph models the dependency relationships between the
// records of one environment. Edges run from a dependency to its dependents:
// python's descendants are the packages that need python, and a package's
// ancestors are its transitive dependencies.
package prefixgraph

import (
	"sort"

	"github.com/conda/solvstate/specs"
)

// Graph is a dependency graph over a record set, optionally rooted at a set
// of specs. One record per name: an environment never holds two records
// with the same name.
type Graph struct {
	nodes map[string]*specs.PackageRecord
	roots []specs.MatchSpec

	// dependsOn[name] lists the names of name's direct dependencies that are
	// present in the record set. Dependencies on absent names carry no edge.
	dependsOn  map[string][]string
	requiredBy map[string][]string
}

// New builds a graph from records and root specs. Dependency strings that
// fail to parse are ignored rather than failing the whole graph; a record
// with unparseable metadata still participates through its parseable edges.
func New(records []*specs.PackageRecord, roots []specs.MatchSpec) *Graph {
	g := &Graph{
		nodes:      make(map[string]*specs.PackageRecord, len(records)),
		roots:      append([]specs.MatchSpec(nil), roots...),
		dependsOn:  make(map[string][]string, len(records)),
		requiredBy: make(map[string][]string, len(records)),
	}
	for _, rec := range records {
		g.nodes[rec.Name] = rec
	}
	for _, rec := range records {
		deps, err := rec.DependsSpecs()
		if err != nil {
			continue
		}
		for _, dep := range deps {
			if _, present := g.nodes[dep.Name()]; !present {
				continue
			}
			g.dependsOn[rec.Name] = append(g.dependsOn[rec.Name], dep.Name())
			g.requiredBy[dep.Name()] = append(g.requiredBy[dep.Name()], rec.Name)
		}
	}
	for name := range g.dependsOn {
		sort.Strings(g.dependsOn[name])
	}
	for name := range g.requiredBy {
		sort.Strings(g.requiredBy[name])
	}
	return g
}

// Get returns the record for name, if present.
func (g *Graph) Get(name string) (*specs.PackageRecord, bool) {
	rec, ok := g.nodes[name]
	return rec, ok
}

// Len returns the number of records currently in the graph.
func (g *Graph) Len() int { return len(g.nodes) }

// Records returns the remaining records sorted by name.
func (g *Graph) Records() []*specs.PackageRecord {
	names := make([]string, 0, len(g.nodes))
	for name := range g.nodes {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]*specs.PackageRecord, len(names))
	for i, name := range names {
		out[i] = g.nodes[name]
	}
	return out
}

// AllAncestors returns the transitive dependencies of the named node,
// sorted by name. The node itself is not included.
func (g *Graph) AllAncestors(name string) []*specs.PackageRecord {
	seen := map[string]bool{name: true}
	var walk func(string)
	var out []*specs.PackageRecord
	walk = func(n string) {
		for _, dep := range g.dependsOn[n] {
			if seen[dep] {
				continue
			}
			seen[dep] = true
			if rec, ok := g.nodes[dep]; ok {
				out = append(out, rec)
			}
			walk(dep)
		}
	}
	walk(name)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// allDescendants returns the transitive dependents of the named node.
func (g *Graph) allDescendants(name string) []string {
	seen := map[string]bool{name: true}
	var out []string
	var walk func(string)
	walk = func(n string) {
		for _, child := range g.requiredBy[n] {
			if seen[child] {
				continue
			}
			seen[child] = true
			out = append(out, child)
			walk(child)
		}
	}
	walk(name)
	sort.Strings(out)
	return out
}

// RemoveYoungestDescendants removes, among the nodes matched by the root
// specs, only the leaf-most ones: a matching node survives if some other
// matching node depends on it (directly or transitively). This keeps a
// dependency that happens to equal a root spec deeper in the graph.
// It returns the removed records sorted by name.
func (g *Graph) RemoveYoungestDescendants() []*specs.PackageRecord {
	matching := make(map[string]bool)
	for name, rec := range g.nodes {
		for _, root := range g.roots {
			if root.Match(rec) {
				matching[name] = true
				break
			}
		}
	}

	var removed []*specs.PackageRecord
	for name := range matching {
		isAncestorOfMatch := false
		for _, desc := range g.allDescendants(name) {
			if matching[desc] {
				isAncestorOfMatch = true
				break
			}
		}
		if !isAncestorOfMatch {
			removed = append(removed, g.nodes[name])
		}
	}
	for _, rec := range removed {
		g.remove(rec.Name)
	}
	sort.Slice(removed, func(i, j int) bool { return removed[i].Name < removed[j].Name })
	return removed
}

// RemoveSpec removes every record matching spec along with all of its
// dependents, returning the removed records sorted by name.
func (g *Graph) RemoveSpec(spec specs.MatchSpec) []*specs.PackageRecord {
	doomed := make(map[string]bool)
	for name, rec := range g.nodes {
		if spec.Match(rec) {
			doomed[name] = true
			for _, desc := range g.allDescendants(name) {
				doomed[desc] = true
			}
		}
	}
	removed := make([]*specs.PackageRecord, 0, len(doomed))
	for name := range doomed {
		removed = append(removed, g.nodes[name])
		g.remove(name)
	}
	sort.Slice(removed, func(i, j int) bool { return removed[i].Name < removed[j].Name })
	return removed
}

// Prune drops every record unreachable from the root specs: survivors are
// the records matched by a root spec plus their transitive dependencies.
// It returns the pruned records sorted by name.
func (g *Graph) Prune() []*specs.PackageRecord {
	keep := make(map[string]bool)
	for name, rec := range g.nodes {
		for _, root := range g.roots {
			if root.Match(rec) {
				keep[name] = true
				for _, anc := range g.AllAncestors(name) {
					keep[anc.Name] = true
				}
				break
			}
		}
	}
	var pruned []*specs.PackageRecord
	for name := range g.nodes {
		if !keep[name] {
			pruned = append(pruned, g.nodes[name])
		}
	}
	for _, rec := range pruned {
		g.remove(rec.Name)
	}
	sort.Slice(pruned, func(i, j int) bool { return pruned[i].Name < pruned[j].Name })
	return pruned
}

func (g *Graph) remove(name string) {
	delete(g.nodes, name)
	for _, dep := range g.dependsOn[name] {
		g.requiredBy[dep] = removeString(g.requiredBy[dep], name)
	}
	for _, child := range g.requiredBy[name] {
		g.dependsOn[child] = removeString(g.dependsOn[child], name)
	}
	delete(g.dependsOn, name)
	delete(g.requiredBy, name)
}

func removeString(sl []string, s string) []string {
	out := sl[:0]
	for _, v := range sl {
		if v != s {
			out = append(out, v)
		}
	}
	return out
}
