// Copyright 2026 The Solvstate Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package prefixgraph

import (
	"testing"

	"github.com/conda/solvstate/specs"
)

func rec(name, version string, depends ...string) *specs.PackageRecord {
	return &specs.PackageRecord{Name: name, Version: version, Build: "0", Depends: depends}
}

// fixture: flask -> [python, jinja2, click]; jinja2 -> [python, markupsafe];
// click -> [python]; orphan has no relationship to the roots.
func fixtureRecords() []*specs.PackageRecord {
	return []*specs.PackageRecord{
		rec("python", "3.9.7"),
		rec("markupsafe", "2.0.1", "python"),
		rec("jinja2", "3.0.1", "python", "markupsafe"),
		rec("click", "8.0.1", "python"),
		rec("flask", "2.0.1", "python >=3.6", "jinja2 >=3.0", "click >=7.1"),
		rec("orphan", "1.0.0"),
	}
}

func names(recs []*specs.PackageRecord) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.Name
	}
	return out
}

func equalNames(got []*specs.PackageRecord, want ...string) bool {
	g := names(got)
	if len(g) != len(want) {
		return false
	}
	for i := range g {
		if g[i] != want[i] {
			return false
		}
	}
	return true
}

func TestAllAncestors(t *testing.T) {
	g := New(fixtureRecords(), nil)

	if got := g.AllAncestors("flask"); !equalNames(got, "click", "jinja2", "markupsafe", "python") {
		t.Errorf("ancestors of flask = %v", names(got))
	}
	if got := g.AllAncestors("python"); len(got) != 0 {
		t.Errorf("python should have no ancestors, got %v", names(got))
	}
	if got := g.AllAncestors("jinja2"); !equalNames(got, "markupsafe", "python") {
		t.Errorf("ancestors of jinja2 = %v", names(got))
	}
}

func TestRemoveYoungestDescendants(t *testing.T) {
	// Both python and flask match the roots; only flask is leaf-most, so
	// python (an ancestor of flask) must survive.
	roots := []specs.MatchSpec{specs.MustParse("python 3.9.*"), specs.MustParse("flask")}
	g := New(fixtureRecords(), roots)

	removed := g.RemoveYoungestDescendants()
	if !equalNames(removed, "flask") {
		t.Fatalf("removed = %v, want [flask]", names(removed))
	}
	if _, ok := g.Get("python"); !ok {
		t.Error("python should have been kept")
	}
	if _, ok := g.Get("flask"); ok {
		t.Error("flask should be gone")
	}
}

func TestRemoveSpecDropsDependents(t *testing.T) {
	g := New(fixtureRecords(), nil)

	removed := g.RemoveSpec(specs.MustParse("markupsafe"))
	if !equalNames(removed, "flask", "jinja2", "markupsafe") {
		t.Fatalf("removed = %v, want [flask jinja2 markupsafe]", names(removed))
	}
	if _, ok := g.Get("click"); !ok {
		t.Error("click does not depend on markupsafe and should survive")
	}
}

func TestRemoveSpecNoMatch(t *testing.T) {
	g := New(fixtureRecords(), nil)
	if removed := g.RemoveSpec(specs.MustParse("nonexistent")); len(removed) != 0 {
		t.Errorf("removed = %v, want none", names(removed))
	}
	if g.Len() != len(fixtureRecords()) {
		t.Error("graph changed size on a no-match removal")
	}
}

func TestPrune(t *testing.T) {
	roots := []specs.MatchSpec{specs.MustParse("flask")}
	g := New(fixtureRecords(), roots)

	pruned := g.Prune()
	if !equalNames(pruned, "orphan") {
		t.Fatalf("pruned = %v, want [orphan]", names(pruned))
	}
	for _, keep := range []string{"flask", "python", "jinja2", "markupsafe", "click"} {
		if _, ok := g.Get(keep); !ok {
			t.Errorf("%s is reachable from roots and should survive pruning", keep)
		}
	}
}

func TestPruneEmptyRootsDropsEverything(t *testing.T) {
	g := New(fixtureRecords(), nil)
	pruned := g.Prune()
	if len(pruned) != len(fixtureRecords()) {
		t.Errorf("pruned %d records, want all %d", len(pruned), len(fixtureRecords()))
	}
	if g.Len() != 0 {
		t.Errorf("graph should be empty, has %d nodes", g.Len())
	}
}
