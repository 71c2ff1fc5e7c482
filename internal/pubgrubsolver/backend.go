// Copyright 2026 The Solvstate Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package pubgrubsolver adapts a PubGrub constraint solver to the Backend
// contract: match specs become version conditions, package records become
// orderable versions, and solver incompatibilities come back as
// unsatisfiable-spec errors the retry loop understands.
package pubgrubsolver

import (
	"context"

	pubgrub "github.com/contriboss/pubgrub-go"
	"github.com/pkg/errors"

	"github.com/conda/solvstate"
	"github.com/conda/solvstate/specs"
)

// recordVersion wraps a record as a solver version. Ordering follows the
// package version, with the build number as tie-breaker.
type recordVersion struct {
	rec *specs.PackageRecord
}

func (v recordVersion) String() string {
	return v.rec.Version + "=" + v.rec.Build
}

func (v recordVersion) Sort(other pubgrub.Version) int {
	ov, ok := other.(recordVersion)
	if !ok {
		return 1
	}
	if c := specs.CompareVersions(v.rec.Version, ov.rec.Version); c != 0 {
		return c
	}
	switch {
	case v.rec.BuildNumber < ov.rec.BuildNumber:
		return -1
	case v.rec.BuildNumber > ov.rec.BuildNumber:
		return 1
	default:
		return 0
	}
}

// specCondition wraps a match spec as a solver condition.
type specCondition struct {
	spec specs.MatchSpec
}

func (c specCondition) String() string { return c.spec.String() }

func (c specCondition) Satisfies(ver pubgrub.Version) bool {
	if rv, ok := ver.(recordVersion); ok {
		return c.spec.Match(rv.rec)
	}
	return c.spec.MatchVersion(ver.String())
}

// indexSource serves candidates from the channel index, falling back to the
// installed records for names the index does not carry (virtual packages,
// offline solves over a local prefix).
type indexSource struct {
	index     solvstate.Index
	installed map[string]*specs.PackageRecord
}

func (s *indexSource) candidates(name string) []*specs.PackageRecord {
	var recs []*specs.PackageRecord
	if s.index != nil {
		recs = s.index.FindMatches(specs.Bare(name))
	}
	if len(recs) == 0 {
		if rec, ok := s.installed[name]; ok {
			recs = []*specs.PackageRecord{rec}
		}
	}
	return recs
}

func (s *indexSource) GetVersions(name pubgrub.Name) ([]pubgrub.Version, error) {
	recs := s.candidates(name.Value())
	if len(recs) == 0 {
		return nil, &pubgrub.PackageNotFoundError{Package: name}
	}
	out := make([]pubgrub.Version, len(recs))
	for i, rec := range recs {
		out[i] = recordVersion{rec: rec}
	}
	return out, nil
}

func (s *indexSource) GetDependencies(name pubgrub.Name, version pubgrub.Version) ([]pubgrub.Term, error) {
	rv, ok := version.(recordVersion)
	if !ok {
		return nil, &pubgrub.PackageVersionNotFoundError{Package: name, Version: version}
	}
	deps, err := rv.rec.DependsSpecs()
	if err != nil {
		return nil, err
	}

	var terms []pubgrub.Term
	for _, dep := range deps {
		if dep.Optional() {
			continue
		}
		if isVirtualName(dep.Name()) && len(s.candidates(dep.Name())) == 0 {
			// a virtual package the prefix does not report cannot be
			// installed; leave it to the system rather than failing here
			continue
		}
		terms = append(terms, pubgrub.NewTerm(pubgrub.MakeName(dep.Name()), specCondition{spec: dep}))
	}
	return terms, nil
}

func isVirtualName(name string) bool {
	return len(name) >= 2 && name[0] == '_' && name[1] == '_'
}

// Backend solves prepared spec sets with PubGrub over a channel index.
type Backend struct {
	Index solvstate.Index
}

var _ solvstate.Backend = (*Backend)(nil)

// Solve satisfies solvstate.Backend. Optional specs are treated as
// preferences and excluded from the hard constraint set; a spec naming a
// package the source cannot serve at all fails immediately rather than
// after exploration. The conflicts hint is not needed here: PubGrub's
// clause learning subsumes it.
func (b *Backend) Solve(ctx context.Context, req solvstate.BackendRequest) ([]*specs.PackageRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	byName := make(map[string]*specs.PackageRecord, len(req.Installed))
	for _, rec := range req.Installed {
		byName[rec.Name] = rec
	}
	source := &indexSource{index: b.Index, installed: byName}

	root := pubgrub.NewRootSource()
	for _, spec := range req.Specs {
		if spec.Optional() {
			continue
		}
		if len(source.candidates(spec.Name())) == 0 {
			if isVirtualName(spec.Name()) {
				continue
			}
			return nil, errors.Errorf("no candidates available for spec %q", spec)
		}
		root.AddPackage(pubgrub.MakeName(spec.Name()), specCondition{spec: spec})
	}

	solver := pubgrub.NewSolver(root, source).EnableIncompatibilityTracking()

	type outcome struct {
		solution pubgrub.Solution
		err      error
	}
	ch := make(chan outcome, 1)
	go func() {
		solution, err := solver.Solve(root.Term())
		ch <- outcome{solution: solution, err: err}
	}()

	var res outcome
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res = <-ch:
	}
	if res.err != nil {
		return nil, translateError(res.err, req.Specs)
	}

	records := make([]*specs.PackageRecord, 0, len(res.solution))
	for _, nv := range res.solution {
		rv, ok := nv.Version.(recordVersion)
		if !ok {
			continue // the synthetic root
		}
		records = append(records, rv.rec)
	}
	return records, nil
}

// translateError turns solver failures into the error types the retry loop
// acts on: an unsatisfiable result names the packages in the root
// incompatibility so the caller can relax exactly those.
func translateError(err error, specSet []specs.MatchSpec) error {
	bySpecName := make(map[string]specs.MatchSpec, len(specSet))
	for _, spec := range specSet {
		bySpecName[spec.Name()] = spec
	}

	conflicts := map[string]specs.MatchSpec{}
	collect := func(term pubgrub.Term) {
		name := term.Name.Value()
		if name == "$$root" {
			return
		}
		if spec, ok := bySpecName[name]; ok {
			conflicts[name] = spec
		} else {
			conflicts[name] = specs.Bare(name)
		}
	}

	var noSolution *pubgrub.NoSolutionError
	if errors.As(err, &noSolution) {
		if noSolution.Incompatibility != nil {
			for _, term := range noSolution.Incompatibility.Terms {
				collect(term)
			}
		}
		return &solvstate.UnsatisfiableError{Conflicts: conflicts}
	}

	var simple pubgrub.ErrNoSolutionFound
	if errors.As(err, &simple) {
		collect(simple.Term)
		return &solvstate.UnsatisfiableError{Conflicts: conflicts}
	}

	return errors.Wrap(err, "constraint solver failed")
}
