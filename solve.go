// Copyright 2026 The Solvstate Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package solvstate prepares environment solves: it snapshots the installed
// prefix and the user's configuration, massages the spec pool a constraint
// solver will see, and reconciles the solver's solution with the update and
// deps modifiers before anything touches disk.
package solvstate

import (
	"context"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/conda/solvstate/prefixgraph"
	"github.com/conda/solvstate/specs"
)

// PrefixStore exposes the records installed in an environment.
type PrefixStore interface {
	// Installed returns the installed records keyed by name. The returned
	// map is the caller's to keep.
	Installed() map[string]*specs.PackageRecord
	// IsEnvironment reports whether the prefix exists as an environment at
	// all, as opposed to an empty or not-yet-created directory.
	IsEnvironment() bool
}

// HistoryStore exposes the specs a user explicitly requested in past
// operations on the environment.
type HistoryStore interface {
	// PreviouslyRequested returns the historic user specs keyed by name.
	// The returned map is the caller's to keep.
	PreviouslyRequested() map[string]specs.MatchSpec
}

// Index exposes the installable candidates known from channel metadata.
type Index interface {
	// FindMatches returns every known candidate satisfying spec, ordered
	// oldest first.
	FindMatches(spec specs.MatchSpec) []*specs.PackageRecord
}

// Backend is the constraint solver. Given the prepared spec set it returns
// a complete, consistent record set, or an *UnsatisfiableError naming the
// conflicting packages so the caller can relax and retry. The request
// carries the installed records as candidate fallbacks and the previous
// attempt's conflicts as a hint; a backend may ignore either.
type Backend interface {
	Solve(ctx context.Context, req BackendRequest) ([]*specs.PackageRecord, error)
}

// BackendRequest is one backend invocation's input.
type BackendRequest struct {
	Specs     []specs.MatchSpec
	Installed []*specs.PackageRecord
	Conflicts map[string]specs.MatchSpec
}

// Result is the outcome of a successful solve.
type Result struct {
	// Records is the final state of the environment.
	Records map[string]*specs.PackageRecord
	// ForHistory are the specs to append to the environment's history.
	ForHistory map[string]specs.MatchSpec
	// Neutered are the historic specs that had to be weakened; the history
	// file should be rewritten so these replace their stricter originals.
	Neutered map[string]specs.MatchSpec
}

// defaultMaxAttempts bounds the relax-and-retry loop. Two attempts mirror
// the usual pattern: a conservative first pass, then one pass with the
// reported conflicts unfrozen.
const defaultMaxAttempts = 2

// Solver orchestrates one logical solve: snapshot, prepare, solve with
// bounded retries, reconcile.
type Solver struct {
	Prefix  PrefixStore
	History HistoryStore
	Index   Index
	Backend Backend

	// Config carries the ambient configuration (pins, aggressive updates,
	// offline mode). Nil means everything defaults off.
	Config *Config

	// Virtual are the system-provided packages (names starting with "__")
	// injected into every solve.
	Virtual map[string]*specs.PackageRecord

	// MaxAttempts caps the prepare/solve retry loop; zero means the default.
	MaxAttempts int

	Logger *logrus.Logger
}

// SolveRequest is one user-level operation.
type SolveRequest struct {
	Requested map[string]specs.MatchSpec

	Command        Command
	UpdateModifier UpdateModifier
	DepsModifier   DepsModifier

	IgnorePinned   bool
	ForceRemove    bool
	ForceReinstall bool
	Prune          bool

	// TargetIsSelf marks the solve as operating on the tool's own
	// environment; see SolverInputState.
	TargetIsSelf bool
}

func (s *Solver) logger() *logrus.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return logrus.StandardLogger()
}

func (s *Solver) maxAttempts() int {
	if s.MaxAttempts > 0 {
		return s.MaxAttempts
	}
	return defaultMaxAttempts
}

func (s *Solver) inputState(req SolveRequest) (*SolverInputState, error) {
	cfg := s.Config
	if cfg == nil {
		cfg = &Config{}
	}
	return NewInputState(InputParams{
		Prefix:            s.Prefix,
		History:           s.History,
		Requested:         req.Requested,
		Pinned:            cfg.Pinned,
		Virtual:           s.Virtual,
		AggressiveUpdates: cfg.AggressiveUpdates,
		Command:           req.Command,
		UpdateModifier:    req.UpdateModifier,
		DepsModifier:      req.DepsModifier,
		IgnorePinned:      req.IgnorePinned,
		ForceRemove:       req.ForceRemove,
		ForceReinstall:    req.ForceReinstall,
		Prune:             req.Prune,
		Offline:           cfg.Offline,
		PipInterop:        cfg.PipInterop,
		TargetIsSelf:      req.TargetIsSelf,
		AutoUpdateSelf:    cfg.AutoUpdateSelf,
	})
}

// Solve runs one complete solve for the request. It needs a Backend unless
// the request short-circuits (forced removal, or every requested name
// already installed under SpecsSatisfiedSkipSolve).
func (s *Solver) Solve(ctx context.Context, req SolveRequest) (*Result, error) {
	if s.Prefix == nil {
		return nil, errors.New("solver requires a PrefixStore")
	}

	in, err := s.inputState(req)
	if err != nil {
		return nil, err
	}
	out := NewOutputState(in, s.logger())

	if in.IsRemoving() {
		return s.solveRemove(ctx, in, out)
	}
	return s.solveAdd(ctx, in, out)
}

// solveRemove handles removal without invoking the backend: the dependency
// graph alone decides what must go with the named packages.
func (s *Solver) solveRemove(ctx context.Context, in *SolverInputState, out *SolverOutputState) (*Result, error) {
	if in.ForceRemove() {
		// Forced removal deletes exactly the matching records and nothing
		// else, dependents included.
		for _, name := range sortedKeys(in.Requested()) {
			spec := in.Requested()[name]
			for _, rec := range out.Records.Values() {
				if spec.Match(rec) {
					out.Records.Delete(rec.Name, "force-removed")
				}
			}
		}
		return s.result(out), nil
	}

	if err := out.PrepareSpecs(s.Index); err != nil {
		return nil, err
	}

	graph := prefixgraph.New(out.Records.Values(), out.Specs.Values())
	var notFound []specs.MatchSpec
	removedNames := map[string]bool{}
	for _, name := range out.Specs.Keys() {
		spec, _ := out.Specs.Get(name)
		removed := graph.RemoveSpec(spec)
		if len(removed) == 0 && !anyRemovedMatches(removedNames, spec, in.Installed()) {
			notFound = append(notFound, spec)
			continue
		}
		for _, rec := range removed {
			removedNames[rec.Name] = true
		}
	}
	if len(notFound) > 0 {
		return nil, &PackagesNotFoundError{Specs: notFound}
	}

	out.SetSolution(graph.Records(), "records after removal")

	if err := out.PostSolve(ctx, s.nestedSolve(in)); err != nil {
		return nil, err
	}
	return s.result(out), nil
}

// anyRemovedMatches reports whether a spec is already satisfied by a record
// an earlier spec in the same removal took out; two overlapping removal
// specs are not an error.
func anyRemovedMatches(removedNames map[string]bool, spec specs.MatchSpec, installed map[string]*specs.PackageRecord) bool {
	for name := range removedNames {
		if rec, ok := installed[name]; ok && spec.Match(rec) {
			return true
		}
	}
	return false
}

func (s *Solver) solveAdd(ctx context.Context, in *SolverInputState, out *SolverOutputState) (*Result, error) {
	if in.WithSpecsSatisfiedSkipSolve() && !in.Prune() {
		satisfied := true
		for name := range in.Requested() {
			if _, ok := in.InstalledRecord(name); !ok {
				satisfied = false
				break
			}
		}
		if satisfied {
			s.logger().Debug("every requested name already installed; skipping solve")
			return s.result(out), nil
		}
	}

	if s.Backend == nil {
		return nil, errors.New("solver requires a Backend for install and update operations")
	}

	attempts := s.maxAttempts()
	for attempt := 1; ; attempt++ {
		if err := out.PrepareSpecs(s.Index); err != nil {
			return nil, err
		}

		solution, err := s.Backend.Solve(ctx, BackendRequest{
			Specs:     out.Specs.Values(),
			Installed: out.Records.Values(),
			Conflicts: out.Conflicts.AsMap(),
		})
		if err == nil {
			out.SetSolution(solution, "solver solution")
			break
		}

		var unsat *UnsatisfiableError
		if !errors.As(err, &unsat) || attempt >= attempts {
			return nil, err
		}
		s.logger().WithFields(logrus.Fields{
			"attempt":   attempt,
			"conflicts": len(unsat.Conflicts),
		}).Debug("solve failed; relaxing conflicting specs and retrying")
		out.Conflicts.Update(unsat.Conflicts, "reported as conflicting by the solver")
	}

	if err := out.PostSolve(ctx, s.nestedSolve(in)); err != nil {
		return nil, err
	}
	return s.result(out), nil
}

// nestedSolve builds the callback PostSolve uses for update-deps: a fresh
// solve over the expanded spec set, with the update modifier forced back to
// its default so the recursion terminates.
func (s *Solver) nestedSolve(in *SolverInputState) NestedSolveFunc {
	return func(ctx context.Context, requested map[string]specs.MatchSpec) (
		map[string]*specs.PackageRecord, map[string]specs.MatchSpec, error) {
		res, err := s.Solve(ctx, SolveRequest{
			Requested:      requested,
			Command:        in.Command(),
			UpdateModifier: UpdateSpecs,
			DepsModifier:   in.DepsModifier(),
			IgnorePinned:   in.IgnorePinned(),
			Prune:          in.Prune(),
			TargetIsSelf:   in.TargetIsSelf(),
		})
		if err != nil {
			return nil, nil, err
		}
		return res.Records, res.ForHistory, nil
	}
}

func (s *Solver) result(out *SolverOutputState) *Result {
	return &Result{
		Records:    out.Records.AsMap(),
		ForHistory: out.ForHistory.AsMap(),
		Neutered:   out.Neutered.AsMap(),
	}
}
