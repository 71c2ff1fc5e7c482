// Copyright 2026 The Solvstate Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package solvstate

import (
	"context"
	"sort"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/conda/solvstate/prefixgraph"
	"github.com/conda/solvstate/specs"
)

// SolverOutputState is the mutable state massaged before and after handing
// the constraint set to a solver backend. One instance lives across every
// retry of one logical solve: conflicts reported by a failed attempt are
// fed back in, and the specs relaxed in response are intentionally carried
// forward. A single goroutine must own it for its whole lifetime.
type SolverOutputState struct {
	in     *SolverInputState
	logger *logrus.Logger

	// Records is the best-known final environment, seeded from the prefix
	// and replaced by solver solutions as they arrive.
	Records *TrackedMap[*specs.PackageRecord]
	// Specs is the constraint set offered to the backend.
	Specs *TrackedMap[specs.MatchSpec]
	// ForHistory accumulates the specs to write back as the new
	// user-requested history.
	ForHistory *TrackedMap[specs.MatchSpec]
	// Neutered records history specs whose final form ended up weaker, so
	// the history file can be rewritten to match reality.
	Neutered *TrackedMap[specs.MatchSpec]
	// Conflicts holds the names a previous attempt reported as blocking.
	Conflicts *TrackedMap[specs.MatchSpec]

	// pinOverrides are the pinned names where an overlapping explicit
	// request forced the pin anyway; they suppress the pin/conflict fatal
	// check and the final requested-spec overwrite.
	pinOverrides map[string]bool

	// pruneDisabled is set once a nested update-deps solve has already
	// resolved the complete graph; re-pruning against the outer, narrower
	// spec set would be incorrect.
	pruneDisabled bool
}

// NewOutputState builds the output state for one solve attempt: records
// start as the installed prefix, and specs are seeded from history,
// protected names, foreign packages and virtual packages.
func NewOutputState(in *SolverInputState, logger *logrus.Logger) *SolverOutputState {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	out := &SolverOutputState{
		in:           in,
		logger:       logger,
		Records:      NewTrackedMap[*specs.PackageRecord]("records", logger),
		Specs:        NewTrackedMap[specs.MatchSpec]("specs", logger),
		ForHistory:   NewTrackedMap[specs.MatchSpec]("for_history", logger),
		Neutered:     NewTrackedMap[specs.MatchSpec]("neutered", logger),
		Conflicts:    NewTrackedMap[specs.MatchSpec]("conflicts", logger),
		pinOverrides: map[string]bool{},
	}

	out.Records.Update(in.Installed(), "as installed")

	if len(in.History()) > 0 {
		out.Specs.Update(in.History(), "as in history")
		for _, name := range sortedKeys(in.Installed()) {
			rec := in.Installed()[name]
			switch {
			case mapHas(in.AggressiveUpdates(), name):
				out.Specs.Set(name, specs.Bare(name), "installed and in aggressive updates")
			case mapHas(in.Protected(), name):
				// keep packages older installers did not record in history
				out.Specs.SetIfMissing(name, specs.Bare(name), "installed and protected")
			case rec.IsForeign() && in.PipInterop():
				out.Specs.Set(name, specs.Bare(name), "installed by a foreign tool; protect from indirect pruning")
			}
		}
	} else {
		bare := make(map[string]specs.MatchSpec, len(in.Installed()))
		for name := range in.Installed() {
			bare[name] = specs.Bare(name)
		}
		out.Specs.Update(bare, "installed and no history available")
	}

	for _, name := range sortedKeys(in.Virtual()) {
		out.Specs.SetIfMissing(name, specs.Bare(name), "virtual system package")
	}

	return out
}

// InputState returns the immutable snapshot this state was built from.
func (out *SolverOutputState) InputState() *SolverInputState { return out.in }

// PrepareSpecs turns the seeded spec pool into the constraint set for the
// backend. It is safe to call again after feeding solver conflicts into
// Conflicts; relaxations from earlier attempts are preserved. The index is
// consulted only for the pin-override overlap check and may be nil.
func (out *SolverOutputState) PrepareSpecs(index Index) error {
	out.pinOverrides = map[string]bool{}
	out.logger.WithFields(logrus.Fields{
		"phase":   "prepare",
		"command": out.in.Command().String(),
		"specs":   out.Specs.Len(),
	}).Debug("preparing specs")

	if out.in.IsRemoving() {
		out.Specs.Clear("removal uses the requested specs verbatim")
		out.Specs.Update(out.in.Requested(), "explicitly requested for removal")
	} else if err := out.prepareForAdd(index); err != nil {
		return err
	}
	return out.prepareForSolve()
}

// prepareForAdd is an ordered sequence of rewrites over the working spec
// pool. Later rewrites deliberately override earlier ones for the same
// key; the ordering is the algorithm.
func (out *SolverOutputState) prepareForAdd(index Index) error {
	in := out.in

	// Refine specs that match the currently proposed records (the prefix as
	// is, or a failed attempt's solution).
	for _, name := range out.Specs.Keys() {
		spec, _ := out.Specs.Get(name)
		matches := out.matchingRecords(spec)
		if len(matches) == 0 {
			continue
		}
		if len(matches) > 1 {
			return &InconsistentEnvironmentError{Spec: spec, Records: matches}
		}

		rec := matches[0]
		switch {
		case rec.IsUnmanageable():
			out.Specs.Set(name, rec.ToMatchSpec(), "spec matches unmanageable record")
		case mapHas(in.AggressiveUpdates(), name):
			out.Specs.Set(name, specs.Bare(name), "spec matches record in aggressive updates")
		case !out.Conflicts.Has(name):
			out.Specs.Set(name, rec.ToMatchSpec(), "spec matches record with no known conflict")
		case mapHas(in.History(), name):
			out.Specs.Set(name, in.History()[name].WithTarget(rec.DistStr()), "spec matches record in history")
		default:
			out.Specs.Set(name, specs.Bare(name).WithTarget(rec.DistStr()), "spec matches record")
		}
	}

	// Pins.
	for _, name := range sortedKeys(in.Pinned()) {
		pin := in.Pinned()[name]
		req, requested := in.Requested()[name]
		switch {
		case !requested:
			out.Specs.Set(name, pin.WithOptional(false), "pinned and not explicitly requested")
		case poolsOverlap(index, req, pin):
			out.Specs.Set(name, pin.WithOptional(false), "pinned, and the request overlaps the pin")
			out.pinOverrides[name] = true
		default:
			out.logger.Warnf("pinned spec %s conflicts with explicit spec %s; overriding pinned spec", pin, req)
		}
	}

	// Update-modifier policy.
	switch {
	case in.WithFreezeInstalled():
		for _, name := range sortedKeys(in.Installed()) {
			rec := in.Installed()[name]
			if out.Conflicts.Has(name) {
				soft := specs.Bare(name).WithTarget(rec.DistStr()).WithOptional(true)
				out.Specs.Set(name, soft, "relaxing installed spec because it caused a conflict")
			} else {
				out.Specs.Set(name, rec.ToMatchSpec(), "freezing as installed")
			}
		}

	case in.WithUpdateAll():
		fresh := make(map[string]specs.MatchSpec)
		if len(in.History()) > 0 {
			for name := range in.History() {
				if mapHas(in.Pinned(), name) {
					if cur, ok := out.Specs.Get(name); ok {
						fresh[name] = cur
					}
				} else {
					fresh[name] = specs.Bare(name)
				}
			}
			for name, rec := range in.Installed() {
				if rec.IsForeign() && in.PipInterop() {
					// foreign packages read as explicitly installed
					fresh[name] = specs.Bare(name)
				}
			}
		} else {
			for name := range in.Installed() {
				if mapHas(in.Pinned(), name) {
					if cur, ok := out.Specs.Get(name); ok {
						fresh[name] = cur
					}
				} else {
					fresh[name] = specs.Bare(name)
				}
			}
		}
		out.Specs.Clear("update-all rebuilds the spec pool from scratch")
		out.Specs.Update(fresh, "update-all")

	case in.WithUpdateSpecs():
		// Let indirect dependencies get out of the way of an explicit
		// upgrade: every conflicting name that nothing else claims is
		// relaxed to a bare name.
		for _, name := range out.Conflicts.Keys() {
			if mapHas(in.Pinned(), name) || mapHas(in.History(), name) || mapHas(in.Requested(), name) {
				continue
			}
			if out.Specs.Has(name) {
				out.Specs.Set(name, specs.Bare(name), "relaxed because conflicting")
			}
		}
	}

	out.protectPython()

	// Aggressive updates float to the newest candidate; pointless when
	// offline.
	if !in.Offline() {
		for _, name := range sortedKeys(in.AggressiveUpdates()) {
			if out.Specs.Has(name) {
				out.Specs.Set(name, specs.Bare(name), "aggressive updates relaxation")
			}
		}
	}

	// Explicit requests always have the final say, except where a pin
	// override already captured the name.
	for _, name := range sortedKeys(in.Requested()) {
		if !out.pinOverrides[name] {
			out.Specs.Set(name, in.Requested()[name], "explicitly requested by user")
		}
	}

	out.protectSelf()
	return nil
}

// protectPython keeps python on its installed minor version unless the
// user explicitly asked to move it.
func (out *SolverOutputState) protectPython() {
	in := out.in
	rec, inRecords := out.Records.Get("python")
	if !inRecords || mapHas(in.Requested(), "python") {
		return
	}

	if in.WithFreezeInstalled() && !out.Conflicts.Has("python") {
		out.Specs.Set("python", rec.ToMatchSpec(), "freezing python: freeze-installed and no conflict")
		return
	}

	spec, ok := out.Specs.Get("python")
	if !ok {
		spec = specs.Bare("python")
	}
	if spec.HasVersion() {
		out.Specs.Set("python", spec, "leaving python constraint as already calculated")
		return
	}
	spec = spec.WithVersion(specs.MajorMinor(rec.Version) + ".*")
	out.Specs.Set("python", spec, "pinning python to the installed minor version")
}

// protectSelf never lets the tool downgrade itself in its own environment,
// and lets it float upward under auto-update.
func (out *SolverOutputState) protectSelf() {
	in := out.in
	if !in.TargetIsSelf() {
		return
	}
	rec, installed := in.InstalledRecord(selfName)
	spec, inSpecs := out.Specs.Get(selfName)
	if !installed || !inSpecs {
		return
	}

	floor := ">=" + rec.Version
	if !spec.HasVersion() {
		spec = spec.WithVersion(floor)
		out.Specs.Set(selfName, spec, "flooring own version to the installed one")
	}
	if in.AutoUpdateSelf() && !mapHas(in.Requested(), selfName) {
		spec = specs.Bare(selfName).WithVersion(floor)
		out.Specs.Set(selfName, spec, "auto-update: floating own package above the installed version")
	}
}

// prepareForSolve is the shared tail of both branches: a name that is both
// pinned and conflicting, without a pin override, is a dead end the user
// has to resolve.
func (out *SolverOutputState) prepareForSolve() error {
	in := out.in

	var conflictingPins []specs.MatchSpec
	conflictingNames := map[string]bool{}
	for _, name := range out.Conflicts.Keys() {
		if pin, ok := in.Pinned()[name]; ok && !out.pinOverrides[name] {
			conflictingPins = append(conflictingPins, pin)
			conflictingNames[name] = true
		}
	}
	if len(conflictingPins) == 0 {
		return nil
	}

	var requested []specs.MatchSpec
	seen := map[string]bool{}
	for _, name := range out.Specs.Keys() {
		if !conflictingNames[name] {
			spec, _ := out.Specs.Get(name)
			requested = append(requested, spec)
			seen[name] = true
		}
	}
	for _, name := range sortedKeys(in.Requested()) {
		if !conflictingNames[name] && !seen[name] {
			requested = append(requested, in.Requested()[name])
		}
	}
	return &ConfigurationConflictError{
		PinnedSpecs:    conflictingPins,
		RequestedSpecs: requested,
	}
}

// SetSolution replaces the working records with a backend solution.
func (out *SolverOutputState) SetSolution(solution []*specs.PackageRecord, reason string) {
	out.Records.Clear(reason)
	byName := make(map[string]*specs.PackageRecord, len(solution))
	for _, rec := range solution {
		byName[rec.Name] = rec
	}
	out.Records.Update(byName, reason)
}

// NestedSolveFunc runs a full independent solve for the expanded spec set
// UPDATE_DEPS produces. The orchestrator supplies it; recursion is cut off
// there by forcing the update modifier back to its default.
type NestedSolveFunc func(ctx context.Context, requested map[string]specs.MatchSpec) (
	records map[string]*specs.PackageRecord, forHistory map[string]specs.MatchSpec, err error)

// PostSolve reconciles a candidate solution (already merged into Records)
// against the deps/update modifiers and the pruning policy. The steps are
// order-dependent and must not be reordered.
func (out *SolverOutputState) PostSolve(ctx context.Context, nested NestedSolveFunc) error {
	in := out.in
	out.logger.WithFields(logrus.Fields{
		"phase":   "post-solve",
		"records": out.Records.Len(),
		"deps":    in.DepsModifier().String(),
		"update":  in.UpdateModifier().String(),
	}).Debug("reconciling solution")

	// 1. History update.
	out.ForHistory.Update(in.Requested(), "user requested")

	// 2. Neutering: history specs whose final form is weaker get recorded
	// so the rewritten history reflects reality.
	for _, name := range out.Specs.Keys() {
		hist, ok := in.History()[name]
		if !ok {
			continue
		}
		spec, _ := out.Specs.Get(name)
		if spec.Strictness() < hist.Strictness() {
			out.Neutered.Set(name, spec, "final spec is weaker than the historic one")
		}
	}

	// 3. Deps-modifier reconciliation.
	switch {
	case in.WithNoDeps():
		out.reconcileNoDeps()
	case in.WithOnlyDeps() && !in.WithUpdateDeps():
		out.reconcileOnlyDeps()
	case in.WithUpdateDeps():
		if err := out.reconcileUpdateDeps(ctx, nested); err != nil {
			return err
		}
	}

	// 4. Pruning.
	if in.Prune() && !out.pruneDisabled {
		graph := prefixgraph.New(out.Records.Values(), out.Specs.Values())
		pruned := graph.Prune()
		for _, rec := range pruned {
			out.Records.Delete(rec.Name, "unreachable from any requested spec")
		}
	}
	return nil
}

// reconcileNoDeps rebuilds records from the pre-solve prefix, changing only
// the names the user actually asked about. The accepted trade-off of this
// mode is an environment with possibly unmet dependencies.
func (out *SolverOutputState) reconcileNoDeps() {
	in := out.in

	solved := out.Records.AsMap()
	out.Records.Clear("no-deps starts over from the installed prefix")
	out.Records.Update(in.Installed(), "no-deps baseline")

	for _, name := range sortedKeys(in.Requested()) {
		spec := in.Requested()[name]
		if in.IsRemoving() {
			for recName, rec := range in.Installed() {
				if spec.Match(rec) {
					out.Records.Delete(recName, "no-deps removal of a requested record")
				}
			}
			continue
		}
		for _, rec := range solved {
			if spec.Match(rec) {
				out.Records.Set(rec.Name, rec, "no-deps insertion of a requested record")
			}
		}
	}
}

// reconcileOnlyDeps drops the leaf-most records matching the request from
// the solution, keeping their dependencies.
func (out *SolverOutputState) reconcileOnlyDeps() {
	in := out.in

	roots := make([]specs.MatchSpec, 0, len(in.Requested()))
	for _, name := range sortedKeys(in.Requested()) {
		roots = append(roots, in.Requested()[name])
	}
	graph := prefixgraph.New(out.Records.Values(), roots)
	removed := graph.RemoveYoungestDescendants()

	if in.IsRemoving() {
		// Only drop records whose presence is not independently wanted:
		// a record the user asked for by name in an earlier operation
		// stays.
		survivors := graph.Records()
		out.Records.Clear("only-deps removal result")
		for _, rec := range survivors {
			out.Records.Set(rec.Name, rec, "kept by only-deps removal")
		}
		for _, rec := range removed {
			if mapHas(in.History(), rec.Name) {
				out.Records.Set(rec.Name, rec, "independently requested in history; kept")
			}
		}
		return
	}

	// Installing: the removed parents no longer explain their dependencies'
	// presence, so promote each direct dependency to an explicit request.
	for _, rec := range removed {
		deps, err := rec.DependsSpecs()
		if err != nil {
			out.logger.Warnf("skipping dependency promotion for %s: %s", rec.DistStr(), err)
			continue
		}
		for _, dep := range deps {
			if !out.Specs.Has(dep.Name()) {
				out.Specs.Set(dep.Name(), dep, "promoted: its parent is discarded by only-deps")
				out.ForHistory.Set(dep.Name(), dep, "promoted: its parent is discarded by only-deps")
			}
		}
	}

	survivors := graph.Records()
	out.Records.Clear("only-deps install result")
	for _, rec := range survivors {
		out.Records.Set(rec.Name, rec, "kept by only-deps install")
	}
	// A removed record that was already installed cannot be uninstalled by
	// an install operation; put the prefix's own record back.
	for _, rec := range removed {
		if prior, ok := in.InstalledRecord(rec.Name); ok {
			out.Records.Set(prior.Name, prior, "already installed; only-deps adds it back")
		}
	}
}

// reconcileUpdateDeps turns every dependency-chain ancestor of the request
// into a user-requested bare spec and runs a second, independent solve
// with the expanded set.
func (out *SolverOutputState) reconcileUpdateDeps(ctx context.Context, nested NestedSolveFunc) error {
	if nested == nil {
		return errors.New("update-deps reconciliation requires a nested solver")
	}
	in := out.in

	graph := prefixgraph.New(out.Records.Values(), nil)
	updateNames := map[string]bool{}
	for _, name := range sortedKeys(in.Requested()) {
		for _, anc := range graph.AllAncestors(name) {
			updateNames[anc.Name] = true
		}
	}

	expanded := make(map[string]specs.MatchSpec, len(updateNames)+len(in.Requested()))
	for name := range updateNames {
		expanded[name] = specs.Bare(name)
	}
	for name := range in.Pinned() {
		delete(expanded, name)
	}
	if _, ok := expanded["python"]; ok {
		if rec, installed := in.InstalledRecord("python"); installed {
			expanded["python"] = specs.Bare("python").WithVersion(specs.MajorMinor(rec.Version) + ".*")
		}
	}
	for name, spec := range in.Requested() {
		expanded[name] = spec
	}

	records, forHistory, err := nested(ctx, expanded)
	if err != nil {
		return errors.Wrap(err, "nested update-deps solve failed")
	}

	out.Records.Clear("replaced by the nested update-deps solution")
	out.Records.Update(records, "nested update-deps solution")
	out.ForHistory.Clear("replaced by the nested update-deps solution")
	out.ForHistory.Update(forHistory, "nested update-deps solution")

	// The nested solve resolved the complete graph; pruning against the
	// outer, narrower spec set would drop records it deliberately kept.
	out.pruneDisabled = true
	return nil
}

// matchingRecords returns the working records matched by spec, name-sorted.
func (out *SolverOutputState) matchingRecords(spec specs.MatchSpec) []*specs.PackageRecord {
	var matches []*specs.PackageRecord
	for _, rec := range out.Records.Values() {
		if spec.Match(rec) {
			matches = append(matches, rec)
		}
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].Name < matches[j].Name })
	return matches
}

// poolsOverlap reports whether the candidate pools of two specs for the
// same name share at least one record. With no index there is nothing to
// compare, so no overlap.
func poolsOverlap(index Index, a, b specs.MatchSpec) bool {
	if index == nil {
		return false
	}
	inA := map[string]bool{}
	for _, rec := range index.FindMatches(a) {
		inA[rec.DistStr()] = true
	}
	for _, rec := range index.FindMatches(b) {
		if inA[rec.DistStr()] {
			return true
		}
	}
	return false
}

func mapHas[V any](m map[string]V, key string) bool {
	_, ok := m[key]
	return ok
}
