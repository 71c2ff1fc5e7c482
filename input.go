// Copyright 2026 The Solvstate Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package solvstate

import (
	"github.com/pkg/errors"

	"github.com/conda/solvstate/specs"
)

// Command identifies the operation driving a solve.
type Command int

const (
	CommandOther Command = iota
	CommandInstall
	CommandUpdate
	CommandCreate
	CommandRemove
)

func (c Command) String() string {
	switch c {
	case CommandInstall:
		return "install"
	case CommandUpdate:
		return "update"
	case CommandCreate:
		return "create"
	case CommandRemove:
		return "remove"
	default:
		return "other"
	}
}

// UpdateModifier selects how aggressively installed packages may move.
type UpdateModifier int

const (
	// UpdateSpecs is the default: only the requested specs (and conflicting
	// indirect dependencies) may move.
	UpdateSpecs UpdateModifier = iota
	// UpdateAll rebuilds the constraint set from history (or the whole
	// prefix) as bare names so everything can float.
	UpdateAll
	// UpdateDeps additionally floats the dependency chains of the requested
	// specs, via a second solve.
	UpdateDeps
	// FreezeInstalled pins every installed package exactly.
	FreezeInstalled
	// SpecsSatisfiedSkipSolve skips solving entirely when every requested
	// name is already installed.
	SpecsSatisfiedSkipSolve
)

func (u UpdateModifier) String() string {
	switch u {
	case UpdateAll:
		return "update_all"
	case UpdateDeps:
		return "update_deps"
	case FreezeInstalled:
		return "freeze_installed"
	case SpecsSatisfiedSkipSolve:
		return "specs_satisfied_skip_solve"
	default:
		return "update_specs"
	}
}

// DepsModifier selects how dependencies of the requested specs are treated
// after a solution exists.
type DepsModifier int

const (
	DepsNotSet DepsModifier = iota
	// NoDeps confines changes to the requested names; dependencies stay
	// exactly as they were, even if that leaves them unmet.
	NoDeps
	// OnlyDeps installs/removes the dependencies of the requested specs but
	// not the requested packages themselves.
	OnlyDeps
)

func (d DepsModifier) String() string {
	switch d {
	case NoDeps:
		return "no_deps"
	case OnlyDeps:
		return "only_deps"
	default:
		return "not_set"
	}
}

// protectedNames must never be silently dropped from an environment. The
// list is fixed: it compensates for older installers that did not record
// these packages in history.
var protectedNames = []string{
	"anaconda",
	"conda",
	"conda-build",
	"python.app",
	"console_shortcut",
	"powershell_shortcut",
}

// selfName is the package name of this tool itself, protected from
// downgrades when solving its own environment.
const selfName = "conda"

// InputParams carries the raw facts for one solve attempt. PrefixStore is
// the only required collaborator.
type InputParams struct {
	Prefix  PrefixStore
	History HistoryStore

	Requested         map[string]specs.MatchSpec
	Pinned            map[string]specs.MatchSpec
	Virtual           map[string]*specs.PackageRecord
	AggressiveUpdates map[string]specs.MatchSpec

	Command        Command
	UpdateModifier UpdateModifier
	DepsModifier   DepsModifier

	IgnorePinned   bool
	ForceRemove    bool
	ForceReinstall bool
	Prune          bool

	// Offline suppresses aggressive-update relaxation.
	Offline bool
	// PipInterop treats records installed by foreign tools as part of the
	// environment, protecting them from indirect pruning.
	PipInterop bool
	// TargetIsSelf marks that the environment being solved is the one this
	// tool runs from, activating the self-downgrade protection.
	TargetIsSelf bool
	// AutoUpdateSelf lets the tool's own package float upward when it was
	// not explicitly requested.
	AutoUpdateSelf bool
}

// SolverInputState is the immutable, validated view of the world for one
// solve attempt. Construction gathers and validates the raw facts; after
// that nothing here changes.
type SolverInputState struct {
	installed         map[string]*specs.PackageRecord
	history           map[string]specs.MatchSpec
	pinned            map[string]specs.MatchSpec
	virtual           map[string]*specs.PackageRecord
	aggressiveUpdates map[string]specs.MatchSpec
	protected         map[string]specs.MatchSpec
	requested         map[string]specs.MatchSpec

	command        Command
	updateModifier UpdateModifier
	depsModifier   DepsModifier

	ignorePinned   bool
	forceRemove    bool
	forceReinstall bool
	prune          bool
	offline        bool
	pipInterop     bool
	targetIsSelf   bool
	autoUpdateSelf bool
}

// NewInputState builds and validates a SolverInputState. It fails with a
// ConfigurationConflictError when a configured pin does not match a record
// that is already installed; that contradiction must be resolved before any
// solve is attempted.
func NewInputState(p InputParams) (*SolverInputState, error) {
	if p.Prefix == nil {
		return nil, errors.New("input state requires a non-nil PrefixStore")
	}

	in := &SolverInputState{
		installed:         p.Prefix.Installed(),
		history:           map[string]specs.MatchSpec{},
		pinned:            map[string]specs.MatchSpec{},
		virtual:           map[string]*specs.PackageRecord{},
		aggressiveUpdates: map[string]specs.MatchSpec{},
		protected:         map[string]specs.MatchSpec{},
		requested:         map[string]specs.MatchSpec{},
		command:           p.Command,
		updateModifier:    p.UpdateModifier,
		depsModifier:      p.DepsModifier,
		ignorePinned:      p.IgnorePinned,
		forceRemove:       p.ForceRemove,
		forceReinstall:    p.ForceReinstall,
		prune:             p.Prune,
		offline:           p.Offline,
		pipInterop:        p.PipInterop,
		targetIsSelf:      p.TargetIsSelf,
		autoUpdateSelf:    p.AutoUpdateSelf,
	}

	if p.History != nil {
		in.history = p.History.PreviouslyRequested()
	}
	if !p.IgnorePinned {
		for name, ms := range p.Pinned {
			in.pinned[name] = ms
		}
	}
	for name, rec := range p.Virtual {
		in.virtual[name] = rec
	}
	for name, ms := range p.AggressiveUpdates {
		in.aggressiveUpdates[name] = ms
	}
	for name, ms := range p.Requested {
		in.requested[name] = ms
	}
	for _, name := range protectedNames {
		in.protected[name] = specs.Bare(name)
	}

	// An installed record that violates its own pin means the configuration
	// and the prefix already disagree; solving on top of that would only
	// entrench the contradiction.
	for name, pin := range in.pinned {
		rec, ok := in.installed[name]
		if !ok {
			continue
		}
		if !pin.Match(rec) {
			return nil, &ConfigurationConflictError{
				PinnedSpecs:     []specs.MatchSpec{pin},
				InstalledRecord: rec,
			}
		}
	}

	return in, nil
}

// Prefix state pools. All returned maps are the snapshot's own; callers
// must not mutate them.

func (in *SolverInputState) Installed() map[string]*specs.PackageRecord { return in.installed }
func (in *SolverInputState) History() map[string]specs.MatchSpec       { return in.history }
func (in *SolverInputState) Pinned() map[string]specs.MatchSpec        { return in.pinned }
func (in *SolverInputState) Virtual() map[string]*specs.PackageRecord  { return in.virtual }
func (in *SolverInputState) Requested() map[string]specs.MatchSpec     { return in.requested }

func (in *SolverInputState) AggressiveUpdates() map[string]specs.MatchSpec {
	return in.aggressiveUpdates
}

// Protected returns the fixed set of names the solver must never silently
// drop.
func (in *SolverInputState) Protected() map[string]specs.MatchSpec { return in.protected }

// InstalledRecord returns the installed record for name, if any.
func (in *SolverInputState) InstalledRecord(name string) (*specs.PackageRecord, bool) {
	rec, ok := in.installed[name]
	return rec, ok
}

// Command queries.

func (in *SolverInputState) Command() Command  { return in.command }
func (in *SolverInputState) IsInstalling() bool { return in.command == CommandInstall }
func (in *SolverInputState) IsUpdating() bool   { return in.command == CommandUpdate }
func (in *SolverInputState) IsCreating() bool   { return in.command == CommandCreate }
func (in *SolverInputState) IsRemoving() bool   { return in.command == CommandRemove }

// Update-modifier queries.

func (in *SolverInputState) UpdateModifier() UpdateModifier { return in.updateModifier }
func (in *SolverInputState) WithUpdateSpecs() bool          { return in.updateModifier == UpdateSpecs }
func (in *SolverInputState) WithUpdateAll() bool            { return in.updateModifier == UpdateAll }
func (in *SolverInputState) WithUpdateDeps() bool           { return in.updateModifier == UpdateDeps }
func (in *SolverInputState) WithFreezeInstalled() bool      { return in.updateModifier == FreezeInstalled }

func (in *SolverInputState) WithSpecsSatisfiedSkipSolve() bool {
	return in.updateModifier == SpecsSatisfiedSkipSolve
}

// Deps-modifier queries.

func (in *SolverInputState) DepsModifier() DepsModifier { return in.depsModifier }
func (in *SolverInputState) WithDeps() bool             { return in.depsModifier == DepsNotSet }
func (in *SolverInputState) WithNoDeps() bool           { return in.depsModifier == NoDeps }
func (in *SolverInputState) WithOnlyDeps() bool         { return in.depsModifier == OnlyDeps }

// Other flags.

func (in *SolverInputState) IgnorePinned() bool   { return in.ignorePinned }
func (in *SolverInputState) ForceRemove() bool    { return in.forceRemove }
func (in *SolverInputState) ForceReinstall() bool { return in.forceReinstall }
func (in *SolverInputState) Prune() bool          { return in.prune }
func (in *SolverInputState) Offline() bool        { return in.offline }
func (in *SolverInputState) PipInterop() bool     { return in.pipInterop }
func (in *SolverInputState) TargetIsSelf() bool   { return in.targetIsSelf }
func (in *SolverInputState) AutoUpdateSelf() bool { return in.autoUpdateSelf }
