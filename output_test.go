// Copyright 2026 The Solvstate Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package solvstate

import (
	"context"
	"reflect"
	"testing"

	"github.com/conda/solvstate/prefixdata"
	"github.com/conda/solvstate/specs"
)

func record(name, version, build string, depends ...string) *specs.PackageRecord {
	return &specs.PackageRecord{Name: name, Version: version, Build: build, Depends: depends}
}

func specMap(strs ...string) map[string]specs.MatchSpec {
	out := make(map[string]specs.MatchSpec, len(strs))
	for _, s := range strs {
		ms := specs.MustParse(s)
		out[ms.Name()] = ms
	}
	return out
}

func newState(t *testing.T, p InputParams) (*SolverInputState, *SolverOutputState) {
	t.Helper()
	in, err := NewInputState(p)
	if err != nil {
		t.Fatalf("NewInputState: %s", err)
	}
	return in, NewOutputState(in, testLogger())
}

func TestPrepareSpecsIsIdempotent(t *testing.T) {
	prefix := prefixdata.New(
		record("python", "3.9.7", "h12debd9_0"),
		record("numpy", "1.21.0", "py39_0", "python"),
	)
	_, out := newState(t, InputParams{
		Prefix:    prefix,
		History:   prefixdata.NewHistory(specMap("python", "numpy >=1.20")),
		Requested: specMap("scipy"),
		Command:   CommandInstall,
	})

	if err := out.PrepareSpecs(nil); err != nil {
		t.Fatalf("first PrepareSpecs: %s", err)
	}
	first := out.Specs.AsMap()
	if err := out.PrepareSpecs(nil); err != nil {
		t.Fatalf("second PrepareSpecs: %s", err)
	}
	if !reflect.DeepEqual(first, out.Specs.AsMap()) {
		t.Errorf("PrepareSpecs is not idempotent:\nfirst:  %v\nsecond: %v", first, out.Specs.AsMap())
	}
}

func TestPreparePinsPythonMinorVersion(t *testing.T) {
	prefix := prefixdata.New(record("python", "3.9.7", "h12debd9_0"))
	_, out := newState(t, InputParams{
		Prefix:    prefix,
		History:   prefixdata.NewHistory(specMap("python")),
		Requested: specMap("numpy >=1.22"),
		Command:   CommandInstall,
	})
	// a conflict keeps the refinement step from pinning python exactly
	out.Conflicts.Set("python", specs.Bare("python"), "seeded for test")

	if err := out.PrepareSpecs(nil); err != nil {
		t.Fatalf("PrepareSpecs: %s", err)
	}
	py, ok := out.Specs.Get("python")
	if !ok {
		t.Fatal("python missing from prepared specs")
	}
	if py.Version() != "3.9.*" {
		t.Errorf("python version = %q, want %q", py.Version(), "3.9.*")
	}
}

func TestPrepareLeavesExplicitPythonRequestAlone(t *testing.T) {
	prefix := prefixdata.New(record("python", "3.9.7", "h12debd9_0"))
	_, out := newState(t, InputParams{
		Prefix:    prefix,
		History:   prefixdata.NewHistory(specMap("python")),
		Requested: specMap("python 3.10.*"),
		Command:   CommandUpdate,
	})

	if err := out.PrepareSpecs(nil); err != nil {
		t.Fatalf("PrepareSpecs: %s", err)
	}
	py, _ := out.Specs.Get("python")
	if py.Version() != "3.10.*" {
		t.Errorf("python version = %q, want the requested %q", py.Version(), "3.10.*")
	}
}

func TestPrepareFreezeInstalledPinsExactly(t *testing.T) {
	prefix := prefixdata.New(
		record("python", "3.9.7", "h12debd9_0"),
		record("numpy", "1.21.0", "py39_0", "python"),
		record("markupsafe", "2.0.1", "py39_1", "python"),
	)
	_, out := newState(t, InputParams{
		Prefix:         prefix,
		History:        prefixdata.NewHistory(specMap("python", "numpy", "markupsafe")),
		Requested:      specMap("scipy"),
		Command:        CommandInstall,
		UpdateModifier: FreezeInstalled,
	})
	out.Conflicts.Set("markupsafe", specs.Bare("markupsafe"), "seeded for test")

	if err := out.PrepareSpecs(nil); err != nil {
		t.Fatalf("PrepareSpecs: %s", err)
	}

	np, _ := out.Specs.Get("numpy")
	if np.Version() != "1.21.0" || np.Build() != "py39_0" {
		t.Errorf("numpy frozen as %q, want exact version and build", np)
	}

	// the conflicting name must be soft instead: droppable, with a
	// preference for the installed build
	mk, _ := out.Specs.Get("markupsafe")
	if !mk.Optional() {
		t.Error("conflicting installed spec is not optional under freeze-installed")
	}
	if mk.HasVersion() {
		t.Errorf("conflicting installed spec still constrains version: %q", mk)
	}
	if mk.Target() != "markupsafe-2.0.1-py39_1" {
		t.Errorf("conflicting installed spec target = %q", mk.Target())
	}
}

func TestPrepareUpdateAllRebuildsFromHistory(t *testing.T) {
	prefix := prefixdata.New(
		record("python", "3.9.7", "h12debd9_0"),
		record("flask", "1.0", "py39_0", "python"),
		&specs.PackageRecord{Name: "requests", Version: "2.26.0", Build: "pypi_0", Subdir: "pypi"},
		record("orphan", "0.1", "0"),
	)
	_, out := newState(t, InputParams{
		Prefix:         prefix,
		History:        prefixdata.NewHistory(specMap("flask")),
		Command:        CommandUpdate,
		UpdateModifier: UpdateAll,
		PipInterop:     true,
	})

	if err := out.PrepareSpecs(nil); err != nil {
		t.Fatalf("PrepareSpecs: %s", err)
	}

	want := []string{"flask", "python", "requests"}
	if got := out.Specs.Keys(); !reflect.DeepEqual(got, want) {
		t.Fatalf("prepared spec names = %v, want %v", got, want)
	}
	fl, _ := out.Specs.Get("flask")
	if fl.HasVersion() {
		t.Errorf("flask = %q, want a bare name under update-all", fl)
	}
	// the foreign package reads as explicitly wanted even without history
	rq, _ := out.Specs.Get("requests")
	if rq.HasVersion() {
		t.Errorf("requests = %q, want a bare name", rq)
	}
}

func TestPrepareUpdateSpecsRelaxesConflicts(t *testing.T) {
	prefix := prefixdata.New(
		record("python", "3.9.7", "h12debd9_0"),
		record("markupsafe", "2.0.1", "py39_1", "python"),
	)
	_, out := newState(t, InputParams{
		Prefix:    prefix,
		History:   prefixdata.NewHistory(nil),
		Requested: specMap("jinja2 >=3"),
		Command:   CommandUpdate,
	})
	out.Conflicts.Set("markupsafe", specs.Bare("markupsafe"), "seeded for test")

	if err := out.PrepareSpecs(nil); err != nil {
		t.Fatalf("PrepareSpecs: %s", err)
	}
	mk, _ := out.Specs.Get("markupsafe")
	if mk != specs.Bare("markupsafe") {
		t.Errorf("conflicting markupsafe = %+v, want a bare unconstrained name", mk)
	}
}

func TestPrepareRequestedSpecsWin(t *testing.T) {
	prefix := prefixdata.New(
		record("python", "3.9.7", "h12debd9_0"),
		record("numpy", "1.21.0", "py39_0", "python"),
	)
	_, out := newState(t, InputParams{
		Prefix:    prefix,
		History:   prefixdata.NewHistory(specMap("numpy >=1.20", "python")),
		Requested: specMap("numpy >=1.22"),
		Command:   CommandUpdate,
	})

	if err := out.PrepareSpecs(nil); err != nil {
		t.Fatalf("PrepareSpecs: %s", err)
	}
	np, _ := out.Specs.Get("numpy")
	if np.Version() != ">=1.22" {
		t.Errorf("numpy = %q, want the requested >=1.22", np)
	}
}

func TestPreparePinAppliedWhenNotRequested(t *testing.T) {
	prefix := prefixdata.New(
		record("python", "3.9.7", "h12debd9_0"),
		record("numpy", "1.21.0", "py39_0", "python"),
	)
	_, out := newState(t, InputParams{
		Prefix:    prefix,
		History:   prefixdata.NewHistory(specMap("numpy", "python")),
		Pinned:    specMap("numpy 1.21.*"),
		Requested: specMap("scipy"),
		Command:   CommandInstall,
	})

	if err := out.PrepareSpecs(nil); err != nil {
		t.Fatalf("PrepareSpecs: %s", err)
	}
	np, _ := out.Specs.Get("numpy")
	if np.Version() != "1.21.*" {
		t.Errorf("numpy = %q, want the pin 1.21.*", np)
	}
	if np.Optional() {
		t.Error("an applied pin must not be optional")
	}
}

func TestPreparePinOverrideWhenRequestOverlaps(t *testing.T) {
	prefix := prefixdata.New(
		record("python", "3.9.7", "h12debd9_0"),
		record("numpy", "1.21.0", "py39_0", "python"),
	)
	index := prefixdata.NewIndex(
		record("numpy", "1.21.0", "py39_0", "python"),
		record("numpy", "1.21.2", "py39_0", "python"),
		record("numpy", "1.22.0", "py39_0", "python"),
	)
	_, out := newState(t, InputParams{
		Prefix:    prefix,
		History:   prefixdata.NewHistory(specMap("numpy", "python")),
		Pinned:    specMap("numpy 1.21.*"),
		Requested: specMap("numpy >=1.21"),
		Command:   CommandUpdate,
	})

	if err := out.PrepareSpecs(index); err != nil {
		t.Fatalf("PrepareSpecs: %s", err)
	}
	np, _ := out.Specs.Get("numpy")
	if np.Version() != "1.21.*" {
		t.Errorf("numpy = %q, want the pin to win over the overlapping request", np)
	}

	// with the override recorded, a later conflict on numpy must not be
	// treated as a fatal pin contradiction
	out.Conflicts.Set("numpy", specs.Bare("numpy"), "seeded for test")
	if err := out.PrepareSpecs(index); err != nil {
		t.Errorf("PrepareSpecs with overridden pin conflict: %s", err)
	}
}

func TestPreparePinConflictIsFatal(t *testing.T) {
	prefix := prefixdata.New(
		record("python", "3.9.7", "h12debd9_0"),
		record("numpy", "1.21.0", "py39_0", "python"),
	)
	_, out := newState(t, InputParams{
		Prefix:    prefix,
		History:   prefixdata.NewHistory(specMap("numpy", "python")),
		Pinned:    specMap("numpy 1.21.*"),
		Requested: specMap("scipy"),
		Command:   CommandInstall,
	})
	out.Conflicts.Set("numpy", specs.Bare("numpy"), "seeded for test")

	err := out.PrepareSpecs(nil)
	confErr, ok := err.(*ConfigurationConflictError)
	if !ok {
		t.Fatalf("PrepareSpecs error = %v, want *ConfigurationConflictError", err)
	}
	if len(confErr.PinnedSpecs) != 1 || confErr.PinnedSpecs[0].Name() != "numpy" {
		t.Errorf("PinnedSpecs = %v, want exactly the numpy pin", confErr.PinnedSpecs)
	}
	for _, s := range confErr.RequestedSpecs {
		if s.Name() == "numpy" {
			t.Errorf("RequestedSpecs still lists the conflicting pin name: %v", confErr.RequestedSpecs)
		}
	}
}

func TestPrepareSelfVersionFloor(t *testing.T) {
	prefix := prefixdata.New(
		record("python", "3.9.7", "h12debd9_0"),
		record("conda", "4.9.2", "py39_0", "python"),
	)
	_, out := newState(t, InputParams{
		Prefix:       prefix,
		History:      prefixdata.NewHistory(specMap("conda", "python")),
		Requested:    specMap("scipy"),
		Command:      CommandInstall,
		TargetIsSelf: true,
	})
	out.Conflicts.Set("conda", specs.Bare("conda"), "seeded for test")

	if err := out.PrepareSpecs(nil); err != nil {
		t.Fatalf("PrepareSpecs: %s", err)
	}
	self, _ := out.Specs.Get("conda")
	if self.Version() != ">=4.9.2" {
		t.Errorf("conda = %q, want the floor >=4.9.2", self)
	}
}

func TestPrepareSelfAutoUpdateFloats(t *testing.T) {
	prefix := prefixdata.New(
		record("python", "3.9.7", "h12debd9_0"),
		record("conda", "4.9.2", "py39_0", "python"),
	)
	_, out := newState(t, InputParams{
		Prefix:         prefix,
		History:        prefixdata.NewHistory(specMap("conda", "python")),
		Requested:      specMap("scipy"),
		Command:        CommandInstall,
		TargetIsSelf:   true,
		AutoUpdateSelf: true,
	})

	if err := out.PrepareSpecs(nil); err != nil {
		t.Fatalf("PrepareSpecs: %s", err)
	}
	self, _ := out.Specs.Get("conda")
	if self.Version() != ">=4.9.2" {
		t.Errorf("conda = %q, want the floor >=4.9.2", self)
	}
	if self.Target() != "" {
		t.Errorf("conda target = %q, want no build preference under auto-update", self.Target())
	}
}

func TestPrepareRemovalUsesRequestedVerbatim(t *testing.T) {
	prefix := prefixdata.New(
		record("python", "3.9.7", "h12debd9_0"),
		record("flask", "1.0", "py39_0", "python"),
	)
	_, out := newState(t, InputParams{
		Prefix:    prefix,
		History:   prefixdata.NewHistory(specMap("flask", "python")),
		Requested: specMap("flask"),
		Command:   CommandRemove,
	})

	if err := out.PrepareSpecs(nil); err != nil {
		t.Fatalf("PrepareSpecs: %s", err)
	}
	want := []string{"flask"}
	if got := out.Specs.Keys(); !reflect.DeepEqual(got, want) {
		t.Errorf("prepared removal specs = %v, want %v", got, want)
	}
}

func TestPostSolveNeutersWeakenedHistorySpecs(t *testing.T) {
	prefix := prefixdata.New(
		record("python", "3.9.7", "h12debd9_0"),
		record("numpy", "1.21.0", "py39_0", "python"),
	)
	_, out := newState(t, InputParams{
		Prefix:  prefix,
		History: prefixdata.NewHistory(specMap("numpy >=1.21", "python")),
		Command: CommandInstall,
	})
	out.Specs.Set("numpy", specs.Bare("numpy"), "relaxed during preparation")

	if err := out.PostSolve(context.Background(), nil); err != nil {
		t.Fatalf("PostSolve: %s", err)
	}
	neutered, ok := out.Neutered.Get("numpy")
	if !ok {
		t.Fatal("weakened history spec not recorded as neutered")
	}
	if neutered.HasVersion() {
		t.Errorf("neutered numpy = %q, want the weakened bare form", neutered)
	}
	if out.Neutered.Has("python") {
		t.Error("python neutered although its spec never weakened")
	}
}

func TestPostSolveNoDepsOnlyTouchesRequestedNames(t *testing.T) {
	pythonOld := record("python", "3.9.7", "h12debd9_0")
	flaskOld := record("flask", "1.0", "py39_0", "python")
	prefix := prefixdata.New(pythonOld, flaskOld)

	_, out := newState(t, InputParams{
		Prefix:       prefix,
		History:      prefixdata.NewHistory(specMap("flask", "python")),
		Requested:    specMap("flask >=2"),
		Command:      CommandInstall,
		DepsModifier: NoDeps,
	})
	out.SetSolution([]*specs.PackageRecord{
		record("python", "3.10.4", "h2660328_0"),
		record("flask", "2.1.0", "py39_0", "python", "jinja2"),
		record("jinja2", "3.1.0", "py39_0", "python"),
	}, "solver solution")

	if err := out.PostSolve(context.Background(), nil); err != nil {
		t.Fatalf("PostSolve: %s", err)
	}

	py, _ := out.Records.Get("python")
	if py != pythonOld {
		t.Errorf("python = %v, want the installed record untouched", py)
	}
	fl, _ := out.Records.Get("flask")
	if fl == nil || fl.Version != "2.1.0" {
		t.Errorf("flask = %v, want the solved 2.1.0", fl)
	}
	if out.Records.Has("jinja2") {
		t.Error("no-deps install pulled in a dependency")
	}
}

func TestPostSolveOnlyDepsInstallPromotesDependencies(t *testing.T) {
	prefix := prefixdata.New()
	_, out := newState(t, InputParams{
		Prefix:       prefix,
		History:      prefixdata.NewHistory(nil),
		Requested:    specMap("flask"),
		Command:      CommandInstall,
		DepsModifier: OnlyDeps,
	})
	out.SetSolution([]*specs.PackageRecord{
		record("flask", "2.1.0", "py39_0", "python", "jinja2"),
		record("jinja2", "3.1.0", "py39_0", "python"),
		record("python", "3.10.4", "h2660328_0"),
	}, "solver solution")

	if err := out.PostSolve(context.Background(), nil); err != nil {
		t.Fatalf("PostSolve: %s", err)
	}

	if out.Records.Has("flask") {
		t.Error("only-deps install kept the requested package itself")
	}
	for _, name := range []string{"python", "jinja2"} {
		if !out.Records.Has(name) {
			t.Errorf("dependency %s missing from records", name)
		}
		if !out.ForHistory.Has(name) {
			t.Errorf("dependency %s not promoted into history", name)
		}
	}
}

func TestPostSolveOnlyDepsInstallKeepsAlreadyInstalled(t *testing.T) {
	flaskOld := record("flask", "1.0", "py39_0", "python")
	prefix := prefixdata.New(flaskOld, record("python", "3.9.7", "h12debd9_0"))

	_, out := newState(t, InputParams{
		Prefix:       prefix,
		History:      prefixdata.NewHistory(specMap("flask", "python")),
		Requested:    specMap("flask"),
		Command:      CommandInstall,
		DepsModifier: OnlyDeps,
	})
	out.SetSolution([]*specs.PackageRecord{
		record("flask", "2.1.0", "py39_0", "python"),
		record("python", "3.9.7", "h12debd9_0"),
	}, "solver solution")

	if err := out.PostSolve(context.Background(), nil); err != nil {
		t.Fatalf("PostSolve: %s", err)
	}
	fl, ok := out.Records.Get("flask")
	if !ok {
		t.Fatal("flask dropped although it was already installed")
	}
	if fl != flaskOld {
		t.Errorf("flask = %v, want the prefix's own record added back", fl)
	}
}

func TestPostSolveOnlyDepsRemoveKeepsIndependentRecords(t *testing.T) {
	cases := []struct {
		name     string
		history  map[string]specs.MatchSpec
		wantKept bool
	}{
		{"independent record survives", specMap("flask", "click"), true},
		{"dependent record is dropped", specMap("click"), false},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			prefix := prefixdata.New(
				record("flask", "2.1.0", "py39_0", "click"),
				record("click", "8.0.0", "py39_0"),
			)
			_, out := newState(t, InputParams{
				Prefix:       prefix,
				History:      prefixdata.NewHistory(c.history),
				Requested:    specMap("flask"),
				Command:      CommandRemove,
				DepsModifier: OnlyDeps,
			})

			if err := out.PostSolve(context.Background(), nil); err != nil {
				t.Fatalf("PostSolve: %s", err)
			}
			if !out.Records.Has("click") {
				t.Error("click removed although only flask's dependencies were targeted")
			}
			if got := out.Records.Has("flask"); got != c.wantKept {
				t.Errorf("flask kept = %v, want %v", got, c.wantKept)
			}
		})
	}
}

func TestPostSolvePrunesUnreachableRecords(t *testing.T) {
	prefix := prefixdata.New(
		record("python", "3.9.7", "h12debd9_0"),
		record("flask", "2.1.0", "py39_0", "python"),
		record("orphan", "0.1", "0"),
	)
	_, out := newState(t, InputParams{
		Prefix:  prefix,
		History: prefixdata.NewHistory(specMap("flask")),
		Command: CommandInstall,
		Prune:   true,
	})

	if err := out.PostSolve(context.Background(), nil); err != nil {
		t.Fatalf("PostSolve: %s", err)
	}
	if out.Records.Has("orphan") {
		t.Error("orphan survived pruning despite being unreachable")
	}
	for _, name := range []string{"flask", "python"} {
		if !out.Records.Has(name) {
			t.Errorf("%s pruned although reachable from the spec pool", name)
		}
	}
}

func TestPostSolveUpdateDepsExpandsRequest(t *testing.T) {
	prefix := prefixdata.New(
		record("python", "3.9.7", "h12debd9_0"),
		record("jinja2", "3.0.0", "py39_0", "python"),
		record("markupsafe", "2.0.1", "py39_1", "python"),
		record("flask", "1.0", "py39_0", "python", "jinja2"),
	)
	_, out := newState(t, InputParams{
		Prefix:         prefix,
		History:        prefixdata.NewHistory(specMap("flask", "python")),
		Pinned:         specMap("markupsafe 2.0.*"),
		Requested:      specMap("flask >=2"),
		Command:        CommandUpdate,
		UpdateModifier: UpdateDeps,
		Prune:          true,
	})

	var captured map[string]specs.MatchSpec
	nested := func(_ context.Context, requested map[string]specs.MatchSpec) (
		map[string]*specs.PackageRecord, map[string]specs.MatchSpec, error) {
		captured = requested
		return map[string]*specs.PackageRecord{
				"flask": record("flask", "2.1.0", "py39_0", "python", "jinja2"),
			}, map[string]specs.MatchSpec{
				"flask": specs.MustParse("flask >=2"),
			}, nil
	}

	if err := out.PostSolve(context.Background(), nested); err != nil {
		t.Fatalf("PostSolve: %s", err)
	}

	if captured == nil {
		t.Fatal("nested solve never invoked")
	}
	if got := captured["flask"]; got.Version() != ">=2" {
		t.Errorf("nested flask = %q, want the original request", got)
	}
	if py, ok := captured["python"]; !ok || py.Version() != "3.9.*" {
		t.Errorf("nested python = %v, want the 3.9.* floor", captured["python"])
	}
	if _, ok := captured["jinja2"]; !ok {
		t.Error("flask's dependency jinja2 missing from the expanded request")
	}
	if _, ok := captured["markupsafe"]; ok {
		t.Error("pinned markupsafe leaked into the expanded request")
	}

	fl, _ := out.Records.Get("flask")
	if fl == nil || fl.Version != "2.1.0" {
		t.Errorf("records not replaced by the nested solution: flask = %v", fl)
	}
	if out.Records.Has("orphanless") {
		t.Error("unexpected record")
	}
	if hist, _ := out.ForHistory.Get("flask"); hist.Version() != ">=2" {
		t.Errorf("history not replaced by the nested solution: %q", hist)
	}
}
