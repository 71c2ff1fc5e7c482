// Copyright 2026 The Solvstate Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package solvstate

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/conda/solvstate/specs"
)

// ConfigurationConflictError reports that configured pins cannot be
// reconciled with the requested specs or with an already-installed record.
// It is fatal: the configuration must change before another solve is
// worth attempting.
type ConfigurationConflictError struct {
	// PinnedSpecs are the pins that could not be honored.
	PinnedSpecs []specs.MatchSpec
	// RequestedSpecs are the specs in play, filtered of the conflicting
	// pins, so the user can see both sides.
	RequestedSpecs []specs.MatchSpec
	// InstalledRecord is set when a single pin contradicts a record that is
	// already installed.
	InstalledRecord *specs.PackageRecord
}

func (e *ConfigurationConflictError) Error() string {
	var buf bytes.Buffer
	if e.InstalledRecord != nil {
		fmt.Fprintf(&buf, "installed package %s violates configured pin", e.InstalledRecord.DistStr())
	} else {
		buf.WriteString("requested specs conflict with configured pins")
	}
	if len(e.PinnedSpecs) > 0 {
		buf.WriteString("\npinned specs:")
		for _, s := range e.PinnedSpecs {
			fmt.Fprintf(&buf, "\n  - %s", s)
		}
	}
	if len(e.RequestedSpecs) > 0 {
		buf.WriteString("\nrequested specs:")
		for _, s := range e.RequestedSpecs {
			fmt.Fprintf(&buf, "\n  - %s", s)
		}
	}
	buf.WriteString("\nremove the pin or adjust the request, then retry")
	return buf.String()
}

// InconsistentEnvironmentError reports that one name resolved to more than
// one installed record while refining specs. That is prefix-store
// corruption, not a user mistake.
type InconsistentEnvironmentError struct {
	Spec    specs.MatchSpec
	Records []*specs.PackageRecord
}

func (e *InconsistentEnvironmentError) Error() string {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "environment is inconsistent: spec %q matches %d installed records:", e.Spec, len(e.Records))
	for _, rec := range e.Records {
		fmt.Fprintf(&buf, "\n  - %s", rec.DistStr())
	}
	buf.WriteString("\nthis should never happen; please file a bug report including this output")
	return buf.String()
}

// PackagesNotFoundError reports a removal that referenced names with no
// installed match. It lists exactly the unmatched specs.
type PackagesNotFoundError struct {
	Specs []specs.MatchSpec
}

func (e *PackagesNotFoundError) Error() string {
	var buf bytes.Buffer
	buf.WriteString("the following packages are not installed and cannot be removed:")
	for _, s := range e.Specs {
		fmt.Fprintf(&buf, "\n  - %s", s)
	}
	return buf.String()
}

// UnsatisfiableError is produced by a solver backend when no candidate set
// satisfies the prepared specs. The orchestrator feeds Conflicts back into
// the output state and retries; it is never raised by the preparation
// logic itself.
type UnsatisfiableError struct {
	// Conflicts maps package names to the spec the backend found blocking.
	Conflicts map[string]specs.MatchSpec
}

func (e *UnsatisfiableError) Error() string {
	if len(e.Conflicts) == 0 {
		return "the requested specs cannot be satisfied"
	}
	names := make([]string, 0, len(e.Conflicts))
	for name := range e.Conflicts {
		names = append(names, name)
	}
	sort.Strings(names)

	var buf bytes.Buffer
	buf.WriteString("the requested specs cannot be satisfied; conflicting packages:")
	for _, name := range names {
		fmt.Fprintf(&buf, "\n  - %s", e.Conflicts[name])
	}
	return buf.String()
}
