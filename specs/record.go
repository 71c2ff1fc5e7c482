// Copyright 2026 The Solvstate Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package specs

import (
	"fmt"

	"github.com/pkg/errors"
)

// ForeignSubdir marks records that were placed in the prefix by a
// non-native package tool (e.g. pip). Such records are manageable only by
// that tool, so the solver must leave them alone unless forced.
const ForeignSubdir = "pypi"

// VirtualPrefix is the conventional name prefix for synthetic
// system-capability packages. Virtual packages are never installable; they
// only constrain the solve.
const VirtualPrefix = "__"

// PackageRecord describes one concrete installed or installable package.
type PackageRecord struct {
	Name        string
	Version     string
	Build       string
	BuildNumber int
	Subdir      string
	Channel     string
	Depends     []string

	// Unmanageable marks records that must not be rewritten by a solve,
	// independent of their subdir.
	Unmanageable bool
}

// DistStr returns the record's identity string, used as the target hint on
// soft-pinned specs.
func (r *PackageRecord) DistStr() string {
	return fmt.Sprintf("%s-%s-%s", r.Name, r.Version, r.Build)
}

func (r *PackageRecord) String() string { return r.DistStr() }

// IsUnmanageable reports whether the record is outside this tool's control.
func (r *PackageRecord) IsUnmanageable() bool {
	return r.Unmanageable || r.Subdir == ForeignSubdir
}

// IsForeign reports whether the record was installed by a non-native tool.
func (r *PackageRecord) IsForeign() bool {
	return r.Subdir == ForeignSubdir
}

// IsVirtual reports whether the record is a synthetic system package.
func (r *PackageRecord) IsVirtual() bool {
	return len(r.Name) >= len(VirtualPrefix) && r.Name[:len(VirtualPrefix)] == VirtualPrefix
}

// ToMatchSpec returns the exact spec for this record: name, version and
// build all pinned. Only this record (or an identical rebuild) matches.
func (r *PackageRecord) ToMatchSpec() MatchSpec {
	return MatchSpec{
		name:    r.Name,
		version: r.Version,
		build:   r.Build,
	}
}

// DependsSpecs parses the record's dependency strings.
func (r *PackageRecord) DependsSpecs() ([]MatchSpec, error) {
	out := make([]MatchSpec, 0, len(r.Depends))
	for _, d := range r.Depends {
		ms, err := Parse(d)
		if err != nil {
			return nil, errors.Wrapf(err, "record %s has invalid dependency %q", r.DistStr(), d)
		}
		out = append(out, ms)
	}
	return out, nil
}
