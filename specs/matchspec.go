// Copyright 2026 The Solvstate Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package specs provides the package query language used throughout
// solvstate: MatchSpec values describe which packages a caller wants, and
// PackageRecord values describe concrete installed or installable packages.
package specs

import (
	"strings"

	"github.com/Masterminds/semver"
	"github.com/pkg/errors"
)

// Strictness levels, ordered. A spec constraining more components of a
// record is stricter than one constraining fewer.
const (
	StrictnessName    = 1
	StrictnessVersion = 2
	StrictnessBuild   = 3
)

// MatchSpec is a predicate over package records: a name, an optional version
// predicate and an optional exact build string. Two additional fields steer
// the solver without constraining matches: target is a soft preference
// toward a specific already-resolved build (its dist string), and optional
// marks the whole spec as droppable if it gets in the solver's way.
//
// MatchSpec is a value type; the With* methods return modified copies.
type MatchSpec struct {
	name     string
	version  string
	build    string
	target   string
	optional bool
}

// Bare returns a spec that matches every record with the given name.
func Bare(name string) MatchSpec {
	return MatchSpec{name: name}
}

// Parse builds a MatchSpec from a spec string. Accepted forms:
//
//	numpy
//	numpy>=1.22
//	numpy >=1.21,<1.23
//	numpy 1.21.0
//	python 3.9.*
//	numpy 1.21.0 py39_0
//
// A "==" operator is accepted as an alias for exact equality.
func Parse(s string) (MatchSpec, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return MatchSpec{}, errors.New("empty spec string")
	}

	i := strings.IndexAny(s, " =<>!~")
	if i == -1 {
		return MatchSpec{name: s}, nil
	}

	name := strings.TrimSpace(s[:i])
	if name == "" {
		return MatchSpec{}, errors.Errorf("spec %q has no package name", s)
	}
	rest := strings.TrimSpace(s[i:])
	rest = strings.TrimPrefix(rest, "= ") // "name = ver" normalizes to "name ver"

	ms := MatchSpec{name: name}

	// A build string can only follow a version, separated by whitespace, and
	// never contains constraint operators or commas.
	fields := strings.Fields(rest)
	switch len(fields) {
	case 1:
		ms.version = fields[0]
	case 2:
		if strings.ContainsAny(fields[1], "=<>!~,") {
			// something like "name >= 1.2" with a stray space
			ms.version = fields[0] + fields[1]
		} else {
			ms.version = fields[0]
			ms.build = fields[1]
		}
	default:
		// collapse internal whitespace in the version expression
		ms.version = strings.Join(fields, "")
	}

	ms.version = strings.TrimPrefix(ms.version, "==")
	if strings.ContainsAny(ms.version, "<>!~") || strings.Contains(ms.version, ",") {
		norm := normalizeConstraint(ms.version)
		if _, err := semver.NewConstraint(norm); err != nil {
			return MatchSpec{}, errors.Wrapf(err, "invalid version predicate %q in spec %q", ms.version, s)
		}
	}
	return ms, nil
}

// MustParse is Parse for statically known inputs; it panics on error.
func MustParse(s string) MatchSpec {
	ms, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return ms
}

func (ms MatchSpec) Name() string     { return ms.name }
func (ms MatchSpec) Version() string  { return ms.version }
func (ms MatchSpec) Build() string    { return ms.build }
func (ms MatchSpec) Target() string   { return ms.target }
func (ms MatchSpec) Optional() bool   { return ms.optional }
func (ms MatchSpec) HasVersion() bool { return ms.version != "" }

// Strictness orders specs by how many record components they constrain.
func (ms MatchSpec) Strictness() int {
	switch {
	case ms.build != "":
		return StrictnessBuild
	case ms.version != "":
		return StrictnessVersion
	default:
		return StrictnessName
	}
}

// WithTarget returns a copy preferring the record identified by dist.
func (ms MatchSpec) WithTarget(dist string) MatchSpec {
	ms.target = dist
	return ms
}

// WithoutTarget returns a copy with any soft preference removed.
func (ms MatchSpec) WithoutTarget() MatchSpec {
	ms.target = ""
	return ms
}

// WithOptional returns a copy with the optional flag set as given.
func (ms MatchSpec) WithOptional(optional bool) MatchSpec {
	ms.optional = optional
	return ms
}

// WithVersion returns a copy with the version predicate replaced.
func (ms MatchSpec) WithVersion(version string) MatchSpec {
	ms.version = version
	return ms
}

// NamePrefix reports whether the spec name is a trailing-glob pattern
// (e.g. "pytorch-*") and, if so, returns the literal prefix.
func (ms MatchSpec) NamePrefix() (string, bool) {
	if strings.HasSuffix(ms.name, "*") {
		return strings.TrimSuffix(ms.name, "*"), true
	}
	return "", false
}

// Match reports whether the record satisfies the spec. The target and
// optional fields never participate in matching.
func (ms MatchSpec) Match(rec *PackageRecord) bool {
	if rec == nil {
		return false
	}
	if prefix, ok := ms.NamePrefix(); ok {
		if !strings.HasPrefix(rec.Name, prefix) {
			return false
		}
	} else if ms.name != rec.Name {
		return false
	}
	if !ms.MatchVersion(rec.Version) {
		return false
	}
	if ms.build != "" && ms.build != rec.Build {
		return false
	}
	return true
}

// MatchVersion evaluates only the version predicate against a concrete
// version string.
func (ms MatchSpec) MatchVersion(version string) bool {
	pred := ms.version
	switch {
	case pred == "" || pred == "*":
		return true
	case strings.HasSuffix(pred, ".*") && !strings.ContainsAny(pred, "=<>!~,"):
		base := strings.TrimSuffix(pred, ".*")
		return version == base || strings.HasPrefix(version, base+".")
	case strings.ContainsAny(pred, "=<>!~") || strings.Contains(pred, ","):
		cons, err := semver.NewConstraint(normalizeConstraint(pred))
		if err != nil {
			return false
		}
		v, err := semver.NewVersion(version)
		if err != nil {
			// not semver-orderable; only exact comparisons can succeed
			return strings.TrimLeft(pred, "=") == version
		}
		return cons.Check(v)
	default:
		if pred == version {
			return true
		}
		// "1.21" should match "1.21.0"
		pv, err1 := semver.NewVersion(pred)
		vv, err2 := semver.NewVersion(version)
		return err1 == nil && err2 == nil && pv.Equal(vv)
	}
}

// String renders the spec in the same form Parse accepts.
func (ms MatchSpec) String() string {
	var b strings.Builder
	b.WriteString(ms.name)
	if ms.version != "" {
		b.WriteByte(' ')
		b.WriteString(ms.version)
	}
	if ms.build != "" {
		b.WriteByte(' ')
		b.WriteString(ms.build)
	}
	return b.String()
}

// normalizeConstraint rewrites conda-flavored operators into the range
// syntax the semver library understands.
func normalizeConstraint(pred string) string {
	parts := strings.Split(pred, ",")
	for i, p := range parts {
		p = strings.TrimSpace(p)
		if strings.HasPrefix(p, "==") {
			p = "=" + strings.TrimPrefix(p, "==")
		}
		parts[i] = p
	}
	return strings.Join(parts, ", ")
}
