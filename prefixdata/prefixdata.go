// Copyright 2026 The Solvstate Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package prefixdata provides in-memory implementations of the store
// collaborators the solver core consumes: the installed-record view of a
// prefix, the requested-spec history, and a candidate index. Persistence of
// any of these belongs to the caller.
package prefixdata

import (
	"sort"

	"github.com/conda/solvstate/specs"
)

// PrefixData holds the installed records of one environment, indexed by
// name. At most one record per name.
type PrefixData struct {
	records map[string]*specs.PackageRecord
	names   recordTrie
	env     bool
}

// New builds a PrefixData from records. Later duplicates by name win, as a
// store reading a prefix front to back would behave.
func New(records ...*specs.PackageRecord) *PrefixData {
	pd := &PrefixData{
		records: make(map[string]*specs.PackageRecord, len(records)),
		names:   newRecordTrie(),
		env:     true,
	}
	for _, rec := range records {
		pd.records[rec.Name] = rec
		pd.names.Insert(rec.Name, rec)
	}
	return pd
}

// Installed returns a copy of the name→record view. Mutating the returned
// map does not affect the store.
func (pd *PrefixData) Installed() map[string]*specs.PackageRecord {
	out := make(map[string]*specs.PackageRecord, len(pd.records))
	for name, rec := range pd.records {
		out[name] = rec
	}
	return out
}

// IsEnvironment reports whether the prefix is a real environment.
func (pd *PrefixData) IsEnvironment() bool { return pd.env }

// Get returns the installed record for name, if any.
func (pd *PrefixData) Get(name string) (*specs.PackageRecord, bool) {
	rec, ok := pd.records[name]
	return rec, ok
}

// Query returns the installed records matching spec, sorted by name.
// Prefix-glob names walk the radix index instead of the whole store.
func (pd *PrefixData) Query(spec specs.MatchSpec) []*specs.PackageRecord {
	var out []*specs.PackageRecord
	if prefix, ok := spec.NamePrefix(); ok {
		for _, rec := range pd.names.WalkPrefix(prefix) {
			if spec.Match(rec) {
				out = append(out, rec)
			}
		}
	} else if rec, ok := pd.records[spec.Name()]; ok && spec.Match(rec) {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// History is an in-memory requested-spec history.
type History struct {
	requested map[string]specs.MatchSpec
}

// NewHistory builds a History from previously requested specs.
func NewHistory(requested map[string]specs.MatchSpec) *History {
	h := &History{requested: make(map[string]specs.MatchSpec, len(requested))}
	for name, ms := range requested {
		h.requested[name] = ms
	}
	return h
}

// PreviouslyRequested returns a copy of the name→spec history.
func (h *History) PreviouslyRequested() map[string]specs.MatchSpec {
	out := make(map[string]specs.MatchSpec, len(h.requested))
	for name, ms := range h.requested {
		out[name] = ms
	}
	return out
}
