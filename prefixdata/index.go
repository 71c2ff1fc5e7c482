// Copyright 2026 The Solvstate Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package prefixdata

import (
	"sort"

	"github.com/conda/solvstate/specs"
)

// Index is an in-memory candidate index: unlike PrefixData, it can hold
// many records per name (one per version/build). Backends and the pin
// overlap check both consume it.
type Index struct {
	byName recordSetTrie
	names  []string
}

// NewIndex builds an index from candidate records.
func NewIndex(records ...*specs.PackageRecord) *Index {
	idx := &Index{byName: newRecordSetTrie()}
	seen := make(map[string]bool, len(records))
	for _, rec := range records {
		idx.byName.Append(rec.Name, rec)
		if !seen[rec.Name] {
			seen[rec.Name] = true
			idx.names = append(idx.names, rec.Name)
		}
	}
	sort.Strings(idx.names)
	return idx
}

// Names returns the distinct package names in the index, sorted.
func (idx *Index) Names() []string {
	return append([]string(nil), idx.names...)
}

// Candidates returns every record for name, sorted oldest version first.
func (idx *Index) Candidates(name string) []*specs.PackageRecord {
	recs, _ := idx.byName.Get(name)
	out := append([]*specs.PackageRecord(nil), recs...)
	sort.Slice(out, func(i, j int) bool {
		if c := specs.CompareVersions(out[i].Version, out[j].Version); c != 0 {
			return c < 0
		}
		return out[i].BuildNumber < out[j].BuildNumber
	})
	return out
}

// FindMatches returns every candidate record matching spec, sorted by name
// then version.
func (idx *Index) FindMatches(spec specs.MatchSpec) []*specs.PackageRecord {
	var pool []*specs.PackageRecord
	if prefix, ok := spec.NamePrefix(); ok {
		pool = idx.byName.WalkPrefix(prefix)
	} else {
		pool, _ = idx.byName.Get(spec.Name())
	}
	var out []*specs.PackageRecord
	for _, rec := range pool {
		if spec.Match(rec) {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		if c := specs.CompareVersions(out[i].Version, out[j].Version); c != 0 {
			return c < 0
		}
		return out[i].BuildNumber < out[j].BuildNumber
	})
	return out
}
