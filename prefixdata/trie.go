// Copyright 2026 The Solvstate Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package prefixdata

import (
	"github.com/armon/go-radix"

	"github.com/conda/solvstate/specs"
)

// Typed wrappers around radix trees so the rest of the package never type
// asserts. Only the operations we use are exposed.

type recordTrie struct {
	t *radix.Tree
}

func newRecordTrie() recordTrie {
	return recordTrie{t: radix.New()}
}

func (t recordTrie) Insert(name string, rec *specs.PackageRecord) {
	t.t.Insert(name, rec)
}

func (t recordTrie) Get(name string) (*specs.PackageRecord, bool) {
	if v, has := t.t.Get(name); has {
		return v.(*specs.PackageRecord), true
	}
	return nil, false
}

// WalkPrefix collects the records whose names start with prefix, in the
// tree's lexical order.
func (t recordTrie) WalkPrefix(prefix string) []*specs.PackageRecord {
	var out []*specs.PackageRecord
	t.t.WalkPrefix(prefix, func(_ string, v interface{}) bool {
		out = append(out, v.(*specs.PackageRecord))
		return false
	})
	return out
}

type recordSetTrie struct {
	t *radix.Tree
}

func newRecordSetTrie() recordSetTrie {
	return recordSetTrie{t: radix.New()}
}

func (t recordSetTrie) Append(name string, rec *specs.PackageRecord) {
	if v, has := t.t.Get(name); has {
		t.t.Insert(name, append(v.([]*specs.PackageRecord), rec))
		return
	}
	t.t.Insert(name, []*specs.PackageRecord{rec})
}

func (t recordSetTrie) Get(name string) ([]*specs.PackageRecord, bool) {
	if v, has := t.t.Get(name); has {
		return v.([]*specs.PackageRecord), true
	}
	return nil, false
}

func (t recordSetTrie) WalkPrefix(prefix string) []*specs.PackageRecord {
	var out []*specs.PackageRecord
	t.t.WalkPrefix(prefix, func(_ string, v interface{}) bool {
		out = append(out, v.([]*specs.PackageRecord)...)
		return false
	})
	return out
}
