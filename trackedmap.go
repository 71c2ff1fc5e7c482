// Copyright 2026 The Solvstate Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package solvstate

import (
	"fmt"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
)

// TrackedMap is a string-keyed map that logs every mutation, keeping an
// ordered history of the reasons applied to each key. Every mutable pool in
// a solve (specs, records, conflicts, history, neutered) is one of these:
// when a constraint ends up in a surprising state, the audit trail answers
// why.
//
// Insertion order carries no meaning; Keys returns names sorted so that
// iteration over a pool is deterministic.
type TrackedMap[V any] struct {
	name    string
	data    map[string]V
	reasons map[string][]string
	logger  *logrus.Logger
}

// NewTrackedMap creates an empty named map. A nil logger falls back to the
// logrus standard logger; audit records are emitted at debug level.
func NewTrackedMap[V any](name string, logger *logrus.Logger) *TrackedMap[V] {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &TrackedMap[V]{
		name:    name,
		data:    make(map[string]V),
		reasons: make(map[string][]string),
		logger:  logger,
	}
}

// Name returns the map's identifier, as used in audit records.
func (m *TrackedMap[V]) Name() string { return m.name }

func (m *TrackedMap[V]) set(key string, value V, reason string, overwrite bool) {
	old, existed := m.data[key]
	entry := m.logger.WithFields(logrus.Fields{
		"map":    m.name,
		"key":    key,
		"new":    fmt.Sprint(value),
		"reason": reason,
		"caller": callsite(),
	})

	if existed && !overwrite {
		entry.WithField("old", fmt.Sprint(old)).Debug("kept existing value (no overwrite)")
		return
	}

	if existed {
		entry = entry.WithField("old", fmt.Sprint(old))
	}
	m.data[key] = value
	if reason != "" {
		m.reasons[key] = append(m.reasons[key], reason)
	}
	entry.Debug("set")
}

// Set stores value under key, recording the reason.
func (m *TrackedMap[V]) Set(key string, value V, reason string) {
	m.set(key, value, reason, true)
}

// SetIfMissing stores value under key only if the key is absent. When the
// key exists the value is untouched, but the attempt is still logged.
func (m *TrackedMap[V]) SetIfMissing(key string, value V, reason string) {
	m.set(key, value, reason, false)
}

// Update stores every entry of data, recording the same reason for each.
func (m *TrackedMap[V]) Update(data map[string]V, reason string) {
	for _, key := range sortedKeys(data) {
		m.set(key, data[key], reason, true)
	}
}

// UpdateIfMissing is Update with SetIfMissing semantics per key.
func (m *TrackedMap[V]) UpdateIfMissing(data map[string]V, reason string) {
	for _, key := range sortedKeys(data) {
		m.set(key, data[key], reason, false)
	}
}

// Get returns the value for key, if present.
func (m *TrackedMap[V]) Get(key string) (V, bool) {
	v, ok := m.data[key]
	return v, ok
}

// Has reports whether key is present.
func (m *TrackedMap[V]) Has(key string) bool {
	_, ok := m.data[key]
	return ok
}

// Len returns the number of entries.
func (m *TrackedMap[V]) Len() int { return len(m.data) }

// Delete removes key. Removing an absent key is a logged no-op.
func (m *TrackedMap[V]) Delete(key string, reason string) {
	m.Pop(key, reason)
}

// Pop removes key and returns its value, reporting whether it was present.
// The reason is logged but not retained; a deleted key has no reasons.
func (m *TrackedMap[V]) Pop(key string, reason string) (V, bool) {
	v, ok := m.data[key]
	entry := m.logger.WithFields(logrus.Fields{
		"map":    m.name,
		"key":    key,
		"reason": reason,
		"caller": callsite(),
	})
	if !ok {
		entry.Debug("delete of absent key")
		return v, false
	}
	delete(m.data, key)
	delete(m.reasons, key)
	entry.WithField("old", fmt.Sprint(v)).Debug("deleted")
	return v, true
}

// Clear removes every entry, including all reason histories.
func (m *TrackedMap[V]) Clear(reason string) {
	m.logger.WithFields(logrus.Fields{
		"map":    m.name,
		"len":    len(m.data),
		"reason": reason,
		"caller": callsite(),
	}).Debug("cleared")
	m.data = make(map[string]V)
	m.reasons = make(map[string][]string)
}

// ReasonsFor returns the ordered reasons recorded for key, nil if the key
// was never set or has been deleted.
func (m *TrackedMap[V]) ReasonsFor(key string) []string {
	rs, ok := m.reasons[key]
	if !ok {
		return nil
	}
	return append([]string(nil), rs...)
}

// Keys returns the keys sorted.
func (m *TrackedMap[V]) Keys() []string {
	return sortedKeys(m.data)
}

// Values returns the values in key-sorted order.
func (m *TrackedMap[V]) Values() []V {
	keys := m.Keys()
	out := make([]V, len(keys))
	for i, k := range keys {
		out[i] = m.data[k]
	}
	return out
}

// AsMap returns a copy of the underlying data.
func (m *TrackedMap[V]) AsMap() map[string]V {
	out := make(map[string]V, len(m.data))
	for k, v := range m.data {
		out[k] = v
	}
	return out
}

// Copy returns an independent map sharing no mutable state with m: data,
// reason histories and name are copied, the logger is shared.
func (m *TrackedMap[V]) Copy() *TrackedMap[V] {
	c := &TrackedMap[V]{
		name:    m.name,
		data:    make(map[string]V, len(m.data)),
		reasons: make(map[string][]string, len(m.reasons)),
		logger:  m.logger,
	}
	for k, v := range m.data {
		c.data[k] = v
	}
	for k, rs := range m.reasons {
		c.reasons[k] = append([]string(nil), rs...)
	}
	return c
}

func sortedKeys[V any](data map[string]V) []string {
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// callsite names the file:line that triggered a mutation, skipping the
// TrackedMap frames themselves.
func callsite() string {
	for skip := 2; skip < 8; skip++ {
		pc, file, line, ok := runtime.Caller(skip)
		if !ok {
			break
		}
		fn := runtime.FuncForPC(pc)
		if fn == nil {
			break
		}
		if !strings.Contains(fn.Name(), "TrackedMap") {
			return fmt.Sprintf("%s:%d", filepath.Base(file), line)
		}
	}
	return "unknown"
}
