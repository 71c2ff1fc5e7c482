// Copyright 2026 The Solvstate Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package specs

import (
	"strings"

	"github.com/Masterminds/semver"
)

// MajorMinor returns the "major.minor" portion of a version string, or the
// string itself if it has fewer than two dotted components.
func MajorMinor(version string) string {
	parts := strings.SplitN(version, ".", 3)
	if len(parts) < 2 {
		return version
	}
	return parts[0] + "." + parts[1]
}

// CompareVersions orders two version strings. Semver ordering is used when
// both sides parse; otherwise it falls back to lexicographic comparison,
// which at least yields a stable total order for exotic schemes.
func CompareVersions(a, b string) int {
	av, errA := semver.NewVersion(a)
	bv, errB := semver.NewVersion(b)
	if errA == nil && errB == nil {
		return av.Compare(bv)
	}
	return strings.Compare(a, b)
}
