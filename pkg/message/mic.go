// Copyright (c) 2025 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

package message

import "strings"

// NormalizeMIC returns a MIC value in the form "<base64>, <algorithm>" with
// the algorithm in canonical form, so values produced by different
// implementations compare equal. Unparsable input is returned trimmed.
func NormalizeMIC(mic string) string {
	digest, alg, ok := strings.Cut(mic, ",")
	if !ok {
		return strings.TrimSpace(mic)
	}
	digest = strings.TrimSpace(digest)
	if canonical, err := NormalizeDigest(alg); err == nil {
		alg = canonical
	} else {
		alg = strings.ToLower(strings.TrimSpace(alg))
	}
	return digest + ", " + alg
}

// EqualMIC reports whether two MIC values denote the same digest.
func EqualMIC(a, b string) bool {
	return a != "" && NormalizeMIC(a) == NormalizeMIC(b)
}
