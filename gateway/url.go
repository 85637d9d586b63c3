// SPDX-FileCopyrightText: 2025 Exedra Development, S.L.
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"regexp"
	"strings"
)

var duplicateSlashes = regexp.MustCompile(`/{2,}`)

// JoinURL joins URL fragments with single slashes, dropping empty parts
// (an absent route version contributes no segment) and preserving the
// scheme separator.
func JoinURL(parts ...string) string {
	kept := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	joined := duplicateSlashes.ReplaceAllString(strings.Join(kept, "/"), "/")
	return strings.Replace(joined, ":/", "://", 1)
}

// EnsureLeadingSlash normalizes an endpoint path.
func EnsureLeadingSlash(path string) string {
	if path == "" {
		return "/"
	}
	if strings.HasPrefix(path, "/") {
		return path
	}
	return "/" + path
}
