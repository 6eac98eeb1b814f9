// Copyright (c) 2025, the dionysus contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package domain

import "strings"

const redactedPlaceholder = "<redacted>"

// RedactString hides a secret while keeping a short hint of its tail.
func RedactString(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return redactedPlaceholder
	}
	return redactedPlaceholder + s[len(s)-4:]
}

// IsRedactedString reports whether s came from RedactString.
func IsRedactedString(s string) bool {
	return strings.HasPrefix(s, redactedPlaceholder)
}
