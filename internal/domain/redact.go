// Copyright (c) 2025, the seedarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package domain

const redactedValue = "********"

// RedactString replaces a stored secret with a placeholder for API responses.
// Empty secrets stay empty so the UI can tell "not set" from "set".
func RedactString(s string) string {
	if s == "" {
		return ""
	}
	return redactedValue
}

// IsRedactedString reports whether the value is the redaction placeholder,
// meaning the client echoed our output back and the secret must not change.
func IsRedactedString(s string) bool {
	return s == redactedValue
}
