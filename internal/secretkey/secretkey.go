// Package secretkey decides whether a field name denotes secret material.
// It is shared by the audit recorder and the log redactor so that both
// strip the same fields.
package secretkey

import "strings"

// Redacted replaces the value of every sensitive field.
const Redacted = "[REDACTED]"

// markers are matched as case-insensitive substrings of a field name.
var markers = []string{
	"key",
	"password",
	"secret",
	"token",
	"mnemonic",
	"seed",
	"private",
	"credential",
	"authorization",
}

// IsSensitive reports whether name looks like a secret-bearing field.
func IsSensitive(name string) bool {
	lower := strings.ToLower(name)
	for _, m := range markers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}
