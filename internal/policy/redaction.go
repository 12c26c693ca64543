// Package policy masks secrets and personal data in user text before it is
// rendered or logged.
package policy

import (
	"regexp"
	"strings"
)

var (
	emailPattern    = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	phonePattern    = regexp.MustCompile(`\+?[0-9][0-9\-() ]{7,}[0-9]`)
	cardPattern     = regexp.MustCompile(`\b(?:\d[ -]*?){13,19}\b`)
	passwordPattern = regexp.MustCompile(`(?i)\b(pswd|password|passwd|pw)(\s*[:=]\s*|\s+is\s+|\s+)(\S+)`)
)

// MaskPasswords replaces the value after a password marker ("pswd: x",
// "password=x", "pw is x") with asterisks of the same length.
func MaskPasswords(input string) string {
	return passwordPattern.ReplaceAllStringFunc(input, func(match string) string {
		parts := passwordPattern.FindStringSubmatch(match)
		if len(parts) != 4 {
			return match
		}
		return parts[1] + parts[2] + strings.Repeat("*", len([]rune(parts[3])))
	})
}

// RedactPII masks common high-risk PII patterns.
func RedactPII(input string) (redacted string, changed bool) {
	out := input

	next := emailPattern.ReplaceAllString(out, "[REDACTED_EMAIL]")
	changed = changed || next != out
	out = next

	// Card before phone, or long card numbers match the phone pattern.
	next = cardPattern.ReplaceAllString(out, "[REDACTED_CARD]")
	changed = changed || next != out
	out = next

	next = phonePattern.ReplaceAllString(out, "[REDACTED_PHONE]")
	changed = changed || next != out
	out = next

	return out, changed
}

// ForLog masks passwords and PII so user text can go to the process log.
func ForLog(input string) string {
	out, _ := RedactPII(MaskPasswords(input))
	return out
}
