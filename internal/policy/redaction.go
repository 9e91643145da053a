// Package policy masks personal data before it reaches logs or the action log.
package policy

import (
	"regexp"
	"strings"
)

var (
	emailPattern = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	// Spoken form, as it arrives from recognition: "john at gmail dot com".
	spokenEmailPattern = regexp.MustCompile(`(?i)\b[a-z0-9._\-]+ at [a-z0-9\-]+(?: dot [a-z0-9\-]+)+\b`)
	phonePattern       = regexp.MustCompile(`\+?[0-9][0-9\-() ]{7,}[0-9]`)
	cardPattern        = regexp.MustCompile(`\b(?:\d[ -]*?){13,19}\b`)
	expiryPattern      = regexp.MustCompile(`\b(?:0[1-9]|1[0-2])/\d{2}\b`)
)

// RedactPII masks common high-risk PII patterns.
func RedactPII(input string) (redacted string, changed bool) {
	out := input
	replace := func(re *regexp.Regexp, marker string) {
		next := re.ReplaceAllString(out, marker)
		changed = changed || next != out
		out = next
	}

	replace(emailPattern, "[REDACTED_EMAIL]")
	replace(spokenEmailPattern, "[REDACTED_EMAIL]")
	// Card before phone, otherwise card numbers read as phone numbers.
	replace(cardPattern, "[REDACTED_CARD]")
	replace(phonePattern, "[REDACTED_PHONE]")
	replace(expiryPattern, "[REDACTED_EXPIRY]")

	return out, changed
}

// Redact is RedactPII without the change flag.
func Redact(input string) string {
	out, _ := RedactPII(input)
	return out
}

// MaskValue hides a single collected value, keeping only a short suffix
// for card-like values so logs stay correlatable.
func MaskValue(field, value string) string {
	if value == "" {
		return ""
	}
	switch strings.ToLower(field) {
	case "cardnumber":
		digits := strings.ReplaceAll(value, " ", "")
		if len(digits) >= 4 {
			return "****" + digits[len(digits)-4:]
		}
		return "****"
	case "cvv", "expirydate":
		return "***"
	case "name", "cardname":
		return string([]rune(value)[:1]) + "***"
	default:
		return "[REDACTED]"
	}
}
