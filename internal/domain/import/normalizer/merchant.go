// Package normalizer turns raw export cells into canonical values:
// signed decimal amounts, calendar dates, normalized descriptions and
// a best-effort merchant name.
package normalizer

import (
	"strings"
	"unicode/utf8"
)

const (
	DefaultMerchantSplitChars = "*#"
	DefaultMerchantMaxLength  = 50
)

// CleanDescription collapses runs of whitespace and trims the ends.
func CleanDescription(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// NormalizeDescription is the lowercased, whitespace-collapsed form used for fingerprints.
func NormalizeDescription(s string) string {
	return strings.ToLower(CleanDescription(s))
}

// DeriveMerchant truncates the description to maxLen runes and keeps the text
// before the first of splitChars. The result is best-effort: bank descriptions
// carry no reliable merchant boundary, so callers must not treat it as canonical.
func DeriveMerchant(description, splitChars string, maxLen int) string {
	s := CleanDescription(description)
	if maxLen > 0 && utf8.RuneCountInString(s) > maxLen {
		s = string([]rune(s)[:maxLen])
	}
	if splitChars != "" {
		if idx := strings.IndexAny(s, splitChars); idx >= 0 {
			s = s[:idx]
		}
	}
	return strings.TrimSpace(s)
}
