// Package utils provides shared utilities for text, math, and logging.
package utils

import (
	"strings"
	"unicode"
)

// Truncate returns s truncated to maxLen characters, with "..." appended if truncated.
// If maxLen is 0 or negative, returns s unchanged.
func Truncate(s string, maxLen int) string {
	if maxLen <= 0 || len(s) <= maxLen {
		return s
	}
	cut := maxLen
	for cut > 0 && !isRuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}

// FoldCase lowercases s for comparisons across Turkish and English text.
// Dotted capital I is folded to a plain "i" so that "İlk" and "ilk" compare equal.
func FoldCase(s string) string {
	s = strings.ReplaceAll(s, "İ", "i")
	return strings.ToLower(s)
}

// WordCount returns the number of whitespace-separated words in s.
func WordCount(s string) int {
	return len(strings.Fields(s))
}

// Tokens splits s into case-folded words made of letters and digits.
func Tokens(s string) []string {
	return strings.FieldsFunc(FoldCase(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// NormalizeQuery folds case, strips surrounding punctuation from each word,
// and collapses whitespace. Used to key caches on user queries.
func NormalizeQuery(q string) string {
	fields := strings.Fields(FoldCase(q))
	out := fields[:0]
	for _, f := range fields {
		f = strings.TrimFunc(f, func(r rune) bool {
			return unicode.IsPunct(r) || unicode.IsSymbol(r)
		})
		if f != "" {
			out = append(out, f)
		}
	}
	return strings.Join(out, " ")
}
