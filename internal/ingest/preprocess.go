package ingest

import "strings"

// Preprocess normalizes line endings, drops a byte order mark, and trims
// trailing whitespace. Blank lines are kept because the chunker reads them as
// paragraph breaks.
func Preprocess(text string) string {
	text = strings.TrimPrefix(text, "\ufeff")
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	return strings.TrimRight(text, " \t\n")
}
