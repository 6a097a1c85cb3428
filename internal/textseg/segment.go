// Package textseg splits Turkish and English educational text into sentence
// and structural units. Boundaries never fall inside abbreviations, decimal
// numbers, or quoted spans, and structural markers (headings, list items,
// code fences, block quotes, paragraph breaks) always produce a boundary.
package textseg

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// BoundaryKind describes why a unit ends where it does.
type BoundaryKind int

const (
	SentenceEnd BoundaryKind = iota
	Heading
	ListItem
	CodeFence
	Quote
	ParagraphBreak
	DocumentEnd
)

var boundaryNames = [...]string{"sentence_end", "heading", "list_item", "code_fence", "quote", "paragraph_break", "document_end"}

func (k BoundaryKind) String() string {
	if int(k) < len(boundaryNames) {
		return boundaryNames[k]
	}
	return "unknown"
}

// Structural reports whether the boundary comes from document structure
// rather than sentence punctuation.
func (k BoundaryKind) Structural() bool {
	return k != SentenceEnd
}

// Boundary is a cut position in the source text. Offset is the byte offset at
// which the next unit begins.
type Boundary struct {
	Offset int          `json:"offset"`
	Kind   BoundaryKind `json:"kind"`
}

// UnitKind classifies the content of a unit.
type UnitKind int

const (
	UnitProse UnitKind = iota
	UnitHeading
	UnitListItem
	UnitCode
	UnitQuote
)

// Unit is a sentence or an indivisible structural element. Units tile the
// source: each unit starts where the previous one ended, and trailing
// whitespace belongs to the unit it follows.
type Unit struct {
	Start int
	End   int
	Kind  UnitKind
	// Terminated is true when the unit ends a sentence or is a self-contained
	// structural element.
	Terminated bool
	// BlankLinesAfter counts blank lines absorbed at the end of the unit.
	BlankLinesAfter int
	// ListID groups consecutive list items; zero for non-list units.
	ListID int
}

// Len returns the unit length in bytes.
func (u Unit) Len() int { return u.End - u.Start }

// Text returns the unit's slice of src.
func (u Unit) Text(src string) string { return src[u.Start:u.End] }

var (
	headingRe = regexp.MustCompile(`^ {0,3}#{1,6}(\s|$)`)
	listRe    = regexp.MustCompile(`^[ \t]*([-*+•]|\d{1,3}[.)])[ \t]+\S`)
	fenceRe   = regexp.MustCompile("^ {0,3}(```|~~~)")
	quoteRe   = regexp.MustCompile(`^ {0,3}>`)
)

type lineKind int

const (
	lineText lineKind = iota
	lineBlank
	lineHeading
	lineList
	lineFence
	lineQuote
)

type line struct {
	start, end, next int
}

func splitLines(text string) []line {
	var lines []line
	start := 0
	for start < len(text) {
		nl := strings.IndexByte(text[start:], '\n')
		if nl < 0 {
			lines = append(lines, line{start, len(text), len(text)})
			break
		}
		end := start + nl
		lines = append(lines, line{start, end, end + 1})
		start = end + 1
	}
	return lines
}

func classify(content string) lineKind {
	switch {
	case strings.TrimSpace(content) == "":
		return lineBlank
	case fenceRe.MatchString(content):
		return lineFence
	case headingRe.MatchString(content):
		return lineHeading
	case listRe.MatchString(content):
		return lineList
	case quoteRe.MatchString(content):
		return lineQuote
	}
	return lineText
}

type scanner struct {
	text  string
	units []Unit
	lists int
}

func (s *scanner) add(u Unit) {
	if len(s.units) == 0 {
		u.Start = 0
	}
	if u.Kind == UnitListItem {
		if n := len(s.units); n > 0 && s.units[n-1].Kind == UnitListItem {
			u.ListID = s.units[n-1].ListID
		} else {
			s.lists++
			u.ListID = s.lists
		}
	}
	s.units = append(s.units, u)
}

func (s *scanner) blank(ln line) {
	if n := len(s.units); n > 0 {
		s.units[n-1].End = ln.next
		s.units[n-1].BlankLinesAfter++
	}
}

func (s *scanner) addSentences(start, end int, kind UnitKind) {
	prev := start
	for _, cut := range sentenceEnds(s.text, start, end) {
		s.add(Unit{Start: prev, End: cut, Kind: kind, Terminated: true})
		prev = cut
	}
	s.add(Unit{Start: prev, End: end, Kind: kind, Terminated: endsTerminal(s.text[prev:end])})
}

// Segment splits text into units. Whitespace-only text yields no units.
func Segment(text string) []Unit {
	lines := splitLines(text)
	s := &scanner{text: text}
	kindOf := func(i int) lineKind {
		return classify(text[lines[i].start:lines[i].end])
	}

	for i := 0; i < len(lines); {
		ln := lines[i]
		switch kindOf(i) {
		case lineBlank:
			s.blank(ln)
			i++
		case lineFence:
			marker := strings.TrimSpace(text[ln.start:ln.end])[:3]
			j := i + 1
			for j < len(lines) && !strings.HasPrefix(strings.TrimSpace(text[lines[j].start:lines[j].end]), marker) {
				j++
			}
			if j >= len(lines) {
				j = len(lines) - 1
			}
			s.add(Unit{Start: ln.start, End: lines[j].next, Kind: UnitCode, Terminated: true})
			i = j + 1
		case lineHeading:
			s.add(Unit{Start: ln.start, End: ln.next, Kind: UnitHeading, Terminated: true})
			i++
		case lineList:
			j := i + 1
			for j < len(lines) && kindOf(j) == lineText {
				j++
			}
			s.add(Unit{Start: ln.start, End: lines[j-1].next, Kind: UnitListItem, Terminated: true})
			i = j
		case lineQuote:
			j := i + 1
			for j < len(lines) && kindOf(j) == lineQuote {
				j++
			}
			s.addSentences(ln.start, lines[j-1].next, UnitQuote)
			i = j
		default:
			j := i + 1
			for j < len(lines) && kindOf(j) == lineText {
				j++
			}
			s.addSentences(ln.start, lines[j-1].next, UnitProse)
			i = j
		}
	}
	return s.units
}

// Detect returns the boundaries of text in offset order. Each boundary marks
// the end of one unit; the final boundary is always DocumentEnd at len(text).
func Detect(text string) []Boundary {
	return Boundaries(Segment(text))
}

// Boundaries derives boundary kinds from a unit sequence.
func Boundaries(units []Unit) []Boundary {
	out := make([]Boundary, 0, len(units))
	for i, u := range units {
		b := Boundary{Offset: u.End, Kind: SentenceEnd}
		if i == len(units)-1 {
			b.Kind = DocumentEnd
		} else {
			b.Kind = boundaryBetween(u, units[i+1])
		}
		out = append(out, b)
	}
	return out
}

func boundaryBetween(prev, next Unit) BoundaryKind {
	switch {
	case next.Kind == UnitHeading || prev.Kind == UnitHeading:
		return Heading
	case next.Kind == UnitCode || prev.Kind == UnitCode:
		return CodeFence
	case next.Kind == UnitListItem:
		return ListItem
	case (next.Kind == UnitQuote) != (prev.Kind == UnitQuote):
		return Quote
	case prev.BlankLinesAfter > 0:
		return ParagraphBreak
	case prev.Kind == UnitListItem:
		return ListItem
	}
	return SentenceEnd
}

func isTerminal(r rune) bool {
	return r == '.' || r == '!' || r == '?' || r == '…'
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

func firstRune(s string) rune {
	r, _ := utf8.DecodeRuneInString(s)
	return r
}

func isCloser(r rune) bool {
	return r == ')' || r == ']' || r == '’' || r == '\'' || r == '”' || r == '»'
}

// sentenceEnds returns offsets inside (start, end) where a new sentence begins.
// Terminal punctuation inside quotation marks does not end a sentence.
func sentenceEnds(text string, start, end int) []int {
	return sentenceCuts(text, start, end, true)
}

// SentenceCuts returns the offsets inside (start, end) where a new sentence
// begins. With ignoreQuotes set, quotation marks are treated as plain closers,
// so an unbalanced quote cannot hide the rest of the block.
func SentenceCuts(text string, start, end int, ignoreQuotes bool) []int {
	return sentenceCuts(text, start, end, !ignoreQuotes)
}

func sentenceCuts(text string, start, end int, quotes bool) []int {
	var cuts []int
	inQuote := false
	for i := start; i < end; {
		r, size := utf8.DecodeRuneInString(text[i:])
		if quotes {
			switch r {
			case '"':
				inQuote = !inQuote
			case '“', '«':
				inQuote = true
			case '”', '»':
				inQuote = false
			}
		}
		if !isTerminal(r) {
			i += size
			continue
		}

		runStart := i
		j := i
		for j < end {
			r2, s2 := utf8.DecodeRuneInString(text[j:])
			if !isTerminal(r2) {
				break
			}
			j += s2
		}
		punct := text[runStart:j]
		for j < end {
			r2, s2 := utf8.DecodeRuneInString(text[j:])
			if r2 == '"' && (inQuote || !quotes) {
				inQuote = false
			} else if r2 == '”' || r2 == '»' {
				inQuote = false
			} else if !isCloser(r2) {
				break
			}
			j += s2
		}
		i = j
		if inQuote || j >= end || !unicode.IsSpace(firstRune(text[j:])) {
			continue
		}

		k := j
		for k < end {
			r2, s2 := utf8.DecodeRuneInString(text[k:])
			if !unicode.IsSpace(r2) {
				break
			}
			k += s2
		}
		if k >= end || suppressed(text, start, runStart, punct, firstRune(text[k:])) {
			continue
		}
		cuts = append(cuts, k)
	}
	return cuts
}

// suppressed reports whether the terminal punctuation at runStart does not
// end a sentence.
func suppressed(text string, blockStart, runStart int, punct string, next rune) bool {
	ellipsis := punct == "…" || strings.Count(punct, ".") == len(punct) && len(punct) == 3
	if (punct == "." || ellipsis) && unicode.IsLower(next) {
		return true
	}
	if punct != "." {
		return false
	}

	token := tokenBefore(text[blockStart:runStart])
	if token == "" {
		return false
	}
	return abbreviatedToken(token) || isDigits(token)
}

// tokenBefore returns the word that ends s, without any opening bracket or
// quote in front of it.
func tokenBefore(s string) string {
	tokStart := len(s)
	for tokStart > 0 {
		r, size := utf8.DecodeLastRuneInString(s[:tokStart])
		if unicode.IsSpace(r) || strings.ContainsRune(`("“«[`, r) {
			break
		}
		tokStart -= size
	}
	return s[tokStart:]
}

// abbreviatedToken reports whether a period after token marks an abbreviation
// or an initial rather than the end of a sentence.
func abbreviatedToken(token string) bool {
	if IsAbbreviation(token) {
		return true
	}
	return utf8.RuneCountInString(token) == 1 && unicode.IsUpper(firstRune(token))
}

// EndsWithAbbreviation reports whether s, ignoring trailing whitespace, ends
// with the period of an abbreviation or an initial such as "Dr." or "A.".
func EndsWithAbbreviation(s string) bool {
	s = strings.TrimRightFunc(s, unicode.IsSpace)
	if !strings.HasSuffix(s, ".") {
		return false
	}
	token := tokenBefore(s[:len(s)-1])
	return token != "" && abbreviatedToken(token)
}

func isDigits(s string) bool {
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return s != ""
}

// endsTerminal reports whether s, ignoring trailing whitespace and closing
// quotes or brackets, ends with sentence-final punctuation.
func endsTerminal(s string) bool {
	s = strings.TrimRightFunc(s, func(r rune) bool {
		return unicode.IsSpace(r) || isCloser(r) || r == '"'
	})
	if s == "" {
		return false
	}
	r, _ := utf8.DecodeLastRuneInString(s)
	return isTerminal(r)
}
