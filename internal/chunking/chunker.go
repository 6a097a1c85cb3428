// Package chunking splits documents into sentence-aligned, overlapping chunks
// and scores each chunk on five quality dimensions.
package chunking

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/hyperjump/bilgi/internal/ids"
	"github.com/hyperjump/bilgi/internal/models"
	"github.com/hyperjump/bilgi/internal/textseg"
)

// Chunker splits text into semantic chunks.
type Chunker struct {
	opts      Options
	validator *Validator
	logger    *zap.Logger
}

// Option configures a Chunker.
type Option func(*Chunker)

// WithLogger sets the logger for the chunker.
func WithLogger(l *zap.Logger) Option {
	return func(c *Chunker) {
		c.logger = l
	}
}

// NewChunker creates a chunker. Options must pass Validate.
func NewChunker(opts Options, copts ...Option) (*Chunker, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	opts = opts.withDefaults()
	c := &Chunker{
		opts:      opts,
		validator: NewValidator(opts),
		logger:    zap.NewNop(),
	}
	for _, o := range copts {
		o(c)
	}
	return c, nil
}

// Options returns the chunker's options.
func (c *Chunker) Options() Options { return c.opts }

// Validator returns the chunk quality validator.
func (c *Chunker) Validator() *Validator { return c.validator }

// Chunk is a convenience wrapper around NewChunker and (*Chunker).Chunk.
func Chunk(docID, text string, opts Options) ([]*models.Chunk, error) {
	c, err := NewChunker(opts)
	if err != nil {
		return nil, err
	}
	return c.Chunk(docID, text), nil
}

// Chunk splits text into chunks. Whitespace-only text yields nil. Chunks below
// the minimum quality are re-chunked once with stricter break rules; any that
// still fall short are kept and flagged LowQuality.
func (c *Chunker) Chunk(docID, text string) []*models.Chunk {
	units := splitOversized(text, textseg.Segment(text), c.opts.HardMax)
	if len(units) == 0 {
		return nil
	}
	p := &packer{opts: c.opts, text: text, units: units, lens: unitLengths(text, units)}

	spans := p.pack(0, len(units), 0, false)
	final := make([]span, 0, len(spans))
	for _, sp := range spans {
		b := c.validator.evaluate(text, units, sp)
		score := Score(b)
		if score >= c.opts.MinQuality {
			final = append(final, sp)
			continue
		}
		sub := p.pack(sp.from, sp.to, sp.start, true)
		if len(sub) > 1 && c.improves(text, units, sub, score) {
			c.logger.Debug("re-chunked low quality span",
				zap.String("document_id", docID),
				zap.Float64("score", score),
				zap.Int("parts", len(sub)))
			final = append(final, sub...)
			continue
		}
		final = append(final, sp)
	}

	chunks := make([]*models.Chunk, 0, len(final))
	for i, sp := range final {
		b := c.validator.evaluate(text, units, sp)
		score := Score(b)
		end := units[sp.to-1].End
		ch := &models.Chunk{
			ID:           ids.ChunkID(docID, i),
			DocumentID:   docID,
			Index:        i,
			Text:         text[sp.start:end],
			CharStart:    sp.start,
			CharEnd:      end,
			OverlapLen:   units[sp.from].Start - sp.start,
			QualityScore: score,
			Quality:      b,
			LowQuality:   score < c.opts.MinQuality,
		}
		if ch.LowQuality {
			c.logger.Warn("chunk below minimum quality",
				zap.String("document_id", docID),
				zap.Int("chunk_index", i),
				zap.Float64("score", score))
		}
		chunks = append(chunks, ch)
	}
	return chunks
}

// improves reports whether the re-packed spans replace a span that scored
// score: either all of them reach the minimum or their mean beats score.
func (c *Chunker) improves(text string, units []textseg.Unit, spans []span, score float64) bool {
	var sum float64
	passing := true
	for _, sp := range spans {
		s := Score(c.validator.evaluate(text, units, sp))
		sum += s
		passing = passing && s >= c.opts.MinQuality
	}
	return passing || sum/float64(len(spans)) > score
}

// Reconstruct concatenates chunks with their overlaps removed. For chunks that
// were not rewritten by an LLM this reproduces the source text exactly.
func Reconstruct(chunks []*models.Chunk) string {
	var b strings.Builder
	for _, ch := range chunks {
		b.WriteString(ch.Body())
	}
	return b.String()
}

type packer struct {
	opts  Options
	text  string
	units []textseg.Unit
	lens  []int
}

// pack greedily groups units[from:to] into spans. The first span begins at
// start, which may precede units[from] by an overlap. strict breaks at every
// structural marker regardless of TargetMin.
func (p *packer) pack(from, to, start int, strict bool) []span {
	var spans []span
	i := from
	for i < to {
		sp := span{from: i, start: start}
		size := p.runes(start, p.units[i].Start) + p.lens[i]
		if sp.start < p.units[i].Start && size > p.opts.HardMax {
			sp.start = p.units[i].Start
			size = p.lens[i]
		}

		softCut, hardCut := -1, -1
		j := i + 1
		if p.canBreak(j) {
			softCut = j
		}
		if p.canForce(j) {
			hardCut = j
		}
		for j < to {
			if p.canBreak(j) && ((strict && p.marker(j)) || (size >= p.opts.TargetMin && p.shouldBreak(j, size))) {
				break
			}
			if size+p.lens[j] > p.opts.HardMax {
				switch {
				case softCut > i:
					j = softCut
				case hardCut > i:
					j = hardCut
				}
				break
			}
			size += p.lens[j]
			j++
			if p.canBreak(j) {
				softCut = j
			}
			if p.canForce(j) {
				hardCut = j
			}
		}
		sp.to = j
		spans = append(spans, sp)
		if j >= to {
			break
		}
		start = p.overlapStart(sp, j)
		i = j
	}
	return spans
}

// shouldBreak reports whether a break signal fires before units[j].
func (p *packer) shouldBreak(j, size int) bool {
	u, prev := p.units[j], p.units[j-1]
	switch {
	case size+p.lens[j] > p.opts.TargetMax:
		return true
	case u.Kind == textseg.UnitHeading:
		return true
	case prev.BlankLinesAfter >= p.opts.ParagraphGap:
		return true
	case textseg.StartsWithTransition(u.Text(p.text)):
		return true
	}
	return false
}

// marker reports whether units[j] opens a new structural element: a heading,
// a transition, a new paragraph or a change of unit kind.
func (p *packer) marker(j int) bool {
	u, prev := p.units[j], p.units[j-1]
	return u.Kind == textseg.UnitHeading ||
		u.Kind != prev.Kind ||
		prev.BlankLinesAfter > 0 ||
		textseg.StartsWithTransition(u.Text(p.text))
}

// canBreak reports whether a chunk may end before units[k] without splitting
// a sentence, separating a heading from its body, or splitting a list.
func (p *packer) canBreak(k int) bool {
	if k >= len(p.units) {
		return true
	}
	if !p.canForce(k) {
		return false
	}
	return !sameList(p.units, k-1, k)
}

// canForce reports whether a hard-max cut before units[k] keeps sentences whole.
func (p *packer) canForce(k int) bool {
	if k >= len(p.units) {
		return true
	}
	prev := p.units[k-1]
	if prev.Kind == textseg.UnitHeading {
		return false
	}
	return cleanAfter(prev) || p.units[k].Kind != textseg.UnitProse
}

// overlapStart returns where the chunk following sp begins. The overlap is the
// longest run of whole trailing sentences of sp within OverlapChars. Chunks
// opening with a heading carry no overlap.
func (p *packer) overlapStart(sp span, next int) int {
	nextStart := p.units[next].Start
	if p.opts.OverlapChars <= 0 || p.units[next].Kind == textseg.UnitHeading {
		return nextStart
	}
	best := nextStart
	size := 0
	for k := next - 1; k > sp.from; k-- {
		size += p.lens[k]
		if size > p.opts.OverlapChars {
			break
		}
		if cleanAfter(p.units[k-1]) {
			best = p.units[k].Start
		}
	}
	return best
}

func (p *packer) runes(a, b int) int {
	if b <= a {
		return 0
	}
	return utf8.RuneCountInString(p.text[a:b])
}

func unitLengths(text string, units []textseg.Unit) []int {
	lens := make([]int, len(units))
	for i, u := range units {
		lens[i] = utf8.RuneCountInString(u.Text(text))
	}
	return lens
}

// splitOversized breaks any unit longer than hardMax runes. A unit is first
// cut at its own sentence boundaries, then at sentence boundaries found while
// ignoring quotation marks, and only then at whitespace. Sentence pieces are
// terminated; whitespace pieces other than the last are not.
func splitOversized(text string, units []textseg.Unit, hardMax int) []textseg.Unit {
	out := make([]textseg.Unit, 0, len(units))
	for _, u := range units {
		out = appendSplit(out, text, u, hardMax, 0)
	}
	return out
}

const (
	splitSentences = iota
	splitLooseSentences
	splitWords
)

func appendSplit(out []textseg.Unit, text string, u textseg.Unit, hardMax, level int) []textseg.Unit {
	if utf8.RuneCountInString(u.Text(text)) <= hardMax {
		return append(out, u)
	}
	if level == splitWords {
		return appendWordSplit(out, text, u, hardMax)
	}
	cuts := textseg.SentenceCuts(text, u.Start, u.End, level == splitLooseSentences)
	for _, piece := range cutUnit(u, cuts) {
		out = appendSplit(out, text, piece, hardMax, level+1)
	}
	return out
}

// cutUnit splits u at cuts. Every piece but the last ends a sentence; the last
// keeps u's own ending.
func cutUnit(u textseg.Unit, cuts []int) []textseg.Unit {
	pieces := make([]textseg.Unit, 0, len(cuts)+1)
	pos := u.Start
	for _, cut := range cuts {
		piece := u
		piece.Start, piece.End = pos, cut
		piece.Terminated = true
		piece.BlankLinesAfter = 0
		pieces = append(pieces, piece)
		pos = cut
	}
	last := u
	last.Start = pos
	return append(pieces, last)
}

func appendWordSplit(out []textseg.Unit, text string, u textseg.Unit, hardMax int) []textseg.Unit {
	pos := u.Start
	for utf8.RuneCountInString(text[pos:u.End]) > hardMax {
		limit := pos + byteOffset(text[pos:u.End], hardMax)
		cut := wordCut(text, pos, limit)
		piece := u
		piece.Start, piece.End = pos, cut
		piece.Terminated = false
		piece.BlankLinesAfter = 0
		out = append(out, piece)
		pos = cut
	}
	last := u
	last.Start = pos
	return append(out, last)
}

// byteOffset returns the byte offset of the n-th rune of s.
func byteOffset(s string, n int) int {
	i := 0
	for pos := range s {
		if i == n {
			return pos
		}
		i++
	}
	return len(s)
}

// wordCut returns the offset just past the last whitespace in text[start:limit]
// that does not follow an abbreviation. It falls back to the last whitespace of
// any kind, and to limit when there is none.
func wordCut(text string, start, limit int) int {
	fallback := -1
	for i := limit; i > start; {
		r, size := utf8.DecodeLastRuneInString(text[start:i])
		if unicode.IsSpace(r) {
			if !textseg.EndsWithAbbreviation(text[start:i]) {
				return i
			}
			if fallback < 0 {
				fallback = i
			}
		}
		i -= size
	}
	if fallback > 0 {
		return fallback
	}
	return limit
}
