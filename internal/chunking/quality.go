package chunking

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/hyperjump/bilgi/internal/models"
	"github.com/hyperjump/bilgi/internal/textseg"
	"github.com/hyperjump/bilgi/pkg/utils"
)

// Quality dimension weights. They sum to 1.
const (
	WeightSentenceBoundary    = 0.30
	WeightContentCompleteness = 0.25
	WeightReferenceIntegrity  = 0.20
	WeightTopicCoherence      = 0.15
	WeightSizeOptimization    = 0.10
)

// ErrQualityRejection is returned when a chunk scores below the minimum quality.
var ErrQualityRejection = errors.New("chunk quality below minimum")

// Score returns the weighted quality score of b.
func Score(b models.QualityBreakdown) float64 {
	return WeightSentenceBoundary*b.SentenceBoundary +
		WeightContentCompleteness*b.ContentCompleteness +
		WeightReferenceIntegrity*b.ReferenceIntegrity +
		WeightTopicCoherence*b.TopicCoherence +
		WeightSizeOptimization*b.SizeOptimization
}

// Validator scores chunks against the chunking options.
type Validator struct {
	opts Options
}

// NewValidator returns a validator for opts.
func NewValidator(opts Options) *Validator {
	return &Validator{opts: opts.withDefaults()}
}

// MinQuality returns the score below which a chunk is flagged low quality.
func (v *Validator) MinQuality() float64 { return v.opts.MinQuality }

// span is a chunk candidate: units[from:to] plus any overlap beginning at start.
type span struct {
	from, to int
	start    int
}

// evaluate scores the chunk text[sp.start:units[sp.to-1].End].
func (v *Validator) evaluate(text string, units []textseg.Unit, sp span) models.QualityBreakdown {
	end := units[sp.to-1].End
	chunkText := text[sp.start:end]
	n := utf8.RuneCountInString(strings.TrimSpace(chunkText))

	first := sp.from
	for first > 0 && units[first].Start > sp.start {
		first--
	}

	var b models.QualityBreakdown

	startOK := first == 0 || cleanAfter(units[first-1]) || units[first].Kind != textseg.UnitProse
	endOK := sp.to == len(units) || cleanAfter(units[sp.to-1]) || units[sp.to].Kind != textseg.UnitProse
	b.SentenceBoundary = (boolScore(startOK) + boolScore(endOK)) / 2

	switch {
	case n < v.opts.MinChars:
		b.ContentCompleteness = float64(n) / float64(v.opts.MinChars)
	case n > v.opts.HardMax:
		b.ContentCompleteness = float64(v.opts.HardMax) / float64(n)
	default:
		b.ContentCompleteness = 1
	}

	integrity := 1.0
	if units[sp.to-1].Kind == textseg.UnitHeading && sp.to < len(units) {
		integrity -= 0.5
	}
	if sameList(units, sp.from-1, sp.from) {
		integrity -= 0.25
	}
	if sameList(units, sp.to-1, sp.to) {
		integrity -= 0.25
	}
	b.ReferenceIntegrity = utils.Clamp01(integrity)

	transitions := 0
	for i := sp.from + 1; i < sp.to; i++ {
		if textseg.StartsWithTransition(units[i].Text(text)) {
			transitions++
		}
	}
	b.TopicCoherence = utils.Clamp01(1 - 0.25*float64(transitions))

	switch {
	case n == 0:
		b.SizeOptimization = 0
	case n < v.opts.TargetMin:
		b.SizeOptimization = float64(n) / float64(v.opts.TargetMin)
	case n > v.opts.TargetMax:
		b.SizeOptimization = float64(v.opts.TargetMax) / float64(n)
	default:
		b.SizeOptimization = 1
	}
	return b
}

// ScoreText segments chunkText on its own and scores it as a whole chunk.
// Used to re-validate text that no longer maps onto source offsets.
func (v *Validator) ScoreText(chunkText string) (float64, models.QualityBreakdown) {
	units := textseg.Segment(chunkText)
	if len(units) == 0 {
		return 0, models.QualityBreakdown{}
	}
	b := v.evaluate(chunkText, units, span{from: 0, to: len(units)})
	return Score(b), b
}

// Check returns ErrQualityRejection when chunkText scores below the minimum.
func (v *Validator) Check(chunkText string) (float64, error) {
	score, _ := v.ScoreText(chunkText)
	if score < v.opts.MinQuality {
		return score, fmt.Errorf("%w: %.2f < %.2f", ErrQualityRejection, score, v.opts.MinQuality)
	}
	return score, nil
}

func cleanAfter(u textseg.Unit) bool {
	return u.Terminated || u.BlankLinesAfter > 0
}

func sameList(units []textseg.Unit, a, b int) bool {
	if a < 0 || b >= len(units) {
		return false
	}
	return units[a].Kind == textseg.UnitListItem && units[b].Kind == textseg.UnitListItem &&
		units[a].ListID == units[b].ListID
}

func boolScore(ok bool) float64 {
	if ok {
		return 1
	}
	return 0
}
