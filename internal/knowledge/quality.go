package knowledge

import (
	"github.com/hyperjump/bilgi/internal/models"
	"github.com/hyperjump/bilgi/pkg/utils"
)

// Knowledge base quality weights. They sum to 1.
const (
	WeightSummary    = 0.30
	WeightConcepts   = 0.25
	WeightObjectives = 0.20
	WeightQA         = 0.25
)

// QualityBreakdown holds the knowledge base sub-scores, each in [0, 1].
type QualityBreakdown struct {
	SummaryFit    float64 `json:"summary_fit"`
	ConceptsFit   float64 `json:"concepts_fit"`
	ObjectivesFit float64 `json:"objectives_fit"`
	QAQuality     float64 `json:"qa_quality"`
}

// Score returns the weighted composite.
func (b QualityBreakdown) Score() float64 {
	return utils.Clamp01(WeightSummary*b.SummaryFit +
		WeightConcepts*b.ConceptsFit +
		WeightObjectives*b.ObjectivesFit +
		WeightQA*b.QAQuality)
}

// summaryFit is 1 inside [minWords, maxWords] and decays proportionally outside.
func summaryFit(words, minWords, maxWords int) float64 {
	switch {
	case words <= 0:
		return 0
	case words < minWords:
		return float64(words) / float64(minWords)
	case words > maxWords:
		return float64(maxWords) / float64(words)
	}
	return 1
}

func saturate(n, target int) float64 {
	if target <= 0 {
		return 1
	}
	return utils.Clamp01(float64(n) / float64(target))
}

// objectivesFit averages the objective count fit and the Bloom level coverage fit.
func objectivesFit(objs []models.LearningObjective, minCount, minLevels int) float64 {
	levels := make(map[models.BloomLevel]bool)
	for _, o := range objs {
		levels[o.Level] = true
	}
	return (saturate(len(objs), minCount) + saturate(len(levels), minLevels)) / 2
}

func meanQAQuality(pairs []*models.QAPair) float64 {
	if len(pairs) == 0 {
		return 0
	}
	var sum float64
	for _, p := range pairs {
		sum += p.QualityScore
	}
	return sum / float64(len(pairs))
}

func (e *Extractor) breakdown(entry *models.KnowledgeBaseEntry, pairs []*models.QAPair) QualityBreakdown {
	return QualityBreakdown{
		SummaryFit:    summaryFit(utils.WordCount(entry.Summary), e.opts.SummaryMinWords, e.opts.SummaryMaxWords),
		ConceptsFit:   saturate(len(entry.KeyConcepts), e.opts.MinConcepts),
		ObjectivesFit: objectivesFit(entry.LearningObjectives, e.opts.MinObjectives, e.opts.MinBloomLevels),
		QAQuality:     meanQAQuality(pairs),
	}
}
