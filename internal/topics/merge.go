package topics

import (
	"context"
	"strings"

	"github.com/hyperjump/bilgi/internal/similarity"
)

// topicSimilarity is the larger of the title similarity and the keyword-set
// similarity of two topics.
func topicSimilarity(ctx context.Context, s similarity.Strategy, titleA string, kwA []string, titleB string, kwB []string) (float64, error) {
	best, err := s.Similarity(ctx, titleA, titleB)
	if err != nil {
		return 0, err
	}
	if len(kwA) > 0 && len(kwB) > 0 {
		kw, err := s.Similarity(ctx, strings.Join(kwA, " "), strings.Join(kwB, " "))
		if err != nil {
			return 0, err
		}
		best = max(best, kw)
	}
	return best, nil
}

// mergeCandidates folds each candidate into the most similar earlier topic
// scoring at least threshold, in first-appearance order.
func mergeCandidates(ctx context.Context, s similarity.Strategy, all []candidate, threshold float64) ([]*candidate, error) {
	var merged []*candidate
	for i := range all {
		c := all[i]
		target, targetScore := -1, 0.0
		for j, m := range merged {
			score, err := topicSimilarity(ctx, s, c.Title, c.Keywords, m.Title, m.Keywords)
			if err != nil {
				return nil, err
			}
			if score >= threshold && score > targetScore {
				target, targetScore = j, score
			}
		}
		if target < 0 {
			cp := c
			merged = append(merged, &cp)
			continue
		}
		absorb(merged[target], c)
	}
	return merged, nil
}

// absorb unions c into m. The higher-confidence side wins the title and difficulty.
func absorb(m *candidate, c candidate) {
	for _, id := range c.RelatedChunkIDs {
		m.RelatedChunkIDs = appendUnique(m.RelatedChunkIDs, id)
	}
	m.Keywords = dedupFold(append(m.Keywords, c.Keywords...))
	m.Prerequisites = dedupFold(append(m.Prerequisites, c.Prerequisites...))
	if c.Confidence > m.Confidence {
		m.Confidence = c.Confidence
		m.Title = c.Title
		m.Difficulty = c.Difficulty
	}
}
