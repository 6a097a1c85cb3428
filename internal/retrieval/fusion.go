package retrieval

import (
	"sort"
	"time"

	"github.com/hyperjump/bilgi/internal/keyword"
	"github.com/hyperjump/bilgi/internal/models"
	"github.com/hyperjump/bilgi/pkg/utils"
)

// Candidate is a source before fusion. Rank is its position in the list it
// was retrieved from.
type Candidate struct {
	Kind      models.SourceKind
	ID        string
	TopicID   string
	Text      string
	RawScore  float64
	CreatedAt time.Time
	Rank      int
}

func (w Weights) of(kind models.SourceKind) float64 {
	switch kind {
	case models.SourceChunk:
		return w.Chunk
	case models.SourceKB:
		return w.KB
	case models.SourceQA:
		return w.QA
	}
	return 0
}

// Fuse weights each candidate's raw score, clamped to [0, 1], by its kind and
// returns the sources sorted by fused score. Ties go to the more recent
// source, then to the lower original rank.
func Fuse(cands []Candidate, w Weights) []models.FusedSource {
	type ranked struct {
		src  models.FusedSource
		rank int
	}
	rs := make([]ranked, len(cands))
	for i, c := range cands {
		weight := w.of(c.Kind)
		raw := utils.Clamp01(c.RawScore)
		rs[i] = ranked{
			src: models.FusedSource{
				Kind:      c.Kind,
				ID:        c.ID,
				TopicID:   c.TopicID,
				Text:      c.Text,
				RawScore:  raw,
				Weight:    weight,
				Score:     weight * raw,
				CreatedAt: c.CreatedAt,
			},
			rank: c.Rank,
		}
	}
	sort.SliceStable(rs, func(i, j int) bool {
		a, b := rs[i], rs[j]
		if a.src.Score != b.src.Score {
			return a.src.Score > b.src.Score
		}
		if !a.src.CreatedAt.Equal(b.src.CreatedAt) {
			return a.src.CreatedAt.After(b.src.CreatedAt)
		}
		return a.rank < b.rank
	})
	out := make([]models.FusedSource, len(rs))
	for i, r := range rs {
		out[i] = r.src
	}
	return out
}

// normalizeKeywordScores scales keyword scores to [0, 1] by the maximum.
func normalizeKeywordScores(results []*keyword.KeywordResult) map[string]float64 {
	normalized := make(map[string]float64, len(results))
	if len(results) == 0 {
		return normalized
	}
	maxScore := results[0].Score
	for _, r := range results {
		if r.Score > maxScore {
			maxScore = r.Score
		}
	}
	for _, r := range results {
		if maxScore > 0 {
			normalized[r.ID] = r.Score / maxScore
		} else {
			normalized[r.ID] = 0
		}
	}
	return normalized
}
