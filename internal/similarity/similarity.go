// Package similarity provides pluggable text similarity strategies used for
// topic merging, QA deduplication, and the QA fast path.
package similarity

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/hyperjump/bilgi/pkg/utils"
)

// Strategy scores how similar two texts are, in [0, 1].
type Strategy interface {
	Similarity(ctx context.Context, a, b string) (float64, error)
	Name() string
}

// Jaccard is token-set Jaccard similarity over case-folded, prefix-stemmed words.
// StemLength truncates each token to its first runes, which folds most Turkish
// inflections onto a shared stem. Zero disables stemming.
type Jaccard struct {
	StemLength int
}

// NewJaccard returns the default Jaccard strategy with 5-rune stems.
func NewJaccard() *Jaccard {
	return &Jaccard{StemLength: 5}
}

// Name implements Strategy.
func (j *Jaccard) Name() string { return "jaccard" }

// Similarity implements Strategy.
func (j *Jaccard) Similarity(_ context.Context, a, b string) (float64, error) {
	return JaccardSets(j.tokenSet(a), j.tokenSet(b)), nil
}

func (j *Jaccard) tokenSet(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, tok := range utils.Tokens(s) {
		set[stem(tok, j.StemLength)] = struct{}{}
	}
	return set
}

func stem(tok string, n int) string {
	if n <= 0 || utf8.RuneCountInString(tok) <= n {
		return tok
	}
	i := 0
	for pos := range tok {
		if i == n {
			return tok[:pos]
		}
		i++
	}
	return tok
}

// JaccardSets returns |a∩b| / |a∪b|. Two empty sets score 0.
func JaccardSets(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	inter := 0
	for k := range a {
		if _, ok := b[k]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}

// TextEmbedder is the subset of an embedder needed for cosine similarity.
type TextEmbedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Cosine scores texts by cosine similarity of their embeddings, clamped to [0, 1].
type Cosine struct {
	Embedder TextEmbedder
}

// NewCosine returns a cosine strategy backed by e.
func NewCosine(e TextEmbedder) *Cosine {
	return &Cosine{Embedder: e}
}

// Name implements Strategy.
func (c *Cosine) Name() string { return "cosine" }

// Similarity implements Strategy.
func (c *Cosine) Similarity(ctx context.Context, a, b string) (float64, error) {
	va, err := c.Embedder.Embed(ctx, a)
	if err != nil {
		return 0, fmt.Errorf("embed: %w", err)
	}
	vb, err := c.Embedder.Embed(ctx, b)
	if err != nil {
		return 0, fmt.Errorf("embed: %w", err)
	}
	return utils.Clamp01(utils.Cosine(va, vb)), nil
}

// New returns the strategy registered under name. Cosine requires an embedder.
func New(name string, e TextEmbedder) (Strategy, error) {
	switch strings.ToLower(name) {
	case "", "jaccard":
		return NewJaccard(), nil
	case "cosine":
		if e == nil {
			return nil, fmt.Errorf("cosine similarity requires an embedder")
		}
		return NewCosine(e), nil
	default:
		return nil, fmt.Errorf("unsupported similarity strategy: %s", name)
	}
}

// Best returns the index and score of the candidate most similar to query.
// The index is -1 when candidates is empty.
func Best(ctx context.Context, s Strategy, query string, candidates []string) (int, float64, error) {
	best, bestScore := -1, 0.0
	for i, c := range candidates {
		score, err := s.Similarity(ctx, query, c)
		if err != nil {
			return -1, 0, err
		}
		if best < 0 || score > bestScore {
			best, bestScore = i, score
		}
	}
	return best, bestScore, nil
}
