package retrieval

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/hyperjump/bilgi/internal/embedding"
	"github.com/hyperjump/bilgi/internal/keyword"
	"github.com/hyperjump/bilgi/internal/llm"
	"github.com/hyperjump/bilgi/internal/models"
	"github.com/hyperjump/bilgi/internal/retry"
	"github.com/hyperjump/bilgi/pkg/utils"
)

// Classifier maps a query to the session topics it is about, with
// confidences in [0, 1]. Matches are returned best first.
type Classifier interface {
	Classify(ctx context.Context, sessionID, query string, topics []*models.Topic) ([]models.TopicMatch, error)
}

func topicText(t *models.Topic) string {
	if len(t.Keywords) == 0 {
		return t.Title
	}
	return t.Title + " " + strings.Join(t.Keywords, " ")
}

func sortMatches(m []models.TopicMatch) {
	sort.SliceStable(m, func(i, j int) bool { return m[i].Confidence > m[j].Confidence })
}

// EmbeddingClassifier scores topics by cosine similarity between the query
// embedding and the embedding of each topic's title and keywords. Wrap the
// embedder with embedding.NewCached to avoid re-embedding topics per query.
type EmbeddingClassifier struct {
	Embedder embedding.Embedder
}

// NewEmbeddingClassifier returns an embedding classifier.
func NewEmbeddingClassifier(e embedding.Embedder) *EmbeddingClassifier {
	return &EmbeddingClassifier{Embedder: e}
}

// Classify implements Classifier.
func (c *EmbeddingClassifier) Classify(ctx context.Context, _ string, query string, topics []*models.Topic) ([]models.TopicMatch, error) {
	if len(topics) == 0 {
		return nil, nil
	}
	q, err := c.Embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	texts := make([]string, len(topics))
	for i, t := range topics {
		texts[i] = topicText(t)
	}
	vecs, err := c.Embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embed topics: %w", err)
	}
	out := make([]models.TopicMatch, len(topics))
	for i, t := range topics {
		out[i] = models.TopicMatch{TopicID: t.ID, Title: t.Title, Confidence: utils.Clamp01(utils.Cosine(q, vecs[i]))}
	}
	sortMatches(out)
	return out, nil
}

// KeywordClassifier scores topics with the keyword index, normalizing hit
// scores by the best hit.
type KeywordClassifier struct {
	Index keyword.KeywordIndex
}

// NewKeywordClassifier returns a keyword classifier.
func NewKeywordClassifier(idx keyword.KeywordIndex) *KeywordClassifier {
	return &KeywordClassifier{Index: idx}
}

// Classify implements Classifier.
func (c *KeywordClassifier) Classify(ctx context.Context, sessionID, query string, topics []*models.Topic) ([]models.TopicMatch, error) {
	if len(topics) == 0 {
		return nil, nil
	}
	hits, err := c.Index.Search(ctx, query, len(topics), &keyword.SearchOptions{
		Kind:       keyword.KindTopic,
		SessionID:  sessionID,
		TitleBoost: 2,
	})
	if err != nil {
		return nil, fmt.Errorf("keyword search: %w", err)
	}
	scores := normalizeKeywordScores(hits)
	byID := make(map[string]*models.Topic, len(topics))
	for _, t := range topics {
		byID[t.ID] = t
	}
	var out []models.TopicMatch
	for _, h := range hits {
		t, ok := byID[h.ID]
		if !ok {
			continue
		}
		out = append(out, models.TopicMatch{TopicID: t.ID, Title: t.Title, Confidence: scores[h.ID]})
	}
	sortMatches(out)
	return out, nil
}

const classifyPrompt = `You route a student's question to course topics. Given the numbered topic list and the
question, return the topics the question is about with a confidence in [0, 1].
Respond with a JSON array only: [{"topic_id": string, "confidence": number}]. Use [] if none apply.`

type llmMatch struct {
	TopicID    string  `json:"topic_id"`
	Confidence float64 `json:"confidence"`
}

// LLMClassifier asks an LLM to pick the topics of a query.
type LLMClassifier struct {
	Client llm.Client
	Retry  retry.Policy
}

// NewLLMClassifier returns an LLM classifier.
func NewLLMClassifier(c llm.Client, policy retry.Policy) *LLMClassifier {
	return &LLMClassifier{Client: c, Retry: policy}
}

// Classify implements Classifier. Unknown topic IDs are dropped.
func (c *LLMClassifier) Classify(ctx context.Context, _ string, query string, topics []*models.Topic) ([]models.TopicMatch, error) {
	if len(topics) == 0 {
		return nil, nil
	}
	var b strings.Builder
	b.WriteString("TOPICS:\n")
	byID := make(map[string]*models.Topic, len(topics))
	for _, t := range topics {
		byID[t.ID] = t
		fmt.Fprintf(&b, "- %s: %s\n", t.ID, topicText(t))
	}
	fmt.Fprintf(&b, "\nQUESTION: %s", query)

	list, err := llm.GenerateJSON(ctx, c.Client, llm.System(classifyPrompt, b.String()), c.Retry,
		func(l []llmMatch) error {
			for _, m := range l {
				if m.TopicID == "" {
					return errors.New("match without topic_id")
				}
			}
			return nil
		})
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	var out []models.TopicMatch
	for _, m := range list {
		t, ok := byID[m.TopicID]
		if !ok || seen[m.TopicID] {
			continue
		}
		seen[m.TopicID] = true
		out = append(out, models.TopicMatch{TopicID: t.ID, Title: t.Title, Confidence: utils.Clamp01(m.Confidence)})
	}
	sortMatches(out)
	return out, nil
}

// NewClassifier returns the classifier registered under name.
func NewClassifier(name string, e embedding.Embedder, idx keyword.KeywordIndex, client llm.Client, policy retry.Policy) (Classifier, error) {
	switch strings.ToLower(name) {
	case "", "embedding":
		if e == nil {
			return nil, errors.New("embedding classifier requires an embedder")
		}
		return NewEmbeddingClassifier(e), nil
	case "keyword":
		if idx == nil {
			return nil, errors.New("keyword classifier requires a keyword index")
		}
		return NewKeywordClassifier(idx), nil
	case "llm":
		if client == nil {
			return nil, errors.New("llm classifier requires an llm client")
		}
		return NewLLMClassifier(client, policy), nil
	}
	return nil, fmt.Errorf("unsupported classifier: %s", name)
}
