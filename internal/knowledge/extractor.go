package knowledge

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hyperjump/bilgi/internal/ids"
	"github.com/hyperjump/bilgi/internal/keyword"
	"github.com/hyperjump/bilgi/internal/llm"
	"github.com/hyperjump/bilgi/internal/models"
	"github.com/hyperjump/bilgi/internal/similarity"
	"github.com/hyperjump/bilgi/internal/storage"
	"github.com/hyperjump/bilgi/pkg/utils"
)

// ErrNoMaterial is returned when a topic has no chunk text to learn from.
var ErrNoMaterial = errors.New("topic has no related chunk text")

// Extractor builds knowledge base entries and QA pairs for topics.
type Extractor struct {
	client   llm.Client
	store    storage.Storage
	sim      similarity.Strategy
	keywords keyword.KeywordIndex
	opts     Options
	logger   *zap.Logger
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithLogger sets the logger for the extractor.
func WithLogger(l *zap.Logger) Option {
	return func(e *Extractor) {
		e.logger = l
	}
}

// WithSimilarity replaces the default Jaccard duplicate strategy.
func WithSimilarity(s similarity.Strategy) Option {
	return func(e *Extractor) {
		e.sim = s
	}
}

// WithKeywordIndex indexes accepted QA pairs for keyword lookup.
func WithKeywordIndex(k keyword.KeywordIndex) Option {
	return func(e *Extractor) {
		e.keywords = k
	}
}

// NewExtractor returns a knowledge extractor.
func NewExtractor(client llm.Client, store storage.Storage, opts Options, eopts ...Option) *Extractor {
	e := &Extractor{
		client: client,
		store:  store,
		sim:    similarity.NewJaccard(),
		opts:   opts.withDefaults(),
		logger: zap.NewNop(),
	}
	for _, o := range eopts {
		o(e)
	}
	return e
}

// material is the prompt context for one topic.
type material struct {
	topic *models.Topic
	text  string
}

func (m material) prompt() string {
	var b strings.Builder
	fmt.Fprintf(&b, "TOPIC: %s\n", m.topic.Title)
	if len(m.topic.Keywords) > 0 {
		fmt.Fprintf(&b, "KEYWORDS: %s\n", strings.Join(m.topic.Keywords, ", "))
	}
	fmt.Fprintf(&b, "DIFFICULTY: %s\n\nMATERIAL:\n%s", m.topic.Difficulty, m.text)
	return b.String()
}

func (e *Extractor) loadMaterial(ctx context.Context, topicID string) (material, error) {
	topic, err := e.store.GetTopic(ctx, topicID)
	if err != nil {
		return material{}, fmt.Errorf("get topic %s: %w", topicID, err)
	}
	chunks, err := e.store.GetChunksByIDs(ctx, topic.RelatedChunkIDs)
	if err != nil {
		return material{}, fmt.Errorf("get topic chunks: %w", err)
	}
	var b strings.Builder
	size := 0
	for _, ch := range chunks {
		body := strings.TrimSpace(ch.Body())
		n := utf8.RuneCountInString(body)
		if size > 0 && size+n > e.opts.MaxMaterialChars {
			break
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(body)
		size += n
	}
	if b.Len() == 0 {
		return material{}, fmt.Errorf("topic %s: %w", topicID, ErrNoMaterial)
	}
	return material{topic: topic, text: utils.Truncate(b.String(), e.opts.MaxMaterialChars)}, nil
}

// ExtractKnowledgeBase returns the knowledge base entry of a topic, building
// it from the topic's chunks when none exists or force is set. A failed part
// leaves that part empty and lowers the quality score.
func (e *Extractor) ExtractKnowledgeBase(ctx context.Context, topicID string, force bool) (*models.KnowledgeBaseEntry, error) {
	existing, err := e.store.GetKnowledgeBase(ctx, topicID)
	switch {
	case err == nil && !force:
		return existing, nil
	case err != nil && !errors.Is(err, storage.ErrNotFound):
		return nil, fmt.Errorf("get knowledge base: %w", err)
	}

	m, err := e.loadMaterial(ctx, topicID)
	if err != nil {
		return nil, err
	}

	var (
		summary    string
		concepts   []models.KeyConcept
		objectives []models.LearningObjective
		examples   []string
	)
	parts := []struct {
		name string
		run  func(context.Context) error
	}{
		{"summary", func(ctx context.Context) (err error) { summary, err = e.summary(ctx, m); return }},
		{"key_concepts", func(ctx context.Context) (err error) { concepts, err = e.concepts(ctx, m); return }},
		{"learning_objectives", func(ctx context.Context) (err error) { objectives, err = e.objectives(ctx, m); return }},
		{"examples", func(ctx context.Context) (err error) { examples, err = e.examples(ctx, m); return }},
	}

	g := new(errgroup.Group)
	g.SetLimit(e.opts.Workers)
	for _, p := range parts {
		g.Go(func() error {
			if err := p.run(ctx); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				e.logger.Warn("knowledge part failed",
					zap.String("topic_id", topicID),
					zap.String("part", p.name),
					zap.Error(err))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	entry := &models.KnowledgeBaseEntry{
		ID:                 ids.NewKnowledgeID(),
		TopicID:            topicID,
		Summary:            summary,
		KeyConcepts:        concepts,
		LearningObjectives: objectives,
		Examples:           examples,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if existing != nil {
		entry.ID = existing.ID
		entry.CreatedAt = existing.CreatedAt
	}

	pairs, err := e.store.ListQAPairsByTopic(ctx, topicID)
	if err != nil {
		return nil, fmt.Errorf("list qa pairs: %w", err)
	}
	b := e.breakdown(entry, pairs)
	entry.QualityScore = b.Score()

	if err := e.store.UpsertKnowledgeBase(ctx, entry); err != nil {
		return nil, fmt.Errorf("persist knowledge base: %w", err)
	}
	e.logger.Info("knowledge base extracted",
		zap.String("topic_id", topicID),
		zap.Float64("quality", entry.QualityScore),
		zap.Float64("summary_fit", b.SummaryFit),
		zap.Float64("concepts_fit", b.ConceptsFit),
		zap.Float64("objectives_fit", b.ObjectivesFit),
		zap.Float64("qa_quality", b.QAQuality))
	return entry, nil
}

// Quality recomputes the quality breakdown of a stored entry.
func (e *Extractor) Quality(ctx context.Context, topicID string) (QualityBreakdown, error) {
	entry, err := e.store.GetKnowledgeBase(ctx, topicID)
	if err != nil {
		return QualityBreakdown{}, err
	}
	pairs, err := e.store.ListQAPairsByTopic(ctx, topicID)
	if err != nil {
		return QualityBreakdown{}, err
	}
	return e.breakdown(entry, pairs), nil
}

// refreshQuality rescores a stored entry after its QA pairs changed.
func (e *Extractor) refreshQuality(ctx context.Context, topicID string) {
	entry, err := e.store.GetKnowledgeBase(ctx, topicID)
	if errors.Is(err, storage.ErrNotFound) {
		return
	}
	if err != nil {
		e.logger.Warn("knowledge base lookup failed", zap.String("topic_id", topicID), zap.Error(err))
		return
	}
	pairs, err := e.store.ListQAPairsByTopic(ctx, topicID)
	if err != nil {
		e.logger.Warn("qa lookup failed", zap.String("topic_id", topicID), zap.Error(err))
		return
	}
	entry.QualityScore = e.breakdown(entry, pairs).Score()
	entry.UpdatedAt = time.Now().UTC()
	if err := e.store.UpsertKnowledgeBase(ctx, entry); err != nil {
		e.logger.Warn("knowledge base rescore failed", zap.String("topic_id", topicID), zap.Error(err))
	}
}
