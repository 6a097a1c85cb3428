// Package topics extracts an ordered curriculum of topics from session chunks
// with batched LLM calls, merging duplicates across batches.
package topics

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hyperjump/bilgi/internal/ids"
	"github.com/hyperjump/bilgi/internal/keyword"
	"github.com/hyperjump/bilgi/internal/llm"
	"github.com/hyperjump/bilgi/internal/models"
	"github.com/hyperjump/bilgi/internal/retry"
	"github.com/hyperjump/bilgi/internal/similarity"
	"github.com/hyperjump/bilgi/internal/storage"
)

// GraphSink receives the final ordered topics of a session.
type GraphSink interface {
	SyncTopics(ctx context.Context, sessionID string, topics []*models.Topic) error
}

// Options configures topic extraction.
type Options struct {
	// MaxBatchChars bounds the chunk text sent in one LLM call.
	MaxBatchChars int
	// MergeThreshold is the similarity at or above which two topics are the same.
	MergeThreshold float64
	// Workers bounds concurrent batch calls.
	Workers int
	Retry   retry.Policy
}

// DefaultOptions returns 12,000-character batches and a 0.70 merge threshold.
func DefaultOptions() Options {
	return Options{
		MaxBatchChars:  12000,
		MergeThreshold: 0.70,
		Workers:        3,
		Retry:          retry.DefaultPolicy(),
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.MaxBatchChars <= 0 {
		o.MaxBatchChars = d.MaxBatchChars
	}
	if o.MergeThreshold <= 0 {
		o.MergeThreshold = d.MergeThreshold
	}
	if o.Workers <= 0 {
		o.Workers = d.Workers
	}
	return o
}

// Result is the outcome of an extraction run.
type Result struct {
	Method models.ExtractionMethod `json:"method"`
	// Topics is every topic of the session after the run, in curriculum order.
	Topics         []*models.Topic `json:"topics"`
	Added          int             `json:"added"`
	ChunksAnalyzed int             `json:"chunks_analyzed"`
	TotalChunks    int             `json:"total_chunks"`
	Batches        int             `json:"batches"`
	FailedBatches  int             `json:"failed_batches"`
}

// Coverage returns the fraction of chunks in successfully processed batches.
func (r *Result) Coverage() float64 {
	if r.TotalChunks == 0 {
		return 0
	}
	return float64(r.ChunksAnalyzed) / float64(r.TotalChunks)
}

// Extractor runs topic extraction.
type Extractor struct {
	client   llm.Client
	store    storage.Storage
	sim      similarity.Strategy
	keywords keyword.KeywordIndex
	graph    GraphSink
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

// WithSimilarity replaces the default Jaccard merge strategy.
func WithSimilarity(s similarity.Strategy) Option {
	return func(e *Extractor) {
		e.sim = s
	}
}

// WithKeywordIndex keeps the keyword index in sync with persisted topics.
func WithKeywordIndex(k keyword.KeywordIndex) Option {
	return func(e *Extractor) {
		e.keywords = k
	}
}

// WithGraphSink mirrors the ordered topics into a graph store.
func WithGraphSink(g GraphSink) Option {
	return func(e *Extractor) {
		e.graph = g
	}
}

// NewExtractor returns a topic extractor.
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

// Extract derives topics for sessionID from chunks (all session chunks from
// storage when chunks is nil) and persists them according to method.
func (e *Extractor) Extract(ctx context.Context, sessionID string, chunks []*models.Chunk, method models.ExtractionMethod) (*Result, error) {
	if method == "" {
		method = models.ExtractionFull
	}
	if method != models.ExtractionFull && method != models.ExtractionPartial {
		return nil, fmt.Errorf("unknown extraction method: %s", method)
	}
	if chunks == nil {
		var err error
		chunks, err = e.store.GetChunksBySession(ctx, sessionID)
		if err != nil {
			return nil, fmt.Errorf("load session chunks: %w", err)
		}
	}

	res := &Result{Method: method, TotalChunks: len(chunks)}
	batches := makeBatches(chunks, e.opts.MaxBatchChars)
	res.Batches = len(batches)

	perBatch := make([][]candidate, len(batches))
	var mu sync.Mutex
	g := new(errgroup.Group)
	g.SetLimit(e.opts.Workers)
	for i, b := range batches {
		g.Go(func() error {
			found, err := e.extractBatch(ctx, b)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				e.logger.Warn("topic batch skipped",
					zap.String("session_id", sessionID),
					zap.Int("batch", i),
					zap.Int("chunks", len(b)),
					zap.Error(err))
				mu.Lock()
				res.FailedBatches++
				mu.Unlock()
				return nil
			}
			perBatch[i] = found
			mu.Lock()
			res.ChunksAnalyzed += len(b)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var all []candidate
	for _, found := range perBatch {
		all = append(all, found...)
	}
	merged, err := mergeCandidates(ctx, e.sim, all, e.opts.MergeThreshold)
	if err != nil {
		return nil, fmt.Errorf("merge topics: %w", err)
	}

	switch method {
	case models.ExtractionFull:
		err = e.replace(ctx, sessionID, merged, res)
	case models.ExtractionPartial:
		err = e.append(ctx, sessionID, merged, res)
	}
	if err != nil {
		return nil, err
	}

	if e.graph != nil {
		if err := e.graph.SyncTopics(ctx, sessionID, res.Topics); err != nil {
			e.logger.Warn("graph sync failed", zap.String("session_id", sessionID), zap.Error(err))
		}
	}
	e.logger.Info("topics extracted",
		zap.String("session_id", sessionID),
		zap.String("method", string(method)),
		zap.Int("topics", len(res.Topics)),
		zap.Int("added", res.Added),
		zap.Float64("coverage", res.Coverage()))
	return res, nil
}

func (e *Extractor) replace(ctx context.Context, sessionID string, merged []*candidate, res *Result) error {
	topics := e.materialize(ctx, sessionID, merged, nil)
	if err := orderTopics(topics, nil, e.logger); err != nil {
		return err
	}

	var stale []string
	if e.keywords != nil {
		old, err := e.store.ListTopics(ctx, sessionID)
		if err != nil {
			return fmt.Errorf("list topics: %w", err)
		}
		oldQA, err := e.store.ListQAPairsBySession(ctx, sessionID)
		if err != nil {
			return fmt.Errorf("list qa pairs: %w", err)
		}
		for _, t := range old {
			stale = append(stale, t.ID)
		}
		for _, p := range oldQA {
			stale = append(stale, p.ID)
		}
	}

	if err := e.store.ReplaceTopics(ctx, sessionID, topics); err != nil {
		return fmt.Errorf("persist topics: %w", err)
	}
	if e.keywords != nil {
		if err := e.keywords.Delete(ctx, stale); err != nil {
			e.logger.Warn("keyword index cleanup failed", zap.Error(err))
		}
		e.indexTopics(ctx, topics)
	}
	res.Topics = topics
	res.Added = len(topics)
	return nil
}

func (e *Extractor) append(ctx context.Context, sessionID string, merged []*candidate, res *Result) error {
	existing, err := e.store.ListTopics(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("list topics: %w", err)
	}

	var fresh []*candidate
	for _, c := range merged {
		dup := false
		for _, t := range existing {
			s, err := topicSimilarity(ctx, e.sim, c.Title, c.Keywords, t.Title, t.Keywords)
			if err != nil {
				return fmt.Errorf("compare topics: %w", err)
			}
			if s >= e.opts.MergeThreshold {
				dup = true
				break
			}
		}
		if !dup {
			fresh = append(fresh, c)
		}
	}

	topics := e.materialize(ctx, sessionID, fresh, existing)
	if err := orderTopics(topics, existing, e.logger); err != nil {
		return err
	}
	if len(topics) > 0 {
		if err := e.store.AppendTopics(ctx, topics); err != nil {
			return fmt.Errorf("persist topics: %w", err)
		}
		if e.keywords != nil {
			e.indexTopics(ctx, topics)
		}
	}
	res.Topics = append(append([]*models.Topic(nil), existing...), topics...)
	res.Added = len(topics)
	return nil
}

// materialize assigns IDs and resolves prerequisite titles to topic IDs among
// the new topics and existing ones.
func (e *Extractor) materialize(ctx context.Context, sessionID string, merged []*candidate, existing []*models.Topic) []*models.Topic {
	topics := make([]*models.Topic, len(merged))
	for i, c := range merged {
		topics[i] = &models.Topic{
			ID:                   ids.NewTopicID(),
			SessionID:            sessionID,
			Title:                c.Title,
			Keywords:             c.Keywords,
			Difficulty:           c.Difficulty,
			RelatedChunkIDs:      c.RelatedChunkIDs,
			ExtractionConfidence: c.Confidence,
		}
	}
	pool := append(append([]*models.Topic(nil), existing...), topics...)
	for i, c := range merged {
		seen := make(map[string]bool)
		for _, title := range c.Prerequisites {
			id := e.resolveTitle(ctx, title, pool, topics[i].ID)
			if id == "" || seen[id] {
				continue
			}
			seen[id] = true
			topics[i].Prerequisites = append(topics[i].Prerequisites, id)
		}
	}
	return topics
}

func (e *Extractor) resolveTitle(ctx context.Context, title string, pool []*models.Topic, self string) string {
	best, bestScore := "", 0.0
	for _, t := range pool {
		if t.ID == self {
			continue
		}
		if strings.EqualFold(strings.TrimSpace(title), t.Title) {
			return t.ID
		}
		s, err := e.sim.Similarity(ctx, title, t.Title)
		if err != nil {
			continue
		}
		if s > bestScore {
			best, bestScore = t.ID, s
		}
	}
	if bestScore >= e.opts.MergeThreshold {
		return best
	}
	return ""
}

func (e *Extractor) indexTopics(ctx context.Context, topics []*models.Topic) {
	recs := make([]*keyword.Record, len(topics))
	for i, t := range topics {
		recs[i] = keyword.TopicRecord(t)
	}
	if err := e.keywords.IndexBatch(ctx, recs); err != nil {
		e.logger.Warn("keyword indexing of topics failed", zap.Error(err))
	}
}
