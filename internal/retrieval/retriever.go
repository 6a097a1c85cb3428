package retrieval

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/bilgi/internal/cache"
	"github.com/hyperjump/bilgi/internal/embedding"
	"github.com/hyperjump/bilgi/internal/models"
	"github.com/hyperjump/bilgi/internal/similarity"
	"github.com/hyperjump/bilgi/internal/storage"
	"github.com/hyperjump/bilgi/internal/vector"
	"github.com/hyperjump/bilgi/pkg/utils"
)

// State is a step of the retrieval pipeline.
type State string

const (
	StateClassify         State = "CLASSIFY"
	StateQAFastPathCheck  State = "QA_FASTPATH_CHECK"
	StateFastAnswer       State = "FAST_ANSWER"
	StateStandardRetrieve State = "STANDARD_RETRIEVE"
	StateFuse             State = "FUSE"
	StateQualityGate      State = "QUALITY_GATE"
	StateAccept           State = "ACCEPT"
	StateRejectFallback   State = "REJECT_FALLBACK"
)

const (
	// FallbackWiden is the fallback signalled when the first pass is rejected.
	FallbackWiden = "widen_k_drop_topic_filter"
	// FallbackTopicUnscoped is signalled when the matched topics have no
	// related chunks and the search covers the whole session instead.
	FallbackTopicUnscoped = "topic_without_chunks"
)

// Retriever runs the hybrid retrieval pipeline. It holds no per-session
// state; the response cache is advisory.
type Retriever struct {
	store      storage.Storage
	embedder   embedding.Embedder
	vectors    vector.VectorIndex
	sim        similarity.Strategy
	classifier Classifier
	cache      *cache.LRU[*models.RetrievalResult]
	opts       Options
	logger     *zap.Logger
}

// Option configures a Retriever.
type Option func(*Retriever)

// WithLogger sets the logger for the retriever.
func WithLogger(l *zap.Logger) Option {
	return func(r *Retriever) {
		r.logger = l
	}
}

// WithClassifier replaces the default embedding classifier. A nil
// classifier makes every query topic-agnostic.
func WithClassifier(c Classifier) Option {
	return func(r *Retriever) {
		r.classifier = c
	}
}

// WithSimilarity sets the strategy comparing queries with QA questions.
func WithSimilarity(s similarity.Strategy) Option {
	return func(r *Retriever) {
		r.sim = s
	}
}

// New returns a retriever.
func New(store storage.Storage, embedder embedding.Embedder, vectors vector.VectorIndex, opts Options, ropts ...Option) (*Retriever, error) {
	opts = opts.withDefaults()
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	r := &Retriever{
		store:      store,
		embedder:   embedder,
		vectors:    vectors,
		sim:        similarity.NewJaccard(),
		classifier: NewEmbeddingClassifier(embedder),
		cache:      cache.New[*models.RetrievalResult](opts.CacheSize, opts.CacheTTL),
		opts:       opts,
		logger:     zap.NewNop(),
	}
	for _, o := range ropts {
		o(r)
	}
	return r, nil
}

// InvalidateCache drops every cached result. Call it after the session's
// chunks, topics, or QA pairs change.
func (r *Retriever) InvalidateCache() {
	r.cache.Purge()
}

// run is the mutable state of one Retrieve call.
type run struct {
	res   *models.RetrievalResult
	query string
	// qa holds the QA pairs of the matched topics scored against the query.
	qa []scoredQA
}

func (p *run) enter(s State) {
	p.res.States = append(p.res.States, string(s))
}

type scoredQA struct {
	pair  *models.QAPair
	score float64
}

// Retrieve answers q. It returns *RetrievalError wrapping ErrVectorSearch
// when vector search fails, never an empty success.
func (r *Retriever) Retrieve(ctx context.Context, q *models.RetrievalQuery) (*models.RetrievalResult, error) {
	start := time.Now()
	query := strings.TrimSpace(q.Query)
	if query == "" {
		return nil, ErrEmptyQuery
	}
	topK := q.TopK
	if topK <= 0 {
		topK = r.opts.TopK
	}

	autoFallback := r.opts.AutoFallback
	if q.AutoFallback != nil {
		autoFallback = *q.AutoFallback
	}
	key := r.cacheKey(q.SessionID, query, q.TopicIDs, topK, q.NoFastPath, autoFallback)
	if !q.NoCache {
		if hit, ok := r.cache.Get(key); ok {
			cp := hit.Clone()
			cp.Cached = true
			cp.QueryTimeMs = time.Since(start).Milliseconds()
			if cp.DirectQAMatch != nil {
				r.countAsked(ctx, cp.DirectQAMatch.ID)
			}
			return cp, nil
		}
	}

	p := &run{
		res:   &models.RetrievalResult{SessionID: q.SessionID, Query: query, FusedSources: []models.FusedSource{}},
		query: query,
	}

	p.enter(StateClassify)
	matches, err := r.classify(ctx, q)
	if err != nil {
		return nil, &RetrievalError{Stage: StateClassify, Err: err}
	}
	p.res.MatchedTopics = matches

	p.enter(StateQAFastPathCheck)
	if err := r.scoreQA(ctx, p, q.SessionID, matchedIDs(matches)); err != nil {
		return nil, &RetrievalError{Stage: StateQAFastPathCheck, Err: err}
	}
	if !q.NoFastPath && len(p.qa) > 0 && p.qa[0].score >= r.opts.FastPathThreshold {
		if err := r.fastAnswer(ctx, p); err != nil {
			return nil, err
		}
	} else {
		if err := r.standard(ctx, p, q.SessionID, matches, topK, autoFallback); err != nil {
			return nil, err
		}
	}

	p.res.QueryTimeMs = time.Since(start).Milliseconds()
	r.cache.Set(key, p.res.Clone())
	r.logger.Debug("retrieval finished",
		zap.String("session_id", q.SessionID),
		zap.String("latency_class", string(p.res.LatencyClass)),
		zap.Bool("accept", p.res.Accept),
		zap.Float64("top_score", p.res.TopScore),
		zap.Strings("states", p.res.States))
	return p.res, nil
}

func (r *Retriever) cacheKey(sessionID, query string, topicIDs []string, topK int, noFastPath, autoFallback bool) string {
	ids := slices.Clone(topicIDs)
	slices.Sort(ids)
	return strings.Join([]string{
		sessionID,
		utils.NormalizeQuery(query),
		strings.Join(ids, ","),
		r.embedder.Model(),
		strconv.Itoa(topK),
		strconv.FormatBool(noFastPath),
		strconv.FormatBool(autoFallback),
	}, "\x00")
}

// classify returns the topics to narrow retrieval to. Explicit topic IDs win
// over the classifier. A classifier failure or low confidence yields no
// topics, so retrieval proceeds topic-agnostic.
func (r *Retriever) classify(ctx context.Context, q *models.RetrievalQuery) ([]models.TopicMatch, error) {
	topics, err := r.store.ListTopics(ctx, q.SessionID)
	if err != nil {
		return nil, fmt.Errorf("list topics: %w", err)
	}
	if len(q.TopicIDs) > 0 {
		var out []models.TopicMatch
		for _, t := range topics {
			if slices.Contains(q.TopicIDs, t.ID) {
				out = append(out, models.TopicMatch{TopicID: t.ID, Title: t.Title, Confidence: 1})
			}
		}
		return out, nil
	}
	if r.classifier == nil || len(topics) == 0 {
		return nil, nil
	}
	matches, err := r.classifier.Classify(ctx, q.SessionID, q.Query, topics)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		r.logger.Warn("topic classification failed, continuing without topic filter",
			zap.String("session_id", q.SessionID), zap.Error(err))
		return nil, nil
	}
	var out []models.TopicMatch
	for _, m := range matches {
		if m.Confidence < r.opts.MinClassifyConfidence {
			continue
		}
		out = append(out, m)
		if len(out) == r.opts.MaxTopics {
			break
		}
	}
	return out, nil
}

func matchedIDs(matches []models.TopicMatch) []string {
	out := make([]string, len(matches))
	for i, m := range matches {
		out[i] = m.TopicID
	}
	return out
}

// scoreQA scores the QA pairs of topicIDs, or of the whole session when
// topicIDs is empty, against the query, best first.
func (r *Retriever) scoreQA(ctx context.Context, p *run, sessionID string, topicIDs []string) error {
	var (
		pairs []*models.QAPair
		err   error
	)
	if len(topicIDs) > 0 {
		pairs, err = r.store.ListQAPairsByTopic(ctx, topicIDs...)
	} else {
		pairs, err = r.store.ListQAPairsBySession(ctx, sessionID)
	}
	if err != nil {
		return fmt.Errorf("list qa pairs: %w", err)
	}
	scored := make([]scoredQA, 0, len(pairs))
	for _, pair := range pairs {
		s, err := r.sim.Similarity(ctx, p.query, pair.Question)
		if err != nil {
			return fmt.Errorf("qa similarity: %w", err)
		}
		scored = append(scored, scoredQA{pair: pair, score: s})
	}
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].score > scored[j].score })
	p.qa = scored
	return nil
}

func (r *Retriever) fastAnswer(ctx context.Context, p *run) error {
	p.enter(StateFastAnswer)
	best := p.qa[0]
	res := p.res
	res.DirectQAMatch = best.pair
	res.QASimilarity = best.score
	res.LatencyClass = models.LatencyFastPath
	res.Accept = true

	cands := []Candidate{qaCandidate(best, 0)}
	kb, err := r.knowledgeSummary(ctx, best.pair.TopicID, 1)
	if err != nil {
		return &RetrievalError{Stage: StateFastAnswer, Err: err}
	}
	if kb != nil {
		cands = append(cands, *kb)
	}
	res.FusedSources = Fuse(cands, r.opts.Weights)
	res.TopScore = res.FusedSources[0].Score
	r.countAsked(ctx, best.pair.ID)
	return nil
}

func (r *Retriever) countAsked(ctx context.Context, id string) {
	if err := r.store.IncrementTimesAsked(ctx, id); err != nil {
		r.logger.Warn("times_asked increment failed", zap.String("qa_id", id), zap.Error(err))
	}
}

// standard runs vector retrieval, fusion and the quality gate, with one
// broader pass when the first is rejected and autoFallback is set.
func (r *Retriever) standard(ctx context.Context, p *run, sessionID string, matches []models.TopicMatch, topK int, autoFallback bool) error {
	res := p.res
	res.LatencyClass = models.LatencyStandard

	accepted, err := r.pass(ctx, p, sessionID, matches, topK)
	if err != nil {
		return err
	}
	if accepted {
		p.enter(StateAccept)
		return nil
	}
	p.enter(StateRejectFallback)
	res.Fallback = FallbackWiden
	if autoFallback {
		r.logger.Info("retrieval rejected, widening",
			zap.String("session_id", sessionID),
			zap.Float64("top_score", res.TopScore),
			zap.Int("top_k", topK*2))
		if len(matches) > 0 {
			if err := r.scoreQA(ctx, p, sessionID, nil); err != nil {
				return &RetrievalError{Stage: StateStandardRetrieve, Err: err}
			}
		}
		accepted, err = r.pass(ctx, p, sessionID, nil, topK*2)
		if err != nil {
			return err
		}
		if accepted {
			p.enter(StateAccept)
			return nil
		}
		p.enter(StateRejectFallback)
	}
	res.OutOfScopeMessage = r.opts.OutOfScope
	return nil
}

// pass runs STANDARD_RETRIEVE, FUSE and QUALITY_GATE once and reports
// whether the result was accepted.
func (r *Retriever) pass(ctx context.Context, p *run, sessionID string, matches []models.TopicMatch, topK int) (bool, error) {
	p.enter(StateStandardRetrieve)
	cands, err := r.chunkCandidates(ctx, p, sessionID, matches, topK)
	if err != nil {
		return false, err
	}
	if len(matches) > 0 {
		kb, err := r.knowledgeSummary(ctx, matches[0].TopicID, matches[0].Confidence)
		if err != nil {
			return false, &RetrievalError{Stage: StateStandardRetrieve, Err: err}
		}
		if kb != nil {
			cands = append(cands, *kb)
		}
	}
	n := 0
	for _, s := range p.qa {
		if n == r.opts.MaxAuxQA || s.score < r.opts.AuxQAThreshold {
			break
		}
		cands = append(cands, qaCandidate(s, n))
		n++
	}

	p.enter(StateFuse)
	fused := Fuse(cands, r.opts.Weights)

	p.enter(StateQualityGate)
	p.res.FusedSources = fused
	p.res.TopScore = 0
	if len(fused) > 0 {
		p.res.TopScore = fused[0].Score
	}
	p.res.Accept = len(fused) > 0 && p.res.TopScore >= r.opts.AcceptThreshold
	return p.res.Accept, nil
}

func (r *Retriever) chunkCandidates(ctx context.Context, p *run, sessionID string, matches []models.TopicMatch, topK int) ([]Candidate, error) {
	vec, err := r.embedder.Embed(ctx, p.query)
	if err != nil {
		return nil, &RetrievalError{Stage: StateStandardRetrieve, Err: fmt.Errorf("embed query: %w", err)}
	}

	filter := &vector.Filter{SessionID: sessionID}
	var topicOf map[string]string
	if len(matches) > 0 {
		ids, owners, err := r.topicChunks(ctx, matches)
		if err != nil {
			return nil, &RetrievalError{Stage: StateStandardRetrieve, Err: err}
		}
		if len(ids) > 0 {
			filter.IDs = ids
			topicOf = owners
		} else {
			r.logger.Info("matched topics have no related chunks, searching the whole session",
				zap.String("session_id", sessionID), zap.Strings("topic_ids", matchedIDs(matches)))
			p.res.Fallback = FallbackTopicUnscoped
		}
	}
	hits, err := r.vectors.Query(ctx, vec, topK, filter)
	if err != nil {
		return nil, &RetrievalError{Stage: StateStandardRetrieve, Err: fmt.Errorf("%w: %w", ErrVectorSearch, err)}
	}
	if len(hits) == 0 {
		return nil, nil
	}

	ids := make([]string, len(hits))
	for i, h := range hits {
		ids[i] = h.ID
	}
	chunks, err := r.store.GetChunksByIDs(ctx, ids)
	if err != nil {
		return nil, &RetrievalError{Stage: StateStandardRetrieve, Err: fmt.Errorf("load chunks: %w", err)}
	}
	byID := make(map[string]*models.Chunk, len(chunks))
	for _, ch := range chunks {
		byID[ch.ID] = ch
	}
	out := make([]Candidate, 0, len(hits))
	for i, h := range hits {
		ch, ok := byID[h.ID]
		if !ok {
			r.logger.Warn("vector hit without chunk row", zap.String("chunk_id", h.ID))
			continue
		}
		out = append(out, Candidate{
			Kind:      models.SourceChunk,
			ID:        ch.ID,
			TopicID:   topicOf[ch.ID],
			Text:      ch.Text,
			RawScore:  h.Score,
			CreatedAt: ch.CreatedAt,
			Rank:      i,
		})
	}
	return out, nil
}

// topicChunks returns the related chunk IDs of the matched topics and, for
// each chunk, the first matched topic that lists it.
func (r *Retriever) topicChunks(ctx context.Context, matches []models.TopicMatch) ([]string, map[string]string, error) {
	var ids []string
	owner := make(map[string]string)
	for _, m := range matches {
		t, err := r.store.GetTopic(ctx, m.TopicID)
		if err != nil {
			return nil, nil, fmt.Errorf("get topic %s: %w", m.TopicID, err)
		}
		for _, id := range t.RelatedChunkIDs {
			if _, ok := owner[id]; ok {
				continue
			}
			owner[id] = t.ID
			ids = append(ids, id)
		}
	}
	return ids, owner, nil
}

// knowledgeSummary returns the topic's knowledge base summary as a source
// whose relevance is the topic's match confidence, or nil when the topic has
// none.
func (r *Retriever) knowledgeSummary(ctx context.Context, topicID string, relevance float64) (*Candidate, error) {
	kb, err := r.store.GetKnowledgeBase(ctx, topicID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get knowledge base %s: %w", topicID, err)
	}
	if strings.TrimSpace(kb.Summary) == "" {
		return nil, nil
	}
	return &Candidate{
		Kind:      models.SourceKB,
		ID:        kb.ID,
		TopicID:   topicID,
		Text:      kb.Summary,
		RawScore:  relevance,
		CreatedAt: kb.UpdatedAt,
	}, nil
}

func qaCandidate(s scoredQA, rank int) Candidate {
	return Candidate{
		Kind:      models.SourceQA,
		ID:        s.pair.ID,
		TopicID:   s.pair.TopicID,
		Text:      "Q: " + s.pair.Question + "\nA: " + s.pair.Answer,
		RawScore:  s.score,
		CreatedAt: s.pair.CreatedAt,
		Rank:      rank,
	}
}
