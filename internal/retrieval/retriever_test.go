package retrieval

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/hyperjump/bilgi/internal/embedding"
	"github.com/hyperjump/bilgi/internal/keyword"
	"github.com/hyperjump/bilgi/internal/llm"
	"github.com/hyperjump/bilgi/internal/models"
	"github.com/hyperjump/bilgi/internal/retry"
	"github.com/hyperjump/bilgi/internal/storage"
	"github.com/hyperjump/bilgi/internal/vector"
)

const dim = 16

var chunkTexts = []string{
	"Hücre zarı fosfolipit çift katmandan oluşur ve seçici geçirgendir.",
	"Mitokondri hücrenin enerji santralidir ve ATP üretir.",
	"Fotosentez kloroplastta gerçekleşir ve glikoz üretir.",
}

type fixture struct {
	store    storage.Storage
	embedder *embedding.MockEmbedder
	vectors  *vector.MemoryIndex
}

// newFixture stores one session with three chunks, two topics, a knowledge
// base summary and one QA pair, and indexes the chunk vectors.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	store, err := storage.NewSQLiteStorage(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = store.Close() })
	emb := embedding.NewMockEmbedder(dim)
	vecs, err := vector.NewMemoryIndex(dim)
	if err != nil {
		t.Fatal(err)
	}

	if err := store.CreateDocument(ctx, &models.Document{ID: "doc1", SessionID: "s1", Content: "x"}); err != nil {
		t.Fatal(err)
	}
	var chunks []*models.Chunk
	var items []vector.Item
	for i, text := range chunkTexts {
		ch := &models.Chunk{ID: []string{"c0", "c1", "c2"}[i], DocumentID: "doc1", SessionID: "s1", Index: i, Text: text}
		chunks = append(chunks, ch)
		v, _ := emb.Embed(ctx, text)
		items = append(items, vector.Item{ID: ch.ID, Vector: v, Metadata: vector.Metadata{vector.MetaSessionID: "s1", vector.MetaDocumentID: "doc1"}})
	}
	if err := store.BatchCreateChunks(ctx, chunks); err != nil {
		t.Fatal(err)
	}
	if err := vecs.Upsert(ctx, items); err != nil {
		t.Fatal(err)
	}

	topics := []*models.Topic{
		{ID: "t_cell", SessionID: "s1", Title: "Hücre yapısı", Keywords: []string{"zar", "mitokondri"}, RelatedChunkIDs: []string{"c0", "c1"}, Order: 1},
		{ID: "t_photo", SessionID: "s1", Title: "Fotosentez", Keywords: []string{"kloroplast"}, RelatedChunkIDs: []string{"c2"}, Order: 2},
	}
	if err := store.ReplaceTopics(ctx, "s1", topics); err != nil {
		t.Fatal(err)
	}
	if err := store.UpsertKnowledgeBase(ctx, &models.KnowledgeBaseEntry{ID: "kb_cell", TopicID: "t_cell", Summary: "Hücre zarı ve organeller."}); err != nil {
		t.Fatal(err)
	}
	if err := store.CreateQAPairs(ctx, []*models.QAPair{{
		ID: "qa1", TopicID: "t_cell", SessionID: "s1",
		Question: "Hücre zarı neden oluşur?", Answer: "Fosfolipit çift katmandan.",
	}}); err != nil {
		t.Fatal(err)
	}
	return &fixture{store: store, embedder: emb, vectors: vecs}
}

func (f *fixture) retriever(t *testing.T, opts Options, ropts ...Option) *Retriever {
	t.Helper()
	r, err := New(f.store, f.embedder, f.vectors, opts, ropts...)
	if err != nil {
		t.Fatal(err)
	}
	return r
}

// fixedSim scores every pair of texts the same.
type fixedSim float64

func (s fixedSim) Name() string { return "fixed" }

func (s fixedSim) Similarity(context.Context, string, string) (float64, error) {
	return float64(s), nil
}

func states(ss ...State) []string {
	out := make([]string, len(ss))
	for i, s := range ss {
		out[i] = string(s)
	}
	return out
}

func TestRetrieve_FastPathBoundary(t *testing.T) {
	tests := []struct {
		name     string
		sim      float64
		wantFast bool
	}{
		{"exactly at threshold", 0.90, true},
		{"just below threshold", 0.8999, false},
		{"above threshold", 0.97, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			r := f.retriever(t, DefaultOptions(), WithClassifier(nil), WithSimilarity(fixedSim(tt.sim)))
			res, err := r.Retrieve(context.Background(), &models.RetrievalQuery{SessionID: "s1", Query: "Hücre zarı nedir?"})
			if err != nil {
				t.Fatal(err)
			}
			if got := res.LatencyClass == models.LatencyFastPath; got != tt.wantFast {
				t.Fatalf("fast path = %v, want %v (states %v)", got, tt.wantFast, res.States)
			}
			pair, err := f.store.GetQAPair(context.Background(), "qa1")
			if err != nil {
				t.Fatal(err)
			}
			if !tt.wantFast {
				if res.DirectQAMatch != nil || pair.TimesAsked != 0 {
					t.Errorf("standard path must not use the direct match (times_asked=%d)", pair.TimesAsked)
				}
				return
			}
			if res.DirectQAMatch == nil || res.DirectQAMatch.ID != "qa1" || res.QASimilarity != tt.sim {
				t.Fatalf("unexpected direct match %+v (%v)", res.DirectQAMatch, res.QASimilarity)
			}
			if !slices.Equal(res.States, states(StateClassify, StateQAFastPathCheck, StateFastAnswer)) {
				t.Errorf("states = %v", res.States)
			}
			if !res.Accept || len(res.FusedSources) != 2 {
				t.Errorf("fast answer should carry the QA and the KB summary: %+v", res.FusedSources)
			}
			if pair.TimesAsked != 1 {
				t.Errorf("times_asked = %d, want 1", pair.TimesAsked)
			}
		})
	}
}

func TestRetrieve_NoFastPath(t *testing.T) {
	f := newFixture(t)
	r := f.retriever(t, DefaultOptions(), WithClassifier(nil), WithSimilarity(fixedSim(1)))
	res, err := r.Retrieve(context.Background(), &models.RetrievalQuery{SessionID: "s1", Query: "Hücre zarı nedir?", NoFastPath: true})
	if err != nil {
		t.Fatal(err)
	}
	if res.LatencyClass != models.LatencyStandard || res.DirectQAMatch != nil {
		t.Errorf("fast path should be disabled: %+v", res)
	}
}

func TestRetrieve_Standard(t *testing.T) {
	f := newFixture(t)
	r := f.retriever(t, DefaultOptions(), WithClassifier(nil))
	res, err := r.Retrieve(context.Background(), &models.RetrievalQuery{SessionID: "s1", Query: chunkTexts[1]})
	if err != nil {
		t.Fatal(err)
	}
	want := states(StateClassify, StateQAFastPathCheck, StateStandardRetrieve, StateFuse, StateQualityGate, StateAccept)
	if !slices.Equal(res.States, want) {
		t.Errorf("states = %v, want %v", res.States, want)
	}
	if !res.Accept || res.LatencyClass != models.LatencyStandard {
		t.Fatalf("expected accepted standard result: %+v", res)
	}
	top := res.FusedSources[0]
	if top.Kind != models.SourceChunk || top.ID != "c1" {
		t.Errorf("top source = %+v", top)
	}
	if top.Score < 0.4-1e-6 {
		t.Errorf("identical text should score the full chunk weight, got %v", top.Score)
	}
	if res.TopScore != top.Score {
		t.Errorf("TopScore = %v, want %v", res.TopScore, top.Score)
	}
	for i := 1; i < len(res.FusedSources); i++ {
		if res.FusedSources[i].Score > res.FusedSources[i-1].Score {
			t.Errorf("sources not sorted at %d", i)
		}
	}
}

func TestRetrieve_TopicFilter(t *testing.T) {
	f := newFixture(t)
	r := f.retriever(t, DefaultOptions(), WithClassifier(nil))
	res, err := r.Retrieve(context.Background(), &models.RetrievalQuery{
		SessionID: "s1", Query: chunkTexts[2], TopicIDs: []string{"t_cell"}, AutoFallback: new(bool),
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.MatchedTopics) != 1 || res.MatchedTopics[0].TopicID != "t_cell" {
		t.Fatalf("matched = %+v", res.MatchedTopics)
	}
	var sawKB bool
	for _, s := range res.FusedSources {
		switch s.Kind {
		case models.SourceChunk:
			if s.ID == "c2" {
				t.Errorf("chunk outside the topic returned")
			}
			if s.TopicID != "t_cell" {
				t.Errorf("chunk %s topic = %q", s.ID, s.TopicID)
			}
		case models.SourceKB:
			sawKB = s.ID == "kb_cell" && s.RawScore == 1
		}
	}
	if !sawKB {
		t.Errorf("expected the topic summary among %+v", res.FusedSources)
	}
}

func TestRetrieve_RejectFallback(t *testing.T) {
	tests := []struct {
		name         string
		autoFallback bool
		want         []string
	}{
		{
			name:         "with fallback pass",
			autoFallback: true,
			want: states(StateClassify, StateQAFastPathCheck,
				StateStandardRetrieve, StateFuse, StateQualityGate, StateRejectFallback,
				StateStandardRetrieve, StateFuse, StateQualityGate, StateRejectFallback),
		},
		{
			name:         "without fallback pass",
			autoFallback: false,
			want: states(StateClassify, StateQAFastPathCheck,
				StateStandardRetrieve, StateFuse, StateQualityGate, StateRejectFallback),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			opts := DefaultOptions()
			opts.AcceptThreshold = 0.99
			r := f.retriever(t, opts, WithClassifier(nil))
			auto := tt.autoFallback
			res, err := r.Retrieve(context.Background(), &models.RetrievalQuery{SessionID: "s1", Query: "kuantum tünelleme", AutoFallback: &auto})
			if err != nil {
				t.Fatal(err)
			}
			if res.Accept {
				t.Fatal("expected rejection")
			}
			if !slices.Equal(res.States, tt.want) {
				t.Errorf("states = %v, want %v", res.States, tt.want)
			}
			if res.Fallback != FallbackWiden || res.OutOfScopeMessage == "" {
				t.Errorf("fallback=%q out_of_scope=%q", res.Fallback, res.OutOfScopeMessage)
			}
		})
	}
}

func TestRetrieve_EmptySession(t *testing.T) {
	f := newFixture(t)
	r := f.retriever(t, DefaultOptions(), WithClassifier(nil))
	res, err := r.Retrieve(context.Background(), &models.RetrievalQuery{SessionID: "other", Query: "Hücre zarı nedir?"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Accept || len(res.FusedSources) != 0 || res.OutOfScopeMessage == "" {
		t.Errorf("empty session should be out of scope: %+v", res)
	}
}

type failingIndex struct {
	vector.VectorIndex
}

func (failingIndex) Query(context.Context, []float32, int, *vector.Filter) ([]*vector.VectorResult, error) {
	return nil, errors.New("connection refused")
}

func TestRetrieve_VectorSearchError(t *testing.T) {
	f := newFixture(t)
	r, err := New(f.store, f.embedder, failingIndex{}, DefaultOptions(), WithClassifier(nil))
	if err != nil {
		t.Fatal(err)
	}
	_, err = r.Retrieve(context.Background(), &models.RetrievalQuery{SessionID: "s1", Query: "mitokondri"})
	if !errors.Is(err, ErrVectorSearch) {
		t.Fatalf("expected ErrVectorSearch, got %v", err)
	}
	var rerr *RetrievalError
	if !errors.As(err, &rerr) || rerr.Stage != StateStandardRetrieve {
		t.Errorf("expected RetrievalError at %s, got %v", StateStandardRetrieve, err)
	}
}

func TestRetrieve_EmptyQuery(t *testing.T) {
	f := newFixture(t)
	r := f.retriever(t, DefaultOptions())
	if _, err := r.Retrieve(context.Background(), &models.RetrievalQuery{SessionID: "s1", Query: "  \n"}); !errors.Is(err, ErrEmptyQuery) {
		t.Errorf("expected ErrEmptyQuery, got %v", err)
	}
}

func TestRetrieve_Cache(t *testing.T) {
	f := newFixture(t)
	r := f.retriever(t, DefaultOptions(), WithClassifier(nil))
	ctx := context.Background()
	q := &models.RetrievalQuery{SessionID: "s1", Query: chunkTexts[0]}

	first, err := r.Retrieve(ctx, q)
	if err != nil {
		t.Fatal(err)
	}
	if first.Cached {
		t.Error("first result should not be cached")
	}
	second, err := r.Retrieve(ctx, &models.RetrievalQuery{SessionID: "s1", Query: "  " + chunkTexts[0]})
	if err != nil {
		t.Fatal(err)
	}
	if !second.Cached || second.TopScore != first.TopScore {
		t.Errorf("expected cached copy, got cached=%v", second.Cached)
	}
	if first.Cached {
		t.Error("cache hit must not mutate the stored result")
	}

	wantTop := second.FusedSources[0]
	for _, res := range []*models.RetrievalResult{first, second} {
		res.FusedSources[0].Score = -1
		res.FusedSources[0].Text = "değiştirildi"
		res.States[0] = "MUTATED"
	}
	third, err := r.Retrieve(ctx, q)
	if err != nil {
		t.Fatal(err)
	}
	if !third.Cached || third.FusedSources[0] != wantTop || third.States[0] != string(StateClassify) {
		t.Errorf("callers mutating results changed the cached entry: %+v %v", third.FusedSources[0], third.States)
	}

	bypass, err := r.Retrieve(ctx, &models.RetrievalQuery{SessionID: "s1", Query: chunkTexts[0], NoCache: true})
	if err != nil {
		t.Fatal(err)
	}
	if bypass.Cached {
		t.Error("NoCache should bypass the cache")
	}

	r.InvalidateCache()
	again, err := r.Retrieve(ctx, q)
	if err != nil {
		t.Fatal(err)
	}
	if again.Cached {
		t.Error("invalidated cache should miss")
	}
}

func TestRetrieve_ClassifierNarrowsTopics(t *testing.T) {
	f := newFixture(t)
	idx, err := keyword.NewBleveIndex("")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = idx.Close() })
	topics, err := f.store.ListTopics(context.Background(), "s1")
	if err != nil {
		t.Fatal(err)
	}
	for _, tp := range topics {
		if err := idx.Index(context.Background(), keyword.TopicRecord(tp)); err != nil {
			t.Fatal(err)
		}
	}

	r := f.retriever(t, DefaultOptions(), WithClassifier(NewKeywordClassifier(idx)))
	res, err := r.Retrieve(context.Background(), &models.RetrievalQuery{SessionID: "s1", Query: "fotosentez nerede olur"})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.MatchedTopics) != 1 || res.MatchedTopics[0].TopicID != "t_photo" || res.MatchedTopics[0].Confidence != 1 {
		t.Fatalf("matched = %+v", res.MatchedTopics)
	}
	for _, s := range res.FusedSources {
		if s.Kind == models.SourceChunk && s.ID != "c2" {
			t.Errorf("chunk %s outside the matched topic", s.ID)
		}
	}
}

func TestEmbeddingClassifier(t *testing.T) {
	emb := embedding.NewMockEmbedder(dim)
	topics := []*models.Topic{
		{ID: "a", Title: "Hücre yapısı", Keywords: []string{"zar"}},
		{ID: "b", Title: "Fotosentez"},
	}
	got, err := NewEmbeddingClassifier(emb).Classify(context.Background(), "s1", "Fotosentez", topics)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].TopicID != "b" || got[0].Confidence < 0.999 {
		t.Errorf("identical title should match best with confidence 1: %+v", got)
	}
}

func TestLLMClassifier(t *testing.T) {
	client := llm.NewMockClient(func(context.Context, []llm.Message) (string, error) {
		return `[{"topic_id": "ghost", "confidence": 0.9}, {"topic_id": "a", "confidence": 0.4}, {"topic_id": "b", "confidence": 1.3}]`, nil
	})
	topics := []*models.Topic{{ID: "a", Title: "A"}, {ID: "b", Title: "B"}}
	c := NewLLMClassifier(client, retry.Policy{MaxAttempts: 1, BaseDelay: time.Millisecond})
	got, err := c.Classify(context.Background(), "s1", "q", topics)
	if err != nil {
		t.Fatal(err)
	}
	want := []models.TopicMatch{{TopicID: "b", Title: "B", Confidence: 1}, {TopicID: "a", Title: "A", Confidence: 0.4}}
	if !slices.Equal(got, want) {
		t.Errorf("got %+v, want %+v", got, want)
	}
}

func TestNewClassifier(t *testing.T) {
	tests := []struct {
		name    string
		wantErr bool
	}{
		{"embedding", false},
		{"llm", true},
		{"keyword", true},
		{"oracle", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewClassifier(tt.name, embedding.NewMockEmbedder(dim), nil, nil, retry.Policy{})
			if (err != nil) != tt.wantErr {
				t.Errorf("error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestNew_ZeroOptionsUseDefaults(t *testing.T) {
	f := newFixture(t)
	r, err := New(f.store, f.embedder, f.vectors, Options{})
	if err != nil {
		t.Fatalf("zero options rejected: %v", err)
	}
	if r.opts != DefaultOptions() {
		t.Errorf("opts = %+v, want defaults", r.opts)
	}
	if _, err := New(f.store, f.embedder, f.vectors, Options{Weights: Weights{Chunk: 0.5, KB: 0.1, QA: 0.1}}); err == nil {
		t.Error("weights that do not sum to 1 should still be rejected")
	}
}

type kbFailingStore struct {
	storage.Storage
}

func (kbFailingStore) GetKnowledgeBase(context.Context, string) (*models.KnowledgeBaseEntry, error) {
	return nil, errors.New("database is locked")
}

func TestRetrieve_KnowledgeBaseStorageError(t *testing.T) {
	tests := []struct {
		name  string
		query *models.RetrievalQuery
		sim   float64
		stage State
	}{
		{
			name:  "standard path",
			query: &models.RetrievalQuery{SessionID: "s1", Query: chunkTexts[0], TopicIDs: []string{"t_cell"}, NoFastPath: true},
			sim:   0,
			stage: StateStandardRetrieve,
		},
		{
			name:  "fast path",
			query: &models.RetrievalQuery{SessionID: "s1", Query: "Hücre zarı neden oluşur?"},
			sim:   1,
			stage: StateFastAnswer,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			r, err := New(kbFailingStore{f.store}, f.embedder, f.vectors, DefaultOptions(),
				WithClassifier(nil), WithSimilarity(fixedSim(tt.sim)))
			if err != nil {
				t.Fatal(err)
			}
			_, err = r.Retrieve(context.Background(), tt.query)
			var rerr *RetrievalError
			if !errors.As(err, &rerr) || rerr.Stage != tt.stage {
				t.Fatalf("expected RetrievalError at %s, got %v", tt.stage, err)
			}
		})
	}
}

func TestRetrieve_TopicWithoutKnowledgeBase(t *testing.T) {
	f := newFixture(t)
	r := f.retriever(t, DefaultOptions(), WithClassifier(nil))
	res, err := r.Retrieve(context.Background(), &models.RetrievalQuery{
		SessionID: "s1", Query: chunkTexts[2], TopicIDs: []string{"t_photo"},
	})
	if err != nil {
		t.Fatalf("a topic without a summary is not an error: %v", err)
	}
	for _, s := range res.FusedSources {
		if s.Kind == models.SourceKB {
			t.Errorf("unexpected knowledge base source %+v", s)
		}
	}
}

func TestRetrieve_TopicWithoutChunks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if err := f.store.AppendTopics(ctx, []*models.Topic{{ID: "t_empty", SessionID: "s1", Title: "Boş konu", Order: 3}}); err != nil {
		t.Fatal(err)
	}
	r := f.retriever(t, DefaultOptions(), WithClassifier(nil))
	res, err := r.Retrieve(ctx, &models.RetrievalQuery{
		SessionID: "s1", Query: chunkTexts[1], TopicIDs: []string{"t_empty"}, AutoFallback: new(bool),
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Fallback != FallbackTopicUnscoped {
		t.Errorf("fallback = %q, want %q", res.Fallback, FallbackTopicUnscoped)
	}
	if !res.Accept || res.FusedSources[0].ID != "c1" {
		t.Errorf("expected the session-wide search to find c1: %+v", res.FusedSources)
	}
	if res.FusedSources[0].TopicID != "" {
		t.Errorf("chunk attributed to topic %q", res.FusedSources[0].TopicID)
	}
}
