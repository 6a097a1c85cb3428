package knowledge

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/hyperjump/bilgi/internal/keyword"
	"github.com/hyperjump/bilgi/internal/llm"
	"github.com/hyperjump/bilgi/internal/models"
	"github.com/hyperjump/bilgi/internal/retry"
	"github.com/hyperjump/bilgi/internal/storage"
)

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestSummaryFit(t *testing.T) {
	tests := []struct {
		words int
		want  float64
	}{
		{0, 0},
		{75, 0.5},
		{150, 1},
		{400, 1},
		{800, 0.5},
	}
	for _, tt := range tests {
		if got := summaryFit(tt.words, 150, 400); !approx(got, tt.want) {
			t.Errorf("summaryFit(%d) = %v, want %v", tt.words, got, tt.want)
		}
	}
}

func TestObjectivesFit(t *testing.T) {
	obj := func(levels ...models.BloomLevel) []models.LearningObjective {
		out := make([]models.LearningObjective, len(levels))
		for i, l := range levels {
			out[i] = models.LearningObjective{Level: l, Statement: "s"}
		}
		return out
	}
	tests := []struct {
		name string
		objs []models.LearningObjective
		want float64
	}{
		{"none", nil, 0},
		{"four objectives one level", obj(models.BloomRemember, models.BloomRemember, models.BloomRemember, models.BloomRemember), (1 + 1.0/3) / 2},
		{"two objectives two levels", obj(models.BloomRemember, models.BloomApply), (0.5 + 2.0/3) / 2},
		{"full", obj(models.BloomRemember, models.BloomUnderstand, models.BloomApply, models.BloomApply), 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := objectivesFit(tt.objs, 4, 3); !approx(got, tt.want) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDistributionScale(t *testing.T) {
	tests := []struct {
		total int
		want  Distribution
	}{
		{15, Distribution{5, 7, 3}},
		{6, Distribution{2, 3, 1}},
		{30, Distribution{10, 14, 6}},
		{0, Distribution{}},
	}
	for _, tt := range tests {
		got := DefaultDistribution().Scale(tt.total)
		if got != tt.want {
			t.Errorf("Scale(%d) = %+v, want %+v", tt.total, got, tt.want)
		}
		if tt.total > 0 && got.Total() != tt.total {
			t.Errorf("Scale(%d) total = %d", tt.total, got.Total())
		}
	}
}

func TestQualityWeightsSumToOne(t *testing.T) {
	if sum := WeightSummary + WeightConcepts + WeightObjectives + WeightQA; !approx(sum, 1) {
		t.Errorf("weights sum to %v", sum)
	}
}

func newTestStore(t *testing.T) storage.Storage {
	t.Helper()
	store, err := storage.NewSQLiteStorage(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// seedTopic stores a document with two chunks and a topic covering them.
func seedTopic(t *testing.T, store storage.Storage, withChunks bool) *models.Topic {
	t.Helper()
	ctx := context.Background()
	if err := store.CreateDocument(ctx, &models.Document{ID: "doc1", SessionID: "s1", Title: "Biyoloji", Content: "x"}); err != nil {
		t.Fatal(err)
	}
	chunks := []*models.Chunk{
		{ID: "doc1_0", DocumentID: "doc1", SessionID: "s1", Index: 0, Text: "Hücre zarı fosfolipit çift katmandan oluşur."},
		{ID: "doc1_1", DocumentID: "doc1", SessionID: "s1", Index: 1, Text: "Mitokondri hücrenin enerji santralidir."},
	}
	if err := store.BatchCreateChunks(ctx, chunks); err != nil {
		t.Fatal(err)
	}
	topic := &models.Topic{ID: "topic1", SessionID: "s1", Title: "Hücre", Keywords: []string{"zar", "mitokondri"}, Difficulty: models.DifficultyBeginner}
	if withChunks {
		topic.RelatedChunkIDs = []string{"doc1_0", "doc1_1"}
	}
	if err := store.ReplaceTopics(ctx, "s1", []*models.Topic{topic}); err != nil {
		t.Fatal(err)
	}
	return topic
}

func testOptions() Options {
	o := DefaultOptions()
	o.Retry = retry.Policy{MaxAttempts: 1, BaseDelay: time.Millisecond}
	return o
}

func kbResponder(failConcepts bool) func(context.Context, []llm.Message) (string, error) {
	return func(_ context.Context, msgs []llm.Message) (string, error) {
		switch msgs[0].Content {
		case summaryPrompt:
			return `{"summary": "` + strings.TrimSpace(strings.Repeat("kelime ", 200)) + `"}`, nil
		case conceptsPrompt:
			if failConcepts {
				return "", errors.New("upstream timeout")
			}
			return "```json\n" + `{"key_concepts": [
				{"term": "Zar", "definition": "d", "importance": "high"},
				{"term": "Fosfolipit", "definition": "d", "importance": "medium"},
				{"term": "Mitokondri", "definition": "d", "importance": "yüksek"},
				{"term": "ATP", "definition": "d", "importance": "low"},
				{"term": "Ribozom", "definition": "d"},
				{"term": "zar", "definition": "duplicate"}
			]}` + "\n```", nil
		case objectivesPrompt:
			return `{"learning_objectives": [
				{"bloom_level": "remember", "statement": "Zarın yapısını hatırlar."},
				{"bloom_level": "understand", "statement": "Enerji üretimini açıklar."},
				{"bloom_level": "apply", "statement": "Osmozu uygular."},
				{"bloom_level": "analyze", "statement": "Organelleri karşılaştırır."}
			]}`, nil
		case examplesPrompt:
			return `{"examples": ["Kırmızı kan hücresi tuzlu suda büzülür.", " "]}`, nil
		}
		return "", errors.New("unexpected prompt")
	}
}

func TestExtractKnowledgeBase(t *testing.T) {
	store := newTestStore(t)
	seedTopic(t, store, true)
	client := llm.NewMockClient(kbResponder(false))
	e := NewExtractor(client, store, testOptions())
	ctx := context.Background()

	entry, err := e.ExtractKnowledgeBase(ctx, "topic1", false)
	if err != nil {
		t.Fatal(err)
	}
	if len(entry.KeyConcepts) != 5 {
		t.Errorf("expected 5 deduplicated concepts, got %d", len(entry.KeyConcepts))
	}
	if entry.KeyConcepts[2].Importance != models.ImportanceHigh || entry.KeyConcepts[4].Importance != models.ImportanceMedium {
		t.Errorf("importance not parsed: %+v", entry.KeyConcepts)
	}
	if len(entry.LearningObjectives) != 4 || len(entry.Examples) != 1 {
		t.Errorf("objectives=%d examples=%d", len(entry.LearningObjectives), len(entry.Examples))
	}
	// No QA pairs yet, so only the first three parts contribute.
	if !approx(entry.QualityScore, 0.75) {
		t.Errorf("quality = %v, want 0.75", entry.QualityScore)
	}
	if client.Calls() != 4 {
		t.Errorf("expected 4 LLM calls, got %d", client.Calls())
	}
	for _, p := range client.Prompts() {
		if !strings.Contains(p, "Mitokondri hücrenin enerji santralidir.") {
			t.Errorf("prompt is missing topic material: %q", p)
		}
	}

	again, err := e.ExtractKnowledgeBase(ctx, "topic1", false)
	if err != nil {
		t.Fatal(err)
	}
	if again.ID != entry.ID || client.Calls() != 4 {
		t.Errorf("stored entry should be returned without LLM calls (calls=%d)", client.Calls())
	}

	forced, err := e.ExtractKnowledgeBase(ctx, "topic1", true)
	if err != nil {
		t.Fatal(err)
	}
	if forced.ID != entry.ID || client.Calls() != 8 {
		t.Errorf("force should rebuild in place: id=%s calls=%d", forced.ID, client.Calls())
	}
}

func TestExtractKnowledgeBase_FailedPart(t *testing.T) {
	store := newTestStore(t)
	seedTopic(t, store, true)
	e := NewExtractor(llm.NewMockClient(kbResponder(true)), store, testOptions())

	entry, err := e.ExtractKnowledgeBase(context.Background(), "topic1", false)
	if err != nil {
		t.Fatalf("a failed part must not fail the entry: %v", err)
	}
	if len(entry.KeyConcepts) != 0 {
		t.Errorf("expected empty concepts, got %d", len(entry.KeyConcepts))
	}
	if !approx(entry.QualityScore, 0.50) {
		t.Errorf("quality = %v, want 0.50", entry.QualityScore)
	}
}

func TestExtractKnowledgeBase_NoMaterial(t *testing.T) {
	store := newTestStore(t)
	seedTopic(t, store, false)
	client := llm.NewMockClient(kbResponder(false))
	e := NewExtractor(client, store, testOptions())

	_, err := e.ExtractKnowledgeBase(context.Background(), "topic1", false)
	if !errors.Is(err, ErrNoMaterial) {
		t.Fatalf("expected ErrNoMaterial, got %v", err)
	}
	if client.Calls() != 0 {
		t.Errorf("no LLM call expected, got %d", client.Calls())
	}
}

func TestExtractKnowledgeBase_UnknownTopic(t *testing.T) {
	store := newTestStore(t)
	e := NewExtractor(llm.NewMockClient(kbResponder(false)), store, testOptions())
	_, err := e.ExtractKnowledgeBase(context.Background(), "missing", false)
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected storage.ErrNotFound, got %v", err)
	}
}

func qaResponder(t *testing.T) func(context.Context, []llm.Message) (string, error) {
	return func(_ context.Context, msgs []llm.Message) (string, error) {
		sys, user := msgs[0].Content, llm.LastUserMessage(msgs)
		if sys == qaCheckPrompt {
			if strings.Contains(user, "QUESTION: Ribozom") {
				return `{"clarity": 0.2, "grounding": 0.4, "bloom_fit": 0.3}`, nil
			}
			if strings.Contains(user, "QUESTION: Osmoz") {
				return `{"clarity": 0.9}`, nil
			}
			return `{"clarity": 0.9, "grounding": 0.9, "bloom_fit": 0.9}`, nil
		}
		switch {
		case strings.Contains(sys, "exactly 1 question-answer pairs at beginner"):
			return `{"qa_pairs": [{"question": "Hücre zarı hangi moleküllerden oluşur?", "answer": "Fosfolipitlerden.", "bloom_level": "remember"}]}`, nil
		case strings.Contains(sys, "exactly 2 question-answer pairs at intermediate"):
			return `{"qa_pairs": [
				{"question": "Mitokondri enerjiyi nasıl üretir?", "answer": "Hücresel solunumla.", "bloom_level": "understand"},
				{"question": "Ribozom protein sentezinde hangi görevi üstlenir?", "answer": "Çeviri.", "bloom_level": "understand"}
			]}`, nil
		case strings.Contains(sys, "exactly 2 question-answer pairs at advanced"):
			return `{"qa_pairs": [
				{"question": "Osmoz dengesi bozulursa ne olur?", "answer": "Hücre büzülür.", "bloom_level": "analyze"},
				{"question": "Aktif taşıma neden enerji gerektirir?", "answer": "Derişim farkına karşı çalışır.", "bloom_level": "evaluate"}
			]}`, nil
		}
		t.Errorf("unexpected prompt: %q", sys)
		return "", errors.New("unexpected prompt")
	}
}

func TestGenerateQAPairs(t *testing.T) {
	store := newTestStore(t)
	seedTopic(t, store, true)
	ctx := context.Background()

	stored := &models.QAPair{ID: "qa_old", TopicID: "topic1", SessionID: "s1",
		Question: "Hücre zarı hangi moleküllerden oluşur?", Answer: "Lipitler.", QualityScore: 0.6}
	if err := store.CreateQAPairs(ctx, []*models.QAPair{stored}); err != nil {
		t.Fatal(err)
	}
	if err := store.UpsertKnowledgeBase(ctx, &models.KnowledgeBaseEntry{ID: "kb1", TopicID: "topic1"}); err != nil {
		t.Fatal(err)
	}

	idx, err := keyword.NewBleveIndex("")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = idx.Close() })

	e := NewExtractor(llm.NewMockClient(qaResponder(t)), store, testOptions(), WithKeywordIndex(idx))
	pairs, report, err := e.GenerateQAPairs(ctx, "topic1", 5, Distribution{Beginner: 1, Intermediate: 2, Advanced: 2})
	if err != nil {
		t.Fatal(err)
	}

	want := QAReport{Requested: 5, Generated: 5, Accepted: 2, RejectedQuality: 1, RejectedDuplicate: 1, FailedChecks: 1}
	if *report != want {
		t.Errorf("report = %+v, want %+v", *report, want)
	}
	var questions []string
	for _, p := range pairs {
		questions = append(questions, p.Question)
		if p.SessionID != "s1" || p.TopicID != "topic1" {
			t.Errorf("pair not attached to topic: %+v", p)
		}
		if !approx(p.QualityScore, 0.9) {
			t.Errorf("quality = %v, want 0.9", p.QualityScore)
		}
	}
	if len(pairs) != 2 || pairs[0].Difficulty != models.DifficultyIntermediate || pairs[1].Difficulty != models.DifficultyAdvanced {
		t.Fatalf("unexpected accepted pairs: %v", questions)
	}
	if pairs[1].BloomLevel != models.BloomEvaluate {
		t.Errorf("bloom level = %s", pairs[1].BloomLevel)
	}

	all, err := store.ListQAPairsByTopic(ctx, "topic1")
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 {
		t.Errorf("expected 3 stored pairs, got %d", len(all))
	}

	hits, err := idx.Search(ctx, "mitokondri enerjiyi", 5, &keyword.SearchOptions{Kind: keyword.KindQA})
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) == 0 || hits[0].ID != pairs[0].ID {
		t.Errorf("accepted pair not indexed: %+v", hits)
	}

	kb, err := store.GetKnowledgeBase(ctx, "topic1")
	if err != nil {
		t.Fatal(err)
	}
	if !approx(kb.QualityScore, WeightQA*0.8) {
		t.Errorf("knowledge base quality = %v, want %v", kb.QualityScore, WeightQA*0.8)
	}
}

func TestGenerateQAPairs_DuplicatesWithinRun(t *testing.T) {
	store := newTestStore(t)
	seedTopic(t, store, true)
	client := llm.NewMockClient(func(_ context.Context, msgs []llm.Message) (string, error) {
		if msgs[0].Content == qaCheckPrompt {
			return `{"clarity": 1, "grounding": 1, "bloom_fit": 1}`, nil
		}
		return `{"qa_pairs": [
			{"question": "Mitokondri nedir?", "answer": "Organel."},
			{"question": "mitokondri NEDİR?", "answer": "Bir organel."},
			{"question": "Mitokondri nedir?", "answer": "Enerji üretir."}
		]}`, nil
	})
	e := NewExtractor(client, store, testOptions())

	pairs, report, err := e.GenerateQAPairs(context.Background(), "topic1", 3, Distribution{Beginner: 3})
	if err != nil {
		t.Fatal(err)
	}
	if len(pairs) != 1 || report.RejectedDuplicate != 2 {
		t.Errorf("pairs=%d report=%+v", len(pairs), report)
	}
	if pairs[0].BloomLevel != models.BloomUnderstand {
		t.Errorf("missing bloom level should default to understand, got %s", pairs[0].BloomLevel)
	}
}
