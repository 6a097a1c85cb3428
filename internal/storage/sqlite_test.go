package storage

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/hyperjump/bilgi/internal/models"
)

func newTestStore(t *testing.T) *SQLiteStorage {
	t.Helper()
	store, err := NewSQLiteStorage(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func seedDocument(t *testing.T, store *SQLiteStorage, id, session string, nChunks int) []*models.Chunk {
	t.Helper()
	ctx := context.Background()
	if err := store.CreateDocument(ctx, &models.Document{ID: id, SessionID: session, Title: id, Content: "content"}); err != nil {
		t.Fatal(err)
	}
	chunks := make([]*models.Chunk, nChunks)
	for i := range chunks {
		chunks[i] = &models.Chunk{
			ID:             id + "_c" + string(rune('0'+i)),
			DocumentID:     id,
			SessionID:      session,
			Index:          i,
			Text:           "chunk text",
			CharStart:      i * 10,
			CharEnd:        i*10 + 10,
			QualityScore:   0.8,
			Quality:        models.QualityBreakdown{SentenceBoundary: 1, SizeOptimization: 0.5},
			LowQuality:     i == 1,
			EmbeddingModel: "mock-8",
		}
	}
	if err := store.BatchCreateChunks(ctx, chunks); err != nil {
		t.Fatal(err)
	}
	return chunks
}

func TestSQLiteStorage_Documents(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "test.db")
	store, err := NewSQLiteStorage(path)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	ctx := context.Background()

	doc := &models.Document{ID: "doc1", SessionID: "s1", Title: "Title", Content: "Content", Metadata: map[string]interface{}{"k": "v"}}
	if err := store.CreateDocument(ctx, doc); err != nil {
		t.Fatal(err)
	}
	if doc.CreatedAt.IsZero() {
		t.Error("CreatedAt should be set")
	}
	got, err := store.GetDocument(ctx, "doc1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Title != "Title" || got.SessionID != "s1" || got.Metadata["k"] != "v" {
		t.Errorf("got %+v", got)
	}

	list, err := store.ListDocuments(ctx, "s1", 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 {
		t.Errorf("expected 1 doc, got %d", len(list))
	}
	list, _ = store.ListDocuments(ctx, "other", 0, 10)
	if len(list) != 0 {
		t.Errorf("expected 0 docs for other session, got %d", len(list))
	}

	if err := store.DeleteDocument(ctx, "doc1"); err != nil {
		t.Fatal(err)
	}
	if _, err := store.GetDocument(ctx, "doc1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err=%v, want ErrNotFound", err)
	}
}

func TestSQLiteStorage_Chunks(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	chunks := seedDocument(t, store, "doc1", "s1", 3)
	seedDocument(t, store, "doc2", "s2", 2)

	got, err := store.GetChunksByDocumentID(ctx, "doc1")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d chunks", len(got))
	}
	for i, c := range got {
		if c.Index != i {
			t.Errorf("chunk %d has index %d", i, c.Index)
		}
	}
	if !got[1].LowQuality || got[0].LowQuality {
		t.Error("low_quality flag not round-tripped")
	}
	if got[0].Quality.SentenceBoundary != 1 || got[0].Quality.SizeOptimization != 0.5 {
		t.Errorf("quality=%+v", got[0].Quality)
	}

	bySession, err := store.GetChunksBySession(ctx, "s2")
	if err != nil {
		t.Fatal(err)
	}
	if len(bySession) != 2 {
		t.Errorf("session chunks=%d, want 2", len(bySession))
	}

	byID, err := store.GetChunksByIDs(ctx, []string{chunks[0].ID, chunks[2].ID, "missing"})
	if err != nil {
		t.Fatal(err)
	}
	if len(byID) != 2 {
		t.Errorf("by id=%d, want 2", len(byID))
	}

	if err := store.UpdateChunkEmbeddingModel(ctx, chunks[0].ID, "text-embedding-3-small"); err != nil {
		t.Fatal(err)
	}
	got, _ = store.GetChunksByDocumentID(ctx, "doc1")
	if got[0].EmbeddingModel != "text-embedding-3-small" || got[0].Text != "chunk text" {
		t.Errorf("after update: %+v", got[0])
	}
	if err := store.UpdateChunkEmbeddingModel(ctx, "missing", "m"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err=%v, want ErrNotFound", err)
	}

	if err := store.DeleteDocument(ctx, "doc1"); err != nil {
		t.Fatal(err)
	}
	got, _ = store.GetChunksByDocumentID(ctx, "doc1")
	if len(got) != 0 {
		t.Errorf("chunks should cascade on document delete, got %d", len(got))
	}
}

func TestSQLiteStorage_Topics(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first := []*models.Topic{
		{ID: "t1", SessionID: "s1", Title: "Atoms", Order: 0, Keywords: []string{"proton"}, Difficulty: models.DifficultyBeginner},
		{ID: "t2", SessionID: "s1", Title: "Bonds", Order: 1, Prerequisites: []string{"t1"}, Difficulty: models.DifficultyIntermediate},
	}
	if err := store.ReplaceTopics(ctx, "s1", first); err != nil {
		t.Fatal(err)
	}
	if err := store.UpsertKnowledgeBase(ctx, &models.KnowledgeBaseEntry{ID: "kb1", TopicID: "t1", Summary: "s"}); err != nil {
		t.Fatal(err)
	}

	topics, err := store.ListTopics(ctx, "s1")
	if err != nil {
		t.Fatal(err)
	}
	if len(topics) != 2 || topics[0].ID != "t1" || topics[1].Prerequisites[0] != "t1" {
		t.Fatalf("topics=%+v", topics)
	}

	if err := store.AppendTopics(ctx, []*models.Topic{{ID: "t3", SessionID: "s1", Title: "Reactions", Order: 2}}); err != nil {
		t.Fatal(err)
	}
	topics, _ = store.ListTopics(ctx, "s1")
	if len(topics) != 3 {
		t.Errorf("after append: %d topics", len(topics))
	}

	topics[2].Title = "Chemical Reactions"
	if err := store.UpdateTopic(ctx, topics[2]); err != nil {
		t.Fatal(err)
	}
	got, err := store.GetTopic(ctx, "t3")
	if err != nil {
		t.Fatal(err)
	}
	if got.Title != "Chemical Reactions" {
		t.Errorf("title=%q", got.Title)
	}

	if err := store.ReplaceTopics(ctx, "s1", []*models.Topic{{ID: "t9", SessionID: "s1", Title: "Only"}}); err != nil {
		t.Fatal(err)
	}
	topics, _ = store.ListTopics(ctx, "s1")
	if len(topics) != 1 || topics[0].ID != "t9" {
		t.Errorf("after replace: %+v", topics)
	}
	if _, err := store.GetKnowledgeBase(ctx, "t1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("knowledge base should cascade with its topic, err=%v", err)
	}
}

func TestSQLiteStorage_KnowledgeBase(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	if err := store.AppendTopics(ctx, []*models.Topic{{ID: "t1", SessionID: "s1", Title: "Cells"}}); err != nil {
		t.Fatal(err)
	}

	entry := &models.KnowledgeBaseEntry{
		ID:                 "kb1",
		TopicID:            "t1",
		Summary:            "first",
		KeyConcepts:        []models.KeyConcept{{Term: "membrane", Definition: "boundary", Importance: models.ImportanceHigh}},
		LearningObjectives: []models.LearningObjective{{Level: models.BloomRemember, Statement: "list organelles"}},
		Examples:           []string{"red blood cell"},
		QualityScore:       0.5,
	}
	if err := store.UpsertKnowledgeBase(ctx, entry); err != nil {
		t.Fatal(err)
	}
	entry.Summary = "second"
	entry.QualityScore = 0.9
	if err := store.UpsertKnowledgeBase(ctx, entry); err != nil {
		t.Fatal(err)
	}

	got, err := store.GetKnowledgeBase(ctx, "t1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Summary != "second" || got.QualityScore != 0.9 {
		t.Errorf("got %+v", got)
	}
	if len(got.KeyConcepts) != 1 || got.KeyConcepts[0].Importance != models.ImportanceHigh {
		t.Errorf("concepts=%+v", got.KeyConcepts)
	}
	if len(got.LearningObjectives) != 1 || got.LearningObjectives[0].Level != models.BloomRemember {
		t.Errorf("objectives=%+v", got.LearningObjectives)
	}
	counts, _ := store.Counts(ctx)
	if counts.Knowledge != 1 || counts.Topics != 1 {
		t.Errorf("counts=%+v", counts)
	}
}

func TestSQLiteStorage_QAPairs(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	if err := store.AppendTopics(ctx, []*models.Topic{
		{ID: "t1", SessionID: "s1", Title: "Cells"},
		{ID: "t2", SessionID: "s1", Title: "Tissues"},
	}); err != nil {
		t.Fatal(err)
	}
	pairs := []*models.QAPair{
		{ID: "qa1", TopicID: "t1", SessionID: "s1", Question: "Q1", Answer: "A1", Difficulty: models.DifficultyBeginner, BloomLevel: models.BloomRemember},
		{ID: "qa2", TopicID: "t1", SessionID: "s1", Question: "Q2", Answer: "A2", Difficulty: models.DifficultyAdvanced, BloomLevel: models.BloomAnalyze},
		{ID: "qa3", TopicID: "t2", SessionID: "s1", Question: "Q3", Answer: "A3"},
	}
	if err := store.CreateQAPairs(ctx, pairs); err != nil {
		t.Fatal(err)
	}

	byTopic, err := store.ListQAPairsByTopic(ctx, "t1")
	if err != nil {
		t.Fatal(err)
	}
	if len(byTopic) != 2 || byTopic[1].BloomLevel != models.BloomAnalyze {
		t.Errorf("byTopic=%+v", byTopic)
	}
	bySession, _ := store.ListQAPairsBySession(ctx, "s1")
	if len(bySession) != 3 {
		t.Errorf("bySession=%d", len(bySession))
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := store.IncrementTimesAsked(ctx, "qa1"); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()
	got, _ := store.GetQAPair(ctx, "qa1")
	if got.TimesAsked != 10 {
		t.Errorf("TimesAsked=%d, want 10", got.TimesAsked)
	}

	if _, err := store.RateQAPair(ctx, "qa1", 4); err != nil {
		t.Fatal(err)
	}
	rated, err := store.RateQAPair(ctx, "qa1", 2)
	if err != nil {
		t.Fatal(err)
	}
	if rated.RatingCount != 2 || rated.AverageRating != 3 {
		t.Errorf("rating=%v count=%d", rated.AverageRating, rated.RatingCount)
	}
	if _, err := store.RateQAPair(ctx, "missing", 5); !errors.Is(err, ErrNotFound) {
		t.Errorf("err=%v, want ErrNotFound", err)
	}
	if err := store.IncrementTimesAsked(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err=%v, want ErrNotFound", err)
	}
}
