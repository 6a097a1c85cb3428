package keyword

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/hyperjump/bilgi/internal/models"
)

func seedIndex(t *testing.T) *BleveIndex {
	t.Helper()
	idx, err := NewBleveIndex("")
	if err != nil {
		t.Fatalf("NewBleveIndex: %v", err)
	}
	t.Cleanup(func() { _ = idx.Close() })

	recs := []*Record{
		TopicRecord(&models.Topic{ID: "topic_1", SessionID: "s1", Title: "Hücre Zarı", Keywords: []string{"fosfolipit", "geçirgenlik"}}),
		TopicRecord(&models.Topic{ID: "topic_2", SessionID: "s1", Title: "İyonik Bağlar", Keywords: []string{"elektron", "katyon"}}),
		TopicRecord(&models.Topic{ID: "topic_3", SessionID: "s2", Title: "Photosynthesis", Keywords: []string{"chlorophyll", "light"}}),
		QARecord(&models.QAPair{ID: "qa_1", SessionID: "s1", TopicID: "topic_1", Question: "Hücre zarı neden seçici geçirgendir?", Answer: "Fosfolipit çift katman nedeniyle."}),
	}
	if err := idx.IndexBatch(context.Background(), recs); err != nil {
		t.Fatalf("IndexBatch: %v", err)
	}
	return idx
}

func TestBleveIndex_SearchFilters(t *testing.T) {
	idx := seedIndex(t)
	ctx := context.Background()

	tests := []struct {
		name  string
		query string
		opts  *SearchOptions
		want  []string
	}{
		{"keyword match", "fosfolipit", &SearchOptions{Kind: KindTopic}, []string{"topic_1"}},
		{"turkish capital i folds", "iyonik", nil, []string{"topic_2"}},
		{"session filter excludes", "photosynthesis", &SearchOptions{SessionID: "s1"}, nil},
		{"session filter includes", "photosynthesis", &SearchOptions{SessionID: "s2"}, []string{"topic_3"}},
		{"qa by topic", "geçirgendir", &SearchOptions{Kind: KindQA, TopicIDs: []string{"topic_1"}}, []string{"qa_1"}},
		{"qa wrong topic", "geçirgendir", &SearchOptions{Kind: KindQA, TopicIDs: []string{"topic_2"}}, nil},
		{"empty query", "  ", nil, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			results, err := idx.Search(ctx, tt.query, 10, tt.opts)
			if err != nil {
				t.Fatalf("Search: %v", err)
			}
			if len(results) != len(tt.want) {
				t.Fatalf("got %d results, want %d", len(results), len(tt.want))
			}
			for i, id := range tt.want {
				if results[i].ID != id {
					t.Errorf("results[%d]=%q, want %q", i, results[i].ID, id)
				}
			}
		})
	}
}

func TestBleveIndex_StoredFields(t *testing.T) {
	idx := seedIndex(t)
	results, err := idx.Search(context.Background(), "seçici", 5, &SearchOptions{Kind: KindQA})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 {
		t.Fatalf("got %d results", len(results))
	}
	if results[0].Kind != KindQA || results[0].TopicID != "topic_1" {
		t.Errorf("result=%+v", results[0])
	}
}

func TestBleveIndex_Fuzzy(t *testing.T) {
	idx := seedIndex(t)
	results, err := idx.Search(context.Background(), "chlorophyl", 5, &SearchOptions{FuzzyEnabled: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) == 0 || results[0].ID != "topic_3" {
		t.Errorf("fuzzy results=%v", results)
	}
}

func TestBleveIndex_Delete(t *testing.T) {
	idx := seedIndex(t)
	ctx := context.Background()
	if err := idx.Delete(ctx, []string{"topic_1", "qa_1"}); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	results, err := idx.Search(ctx, "fosfolipit", 10, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 0 {
		t.Errorf("expected 0 results after delete, got %d", len(results))
	}
	n, _ := idx.DocCount()
	if n != 2 {
		t.Errorf("DocCount=%d, want 2", n)
	}
}

func TestNewBleveIndex_ReopenKeepsRecords(t *testing.T) {
	indexPath := filepath.Join(t.TempDir(), "sub", "bleve")
	ctx := context.Background()

	idx1, err := NewBleveIndex(indexPath)
	if err != nil {
		t.Fatalf("NewBleveIndex: %v", err)
	}
	if err := idx1.Index(ctx, &Record{ID: "r1", Kind: KindTopic, Title: "uniqueword"}); err != nil {
		t.Fatal(err)
	}
	if err := idx1.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(indexPath); err != nil {
		t.Errorf("index path should exist: %v", err)
	}

	idx2, err := NewBleveIndex(indexPath)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer idx2.Close()
	results, err := idx2.Search(ctx, "uniqueword", 10, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 {
		t.Errorf("got %d results after reopen, want 1", len(results))
	}
}
