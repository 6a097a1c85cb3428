package retrieval

import (
	"math"
	"testing"
	"time"

	"github.com/hyperjump/bilgi/internal/keyword"
	"github.com/hyperjump/bilgi/internal/models"
)

func TestWeightsValidate(t *testing.T) {
	tests := []struct {
		name    string
		w       Weights
		wantErr bool
	}{
		{"default", DefaultWeights(), false},
		{"chunk only", Weights{Chunk: 1}, false},
		{"sum above one", Weights{Chunk: 0.5, KB: 0.5, QA: 0.5}, true},
		{"negative", Weights{Chunk: 1.2, KB: -0.2}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.w.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
	w := DefaultWeights()
	if sum := w.Chunk + w.KB + w.QA; math.Abs(sum-1) > 1e-12 {
		t.Errorf("default weights sum to %v", sum)
	}
}

func TestFuse(t *testing.T) {
	now := time.Now()
	cands := []Candidate{
		{Kind: models.SourceChunk, ID: "c1", RawScore: 0.5, Rank: 0},
		{Kind: models.SourceKB, ID: "kb", RawScore: 1.7, Rank: 0},
		{Kind: models.SourceQA, ID: "qa", RawScore: -0.4, Rank: 0},
		{Kind: models.SourceChunk, ID: "c2", RawScore: 0.9, Rank: 1},
	}
	got := Fuse(cands, DefaultWeights())
	wantIDs := []string{"c2", "kb", "c1", "qa"}
	for i, id := range wantIDs {
		if got[i].ID != id {
			t.Fatalf("position %d: got %s, want %s (%+v)", i, got[i].ID, id, got)
		}
	}
	if got[1].RawScore != 1 || got[1].Score != 0.30 {
		t.Errorf("kb raw score should clamp to 1: %+v", got[1])
	}
	if got[3].RawScore != 0 || got[3].Score != 0 {
		t.Errorf("qa raw score should clamp to 0: %+v", got[3])
	}
	if got[0].Weight != 0.40 {
		t.Errorf("chunk weight = %v", got[0].Weight)
	}

	ties := Fuse([]Candidate{
		{Kind: models.SourceChunk, ID: "old", RawScore: 0.5, CreatedAt: now.Add(-time.Hour), Rank: 0},
		{Kind: models.SourceChunk, ID: "late", RawScore: 0.5, CreatedAt: now, Rank: 2},
		{Kind: models.SourceChunk, ID: "early", RawScore: 0.5, CreatedAt: now, Rank: 1},
	}, DefaultWeights())
	if ties[0].ID != "early" || ties[1].ID != "late" || ties[2].ID != "old" {
		t.Errorf("tie order = %s, %s, %s", ties[0].ID, ties[1].ID, ties[2].ID)
	}
}

func TestFuse_Monotonic(t *testing.T) {
	raws := []float64{-1, 0, 0.1, 0.25, 0.5, 0.9, 1, 3}
	for _, kind := range []models.SourceKind{models.SourceChunk, models.SourceKB, models.SourceQA} {
		prev := -1.0
		for _, raw := range raws {
			got := Fuse([]Candidate{{Kind: kind, ID: "x", RawScore: raw}}, DefaultWeights())[0].Score
			if got < prev {
				t.Errorf("%s: score decreased from %v to %v at raw %v", kind, prev, got, raw)
			}
			if got < 0 || got > 1 {
				t.Errorf("%s: score %v out of range", kind, got)
			}
			prev = got
		}
	}
}

func TestNormalizeKeywordScores(t *testing.T) {
	m := normalizeKeywordScores([]*keyword.KeywordResult{
		{ID: "a", Score: 2},
		{ID: "b", Score: 4},
		{ID: "c", Score: 1},
	})
	if m["b"] != 1.0 || m["a"] != 0.5 || m["c"] != 0.25 {
		t.Errorf("unexpected scores %v", m)
	}
	if len(normalizeKeywordScores(nil)) != 0 {
		t.Error("expected empty map")
	}
}
