package models

import "testing"

func TestParseDifficulty(t *testing.T) {
	tests := []struct {
		in     string
		want   Difficulty
		wantOK bool
	}{
		{"Beginner", DifficultyBeginner, true},
		{"orta", DifficultyIntermediate, true},
		{" ileri ", DifficultyAdvanced, true},
		{"expert", DifficultyIntermediate, false},
	}
	for _, tt := range tests {
		got, ok := ParseDifficulty(tt.in)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("ParseDifficulty(%q) = %v, %v", tt.in, got, ok)
		}
	}
}

func TestDifficultyRank(t *testing.T) {
	if !(DifficultyBeginner.Rank() < DifficultyIntermediate.Rank() && DifficultyIntermediate.Rank() < DifficultyAdvanced.Rank()) {
		t.Error("difficulty ranks must ascend")
	}
}

func TestParseBloomLevel(t *testing.T) {
	if l, ok := ParseBloomLevel("Analyze"); !ok || l != BloomAnalyze {
		t.Errorf("got %v %v", l, ok)
	}
	if _, ok := ParseBloomLevel("memorize"); ok {
		t.Error("unknown level should not parse")
	}
	if BloomCreate.Rank() != 5 || BloomLevel("x").Rank() != -1 {
		t.Error("unexpected rank")
	}
}

func TestChunkBody(t *testing.T) {
	c := &Chunk{Text: "tail. Body text.", OverlapLen: 6}
	if c.Body() != "Body text." {
		t.Errorf("Body = %q", c.Body())
	}
	c.OverlapLen = 100
	if c.Body() != c.Text {
		t.Error("out of range overlap returns full text")
	}
}
