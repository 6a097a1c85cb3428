package embedding

import (
	"testing"
)

func TestSimpleTokenizer_Tokenize(t *testing.T) {
	tok := &SimpleTokenizer{}
	ids, attn, types := tok.Tokenize("hücre zarı", 10)
	if len(ids) != 10 || len(attn) != 10 || len(types) != 10 {
		t.Fatalf("unexpected lengths %d %d %d", len(ids), len(attn), len(types))
	}
	if ids[0] != clsToken || ids[3] != sepToken {
		t.Errorf("expected CLS ... SEP framing, got %v", ids[:4])
	}
	if attn[3] != 1 || attn[4] != 0 {
		t.Errorf("attention mask should cover 4 tokens, got %v", attn)
	}
	if ids[1] == ids[2] {
		t.Error("different words should get different IDs")
	}
}

func TestSimpleTokenizer_Truncates(t *testing.T) {
	ids, attn, _ := (&SimpleTokenizer{}).Tokenize("a b c d e f g h", 4)
	if len(ids) != 4 {
		t.Fatalf("len(ids) = %d", len(ids))
	}
	for i, a := range attn {
		if a != 1 {
			t.Errorf("position %d should be attended", i)
		}
	}
}

func TestTokenID_Deterministic(t *testing.T) {
	if tokenID("abc") != tokenID("abc") {
		t.Error("token IDs should be deterministic")
	}
	if id := tokenID("abc"); id < 1000 || id >= vocabSize {
		t.Errorf("token ID %d out of range", id)
	}
}

func TestSimpleTokenizer_FoldsTurkishCaseAndPunctuation(t *testing.T) {
	tok := &SimpleTokenizer{}
	a, _, _ := tok.Tokenize("İnsan, DNA'sı.", 8)
	b, _, _ := tok.Tokenize("insan dna'sı", 8)
	for i := 0; i < 4; i++ {
		if a[i] != b[i] {
			t.Fatalf("position %d: %d != %d (%v vs %v)", i, a[i], b[i], a[:4], b[:4])
		}
	}
}

func TestSimpleTokenizer_SkipsPunctuationOnlyWords(t *testing.T) {
	ids, attn, _ := (&SimpleTokenizer{}).Tokenize("hücre - zarı", 6)
	if ids[3] != sepToken || attn[4] != 0 {
		t.Errorf("lone dash should not take a position: %v", ids)
	}
}
