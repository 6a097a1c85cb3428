package embedding

import (
	"hash/fnv"
	"strings"
	"unicode"
)

// Tokenizer produces BERT-style model inputs: input_ids, attention_mask and
// token_type_ids, each padded to maxTokens.
type Tokenizer interface {
	Tokenize(text string, maxTokens int) (inputIDs, attentionMask, tokenTypeIDs []int64)
}

// SimpleTokenizer hashes words into a fixed vocabulary. Words are folded with
// Turkish casing rules and stripped of surrounding punctuation, so "İnsan,"
// and "insan" share an ID. It has no subword vocabulary.
type SimpleTokenizer struct{}

const (
	clsToken  = 101
	sepToken  = 102
	vocabSize = 30000
	// defaultMaxTokens applies when no token limit is configured.
	defaultMaxTokens = 256
	// IDs below firstWordID are reserved for special tokens.
	firstWordID = 1000
)

// Tokenize frames the words of text with CLS and SEP and truncates to maxTokens.
func (t *SimpleTokenizer) Tokenize(text string, maxTokens int) (inputIDs, attentionMask, tokenTypeIDs []int64) {
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	inputIDs = make([]int64, maxTokens)
	attentionMask = make([]int64, maxTokens)
	tokenTypeIDs = make([]int64, maxTokens)

	inputIDs[0], attentionMask[0] = clsToken, 1
	pos := 1
	for _, w := range strings.Fields(text) {
		if pos >= maxTokens-1 {
			break
		}
		w = foldWord(w)
		if w == "" {
			continue
		}
		inputIDs[pos], attentionMask[pos] = tokenID(w), 1
		pos++
	}
	if pos < maxTokens {
		inputIDs[pos], attentionMask[pos] = sepToken, 1
	}
	return inputIDs, attentionMask, tokenTypeIDs
}

func foldWord(w string) string {
	w = strings.TrimFunc(w, func(r rune) bool { return unicode.IsPunct(r) || unicode.IsSymbol(r) })
	return strings.ToLowerSpecial(unicode.TurkishCase, w)
}

func tokenID(word string) int64 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(word))
	return int64(h.Sum32()%(vocabSize-firstWordID)) + firstWordID
}
