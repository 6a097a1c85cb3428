package topics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/hyperjump/bilgi/internal/llm"
	"github.com/hyperjump/bilgi/internal/models"
	"github.com/hyperjump/bilgi/pkg/utils"
)

const systemPrompt = `You are a curriculum designer. From the numbered course material chunks,
identify the distinct teachable topics. Use the language of the material for titles and keywords.
Respond with a JSON array only, each element:
{"title": string, "keywords": [string], "difficulty": "beginner"|"intermediate"|"advanced",
 "related_chunk_ids": [chunk id], "prerequisites": [title of another topic], "confidence": number 0-1}`

// candidate is a topic proposed by the LLM, before IDs are assigned.
type candidate struct {
	Title           string
	Keywords        []string
	Difficulty      models.Difficulty
	RelatedChunkIDs []string
	Prerequisites   []string
	Confidence      float64
}

type rawTopic struct {
	Title           string   `json:"title"`
	Keywords        []string `json:"keywords"`
	Difficulty      string   `json:"difficulty"`
	RelatedChunkIDs []string `json:"related_chunk_ids"`
	Prerequisites   []string `json:"prerequisites"`
	Confidence      float64  `json:"confidence"`
}

// topicList accepts either a bare array or an object with a "topics" array.
type topicList []rawTopic

func (l *topicList) UnmarshalJSON(b []byte) error {
	var arr []rawTopic
	if err := json.Unmarshal(b, &arr); err == nil {
		*l = arr
		return nil
	}
	var obj struct {
		Topics []rawTopic `json:"topics"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return err
	}
	if obj.Topics == nil {
		return errors.New(`expected an array or an object with "topics"`)
	}
	*l = obj.Topics
	return nil
}

func validateTopics(l topicList) error {
	for i, t := range l {
		if strings.TrimSpace(t.Title) == "" {
			return fmt.Errorf("topic %d has no title", i)
		}
	}
	return nil
}

// makeBatches groups chunks in order so each batch stays within maxChars runes.
// A single chunk larger than maxChars forms its own batch.
func makeBatches(chunks []*models.Chunk, maxChars int) [][]*models.Chunk {
	var (
		batches [][]*models.Chunk
		cur     []*models.Chunk
		size    int
	)
	for _, ch := range chunks {
		n := utf8.RuneCountInString(ch.Body())
		if len(cur) > 0 && size+n > maxChars {
			batches = append(batches, cur)
			cur, size = nil, 0
		}
		cur = append(cur, ch)
		size += n
	}
	if len(cur) > 0 {
		batches = append(batches, cur)
	}
	return batches
}

func batchPrompt(batch []*models.Chunk) string {
	var b strings.Builder
	for _, ch := range batch {
		fmt.Fprintf(&b, "[%s]\n%s\n\n", ch.ID, strings.TrimSpace(ch.Body()))
	}
	return b.String()
}

func (e *Extractor) extractBatch(ctx context.Context, batch []*models.Chunk) ([]candidate, error) {
	list, err := llm.GenerateJSON(ctx, e.client, llm.System(systemPrompt, batchPrompt(batch)), e.opts.Retry, validateTopics)
	if err != nil {
		return nil, err
	}

	inBatch := make(map[string]bool, len(batch))
	for _, ch := range batch {
		inBatch[ch.ID] = true
	}
	out := make([]candidate, 0, len(list))
	for _, rt := range list {
		c := candidate{
			Title:         strings.TrimSpace(rt.Title),
			Keywords:      dedupFold(rt.Keywords),
			Prerequisites: rt.Prerequisites,
			Confidence:    utils.Clamp01(rt.Confidence),
		}
		c.Difficulty, _ = models.ParseDifficulty(rt.Difficulty)
		if c.Confidence == 0 {
			c.Confidence = 0.5
		}
		for _, id := range rt.RelatedChunkIDs {
			if inBatch[id] {
				c.RelatedChunkIDs = appendUnique(c.RelatedChunkIDs, id)
			}
		}
		out = append(out, c)
	}
	return out, nil
}

func appendUnique(list []string, v string) []string {
	for _, x := range list {
		if x == v {
			return list
		}
	}
	return append(list, v)
}

// dedupFold drops empty and case-insensitively repeated strings, keeping the first spelling.
func dedupFold(in []string) []string {
	seen := make(map[string]bool, len(in))
	var out []string
	for _, s := range in {
		s = strings.TrimSpace(s)
		k := utils.FoldCase(s)
		if s == "" || seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, s)
	}
	return out
}
