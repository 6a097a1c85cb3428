// Package cli formats command output for the bilgi CLI.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/hyperjump/bilgi/internal/models"
)

// OutputFormat is the format for command output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

const rule = "─────────────────────────────────────────────────────────"

// ParseFormat validates a --output flag value.
func ParseFormat(s string) (OutputFormat, error) {
	switch OutputFormat(strings.ToLower(s)) {
	case OutputText, "":
		return OutputText, nil
	case OutputJSON:
		return OutputJSON, nil
	}
	return "", fmt.Errorf("unknown output format %q (want text or json)", s)
}

// WriteJSON writes v as indented JSON.
func WriteJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// WriteRetrieval writes a retrieval result to w in the given format.
func WriteRetrieval(w io.Writer, res *models.RetrievalResult, format OutputFormat) error {
	if format == OutputJSON {
		return WriteJSON(w, res)
	}
	cached := ""
	if res.Cached {
		cached = ", cached"
	}
	fmt.Fprintf(w, "\n%s path in %dms (top score %.4f%s)\n", res.LatencyClass, res.QueryTimeMs, res.TopScore, cached)
	if len(res.MatchedTopics) > 0 {
		names := make([]string, len(res.MatchedTopics))
		for i, m := range res.MatchedTopics {
			names[i] = fmt.Sprintf("%s (%.2f)", m.Title, m.Confidence)
		}
		fmt.Fprintf(w, "Topics: %s\n", strings.Join(names, ", "))
	}
	if res.Fallback != "" {
		fmt.Fprintf(w, "Fallback: %s\n", res.Fallback)
	}
	if res.DirectQAMatch != nil {
		fmt.Fprintf(w, "Direct answer (similarity %.2f):\n  Q: %s\n  A: %s\n",
			res.QASimilarity, res.DirectQAMatch.Question, res.DirectQAMatch.Answer)
	}
	if !res.Accept {
		fmt.Fprintf(w, "\n%s\n", res.OutOfScopeMessage)
	}
	fmt.Fprintln(w)
	for i, s := range res.FusedSources {
		fmt.Fprintln(w, rule)
		fmt.Fprintf(w, "[%s] Rank: %d | Score: %.4f (raw %.4f × %.2f)\n", s.Kind, i+1, s.Score, s.RawScore, s.Weight)
		fmt.Fprintf(w, "ID: %s\n", s.ID)
		fmt.Fprintf(w, "\n%s\n\n", Truncate(s.Text, 200))
	}
	return nil
}

// WriteTopics writes a session's topics in curriculum order.
func WriteTopics(w io.Writer, topics []*models.Topic, format OutputFormat) error {
	if format == OutputJSON {
		return WriteJSON(w, topics)
	}
	fmt.Fprintf(w, "\n%d topics\n\n", len(topics))
	for _, t := range topics {
		fmt.Fprintf(w, "%2d. %s [%s] (confidence %.2f)\n", t.Order, t.Title, t.Difficulty, t.ExtractionConfidence)
		if len(t.Keywords) > 0 {
			fmt.Fprintf(w, "    keywords: %s\n", strings.Join(t.Keywords, ", "))
		}
		if len(t.Prerequisites) > 0 {
			fmt.Fprintf(w, "    after: %s\n", strings.Join(t.Prerequisites, ", "))
		}
	}
	return nil
}

// WriteKnowledgeBase writes a topic's knowledge base entry.
func WriteKnowledgeBase(w io.Writer, e *models.KnowledgeBaseEntry, format OutputFormat) error {
	if format == OutputJSON {
		return WriteJSON(w, e)
	}
	fmt.Fprintf(w, "\nKnowledge base for %s (quality %.2f)\n%s\n", e.TopicID, e.QualityScore, rule)
	fmt.Fprintf(w, "%s\n\n", e.Summary)
	if len(e.KeyConcepts) > 0 {
		fmt.Fprintln(w, "Key concepts:")
		for _, c := range e.KeyConcepts {
			fmt.Fprintf(w, "  - %s (%s): %s\n", c.Term, c.Importance, TruncateWords(c.Definition, 30))
		}
	}
	if len(e.LearningObjectives) > 0 {
		fmt.Fprintln(w, "Learning objectives:")
		for _, o := range e.LearningObjectives {
			fmt.Fprintf(w, "  - [%s] %s\n", o.Level, o.Statement)
		}
	}
	if len(e.Examples) > 0 {
		fmt.Fprintln(w, "Examples:")
		for _, ex := range e.Examples {
			fmt.Fprintf(w, "  - %s\n", Truncate(ex, 200))
		}
	}
	return nil
}

// WriteQAPairs writes QA pairs grouped in the order given.
func WriteQAPairs(w io.Writer, pairs []*models.QAPair, format OutputFormat) error {
	if format == OutputJSON {
		return WriteJSON(w, pairs)
	}
	fmt.Fprintf(w, "\n%d QA pairs\n\n", len(pairs))
	for _, p := range pairs {
		fmt.Fprintln(w, rule)
		fmt.Fprintf(w, "[%s/%s] quality %.2f | asked %d | rating %.1f (%d)\n",
			p.Difficulty, p.BloomLevel, p.QualityScore, p.TimesAsked, p.AverageRating, p.RatingCount)
		fmt.Fprintf(w, "Q: %s\nA: %s\n\n", p.Question, p.Answer)
	}
	return nil
}

// Truncate truncates s to maxLen runes and appends "..." if truncated.
func Truncate(s string, maxLen int) string {
	if maxLen <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen]) + "..."
}

// TruncateWords returns up to maxWords from the space-separated string.
func TruncateWords(s string, maxWords int) string {
	words := strings.Fields(s)
	if len(words) <= maxWords {
		return s
	}
	return strings.Join(words[:maxWords], " ") + "..."
}
