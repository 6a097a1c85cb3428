package knowledge

import (
	"context"
	"errors"
	"strings"

	"github.com/hyperjump/bilgi/internal/llm"
	"github.com/hyperjump/bilgi/internal/models"
)

const (
	summaryPrompt = `You are writing study notes. Summarize the topic from the material in its own language,
between 150 and 400 words. Respond with JSON only: {"summary": string}`

	conceptsPrompt = `List the key concepts a student must learn for this topic, using the language of the material.
Give at least 5. Respond with JSON only:
{"key_concepts": [{"term": string, "definition": string, "importance": "high"|"medium"|"low"}]}`

	objectivesPrompt = `Write learning objectives for this topic covering at least three Bloom's taxonomy levels
(remember, understand, apply, analyze, evaluate, create). Give at least 4. Respond with JSON only:
{"learning_objectives": [{"bloom_level": string, "statement": string}]}`

	examplesPrompt = `Give worked examples that illustrate this topic, grounded in the material.
Respond with JSON only: {"examples": [string]}`
)

type summaryResponse struct {
	Summary string `json:"summary"`
}

type conceptsResponse struct {
	KeyConcepts []struct {
		Term       string `json:"term"`
		Definition string `json:"definition"`
		Importance string `json:"importance"`
	} `json:"key_concepts"`
}

type objectivesResponse struct {
	LearningObjectives []struct {
		Level     string `json:"bloom_level"`
		Statement string `json:"statement"`
	} `json:"learning_objectives"`
}

type examplesResponse struct {
	Examples []string `json:"examples"`
}

func (e *Extractor) summary(ctx context.Context, m material) (string, error) {
	r, err := llm.GenerateJSON(ctx, e.client, llm.System(summaryPrompt, m.prompt()), e.opts.Retry,
		func(r summaryResponse) error {
			if strings.TrimSpace(r.Summary) == "" {
				return errors.New("empty summary")
			}
			return nil
		})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(r.Summary), nil
}

func (e *Extractor) concepts(ctx context.Context, m material) ([]models.KeyConcept, error) {
	r, err := llm.GenerateJSON[conceptsResponse](ctx, e.client, llm.System(conceptsPrompt, m.prompt()), e.opts.Retry, nil)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	var out []models.KeyConcept
	for _, c := range r.KeyConcepts {
		term := strings.TrimSpace(c.Term)
		key := strings.ToLower(term)
		if term == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, models.KeyConcept{
			Term:       term,
			Definition: strings.TrimSpace(c.Definition),
			Importance: parseImportance(c.Importance),
		})
	}
	return out, nil
}

func (e *Extractor) objectives(ctx context.Context, m material) ([]models.LearningObjective, error) {
	r, err := llm.GenerateJSON[objectivesResponse](ctx, e.client, llm.System(objectivesPrompt, m.prompt()), e.opts.Retry, nil)
	if err != nil {
		return nil, err
	}
	var out []models.LearningObjective
	for _, o := range r.LearningObjectives {
		s := strings.TrimSpace(o.Statement)
		if s == "" {
			continue
		}
		level, _ := models.ParseBloomLevel(o.Level)
		out = append(out, models.LearningObjective{Level: level, Statement: s})
	}
	return out, nil
}

func (e *Extractor) examples(ctx context.Context, m material) ([]string, error) {
	r, err := llm.GenerateJSON[examplesResponse](ctx, e.client, llm.System(examplesPrompt, m.prompt()), e.opts.Retry, nil)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, x := range r.Examples {
		if x = strings.TrimSpace(x); x != "" {
			out = append(out, x)
		}
	}
	return out, nil
}

func parseImportance(s string) models.Importance {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "high", "yüksek":
		return models.ImportanceHigh
	case "low", "düşük":
		return models.ImportanceLow
	}
	return models.ImportanceMedium
}
