package knowledge

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hyperjump/bilgi/internal/ids"
	"github.com/hyperjump/bilgi/internal/keyword"
	"github.com/hyperjump/bilgi/internal/llm"
	"github.com/hyperjump/bilgi/internal/models"
	"github.com/hyperjump/bilgi/pkg/utils"
)

const (
	qaPrompt = `You write exam questions from course material, in the language of the material.
Write exactly %d question-answer pairs at %s difficulty. Answers must be supported by the material.
Respond with JSON only:
{"qa_pairs": [{"question": string, "answer": string, "explanation": string, "bloom_level": "remember"|"understand"|"apply"|"analyze"|"evaluate"|"create"}]}`

	qaCheckPrompt = `You review exam questions. Score the question-answer pair against the material, each in [0, 1]:
clarity (the question is unambiguous), grounding (the answer is supported by the material),
bloom_fit (the question exercises the stated Bloom level).
Respond with JSON only: {"clarity": number, "grounding": number, "bloom_fit": number}`
)

type rawQA struct {
	Question    string `json:"question"`
	Answer      string `json:"answer"`
	Explanation string `json:"explanation"`
	BloomLevel  string `json:"bloom_level"`
}

type qaResponse struct {
	Pairs []rawQA `json:"qa_pairs"`
}

func validateQA(r qaResponse) error {
	if len(r.Pairs) == 0 {
		return errors.New("no qa pairs")
	}
	return nil
}

type qaCheck struct {
	Clarity   *float64 `json:"clarity"`
	Grounding *float64 `json:"grounding"`
	BloomFit  *float64 `json:"bloom_fit"`
}

func validateCheck(c qaCheck) error {
	if c.Clarity == nil || c.Grounding == nil || c.BloomFit == nil {
		return errors.New("missing score")
	}
	return nil
}

func (c qaCheck) score() float64 {
	return (utils.Clamp01(*c.Clarity) + utils.Clamp01(*c.Grounding) + utils.Clamp01(*c.BloomFit)) / 3
}

// QAReport counts what happened to the generated pairs.
type QAReport struct {
	Requested         int `json:"requested"`
	Generated         int `json:"generated"`
	Accepted          int `json:"accepted"`
	RejectedQuality   int `json:"rejected_quality"`
	RejectedDuplicate int `json:"rejected_duplicate"`
	FailedChecks      int `json:"failed_checks"`
}

// GenerateQAPairs generates count QA pairs for a topic split by dist, keeps
// those passing the quality check that are not near-duplicates of each other
// or of stored pairs, and persists them. count <= 0 and an empty dist fall
// back to the configured defaults.
func (e *Extractor) GenerateQAPairs(ctx context.Context, topicID string, count int, dist Distribution) ([]*models.QAPair, *QAReport, error) {
	if count <= 0 {
		count = e.opts.QACount
	}
	if dist.Total() == 0 {
		dist = e.opts.Distribution
	}
	if dist.Total() != count {
		dist = dist.Scale(count)
	}

	m, err := e.loadMaterial(ctx, topicID)
	if err != nil {
		return nil, nil, err
	}
	report := &QAReport{Requested: count}

	levels := dist.counts()
	generated := make([][]*models.QAPair, len(levels))
	g := new(errgroup.Group)
	g.SetLimit(e.opts.Workers)
	for i, lv := range levels {
		g.Go(func() error {
			pairs, err := e.generate(ctx, m, lv.Difficulty, lv.N)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				e.logger.Warn("qa generation failed",
					zap.String("topic_id", topicID),
					zap.String("difficulty", string(lv.Difficulty)),
					zap.Error(err))
				return nil
			}
			generated[i] = pairs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	var candidates []*models.QAPair
	for _, pairs := range generated {
		candidates = append(candidates, pairs...)
	}
	report.Generated = len(candidates)

	if err := e.scoreAll(ctx, m, candidates, report); err != nil {
		return nil, nil, err
	}

	stored, err := e.store.ListQAPairsByTopic(ctx, topicID)
	if err != nil {
		return nil, nil, fmt.Errorf("list qa pairs: %w", err)
	}
	accepted, err := e.filter(ctx, candidates, stored, report)
	if err != nil {
		return nil, nil, err
	}

	if len(accepted) > 0 {
		if err := e.store.CreateQAPairs(ctx, accepted); err != nil {
			return nil, nil, fmt.Errorf("persist qa pairs: %w", err)
		}
		if e.keywords != nil {
			recs := make([]*keyword.Record, len(accepted))
			for i, p := range accepted {
				recs[i] = keyword.QARecord(p)
			}
			if err := e.keywords.IndexBatch(ctx, recs); err != nil {
				e.logger.Warn("keyword indexing of qa pairs failed", zap.Error(err))
			}
		}
		e.refreshQuality(ctx, topicID)
	}
	report.Accepted = len(accepted)
	e.logger.Info("qa pairs generated",
		zap.String("topic_id", topicID),
		zap.Int("requested", report.Requested),
		zap.Int("generated", report.Generated),
		zap.Int("accepted", report.Accepted),
		zap.Int("rejected_quality", report.RejectedQuality),
		zap.Int("rejected_duplicate", report.RejectedDuplicate))
	return accepted, report, nil
}

func (e *Extractor) generate(ctx context.Context, m material, d models.Difficulty, n int) ([]*models.QAPair, error) {
	sys := fmt.Sprintf(qaPrompt, n, d)
	r, err := llm.GenerateJSON(ctx, e.client, llm.System(sys, m.prompt()), e.opts.Retry, validateQA)
	if err != nil {
		return nil, err
	}
	var out []*models.QAPair
	for _, raw := range r.Pairs {
		q, a := strings.TrimSpace(raw.Question), strings.TrimSpace(raw.Answer)
		if q == "" || a == "" {
			continue
		}
		level, _ := models.ParseBloomLevel(raw.BloomLevel)
		out = append(out, &models.QAPair{
			ID:          ids.NewQAID(),
			TopicID:     m.topic.ID,
			SessionID:   m.topic.SessionID,
			Question:    q,
			Answer:      a,
			Explanation: strings.TrimSpace(raw.Explanation),
			Difficulty:  d,
			BloomLevel:  level,
		})
		if len(out) == n {
			break
		}
	}
	return out, nil
}

// scoreAll runs the quality check for every candidate. A pair whose check
// fails keeps a zero score and is discarded by filter.
func (e *Extractor) scoreAll(ctx context.Context, m material, pairs []*models.QAPair, report *QAReport) error {
	var mu sync.Mutex
	g := new(errgroup.Group)
	g.SetLimit(e.opts.Workers)
	for _, p := range pairs {
		g.Go(func() error {
			score, err := e.check(ctx, m, p)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				e.logger.Warn("qa quality check failed", zap.String("qa_id", p.ID), zap.Error(err))
				mu.Lock()
				report.FailedChecks++
				mu.Unlock()
				p.QualityScore = -1
				return nil
			}
			p.QualityScore = score
			return nil
		})
	}
	return g.Wait()
}

func (e *Extractor) check(ctx context.Context, m material, p *models.QAPair) (float64, error) {
	user := fmt.Sprintf("%s\n\nQUESTION: %s\nANSWER: %s\nBLOOM LEVEL: %s", m.prompt(), p.Question, p.Answer, p.BloomLevel)
	c, err := llm.GenerateJSON(ctx, e.client, llm.System(qaCheckPrompt, user), e.opts.Retry, validateCheck)
	if err != nil {
		return 0, err
	}
	return c.score(), nil
}

// filter keeps pairs at or above MinQAQuality that are not near-duplicates
// of a stored pair or of a pair accepted earlier in the same run.
func (e *Extractor) filter(ctx context.Context, candidates, stored []*models.QAPair, report *QAReport) ([]*models.QAPair, error) {
	seen := make([]string, 0, len(stored)+len(candidates))
	for _, p := range stored {
		seen = append(seen, p.Question)
	}
	var accepted []*models.QAPair
	for _, p := range candidates {
		if p.QualityScore < 0 {
			continue
		}
		if p.QualityScore < e.opts.MinQAQuality {
			report.RejectedQuality++
			continue
		}
		dup, err := e.isDuplicate(ctx, p.Question, seen)
		if err != nil {
			return nil, fmt.Errorf("compare qa pairs: %w", err)
		}
		if dup {
			report.RejectedDuplicate++
			continue
		}
		seen = append(seen, p.Question)
		accepted = append(accepted, p)
	}
	return accepted, nil
}

func (e *Extractor) isDuplicate(ctx context.Context, question string, seen []string) (bool, error) {
	for _, s := range seen {
		sim, err := e.sim.Similarity(ctx, question, s)
		if err != nil {
			return false, err
		}
		if sim >= e.opts.DuplicateThreshold {
			return true, nil
		}
	}
	return false, nil
}
