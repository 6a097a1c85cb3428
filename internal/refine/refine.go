// Package refine optionally rewrites chunk bodies with an LLM, in bounded
// concurrent batches, keeping the original chunk whenever the rewrite is unusable.
package refine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"unicode/utf8"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hyperjump/bilgi/internal/chunking"
	"github.com/hyperjump/bilgi/internal/llm"
	"github.com/hyperjump/bilgi/internal/models"
	"github.com/hyperjump/bilgi/internal/retry"
)

const systemPrompt = `You improve the readability of educational text chunks.
For every chunk: fix broken sentences, OCR artifacts and spacing; keep the original language,
meaning, terminology and length. Do not add facts. Do not merge or split chunks.
Respond with a JSON array only: [{"index": <index>, "text": "<improved text>"}].`

// Options configures the refiner.
type Options struct {
	Workers   int
	BatchSize int
	// LengthTolerance bounds the relative change in length of a rewritten body.
	LengthTolerance float64
	// HardMax caps the length in runes of a rewritten chunk.
	HardMax int
	Retry   retry.Policy
}

// DefaultOptions returns 3 workers, batches of 5, and a ±30% length tolerance.
func DefaultOptions() Options {
	return Options{
		Workers:         3,
		BatchSize:       5,
		LengthTolerance: 0.30,
		HardMax:         chunking.DefaultOptions().HardMax,
		Retry:           retry.DefaultPolicy(),
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.Workers <= 0 {
		o.Workers = d.Workers
	}
	if o.BatchSize <= 0 {
		o.BatchSize = d.BatchSize
	}
	if o.LengthTolerance <= 0 {
		o.LengthTolerance = d.LengthTolerance
	}
	if o.HardMax <= 0 {
		o.HardMax = d.HardMax
	}
	return o
}

// Report summarizes a refinement run.
type Report struct {
	Batches       int `json:"batches"`
	FailedBatches int `json:"failed_batches"`
	Refined       int `json:"refined"`
	Rejected      int `json:"rejected"`
}

// Refiner rewrites chunk bodies through an LLM.
type Refiner struct {
	client    llm.Client
	opts      Options
	validator *chunking.Validator
	logger    *zap.Logger
}

// Option configures a Refiner.
type Option func(*Refiner)

// WithLogger sets the logger for the refiner.
func WithLogger(l *zap.Logger) Option {
	return func(r *Refiner) {
		r.logger = l
	}
}

// WithValidator sets the validator used to re-score rewritten chunks.
func WithValidator(v *chunking.Validator) Option {
	return func(r *Refiner) {
		r.validator = v
	}
}

// New returns a refiner using client.
func New(client llm.Client, opts Options, ropts ...Option) *Refiner {
	r := &Refiner{
		client:    client,
		opts:      opts.withDefaults(),
		validator: chunking.NewValidator(chunking.DefaultOptions()),
		logger:    zap.NewNop(),
	}
	for _, o := range ropts {
		o(r)
	}
	return r
}

type item struct {
	Index int    `json:"index"`
	Text  string `json:"text"`
}

// Refine rewrites chunks in place. Batches that fail or return unusable output
// leave their chunks untouched. Only cancellation of ctx is returned as an error.
func (r *Refiner) Refine(ctx context.Context, chunks []*models.Chunk) (Report, error) {
	var (
		report Report
		mu     sync.Mutex
	)
	g := new(errgroup.Group)
	g.SetLimit(r.opts.Workers)
	for start := 0; start < len(chunks); start += r.opts.BatchSize {
		end := min(start+r.opts.BatchSize, len(chunks))
		batch := chunks[start:end]
		report.Batches++
		g.Go(func() error {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			refined, rejected, err := r.refineBatch(ctx, batch)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				report.FailedBatches++
				r.logger.Warn("refine batch failed; keeping original chunks",
					zap.String("document_id", batch[0].DocumentID),
					zap.Int("first_index", batch[0].Index),
					zap.Error(err))
				return nil
			}
			report.Refined += refined
			report.Rejected += rejected
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return report, err
	}
	r.logger.Debug("refine complete",
		zap.Int("batches", report.Batches),
		zap.Int("refined", report.Refined),
		zap.Int("failed_batches", report.FailedBatches))
	return report, nil
}

func (r *Refiner) refineBatch(ctx context.Context, batch []*models.Chunk) (refined, rejected int, err error) {
	byIndex := make(map[int]*models.Chunk, len(batch))
	input := make([]item, len(batch))
	for i, ch := range batch {
		byIndex[ch.Index] = ch
		input[i] = item{Index: ch.Index, Text: ch.Body()}
	}
	payload, err := json.Marshal(input)
	if err != nil {
		return 0, 0, err
	}
	prompt := "CHUNKS:\n" + string(payload)

	items, err := llm.GenerateJSON(ctx, r.client, llm.System(systemPrompt, prompt), r.opts.Retry,
		func(items []item) error {
			for _, it := range items {
				if _, ok := byIndex[it.Index]; !ok {
					return fmt.Errorf("unknown chunk index %d", it.Index)
				}
			}
			return nil
		})
	if err != nil {
		return 0, 0, err
	}

	for _, it := range items {
		ch := byIndex[it.Index]
		if ch.IsLLMImproved {
			continue
		}
		if reason := r.reject(ch, it.Text); reason != "" {
			rejected++
			r.logger.Debug("rejected chunk rewrite",
				zap.String("chunk_id", ch.ID),
				zap.String("reason", reason))
			continue
		}
		text := ch.Text[:ch.OverlapLen] + strings.TrimSpace(it.Text)
		score, breakdown := r.validator.ScoreText(text)
		if score < ch.QualityScore {
			rejected++
			continue
		}
		ch.Text = text
		ch.QualityScore = score
		ch.Quality = breakdown
		ch.LowQuality = score < r.validator.MinQuality()
		ch.IsLLMImproved = true
		ch.LLMModel = r.client.Model()
		refined++
	}
	return refined, rejected, nil
}

// reject returns why text cannot replace the body of ch, or "" when it can.
func (r *Refiner) reject(ch *models.Chunk, text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return "empty"
	}
	orig := utf8.RuneCountInString(ch.Body())
	n := utf8.RuneCountInString(text)
	if orig > 0 {
		delta := float64(n-orig) / float64(orig)
		if delta > r.opts.LengthTolerance || delta < -r.opts.LengthTolerance {
			return "length out of tolerance"
		}
	}
	if n+utf8.RuneCountInString(ch.Text[:ch.OverlapLen]) > r.opts.HardMax {
		return "exceeds hard max"
	}
	return ""
}
