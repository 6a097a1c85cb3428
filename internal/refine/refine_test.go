package refine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hyperjump/bilgi/internal/llm"
	"github.com/hyperjump/bilgi/internal/models"
	"github.com/hyperjump/bilgi/internal/retry"
)

func testChunks(n int) []*models.Chunk {
	chunks := make([]*models.Chunk, n)
	for i := range chunks {
		overlap := ""
		if i > 0 {
			overlap = "Önceki cümle burada. "
		}
		chunks[i] = &models.Chunk{
			ID:         fmt.Sprintf("chk_%d", i),
			DocumentID: "doc1",
			Index:      i,
			Text:       overlap + "Hücre  zarı seçici geçirgendir. Teh membrane controls what enters the cell.",
			OverlapLen: len(overlap),
		}
	}
	return chunks
}

// rewrite returns a responder applying fn to every chunk text in the prompt.
func rewrite(fn func(item) (string, error)) func(context.Context, []llm.Message) (string, error) {
	return func(_ context.Context, msgs []llm.Message) (string, error) {
		prompt := llm.LastUserMessage(msgs)
		var in []item
		if err := json.Unmarshal([]byte(strings.TrimPrefix(prompt, "CHUNKS:\n")), &in); err != nil {
			return "", err
		}
		out := make([]item, len(in))
		for i, it := range in {
			text, err := fn(it)
			if err != nil {
				return "", err
			}
			out[i] = item{Index: it.Index, Text: text}
		}
		b, _ := json.Marshal(out)
		return "```json\n" + string(b) + "\n```", nil
	}
}

func fix(it item) (string, error) {
	return strings.NewReplacer("  ", " ", "Teh", "The").Replace(it.Text), nil
}

func testOptions() Options {
	opts := DefaultOptions()
	opts.Retry = retry.Policy{MaxAttempts: 1, BaseDelay: time.Millisecond}
	return opts
}

func TestRefine_AllBatches(t *testing.T) {
	client := llm.NewMockClient(rewrite(fix))
	r := New(client, testOptions())
	chunks := testChunks(12)

	report, err := r.Refine(context.Background(), chunks)
	if err != nil {
		t.Fatal(err)
	}
	if report.Batches != 3 || client.Calls() != 3 {
		t.Errorf("batches=%d calls=%d, want 3", report.Batches, client.Calls())
	}
	if report.Refined != 12 || report.FailedBatches != 0 {
		t.Errorf("report=%+v", report)
	}
	for _, ch := range chunks {
		if !ch.IsLLMImproved || ch.LLMModel != "mock-llm" {
			t.Errorf("chunk %d not marked improved", ch.Index)
		}
		if strings.Contains(ch.Body(), "Teh") || strings.Contains(ch.Body(), "  ") {
			t.Errorf("chunk %d body not rewritten: %q", ch.Index, ch.Body())
		}
		if ch.Index > 0 && !strings.HasPrefix(ch.Text, "Önceki cümle burada. ") {
			t.Errorf("chunk %d lost its overlap prefix: %q", ch.Index, ch.Text)
		}
		if ch.QualityScore <= 0 {
			t.Errorf("chunk %d not re-scored", ch.Index)
		}
	}
}

func TestRefine_FailedBatchKeepsOriginals(t *testing.T) {
	client := llm.NewMockClient(rewrite(func(it item) (string, error) {
		if it.Index == 6 {
			return "", errors.New("provider down")
		}
		return fix(it)
	}))
	r := New(client, testOptions())
	chunks := testChunks(10)
	original := chunks[5].Text

	report, err := r.Refine(context.Background(), chunks)
	if err != nil {
		t.Fatal(err)
	}
	if report.FailedBatches != 1 || report.Refined != 5 {
		t.Errorf("report=%+v", report)
	}
	if chunks[5].IsLLMImproved || chunks[5].Text != original {
		t.Error("chunk in failed batch was modified")
	}
	if !chunks[0].IsLLMImproved {
		t.Error("chunk in healthy batch was not refined")
	}
}

func TestRefine_RejectsOutOfTolerance(t *testing.T) {
	tests := []struct {
		name string
		fn   func(item) (string, error)
	}{
		{"too long", func(it item) (string, error) { return it.Text + " " + it.Text, nil }},
		{"too short", func(it item) (string, error) { return "Kısa.", nil }},
		{"empty", func(it item) (string, error) { return "   ", nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := New(llm.NewMockClient(rewrite(tt.fn)), testOptions())
			chunks := testChunks(3)
			report, err := r.Refine(context.Background(), chunks)
			if err != nil {
				t.Fatal(err)
			}
			if report.Rejected != 3 || report.Refined != 0 {
				t.Errorf("report=%+v", report)
			}
			for _, ch := range chunks {
				if ch.IsLLMImproved {
					t.Errorf("chunk %d should not be improved", ch.Index)
				}
			}
		})
	}
}

func TestRefine_UnparseableOutputFallsBack(t *testing.T) {
	client := llm.NewMockClient(func(context.Context, []llm.Message) (string, error) {
		return "I cannot help with that.", nil
	})
	r := New(client, testOptions())
	chunks := testChunks(4)
	report, err := r.Refine(context.Background(), chunks)
	if err != nil {
		t.Fatal(err)
	}
	if report.FailedBatches != 1 {
		t.Errorf("report=%+v", report)
	}
	if chunks[0].IsLLMImproved {
		t.Error("chunk should be unchanged")
	}
}

func TestRefine_WorkerLimit(t *testing.T) {
	var inFlight, peak atomic.Int32
	client := llm.NewMockClient(func(ctx context.Context, msgs []llm.Message) (string, error) {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		return rewrite(fix)(ctx, msgs)
	})
	opts := testOptions()
	opts.Workers = 2
	opts.BatchSize = 1
	r := New(client, opts)
	if _, err := r.Refine(context.Background(), testChunks(8)); err != nil {
		t.Fatal(err)
	}
	if peak.Load() > 2 {
		t.Errorf("peak concurrency %d exceeds 2 workers", peak.Load())
	}
}

func TestRefine_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := New(llm.NewMockClient(rewrite(fix)), testOptions())
	if _, err := r.Refine(ctx, testChunks(3)); !errors.Is(err, context.Canceled) {
		t.Errorf("err=%v, want context.Canceled", err)
	}
}
