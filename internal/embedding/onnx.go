//go:build cgo
// +build cgo

package embedding

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/hyperjump/bilgi/pkg/utils"
)

// onnxIO holds the tensors bound to one session. Inference rewrites the input
// tensors in place and reads the output tensor.
type onnxIO struct {
	inputIDs      *ort.Tensor[int64]
	attentionMask *ort.Tensor[int64]
	tokenTypeIDs  *ort.Tensor[int64]
	output        *ort.Tensor[float32]
}

func newONNXIO(maxTokens, dimensions int) (*onnxIO, error) {
	io := &onnxIO{}
	shape := ort.NewShape(1, int64(maxTokens))
	var err error
	if io.inputIDs, err = ort.NewEmptyTensor[int64](shape); err != nil {
		return nil, fmt.Errorf("input_ids tensor: %w", err)
	}
	if io.attentionMask, err = ort.NewEmptyTensor[int64](shape); err != nil {
		io.destroy()
		return nil, fmt.Errorf("attention_mask tensor: %w", err)
	}
	if io.tokenTypeIDs, err = ort.NewEmptyTensor[int64](shape); err != nil {
		io.destroy()
		return nil, fmt.Errorf("token_type_ids tensor: %w", err)
	}
	if io.output, err = ort.NewEmptyTensor[float32](ort.NewShape(1, int64(dimensions))); err != nil {
		io.destroy()
		return nil, fmt.Errorf("output tensor: %w", err)
	}
	return io, nil
}

func (io *onnxIO) inputs() []ort.ArbitraryTensor {
	return []ort.ArbitraryTensor{io.inputIDs, io.attentionMask, io.tokenTypeIDs}
}

func (io *onnxIO) load(ids, mask, types []int64) {
	copy(io.inputIDs.GetData(), ids)
	copy(io.attentionMask.GetData(), mask)
	copy(io.tokenTypeIDs.GetData(), types)
}

func (io *onnxIO) destroy() {
	if io.inputIDs != nil {
		_ = io.inputIDs.Destroy()
	}
	if io.attentionMask != nil {
		_ = io.attentionMask.Destroy()
	}
	if io.tokenTypeIDs != nil {
		_ = io.tokenTypeIDs.Destroy()
	}
	if io.output != nil {
		_ = io.output.Destroy()
	}
	*io = onnxIO{}
}

// ONNXEmbedder runs a local sentence-embedding model through ONNX Runtime.
// It needs cgo and the onnxruntime shared library; builds without cgo get a
// stub that always fails.
type ONNXEmbedder struct {
	mu         sync.Mutex
	session    *ort.AdvancedSession
	io         *onnxIO
	tokenizer  Tokenizer
	model      string
	dimensions int
	maxTokens  int
}

// NewONNXEmbedder loads the model at modelPath. The model name reported to
// chunks is the file's base name without extension, so switching model files
// is detected by reprocessing.
func NewONNXEmbedder(modelPath string, dimensions, maxTokens int) (*ONNXEmbedder, error) {
	if modelPath == "" {
		return nil, errors.New("onnx embedder requires a model path")
	}
	if dimensions <= 0 {
		return nil, fmt.Errorf("onnx embedder requires positive dimensions, got %d", dimensions)
	}
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	if !ort.IsInitialized() {
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, fmt.Errorf("initialize onnx runtime: %w", err)
		}
	}
	io, err := newONNXIO(maxTokens, dimensions)
	if err != nil {
		return nil, err
	}
	session, err := ort.NewAdvancedSession(modelPath,
		[]string{"input_ids", "attention_mask", "token_type_ids"},
		[]string{"output"},
		io.inputs(),
		[]ort.ArbitraryTensor{io.output},
		nil)
	if err != nil {
		io.destroy()
		return nil, fmt.Errorf("create onnx session for %s: %w", modelPath, err)
	}
	return &ONNXEmbedder{
		session:    session,
		io:         io,
		tokenizer:  &SimpleTokenizer{},
		model:      strings.TrimSuffix(filepath.Base(modelPath), filepath.Ext(modelPath)),
		dimensions: dimensions,
		maxTokens:  maxTokens,
	}, nil
}

// Embed returns the L2-normalized embedding of text.
func (e *ONNXEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return nil, errors.New("onnx embedder is closed")
	}
	e.io.load(e.tokenizer.Tokenize(text, e.maxTokens))
	if err := e.session.Run(); err != nil {
		return nil, fmt.Errorf("onnx inference: %w", err)
	}
	vec := make([]float32, e.dimensions)
	copy(vec, e.io.output.GetData())
	utils.NormalizeL2(vec)
	return vec, nil
}

// EmbedBatch embeds texts one by one; the session has a batch size of one.
func (e *ONNXEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := e.Embed(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("text %d: %w", i, err)
		}
		out[i] = vec
	}
	return out, nil
}

// Dimensions returns the embedding dimension.
func (e *ONNXEmbedder) Dimensions() int { return e.dimensions }

// Model returns the model name.
func (e *ONNXEmbedder) Model() string { return e.model }

// Close releases the session and its tensors.
func (e *ONNXEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	var err error
	if e.session != nil {
		err = e.session.Destroy()
		e.session = nil
	}
	if e.io != nil {
		e.io.destroy()
	}
	return err
}
