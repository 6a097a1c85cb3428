// Package llm provides chat-completion clients, structured JSON parsing of
// model output, and rate-limited, time-bounded client wrappers.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

const (
	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"
	ProviderMock   = "mock"
)

var (
	// ErrTimeout is returned when a single generation exceeds its time budget.
	ErrTimeout = errors.New("llm: request timed out")
	// ErrGenerate wraps provider failures.
	ErrGenerate = errors.New("llm: generation failed")
)

// Message is one turn of a chat prompt.
type Message struct {
	Role    string
	Content string
}

// Client generates a completion for a chat prompt.
type Client interface {
	Generate(ctx context.Context, messages []Message) (string, error)
	Model() string
}

// Options configures a provider client.
type Options struct {
	Provider    string
	Model       string
	Temperature float32
	MaxTokens   int

	OllamaHost    string
	OpenAIAPIKey  string
	OpenAIBaseURL string

	// RequestsPerSecond and Burst bound the call rate; zero disables limiting.
	RequestsPerSecond float64
	Burst             int
	// Timeout bounds each call; zero disables it.
	Timeout time.Duration
}

// NewClient returns a rate-limited, time-bounded client for opts.Provider.
func NewClient(opts Options) (Client, error) {
	var base Client
	switch strings.ToLower(opts.Provider) {
	case ProviderOllama:
		base = NewOllamaClient(opts)
	case ProviderOpenAI, "":
		if opts.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("openai provider selected but OPENAI_API_KEY not set")
		}
		base = NewOpenAIClient(opts)
	default:
		return nil, fmt.Errorf("unknown llm provider: %s", opts.Provider)
	}
	return NewLimited(base, opts.RequestsPerSecond, opts.Burst, opts.Timeout), nil
}

// System returns a two-turn prompt with a system instruction and user content.
func System(system, user string) []Message {
	return []Message{
		{Role: RoleSystem, Content: system},
		{Role: RoleUser, Content: user},
	}
}

// LastUserMessage returns the content of the last user turn.
func LastUserMessage(messages []Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == RoleUser {
			return messages[i].Content
		}
	}
	return ""
}
