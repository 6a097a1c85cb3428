package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"
)

// Limited wraps a Client with a token-bucket rate limit and a per-call timeout.
type Limited struct {
	next    Client
	limiter *rate.Limiter
	timeout time.Duration
}

// NewLimited wraps next. A non-positive rps disables rate limiting and a zero
// timeout disables the per-call deadline.
func NewLimited(next Client, rps float64, burst int, timeout time.Duration) *Limited {
	l := &Limited{next: next, timeout: timeout}
	if rps > 0 {
		if burst <= 0 {
			burst = 1
		}
		l.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
	return l
}

// Model implements Client.
func (l *Limited) Model() string { return l.next.Model() }

// Generate implements Client. A call that exceeds the per-call timeout while
// the caller's context is still live returns ErrTimeout.
func (l *Limited) Generate(ctx context.Context, messages []Message) (string, error) {
	if l.limiter != nil {
		if err := l.limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("rate limit wait: %w", err)
		}
	}
	callCtx := ctx
	if l.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, l.timeout)
		defer cancel()
	}
	out, err := l.next.Generate(callCtx, messages)
	if err != nil && ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		return "", fmt.Errorf("%w after %s", ErrTimeout, l.timeout)
	}
	return out, err
}
