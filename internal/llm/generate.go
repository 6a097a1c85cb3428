package llm

import (
	"context"

	"github.com/hyperjump/bilgi/internal/retry"
)

// GenerateJSON calls the client and decodes its output into T, retrying both
// provider failures and parse failures under policy. Non-retryable provider
// errors and caller cancellation stop immediately.
func GenerateJSON[T any](ctx context.Context, c Client, messages []Message, policy retry.Policy, validate func(T) error) (T, error) {
	return retry.Do(ctx, policy, func(ctx context.Context) (T, error) {
		var zero T
		raw, err := c.Generate(ctx, messages)
		if err != nil {
			if ctx.Err() != nil {
				return zero, retry.Permanent(ctx.Err())
			}
			if !IsRetryable(err) {
				return zero, retry.Permanent(err)
			}
			return zero, err
		}
		parsed := ParseJSON(raw, validate)
		if !parsed.OK() {
			return zero, parsed.Err
		}
		return parsed.Value, nil
	})
}
