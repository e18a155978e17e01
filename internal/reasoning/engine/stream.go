package engine

import (
	"context"
	"errors"

	"github.com/asktra/asktra/internal/llm/adapter"
	"github.com/asktra/asktra/internal/llm/types"
)

// Error kinds reported on error events and mapped to HTTP statuses.
const (
	KindInvalidRequest = "invalid_request"
	KindConfiguration  = "configuration"
	KindRateLimited    = "rate_limited"
	KindEmptyBundle    = "empty_bundle"
	KindCanceled       = "canceled"
	KindInternal       = "internal"
)

// ErrorKind classifies err for callers that must tell a retryable condition
// from a hard failure.
func ErrorKind(err error) string {
	var cfgErr *adapter.ConfigurationError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrEmptyQuery):
		return KindInvalidRequest
	case errors.As(err, &cfgErr):
		return KindConfiguration
	case types.IsRateLimited(err):
		return KindRateLimited
	case errors.Is(err, ErrEmptyBundle):
		return KindEmptyBundle
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindCanceled
	default:
		return KindInternal
	}
}

// Stream runs the pipeline in the background and reports progress on the
// returned channel. The channel carries progress events followed by exactly
// one result or error event, then closes. Cancelling ctx stops the run and
// further emission.
func (e *Engine) Stream(ctx context.Context, req Request) <-chan Event {
	events := make(chan Event, 16)

	go func() {
		defer close(events)

		send := func(ev Event) {
			if ctx.Err() != nil {
				return
			}
			select {
			case events <- ev:
			case <-ctx.Done():
			}
		}

		res, err := e.run(ctx, req, "stream", func(msg string) {
			send(Event{Kind: EventProgress, Message: msg})
		})
		if err != nil {
			send(Event{Kind: EventError, Error: err.Error(), ErrorKind: ErrorKind(err)})
			return
		}
		send(Event{Kind: EventResult, Result: res})
	}()

	return events
}
