package agents

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// SearchTool is the web-search capability. It always returns text: after
// retries are exhausted the failure description itself becomes the result,
// so callers never have to branch on an error.
type SearchTool interface {
	Search(ctx context.Context, query string) string
}

// SearchFunc adapts a function to the SearchTool interface.
type SearchFunc func(ctx context.Context, query string) string

func (f SearchFunc) Search(ctx context.Context, query string) string {
	return f(ctx, query)
}

const searchMaxAttempts = 3

// Searcher is the fallible primitive a RetryingSearch wraps.
type Searcher interface {
	Search(ctx context.Context, query string) (string, error)
}

// RetryingSearch wraps a fallible searcher with bounded immediate retries.
// After the last attempt fails it returns a textual failure description
// instead of an error.
type RetryingSearch struct {
	inner  Searcher
	logger *zap.Logger
}

// NewRetryingSearch wraps inner with retry-and-degrade behavior.
func NewRetryingSearch(inner Searcher, logger *zap.Logger) *RetryingSearch {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RetryingSearch{inner: inner, logger: logger}
}

// Search attempts the query up to three times with no backoff. The caller
// always receives text.
func (s *RetryingSearch) Search(ctx context.Context, query string) string {
	var lastErr error
	for attempt := 1; attempt <= searchMaxAttempts; attempt++ {
		result, err := s.inner.Search(ctx, query)
		if err == nil {
			return result
		}
		lastErr = err
		s.logger.Warn("Web search attempt failed",
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		if ctx.Err() != nil {
			break
		}
	}
	msg := fmt.Sprintf("Web search failed after %d attempts: %v", searchMaxAttempts, lastErr)
	s.logger.Error("Web search exhausted retries", zap.String("query", query), zap.Error(lastErr))
	return "Unable to search web: " + msg
}
