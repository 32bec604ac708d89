package capability

import (
	"context"
	"errors"
)

// Generator is the port for "given a prompt, produce text". Implementations
// wrap an LLM provider; callers never see provider-specific errors, only the
// kinds below.
type Generator interface {
	Generate(ctx context.Context, prompt string) (Generation, error)
}

// Generation carries generated text plus token usage for cost accounting.
type Generation struct {
	Text         string
	Model        string
	InputTokens  int64
	OutputTokens int64
}

// Searcher is the port for "given a query, return candidate sources".
// An empty result list is valid and is not an error.
type Searcher interface {
	Search(ctx context.Context, query string) ([]SearchResult, error)
}

// SearchResult is one candidate source returned by a Searcher.
type SearchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

var (
	// ErrUnavailable indicates the capability backend could not be reached
	// or refused the request. Retryable.
	ErrUnavailable = errors.New("capability unavailable")

	// ErrTimeout indicates the capability call exceeded its deadline. Retryable.
	ErrTimeout = errors.New("capability timeout")
)

// Retryable reports whether an error is a transient capability failure that
// the caller may retry with backoff.
func Retryable(err error) bool {
	return errors.Is(err, ErrUnavailable) || errors.Is(err, ErrTimeout)
}
