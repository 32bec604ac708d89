package capability

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	readability "github.com/go-shiori/go-readability"
)

// PageFetcher pulls a source page and extracts its readable text. Used to
// enrich search snippets before extraction when search.fetch_content is set.
type PageFetcher struct {
	client   *http.Client
	MaxChars int
}

// NewPageFetcher creates a fetcher with the given per-request timeout.
func NewPageFetcher(timeout time.Duration, maxChars int) *PageFetcher {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if maxChars <= 0 {
		maxChars = 8000
	}
	return &PageFetcher{client: &http.Client{Timeout: timeout}, MaxChars: maxChars}
}

// ReadableText fetches link and returns the article body as plain text,
// truncated to MaxChars.
func (f *PageFetcher) ReadableText(ctx context.Context, link string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", link, nil)
	if err != nil {
		return "", fmt.Errorf("request: %w", err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return "", classifyTransportErr(ctx, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", classifyStatus(resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 2<<20))
	if err != nil {
		return "", fmt.Errorf("read: %w", err)
	}
	u, err := url.Parse(link)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	article, err := readability.FromReader(strings.NewReader(string(body)), u)
	if err != nil {
		return "", fmt.Errorf("readability: %w", err)
	}
	text := strings.TrimSpace(article.TextContent)
	if len(text) > f.MaxChars {
		text = text[:f.MaxChars]
	}
	return text, nil
}
