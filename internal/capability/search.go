package capability

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Ai-Whisperers/LangAi-sub013/config"
)

// BraveSearcher implements Searcher against the Brave web search API.
// https://api.search.brave.com/app/documentation/web-search
type BraveSearcher struct {
	cfg    config.SearchConfig
	client *http.Client
}

// NewBraveSearcher creates a search port backed by Brave.
func NewBraveSearcher(cfg config.SearchConfig) *BraveSearcher {
	return &BraveSearcher{cfg: cfg, client: searchClient(cfg)}
}

func (s *BraveSearcher) Search(ctx context.Context, q string) ([]SearchResult, error) {
	k := s.cfg.MaxResults
	if k <= 0 {
		k = 10
	}
	endpoint := fmt.Sprintf("https://api.search.brave.com/res/v1/web/search?q=%s&count=%d", url.QueryEscape(q), k)
	req, _ := http.NewRequestWithContext(ctx, "GET", endpoint, nil)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", s.cfg.BraveAPIKey)
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, classifyTransportErr(ctx, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, classifyStatus(resp.StatusCode)
	}
	var raw struct {
		Web struct {
			Results []struct {
				Title   string `json:"title"`
				URL     string `json:"url"`
				Snippet string `json:"description"`
			} `json:"results"`
		} `json:"web"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	var out []SearchResult
	for i, r := range raw.Web.Results {
		if i >= k {
			break
		}
		out = append(out, SearchResult{Title: r.Title, URL: r.URL, Snippet: r.Snippet})
	}
	return out, nil
}

// SerperSearcher implements Searcher against the Serper google search API.
type SerperSearcher struct {
	cfg    config.SearchConfig
	client *http.Client
}

// NewSerperSearcher creates a search port backed by Serper.
func NewSerperSearcher(cfg config.SearchConfig) *SerperSearcher {
	return &SerperSearcher{cfg: cfg, client: searchClient(cfg)}
}

func (s *SerperSearcher) Search(ctx context.Context, q string) ([]SearchResult, error) {
	k := s.cfg.MaxResults
	if k <= 0 {
		k = 10
	}
	body := fmt.Sprintf(`{"q":%q,"num":%d}`, q, k)
	req, _ := http.NewRequestWithContext(ctx, "POST", "https://google.serper.dev/search", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-KEY", s.cfg.SerperAPIKey)
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, classifyTransportErr(ctx, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, classifyStatus(resp.StatusCode)
	}
	var raw struct {
		Organic []struct {
			Title   string `json:"title"`
			Link    string `json:"link"`
			Snippet string `json:"snippet"`
		} `json:"organic"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	var out []SearchResult
	for i, r := range raw.Organic {
		if i >= k {
			break
		}
		out = append(out, SearchResult{Title: r.Title, URL: r.Link, Snippet: r.Snippet})
	}
	return out, nil
}

// NewSearcher picks a configured search provider, preferring Brave.
func NewSearcher(cfg config.SearchConfig) (Searcher, error) {
	if cfg.BraveAPIKey != "" {
		return NewBraveSearcher(cfg), nil
	}
	if cfg.SerperAPIKey != "" {
		return NewSerperSearcher(cfg), nil
	}
	return nil, fmt.Errorf("no search provider configured (search.brave_api_key or search.serper_api_key)")
}

func searchClient(cfg config.SearchConfig) *http.Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &http.Client{Timeout: timeout}
}

func classifyTransportErr(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("search: %w", ErrTimeout)
	}
	return fmt.Errorf("search: %v: %w", err, ErrUnavailable)
}

func classifyStatus(code int) error {
	if code == http.StatusTooManyRequests || code >= 500 {
		return fmt.Errorf("search status %d: %w", code, ErrUnavailable)
	}
	return fmt.Errorf("search status %d", code)
}

// NoopSearcher satisfies Searcher when no provider is configured. Agents see
// zero results and record a gap instead of failing.
type NoopSearcher struct{}

func (NoopSearcher) Search(context.Context, string) ([]SearchResult, error) {
	return nil, nil
}
