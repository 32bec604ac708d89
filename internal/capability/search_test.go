package capability

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Ai-Whisperers/LangAi-sub013/config"
)

func TestNewSearcherSelection(t *testing.T) {
	if s, err := NewSearcher(config.SearchConfig{BraveAPIKey: "b"}); err != nil {
		t.Fatalf("brave: %v", err)
	} else if _, ok := s.(*BraveSearcher); !ok {
		t.Fatalf("expected BraveSearcher, got %T", s)
	}

	if s, err := NewSearcher(config.SearchConfig{SerperAPIKey: "s"}); err != nil {
		t.Fatalf("serper: %v", err)
	} else if _, ok := s.(*SerperSearcher); !ok {
		t.Fatalf("expected SerperSearcher, got %T", s)
	}

	// Brave wins when both keys are present.
	if s, _ := NewSearcher(config.SearchConfig{BraveAPIKey: "b", SerperAPIKey: "s"}); s == nil {
		t.Fatalf("expected a searcher")
	} else if _, ok := s.(*BraveSearcher); !ok {
		t.Fatalf("expected BraveSearcher preference, got %T", s)
	}

	if _, err := NewSearcher(config.SearchConfig{}); err == nil {
		t.Fatalf("expected error with no keys")
	}
}

func TestClassifyStatus(t *testing.T) {
	if err := classifyStatus(http.StatusTooManyRequests); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("429: %v", err)
	}
	if err := classifyStatus(http.StatusServiceUnavailable); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("503: %v", err)
	}
	if err := classifyStatus(http.StatusForbidden); Retryable(err) {
		t.Fatalf("403 should not be retryable: %v", err)
	}
}

func TestClassifyTransportErr(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	<-ctx.Done()
	if err := classifyTransportErr(ctx, fmt.Errorf("dial tcp: i/o timeout")); !errors.Is(err, ErrTimeout) {
		t.Fatalf("deadline: %v", err)
	}
	if err := classifyTransportErr(context.Background(), fmt.Errorf("connection refused")); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("refused: %v", err)
	}
}

func TestNoopSearcher(t *testing.T) {
	hits, err := NoopSearcher{}.Search(context.Background(), "anything")
	if err != nil || hits != nil {
		t.Fatalf("expected empty result without error, got %v, %v", hits, err)
	}
}

func TestPageFetcherReadableText(t *testing.T) {
	page := `<html><head><title>Acme Q2</title></head><body><article><h1>Acme Q2</h1>` +
		strings.Repeat(`<p>Revenue grew twelve percent year over year on strong robotics demand.</p>`, 20) +
		`</article></body></html>`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(page))
	}))
	defer srv.Close()

	f := NewPageFetcher(5*time.Second, 120)
	text, err := f.ReadableText(context.Background(), srv.URL+"/report")
	if err != nil {
		t.Fatalf("ReadableText: %v", err)
	}
	if !strings.Contains(text, "Revenue grew twelve percent") {
		t.Fatalf("expected article text, got %q", text)
	}
	if len(text) > 120 {
		t.Fatalf("expected truncation to 120 chars, got %d", len(text))
	}
}

func TestPageFetcherErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	f := NewPageFetcher(5*time.Second, 0)
	if _, err := f.ReadableText(context.Background(), srv.URL); err == nil {
		t.Fatalf("expected error for 404")
	}
}
