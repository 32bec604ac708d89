package capability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/Ai-Whisperers/LangAi-sub013/config"
)

// OpenAIGenerator implements Generator against the OpenAI chat completions API.
type OpenAIGenerator struct {
	cfg    config.LLMConfig
	client *http.Client
}

// NewOpenAIGenerator creates a generation port backed by OpenAI.
func NewOpenAIGenerator(cfg config.LLMConfig) *OpenAIGenerator {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &OpenAIGenerator{cfg: cfg, client: &http.Client{Timeout: timeout}}
}

// Generate sends the prompt and returns the completion with token usage.
func (p *OpenAIGenerator) Generate(ctx context.Context, prompt string) (Generation, error) {
	apiKey := p.cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		return Generation{}, fmt.Errorf("OpenAI API key not configured: %w", ErrUnavailable)
	}

	type chatMsg struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}
	type chatReq struct {
		Model       string    `json:"model"`
		Messages    []chatMsg `json:"messages"`
		Temperature float64   `json:"temperature,omitempty"`
		MaxTokens   int       `json:"max_tokens,omitempty"`
	}

	body, err := json.Marshal(chatReq{
		Model:       p.cfg.Model,
		Messages:    []chatMsg{{Role: "user", Content: prompt}},
		Temperature: p.cfg.Temperature,
		MaxTokens:   p.cfg.MaxTokens,
	})
	if err != nil {
		return Generation{}, fmt.Errorf("marshal: %w", err)
	}

	baseURL := p.cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	req, err := http.NewRequestWithContext(ctx, "POST", baseURL+"/chat/completions", bytes.NewBuffer(body))
	if err != nil {
		return Generation{}, fmt.Errorf("request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return Generation{}, fmt.Errorf("openai: %w", ErrTimeout)
		}
		return Generation{}, fmt.Errorf("openai: %v: %w", err, ErrUnavailable)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return Generation{}, fmt.Errorf("openai status %d: %w", resp.StatusCode, ErrUnavailable)
		}
		return Generation{}, fmt.Errorf("openai status %d", resp.StatusCode)
	}

	var out struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
		Usage struct {
			PromptTokens     int `json:"prompt_tokens"`
			CompletionTokens int `json:"completion_tokens"`
		} `json:"usage"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Generation{}, fmt.Errorf("decode: %w", err)
	}
	if len(out.Choices) == 0 {
		return Generation{}, fmt.Errorf("openai: no choices")
	}

	return Generation{
		Text:         out.Choices[0].Message.Content,
		Model:        p.cfg.Model,
		InputTokens:  int64(out.Usage.PromptTokens),
		OutputTokens: int64(out.Usage.CompletionTokens),
	}, nil
}

// Cost estimates the dollar cost of a generation from configured per-1K rates.
func (p *OpenAIGenerator) Cost(g Generation) float64 {
	return float64(g.InputTokens)/1000.0*p.cfg.CostPer1KInput +
		float64(g.OutputTokens)/1000.0*p.cfg.CostPer1KOutput
}
