package generator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"docrag/internal/domain"
)

const (
	defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

	// DefaultPrimaryModel answers first; DefaultFallbackModel is the
	// cheaper degradation tier used once when the primary fails.
	DefaultPrimaryModel  = "gemini-2.5-flash"
	DefaultFallbackModel = "gemma-3-27b-it"
)

// Client generates grounded answers through the Gemini API. The two-tier
// primary/fallback policy is a quality/availability tradeoff, not a retry
// loop: the fallback runs at most once with the identical prompt, and if it
// also fails the query surfaces ErrGenerationUnavailable.
type Client struct {
	baseURL  string
	apiKey   string
	primary  string
	fallback string
	client   *http.Client
	logger   *slog.Logger
}

// Config configures the generation client. The API key is read from the
// environment variable named by APIKeyEnv.
type Config struct {
	BaseURL       string
	APIKeyEnv     string
	PrimaryModel  string
	FallbackModel string
	Timeout       time.Duration
}

func NewClient(cfg Config, logger *slog.Logger) (*Client, error) {
	if cfg.APIKeyEnv == "" {
		cfg.APIKeyEnv = "GEMINI_API_KEY"
	}
	key := os.Getenv(cfg.APIKeyEnv)
	if key == "" {
		return nil, fmt.Errorf("missing API key in env %s", cfg.APIKeyEnv)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.PrimaryModel == "" {
		cfg.PrimaryModel = DefaultPrimaryModel
	}
	if cfg.FallbackModel == "" {
		cfg.FallbackModel = DefaultFallbackModel
	}
	t := cfg.Timeout
	if t == 0 {
		t = 60 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:  cfg.BaseURL,
		apiKey:   key,
		primary:  cfg.PrimaryModel,
		fallback: cfg.FallbackModel,
		client:   &http.Client{Timeout: t},
		logger:   logger,
	}, nil
}

// GenerateAnswer builds one grounded prompt and calls the primary model,
// degrading once to the fallback model on any failure.
func (c *Client) GenerateAnswer(ctx context.Context, question string, contextChunks []domain.SearchResult) (string, error) {
	prompt := BuildPrompt(question, contextChunks)
	text, primaryErr := c.generate(ctx, c.primary, prompt)
	if primaryErr == nil {
		return text, nil
	}
	c.logger.Warn("primary generation failed, degrading to fallback",
		"primary", c.primary, "fallback", c.fallback, "error", primaryErr)
	text, fallbackErr := c.generate(ctx, c.fallback, prompt)
	if fallbackErr != nil {
		return "", fmt.Errorf("%w: %s: %v; %s: %v",
			domain.ErrGenerationUnavailable, c.primary, primaryErr, c.fallback, fallbackErr)
	}
	return text, nil
}

// BuildPrompt embeds the context chunks verbatim in retrieval order, then
// the question, then the grounding instruction.
func BuildPrompt(question string, contextChunks []domain.SearchResult) string {
	var sb strings.Builder
	sb.WriteString("You are a helpful assistant answering questions based on the following documents:\n\n")
	for _, r := range contextChunks {
		sb.WriteString(r.Chunk.Text)
		sb.WriteString("\n\n")
	}
	sb.WriteString("Question: ")
	sb.WriteString(question)
	sb.WriteString("\n\nAnswer only from the provided documents, concisely and accurately. ")
	sb.WriteString("If the documents do not contain the answer, say so explicitly instead of guessing.")
	return sb.String()
}

// generate performs one generateContent call at temperature 0.
func (c *Client) generate(ctx context.Context, model, prompt string) (string, error) {
	body := map[string]any{
		"contents": []map[string]any{
			{
				"role":  "user",
				"parts": []map[string]any{{"text": prompt}},
			},
		},
		"generationConfig": map[string]any{"temperature": 0},
	}
	data, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}
	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", c.baseURL, model, c.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.client.Do(req)
	if err != nil {
		return "", &domain.ProviderError{Provider: "gemini", Body: err.Error()}
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &domain.ProviderError{Provider: "gemini", Body: "read response: " + err.Error()}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &domain.ProviderError{Provider: "gemini", Status: resp.StatusCode, Body: string(payload)}
	}
	var out struct {
		Candidates []struct {
			Content struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"content"`
		} `json:"candidates"`
	}
	if err := json.Unmarshal(payload, &out); err != nil {
		return "", &domain.ProviderError{Provider: "gemini", Body: "malformed generation response: " + err.Error()}
	}
	if len(out.Candidates) == 0 {
		return "", errors.New("no candidates in generation response")
	}
	var text strings.Builder
	for _, p := range out.Candidates[0].Content.Parts {
		text.WriteString(p.Text)
	}
	if text.Len() == 0 {
		return "", errors.New("empty generation response")
	}
	return text.String(), nil
}

var _ domain.Generator = (*Client)(nil)
