package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"os"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"docrag/internal/domain"
)

const (
	defaultBaseURL   = "https://generativelanguage.googleapis.com/v1beta"
	defaultModel     = "text-embedding-004"
	defaultDims      = 768
	defaultAttempts  = 4
	defaultBaseDelay = 200 * time.Millisecond
	maxBackoff       = 5 * time.Second
)

// Client is a Gemini embeddings client. One batch call embeds an ordered
// list of texts; the response must return vectors in the same order and
// count, otherwise the call fails without assigning anything.
type Client struct {
	baseURL     string
	apiKey      string
	model       string
	dims        int
	client      *http.Client
	limiter     *rate.Limiter
	maxAttempts int
	baseDelay   time.Duration
	logger      *slog.Logger
}

// Config configures the embeddings client. The API key is read from the
// environment variable named by APIKeyEnv, never embedded in config files.
type Config struct {
	BaseURL        string
	APIKeyEnv      string
	Model          string
	Dimensions     int
	Timeout        time.Duration
	MaxAttempts    int
	RequestsPerSec float64
}

// NewClient creates a new embeddings client using the provided configuration.
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
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.Dimensions <= 0 {
		cfg.Dimensions = defaultDims
	}
	t := cfg.Timeout
	if t == 0 {
		t = 30 * time.Second
	}
	attempts := cfg.MaxAttempts
	if attempts <= 0 {
		attempts = defaultAttempts
	}
	var limiter *rate.Limiter
	if cfg.RequestsPerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSec), 1)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:     cfg.BaseURL,
		apiKey:      key,
		model:       cfg.Model,
		dims:        cfg.Dimensions,
		client:      &http.Client{Timeout: t},
		limiter:     limiter,
		maxAttempts: attempts,
		baseDelay:   defaultBaseDelay,
		logger:      logger,
	}, nil
}

func (c *Client) Name() string { return "gemini" }

func (c *Client) Dimensions() int { return c.dims }

// EmbedBatch embeds the ordered texts in a single provider call, retried on
// transient failures. The returned vectors match the input order and count.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	reqs := make([]map[string]any, len(texts))
	for i, t := range texts {
		reqs[i] = map[string]any{
			"model":                "models/" + c.model,
			"content":              map[string]any{"parts": []map[string]any{{"text": t}}},
			"outputDimensionality": c.dims,
		}
	}
	body := map[string]any{"requests": reqs}
	url := fmt.Sprintf("%s/models/%s:batchEmbedContents?key=%s", c.baseURL, c.model, c.apiKey)

	var vecs [][]float64
	err := c.withRetry(ctx, "embed_batch", func() error {
		payload, err := c.postJSON(ctx, url, body)
		if err != nil {
			return err
		}
		var out struct {
			Embeddings []struct {
				Values []float64 `json:"values"`
			} `json:"embeddings"`
		}
		if err := json.Unmarshal(payload, &out); err != nil {
			return &domain.ProviderError{Provider: "gemini", Body: "malformed embeddings response: " + err.Error()}
		}
		if len(out.Embeddings) != len(texts) {
			return &domain.ProviderError{
				Provider: "gemini",
				Body:     fmt.Sprintf("embedding count mismatch: sent %d texts, got %d vectors", len(texts), len(out.Embeddings)),
			}
		}
		vecs = make([][]float64, len(out.Embeddings))
		for i, e := range out.Embeddings {
			if len(e.Values) != c.dims {
				vecs = nil
				return &domain.ProviderError{
					Provider: "gemini",
					Body:     fmt.Sprintf("vector %d has dimension %d, want %d", i, len(e.Values), c.dims),
				}
			}
			vecs[i] = e.Values
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return vecs, nil
}

// EmbedQuery embeds a single query string with the same retry policy.
func (c *Client) EmbedQuery(ctx context.Context, text string) ([]float64, error) {
	body := map[string]any{
		"content":              map[string]any{"parts": []map[string]any{{"text": text}}},
		"outputDimensionality": c.dims,
	}
	url := fmt.Sprintf("%s/models/%s:embedContent?key=%s", c.baseURL, c.model, c.apiKey)

	var vec []float64
	err := c.withRetry(ctx, "embed_query", func() error {
		payload, err := c.postJSON(ctx, url, body)
		if err != nil {
			return err
		}
		var out struct {
			Embedding struct {
				Values []float64 `json:"values"`
			} `json:"embedding"`
		}
		if err := json.Unmarshal(payload, &out); err != nil {
			return &domain.ProviderError{Provider: "gemini", Body: "malformed embedding response: " + err.Error()}
		}
		if len(out.Embedding.Values) != c.dims {
			return &domain.ProviderError{
				Provider: "gemini",
				Body:     fmt.Sprintf("vector has dimension %d, want %d", len(out.Embedding.Values), c.dims),
			}
		}
		vec = out.Embedding.Values
		return nil
	})
	if err != nil {
		return nil, err
	}
	return vec, nil
}

// postJSON performs one request and converts failures into ProviderError.
func (c *Client) postJSON(ctx context.Context, url string, body any) ([]byte, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &domain.ProviderError{Provider: "gemini", Body: err.Error()}
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &domain.ProviderError{Provider: "gemini", Body: "read response: " + err.Error()}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &domain.ProviderError{
			Provider:   "gemini",
			Status:     resp.StatusCode,
			Body:       string(payload),
			RetryAfter: retryAfterHeader(resp),
		}
	}
	return payload, nil
}

// withRetry runs fn with bounded exponential backoff on transient failures.
// The provider's Retry-After hint, when larger than the computed backoff,
// sets the delay floor.
func (c *Client) withRetry(ctx context.Context, op string, fn func() error) error {
	var last error
	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return err
			}
		}
		err := fn()
		if err == nil {
			return nil
		}
		if !domain.IsTransient(err) {
			return err
		}
		last = err
		if attempt < c.maxAttempts-1 {
			delay := backoff(c.baseDelay, attempt)
			if ra := domain.RetryAfterOf(err); ra > delay {
				delay = ra
			}
			c.logger.Warn("retrying transient provider error",
				"op", op, "attempt", attempt+1, "max_attempts", c.maxAttempts, "error", err)
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
	}
	c.logger.Error("provider retries exhausted", "op", op, "attempts", c.maxAttempts, "error", last)
	return last
}

// backoff returns base * 2^attempt with up to 50% jitter, capped at maxBackoff.
func backoff(base time.Duration, attempt int) time.Duration {
	d := base << attempt
	if d > maxBackoff {
		d = maxBackoff
	}
	return d + time.Duration(rand.Int63n(int64(d)/2+1))
}

func retryAfterHeader(resp *http.Response) time.Duration {
	ra := resp.Header.Get("Retry-After")
	if ra == "" {
		return 0
	}
	secs, err := strconv.Atoi(ra)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

var _ domain.Embedder = (*Client)(nil)
