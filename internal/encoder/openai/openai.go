package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"etymdef/internal/domain"
)

// Client is an OpenAI-compatible embeddings client implementing domain.Encoder.
type Client struct {
	baseURL        string
	apiKey         string
	model          string
	client         *http.Client
	maxRetries     int
	maxRequestSize int
	concurrency    int
	limiter        *rate.Limiter

	mu        sync.Mutex
	dimension int
}

// Config configures the OpenAI-compatible embeddings client.
type Config struct {
	BaseURL   string
	APIKeyEnv string
	Model     string
	Timeout   time.Duration
	// MaxRequestSize caps the number of inputs sent in one HTTP request.
	MaxRequestSize int
	// Concurrency caps in-flight requests for one EncodeBatch call.
	Concurrency int
	// RequestsPerSecond throttles requests; 0 disables throttling.
	RequestsPerSecond float64
}

// NewClient creates a new embeddings client using the provided configuration.
func NewClient(cfg Config) (*Client, error) {
	key := os.Getenv(cfg.APIKeyEnv)
	if key == "" {
		return nil, fmt.Errorf("missing API key in env %s", cfg.APIKeyEnv)
	}
	return newClient(cfg, key), nil
}

func newClient(cfg Config, key string) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "text-embedding-3-small"
	}
	t := cfg.Timeout
	if t == 0 {
		t = 30 * time.Second
	}
	if cfg.MaxRequestSize <= 0 {
		cfg.MaxRequestSize = 64
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	c := &Client{
		baseURL:        cfg.BaseURL,
		apiKey:         key,
		model:          cfg.Model,
		client:         &http.Client{Timeout: t},
		maxRetries:     5,
		maxRequestSize: cfg.MaxRequestSize,
		concurrency:    cfg.Concurrency,
	}
	if cfg.RequestsPerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	return c
}

// Name returns the identifier of this encoder implementation.
func (c *Client) Name() string { return "openai:" + c.model }

// Dimension returns the width seen in the first response, or 0 before any call.
func (c *Client) Dimension() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dimension
}

// EncodeBatch embeds texts, splitting them into requests of at most
// maxRequestSize inputs that run concurrently. Each result is written at
// its input position, so the output order always matches texts.
func (c *Client) EncodeBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	out := make([][]float32, len(texts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for start := 0; start < len(texts); start += c.maxRequestSize {
		start := start
		end := start + c.maxRequestSize
		if end > len(texts) {
			end = len(texts)
		}
		g.Go(func() error {
			vecs, err := c.embed(gctx, texts[start:end])
			if err != nil {
				return fmt.Errorf("embedding texts [%d,%d): %w", start, end, err)
			}
			copy(out[start:end], vecs)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

type embeddingsRequest struct {
	Input []string `json:"input"`
	Model string   `json:"model"`
}

type embeddingsResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

func (c *Client) embed(ctx context.Context, texts []string) ([][]float32, error) {
	url := fmt.Sprintf("%s/embeddings", c.baseURL)
	data, err := json.Marshal(embeddingsRequest{Input: texts, Model: c.model})
	if err != nil {
		return nil, err
	}
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+c.apiKey)

		resp, err := c.client.Do(req)
		if err != nil {
			if attempt < c.maxRetries && ctx.Err() == nil {
				if err := sleep(ctx, retryDelay(attempt)); err != nil {
					return nil, err
				}
				continue
			}
			return nil, err
		}

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			delay := retryDelay(attempt)
			// Respect Retry-After if provided
			if ra := resp.Header.Get("Retry-After"); ra != "" {
				if secs, err := strconv.Atoi(ra); err == nil {
					delay = time.Duration(secs) * time.Second
				}
			}
			_ = resp.Body.Close()
			if attempt < c.maxRetries {
				if err := sleep(ctx, delay); err != nil {
					return nil, err
				}
				continue
			}
			return nil, fmt.Errorf("openai embeddings failed: %s", resp.Status)
		}

		if resp.StatusCode >= 300 {
			_ = resp.Body.Close()
			return nil, fmt.Errorf("openai embeddings failed: %s", resp.Status)
		}

		payload, err := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if err != nil {
			return nil, err
		}
		return c.decode(payload, len(texts))
	}
	return nil, errors.New("no embedding returned")
}

// decode places each returned vector at its index and checks that every
// input got exactly one vector of the common width.
func (c *Client) decode(payload []byte, n int) ([][]float32, error) {
	var body embeddingsResponse
	if err := json.Unmarshal(payload, &body); err != nil {
		return nil, fmt.Errorf("decode embeddings response: %w", err)
	}
	if len(body.Data) != n {
		return nil, fmt.Errorf("%w: got %d embeddings for %d inputs", domain.ErrShape, len(body.Data), n)
	}
	out := make([][]float32, n)
	width := len(body.Data[0].Embedding)
	for _, d := range body.Data {
		if d.Index < 0 || d.Index >= n || out[d.Index] != nil {
			return nil, fmt.Errorf("%w: invalid or duplicate index %d", domain.ErrShape, d.Index)
		}
		if len(d.Embedding) == 0 || len(d.Embedding) != width {
			return nil, fmt.Errorf("%w: embedding %d has width %d, want %d", domain.ErrShape, d.Index, len(d.Embedding), width)
		}
		out[d.Index] = d.Embedding
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.dimension == 0 {
		c.dimension = width
	} else if c.dimension != width {
		return nil, fmt.Errorf("%w: embedding width changed from %d to %d", domain.ErrShape, c.dimension, width)
	}
	return out, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func retryDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	base := 200 * time.Millisecond
	// exponential backoff capped at 5s
	d := base << attempt
	if d > 5*time.Second {
		d = 5 * time.Second
	}
	return d
}
