package gemini

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/spigell/form-filler/internal/embedding"
	"github.com/spigell/form-filler/internal/utils"
)

const (
	defaultModel      = "text-embedding-004"
	defaultMaxRetries = 3
	defaultBaseDelay  = 500 * time.Millisecond
	defaultMaxDelay   = 10 * time.Second
	// maxBatchSize is the number of texts the API accepts per request.
	maxBatchSize = 100
	taskType     = "SEMANTIC_SIMILARITY"
)

var sleep = utils.WaitFor

var retryAfterPattern = regexp.MustCompile(`(?i)retry (?:after|in) (\d+(?:\.\d+)?)\s*(s|sec|secs|seconds?)?\b`)

type contentEmbedder interface {
	EmbedContent(ctx context.Context, model string, contents []*genai.Content, config *genai.EmbedContentConfig) (*genai.EmbedContentResponse, error)
}

// Config holds the Gemini embedding settings.
type Config struct {
	APIKey     string
	Model      string
	Dimensions int32
	MaxRetries int
}

// Client embeds texts with the Gemini API. Returned vectors are unit length,
// so inner products are cosine similarities.
type Client struct {
	models     contentEmbedder
	model      string
	dimensions int32
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
	logger     *zap.Logger
}

// NewClient creates a client for the Gemini API backend.
func NewClient(ctx context.Context, cfg Config, logger *zap.Logger) (*Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errors.New("gemini api key is required")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}

	return newClient(client.Models, cfg, logger), nil
}

func newClient(models contentEmbedder, cfg Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}

	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultModel
	}

	retries := cfg.MaxRetries
	if retries <= 0 {
		retries = defaultMaxRetries
	}

	return &Client{
		models:     models,
		model:      model,
		dimensions: cfg.Dimensions,
		maxRetries: retries,
		baseDelay:  defaultBaseDelay,
		maxDelay:   defaultMaxDelay,
		logger:     logger,
	}
}

func (c *Client) Model() string {
	if c == nil {
		return ""
	}
	return c.model
}

// Embed returns one vector per text. Texts are sent in as few requests as the
// API allows.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if c == nil || c.models == nil {
		return nil, errors.New("gemini embedder is not initialized")
	}

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += maxBatchSize {
		end := min(start+maxBatchSize, len(texts))

		vectors, err := c.embedWithRetry(ctx, texts[start:end])
		if err != nil {
			return nil, fmt.Errorf("embed texts %d-%d: %w", start, end, err)
		}
		out = append(out, vectors...)
	}

	return out, nil
}

func (c *Client) embedWithRetry(ctx context.Context, texts []string) ([][]float32, error) {
	var lastErr error

	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		vectors, err := c.embedBatch(ctx, texts)
		if err == nil {
			return vectors, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		delay, retry := c.retryDelay(err, attempt)
		if !retry || attempt == c.maxRetries {
			break
		}

		c.logger.Warn("gemini embed request failed, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err),
		)

		if err := sleep(ctx, delay); err != nil {
			return nil, err
		}
	}

	return nil, lastErr
}

func (c *Client) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	contents := make([]*genai.Content, 0, len(texts))
	for _, text := range texts {
		contents = append(contents, genai.Text(text)...)
	}

	cfg := &genai.EmbedContentConfig{TaskType: taskType}
	if c.dimensions > 0 {
		dims := c.dimensions
		cfg.OutputDimensionality = &dims
	}

	if ce := c.logger.Check(zap.DebugLevel, "gemini embed content request"); ce != nil {
		chars := 0
		for _, t := range texts {
			chars += utf8.RuneCountInString(t)
		}
		ce.Write(
			zap.Int("texts", len(texts)),
			zap.Int("chars", chars),
			zap.String("first_text", utils.TruncateForLog(texts[0], 60)),
		)
	}

	resp, err := c.models.EmbedContent(ctx, c.model, contents, cfg)
	if err != nil {
		return nil, err
	}

	if resp == nil || len(resp.Embeddings) != len(texts) {
		got := 0
		if resp != nil {
			got = len(resp.Embeddings)
		}
		return nil, fmt.Errorf("gemini api returned %d embeddings for %d texts", got, len(texts))
	}

	vectors := make([][]float32, len(texts))
	for i, e := range resp.Embeddings {
		if e == nil || len(e.Values) == 0 {
			return nil, fmt.Errorf("gemini api returned empty embedding for text %d", i)
		}
		vec := make([]float32, len(e.Values))
		copy(vec, e.Values)
		vectors[i] = embedding.Normalize(vec)
	}

	return vectors, nil
}

// retryDelay decides whether err is transient and how long to wait before the
// next attempt. Quota errors asking for a wait longer than maxDelay are not
// retried.
func (c *Client) retryDelay(err error, attempt int) (time.Duration, bool) {
	var apiErr genai.APIError
	if !errors.As(err, &apiErr) {
		return 0, false
	}

	backoff := time.Duration(float64(c.baseDelay) * math.Pow(2, float64(attempt-1)))
	if backoff > c.maxDelay {
		backoff = c.maxDelay
	}

	switch {
	case apiErr.Code == http.StatusTooManyRequests:
		if wait, ok := parseRetryAfter(apiErr.Message); ok {
			if wait > c.maxDelay {
				return 0, false
			}
			return wait, true
		}
		return backoff, true
	case apiErr.Code >= http.StatusInternalServerError:
		return backoff, true
	default:
		return 0, false
	}
}

func parseRetryAfter(message string) (time.Duration, bool) {
	m := retryAfterPattern.FindStringSubmatch(message)
	if m == nil {
		return 0, false
	}
	seconds, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, false
	}
	return time.Duration(seconds * float64(time.Second)), true
}
