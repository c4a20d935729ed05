package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"persona-recall/config"
	apperrors "persona-recall/errors"

	"go.uber.org/zap"
)

// Request/response mirror the OpenAI-compatible embeddings schema served by
// llama.cpp and most hosted providers.
type embeddingRequest struct {
	Model string   `json:"model,omitempty"`
	Input []string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Model string `json:"model"`
}

// Client wraps the external embedding provider. It retries transient
// failures with backoff and serves single-text lookups through an LRU cache.
type Client struct {
	cfg        *config.Config
	httpClient *http.Client
	logger     *zap.Logger
	cache      *vectorCache
	dimension  int
}

func New(cfg *config.Config, logger *zap.Logger) (*Client, error) {
	cache, err := newVectorCache(cfg.EmbeddingCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding cache: %w", err)
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.EmbeddingTimeout},
		logger:     logger,
		cache:      cache,
		dimension:  cfg.EmbeddingDimension,
	}, nil
}

// Dimension returns the vector width this deployment produces.
func (c *Client) Dimension() int {
	return c.dimension
}

// Embed converts a single text into a vector and reports the model that
// produced it. Provider failures are retried with backoff; exhaustion
// surfaces as an ErrProvider-wrapped error.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, string, error) {
	model := c.cfg.EmbeddingModel
	if vec, ok := c.cache.get(model, text); ok {
		return vec, model, nil
	}

	vectors, err := c.requestEmbeddings(ctx, []string{text})
	if err != nil {
		return nil, "", err
	}
	if len(vectors) == 0 || len(vectors[0]) == 0 {
		return nil, "", apperrors.WrapError(apperrors.ErrProvider, "embedding response was empty")
	}

	c.cache.put(model, text, vectors[0])
	return vectors[0], model, nil
}

// EmbedBatch converts texts in bounded batches with an inter-batch delay to
// respect upstream rate limits. A failed item yields a zero vector rather
// than aborting the batch, so ingestion degrades instead of blocking.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	batchSize := c.cfg.EmbeddingBatchSize
	if batchSize <= 0 {
		batchSize = 50
	}

	results := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += batchSize {
		if err := ctx.Err(); err != nil {
			return results, err
		}

		end := start + batchSize
		if end > len(texts) {
			end = len(texts)
		}
		batch := texts[start:end]

		vectors, err := c.requestEmbeddings(ctx, batch)
		if err != nil {
			c.logger.Warn("Embedding batch failed, retrying items individually",
				zap.Error(err),
				zap.Int("batch_start", start),
				zap.Int("batch_size", len(batch)))
			vectors = c.embedItemsFailOpen(ctx, batch)
		}
		if len(vectors) != len(batch) {
			c.logger.Warn("Embedding batch count mismatch, padding with zero vectors",
				zap.Int("got", len(vectors)),
				zap.Int("want", len(batch)))
			vectors = padVectors(vectors, len(batch), c.dimension)
		}
		results = append(results, vectors...)

		if end < len(texts) && c.cfg.EmbeddingBatchDelay > 0 {
			select {
			case <-ctx.Done():
				return results, ctx.Err()
			case <-time.After(c.cfg.EmbeddingBatchDelay):
			}
		}
	}

	return results, nil
}

// embedItemsFailOpen embeds each item separately, substituting a zero vector
// for any item that still fails.
func (c *Client) embedItemsFailOpen(ctx context.Context, texts []string) [][]float32 {
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vecs, err := c.requestEmbeddings(ctx, []string{text})
		if err != nil || len(vecs) == 0 {
			c.logger.Warn("Embedding item failed, using zero vector",
				zap.Error(err),
				zap.Int("item", i))
			vectors[i] = make([]float32, c.dimension)
			continue
		}
		vectors[i] = vecs[0]
	}
	return vectors
}

func (c *Client) requestEmbeddings(ctx context.Context, input []string) ([][]float32, error) {
	reqBody := embeddingRequest{Model: c.cfg.EmbeddingModel, Input: input}
	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal embedding request: %w", err)
	}

	url := fmt.Sprintf("%s/v1/embeddings", strings.TrimRight(c.cfg.EmbeddingHost, "/"))
	var resp *http.Response
	var lastErr error
	for attempt := 0; attempt < c.cfg.MaxRetries; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonBody))
		if err != nil {
			return nil, fmt.Errorf("create embedding request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		r, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				break
			}
			c.backoffSleep(attempt)
			continue
		}

		if r.StatusCode == http.StatusServiceUnavailable || r.StatusCode == http.StatusTooManyRequests {
			io.Copy(io.Discard, r.Body)
			r.Body.Close()
			c.logger.Warn("Embedding provider busy, retrying",
				zap.Int("attempt", attempt+1),
				zap.Int("status", r.StatusCode))
			c.backoffSleep(attempt)
			continue
		}

		resp = r
		break
	}
	if resp == nil {
		return nil, apperrors.WrapErrorf(apperrors.ErrProvider, "no response from embedding server after %d attempts: %v", c.cfg.MaxRetries, lastErr)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read embedding response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, apperrors.WrapErrorf(apperrors.ErrProvider, "embedding server status %s: %s", resp.Status, string(bodyBytes))
	}

	var er embeddingResponse
	if err := json.Unmarshal(bodyBytes, &er); err != nil {
		return nil, fmt.Errorf("decode embedding response: %w", err)
	}
	if len(er.Data) == 0 {
		return nil, apperrors.WrapError(apperrors.ErrProvider, "embedding response was empty")
	}

	vectors := make([][]float32, len(er.Data))
	for _, item := range er.Data {
		if item.Index < 0 || item.Index >= len(vectors) {
			return nil, apperrors.WrapErrorf(apperrors.ErrProvider, "embedding response index %d out of range", item.Index)
		}
		vectors[item.Index] = item.Embedding
	}
	return vectors, nil
}

func (c *Client) backoffSleep(attempt int) {
	// Exponential backoff with configurable jitter and cap
	base := c.cfg.RetryDelay
	if base <= 0 {
		base = time.Second
	}
	d := base * time.Duration(1<<attempt)
	maxWait := c.cfg.BackoffMax
	if maxWait > 0 && d > maxWait {
		d = maxWait
	}
	jitterRatio := c.cfg.BackoffJitterRatio
	if jitterRatio < 0 || jitterRatio > 1 {
		jitterRatio = 0.1
	}
	jitter := time.Duration(float64(d) * jitterRatio)
	if jitter <= 0 {
		time.Sleep(d)
		return
	}
	time.Sleep(d - jitter + time.Duration(time.Now().UnixNano()%int64(2*jitter+1)))
}

func padVectors(vectors [][]float32, want, dimension int) [][]float32 {
	for len(vectors) < want {
		vectors = append(vectors, make([]float32, dimension))
	}
	return vectors[:want]
}
