package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"time"

	"github.com/sashabaranov/go-openai"
	"github.com/tieubaoca/docqa-be/types"
)

// EmbeddingService turns text into fixed-dimension vectors. The output
// of EmbedTexts has the same length and order as its input; a document
// either gets vectors for all of its chunks or the job fails.
type EmbeddingService interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	Dimension() int
}

// embeddingClient is the slice of the OpenAI client the adapter needs.
type embeddingClient interface {
	CreateEmbeddings(ctx context.Context, conv openai.EmbeddingRequestConverter) (openai.EmbeddingResponse, error)
}

type EmbeddingServiceConfig struct {
	Model      string
	Dimension  int
	BatchSize  int
	MaxRetries int
	Timeout    time.Duration
}

type openAIEmbeddingService struct {
	client     embeddingClient
	model      string
	dimension  int
	batchSize  int
	maxRetries int
	timeout    time.Duration
	backoff    time.Duration
}

func NewOpenAIEmbeddingService(baseURL, apiKey string, cfg EmbeddingServiceConfig) EmbeddingService {
	clientConfig := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		clientConfig.BaseURL = baseURL
	}
	return newEmbeddingService(openai.NewClientWithConfig(clientConfig), cfg)
}

func newEmbeddingService(client embeddingClient, cfg EmbeddingServiceConfig) *openAIEmbeddingService {
	s := &openAIEmbeddingService{
		client:     client,
		model:      cfg.Model,
		dimension:  cfg.Dimension,
		batchSize:  cfg.BatchSize,
		maxRetries: cfg.MaxRetries,
		timeout:    cfg.Timeout,
		backoff:    500 * time.Millisecond,
	}
	if s.batchSize <= 0 {
		s.batchSize = 128
	}
	if s.timeout <= 0 {
		s.timeout = 30 * time.Second
	}
	return s
}

func (s *openAIEmbeddingService) Dimension() int { return s.dimension }

func (s *openAIEmbeddingService) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := s.EmbedTexts(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (s *openAIEmbeddingService) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	vectors := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += s.batchSize {
		end := start + s.batchSize
		if end > len(texts) {
			end = len(texts)
		}
		batch, err := s.embedBatch(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		vectors = append(vectors, batch...)
	}
	return vectors, nil
}

func (s *openAIEmbeddingService) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	var lastErr error
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		if attempt > 0 {
			wait := s.backoff << (attempt - 1)
			log.Printf("embedding batch retry %d/%d after %v: %v", attempt, s.maxRetries, wait, lastErr)
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return nil, fmt.Errorf("%w: %v", types.ErrEmbedding, ctx.Err())
			}
		}

		callCtx, cancel := context.WithTimeout(ctx, s.timeout)
		resp, err := s.client.CreateEmbeddings(callCtx, openai.EmbeddingRequest{
			Input: texts,
			Model: openai.EmbeddingModel(s.model),
		})
		cancel()
		if err == nil {
			return s.collect(texts, resp)
		}
		if !isTransientEmbeddingError(err) {
			return nil, fmt.Errorf("%w: %v", types.ErrEmbedding, err)
		}
		lastErr = err
	}
	return nil, fmt.Errorf("%w: retry budget exhausted: %v", types.ErrEmbedding, lastErr)
}

// collect reorders the response by input index so the output always
// matches the input order.
func (s *openAIEmbeddingService) collect(texts []string, resp openai.EmbeddingResponse) ([][]float32, error) {
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("%w: provider returned %d vectors for %d inputs", types.ErrEmbedding, len(resp.Data), len(texts))
	}
	vectors := make([][]float32, len(texts))
	for _, item := range resp.Data {
		if item.Index < 0 || item.Index >= len(texts) {
			return nil, fmt.Errorf("%w: provider returned out-of-range index %d", types.ErrEmbedding, item.Index)
		}
		if s.dimension > 0 && len(item.Embedding) != s.dimension {
			return nil, fmt.Errorf("%w: provider returned dimension %d, expected %d",
				types.ErrEmbedding, len(item.Embedding), s.dimension)
		}
		vectors[item.Index] = item.Embedding
	}
	for i := range vectors {
		if vectors[i] == nil {
			return nil, fmt.Errorf("%w: provider skipped input %d", types.ErrEmbedding, i)
		}
	}
	return vectors, nil
}

// Rate limits, server errors and timeouts are retryable; everything
// else (invalid input, auth, exhausted quota) is permanent.
func isTransientEmbeddingError(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == 429 || apiErr.HTTPStatusCode >= 500
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return false
}
