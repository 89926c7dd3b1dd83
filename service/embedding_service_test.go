package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tieubaoca/docqa-be/types"
)

type fakeEmbeddingClient struct {
	calls     int
	batches   [][]string
	failTimes int
	failWith  error
	dimension int
}

func (f *fakeEmbeddingClient) CreateEmbeddings(ctx context.Context, conv openai.EmbeddingRequestConverter) (openai.EmbeddingResponse, error) {
	f.calls++
	req := conv.Convert()
	texts := req.Input.([]string)
	f.batches = append(f.batches, texts)

	if f.failTimes > 0 {
		f.failTimes--
		return openai.EmbeddingResponse{}, f.failWith
	}

	resp := openai.EmbeddingResponse{Data: make([]openai.Embedding, len(texts))}
	for i := range texts {
		vec := make([]float32, f.dimension)
		vec[0] = float32(len(texts[i])) // deterministic per input
		resp.Data[i] = openai.Embedding{Index: i, Embedding: vec}
	}
	return resp, nil
}

func testEmbeddingConfig(dim, batch, retries int) EmbeddingServiceConfig {
	return EmbeddingServiceConfig{
		Model:      "text-embedding-3-small",
		Dimension:  dim,
		BatchSize:  batch,
		MaxRetries: retries,
		Timeout:    time.Second,
	}
}

func TestEmbedTextsPreservesOrderAcrossBatches(t *testing.T) {
	client := &fakeEmbeddingClient{dimension: 4}
	s := newEmbeddingService(client, testEmbeddingConfig(4, 2, 0))

	texts := []string{"a", "bb", "ccc", "dddd", "eeeee"}
	vectors, err := s.EmbedTexts(context.Background(), texts)
	require.NoError(t, err)
	require.Len(t, vectors, len(texts))
	for i, v := range vectors {
		assert.Len(t, v, 4)
		assert.Equal(t, float32(len(texts[i])), v[0], "vector %d out of order", i)
	}
	assert.Equal(t, 3, client.calls, "5 inputs with batch size 2 need 3 requests")
	assert.Equal(t, [][]string{{"a", "bb"}, {"ccc", "dddd"}, {"eeeee"}}, client.batches)
}

func TestEmbedTextsRetriesTransientThenSucceeds(t *testing.T) {
	client := &fakeEmbeddingClient{
		dimension: 3,
		failTimes: 2,
		failWith:  &openai.APIError{HTTPStatusCode: 429},
	}
	s := newEmbeddingService(client, testEmbeddingConfig(3, 10, 3))
	s.backoff = time.Millisecond

	vectors, err := s.EmbedTexts(context.Background(), []string{"x"})
	require.NoError(t, err)
	require.Len(t, vectors, 1)
	assert.Equal(t, 3, client.calls)
}

func TestEmbedTextsRetryBudgetExhausted(t *testing.T) {
	client := &fakeEmbeddingClient{
		dimension: 3,
		failTimes: 100,
		failWith:  &openai.APIError{HTTPStatusCode: 500},
	}
	s := newEmbeddingService(client, testEmbeddingConfig(3, 10, 2))
	s.backoff = time.Millisecond

	_, err := s.EmbedTexts(context.Background(), []string{"x"})
	assert.ErrorIs(t, err, types.ErrEmbedding)
	assert.Equal(t, 3, client.calls, "initial attempt plus two retries")
}

func TestEmbedTextsPermanentFailureDoesNotRetry(t *testing.T) {
	client := &fakeEmbeddingClient{
		dimension: 3,
		failTimes: 100,
		failWith:  &openai.APIError{HTTPStatusCode: 400},
	}
	s := newEmbeddingService(client, testEmbeddingConfig(3, 10, 5))

	_, err := s.EmbedTexts(context.Background(), []string{"x"})
	assert.ErrorIs(t, err, types.ErrEmbedding)
	assert.Equal(t, 1, client.calls, "an invalid-input failure must not burn retries")
}

func TestEmbedTextsRejectsWrongDimension(t *testing.T) {
	client := &fakeEmbeddingClient{dimension: 7}
	s := newEmbeddingService(client, testEmbeddingConfig(3, 10, 0))

	_, err := s.EmbedTexts(context.Background(), []string{"x"})
	assert.ErrorIs(t, err, types.ErrEmbedding)
}

func TestIsTransientEmbeddingError(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		transient bool
	}{
		{"rate limited", &openai.APIError{HTTPStatusCode: 429}, true},
		{"server error", &openai.APIError{HTTPStatusCode: 503}, true},
		{"bad request", &openai.APIError{HTTPStatusCode: 400}, false},
		{"unauthorized", &openai.APIError{HTTPStatusCode: 401}, false},
		{"deadline", context.DeadlineExceeded, true},
		{"other", errors.New("boom"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.transient, isTransientEmbeddingError(tt.err))
		})
	}
}
