package similarity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"commentguard/internal/observability"
	"commentguard/internal/retry"

	"github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel/attribute"
)

// Embedder turns texts into fixed-dimension vectors, one per input, in order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// EmbeddingsAPI is the subset of *openai.Client used by OpenAIEmbedder.
type EmbeddingsAPI interface {
	CreateEmbeddings(ctx context.Context, conv openai.EmbeddingRequestConverter) (openai.EmbeddingResponse, error)
}

// OpenAIEmbedder calls an OpenAI-compatible embeddings endpoint in batches.
type OpenAIEmbedder struct {
	api        EmbeddingsAPI
	model      string
	dimensions int
	batchSize  int
	policy     retry.Policy
}

// NewOpenAIEmbedder returns an embedder for model producing dimensions-long vectors.
func NewOpenAIEmbedder(api EmbeddingsAPI, model string, dimensions, batchSize int) *OpenAIEmbedder {
	if batchSize <= 0 {
		batchSize = 64
	}
	return &OpenAIEmbedder{
		api:        api,
		model:      model,
		dimensions: dimensions,
		batchSize:  batchSize,
		policy:     retry.Exponential(500*time.Millisecond, 4*time.Second, 2),
	}
}

// WithRetryPolicy replaces the transport retry policy.
func (e *OpenAIEmbedder) WithRetryPolicy(p retry.Policy) *OpenAIEmbedder {
	e.policy = p
	return e
}

func (e *OpenAIEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for start := 0; start < len(texts); start += e.batchSize {
		end := min(start+e.batchSize, len(texts))
		if err := e.embedBatch(ctx, texts[start:end], out[start:end]); err != nil {
			return nil, err
		}
	}
	return out, nil
}

var errShortResponse = errors.New("embedding response does not cover every input")

func (e *OpenAIEmbedder) embedBatch(ctx context.Context, texts []string, dst [][]float32) (err error) {
	ctx, span := observability.StartClientSpan(ctx, "embeddings", "create",
		attribute.Int("batch.size", len(texts)),
		attribute.String("model", e.model),
	)
	defer func() { observability.EndSpan(span, err) }()

	req := openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(e.model),
	}
	if e.dimensions > 0 {
		req.Dimensions = e.dimensions
	}

	var resp openai.EmbeddingResponse
	err = retry.Do(ctx, e.policy, func(int) error {
		var callErr error
		resp, callErr = e.api.CreateEmbeddings(ctx, req)
		return callErr
	})
	if err != nil {
		return fmt.Errorf("embed %d texts: %w", len(texts), err)
	}

	filled := 0
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(dst) {
			continue
		}
		if e.dimensions > 0 && len(d.Embedding) != e.dimensions {
			return fmt.Errorf("embedding has %d dimensions, want %d", len(d.Embedding), e.dimensions)
		}
		if dst[d.Index] == nil {
			filled++
		}
		dst[d.Index] = d.Embedding
	}
	if filled != len(texts) {
		return errShortResponse
	}
	return nil
}
