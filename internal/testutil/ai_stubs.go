package testutil

import (
	"context"
	"sync"

	"commentguard/internal/classifier"
	"commentguard/internal/models"
)

// LLMStub is a classifier.LLM whose replies come from CompleteFn.
type LLMStub struct {
	mu         sync.Mutex
	Calls      int
	CompleteFn func(req classifier.CompletionRequest) (classifier.CompletionResponse, error)
}

// NewLLMReply returns a stub answering every request with content.
func NewLLMReply(content string) *LLMStub {
	return &LLMStub{CompleteFn: func(classifier.CompletionRequest) (classifier.CompletionResponse, error) {
		return classifier.CompletionResponse{Content: content, Model: "stub-model"}, nil
	}}
}

func (s *LLMStub) Complete(_ context.Context, req classifier.CompletionRequest) (classifier.CompletionResponse, error) {
	s.mu.Lock()
	s.Calls++
	s.mu.Unlock()
	return s.CompleteFn(req)
}

// CallCount returns the number of completions requested.
func (s *LLMStub) CallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Calls
}

// EmbedderStub maps texts to fixed vectors. Unknown texts get Default.
type EmbedderStub struct {
	mu      sync.Mutex
	Vectors map[string][]float32
	Default []float32
	Err     error
	Calls   int
}

// NewEmbedderStub returns a stub with the given text-to-vector table.
func NewEmbedderStub(vectors map[string][]float32) *EmbedderStub {
	return &EmbedderStub{Vectors: vectors}
}

func (s *EmbedderStub) Embed(_ context.Context, texts []string) ([][]float32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Calls++
	if s.Err != nil {
		return nil, s.Err
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if v, ok := s.Vectors[text]; ok {
			out[i] = v
		} else {
			out[i] = s.Default
		}
	}
	return out, nil
}

// Vec builds a models.EmbeddingDimensions-long vector whose leading values are head.
func Vec(head ...float32) []float32 {
	v := make([]float32, models.EmbeddingDimensions)
	copy(v, head)
	return v
}
