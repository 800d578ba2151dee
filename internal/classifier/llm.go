package classifier

import (
	"context"
	"errors"
	"fmt"

	"commentguard/internal/observability"

	"github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel/attribute"
)

// Message is one chat turn sent to the model.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionRequest asks the model for a single reply.
type CompletionRequest struct {
	Messages    []Message `json:"messages"`
	JSON        bool      `json:"json"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature float32   `json:"temperature"`
}

// CompletionResponse is the model's reply and the model that produced it.
type CompletionResponse struct {
	Content string
	Model   string
}

// LLM is the chat-completion capability the classifier depends on.
type LLM interface {
	Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error)
}

// ChatAPI is the subset of *openai.Client used by OpenAIClient.
type ChatAPI interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// OpenAIClient implements LLM against an OpenAI-compatible endpoint.
type OpenAIClient struct {
	api   ChatAPI
	model string
}

// NewOpenAIClient returns an LLM for model.
func NewOpenAIClient(api ChatAPI, model string) *OpenAIClient {
	return &OpenAIClient{api: api, model: model}
}

// NewOpenAIAPI builds the go-openai client for baseURL, which may be empty.
func NewOpenAIAPI(apiKey, baseURL string) *openai.Client {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return openai.NewClientWithConfig(cfg)
}

var errEmptyCompletion = errors.New("completion returned no choices")

func (c *OpenAIClient) Complete(ctx context.Context, req CompletionRequest) (resp CompletionResponse, err error) {
	ctx, span := observability.StartClientSpan(ctx, "llm", "chat.completions",
		attribute.String("model", c.model),
		attribute.Bool("json", req.JSON),
	)
	defer func() { observability.EndSpan(span, err) }()

	msgs := make([]openai.ChatCompletionMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}
	creq := openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    msgs,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}
	if req.JSON {
		creq.ResponseFormat = &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject}
	}

	out, err := c.api.CreateChatCompletion(ctx, creq)
	if err != nil {
		return CompletionResponse{}, fmt.Errorf("chat completion: %w", err)
	}
	if len(out.Choices) == 0 {
		return CompletionResponse{}, errEmptyCompletion
	}
	model := out.Model
	if model == "" {
		model = c.model
	}
	return CompletionResponse{Content: out.Choices[0].Message.Content, Model: model}, nil
}
