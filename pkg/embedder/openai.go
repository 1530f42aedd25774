package embedder

import (
	"context"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/entrained/engram/pkg/memory"
)

// OpenAIConfig configures the OpenAI embedding client.
type OpenAIConfig struct {
	APIKey    string
	BaseURL   string
	Model     string
	Dimension int
	Timeout   time.Duration
}

// OpenAIEmbedder calls the OpenAI embeddings API.
type OpenAIEmbedder struct {
	config OpenAIConfig
	client *openai.Client
}

// NewOpenAIEmbedder creates an OpenAI embedder.
func NewOpenAIEmbedder(config OpenAIConfig) *OpenAIEmbedder {
	if config.Model == "" {
		config.Model = string(openai.SmallEmbedding3)
	}
	if config.Dimension == 0 {
		config.Dimension = 1536
	}
	clientConfig := openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		clientConfig.BaseURL = config.BaseURL
	}
	return &OpenAIEmbedder{
		config: config,
		client: openai.NewClientWithConfig(clientConfig),
	}
}

func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(e.config.Model),
		Input: []string{text},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: openai embeddings: %v", memory.ErrUpstream, err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("%w: openai returned no embeddings", memory.ErrUpstream)
	}
	vec := resp.Data[0].Embedding
	if err := memory.ValidateVector(vec, e.config.Dimension); err != nil {
		return nil, fmt.Errorf("%w: openai embedding: %v", memory.ErrUpstream, err)
	}
	return vec, nil
}

func (e *OpenAIEmbedder) Dimension() int { return e.config.Dimension }
func (e *OpenAIEmbedder) Model() string  { return e.config.Model }
