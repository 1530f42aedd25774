package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/entrained/engram/pkg/memory"
)

// OllamaConfig configures the Ollama embedding client.
type OllamaConfig struct {
	BaseURL    string
	Model      string
	Dimension  int
	Timeout    time.Duration
	MaxRetries int
}

// OllamaEmbedder calls a local Ollama server's /api/embeddings endpoint.
type OllamaEmbedder struct {
	config OllamaConfig
	client *http.Client
}

type ollamaEmbedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaEmbedResponse struct {
	Embedding []float32 `json:"embedding"`
}

// NewOllamaEmbedder creates an Ollama embedder, applying defaults for any
// zero-valued config field.
func NewOllamaEmbedder(config OllamaConfig) *OllamaEmbedder {
	if config.BaseURL == "" {
		config.BaseURL = "http://localhost:11434"
	}
	if config.Model == "" {
		config.Model = "nomic-embed-text"
	}
	if config.Dimension == 0 {
		config.Dimension = 768
	}
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.MaxRetries == 0 {
		config.MaxRetries = 3
	}
	return &OllamaEmbedder{
		config: config,
		client: &http.Client{Timeout: config.Timeout},
	}
}

func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	payload, err := json.Marshal(ollamaEmbedRequest{Model: e.config.Model, Prompt: text})
	if err != nil {
		return nil, fmt.Errorf("%w: marshal embed request: %v", memory.ErrUpstream, err)
	}

	var resp *http.Response
	for attempt := 0; attempt < e.config.MaxRetries; attempt++ {
		req, reqErr := http.NewRequestWithContext(ctx, http.MethodPost,
			e.config.BaseURL+"/api/embeddings", bytes.NewReader(payload))
		if reqErr != nil {
			return nil, fmt.Errorf("%w: build embed request: %v", memory.ErrUpstream, reqErr)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err = e.client.Do(req)
		if err == nil {
			break
		}
		slog.Debug("ollama embedding retry", "attempt", attempt+1, "error", err)
		if attempt < e.config.MaxRetries-1 {
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("%w: embedding cancelled: %v", memory.ErrTimeout, ctx.Err())
			case <-time.After(time.Duration(attempt+1) * time.Second):
			}
		}
	}
	if err != nil {
		return nil, fmt.Errorf("%w: ollama request failed: %v", memory.ErrUpstream, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("%w: ollama returned status %d: %s", memory.ErrUpstream, resp.StatusCode, string(body))
	}

	var response ollamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("%w: decode ollama response: %v", memory.ErrUpstream, err)
	}
	if len(response.Embedding) == 0 {
		return nil, fmt.Errorf("%w: ollama returned empty embedding", memory.ErrUpstream)
	}
	if err := memory.ValidateVector(response.Embedding, e.config.Dimension); err != nil {
		return nil, fmt.Errorf("%w: ollama embedding: %v", memory.ErrUpstream, err)
	}
	return response.Embedding, nil
}

func (e *OllamaEmbedder) Dimension() int { return e.config.Dimension }
func (e *OllamaEmbedder) Model() string  { return e.config.Model }
