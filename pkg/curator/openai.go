package curator

import (
	"context"
	"encoding/json"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"github.com/entrained/engram/pkg/memory"
)

const analyzeSystemPrompt = `You are a memory curator for an AI agent. Given a
conversation turn, extract the observations worth remembering. Reply with a
JSON object:
{"observations": [{"memory_type": "facts|preferences|context|temporary|skills|relationships",
"content": "...", "confidence_score": 0.0-1.0, "ephemerality_score": 0.0-1.0,
"contextual_value": 0.0-1.0, "privacy_level": "personal|participants_only|group|public",
"rationale": "..."}], "should_store": true|false, "overall_reasoning": "..."}
Score ephemerality high for information that loses value quickly (weather,
current mood) and low for durable facts (names, locations, preferences).`

const retrievalSystemPrompt = `You classify memory retrieval queries. Reply
with a JSON object:
{"intent_type": "factual|preference|episodic|mixed", "storage_types_needed":
["facts","preferences","context","temporary","skills","relationships"],
"temporal_focus": "recent|all_time", "confidence_threshold": 0.0-1.0,
"max_results": 1-50}`

// OpenAIConfig configures the chat-model curator.
type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

// OpenAICurator asks an OpenAI chat model for curation decisions. Replies
// are requested in JSON mode and decoded strictly; malformed output is an
// upstream error so the pipeline can apply its fallback.
type OpenAICurator struct {
	config OpenAIConfig
	client *openai.Client
}

// NewOpenAICurator creates an OpenAI-backed curator.
func NewOpenAICurator(config OpenAIConfig) *OpenAICurator {
	if config.Model == "" {
		config.Model = openai.GPT4oMini
	}
	clientConfig := openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		clientConfig.BaseURL = config.BaseURL
	}
	return &OpenAICurator{
		config: config,
		client: openai.NewClientWithConfig(clientConfig),
	}
}

func (c *OpenAICurator) complete(ctx context.Context, system, user string, out interface{}) error {
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.config.Model,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
	})
	if err != nil {
		return fmt.Errorf("%w: curator completion: %v", memory.ErrUpstream, err)
	}
	if len(resp.Choices) == 0 {
		return fmt.Errorf("%w: curator returned no choices", memory.ErrUpstream)
	}
	if err := json.Unmarshal([]byte(resp.Choices[0].Message.Content), out); err != nil {
		return fmt.Errorf("%w: decode curator reply: %v", memory.ErrUpstream, err)
	}
	return nil
}

func (c *OpenAICurator) Analyze(ctx context.Context, turn Turn) (*Analysis, error) {
	payload, err := json.Marshal(turn)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal turn: %v", memory.ErrUpstream, err)
	}
	var analysis Analysis
	if err := c.complete(ctx, analyzeSystemPrompt, string(payload), &analysis); err != nil {
		return nil, err
	}
	return &analysis, nil
}

func (c *OpenAICurator) AnalyzeRetrieval(ctx context.Context, query string) (*RetrievalAnalysis, error) {
	var analysis RetrievalAnalysis
	if err := c.complete(ctx, retrievalSystemPrompt, query, &analysis); err != nil {
		return nil, err
	}
	return &analysis, nil
}
