// Package curator decides which parts of a conversation turn deserve
// persistence. The production implementation asks a chat model for scored
// observations; tests use the deterministic Fake.
package curator

import (
	"context"

	"github.com/entrained/engram/pkg/memory"
)

// Turn is one user/agent exchange to analyse.
type Turn struct {
	UserInput           string `json:"user_input"`
	AgentResponse       string `json:"agent_response"`
	ConversationContext string `json:"conversation_context,omitempty"`
	AgentPersonality    string `json:"agent_personality,omitempty"`
}

// Observation is one candidate memory extracted from a turn.
type Observation struct {
	MemoryType        memory.StorageType  `json:"memory_type"`
	Content           string              `json:"content"`
	ConfidenceScore   float64             `json:"confidence_score"`
	EphemeralityScore float64             `json:"ephemerality_score"`
	ContextualValue   float64             `json:"contextual_value"`
	PrivacyLevel      memory.PrivacyLevel `json:"privacy_level"`
	Rationale         string              `json:"rationale,omitempty"`
}

// Analysis is the curator's full reply for a turn.
type Analysis struct {
	Observations     []Observation `json:"observations"`
	ShouldStore      bool          `json:"should_store"`
	OverallReasoning string        `json:"overall_reasoning,omitempty"`
}

// RetrievalAnalysis classifies a retrieval query so the pipeline can tune
// search parameters.
type RetrievalAnalysis struct {
	IntentType          string   `json:"intent_type"`
	StorageTypesNeeded  []string `json:"storage_types_needed"`
	TemporalFocus       string   `json:"temporal_focus"`
	ConfidenceThreshold float64  `json:"confidence_threshold"`
	MaxResults          int      `json:"max_results"`
}

// Curator is the AI observer collaborating with the curation pipeline.
type Curator interface {
	// Analyze decomposes a turn into scored observations.
	Analyze(ctx context.Context, turn Turn) (*Analysis, error)

	// AnalyzeRetrieval classifies a retrieval query's intent.
	AnalyzeRetrieval(ctx context.Context, query string) (*RetrievalAnalysis, error)
}
