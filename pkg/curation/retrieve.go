package curation

import (
	"context"
	"fmt"
	"time"

	"github.com/entrained/engram/pkg/curator"
	"github.com/entrained/engram/pkg/engine"
	"github.com/entrained/engram/pkg/memory"
)

const recentFocusWindow = 30 * 24 * time.Hour

// RetrieveRequest is a natural-language retrieval with intent analysis.
type RetrieveRequest struct {
	EntityID            string  `json:"entity_id"`
	Query               string  `json:"query"`
	TopK                int     `json:"top_k,omitempty"`
	SimilarityThreshold float64 `json:"similarity_threshold,omitempty"`
}

// RetrieveResult wraps the engine result with the intent analysis that
// shaped the search.
type RetrieveResult struct {
	*engine.RetrieveResult
	RetrievalAnalysis *curator.RetrievalAnalysis `json:"retrieval_analysis"`
	AnalysisFallback  bool                       `json:"analysis_fallback,omitempty"`
}

// storageTypeToMemoryTypes widens one curator storage type to the record
// types it covers.
func storageTypeToMemoryTypes(st string) []string {
	switch memory.StorageType(st) {
	case memory.StorageFacts:
		return []string{string(memory.TypeFact)}
	case memory.StoragePreferences:
		return []string{string(memory.TypePreference)}
	case memory.StorageSkills:
		return []string{string(memory.TypePattern), string(memory.TypeSolution)}
	case memory.StorageRelationships:
		return []string{string(memory.TypeInsight)}
	case memory.StorageTemporary:
		return []string{string(memory.TypeEvent)}
	case memory.StorageContext:
		return []string{string(memory.TypeConversation)}
	default:
		return nil
	}
}

// Retrieve classifies the query's intent, embeds it, and runs a
// witness-scoped search tuned by the analysis.
func (p *Pipeline) Retrieve(ctx context.Context, req *RetrieveRequest) (*RetrieveResult, error) {
	if req.EntityID == "" {
		return nil, fmt.Errorf("%w: entity_id is required", memory.ErrInvalidRequest)
	}
	if req.Query == "" {
		return nil, fmt.Errorf("%w: query is required", memory.ErrInvalidRequest)
	}

	analysis, err := p.curator.AnalyzeRetrieval(ctx, req.Query)
	fallback := false
	if err != nil {
		p.logger.Warn("retrieval analysis failed, using defaults", "error", err)
		analysis = &curator.RetrievalAnalysis{
			IntentType:          "mixed",
			TemporalFocus:       "all_time",
			ConfidenceThreshold: 0.6,
			MaxResults:          10,
		}
		fallback = true
	}

	vec, err := p.embedder.Embed(ctx, req.Query)
	if err != nil {
		return nil, err
	}

	topK := req.TopK
	if topK <= 0 {
		topK = 10
	}
	if analysis.MaxResults > 0 && analysis.MaxResults < topK {
		topK = analysis.MaxResults
	}
	threshold := req.SimilarityThreshold
	if analysis.ConfidenceThreshold > threshold {
		threshold = analysis.ConfidenceThreshold
	}

	engineReq := &engine.RetrieveRequest{
		RequestingEntity: req.EntityID,
		ResonanceVectors: []engine.ResonanceVector{{Vector: vec, Weight: 1}},
		Retrieval: engine.RetrievalParams{
			TopK:                topK,
			SimilarityThreshold: threshold,
		},
	}
	var memoryTypes []string
	for _, st := range analysis.StorageTypesNeeded {
		memoryTypes = append(memoryTypes, storageTypeToMemoryTypes(st)...)
	}
	engineReq.Filters.MemoryTypes = memoryTypes
	if analysis.TemporalFocus == "recent" {
		from := memory.At(time.Now().Add(-recentFocusWindow))
		engineReq.Filters.TimestampFrom = &from
	}

	res, err := p.engine.RetrieveMulti(ctx, engineReq)
	if err != nil {
		return nil, err
	}
	return &RetrieveResult{
		RetrieveResult:    res,
		RetrievalAnalysis: analysis,
		AnalysisFallback:  fallback,
	}, nil
}
