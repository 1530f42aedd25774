package engine

import (
	"github.com/entrained/engram/pkg/memory"
)

// ResonanceVector is one query embedding with its blend weight.
type ResonanceVector struct {
	Vector []float32 `json:"vector"`
	Weight float64   `json:"weight"`
	Label  string    `json:"label,omitempty"`
}

// TagFilter selects memories by literal tag membership.
type TagFilter struct {
	Include []string `json:"include,omitempty"`
	Exclude []string `json:"exclude,omitempty"`
}

// Filters narrows retrieval by metadata.
type Filters struct {
	TimestampFrom       *memory.Timestamp `json:"timestamp_from,omitempty"`
	TimestampTo         *memory.Timestamp `json:"timestamp_to,omitempty"`
	MemoryTypes         []string          `json:"memory_types,omitempty"`
	AgentIDs            []string          `json:"agent_ids,omitempty"`
	Domains             []string          `json:"domains,omitempty"`
	SituationTypes      []string          `json:"situation_types,omitempty"`
	ConfidenceThreshold float64           `json:"confidence_threshold,omitempty"`
}

// RetrievalParams tunes ranking.
type RetrievalParams struct {
	TopK                int     `json:"top_k"`
	SimilarityThreshold float64 `json:"similarity_threshold"`
	DiversityLambda     float64 `json:"diversity_lambda,omitempty"`
	BoostRecent         float64 `json:"boost_recent,omitempty"`
}

// EntityFilters are the multi-entity retrieval narrowing options.
type EntityFilters struct {
	// CoParticipants requires every listed entity to be a witness.
	CoParticipants []string `json:"co_participants,omitempty"`
	// ExcludePrivateTo drops memories shared privately with exactly the
	// listed entities.
	ExcludePrivateTo []string `json:"exclude_private_to,omitempty"`
}

// RetrieveRequest is the shared retrieval contract. RequestingEntity and
// EntityFilters apply to multi-entity retrieval only.
type RetrieveRequest struct {
	ResonanceVectors []ResonanceVector `json:"resonance_vectors"`
	Tags             TagFilter         `json:"tags,omitempty"`
	Filters          Filters           `json:"filters,omitempty"`
	Retrieval        RetrievalParams   `json:"retrieval"`
	Ordering         string            `json:"ordering,omitempty"`
	RequestingEntity string            `json:"requesting_entity,omitempty"`
	EntityFilters    EntityFilters     `json:"entity_filters,omitempty"`
}

// RetrievedMemory is one retrieval hit as reported to callers.
type RetrievedMemory struct {
	MemoryID        string          `json:"memory_id"`
	SimilarityScore float64         `json:"similarity_score"`
	ContentPreview  string          `json:"content_preview"`
	Metadata        memory.Metadata `json:"metadata"`
	Tags            []string        `json:"tags,omitempty"`
	WitnessedBy     []string        `json:"witnessed_by,omitempty"`
	SituationID     string          `json:"situation_id,omitempty"`
	MediaCount      int             `json:"media_count"`
	AnnotationCount int             `json:"annotation_count"`
	ParentMemories  []string        `json:"parent_memories,omitempty"`
}

// EntityVerification documents the scope of a witness-checked search.
type EntityVerification struct {
	RequestingEntity string `json:"requesting_entity"`
	SearchScope      string `json:"search_scope"`
}

// RetrieveResult is the retrieval response envelope.
type RetrieveResult struct {
	Memories           []RetrievedMemory   `json:"memories"`
	TotalFound         int                 `json:"total_found"`
	SearchTimeMs       float64             `json:"search_time_ms"`
	QueryVectorDims    int                 `json:"query_vector_dims"`
	AccessGrantedCount int                 `json:"access_granted_count,omitempty"`
	AccessDeniedCount  int                 `json:"access_denied_count,omitempty"`
	EntityVerification *EntityVerification `json:"entity_verification,omitempty"`
}

// StoreSingleRequest stores one single-agent memory.
type StoreSingleRequest struct {
	Content       memory.Content    `json:"content"`
	PrimaryVector []float32         `json:"primary_vector"`
	Metadata      memory.Metadata   `json:"metadata"`
	Tags          []string          `json:"tags,omitempty"`
	Causality     *memory.Causality `json:"causality,omitempty"`
	Retention     *memory.Retention `json:"retention,omitempty"`
	Curation      *memory.Curation  `json:"-"`
}

// StoreMultiRequest stores one multi-entity memory.
type StoreMultiRequest struct {
	WitnessedBy   []string             `json:"witnessed_by"`
	SituationType memory.SituationType `json:"situation_type"`
	SituationID   string               `json:"situation_id,omitempty"`
	Content       memory.Content       `json:"content"`
	PrimaryVector []float32            `json:"primary_vector"`
	Metadata      memory.Metadata      `json:"metadata"`
	Tags          []string             `json:"tags,omitempty"`
	Causality     *memory.Causality    `json:"causality,omitempty"`
	PrivacyLevel  memory.PrivacyLevel  `json:"privacy_level,omitempty"`
	Retention     *memory.Retention    `json:"retention,omitempty"`
	Curation      *memory.Curation     `json:"-"`
}

// StoreResult acknowledges a store operation.
type StoreResult struct {
	MemoryID    string           `json:"memory_id"`
	SituationID string           `json:"situation_id,omitempty"`
	Status      string           `json:"status"`
	Timestamp   memory.Timestamp `json:"timestamp"`
}
