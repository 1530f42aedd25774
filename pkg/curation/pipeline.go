// Package curation turns conversation turns into persisted memories. It
// asks the curator for scored observations, applies the admission rules,
// maps observation types to retention policies, and routes survivors to the
// memory engine.
package curation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/entrained/engram/pkg/curator"
	"github.com/entrained/engram/pkg/embedder"
	"github.com/entrained/engram/pkg/engine"
	"github.com/entrained/engram/pkg/memory"
)

// Admission thresholds: observations outside these bounds are dropped.
const (
	maxEphemerality    = 0.8
	minConfidence      = 0.3
	minContextualValue = 0.2
)

// Ephemerality demotions: scores above these bounds shorten retention.
const (
	demoteToShortTerm  = 0.6
	demoteToMediumTerm = 0.3
)

const fallbackConfidence = 0.3

// Pipeline is the curation pipeline.
type Pipeline struct {
	engine   *engine.Engine
	embedder embedder.Embedder
	curator  curator.Curator
	logger   *slog.Logger
}

// New creates a curation pipeline over the given collaborators.
func New(e *engine.Engine, emb embedder.Embedder, cur curator.Curator) *Pipeline {
	return &Pipeline{
		engine:   e,
		embedder: emb,
		curator:  cur,
		logger:   slog.Default().With("component", "curation"),
	}
}

// TurnRequest describes one conversation turn to curate on behalf of an
// entity.
type TurnRequest struct {
	EntityID            string `json:"entity_id"`
	UserInput           string `json:"user_input"`
	AgentResponse       string `json:"agent_response"`
	ConversationContext string `json:"conversation_context,omitempty"`
	AgentPersonality    string `json:"agent_personality,omitempty"`
	ForceStorage        bool   `json:"force_storage,omitempty"`
}

// Decision reports what happened to one observation.
type Decision struct {
	Observation     curator.Observation    `json:"observation"`
	Stored          bool                   `json:"stored"`
	MemoryID        string                 `json:"memory_id,omitempty"`
	RetentionPolicy memory.RetentionPolicy `json:"retention_policy,omitempty"`
	Reason          string                 `json:"reason"`
}

// Report is the curation outcome for a turn, including rejected
// observations so callers can explain behaviour.
type Report struct {
	StoredMemoryIDs  []string   `json:"stored_memory_ids"`
	Decisions        []Decision `json:"decisions"`
	ShouldStore      bool       `json:"should_store"`
	OverallReasoning string     `json:"overall_reasoning,omitempty"`
	CuratorFallback  bool       `json:"curator_fallback,omitempty"`
}

func validateTurn(req *TurnRequest) error {
	if req.EntityID == "" {
		return fmt.Errorf("%w: entity_id is required", memory.ErrInvalidRequest)
	}
	if req.UserInput == "" && req.AgentResponse == "" {
		return fmt.Errorf("%w: turn has no content", memory.ErrInvalidRequest)
	}
	return nil
}

// Analyze runs the curator and the admission rules without storing
// anything.
func (p *Pipeline) Analyze(ctx context.Context, req *TurnRequest) (*Report, error) {
	if err := validateTurn(req); err != nil {
		return nil, err
	}
	analysis, fallback := p.analyse(ctx, req)
	report := &Report{
		StoredMemoryIDs:  []string{},
		ShouldStore:      analysis.ShouldStore,
		OverallReasoning: analysis.OverallReasoning,
		CuratorFallback:  fallback,
	}
	for _, obs := range analysis.Observations {
		decision := admit(obs)
		report.Decisions = append(report.Decisions, decision)
	}
	return report, nil
}

// Store curates the turn and persists the admitted observations.
func (p *Pipeline) Store(ctx context.Context, req *TurnRequest) (*Report, error) {
	if err := validateTurn(req); err != nil {
		return nil, err
	}
	if req.ForceStorage {
		return p.forceStore(ctx, req)
	}

	analysis, fallback := p.analyse(ctx, req)
	report := &Report{
		StoredMemoryIDs:  []string{},
		ShouldStore:      analysis.ShouldStore,
		OverallReasoning: analysis.OverallReasoning,
		CuratorFallback:  fallback,
	}
	for _, obs := range analysis.Observations {
		decision := admit(obs)
		if decision.Stored {
			id, err := p.persist(ctx, req, obs, decision.RetentionPolicy, fallback)
			if err != nil {
				p.logger.Warn("failed to persist observation", "entity_id", req.EntityID, "error", err)
				decision.Stored = false
				decision.Reason = "storage failed"
			} else {
				decision.MemoryID = id
				report.StoredMemoryIDs = append(report.StoredMemoryIDs, id)
			}
		}
		report.Decisions = append(report.Decisions, decision)
	}
	return report, nil
}

// analyse calls the curator, degrading to the single-context-observation
// fallback when the upstream fails.
func (p *Pipeline) analyse(ctx context.Context, req *TurnRequest) (*curator.Analysis, bool) {
	analysis, err := p.curator.Analyze(ctx, curator.Turn{
		UserInput:           req.UserInput,
		AgentResponse:       req.AgentResponse,
		ConversationContext: req.ConversationContext,
		AgentPersonality:    req.AgentPersonality,
	})
	if err == nil {
		return analysis, false
	}
	p.logger.Warn("curator failed, admitting turn as context", "entity_id", req.EntityID, "error", err)
	return &curator.Analysis{
		Observations: []curator.Observation{{
			MemoryType:        memory.StorageContext,
			Content:           req.UserInput + "\n" + req.AgentResponse,
			ConfidenceScore:   fallbackConfidence,
			EphemeralityScore: 0.5,
			ContextualValue:   0.5,
			PrivacyLevel:      memory.PrivacyParticipants,
			Rationale:         "curator unavailable",
		}},
		ShouldStore:      true,
		OverallReasoning: "curator unavailable, turn admitted for review",
	}, true
}

// admit applies the admission rules and retention mapping to one
// observation.
func admit(obs curator.Observation) Decision {
	switch {
	case obs.EphemeralityScore > maxEphemerality:
		return Decision{Observation: obs, Reason: "ephemerality too high"}
	case obs.ConfidenceScore < minConfidence:
		return Decision{Observation: obs, Reason: "confidence too low"}
	case obs.ContextualValue < minContextualValue:
		return Decision{Observation: obs, Reason: "contextual value too low"}
	}
	return Decision{
		Observation:     obs,
		Stored:          true,
		RetentionPolicy: retentionFor(obs),
		Reason:          "admitted",
	}
}

// retentionFor maps an observation to its retention policy: the type table
// gives the default, then high ephemerality demotes it.
func retentionFor(obs curator.Observation) memory.RetentionPolicy {
	var policy memory.RetentionPolicy
	switch obs.MemoryType {
	case memory.StorageFacts:
		policy = memory.RetentionPermanent
	case memory.StoragePreferences, memory.StorageSkills, memory.StorageRelationships:
		policy = memory.RetentionLongTerm
	case memory.StorageContext:
		policy = memory.RetentionMediumTerm
	case memory.StorageTemporary:
		policy = memory.RetentionShortTerm
	default:
		policy = memory.RetentionMediumTerm
	}
	if obs.EphemeralityScore > demoteToShortTerm {
		return shorterOf(policy, memory.RetentionShortTerm)
	}
	if obs.EphemeralityScore > demoteToMediumTerm {
		return shorterOf(policy, memory.RetentionMediumTerm)
	}
	return policy
}

var policyRank = map[memory.RetentionPolicy]int{
	memory.RetentionSession:    0,
	memory.RetentionShortTerm:  1,
	memory.RetentionMediumTerm: 2,
	memory.RetentionLongTerm:   3,
	memory.RetentionPermanent:  4,
}

func shorterOf(a, b memory.RetentionPolicy) memory.RetentionPolicy {
	if policyRank[a] < policyRank[b] {
		return a
	}
	return b
}

// memoryTypeFor translates the curator vocabulary into the record
// vocabulary.
func memoryTypeFor(st memory.StorageType) memory.MemoryType {
	switch st {
	case memory.StorageFacts:
		return memory.TypeFact
	case memory.StoragePreferences:
		return memory.TypePreference
	case memory.StorageSkills:
		return memory.TypePattern
	case memory.StorageRelationships:
		return memory.TypeInsight
	case memory.StorageTemporary:
		return memory.TypeEvent
	default:
		return memory.TypeConversation
	}
}

func (p *Pipeline) persist(ctx context.Context, req *TurnRequest, obs curator.Observation, policy memory.RetentionPolicy, requiresReview bool) (string, error) {
	vec, err := p.embedder.Embed(ctx, obs.Content)
	if err != nil {
		return "", err
	}
	var retention *memory.Retention
	if ttl := policy.TTL(); ttl > 0 {
		retention = &memory.Retention{
			TTLSeconds:    int64(ttl / time.Second),
			DecayFunction: memory.DecayNone,
		}
	}
	privacy := obs.PrivacyLevel
	if privacy == "" {
		privacy = memory.PrivacyParticipants
	}
	res, err := p.engine.StoreMulti(ctx, &engine.StoreMultiRequest{
		WitnessedBy:   []string{req.EntityID},
		SituationType: memory.SituationConversation,
		Content:       memory.Content{Text: obs.Content},
		PrimaryVector: vec,
		Metadata: memory.Metadata{
			MemoryType: memoryTypeFor(obs.MemoryType),
			Confidence: obs.ConfidenceScore,
		},
		PrivacyLevel: privacy,
		Retention:    retention,
		Curation: &memory.Curation{
			StorageType:     obs.MemoryType,
			RetentionPolicy: policy,
			RequiresReview:  requiresReview,
		},
	})
	if err != nil {
		return "", err
	}
	return res.MemoryID, nil
}

func (p *Pipeline) forceStore(ctx context.Context, req *TurnRequest) (*Report, error) {
	content := req.UserInput + "\n" + req.AgentResponse
	vec, err := p.embedder.Embed(ctx, content)
	if err != nil {
		return nil, err
	}
	res, err := p.engine.StoreMulti(ctx, &engine.StoreMultiRequest{
		WitnessedBy:   []string{req.EntityID},
		SituationType: memory.SituationConversation,
		Content:       memory.Content{Text: content},
		PrimaryVector: vec,
		Metadata: memory.Metadata{
			MemoryType: memory.TypeConversation,
			Confidence: 1,
		},
		Curation: &memory.Curation{
			StorageType:     memory.StorageContext,
			RetentionPolicy: memory.RetentionPermanent,
		},
	})
	if err != nil {
		return nil, err
	}
	return &Report{
		StoredMemoryIDs:  []string{res.MemoryID},
		ShouldStore:      true,
		OverallReasoning: "force_storage bypassed curation",
		Decisions: []Decision{{
			Observation: curator.Observation{
				MemoryType:      memory.StorageContext,
				Content:         content,
				ConfidenceScore: 1,
			},
			Stored:          true,
			MemoryID:        res.MemoryID,
			RetentionPolicy: memory.RetentionPermanent,
			Reason:          "force_storage",
		}},
	}, nil
}
