package engine

import (
	"context"
	"fmt"

	"github.com/entrained/engram/pkg/memory"
)

// StoreSingle stores a single-agent memory: a multi-entity memory whose only
// witness is the agent itself.
func (e *Engine) StoreSingle(ctx context.Context, req *StoreSingleRequest) (*StoreResult, error) {
	if req.Metadata.AgentID == "" {
		return nil, fmt.Errorf("%w: metadata.agent_id is required", memory.ErrInvalidRequest)
	}
	return e.StoreMulti(ctx, &StoreMultiRequest{
		WitnessedBy:   []string{req.Metadata.AgentID},
		SituationType: memory.SituationLegacySingle,
		Content:       req.Content,
		PrimaryVector: req.PrimaryVector,
		Metadata:      req.Metadata,
		Tags:          req.Tags,
		Causality:     req.Causality,
		PrivacyLevel:  memory.PrivacyPersonal,
		Retention:     req.Retention,
		Curation:      req.Curation,
	})
}

// StoreMulti validates and stores a multi-entity memory, synthesising a
// situation ID when absent.
func (e *Engine) StoreMulti(ctx context.Context, req *StoreMultiRequest) (*StoreResult, error) {
	originals, normalised := memory.NormalizeWitnesses(req.WitnessedBy)
	if len(normalised) == 0 {
		return nil, fmt.Errorf("%w: witnessed_by must be non-empty", memory.ErrInvalidRequest)
	}
	if req.SituationType == "" {
		return nil, fmt.Errorf("%w: situation_type is required", memory.ErrInvalidRequest)
	}

	m := &memory.Memory{
		ID:            memory.NewID(),
		Content:       req.Content,
		Vector:        req.PrimaryVector,
		Metadata:      req.Metadata,
		Tags:          req.Tags,
		WitnessedBy:   originals,
		SituationID:   req.SituationID,
		SituationType: req.SituationType,
		PrivacyLevel:  req.PrivacyLevel,
		Causality:     req.Causality,
		Retention:     req.Retention,
		Curation:      req.Curation,
		CreatedAt:     memory.Now(),
	}
	if m.SituationID == "" {
		m.SituationID = memory.NewSituationID()
	}
	if m.PrivacyLevel == "" {
		m.PrivacyLevel = memory.PrivacyParticipants
	}
	if m.Metadata.Timestamp.IsZero() {
		m.Metadata.Timestamp = m.CreatedAt
	}
	if m.Retention != nil && m.Retention.TTLSeconds > 0 {
		exp := memory.At(m.CreatedAt.Add(timeSeconds(m.Retention.TTLSeconds)))
		m.ExpiresAt = &exp
	}
	if err := m.Validate(e.dims); err != nil {
		return nil, err
	}

	if err := e.store.Put(ctx, m); err != nil {
		return nil, err
	}
	e.logger.Info("stored memory",
		"memory_id", m.ID,
		"situation_id", m.SituationID,
		"witnesses", len(m.WitnessedBy),
		"memory_type", m.Metadata.MemoryType)
	return &StoreResult{
		MemoryID:    m.ID,
		SituationID: m.SituationID,
		Status:      "stored",
		Timestamp:   m.CreatedAt,
	}, nil
}
