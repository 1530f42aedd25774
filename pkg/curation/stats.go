package curation

import (
	"context"
	"fmt"

	"github.com/entrained/engram/pkg/memory"
)

// EntityStats summarises the curated memory population of one entity.
type EntityStats struct {
	EntityID          string           `json:"entity_id"`
	TotalMemories     int              `json:"total_memories"`
	ByStorageType     map[string]int   `json:"by_storage_type"`
	ByRetentionPolicy map[string]int   `json:"by_retention_policy"`
	AverageConfidence float64          `json:"average_confidence"`
	TotalAccessCount  int64            `json:"total_access_count"`
	RequiresReview    int              `json:"requires_review"`
}

// Stats computes the per-entity curation report.
func (p *Pipeline) Stats(ctx context.Context, entityID string) (*EntityStats, error) {
	if entityID == "" {
		return nil, fmt.Errorf("%w: entity_id is required", memory.ErrInvalidRequest)
	}
	memories, err := p.engine.MemoriesForEntity(ctx, entityID)
	if err != nil {
		return nil, err
	}
	stats := &EntityStats{
		EntityID:          entityID,
		TotalMemories:     len(memories),
		ByStorageType:     make(map[string]int),
		ByRetentionPolicy: make(map[string]int),
	}
	var confidenceSum float64
	for _, m := range memories {
		confidenceSum += m.Metadata.Confidence
		stats.TotalAccessCount += m.AccessCount
		if m.Curation != nil {
			if m.Curation.StorageType != "" {
				stats.ByStorageType[string(m.Curation.StorageType)]++
			}
			if m.Curation.RetentionPolicy != "" {
				stats.ByRetentionPolicy[string(m.Curation.RetentionPolicy)]++
			}
			if m.Curation.RequiresReview {
				stats.RequiresReview++
			}
		}
	}
	if len(memories) > 0 {
		stats.AverageConfidence = confidenceSum / float64(len(memories))
	}
	return stats, nil
}
