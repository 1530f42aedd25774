package memory

import (
	"fmt"
	"math"
)

// ValidateVector checks that a vector has the configured dimension and that
// every component is finite. Vectors are never truncated or padded.
func ValidateVector(vec []float32, dims int) error {
	if len(vec) != dims {
		return fmt.Errorf("%w: vector has %d dimensions, expected %d", ErrInvalidRequest, len(vec), dims)
	}
	for i, v := range vec {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Errorf("%w: vector component %d is not finite", ErrInvalidRequest, i)
		}
	}
	return nil
}

// ValidateMemory checks the invariants every record must satisfy before it
// reaches the store.
func (m *Memory) Validate(dims int) error {
	if m.ID == "" {
		return fmt.Errorf("%w: memory_id is required", ErrInvalidRequest)
	}
	if m.Content.Text == "" {
		return fmt.Errorf("%w: content.text must be non-empty", ErrInvalidRequest)
	}
	if len(m.WitnessedBy) == 0 {
		return fmt.Errorf("%w: witnessed_by must be non-empty", ErrInvalidRequest)
	}
	if err := ValidateVector(m.Vector, dims); err != nil {
		return err
	}
	if m.Metadata.Timestamp.IsZero() {
		return fmt.Errorf("%w: metadata.timestamp is required", ErrInvalidRequest)
	}
	if m.Metadata.MemoryType == "" {
		return fmt.Errorf("%w: metadata.memory_type is required", ErrInvalidRequest)
	}
	if m.Causality != nil {
		if len(m.Causality.ParentMemories) != len(m.Causality.InfluenceStrength) {
			return fmt.Errorf("%w: causality parent_memories and influence_strength lengths differ", ErrInvalidRequest)
		}
		for i, s := range m.Causality.InfluenceStrength {
			if s < 0 || s > 1 {
				return fmt.Errorf("%w: influence_strength[%d] out of range [0,1]", ErrInvalidRequest, i)
			}
		}
	}
	return nil
}
