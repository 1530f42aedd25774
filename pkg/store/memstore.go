package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/entrained/engram/pkg/memory"
)

// MemStore is an in-process Store with brute-force cosine search. It backs
// the memory storage mode and the test suites; filter semantics match
// RedisStore exactly.
type MemStore struct {
	mu          sync.RWMutex
	memories    map[string]*memory.Memory
	annotations map[string][]*memory.Annotation
	situations  map[string]*memory.Situation
	byEntity    map[string]map[string]bool // normalised entity -> memory IDs
}

// NewMemStore creates an empty in-process store.
func NewMemStore() *MemStore {
	return &MemStore{
		memories:    make(map[string]*memory.Memory),
		annotations: make(map[string][]*memory.Annotation),
		situations:  make(map[string]*memory.Situation),
		byEntity:    make(map[string]map[string]bool),
	}
}

func (s *MemStore) EnsureIndex(ctx context.Context) error   { return nil }
func (s *MemStore) RecreateIndex(ctx context.Context) error { return nil }
func (s *MemStore) Close() error                            { return nil }

func (s *MemStore) Put(ctx context.Context, m *memory.Memory) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.memories[m.ID]; ok {
		return fmt.Errorf("%w: memory %s", memory.ErrAlreadyExists, m.ID)
	}
	s.memories[m.ID] = cloneMemory(m)
	for _, w := range m.WitnessedBy {
		n := memory.NormalizeEntityID(w)
		if s.byEntity[n] == nil {
			s.byEntity[n] = make(map[string]bool)
		}
		s.byEntity[n][m.ID] = true
	}
	s.registerSituationLocked(m)
	return nil
}

func (s *MemStore) registerSituationLocked(m *memory.Memory) {
	sit, ok := s.situations[m.SituationID]
	if !ok {
		sit = &memory.Situation{
			SituationID:   m.SituationID,
			SituationType: m.SituationType,
			CreatedAt:     m.CreatedAt,
			Status:        memory.SituationActive,
		}
		s.situations[m.SituationID] = sit
	}
	sit.MemoryIDs = append(sit.MemoryIDs, m.ID)
	sit.LastActivity = m.CreatedAt
	for _, w := range m.WitnessedBy {
		n := memory.NormalizeEntityID(w)
		found := false
		for _, p := range sit.Participants {
			if p == n {
				found = true
				break
			}
		}
		if !found {
			sit.Participants = append(sit.Participants, n)
		}
	}
}

func (s *MemStore) Update(ctx context.Context, m *memory.Memory) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.memories[m.ID]; !ok {
		return fmt.Errorf("%w: memory %s", memory.ErrNotFound, m.ID)
	}
	s.memories[m.ID] = cloneMemory(m)
	return nil
}

func (s *MemStore) Get(ctx context.Context, id string) (*memory.Memory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.memories[id]
	if !ok {
		return nil, fmt.Errorf("%w: memory %s", memory.ErrNotFound, id)
	}
	return cloneMemory(m), nil
}

func (s *MemStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.memories[id]
	if !ok {
		return fmt.Errorf("%w: memory %s", memory.ErrNotFound, id)
	}
	delete(s.memories, id)
	delete(s.annotations, id)
	for _, w := range m.WitnessedBy {
		n := memory.NormalizeEntityID(w)
		delete(s.byEntity[n], id)
		if len(s.byEntity[n]) == 0 {
			delete(s.byEntity, n)
		}
	}
	if sit, ok := s.situations[m.SituationID]; ok {
		ids := sit.MemoryIDs[:0]
		for _, mid := range sit.MemoryIDs {
			if mid != id {
				ids = append(ids, mid)
			}
		}
		sit.MemoryIDs = ids
		if len(sit.MemoryIDs) == 0 {
			delete(s.situations, m.SituationID)
		}
	}
	return nil
}

func (s *MemStore) Search(ctx context.Context, vec []float32, k int, floor float64, f Filters) ([]Hit, error) {
	if k <= 0 {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	hits := make([]Hit, 0, k)
	for _, m := range s.memories {
		if !matchFilters(m, f) {
			continue
		}
		sim := CosineSimilarity(vec, m.Vector)
		if sim < floor {
			continue
		}
		hits = append(hits, Hit{Memory: cloneMemory(m), Similarity: sim})
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].Similarity > hits[j].Similarity })
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

func matchFilters(m *memory.Memory, f Filters) bool {
	if f.Entity != "" && !witnessedBy(m, f.Entity) {
		return false
	}
	if len(f.MemoryTypes) > 0 && !containsStr(f.MemoryTypes, string(m.Metadata.MemoryType)) {
		return false
	}
	if len(f.SituationTypes) > 0 && !containsStr(f.SituationTypes, string(m.SituationType)) {
		return false
	}
	if len(f.AgentIDs) > 0 && !containsStr(f.AgentIDs, m.Metadata.AgentID) {
		return false
	}
	if len(f.Domains) > 0 && !containsStr(f.Domains, m.Metadata.Domain) {
		return false
	}
	for _, tag := range f.IncludeTags {
		if !containsStr(m.Tags, tag) {
			return false
		}
	}
	for _, tag := range f.ExcludeTags {
		if containsStr(m.Tags, tag) {
			return false
		}
	}
	ts := m.Metadata.Timestamp.UnixMilli()
	if f.TimestampFrom != 0 && ts < f.TimestampFrom {
		return false
	}
	if f.TimestampTo != 0 && ts > f.TimestampTo {
		return false
	}
	if f.ConfidenceMin > 0 && m.Metadata.Confidence < f.ConfidenceMin {
		return false
	}
	return true
}

func witnessedBy(m *memory.Memory, normalisedEntity string) bool {
	for _, w := range m.WitnessedBy {
		if memory.NormalizeEntityID(w) == normalisedEntity {
			return true
		}
	}
	return false
}

func containsStr(list []string, want string) bool {
	for _, s := range list {
		if s == want {
			return true
		}
	}
	return false
}

func (s *MemStore) ScanByEntity(ctx context.Context, entity string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.byEntity[entity]))
	for id := range s.byEntity[entity] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *MemStore) Recent(ctx context.Context, limit int) ([]*memory.Memory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := make([]*memory.Memory, 0, len(s.memories))
	for _, m := range s.memories {
		all = append(all, m)
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].Metadata.Timestamp.After(all[j].Metadata.Timestamp.Time)
	})
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	out := make([]*memory.Memory, len(all))
	for i, m := range all {
		out[i] = cloneMemory(m)
	}
	return out, nil
}

func (s *MemStore) TouchAccess(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.memories[id]
	if !ok {
		return fmt.Errorf("%w: memory %s", memory.ErrNotFound, id)
	}
	m.AccessCount++
	now := memory.Now()
	m.LastAccessed = &now
	return nil
}

func (s *MemStore) Annotate(ctx context.Context, id string, a *memory.Annotation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.memories[id]; !ok {
		return fmt.Errorf("%w: memory %s", memory.ErrNotFound, id)
	}
	clone := *a
	s.annotations[id] = append(s.annotations[id], &clone)
	return nil
}

func (s *MemStore) Annotations(ctx context.Context, id string) ([]*memory.Annotation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.memories[id]; !ok {
		return nil, fmt.Errorf("%w: memory %s", memory.ErrNotFound, id)
	}
	anns := s.annotations[id]
	out := make([]*memory.Annotation, len(anns))
	for i, a := range anns {
		clone := *a
		out[i] = &clone
	}
	return out, nil
}

func (s *MemStore) Exists(ctx context.Context, id string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.memories[id]
	return ok, nil
}

func (s *MemStore) Situation(ctx context.Context, id string) (*memory.Situation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sit, ok := s.situations[id]
	if !ok {
		return nil, fmt.Errorf("%w: situation %s", memory.ErrNotFound, id)
	}
	clone := *sit
	return &clone, nil
}

func (s *MemStore) SituationsFor(ctx context.Context, entity string) ([]*memory.Situation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*memory.Situation, 0)
	for _, sit := range s.situations {
		for _, p := range sit.Participants {
			if p == entity {
				clone := *sit
				out = append(out, &clone)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastActivity.After(out[j].LastActivity.Time)
	})
	return out, nil
}

func (s *MemStore) ExpiredBefore(ctx context.Context, now memory.Timestamp) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var ids []string
	for id, m := range s.memories {
		if m.ExpiresAt != nil && m.ExpiresAt.Before(now.Time) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *MemStore) ScanAll(ctx context.Context, fn func(*memory.Memory) error) error {
	s.mu.RLock()
	snapshot := make([]*memory.Memory, 0, len(s.memories))
	for _, m := range s.memories {
		snapshot = append(snapshot, cloneMemory(m))
	}
	s.mu.RUnlock()
	for _, m := range snapshot {
		if err := fn(m); err != nil {
			return err
		}
	}
	return nil
}

func (s *MemStore) FlushMemories(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := int64(len(s.memories) + len(s.situations) + len(s.annotations))
	s.memories = make(map[string]*memory.Memory)
	s.annotations = make(map[string][]*memory.Annotation)
	s.situations = make(map[string]*memory.Situation)
	s.byEntity = make(map[string]map[string]bool)
	return n, nil
}

func (s *MemStore) Counts(ctx context.Context) (Counts, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var anns int64
	for _, list := range s.annotations {
		anns += int64(len(list))
	}
	return Counts{
		Memories:    int64(len(s.memories)),
		Situations:  int64(len(s.situations)),
		Annotations: anns,
	}, nil
}

func cloneMemory(m *memory.Memory) *memory.Memory {
	clone := *m
	clone.Vector = append([]float32(nil), m.Vector...)
	clone.Tags = append([]string(nil), m.Tags...)
	clone.WitnessedBy = append([]string(nil), m.WitnessedBy...)
	if m.Causality != nil {
		c := *m.Causality
		c.ParentMemories = append([]string(nil), m.Causality.ParentMemories...)
		c.InfluenceStrength = append([]float64(nil), m.Causality.InfluenceStrength...)
		clone.Causality = &c
	}
	if m.Retention != nil {
		r := *m.Retention
		clone.Retention = &r
	}
	if m.Curation != nil {
		cu := *m.Curation
		clone.Curation = &cu
	}
	if m.ExpiresAt != nil {
		e := *m.ExpiresAt
		clone.ExpiresAt = &e
	}
	if m.LastAccessed != nil {
		l := *m.LastAccessed
		clone.LastAccessed = &l
	}
	return &clone
}
