package engine

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/entrained/engram/pkg/memory"
	"github.com/entrained/engram/pkg/store"
)

const recencyHalfLife = 30 * 24 * time.Hour

func timeSeconds(n int64) time.Duration { return time.Duration(n) * time.Second }

// CombineResonance blends weighted query vectors into one unit-length query
// direction. The result is invariant under permutation of the inputs.
func CombineResonance(vectors []ResonanceVector, dims int) ([]float32, error) {
	if len(vectors) == 0 {
		return nil, fmt.Errorf("%w: at least one resonance vector is required", memory.ErrInvalidRequest)
	}
	combined := make([]float64, dims)
	var totalWeight float64
	for i, rv := range vectors {
		if err := memory.ValidateVector(rv.Vector, dims); err != nil {
			return nil, err
		}
		w := rv.Weight
		if w == 0 {
			w = 1
		}
		if w < 0 {
			return nil, fmt.Errorf("%w: resonance weight %d is negative", memory.ErrInvalidRequest, i)
		}
		totalWeight += w
		for j, v := range rv.Vector {
			combined[j] += w * float64(v)
		}
	}
	var norm float64
	for j := range combined {
		combined[j] /= totalWeight
		norm += combined[j] * combined[j]
	}
	norm = math.Sqrt(norm)
	if norm == 0 {
		return nil, fmt.Errorf("%w: combined resonance vector has zero magnitude", memory.ErrInvalidRequest)
	}
	out := make([]float32, dims)
	for j := range combined {
		out[j] = float32(combined[j] / norm)
	}
	return out, nil
}

// mmrSelect applies Maximal Marginal Relevance: each round picks the
// candidate balancing query similarity against similarity to already-picked
// results, weighted by lambda.
func mmrSelect(candidates []store.Hit, lambda float64, k int) []store.Hit {
	if len(candidates) <= k {
		return candidates
	}
	selected := make([]store.Hit, 0, k)
	remaining := append([]store.Hit(nil), candidates...)
	for len(selected) < k && len(remaining) > 0 {
		bestIdx, bestScore := 0, math.Inf(-1)
		for i, cand := range remaining {
			redundancy := 0.0
			for _, s := range selected {
				sim := store.CosineSimilarity(cand.Memory.Vector, s.Memory.Vector)
				if sim > redundancy {
					redundancy = sim
				}
			}
			score := lambda*cand.Similarity - (1-lambda)*redundancy
			if score > bestScore {
				bestIdx, bestScore = i, score
			}
		}
		selected = append(selected, remaining[bestIdx])
		remaining = append(remaining[:bestIdx], remaining[bestIdx+1:]...)
	}
	return selected
}

// recencyBoost computes the adjusted ranking score. The reported similarity
// stays the raw cosine value; only ordering uses the boost.
func recencyBoost(similarity, boost float64, age time.Duration) float64 {
	if boost <= 0 {
		return similarity
	}
	decay := math.Exp(-float64(age) / float64(recencyHalfLife))
	return similarity * (1 + boost*decay)
}

func (r *RetrieveRequest) storeFilters() store.Filters {
	f := store.Filters{
		MemoryTypes:    r.Filters.MemoryTypes,
		SituationTypes: r.Filters.SituationTypes,
		AgentIDs:       r.Filters.AgentIDs,
		Domains:        r.Filters.Domains,
		IncludeTags:    r.Tags.Include,
		ExcludeTags:    r.Tags.Exclude,
		ConfidenceMin:  r.Filters.ConfidenceThreshold,
	}
	if r.Filters.TimestampFrom != nil {
		f.TimestampFrom = r.Filters.TimestampFrom.UnixMilli()
	}
	if r.Filters.TimestampTo != nil {
		f.TimestampTo = r.Filters.TimestampTo.UnixMilli()
	}
	return f
}

// RetrieveSingle serves the legacy single-agent surface, which carries no
// entity identity: only single-agent and public memories are searched.
// Narrow by agent via filters.agent_ids.
func (e *Engine) RetrieveSingle(ctx context.Context, req *RetrieveRequest) (*RetrieveResult, error) {
	return e.retrieve(ctx, req, "")
}

// RetrieveMulti searches within the requesting entity's witnessed memories
// and double-checks every hit against the access predicate.
func (e *Engine) RetrieveMulti(ctx context.Context, req *RetrieveRequest) (*RetrieveResult, error) {
	if req.RequestingEntity == "" {
		return nil, fmt.Errorf("%w: requesting_entity is required", memory.ErrInvalidRequest)
	}
	return e.retrieve(ctx, req, req.RequestingEntity)
}

func (e *Engine) retrieve(ctx context.Context, req *RetrieveRequest, entity string) (*RetrieveResult, error) {
	start := time.Now()

	topK := req.Retrieval.TopK
	if topK < 0 {
		return nil, fmt.Errorf("%w: top_k must be non-negative", memory.ErrInvalidRequest)
	}
	result := &RetrieveResult{
		Memories:        []RetrievedMemory{},
		QueryVectorDims: e.dims,
	}
	if entity != "" {
		result.EntityVerification = &EntityVerification{
			RequestingEntity: entity,
			SearchScope:      "witnessed_memories_only",
		}
	}
	if topK == 0 {
		result.SearchTimeMs = float64(time.Since(start).Microseconds()) / 1000
		return result, nil
	}

	query, err := CombineResonance(req.ResonanceVectors, e.dims)
	if err != nil {
		return nil, err
	}

	filters := req.storeFilters()
	if entity != "" {
		filters.Entity = memory.NormalizeEntityID(entity)
	}
	pool := 4 * topK
	if pool < 50 {
		pool = 50
	}
	hits, err := e.store.Search(ctx, query, pool, req.Retrieval.SimilarityThreshold, filters)
	if err != nil {
		return nil, err
	}

	// Defence in depth: the index already scoped the search to witnessed
	// memories, but every hit is still checked against the predicate.
	if entity != "" {
		granted := hits[:0]
		for _, h := range hits {
			if !memory.Allow(h.Memory, entity) {
				result.AccessDeniedCount++
				continue
			}
			if !matchEntityFilters(h.Memory, entity, req.EntityFilters) {
				continue
			}
			granted = append(granted, h)
		}
		hits = granted
		result.AccessGrantedCount = len(hits)
	} else {
		// Identity-less legacy search never surfaces multi-entity records.
		granted := hits[:0]
		for _, h := range hits {
			if !memory.AllowAnonymous(h.Memory) {
				result.AccessDeniedCount++
				continue
			}
			granted = append(granted, h)
		}
		hits = granted
	}

	hits = rank(hits, req, topK)

	for _, h := range hits {
		rm := RetrievedMemory{
			MemoryID:        h.Memory.ID,
			SimilarityScore: h.Similarity,
			ContentPreview:  h.Memory.ContentPreview(previewBytes),
			Metadata:        h.Memory.Metadata,
			Tags:            h.Memory.Tags,
			WitnessedBy:     h.Memory.WitnessedBy,
			SituationID:     h.Memory.SituationID,
			MediaCount:      len(h.Memory.Content.Media),
		}
		if anns, err := e.store.Annotations(ctx, h.Memory.ID); err == nil {
			rm.AnnotationCount = len(anns)
		}
		// Causality parents are weak references; report only live ones.
		rm.ParentMemories, _ = h.Memory.LiveParents(func(id string) bool {
			ok, err := e.store.Exists(ctx, id)
			return err == nil && ok
		})
		result.Memories = append(result.Memories, rm)
		if err := e.store.TouchAccess(ctx, h.Memory.ID); err == nil {
			e.Invalidate(h.Memory.ID)
		}
	}
	result.TotalFound = len(result.Memories)
	result.SearchTimeMs = float64(time.Since(start).Microseconds()) / 1000
	return result, nil
}

// rank orders the threshold-filtered pool and cuts it to topK. Diversity
// runs after the threshold filter; the recency boost reorders but never
// changes the reported similarity.
func rank(hits []store.Hit, req *RetrieveRequest, topK int) []store.Hit {
	switch req.Ordering {
	case "", "similarity":
		if req.Retrieval.BoostRecent > 0 {
			now := time.Now()
			sort.SliceStable(hits, func(i, j int) bool {
				ai := now.Sub(hits[i].Memory.Metadata.Timestamp.Time)
				aj := now.Sub(hits[j].Memory.Metadata.Timestamp.Time)
				return recencyBoost(hits[i].Similarity, req.Retrieval.BoostRecent, ai) >
					recencyBoost(hits[j].Similarity, req.Retrieval.BoostRecent, aj)
			})
		}
	case "timestamp":
		sort.SliceStable(hits, func(i, j int) bool {
			return hits[i].Memory.Metadata.Timestamp.After(hits[j].Memory.Metadata.Timestamp.Time)
		})
	}
	if req.Retrieval.DiversityLambda > 0 {
		return mmrSelect(hits, req.Retrieval.DiversityLambda, topK)
	}
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits
}

func matchEntityFilters(m *memory.Memory, entity string, f EntityFilters) bool {
	_, witnesses := memory.NormalizeWitnesses(m.WitnessedBy)
	witnessSet := make(map[string]bool, len(witnesses))
	for _, w := range witnesses {
		witnessSet[w] = true
	}
	for _, co := range f.CoParticipants {
		if !witnessSet[memory.NormalizeEntityID(co)] {
			return false
		}
	}
	if len(f.ExcludePrivateTo) > 0 {
		// Reject memories shared privately with exactly the listed
		// entities, the requester aside.
		self := memory.NormalizeEntityID(entity)
		private := make(map[string]bool)
		for _, p := range f.ExcludePrivateTo {
			n := memory.NormalizeEntityID(p)
			if n != self {
				private[n] = true
			}
		}
		others := make(map[string]bool)
		for w := range witnessSet {
			if w != self {
				others[w] = true
			}
		}
		if len(others) == len(private) && len(private) > 0 {
			match := true
			for w := range others {
				if !private[w] {
					match = false
					break
				}
			}
			if match {
				return false
			}
		}
	}
	return true
}
