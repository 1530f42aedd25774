package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrained/engram/pkg/memory"
	"github.com/entrained/engram/pkg/store"
)

func newTestEngine(t *testing.T) (*Engine, *store.MemStore) {
	t.Helper()
	s := store.NewMemStore()
	return New(s, 3), s
}

func storeConsultation(t *testing.T, e *Engine, witnesses []string, text string, vec []float32) *StoreResult {
	t.Helper()
	res, err := e.StoreMulti(context.Background(), &StoreMultiRequest{
		WitnessedBy:   witnesses,
		SituationType: memory.SituationConsultation,
		Content:       memory.Content{Text: text},
		PrimaryVector: vec,
		Metadata: memory.Metadata{
			MemoryType: memory.TypeFact,
			Confidence: 0.9,
		},
	})
	require.NoError(t, err)
	return res
}

func retrieveAs(t *testing.T, e *Engine, entity string, vec []float32) *RetrieveResult {
	t.Helper()
	res, err := e.RetrieveMulti(context.Background(), &RetrieveRequest{
		RequestingEntity: entity,
		ResonanceVectors: []ResonanceVector{{Vector: vec, Weight: 1}},
		Retrieval:        RetrievalParams{TopK: 10, SimilarityThreshold: 0},
	})
	require.NoError(t, err)
	return res
}

func TestPrivateConsultationIsPrivate(t *testing.T) {
	e, _ := newTestEngine(t)
	vec := []float32{0, 1, 0}
	stored := storeConsultation(t, e, []string{"alice", "claude"}, "Algorithm optimization", vec)

	res := retrieveAs(t, e, "bob", vec)
	assert.Empty(t, res.Memories)
	assert.Zero(t, res.AccessGrantedCount)
	assert.Equal(t, "witnessed_memories_only", res.EntityVerification.SearchScope)

	res = retrieveAs(t, e, "alice", vec)
	require.Len(t, res.Memories, 1)
	assert.Equal(t, stored.MemoryID, res.Memories[0].MemoryID)
	assert.InDelta(t, 1.0, res.Memories[0].SimilarityScore, 1e-6)
	assert.Equal(t, 1, res.AccessGrantedCount)
}

func TestGroupVisibility(t *testing.T) {
	e, _ := newTestEngine(t)
	vec := []float32{1, 0, 0}
	stored := storeConsultation(t, e, []string{"alice", "bob", "claude"}, "group memory", vec)

	for _, entity := range []string{"alice", "bob", "claude"} {
		res := retrieveAs(t, e, entity, vec)
		require.Len(t, res.Memories, 1, "entity %s", entity)
		assert.Equal(t, stored.MemoryID, res.Memories[0].MemoryID)
	}
	res := retrieveAs(t, e, "dave", vec)
	assert.Empty(t, res.Memories)
}

func TestStoreMultiValidation(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := e.StoreMulti(ctx, &StoreMultiRequest{
		WitnessedBy:   nil,
		SituationType: memory.SituationConversation,
		Content:       memory.Content{Text: "x"},
		PrimaryVector: []float32{1, 0, 0},
		Metadata:      memory.Metadata{MemoryType: memory.TypeFact},
	})
	require.ErrorIs(t, err, memory.ErrInvalidRequest)

	_, err = e.StoreMulti(ctx, &StoreMultiRequest{
		WitnessedBy:   []string{"alice"},
		SituationType: memory.SituationConversation,
		Content:       memory.Content{Text: "x"},
		PrimaryVector: []float32{1, 0}, // wrong dimension
		Metadata:      memory.Metadata{MemoryType: memory.TypeFact},
	})
	require.ErrorIs(t, err, memory.ErrInvalidRequest)
}

func TestStoreSingleRoutesToUnifiedEngine(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	res, err := e.StoreSingle(ctx, &StoreSingleRequest{
		Content:       memory.Content{Text: "single agent note"},
		PrimaryVector: []float32{1, 0, 0},
		Metadata: memory.Metadata{
			AgentID:    "agent-7",
			MemoryType: memory.TypeFact,
		},
	})
	require.NoError(t, err)

	m, err := e.Get(ctx, res.MemoryID, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"agent-7"}, m.WitnessedBy)
	assert.Equal(t, memory.SituationLegacySingle, m.SituationType)

	// The single-agent memory is reachable through the multi surface.
	got := retrieveAs(t, e, "agent-7", []float32{1, 0, 0})
	require.Len(t, got.Memories, 1)
}

func TestGetDenialIndistinguishableFromMissing(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	stored := storeConsultation(t, e, []string{"alice"}, "secret", []float32{1, 0, 0})

	_, err := e.Get(ctx, stored.MemoryID, "bob")
	require.ErrorIs(t, err, memory.ErrNotFound)

	_, err = e.Get(ctx, "mem-missing000000", "bob")
	require.ErrorIs(t, err, memory.ErrNotFound)
}

func TestGetPublicMemory(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	res, err := e.StoreMulti(ctx, &StoreMultiRequest{
		WitnessedBy:   []string{"alice"},
		SituationType: memory.SituationPresentation,
		Content:       memory.Content{Text: "public talk"},
		PrimaryVector: []float32{1, 0, 0},
		Metadata:      memory.Metadata{MemoryType: memory.TypeEvent},
		PrivacyLevel:  memory.PrivacyPublic,
	})
	require.NoError(t, err)

	m, err := e.Get(ctx, res.MemoryID, "stranger")
	require.NoError(t, err)
	assert.Equal(t, "public talk", m.Content.Text)
}

func TestAnnotateWitnessOnly(t *testing.T) {
	e, s := newTestEngine(t)
	ctx := context.Background()
	stored := storeConsultation(t, e, []string{"alice", "claude"}, "to annotate", []float32{1, 0, 0})

	err := e.Annotate(ctx, stored.MemoryID, &memory.Annotation{
		AnnotatorID: "alice",
		Type:        "observation",
		Content:     "important",
	})
	require.NoError(t, err)

	err = e.Annotate(ctx, stored.MemoryID, &memory.Annotation{
		AnnotatorID: "bob",
		Type:        "observation",
		Content:     "sneaky",
	})
	require.ErrorIs(t, err, memory.ErrForbidden)

	anns, err := s.Annotations(ctx, stored.MemoryID)
	require.NoError(t, err)
	require.Len(t, anns, 1)
	assert.Equal(t, "alice", anns[0].AnnotatorID)

	// The parent record is unchanged by annotation.
	m, err := e.Get(ctx, stored.MemoryID, "alice")
	require.NoError(t, err)
	assert.Equal(t, "to annotate", m.Content.Text)
}

func TestTopKZeroReturnsEmptyOK(t *testing.T) {
	e, _ := newTestEngine(t)
	storeConsultation(t, e, []string{"alice"}, "something", []float32{1, 0, 0})

	res, err := e.RetrieveMulti(context.Background(), &RetrieveRequest{
		RequestingEntity: "alice",
		ResonanceVectors: []ResonanceVector{{Vector: []float32{1, 0, 0}}},
		Retrieval:        RetrievalParams{TopK: 0},
	})
	require.NoError(t, err)
	assert.Empty(t, res.Memories)
	assert.Zero(t, res.TotalFound)
}

func TestSimilarityThresholdOne(t *testing.T) {
	e, _ := newTestEngine(t)
	storeConsultation(t, e, []string{"alice"}, "exact", []float32{0, 1, 0})
	storeConsultation(t, e, []string{"alice"}, "near", []float32{1, 1, 0})

	res, err := e.RetrieveMulti(context.Background(), &RetrieveRequest{
		RequestingEntity: "alice",
		ResonanceVectors: []ResonanceVector{{Vector: []float32{0, 1, 0}}},
		Retrieval:        RetrievalParams{TopK: 10, SimilarityThreshold: 1},
	})
	require.NoError(t, err)
	require.Len(t, res.Memories, 1)
	assert.Equal(t, "exact", res.Memories[0].ContentPreview)
}

func TestLegacySurfaceCannotReachMultiEntityMemories(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	vec := []float32{0, 1, 0}
	private := storeConsultation(t, e, []string{"alice", "claude"}, "Algorithm optimization", vec)

	// Identity-less search must not surface the private consultation.
	res, err := e.RetrieveSingle(ctx, &RetrieveRequest{
		ResonanceVectors: []ResonanceVector{{Vector: vec, Weight: 1}},
		Retrieval:        RetrievalParams{TopK: 10, SimilarityThreshold: 0},
	})
	require.NoError(t, err)
	assert.Empty(t, res.Memories)

	// Neither must identity-less reads.
	_, err = e.Get(ctx, private.MemoryID, "")
	require.ErrorIs(t, err, memory.ErrNotFound)
	_, err = e.Annotations(ctx, private.MemoryID, "")
	require.ErrorIs(t, err, memory.ErrNotFound)

	// Single-agent and public memories stay reachable there.
	legacy, err := e.StoreSingle(ctx, &StoreSingleRequest{
		Content:       memory.Content{Text: "agent note"},
		PrimaryVector: vec,
		Metadata:      memory.Metadata{AgentID: "agent-7", MemoryType: memory.TypeFact},
	})
	require.NoError(t, err)
	public, err := e.StoreMulti(ctx, &StoreMultiRequest{
		WitnessedBy:   []string{"alice", "claude"},
		SituationType: memory.SituationPresentation,
		Content:       memory.Content{Text: "public talk"},
		PrimaryVector: vec,
		Metadata:      memory.Metadata{MemoryType: memory.TypeEvent},
		PrivacyLevel:  memory.PrivacyPublic,
	})
	require.NoError(t, err)

	res, err = e.RetrieveSingle(ctx, &RetrieveRequest{
		ResonanceVectors: []ResonanceVector{{Vector: vec, Weight: 1}},
		Retrieval:        RetrievalParams{TopK: 10, SimilarityThreshold: 0},
	})
	require.NoError(t, err)
	require.Len(t, res.Memories, 2)
	ids := []string{res.Memories[0].MemoryID, res.Memories[1].MemoryID}
	assert.ElementsMatch(t, []string{legacy.MemoryID, public.MemoryID}, ids)
}

func TestSituationsFor(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	storeConsultation(t, e, []string{"human-alice", "claude"}, "one", []float32{1, 0, 0})

	sits, err := e.SituationsFor(ctx, "human-alice")
	require.NoError(t, err)
	require.Len(t, sits, 1)
	assert.Contains(t, sits[0].Participants, "humanalice")

	sits, err = e.SituationsFor(ctx, "bob")
	require.NoError(t, err)
	assert.Empty(t, sits)
}
