package cleanup

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrained/engram/pkg/memory"
	"github.com/entrained/engram/pkg/store"
)

func seedMemory(t *testing.T, s *store.MemStore, id string, witnesses []string, vec []float32, mutate func(*memory.Memory)) *memory.Memory {
	t.Helper()
	m := &memory.Memory{
		ID:            id,
		Content:       memory.Content{Text: "content " + id},
		Vector:        vec,
		WitnessedBy:   witnesses,
		SituationID:   "sit-" + id,
		SituationType: memory.SituationConversation,
		PrivacyLevel:  memory.PrivacyParticipants,
		Metadata: memory.Metadata{
			Timestamp:  memory.Now(),
			MemoryType: memory.TypeFact,
			Confidence: 0.5,
		},
		CreatedAt: memory.Now(),
	}
	if mutate != nil {
		mutate(m)
	}
	require.NoError(t, s.Put(context.Background(), m))
	return m
}

func TestRunExpiry(t *testing.T) {
	s := store.NewMemStore()
	var invalidated []string
	sched := New(s, func(id string) { invalidated = append(invalidated, id) }, Config{})
	ctx := context.Background()

	seedMemory(t, s, "mem-00000expired", []string{"alice"}, []float32{1, 0, 0}, func(m *memory.Memory) {
		past := memory.At(time.Now().Add(-2 * time.Second))
		m.ExpiresAt = &past
		m.Retention = &memory.Retention{TTLSeconds: 1}
	})
	seedMemory(t, s, "mem-000000alive0", []string{"alice"}, []float32{0, 1, 0}, nil)

	summary, err := sched.RunExpiry(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Deleted)
	assert.Equal(t, []string{"mem-00000expired"}, invalidated)

	_, err = s.Get(ctx, "mem-00000expired")
	require.ErrorIs(t, err, memory.ErrNotFound)
	_, err = s.Get(ctx, "mem-000000alive0")
	require.NoError(t, err)

	// Idempotent: a second run deletes nothing.
	summary, err = sched.RunExpiry(ctx)
	require.NoError(t, err)
	assert.Zero(t, summary.Deleted)
}

func TestRunConsolidationMergesNearDuplicates(t *testing.T) {
	s := store.NewMemStore()
	sched := New(s, nil, Config{})
	ctx := context.Background()

	earlier := seedMemory(t, s, "mem-000000000aaa", []string{"alice", "claude"}, []float32{1, 0, 0}, func(m *memory.Memory) {
		m.CreatedAt = memory.At(time.Now().Add(-time.Hour))
		m.Metadata.Timestamp = m.CreatedAt
		m.Metadata.Confidence = 0.5
	})
	seedMemory(t, s, "mem-000000000bbb", []string{"alice", "claude"}, []float32{1, 0.01, 0}, func(m *memory.Memory) {
		m.Metadata.Confidence = 0.9
	})
	// Same direction but different witnesses: must survive.
	seedMemory(t, s, "mem-000000000ccc", []string{"bob"}, []float32{1, 0, 0}, nil)

	summary, err := sched.RunConsolidation(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Merged)

	survivor, err := s.Get(ctx, earlier.ID)
	require.NoError(t, err)
	assert.Contains(t, survivor.Content.Text, "content mem-000000000aaa")
	assert.Contains(t, survivor.Content.Text, "content mem-000000000bbb")
	assert.InDelta(t, 0.9, survivor.Metadata.Confidence, 1e-9)

	_, err = s.Get(ctx, "mem-000000000bbb")
	require.ErrorIs(t, err, memory.ErrNotFound)
	_, err = s.Get(ctx, "mem-000000000ccc")
	require.NoError(t, err)
}

func TestRunConsolidationLeavesDistinctAlone(t *testing.T) {
	s := store.NewMemStore()
	sched := New(s, nil, Config{})

	seedMemory(t, s, "mem-000000000aaa", []string{"alice"}, []float32{1, 0, 0}, nil)
	seedMemory(t, s, "mem-000000000bbb", []string{"alice"}, []float32{0, 1, 0}, nil)

	summary, err := sched.RunConsolidation(context.Background())
	require.NoError(t, err)
	assert.Zero(t, summary.Merged)
}

func TestRunDecay(t *testing.T) {
	s := store.NewMemStore()
	sched := New(s, nil, Config{DecayLambda: 0.01})
	ctx := context.Background()

	logDecay := seedMemory(t, s, "mem-0000000000lg", []string{"alice"}, []float32{1, 0, 0}, func(m *memory.Memory) {
		m.CreatedAt = memory.At(time.Now().Add(-100 * 24 * time.Hour))
		m.Metadata.Importance = 1.0
		m.Retention = &memory.Retention{DecayFunction: memory.DecayLogarithmic}
	})
	linDecay := seedMemory(t, s, "mem-0000000000ln", []string{"alice"}, []float32{0, 1, 0}, func(m *memory.Memory) {
		m.CreatedAt = memory.At(time.Now().Add(-200 * 24 * time.Hour))
		m.Metadata.Importance = 1.0
		m.Retention = &memory.Retention{DecayFunction: memory.DecayLinear}
	})
	untouched := seedMemory(t, s, "mem-0000000000no", []string{"alice"}, []float32{0, 0, 1}, func(m *memory.Memory) {
		m.Metadata.Importance = 1.0
	})

	summary, err := sched.RunDecay(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Demoted)

	got, err := s.Get(ctx, logDecay.ID)
	require.NoError(t, err)
	assert.InDelta(t, 0.368, got.Metadata.Importance, 0.01) // e^-1 after 100 days

	got, err = s.Get(ctx, linDecay.ID)
	require.NoError(t, err)
	assert.Zero(t, got.Metadata.Importance) // floored at 0

	got, err = s.Get(ctx, untouched.ID)
	require.NoError(t, err)
	assert.Equal(t, 1.0, got.Metadata.Importance)
}
