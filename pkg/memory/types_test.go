package memory

import (
	"encoding/json"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewID(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := NewID()
		require.True(t, strings.HasPrefix(id, "mem-"))
		require.Len(t, id, len("mem-")+12)
		require.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
}

func TestNewSituationID(t *testing.T) {
	id := NewSituationID()
	assert.True(t, strings.HasPrefix(id, "sit-"))
	assert.Len(t, id, len("sit-")+12)
}

func TestNormalizeEntityID(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"human-alice-123", "humanalice123"},
		{"humanalice123", "humanalice123"},
		{"claude", "claude"},
		{"", ""},
		{"a-b-c-d", "abcd"},
	}
	for _, tt := range tests {
		got := NormalizeEntityID(tt.in)
		assert.Equal(t, tt.want, got)
		// idempotent
		assert.Equal(t, got, NormalizeEntityID(got))
	}
}

func TestNormalizeWitnesses(t *testing.T) {
	originals, normalised := NormalizeWitnesses([]string{
		"human-alice", "humanalice", "claude", "", "claude",
	})
	assert.Equal(t, []string{"human-alice", "claude"}, originals)
	assert.Equal(t, []string{"humanalice", "claude"}, normalised)
}

func TestAllow(t *testing.T) {
	m := &Memory{
		WitnessedBy:  []string{"human-alice", "claude"},
		PrivacyLevel: PrivacyParticipants,
	}
	assert.True(t, Allow(m, "human-alice"))
	assert.True(t, Allow(m, "humanalice"))
	assert.True(t, Allow(m, "claude"))
	assert.False(t, Allow(m, "bob"))
	assert.False(t, Allow(nil, "anyone"))

	m.PrivacyLevel = PrivacyPublic
	assert.True(t, Allow(m, "bob"))
}

func TestAllowAnonymous(t *testing.T) {
	private := &Memory{
		WitnessedBy:   []string{"alice", "claude"},
		SituationType: SituationConsultation,
		PrivacyLevel:  PrivacyParticipants,
	}
	assert.False(t, AllowAnonymous(private))
	assert.False(t, AllowAnonymous(nil))

	legacy := &Memory{
		WitnessedBy:   []string{"agent-7"},
		SituationType: SituationLegacySingle,
		PrivacyLevel:  PrivacyPersonal,
	}
	assert.True(t, AllowAnonymous(legacy))

	private.PrivacyLevel = PrivacyPublic
	assert.True(t, AllowAnonymous(private))
}

func TestTimestampRoundTrip(t *testing.T) {
	ts, err := ParseTimestamp("2025-06-01T12:00:00Z")
	require.NoError(t, err)

	data, err := json.Marshal(ts)
	require.NoError(t, err)
	assert.Equal(t, `"2025-06-01T12:00:00Z"`, string(data))

	var back Timestamp
	require.NoError(t, json.Unmarshal(data, &back))
	assert.True(t, ts.Equal(back.Time))
}

func TestTimestampRejectsNonUTC(t *testing.T) {
	_, err := ParseTimestamp("2025-06-01T12:00:00+02:00")
	require.ErrorIs(t, err, ErrInvalidRequest)

	_, err = ParseTimestamp("2025-06-01T12:00:00")
	require.ErrorIs(t, err, ErrInvalidRequest)

	var ts Timestamp
	err = json.Unmarshal([]byte(`"2025-06-01T12:00:00+02:00"`), &ts)
	require.ErrorIs(t, err, ErrInvalidRequest)
}

func TestValidateVector(t *testing.T) {
	require.NoError(t, ValidateVector([]float32{1, 2, 3}, 3))

	err := ValidateVector([]float32{1, 2}, 3)
	require.ErrorIs(t, err, ErrInvalidRequest)

	err = ValidateVector([]float32{1, float32(math.NaN()), 3}, 3)
	require.ErrorIs(t, err, ErrInvalidRequest)

	err = ValidateVector([]float32{1, float32(math.Inf(1)), 3}, 3)
	require.ErrorIs(t, err, ErrInvalidRequest)
}

func TestMemoryValidate(t *testing.T) {
	valid := func() *Memory {
		return &Memory{
			ID:          NewID(),
			Content:     Content{Text: "hello"},
			Vector:      []float32{0, 1, 0},
			WitnessedBy: []string{"alice"},
			Metadata: Metadata{
				Timestamp:  Now(),
				MemoryType: TypeFact,
			},
		}
	}

	require.NoError(t, valid().Validate(3))

	m := valid()
	m.Content.Text = ""
	require.ErrorIs(t, m.Validate(3), ErrInvalidRequest)

	m = valid()
	m.WitnessedBy = nil
	require.ErrorIs(t, m.Validate(3), ErrInvalidRequest)

	m = valid()
	m.Causality = &Causality{
		ParentMemories:    []string{"mem-aaa"},
		InfluenceStrength: []float64{0.5, 0.9},
	}
	require.ErrorIs(t, m.Validate(3), ErrInvalidRequest)

	m = valid()
	m.Causality = &Causality{
		ParentMemories:    []string{"mem-aaa"},
		InfluenceStrength: []float64{1.5},
	}
	require.ErrorIs(t, m.Validate(3), ErrInvalidRequest)
}

func TestRetentionTTL(t *testing.T) {
	assert.Zero(t, RetentionPermanent.TTL())
	assert.Equal(t, 365*24.0, RetentionLongTerm.TTL().Hours())
	assert.Equal(t, 30*24.0, RetentionMediumTerm.TTL().Hours())
	assert.Equal(t, 7*24.0, RetentionShortTerm.TTL().Hours())
	assert.Equal(t, 4.0, RetentionSession.TTL().Hours())
}

func TestContentPreview(t *testing.T) {
	m := &Memory{Content: Content{Text: strings.Repeat("x", 300)}}
	assert.Len(t, m.ContentPreview(200), 200)

	m.Content.Text = "short"
	assert.Equal(t, "short", m.ContentPreview(200))
}

func TestLiveParents(t *testing.T) {
	m := &Memory{Causality: &Causality{
		ParentMemories:    []string{"mem-a", "mem-b", "mem-c"},
		InfluenceStrength: []float64{0.9, 0.5, 0.1},
	}}
	exists := func(id string) bool { return id != "mem-b" }
	ids, strengths := m.LiveParents(exists)
	assert.Equal(t, []string{"mem-a", "mem-c"}, ids)
	assert.Equal(t, []float64{0.9, 0.1}, strengths)

	m.Causality = nil
	ids, strengths = m.LiveParents(exists)
	assert.Nil(t, ids)
	assert.Nil(t, strengths)
}
