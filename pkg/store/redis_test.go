package store

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuildQuery(t *testing.T) {
	tests := []struct {
		name    string
		filters Filters
		want    string
	}{
		{
			name:    "empty",
			filters: Filters{},
			want:    "*",
		},
		{
			name:    "entity only",
			filters: Filters{Entity: "humanalice123"},
			want:    "(@witnessed_by:{humanalice123})",
		},
		{
			name: "entity and types",
			filters: Filters{
				Entity:      "claude",
				MemoryTypes: []string{"fact", "preference"},
			},
			want: "(@witnessed_by:{claude} @memory_type:{fact|preference})",
		},
		{
			name: "include and exclude tags",
			filters: Filters{
				Entity:      "claude",
				IncludeTags: []string{"work"},
				ExcludeTags: []string{"personal"},
			},
			want: "(@witnessed_by:{claude} @tags:{work} -@tags:{personal})",
		},
		{
			name:    "timestamp range",
			filters: Filters{TimestampFrom: 1000, TimestampTo: 2000},
			want:    "(@timestamp:[1000 2000])",
		},
		{
			name:    "open timestamp range",
			filters: Filters{TimestampFrom: 1000},
			want:    "(@timestamp:[1000 +inf])",
		},
		{
			name:    "confidence floor",
			filters: Filters{ConfidenceMin: 0.5},
			want:    "(@confidence:[0.5 +inf])",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, buildQuery(tt.filters))
		})
	}
}

func TestEscapeTag(t *testing.T) {
	assert.Equal(t, "humanalice", escapeTag("humanalice"))
	assert.Equal(t, `project\-x`, escapeTag("project-x"))
	assert.Equal(t, `a\ b`, escapeTag("a b"))
}

func TestHashFieldsNormalisesWitnesses(t *testing.T) {
	m := testMemory("mem-000000000001", []string{"human-alice", "claude"}, []float32{1, 0, 0})
	fields, err := hashFields(m)
	assert.NoError(t, err)
	assert.Equal(t, "humanalice,claude", fields["witnessed_by"])
	assert.Equal(t, EncodeVector(m.Vector), fields["embedding"])
	assert.Equal(t, "content of mem-000000000001", fields["content"])
	assert.Equal(t, int64(0), fields["expires_at"])
}

func TestIsMissingIndex(t *testing.T) {
	assert.False(t, isMissingIndex(nil))
	assert.False(t, isMissingIndex(assert.AnError))
	assert.True(t, isMissingIndex(errors.New("ERR no such index")))
	assert.True(t, isMissingIndex(errors.New("Unknown Index name")))
}
