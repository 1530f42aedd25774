// Package store persists memory records and serves KNN-with-filter queries.
// Two implementations share one interface: RedisStore (RediSearch HNSW) for
// production and MemStore (brute-force cosine) for dev mode and tests.
package store

import (
	"context"
	"encoding/binary"
	"math"

	"github.com/entrained/engram/pkg/memory"
)

// Filters narrows a search beyond the KNN clause. All predicates are ANDed;
// multi-valued fields within one predicate are ORed.
type Filters struct {
	// Entity is the normalised requesting entity. When set, only memories
	// witnessed by it match. Retrieval scope is witnessed memories only;
	// privacy_level widening applies to direct reads, not search.
	Entity string

	MemoryTypes    []string
	SituationTypes []string
	AgentIDs       []string
	Domains        []string
	IncludeTags    []string
	ExcludeTags    []string

	// TimestampFrom/To bound metadata.timestamp in unix milliseconds.
	// Zero means unbounded.
	TimestampFrom int64
	TimestampTo   int64

	ConfidenceMin float64
}

// Hit is one search result with its cosine similarity (1 - distance).
type Hit struct {
	Memory     *memory.Memory
	Similarity float64
}

// Counts summarises stored record populations for the admin status endpoint.
type Counts struct {
	Memories    int64 `json:"memories"`
	Situations  int64 `json:"situations"`
	Annotations int64 `json:"annotations"`
}

// Store is the record-store contract. All blocking operations take a context
// and honour its deadline.
type Store interface {
	// EnsureIndex creates the vector index if it does not exist.
	EnsureIndex(ctx context.Context) error

	// Put persists a new record plus its secondary entries atomically.
	// A duplicate memory_id fails with ErrAlreadyExists; a partial write
	// is rolled back and reported as ErrStorage.
	Put(ctx context.Context, m *memory.Memory) error

	// Update overwrites an existing record in place. Used by internal
	// bookkeeping and the cleanup jobs, never by the public API.
	Update(ctx context.Context, m *memory.Memory) error

	// Get fetches a record by ID, ErrNotFound if absent.
	Get(ctx context.Context, id string) (*memory.Memory, error)

	// Delete removes the record and its secondary entries. Incoming
	// causality edges from other memories are left in place.
	Delete(ctx context.Context, id string) error

	// Search runs KNN over the index, intersected with filters, and drops
	// hits below floor. Results are ordered by descending similarity.
	Search(ctx context.Context, vec []float32, k int, floor float64, f Filters) ([]Hit, error)

	// ScanByEntity lists the memory IDs witnessed by a normalised entity.
	ScanByEntity(ctx context.Context, entity string) ([]string, error)

	// Recent returns the newest memories by timestamp, up to limit.
	Recent(ctx context.Context, limit int) ([]*memory.Memory, error)

	// TouchAccess increments access_count and stamps last_accessed.
	TouchAccess(ctx context.Context, id string) error

	// Annotate appends an annotation, ErrNotFound if the parent is absent.
	Annotate(ctx context.Context, id string, a *memory.Annotation) error

	// Annotations lists annotations for a memory in append order.
	Annotations(ctx context.Context, id string) ([]*memory.Annotation, error)

	// Exists reports whether a memory ID is present.
	Exists(ctx context.Context, id string) (bool, error)

	// Situation fetches a situation by ID, ErrNotFound if absent.
	Situation(ctx context.Context, id string) (*memory.Situation, error)

	// SituationsFor lists situations the entity participates in, ordered
	// by last_activity descending.
	SituationsFor(ctx context.Context, entity string) ([]*memory.Situation, error)

	// ExpiredBefore lists memory IDs whose expires_at precedes now.
	ExpiredBefore(ctx context.Context, now memory.Timestamp) ([]string, error)

	// ScanAll visits every stored memory. Iteration order is unspecified.
	ScanAll(ctx context.Context, fn func(*memory.Memory) error) error

	// FlushMemories deletes every record and secondary key but keeps the
	// index definition. Returns the number of deleted keys.
	FlushMemories(ctx context.Context) (int64, error)

	// RecreateIndex drops and recreates the index definition, keeping data.
	RecreateIndex(ctx context.Context) error

	// Counts reports stored populations.
	Counts(ctx context.Context) (Counts, error)

	// Close releases backend resources.
	Close() error
}

// EncodeVector serialises a vector as little-endian float32, the binary
// layout the HNSW index consumes.
func EncodeVector(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

// DecodeVector reverses EncodeVector.
func DecodeVector(buf []byte) []float32 {
	vec := make([]float32, len(buf)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return vec
}

// CosineSimilarity computes the cosine of the angle between two vectors.
// Returns 0 when either vector has zero magnitude.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
