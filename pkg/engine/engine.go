// Package engine orchestrates memory storage and witness-scoped retrieval
// over a pluggable record store. Single-agent memories are multi-entity
// memories with one witness; both API surfaces route through this one type.
package engine

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/entrained/engram/pkg/memory"
	"github.com/entrained/engram/pkg/store"
)

const (
	cacheShards          = 16
	cacheEntriesPerShard = 256
	previewBytes         = 200
)

// Engine is the memory engine. Safe for concurrent use.
type Engine struct {
	store  store.Store
	dims   int
	shards [cacheShards]*lru.Cache[string, *memory.Memory]
	logger *slog.Logger
}

// New creates an engine over the given store. dims is the deployment's
// configured vector dimension.
func New(s store.Store, dims int) *Engine {
	e := &Engine{
		store:  s,
		dims:   dims,
		logger: slog.Default().With("component", "engine"),
	}
	for i := range e.shards {
		cache, _ := lru.New[string, *memory.Memory](cacheEntriesPerShard)
		e.shards[i] = cache
	}
	return e
}

// Dims reports the configured vector dimension.
func (e *Engine) Dims() int { return e.dims }

// Store exposes the underlying record store for admin operations.
func (e *Engine) Store() store.Store { return e.store }

func (e *Engine) shard(id string) *lru.Cache[string, *memory.Memory] {
	h := fnv.New32a()
	h.Write([]byte(id))
	return e.shards[h.Sum32()%cacheShards]
}

// Invalidate drops a memory from the get cache. Called after deletes and
// in-place rewrites.
func (e *Engine) Invalidate(id string) {
	e.shard(id).Remove(id)
}

func (e *Engine) cachedGet(ctx context.Context, id string) (*memory.Memory, error) {
	if m, ok := e.shard(id).Get(id); ok {
		return m, nil
	}
	m, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	e.shard(id).Add(id, m)
	return m, nil
}

// Get fetches a memory. With a requesting entity the witness predicate
// applies; without one only single-agent and public memories are visible.
// Denial is reported as not-found so existence does not leak.
func (e *Engine) Get(ctx context.Context, id, requestingEntity string) (*memory.Memory, error) {
	m, err := e.cachedGet(ctx, id)
	if err != nil {
		return nil, err
	}
	if !allowRead(m, requestingEntity) {
		return nil, fmt.Errorf("%w: memory %s", memory.ErrNotFound, id)
	}
	if err := e.store.TouchAccess(ctx, id); err != nil {
		e.logger.Warn("access bookkeeping failed", "memory_id", id, "error", err)
	}
	e.Invalidate(id)
	return m, nil
}

// Annotate appends an annotation. Only witnesses may annotate.
func (e *Engine) Annotate(ctx context.Context, id string, a *memory.Annotation) error {
	if a.AnnotatorID == "" {
		return fmt.Errorf("%w: annotator_id is required", memory.ErrInvalidRequest)
	}
	if a.Content == "" {
		return fmt.Errorf("%w: annotation content is required", memory.ErrInvalidRequest)
	}
	m, err := e.cachedGet(ctx, id)
	if err != nil {
		return err
	}
	if !memory.Allow(m, a.AnnotatorID) {
		return fmt.Errorf("%w: entity %s may not annotate memory %s", memory.ErrForbidden, a.AnnotatorID, id)
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = memory.Now()
	}
	return e.store.Annotate(ctx, id, a)
}

// Annotations lists a memory's annotations under the same visibility rules
// as Get.
func (e *Engine) Annotations(ctx context.Context, id, requestingEntity string) ([]*memory.Annotation, error) {
	m, err := e.cachedGet(ctx, id)
	if err != nil {
		return nil, err
	}
	if !allowRead(m, requestingEntity) {
		return nil, fmt.Errorf("%w: memory %s", memory.ErrNotFound, id)
	}
	return e.store.Annotations(ctx, id)
}

// allowRead applies the witness predicate for identified callers and the
// anonymous rule for the legacy surface.
func allowRead(m *memory.Memory, requestingEntity string) bool {
	if requestingEntity == "" {
		return memory.AllowAnonymous(m)
	}
	return memory.Allow(m, requestingEntity)
}

// SituationsFor lists the situations an entity participates in, newest
// activity first.
func (e *Engine) SituationsFor(ctx context.Context, entityID string) ([]*memory.Situation, error) {
	if entityID == "" {
		return nil, fmt.Errorf("%w: entity_id is required", memory.ErrInvalidRequest)
	}
	return e.store.SituationsFor(ctx, memory.NormalizeEntityID(entityID))
}

// Delete removes a memory and drops it from the get cache.
func (e *Engine) Delete(ctx context.Context, id string) error {
	if err := e.store.Delete(ctx, id); err != nil {
		return err
	}
	e.Invalidate(id)
	return nil
}

// Recent lists the newest memories, for the MCP list tool.
func (e *Engine) Recent(ctx context.Context, limit int) ([]*memory.Memory, error) {
	return e.store.Recent(ctx, limit)
}

// Counts reports stored populations.
func (e *Engine) Counts(ctx context.Context) (store.Counts, error) {
	return e.store.Counts(ctx)
}

// MemoriesForEntity loads every memory witnessed by an entity. Used by the
// per-entity stats report; not a retrieval path.
func (e *Engine) MemoriesForEntity(ctx context.Context, entityID string) ([]*memory.Memory, error) {
	ids, err := e.store.ScanByEntity(ctx, memory.NormalizeEntityID(entityID))
	if err != nil {
		return nil, err
	}
	out := make([]*memory.Memory, 0, len(ids))
	for _, id := range ids {
		m, err := e.store.Get(ctx, id)
		if err != nil {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}
