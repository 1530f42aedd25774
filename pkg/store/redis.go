package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/entrained/engram/pkg/memory"
)

const (
	keyMemoryPrefix    = "memory:"
	keyEntityAccess    = "entity_access:"
	keySituationPrefix = "situation:"
	keyAnnotations     = "annotations:"
	keyCausality       = "causality:"
)

// RedisOptions configures a RedisStore.
type RedisOptions struct {
	Addr      string
	Password  string
	DB        int
	IndexName string
	Dims      int
}

// RedisStore persists memories as Redis hashes under memory:{id} and serves
// KNN queries through a RediSearch HNSW index over those hashes.
type RedisStore struct {
	client *redis.Client
	index  string
	dims   int
	logger *slog.Logger
}

// NewRedisStore connects to Redis and ensures the vector index exists.
func NewRedisStore(ctx context.Context, opts RedisOptions) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("%w: redis ping: %v", memory.ErrStorage, err)
	}
	s := &RedisStore{
		client: client,
		index:  opts.IndexName,
		dims:   opts.Dims,
		logger: slog.Default().With("component", "redis_store"),
	}
	if err := s.EnsureIndex(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *RedisStore) Close() error { return s.client.Close() }

// EnsureIndex creates the HNSW index if it is not already defined.
func (s *RedisStore) EnsureIndex(ctx context.Context) error {
	_, err := s.client.FTInfo(ctx, s.index).Result()
	if err == nil {
		return nil
	}
	return s.createIndex(ctx)
}

func (s *RedisStore) createIndex(ctx context.Context) error {
	err := s.client.FTCreate(ctx, s.index,
		&redis.FTCreateOptions{
			OnHash: true,
			Prefix: []interface{}{keyMemoryPrefix},
		},
		&redis.FieldSchema{FieldName: "witnessed_by", FieldType: redis.SearchFieldTypeTag, Separator: ","},
		&redis.FieldSchema{FieldName: "situation_id", FieldType: redis.SearchFieldTypeTag},
		&redis.FieldSchema{FieldName: "situation_type", FieldType: redis.SearchFieldTypeTag},
		&redis.FieldSchema{FieldName: "privacy_level", FieldType: redis.SearchFieldTypeTag},
		&redis.FieldSchema{FieldName: "memory_type", FieldType: redis.SearchFieldTypeTag},
		&redis.FieldSchema{FieldName: "agent_id", FieldType: redis.SearchFieldTypeTag},
		&redis.FieldSchema{FieldName: "domain", FieldType: redis.SearchFieldTypeTag},
		&redis.FieldSchema{FieldName: "topic_tags", FieldType: redis.SearchFieldTypeTag, Separator: ","},
		&redis.FieldSchema{FieldName: "tags", FieldType: redis.SearchFieldTypeTag, Separator: ","},
		&redis.FieldSchema{FieldName: "content", FieldType: redis.SearchFieldTypeText},
		&redis.FieldSchema{FieldName: "summary", FieldType: redis.SearchFieldTypeText},
		&redis.FieldSchema{FieldName: "timestamp", FieldType: redis.SearchFieldTypeNumeric, Sortable: true},
		&redis.FieldSchema{FieldName: "interaction_quality", FieldType: redis.SearchFieldTypeNumeric, Sortable: true},
		&redis.FieldSchema{FieldName: "importance", FieldType: redis.SearchFieldTypeNumeric, Sortable: true},
		&redis.FieldSchema{FieldName: "confidence", FieldType: redis.SearchFieldTypeNumeric, Sortable: true},
		&redis.FieldSchema{FieldName: "duration_minutes", FieldType: redis.SearchFieldTypeNumeric, Sortable: true},
		&redis.FieldSchema{FieldName: "expires_at", FieldType: redis.SearchFieldTypeNumeric, Sortable: true},
		&redis.FieldSchema{
			FieldName: "embedding",
			FieldType: redis.SearchFieldTypeVector,
			VectorArgs: &redis.FTVectorArgs{
				HNSWOptions: &redis.FTHNSWOptions{
					Type:           "FLOAT32",
					Dim:            s.dims,
					DistanceMetric: "COSINE",
				},
			},
		},
	).Err()
	if err != nil && !strings.Contains(err.Error(), "Index already exists") {
		return fmt.Errorf("%w: create index %s: %v", memory.ErrStorage, s.index, err)
	}
	return nil
}

// RecreateIndex drops the index definition (keeping documents) and rebuilds it.
func (s *RedisStore) RecreateIndex(ctx context.Context) error {
	if err := s.client.FTDropIndex(ctx, s.index).Err(); err != nil && !isMissingIndex(err) {
		return fmt.Errorf("%w: drop index %s: %v", memory.ErrStorage, s.index, err)
	}
	return s.createIndex(ctx)
}

func hashFields(m *memory.Memory) (map[string]interface{}, error) {
	body, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal memory %s: %v", memory.ErrStorage, m.ID, err)
	}
	_, normalised := memory.NormalizeWitnesses(m.WitnessedBy)
	var expiresAt int64
	if m.ExpiresAt != nil {
		expiresAt = m.ExpiresAt.UnixMilli()
	}
	return map[string]interface{}{
		"memory_json":         string(body),
		"embedding":           EncodeVector(m.Vector),
		"witnessed_by":        strings.Join(normalised, ","),
		"situation_id":        m.SituationID,
		"situation_type":      string(m.SituationType),
		"privacy_level":       string(m.PrivacyLevel),
		"memory_type":         string(m.Metadata.MemoryType),
		"agent_id":            m.Metadata.AgentID,
		"domain":              m.Metadata.Domain,
		"topic_tags":          strings.Join(m.Metadata.TopicTags, ","),
		"tags":                strings.Join(m.Tags, ","),
		"content":             m.Content.Text,
		"summary":             m.Content.Summary,
		"timestamp":           m.Metadata.Timestamp.UnixMilli(),
		"interaction_quality": m.Metadata.InteractionQuality,
		"importance":          m.Metadata.Importance,
		"confidence":          m.Metadata.Confidence,
		"duration_minutes":    m.Metadata.DurationMinutes,
		"expires_at":          expiresAt,
	}, nil
}

func (s *RedisStore) Put(ctx context.Context, m *memory.Memory) error {
	key := keyMemoryPrefix + m.ID
	// Creation guard: the id field is set once, atomically.
	created, err := s.client.HSetNX(ctx, key, "id", m.ID).Result()
	if err != nil {
		return wrapRedisErr("put", err)
	}
	if !created {
		return fmt.Errorf("%w: memory %s", memory.ErrAlreadyExists, m.ID)
	}

	fields, err := hashFields(m)
	if err != nil {
		s.client.Del(ctx, key)
		return err
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, fields)
	for _, w := range m.WitnessedBy {
		pipe.SAdd(ctx, keyEntityAccess+memory.NormalizeEntityID(w), m.ID)
	}
	sitKey := keySituationPrefix + m.SituationID
	pipe.HSetNX(ctx, sitKey, "situation_id", m.SituationID)
	pipe.HSetNX(ctx, sitKey, "situation_type", string(m.SituationType))
	pipe.HSetNX(ctx, sitKey, "created_at", m.CreatedAt.UnixMilli())
	pipe.HSetNX(ctx, sitKey, "status", string(memory.SituationActive))
	pipe.HSet(ctx, sitKey, "last_activity", m.CreatedAt.UnixMilli())
	pipe.SAdd(ctx, sitKey+":memories", m.ID)
	if m.Causality != nil {
		for _, p := range m.Causality.ParentMemories {
			pipe.SAdd(ctx, keyCausality+m.ID+":parents", p)
			pipe.SAdd(ctx, keyCausality+p+":children", m.ID)
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		// Never leave a half-visible record behind.
		s.client.Del(ctx, key)
		return wrapRedisErr("put pipeline", err)
	}
	return nil
}

func (s *RedisStore) Update(ctx context.Context, m *memory.Memory) error {
	key := keyMemoryPrefix + m.ID
	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return wrapRedisErr("update", err)
	}
	if exists == 0 {
		return fmt.Errorf("%w: memory %s", memory.ErrNotFound, m.ID)
	}
	fields, err := hashFields(m)
	if err != nil {
		return err
	}
	if err := s.client.HSet(ctx, key, fields).Err(); err != nil {
		return wrapRedisErr("update", err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, id string) (*memory.Memory, error) {
	body, err := s.client.HGet(ctx, keyMemoryPrefix+id, "memory_json").Result()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: memory %s", memory.ErrNotFound, id)
	}
	if err != nil {
		return nil, wrapRedisErr("get", err)
	}
	var m memory.Memory
	if err := json.Unmarshal([]byte(body), &m); err != nil {
		return nil, fmt.Errorf("%w: decode memory %s: %v", memory.ErrStorage, id, err)
	}
	return &m, nil
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	m, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	sitKey := keySituationPrefix + m.SituationID
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, keyMemoryPrefix+id)
	pipe.Del(ctx, keyAnnotations+id)
	pipe.Del(ctx, keyCausality+id+":parents")
	for _, w := range m.WitnessedBy {
		pipe.SRem(ctx, keyEntityAccess+memory.NormalizeEntityID(w), id)
	}
	pipe.SRem(ctx, sitKey+":memories", id)
	if _, err := pipe.Exec(ctx); err != nil {
		return wrapRedisErr("delete", err)
	}
	// Garbage-collect the situation once its last memory is gone.
	remaining, err := s.client.SCard(ctx, sitKey+":memories").Result()
	if err == nil && remaining == 0 {
		s.client.Del(ctx, sitKey, sitKey+":memories")
	}
	return nil
}

func escapeTag(v string) string {
	var b strings.Builder
	for _, r := range v {
		switch r {
		case ',', '.', '<', '>', '{', '}', '[', ']', '"', '\'', ':', ';',
			'!', '@', '#', '$', '%', '^', '&', '*', '(', ')', '-', '+',
			'=', '~', '|', '/', '\\', ' ':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

func tagClause(field string, values []string) string {
	escaped := make([]string, len(values))
	for i, v := range values {
		escaped[i] = escapeTag(v)
	}
	return fmt.Sprintf("@%s:{%s}", field, strings.Join(escaped, "|"))
}

func buildQuery(f Filters) string {
	var parts []string
	if f.Entity != "" {
		parts = append(parts, tagClause("witnessed_by", []string{f.Entity}))
	}
	if len(f.MemoryTypes) > 0 {
		parts = append(parts, tagClause("memory_type", f.MemoryTypes))
	}
	if len(f.SituationTypes) > 0 {
		parts = append(parts, tagClause("situation_type", f.SituationTypes))
	}
	if len(f.AgentIDs) > 0 {
		parts = append(parts, tagClause("agent_id", f.AgentIDs))
	}
	if len(f.Domains) > 0 {
		parts = append(parts, tagClause("domain", f.Domains))
	}
	for _, tag := range f.IncludeTags {
		parts = append(parts, tagClause("tags", []string{tag}))
	}
	for _, tag := range f.ExcludeTags {
		parts = append(parts, "-"+tagClause("tags", []string{tag}))
	}
	if f.TimestampFrom != 0 || f.TimestampTo != 0 {
		from, to := "-inf", "+inf"
		if f.TimestampFrom != 0 {
			from = strconv.FormatInt(f.TimestampFrom, 10)
		}
		if f.TimestampTo != 0 {
			to = strconv.FormatInt(f.TimestampTo, 10)
		}
		parts = append(parts, fmt.Sprintf("@timestamp:[%s %s]", from, to))
	}
	if f.ConfidenceMin > 0 {
		parts = append(parts, fmt.Sprintf("@confidence:[%g +inf]", f.ConfidenceMin))
	}
	if len(parts) == 0 {
		return "*"
	}
	return "(" + strings.Join(parts, " ") + ")"
}

func (s *RedisStore) Search(ctx context.Context, vec []float32, k int, floor float64, f Filters) ([]Hit, error) {
	if k <= 0 {
		return nil, nil
	}
	query := fmt.Sprintf("%s=>[KNN %d @embedding $vec AS score]", buildQuery(f), k)
	opts := &redis.FTSearchOptions{
		Params:         map[string]interface{}{"vec": EncodeVector(vec)},
		SortBy:         []redis.FTSearchSortBy{{FieldName: "score", Asc: true}},
		DialectVersion: 2,
		LimitOffset:    0,
		Limit:          k,
	}

	res, err := s.client.FTSearchWithArgs(ctx, s.index, query, opts).Result()
	if isMissingIndex(err) {
		// Self-heal: recreate the definition and retry once.
		s.logger.Warn("vector index missing, recreating", "index", s.index)
		if err := s.createIndex(ctx); err != nil {
			return nil, err
		}
		res, err = s.client.FTSearchWithArgs(ctx, s.index, query, opts).Result()
	}
	if err != nil {
		return nil, wrapRedisErr("search", err)
	}

	hits := make([]Hit, 0, len(res.Docs))
	for _, doc := range res.Docs {
		body, ok := doc.Fields["memory_json"]
		if !ok {
			continue
		}
		var m memory.Memory
		if err := json.Unmarshal([]byte(body), &m); err != nil {
			s.logger.Warn("skipping undecodable record", "key", doc.ID, "error", err)
			continue
		}
		distance, _ := strconv.ParseFloat(doc.Fields["score"], 64)
		sim := 1 - distance
		if sim < floor {
			continue
		}
		hits = append(hits, Hit{Memory: &m, Similarity: sim})
	}
	return hits, nil
}

func (s *RedisStore) ScanByEntity(ctx context.Context, entity string) ([]string, error) {
	ids, err := s.client.SMembers(ctx, keyEntityAccess+entity).Result()
	if err != nil {
		return nil, wrapRedisErr("scan by entity", err)
	}
	return ids, nil
}

func (s *RedisStore) Recent(ctx context.Context, limit int) ([]*memory.Memory, error) {
	if limit <= 0 {
		return nil, nil
	}
	res, err := s.client.FTSearchWithArgs(ctx, s.index, "*", &redis.FTSearchOptions{
		SortBy:         []redis.FTSearchSortBy{{FieldName: "timestamp", Desc: true}},
		DialectVersion: 2,
		Limit:          limit,
	}).Result()
	if isMissingIndex(err) {
		if err := s.createIndex(ctx); err != nil {
			return nil, err
		}
		return nil, nil
	}
	if err != nil {
		return nil, wrapRedisErr("recent", err)
	}
	out := make([]*memory.Memory, 0, len(res.Docs))
	for _, doc := range res.Docs {
		var m memory.Memory
		if err := json.Unmarshal([]byte(doc.Fields["memory_json"]), &m); err != nil {
			continue
		}
		out = append(out, &m)
	}
	return out, nil
}

func (s *RedisStore) TouchAccess(ctx context.Context, id string) error {
	m, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	m.AccessCount++
	now := memory.Now()
	m.LastAccessed = &now
	return s.Update(ctx, m)
}

func (s *RedisStore) Annotate(ctx context.Context, id string, a *memory.Annotation) error {
	exists, err := s.Exists(ctx, id)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%w: memory %s", memory.ErrNotFound, id)
	}
	body, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("%w: marshal annotation: %v", memory.ErrStorage, err)
	}
	if err := s.client.RPush(ctx, keyAnnotations+id, body).Err(); err != nil {
		return wrapRedisErr("annotate", err)
	}
	return nil
}

func (s *RedisStore) Annotations(ctx context.Context, id string) ([]*memory.Annotation, error) {
	exists, err := s.Exists(ctx, id)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("%w: memory %s", memory.ErrNotFound, id)
	}
	rows, err := s.client.LRange(ctx, keyAnnotations+id, 0, -1).Result()
	if err != nil {
		return nil, wrapRedisErr("annotations", err)
	}
	out := make([]*memory.Annotation, 0, len(rows))
	for _, row := range rows {
		var a memory.Annotation
		if err := json.Unmarshal([]byte(row), &a); err != nil {
			continue
		}
		out = append(out, &a)
	}
	return out, nil
}

func (s *RedisStore) Exists(ctx context.Context, id string) (bool, error) {
	n, err := s.client.Exists(ctx, keyMemoryPrefix+id).Result()
	if err != nil {
		return false, wrapRedisErr("exists", err)
	}
	return n > 0, nil
}

func (s *RedisStore) Situation(ctx context.Context, id string) (*memory.Situation, error) {
	fields, err := s.client.HGetAll(ctx, keySituationPrefix+id).Result()
	if err != nil {
		return nil, wrapRedisErr("situation", err)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: situation %s", memory.ErrNotFound, id)
	}
	memberIDs, err := s.client.SMembers(ctx, keySituationPrefix+id+":memories").Result()
	if err != nil {
		return nil, wrapRedisErr("situation members", err)
	}

	sit := &memory.Situation{
		SituationID:   fields["situation_id"],
		SituationType: memory.SituationType(fields["situation_type"]),
		Status:        memory.SituationStatus(fields["status"]),
		MemoryIDs:     memberIDs,
	}
	if ms, err := strconv.ParseInt(fields["created_at"], 10, 64); err == nil {
		sit.CreatedAt = memory.FromUnixMilli(ms)
	}
	if ms, err := strconv.ParseInt(fields["last_activity"], 10, 64); err == nil {
		sit.LastActivity = memory.FromUnixMilli(ms)
	}

	// Participants are derived from the member memories' witness sets.
	seen := make(map[string]bool)
	pipe := s.client.Pipeline()
	cmds := make([]*redis.StringCmd, len(memberIDs))
	for i, mid := range memberIDs {
		cmds[i] = pipe.HGet(ctx, keyMemoryPrefix+mid, "witnessed_by")
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, wrapRedisErr("situation participants", err)
	}
	for _, cmd := range cmds {
		val, err := cmd.Result()
		if err != nil {
			continue
		}
		for _, w := range strings.Split(val, ",") {
			if w != "" && !seen[w] {
				seen[w] = true
				sit.Participants = append(sit.Participants, w)
			}
		}
	}
	return sit, nil
}

func (s *RedisStore) SituationsFor(ctx context.Context, entity string) ([]*memory.Situation, error) {
	memIDs, err := s.ScanByEntity(ctx, entity)
	if err != nil {
		return nil, err
	}
	pipe := s.client.Pipeline()
	cmds := make([]*redis.StringCmd, len(memIDs))
	for i, mid := range memIDs {
		cmds[i] = pipe.HGet(ctx, keyMemoryPrefix+mid, "situation_id")
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, wrapRedisErr("situations for", err)
	}
	seen := make(map[string]bool)
	var out []*memory.Situation
	for _, cmd := range cmds {
		sid, err := cmd.Result()
		if err != nil || sid == "" || seen[sid] {
			continue
		}
		seen[sid] = true
		sit, err := s.Situation(ctx, sid)
		if err != nil {
			continue
		}
		out = append(out, sit)
	}
	// Newest activity first.
	for i := 0; i < len(out); i++ {
		for j := i + 1; j < len(out); j++ {
			if out[j].LastActivity.After(out[i].LastActivity.Time) {
				out[i], out[j] = out[j], out[i]
			}
		}
	}
	return out, nil
}

func (s *RedisStore) ExpiredBefore(ctx context.Context, now memory.Timestamp) ([]string, error) {
	query := fmt.Sprintf("@expires_at:[1 %d]", now.UnixMilli())
	res, err := s.client.FTSearchWithArgs(ctx, s.index, query, &redis.FTSearchOptions{
		DialectVersion: 2,
		Limit:          10000,
	}).Result()
	if err != nil {
		return nil, wrapRedisErr("expired before", err)
	}
	ids := make([]string, 0, len(res.Docs))
	for _, doc := range res.Docs {
		ids = append(ids, strings.TrimPrefix(doc.ID, keyMemoryPrefix))
	}
	return ids, nil
}

func (s *RedisStore) ScanAll(ctx context.Context, fn func(*memory.Memory) error) error {
	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, keyMemoryPrefix+"*", 500).Result()
		if err != nil {
			return wrapRedisErr("scan all", err)
		}
		for _, key := range keys {
			body, err := s.client.HGet(ctx, key, "memory_json").Result()
			if errors.Is(err, redis.Nil) {
				continue
			}
			if err != nil {
				return wrapRedisErr("scan all", err)
			}
			var m memory.Memory
			if err := json.Unmarshal([]byte(body), &m); err != nil {
				continue
			}
			if err := fn(&m); err != nil {
				return err
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

func (s *RedisStore) FlushMemories(ctx context.Context) (int64, error) {
	patterns := []string{
		keyMemoryPrefix + "*",
		keyEntityAccess + "*",
		keySituationPrefix + "*",
		keyAnnotations + "*",
		keyCausality + "*",
	}
	var deleted int64
	for _, pattern := range patterns {
		var cursor uint64
		for {
			keys, next, err := s.client.Scan(ctx, cursor, pattern, 500).Result()
			if err != nil {
				return deleted, wrapRedisErr("flush", err)
			}
			if len(keys) > 0 {
				n, err := s.client.Del(ctx, keys...).Result()
				if err != nil {
					return deleted, wrapRedisErr("flush", err)
				}
				deleted += n
			}
			cursor = next
			if cursor == 0 {
				break
			}
		}
	}
	return deleted, nil
}

func (s *RedisStore) Counts(ctx context.Context) (Counts, error) {
	var counts Counts
	count := func(pattern string, accept func(key string) bool, tally func(key string) error) error {
		var cursor uint64
		for {
			keys, next, err := s.client.Scan(ctx, cursor, pattern, 500).Result()
			if err != nil {
				return wrapRedisErr("counts", err)
			}
			for _, key := range keys {
				if accept != nil && !accept(key) {
					continue
				}
				if err := tally(key); err != nil {
					return err
				}
			}
			cursor = next
			if cursor == 0 {
				return nil
			}
		}
	}
	if err := count(keyMemoryPrefix+"*", nil, func(string) error {
		counts.Memories++
		return nil
	}); err != nil {
		return counts, err
	}
	if err := count(keySituationPrefix+"*", func(key string) bool {
		return !strings.HasSuffix(key, ":memories")
	}, func(string) error {
		counts.Situations++
		return nil
	}); err != nil {
		return counts, err
	}
	if err := count(keyAnnotations+"*", nil, func(key string) error {
		n, err := s.client.LLen(ctx, key).Result()
		if err != nil {
			return wrapRedisErr("counts", err)
		}
		counts.Annotations += n
		return nil
	}); err != nil {
		return counts, err
	}
	return counts, nil
}

func isMissingIndex(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "no such index") || strings.Contains(msg, "unknown index")
}

func wrapRedisErr(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s: %v", memory.ErrTimeout, op, err)
	}
	return fmt.Errorf("%w: %s: %v", memory.ErrStorage, op, err)
}
