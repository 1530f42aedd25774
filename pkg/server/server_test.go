package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrained/engram/pkg/auth"
	"github.com/entrained/engram/pkg/curation"
	"github.com/entrained/engram/pkg/curator"
	"github.com/entrained/engram/pkg/embedder"
	"github.com/entrained/engram/pkg/engine"
	"github.com/entrained/engram/pkg/store"
)

const testDims = 4

type testEnv struct {
	handler http.Handler
	engine  *engine.Engine
	curator *curator.Fake
}

func newTestEnv(t *testing.T, opts func(*Options)) *testEnv {
	t.Helper()
	eng := engine.New(store.NewMemStore(), testDims)
	cur := &curator.Fake{}
	pipe := curation.New(eng, embedder.NewFake(testDims), cur)

	o := Options{
		Engine:   eng,
		Pipeline: pipe,
		Version:  "test",
	}
	if opts != nil {
		opts(&o)
	}
	srv := New(o)
	return &testEnv{handler: srv.Handler(), engine: eng, curator: cur}
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func vec(first float32) []float32 {
	v := make([]float32, testDims)
	v[0] = first
	return v
}

func storeBody(text, entity string) map[string]interface{} {
	return map[string]interface{}{
		"witnessed_by":   []string{entity},
		"situation_type": "conversation",
		"content":        map[string]string{"text": text},
		"primary_vector": vec(1),
		"metadata":       map[string]interface{}{"memory_type": "fact"},
	}
}

func TestHealthOpen(t *testing.T) {
	env := newTestEnv(t, nil)
	rec := env.do(t, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ok"`)
}

func TestMetricsOpen(t *testing.T) {
	env := newTestEnv(t, nil)
	rec := env.do(t, http.MethodGet, "/metrics", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestStoreAndGetRoundTrip(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodPost, "/cam/multi/store", storeBody("the build is green", "agent-alpha"), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var stored struct {
		MemoryID    string `json:"memory_id"`
		SituationID string `json:"situation_id"`
		Status      string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stored))
	assert.Equal(t, "stored", stored.Status)
	assert.NotEmpty(t, stored.SituationID)

	rec = env.do(t, http.MethodGet,
		fmt.Sprintf("/cam/multi/memory/%s?requesting_entity=agent-alpha", stored.MemoryID), nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "the build is green")

	// Non-witness gets 404, not 403.
	rec = env.do(t, http.MethodGet,
		fmt.Sprintf("/cam/multi/memory/%s?requesting_entity=agent-beta", stored.MemoryID), nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetMemoryMultiRequiresEntity(t *testing.T) {
	env := newTestEnv(t, nil)
	rec := env.do(t, http.MethodGet, "/cam/multi/memory/mem-000000000000", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "requesting_entity")
}

func TestRetrieveMulti(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodPost, "/cam/multi/store", storeBody("standup moved to 9am", "agent-alpha"), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodPost, "/cam/multi/retrieve", map[string]interface{}{
		"requesting_entity": "agent-alpha",
		"resonance_vectors": []map[string]interface{}{{"vector": vec(1), "weight": 1}},
		"retrieval":         map[string]interface{}{"top_k": 5},
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var res engine.RetrieveResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	require.Len(t, res.Memories, 1)
	assert.Contains(t, res.Memories[0].ContentPreview, "standup")
	require.NotNil(t, res.EntityVerification)
	assert.Equal(t, "agent-alpha", res.EntityVerification.RequestingEntity)
}

func TestRetrieveMultiRequiresEntity(t *testing.T) {
	env := newTestEnv(t, nil)
	rec := env.do(t, http.MethodPost, "/cam/multi/retrieve", map[string]interface{}{
		"resonance_vectors": []map[string]interface{}{{"vector": vec(1), "weight": 1}},
		"retrieval":         map[string]interface{}{"top_k": 5},
	}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStoreSingleRequiresAgentID(t *testing.T) {
	env := newTestEnv(t, nil)
	rec := env.do(t, http.MethodPost, "/cam/store", map[string]interface{}{
		"content":        map[string]string{"text": "orphan"},
		"primary_vector": vec(1),
		"metadata":       map[string]interface{}{"memory_type": "fact"},
	}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "agent_id")
}

func TestMalformedBody(t *testing.T) {
	env := newTestEnv(t, nil)
	req := httptest.NewRequest(http.MethodPost, "/cam/multi/store", bytes.NewBufferString("{not json"))
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAnnotateFlow(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodPost, "/cam/multi/store", storeBody("annotated memory", "agent-alpha"), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var stored struct {
		MemoryID string `json:"memory_id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stored))

	annotate := func(entity string) *httptest.ResponseRecorder {
		return env.do(t, http.MethodPost, "/cam/memory/"+stored.MemoryID+"/annotate", map[string]interface{}{
			"annotator_id": entity,
			"type":         "correction",
			"content":      "actually it was Tuesday",
		}, nil)
	}

	assert.Equal(t, http.StatusForbidden, annotate("agent-beta").Code)
	assert.Equal(t, http.StatusOK, annotate("agent-alpha").Code)

	rec = env.do(t, http.MethodGet, "/cam/memory/"+stored.MemoryID+"/annotations?requesting_entity=agent-alpha", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Tuesday")
}

func TestSituationsEndpoint(t *testing.T) {
	env := newTestEnv(t, nil)
	rec := env.do(t, http.MethodPost, "/cam/multi/store", storeBody("meeting notes", "agent-alpha"), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/cam/multi/situations/agent-alpha", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"total":1`)
}

func TestCuratedStore(t *testing.T) {
	env := newTestEnv(t, nil)
	env.curator.Analysis = &curator.Analysis{
		ShouldStore: true,
		Observations: []curator.Observation{{
			MemoryType:      "facts",
			Content:         "user lives in Berlin",
			ConfidenceScore: 0.9,
			ContextualValue: 0.8,
		}},
	}
	rec := env.do(t, http.MethodPost, "/cam/curated/store", map[string]interface{}{
		"user_input":     "I live in Berlin",
		"agent_response": "Noted!",
		"entity_id":      "user-1",
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), "user lives in Berlin")
}

func TestAPIKeyEnforced(t *testing.T) {
	env := newTestEnv(t, func(o *Options) {
		o.EnableAPIAuth = true
		o.APISecretKey = "sekrit"
	})

	rec := env.do(t, http.MethodGet, "/cam/multi/situations/agent-alpha", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(t, http.MethodGet, "/cam/multi/situations/agent-alpha", nil,
		map[string]string{"X-API-Key": "sekrit"})
	assert.Equal(t, http.StatusOK, rec.Code)

	// Health stays open.
	rec = env.do(t, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimit429(t *testing.T) {
	env := newTestEnv(t, func(o *Options) {
		o.Limiter = auth.NewLimiter(auth.LimiterConfig{
			PerMinute:     2,
			PerHour:       100,
			BlockDuration: time.Hour,
		})
	})

	for i := 0; i < 2; i++ {
		rec := env.do(t, http.MethodGet, "/cam/multi/situations/agent-alpha", nil, nil)
		require.Equal(t, http.StatusOK, rec.Code)
	}
	rec := env.do(t, http.MethodGet, "/cam/multi/situations/agent-alpha", nil, nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assert.Contains(t, rec.Body.String(), "retry_after_seconds")
}

func TestAdminBasicAuth(t *testing.T) {
	env := newTestEnv(t, func(o *Options) {
		o.AdminUsername = "admin"
		o.AdminPassword = "hunter2"
	})

	rec := env.do(t, http.MethodGet, "/api/v1/admin/status", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/admin/status", nil)
	req.SetBasicAuth("admin", "hunter2")
	out := httptest.NewRecorder()
	env.handler.ServeHTTP(out, req)
	assert.Equal(t, http.StatusOK, out.Code)
	assert.Contains(t, out.Body.String(), `"version":"test"`)
}

func TestAdminFlush(t *testing.T) {
	env := newTestEnv(t, nil)
	rec := env.do(t, http.MethodPost, "/cam/multi/store", storeBody("to be flushed", "agent-alpha"), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/v1/admin/flush/memories", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"flushed"`)

	rec = env.do(t, http.MethodGet, "/cam/multi/situations/agent-alpha", nil, nil)
	assert.Contains(t, rec.Body.String(), `"total":0`)
}

func TestLegacyEndpointsHideMultiEntityMemories(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodPost, "/cam/multi/store", storeBody("private consultation", "agent-alpha"), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var stored struct {
		MemoryID string `json:"memory_id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stored))

	rec = env.do(t, http.MethodGet, "/cam/memory/"+stored.MemoryID, nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodGet, "/cam/memory/"+stored.MemoryID+"/annotations", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodPost, "/cam/retrieve", map[string]interface{}{
		"resonance_vectors": []map[string]interface{}{{"vector": vec(1), "weight": 1}},
		"retrieval":         map[string]interface{}{"top_k": 10},
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "private consultation")
	assert.NotContains(t, rec.Body.String(), stored.MemoryID)
}

func TestInjectionRejected(t *testing.T) {
	env := newTestEnv(t, nil)
	body := storeBody("<script>alert(1)</script>", "agent-alpha")
	rec := env.do(t, http.MethodPost, "/cam/multi/store", body, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
