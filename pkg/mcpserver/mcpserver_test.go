package mcpserver

import (
	"context"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrained/engram/pkg/embedder"
	"github.com/entrained/engram/pkg/engine"
	"github.com/entrained/engram/pkg/store"
)

func newTestServer(t *testing.T) (*MCPServer, *embedder.Fake) {
	t.Helper()
	emb := embedder.NewFake(8)
	eng := engine.New(store.NewMemStore(), 8)
	return New(eng, emb, "test"), emb
}

func toolRequest(args map[string]interface{}) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Arguments = args
	return req
}

func textContent(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, res.Content)
	tc, ok := mcp.AsTextContent(res.Content[0])
	require.True(t, ok)
	return tc.Text
}

func TestClassifyRequest(t *testing.T) {
	tests := []struct {
		request string
		want    string
	}{
		{"Remember that Alice prefers tea", "store"},
		{"Please save this for later", "store"},
		{"note that the deploy is on Friday", "store"},
		{"keep in mind the API rotates keys monthly", "store"},
		{"What do I know about Alice?", "retrieve"},
		{"Can you recall our last conversation?", "retrieve"},
		{"search for anything about kubernetes", "retrieve"},
		{"do you know Bob's birthday", "retrieve"},
		{"have we discussed pricing", "retrieve"},
		{"hello there", "ambiguous"},
		{"remember to search for that file", "ambiguous"},
	}
	for _, tt := range tests {
		t.Run(tt.request, func(t *testing.T) {
			assert.Equal(t, tt.want, classifyRequest(tt.request))
		})
	}
}

func TestStoreTool(t *testing.T) {
	s, _ := newTestServer(t)
	res, err := s.handleStore(context.Background(), toolRequest(map[string]interface{}{
		"content":   "Alice prefers green tea",
		"entity_id": "agent-alpha",
	}))
	require.NoError(t, err)
	require.False(t, res.IsError)

	text := textContent(t, res)
	assert.Contains(t, text, "✅")
	assert.Contains(t, text, "mem-")
}

func TestStoreToolRequiresContent(t *testing.T) {
	s, _ := newTestServer(t)
	res, err := s.handleStore(context.Background(), toolRequest(map[string]interface{}{}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestRetrieveToolFindsStoredMemory(t *testing.T) {
	s, _ := newTestServer(t)
	ctx := context.Background()

	stored, err := s.handleStore(ctx, toolRequest(map[string]interface{}{
		"content":   "the staging cluster lives in eu-west-1",
		"entity_id": "agent-alpha",
	}))
	require.NoError(t, err)
	require.False(t, stored.IsError)

	res, err := s.handleRetrieve(ctx, toolRequest(map[string]interface{}{
		"query":     "the staging cluster lives in eu-west-1",
		"entity_id": "agent-alpha",
	}))
	require.NoError(t, err)
	require.False(t, res.IsError)
	assert.Contains(t, textContent(t, res), "staging cluster")
}

func TestRetrieveToolScopedToEntity(t *testing.T) {
	s, _ := newTestServer(t)
	ctx := context.Background()

	_, err := s.handleStore(ctx, toolRequest(map[string]interface{}{
		"content":   "agent alpha's private note",
		"entity_id": "agent-alpha",
	}))
	require.NoError(t, err)

	res, err := s.handleRetrieve(ctx, toolRequest(map[string]interface{}{
		"query":     "agent alpha's private note",
		"entity_id": "agent-beta",
	}))
	require.NoError(t, err)
	assert.Equal(t, "No matching memories found.", textContent(t, res))
}

func TestGetTool(t *testing.T) {
	s, _ := newTestServer(t)
	ctx := context.Background()

	stored, err := s.handleStore(ctx, toolRequest(map[string]interface{}{
		"content":   "Bob works on infrastructure",
		"entity_id": "agent-alpha",
	}))
	require.NoError(t, err)
	text := textContent(t, stored)
	id := text[strings.Index(text, "mem-"):]

	res, err := s.handleGet(ctx, toolRequest(map[string]interface{}{
		"memory_id": id,
		"entity_id": "agent-alpha",
	}))
	require.NoError(t, err)
	require.False(t, res.IsError)
	assert.Contains(t, textContent(t, res), "Bob works on infrastructure")

	// Non-witness sees a not-found, never a denial.
	res, err = s.handleGet(ctx, toolRequest(map[string]interface{}{
		"memory_id": id,
		"entity_id": "agent-beta",
	}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, textContent(t, res), "not found")
}

func TestListRecentAndStats(t *testing.T) {
	s, _ := newTestServer(t)
	ctx := context.Background()

	for _, content := range []string{"first note", "second note"} {
		_, err := s.handleStore(ctx, toolRequest(map[string]interface{}{
			"content": content,
		}))
		require.NoError(t, err)
	}

	recent, err := s.handleListRecent(ctx, toolRequest(map[string]interface{}{}))
	require.NoError(t, err)
	text := textContent(t, recent)
	assert.Contains(t, text, "first note")
	assert.Contains(t, text, "second note")

	stats, err := s.handleStats(ctx, toolRequest(map[string]interface{}{}))
	require.NoError(t, err)
	assert.Contains(t, textContent(t, stats), "memories: 2")
}

func TestUnifiedToolRoutesStore(t *testing.T) {
	s, _ := newTestServer(t)
	res, err := s.handleUnified(context.Background(), toolRequest(map[string]interface{}{
		"request":   "Remember that the retro moved to Thursday",
		"entity_id": "agent-alpha",
	}))
	require.NoError(t, err)
	require.False(t, res.IsError)
	assert.Contains(t, textContent(t, res), "✅")
}

func TestUnifiedToolRoutesRetrieve(t *testing.T) {
	s, emb := newTestServer(t)
	ctx := context.Background()

	// Pin both texts to the same vector so the query resonates with the
	// stored memory regardless of the fake's hashing.
	vec := make([]float32, 8)
	vec[0] = 1
	emb.Fixed["Remember that the retro moved to Thursday"] = vec
	emb.Fixed["What do I know about the retro moved to Thursday"] = vec

	_, err := s.handleUnified(ctx, toolRequest(map[string]interface{}{
		"request":   "Remember that the retro moved to Thursday",
		"entity_id": "agent-alpha",
	}))
	require.NoError(t, err)

	res, err := s.handleUnified(ctx, toolRequest(map[string]interface{}{
		"request":   "What do I know about the retro moved to Thursday",
		"entity_id": "agent-alpha",
	}))
	require.NoError(t, err)
	require.False(t, res.IsError)
	assert.Contains(t, textContent(t, res), "retro")
}

func TestUnifiedToolAmbiguous(t *testing.T) {
	s, _ := newTestServer(t)
	res, err := s.handleUnified(context.Background(), toolRequest(map[string]interface{}{
		"request": "the weather is nice today",
	}))
	require.NoError(t, err)
	require.False(t, res.IsError)
	assert.Contains(t, textContent(t, res), "store or retrieve")
}
