// Package mcpserver exposes the memory engine as Model Context Protocol
// tools over streamable HTTP. Six tools map onto the engine and curation
// operations; the unified memory tool routes natural-language requests.
package mcpserver

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/entrained/engram/pkg/embedder"
	"github.com/entrained/engram/pkg/engine"
	"github.com/entrained/engram/pkg/memory"
)

const defaultEntity = "default_agent"

// MCPServer owns the tool registrations.
type MCPServer struct {
	engine   *engine.Engine
	embedder embedder.Embedder
	mcp      *server.MCPServer
}

// New registers the six tools over the engine.
func New(e *engine.Engine, emb embedder.Embedder, version string) *MCPServer {
	s := &MCPServer{
		engine:   e,
		embedder: emb,
	}
	m := server.NewMCPServer("engram-memory", version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
	)

	m.AddTool(mcp.NewTool("store_memory",
		mcp.WithDescription("Store a new memory with semantic indexing"),
		mcp.WithString("content", mcp.Required(), mcp.Description("The information to remember")),
		mcp.WithString("entity_id", mcp.Description("Entity the memory belongs to")),
		mcp.WithString("memory_type", mcp.Description("fact, preference, event, solution, insight, decision, pattern, or conversation")),
	), s.handleStore)

	m.AddTool(mcp.NewTool("retrieve_memories",
		mcp.WithDescription("Search memories by semantic similarity"),
		mcp.WithString("query", mcp.Required(), mcp.Description("What to search for")),
		mcp.WithString("entity_id", mcp.Description("Entity whose memories to search")),
		mcp.WithNumber("top_k", mcp.Description("Maximum results, default 5")),
		mcp.WithNumber("similarity_threshold", mcp.Description("Minimum similarity, default 0.3")),
	), s.handleRetrieve)

	m.AddTool(mcp.NewTool("get_memory",
		mcp.WithDescription("Fetch one memory by its ID"),
		mcp.WithString("memory_id", mcp.Required(), mcp.Description("The mem-... identifier")),
		mcp.WithString("entity_id", mcp.Description("Requesting entity for the witness check")),
	), s.handleGet)

	m.AddTool(mcp.NewTool("list_recent_memories",
		mcp.WithDescription("List the most recently stored memories"),
		mcp.WithNumber("limit", mcp.Description("Maximum results, default 10")),
	), s.handleListRecent)

	m.AddTool(mcp.NewTool("get_memory_stats",
		mcp.WithDescription("Report stored memory counts"),
	), s.handleStats)

	m.AddTool(mcp.NewTool("memory",
		mcp.WithDescription("Unified memory tool: say what to remember or ask what is known"),
		mcp.WithString("request", mcp.Required(), mcp.Description("Natural-language store or retrieve request")),
		mcp.WithString("entity_id", mcp.Description("Entity the request acts for")),
	), s.handleUnified)

	s.mcp = m
	return s
}

// HTTPHandler returns the stateless streamable HTTP transport for mounting
// at /mcp/.
func (s *MCPServer) HTTPHandler() http.Handler {
	return server.NewStreamableHTTPServer(s.mcp, server.WithStateLess(true))
}

func (s *MCPServer) handleStore(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	content, err := req.RequireString("content")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	entity := req.GetString("entity_id", defaultEntity)
	memoryType := memory.MemoryType(req.GetString("memory_type", string(memory.TypeFact)))

	vec, err := s.embedder.Embed(ctx, content)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("embedding failed: %v", err)), nil
	}
	res, err := s.engine.StoreMulti(ctx, &engine.StoreMultiRequest{
		WitnessedBy:   []string{entity},
		SituationType: memory.SituationConversation,
		Content:       memory.Content{Text: content},
		PrimaryVector: vec,
		Metadata: memory.Metadata{
			MemoryType: memoryType,
			Confidence: 0.9,
		},
	})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("store failed: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("✅ Memory stored with ID %s", res.MemoryID)), nil
}

func (s *MCPServer) handleRetrieve(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	entity := req.GetString("entity_id", defaultEntity)
	topK := req.GetInt("top_k", 5)
	threshold := req.GetFloat("similarity_threshold", 0.3)

	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("embedding failed: %v", err)), nil
	}
	res, err := s.engine.RetrieveMulti(ctx, &engine.RetrieveRequest{
		RequestingEntity: entity,
		ResonanceVectors: []engine.ResonanceVector{{Vector: vec, Weight: 1}},
		Retrieval: engine.RetrievalParams{
			TopK:                topK,
			SimilarityThreshold: threshold,
		},
	})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("retrieval failed: %v", err)), nil
	}
	if len(res.Memories) == 0 {
		return mcp.NewToolResultText("No matching memories found."), nil
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Found %d memories:\n", len(res.Memories))
	for i, m := range res.Memories {
		fmt.Fprintf(&b, "%d. [%s] (similarity %.2f) %s\n", i+1, m.MemoryID, m.SimilarityScore, m.ContentPreview)
	}
	return mcp.NewToolResultText(b.String()), nil
}

func (s *MCPServer) handleGet(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("memory_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	m, err := s.engine.Get(ctx, id, req.GetString("entity_id", defaultEntity))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("get failed: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Memory %s [%s]\n%s\nWitnessed by: %s",
		m.ID, m.Metadata.MemoryType, m.Content.Text, strings.Join(m.WitnessedBy, ", "))), nil
}

func (s *MCPServer) handleListRecent(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	limit := req.GetInt("limit", 10)
	memories, err := s.engine.Recent(ctx, limit)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("list failed: %v", err)), nil
	}
	if len(memories) == 0 {
		return mcp.NewToolResultText("No memories stored yet."), nil
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Most recent %d memories:\n", len(memories))
	for i, m := range memories {
		fmt.Fprintf(&b, "%d. [%s] %s: %s\n", i+1, m.ID,
			m.Metadata.Timestamp.Format("2006-01-02 15:04"), m.ContentPreview(80))
	}
	return mcp.NewToolResultText(b.String()), nil
}

func (s *MCPServer) handleStats(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	counts, err := s.engine.Counts(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("stats failed: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf(
		"Memory statistics:\n- memories: %d\n- situations: %d\n- annotations: %d",
		counts.Memories, counts.Situations, counts.Annotations)), nil
}

var storeKeywords = []string{"remember", "save", "store", "note that", "keep in mind"}
var retrieveKeywords = []string{"what do", "recall", "find", "search", "do you know", "have we", "did we"}

// classifyRequest decides whether a natural-language request is a store or
// a retrieve. Ambiguous requests (both or neither keyword set matched) get
// a disambiguation answer rather than a guess.
func classifyRequest(request string) string {
	lower := strings.ToLower(request)
	var hasStore, hasRetrieve bool
	for _, kw := range storeKeywords {
		if strings.Contains(lower, kw) {
			hasStore = true
			break
		}
	}
	for _, kw := range retrieveKeywords {
		if strings.Contains(lower, kw) {
			hasRetrieve = true
			break
		}
	}
	switch {
	case hasStore && !hasRetrieve:
		return "store"
	case hasRetrieve && !hasStore:
		return "retrieve"
	default:
		return "ambiguous"
	}
}

const disambiguation = "I couldn't tell whether you want to store or retrieve a memory. " +
	"To store, say something like \"Remember that ...\". " +
	"To retrieve, ask something like \"What do I know about ...\"."

func (s *MCPServer) handleUnified(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	request, err := req.RequireString("request")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	switch classifyRequest(request) {
	case "store":
		req.Params.Arguments = map[string]interface{}{
			"content":   request,
			"entity_id": req.GetString("entity_id", defaultEntity),
		}
		return s.handleStore(ctx, req)
	case "retrieve":
		req.Params.Arguments = map[string]interface{}{
			"query":     request,
			"entity_id": req.GetString("entity_id", defaultEntity),
		}
		return s.handleRetrieve(ctx, req)
	default:
		return mcp.NewToolResultText(disambiguation), nil
	}
}
