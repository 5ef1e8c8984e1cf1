package mcp

import (
	"context"
	"net/http"

	"github.com/medassist/medrag/internal/index"
	"github.com/medassist/medrag/internal/rag"
	"github.com/medassist/medrag/internal/retriever"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Server wraps the MCP server with dependencies.
type Server struct {
	server       *mcp.Server
	orchestrator *rag.Orchestrator
	index        index.Store
}

// Config holds server dependencies.
type Config struct {
	Orchestrator *rag.Orchestrator
	Retriever    *retriever.Retriever
	Index        index.Store
	// Backend names the index backend ("local" or "qdrant") for status
	// reporting.
	Backend string
}

// NewServer creates a configured MCP server with tools registered.
func NewServer(cfg *Config) *Server {
	impl := &mcp.Implementation{
		Name:    "medrag-server",
		Version: "v0.1.0",
	}

	server := mcp.NewServer(impl, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "ask",
		Description: "Answer a health question from the indexed medical knowledge base. Returns a generated answer with source citations, or an explicit insufficient-context response when nothing relevant is indexed.",
	}, makeAskHandler(cfg.Orchestrator))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "search",
		Description: "Semantic search over indexed medical conditions. Returns matching documents with the best-scoring snippet from each; no answer is generated.",
	}, makeSearchHandler(cfg.Retriever))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "index_status",
		Description: "Report the vector index size, query cache occupancy and backend readiness.",
	}, makeStatusHandler(cfg.Orchestrator, cfg.Index, cfg.Backend))

	return &Server{
		server:       server,
		orchestrator: cfg.Orchestrator,
		index:        cfg.Index,
	}
}

// Run starts the server with stdio transport (blocks until client disconnects).
func (s *Server) Run(ctx context.Context) error {
	return s.server.Run(ctx, &mcp.StdioTransport{})
}

// HTTPHandler exposes the same tools over MCP Streamable HTTP, for
// mounting on a mux path such as "/mcp". Stateless mode skips session
// management; the tools here never issue server-to-client requests, so
// either setting works.
func (s *Server) HTTPHandler(stateless bool) http.Handler {
	return mcp.NewStreamableHTTPHandler(func(r *http.Request) *mcp.Server {
		return s.server
	}, &mcp.StreamableHTTPOptions{Stateless: stateless})
}
