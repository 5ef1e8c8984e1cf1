package mcp

import (
	"context"
	"errors"
	"fmt"

	"github.com/medassist/medrag/internal/index"
	"github.com/medassist/medrag/internal/rag"
	"github.com/medassist/medrag/internal/retriever"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

const defaultSearchResults = 5

// makeAskHandler creates the ask tool handler. The orchestrator owns the
// whole flow: cache lookup, retrieval, the insufficient-context
// short-circuit and generation.
func makeAskHandler(orc *rag.Orchestrator) func(
	context.Context, *mcp.CallToolRequest, AskInput,
) (*mcp.CallToolResult, AskOutput, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input AskInput) (
		*mcp.CallToolResult, AskOutput, error,
	) {
		answer, err := orc.Ask(ctx, input.Question)
		if err != nil {
			if errors.Is(err, rag.ErrEmptyQuery) {
				return nil, AskOutput{}, fmt.Errorf("question must not be empty")
			}
			return nil, AskOutput{}, fmt.Errorf("ask failed: %w", err)
		}

		citations := answer.Citations
		if citations == nil {
			citations = []rag.Citation{}
		}
		return nil, AskOutput{
			Answer:       answer.Text,
			Citations:    citations,
			Insufficient: answer.Insufficient,
		}, nil
	}
}

// makeSearchHandler creates the search tool handler. Retrieval already
// collapses chunk hits to one result per parent document and filters by
// the relevance threshold; the handler only shapes the output.
func makeSearchHandler(ret *retriever.Retriever) func(
	context.Context, *mcp.CallToolRequest, SearchInput,
) (*mcp.CallToolResult, SearchOutput, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input SearchInput) (
		*mcp.CallToolResult, SearchOutput, error,
	) {
		maxResults := input.MaxResults
		if maxResults <= 0 {
			maxResults = defaultSearchResults
		}

		matches, err := ret.Retrieve(ctx, input.Query, maxResults)
		if err != nil {
			return nil, SearchOutput{}, fmt.Errorf("search failed: %w", err)
		}

		results := make([]SearchResult, 0, len(matches))
		for _, m := range matches {
			results = append(results, SearchResult{
				Title:    m.Document.Title,
				URL:      m.Document.URL,
				Category: m.Document.Category,
				Field:    m.Field,
				Snippet:  m.Snippet,
				Score:    m.Score,
			})
		}

		if len(results) == 0 {
			return nil, SearchOutput{
				Results: []SearchResult{},
				Message: "No matching conditions found. Try broader search terms.",
			}, nil
		}
		return nil, SearchOutput{Results: results}, nil
	}
}

// makeStatusHandler creates the index_status tool handler.
func makeStatusHandler(orc *rag.Orchestrator, idx index.Store, backend string) func(
	context.Context, *mcp.CallToolRequest, StatusInput,
) (*mcp.CallToolResult, StatusOutput, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input StatusInput) (
		*mcp.CallToolResult, StatusOutput, error,
	) {
		entries, err := idx.Count(ctx)
		if err != nil {
			return nil, StatusOutput{Backend: backend}, fmt.Errorf("index unavailable: %w", err)
		}

		return nil, StatusOutput{
			Entries:       entries,
			CachedQueries: orc.CacheLen(),
			Backend:       backend,
			Ready:         entries > 0,
		}, nil
	}
}
