// Package mcp exposes the RAG orchestrator over the Model Context
// Protocol, plus a health endpoint and landing page for HTTP deployments.
package mcp

import "github.com/medassist/medrag/internal/rag"

// AskInput defines the input parameters for the ask tool.
type AskInput struct {
	// Question is the free-text health question.
	Question string `json:"question" jsonschema:"required,description=The health question to answer from the indexed knowledge base"`
}

// AskOutput contains the answer with source citations.
type AskOutput struct {
	// Answer is the generated answer text.
	Answer string `json:"answer"`
	// Citations lists the source documents backing the answer, most
	// relevant first. Empty for insufficient-context answers.
	Citations []rag.Citation `json:"citations"`
	// Insufficient is true when the knowledge base held nothing
	// sufficiently relevant and no generation was attempted.
	Insufficient bool `json:"insufficient"`
}

// SearchInput defines the input parameters for the search tool.
type SearchInput struct {
	// Query is the semantic search query.
	Query string `json:"query" jsonschema:"required,description=The semantic search query for finding relevant conditions"`
	// MaxResults is the maximum number of documents to return.
	MaxResults int `json:"max_results,omitempty" jsonschema:"minimum=1,maximum=20,default=5,description=Maximum number of documents to return"`
}

// SearchOutput contains ranked source documents.
type SearchOutput struct {
	Results []SearchResult `json:"results"`
	// Message provides context when no documents matched.
	Message string `json:"message,omitempty"`
}

// SearchResult is one matching source document.
type SearchResult struct {
	Title    string  `json:"title"`
	URL      string  `json:"url"`
	Category string  `json:"category,omitempty"`
	Field    string  `json:"field"`
	Snippet  string  `json:"snippet"`
	Score    float64 `json:"score"`
}

// StatusInput defines the (empty) input for the index_status tool.
type StatusInput struct{}

// StatusOutput reports index and cache state.
type StatusOutput struct {
	Entries       int    `json:"entries"`
	CachedQueries int    `json:"cached_queries"`
	Backend       string `json:"backend"`
	Ready         bool   `json:"ready"`
}
