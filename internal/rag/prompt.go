package rag

import (
	"fmt"
	"strings"

	"github.com/medassist/medrag/internal/retriever"
)

// promptHeader instructs the model to stay inside the retrieved context.
const promptHeader = `You are a helpful medical information assistant. Use the following context to answer the user's question. If you cannot answer the question based on the context, say "I don't have enough information to answer that question."

Always provide accurate, helpful information based only on the context below.`

// buildPrompt composes the generation prompt: instructions, numbered
// source snippets with their labels, then the question.
func buildPrompt(query string, results []retriever.Result) string {
	var b strings.Builder
	b.WriteString(promptHeader)
	b.WriteString("\n\nContext:\n")

	for i, res := range results {
		fmt.Fprintf(&b, "\n[%d] %s", i+1, res.Document.Title)
		if res.Field != "" {
			fmt.Fprintf(&b, " (%s)", res.Field)
		}
		b.WriteString("\n")
		b.WriteString(res.Snippet)
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "\nQuestion: %s\n\nAnswer:", query)
	return b.String()
}
