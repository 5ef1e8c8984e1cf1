package embedding

import (
	"os"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

const (
	// DefaultBaseURL targets the OpenAI-compatible API of a local Ollama
	// runtime. Point MEDRAG_EMBEDDING_URL elsewhere for hosted backends.
	DefaultBaseURL = "http://localhost:11434/v1"

	// DefaultModel is the local sentence-embedding model.
	DefaultModel = "nomic-embed-text"
)

// Client wraps the OpenAI-compatible client used for embedding generation.
type Client struct {
	client *openai.Client
	model  string
}

// NewClient creates an embedding client from the environment:
// MEDRAG_EMBEDDING_URL, MEDRAG_EMBEDDING_MODEL and OPENAI_API_KEY. Local
// runtimes ignore the API key, so a placeholder is sent when it is unset.
func NewClient() *Client {
	baseURL := envOr("MEDRAG_EMBEDDING_URL", DefaultBaseURL)
	model := envOr("MEDRAG_EMBEDDING_MODEL", DefaultModel)
	apiKey := envOr("OPENAI_API_KEY", "local")

	client := openai.NewClient(
		option.WithBaseURL(baseURL),
		option.WithAPIKey(apiKey),
	)

	return &Client{client: &client, model: model}
}

// Client returns the underlying OpenAI client for reuse by other packages
// (the generation adapter shares the same local runtime).
func (c *Client) Client() *openai.Client {
	return c.client
}

// Model returns the configured embedding model name.
func (c *Client) Model() string {
	return c.model
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
