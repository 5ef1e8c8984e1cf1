// Package main provides the medrag CLI for indexing the medical corpus
// and asking questions against it.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/medassist/medrag/internal/chunker"
	"github.com/medassist/medrag/internal/docstore"
	"github.com/medassist/medrag/internal/embedding"
	"github.com/medassist/medrag/internal/generator"
	"github.com/medassist/medrag/internal/index"
	"github.com/medassist/medrag/internal/pipeline"
	"github.com/medassist/medrag/internal/rag"
	"github.com/medassist/medrag/internal/retriever"
)

var rootCmd = &cobra.Command{
	Use:   "medrag",
	Short: "Medical knowledge base question answering tool",
	Long:  "CLI for building the medical condition vector index and answering questions against it",
}

var indexCmd = &cobra.Command{
	Use:   "index <corpus>",
	Short: "Rebuild the vector index from a scraped corpus",
	Long: `Clears the existing index and rebuilds it from the corpus: a JSON
record file, a single markdown article, or a directory of markdown
articles.

This command:
1. Loads condition records, skipping malformed ones
2. Splits each record's sections into overlapping chunks
3. Generates embeddings through the local model runtime
4. Stores the vectors in the configured index backend
5. Persists the local index artifact to disk (local backend only)

Environment variables:
  MEDRAG_INDEX_BACKEND   "local" or "qdrant" (default: local)
  MEDRAG_INDEX_DIR       local index directory (default: data/index)
  QDRANT_HOST            Qdrant hostname (default: localhost)
  QDRANT_PORT            Qdrant gRPC port (default: 6334)
  MEDRAG_EMBEDDING_URL   OpenAI-compatible base URL (default: http://localhost:11434/v1)
  MEDRAG_EMBEDDING_MODEL embedding model name (default: nomic-embed-text)`,
	Args: cobra.ExactArgs(1),
	RunE: runIndex,
}

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Answer a question from the indexed knowledge base",
	Long: `Retrieves the most relevant indexed conditions and generates a
sourced answer. Prints the designated insufficient-context response when
nothing relevant enough is indexed.

Environment variables:
  MEDRAG_INDEX_BACKEND   "local" or "qdrant" (default: local)
  MEDRAG_INDEX_DIR       local index directory (default: data/index)
  MEDRAG_GENERATOR_MODEL chat model name (default: llama3.2)
  MEDRAG_MIN_SCORE       relevance threshold (default: 0.35)`,
	Args: cobra.ExactArgs(1),
	RunE: runAsk,
}

func init() {
	rootCmd.AddCommand(indexCmd)
	rootCmd.AddCommand(askCmd)
}

func main() {
	// Load .env file if present (local development), ignore if missing (production)
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runIndex(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	start := time.Now()
	logger := slog.Default()

	corpusPath := args[0]

	fmt.Printf("Loading corpus from %s...\n", corpusPath)
	store, err := docstore.LoadPath(corpusPath, logger)
	if err != nil {
		return fmt.Errorf("failed to load corpus: %w", err)
	}
	fmt.Printf("Loaded %d documents (%d records skipped)\n", store.Len(), len(store.Skipped()))

	backend, idx, save, closeIdx, err := openIndexBackend(ctx, true)
	if err != nil {
		return err
	}
	defer closeIdx()
	fmt.Printf("Index backend: %s\n", backend)

	client := embedding.NewClient()
	embedder := embedding.NewEmbedder(client, 0) // default batch size

	ch := chunker.New(chunker.DefaultMaxSize, chunker.DefaultOverlap)
	pipe := pipeline.New(ch, embedder, idx, logger)

	fmt.Println()
	fmt.Println("Rebuilding index...")
	result, err := pipe.Rebuild(ctx, store.Documents())
	if err != nil {
		return fmt.Errorf("indexing failed: %w", err)
	}

	if save != nil {
		if err := save(); err != nil {
			return fmt.Errorf("failed to persist index: %w", err)
		}
	}

	fmt.Println()
	fmt.Println("Index build complete!")
	fmt.Printf("  Documents: %d/%d\n", result.SuccessfulDocs, result.TotalDocs)
	fmt.Printf("  Chunks: %d\n", result.TotalChunks)
	fmt.Printf("  Duration: %s\n", result.Duration.Round(time.Millisecond))

	if len(result.Failed) > 0 {
		fmt.Println()
		fmt.Println("Failed documents:")
		for _, failed := range result.Failed {
			fmt.Printf("  - %s (%s): %s\n", failed.Title, failed.DocID, failed.Reason)
		}
	}

	fmt.Println()
	fmt.Printf("Total time: %s\n", time.Since(start).Round(time.Millisecond))
	return nil
}

func runAsk(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	logger := slog.Default()

	question := args[0]

	corpusPath := getEnv("MEDRAG_CORPUS", "")
	var resolver retriever.Resolver
	if corpusPath != "" {
		store, err := docstore.LoadPath(corpusPath, logger)
		if err != nil {
			return fmt.Errorf("failed to load corpus: %w", err)
		}
		resolver = store
	} else {
		// Without the corpus file, citations fall back to document IDs.
		resolver = docstore.NewStore(nil)
	}

	_, idx, _, closeIdx, err := openIndexBackend(ctx, false)
	if err != nil {
		return err
	}
	defer closeIdx()

	client := embedding.NewClient()
	embedder := embedding.NewEmbedder(client, 0)
	gen := generator.New(client.Client(), 0)

	ret := retriever.New(embedder, idx, resolver,
		retriever.WithMinScore(getEnvFloat("MEDRAG_MIN_SCORE", retriever.DefaultMinScore)),
		retriever.WithLogger(logger),
	)
	orc := rag.New(ret, gen, nil, rag.WithLogger(logger))

	answer, err := orc.Ask(ctx, question)
	if err != nil {
		return fmt.Errorf("ask failed: %w", err)
	}

	fmt.Println(answer.Text)
	if len(answer.Citations) > 0 {
		fmt.Println()
		fmt.Println("Sources:")
		for _, c := range answer.Citations {
			fmt.Printf("  - %s (%s) %s [%.2f]\n", c.Title, c.Field, c.URL, c.Score)
		}
	}
	return nil
}

// openIndexBackend opens the configured index backend. A rebuild
// tolerates a missing artifact and starts empty; the query path must not,
// so a missing or corrupt index surfaces index.ErrUnavailable instead of
// silently answering from nothing. The returned save function is non-nil
// only for the local backend; close is always safe to call.
func openIndexBackend(ctx context.Context, forBuild bool) (string, index.Store, func() error, func(), error) {
	backend := getEnv("MEDRAG_INDEX_BACKEND", "local")

	switch backend {
	case "qdrant":
		host := getEnv("QDRANT_HOST", "localhost")
		port := getEnvInt("QDRANT_PORT", 6334)
		collection := getEnv("MEDRAG_COLLECTION", index.DefaultCollection)

		q, err := index.NewQdrant(host, port, collection)
		if err != nil {
			return "", nil, nil, nil, fmt.Errorf("failed to connect to Qdrant: %w", err)
		}
		if !forBuild {
			if err := q.Ready(ctx); err != nil {
				q.Close()
				return "", nil, nil, nil, fmt.Errorf("index not built: %w (run `medrag index`)", err)
			}
		}
		return backend, q, nil, func() { q.Close() }, nil

	case "local":
		dir := getEnv("MEDRAG_INDEX_DIR", "data/index")

		local, err := index.LoadLocal(dir)
		if err != nil {
			if !forBuild {
				return "", nil, nil, nil, fmt.Errorf("index not built at %s: %w (run `medrag index`)", dir, err)
			}
			local = index.NewLocal()
		}
		save := func() error { return local.Save(dir) }
		return backend, local, save, func() {}, nil

	default:
		return "", nil, nil, nil, fmt.Errorf("unknown index backend %q", backend)
	}
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		var i int
		if _, err := fmt.Sscanf(v, "%d", &i); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultValue
}
