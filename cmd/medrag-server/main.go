// Package main provides the MCP server entry point for the medical
// knowledge base.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/medassist/medrag/internal/chunker"
	"github.com/medassist/medrag/internal/docstore"
	"github.com/medassist/medrag/internal/embedding"
	"github.com/medassist/medrag/internal/generator"
	"github.com/medassist/medrag/internal/index"
	mcpserver "github.com/medassist/medrag/internal/mcp"
	"github.com/medassist/medrag/internal/pipeline"
	"github.com/medassist/medrag/internal/rag"
	"github.com/medassist/medrag/internal/retriever"
)

func main() {
	// Load .env file if present (local development), ignore if missing (production)
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	// Create context that cancels on SIGTERM/SIGINT
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	// Configuration from environment
	backend := getEnv("MEDRAG_INDEX_BACKEND", "local")
	corpusPath := getEnv("MEDRAG_CORPUS", "data/corpus.json")
	port := getEnv("PORT", "8080")

	// Load the corpus; citations resolve against it
	store, err := docstore.LoadPath(corpusPath, nil)
	if err != nil {
		log.Fatalf("failed to load corpus %s: %v", corpusPath, err)
	}
	log.Printf("Loaded %d documents from %s", store.Len(), corpusPath)

	// Open the index backend
	var (
		idx     index.Store
		persist func(context.Context) error
	)
	switch backend {
	case "qdrant":
		host := getEnv("QDRANT_HOST", "localhost")
		qport := getEnvInt("QDRANT_PORT", 6334)
		collection := getEnv("MEDRAG_COLLECTION", index.DefaultCollection)

		q, err := index.NewQdrant(host, qport, collection)
		if err != nil {
			log.Fatalf("failed to connect to Qdrant: %v", err)
		}
		defer q.Close()
		// Refuse to serve an unbuilt index; an empty one would answer
		// every question with the insufficient-context payload.
		if err := q.Ready(ctx); err != nil {
			log.Fatalf("index not built: %v (run `medrag index` first)", err)
		}
		idx = q

	case "local":
		dir := getEnv("MEDRAG_INDEX_DIR", "data/index")
		local, err := index.LoadLocal(dir)
		if err != nil {
			log.Fatalf("index not built at %s: %v (run `medrag index` first)", dir, err)
		}
		persist = func(context.Context) error { return local.Save(dir) }
		idx = local

	default:
		log.Fatalf("unknown index backend %q", backend)
	}

	// Embedding and generation share the same local runtime client
	client := embedding.NewClient()
	embedder := embedding.NewEmbedder(client, 0) // Use default batch size
	gen := generator.New(client.Client(), 0)

	ret := retriever.New(embedder, idx, store,
		retriever.WithMinScore(getEnvFloat("MEDRAG_MIN_SCORE", retriever.DefaultMinScore)),
	)

	ch := chunker.New(chunker.DefaultMaxSize, chunker.DefaultOverlap)
	builder := pipeline.New(ch, embedder, idx, nil)

	ragOpts := []rag.Option{
		rag.WithCacheCapacity(getEnvInt("MEDRAG_CACHE_SIZE", 256)),
	}
	if persist != nil {
		ragOpts = append(ragOpts, rag.WithPersist(persist))
	}
	orc := rag.New(ret, gen, builder, ragOpts...)

	// Create MCP server
	server := mcpserver.NewServer(&mcpserver.Config{
		Orchestrator: orc,
		Retriever:    ret,
		Index:        idx,
		Backend:      backend,
	})

	// Create HTTP server with multiple endpoints
	mux := http.NewServeMux()
	mux.HandleFunc("/", mcpserver.NewLandingHandler())
	mux.HandleFunc("/health", mcpserver.NewHealthHandler(idx))
	mux.Handle("/mcp", server.HTTPHandler(false))

	// Check if running in server mode (HTTP) or stdio mode (local development)
	serverMode := getEnv("SERVER_MODE", "false") == "true"

	if serverMode {
		// HTTP mode: serve MCP over HTTP for remote clients
		addr := "0.0.0.0:" + port
		log.Printf("Starting HTTP server on %s (MCP at /mcp, health at /health)", addr)
		if err := http.ListenAndServe(addr, mux); err != nil {
			log.Fatalf("HTTP server error: %v", err)
		}
	} else {
		// Stdio mode: run MCP server over stdin/stdout for local clients
		// Also start HTTP health endpoint in background for local testing
		go func() {
			addr := "0.0.0.0:" + port
			log.Printf("Starting health server on %s", addr)
			if err := http.ListenAndServe(addr, mux); err != nil {
				log.Printf("Health server error: %v", err)
			}
		}()

		log.Println("Starting MedRAG MCP Server (stdio mode)...")
		if err := server.Run(ctx); err != nil {
			log.Printf("server error: %v", err)
			os.Exit(1)
		}
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
