package mcp

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// HealthResponse represents the JSON response from the health check endpoint.
type HealthResponse struct {
	Status    string `json:"status"`
	Index     string `json:"index"`
	Entries   int    `json:"entries"`
	Timestamp string `json:"timestamp"`
}

// Counter is the slice of the index contract the health check uses. Both
// index backends satisfy it; a failing Count means the backend is down.
type Counter interface {
	Count(ctx context.Context) (int, error)
}

// NewHealthHandler creates an HTTP handler for the /health endpoint.
// It checks index availability and returns appropriate status codes.
func NewHealthHandler(idx Counter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()

		entries, err := idx.Count(ctx)

		response := HealthResponse{
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		}

		w.Header().Set("Content-Type", "application/json")

		if err != nil {
			response.Status = "unhealthy"
			response.Index = "unavailable"
			w.WriteHeader(http.StatusServiceUnavailable)
			json.NewEncoder(w).Encode(response)
			return
		}

		response.Status = "healthy"
		response.Index = "ready"
		response.Entries = entries
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(response)
	}
}
