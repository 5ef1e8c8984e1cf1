// Package generator adapts the local text-generation runtime behind a
// small request/response interface: a composed prompt in, a completion
// out, with a caller-imposed timeout and typed failure.
package generator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/openai/openai-go"
)

// ErrUnavailable indicates the generation backend timed out or errored.
// Callers may retry; the outcome is never cached.
var ErrUnavailable = errors.New("generation backend unavailable")

const (
	// DefaultModel is the local chat model (env MEDRAG_GENERATOR_MODEL).
	DefaultModel = "llama3.2"

	// DefaultTimeout bounds one generation call. Local models on CPU are
	// slow; anything past this is treated as unavailable.
	DefaultTimeout = 120 * time.Second

	// DefaultTemperature keeps answers focused rather than creative.
	DefaultTemperature = 0.1

	// DefaultMaxTokens caps completion length.
	DefaultMaxTokens = 256
)

// Options are the per-call generation knobs.
type Options struct {
	Temperature float64
	MaxTokens   int64
}

// DefaultOptions returns the standard answer-generation settings.
func DefaultOptions() Options {
	return Options{Temperature: DefaultTemperature, MaxTokens: DefaultMaxTokens}
}

// Generator sends prompts to an OpenAI-compatible chat backend.
type Generator struct {
	client  *openai.Client
	model   string
	timeout time.Duration
}

// New creates a Generator reusing an existing client (typically the
// embedding client's, since both talk to the same local runtime). The
// model comes from MEDRAG_GENERATOR_MODEL when set.
func New(client *openai.Client, timeout time.Duration) *Generator {
	model := os.Getenv("MEDRAG_GENERATOR_MODEL")
	if model == "" {
		model = DefaultModel
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Generator{client: client, model: model, timeout: timeout}
}

// Generate sends a prompt and returns the completion text. Timeouts and
// backend errors wrap ErrUnavailable.
func (g *Generator) Generate(ctx context.Context, prompt string, opts Options) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	params := openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
		Model: g.model,
	}
	if opts.Temperature > 0 {
		params.Temperature = openai.Float(opts.Temperature)
	}
	if opts.MaxTokens > 0 {
		params.MaxTokens = openai.Int(opts.MaxTokens)
	}

	resp, err := g.client.Chat.Completions.New(ctx, params)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", fmt.Errorf("%w: timed out after %s", ErrUnavailable, g.timeout)
		}
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: empty completion", ErrUnavailable)
	}
	return resp.Choices[0].Message.Content, nil
}
