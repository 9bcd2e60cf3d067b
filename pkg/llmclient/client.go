// Package llmclient defines the thin contract sub-agents use to talk to a
// language model. Concrete providers (Anthropic, OpenAI, local inference)
// are out of scope for the orchestration core; this package ships only the
// interface and a deterministic local implementation so the rest of the
// module is runnable end-to-end in tests without a network call.
package llmclient

import (
	"context"
	"fmt"
)

// Request is one completion call.
type Request struct {
	Model       string
	Prompt      string
	MaxTokens   int
	Temperature float64
}

// Response is a completion result. InputTokens/OutputTokens feed directly
// into a costledger.CostEntry.
type Response struct {
	Text         string
	InputTokens  int64
	OutputTokens int64
}

// Client is the narrow surface every sub-agent role depends on.
type Client interface {
	Complete(ctx context.Context, req Request) (Response, error)
}

// Echo is a deterministic local Client: it never calls out to a network
// provider, estimating token counts from input length and returning the
// prompt itself (optionally prefixed) as the completion. It exists so the
// orchestration core can be exercised end-to-end — in tests and in a
// no-provider-configured deployment — without a real LLM.
type Echo struct {
	Prefix string
}

// NewEcho returns an Echo client that prefixes every response with prefix
// (or no prefix, if empty).
func NewEcho(prefix string) *Echo {
	return &Echo{Prefix: prefix}
}

func (e *Echo) Complete(ctx context.Context, req Request) (Response, error) {
	select {
	case <-ctx.Done():
		return Response{}, ctx.Err()
	default:
	}

	text := req.Prompt
	if e.Prefix != "" {
		text = fmt.Sprintf("%s%s", e.Prefix, req.Prompt)
	}
	return Response{
		Text:         text,
		InputTokens:  estimateTokens(req.Prompt),
		OutputTokens: estimateTokens(text),
	}, nil
}

// estimateTokens uses the common ~4-characters-per-token heuristic; good
// enough for local cost projection when no provider-reported count exists.
func estimateTokens(s string) int64 {
	if len(s) == 0 {
		return 0
	}
	n := int64(len(s)) / 4
	if n == 0 {
		n = 1
	}
	return n
}
