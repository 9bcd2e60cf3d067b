package llmclient

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEchoCompleteReturnsPrefixedPrompt(t *testing.T) {
	c := NewEcho("> ")
	resp, err := c.Complete(context.Background(), Request{Model: "local", Prompt: "hello"})
	require.NoError(t, err)
	require.Equal(t, "> hello", resp.Text)
	require.Positive(t, resp.InputTokens)
	require.Positive(t, resp.OutputTokens)
}

func TestEchoCompleteRespectsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c := NewEcho("")
	_, err := c.Complete(ctx, Request{Prompt: "hi"})
	require.ErrorIs(t, err, context.Canceled)
}
