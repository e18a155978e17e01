package anthropic

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asktra/asktra/internal/llm/types"
)

func TestNewClient(t *testing.T) {
	c, err := NewClient("test-key", "", "")
	require.NoError(t, err)
	assert.Equal(t, DefaultModel, c.Model())
	assert.Equal(t, int64(DefaultMaxTokens), c.maxTokens)

	_, err = NewClient("", "", "")
	assert.Error(t, err, "empty API key should fail")
}

func TestBuildParams(t *testing.T) {
	c, err := NewClient("test-key", "claude-test", "")
	require.NoError(t, err)

	params := c.buildParams(types.Request{
		System:            "be precise",
		Prompt:            "question",
		JSONMode:          true,
		ExtendedReasoning: true,
		Image:             &types.Image{Data: []byte("png"), MIMEType: "image/png"},
	})

	require.Len(t, params.System, 1)
	assert.Contains(t, params.System[0].Text, "be precise")
	assert.Contains(t, params.System[0].Text, jsonOnlyInstruction)
	require.Len(t, params.Messages, 1)
	assert.Len(t, params.Messages[0].Content, 2)
	assert.NotNil(t, params.Thinking.OfEnabled)

	plain := c.buildParams(types.Request{Prompt: "docs"})
	assert.Empty(t, plain.System)
	assert.Nil(t, plain.Thinking.OfEnabled)
}

func TestGenerateAgainstFakeAPI(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		var payload map[string]interface{}
		require.NoError(t, json.Unmarshal(body, &payload))
		assert.Equal(t, "claude-test", payload["model"])

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "msg_1", "type": "message", "role": "assistant", "model": "claude-test",
			"stop_reason": "end_turn",
			"content": [
				{"type": "thinking", "thinking": "weighing dates", "signature": "sig"},
				{"type": "text", "text": "{\"root_cause\":\"timeout\"}"}
			],
			"usage": {"input_tokens": 12, "output_tokens": 8}
		}`))
	}))
	defer server.Close()

	c, err := NewClient("test-key", "claude-test", server.URL)
	require.NoError(t, err)

	resp, err := c.Generate(context.Background(), types.Request{Prompt: "q", JSONMode: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"weighing dates", `{"root_cause":"timeout"}`}, resp.Parts)
	assert.Equal(t, []string{`{"root_cause":"timeout"}`}, resp.Answer())
	assert.Equal(t, 20, resp.Usage.TotalTokens)
}

func TestGenerateRateLimited(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("x-should-retry", "false")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"type":"error","error":{"type":"rate_limit_error","message":"slow down"}}`))
	}))
	defer server.Close()

	c, err := NewClient("test-key", "claude-test", server.URL)
	require.NoError(t, err)

	_, err = c.Generate(context.Background(), types.Request{Prompt: "q"})
	require.Error(t, err)
	assert.True(t, types.IsRateLimited(err))
}
