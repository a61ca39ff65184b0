package provider

import (
	"testing"

	"github.com/curatolabs/tracedesk/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFamily(t *testing.T) {
	for _, valid := range []string{"chat", "message-delta", "local"} {
		got, err := ParseFamily(valid)
		require.NoError(t, err)
		assert.Equal(t, Family(valid), got)
	}
	_, err := ParseFamily("grpc")
	assert.Error(t, err)
}

func TestBuildEndpoint(t *testing.T) {
	tests := []struct {
		family Family
		want   string
	}{
		{FamilyChat, "https://api.example.com/chat/completions"},
		{FamilyMessageDelta, "https://api.example.com/v1/messages"},
		{FamilyLocal, "https://api.example.com/api/chat"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, BuildEndpoint("https://api.example.com/", tt.family), string(tt.family))
	}
}

func TestBuildHeaders(t *testing.T) {
	chat := BuildHeaders("sk-test", FamilyChat)
	assert.Equal(t, "Bearer sk-test", chat["Authorization"])

	delta := BuildHeaders("sk-ant", FamilyMessageDelta)
	assert.Equal(t, "sk-ant", delta["x-api-key"])
	assert.Equal(t, anthropicVersion, delta["anthropic-version"])
	assert.NotContains(t, delta, "Authorization")

	local := BuildHeaders("ignored", FamilyLocal)
	assert.NotContains(t, local, "Authorization")
	assert.NotContains(t, local, "x-api-key")
	assert.Equal(t, "application/json", local["Content-Type"])
}

func TestBuildPayloadSystemPlacement(t *testing.T) {
	temp := 0.2
	req := Request{
		Model:        "m1",
		Messages:     []models.Message{{Role: "user", Content: "hi"}},
		SystemPrompt: "be terse",
		MaxTokens:    100,
		Temperature:  &temp,
		Stream:       true,
	}

	// message-delta: system is a top-level field, never a message.
	delta := BuildPayload(req, FamilyMessageDelta)
	assert.Equal(t, "be terse", delta["system"])
	msgs := delta["messages"].([]map[string]any)
	require.Len(t, msgs, 1)
	assert.Equal(t, "user", msgs[0]["role"])

	// chat: system is prepended as a message.
	chat := BuildPayload(req, FamilyChat)
	assert.NotContains(t, chat, "system")
	msgs = chat["messages"].([]map[string]any)
	require.Len(t, msgs, 2)
	assert.Equal(t, "system", msgs[0]["role"])

	// local: system message plus options block.
	local := BuildPayload(req, FamilyLocal)
	msgs = local["messages"].([]map[string]any)
	require.Len(t, msgs, 2)
	opts := local["options"].(map[string]any)
	assert.Equal(t, 0.2, opts["temperature"])
	assert.Equal(t, 100, opts["num_predict"])
}

func TestParseStreamChunkChat(t *testing.T) {
	chunk, err := ParseStreamChunk([]byte(`{"choices":[{"delta":{"content":"hel"}}]}`), FamilyChat)
	require.NoError(t, err)
	assert.Equal(t, "hel", chunk.Content)
	assert.False(t, chunk.Done)

	chunk, err = ParseStreamChunk([]byte(`{"choices":[{"delta":{"reasoning_content":"hmm"}}]}`), FamilyChat)
	require.NoError(t, err)
	assert.Equal(t, "hmm", chunk.ReasoningContent)

	chunk, err = ParseStreamChunk([]byte(`{"choices":[{"delta":{},"finish_reason":"stop"}],"usage":{"prompt_tokens":3,"completion_tokens":9}}`), FamilyChat)
	require.NoError(t, err)
	assert.True(t, chunk.Done)
	require.NotNil(t, chunk.Usage)
	assert.Equal(t, 9, chunk.Usage.CompletionTokens)

	chunk, err = ParseStreamChunk([]byte("[DONE]"), FamilyChat)
	require.NoError(t, err)
	assert.True(t, chunk.Done)
}

func TestParseStreamChunkMessageDelta(t *testing.T) {
	chunk, err := ParseStreamChunk([]byte(`{"type":"content_block_delta","delta":{"type":"text_delta","text":"hi"}}`), FamilyMessageDelta)
	require.NoError(t, err)
	assert.Equal(t, "hi", chunk.Content)

	chunk, err = ParseStreamChunk([]byte(`{"type":"content_block_delta","delta":{"type":"thinking_delta","thinking":"let me see"}}`), FamilyMessageDelta)
	require.NoError(t, err)
	assert.Equal(t, "let me see", chunk.ReasoningContent)
	assert.Empty(t, chunk.Content)

	chunk, err = ParseStreamChunk([]byte(`{"type":"message_delta","delta":{"stop_reason":"end_turn"},"usage":{"input_tokens":5,"output_tokens":11}}`), FamilyMessageDelta)
	require.NoError(t, err)
	require.NotNil(t, chunk.Usage)
	assert.Equal(t, 5, chunk.Usage.PromptTokens)
	assert.False(t, chunk.Done, "message_delta is not terminal")

	chunk, err = ParseStreamChunk([]byte(`{"type":"message_stop"}`), FamilyMessageDelta)
	require.NoError(t, err)
	assert.True(t, chunk.Done)
}

func TestParseStreamChunkLocal(t *testing.T) {
	chunk, err := ParseStreamChunk([]byte(`{"message":{"content":"tok"},"done":false}`), FamilyLocal)
	require.NoError(t, err)
	assert.Equal(t, "tok", chunk.Content)
	assert.False(t, chunk.Done)

	chunk, err = ParseStreamChunk([]byte(`{"message":{"content":""},"done":true,"prompt_eval_count":4,"eval_count":20}`), FamilyLocal)
	require.NoError(t, err)
	assert.True(t, chunk.Done)
	require.NotNil(t, chunk.Usage)
	assert.Equal(t, 20, chunk.Usage.CompletionTokens)
}

func TestParseStreamChunkMalformed(t *testing.T) {
	_, err := ParseStreamChunk([]byte("{not json"), FamilyChat)
	assert.Error(t, err)
	_, err = ParseStreamChunk([]byte("{not json"), FamilyMessageDelta)
	assert.Error(t, err)
	_, err = ParseStreamChunk([]byte("{not json"), FamilyLocal)
	assert.Error(t, err)
}

func TestAccumulatorSynthesizesThinkTags(t *testing.T) {
	var acc Accumulator

	out := acc.Add(Chunk{ReasoningContent: "first "})
	assert.Equal(t, "<think>first ", out)

	out = acc.Add(Chunk{ReasoningContent: "thought"})
	assert.Equal(t, "thought", out)

	// Tag closes on the first content token.
	out = acc.Add(Chunk{Content: "answer"})
	assert.Equal(t, "</think>answer", out)

	assert.Empty(t, acc.Close())
	assert.Equal(t, "<think>first thought</think>answer", acc.Text())
}

func TestAccumulatorClosesAtStreamEnd(t *testing.T) {
	var acc Accumulator
	acc.Add(Chunk{ReasoningContent: "only reasoning"})
	assert.Equal(t, "</think>", acc.Close())
	assert.Equal(t, "<think>only reasoning</think>", acc.Text())
}

func TestAccumulatorPassthrough(t *testing.T) {
	var acc Accumulator
	acc.Add(Chunk{Content: "no reasoning "})
	acc.Add(Chunk{Content: "channel"})
	assert.Empty(t, acc.Close())
	assert.Equal(t, "no reasoning channel", acc.Text())
}
