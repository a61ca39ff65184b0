// Package provider normalizes request/response shape differences across
// model provider families. All family-specific knowledge lives in four
// translation points: BuildEndpoint, BuildHeaders, BuildPayload, and
// ParseStreamChunk. Call sites never branch on the family themselves.
package provider

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/curatolabs/tracedesk/internal/models"
	"github.com/curatolabs/tracedesk/internal/parse"
)

// Family is one of the supported wire-shape conventions.
type Family string

const (
	// FamilyChat is the OpenAI-compatible convention: bearer auth,
	// /chat/completions, SSE data: frames with a [DONE] sentinel.
	FamilyChat Family = "chat"
	// FamilyMessageDelta is the Anthropic-style convention: system prompt
	// as a top-level field, typed streaming events, usage on delta/stop.
	FamilyMessageDelta Family = "message-delta"
	// FamilyLocal is the Ollama-style convention: no auth, /api/chat,
	// newline-delimited JSON frames with a boolean done flag.
	FamilyLocal Family = "local"
)

// ParseFamily validates a provider family string.
func ParseFamily(s string) (Family, error) {
	switch Family(s) {
	case FamilyChat, FamilyMessageDelta, FamilyLocal:
		return Family(s), nil
	}
	return "", fmt.Errorf("unknown provider family: %q", s)
}

// anthropicVersion is the API version header required by message-delta
// providers.
const anthropicVersion = "2023-06-01"

// Request is the provider-agnostic shape of one model call.
type Request struct {
	Model        string
	Messages     []models.Message
	SystemPrompt string
	MaxTokens    int
	Temperature  *float64
	Tools        []ToolDefinition
	Stream       bool
}

// ToolDefinition describes one tool offered to the model.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// Usage reports token accounting when the provider supplies it.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

// Chunk is the single normalized shape every family's output is reduced
// to, per streamed frame or for a whole non-streaming response.
type Chunk struct {
	Content          string
	ReasoningContent string
	ToolCalls        []parse.ToolCall
	Usage            *Usage
	Done             bool
}

// BuildEndpoint returns the request URL for the family.
func BuildEndpoint(baseURL string, family Family) string {
	base := strings.TrimRight(baseURL, "/")
	switch family {
	case FamilyMessageDelta:
		return base + "/v1/messages"
	case FamilyLocal:
		return base + "/api/chat"
	default:
		return base + "/chat/completions"
	}
}

// BuildHeaders returns the request headers for the family. Local-runtime
// providers take no credentials.
func BuildHeaders(apiKey string, family Family) map[string]string {
	headers := map[string]string{"Content-Type": "application/json"}
	switch family {
	case FamilyMessageDelta:
		headers["x-api-key"] = apiKey
		headers["anthropic-version"] = anthropicVersion
	case FamilyLocal:
		// no auth
	default:
		headers["Authorization"] = "Bearer " + apiKey
	}
	return headers
}

// BuildPayload translates the agnostic request into the family's wire shape.
func BuildPayload(req Request, family Family) map[string]any {
	switch family {
	case FamilyMessageDelta:
		payload := map[string]any{
			"model":      req.Model,
			"messages":   wireMessages(req.Messages),
			"max_tokens": maxTokensOrDefault(req.MaxTokens),
			"stream":     req.Stream,
		}
		// System prompt is a top-level field, never a message.
		if req.SystemPrompt != "" {
			payload["system"] = req.SystemPrompt
		}
		if req.Temperature != nil {
			payload["temperature"] = *req.Temperature
		}
		if len(req.Tools) > 0 {
			tools := make([]map[string]any, 0, len(req.Tools))
			for _, t := range req.Tools {
				tools = append(tools, map[string]any{
					"name":         t.Name,
					"description":  t.Description,
					"input_schema": t.Parameters,
				})
			}
			payload["tools"] = tools
		}
		return payload

	case FamilyLocal:
		payload := map[string]any{
			"model":    req.Model,
			"messages": systemPrefixed(req.SystemPrompt, req.Messages),
			"stream":   req.Stream,
		}
		options := map[string]any{}
		if req.Temperature != nil {
			options["temperature"] = *req.Temperature
		}
		if req.MaxTokens > 0 {
			options["num_predict"] = req.MaxTokens
		}
		if len(options) > 0 {
			payload["options"] = options
		}
		return payload

	default: // FamilyChat
		payload := map[string]any{
			"model":    req.Model,
			"messages": systemPrefixed(req.SystemPrompt, req.Messages),
			"stream":   req.Stream,
		}
		if req.MaxTokens > 0 {
			payload["max_tokens"] = req.MaxTokens
		}
		if req.Temperature != nil {
			payload["temperature"] = *req.Temperature
		}
		if len(req.Tools) > 0 {
			tools := make([]map[string]any, 0, len(req.Tools))
			for _, t := range req.Tools {
				tools = append(tools, map[string]any{
					"type": "function",
					"function": map[string]any{
						"name":        t.Name,
						"description": t.Description,
						"parameters":  t.Parameters,
					},
				})
			}
			payload["tools"] = tools
		}
		return payload
	}
}

func maxTokensOrDefault(n int) int {
	if n > 0 {
		return n
	}
	// message-delta providers reject requests without max_tokens.
	return 4096
}

func wireMessages(messages []models.Message) []map[string]any {
	out := make([]map[string]any, 0, len(messages))
	for _, m := range messages {
		out = append(out, map[string]any{"role": m.Role, "content": m.Content})
	}
	return out
}

func systemPrefixed(system string, messages []models.Message) []map[string]any {
	out := make([]map[string]any, 0, len(messages)+1)
	if system != "" {
		out = append(out, map[string]any{"role": "system", "content": system})
	}
	return append(out, wireMessages(messages)...)
}

// doneSentinel terminates chat-family SSE streams.
const doneSentinel = "[DONE]"

// chatStreamFrame is the chat-family streaming payload.
type chatStreamFrame struct {
	Choices []struct {
		Delta struct {
			Content          string `json:"content"`
			ReasoningContent string `json:"reasoning_content"`
			ToolCalls        []struct {
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// deltaStreamFrame is the message-delta-family streaming event.
type deltaStreamFrame struct {
	Type  string `json:"type"`
	Delta struct {
		Type       string  `json:"type"`
		Text       string  `json:"text"`
		Thinking   string  `json:"thinking"`
		StopReason *string `json:"stop_reason"`
	} `json:"delta"`
	Usage *struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// localStreamFrame is the local-runtime-family NDJSON frame.
type localStreamFrame struct {
	Message struct {
		Content  string `json:"content"`
		Thinking string `json:"thinking"`
	} `json:"message"`
	Done            bool `json:"done"`
	PromptEvalCount int  `json:"prompt_eval_count"`
	EvalCount       int  `json:"eval_count"`
}

// ParseStreamChunk normalizes one raw stream frame. For chat and
// message-delta families the frame is the payload after the SSE "data:"
// prefix; for local-runtime it is one NDJSON line.
func ParseStreamChunk(rawFrame []byte, family Family) (Chunk, error) {
	frame := strings.TrimSpace(string(rawFrame))
	if frame == "" {
		return Chunk{}, nil
	}

	switch family {
	case FamilyMessageDelta:
		var ev deltaStreamFrame
		if err := json.Unmarshal([]byte(frame), &ev); err != nil {
			return Chunk{}, fmt.Errorf("parse message-delta frame: %w", err)
		}
		chunk := Chunk{}
		switch ev.Type {
		case "content_block_delta":
			switch ev.Delta.Type {
			case "thinking_delta":
				chunk.ReasoningContent = ev.Delta.Thinking
			default:
				chunk.Content = ev.Delta.Text
			}
		case "message_delta":
			if ev.Usage != nil {
				chunk.Usage = &Usage{PromptTokens: ev.Usage.InputTokens, CompletionTokens: ev.Usage.OutputTokens}
			}
		case "message_stop":
			chunk.Done = true
		}
		return chunk, nil

	case FamilyLocal:
		var ev localStreamFrame
		if err := json.Unmarshal([]byte(frame), &ev); err != nil {
			return Chunk{}, fmt.Errorf("parse local frame: %w", err)
		}
		chunk := Chunk{
			Content:          ev.Message.Content,
			ReasoningContent: ev.Message.Thinking,
			Done:             ev.Done,
		}
		if ev.Done && (ev.PromptEvalCount > 0 || ev.EvalCount > 0) {
			chunk.Usage = &Usage{PromptTokens: ev.PromptEvalCount, CompletionTokens: ev.EvalCount}
		}
		return chunk, nil

	default: // FamilyChat
		if frame == doneSentinel {
			return Chunk{Done: true}, nil
		}
		var ev chatStreamFrame
		if err := json.Unmarshal([]byte(frame), &ev); err != nil {
			return Chunk{}, fmt.Errorf("parse chat frame: %w", err)
		}
		chunk := Chunk{}
		if len(ev.Choices) > 0 {
			delta := ev.Choices[0].Delta
			chunk.Content = delta.Content
			chunk.ReasoningContent = delta.ReasoningContent
			for _, tc := range delta.ToolCalls {
				var args map[string]any
				if tc.Function.Arguments != "" {
					// Best-effort: malformed arguments become an empty map.
					_ = json.Unmarshal([]byte(tc.Function.Arguments), &args)
				}
				chunk.ToolCalls = append(chunk.ToolCalls, parse.ToolCall{Name: tc.Function.Name, Arguments: args})
			}
			if ev.Choices[0].FinishReason != nil && *ev.Choices[0].FinishReason != "" {
				chunk.Done = true
			}
		}
		if ev.Usage != nil {
			chunk.Usage = &Usage{PromptTokens: ev.Usage.PromptTokens, CompletionTokens: ev.Usage.CompletionTokens}
		}
		return chunk, nil
	}
}

// parseCompleteResponse normalizes a whole non-streaming response body.
func parseCompleteResponse(body []byte, family Family) (Chunk, error) {
	switch family {
	case FamilyMessageDelta:
		var resp struct {
			Content []struct {
				Type     string `json:"type"`
				Text     string `json:"text"`
				Thinking string `json:"thinking"`
			} `json:"content"`
			Usage *struct {
				InputTokens  int `json:"input_tokens"`
				OutputTokens int `json:"output_tokens"`
			} `json:"usage"`
		}
		if err := json.Unmarshal(body, &resp); err != nil {
			return Chunk{}, fmt.Errorf("parse message-delta response: %w", err)
		}
		chunk := Chunk{Done: true}
		for _, block := range resp.Content {
			if block.Type == "thinking" {
				chunk.ReasoningContent += block.Thinking
			} else {
				chunk.Content += block.Text
			}
		}
		if resp.Usage != nil {
			chunk.Usage = &Usage{PromptTokens: resp.Usage.InputTokens, CompletionTokens: resp.Usage.OutputTokens}
		}
		return chunk, nil

	case FamilyLocal:
		var resp localStreamFrame
		if err := json.Unmarshal(body, &resp); err != nil {
			return Chunk{}, fmt.Errorf("parse local response: %w", err)
		}
		chunk := Chunk{
			Content:          resp.Message.Content,
			ReasoningContent: resp.Message.Thinking,
			Done:             true,
		}
		if resp.PromptEvalCount > 0 || resp.EvalCount > 0 {
			chunk.Usage = &Usage{PromptTokens: resp.PromptEvalCount, CompletionTokens: resp.EvalCount}
		}
		return chunk, nil

	default: // FamilyChat
		var resp struct {
			Choices []struct {
				Message struct {
					Content          string `json:"content"`
					ReasoningContent string `json:"reasoning_content"`
				} `json:"message"`
			} `json:"choices"`
			Usage *struct {
				PromptTokens     int `json:"prompt_tokens"`
				CompletionTokens int `json:"completion_tokens"`
			} `json:"usage"`
		}
		if err := json.Unmarshal(body, &resp); err != nil {
			return Chunk{}, fmt.Errorf("parse chat response: %w", err)
		}
		if len(resp.Choices) == 0 {
			return Chunk{}, fmt.Errorf("no response choices")
		}
		chunk := Chunk{
			Content:          resp.Choices[0].Message.Content,
			ReasoningContent: resp.Choices[0].Message.ReasoningContent,
			Done:             true,
		}
		if resp.Usage != nil {
			chunk.Usage = &Usage{PromptTokens: resp.Usage.PromptTokens, CompletionTokens: resp.Usage.CompletionTokens}
		}
		return chunk, nil
	}
}
