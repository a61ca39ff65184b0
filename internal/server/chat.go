package server

import (
	"errors"
	"net/http"

	"github.com/curatolabs/tracedesk/internal/models"
	"github.com/curatolabs/tracedesk/internal/parse"
	"github.com/curatolabs/tracedesk/internal/provider"
	"github.com/curatolabs/tracedesk/internal/sse"
)

// chatStreamRequest is the POST /chat/stream body.
type chatStreamRequest struct {
	Provider     string           `json:"provider"`
	Model        string           `json:"model"`
	BaseURL      string           `json:"base_url,omitempty"`
	APIKey       string           `json:"api_key,omitempty"`
	Messages     []models.Message `json:"messages"`
	SystemPrompt string           `json:"system_prompt,omitempty"`
	MaxTokens    int              `json:"max_tokens,omitempty"`
	Temperature  *float64         `json:"temperature,omitempty"`
}

// chatStreamChunk is one chunk event payload: the emitted text delta plus
// the progressively derived reasoning/answer split.
type chatStreamChunk struct {
	Delta     string          `json:"delta"`
	Phase     parse.Phase     `json:"phase"`
	Reasoning string          `json:"reasoning,omitempty"`
	Answer    string          `json:"answer,omitempty"`
	Usage     *provider.Usage `json:"usage,omitempty"`
}

// chatStreamResult is the done event payload.
type chatStreamResult struct {
	Reasoning string          `json:"reasoning,omitempty"`
	Answer    string          `json:"answer"`
	Usage     *provider.Usage `json:"usage,omitempty"`
}

// handleChatStream proxies one model call as an SSE stream. Reasoning
// arriving on a native side channel is re-framed through the virtual think
// tag so the client sees one convention regardless of provider family.
func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	req, err := decodeChatRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	family, err := provider.ParseFamily(req.Provider)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	baseURL := req.BaseURL
	if baseURL == "" {
		if family == provider.FamilyLocal {
			baseURL = s.cfg.OllamaHost
		} else {
			baseURL = s.cfg.DefaultBaseURL
		}
	}

	client := s.streamer(provider.Config{
		BaseURL: baseURL,
		APIKey:  req.APIKey,
		Family:  family,
	})

	sse.Serve(w, r, s.logger, func(stream *sse.Stream) (any, error) {
		ctx := stream.Request().Context()
		acc := &provider.Accumulator{}
		prog := &parse.Progressive{}
		var usage *provider.Usage

		err := client.Stream(ctx, provider.Request{
			Model:        req.Model,
			Messages:     req.Messages,
			SystemPrompt: req.SystemPrompt,
			MaxTokens:    req.MaxTokens,
			Temperature:  req.Temperature,
		}, func(chunk provider.Chunk) error {
			if stream.IsAborted() {
				return ctx.Err()
			}
			if chunk.Usage != nil {
				usage = chunk.Usage
			}

			emitted := acc.Add(chunk)
			if emitted == "" {
				return nil
			}
			snap := prog.Feed(emitted)
			return stream.SendChunk(chatStreamChunk{
				Delta:     emitted,
				Phase:     snap.Phase,
				Reasoning: snap.Reasoning,
				Answer:    snap.Answer,
			})
		})
		if err != nil {
			return nil, err
		}

		if closing := acc.Close(); closing != "" {
			prog.Feed(closing)
		}
		final := prog.Finalize()
		return chatStreamResult{
			Reasoning: final.Reasoning,
			Answer:    final.Answer,
			Usage:     usage,
		}, nil
	})
}

func decodeChatRequest(r *http.Request) (chatStreamRequest, error) {
	var req chatStreamRequest
	if err := decodeJSON(r, &req); err != nil {
		return req, err
	}
	if req.Model == "" {
		return req, errors.New("model is required")
	}
	if len(req.Messages) == 0 {
		return req, errors.New("messages must not be empty")
	}
	return req, nil
}
