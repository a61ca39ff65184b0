package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/curatolabs/tracedesk/internal/parse"
)

// StatusError carries the upstream HTTP status for error classification.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("provider API error (status %d): %s", e.Status, e.Body)
}

// IsRetryable reports whether an error is worth retrying: upstream 429,
// upstream 5xx, or a network-level failure. Other 4xx are permanent.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Status == http.StatusTooManyRequests || statusErr.Status >= 500
	}
	// Context cancellation is not retryable; anything else at the network
	// level is.
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return true
}

// Config identifies one upstream provider target.
type Config struct {
	BaseURL string
	APIKey  string
	Family  Family

	// MaxRetries and RetryDelay drive the exponential connect backoff
	// (RetryDelay * 2^attempt). Applied to the initial handshake only,
	// skipped for non-429 4xx, and never after the context is cancelled.
	MaxRetries int
	RetryDelay time.Duration
}

// Client performs model calls against one provider target.
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a provider client. The HTTP client carries no timeout:
// streaming responses are open-ended and cancellation flows through the
// request context.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 2
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{},
		logger:     logger,
	}
}

// Family returns the configured provider family.
func (c *Client) Family() Family {
	return c.cfg.Family
}

// Complete performs a non-streaming call and returns the normalized whole
// response. Used by batch runners, which layer their own fixed-delay
// per-item retry on top of the connect backoff here.
func (c *Client) Complete(ctx context.Context, req Request) (Chunk, error) {
	req.Stream = false
	resp, err := c.connect(ctx, req)
	if err != nil {
		return Chunk{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Chunk{}, fmt.Errorf("read response: %w", err)
	}
	return parseCompleteResponse(body, c.cfg.Family)
}

// Stream performs a streaming call, invoking onChunk for every normalized
// frame. Cancellation is explicit: when ctx is done the upstream read is
// aborted and the connection torn down. Mid-stream failures are never
// retried; only the initial handshake is covered by backoff.
func (c *Client) Stream(ctx context.Context, req Request, onChunk func(Chunk) error) error {
	req.Stream = true
	resp, err := c.connect(ctx, req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		line := scanner.Bytes()
		frame, ok := c.extractFrame(line)
		if !ok {
			continue
		}

		chunk, err := ParseStreamChunk(frame, c.cfg.Family)
		if err != nil {
			// A single corrupt frame is skipped; the stream continues.
			c.logger.Debug("skipping malformed stream frame", "error", err)
			continue
		}

		if err := onChunk(chunk); err != nil {
			return err
		}
		if chunk.Done {
			return nil
		}
	}
	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("read stream: %w", err)
	}
	return nil
}

// extractFrame strips transport framing from one line. Chat and
// message-delta families use SSE "data:" prefixes; local-runtime frames
// are raw JSON objects, one per line.
func (c *Client) extractFrame(line []byte) ([]byte, bool) {
	if c.cfg.Family == FamilyLocal {
		trimmed := bytes.TrimSpace(line)
		return trimmed, len(trimmed) > 0
	}
	trimmed := bytes.TrimSpace(line)
	if !bytes.HasPrefix(trimmed, []byte("data:")) {
		// Event-name and comment lines carry no payload.
		return nil, false
	}
	return bytes.TrimSpace(trimmed[len("data:"):]), true
}

// connect performs the initial request with exponential backoff:
// RetryDelay * 2^attempt between attempts, retrying 429/5xx/network
// failures only, and stopping immediately once ctx is cancelled.
func (c *Client) connect(ctx context.Context, req Request) (*http.Response, error) {
	payload, err := json.Marshal(BuildPayload(req, c.cfg.Family))
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	endpoint := BuildEndpoint(c.cfg.BaseURL, c.cfg.Family)
	headers := BuildHeaders(c.cfg.APIKey, c.cfg.Family)

	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := c.cfg.RetryDelay * (1 << (attempt - 1))
			c.logger.Warn("retrying provider connect",
				"attempt", attempt,
				"max", c.cfg.MaxRetries,
				"delay", delay,
				"error", lastErr)
			if err := sleepWithContext(ctx, delay); err != nil {
				return nil, err
			}
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		for k, v := range headers {
			httpReq.Header.Set(k, v)
		}

		resp, err := c.httpClient.Do(httpReq)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = fmt.Errorf("send request: %w", err)
			continue
		}

		if resp.StatusCode < 400 {
			return resp, nil
		}

		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		statusErr := &StatusError{Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}

		// Non-429 4xx is permanent: fail fast, no backoff.
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return nil, statusErr
		}
		lastErr = statusErr
	}

	return nil, fmt.Errorf("all %d attempts exhausted: %w", c.cfg.MaxRetries+1, lastErr)
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Accumulator merges normalized chunks into one text buffer, synthesizing
// a virtual <think>...</think> wrapper around a native reasoning side
// channel. The tag opens on the first reasoning token and closes on the
// first subsequent content token (or at Close if reasoning was still
// open), so downstream parsing sees one tag convention regardless of
// whether the provider separates the channels or inlines tags itself.
type Accumulator struct {
	buf           strings.Builder
	reasoningOpen bool
}

// Add folds one chunk into the buffer and returns the text emitted for it.
func (a *Accumulator) Add(chunk Chunk) string {
	var emitted strings.Builder
	if chunk.ReasoningContent != "" {
		if !a.reasoningOpen {
			emitted.WriteString("<think>")
			a.reasoningOpen = true
		}
		emitted.WriteString(chunk.ReasoningContent)
	}
	if chunk.Content != "" {
		if a.reasoningOpen {
			emitted.WriteString("</think>")
			a.reasoningOpen = false
		}
		emitted.WriteString(chunk.Content)
	}
	s := emitted.String()
	a.buf.WriteString(s)
	return s
}

// Close force-closes an open reasoning span and returns the text emitted.
func (a *Accumulator) Close() string {
	if !a.reasoningOpen {
		return ""
	}
	a.reasoningOpen = false
	a.buf.WriteString("</think>")
	return "</think>"
}

// Text returns the full accumulated buffer.
func (a *Accumulator) Text() string {
	return a.buf.String()
}

// CombinedText returns the accumulated buffer for a completed chunk,
// applying the same synthesis to a non-streaming response.
func CombinedText(chunk Chunk) string {
	if chunk.ReasoningContent != "" {
		return parse.CombineReasoningContent(chunk.ReasoningContent, chunk.Content)
	}
	return chunk.Content
}
