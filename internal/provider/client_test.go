package provider

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/curatolabs/tracedesk/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRequest() Request {
	return Request{
		Model:    "test-model",
		Messages: []models.Message{{Role: "user", Content: "hello"}},
	}
}

func TestCompleteChat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		fmt.Fprint(w, `{"choices":[{"message":{"content":"hi","reasoning_content":"thinking"}}],"usage":{"prompt_tokens":1,"completion_tokens":2}}`)
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, APIKey: "sk-test", Family: FamilyChat}, nil)
	chunk, err := c.Complete(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, "hi", chunk.Content)
	assert.Equal(t, "thinking", chunk.ReasoningContent)
	assert.True(t, chunk.Done)
	require.NotNil(t, chunk.Usage)
	assert.Equal(t, 2, chunk.Usage.CompletionTokens)
}

func TestCompleteRetriesOn429(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		fmt.Fprint(w, `{"choices":[{"message":{"content":"ok"}}]}`)
	}))
	defer srv.Close()

	c := NewClient(Config{
		BaseURL:    srv.URL,
		Family:     FamilyChat,
		MaxRetries: 2,
		RetryDelay: time.Millisecond,
	}, nil)
	chunk, err := c.Complete(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, "ok", chunk.Content)
	assert.Equal(t, int32(3), calls.Load())
}

func TestCompleteFailsFastOn401(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "invalid key", http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, Family: FamilyChat, MaxRetries: 3, RetryDelay: time.Millisecond}, nil)
	_, err := c.Complete(context.Background(), testRequest())
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load(), "4xx must not be retried")

	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusUnauthorized, statusErr.Status)
	assert.False(t, IsRetryable(err))
}

func TestCompleteExhaustsRetries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, Family: FamilyChat, MaxRetries: 1, RetryDelay: time.Millisecond}, nil)
	_, err := c.Complete(context.Background(), testRequest())
	require.Error(t, err)
	assert.True(t, IsRetryable(err))
}

func TestStreamChatSSE(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"reasoning_content\":\"think\"}}]}\n\n")
		fmt.Fprint(w, ": keep-alive comment\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"answer\"}}]}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, Family: FamilyChat}, nil)

	var acc Accumulator
	var sawDone bool
	err := c.Stream(context.Background(), testRequest(), func(chunk Chunk) error {
		acc.Add(chunk)
		if chunk.Done {
			sawDone = true
		}
		return nil
	})
	require.NoError(t, err)
	acc.Close()

	assert.True(t, sawDone)
	assert.Equal(t, "<think>think</think>answer", acc.Text())
}

func TestStreamLocalNDJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		assert.Empty(t, r.Header.Get("Authorization"), "local runtime takes no bearer auth")
		fmt.Fprintln(w, `{"message":{"content":"to"},"done":false}`)
		fmt.Fprintln(w, `{"message":{"content":"ken"},"done":false}`)
		fmt.Fprintln(w, `{"message":{"content":""},"done":true,"eval_count":2}`)
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, Family: FamilyLocal}, nil)

	var text string
	var usage *Usage
	err := c.Stream(context.Background(), testRequest(), func(chunk Chunk) error {
		text += chunk.Content
		if chunk.Usage != nil {
			usage = chunk.Usage
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "token", text)
	require.NotNil(t, usage)
	assert.Equal(t, 2, usage.CompletionTokens)
}

func TestStreamCallbackErrorStops(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for i := 0; i < 100; i++ {
			fmt.Fprintf(w, "data: {\"choices\":[{\"delta\":{\"content\":\"c%d\"}}]}\n\n", i)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, Family: FamilyChat}, nil)

	var seen int
	stop := fmt.Errorf("stop requested")
	err := c.Stream(context.Background(), testRequest(), func(chunk Chunk) error {
		seen++
		if seen == 3 {
			return stop
		}
		return nil
	})
	require.ErrorIs(t, err, stop)
	assert.Equal(t, 3, seen)
}

func TestStreamCancelledContext(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"x\"}}]}\n\n")
		w.(http.Flusher).Flush()
		<-release
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	c := NewClient(Config{BaseURL: srv.URL, Family: FamilyChat}, nil)

	err := c.Stream(ctx, testRequest(), func(chunk Chunk) error {
		cancel()
		return nil
	})
	require.ErrorIs(t, err, context.Canceled)
}
