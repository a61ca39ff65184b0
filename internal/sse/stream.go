// Package sse wraps an http.ResponseWriter as a server-sent-event push
// channel: connection lifecycle, keep-alive pings, cooperative abort, and a
// handler contract that guarantees exactly one terminal event per request.
package sse

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

const (
	// pingInterval is the keep-alive comment cadence. Sub-second keeps
	// intermediaries from timing out idle chunked responses during slow
	// model generations.
	pingInterval = 500 * time.Millisecond

	// coalesceDelay spaces the second open-comment from the first. Some
	// clients coalesce connections that go idle immediately after the
	// headers; a second early frame defeats that heuristic.
	coalesceDelay = 100 * time.Millisecond
)

// connState is the connection lifecycle. The aborted flag is orthogonal and
// can be set in any state.
type connState int

const (
	stateConnecting connState = iota
	stateOpen
	stateClosing
	stateClosed
)

// EventDone and friends are the event vocabulary on the wire.
const (
	EventChunk = "chunk"
	EventDone  = "done"
	EventError = "error"
)

// Stream is one SSE connection. Not safe to share across requests; the
// wrapper creates one per handler invocation and destroys it on close.
type Stream struct {
	w       http.ResponseWriter
	flusher http.Flusher
	req     *http.Request
	logger  *slog.Logger

	mu           sync.Mutex
	state        connState
	terminalSent bool
	writeFailed  bool
	eventsSent   int
	bytesSent    int64

	aborted  atomic.Bool
	pingStop chan struct{}
}

// Handler is the business-logic contract. It either returns a result object
// (emitted as a done event) or an error (classified and emitted as an error
// event). The wrapper guarantees exactly one terminal event and always closes
// the channel, even if the handler never checked IsAborted.
type Handler func(s *Stream) (any, error)

// Serve runs a handler over a fresh SSE connection.
func Serve(w http.ResponseWriter, r *http.Request, logger *slog.Logger, h Handler) {
	if logger == nil {
		logger = slog.Default()
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	s := &Stream{
		w:        w,
		flusher:  flusher,
		req:      r,
		logger:   logger,
		pingStop: make(chan struct{}),
	}
	s.open()
	defer s.close()

	// Only the request context is an authoritative disconnect signal. The
	// response side's close fires unreliably under chunked transfer and must
	// never trigger abort; a failed write merely stops keep-alives.
	watchDone := make(chan struct{})
	defer close(watchDone)
	go func() {
		select {
		case <-r.Context().Done():
			s.aborted.Store(true)
		case <-watchDone:
		}
	}()

	result, err := h(s)

	switch {
	case s.IsAborted():
		// Client is gone: no terminal event has an audience.
		logger.Debug("stream aborted by client", "events_sent", s.eventsSent)
	case err != nil:
		s.sendTerminal(EventError, Classify(err))
	default:
		s.sendTerminal(EventDone, result)
	}
}

// open transitions to the open state and starts the keep-alive loop.
func (s *Stream) open() {
	h := s.w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	// Tell buffering reverse proxies to pass frames through unmodified.
	h.Set("X-Accel-Buffering", "no")

	// Streaming responses are open-ended: drop any server write deadline.
	rc := http.NewResponseController(s.w)
	_ = rc.SetWriteDeadline(time.Time{})

	s.mu.Lock()
	s.state = stateOpen
	// First comment forces the channel open through intermediary buffers.
	s.writeComment("connected")
	s.mu.Unlock()

	go s.keepAlive()
}

// keepAlive sends the anti-coalescing second comment and then periodic
// pings. It self-cancels the moment the connection closes or aborts; it is
// never the last thing holding the process open.
func (s *Stream) keepAlive() {
	select {
	case <-time.After(coalesceDelay):
		s.Ping()
	case <-s.pingStop:
		return
	case <-s.req.Context().Done():
		return
	}

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.Ping()
		case <-s.pingStop:
			return
		case <-s.req.Context().Done():
			return
		}
	}
}

// Ping writes an unnamed comment frame.
func (s *Stream) Ping() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != stateOpen || s.writeFailed {
		return
	}
	s.writeComment("ping")
}

// SendChunk emits an incremental content event.
func (s *Stream) SendChunk(payload any) error {
	return s.send(EventChunk, payload)
}

// IsAborted reports whether the client has disconnected or cancelled.
func (s *Stream) IsAborted() bool {
	return s.aborted.Load()
}

// Request returns the underlying request; its context is the cancellation
// token handlers should pass to upstream calls.
func (s *Stream) Request() *http.Request {
	return s.req
}

// send writes one named event frame.
func (s *Stream) send(event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", event, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != stateOpen {
		return fmt.Errorf("stream closed")
	}
	if s.writeFailed {
		return fmt.Errorf("stream write failed")
	}

	frame := fmt.Sprintf("event: %s\ndata: %s\n\n", event, data)
	if _, err := fmt.Fprint(s.w, frame); err != nil {
		// Response-side failure: stop writing, but do not flip aborted;
		// only the request context decides that.
		s.writeFailed = true
		return fmt.Errorf("write %s event: %w", event, err)
	}
	s.flusher.Flush()
	s.eventsSent++
	s.bytesSent += int64(len(frame))
	return nil
}

// sendTerminal emits the done or error event at most once per connection.
func (s *Stream) sendTerminal(event string, payload any) {
	s.mu.Lock()
	if s.terminalSent {
		s.mu.Unlock()
		return
	}
	s.terminalSent = true
	s.mu.Unlock()

	if err := s.send(event, payload); err != nil {
		s.logger.Debug("failed to send terminal event", "event", event, "error", err)
	}
}

// close tears the connection down and stops the keep-alive loop.
func (s *Stream) close() {
	s.mu.Lock()
	if s.state == stateClosed {
		s.mu.Unlock()
		return
	}
	s.state = stateClosing
	close(s.pingStop)
	s.state = stateClosed
	s.mu.Unlock()
}

// writeComment writes a raw comment frame. Caller holds s.mu.
func (s *Stream) writeComment(text string) {
	if _, err := fmt.Fprintf(s.w, ": %s\n\n", text); err != nil {
		s.writeFailed = true
		return
	}
	s.flusher.Flush()
}
