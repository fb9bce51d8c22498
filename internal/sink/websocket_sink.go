package sink

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/leolilley/kiwi-mcp-sub008/internal/backoff"
)

// DefaultReconnectAttempts and DefaultBufferMaxSize match spec.md §4.5's
// WebSocketSink defaults.
const (
	DefaultReconnectAttempts = 3
	DefaultBufferMaxSize     = 1000
)

// WebSocketSink lazily connects on first write and reconnects with
// exponential backoff on send failure, buffering undeliverable events up
// to BufferMaxSize while disconnected (spec.md §4.5).
type WebSocketSink struct {
	mu                sync.Mutex
	url               string
	reconnectAttempts int
	bufferOnDisconnect bool
	bufferMaxSize     int

	conn    *websocket.Conn
	dialer  *websocket.Dialer
	buffer  [][]byte
	closed  bool
}

// WebSocketSinkOptions configures a WebSocketSink at construction.
type WebSocketSinkOptions struct {
	URL                string
	ReconnectAttempts  int
	BufferOnDisconnect bool
	BufferMaxSize      int
	Dialer             *websocket.Dialer
}

// NewWebSocketSink builds a sink with lazy connection semantics; no
// network I/O happens until the first Write.
func NewWebSocketSink(opts WebSocketSinkOptions) *WebSocketSink {
	attempts := opts.ReconnectAttempts
	if attempts <= 0 {
		attempts = DefaultReconnectAttempts
	}
	maxSize := opts.BufferMaxSize
	if maxSize <= 0 {
		maxSize = DefaultBufferMaxSize
	}
	dialer := opts.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	return &WebSocketSink{
		url:                opts.URL,
		reconnectAttempts:  attempts,
		bufferOnDisconnect: opts.BufferOnDisconnect,
		bufferMaxSize:      maxSize,
		dialer:             dialer,
	}
}

// Write sends event over the WebSocket connection, connecting lazily and
// reconnecting on failure. On persistent failure the event is buffered
// (if bufferOnDisconnect) up to bufferMaxSize and dropped silently past
// that cap; the buffer is retried on the next Write.
func (s *WebSocketSink) Write(event []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		if err := s.connectLocked(); err != nil {
			return s.bufferLocked(event)
		}
	}
	if err := s.flushBufferLocked(); err != nil {
		return s.bufferLocked(event)
	}
	if err := s.conn.WriteMessage(websocket.TextMessage, event); err != nil {
		s.conn.Close()
		s.conn = nil
		if reconnErr := s.connectLocked(); reconnErr == nil {
			if err := s.conn.WriteMessage(websocket.TextMessage, event); err == nil {
				return nil
			}
			s.conn.Close()
			s.conn = nil
		}
		return s.bufferLocked(event)
	}
	return nil
}

// connectLocked dials with exponential backoff, up to reconnectAttempts.
func (s *WebSocketSink) connectLocked() error {
	var lastErr error
	for attempt := 1; attempt <= s.reconnectAttempts; attempt++ {
		if attempt > 1 {
			time.Sleep(backoff.Compute(backoff.WebSocketReconnectPolicy(), attempt))
		}
		conn, _, err := s.dialer.Dial(s.url, nil)
		if err == nil {
			s.conn = conn
			return nil
		}
		lastErr = err
	}
	return lastErr
}

// flushBufferLocked attempts to drain any buffered events over the live
// connection, re-buffering on first failure.
func (s *WebSocketSink) flushBufferLocked() error {
	if len(s.buffer) == 0 || s.conn == nil {
		return nil
	}
	remaining := s.buffer[:0]
	var firstErr error
	for i, buffered := range s.buffer {
		if firstErr != nil {
			remaining = append(remaining, s.buffer[i:]...)
			break
		}
		if err := s.conn.WriteMessage(websocket.TextMessage, buffered); err != nil {
			firstErr = err
			remaining = append(remaining, buffered)
		}
	}
	s.buffer = remaining
	return firstErr
}

// bufferLocked appends event to the disconnect buffer if enabled,
// dropping it silently once bufferMaxSize is reached.
func (s *WebSocketSink) bufferLocked(event []byte) error {
	if !s.bufferOnDisconnect {
		return nil
	}
	if len(s.buffer) >= s.bufferMaxSize {
		return nil
	}
	cp := make([]byte, len(event))
	copy(cp, event)
	s.buffer = append(s.buffer, cp)
	return nil
}

// Close flushes any buffered events (best effort) then closes the
// connection.
func (s *WebSocketSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.conn != nil {
		_ = s.flushBufferLocked()
		err := s.conn.Close()
		s.conn = nil
		return err
	}
	return nil
}

// Type identifies this sink kind.
func (s *WebSocketSink) Type() string { return "websocket" }
