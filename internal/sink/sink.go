// Package sink implements the Sink interface and its built-in
// implementations (C5): ReturnSink, FileSink, NullSink, WebSocketSink.
// Grounded on nexus's internal/agent EventSink family (event_sink.go),
// adapted from a fan-out-of-agent-events shape to a fan-out-of-raw-bytes
// shape since the streaming HTTP primitive deals in opaque SSE payloads.
package sink

// Sink is a write endpoint for streamed bytes, with contract
// write(event) -> (), close() -> () (spec.md §3 GLOSSARY). Every sink
// implementation must tolerate Write after a failed prior Write, and
// Close must be idempotent from the caller's perspective: the stream
// runner calls it at most once, but a sink's own internals (e.g.
// WebSocketSink's reconnect loop) may need to guard repeat teardown.
type Sink interface {
	// Write delivers one event's raw payload to the sink.
	Write(event []byte) error
	// Close flushes and releases any resources held by the sink. Close
	// is called exactly once per sink that received at least one Write
	// attempt, even if every Write returned an error.
	Close() error
	// Type identifies the sink kind for HttpResult.stream_destinations.
	Type() string
}
