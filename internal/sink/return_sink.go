package sink

import "sync"

// DefaultMaxBufferSize matches spec.md §4.5's ReturnSink default.
const DefaultMaxBufferSize = 10000

// ReturnSink buffers events in memory up to MaxSize, silently dropping
// anything past the cap (spec.md §4.5).
type ReturnSink struct {
	mu      sync.Mutex
	buffer  [][]byte
	maxSize int
	closed  bool
}

// NewReturnSink constructs a ReturnSink. A non-positive maxSize falls
// back to DefaultMaxBufferSize.
func NewReturnSink(maxSize int) *ReturnSink {
	if maxSize <= 0 {
		maxSize = DefaultMaxBufferSize
	}
	return &ReturnSink{maxSize: maxSize}
}

// Write appends event to the buffer, dropping it silently once the
// buffer has reached maxSize.
func (s *ReturnSink) Write(event []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.buffer) >= s.maxSize {
		return nil
	}
	cp := make([]byte, len(event))
	copy(cp, event)
	s.buffer = append(s.buffer, cp)
	return nil
}

// Close marks the sink closed. The buffer remains readable afterward.
func (s *ReturnSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Type identifies this sink kind.
func (s *ReturnSink) Type() string { return "return" }

// Buffer returns a snapshot of the buffered events in arrival order.
func (s *ReturnSink) Buffer() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.buffer))
	copy(out, s.buffer)
	return out
}

// Len reports the number of buffered events.
func (s *ReturnSink) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buffer)
}
