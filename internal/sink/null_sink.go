package sink

// NullSink discards every event. Grounded on nexus's agent.NopSink.
type NullSink struct{}

// Write does nothing and never errors.
func (NullSink) Write(event []byte) error { return nil }

// Close does nothing and never errors.
func (NullSink) Close() error { return nil }

// Type identifies this sink kind.
func (NullSink) Type() string { return "null" }
