package metrics

// Sink records pipeline events for observability purposes. All methods
// must be safe for concurrent use and must never block the caller.
type Sink interface {
	// RecordMessage counts an inbound broker message on the given topic.
	RecordMessage(topic string)
	// RecordParseError counts a malformed or unparseable payload.
	RecordParseError(topic string)
	// RecordValidationError counts a measurement outside physical ranges.
	RecordValidationError(deviceID string)
	// RecordDuplicate counts a message suppressed by the dedup cache.
	RecordDuplicate(deviceID string)
	// RecordOutOfBoundsDelta counts a rejected energy delta. Reason is
	// "elapsed" or "energy".
	RecordOutOfBoundsDelta(deviceID, reason string)
	// RecordDurationViolation counts a quarter-hour interval whose span
	// is not exactly fifteen minutes.
	RecordDurationViolation(deviceID string)
	// RecordIncompleteBucket counts a rollup over fewer children than
	// expected.
	RecordIncompleteBucket(deviceID, intervalType string)
	// RecordQueueDrop counts a message discarded on worker queue overflow.
	RecordQueueDrop()
	// SetQueueDepth reports the current worker queue depth.
	SetQueueDepth(n int)
	// SetConnected reports broker connectivity.
	SetConnected(up bool)
	// ObserveDispatch records the wall time of one dispatch.
	ObserveDispatch(seconds float64)
}

// NopSink discards all events.
type NopSink struct{}

func (NopSink) RecordMessage(string)               {}
func (NopSink) RecordParseError(string)            {}
func (NopSink) RecordValidationError(string)       {}
func (NopSink) RecordDuplicate(string)             {}
func (NopSink) RecordOutOfBoundsDelta(_, _ string) {}
func (NopSink) RecordDurationViolation(string)     {}
func (NopSink) RecordIncompleteBucket(_, _ string) {}
func (NopSink) RecordQueueDrop()                   {}
func (NopSink) SetQueueDepth(int)                  {}
func (NopSink) SetConnected(bool)                  {}
func (NopSink) ObserveDispatch(float64)            {}
