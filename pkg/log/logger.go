package log

// Logger receives protocol trace events. Components accept nil and fall back
// to NoopLogger.
type Logger interface {
	// Log records a protocol event. Implementations must be thread-safe
	// and must not block the protocol thread for long.
	Log(event Event)
}

// NoopLogger discards all events. It is usable as a zero value.
type NoopLogger struct{}

// Log discards the event.
func (NoopLogger) Log(Event) {}

var _ Logger = NoopLogger{}
