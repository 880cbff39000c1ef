// Package telemetry carries structured anomaly records out of the core.
// The core never owns formatting or destinations; it emits records into
// an injected Sink.
package telemetry

import "github.com/rs/zerolog"

// Record is one anomaly: what the core was doing, what went wrong, and
// the IDs needed to find the culprit.
type Record struct {
	// Component is the emitting component: codec, link, state,
	// dispatch, plugin, admin.
	Component string
	// Kind is the error taxonomy tag: frame_too_long, unknown_command,
	// malformed_parameters, conflict, transport, incompatible_abi,
	// load_error, plugin_fault.
	Kind string
	// Context carries contextual IDs (event kind, SID/UID, plugin name).
	Context map[string]string
	Err     error
}

// Sink receives anomaly records. Implementations must be safe for
// concurrent use.
type Sink interface {
	Report(rec Record)
}

// LogSink writes records to a zerolog logger at warn level.
type LogSink struct {
	log *zerolog.Logger
}

// NewLogSink builds a sink backed by the given logger.
func NewLogSink(logger *zerolog.Logger) *LogSink {
	return &LogSink{log: logger}
}

// Report implements Sink.
func (s *LogSink) Report(rec Record) {
	ev := s.log.Warn().Str("component", rec.Component).Str("kind", rec.Kind)
	for k, v := range rec.Context {
		ev = ev.Str(k, v)
	}
	if rec.Err != nil {
		ev = ev.Err(rec.Err)
	}
	ev.Msg("anomaly")
}

// Discard is a Sink that drops every record. Useful as a default and in
// tests that do not assert on anomalies.
type Discard struct{}

// Report implements Sink.
func (Discard) Report(Record) {}
