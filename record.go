package kolog

import "time"

// EventDict is the mutable payload of one log call: merged bound context,
// call-site fields and anything processors added.
type EventDict map[string]any

// clone makes a per-handler copy. Top-level keys are copied, and the nested
// "context" map gets its own copy too so handler processors never mutate the
// caller's bound context.
func (ev EventDict) clone() EventDict {
	out := make(EventDict, len(ev))
	for k, v := range ev {
		out[k] = v
	}
	if ctx, ok := ev["context"].(map[string]any); ok {
		cc := make(map[string]any, len(ctx))
		for k, v := range ctx {
			cc[k] = v
		}
		out["context"] = cc
	}
	return out
}

// Record is the immutable unit of one log call, ready for dispatch. The
// payload is conceptually frozen once the record is handed to the Manager;
// each handler pipeline operates on its own copy.
type Record struct {
	// LoggerName is the dot-separated routing key.
	LoggerName string
	// Event is the primary human-readable message.
	Event string
	// Timestamp is the creation time, UTC.
	Timestamp time.Time
	// Payload is the complete structured event data.
	Payload EventDict
}

// NewRecord builds a Record from a payload, pulling routing metadata out of
// the well-known keys.
func NewRecord(ev EventDict) *Record {
	rec := &Record{
		LoggerName: "notset",
		Timestamp:  time.Now().UTC(),
		Payload:    ev,
	}
	if name, ok := ev["name"].(string); ok && name != "" {
		rec.LoggerName = name
	}
	if event, ok := ev["event"].(string); ok {
		rec.Event = event
	}
	if ts, ok := ev["timestamp"].(time.Time); ok {
		rec.Timestamp = ts
	}
	return rec
}
