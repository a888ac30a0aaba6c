package chat

import (
	"context"
	"encoding/json"
)

// EventKind discriminates streamed turn events.
type EventKind string

const (
	// EventTextDelta carries an incremental piece of assistant text.
	EventTextDelta EventKind = "text"
	// EventToolStart announces a capability invocation before it runs.
	EventToolStart EventKind = "tool-start"
	// EventToolResult reports the settled outcome of an invocation.
	EventToolResult EventKind = "tool-result"
	// EventError is terminal: the stream failed after EventTextDelta
	// events that may already have been delivered.
	EventError EventKind = "error"
	// EventDone is the normal stream-end marker.
	EventDone EventKind = "done"
)

// Event is one element of a turn's response stream. Events arrive in
// the model's emission order: an EventToolResult always follows the
// EventToolStart of the same invocation.
type Event struct {
	Kind    EventKind       `json:"kind"`
	Text    string          `json:"text,omitempty"`
	Tool    string          `json:"tool,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Err     string          `json:"error,omitempty"`

	// SessionID accompanies EventDone so stream consumers learn the
	// identifier of an implicitly created session.
	SessionID string `json:"sessionId,omitempty"`
}

// Callback receives turn events as they are produced. Returning an
// error aborts the stream.
type Callback func(ctx context.Context, ev Event) error
