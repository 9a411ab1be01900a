// Package completion defines the narrow text-completion contract the lookup
// pipeline depends on, and an adapter that satisfies it with any
// [llm.Provider].
//
// A [Transport] offers two operations: a blocking Complete that returns the
// whole response, and a Stream that yields incremental text fragments through
// a forward-only, single-pass [Stream] iterator. Stream accepts a cancel probe
// that is polled between fragments so that a caller can stop consumption
// cooperatively without tearing down shared state.
package completion

import (
	"context"
	"errors"
)

// ErrCancelled is reported by [Stream.Err] when the cancel probe fired and the
// stream stopped reading.
var ErrCancelled = errors.New("completion: cancelled")

// TransportError describes a network, connection, status, or response-body
// failure while talking to the completion backend.
type TransportError struct {
	// Op is the failing operation: "stream", "read", or "complete".
	Op string

	// Err is the underlying cause.
	Err error
}

// Error returns the cause's message, which is surfaced to users verbatim.
func (e *TransportError) Error() string {
	if e.Err == nil {
		return "completion: " + e.Op + " failed"
	}
	return e.Err.Error()
}

// Unwrap returns the underlying cause.
func (e *TransportError) Unwrap() error { return e.Err }

// Probe reports whether the consumer has requested cancellation. It must be
// cheap and safe to call from any goroutine.
type Probe func() bool

// Stream is a forward-only, single-pass sequence of incremental text
// fragments. It is not restartable and not safe for concurrent use.
//
//	for s.Next() {
//	    buf.WriteString(s.Text())
//	}
//	if err := s.Err(); err != nil { … }
type Stream interface {
	// Next advances to the next non-empty fragment. It returns false once the
	// upstream signalled completion, an error occurred, or the probe fired.
	Next() bool

	// Text returns the current fragment. Fragments are deltas, never
	// cumulative.
	Text() string

	// Err returns nil after a clean end, [ErrCancelled] when the probe fired,
	// or a *[TransportError].
	Err() error

	// Close releases the underlying connection. It is safe to call more than
	// once and must be called even after Next returned false.
	Close() error
}

// Transport sends prompts to a completion backend.
//
// Implementations must be safe for concurrent use; each call owns its own
// connection.
type Transport interface {
	// Complete sends prompt and blocks until the full response text is
	// available. Failures are returned as *[TransportError].
	Complete(ctx context.Context, prompt string) (string, error)

	// Stream sends prompt and returns a [Stream] of text deltas. cancelled is
	// polled between fragments; once it reports true the stream stops reading
	// and reports [ErrCancelled]. Failures that prevent the stream from
	// starting are returned as *[TransportError].
	Stream(ctx context.Context, prompt string, cancelled Probe) (Stream, error)
}
