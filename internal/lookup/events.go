package lookup

import (
	"fmt"
	"sync"

	"github.com/MrWong99/wordlens/pkg/types"
)

// EventKind is the lifecycle stage an [Event] reports.
type EventKind int

const (
	// EventPartial carries the text buffered so far while streaming.
	EventPartial EventKind = iota + 1

	// EventFinished carries the validated result. Terminal.
	EventFinished

	// EventFailed carries the failure cause. Terminal.
	EventFailed

	// EventCancelled reports that the request was cancelled or superseded.
	// Terminal.
	EventCancelled
)

// String returns the lower-case event name used on the wire and in logs.
func (k EventKind) String() string {
	switch k {
	case EventPartial:
		return "partial"
	case EventFinished:
		return "finished"
	case EventFailed:
		return "failed"
	case EventCancelled:
		return "cancelled"
	}
	return fmt.Sprintf("EventKind(%d)", int(k))
}

// Terminal reports whether k ends a request.
func (k EventKind) Terminal() bool {
	return k == EventFinished || k == EventFailed || k == EventCancelled
}

// Event is one lifecycle emission of a lookup request. Consumers must drop
// events whose RequestID is not the orchestrator's current request; see
// [Orchestrator.IsStale].
type Event struct {
	RequestID uint64
	Kind      EventKind

	// Text is the accumulated stream buffer (EventPartial).
	Text string

	// Result is the validated result (EventFinished).
	Result *types.LookupResult

	// Raw is the unparsed stream buffer the result came from (EventFinished).
	Raw string

	// Fields are the optional-field toggles the request was started with
	// (EventFinished). Render with these, not the current settings.
	Fields types.FieldSet

	// Err is the failure cause (EventFailed): a *completion.TransportError or
	// a *RepairError.
	Err error
}

// Message returns the user-facing failure text, or "" for non-failed events.
func (e Event) Message() string {
	if e.Kind != EventFailed || e.Err == nil {
		return ""
	}
	return e.Err.Error()
}

// RepairError reports that model output stayed unparsable after every repair
// attempt was spent.
type RepairError struct {
	// Attempts is the number of repair completions that were issued.
	Attempts int

	// Last is the parse failure of the most recent output.
	Last *ParseError
}

func (e *RepairError) Error() string {
	if e.Attempts == 0 {
		return "could not parse model output: " + e.Last.Reason
	}
	return fmt.Sprintf("could not parse model output after %d repair attempts: %s", e.Attempts, e.Last.Reason)
}

// Unwrap returns the last *ParseError.
func (e *RepairError) Unwrap() error { return e.Last }

// eventQueue is an unbounded FIFO between workers and the consumer. push never
// blocks, so workers can emit while holding their own lock. A single pump
// goroutine forwards queued events to out in push order.
type eventQueue struct {
	mu     sync.Mutex
	items  []Event
	closed bool
	notify chan struct{}
	out    chan Event
}

func newEventQueue() *eventQueue {
	q := &eventQueue{
		notify: make(chan struct{}, 1),
		out:    make(chan Event),
	}
	go q.pump()
	return q
}

func (q *eventQueue) push(ev Event) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.items = append(q.items, ev)
	q.mu.Unlock()
	q.wake()
}

// close stops accepting events. Already queued events are still delivered
// before out is closed.
func (q *eventQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.wake()
}

func (q *eventQueue) wake() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *eventQueue) pump() {
	for {
		q.mu.Lock()
		if len(q.items) == 0 {
			closed := q.closed
			q.mu.Unlock()
			if closed {
				close(q.out)
				return
			}
			<-q.notify
			continue
		}
		ev := q.items[0]
		q.items[0] = Event{}
		q.items = q.items[1:]
		q.mu.Unlock()
		q.out <- ev
	}
}
