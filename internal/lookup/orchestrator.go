// Package lookup drives one word lookup end to end: it builds the prompt,
// consumes the streamed completion, parses the buffered text into a
// [types.LookupResult] and, when the model ignored the requested schema, runs
// a bounded repair loop.
//
// # Lifecycle
//
// An [Orchestrator] owns at most one in-flight request. [Orchestrator.Start]
// cancels the previous request before launching the next one in its own
// goroutine. Every request moves through
//
//	Streaming → Parsing → Finished
//	                    → Repairing → Parsing → … → Finished | Failed
//
// and may be cancelled from any non-terminal stage. Progress is reported on
// [Orchestrator.Events] as [Event] values tagged with the request ID. Exactly
// one terminal event is emitted per request and no partial event ever follows
// it.
//
// Cancellation is cooperative. It takes effect at the next fragment boundary
// or before the next repair call. Events of superseded requests may still be
// delivered; consumers drop them with [Orchestrator.IsStale].
package lookup

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/wordlens/internal/completion"
	"github.com/MrWong99/wordlens/internal/observe"
	"github.com/MrWong99/wordlens/internal/prompt"
	"github.com/MrWong99/wordlens/pkg/types"
)

// Default policy values.
const (
	DefaultMaxBasicMeanings = prompt.DefaultMaxBasicMeanings
	DefaultRepairAttempts   = 1
	DefaultThrottle         = 50 * time.Millisecond
)

var (
	// ErrEmptyWord is returned by Start when the word is blank.
	ErrEmptyWord = errors.New("lookup: word must not be empty")

	// ErrClosed is returned by Start after Close.
	ErrClosed = errors.New("lookup: orchestrator closed")

	// ErrCancelled is returned by [Lookup] when the request was cancelled.
	ErrCancelled = errors.New("lookup: cancelled")
)

// Settings is the per-request policy captured when a request starts.
type Settings struct {
	// Template is the prompt template. Empty selects the friendly Chinese
	// persona.
	Template string

	// Fields lists the optional fields and whether each is requested.
	Fields types.FieldSet

	// MaxBasicMeanings caps basic_meaning. Non-positive means the default.
	MaxBasicMeanings int

	// RepairAttempts bounds the repair loop. Negative means zero.
	RepairAttempts int

	// Throttle is the minimum interval between partial events. Zero emits on
	// every fragment.
	Throttle time.Duration
}

// DefaultSettings returns the built-in policy.
func DefaultSettings() Settings {
	return Settings{
		Template:         prompt.TemplateFor(types.StyleFriendly, types.LanguageChinese),
		Fields:           types.DefaultFields(),
		MaxBasicMeanings: DefaultMaxBasicMeanings,
		RepairAttempts:   DefaultRepairAttempts,
		Throttle:         DefaultThrottle,
	}
}

func (s Settings) normalized() Settings {
	if strings.TrimSpace(s.Template) == "" {
		s.Template = prompt.TemplateFor(types.StyleFriendly, types.LanguageChinese)
	}
	if s.Fields == nil {
		s.Fields = types.DefaultFields()
	} else {
		s.Fields = s.Fields.Clone()
	}
	if s.MaxBasicMeanings <= 0 {
		s.MaxBasicMeanings = DefaultMaxBasicMeanings
	}
	if s.RepairAttempts < 0 {
		s.RepairAttempts = 0
	}
	if s.Throttle < 0 {
		s.Throttle = 0
	}
	return s
}

// Orchestrator runs lookups against a [completion.Transport], one at a time.
//
// All methods are safe for concurrent use.
type Orchestrator struct {
	transport completion.Transport
	metrics   *observe.Metrics
	now       func() time.Time

	mu       sync.Mutex
	settings Settings
	active   *worker
	nextID   uint64
	closed   bool

	// current mirrors the latest started request ID for lock-free reads by
	// event consumers.
	current atomic.Uint64

	queue *eventQueue
	wg    sync.WaitGroup
}

// Option is a functional option for [New].
type Option func(*Orchestrator)

// WithSettings sets the initial policy. Default: [DefaultSettings].
func WithSettings(s Settings) Option {
	return func(o *Orchestrator) { o.settings = s.normalized() }
}

// WithMetrics records lookup outcomes, durations, repairs and fragments.
func WithMetrics(m *observe.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithClock overrides the time source used for throttling and durations.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// New creates an Orchestrator. Callers must Close it to stop the event pump.
func New(t completion.Transport, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		transport: t,
		now:       time.Now,
		settings:  DefaultSettings(),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.queue = newEventQueue()
	return o
}

// Events returns the channel on which all events are delivered in emission
// order. It is closed after [Orchestrator.Close] once every queued event was
// received, so consumers should keep draining it until then.
func (o *Orchestrator) Events() <-chan Event {
	return o.queue.out
}

// Current returns the ID of the most recently started request, or 0 before
// the first Start.
func (o *Orchestrator) Current() uint64 {
	return o.current.Load()
}

// IsStale reports whether ev belongs to a request other than the current one.
func (o *Orchestrator) IsStale(ev Event) bool {
	return ev.RequestID != o.current.Load()
}

// Settings returns the policy the next Start will use.
func (o *Orchestrator) Settings() Settings {
	o.mu.Lock()
	defer o.mu.Unlock()
	s := o.settings
	s.Fields = s.Fields.Clone()
	return s
}

// SetSettings replaces the policy. In-flight requests keep the settings they
// started with.
func (o *Orchestrator) SetSettings(s Settings) {
	o.mu.Lock()
	o.settings = s.normalized()
	o.mu.Unlock()
}

// Start cancels any in-flight request and begins looking up word as used in
// the surrounding text. It returns the new request ID. ctx bounds the
// request; cancelling it has the same effect as [Orchestrator.Cancel].
func (o *Orchestrator) Start(ctx context.Context, word, surrounding string) (uint64, error) {
	word = strings.TrimSpace(word)
	if word == "" {
		return 0, ErrEmptyWord
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return 0, ErrClosed
	}
	// Publish the new ID before cancelling so the superseded worker's
	// cancelled event is already stale when it is received.
	o.nextID++
	id := o.nextID
	o.current.Store(id)
	if o.active != nil {
		o.active.cancel()
	}

	w := newWorker(ctx, o, id, word, surrounding, o.settings)
	o.active = w
	o.wg.Add(1)
	go w.run()
	return id, nil
}

// Cancel requests cancellation of the in-flight request. It is a no-op when
// nothing is running or the request already reached a terminal state.
func (o *Orchestrator) Cancel() {
	o.mu.Lock()
	w := o.active
	o.mu.Unlock()
	if w != nil {
		w.cancel()
	}
}

// Close cancels the in-flight request, waits for its worker to exit and then
// closes the event channel once its backlog is delivered. Close is idempotent.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	w := o.active
	o.mu.Unlock()

	if w != nil {
		w.cancel()
	}
	o.wg.Wait()
	o.queue.close()
}

// Lookup runs a single request to completion and returns its result together
// with the raw model text. Failures are returned as the event's cause;
// cancellation returns ctx.Err() when ctx ended, or [ErrCancelled].
func Lookup(ctx context.Context, t completion.Transport, word, surrounding string, s Settings, opts ...Option) (types.LookupResult, string, error) {
	o := New(t, append([]Option{WithSettings(s)}, opts...)...)
	defer o.Close()

	id, err := o.Start(ctx, word, surrounding)
	if err != nil {
		return types.LookupResult{}, "", err
	}
	for ev := range o.Events() {
		if ev.RequestID != id || !ev.Kind.Terminal() {
			continue
		}
		switch ev.Kind {
		case EventFinished:
			return *ev.Result, ev.Raw, nil
		case EventFailed:
			return types.LookupResult{}, "", ev.Err
		}
		if err := ctx.Err(); err != nil {
			return types.LookupResult{}, "", err
		}
		return types.LookupResult{}, "", ErrCancelled
	}
	return types.LookupResult{}, "", ErrClosed
}
