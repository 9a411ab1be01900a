package lookup

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/wordlens/internal/completion"
	"github.com/MrWong99/wordlens/internal/observe"
	"github.com/MrWong99/wordlens/internal/prompt"
)

// worker owns the state of one request. The stream buffer is local to run;
// mu guards only the cancellation and terminal flags so that the terminal
// emission and cancel() are ordered against each other.
type worker struct {
	o        *Orchestrator
	id       uint64
	word     string
	context  string
	settings Settings

	ctx  context.Context
	stop context.CancelFunc

	mu        sync.Mutex
	cancelled bool
	terminal  bool
}

func newWorker(parent context.Context, o *Orchestrator, id uint64, word, surrounding string, s Settings) *worker {
	ctx, stop := context.WithCancel(parent)
	return &worker{
		o:        o,
		id:       id,
		word:     word,
		context:  surrounding,
		settings: s,
		ctx:      ctx,
		stop:     stop,
	}
}

// cancel flags the request and aborts any blocking transport call. After a
// terminal event has been emitted it only releases the context.
func (w *worker) cancel() {
	w.mu.Lock()
	if !w.terminal {
		w.cancelled = true
	}
	w.mu.Unlock()
	w.stop()
}

// stopped is the cancel probe handed to the transport.
func (w *worker) stopped() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stoppedLocked()
}

func (w *worker) stoppedLocked() bool {
	return w.cancelled || w.ctx.Err() != nil
}

// emitPartial publishes buf unless the request was cancelled or already
// ended. It reports whether the event was emitted.
func (w *worker) emitPartial(buf string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.terminal || w.stoppedLocked() {
		return false
	}
	w.o.queue.push(Event{RequestID: w.id, Kind: EventPartial, Text: buf})
	return true
}

// finish emits the terminal event exactly once. A request that was cancelled
// before this point reports cancelled regardless of its outcome.
func (w *worker) finish(ev Event) Event {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stoppedLocked() {
		ev = Event{Kind: EventCancelled}
	}
	if ev.Kind == EventFinished {
		ev.Fields = w.settings.Fields.Clone()
	}
	ev.RequestID = w.id
	w.terminal = true
	w.o.queue.push(ev)
	return ev
}

func (w *worker) run() {
	defer w.o.wg.Done()
	defer w.stop()

	start := w.o.now()
	ctx, span := observe.StartLookup(w.ctx, w.id, w.word)

	ev := w.finish(w.execute(ctx))
	elapsed := w.o.now().Sub(start)

	log := observe.Logger(ctx).With("request_id", w.id, "word", w.word)
	outcome := ev.Kind.String()
	switch ev.Kind {
	case EventFinished:
		log.Info("lookup finished", "duration", elapsed)
	case EventFailed:
		log.Warn("lookup failed", "duration", elapsed, "err", ev.Err)
	default:
		log.Debug("lookup cancelled", "duration", elapsed)
	}
	observe.EndLookup(span, outcome, ev.Message())
	if w.o.metrics != nil {
		w.o.metrics.RecordLookup(ctx, outcome, elapsed)
	}
}

// execute runs the request up to, but excluding, its terminal emission.
func (w *worker) execute(ctx context.Context) Event {
	s := w.settings
	text := prompt.BuildLookupPrompt(s.Template, w.word, w.context, s.Fields, s.MaxBasicMeanings)

	if w.stopped() {
		return Event{Kind: EventCancelled}
	}
	stream, err := w.o.transport.Stream(ctx, text, w.stopped)
	if err != nil {
		if w.stopped() || errors.Is(err, completion.ErrCancelled) {
			return Event{Kind: EventCancelled}
		}
		return Event{Kind: EventFailed, Err: err}
	}

	buf, err := w.consume(ctx, stream)
	_ = stream.Close()
	switch {
	case errors.Is(err, completion.ErrCancelled) || w.stopped():
		return Event{Kind: EventCancelled}
	case err != nil && buf == "":
		return Event{Kind: EventFailed, Err: err}
	case err != nil:
		slog.Warn("lookup: stream interrupted, parsing buffered text",
			"request_id", w.id, "buffered", len(buf), "err", err)
	}

	return w.parseAndRepair(ctx, buf)
}

// consume reads stream into a buffer. The first fragment is published at
// once, later ones at most once per Throttle, and the full buffer once more
// after the stream ends.
func (w *worker) consume(ctx context.Context, stream completion.Stream) (string, error) {
	var (
		sb        strings.Builder
		last      time.Time
		emitted   bool
		fragments int
	)
	for stream.Next() {
		sb.WriteString(stream.Text())
		fragments++
		if now := w.o.now(); !emitted || now.Sub(last) >= w.settings.Throttle {
			if !w.emitPartial(sb.String()) {
				break
			}
			emitted, last = true, now
		}
	}
	if w.o.metrics != nil {
		w.o.metrics.RecordFragments(ctx, fragments)
	}

	if w.stopped() {
		return sb.String(), completion.ErrCancelled
	}
	err := stream.Err()
	if err == nil || sb.Len() > 0 {
		w.emitPartial(sb.String())
	}
	return sb.String(), err
}

// parseAndRepair parses buf and, on failure, asks the model to repair its own
// output up to RepairAttempts times. Each repair starts from the most recent
// invalid text.
func (w *worker) parseAndRepair(ctx context.Context, buf string) Event {
	maxBasic := w.settings.MaxBasicMeanings
	res, err := ParseResult(buf, maxBasic)
	if err == nil {
		return Event{Kind: EventFinished, Result: &res, Raw: buf}
	}

	var last *ParseError
	errors.As(err, &last)
	invalid := buf
	for attempt := 1; attempt <= w.settings.RepairAttempts; attempt++ {
		if w.stopped() {
			return Event{Kind: EventCancelled}
		}
		slog.Debug("lookup: repairing model output",
			"request_id", w.id, "attempt", attempt, "reason", last.Reason)
		if w.o.metrics != nil {
			w.o.metrics.RecordRepair(ctx)
		}

		repaired, err := w.o.transport.Complete(ctx, prompt.BuildRepairPrompt(invalid, maxBasic))
		if err != nil {
			if w.stopped() {
				return Event{Kind: EventCancelled}
			}
			return Event{Kind: EventFailed, Err: err}
		}

		res, err := ParseResult(repaired, maxBasic)
		if err == nil {
			return Event{Kind: EventFinished, Result: &res, Raw: buf}
		}
		errors.As(err, &last)
		invalid = repaired
	}
	return Event{Kind: EventFailed, Err: &RepairError{Attempts: w.settings.RepairAttempts, Last: last}}
}
