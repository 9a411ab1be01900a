package lookup_test

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/MrWong99/wordlens/internal/completion"
	"github.com/MrWong99/wordlens/internal/lookup"
	"github.com/MrWong99/wordlens/internal/observe"
	"github.com/MrWong99/wordlens/pkg/provider/llm"
	"github.com/MrWong99/wordlens/pkg/provider/llm/mock"
)

const waitTimeout = 5 * time.Second

// ── fake transport ───────────────────────────────────────────────────────────

type streamFunc func(ctx context.Context, probe completion.Probe) (completion.Stream, error)

// fakeTransport hands out one scripted stream per Stream call and returns
// repairs in order (the last one repeats) from Complete.
type fakeTransport struct {
	mu      sync.Mutex
	streams []streamFunc

	repairs   []string
	repairErr error

	streamPrompts   []string
	completePrompts []string
	streamCtxs      []context.Context
}

func (f *fakeTransport) Stream(ctx context.Context, prompt string, probe completion.Probe) (completion.Stream, error) {
	f.mu.Lock()
	i := len(f.streamPrompts)
	f.streamPrompts = append(f.streamPrompts, prompt)
	f.streamCtxs = append(f.streamCtxs, ctx)
	fn := f.streams[min(i, len(f.streams)-1)]
	f.mu.Unlock()
	return fn(ctx, probe)
}

func (f *fakeTransport) Complete(_ context.Context, prompt string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completePrompts = append(f.completePrompts, prompt)
	if f.repairErr != nil {
		return "", f.repairErr
	}
	if len(f.repairs) == 0 {
		return "", nil
	}
	return f.repairs[min(len(f.completePrompts)-1, len(f.repairs)-1)], nil
}

func (f *fakeTransport) completeCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.completePrompts)
}

// chanStream yields fragments from a channel and stops on probe or ctx.
type chanStream struct {
	ctx    context.Context
	frags  <-chan string
	endErr error
	probe  completion.Probe
	cur    string
	err    error
	done   bool
}

func (s *chanStream) Next() bool {
	if s.done {
		return false
	}
	if s.probe() {
		return s.end(completion.ErrCancelled)
	}
	select {
	case f, ok := <-s.frags:
		if !ok {
			return s.end(s.endErr)
		}
		s.cur = f
		return true
	case <-s.ctx.Done():
		return s.end(completion.ErrCancelled)
	}
}

func (s *chanStream) end(err error) bool {
	s.done, s.err, s.cur = true, err, ""
	return false
}

func (s *chanStream) Text() string { return s.cur }
func (s *chanStream) Err() error   { return s.err }
func (s *chanStream) Close() error { return nil }

// frags returns a stream of the given fragments that ends with endErr.
func frags(endErr error, fs ...string) streamFunc {
	return func(ctx context.Context, probe completion.Probe) (completion.Stream, error) {
		ch := make(chan string, len(fs))
		for _, f := range fs {
			ch <- f
		}
		close(ch)
		return &chanStream{ctx: ctx, frags: ch, endErr: endErr, probe: probe}, nil
	}
}

// gated returns a stream fed by the test through ch.
func gated(ch <-chan string) streamFunc {
	return func(ctx context.Context, probe completion.Probe) (completion.Stream, error) {
		return &chanStream{ctx: ctx, frags: ch, probe: probe}, nil
	}
}

func failStart(err error) streamFunc {
	return func(context.Context, completion.Probe) (completion.Stream, error) { return nil, err }
}

// ── helpers ──────────────────────────────────────────────────────────────────

func settings(repairs int) lookup.Settings {
	s := lookup.DefaultSettings()
	s.RepairAttempts = repairs
	return s
}

// untilTerminal collects events for id until its terminal event.
func untilTerminal(t *testing.T, o *lookup.Orchestrator, id uint64) (partials []lookup.Event, term lookup.Event) {
	t.Helper()
	timeout := time.After(waitTimeout)
	for {
		select {
		case ev, ok := <-o.Events():
			if !ok {
				t.Fatal("event channel closed before terminal event")
			}
			if ev.RequestID != id {
				continue
			}
			if ev.Kind.Terminal() {
				return partials, ev
			}
			partials = append(partials, ev)
		case <-timeout:
			t.Fatalf("timed out waiting for terminal event of request %d", id)
		}
	}
}

// drain closes o and returns every remaining event.
func drain(o *lookup.Orchestrator) []lookup.Event {
	go o.Close()
	var out []lookup.Event
	for ev := range o.Events() {
		out = append(out, ev)
	}
	return out
}

const catJSON = `{"word": "cat", "basic_meaning": ["a small domesticated feline"], "contextual_meaning": "refers to the pet in the story"}`

// ── scenarios ────────────────────────────────────────────────────────────────

func TestOrchestrator_StreamedFragmentsFinish(t *testing.T) {
	t.Parallel()
	chunks := []string{
		`{"word": "cat",`,
		` "basic_meaning": ["a small domesticated feline"],`,
		` "contextual_meaning": "refers to the pet in the story"}`,
	}
	p := &mock.Provider{}
	for _, c := range chunks {
		p.StreamChunks = append(p.StreamChunks, llm.Chunk{Text: c})
	}
	o := lookup.New(completion.NewLLM(p), lookup.WithSettings(settings(1)))
	defer o.Close()

	id, err := o.Start(context.Background(), "cat", "The cat sat on the mat.")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	partials, term := untilTerminal(t, o, id)

	if term.Kind != lookup.EventFinished {
		t.Fatalf("terminal kind = %v (%s), want finished", term.Kind, term.Message())
	}
	full := strings.Join(chunks, "")
	if term.Raw != full {
		t.Errorf("raw = %q, want %q", term.Raw, full)
	}
	want := []string{"a small domesticated feline"}
	if r := term.Result; r.Word != "cat" || !reflect.DeepEqual(r.BasicMeaning, want) ||
		r.ContextualMeaning != "refers to the pet in the story" || len(r.Optional) != 0 {
		t.Errorf("unexpected result: %+v", r)
	}
	if len(partials) == 0 || partials[len(partials)-1].Text != full {
		t.Errorf("final partial must carry the full buffer, got %+v", partials)
	}
	for i := 1; i < len(partials); i++ {
		if !strings.HasPrefix(partials[i].Text, partials[i-1].Text) {
			t.Errorf("partial %d is not an extension of the previous buffer", i)
		}
	}
	if p.CompleteCallCount() != 0 {
		t.Errorf("no repair expected, got %d complete calls", p.CompleteCallCount())
	}
	if !strings.Contains(p.StreamCalls[0].Req.Messages[0].Content, "The cat sat on the mat.") {
		t.Error("prompt must carry the context")
	}
}

func TestOrchestrator_ProseWithFailedRepair(t *testing.T) {
	t.Parallel()
	tr := &fakeTransport{
		streams: []streamFunc{frags(nil, "The word cat means a feline.")},
		repairs: []string{"Sorry, a cat is a feline."},
	}
	o := lookup.New(tr, lookup.WithSettings(settings(1)))
	defer o.Close()

	id, _ := o.Start(context.Background(), "cat", "")
	_, term := untilTerminal(t, o, id)

	if term.Kind != lookup.EventFailed {
		t.Fatalf("terminal kind = %v, want failed", term.Kind)
	}
	if got := tr.completeCalls(); got != 1 {
		t.Errorf("repair calls = %d, want 1", got)
	}
	if !strings.Contains(term.Message(), "could not parse model output after 1 repair attempts") {
		t.Errorf("message = %q", term.Message())
	}
	var re *lookup.RepairError
	if !errors.As(term.Err, &re) || re.Attempts != 1 {
		t.Errorf("expected RepairError with 1 attempt, got %v", term.Err)
	}
	var pe *lookup.ParseError
	if !errors.As(term.Err, &pe) || pe.Reason != "no JSON object found" {
		t.Errorf("expected wrapped ParseError, got %v", term.Err)
	}
}

func TestOrchestrator_RepairBound(t *testing.T) {
	t.Parallel()
	for _, n := range []int{0, 1, 3} {
		t.Run(fmt.Sprintf("attempts=%d", n), func(t *testing.T) {
			t.Parallel()
			tr := &fakeTransport{
				streams: []streamFunc{frags(nil, "not json")},
				repairs: []string{"still not json"},
			}
			o := lookup.New(tr, lookup.WithSettings(settings(n)))
			defer o.Close()

			id, _ := o.Start(context.Background(), "w", "")
			_, term := untilTerminal(t, o, id)
			if term.Kind != lookup.EventFailed {
				t.Fatalf("terminal kind = %v, want failed", term.Kind)
			}
			if got := tr.completeCalls(); got != n {
				t.Errorf("repair calls = %d, want %d", got, n)
			}
			if n == 0 && term.Message() != "could not parse model output: no JSON object found" {
				t.Errorf("message = %q", term.Message())
			}
		})
	}
}

func TestOrchestrator_RepairChainsFromLatestOutput(t *testing.T) {
	t.Parallel()
	tr := &fakeTransport{
		streams: []streamFunc{frags(nil, "first invalid")},
		repairs: []string{"second invalid", "```json\n" + catJSON + "\n```"},
	}
	o := lookup.New(tr, lookup.WithSettings(settings(2)))
	defer o.Close()

	id, _ := o.Start(context.Background(), "cat", "")
	_, term := untilTerminal(t, o, id)
	if term.Kind != lookup.EventFinished {
		t.Fatalf("terminal kind = %v (%s), want finished", term.Kind, term.Message())
	}
	if term.Raw != "first invalid" {
		t.Errorf("raw must be the original stream buffer, got %q", term.Raw)
	}
	if len(tr.completePrompts) != 2 {
		t.Fatalf("repair calls = %d, want 2", len(tr.completePrompts))
	}
	if !strings.HasSuffix(tr.completePrompts[0], "first invalid") {
		t.Errorf("first repair must wrap the stream buffer: %q", tr.completePrompts[0])
	}
	if !strings.HasSuffix(tr.completePrompts[1], "second invalid") {
		t.Errorf("second repair must wrap the previous repair output: %q", tr.completePrompts[1])
	}
}

func TestOrchestrator_RepairTransportErrorIsFatal(t *testing.T) {
	t.Parallel()
	tr := &fakeTransport{
		streams:   []streamFunc{frags(nil, "prose")},
		repairErr: &completion.TransportError{Op: "complete", Err: errors.New("status 503: overloaded")},
	}
	o := lookup.New(tr, lookup.WithSettings(settings(3)))
	defer o.Close()

	id, _ := o.Start(context.Background(), "w", "")
	_, term := untilTerminal(t, o, id)
	if term.Kind != lookup.EventFailed || term.Message() != "status 503: overloaded" {
		t.Fatalf("got %v %q, want failed with transport message", term.Kind, term.Message())
	}
	if got := tr.completeCalls(); got != 1 {
		t.Errorf("repair calls = %d, want 1", got)
	}
}

func TestOrchestrator_StreamStartFailure(t *testing.T) {
	t.Parallel()
	tr := &fakeTransport{streams: []streamFunc{
		failStart(&completion.TransportError{Op: "stream", Err: errors.New("compat: status 401: invalid api key")}),
	}}
	o := lookup.New(tr)
	defer o.Close()

	id, _ := o.Start(context.Background(), "w", "")
	partials, term := untilTerminal(t, o, id)
	if term.Kind != lookup.EventFailed || term.Message() != "compat: status 401: invalid api key" {
		t.Fatalf("got %v %q", term.Kind, term.Message())
	}
	if len(partials) != 0 {
		t.Errorf("no partials expected, got %d", len(partials))
	}
	if tr.completeCalls() != 0 {
		t.Error("transport failures must not trigger repair")
	}
}

func TestOrchestrator_MidStreamFailure(t *testing.T) {
	t.Parallel()
	readErr := &completion.TransportError{Op: "read", Err: errors.New("connection reset")}

	t.Run("after text parses buffer", func(t *testing.T) {
		t.Parallel()
		tr := &fakeTransport{streams: []streamFunc{frags(readErr, catJSON)}}
		o := lookup.New(tr)
		defer o.Close()
		id, _ := o.Start(context.Background(), "cat", "")
		_, term := untilTerminal(t, o, id)
		if term.Kind != lookup.EventFinished {
			t.Fatalf("terminal kind = %v (%s), want finished", term.Kind, term.Message())
		}
	})

	t.Run("before text fails", func(t *testing.T) {
		t.Parallel()
		tr := &fakeTransport{streams: []streamFunc{frags(readErr)}}
		o := lookup.New(tr)
		defer o.Close()
		id, _ := o.Start(context.Background(), "cat", "")
		_, term := untilTerminal(t, o, id)
		if term.Kind != lookup.EventFailed || term.Message() != "connection reset" {
			t.Fatalf("got %v %q", term.Kind, term.Message())
		}
	})
}

// ── cancellation ─────────────────────────────────────────────────────────────

func TestOrchestrator_CancelIsTerminal(t *testing.T) {
	t.Parallel()
	feed := make(chan string)
	tr := &fakeTransport{streams: []streamFunc{gated(feed)}}
	o := lookup.New(tr, lookup.WithSettings(settings(1)))

	id, _ := o.Start(context.Background(), "cat", "")
	feed <- `{"word":"cat",`

	select {
	case ev := <-o.Events():
		if ev.Kind != lookup.EventPartial || ev.RequestID != id {
			t.Fatalf("expected first partial, got %+v", ev)
		}
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for partial")
	}

	o.Cancel()
	o.Cancel()

	rest := drain(o)
	var cancelled int
	for _, ev := range rest {
		switch ev.Kind {
		case lookup.EventCancelled:
			cancelled++
		default:
			t.Errorf("unexpected event after cancel: %+v", ev)
		}
	}
	if cancelled != 1 {
		t.Errorf("cancelled events = %d, want exactly 1", cancelled)
	}
	if tr.completeCalls() != 0 {
		t.Error("cancelled request must not repair")
	}
	o.Cancel()
}

func TestOrchestrator_CancelAfterFinishIsNoop(t *testing.T) {
	t.Parallel()
	tr := &fakeTransport{streams: []streamFunc{frags(nil, catJSON)}}
	o := lookup.New(tr)
	id, _ := o.Start(context.Background(), "cat", "")
	_, term := untilTerminal(t, o, id)
	if term.Kind != lookup.EventFinished {
		t.Fatalf("terminal kind = %v", term.Kind)
	}
	o.Cancel()
	for _, ev := range drain(o) {
		t.Errorf("no events expected after finish, got %+v", ev)
	}
}

func TestOrchestrator_ContextCancellation(t *testing.T) {
	t.Parallel()
	feed := make(chan string)
	tr := &fakeTransport{streams: []streamFunc{gated(feed)}}
	o := lookup.New(tr)
	defer o.Close()

	ctx, cancel := context.WithCancel(context.Background())
	id, _ := o.Start(ctx, "cat", "")
	cancel()
	_, term := untilTerminal(t, o, id)
	if term.Kind != lookup.EventCancelled {
		t.Fatalf("terminal kind = %v, want cancelled", term.Kind)
	}
}

func TestOrchestrator_CancelDuringRepair(t *testing.T) {
	t.Parallel()
	entered := make(chan struct{})
	release := make(chan struct{})
	tr := &blockingRepair{
		fakeTransport: fakeTransport{streams: []streamFunc{frags(nil, "prose")}},
		entered:       entered,
		release:       release,
	}
	o := lookup.New(tr, lookup.WithSettings(settings(2)))
	defer o.Close()

	id, _ := o.Start(context.Background(), "w", "")
	select {
	case <-entered:
	case <-time.After(waitTimeout):
		t.Fatal("repair never started")
	}
	o.Cancel()
	close(release)

	_, term := untilTerminal(t, o, id)
	if term.Kind != lookup.EventCancelled {
		t.Fatalf("terminal kind = %v, want cancelled", term.Kind)
	}
	if got := tr.calls.Load(); got != 1 {
		t.Errorf("repair calls = %d, want 1 (no repair after cancel)", got)
	}
}

// blockingRepair blocks in Complete until release is closed or ctx ends.
type blockingRepair struct {
	fakeTransport
	entered chan struct{}
	release chan struct{}
	calls   atomic.Int32
}

func (b *blockingRepair) Complete(ctx context.Context, _ string) (string, error) {
	if b.calls.Add(1) == 1 {
		close(b.entered)
	}
	select {
	case <-b.release:
		return "still prose", nil
	case <-ctx.Done():
		return "", &completion.TransportError{Op: "complete", Err: ctx.Err()}
	}
}

func TestOrchestrator_SupersedeSuppressesStaleEvents(t *testing.T) {
	t.Parallel()
	appleFeed := make(chan string)
	banana := `{"word":"banana","basic_meaning":["a long yellow fruit"],"contextual_meaning":"the fruit she peeled"}`
	tr := &fakeTransport{streams: []streamFunc{
		gated(appleFeed),
		frags(nil, banana[:20], banana[20:]),
	}}
	o := lookup.New(tr, lookup.WithSettings(lookup.Settings{Throttle: 0}))

	first, _ := o.Start(context.Background(), "apple", "She ate an apple.")
	appleFeed <- `{"word":"apple",`
	second, err := o.Start(context.Background(), "banana", "She peeled a banana.")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if second <= first {
		t.Fatalf("request ids must increase: %d then %d", first, second)
	}
	if o.Current() != second {
		t.Errorf("Current = %d, want %d", o.Current(), second)
	}

	tr.mu.Lock()
	appleCtx := tr.streamCtxs[0]
	tr.mu.Unlock()
	select {
	case <-appleCtx.Done():
	case <-time.After(waitTimeout):
		t.Fatal("superseded request was not cancelled")
	}

	var finished bool
	var raw []lookup.Event
	timeout := time.After(waitTimeout)
	for !finished {
		select {
		case ev := <-o.Events():
			raw = append(raw, ev)
			if o.IsStale(ev) {
				continue
			}
			if ev.RequestID != second {
				t.Fatalf("stale event reached consumer: %+v", ev)
			}
			finished = ev.Kind == lookup.EventFinished
		case <-timeout:
			t.Fatal("timed out waiting for banana")
		}
	}
	raw = append(raw, drain(o)...)

	var firstTerminals int
	for _, ev := range raw {
		if ev.RequestID == first && ev.Kind.Terminal() {
			firstTerminals++
			if ev.Kind != lookup.EventCancelled {
				t.Errorf("superseded request ended with %v, want cancelled", ev.Kind)
			}
		}
	}
	if firstTerminals != 1 {
		t.Errorf("superseded request terminal events = %d, want 1", firstTerminals)
	}
}

// ── policy ───────────────────────────────────────────────────────────────────

func TestOrchestrator_ThrottlesPartials(t *testing.T) {
	t.Parallel()
	var ticks atomic.Int64
	clock := func() time.Time {
		return time.Unix(0, 0).Add(time.Duration(ticks.Add(1)) * 10 * time.Millisecond)
	}
	tr := &fakeTransport{streams: []streamFunc{frags(nil, "1", "2", "3", "4", "5", "6", "7")}}
	s := settings(0)
	s.Throttle = 50 * time.Millisecond
	o := lookup.New(tr, lookup.WithSettings(s), lookup.WithClock(clock))
	defer o.Close()

	id, _ := o.Start(context.Background(), "w", "")
	partials, term := untilTerminal(t, o, id)
	if term.Kind != lookup.EventFailed {
		t.Fatalf("terminal kind = %v", term.Kind)
	}
	var got []string
	for _, p := range partials {
		got = append(got, p.Text)
	}
	// Fragment clock readings are 20ms..80ms: the first emits at once, the
	// sixth is the first one 50ms later, and the full buffer follows the end.
	want := []string{"1", "123456", "1234567"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("partials = %q, want %q", got, want)
	}
}

func TestOrchestrator_ZeroThrottleEmitsEveryFragment(t *testing.T) {
	t.Parallel()
	tr := &fakeTransport{streams: []streamFunc{frags(nil, "a", "b", "c")}}
	s := settings(0)
	s.Throttle = 0
	o := lookup.New(tr, lookup.WithSettings(s))
	defer o.Close()

	id, _ := o.Start(context.Background(), "w", "")
	partials, _ := untilTerminal(t, o, id)
	if len(partials) != 4 {
		t.Errorf("partials = %d, want 3 fragments plus the final one", len(partials))
	}
}

func TestOrchestrator_SetSettingsAppliesToNextStart(t *testing.T) {
	t.Parallel()
	many := `{"word":"set","basic_meaning":["a","b","c","d"],"contextual_meaning":"c"}`
	tr := &fakeTransport{streams: []streamFunc{frags(nil, many)}}
	o := lookup.New(tr)
	defer o.Close()

	s := o.Settings()
	s.MaxBasicMeanings = 1
	s.Template = "Explain {word}."
	o.SetSettings(s)

	id, _ := o.Start(context.Background(), "set", "")
	_, term := untilTerminal(t, o, id)
	if term.Kind != lookup.EventFinished || len(term.Result.BasicMeaning) != 1 {
		t.Fatalf("expected truncated result, got %v %+v", term.Kind, term.Result)
	}
	if p := tr.streamPrompts[0]; !strings.HasPrefix(p, "Explain set.") || !strings.Contains(p, "at most 1 entries") {
		t.Errorf("prompt did not use new settings:\n%s", p)
	}
}

func TestOrchestrator_FinishedCarriesStartFields(t *testing.T) {
	t.Parallel()
	gate := make(chan string)
	tr := &fakeTransport{streams: []streamFunc{gated(gate)}}
	s := lookup.DefaultSettings()
	s.Fields[0].Enabled = true
	o := lookup.New(tr, lookup.WithSettings(s))
	defer o.Close()

	id, err := o.Start(context.Background(), "cat", "")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	gate <- catJSON

	reloaded := o.Settings()
	reloaded.Fields = reloaded.Fields.Clone()
	reloaded.Fields[0].Enabled = false
	o.SetSettings(reloaded)
	close(gate)

	_, term := untilTerminal(t, o, id)
	if term.Kind != lookup.EventFinished {
		t.Fatalf("got %v, want finished", term.Kind)
	}
	if !term.Fields.IsEnabled(s.Fields[0].Name) {
		t.Errorf("finished fields = %+v, want the ones the request started with", term.Fields)
	}
}

func TestOrchestrator_StartErrors(t *testing.T) {
	t.Parallel()
	o := lookup.New(&fakeTransport{streams: []streamFunc{frags(nil)}})
	if _, err := o.Start(context.Background(), "  \t", "ctx"); !errors.Is(err, lookup.ErrEmptyWord) {
		t.Errorf("blank word: got %v, want ErrEmptyWord", err)
	}
	if o.Current() != 0 {
		t.Errorf("rejected Start must not allocate an id, Current = %d", o.Current())
	}
	drain(o)
	if _, err := o.Start(context.Background(), "w", ""); !errors.Is(err, lookup.ErrClosed) {
		t.Errorf("after Close: got %v, want ErrClosed", err)
	}
	o.Close()
}

func TestOrchestrator_RecordsMetrics(t *testing.T) {
	t.Parallel()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	tr := &fakeTransport{
		streams: []streamFunc{frags(nil, "no", " json")},
		repairs: []string{catJSON},
	}
	o := lookup.New(tr, lookup.WithMetrics(m))
	id, _ := o.Start(context.Background(), "cat", "")
	if _, term := untilTerminal(t, o, id); term.Kind != lookup.EventFinished {
		t.Fatalf("terminal kind = %v", term.Kind)
	}
	drain(o)

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	sums := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, met := range sm.Metrics {
			if s, ok := met.Data.(metricdata.Sum[int64]); ok {
				for _, dp := range s.DataPoints {
					sums[met.Name] += dp.Value
				}
			}
		}
	}
	want := map[string]int64{
		"wordlens.lookup.outcomes":  1,
		"wordlens.lookup.repairs":   1,
		"wordlens.stream.fragments": 2,
	}
	for name, v := range want {
		if sums[name] != v {
			t.Errorf("%s = %d, want %d", name, sums[name], v)
		}
	}
}

// ── blocking helper ──────────────────────────────────────────────────────────

func TestLookup(t *testing.T) {
	t.Parallel()

	t.Run("finished", func(t *testing.T) {
		t.Parallel()
		tr := &fakeTransport{streams: []streamFunc{frags(nil, catJSON)}}
		res, raw, err := lookup.Lookup(context.Background(), tr, "cat", "", lookup.DefaultSettings())
		if err != nil {
			t.Fatalf("Lookup: %v", err)
		}
		if res.Word != "cat" || raw != catJSON {
			t.Errorf("got %+v raw=%q", res, raw)
		}
	})

	t.Run("failed", func(t *testing.T) {
		t.Parallel()
		tr := &fakeTransport{streams: []streamFunc{frags(nil, "prose")}, repairs: []string{"prose"}}
		_, _, err := lookup.Lookup(context.Background(), tr, "cat", "", settings(1))
		var re *lookup.RepairError
		if !errors.As(err, &re) {
			t.Fatalf("expected RepairError, got %v", err)
		}
	})

	t.Run("context cancelled", func(t *testing.T) {
		t.Parallel()
		ctx, cancel := context.WithCancel(context.Background())
		feed := make(chan string)
		tr := &fakeTransport{streams: []streamFunc{gated(feed)}}
		go func() {
			feed <- "{"
			cancel()
		}()
		_, _, err := lookup.Lookup(ctx, tr, "cat", "", lookup.DefaultSettings())
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	})

	t.Run("empty word", func(t *testing.T) {
		t.Parallel()
		_, _, err := lookup.Lookup(context.Background(), &fakeTransport{}, "", "", lookup.DefaultSettings())
		if !errors.Is(err, lookup.ErrEmptyWord) {
			t.Fatalf("expected ErrEmptyWord, got %v", err)
		}
	})
}
