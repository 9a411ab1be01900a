package completion

import (
	"context"
	"errors"
	"time"

	"github.com/MrWong99/wordlens/internal/observe"
	"github.com/MrWong99/wordlens/pkg/provider/llm"
)

// DefaultSystemPrompt is sent ahead of every lookup and repair prompt.
const DefaultSystemPrompt = "You are a professional language teacher. Explain the word strictly according to the user's prompt."

// LLM adapts an [llm.Provider] to the [Transport] contract.
type LLM struct {
	provider     llm.Provider
	name         string
	systemPrompt string
	temperature  float64
	maxTokens    int
	metrics      *observe.Metrics
}

// Compile-time interface assertion.
var _ Transport = (*LLM)(nil)

// Option is a functional option for [NewLLM].
type Option func(*LLM)

// WithSystemPrompt overrides [DefaultSystemPrompt]. An empty string disables
// the system message.
func WithSystemPrompt(s string) Option {
	return func(t *LLM) { t.systemPrompt = s }
}

// WithTemperature sets the sampling temperature. Zero keeps the provider default.
func WithTemperature(v float64) Option {
	return func(t *LLM) { t.temperature = v }
}

// WithMaxTokens caps completion length. Zero keeps the provider default.
func WithMaxTokens(n int) Option {
	return func(t *LLM) { t.maxTokens = n }
}

// WithMetrics records provider request counters under the given provider name.
func WithMetrics(m *observe.Metrics, providerName string) Option {
	return func(t *LLM) {
		t.metrics = m
		t.name = providerName
	}
}

// NewLLM wraps p as a [Transport].
func NewLLM(p llm.Provider, opts ...Option) *LLM {
	t := &LLM{
		provider:     p,
		name:         "llm",
		systemPrompt: DefaultSystemPrompt,
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

func (t *LLM) request(prompt string) llm.CompletionRequest {
	return llm.CompletionRequest{
		SystemPrompt: t.systemPrompt,
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: prompt}},
		Temperature:  t.temperature,
		MaxTokens:    t.maxTokens,
	}
}

// Complete implements [Transport].
func (t *LLM) Complete(ctx context.Context, prompt string) (string, error) {
	start := time.Now()
	resp, err := t.provider.Complete(ctx, t.request(prompt))
	if err == nil && resp == nil {
		err = errors.New("completion: empty response")
	}
	t.record(ctx, "complete", start, err)
	if err != nil {
		return "", &TransportError{Op: "complete", Err: err}
	}
	return resp.Content, nil
}

// Stream implements [Transport].
func (t *LLM) Stream(ctx context.Context, prompt string, cancelled Probe) (Stream, error) {
	if cancelled == nil {
		cancelled = func() bool { return false }
	}
	start := time.Now()
	sctx, cancel := context.WithCancel(ctx)
	ch, err := t.provider.StreamCompletion(sctx, t.request(prompt))
	t.record(ctx, "stream", start, err)
	if err != nil {
		cancel()
		return nil, &TransportError{Op: "stream", Err: err}
	}
	return &chunkStream{ctx: sctx, cancel: cancel, ch: ch, cancelled: cancelled}, nil
}

func (t *LLM) record(ctx context.Context, kind string, start time.Time, err error) {
	if t.metrics == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
		t.metrics.RecordProviderError(ctx, t.name, kind)
	}
	t.metrics.RecordProviderRequest(ctx, t.name, kind, status)
	t.metrics.RecordProviderLatency(ctx, t.name, kind, time.Since(start))
}

// chunkStream turns a provider chunk channel into a [Stream].
type chunkStream struct {
	ctx       context.Context
	cancel    context.CancelFunc
	ch        <-chan llm.Chunk
	cancelled Probe

	cur    string
	err    error
	done   bool
	closed bool
}

func (s *chunkStream) Next() bool {
	if s.done {
		return false
	}
	for {
		if s.cancelled() {
			return s.stop(ErrCancelled)
		}
		c, ok := <-s.ch
		if !ok {
			return s.stop(s.endErr())
		}
		if c.FinishReason == llm.FinishReasonError {
			return s.stop(&TransportError{Op: "read", Err: errors.New(c.Text)})
		}
		if c.Text == "" {
			continue
		}
		if s.cancelled() {
			return s.stop(ErrCancelled)
		}
		s.cur = c.Text
		return true
	}
}

// endErr classifies a closed channel: a probe or context cancellation is a
// cancellation, a deadline is a transport failure, anything else is a clean
// end of stream.
func (s *chunkStream) endErr() error {
	switch {
	case s.cancelled():
		return ErrCancelled
	case errors.Is(s.ctx.Err(), context.Canceled):
		return ErrCancelled
	case s.ctx.Err() != nil:
		return &TransportError{Op: "read", Err: s.ctx.Err()}
	}
	return nil
}

func (s *chunkStream) stop(err error) bool {
	s.done = true
	s.cur = ""
	s.err = err
	return false
}

func (s *chunkStream) Text() string { return s.cur }

func (s *chunkStream) Err() error { return s.err }

// Close cancels the provider call and drains the channel so the provider's
// goroutine can exit.
func (s *chunkStream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.done = true
	s.cancel()
	for range s.ch {
	}
	return nil
}
