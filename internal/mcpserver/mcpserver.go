// Package mcpserver exposes word lookups as MCP tools so assistants can
// explain a word in context and file the answer as a flashcard.
//
// Tools:
//
//	lookup_word(word, context, passage)   explain a word as used in context
//	save_card(word, meaning_html, context) store a flashcard
//
// save_card is only registered when a flashcard sink is configured.
package mcpserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/MrWong99/wordlens/internal/completion"
	"github.com/MrWong99/wordlens/internal/flashcard"
	"github.com/MrWong99/wordlens/internal/lookup"
	"github.com/MrWong99/wordlens/internal/observe"
	"github.com/MrWong99/wordlens/internal/render"
	"github.com/MrWong99/wordlens/internal/textctx"
	"github.com/MrWong99/wordlens/pkg/types"
)

// Tool names.
const (
	ToolLookupWord = "lookup_word"
	ToolSaveCard   = "save_card"
)

// Config holds the dependencies of a [Server].
type Config struct {
	// Transport serves lookups. Required.
	Transport completion.Transport

	// Sink receives save_card calls. Nil leaves the tool unregistered.
	Sink flashcard.Sink

	// SinkDriver labels the cards-saved metric.
	SinkDriver string

	// Settings is the initial lookup policy.
	Settings lookup.Settings

	// ContextSentences is how many neighbouring sentences are kept when a
	// context is derived from a passage.
	ContextSentences int

	// Metrics records lookup telemetry. Nil uses [observe.DefaultMetrics].
	Metrics *observe.Metrics

	// Version is reported in the MCP implementation info.
	Version string
}

// LookupInput is the argument object of lookup_word.
type LookupInput struct {
	Word    string `json:"word" jsonschema:"the word or phrase to explain"`
	Context string `json:"context,omitempty" jsonschema:"the sentence the word appears in"`
	Passage string `json:"passage,omitempty" jsonschema:"longer surrounding text; used to find the sentence when context is empty"`
}

// LookupOutput is the structured result of lookup_word.
type LookupOutput struct {
	Result types.LookupResult `json:"result"`
	HTML   string             `json:"html"`
}

// SaveInput is the argument object of save_card.
type SaveInput struct {
	Word        string `json:"word" jsonschema:"the word on the front of the card"`
	MeaningHTML string `json:"meaning_html" jsonschema:"the rendered meaning for the back of the card"`
	Context     string `json:"context,omitempty" jsonschema:"the sentence the word was found in"`
}

// SaveOutput is the structured result of save_card.
type SaveOutput struct {
	ID int64 `json:"id"`
}

// Server is an MCP tool server backed by the lookup pipeline.
type Server struct {
	transport completion.Transport
	sink      flashcard.Sink
	driver    string
	metrics   *observe.Metrics
	mcp       *mcpsdk.Server

	mu               sync.Mutex
	settings         lookup.Settings
	contextSentences int
}

// New creates a Server and registers its tools.
func New(cfg Config) (*Server, error) {
	if cfg.Transport == nil {
		return nil, errors.New("mcpserver: transport is required")
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	s := &Server{
		transport:        cfg.Transport,
		sink:             cfg.Sink,
		driver:           cfg.SinkDriver,
		metrics:          cfg.Metrics,
		settings:         cfg.Settings,
		contextSentences: max(cfg.ContextSentences, 0),
	}
	s.mcp = mcpsdk.NewServer(&mcpsdk.Implementation{Name: "wordlens", Version: cfg.Version}, nil)

	mcpsdk.AddTool(s.mcp, &mcpsdk.Tool{
		Name:        ToolLookupWord,
		Description: "Explain a word as it is used in a sentence. Returns the meaning rendered as HTML and the structured result.",
	}, s.lookupWord)
	if s.sink != nil {
		mcpsdk.AddTool(s.mcp, &mcpsdk.Tool{
			Name:        ToolSaveCard,
			Description: "Store a flashcard with the word on the front and the meaning on the back.",
		}, s.saveCard)
	}
	return s, nil
}

// MCP returns the underlying SDK server, for connecting custom transports.
func (s *Server) MCP() *mcpsdk.Server { return s.mcp }

// Run serves over stdin/stdout until ctx is cancelled or the client
// disconnects.
func (s *Server) Run(ctx context.Context) error {
	slog.Info("mcpserver: serving on stdio")
	if err := s.mcp.Run(ctx, &mcpsdk.StdioTransport{}); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("mcpserver: %w", err)
	}
	return nil
}

// SetSettings replaces the lookup policy for subsequent calls.
func (s *Server) SetSettings(ls lookup.Settings, contextSentences int) {
	s.mu.Lock()
	s.settings = ls
	s.contextSentences = max(contextSentences, 0)
	s.mu.Unlock()
}

func (s *Server) current() (lookup.Settings, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ls := s.settings
	ls.Fields = ls.Fields.Clone()
	return ls, s.contextSentences
}

func (s *Server) lookupWord(ctx context.Context, _ *mcpsdk.CallToolRequest, in LookupInput) (*mcpsdk.CallToolResult, LookupOutput, error) {
	settings, n := s.current()
	surrounding := in.Context
	if surrounding == "" && in.Passage != "" {
		surrounding = textctx.ContainingWord(in.Passage, in.Word, n)
	}

	res, _, err := lookup.Lookup(ctx, s.transport, in.Word, surrounding, settings, lookup.WithMetrics(s.metrics))
	if err != nil {
		observe.Logger(ctx).Warn("mcpserver: lookup failed", "word", in.Word, "err", err)
		return nil, LookupOutput{}, err
	}
	html := render.Result(res, settings.Fields)
	return &mcpsdk.CallToolResult{
		Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: html}},
	}, LookupOutput{Result: res, HTML: html}, nil
}

func (s *Server) saveCard(ctx context.Context, _ *mcpsdk.CallToolRequest, in SaveInput) (*mcpsdk.CallToolResult, SaveOutput, error) {
	id, err := s.sink.Add(ctx, flashcard.Compose(in.Word, in.MeaningHTML, in.Context))
	if err != nil {
		return nil, SaveOutput{}, fmt.Errorf("save card: %w", err)
	}
	s.metrics.RecordCardSaved(ctx, s.driver)
	observe.Logger(ctx).Info("mcpserver: card saved", "id", id, "word", in.Word)
	return &mcpsdk.CallToolResult{
		Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: fmt.Sprintf("saved card %d", id)}},
	}, SaveOutput{ID: id}, nil
}
