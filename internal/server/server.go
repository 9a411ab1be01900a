// Package server exposes lookups over HTTP: a websocket session per reader
// tab, a blocking JSON endpoint, flashcard endpoints and the operational
// probes.
//
// Routes:
//
//	GET  /healthz   liveness
//	GET  /readyz    readiness (flashcard store, LLM backend)
//	GET  /metrics   Prometheus scrape endpoint
//	GET  /ws        websocket lookup session
//	POST /lookup    blocking lookup
//	POST /cards     store a flashcard
//	GET  /cards     list flashcards
package server

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/wordlens/internal/completion"
	"github.com/MrWong99/wordlens/internal/flashcard"
	"github.com/MrWong99/wordlens/internal/health"
	"github.com/MrWong99/wordlens/internal/lookup"
	"github.com/MrWong99/wordlens/internal/observe"
	"github.com/MrWong99/wordlens/internal/textctx"
)

// maxBodyBytes limits JSON request bodies and websocket messages.
const maxBodyBytes = 1 << 20

// Config holds the dependencies of a [Server].
type Config struct {
	// Transport serves every lookup. Required.
	Transport completion.Transport

	// Store receives saved flashcards. Nil disables the card endpoints and
	// websocket saves.
	Store flashcard.Store

	// StoreDriver labels the cards-saved metric.
	StoreDriver string

	// Settings is the initial lookup policy; see [Server.SetSettings].
	Settings lookup.Settings

	// ContextSentences is how many neighbouring sentences are kept when a
	// context is derived from a passage.
	ContextSentences int

	// Health serves /healthz and /readyz. Nil registers a handler without
	// checkers.
	Health *health.Handler

	// Metrics records lookup and HTTP telemetry. Nil uses
	// [observe.DefaultMetrics].
	Metrics *observe.Metrics

	// OriginPatterns lists the extra hosts allowed to open websocket
	// sessions across origins.
	OriginPatterns []string
}

// Server is the HTTP surface. It is safe for concurrent use.
type Server struct {
	transport      completion.Transport
	store          flashcard.Store
	driver         string
	metrics        *observe.Metrics
	originPatterns []string
	handler        http.Handler

	mu               sync.Mutex
	settings         lookup.Settings
	contextSentences int
	sessions         map[*session]struct{}
}

// New builds a Server and its route table.
func New(cfg Config) (*Server, error) {
	if cfg.Transport == nil {
		return nil, errors.New("server: transport is required")
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	if cfg.Health == nil {
		cfg.Health = health.New()
	}
	s := &Server{
		transport:        cfg.Transport,
		store:            cfg.Store,
		driver:           cfg.StoreDriver,
		metrics:          cfg.Metrics,
		originPatterns:   cfg.OriginPatterns,
		settings:         cfg.Settings,
		contextSentences: max(cfg.ContextSentences, 0),
		sessions:         make(map[*session]struct{}),
	}

	mux := http.NewServeMux()
	cfg.Health.Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /ws", s.handleWS)
	mux.HandleFunc("POST /lookup", s.handleLookup)
	mux.HandleFunc("POST /cards", s.handleAddCard)
	mux.HandleFunc("GET /cards", s.handleListCards)
	s.handler = observe.Middleware(cfg.Metrics)(mux)
	return s, nil
}

// Handler returns the instrumented route table.
func (s *Server) Handler() http.Handler { return s.handler }

// SetSettings replaces the lookup policy for new requests, including those
// started later on already open sessions.
func (s *Server) SetSettings(ls lookup.Settings, contextSentences int) {
	s.mu.Lock()
	s.settings = ls
	s.contextSentences = max(contextSentences, 0)
	for ss := range s.sessions {
		ss.orch.SetSettings(ls)
	}
	n := len(s.sessions)
	s.mu.Unlock()
	slog.Info("server: lookup settings updated", "sessions", n)
}

// Sessions reports the number of open websocket sessions.
func (s *Server) Sessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func (s *Server) current() (lookup.Settings, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ls := s.settings
	ls.Fields = ls.Fields.Clone()
	return ls, s.contextSentences
}

// track registers ss and applies the current settings to its orchestrator
// under the same lock, so no reload is missed.
func (s *Server) track(ss *session) {
	s.mu.Lock()
	ss.orch.SetSettings(s.settings)
	s.sessions[ss] = struct{}{}
	s.mu.Unlock()
}

func (s *Server) untrack(ss *session) {
	s.mu.Lock()
	delete(s.sessions, ss)
	s.mu.Unlock()
}

// deriveContext returns context when given, otherwise the sentences of
// passage around offset, or around the first occurrence of word when offset
// is nil.
func deriveContext(word, context, passage string, offset *int, n int) string {
	if strings.TrimSpace(context) != "" || strings.TrimSpace(passage) == "" {
		return strings.TrimSpace(context)
	}
	if offset != nil {
		return textctx.Around(passage, *offset, n)
	}
	return textctx.ContainingWord(passage, word, n)
}
