// Package app wires the wordlens subsystems into a running service.
//
// The App struct owns the full lifecycle: New builds the LLM failover group,
// the flashcard store and the surfaces from the config, Run serves HTTP until
// the context ends, and Shutdown releases everything in order.
//
// For testing, inject doubles via functional options (WithProvider,
// WithStore). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/wordlens/internal/completion"
	"github.com/MrWong99/wordlens/internal/config"
	"github.com/MrWong99/wordlens/internal/flashcard"
	"github.com/MrWong99/wordlens/internal/flashcard/jsonl"
	"github.com/MrWong99/wordlens/internal/flashcard/postgres"
	"github.com/MrWong99/wordlens/internal/flashcard/sqlite"
	"github.com/MrWong99/wordlens/internal/health"
	"github.com/MrWong99/wordlens/internal/lookup"
	"github.com/MrWong99/wordlens/internal/mcpserver"
	"github.com/MrWong99/wordlens/internal/observe"
	"github.com/MrWong99/wordlens/internal/prompt"
	"github.com/MrWong99/wordlens/internal/resilience"
	"github.com/MrWong99/wordlens/internal/server"
	"github.com/MrWong99/wordlens/pkg/provider/llm"
)

// shutdownGrace bounds how long in-flight HTTP requests may take to finish
// once Run's context ends.
const shutdownGrace = 10 * time.Second

// ErrNoProvider is returned by New when neither the config nor an option
// supplies an LLM backend.
var ErrNoProvider = errors.New("app: no LLM provider configured")

// App owns all subsystem lifetimes.
type App struct {
	cfg      *config.Config
	registry *config.Registry

	provider  llm.Provider
	fallback  *resilience.LLMFallback
	transport *completion.LLM
	store     flashcard.Store
	metrics   *observe.Metrics
	levelVar  *slog.LevelVar

	server *server.Server
	mcp    *mcpserver.Server

	configPath    string
	watchInterval time.Duration
	listener      net.Listener
	ready         chan struct{}

	mu       sync.Mutex
	settings lookup.Settings

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithProvider injects the LLM backend instead of building the failover
// group from the registry.
func WithProvider(p llm.Provider) Option {
	return func(a *App) { a.provider = p }
}

// WithStore injects a flashcard store instead of opening the configured
// driver.
func WithStore(s flashcard.Store) Option {
	return func(a *App) { a.store = s }
}

// WithMetrics sets the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLevelVar makes hot reloads of server.log_level update lv.
func WithLevelVar(lv *slog.LevelVar) Option {
	return func(a *App) { a.levelVar = lv }
}

// WithConfigWatch makes Run poll path and apply hot-reloadable changes.
// A non-positive interval uses [config.DefaultWatchInterval].
func WithConfigWatch(path string, interval time.Duration) Option {
	return func(a *App) {
		a.configPath = path
		a.watchInterval = interval
	}
}

// WithListener makes Run serve on l instead of listening on
// server.listen_addr.
func WithListener(l net.Listener) Option {
	return func(a *App) { a.listener = l }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. reg supplies the LLM
// factories named in cfg.Providers and may be nil when [WithProvider] is
// used.
func New(ctx context.Context, cfg *config.Config, reg *config.Registry, opts ...Option) (*App, error) {
	a := &App{
		cfg:      cfg,
		registry: reg,
		ready:    make(chan struct{}),
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. LLM backends ──────────────────────────────────────────────────
	if err := a.initProviders(); err != nil {
		return nil, err
	}

	// ── 2. Flashcard store ───────────────────────────────────────────────
	if err := a.initStore(ctx); err != nil {
		return nil, fmt.Errorf("app: init flashcards: %w", err)
	}

	// ── 3. Surfaces ──────────────────────────────────────────────────────
	a.settings = SettingsFromConfig(cfg.Lookup)
	if err := a.initSurfaces(); err != nil {
		return nil, err
	}
	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initProviders builds the failover group from the primary LLM entry and its
// fallbacks, then wraps it in the completion transport.
func (a *App) initProviders() error {
	name := "injected"
	if a.provider == nil {
		entry := a.cfg.Providers.LLM
		if entry.Name == "" {
			return ErrNoProvider
		}
		if a.registry == nil {
			return errors.New("app: provider registry is required")
		}
		primary, err := a.registry.CreateLLM(entry)
		if err != nil {
			return fmt.Errorf("app: build primary llm: %w", err)
		}

		a.fallback = resilience.NewLLMFallback(primary, entry.Name, resilience.FallbackConfig{
			OnFailure: func(name string, err error) {
				a.metrics.RecordProviderError(context.Background(), name, "failover")
				slog.Warn("llm backend failed", "provider", name, "err", err)
			},
		})
		for i, fb := range a.cfg.Providers.LLMFallbacks {
			p, err := a.registry.CreateLLM(fb)
			if err != nil {
				return fmt.Errorf("app: build llm fallback %d: %w", i, err)
			}
			a.fallback.AddFallback(fb.Name, p)
		}
		a.provider = a.fallback
		name = entry.Name
		slog.Info("llm backends ready", "order", a.fallback.Names())
	}

	var copts []completion.Option
	if temp, ok := config.OptFloat(a.cfg.Providers.LLM.Options, "temperature"); ok {
		copts = append(copts, completion.WithTemperature(temp))
	}
	if mt, ok := config.OptFloat(a.cfg.Providers.LLM.Options, "max_tokens"); ok && mt > 0 {
		copts = append(copts, completion.WithMaxTokens(int(mt)))
	}
	if sp := config.OptString(a.cfg.Providers.LLM.Options, "system_prompt"); sp != "" {
		copts = append(copts, completion.WithSystemPrompt(sp))
	}
	copts = append(copts, completion.WithMetrics(a.metrics, name))
	a.transport = completion.NewLLM(a.provider, copts...)
	return nil
}

// initStore opens the configured flashcard driver unless a store was
// injected. Either way the App closes the store on Shutdown.
func (a *App) initStore(ctx context.Context) error {
	fc := a.cfg.Flashcards
	switch {
	case a.store != nil:
	case fc.Driver == config.DriverSQLite:
		s, err := sqlite.Open(ctx, fc.DSN, fc.Deck, fc.Tags)
		if err != nil {
			return err
		}
		a.store = s
	case fc.Driver == config.DriverPostgres:
		s, err := postgres.NewStore(ctx, fc.DSN, fc.Deck, fc.Tags)
		if err != nil {
			return err
		}
		a.store = s
	case fc.Driver == config.DriverJSONL:
		s, err := jsonl.Open(fc.DSN, fc.Deck, fc.Tags)
		if err != nil {
			return err
		}
		a.store = s
	default:
		a.store = flashcard.NewMemory(fc.Deck, fc.Tags)
	}
	a.closers = append(a.closers, a.store.Close)
	slog.Info("flashcard store ready", "driver", a.driver())
	return nil
}

func (a *App) initSurfaces() error {
	checkers := []health.Checker{
		health.PingCheck("flashcards", a.store),
		health.PresenceCheck("llm", a.llmAvailable),
	}

	srv, err := server.New(server.Config{
		Transport:        a.transport,
		Store:            a.store,
		StoreDriver:      a.driver(),
		Settings:         a.settings,
		ContextSentences: a.cfg.Lookup.ContextSentences,
		Health:           health.New(checkers...),
		Metrics:          a.metrics,
	})
	if err != nil {
		return fmt.Errorf("app: init server: %w", err)
	}
	a.server = srv

	m, err := mcpserver.New(mcpserver.Config{
		Transport:        a.transport,
		Sink:             a.store,
		SinkDriver:       a.driver(),
		Settings:         a.settings,
		ContextSentences: a.cfg.Lookup.ContextSentences,
		Metrics:          a.metrics,
	})
	if err != nil {
		return fmt.Errorf("app: init mcp server: %w", err)
	}
	a.mcp = m
	return nil
}

// llmAvailable reports whether at least one backend can take a request.
func (a *App) llmAvailable() bool {
	if a.fallback == nil {
		return a.provider != nil
	}
	for _, st := range a.fallback.States() {
		if st != resilience.StateOpen {
			return true
		}
	}
	return false
}

func (a *App) driver() string {
	if a.cfg.Flashcards.Driver == "" {
		return string(config.DriverMemory)
	}
	return string(a.cfg.Flashcards.Driver)
}

// SettingsFromConfig converts lookup preferences to an orchestrator policy.
// Unset values fall back to the lookup package defaults.
func SettingsFromConfig(lc config.LookupConfig) lookup.Settings {
	s := lookup.DefaultSettings()
	s.Template = prompt.Select(lc.Template, lc.Style, lc.Language)
	s.Fields = lc.OptionalFields.FieldSet()
	if lc.MaxBasicMeanings > 0 {
		s.MaxBasicMeanings = lc.MaxBasicMeanings
	}
	if lc.RepairAttempts != nil {
		s.RepairAttempts = *lc.RepairAttempts
	}
	if lc.Throttle != nil {
		s.Throttle = *lc.Throttle
	}
	return s
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Transport returns the completion transport shared by all surfaces.
func (a *App) Transport() completion.Transport { return a.transport }

// Store returns the flashcard store.
func (a *App) Store() flashcard.Store { return a.store }

// Handler returns the HTTP handler.
func (a *App) Handler() http.Handler { return a.server.Handler() }

// MCP returns the MCP tool server.
func (a *App) MCP() *mcpserver.Server { return a.mcp }

// Settings returns the lookup policy currently in effect.
func (a *App) Settings() lookup.Settings {
	a.mu.Lock()
	defer a.mu.Unlock()
	s := a.settings
	s.Fields = s.Fields.Clone()
	return s
}

// Ready is closed once Run is accepting connections.
func (a *App) Ready() <-chan struct{} { return a.ready }

// Addr returns the address Run listens on, or nil before Ready.
func (a *App) Addr() net.Addr {
	select {
	case <-a.ready:
		return a.listener.Addr()
	default:
		return nil
	}
}

// ─── Hot reload ──────────────────────────────────────────────────────────────

// Apply installs the hot-reloadable parts of next: the log level and the
// lookup preferences. Other changes are logged as requiring a restart.
func (a *App) Apply(old, next *config.Config) {
	d := config.Diff(old, next)

	if d.LogLevelChanged && a.levelVar != nil {
		a.levelVar.Set(SlogLevel(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.LookupChanged {
		s := SettingsFromConfig(next.Lookup)
		a.mu.Lock()
		a.settings = s
		a.mu.Unlock()
		a.server.SetSettings(s, next.Lookup.ContextSentences)
		a.mcp.SetSettings(s, next.Lookup.ContextSentences)
		slog.Info("lookup preferences reloaded", "fields_changed", d.FieldsChanged)
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config changes need a restart to take effect", "sections", d.RestartRequired)
	}
}

// SlogLevel maps a config level to its slog equivalent. Unknown levels map to
// info.
func SlogLevel(l config.LogLevel) slog.Level {
	switch l {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves HTTP until ctx is cancelled, then drains in-flight requests.
// When a config watch is set up, reloads are applied while serving.
func (a *App) Run(ctx context.Context) error {
	if a.listener == nil {
		addr := a.cfg.Server.ListenAddr
		if addr == "" {
			addr = ":8080"
		}
		l, err := net.Listen("tcp", addr)
		if err != nil {
			return fmt.Errorf("app: listen %s: %w", addr, err)
		}
		a.listener = l
	}

	if a.configPath != "" {
		var wopts []config.WatcherOption
		if a.watchInterval > 0 {
			wopts = append(wopts, config.WithInterval(a.watchInterval))
		}
		w, err := config.NewWatcher(a.configPath, a.Apply, wopts...)
		if err != nil {
			_ = a.listener.Close()
			return fmt.Errorf("app: watch config: %w", err)
		}
		defer w.Stop()
	}

	hs := &http.Server{
		Handler:           a.server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	tlsCfg := a.cfg.Server.TLS

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		if tlsCfg != nil {
			err = hs.ServeTLS(a.listener, tlsCfg.CertFile, tlsCfg.KeyFile)
		} else {
			err = hs.Serve(a.listener)
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve: %w", err)
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownGrace)
		defer cancel()
		if err := hs.Shutdown(sctx); err != nil {
			slog.Warn("http shutdown incomplete", "err", err)
		}
		return nil
	})

	slog.Info("http server listening", "addr", a.listener.Addr().String(), "tls", tlsCfg != nil)
	close(a.ready)
	return g.Wait()
}

// RunMCP serves the MCP tools over stdio until ctx is cancelled.
func (a *App) RunMCP(ctx context.Context) error {
	return a.mcp.Run(ctx)
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown releases all subsystems in init order. It respects the context
// deadline: if ctx expires before all closers finish, remaining closers are
// skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))
		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}
		slog.Info("shutdown complete")
	})
	return shutdownErr
}
