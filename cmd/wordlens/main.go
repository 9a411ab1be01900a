// Command wordlens explains words in the context they were read in.
//
// Modes:
//
//	serve   HTTP + websocket server (default)
//	lookup  one lookup from the command line; partial output on stderr,
//	        the rendered HTML on stdout
//	mcp     MCP tool server on stdin/stdout
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MrWong99/wordlens/internal/app"
	"github.com/MrWong99/wordlens/internal/config"
	"github.com/MrWong99/wordlens/internal/flashcard"
	"github.com/MrWong99/wordlens/internal/lookup"
	"github.com/MrWong99/wordlens/internal/observe"
	"github.com/MrWong99/wordlens/internal/render"
	"github.com/MrWong99/wordlens/internal/textctx"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	mode := flag.String("mode", "serve", "run mode: serve, lookup or mcp")
	word := flag.String("word", "", "word to look up (lookup mode)")
	contextText := flag.String("context", "", "sentence the word appears in (lookup mode)")
	passage := flag.String("passage", "", "longer text to take the context sentence from when -context is empty (lookup mode)")
	save := flag.Bool("save", false, "store the result as a flashcard (lookup mode)")
	traceSample := flag.Float64("trace-sample", 1, "fraction of lookup traces to sample, in (0, 1]")
	flag.Parse()

	switch *mode {
	case "serve", "lookup", "mcp":
	default:
		fmt.Fprintf(os.Stderr, "wordlens: unknown -mode %q (want serve, lookup or mcp)\n", *mode)
		return 2
	}

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "wordlens: config file %q not found (copy configs/example.yaml to get started)\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "wordlens: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	levelVar := new(slog.LevelVar)
	levelVar.Set(app.SlogLevel(cfg.Server.LogLevel))
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: levelVar})))

	slog.Info("wordlens starting",
		"version", version,
		"mode", *mode,
		"config", *configPath,
		"llm", cfg.Providers.LLM.Name,
		"flashcards", cfg.Flashcards.Driver,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceVersion: version,
		SampleRatio:    *traceSample,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	opts := []app.Option{app.WithLevelVar(levelVar)}
	if *mode == "serve" {
		opts = append(opts, app.WithConfigWatch(*configPath, 0))
	}
	application, err := app.New(ctx, cfg, reg, opts...)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	code := 0
	switch *mode {
	case "serve":
		slog.Info("server ready, press Ctrl+C to shut down", "listen_addr", cfg.Server.ListenAddr)
		if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("run error", "err", err)
			code = 1
		}
	case "mcp":
		if err := application.RunMCP(ctx); err != nil {
			slog.Error("mcp server error", "err", err)
			code = 1
		}
	case "lookup":
		surrounding := *contextText
		if surrounding == "" && *passage != "" {
			surrounding = textctx.ContainingWord(*passage, *word, cfg.Lookup.ContextSentences)
		}
		if err := lookupOnce(ctx, application, *word, surrounding, *save, os.Stdout, os.Stderr); err != nil {
			fmt.Fprintf(os.Stderr, "wordlens: %v\n", err)
			code = 1
		}
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	return code
}

// lookupOnce runs one lookup. Streamed model text is copied to progress as
// it arrives; the rendered result is written to out. With save set, the
// result is stored as a flashcard.
func lookupOnce(ctx context.Context, a *app.App, word, surrounding string, save bool, out, progress io.Writer) error {
	settings := a.Settings()
	o := lookup.New(a.Transport(), lookup.WithSettings(settings))
	defer o.Close()

	id, err := o.Start(ctx, word, surrounding)
	if err != nil {
		return err
	}

	printed := 0
	for ev := range o.Events() {
		if ev.RequestID != id {
			continue
		}
		switch ev.Kind {
		case lookup.EventPartial:
			if len(ev.Text) > printed {
				fmt.Fprint(progress, ev.Text[printed:])
				printed = len(ev.Text)
			}
		case lookup.EventFinished:
			fmt.Fprintln(progress)
			html := render.Result(*ev.Result, ev.Fields)
			fmt.Fprintln(out, html)
			if !save {
				return nil
			}
			cardID, err := a.Store().Add(ctx, flashcard.Compose(word, html, surrounding))
			if err != nil {
				return fmt.Errorf("save card: %w", err)
			}
			fmt.Fprintf(progress, "saved card %d\n", cardID)
			return nil
		case lookup.EventFailed:
			fmt.Fprintln(progress)
			return ev.Err
		case lookup.EventCancelled:
			fmt.Fprintln(progress)
			if err := ctx.Err(); err != nil {
				return err
			}
			return lookup.ErrCancelled
		}
	}
	return lookup.ErrClosed
}
