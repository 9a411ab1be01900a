package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/coder/websocket"

	"github.com/MrWong99/wordlens/internal/flashcard"
	"github.com/MrWong99/wordlens/internal/lookup"
	"github.com/MrWong99/wordlens/internal/render"
)

const writeTimeout = 10 * time.Second

// session is one websocket connection with its own orchestrator.
type session struct {
	srv  *Server
	conn *websocket.Conn
	orch *lookup.Orchestrator
	log  *slog.Logger

	writeMu sync.Mutex

	mu       sync.Mutex
	pending  pendingLookup
	finished *finishedLookup
}

// pendingLookup is the word and context of the most recent Start.
type pendingLookup struct {
	id      uint64
	word    string
	context string
}

// finishedLookup is what a save frame turns into a card.
type finishedLookup struct {
	pendingLookup
	html string
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.originPatterns,
	})
	if err != nil {
		slog.Warn("server: websocket accept failed", "err", err)
		return
	}
	conn.SetReadLimit(maxBodyBytes)

	ss := &session{
		srv:  s,
		conn: conn,
		orch: lookup.New(s.transport, lookup.WithMetrics(s.metrics)),
		log:  slog.With("remote", r.RemoteAddr),
	}
	s.track(ss)
	defer s.untrack(ss)

	ctx := r.Context()
	s.metrics.ActiveSessions.Add(ctx, 1)
	defer s.metrics.ActiveSessions.Add(context.WithoutCancel(ctx), -1)

	err = ss.run(ctx)
	switch {
	case err == nil,
		errors.Is(err, context.Canceled),
		websocket.CloseStatus(err) == websocket.StatusNormalClosure,
		websocket.CloseStatus(err) == websocket.StatusGoingAway:
		ss.log.Debug("server: websocket session closed")
		_ = conn.Close(websocket.StatusNormalClosure, "")
	default:
		ss.log.Warn("server: websocket session ended", "err", err)
		_ = conn.CloseNow()
	}
}

// run reads client frames until the connection fails, then closes the
// orchestrator and waits until its remaining events are drained.
func (ss *session) run(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		defer close(done)
		ss.forward(ctx)
	}()

	err := ss.readLoop(ctx)
	ss.orch.Close()
	<-done
	return err
}

func (ss *session) readLoop(ctx context.Context) error {
	for {
		typ, data, err := ss.conn.Read(ctx)
		if err != nil {
			return err
		}
		if typ != websocket.MessageText {
			ss.sendError(ctx, "binary frames are not supported")
			continue
		}
		var msg clientMessage
		if err := sonic.Unmarshal(data, &msg); err != nil {
			ss.sendError(ctx, "malformed message: "+err.Error())
			continue
		}
		ss.handle(ctx, msg)
	}
}

func (ss *session) handle(ctx context.Context, msg clientMessage) {
	switch msg.Type {
	case msgLookup:
		_, n := ss.srv.current()
		surrounding := deriveContext(msg.Word, msg.Context, msg.Passage, msg.Offset, n)
		// Hold mu across Start so the forwarder cannot observe the new
		// request's events before pending names it.
		ss.mu.Lock()
		id, err := ss.orch.Start(ctx, msg.Word, surrounding)
		if err == nil {
			ss.pending = pendingLookup{id: id, word: msg.Word, context: surrounding}
			ss.finished = nil
		}
		ss.mu.Unlock()
		if err != nil {
			ss.sendError(ctx, err.Error())
			return
		}
		ss.log.Debug("server: lookup started", "request_id", id, "word", msg.Word)
	case msgCancel:
		ss.orch.Cancel()
	case msgSave:
		ss.save(ctx)
	default:
		ss.sendError(ctx, fmt.Sprintf("unknown message type %q", msg.Type))
	}
}

// forward turns orchestrator events into frames until the event channel is
// closed. Stale events are dropped.
func (ss *session) forward(ctx context.Context) {
	for ev := range ss.orch.Events() {
		if ss.orch.IsStale(ev) {
			continue
		}
		msg := serverMessage{RequestID: ev.RequestID}
		switch ev.Kind {
		case lookup.EventPartial:
			msg.Type = msgPartial
			msg.HTML = render.Streaming(ev.Text)
		case lookup.EventFinished:
			msg.Type = msgFinished
			msg.HTML = render.Result(*ev.Result, ev.Fields)
			msg.Result = ev.Result
			msg.Raw = ev.Raw
			ss.markFinished(ev.RequestID, msg.HTML)
		case lookup.EventFailed:
			msg.Type = msgFailed
			msg.Error = ev.Message()
		case lookup.EventCancelled:
			msg.Type = msgCancelled
		default:
			continue
		}
		// Keep draining after write failures so Close can return.
		_ = ss.send(ctx, msg)
	}
}

func (ss *session) markFinished(id uint64, html string) {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	if ss.pending.id == id {
		ss.finished = &finishedLookup{pendingLookup: ss.pending, html: html}
	}
}

func (ss *session) save(ctx context.Context) {
	if ss.srv.store == nil {
		ss.sendError(ctx, "flashcards are not configured")
		return
	}
	ss.mu.Lock()
	f := ss.finished
	ss.mu.Unlock()
	if f == nil || f.id != ss.orch.Current() {
		ss.sendError(ctx, "nothing to save: the current lookup has not finished")
		return
	}

	id, err := ss.srv.store.Add(ctx, flashcard.Compose(f.word, f.html, f.context))
	if err != nil {
		ss.log.Error("server: save card", "word", f.word, "err", err)
		ss.sendError(ctx, "save card: "+err.Error())
		return
	}
	ss.srv.metrics.RecordCardSaved(ctx, ss.srv.driver)
	ss.log.Info("server: card saved", "id", id, "word", f.word)
	_ = ss.send(ctx, serverMessage{Type: msgSaved, ID: id})
}

func (ss *session) sendError(ctx context.Context, text string) {
	_ = ss.send(ctx, serverMessage{Type: msgError, Error: text})
}

// send writes one frame. Frames from the reader and the forwarder are
// serialised so none interleave.
func (ss *session) send(ctx context.Context, msg serverMessage) error {
	data, err := sonic.Marshal(msg)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	ss.writeMu.Lock()
	defer ss.writeMu.Unlock()
	return ss.conn.Write(ctx, websocket.MessageText, data)
}
