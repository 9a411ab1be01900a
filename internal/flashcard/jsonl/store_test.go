package jsonl

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/MrWong99/wordlens/internal/flashcard"
)

func TestFileStore_AddList(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, err := Open(filepath.Join(t.TempDir(), "cards.jsonl"), "wordlens", []string{"wl"})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	for i, w := range []string{"bank", "river"} {
		id, err := s.Add(ctx, flashcard.Compose(w, "<div>"+w+"</div>", "ctx"))
		if err != nil {
			t.Fatalf("Add(%q): %v", w, err)
		}
		if id != int64(i+1) {
			t.Errorf("Add(%q) id = %d, want %d", w, id, i+1)
		}
	}

	cards, err := s.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(cards) != 2 || cards[0].Word != "bank" || cards[1].Word != "river" {
		t.Fatalf("cards: %+v", cards)
	}
	if cards[0].Deck != "wordlens" || len(cards[0].Tags) != 1 || cards[0].CreatedAt.IsZero() {
		t.Errorf("defaults not applied: %+v", cards[0])
	}
}

func TestFileStore_ReopenContinuesIDs(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "cards.jsonl")

	s, err := Open(path, "", nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := s.Add(ctx, flashcard.Compose("bank", "x", "")); err != nil {
		t.Fatalf("Add: %v", err)
	}
	s.Close()

	s2, err := Open(path, "", nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()
	id, err := s2.Add(ctx, flashcard.Compose("river", "y", ""))
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if id != 2 {
		t.Errorf("id after reopen = %d, want 2", id)
	}
}

func TestFileStore_Errors(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	if _, err := Open("", "", nil); err == nil {
		t.Error("empty path: expected error")
	}

	bad := filepath.Join(t.TempDir(), "bad.jsonl")
	if err := os.WriteFile(bad, []byte("{\"word\":\"ok\"}\nnot json\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Open(bad, "", nil); err == nil || !strings.Contains(err.Error(), "line 2") {
		t.Errorf("malformed file: got %v", err)
	}

	s, err := Open(filepath.Join(t.TempDir(), "cards.jsonl"), "", nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := s.Add(ctx, flashcard.Card{Word: " "}); !errors.Is(err, flashcard.ErrEmptyWord) {
		t.Errorf("empty word: got %v", err)
	}
	if err := s.Ping(ctx); err != nil {
		t.Errorf("Ping: %v", err)
	}
	s.Close()
	if _, err := s.Add(ctx, flashcard.Compose("x", "y", "")); !errors.Is(err, flashcard.ErrClosed) {
		t.Errorf("after close: got %v", err)
	}
	if err := s.Ping(ctx); !errors.Is(err, flashcard.ErrClosed) {
		t.Errorf("Ping after close: got %v", err)
	}
}
