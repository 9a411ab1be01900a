// Package jsonl stores flashcards as append-only JSON lines in a local file,
// one card per line. It suits a single reader who wants a file that can be
// imported into a spaced-repetition app.
package jsonl

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"slices"
	"sync"
	"time"

	"github.com/bytedance/sonic"

	"github.com/MrWong99/wordlens/internal/flashcard"
)

// Compile-time interface check.
var _ flashcard.Store = (*FileStore)(nil)

// maxLine bounds a single stored card.
const maxLine = 4 << 20

// FileStore persists cards as JSON lines. It is safe for concurrent use
// within one process.
type FileStore struct {
	mu     sync.Mutex
	path   string
	deck   string
	tags   []string
	nextID int64
	closed bool
}

// Open prepares a FileStore at path, creating the file if it does not exist.
// IDs continue after the highest ID already in the file.
func Open(path, deck string, tags []string) (*FileStore, error) {
	if path == "" {
		return nil, errors.New("jsonl store: path must not be empty")
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("jsonl store: open file: %w", err)
	}
	f.Close()

	s := &FileStore{path: path, deck: deck, tags: slices.Clone(tags)}
	cards, err := s.read()
	if err != nil {
		return nil, err
	}
	for _, c := range cards {
		s.nextID = max(s.nextID, c.ID)
	}
	return s, nil
}

// Add implements [flashcard.Sink].
func (s *FileStore) Add(_ context.Context, c flashcard.Card) (int64, error) {
	if err := c.Validate(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, flashcard.ErrClosed
	}

	c = c.WithDefaults(s.deck, s.tags, time.Now())
	c.ID = s.nextID + 1

	data, err := sonic.Marshal(c)
	if err != nil {
		return 0, fmt.Errorf("jsonl store: marshal: %w", err)
	}
	data = append(data, '\n')

	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return 0, fmt.Errorf("jsonl store: open file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		return 0, fmt.Errorf("jsonl store: write: %w", err)
	}
	s.nextID = c.ID
	return c.ID, nil
}

// List implements [flashcard.Store]. Cards are returned in file order.
func (s *FileStore) List(_ context.Context) ([]flashcard.Card, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, flashcard.ErrClosed
	}
	return s.read()
}

// Ping reports whether the file is still reachable.
func (s *FileStore) Ping(_ context.Context) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return flashcard.ErrClosed
	}
	if _, err := os.Stat(s.path); err != nil {
		return fmt.Errorf("jsonl store: %w", err)
	}
	return nil
}

// Close marks the store closed. No file handle is held between calls.
func (s *FileStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// read decodes every non-blank line. A malformed line is an error naming its
// line number.
func (s *FileStore) read() ([]flashcard.Card, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("jsonl store: read: %w", err)
	}
	var cards []flashcard.Card
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), maxLine)
	for n := 1; sc.Scan(); n++ {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var c flashcard.Card
		if err := sonic.Unmarshal(line, &c); err != nil {
			return nil, fmt.Errorf("jsonl store: line %d: %w", n, err)
		}
		cards = append(cards, c)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("jsonl store: scan: %w", err)
	}
	return cards, nil
}
