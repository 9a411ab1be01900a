// Package flashcard stores finished lookups as study cards.
//
// A card is created only after a lookup reached its finished state. The
// orchestrator never talks to a sink directly; the surfaces (websocket
// session, HTTP handlers, MCP tool, CLI) call [Sink.Add] on user request.
package flashcard

import (
	"context"
	"errors"
	"html"
	"slices"
	"strings"
	"sync"
	"time"
)

var (
	// ErrEmptyWord is returned by Add when the card's word is blank.
	ErrEmptyWord = errors.New("flashcard: empty word")

	// ErrClosed is returned by operations on a closed store.
	ErrClosed = errors.New("flashcard: store closed")
)

// DefaultDeck is the deck assigned to cards that do not name one.
const DefaultDeck = "Default"

// Card is a single saved lookup.
type Card struct {
	ID          int64     `json:"id"`
	Word        string    `json:"word"`
	MeaningHTML string    `json:"meaning_html"`
	Context     string    `json:"context,omitempty"`
	Deck        string    `json:"deck"`
	Tags        []string  `json:"tags,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Compose builds a card from a rendered lookup. Word and context are trimmed;
// the meaning is kept as rendered.
func Compose(word, meaningHTML, context string) Card {
	return Card{
		Word:        strings.TrimSpace(word),
		MeaningHTML: meaningHTML,
		Context:     strings.TrimSpace(context),
	}
}

// MergedMeaning returns the meaning with the context appended as a labelled
// section, for sinks that keep meaning and context in one field.
func (c Card) MergedMeaning() string {
	if c.Context == "" {
		return c.MeaningHTML
	}
	return c.MeaningHTML + "<hr><b>Context:</b> " + html.EscapeString(c.Context)
}

// WithDefaults fills an empty deck, nil tags and a zero CreatedAt.
func (c Card) WithDefaults(deck string, tags []string, now time.Time) Card {
	if c.Deck == "" {
		c.Deck = deck
	}
	if c.Deck == "" {
		c.Deck = DefaultDeck
	}
	if c.Tags == nil {
		c.Tags = slices.Clone(tags)
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now.UTC()
	}
	return c
}

// Validate reports whether c can be stored.
func (c Card) Validate() error {
	if strings.TrimSpace(c.Word) == "" {
		return ErrEmptyWord
	}
	return nil
}

// Sink accepts finished cards.
type Sink interface {
	// Add stores c and returns its identifier.
	Add(ctx context.Context, c Card) (int64, error)

	// Close releases the sink's resources.
	Close() error
}

// Store is a Sink that can also list its cards and report its health.
type Store interface {
	Sink

	// List returns every stored card, oldest first.
	List(ctx context.Context) ([]Card, error)

	// Ping checks that the backing storage is reachable.
	Ping(ctx context.Context) error
}

var _ Store = (*Memory)(nil)

// Memory is an in-process [Store]. It is safe for concurrent use.
type Memory struct {
	deck string
	tags []string

	mu     sync.Mutex
	cards  []Card
	nextID int64
	closed bool
}

// NewMemory returns an empty store that assigns deck and tags to cards that
// carry none.
func NewMemory(deck string, tags []string) *Memory {
	return &Memory{deck: deck, tags: slices.Clone(tags)}
}

// Add implements [Sink].
func (m *Memory) Add(_ context.Context, c Card) (int64, error) {
	if err := c.Validate(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, ErrClosed
	}
	m.nextID++
	c = c.WithDefaults(m.deck, m.tags, time.Now())
	c.ID = m.nextID
	c.Tags = slices.Clone(c.Tags)
	m.cards = append(m.cards, c)
	return c.ID, nil
}

// List implements [Store].
func (m *Memory) List(_ context.Context) ([]Card, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	out := make([]Card, len(m.cards))
	for i, c := range m.cards {
		c.Tags = slices.Clone(c.Tags)
		out[i] = c
	}
	return out, nil
}

// Ping implements [Store].
func (m *Memory) Ping(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	return nil
}

// Close implements [Sink]. It is idempotent.
func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}
