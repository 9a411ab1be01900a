// Package sqlite provides a file-backed [flashcard.Store] on top of SQLite.
//
// The schema is created on [Open]. go-sqlite3 is a cgo driver, so binaries
// that use this package need a C toolchain at build time.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	_ "github.com/mattn/go-sqlite3"

	"github.com/MrWong99/wordlens/internal/flashcard"
)

var _ flashcard.Store = (*Store)(nil)

// schemaSQL creates the cards table. Statements are separated by semicolons.
const schemaSQL = `
CREATE TABLE IF NOT EXISTS cards (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    word         TEXT    NOT NULL,
    meaning_html TEXT    NOT NULL,
    context      TEXT    NOT NULL DEFAULT '',
    deck         TEXT    NOT NULL,
    tags         TEXT    NOT NULL DEFAULT '[]',
    created_at   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_cards_word ON cards (word);
CREATE INDEX IF NOT EXISTS idx_cards_deck ON cards (deck)
`

// Store is a SQLite-backed flashcard store. All operations are safe for
// concurrent use; writes are serialised through a single connection.
type Store struct {
	db   *sql.DB
	deck string
	tags []string
	now  func() time.Time
}

// Open opens (or creates) the database at path and migrates it. deck and tags
// are assigned to cards that carry none. Use ":memory:" for a throwaway
// database.
func Open(ctx context.Context, path, deck string, tags []string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlite store: empty path")
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: open: %w", err)
	}
	// A single connection keeps ":memory:" databases shared and avoids
	// SQLITE_BUSY on concurrent writers.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite store: ping: %w", err)
	}
	if err := Migrate(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite store: migrate: %w", err)
	}
	return &Store{db: db, deck: deck, tags: slices.Clone(tags), now: time.Now}, nil
}

// Migrate runs the schema statements against db. It is idempotent.
func Migrate(ctx context.Context, db *sql.DB) error {
	for _, stmt := range strings.Split(schemaSQL, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// Add implements [flashcard.Sink].
func (s *Store) Add(ctx context.Context, c flashcard.Card) (int64, error) {
	if err := c.Validate(); err != nil {
		return 0, err
	}
	c = c.WithDefaults(s.deck, s.tags, s.now())
	tags, err := sonic.MarshalString(nonNil(c.Tags))
	if err != nil {
		return 0, fmt.Errorf("sqlite store: encode tags: %w", err)
	}

	const q = `INSERT INTO cards (word, meaning_html, context, deck, tags, created_at)
	           VALUES (?, ?, ?, ?, ?, ?)`
	res, err := s.db.ExecContext(ctx, q, c.Word, c.MeaningHTML, c.Context, c.Deck, tags, c.CreatedAt.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("sqlite store: add card: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("sqlite store: add card: last insert id: %w", err)
	}
	return id, nil
}

// List implements [flashcard.Store].
func (s *Store) List(ctx context.Context) ([]flashcard.Card, error) {
	const q = `SELECT id, word, meaning_html, context, deck, tags, created_at
	           FROM cards ORDER BY id`
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: list cards: %w", err)
	}
	defer rows.Close()

	var cards []flashcard.Card
	for rows.Next() {
		var (
			c       flashcard.Card
			tags    string
			created int64
		)
		if err := rows.Scan(&c.ID, &c.Word, &c.MeaningHTML, &c.Context, &c.Deck, &tags, &created); err != nil {
			return nil, fmt.Errorf("sqlite store: scan card: %w", err)
		}
		if err := sonic.UnmarshalString(tags, &c.Tags); err != nil {
			return nil, fmt.Errorf("sqlite store: decode tags of card %d: %w", c.ID, err)
		}
		c.CreatedAt = time.Unix(0, created).UTC()
		cards = append(cards, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite store: list cards: %w", err)
	}
	return cards, nil
}

// Ping implements [flashcard.Store].
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("sqlite store: ping: %w", err)
	}
	return nil
}

// Close implements [flashcard.Sink].
func (s *Store) Close() error {
	return s.db.Close()
}

func nonNil(tags []string) []string {
	if tags == nil {
		return []string{}
	}
	return tags
}
