package postgres

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/wordlens/internal/flashcard"
)

var _ flashcard.Store = (*Store)(nil)

// Store is a PostgreSQL-backed flashcard store. All operations are safe for
// concurrent use.
type Store struct {
	pool *pgxpool.Pool
	deck string
	tags []string
}

// NewStore creates a connection pool to the database at dsn, verifies it with
// a ping, and runs [Migrate]. deck and tags are assigned to cards that carry
// none.
func NewStore(ctx context.Context, dsn, deck string, tags []string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}

	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: migrate: %w", err)
	}

	return &Store{pool: pool, deck: deck, tags: slices.Clone(tags)}, nil
}

// Pool returns the underlying pool.
func (s *Store) Pool() *pgxpool.Pool { return s.pool }

// Add implements [flashcard.Sink].
func (s *Store) Add(ctx context.Context, c flashcard.Card) (int64, error) {
	if err := c.Validate(); err != nil {
		return 0, err
	}
	c = c.WithDefaults(s.deck, s.tags, time.Now())
	if c.Tags == nil {
		c.Tags = []string{}
	}

	const q = `
		INSERT INTO flashcards (word, meaning_html, context, deck, tags, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`

	var id int64
	err := s.pool.QueryRow(ctx, q, c.Word, c.MeaningHTML, c.Context, c.Deck, c.Tags, c.CreatedAt).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("postgres store: add card: %w", err)
	}
	return id, nil
}

// List implements [flashcard.Store].
func (s *Store) List(ctx context.Context) ([]flashcard.Card, error) {
	const q = `
		SELECT id, word, meaning_html, context, deck, tags, created_at
		FROM   flashcards
		ORDER  BY id`

	rows, err := s.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("postgres store: list cards: %w", err)
	}
	cards, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (flashcard.Card, error) {
		var c flashcard.Card
		if err := row.Scan(&c.ID, &c.Word, &c.MeaningHTML, &c.Context, &c.Deck, &c.Tags, &c.CreatedAt); err != nil {
			return flashcard.Card{}, err
		}
		c.CreatedAt = c.CreatedAt.UTC()
		return c, nil
	})
	if err != nil {
		return nil, fmt.Errorf("postgres store: scan cards: %w", err)
	}
	return cards, nil
}

// Ping implements [flashcard.Store].
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("postgres store: ping: %w", err)
	}
	return nil
}

// Close implements [flashcard.Sink]. It waits for in-flight queries.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}
