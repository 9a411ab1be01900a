// Package postgres provides a PostgreSQL-backed [flashcard.Store].
//
// All operations share a single [pgxpool.Pool]. [NewStore] runs [Migrate], so
// the cards table is created on first use.
//
// Usage:
//
//	store, err := postgres.NewStore(ctx, dsn, "wordlens", []string{"wordlens"})
//	if err != nil { … }
//	id, _ := store.Add(ctx, flashcard.Compose(word, html, context))
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlCards = `
CREATE TABLE IF NOT EXISTS flashcards (
    id           BIGSERIAL    PRIMARY KEY,
    word         TEXT         NOT NULL,
    meaning_html TEXT         NOT NULL,
    context      TEXT         NOT NULL DEFAULT '',
    deck         TEXT         NOT NULL,
    tags         TEXT[]       NOT NULL DEFAULT '{}',
    created_at   TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_flashcards_word ON flashcards (word);
CREATE INDEX IF NOT EXISTS idx_flashcards_deck ON flashcards (deck);
`

// Migrate creates the flashcards table and its indexes. It is idempotent.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, ddlCards); err != nil {
		return fmt.Errorf("postgres migrate: %w", err)
	}
	return nil
}
