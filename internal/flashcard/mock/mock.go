// Package mock provides an in-memory mock implementation of
// [flashcard.Store] for use in unit tests.
//
// The mock is safe for concurrent use, records every call, and exposes
// exported fields for configuring return values.
//
// Example:
//
//	st := &mock.Store{AddID: 7}
//	id, err := st.Add(ctx, flashcard.Compose("cat", "<div>…</div>", ""))
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/wordlens/internal/flashcard"
)

var _ flashcard.Store = (*Store)(nil)

// Store is a mock implementation of [flashcard.Store].
type Store struct {
	mu sync.Mutex

	// AddID is returned by [Store.Add]. When zero, Add returns the number of
	// successful Add calls so far.
	AddID int64

	// AddErr is returned by [Store.Add] instead of storing the card.
	AddErr error

	// ListResult is returned by [Store.List]. When nil, List returns the cards
	// recorded by Add.
	ListResult []flashcard.Card

	// ListErr is returned by [Store.List].
	ListErr error

	// PingErr is returned by [Store.Ping].
	PingErr error

	// CloseErr is returned by [Store.Close].
	CloseErr error

	// Added records every card passed to a successful Add.
	Added []flashcard.Card

	// CallCountClose records how many times Close was called.
	CallCountClose int
}

// Add implements [flashcard.Sink]. Card validation runs before AddErr.
func (s *Store) Add(_ context.Context, c flashcard.Card) (int64, error) {
	if err := c.Validate(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.AddErr != nil {
		return 0, s.AddErr
	}
	s.Added = append(s.Added, c)
	if s.AddID != 0 {
		return s.AddID, nil
	}
	return int64(len(s.Added)), nil
}

// List implements [flashcard.Store].
func (s *Store) List(_ context.Context) ([]flashcard.Card, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ListErr != nil {
		return nil, s.ListErr
	}
	if s.ListResult != nil {
		return append([]flashcard.Card(nil), s.ListResult...), nil
	}
	return append([]flashcard.Card(nil), s.Added...), nil
}

// Ping implements [flashcard.Store].
func (s *Store) Ping(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.PingErr
}

// Close implements [flashcard.Sink].
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountClose++
	return s.CloseErr
}

// Cards returns a copy of the cards recorded by Add.
func (s *Store) Cards() []flashcard.Card {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]flashcard.Card(nil), s.Added...)
}
