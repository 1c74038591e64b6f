// Package memory provides an in-memory implementation of the auth store.
// It's used in tests and for running the app without a database.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/willemschots/notekeeper/internal/auth"
	"github.com/willemschots/notekeeper/internal/errorz"
	"golang.org/x/sync/semaphore"
)

// Store keeps accounts in memory. Transactions are serialized, a Tx
// works on a copy of the accounts that replaces them on Commit.
type Store struct {
	// txSem allows a single open transaction at a time.
	txSem *semaphore.Weighted

	mu       sync.RWMutex
	accounts map[int]auth.Account
	lastID   int
}

// New creates a new empty Store.
func New() *Store {
	return &Store{
		txSem:    semaphore.NewWeighted(1),
		accounts: make(map[int]auth.Account),
	}
}

// BeginTx starts a new transaction. It blocks until all other transactions
// are finished or ctx is done.
func (s *Store) BeginTx(ctx context.Context) (auth.Tx, error) {
	err := s.txSem.Acquire(ctx, 1)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	return &Tx{
		store:    s,
		accounts: cloneAccounts(s.accounts),
		lastID:   s.lastID,
	}, nil
}

// FindAccounts queries the committed accounts.
func (s *Store) FindAccounts(ctx context.Context, filter *auth.AccountFilter) ([]auth.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	return findAccounts(s.accounts, filter), nil
}

// Tx is a transaction on a Store.
type Tx struct {
	store    *Store
	accounts map[int]auth.Account
	lastID   int
	done     bool
}

func (t *Tx) Commit() error {
	if t.done {
		return errorz.ErrTxBadState
	}
	t.done = true

	t.store.mu.Lock()
	t.store.accounts = t.accounts
	t.store.lastID = t.lastID
	t.store.mu.Unlock()

	t.store.txSem.Release(1)
	return nil
}

func (t *Tx) Rollback() error {
	if t.done {
		return errorz.ErrTxBadState
	}
	t.done = true

	t.store.txSem.Release(1)
	return nil
}

// SaveAccount inserts or updates the account, see auth.Tx for the details.
func (t *Tx) SaveAccount(a *auth.Account) error {
	if t.done {
		return errorz.ErrTxBadState
	}

	if a.ID != 0 {
		existing, ok := t.accounts[a.ID]
		if !ok {
			return fmt.Errorf("account %d: %w", a.ID, errorz.ErrNotFound)
		}

		if existing.Version != a.Version {
			return fmt.Errorf("account %d has version %d, got %d: %w", a.ID, existing.Version, a.Version, errorz.ErrConflict)
		}
	}

	for id, other := range t.accounts {
		if id == a.ID {
			continue
		}

		if err := checkUnique(other, a); err != nil {
			return err
		}
	}

	if a.ID == 0 {
		t.lastID++
		a.ID = t.lastID
	}

	a.Version++
	t.accounts[a.ID] = cloneAccount(*a)

	return nil
}

// FindAccounts queries the accounts as seen by this transaction.
func (t *Tx) FindAccounts(filter *auth.AccountFilter) ([]auth.Account, error) {
	if t.done {
		return nil, errorz.ErrTxBadState
	}

	return findAccounts(t.accounts, filter), nil
}

func checkUnique(existing auth.Account, a *auth.Account) error {
	if existing.Email == a.Email {
		return fmt.Errorf("email already in use: %w", errorz.ErrConstraintViolated)
	}

	if sameToken(existing.ActivationToken, a.ActivationToken) {
		return fmt.Errorf("activation token already in use: %w", errorz.ErrConstraintViolated)
	}

	if sameToken(existing.ResetToken, a.ResetToken) {
		return fmt.Errorf("reset token already in use: %w", errorz.ErrConstraintViolated)
	}

	return nil
}

func sameToken(a, b *auth.IssuedToken) bool {
	return a != nil && b != nil && a.Token == b.Token
}

func findAccounts(accounts map[int]auth.Account, f *auth.AccountFilter) []auth.Account {
	out := make([]auth.Account, 0)
	for _, a := range accounts {
		if matches(a, f) {
			out = append(out, cloneAccount(a))
		}
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].ID < out[j].ID
	})

	return out
}

func matches(a auth.Account, f *auth.AccountFilter) bool {
	if f == nil {
		return true
	}

	if len(f.IDs) > 0 && !contains(f.IDs, a.ID) {
		return false
	}

	if len(f.Emails) > 0 && !contains(f.Emails, a.Email) {
		return false
	}

	if len(f.ActivationTokens) > 0 && (a.ActivationToken == nil || !contains(f.ActivationTokens, a.ActivationToken.Token)) {
		return false
	}

	if len(f.ResetTokens) > 0 && (a.ResetToken == nil || !contains(f.ResetTokens, a.ResetToken.Token)) {
		return false
	}

	return true
}

func contains[T comparable](s []T, v T) bool {
	for _, e := range s {
		if e == v {
			return true
		}
	}
	return false
}

func cloneAccounts(in map[int]auth.Account) map[int]auth.Account {
	out := make(map[int]auth.Account, len(in))
	for id, a := range in {
		out[id] = cloneAccount(a)
	}
	return out
}

// cloneAccount copies the token pointers, so callers can't change stored accounts.
func cloneAccount(a auth.Account) auth.Account {
	if a.ActivationToken != nil {
		tok := *a.ActivationToken
		a.ActivationToken = &tok
	}

	if a.ResetToken != nil {
		tok := *a.ResetToken
		a.ResetToken = &tok
	}

	return a
}
