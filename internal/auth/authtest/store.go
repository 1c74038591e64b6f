// Package authtest provides tests that every auth.Store implementation
// should pass.
package authtest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/willemschots/notekeeper/internal/auth"
	"github.com/willemschots/notekeeper/internal/email"
	"github.com/willemschots/notekeeper/internal/errorz"
	"github.com/willemschots/notekeeper/internal/krypto"
)

// StoreFunc creates a new, empty store for the test.
type StoreFunc func(t *testing.T) auth.Store

// RunStoreTests runs the shared store tests against stores created by newStore.
func RunStoreTests(t *testing.T, newStore StoreFunc) {
	t.Run("ok, insert account", func(t *testing.T) {
		store := newStore(t)

		acc := Account(t, "alice@example.com", nil)

		inTx(t, store, func(tx auth.Tx) {
			err := tx.SaveAccount(&acc)
			if err != nil {
				t.Fatalf("failed to save account: %v", err)
			}

			want := Account(t, "alice@example.com", func(a *auth.Account) {
				a.ID = acc.ID
				a.Version = 1
				a.ActivationToken.Token = acc.ActivationToken.Token
			})

			if acc.ID == 0 {
				t.Fatalf("expected store to set an ID")
			}

			AssertAccounts(t, []auth.Account{acc}, []auth.Account{want})
			assertFind(t, tx, &auth.AccountFilter{IDs: []int{acc.ID}}, []auth.Account{want})
		})

		got, err := store.FindAccounts(context.Background(), &auth.AccountFilter{IDs: []int{acc.ID}})
		if err != nil {
			t.Fatalf("failed to find accounts: %v", err)
		}

		AssertAccounts(t, got, []auth.Account{acc})
	})

	t.Run("ok, update account", func(t *testing.T) {
		store := newStore(t)

		acc := Account(t, "alice@example.com", nil)
		inTx(t, store, func(tx auth.Tx) {
			mustSave(t, tx, &acc)
		})

		acc.Email = "jacob@example.com"
		acc.Name = "Jacob"
		acc.PasswordHash = argon2Hash(t, "$argon2id$v=19$m=47104,t=1,p=1$CkX5zzYLJMWm0y/17eScyw$Qfah+NewdsdeF0+iV72mShZhRO93Qwzdj17TUZCH6ZU")
		acc.Status = auth.StatusActive
		acc.ActivationToken = nil
		acc.ResetToken = &auth.IssuedToken{
			Token:    mustToken(t),
			IssuedAt: Now(t, 2),
		}
		acc.UpdatedAt = Now(t, 2)

		inTx(t, store, func(tx auth.Tx) {
			mustSave(t, tx, &acc)
		})

		if acc.Version != 2 {
			t.Errorf("got version %d, want 2", acc.Version)
		}

		got, err := store.FindAccounts(context.Background(), &auth.AccountFilter{
			Emails: []email.Address{"jacob@example.com"},
		})
		if err != nil {
			t.Fatalf("failed to find accounts: %v", err)
		}

		AssertAccounts(t, got, []auth.Account{acc})

		// The old email no longer matches.
		assertFindOutsideTx(t, store, &auth.AccountFilter{Emails: []email.Address{"alice@example.com"}}, []auth.Account{})
	})

	t.Run("ok, rollback discards changes", func(t *testing.T) {
		store := newStore(t)

		acc := Account(t, "alice@example.com", nil)

		tx, err := store.BeginTx(context.Background())
		if err != nil {
			t.Fatalf("failed to begin tx: %v", err)
		}

		mustSave(t, tx, &acc)

		err = tx.Rollback()
		if err != nil {
			t.Fatalf("failed to rollback: %v", err)
		}

		assertFindOutsideTx(t, store, nil, []auth.Account{})
	})

	t.Run("ok, find accounts by filter", func(t *testing.T) {
		store := newStore(t)

		alice := Account(t, "alice@example.com", nil)
		bob := Account(t, "bob@example.com", func(a *auth.Account) {
			a.ActivationToken = nil
			a.Status = auth.StatusActive
			a.ResetToken = &auth.IssuedToken{
				Token:    mustToken(t),
				IssuedAt: Now(t, 1),
			}
		})
		carol := Account(t, "carol@example.com", nil)

		inTx(t, store, func(tx auth.Tx) {
			mustSave(t, tx, &alice)
			mustSave(t, tx, &bob)
			mustSave(t, tx, &carol)
		})

		tests := map[string]struct {
			filter *auth.AccountFilter
			want   []auth.Account
		}{
			"nil filter": {
				filter: nil,
				want:   []auth.Account{alice, bob, carol},
			},
			"empty filter": {
				filter: &auth.AccountFilter{},
				want:   []auth.Account{alice, bob, carol},
			},
			"by ids": {
				filter: &auth.AccountFilter{IDs: []int{carol.ID, alice.ID}},
				want:   []auth.Account{alice, carol},
			},
			"by emails": {
				filter: &auth.AccountFilter{Emails: []email.Address{"bob@example.com", "dave@example.com"}},
				want:   []auth.Account{bob},
			},
			"by activation token": {
				filter: &auth.AccountFilter{ActivationTokens: []krypto.Token{carol.ActivationToken.Token}},
				want:   []auth.Account{carol},
			},
			"by reset token": {
				filter: &auth.AccountFilter{ResetTokens: []krypto.Token{bob.ResetToken.Token}},
				want:   []auth.Account{bob},
			},
			"reset token is not an activation token": {
				filter: &auth.AccountFilter{ActivationTokens: []krypto.Token{bob.ResetToken.Token}},
				want:   []auth.Account{},
			},
			"all fields must match": {
				filter: &auth.AccountFilter{
					IDs:    []int{alice.ID},
					Emails: []email.Address{"bob@example.com"},
				},
				want: []auth.Account{},
			},
			"unknown token": {
				filter: &auth.AccountFilter{ResetTokens: []krypto.Token{mustToken(t)}},
				want:   []auth.Account{},
			},
		}

		for name, tc := range tests {
			t.Run(name, func(t *testing.T) {
				assertFindOutsideTx(t, store, tc.filter, tc.want)

				inTx(t, store, func(tx auth.Tx) {
					assertFind(t, tx, tc.filter, tc.want)
				})
			})
		}
	})

	t.Run("fail, update unknown account", func(t *testing.T) {
		store := newStore(t)

		acc := Account(t, "alice@example.com", func(a *auth.Account) {
			a.ID = 1 // The ID is set, but this account was never created.
			a.Version = 1
		})

		inTx(t, store, func(tx auth.Tx) {
			err := tx.SaveAccount(&acc)
			if !errors.Is(err, errorz.ErrNotFound) {
				t.Fatalf("expected error %v, got %v (via errors.Is)", errorz.ErrNotFound, err)
			}
		})
	})

	t.Run("fail, update stale version", func(t *testing.T) {
		store := newStore(t)

		acc := Account(t, "alice@example.com", nil)
		inTx(t, store, func(tx auth.Tx) {
			mustSave(t, tx, &acc)
		})

		stale := acc

		acc.Status = auth.StatusActive
		acc.ActivationToken = nil
		inTx(t, store, func(tx auth.Tx) {
			mustSave(t, tx, &acc)
		})

		stale.Name = "Mallory"
		inTx(t, store, func(tx auth.Tx) {
			err := tx.SaveAccount(&stale)
			if !errors.Is(err, errorz.ErrConflict) {
				t.Fatalf("expected error %v, got %v (via errors.Is)", errorz.ErrConflict, err)
			}
		})

		assertFindOutsideTx(t, store, nil, []auth.Account{acc})
	})

	uniqueTests := map[string]func(existing, a *auth.Account){
		"fail, duplicate email": func(existing, a *auth.Account) {
			a.Email = existing.Email
		},
		"fail, duplicate activation token": func(existing, a *auth.Account) {
			a.ActivationToken = &auth.IssuedToken{
				Token:    existing.ActivationToken.Token,
				IssuedAt: Now(t, 1),
			}
		},
		"fail, duplicate reset token": func(existing, a *auth.Account) {
			a.ResetToken = &auth.IssuedToken{
				Token:    existing.ResetToken.Token,
				IssuedAt: Now(t, 1),
			}
		},
	}

	for name, modFunc := range uniqueTests {
		t.Run(name, func(t *testing.T) {
			store := newStore(t)

			existing := Account(t, "alice@example.com", func(a *auth.Account) {
				a.ResetToken = &auth.IssuedToken{
					Token:    mustToken(t),
					IssuedAt: Now(t, 0),
				}
			})
			inTx(t, store, func(tx auth.Tx) {
				mustSave(t, tx, &existing)
			})

			acc := Account(t, "bob@example.com", nil)
			modFunc(&existing, &acc)

			inTx(t, store, func(tx auth.Tx) {
				err := tx.SaveAccount(&acc)
				if !errors.Is(err, errorz.ErrConstraintViolated) {
					t.Fatalf("expected error %v, got %v (via errors.Is)", errorz.ErrConstraintViolated, err)
				}
			})

			assertFindOutsideTx(t, store, nil, []auth.Account{existing})
		})
	}

	t.Run("fail, transactions are serialized", func(t *testing.T) {
		store := newStore(t)

		tx, err := store.BeginTx(context.Background())
		if err != nil {
			t.Fatalf("failed to begin tx: %v", err)
		}

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()

		_, err = store.BeginTx(ctx)
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("expected error %v, got %v (via errors.Is)", context.DeadlineExceeded, err)
		}

		err = tx.Rollback()
		if err != nil {
			t.Fatalf("failed to rollback: %v", err)
		}

		// Once the first transaction is done a new one can begin.
		inTx(t, store, func(tx auth.Tx) {})
	})
}

// Account returns a pending account for tests. Use modFunc to change it.
func Account(t *testing.T, addr email.Address, modFunc func(*auth.Account)) auth.Account {
	t.Helper()

	a := auth.Account{
		Email:        addr,
		Name:         "Alice",
		PasswordHash: argon2Hash(t, "$argon2id$v=19$m=47104,t=1,p=1$vP9U4C5jsOzFQLj0gvUkYw$YLrSb2dGfcVohlm8syynqHs6/NHxXS9rt/t6TjL7pi0"),
		Status:       auth.StatusPendingActivation,
		ActivationToken: &auth.IssuedToken{
			Token:    mustToken(t),
			IssuedAt: Now(t, 0),
		},
		CreatedAt: Now(t, 0),
		UpdatedAt: Now(t, 0),
	}

	if modFunc != nil {
		modFunc(&a)
	}

	return a
}

// Now returns a fixed point in time, i seconds apart.
func Now(t *testing.T, i int) time.Time {
	t.Helper()

	return time.Date(2024, 1, 1, 0, 0, i, 0, time.UTC)
}

// AssertAccounts compares accounts field by field.
func AssertAccounts(t *testing.T, got, want []auth.Account) {
	t.Helper()

	if len(got) != len(want) {
		t.Fatalf("got %d accounts, want %d\ngot\n%+v\nwant\n%+v", len(got), len(want), got, want)
	}

	for i := range got {
		if !equalAccount(got[i], want[i]) {
			t.Errorf("account %d:\ngot\n%+v\nwant\n%+v", i, got[i], want[i])
		}
	}
}

func equalAccount(a, b auth.Account) bool {
	return a.ID == b.ID &&
		a.Email == b.Email &&
		a.Name == b.Name &&
		a.PasswordHash.String() == b.PasswordHash.String() &&
		a.Status == b.Status &&
		equalToken(a.ActivationToken, b.ActivationToken) &&
		equalToken(a.ResetToken, b.ResetToken) &&
		a.Version == b.Version &&
		a.CreatedAt.Equal(b.CreatedAt) &&
		a.UpdatedAt.Equal(b.UpdatedAt)
}

func equalToken(a, b *auth.IssuedToken) bool {
	if a == nil || b == nil {
		return a == b
	}

	return a.Token == b.Token && a.IssuedAt.Equal(b.IssuedAt)
}

func inTx(t *testing.T, store auth.Store, f func(tx auth.Tx)) {
	t.Helper()

	tx, err := store.BeginTx(context.Background())
	if err != nil {
		t.Fatalf("failed to begin tx: %v", err)
	}

	// Rollback is a no-op error once the tx is committed.
	defer func() {
		_ = tx.Rollback()
	}()

	f(tx)

	err = tx.Commit()
	if err != nil {
		t.Fatalf("failed to commit tx: %v", err)
	}
}

func mustSave(t *testing.T, tx auth.Tx, a *auth.Account) {
	t.Helper()

	err := tx.SaveAccount(a)
	if err != nil {
		t.Fatalf("failed to save account: %v", err)
	}
}

func assertFind(t *testing.T, tx auth.Tx, filter *auth.AccountFilter, want []auth.Account) {
	t.Helper()

	got, err := tx.FindAccounts(filter)
	if err != nil {
		t.Fatalf("failed to find accounts: %v", err)
	}

	AssertAccounts(t, got, want)
}

func assertFindOutsideTx(t *testing.T, store auth.Store, filter *auth.AccountFilter, want []auth.Account) {
	t.Helper()

	got, err := store.FindAccounts(context.Background(), filter)
	if err != nil {
		t.Fatalf("failed to find accounts: %v", err)
	}

	AssertAccounts(t, got, want)
}

func argon2Hash(t *testing.T, raw string) krypto.Argon2Hash {
	t.Helper()

	hash, err := krypto.ParseArgon2Hash(raw)
	if err != nil {
		t.Fatalf("failed to parse hash: %v", err)
	}

	return hash
}

func mustToken(t *testing.T) krypto.Token {
	t.Helper()

	tok, err := krypto.GenerateToken()
	if err != nil {
		t.Fatalf("failed to generate token: %v", err)
	}

	return tok
}
