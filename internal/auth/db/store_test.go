package db_test

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"

	"github.com/willemschots/notekeeper/internal/auth"
	"github.com/willemschots/notekeeper/internal/auth/authtest"
	"github.com/willemschots/notekeeper/internal/auth/db"
	"github.com/willemschots/notekeeper/internal/db/testdb"
	"github.com/willemschots/notekeeper/internal/email"
	"github.com/willemschots/notekeeper/internal/krypto"
)

const (
	encryptionKey1 = "2b671594b775f371eab4050b4d58326682df6b1a6cc2e886717b1a26b4d6c45d"
	encryptionKey2 = "4ee36b3ec5e20a8a5d4f8db3e3bb2b47b8b45b4a1f9b6b0c2ef1f9e2f7d1f8a9"
	blindIndexKey  = "90303dfed7994260ea4817a5ca8a392915cd401115b2f97495dadfcbcd14adbf"
)

func Test_Store(t *testing.T) {
	authtest.RunStoreTests(t, func(t *testing.T) auth.Store {
		testDB := testdb.RunWhile(t)
		return storeForTest(t, testDB, []string{encryptionKey1}, blindIndexKey)
	})
}

func Test_Store_EncryptedAtRest(t *testing.T) {
	testDB := testdb.RunWhile(t)
	store := storeForTest(t, testDB, []string{encryptionKey1}, blindIndexKey)

	acc := authtest.Account(t, "alice@example.com", nil)
	saveAccount(t, store, &acc)

	var (
		emailEncrypted  []byte
		emailBlindIndex string
		tokenEncrypted  []byte
		tokenBlindIndex string
	)

	row := testDB.QueryRow(`SELECT email_encrypted, email_blind_index, activation_token_encrypted, activation_token_blind_index FROM accounts WHERE id = ?`, acc.ID)
	err := row.Scan(&emailEncrypted, &emailBlindIndex, &tokenEncrypted, &tokenBlindIndex)
	if err != nil {
		t.Fatalf("failed to scan row: %v", err)
	}

	plainToken := acc.ActivationToken.Token.String()

	if bytes.Contains(emailEncrypted, []byte(acc.Email)) || strings.Contains(emailBlindIndex, string(acc.Email)) {
		t.Errorf("found plaintext email in stored columns")
	}

	if bytes.Contains(tokenEncrypted, acc.ActivationToken.Token.Bytes()) ||
		bytes.Contains(tokenEncrypted, []byte(plainToken)) ||
		strings.Contains(tokenBlindIndex, plainToken) {
		t.Errorf("found plaintext token in stored columns")
	}

	// Blind indexes never contain the salt, which is the key.
	if !strings.Contains(emailBlindIndex, "$$") {
		t.Errorf("expected blind index without salt, got %q", emailBlindIndex)
	}
}

func Test_Store_KeyRotation(t *testing.T) {
	testDB := testdb.RunWhile(t)

	oldStore := storeForTest(t, testDB, []string{encryptionKey1}, blindIndexKey)

	alice := authtest.Account(t, "alice@example.com", nil)
	saveAccount(t, oldStore, &alice)

	t.Run("ok, old key is still used for decryption", func(t *testing.T) {
		rotated := storeForTest(t, testDB, []string{encryptionKey1, encryptionKey2}, blindIndexKey)

		bob := authtest.Account(t, "bob@example.com", nil)
		saveAccount(t, rotated, &bob)

		got, err := rotated.FindAccounts(context.Background(), nil)
		if err != nil {
			t.Fatalf("failed to find accounts: %v", err)
		}

		authtest.AssertAccounts(t, got, []auth.Account{alice, bob})
	})

	t.Run("fail, newest key removed", func(t *testing.T) {
		rotated := storeForTest(t, testDB, []string{encryptionKey1, encryptionKey2}, blindIndexKey)

		carol := authtest.Account(t, "carol@example.com", nil)
		saveAccount(t, rotated, &carol)

		store := storeForTest(t, testDB, []string{encryptionKey1}, blindIndexKey)

		_, err := store.FindAccounts(context.Background(), &auth.AccountFilter{
			Emails: []email.Address{"carol@example.com"},
		})
		if !errors.Is(err, krypto.ErrUnknownKey) {
			t.Fatalf("expected error %v, got %v (via errors.Is)", krypto.ErrUnknownKey, err)
		}
	})

	t.Run("fail, key replaced", func(t *testing.T) {
		store := storeForTest(t, testDB, []string{encryptionKey2}, blindIndexKey)

		_, err := store.FindAccounts(context.Background(), &auth.AccountFilter{
			Emails: []email.Address{"alice@example.com"},
		})
		if !errors.Is(err, krypto.ErrInvalidData) {
			t.Fatalf("expected error %v, got %v (via errors.Is)", krypto.ErrInvalidData, err)
		}
	})

	t.Run("fail, different blind index key finds nothing", func(t *testing.T) {
		store := storeForTest(t, testDB, []string{encryptionKey1}, encryptionKey2)

		got, err := store.FindAccounts(context.Background(), &auth.AccountFilter{
			Emails: []email.Address{"alice@example.com"},
		})
		if err != nil {
			t.Fatalf("failed to find accounts: %v", err)
		}

		if len(got) != 0 {
			t.Errorf("expected no accounts, got %d", len(got))
		}
	})
}

func storeForTest(t *testing.T, testDB *sql.DB, encKeys []string, indexKey string) *db.Store {
	t.Helper()

	keys := make([]krypto.Key, 0, len(encKeys))
	for _, raw := range encKeys {
		k, err := krypto.ParseKey(raw)
		if err != nil {
			t.Fatalf("failed to parse key: %v", err)
		}
		keys = append(keys, k)
	}

	encryptor, err := krypto.NewEncryptor(keys)
	if err != nil {
		t.Fatalf("failed to create encryptor: %v", err)
	}

	key, err := krypto.ParseKey(indexKey)
	if err != nil {
		t.Fatalf("failed to parse key: %v", err)
	}

	return db.New(testDB, testDB, encryptor, key)
}

func saveAccount(t *testing.T, store *db.Store, a *auth.Account) {
	t.Helper()

	tx, err := store.BeginTx(context.Background())
	if err != nil {
		t.Fatalf("failed to begin tx: %v", err)
	}

	err = tx.SaveAccount(a)
	if err != nil {
		_ = tx.Rollback()
		t.Fatalf("failed to save account: %v", err)
	}

	err = tx.Commit()
	if err != nil {
		t.Fatalf("failed to commit tx: %v", err)
	}
}
