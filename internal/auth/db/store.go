// Package db implements the auth store on top of SQLite.
//
// Emails and tokens are stored encrypted. Lookups by email or token use
// blind indexes: keyed argon2 hashes that can be compared for equality
// without revealing the underlying value.
package db

import (
	"context"
	"database/sql"

	"github.com/willemschots/notekeeper/internal/auth"
	"github.com/willemschots/notekeeper/internal/db"
	"github.com/willemschots/notekeeper/internal/krypto"
)

// Store is responsible for interacting with a database.
type Store struct {
	readDB        *sql.DB
	writeDB       *sql.DB
	encryptor     *krypto.Encryptor
	blindIndexKey krypto.Key
}

// New creates a new Store. Transactions use writeDB, which is expected to
// hold a single connection with immediate transactions, see db.OpenSQLite.
// readDB is used for queries outside of transactions, it may be the same as writeDB.
func New(readDB, writeDB *sql.DB, encryptor *krypto.Encryptor, blindIndexKey krypto.Key) *Store {
	return &Store{
		readDB:        readDB,
		writeDB:       writeDB,
		encryptor:     encryptor,
		blindIndexKey: blindIndexKey,
	}
}

// BeginTx starts a new transaction.
func (s *Store) BeginTx(ctx context.Context) (auth.Tx, error) {
	tx, err := s.writeDB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}

	return &Tx{
		ctx:   ctx,
		tx:    tx,
		store: s,
	}, nil
}

// FindAccounts queries for accounts based on the provided filter.
// It returns an empty slice if no accounts are found.
func (s *Store) FindAccounts(ctx context.Context, filter *auth.AccountFilter) ([]auth.Account, error) {
	return selectAccounts(s.newQuery(), func(query string, params ...any) (*sql.Rows, error) {
		return s.readDB.QueryContext(ctx, query, params...)
	}, filter)
}

func (s *Store) newQuery() *db.Query {
	return &db.Query{
		Encryptor:     s.encryptor,
		BlindIndexKey: s.blindIndexKey,
	}
}
