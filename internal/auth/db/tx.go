package db

import (
	"context"
	"database/sql"

	"github.com/willemschots/notekeeper/internal/auth"
)

// Tx is a transaction. Statements use the context the transaction was started with.
type Tx struct {
	ctx   context.Context
	tx    *sql.Tx
	store *Store
}

func (t *Tx) Commit() error {
	return t.tx.Commit()
}

func (t *Tx) Rollback() error {
	return t.tx.Rollback()
}

// SaveAccount inserts the account if it has no ID yet, otherwise it updates it.
// It updates the ID (on insert) and Version of the account when successful.
func (t *Tx) SaveAccount(a *auth.Account) error {
	if a.ID == 0 {
		return insertAccount(t.store.newQuery(), t.exec, a)
	}

	return updateAccount(t.store.newQuery(), t.exec, t.query, a)
}

// FindAccounts queries for accounts based on the provided filter.
// It returns an empty slice if no accounts are found.
func (t *Tx) FindAccounts(filter *auth.AccountFilter) ([]auth.Account, error) {
	return selectAccounts(t.store.newQuery(), t.query, filter)
}

func (t *Tx) exec(query string, params ...any) (sql.Result, error) {
	return t.tx.ExecContext(t.ctx, query, params...)
}

func (t *Tx) query(query string, params ...any) (*sql.Rows, error) {
	return t.tx.QueryContext(t.ctx, query, params...)
}
