package auth

import (
	"context"

	"github.com/willemschots/notekeeper/internal/email"
	"github.com/willemschots/notekeeper/internal/krypto"
)

// AccountFilter is used to filter accounts.
// Returned accounts must match all the provided fields.
// If a field is empty or nil, it's ignored.
type AccountFilter struct {
	IDs              []int
	Emails           []email.Address
	ActivationTokens []krypto.Token
	ResetTokens      []krypto.Token
}

// Store provides access to the account store.
type Store interface {
	BeginTx(ctx context.Context) (Tx, error)

	// FindAccounts queries accounts outside of a transaction.
	// It returns an empty slice if no accounts are found.
	FindAccounts(ctx context.Context, filter *AccountFilter) ([]Account, error)
}

// Tx is a transaction. If an error occurs on any of the Save/Find methods,
// the transaction is considered to have failed and should be rolled back.
// Tx is not safe for concurrent use.
//
// Transactions are serialized: while a Tx is open, no other Tx can observe
// or change accounts.
type Tx interface {
	Commit() error
	Rollback() error

	// SaveAccount inserts the account if its ID is 0, otherwise it updates it.
	// On success the ID (for inserts) and Version of the account are updated.
	//
	// It returns errorz.ErrConstraintViolated if the email or a token is already in use,
	// errorz.ErrNotFound if no account with the ID exists and errorz.ErrConflict if the
	// account was changed since it was read.
	SaveAccount(a *Account) error

	// FindAccounts returns an empty slice if no accounts are found.
	FindAccounts(filter *AccountFilter) ([]Account, error)
}
