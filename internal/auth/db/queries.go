package db

import (
	"database/sql"
	"fmt"

	"github.com/willemschots/notekeeper/internal/auth"
	"github.com/willemschots/notekeeper/internal/db"
	"github.com/willemschots/notekeeper/internal/email"
	"github.com/willemschots/notekeeper/internal/errorz"
	"github.com/willemschots/notekeeper/internal/krypto"
)

type execFunc func(query string, params ...any) (sql.Result, error)
type queryFunc func(query string, params ...any) (*sql.Rows, error)

const accountColumns = `id, email_encrypted, name, password_hash, status, ` +
	`activation_token_encrypted, activation_token_issued_at, ` +
	`reset_token_encrypted, reset_token_issued_at, ` +
	`version, created_at, updated_at`

func insertAccount(q *db.Query, ef execFunc, a *auth.Account) error {
	q.Unsafe(`INSERT INTO accounts (email_encrypted, email_blind_index, name, password_hash, status, ` +
		`activation_token_encrypted, activation_token_blind_index, activation_token_issued_at, ` +
		`reset_token_encrypted, reset_token_blind_index, reset_token_issued_at, ` +
		`version, created_at, updated_at) VALUES (`)
	q.ParamEncrypted([]byte(a.Email))
	q.Unsafe(`, `)
	q.ParamBlindIndex([]byte(a.Email))
	q.Unsafe(`, `)
	q.Params(a.Name, a.PasswordHash.String(), string(a.Status))
	q.Unsafe(`, `)
	tokenParams(q, a.ActivationToken)
	q.Unsafe(`, `)
	tokenParams(q, a.ResetToken)
	q.Unsafe(`, `)
	q.Params(a.Version+1, a.CreatedAt, a.UpdatedAt)
	q.Unsafe(`)`)

	s, params, err := q.Get()
	if err != nil {
		return err
	}

	result, err := ef(s, params...)
	if err != nil {
		return errorz.MapDBErr(err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return errorz.MapDBErr(err)
	}

	a.ID = int(id)
	a.Version++

	return nil
}

func updateAccount(q *db.Query, ef execFunc, qf queryFunc, a *auth.Account) error {
	q.Unsafe(`UPDATE accounts SET `)

	q.Unsafe(`email_encrypted = `)
	q.ParamEncrypted([]byte(a.Email))

	q.Unsafe(`, email_blind_index = `)
	q.ParamBlindIndex([]byte(a.Email))

	q.Unsafe(`, name = `)
	q.Param(a.Name)

	q.Unsafe(`, password_hash = `)
	q.Param(a.PasswordHash.String())

	q.Unsafe(`, status = `)
	q.Param(string(a.Status))

	q.Unsafe(`, (activation_token_encrypted, activation_token_blind_index, activation_token_issued_at) = (`)
	tokenParams(q, a.ActivationToken)

	q.Unsafe(`), (reset_token_encrypted, reset_token_blind_index, reset_token_issued_at) = (`)
	tokenParams(q, a.ResetToken)

	q.Unsafe(`), version = version + 1`)

	q.Unsafe(`, created_at = `)
	q.Param(a.CreatedAt)

	q.Unsafe(`, updated_at = `)
	q.Param(a.UpdatedAt)

	q.Unsafe(` WHERE id = `)
	q.Param(a.ID)

	q.Unsafe(` AND version = `)
	q.Param(a.Version)

	s, params, err := q.Get()
	if err != nil {
		return err
	}

	result, err := ef(s, params...)
	if err != nil {
		return errorz.MapDBErr(err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return errorz.MapDBErr(err)
	}

	if rows == 0 {
		return missingOrConflict(qf, a.ID)
	}

	a.Version++

	return nil
}

// missingOrConflict determines why an update did not affect any rows.
func missingOrConflict(qf queryFunc, id int) error {
	rows, err := qf(`SELECT version FROM accounts WHERE id = ?`, id)
	if err != nil {
		return errorz.MapDBErr(err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return errorz.MapDBErr(err)
		}
		return fmt.Errorf("account %d: %w", id, errorz.ErrNotFound)
	}

	return fmt.Errorf("account %d was changed: %w", id, errorz.ErrConflict)
}

// tokenParams writes the encrypted token, its blind index and the issue time.
// A nil token results in three NULL values.
func tokenParams(q *db.Query, it *auth.IssuedToken) {
	if it == nil {
		q.Params(nil, nil, nil)
		return
	}

	q.ParamEncrypted(it.Token.Bytes())
	q.Unsafe(`, `)
	q.ParamBlindIndex(it.Token.Bytes())
	q.Unsafe(`, `)
	q.Param(it.IssuedAt)
}

func selectAccounts(q *db.Query, qf queryFunc, f *auth.AccountFilter) ([]auth.Account, error) {
	q.Unsafe(`SELECT ` + accountColumns + ` FROM accounts WHERE 1=1 `)

	if f != nil {
		if len(f.IDs) > 0 {
			q.Unsafe(`AND id IN (`)
			q.Params(anySlice(f.IDs)...)
			q.Unsafe(`) `)
		}

		if len(f.Emails) > 0 {
			q.Unsafe(`AND email_blind_index IN (`)
			q.ParamsBlindIndex(bytesSlice(f.Emails, func(a email.Address) []byte { return []byte(a) })...)
			q.Unsafe(`) `)
		}

		if len(f.ActivationTokens) > 0 {
			q.Unsafe(`AND activation_token_blind_index IN (`)
			q.ParamsBlindIndex(bytesSlice(f.ActivationTokens, krypto.Token.Bytes)...)
			q.Unsafe(`) `)
		}

		if len(f.ResetTokens) > 0 {
			q.Unsafe(`AND reset_token_blind_index IN (`)
			q.ParamsBlindIndex(bytesSlice(f.ResetTokens, krypto.Token.Bytes)...)
			q.Unsafe(`) `)
		}
	}

	q.Unsafe(`ORDER BY id ASC`)

	s, params, err := q.Get()
	if err != nil {
		return nil, err
	}

	rows, err := qf(s, params...)
	if err != nil {
		return nil, errorz.MapDBErr(err)
	}

	defer rows.Close()

	out := make([]auth.Account, 0)
	for rows.Next() {
		a, err := scanAccount(q, rows)
		if err != nil {
			return nil, err
		}

		out = append(out, a)
	}

	if err := rows.Err(); err != nil {
		return nil, errorz.MapDBErr(err)
	}

	return out, nil
}

func scanAccount(q *db.Query, rows *sql.Rows) (auth.Account, error) {
	var (
		a                  auth.Account
		status             string
		emailBytes         = q.DecryptionTarget()
		activationBytes    = q.DecryptionTarget()
		resetBytes         = q.DecryptionTarget()
		activationIssuedAt sql.NullTime
		resetIssuedAt      sql.NullTime
	)

	err := rows.Scan(
		&a.ID, emailBytes, &a.Name, &a.PasswordHash, &status,
		activationBytes, &activationIssuedAt,
		resetBytes, &resetIssuedAt,
		&a.Version, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return auth.Account{}, errorz.MapDBErr(err)
	}

	a.Status = auth.Status(status)

	a.Email, err = email.ParseAddress(string(emailBytes.Data))
	if err != nil {
		return auth.Account{}, err
	}

	a.ActivationToken, err = issuedToken(activationBytes.Data, activationIssuedAt)
	if err != nil {
		return auth.Account{}, fmt.Errorf("activation token of account %d: %w", a.ID, err)
	}

	a.ResetToken, err = issuedToken(resetBytes.Data, resetIssuedAt)
	if err != nil {
		return auth.Account{}, fmt.Errorf("reset token of account %d: %w", a.ID, err)
	}

	return a, nil
}

func issuedToken(raw []byte, issuedAt sql.NullTime) (*auth.IssuedToken, error) {
	if raw == nil {
		return nil, nil
	}

	tok, err := krypto.TokenFromBytes(raw)
	if err != nil {
		return nil, err
	}

	return &auth.IssuedToken{
		Token:    tok,
		IssuedAt: issuedAt.Time,
	}, nil
}

func anySlice[T any](s []T) []any {
	out := make([]any, 0, len(s))
	for _, v := range s {
		out = append(out, v)
	}
	return out
}

func bytesSlice[T any](s []T, toBytes func(T) []byte) [][]byte {
	out := make([][]byte, 0, len(s))
	for _, v := range s {
		out = append(out, toBytes(v))
	}
	return out
}
