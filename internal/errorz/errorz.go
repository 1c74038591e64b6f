// Package errorz contains the errors shared between the domain packages
// and the stores that back them.
package errorz

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"
)

var (
	// ErrNotFound indicates a record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConstraintViolated indicates a write would break a uniqueness or integrity rule.
	ErrConstraintViolated = errors.New("constraint violated")
	// ErrTxBadState indicates a transaction was used after it was committed or rolled back.
	ErrTxBadState = errors.New("transaction is in a known bad state")
	// ErrConflict indicates a record was changed by someone else since it was read.
	ErrConflict = errors.New("conflicting update")
)

// MapDBErr translates SQLite errors to the errors above, the original
// error stays available for errors.As. nil maps to nil.
func MapDBErr(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}

	var sErr sqlite3.Error
	if !errors.As(err, &sErr) {
		return err
	}

	switch sErr.Code {
	case sqlite3.ErrConstraint:
		return fmt.Errorf("%w: %w", ErrConstraintViolated, err)
	default:
		return err
	}
}
