// Package db contains the SQLite plumbing shared by the stores.
package db

import (
	"database/sql"

	_ "github.com/mattn/go-sqlite3"
)

// SQLite needs a few options to work well with our app:
// - WAL mode, so that reads and writes don't block each other.
// - A busy timeout, the duration a connection will wait for a lock.
// - Foreign keys are enforced.
// Writes additionally use immediate transactions, a read-then-write
// transaction would otherwise fail to upgrade its lock under contention.
const (
	writeOptions = "?_foreign_keys=on&_journal_mode=wal&_busy_timeout=5000&_txlock=immediate"
	readOptions  = "?_foreign_keys=on&_journal_mode=wal&_busy_timeout=5000"
)

// OpenSQLite opens a pool of SQLite connections. Different settings
// are appropriate for reading and writing, so this function needs to know
// what the sql.DB will be used for.
//
// See this comment for more information:
// https://github.com/mattn/go-sqlite3/issues/1179#issuecomment-1638083995
func OpenSQLite(dbFile string, write bool) (*sql.DB, error) {
	opts := readOptions
	if write {
		opts = writeOptions
	}

	db, err := sql.Open("sqlite3", dbFile+opts)
	if err != nil {
		return nil, err
	}

	if write {
		// a single connection serializes all writes.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)

		// never close it, in-memory databases would be lost.
		db.SetConnMaxLifetime(0)
		db.SetConnMaxIdleTime(0)
	}

	return db, nil
}
