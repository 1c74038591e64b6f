// Package migrate applies SQL migrations to a SQLite database.
//
// Migrations are .sql files in the root of a file system. They are executed in
// lexical order and every migration that ran is recorded in the migrations table,
// together with a checksum of its contents. Migrations that ran before may not be
// removed, renamed or edited afterwards.
package migrate

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"time"
)

// Migration is a migration that was ran.
type Migration struct {
	// Sequence is the number of the migration. Starts at 0.
	Sequence int
	Filename string
	Checksum string
	Metadata Metadata
}

// Equal checks if two migrations are equal. Checksums are only compared
// when both migrations have one.
func (m Migration) Equal(other Migration) bool {
	if m.Checksum != "" && other.Checksum != "" && m.Checksum != other.Checksum {
		return false
	}

	return m.Sequence == other.Sequence &&
		m.Filename == other.Filename &&
		m.Metadata.AppVersion == other.Metadata.AppVersion &&
		m.Metadata.Timestamp.Equal(other.Metadata.Timestamp)
}

// Metadata is stored alongside each migration to help with debugging.
type Metadata struct {
	AppVersion string
	Timestamp  time.Time
}

const createTableQuery = `CREATE TABLE IF NOT EXISTS migrations (
	sequence    INTEGER PRIMARY KEY,
	filename    TEXT NOT NULL,
	checksum    TEXT NOT NULL,
	app_version TEXT NOT NULL,
	timestamp   TIMESTAMP NOT NULL
)`

const selectQuery = `SELECT sequence, filename, checksum, app_version, timestamp FROM migrations ORDER BY sequence`

const insertQuery = `INSERT INTO migrations (sequence, filename, checksum, app_version, timestamp) VALUES (?, ?, ?, ?, ?)`

var (
	// ErrNoTable indicates the migrations table does not exist.
	ErrNoTable = errors.New("migrations table does not exist")
	// ErrMigrationsMismatch indicates the migrations that ran before don't match the available files.
	ErrMigrationsMismatch = errors.New("migrations mismatch")
)

// MigrationError is returned when executing a migration file failed.
type MigrationError struct {
	Sequence int
	Filename string
	Err      error
}

func (m MigrationError) Error() string {
	return fmt.Sprintf("migration [%d] %q failed: %v", m.Sequence, m.Filename, m.Err)
}

func (m MigrationError) Unwrap() error {
	return m.Err
}

// RunFS runs all pending migrations found in the root of fileSys inside a single
// transaction. It returns the migrations that ran, or an empty slice if the database
// was already up to date.
func RunFS(ctx context.Context, db *sql.DB, fileSys fs.FS, meta Metadata) ([]Migration, error) {
	files, err := readFiles(fileSys)
	if err != nil {
		return nil, err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}

	_, err = tx.ExecContext(ctx, createTableQuery)
	if err != nil {
		return nil, rollback(tx, fmt.Errorf("failed to create migrations table: %w", err))
	}

	ranBefore, err := scanMigrations(tx.QueryContext(ctx, selectQuery))
	if err != nil {
		return nil, rollback(tx, err)
	}

	pending, err := pendingFiles(ranBefore, files)
	if err != nil {
		return nil, rollback(tx, err)
	}

	ranNow := make([]Migration, 0, len(pending))
	for i, f := range pending {
		m := Migration{
			Sequence: len(ranBefore) + i,
			Filename: f.name,
			Checksum: f.checksum,
			Metadata: meta,
		}

		_, err := tx.ExecContext(ctx, f.content)
		if err != nil {
			return nil, rollback(tx, MigrationError{
				Sequence: m.Sequence,
				Filename: m.Filename,
				Err:      err,
			})
		}

		_, err = tx.ExecContext(ctx, insertQuery, m.Sequence, m.Filename, m.Checksum, m.Metadata.AppVersion, m.Metadata.Timestamp)
		if err != nil {
			return nil, rollback(tx, fmt.Errorf("failed to record migration %q: %w", m.Filename, err))
		}

		ranNow = append(ranNow, m)
	}

	err = tx.Commit()
	if err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return ranNow, nil
}

// pendingFiles verifies the migrations that ran before against the files
// and returns the files that still need to run.
func pendingFiles(ranBefore []Migration, files []file) ([]file, error) {
	if len(ranBefore) > len(files) {
		return nil, fmt.Errorf(
			"found %d existing migrations but only have %d files: %w",
			len(ranBefore), len(files), ErrMigrationsMismatch,
		)
	}

	for i, before := range ranBefore {
		if i != before.Sequence {
			return nil, fmt.Errorf("migration sequence mismatch, wanted %d got %d", i, before.Sequence)
		}

		if before.Filename != files[i].name {
			return nil, fmt.Errorf(
				"migration %d had filename %q, but now encountering %q: %w",
				i, before.Filename, files[i].name, ErrMigrationsMismatch,
			)
		}

		if before.Checksum != files[i].checksum {
			return nil, fmt.Errorf("migration %q was changed after it ran: %w", before.Filename, ErrMigrationsMismatch)
		}
	}

	return files[len(ranBefore):], nil
}

// QueryMigrations returns all migrations that ran on db.
// If the migrations table does not exist yet, it returns ErrNoTable.
func QueryMigrations(ctx context.Context, db *sql.DB) ([]Migration, error) {
	return scanMigrations(db.QueryContext(ctx, selectQuery))
}

func scanMigrations(rows *sql.Rows, err error) ([]Migration, error) {
	if err != nil {
		if strings.Contains(err.Error(), "no such table") {
			return nil, ErrNoTable
		}
		return nil, fmt.Errorf("failed to query migrations: %w", err)
	}
	defer rows.Close()

	out := make([]Migration, 0)
	for rows.Next() {
		var m Migration
		err := rows.Scan(&m.Sequence, &m.Filename, &m.Checksum, &m.Metadata.AppVersion, &m.Metadata.Timestamp)
		if err != nil {
			return nil, fmt.Errorf("failed to scan migration: %w", err)
		}

		out = append(out, m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate over migrations: %w", err)
	}

	return out, nil
}

type file struct {
	name     string
	content  string
	checksum string
}

func readFiles(fileSys fs.FS) ([]file, error) {
	entries, err := fs.ReadDir(fileSys, ".")
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations directory: %w", err)
	}

	files := make([]file, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		content, err := fs.ReadFile(fileSys, entry.Name())
		if err != nil {
			return nil, fmt.Errorf("failed to read migration %q: %w", entry.Name(), err)
		}

		sum := sha256.Sum256(content)
		files = append(files, file{
			name:     entry.Name(),
			content:  string(content),
			checksum: hex.EncodeToString(sum[:]),
		})
	}

	// migrations run in lexical order.
	sort.Slice(files, func(i, j int) bool {
		return files[i].name < files[j].name
	})

	return files, nil
}

func rollback(tx *sql.Tx, err error) error {
	rErr := tx.Rollback()
	if rErr != nil {
		return errors.Join(err, rErr)
	}

	return err
}
