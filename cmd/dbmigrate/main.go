package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/willemschots/notekeeper/internal"
	"github.com/willemschots/notekeeper/internal/db"
	"github.com/willemschots/notekeeper/internal/db/migrate"
	"github.com/willemschots/notekeeper/migrations"
)

const helpText = `Usage: dbmigrate [sqlite_file]`

func main() {
	if len(os.Args) != 2 {
		fmt.Fprintln(os.Stderr, helpText)
		os.Exit(1)
	}

	dbFile := os.Args[1]

	sqlDB, err := db.OpenSQLite(dbFile, true)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open database: %v\n", err)
		os.Exit(1)
	}
	defer sqlDB.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*60)
	defer cancel()

	meta := migrate.Metadata{
		AppVersion: internal.BuildInfo.Version(),
		Timestamp:  time.Now().UTC(),
	}

	if !internal.BuildInfo.RevisionTime.IsZero() {
		meta.Timestamp = internal.BuildInfo.RevisionTime
	}

	ran, err := migrate.RunFS(ctx, sqlDB, migrations.FS, meta)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to run migrations: %v\n", err)
		sqlDB.Close()
		os.Exit(1)
	}

	if len(ran) == 0 {
		fmt.Println("database is up to date")
	}

	for _, migration := range ran {
		fmt.Printf("%d: %s\n", migration.Sequence, migration.Filename)
	}
}
