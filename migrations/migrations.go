// Package migrations embeds the SQL migrations of the app.
package migrations

import "embed"

// FS contains all migration files, see internal/db/migrate for how they are applied.
//
//go:embed *.sql
var FS embed.FS
