// Package sqlite embeds SQL migration files for SQLite databases.
package sqlite

import "embed"

// FS contains the SQLite migrations.
//
//go:embed *.sql
var FS embed.FS

// Dir is the directory within FS where migrations live.
const Dir = "."
