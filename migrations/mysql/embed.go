// Package mysql embeds SQL migration files for MySQL databases.
package mysql

import "embed"

// FS contains the MySQL migrations.
//
//go:embed *.sql
var FS embed.FS

// Dir is the directory within FS where migrations live.
const Dir = "."
