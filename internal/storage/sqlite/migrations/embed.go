package migrations

import "embed"

// FS contains embedded SQLite migrations for guest list storage.
//
//go:embed *.sql
var FS embed.FS
