package migrations

import "embed"

// FS contains embedded SQLite migrations for contacts storage.
//
//go:embed *.sql
var FS embed.FS
