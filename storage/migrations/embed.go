package migrations

import "embed"

// FS contains embedded SQLite migrations for the device registry.
//
//go:embed *.sql
var FS embed.FS
