package migrations

import "embed"

// FS holds the SQL migrations applied by storage.Migrate.
//
//go:embed *.sql
var FS embed.FS

const Version = 1
