package migrations

import "embed"

// MigrationsFS holds the embedded SQL migrations, applied with goose at
// startup.
//
//go:embed *.sql
var MigrationsFS embed.FS
