// migrations/migrations.go
package migrations

import "embed"

// FS holds the bookkeeping schema applied at startup.
//
//go:embed *.sql
var FS embed.FS
