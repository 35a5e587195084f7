// Package migrations holds the SQL schema migrations, embedded into the
// binaries that apply them.
package migrations

import "embed"

// FS contains the *.up.sql and *.down.sql files in golang-migrate naming.
//
//go:embed *.sql
var FS embed.FS
