// Package migrations embeds the goose-formatted SQL schema migrations so
// the CLI binary carries them without relying on a filesystem path at
// deploy time.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
