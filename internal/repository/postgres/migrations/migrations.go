// Package migrations embeds the goose schema migrations applied to every
// website database.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
