// Package migrations embeds the ordered schema migration files.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
