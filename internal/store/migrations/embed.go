// Package migrations embeds the SQL migration files for the index db.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
