// Package migrations embeds the goose SQL migrations applied by
// internal/db.RunMigrations.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
